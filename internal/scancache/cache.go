// Package scancache holds the periodically refreshed snapshot of
// nearby Wi-Fi networks (§3 Scan cache, §4.B). Grounded on
// internal/handlers/network.go's parseIwlistOutput, adapted from
// "iwlist scan" cell-block parsing to "iw dev <iface> scan" bss-block
// parsing, which is what network_wifi_status.go uses elsewhere in the
// teacher for the same radio.
package scancache

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"ncb-edge/internal/shell"
)

// Entry is one scan result (§3 Scan cache).
type Entry struct {
	SSID      string
	SignalDBM int
	Security  string
	FreqMHz   int
}

// Cache holds an immutable snapshot of the last scan, swapped
// atomically so readers never observe a torn map (§3, §5).
type Cache struct {
	runner    shell.Runner
	iface     string
	snapshot  atomic.Pointer[map[string]Entry]
	Interval  time.Duration
}

// New returns a Cache for iface. Call Refresh once before serving
// traffic, then Start to keep it refreshed in the background.
func New(runner shell.Runner, iface string) *Cache {
	c := &Cache{runner: runner, iface: iface, Interval: 15 * time.Second}
	empty := map[string]Entry{}
	c.snapshot.Store(&empty)
	return c
}

// Start runs Refresh every c.Interval until ctx is canceled. Intended
// to be launched as its own goroutine (§5 scheduling model).
func (c *Cache) Start(ctx context.Context) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		c.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh runs a single scan cycle and swaps the snapshot. A radio
// that is disabled or a scan that fails swaps in an empty snapshot
// (§4.B: "If the radio is disabled, all() is empty").
func (c *Cache) Refresh(ctx context.Context) {
	out, err := c.runner.Run(ctx, "iw dev "+c.iface+" scan")
	if err != nil || out.ExitCode != 0 {
		out2, err2 := c.runner.Run(ctx, "nmcli -t -f ssid,signal,security,freq device wifi list ifname "+c.iface)
		if err2 != nil || out2.ExitCode != 0 {
			log.Printf("scancache: refresh failed for %s, radio likely disabled", c.iface)
			empty := map[string]Entry{}
			c.snapshot.Store(&empty)
			return
		}
		snap := parseNmcliList(out2.Stdout)
		c.snapshot.Store(&snap)
		return
	}
	snap := parseIWScan(out.Stdout)
	c.snapshot.Store(&snap)
}

// IsAvailable reports whether ssid appeared in the most recent scan.
func (c *Cache) IsAvailable(ssid string) bool {
	_, ok := c.Info(ssid)
	return ok
}

// Info returns the most recently scanned entry for ssid, if any.
func (c *Cache) Info(ssid string) (Entry, bool) {
	snap := *c.snapshot.Load()
	e, ok := snap[ssid]
	return e, ok
}

// All returns every SSID currently in the snapshot.
func (c *Cache) All() map[string]Entry {
	snap := *c.snapshot.Load()
	out := make(map[string]Entry, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

// TopN returns up to n nearby SSIDs, strongest signal first, used to
// populate the "SSID not found, did you mean" error message (§4.E).
func (c *Cache) TopN(n int) []string {
	snap := *c.snapshot.Load()
	entries := make([]Entry, 0, len(snap))
	for _, e := range snap {
		entries = append(entries, e)
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].SignalDBM > entries[j-1].SignalDBM; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, entries[i].SSID)
	}
	return out
}

// parseIWScan parses "iw dev <iface> scan" output into SSID-keyed
// entries, mirroring parseIwlistOutput's cell-block accumulation but
// for iw's "BSS" blocks.
func parseIWScan(output string) map[string]Entry {
	entries := map[string]Entry{}
	var current *Entry

	flush := func() {
		if current != nil && current.SSID != "" {
			entries[current.SSID] = *current
		}
	}

	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(line, "BSS ") {
			flush()
			current = &Entry{}
			continue
		}
		if current == nil {
			continue
		}

		if strings.HasPrefix(trimmed, "SSID:") {
			current.SSID = strings.TrimSpace(strings.TrimPrefix(trimmed, "SSID:"))
		}
		if strings.HasPrefix(trimmed, "freq:") {
			freq, _ := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(trimmed, "freq:")))
			current.FreqMHz = freq
		}
		if strings.HasPrefix(trimmed, "signal:") {
			fields := strings.Fields(strings.TrimPrefix(trimmed, "signal:"))
			if len(fields) > 0 {
				dbm, _ := strconv.Atoi(strings.TrimSuffix(fields[0], ".00"))
				current.SignalDBM = dbm
			}
		}
		if strings.Contains(trimmed, "WPA") || strings.Contains(trimmed, "RSN") {
			current.Security = "WPA/WPA2"
		} else if current.Security == "" && strings.HasPrefix(trimmed, "capability:") {
			if strings.Contains(trimmed, "Privacy") {
				current.Security = "WEP"
			} else {
				current.Security = "Open"
			}
		}
	}
	flush()

	return entries
}

// parseNmcliList parses "nmcli -t -f ssid,signal,security,freq device
// wifi list" colon-separated output, mirroring the fallback idiom used
// by network_wifi_saved.go when NetworkManager is the active backend.
func parseNmcliList(output string) map[string]Entry {
	entries := map[string]Entry{}
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 4 {
			continue
		}
		ssid := parts[0]
		if ssid == "" {
			continue
		}
		signal, _ := strconv.Atoi(parts[1])
		security := parts[2]
		if security == "" {
			security = "Open"
		}
		freq := 0
		if fields := strings.Fields(parts[3]); len(fields) > 0 {
			freq, _ = strconv.Atoi(fields[0])
		}
		entries[ssid] = Entry{
			SSID:      ssid,
			SignalDBM: signal,
			Security:  security,
			FreqMHz:   freq,
		}
	}
	return entries
}
