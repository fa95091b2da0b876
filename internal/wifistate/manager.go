// Package wifistate implements the Wi-Fi state manager (§4.E), the
// mutex-guarded core all three provisioning front-ends (HTTP, Bluetooth,
// upstream poller) fall through to. Grounded on internal/handlers/network.go's
// nmcli-based ConnectWiFi/DisconnectWiFi, generalized to the full
// connect/start-hotspot/stop-hotspot state machine, with the reentrancy
// shape specified by §9's design note: an unexported *_Locked primitive
// invoked while the outer operation already holds the mutex.
package wifistate

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"ncb-edge/internal/captiverules"
	"ncb-edge/internal/config"
	"ncb-edge/internal/reachability"
	"ncb-edge/internal/scancache"
	"ncb-edge/internal/shell"
	"ncb-edge/internal/watch"
)

const (
	lockTimeout        = 30 * time.Second
	interfaceSettleWait = 3 * time.Second
	hotspotSettleWait   = 2 * time.Second

	defaultGatewayIP      = "10.42.0.1"
	defaultHotspotPassword = "12345678"
	minPSKLen              = 8
	maxPSKLen              = 63
)

// State is the process-wide observable snapshot of §3's Wi-Fi state.
type State struct {
	HotspotActive bool
	HotspotSSID   string
}

// Manager is the single writer of Wi-Fi state (§3, §5). All mutating
// operations acquire its internal semaphore with a 30s timeout.
type Manager struct {
	runner   shell.Runner
	scan     *scancache.Cache
	prober   reachability.Prober
	cfg      *config.Store
	identity config.Identity
	iface    string

	sem chan struct{} // 1-buffered acquire-with-timeout semaphore

	mu            sync.Mutex
	hotspotActive bool
	hotspotSSID   string

	// NCBIPPublished fires every time a successful connect_to_wifi
	// persists a new NCBIP, replacing the source's reflection-based
	// static field flip (§9 design note).
	NCBIPPublished *watch.Value[string]
	// ReconnectSignal increments every time the upstream task should
	// force an immediate reconnect.
	ReconnectSignal *watch.Value[int]
	reconnectGen    int
}

// New constructs a Manager. iface is the wireless interface this
// process manages (e.g. "wlan0").
func New(runner shell.Runner, scan *scancache.Cache, prober reachability.Prober, cfg *config.Store, identity config.Identity, iface string) *Manager {
	return &Manager{
		runner:          runner,
		scan:            scan,
		prober:          prober,
		cfg:             cfg,
		identity:        identity,
		iface:           iface,
		sem:             make(chan struct{}, 1),
		NCBIPPublished:  watch.New[string](),
		ReconnectSignal: watch.New[int](),
	}
}

// acquire takes the mutex with a 30s timeout (§4.E). release must
// always be called, even on failure paths, when ok is true.
func (m *Manager) acquire(ctx context.Context) (release func(), ok bool) {
	select {
	case m.sem <- struct{}{}:
		return func() { <-m.sem }, true
	case <-time.After(lockTimeout):
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Snapshot returns the current hotspot state (§3).
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{HotspotActive: m.hotspotActive, HotspotSSID: m.hotspotSSID}
}

// ConnectToWiFi implements §4.E's connect_to_wifi. password may be nil
// when relying on a previously stored profile (§4.H).
func (m *Manager) ConnectToWiFi(ctx context.Context, ssid string, password *string, ncbip string) (bool, string) {
	release, ok := m.acquire(ctx)
	if !ok {
		return false, "busy, retry"
	}
	defer release()

	m.mu.Lock()
	wasHotspot := m.hotspotActive
	m.mu.Unlock()
	if wasHotspot {
		if ok, msg := m.stopHotspotLocked(ctx); !ok {
			return false, "could not stop hotspot before connecting: " + msg
		}
	}

	ip := net.ParseIP(ncbip)
	if ip == nil || ip.To4() == nil {
		return false, m.rollback(ctx, wasHotspot, fmt.Sprintf("NCBIP %q is not a valid IPv4 address", ncbip))
	}

	if !m.scan.IsAvailable(ssid) {
		nearby := m.scan.TopN(5)
		return false, m.rollback(ctx, wasHotspot, fmt.Sprintf("SSID %q not found nearby; did you mean one of: %s", ssid, strings.Join(nearby, ", ")))
	}

	_, _ = m.runner.Run(ctx, "nmcli connection delete "+shellQuote(ssid))

	if ok, errMsg := m.installClientProfile(ctx, ssid, password); !ok {
		if ok2, errMsg2 := m.oneShotConnect(ctx, ssid, password); !ok2 {
			return false, m.rollback(ctx, wasHotspot, fmt.Sprintf("failed to connect: %s / %s", errMsg, errMsg2))
		}
	}

	select {
	case <-time.After(interfaceSettleWait):
	case <-ctx.Done():
		return false, m.rollback(ctx, wasHotspot, "cancelled while settling")
	}

	if !m.radioEnabled(ctx) {
		return false, m.rollback(ctx, wasHotspot, "radio is disabled after connect attempt")
	}
	if !m.activeSSIDMatches(ctx, ssid) {
		return false, m.rollback(ctx, wasHotspot, fmt.Sprintf("active SSID does not match requested %q", ssid))
	}

	if !m.prober.Probe(ctx, ip) {
		return false, m.rollback(ctx, wasHotspot, fmt.Sprintf("NCBIP %s unreachable after connect", ncbip))
	}

	if err := m.cfg.SetNCBIP(ncbip); err != nil {
		log.Printf("wifistate: failed to persist NCBIP: %v", err)
	}
	m.NCBIPPublished.Set(ncbip)
	m.reconnectGen++
	m.ReconnectSignal.Set(m.reconnectGen)

	return true, "connected"
}

// rollback re-raises the hotspot on a connect_to_wifi failure when the
// hotspot was active at the start of the call (wasHotspot); a hotspot
// that was off before the attempt stays off. Every failure path after
// the hotspot is stopped goes through it.
func (m *Manager) rollback(ctx context.Context, wasHotspot bool, reason string) string {
	if !wasHotspot {
		return reason
	}
	if ok, msg := m.startHotspotLocked(ctx, nil, nil); !ok {
		log.Printf("wifistate: rollback failed to restart hotspot: %s", msg)
	}
	return reason
}

func (m *Manager) installClientProfile(ctx context.Context, ssid string, password *string) (bool, string) {
	args := []string{"nmcli", "connection", "add", "type", "wifi", "con-name", shellQuote(ssid), "ifname", m.iface, "ssid", shellQuote(ssid), "connection.autoconnect", "yes"}
	if password != nil && *password != "" {
		args = append(args, "wifi-sec.key-mgmt", "wpa-psk", "wifi-sec.psk", shellQuote(*password))
	}
	res, err := m.runner.Run(ctx, strings.Join(args, " "))
	if err != nil || !res.Success {
		return false, errString(res, err)
	}
	res, err = m.runner.Run(ctx, "nmcli connection up "+shellQuote(ssid))
	if err != nil || !res.Success {
		return false, errString(res, err)
	}
	return true, ""
}

func (m *Manager) oneShotConnect(ctx context.Context, ssid string, password *string) (bool, string) {
	cmd := "nmcli device wifi connect " + shellQuote(ssid) + " ifname " + m.iface
	if password != nil && *password != "" {
		cmd += " password " + shellQuote(*password)
	}
	res, err := m.runner.Run(ctx, cmd)
	if err != nil || !res.Success {
		return false, errString(res, err)
	}
	return true, ""
}

func (m *Manager) radioEnabled(ctx context.Context) bool {
	res, err := m.runner.Run(ctx, "nmcli radio wifi")
	if err != nil || !res.Success {
		return false
	}
	return strings.Contains(strings.ToLower(res.Stdout), "enabled")
}

// activeSSIDMatches checks both the active-connection table and the
// interface's current SSID (§4.E step 6: two independent host queries).
func (m *Manager) activeSSIDMatches(ctx context.Context, ssid string) bool {
	res, err := m.runner.Run(ctx, "nmcli -t -f active,ssid dev wifi")
	matchedActiveTable := false
	if err == nil && res.Success {
		for _, line := range strings.Split(res.Stdout, "\n") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 && parts[0] == "yes" && parts[1] == ssid {
				matchedActiveTable = true
				break
			}
		}
	}

	res2, err2 := m.runner.Run(ctx, "iwgetid -r")
	matchedIface := err2 == nil && res2.Success && strings.TrimSpace(res2.Stdout) == ssid

	return matchedActiveTable && matchedIface
}

// StartHotspot implements §4.E's start_hotspot.
func (m *Manager) StartHotspot(ctx context.Context, ssid *string, password *string) (bool, string) {
	release, ok := m.acquire(ctx)
	if !ok {
		return false, "busy, retry"
	}
	defer release()
	return m.startHotspotLocked(ctx, ssid, password)
}

// startHotspotLocked assumes the caller already holds the semaphore
// (invoked directly by StartHotspot and by rollback).
func (m *Manager) startHotspotLocked(ctx context.Context, ssid *string, password *string) (bool, string) {
	m.mu.Lock()
	if m.hotspotActive {
		m.mu.Unlock()
		return true, "hotspot already active"
	}
	m.mu.Unlock()

	effectiveSSID := m.identity.HotspotSSID()
	if ssid != nil && *ssid != "" {
		effectiveSSID = *ssid
	}

	effectivePassword := defaultHotspotPassword
	if password != nil {
		if len(*password) >= minPSKLen && len(*password) <= maxPSKLen {
			effectivePassword = *password
		}
	}

	_, _ = m.runner.Run(ctx, "nmcli device disconnect "+m.iface)
	_, _ = m.runner.Run(ctx, "nmcli connection delete "+shellQuote(effectiveSSID))

	addCmd := fmt.Sprintf(
		"nmcli connection add type wifi ifname %s con-name %s autoconnect no ssid %s "+
			"802-11-wireless.mode ap 802-11-wireless.band bg ipv4.method shared ipv6.method shared "+
			"wifi-sec.key-mgmt wpa-psk wifi-sec.psk %s",
		m.iface, shellQuote(effectiveSSID), shellQuote(effectiveSSID), shellQuote(effectivePassword))
	if res, err := m.runner.Run(ctx, addCmd); err != nil || !res.Success {
		return false, "failed to install AP profile: " + errString(res, err)
	}

	if res, err := m.runner.Run(ctx, "nmcli connection up "+shellQuote(effectiveSSID)); err != nil || !res.Success {
		return false, "failed to activate AP profile: " + errString(res, err)
	}

	select {
	case <-time.After(hotspotSettleWait):
	case <-ctx.Done():
		return false, "cancelled while activating hotspot"
	}

	res, err := m.runner.Run(ctx, "nmcli -t -f name connection show --active")
	if err != nil || !res.Success || !strings.Contains(res.Stdout, effectiveSSID) {
		return false, "hotspot did not appear in active-connection table"
	}

	if err := captiverules.Install(ctx, m.runner, defaultGatewayIP); err != nil {
		return false, "failed to install captive-portal rules: " + err.Error()
	}

	m.mu.Lock()
	m.hotspotActive = true
	m.hotspotSSID = effectiveSSID
	m.mu.Unlock()

	return true, "hotspot started"
}

// StopHotspot implements §4.E's stop_hotspot: idempotent, acquires then
// delegates to the unlocked primitive per §9's design note.
func (m *Manager) StopHotspot(ctx context.Context) (bool, string) {
	release, ok := m.acquire(ctx)
	if !ok {
		return false, "busy, retry"
	}
	defer release()
	return m.stopHotspotLocked(ctx)
}

// stopHotspotLocked assumes the caller already holds the semaphore.
func (m *Manager) stopHotspotLocked(ctx context.Context) (bool, string) {
	m.mu.Lock()
	if !m.hotspotActive {
		m.mu.Unlock()
		return true, "hotspot already inactive"
	}
	ssid := m.hotspotSSID
	m.mu.Unlock()

	// Rules come down before the profile does (§5 ordering guarantee b).
	if err := captiverules.Teardown(ctx, m.runner); err != nil {
		log.Printf("wifistate: captive-portal teardown error: %v", err)
	}

	_, _ = m.runner.Run(ctx, "nmcli connection down "+shellQuote(ssid))
	_, _ = m.runner.Run(ctx, "nmcli connection delete "+shellQuote(ssid))

	m.mu.Lock()
	m.hotspotActive = false
	m.hotspotSSID = ""
	m.mu.Unlock()

	return true, "hotspot stopped"
}

func errString(res shell.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if res.Stderr != "" {
		return res.Stderr
	}
	return fmt.Sprintf("exit code %d", res.ExitCode)
}

// shellQuote wraps s in single quotes for inclusion in a bash -c line,
// escaping any embedded single quote. SSIDs and passwords are untrusted
// input reaching a shell.Runner, so this boundary must never be skipped.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
