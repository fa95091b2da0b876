// Package reachability issues ICMP echo probes to verify a Wi-Fi
// transition actually reached the target upstream (§4.D). No example
// repo in the retrieval pack ships an ICMP client; pro-bing is the
// standard unprivileged-ICMP library in the Go ecosystem and is used
// here in place of a hand-rolled raw-socket implementation (see
// DESIGN.md).
package reachability

import (
	"context"
	"net"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

const (
	// DefaultMaxAttempts is the default number of ICMP echoes issued
	// before giving up (§4.D).
	DefaultMaxAttempts = 10
	perProbeTimeout     = 2 * time.Second
	interAttemptDelay   = 1 * time.Second
)

// Prober issues reachability checks against an IPv4 target. Implementations
// must be safe for concurrent use.
type Prober interface {
	Probe(ctx context.Context, ip net.IP) bool
}

// ICMPProber is the production Prober: up to MaxAttempts ICMP echoes,
// each bounded by a 2s timeout, 1s apart, returning true on first
// success (§4.D).
type ICMPProber struct {
	MaxAttempts int
}

// NewICMPProber returns a Prober configured with the default attempt
// budget.
func NewICMPProber() *ICMPProber {
	return &ICMPProber{MaxAttempts: DefaultMaxAttempts}
}

// Probe issues up to p.MaxAttempts ICMP echoes to ip, returning true on
// the first success. A canceled context aborts the retry loop early.
func (p *ICMPProber) Probe(ctx context.Context, ip net.IP) bool {
	if ip == nil || ip.To4() == nil {
		return false
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return false
		}
		if pingOnce(ip.String()) {
			return true
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(interAttemptDelay):
			}
		}
	}
	return false
}

func pingOnce(target string) bool {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = perProbeTimeout
	pinger.SetPrivileged(false)
	if err := pinger.Run(); err != nil {
		return false
	}
	return pinger.Statistics().PacketsRecv > 0
}
