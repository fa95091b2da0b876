package reachability

import (
	"context"
	"net"
)

// FakeProber is a test double that reports a fixed outcome per target
// IP string, defaulting to Default when the IP has no entry.
type FakeProber struct {
	Results map[string]bool
	Default bool
}

// NewFakeProber returns a FakeProber that fails every probe unless
// explicitly configured otherwise.
func NewFakeProber() *FakeProber {
	return &FakeProber{Results: map[string]bool{}}
}

func (f *FakeProber) Probe(_ context.Context, ip net.IP) bool {
	if ip == nil || ip.To4() == nil {
		return false
	}
	if res, ok := f.Results[ip.String()]; ok {
		return res
	}
	return f.Default
}
