// Package upstreamconn stands in for the upstream RPC connection — a
// persistent bidirectional channel to the NCB that §1 names an
// external collaborator out of this core's scope: "the core only
// observes its connection state." This package is that observation
// point.
package upstreamconn

import "sync/atomic"

// Observer reports whether the upstream RPC connection is currently
// established. The zero value always reports false, so components
// that gate on it (upstreampoll's HTTP fallback, the captive-portal
// coordinator) behave as if no persistent channel exists — the
// correct default for a core that does not itself implement that
// channel.
type Observer struct {
	established atomic.Bool
}

// New returns an Observer reporting "not established" until SetEstablished
// is called.
func New() *Observer {
	return &Observer{}
}

// Established implements upstreampoll.ConnectionObserver and
// captiveportal.ConnectionObserver.
func (o *Observer) Established() bool {
	return o.established.Load()
}

// SetEstablished is the update hook the (out-of-scope) RPC client
// would call on connect/disconnect.
func (o *Observer) SetEstablished(v bool) {
	o.established.Store(v)
}
