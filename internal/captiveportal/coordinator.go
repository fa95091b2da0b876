// Package captiveportal implements the captive-portal hotspot
// coordinator (§4.G) and its HTTP redirect middleware (§4.J). Grounded
// on internal/handlers/power_monitor.go's ticker-supervisor shape: an
// immediate boot-time action, then a steady poll interval, with a
// cancellation-observing loop.
package captiveportal

import (
	"context"
	"log"
	"time"

	"ncb-edge/internal/config"
	"ncb-edge/internal/wifistate"
)

const (
	initialDelay  = 90 * time.Second
	checkInterval = 90 * time.Second
	missThreshold = 12

	shutdownBudget = 10 * time.Second
)

// ConnectionObserver reports whether the upstream RPC connection is
// established (the same external collaborator upstreampoll.Poller
// consults — §1 Out of scope).
type ConnectionObserver interface {
	Established() bool
}

// MissCounter reports the upstream-poller's consecutive-miss count
// (§4.G, §9 open question — resolved in upstreampoll.Poller's doc
// comment: a miss is an attempted poll that failed; the count resets
// on any poll that completes successfully).
type MissCounter interface {
	MissCount() int
}

// Coordinator is the supervisor task of §4.G.
type Coordinator struct {
	wifi  *wifistate.Manager
	cfg   *config.Store
	conn  ConnectionObserver
	miss  MissCounter
}

// New constructs a Coordinator. conn and miss are the external
// collaborators the supervisor consults every cycle.
func New(wifi *wifistate.Manager, cfg *config.Store, conn ConnectionObserver, miss MissCounter) *Coordinator {
	return &Coordinator{wifi: wifi, cfg: cfg, conn: conn, miss: miss}
}

// Run performs the boot-time cleanup, then — if the "allow hotspot"
// flag is set — waits out the initial delay and supervises the
// hotspot every check interval until ctx is cancelled (§4.G steps
// 1-4).
func (c *Coordinator) Run(ctx context.Context) {
	// Boot-time cleanup: a leftover AP profile from an ungraceful
	// shutdown must not survive into a fresh run. StopHotspot is
	// idempotent and safe to call unconditionally.
	if ok, msg := c.wifi.StopHotspot(ctx); !ok {
		log.Printf("captiveportal: boot-time cleanup failed: %s", msg)
	}

	if !c.cfg.Settings().AllowHotspot {
		log.Printf("captiveportal: hotspot disabled by configuration, coordinator exiting")
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(initialDelay):
	}

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return
		case <-ticker.C:
			c.check(ctx)
		}
	}
}

func (c *Coordinator) check(ctx context.Context) {
	established := c.conn.Established()
	active := c.wifi.Snapshot().HotspotActive

	if established {
		if active {
			if ok, msg := c.wifi.StopHotspot(ctx); !ok {
				log.Printf("captiveportal: stop_hotspot failed: %s", msg)
			}
		}
		return
	}

	if !active && c.miss.MissCount() > missThreshold {
		log.Printf("captiveportal: %d consecutive upstream misses, raising hotspot", c.miss.MissCount())
		if ok, msg := c.wifi.StartHotspot(ctx, nil, nil); !ok {
			log.Printf("captiveportal: start_hotspot failed: %s", msg)
		}
	}
}

// shutdown attempts one graceful stop_hotspot on cancellation (§5
// Cancellation), bounded so process exit is never blocked
// indefinitely on a hung host command.
func (c *Coordinator) shutdown() {
	if !c.wifi.Snapshot().HotspotActive {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()
	if ok, msg := c.wifi.StopHotspot(ctx); !ok {
		log.Printf("captiveportal: shutdown stop_hotspot failed: %s", msg)
	}
}
