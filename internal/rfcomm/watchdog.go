package rfcomm

import (
	"context"
	"log"
	"time"

	"github.com/godbus/dbus/v5"

	"ncb-edge/internal/shell"
)

const (
	watchdogInterval = 60 * time.Second
	bluezBus         = "org.bluez"
	bluezAdapter1    = "org.bluez.Adapter1"
)

// discoverabilityWatchdog guards against external tools silently
// un-discoverable-ing the adapter (§4.F). Every 60s it reads the
// adapter's Discoverable D-Bus property (grounded on
// internal/handlers/meshtastic_ble.go's getDBusProperty/org.bluez.Adapter1
// pattern) and reasserts power/discoverable/pairable if it went false.
func discoverabilityWatchdog(ctx context.Context, runner shell.Runner, adapter string) {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if isDiscoverable(adapter) {
				continue
			}
			log.Printf("rfcomm: watchdog: adapter %s no longer discoverable, reasserting", adapter)
			for _, c := range []string{"bluetoothctl power on", "bluetoothctl discoverable on", "bluetoothctl pairable on"} {
				if res, err := runner.Run(ctx, c); err != nil || !res.Success {
					log.Printf("rfcomm: watchdog: %s failed: %s", c, errString(res, err))
				}
			}
		}
	}
}

// isDiscoverable defaults to true on any D-Bus error, so a transient
// bus hiccup never thrashes bluetoothctl every tick.
func isDiscoverable(adapter string) bool {
	conn, err := dbus.SystemBus()
	if err != nil {
		return true
	}
	obj := conn.Object(bluezBus, dbus.ObjectPath("/org/bluez/"+adapter))
	variant, err := obj.GetProperty(bluezAdapter1 + ".Discoverable")
	if err != nil {
		return true
	}
	v, ok := variant.Value().(bool)
	return !ok || v
}
