package rfcomm

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"ncb-edge/internal/shell"
)

const pairingSweepInterval = 5 * time.Minute

// listPairedDevices parses `bluetoothctl devices Paired`, grounded on
// internal/handlers/bluetooth.go's getPairedBluetoothDevices.
func listPairedDevices(ctx context.Context, runner shell.Runner) []string {
	res, err := runner.Run(ctx, "bluetoothctl devices Paired")
	if err != nil || !res.Success {
		return nil
	}
	var addrs []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Device ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			addrs = append(addrs, fields[1])
		}
	}
	return addrs
}

func isConnected(ctx context.Context, runner shell.Runner, addr string) bool {
	res, err := runner.Run(ctx, "bluetoothctl info "+addr)
	return err == nil && res.Success && strings.Contains(res.Stdout, "Connected: yes")
}

// forgetDevice removes a paired device and its BlueZ cache directory
// (§4.F "Pairing hygiene").
func forgetDevice(ctx context.Context, runner shell.Runner, adapter, addr string) {
	_, _ = runner.Run(ctx, "bluetoothctl remove "+addr)
	cacheDir := fmt.Sprintf("/var/lib/bluetooth/%s/%s", adapter, addr)
	_, _ = runner.Run(ctx, "rm -rf "+shellQuote(cacheDir))
}

// removeAllPairedDevices clears every existing pairing at bring-up: the
// trust-on-first-use model requires no long-lived pairings.
func removeAllPairedDevices(ctx context.Context, runner shell.Runner, adapter string) {
	for _, addr := range listPairedDevices(ctx, runner) {
		forgetDevice(ctx, runner, adapter, addr)
	}
}

// pairingSweep runs every 5 minutes, forgetting any paired device that
// is not currently connected.
func pairingSweep(ctx context.Context, runner shell.Runner, adapter string) {
	ticker := time.NewTicker(pairingSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, addr := range listPairedDevices(ctx, runner) {
				if !isConnected(ctx, runner, addr) {
					log.Printf("rfcomm: pairing hygiene: forgetting disconnected device %s", addr)
					forgetDevice(ctx, runner, adapter, addr)
				}
			}
		}
	}
}
