package rfcomm

import (
	"context"
	"fmt"
	"log"
	"time"

	sysdbus "github.com/coreos/go-systemd/v22/dbus"

	"ncb-edge/internal/provisionerr"
	"ncb-edge/internal/shell"
)

// adapterSummary implements the debug dialect's STATUS command,
// grounded on internal/handlers/bluetooth.go's GetBluetoothStatus shape.
type adapterSummary struct {
	runner  shell.Runner
	adapter string
}

func (a *adapterSummary) Summary() string {
	res, err := a.runner.Run(context.Background(), "bluetoothctl show")
	if err != nil || !res.Success {
		return fmt.Sprintf("adapter %s: unavailable", a.adapter)
	}
	return fmt.Sprintf("adapter %s: %s", a.adapter, res.Stdout)
}

// bringUp runs the §4.F bring-up sequence once at start: enable the
// adapter, make it discoverable/pairable with no timeout, set its
// alias, forget stale pairings, then kick off the best-effort SDP
// record and BLE advertising as background tasks bounded by a 15s
// budget so neither can block bring-up.
func bringUp(ctx context.Context, runner shell.Runner, adapter, alias, serviceUUID string) error {
	steps := []string{
		"hciconfig " + adapter + " up",
		"bluetoothctl power on",
		"bluetoothctl discoverable-timeout 0",
		"bluetoothctl discoverable on",
		"bluetoothctl pairable on",
		"hciconfig " + adapter + " name " + shellQuote(alias),
		"hciconfig " + adapter + " piscan",
		"bluetoothctl system-alias " + shellQuote(alias),
	}
	for _, c := range steps {
		res, err := runner.Run(ctx, c)
		if err != nil || !res.Success {
			return provisionerr.HostFailure(c, res.ExitCode, errString(res, err))
		}
	}

	removeAllPairedDevices(ctx, runner, adapter)

	go bestEffortSDP(runner)
	go bestEffortBLEAdvertise(runner, serviceUUID)
	return nil
}

func bestEffortSDP(runner shell.Runner) {
	ctx, cancel := context.WithTimeout(context.Background(), bleAdvertiseBudget)
	defer cancel()
	if res, err := runner.Run(ctx, "sdptool add --channel=1 SP"); err != nil || !res.Success {
		log.Printf("rfcomm: best-effort SDP registration skipped: %s", errString(res, err))
	}
}

// bestEffortBLEAdvertise advertises serviceUUID (derived from the
// device id, §3 Device identity) so a provisioning app can filter scan
// results down to this one device before opening the RFCOMM channel.
func bestEffortBLEAdvertise(runner shell.Runner, serviceUUID string) {
	ctx, cancel := context.WithTimeout(context.Background(), bleAdvertiseBudget)
	defer cancel()
	steps := []string{
		"btmgmt power on",
		"btmgmt connectable on",
		"btmgmt add-adv -u " + serviceUUID + " 1",
	}
	for _, c := range steps {
		if res, err := runner.Run(ctx, c); err != nil || !res.Success {
			log.Printf("rfcomm: best-effort BLE advertising step skipped: %s: %s", c, errString(res, err))
		}
	}
}

// restartBluetoothService restarts bluetooth.service via systemd, used
// by the bind-retry's forced cleanup (§4.F) and grounded on
// internal/handlers/system.go's RestartService.
func restartBluetoothService(ctx context.Context) error {
	conn, err := sysdbus.NewWithContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	resultChan := make(chan string, 1)
	if _, err := conn.RestartUnitContext(ctx, "bluetooth.service", "replace", resultChan); err != nil {
		return err
	}
	select {
	case <-resultChan:
	case <-time.After(5 * time.Second):
	}
	return nil
}
