package scancache

import (
	"context"
	"testing"

	"ncb-edge/internal/shell"
)

const sampleIWScan = `BSS aa:bb:cc:dd:ee:ff(on wlan0)
	freq: 2437
	signal: -45.00 dBm
	capability: ESS Privacy (0x0011)
	RSN:	 * Version: 1
	SSID: HomeNet
BSS 11:22:33:44:55:66(on wlan0)
	freq: 2462
	signal: -70.00 dBm
	capability: ESS (0x0001)
	SSID: CafeWifi
`

func TestRefreshParsesIWScanIntoSnapshot(t *testing.T) {
	runner := shell.NewFakeRunner()
	runner.Responses["iw dev wlan0 scan"] = shell.Result{Success: true, ExitCode: 0, Stdout: sampleIWScan}
	c := New(runner, "wlan0")

	c.Refresh(context.Background())

	if !c.IsAvailable("HomeNet") {
		t.Fatal("expected HomeNet to be available after refresh")
	}
	info, ok := c.Info("HomeNet")
	if !ok || info.SignalDBM != -45 {
		t.Fatalf("unexpected HomeNet entry: %+v ok=%v", info, ok)
	}
	if c.IsAvailable("Ghost") {
		t.Fatal("Ghost must not be available")
	}
	if len(c.All()) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(c.All()))
	}
}

func TestRefreshDisabledRadioYieldsEmptySnapshot(t *testing.T) {
	runner := shell.NewFakeRunner()
	runner.Responses["iw dev wlan0 scan"] = shell.Result{Success: false, ExitCode: 1, Stderr: "command failed: Network is down"}
	runner.Responses["nmcli -t -f ssid,signal,security,freq device wifi list ifname wlan0"] = shell.Result{Success: false, ExitCode: 1}
	c := New(runner, "wlan0")

	c.Refresh(context.Background())

	if c.IsAvailable("HomeNet") {
		t.Fatal("expected no networks when radio is disabled")
	}
	if len(c.All()) != 0 {
		t.Fatal("expected empty snapshot")
	}
}

func TestTopNOrdersBySignalStrength(t *testing.T) {
	runner := shell.NewFakeRunner()
	runner.Responses["iw dev wlan0 scan"] = shell.Result{Success: true, ExitCode: 0, Stdout: sampleIWScan}
	c := New(runner, "wlan0")
	c.Refresh(context.Background())

	top := c.TopN(1)
	if len(top) != 1 || top[0] != "HomeNet" {
		t.Fatalf("expected HomeNet as the strongest signal, got %v", top)
	}
}
