package wifistate

import (
	"context"
	"strings"
	"testing"

	"ncb-edge/internal/config"
	"ncb-edge/internal/reachability"
	"ncb-edge/internal/scancache"
	"ncb-edge/internal/shell"
)

func newTestManager(t *testing.T) (*Manager, *shell.FakeRunner, *reachability.FakeProber) {
	t.Helper()
	runner := shell.NewFakeRunner()
	runner.DefaultResult = shell.Result{Success: true, ExitCode: 0}

	scan := scancache.New(runner, "wlan0")
	runner.Responses["iw dev wlan0 scan"] = shell.Result{
		Success: true, ExitCode: 0,
		Stdout: "BSS aa:bb:cc:dd:ee:ff(on wlan0)\n\tfreq: 2437\n\tsignal: -45.00 dBm\n\tSSID: HomeNet\nBSS 11:22:33:44:55:66(on wlan0)\n\tfreq: 2462\n\tsignal: -70.00 dBm\n\tSSID: CafeWifi\n",
	}
	scan.Refresh(context.Background())

	prober := reachability.NewFakeProber()

	runner.Responses["nmcli radio wifi"] = shell.Result{Success: true, ExitCode: 0, Stdout: "enabled\n"}
	runner.Responses["nmcli -t -f active,ssid dev wifi"] = shell.Result{Success: true, ExitCode: 0, Stdout: "yes:HomeNet\nno:CafeWifi\n"}
	runner.Responses["iwgetid -r"] = shell.Result{Success: true, ExitCode: 0, Stdout: "HomeNet\n"}

	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	identity := config.Identity{DID: "EDGE-00AB-CD12", UID: "owner-1"}

	m := New(runner, scan, prober, cfg, identity, "wlan0")
	return m, runner, prober
}

func TestConnectToWiFiCleanProvision(t *testing.T) {
	m, _, prober := newTestManager(t)
	prober.Results["192.168.1.50"] = true
	pw := "pw12345678"

	ok, msg := m.ConnectToWiFi(context.Background(), "HomeNet", &pw, "192.168.1.50")
	if !ok {
		t.Fatalf("expected success, got %s", msg)
	}
	if m.cfg.Settings().SenderReceiverSet.NCBIP != "192.168.1.50" {
		t.Fatalf("expected NCBIP to be persisted")
	}
	if m.NCBIPPublished.Get() != "192.168.1.50" {
		t.Fatalf("expected NCBIP to be published in-process")
	}
}

func TestConnectToWiFiUnknownSSIDFailsFastWithoutHostCalls(t *testing.T) {
	m, runner, _ := newTestManager(t)
	before := len(runner.Calls)

	ok, msg := m.ConnectToWiFi(context.Background(), "Ghost", nil, "192.168.1.50")
	if ok {
		t.Fatal("expected failure for unknown SSID")
	}
	if !strings.Contains(msg, "not found") {
		t.Fatalf("expected SSID-not-found message, got %q", msg)
	}
	// Hotspot was never active, so rollback must not restart it; no profile/connect calls either.
	for _, c := range runner.Calls[before:] {
		if strings.Contains(c, "connection add") && !strings.Contains(c, "mode ap") {
			t.Fatalf("unexpected client profile mutation for unknown SSID: %s", c)
		}
	}
	if m.Snapshot().HotspotActive {
		t.Fatalf("scenario 2: hotspot was off before the attempt and must stay off")
	}
}

func TestConnectToWiFiProbeFailureRollsBackToHotspot(t *testing.T) {
	m, runner, prober := newTestManager(t)
	runner.Responses["nmcli -t -f name connection show --active"] = shell.Result{Success: true, ExitCode: 0, Stdout: "NCBEdge_ABCD12\n"}
	if ok, msg := m.StartHotspot(context.Background(), nil, nil); !ok {
		t.Fatalf("setup: start_hotspot failed: %s", msg)
	}

	prober.Default = false // every probe attempt fails
	pw := "pw12345678"

	ok, _ := m.ConnectToWiFi(context.Background(), "HomeNet", &pw, "192.168.1.50")
	if ok {
		t.Fatal("expected failure when probe never succeeds")
	}

	if !runner.CalledWithPrefix("nmcli connection add type wifi con-name 'HomeNet' ifname wlan0") {
		t.Fatal("expected the profile to have been created before the probe failed")
	}
	snap := m.Snapshot()
	if !snap.HotspotActive {
		t.Fatal("I3: hotspot must be raised again after rollback")
	}
}

func TestStartHotspotIdempotent(t *testing.T) {
	m, runner, _ := newTestManager(t)
	runner.Responses["nmcli -t -f name connection show --active"] = shell.Result{Success: true, ExitCode: 0, Stdout: "NCBEdge_ABCD12\n"}

	ok, _ := m.StartHotspot(context.Background(), nil, nil)
	if !ok {
		t.Fatal("expected first start_hotspot to succeed")
	}
	callsAfterFirst := len(runner.Calls)

	ok2, msg2 := m.StartHotspot(context.Background(), nil, nil)
	if !ok2 {
		t.Fatalf("expected idempotent success, got %s", msg2)
	}
	if len(runner.Calls) != callsAfterFirst {
		t.Fatal("expected no additional host calls on an idempotent start_hotspot")
	}
}

func TestStopHotspotIdempotentWhenInactive(t *testing.T) {
	m, runner, _ := newTestManager(t)
	ok, msg := m.StopHotspot(context.Background())
	if !ok {
		t.Fatalf("expected idempotent success, got %s", msg)
	}
	for _, c := range runner.Calls {
		if strings.Contains(c, "iptables") {
			t.Fatal("stop_hotspot on an already-inactive hotspot must not touch iptables")
		}
	}
}

func TestStopHotspotRemovesRulesBeforeDeactivatingProfile(t *testing.T) {
	m, runner, _ := newTestManager(t)
	runner.Responses["nmcli -t -f name connection show --active"] = shell.Result{Success: true, ExitCode: 0, Stdout: "NCBEdge_ABCD12\n"}
	if ok, msg := m.StartHotspot(context.Background(), nil, nil); !ok {
		t.Fatalf("setup: start_hotspot failed: %s", msg)
	}

	ok, msg := m.StopHotspot(context.Background())
	if !ok {
		t.Fatalf("expected stop_hotspot to succeed, got %s", msg)
	}

	var flushIdx, downIdx = -1, -1
	for i, c := range runner.Calls {
		if strings.Contains(c, "iptables -t nat -F") && flushIdx == -1 && i > 0 {
			// second nat flush call (the teardown one, not install's own flush)
		}
		if strings.Contains(c, "connection down") {
			downIdx = i
		}
	}
	for i, c := range runner.Calls {
		if strings.Contains(c, "iptables -F") {
			flushIdx = i
		}
	}
	if flushIdx == -1 || downIdx == -1 || flushIdx > downIdx {
		t.Fatalf("expected iptables flush before connection down: flushIdx=%d downIdx=%d calls=%v", flushIdx, downIdx, runner.Calls)
	}
	if m.Snapshot().HotspotActive {
		t.Fatal("expected hotspot inactive after stop")
	}
}
