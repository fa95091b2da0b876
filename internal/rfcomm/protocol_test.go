package rfcomm

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ncb-edge/internal/config"
	"ncb-edge/internal/devicecrypto"
	"ncb-edge/internal/reachability"
	"ncb-edge/internal/scancache"
	"ncb-edge/internal/shell"
	"ncb-edge/internal/wifistate"
)

func newTestHandler(t *testing.T) (*Handler, *shell.FakeRunner, *reachability.FakeProber, *devicecrypto.Signer) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	signer, err := devicecrypto.Load(keyPath)
	if err != nil {
		t.Fatal(err)
	}

	runner := shell.NewFakeRunner()
	runner.DefaultResult = shell.Result{Success: true, ExitCode: 0}
	runner.Responses["iw dev wlan0 scan"] = shell.Result{
		Success: true, ExitCode: 0,
		Stdout: "BSS aa:bb:cc:dd:ee:ff(on wlan0)\n\tfreq: 2437\n\tsignal: -45.00 dBm\n\tSSID: HomeNet\n",
	}
	runner.Responses["nmcli radio wifi"] = shell.Result{Success: true, ExitCode: 0, Stdout: "enabled\n"}
	runner.Responses["nmcli -t -f active,ssid dev wifi"] = shell.Result{Success: true, ExitCode: 0, Stdout: "yes:HomeNet\n"}
	runner.Responses["iwgetid -r"] = shell.Result{Success: true, ExitCode: 0, Stdout: "HomeNet\n"}

	scan := scancache.New(runner, "wlan0")
	scan.Refresh(context.Background())
	prober := reachability.NewFakeProber()

	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	identity := config.Identity{DID: "EDGE-00AB-CD12", UID: "owner-1"}
	wifi := wifistate.New(runner, scan, prober, cfg, identity, "wlan0")

	h := &Handler{
		identity: identity,
		signer:   signer,
		wifi:     wifi,
		now:      func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) },
	}
	return h, runner, prober, signer
}

func TestHandleReadDeviceIDSignsDID(t *testing.T) {
	h, _, _, signer := newTestHandler(t)

	raw := h.Handle(context.Background(), []byte(`{"MsgId":"m1","Type":10000}`))

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("response not valid JSON: %v (%s)", err, raw)
	}
	if !resp.Success || resp.Data != "EDGE-00AB-CD12" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	ok, err := devicecrypto.Verify(resp.Data, resp.Sign, signer.Public())
	if err != nil || !ok {
		t.Fatalf("signature did not verify: ok=%v err=%v", ok, err)
	}
}

func TestHandleProvisionWiFiCleanProvision(t *testing.T) {
	h, _, prober, signer := newTestHandler(t)
	prober.Results["192.168.1.50"] = true

	plain := `{"SSID":"HomeNet","Password":"pw12345678","NCBIP":"192.168.1.50"}`
	cipher, err := devicecrypto.Encrypt(plain, signer.Public())
	if err != nil {
		t.Fatal(err)
	}
	req, _ := json.Marshal(Request{MsgID: "m1", Type: msgTypeProvisionWiFi, Data: cipher})

	raw := h.Handle(context.Background(), req)
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("response not valid JSON: %v (%s)", err, raw)
	}
	if !resp.Success || resp.Data != "SUCCESS" {
		t.Fatalf("expected successful provision, got %+v", resp)
	}
	if ok, err := devicecrypto.Verify("SUCCESS", resp.Sign, signer.Public()); err != nil || !ok {
		t.Fatalf("SUCCESS signature did not verify: ok=%v err=%v", ok, err)
	}
}

func TestHandleProvisionWiFiMalformedCiphertextNeverTouchesWiFi(t *testing.T) {
	h, runner, _, _ := newTestHandler(t)
	before := len(runner.Calls)

	req, _ := json.Marshal(Request{MsgID: "m1", Type: msgTypeProvisionWiFi, Data: "not-valid-base64-cipher!!"})
	raw := h.Handle(context.Background(), req)

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("response not valid JSON: %v (%s)", err, raw)
	}
	if resp.Success {
		t.Fatal("expected failure for malformed ciphertext")
	}
	if len(runner.Calls) != before {
		t.Fatalf("I6: malformed ciphertext must not mutate Wi-Fi state, but runner was called %d more times", len(runner.Calls)-before)
	}
}

func TestHandleUnsupportedType(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	req, _ := json.Marshal(Request{MsgID: "m1", Type: 9999})
	raw := h.Handle(context.Background(), req)

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("response not valid JSON: %v (%s)", err, raw)
	}
	if resp.Success || resp.Message != "type not supported" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestHandleDebugDialect(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	cases := map[string]string{
		"PING": "PONG",
		"ping": "PONG",
		"HELP": "Commands: PING, STATUS, TIME, INFO, HELP",
	}
	for in, want := range cases {
		got := string(h.Handle(context.Background(), []byte(in)))
		if got != want {
			t.Errorf("Handle(%q) = %q, want %q", in, got, want)
		}
	}

	echo := string(h.Handle(context.Background(), []byte("whatever")))
	if echo != "Echo: whatever" {
		t.Fatalf("unexpected echo response: %q", echo)
	}
}
