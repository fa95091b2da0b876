// Package upstreampoll implements §4.H's upstream-info poller: it asks
// the upstream which Wi-Fi/IP the device should be on and re-binds
// through the Wi-Fi state manager when reality diverges. Grounded on
// internal/handlers/network_wifi_status.go's parse-then-compare shape
// and slqrpdf's cmd/client postJSON helper for the outbound call.
package upstreampoll

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"ncb-edge/internal/config"
	"ncb-edge/internal/devicecrypto"
	"ncb-edge/internal/shell"
	"ncb-edge/internal/wifistate"
)

const pollInterval = 20 * time.Second

// netInfoRequest is the envelope posted to the upstream's GetNCBNetInfo
// endpoint (§4.H).
type netInfoRequest struct {
	DID  string `json:"DID"`
	UID  string `json:"UID"`
	Time string `json:"Time"`
	Sign string `json:"Sign"`
}

type netInfoResponse struct {
	Success bool   `json:"success"`
	Data    string `json:"data"`
}

// netInfoPayload is the plaintext of Data once RSA-OAEP decrypted.
type netInfoPayload struct {
	WifiName  string `json:"wifiName"`
	IPAddress string `json:"ipAddress"`
}

// ConnectionObserver reports the state of the upstream RPC connection,
// a persistent bidirectional channel that is out of scope for this
// core (§1) — the core only observes it.
type ConnectionObserver interface {
	Established() bool
}

// Poller is the upstream-info poller of §4.H. It also maintains the
// "consecutive-miss counter" that §4.G's hotspot coordinator consults
// (§9 open question, resolved here): a miss is one GetNCBNetInfo poll
// that was attempted (because the upstream RPC connection was not
// established) and failed or returned an unparsable response; the
// counter resets to zero on any poll that completes successfully,
// regardless of whether that poll's result triggered a re-bind. When
// the RPC connection is established, no poll is attempted and the
// counter is left untouched.
type Poller struct {
	runner      shell.Runner
	identity    config.Identity
	signer      *devicecrypto.Signer
	wifi        *wifistate.Manager
	cfg         *config.Store
	rpcConn     ConnectionObserver
	client      *http.Client
	upstreamURL string

	mu        sync.Mutex
	missCount int
}

// New constructs a Poller targeting upstreamURL (the GetNCBNetInfo
// endpoint, e.g. "https://ncb.example.com/api/GetNCBNetInfo").
// rpcConn reports whether the persistent upstream RPC connection is
// currently established.
func New(runner shell.Runner, identity config.Identity, signer *devicecrypto.Signer, wifi *wifistate.Manager, cfg *config.Store, rpcConn ConnectionObserver, upstreamURL string) *Poller {
	return &Poller{
		runner:      runner,
		identity:    identity,
		signer:      signer,
		wifi:        wifi,
		cfg:         cfg,
		rpcConn:     rpcConn,
		client:      &http.Client{Timeout: 10 * time.Second},
		upstreamURL: upstreamURL,
	}
}

// MissCount reports the number of consecutive failed/unreachable polls.
func (p *Poller) MissCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.missCount
}

// Run polls every 20s until ctx is cancelled (§4.H). A poll failure is
// logged and counted as a miss; it never stops the loop. It also wakes
// on wifi.ReconnectSignal, so a connect_to_wifi completed by any other
// front-end (HTTP, Bluetooth) triggers an immediate re-poll instead of
// waiting out the rest of the current tick.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		reconnect := p.wifi.ReconnectSignal.Chan()
		select {
		case <-ctx.Done():
			return
		case <-reconnect:
			if p.rpcConn.Established() {
				continue
			}
			p.poll(ctx)
		case <-ticker.C:
			if p.rpcConn.Established() {
				continue
			}
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	payload, err := p.fetchNetInfo(ctx)
	if err != nil {
		log.Printf("upstreampoll: poll failed: %v", err)
		p.recordMiss()
		return
	}
	p.recordHit()

	currentSSID := p.currentSSID(ctx)
	if payload.WifiName != "" && currentSSID != payload.WifiName {
		log.Printf("upstreampoll: upstream expects SSID %q, host reports %q; re-binding", payload.WifiName, currentSSID)
		if ok, msg := p.wifi.ConnectToWiFi(ctx, payload.WifiName, nil, payload.IPAddress); !ok {
			log.Printf("upstreampoll: re-bind failed: %s", msg)
		}
		return
	}

	if payload.IPAddress != "" && p.cfg.Settings().SenderReceiverSet.NCBIP != payload.IPAddress {
		if err := p.cfg.SetNCBIP(payload.IPAddress); err != nil {
			log.Printf("upstreampoll: failed to persist NCBIP: %v", err)
		}
	}
}

func (p *Poller) recordMiss() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.missCount++
}

func (p *Poller) recordHit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.missCount = 0
}

// currentSSID queries the host's current SSID via iwgetid, the same
// host query internal/wifistate uses for §4.E step 6.
func (p *Poller) currentSSID(ctx context.Context) string {
	res, err := p.runner.Run(ctx, "iwgetid -r")
	if err != nil || !res.Success {
		return ""
	}
	return strings.TrimSpace(res.Stdout)
}

func (p *Poller) fetchNetInfo(ctx context.Context) (netInfoPayload, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	sig, err := p.signer.Sign(fmt.Sprintf("%s:%s:%s", p.identity.DID, p.identity.UID, now))
	if err != nil {
		return netInfoPayload{}, fmt.Errorf("upstreampoll: sign request: %w", err)
	}

	body, err := json.Marshal(netInfoRequest{DID: p.identity.DID, UID: p.identity.UID, Time: now, Sign: sig})
	if err != nil {
		return netInfoPayload{}, fmt.Errorf("upstreampoll: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.upstreamURL, bytes.NewReader(body))
	if err != nil {
		return netInfoPayload{}, fmt.Errorf("upstreampoll: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return netInfoPayload{}, fmt.Errorf("upstreampoll: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return netInfoPayload{}, fmt.Errorf("upstreampoll: read response: %w", err)
	}

	var envelope netInfoResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return netInfoPayload{}, fmt.Errorf("upstreampoll: malformed response: %w", err)
	}
	if !envelope.Success {
		return netInfoPayload{}, fmt.Errorf("upstreampoll: upstream reported failure")
	}

	plain, err := p.signer.Decrypt(envelope.Data)
	if err != nil {
		return netInfoPayload{}, fmt.Errorf("upstreampoll: decrypt response: %w", err)
	}

	var payload netInfoPayload
	if err := json.Unmarshal([]byte(plain), &payload); err != nil {
		return netInfoPayload{}, fmt.Errorf("upstreampoll: malformed net-info payload: %w", err)
	}
	return payload, nil
}
