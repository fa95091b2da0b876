package rfcomm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ncb-edge/internal/config"
	"ncb-edge/internal/devicecrypto"
	"ncb-edge/internal/wifistate"
)

// Message types of the JSON provisioning protocol (§4.F).
const (
	msgTypeReadDeviceID  = 10000
	msgTypeProvisionWiFi = 10050
)

// Request is the JSON envelope sent by a connected peer (§3 Provisioning
// message).
type Request struct {
	MsgID string `json:"MsgId"`
	Time  string `json:"Time"`
	Type  int    `json:"Type"`
	Data  string `json:"Data"`
}

// Response is the JSON envelope sent back to the peer.
type Response struct {
	MsgID   string `json:"MsgId"`
	Time    string `json:"Time,omitempty"`
	Type    int    `json:"Type"`
	Success bool   `json:"Success"`
	Message string `json:"Message,omitempty"`
	Data    string `json:"Data,omitempty"`
	Sign    string `json:"Sign,omitempty"`
}

// provisionPayload is the plaintext of a Type=10050 request's Data field
// once RSA-OAEP decrypted.
type provisionPayload struct {
	SSID     string `json:"SSID"`
	Password string `json:"Password"`
	NCBIP    string `json:"NCBIP"`
}

// adapterInfo answers the debug dialect's STATUS/INFO commands.
type adapterInfo interface {
	Summary() string
}

// Handler dispatches both the JSON protocol and the non-JSON debug
// dialect of §4.F over a single accepted session.
type Handler struct {
	identity config.Identity
	signer   *devicecrypto.Signer
	wifi     *wifistate.Manager
	adapter  adapterInfo
	now      func() time.Time
}

// Handle dispatches one decoded payload and returns the response bytes,
// without the trailing line terminator (the session adds it).
func (h *Handler) Handle(ctx context.Context, payload []byte) []byte {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		return h.handleJSON(ctx, []byte(trimmed))
	}
	return []byte(h.handleDebug(trimmed))
}

func (h *Handler) handleJSON(ctx context.Context, raw []byte) []byte {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return mustMarshal(Response{Success: false, Message: "malformed request"})
	}

	var resp Response
	switch req.Type {
	case msgTypeReadDeviceID:
		resp = h.handleReadDeviceID(req)
	case msgTypeProvisionWiFi:
		resp = h.handleProvisionWiFi(ctx, req)
	default:
		resp = Response{Success: false, Message: "type not supported"}
	}
	resp.MsgID = req.MsgID
	resp.Type = req.Type
	return mustMarshal(resp)
}

func (h *Handler) handleReadDeviceID(req Request) Response {
	sig, err := h.signer.Sign(h.identity.DID)
	if err != nil {
		return Response{Success: false, Message: "sign failed"}
	}
	return Response{Success: true, Data: h.identity.DID, Sign: sig}
}

// handleProvisionWiFi implements §4.F's Type=10050: decrypt, validate,
// and hand the credential triple to the Wi-Fi state manager. A malformed
// ciphertext or payload is a ProtocolFailure surfaced as Success=false
// without ever reaching §4.E (I6).
func (h *Handler) handleProvisionWiFi(ctx context.Context, req Request) Response {
	plain, err := h.signer.Decrypt(req.Data)
	if err != nil {
		return Response{Success: false, Message: "malformed ciphertext"}
	}

	var payload provisionPayload
	if err := json.Unmarshal([]byte(plain), &payload); err != nil {
		return Response{Success: false, Message: "malformed provisioning payload"}
	}
	if payload.SSID == "" || payload.NCBIP == "" {
		return Response{Success: false, Message: "SSID and NCBIP are required"}
	}

	var password *string
	if payload.Password != "" {
		password = &payload.Password
	}

	ok, msg := h.wifi.ConnectToWiFi(ctx, payload.SSID, password, payload.NCBIP)
	if !ok {
		return Response{Success: false, Message: msg}
	}

	sig, err := h.signer.Sign("SUCCESS")
	if err != nil {
		return Response{Success: true, Data: "SUCCESS"}
	}
	return Response{Success: true, Data: "SUCCESS", Sign: sig}
}

// handleDebug answers the non-JSON debug dialect (§4.F).
func (h *Handler) handleDebug(cmd string) string {
	switch strings.ToUpper(cmd) {
	case "PING":
		return "PONG"
	case "STATUS":
		if h.adapter == nil {
			return "adapter status unavailable"
		}
		return h.adapter.Summary()
	case "TIME":
		return h.now().UTC().Format(time.RFC3339)
	case "INFO":
		return fmt.Sprintf("DID=%s UID=%s", h.identity.DID, h.identity.UID)
	case "HELP":
		return "Commands: PING, STATUS, TIME, INFO, HELP"
	default:
		return "Echo: " + cmd
	}
}

func mustMarshal(resp Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"Success":false,"Message":"internal encoding error"}`)
	}
	return b
}
