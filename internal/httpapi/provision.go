// Package httpapi implements the thin HTTP adapters of §4.I, mounted
// under /api/Admin/Provision. Grounded on internal/handlers/handlers.go's
// jsonResponse/errorResponse helpers, adapted to the always-200
// envelope contract §6/§9 specifies for this surface (the client is
// often a minimal browser on a degraded hotspot connection that can't
// reason about status codes).
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"ncb-edge/internal/scancache"
	"ncb-edge/internal/wifistate"
)

const (
	connectDelay  = 2 * time.Second
	requestBudget = 30 * time.Second
)

// Handler wires the provisioning endpoints to the Wi-Fi state manager
// and scan cache.
type Handler struct {
	wifi *wifistate.Manager
	scan *scancache.Cache
}

// New constructs a Handler.
func New(wifi *wifistate.Manager, scan *scancache.Cache) *Handler {
	return &Handler{wifi: wifi, scan: scan}
}

type networkEntry struct {
	SSID      string `json:"SSID"`
	Signal    int    `json:"Signal"`
	Security  string `json:"Security"`
	Frequency int    `json:"Frequency"`
}

type connectRequest struct {
	SSID     string  `json:"SSID"`
	Password *string `json:"Password"`
	NCBIP    string  `json:"NCBIP"`
}

type statusPayload struct {
	IsActive  bool   `json:"IsActive"`
	SSID      string `json:"SSID"`
	Password  string `json:"Password"`
	ConfigURL string `json:"ConfigUrl"`
}

func writeEnvelope(w http.ResponseWriter, success bool, data interface{}, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	body := map[string]interface{}{"success": success}
	if success {
		if data != nil {
			body["data"] = data
		}
		if message != "" {
			body["message"] = message
		}
	} else {
		body["errorMessage"] = message
	}
	json.NewEncoder(w).Encode(body)
}

// Networks handles GET /networks: the scan-cache snapshot (§4.I).
func (h *Handler) Networks(w http.ResponseWriter, r *http.Request) {
	snap := h.scan.All()
	out := make([]networkEntry, 0, len(snap))
	for _, e := range snap {
		out = append(out, networkEntry{SSID: e.SSID, Signal: e.SignalDBM, Security: e.Security, Frequency: e.FreqMHz})
	}
	writeEnvelope(w, true, out, "")
}

// Connect handles POST /connect: it answers success immediately,
// since the Wi-Fi transition itself tears down the client's own
// connection to the hotspot, then schedules the real connect_to_wifi
// 2s later so the HTTP response is flushed first (§4.I).
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, false, nil, "malformed request body: "+err.Error())
		return
	}
	if req.SSID == "" || req.NCBIP == "" {
		writeEnvelope(w, false, nil, "SSID and NCBIP are required")
		return
	}

	writeEnvelope(w, true, nil, "provisioning scheduled")

	ssid, password, ncbip := req.SSID, req.Password, req.NCBIP
	go func() {
		time.Sleep(connectDelay)
		ctx, cancel := context.WithTimeout(context.Background(), requestBudget)
		defer cancel()
		if ok, msg := h.wifi.ConnectToWiFi(ctx, ssid, password, ncbip); !ok {
			log.Printf("httpapi: background connect_to_wifi failed: %s", msg)
		}
	}()
}

// Status handles GET /status (§4.I, §6).
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.wifi.Snapshot()
	payload := statusPayload{
		IsActive:  snap.HotspotActive,
		SSID:      snap.HotspotSSID,
		ConfigURL: "http://10.42.0.1:5000/provision",
	}
	writeEnvelope(w, true, payload, "")
}

// Start handles POST /start: a direct start_hotspot call (§4.I).
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestBudget)
	defer cancel()
	ok, msg := h.wifi.StartHotspot(ctx, nil, nil)
	writeEnvelope(w, ok, nil, msg)
}

// Stop handles POST /stop: a direct stop_hotspot call (§4.I).
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestBudget)
	defer cancel()
	ok, msg := h.wifi.StopHotspot(ctx)
	writeEnvelope(w, ok, nil, msg)
}
