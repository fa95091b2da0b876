package captiveportal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"ncb-edge/internal/config"
	"ncb-edge/internal/reachability"
	"ncb-edge/internal/scancache"
	"ncb-edge/internal/shell"
	"ncb-edge/internal/wifistate"
)

func newTestWifi(t *testing.T) *wifistate.Manager {
	t.Helper()
	runner := shell.NewFakeRunner()
	runner.DefaultResult = shell.Result{Success: true, ExitCode: 0}
	runner.Responses["nmcli -t -f name connection show --active"] = shell.Result{Success: true, ExitCode: 0, Stdout: "NCBEdge_ABCD12\n"}
	scan := scancache.New(runner, "wlan0")
	prober := reachability.NewFakeProber()
	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	identity := config.Identity{DID: "EDGE-00AB-CD12", UID: "owner-1"}
	return wifistate.New(runner, scan, prober, cfg, identity, "wlan0")
}

func passthroughOK(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestMiddlewarePassesThroughWhenHotspotInactive(t *testing.T) {
	wifi := newTestWifi(t)
	mw := Middleware(wifi)(http.HandlerFunc(passthroughOK))

	req := httptest.NewRequest(http.MethodGet, "http://connectivitycheck.gstatic.com/generate_204", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected passthrough when hotspot is inactive, got %d", rec.Code)
	}
}

func TestMiddlewareRedirectsProbeHostWhenHotspotActive(t *testing.T) {
	wifi := newTestWifi(t)
	if ok, msg := wifi.StartHotspot(context.Background(), nil, nil); !ok {
		t.Fatalf("setup: start_hotspot failed: %s", msg)
	}
	mw := Middleware(wifi)(http.HandlerFunc(passthroughOK))

	req := httptest.NewRequest(http.MethodGet, "http://connectivitycheck.gstatic.com/generate_204", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "/provision" {
		t.Fatalf("expected 302 to /provision, got %d Location=%q", rec.Code, rec.Header().Get("Location"))
	}
}

func TestMiddlewarePassesThroughAllowlistedPath(t *testing.T) {
	wifi := newTestWifi(t)
	if ok, msg := wifi.StartHotspot(context.Background(), nil, nil); !ok {
		t.Fatalf("setup: start_hotspot failed: %s", msg)
	}
	mw := Middleware(wifi)(http.HandlerFunc(passthroughOK))

	req := httptest.NewRequest(http.MethodGet, "http://10.42.0.1/static/bootstrap.css", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected passthrough for allowlisted static asset, got %d", rec.Code)
	}
}

func TestMiddlewarePassesThroughGatewayIPAllowlistedAsset(t *testing.T) {
	wifi := newTestWifi(t)
	if ok, msg := wifi.StartHotspot(context.Background(), nil, nil); !ok {
		t.Fatalf("setup: start_hotspot failed: %s", msg)
	}
	mw := Middleware(wifi)(http.HandlerFunc(passthroughOK))

	req := httptest.NewRequest(http.MethodGet, "http://10.42.0.1/lib/bootstrap.css", nil)
	req.Host = "10.42.0.1"
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected passthrough for gateway-IP static asset, got %d", rec.Code)
	}
}

func TestMiddlewareRedirectsGatewayIPNonAllowlistedPath(t *testing.T) {
	wifi := newTestWifi(t)
	if ok, msg := wifi.StartHotspot(context.Background(), nil, nil); !ok {
		t.Fatalf("setup: start_hotspot failed: %s", msg)
	}
	mw := Middleware(wifi)(http.HandlerFunc(passthroughOK))

	req := httptest.NewRequest(http.MethodGet, "http://10.42.0.1/admin/danger", nil)
	req.Host = "10.42.0.1"
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect for non-allowlisted gateway-IP path, got %d", rec.Code)
	}
}
