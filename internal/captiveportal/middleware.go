package captiveportal

import (
	"net/http"
	"strings"

	"ncb-edge/internal/wifistate"
)

const gatewayIP = "10.42.0.1"

// captivePortalHosts are the probe hostnames the major OSes and
// browsers use to detect a captive portal (§4.J).
var captivePortalHosts = map[string]bool{
	"connectivitycheck.gstatic.com": true, // Android
	"clients3.google.com":           true, // ChromeOS
	"captive.apple.com":             true, // iOS / macOS
	"www.apple.com":                 true,
	"www.msftconnecttest.com":       true, // Windows
	"msftconnecttest.com":           true,
	"detectportal.firefox.com":      true, // Firefox
}

// allowedPrefixes are never redirected even while the hotspot is up:
// the provisioning page itself, the admin API, static assets, and the
// Swagger surface.
var allowedPrefixes = []string{
	"/provision",
	"/api/Admin/Provision",
	"/static/",
	"/lib/",
	"/docs",
}

// Middleware redirects captive-portal probe requests to /provision
// while the hotspot is active (§4.J). wifi reports hotspot_active.
func Middleware(wifi *wifistate.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !wifi.Snapshot().HotspotActive {
				next.ServeHTTP(w, r)
				return
			}

			host := stripPort(r.Host)
			if (captivePortalHosts[host] || host == gatewayIP) && !isAllowedPath(r.URL.Path) {
				http.Redirect(w, r, "/provision", http.StatusFound)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isAllowedPath(path string) bool {
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func stripPort(host string) string {
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		return host[:idx]
	}
	return host
}
