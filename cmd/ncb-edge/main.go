// NCB Edge network provisioning core: gets an unconfigured device onto
// the customer's Wi-Fi and reachable to the NCB over two independent
// side-channels (Bluetooth RFCOMM and a self-hosted captive-portal
// hotspot), and keeps it there across reboots and signal loss.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ncb-edge/internal/captiveportal"
	"ncb-edge/internal/config"
	"ncb-edge/internal/devicecrypto"
	"ncb-edge/internal/httpapi"
	"ncb-edge/internal/reachability"
	"ncb-edge/internal/rfcomm"
	"ncb-edge/internal/scancache"
	"ncb-edge/internal/shell"
	"ncb-edge/internal/upstreamconn"
	"ncb-edge/internal/upstreampoll"
	"ncb-edge/internal/wifistate"
)

const (
	defaultPort    = "5000"
	defaultHost    = "0.0.0.0"
	defaultIface   = "wlan0"
	defaultAdapter = "hci0"
	shutdownBudget = 10 * time.Second
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("NCB Edge provisioning core starting...")

	dir, err := os.Executable()
	if err != nil {
		log.Fatalf("resolve executable path: %v", err)
	}
	cfg, err := config.Load(filepath.Dir(dir))
	if err != nil {
		log.Fatalf("load appsettings.json: %v", err)
	}
	settings := cfg.Settings()
	identity := config.Identity{DID: settings.DeviceID, UID: settings.OwnerID}

	// Fatal per §7: a missing private key at startup is a hard stop.
	signer, err := devicecrypto.Load(identity.PrivateKeyPath("Cert"))
	if err != nil {
		log.Fatalf("load device private key: %v", err)
	}

	runner := shell.NewOSRunner()
	iface := envOr("NCB_EDGE_IFACE", defaultIface)
	adapter := envOr("NCB_EDGE_ADAPTER", defaultAdapter)

	scan := scancache.New(runner, iface)
	prober := reachability.NewICMPProber()
	wifi := wifistate.New(runner, scan, prober, cfg, identity, iface)

	rpcConn := upstreamconn.New()
	poller := upstreampoll.New(runner, identity, signer, wifi, cfg, rpcConn, settings.UpstreamURL)
	coordinator := captiveportal.New(wifi, cfg, rpcConn, poller)

	btServer := rfcomm.New(runner, identity, signer, wifi, adapter)

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.RealIP)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(captiveportal.Middleware(wifi))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ncb-edge"}`))
	})
	httpapi.SetupRoutes(router, httpapi.New(wifi, scan))

	port := envOr("NCB_EDGE_PORT", defaultPort)
	host := envOr("NCB_EDGE_HOST", defaultHost)
	srv := &http.Server{
		Addr:         host + ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	go scan.Start(ctx)
	go coordinator.Run(ctx)
	go poller.Run(ctx)
	go btServer.Run(ctx)

	go func() {
		log.Printf("NCB Edge provisioning HTTP surface listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down NCB Edge provisioning core...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown error: %v", err)
	}

	log.Println("NCB Edge provisioning core stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
