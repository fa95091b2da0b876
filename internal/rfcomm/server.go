//go:build linux

// Package rfcomm implements the Bluetooth RFCOMM provisioning server of
// §4.F: adapter bring-up, a raw RFCOMM listening socket, a serial
// per-client message loop speaking the JSON protocol and debug dialect,
// a discoverability watchdog, and a pairing-hygiene sweep.
package rfcomm

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"ncb-edge/internal/config"
	"ncb-edge/internal/devicecrypto"
	"ncb-edge/internal/shell"
	"ncb-edge/internal/wifistate"
)

const (
	provisioningChannel = 1
	listenBacklog       = 5
	bleAdvertiseBudget  = 15 * time.Second
)

// Server is the Bluetooth RFCOMM provisioning server.
type Server struct {
	runner   shell.Runner
	identity config.Identity
	adapter  string
	handler  *Handler
}

// New constructs a Server. adapter is the host Bluetooth adapter name
// (e.g. "hci0").
func New(runner shell.Runner, identity config.Identity, signer *devicecrypto.Signer, wifi *wifistate.Manager, adapter string) *Server {
	return &Server{
		runner:   runner,
		identity: identity,
		adapter:  adapter,
		handler: &Handler{
			identity: identity,
			signer:   signer,
			wifi:     wifi,
			adapter:  &adapterSummary{runner: runner, adapter: adapter},
			now:      time.Now,
		},
	}
}

// Run brings the adapter up, opens the listening socket and serves
// clients until ctx is cancelled. A permanently absent adapter is not
// fatal to the rest of the process (§7: "the RFCOMM task exits; the
// rest of the system continues").
func (s *Server) Run(ctx context.Context) {
	alias := s.identity.HotspotSSID()
	if err := bringUp(ctx, s.runner, s.adapter, alias, s.identity.ServiceUUID()); err != nil {
		log.Printf("rfcomm: bring-up failed, bluetooth provisioning disabled: %v", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); discoverabilityWatchdog(ctx, s.runner, s.adapter) }()
	go func() { defer wg.Done(); pairingSweep(ctx, s.runner, s.adapter) }()
	defer wg.Wait()

	l, err := listenRFCOMM(provisioningChannel, listenBacklog)
	if err != nil && bindInUse(err) {
		log.Printf("rfcomm: bind in use, forcing cleanup and retrying once: %v", err)
		s.forceCleanupAndReassert(ctx, alias)
		l, err = listenRFCOMM(provisioningChannel, listenBacklog)
	}
	if err != nil {
		log.Printf("rfcomm: listen failed, bluetooth provisioning disabled: %v", err)
		return
	}
	defer l.Close()

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	s.acceptLoop(ctx, l)
}

// acceptLoop serves one client at a time: the listening socket's
// lifetime strictly contains every accepted client's lifetime (§5
// ordering guarantee c).
func (s *Server) acceptLoop(ctx context.Context, l *listener) {
	for {
		fd, remote, err := l.acceptRC()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("rfcomm: accept error: %v", err)
			continue
		}
		log.Printf("rfcomm: accepted connection from %s", remote)
		sess := newSession(newFDIO(fd), s.handler, remote)
		sess.serve(ctx)
		log.Printf("rfcomm: connection from %s closed", remote)
	}
}

// bindInUse reports whether err is the "address in use" condition of
// §4.F's bind-retry clause.
func bindInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}

// forceCleanupAndReassert is the forced cleanup run before the caller
// retries the bind once: power the adapter off, restart the Bluetooth
// daemon, then re-run bring-up, which re-enables the adapter and
// re-asserts discoverability. No separate RFCOMM channel release
// command is issued.
func (s *Server) forceCleanupAndReassert(ctx context.Context, alias string) {
	_, _ = s.runner.Run(ctx, "bluetoothctl power off")
	if err := restartBluetoothService(ctx); err != nil {
		log.Printf("rfcomm: forced cleanup: bluetooth.service restart failed: %v", err)
	}
	if err := bringUp(ctx, s.runner, s.adapter, alias, s.identity.ServiceUUID()); err != nil {
		log.Printf("rfcomm: forced cleanup: re-bring-up failed: %v", err)
	}
}
