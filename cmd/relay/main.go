// Command relay runs the standalone C5 rendezvous server: peers
// register under their 32-bit peer id, pair with a CONNECT_REQUEST, and have
// their MSG_DATA forwarded opaquely until one side disconnects or goes
// idle for too long.
package main

import (
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cipher"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/config"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/relay"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/relaymetrics"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/utils"
)

// shutdownDrainTimeout bounds how long the relay waits for Shutdown's
// forced read-deadline expiry to drain every worker before giving up and
// exiting anyway.
const shutdownDrainTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.ParseRelayFlags(args)
	if err != nil {
		if cerrors.IsKind(err, cerrors.InvalidArgument) {
			log.Printf("❌ %v", err)
			return 2
		}
		// flag.ErrHelp and parse failures already printed usage.
		return 2
	}

	lockPath := cfg.LockPath
	if lockPath == "" {
		home, herr := os.UserHomeDir()
		if herr != nil {
			home = os.TempDir()
		}
		lockPath = filepath.Join(home, ".remotedesk2k", "relay.lock")
		os.MkdirAll(filepath.Dir(lockPath), 0700)
	}
	lock, err := relay.AcquireInstanceLock(lockPath)
	if err != nil {
		log.Printf("❌ %v", err)
		return 1
	}
	defer lock.Release()

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.ListenPort)
	if err := utils.CheckListenAddr(addr); err != nil {
		log.Printf("❌ %v", err)
		return 1
	}
	srv, err := relay.Listen(addr, relay.DefaultLogger)
	if err != nil {
		log.Printf("❌ failed to bind %s: %v", addr, err)
		return 1
	}

	statePath, err := config.DefaultRelayStatePath()
	if err != nil {
		log.Printf("⚠️  could not resolve relay state path: %v", err)
	} else {
		advertiseServerID(cfg, statePath)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			log.Printf("📊 serving metrics on %s/metrics", cfg.MetricsAddr)
			mux := http.NewServeMux()
			mux.Handle("/metrics", relaymetrics.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("❌ metrics listener stopped: %v", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	log.Printf("🚀 relay listening on %s", addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Println("🛑 shutting down...")
		srv.Shutdown()
		select {
		case <-serveErr:
		case <-time.After(shutdownDrainTimeout):
			log.Printf("⚠️  worker drain did not finish within %s, exiting anyway", shutdownDrainTimeout)
		}
	case err := <-serveErr:
		if err != nil {
			log.Printf("❌ relay server stopped: %v", err)
			return 1
		}
	}

	log.Println("✅ shutdown complete")
	return 0
}

// advertiseServerID derives and persists the Server-ID the relay logs at
// startup so an operator can hand it to clients, per §6 "Persisted
// state" (bound IP, port, last-generated Server-ID).
func advertiseServerID(cfg config.RelayConfig, statePath string) {
	ipText := cfg.DisplayAdvertisedAddress
	if ipText == "" {
		ipText = cfg.BindAddress
	}
	ip := net.ParseIP(ipText)
	if ip == nil || ip.To4() == nil || ip.IsUnspecified() {
		log.Printf("⚠️  no concrete IPv4 address to advertise (bind=%s); Server-ID not generated", cfg.BindAddress)
		return
	}
	v4 := ip.To4()
	serverID, err := cipher.NewDefault().EncodeServerID([4]byte{v4[0], v4[1], v4[2], v4[3]}, uint16(cfg.ListenPort))
	if err != nil {
		log.Printf("⚠️  failed to encode Server-ID: %v", err)
		return
	}
	log.Printf("🔑 Server-ID: %s", serverID)

	if err := config.SaveRelayState(statePath, config.RelayState{
		BoundIP:      ipText,
		Port:         uint16(cfg.ListenPort),
		LastServerID: serverID,
	}); err != nil {
		log.Printf("⚠️  failed to persist relay state: %v", err)
	}
}
