// Command peer runs one end of a C4 session: either "host" (waits for
// an incoming controller and shares its screen) or "controller" (dials
// a host directly or through a relay and drives it).
//
// The screen/input/clipboard/filesystem adapters this binary wires in
// are deliberately minimal stand-ins for the real platform adapters
// spec.md §6 delegates outside the core (capture, injection, clipboard,
// file dialogs) — this binary exists to exercise the protocol, not to
// be a usable remote-desktop client.
package main

import (
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cipher"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/config"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/session"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/utils"
)

const (
	screenWidth  = 320
	screenHeight = 240
	captureTick  = 150 * time.Millisecond
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.ParsePeerFlags(args)
	if err != nil {
		if cerrors.IsKind(err, cerrors.InvalidArgument) {
			log.Printf("❌ %v", err)
			return 2
		}
		return 2
	}

	c := cipher.NewDefault()
	if cfg.OwnID == 0 {
		cfg.OwnID = localPeerID(c, cfg.ListenPort)
	}

	if cfg.Mode == "host" {
		return runHost(c, cfg)
	}
	return runController(c, cfg)
}

func runHost(c *cipher.Cipher, cfg config.PeerConfig) int {
	addr := fmt.Sprintf(":%d", cfg.ListenPort)
	if err := utils.CheckListenAddr(addr); err != nil {
		log.Printf("❌ %v", err)
		return 1
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Printf("❌ failed to listen on port %d: %v", cfg.ListenPort, err)
		return 1
	}
	defer ln.Close()

	log.Printf("🚀 host listening on :%d, id=%s, password=%s", cfg.ListenPort, cipher.EncodeID(cfg.OwnID), cfg.Password)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("❌ accept error: %v", err)
			return 1
		}
		log.Printf("🔌 accepted connection from %s", conn.RemoteAddr())
		go serveHostSession(conn, c, cfg)
	}
}

func serveHostSession(conn net.Conn, c *cipher.Cipher, cfg config.PeerConfig) {
	defer conn.Close()

	screenSrc := newSyntheticScreen(screenWidth, screenHeight)
	sess := session.New(conn, session.Config{
		Role:      session.RoleHost,
		InputSink: loggingInputSink{},
		ClipSink:  loggingClipboardSink{},
		ClipSrc:   stubClipboardSource{},
		XferSink:  newStubTransferSink(),
		ScreenSrc: screenSrc,
		Events: session.Events{
			OnPhaseChange: func(p session.Phase) { log.Printf("🔄 phase: %s", p) },
			OnError:       func(err error) { log.Printf("⚠️  session error: %v", err) },
		},
	})

	go runCaptureLoop(sess)

	if err := sess.RunHost(cfg.OwnID, cfg.Password, screenWidth, screenHeight); err != nil {
		log.Printf("❌ host session ended: %v", err)
	}
}

// runCaptureLoop waits for the handshake to complete, then drives
// CaptureAndSendFrame on a fixed tick until the session leaves
// PhaseConnected, matching the sender-thread-owns-capture rule in §5.
func runCaptureLoop(sess *session.Session) {
	for sess.Phase() != session.PhaseConnected {
		if sess.Phase() == session.PhaseDisconnected || sess.Phase() == session.PhaseClosing {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	ticker := time.NewTicker(captureTick)
	defer ticker.Stop()
	var prev []byte
	tick := func() bool {
		if sess.Phase() != session.PhaseConnected {
			return false
		}
		if sess.ConsumeFullFrameRequest() {
			prev = nil
		}
		var err error
		prev, err = sess.CaptureAndSendFrame(prev, frame.DefaultMaxPeerPayload)
		if err != nil {
			log.Printf("⚠️  capture/send failed: %v", err)
			return false
		}
		return true
	}
	for {
		select {
		case <-ticker.C:
			if !tick() {
				return
			}
		case <-sess.FullFrameRequests():
			if !tick() {
				return
			}
		}
	}
}

func runController(c *cipher.Cipher, cfg config.PeerConfig) int {
	ip, port, err := resolveTarget(c, cfg.Target)
	if err != nil {
		log.Printf("❌ could not resolve target %q: %v", cfg.Target, err)
		return 2
	}

	var conn frame.Conn
	if cfg.RelayAddr == "" {
		raw, derr := utils.DialWithRetry(func() (net.Conn, error) {
			return net.DialTimeout("tcp", fmt.Sprintf("%s:%d", ip, port), 5*time.Second)
		}, cfg.ReconnectAttempts, cfg.ReconnectDelay)
		if derr != nil {
			log.Printf("❌ direct connect to %s:%d failed: %v", ip, port, derr)
			return 1
		}
		conn = raw
	} else {
		raw, derr := utils.DialWithRetry(func() (net.Conn, error) {
			return net.DialTimeout("tcp", cfg.RelayAddr, 5*time.Second)
		}, cfg.ReconnectAttempts, cfg.ReconnectDelay)
		if derr != nil {
			log.Printf("❌ relay connect to %s failed: %v", cfg.RelayAddr, derr)
			return 1
		}
		targetID := c.EncodeDirectID(ip[0], ip[1], ip[2], ip[3])
		relayed, rerr := session.DialViaRelay(raw, cfg.OwnID, targetID, c, frame.DefaultControlIdle, nil)
		if rerr != nil {
			log.Printf("❌ relay pairing failed: %v", rerr)
			raw.Close()
			return 1
		}
		conn = relayed
	}

	sess := session.New(conn, session.Config{
		Role:      session.RoleController,
		InputSink: loggingInputSink{},
		ClipSink:  loggingClipboardSink{},
		ClipSrc:   stubClipboardSource{},
		XferSink:  newStubTransferSink(),
		Events: session.Events{
			OnPhaseChange: func(p session.Phase) { log.Printf("🔄 phase: %s", p) },
			OnError:       func(err error) { log.Printf("⚠️  session error: %v", err) },
		},
	})

	persistClientState(cfg.Target)

	log.Printf("🚀 connecting to %s:%d as controller", ip, port)
	if err := sess.RunController(cfg.OwnID, cfg.Password, screenWidth, screenHeight); err != nil {
		log.Printf("❌ controller session ended: %v", err)
		return 1
	}
	return 0
}

// resolveTarget accepts either shape named in §6 "Server-ID textual
// form": a Server-ID (decoded with the checksum-validating codec) or a
// plain host:port.
func resolveTarget(c *cipher.Cipher, target string) (ip [4]byte, port uint16, err error) {
	if decIP, decPort, derr := c.DecodeServerID(target); derr == nil {
		return decIP, decPort, nil
	}
	host, portStr, serr := net.SplitHostPort(target)
	if serr != nil {
		return ip, 0, cerrors.New(cerrors.InvalidArgument, "target is neither a valid Server-ID nor host:port")
	}
	p, perr := strconv.ParseUint(portStr, 10, 16)
	if perr != nil {
		return ip, 0, cerrors.New(cerrors.InvalidArgument, "target port must be numeric")
	}
	resolved, rerr := net.ResolveIPAddr("ip4", host)
	if rerr != nil {
		return ip, 0, cerrors.Wrap(cerrors.InvalidArgument, "resolving target host", rerr)
	}
	v4 := resolved.IP.To4()
	if v4 == nil {
		return ip, 0, cerrors.New(cerrors.InvalidArgument, "target host has no IPv4 address")
	}
	copy(ip[:], v4)
	return ip, uint16(p), nil
}

func persistClientState(target string) {
	path, err := config.DefaultClientStatePath()
	if err != nil {
		log.Printf("⚠️  could not resolve client state path: %v", err)
		return
	}
	st, _ := config.LoadClientState(path)
	st.LastServerID = target
	if err := config.SaveClientState(path, st); err != nil {
		log.Printf("⚠️  could not persist client state: %v", err)
	}
}

// localPeerID derives a peer id from the first non-loopback IPv4 address
// this host can find, falling back to loopback. It only matters for the
// demonstration binary's own logging; a real deployment's listener
// chooses this deliberately via -own-id.
func localPeerID(c *cipher.Cipher, listenPort int) uint32 {
	ip := [4]byte{127, 0, 0, 1}
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			if v4 := ipNet.IP.To4(); v4 != nil {
				copy(ip[:], v4)
				break
			}
		}
	}
	return c.EncodeDirectID(ip[0], ip[1], ip[2], ip[3])
}
