// Package config holds the two configuration layers described in §6 of
// the protocol: process configuration supplied on the command line via
// flag, and a per-user persisted INI file holding the small amount of
// state that should survive a restart (last Server-ID, last partner
// ids). No secrets are ever part of the persisted state.
package config

import (
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/ini.v1"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
)

// Defaults for the options enumerated in §6 "Configuration options
// recognized by the core".
const (
	DefaultListenPort              = 5901
	DefaultRelayListenPort         = 5000
	DefaultBindAddress             = "0.0.0.0"
	DefaultMaxFileSize             = 100 * 1024 * 1024 * 1024
	DefaultChunkSize               = 32768
	DefaultMaxConnectionsPerRelay  = 1024
	DefaultReconnectAttempts       = 5
	DefaultReconnectDelayMillis    = 2000
	DefaultInactivityTimeoutMillis = 5000
)

// PeerConfig is the peer client/host binary's process configuration.
// MaxFileSize, ChunkSize and MetricsAddr are parsed but nothing reads
// them: internal/session applies its own MaxFileSize and ChunkSize
// constants, and cmd/peer serves no metrics endpoint.
type PeerConfig struct {
	ListenPort        int
	Password          string
	MaxFileSize       uint64
	ChunkSize         uint32
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	MetricsAddr       string

	// Mode, OwnID, Target, and RelayAddr select which role this process
	// plays and how it finds its peer; they are CLI routing concerns
	// rather than core protocol options, but belong alongside the rest
	// of the peer binary's flags.
	Mode      string // "host" or "controller"
	OwnID     uint32
	Target    string // controller only: Server-ID or host:port
	RelayAddr string // empty selects direct-connect transport
}

// ParsePeerFlags parses args (typically os.Args[1:]) into a PeerConfig,
// applying the §6 defaults and generating a random 5-digit password when
// none is supplied.
func ParsePeerFlags(args []string) (PeerConfig, error) {
	fs := flag.NewFlagSet("peer", flag.ContinueOnError)
	listenPort := fs.Int("listen-port", DefaultListenPort, "TCP port to listen on for direct connections")
	password := fs.String("password", "", "numeric password required of controllers (random if empty)")
	maxFileSize := fs.Uint64("max-file-size", DefaultMaxFileSize, "ceiling in bytes for a single file transfer")
	reconnectAttempts := fs.Int("reconnect-attempts", DefaultReconnectAttempts, "relay reconnect attempts before giving up")
	reconnectDelayMs := fs.Int("reconnect-delay-millis", DefaultReconnectDelayMillis, "delay between relay reconnect attempts")
	metricsAddr := fs.String("metrics-addr", "", "optional address to serve /metrics on (empty disables)")
	mode := fs.String("mode", "host", `"host" waits for an incoming controller, "controller" dials one`)
	ownID := fs.Uint("own-id", 0, "this process's peer id (0 derives one from this host's first non-loopback IPv4 address)")
	target := fs.String("target", "", "controller only: peer Server-ID or host:port to connect to")
	relayAddr := fs.String("relay", "", "relay server address; empty selects direct-connect transport")
	if err := fs.Parse(args); err != nil {
		return PeerConfig{}, err
	}
	if *listenPort < 1 || *listenPort > 65535 {
		return PeerConfig{}, cerrors.New(cerrors.InvalidArgument, "listen-port must be 1-65535")
	}
	if *mode != "host" && *mode != "controller" {
		return PeerConfig{}, cerrors.New(cerrors.InvalidArgument, `mode must be "host" or "controller"`)
	}
	if *mode == "controller" && *target == "" {
		return PeerConfig{}, cerrors.New(cerrors.InvalidArgument, "controller mode requires -target")
	}

	pw := *password
	if pw == "" {
		pw = fmt.Sprintf("%05d", rand.Intn(100000))
	}

	return PeerConfig{
		ListenPort:        *listenPort,
		Password:          pw,
		MaxFileSize:       *maxFileSize,
		ChunkSize:         DefaultChunkSize,
		ReconnectAttempts: *reconnectAttempts,
		ReconnectDelay:    time.Duration(*reconnectDelayMs) * time.Millisecond,
		MetricsAddr:       *metricsAddr,
		Mode:              *mode,
		OwnID:             uint32(*ownID),
		Target:            *target,
		RelayAddr:         *relayAddr,
	}, nil
}

// RelayConfig is the relay binary's process configuration.
// MaxConnectionsPerRelay and InactivityTimeout are parsed but not
// applied: internal/relay places no cap on connections and reaps idle
// ones on its own fixed InactivityTimeout constant.
type RelayConfig struct {
	ListenPort               int
	BindAddress              string
	DisplayAdvertisedAddress string
	MaxConnectionsPerRelay   int
	InactivityTimeout        time.Duration
	MetricsAddr              string
	LockPath                 string
}

// ParseRelayFlags parses args into a RelayConfig. It returns
// cerrors.InvalidArgument (mapped by the caller to exit code 2) for a
// malformed bind address or out-of-range port.
func ParseRelayFlags(args []string) (RelayConfig, error) {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	listenPort := fs.Int("listen-port", DefaultRelayListenPort, "TCP port to listen on")
	bindAddress := fs.String("bind-address", DefaultBindAddress, "IPv4 address to bind")
	displayAddr := fs.String("display-address", "", "IPv4 override advertised in the Server-ID when bound to 0.0.0.0")
	maxConns := fs.Int("max-connections", DefaultMaxConnectionsPerRelay, "maximum concurrently registered connections")
	inactivityMs := fs.Int("inactivity-timeout-millis", DefaultInactivityTimeoutMillis, "per-connection inactivity timeout")
	metricsAddr := fs.String("metrics-addr", "", "optional address to serve /metrics on (empty disables)")
	lockPath := fs.String("lock-file", "", "single-instance lock file path (empty uses the platform default)")
	if err := fs.Parse(args); err != nil {
		return RelayConfig{}, err
	}
	if *listenPort < 1 || *listenPort > 65535 {
		return RelayConfig{}, cerrors.New(cerrors.InvalidArgument, "listen-port must be 1-65535")
	}
	if ip := net.ParseIP(*bindAddress); ip == nil || ip.To4() == nil {
		return RelayConfig{}, cerrors.New(cerrors.InvalidArgument, "bind-address must be an IPv4 address")
	}

	return RelayConfig{
		ListenPort:               *listenPort,
		BindAddress:              *bindAddress,
		DisplayAdvertisedAddress: *displayAddr,
		MaxConnectionsPerRelay:   *maxConns,
		InactivityTimeout:        time.Duration(*inactivityMs) * time.Millisecond,
		MetricsAddr:              *metricsAddr,
		LockPath:                 *lockPath,
	}, nil
}

// ClientState is the peer client's persisted per-user state (§6
// "Persisted state"): no secrets, just enough to repopulate the UI's
// last-used fields on the next launch.
type ClientState struct {
	LastServerID        string
	LastRelayPartnerID  string
	LastDirectPartnerID string
}

// DefaultClientStatePath returns the per-user config file path for the
// peer client, creating its parent directory if needed.
func DefaultClientStatePath() (string, error) {
	return stateDir("client.ini")
}

// DefaultRelayStatePath returns the per-user config file path for the
// relay.
func DefaultRelayStatePath() (string, error) {
	return stateDir("relay.ini")
}

func stateDir(file string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	dir := filepath.Join(home, ".remotedesk2k")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return filepath.Join(dir, file), nil
}

// LoadClientState reads path, returning a zero-value ClientState (not an
// error) when the file does not yet exist.
func LoadClientState(path string) (ClientState, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ClientState{}, nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return ClientState{}, fmt.Errorf("loading client state from %s: %w", path, err)
	}
	sec := cfg.Section("client")
	return ClientState{
		LastServerID:        sec.Key("last_server_id").String(),
		LastRelayPartnerID:  sec.Key("last_relay_partner_id").String(),
		LastDirectPartnerID: sec.Key("last_direct_partner_id").String(),
	}, nil
}

// SaveClientState writes s to path as INI, overwriting any existing file.
func SaveClientState(path string, s ClientState) error {
	cfg := ini.Empty()
	sec := cfg.Section("client")
	sec.Key("last_server_id").SetValue(s.LastServerID)
	sec.Key("last_relay_partner_id").SetValue(s.LastRelayPartnerID)
	sec.Key("last_direct_partner_id").SetValue(s.LastDirectPartnerID)
	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("saving client state to %s: %w", path, err)
	}
	return nil
}

// RelayState is the relay's persisted per-user state: the address it
// last bound and the Server-ID it last generated for that address.
type RelayState struct {
	BoundIP      string
	Port         uint16
	LastServerID string
}

// LoadRelayState reads path, returning a zero-value RelayState when the
// file does not yet exist.
func LoadRelayState(path string) (RelayState, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return RelayState{}, nil
	}
	cfg, err := ini.Load(path)
	if err != nil {
		return RelayState{}, fmt.Errorf("loading relay state from %s: %w", path, err)
	}
	sec := cfg.Section("relay")
	return RelayState{
		BoundIP:      sec.Key("bound_ip").String(),
		Port:         uint16(sec.Key("port").MustUint(0)),
		LastServerID: sec.Key("last_server_id").String(),
	}, nil
}

// SaveRelayState writes s to path as INI, overwriting any existing file.
func SaveRelayState(path string, s RelayState) error {
	cfg := ini.Empty()
	sec := cfg.Section("relay")
	sec.Key("bound_ip").SetValue(s.BoundIP)
	sec.Key("port").SetValue(fmt.Sprintf("%d", s.Port))
	sec.Key("last_server_id").SetValue(s.LastServerID)
	if err := cfg.SaveTo(path); err != nil {
		return fmt.Errorf("saving relay state to %s: %w", path, err)
	}
	return nil
}
