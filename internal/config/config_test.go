package config

import (
	"path/filepath"
	"testing"
)

func TestParsePeerFlagsDefaults(t *testing.T) {
	cfg, err := ParsePeerFlags(nil)
	if err != nil {
		t.Fatalf("ParsePeerFlags: %v", err)
	}
	if cfg.ListenPort != DefaultListenPort {
		t.Errorf("listen port = %d, want %d", cfg.ListenPort, DefaultListenPort)
	}
	if len(cfg.Password) != 5 {
		t.Errorf("generated password %q should be 5 digits", cfg.Password)
	}
}

func TestParsePeerFlagsRejectsBadPort(t *testing.T) {
	if _, err := ParsePeerFlags([]string{"-listen-port=70000"}); err == nil {
		t.Fatal("expected error for out-of-range listen port")
	}
}

func TestParseRelayFlagsDefaults(t *testing.T) {
	cfg, err := ParseRelayFlags(nil)
	if err != nil {
		t.Fatalf("ParseRelayFlags: %v", err)
	}
	if cfg.ListenPort != DefaultRelayListenPort {
		t.Errorf("listen port = %d, want %d", cfg.ListenPort, DefaultRelayListenPort)
	}
	if cfg.BindAddress != DefaultBindAddress {
		t.Errorf("bind address = %q, want %q", cfg.BindAddress, DefaultBindAddress)
	}
}

func TestClientStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "client.ini")

	if got, err := LoadClientState(path); err != nil || got != (ClientState{}) {
		t.Fatalf("load of missing file: got %+v, err=%v", got, err)
	}

	want := ClientState{
		LastServerID:        "ABCDE-FGHJK",
		LastRelayPartnerID:  "123 456 789 012",
		LastDirectPartnerID: "098 765 432 101",
	}
	if err := SaveClientState(path, want); err != nil {
		t.Fatalf("SaveClientState: %v", err)
	}
	got, err := LoadClientState(path)
	if err != nil {
		t.Fatalf("LoadClientState: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestRelayStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.ini")

	want := RelayState{BoundIP: "10.0.0.5", Port: 5000, LastServerID: "ABCDE-FGHJK"}
	if err := SaveRelayState(path, want); err != nil {
		t.Fatalf("SaveRelayState: %v", err)
	}
	got, err := LoadRelayState(path)
	if err != nil {
		t.Fatalf("LoadRelayState: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}
