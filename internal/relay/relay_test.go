package relay

import (
	"net"
	"testing"
	"time"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/relayproto"
)

type noopEnc struct{}

func (noopEnc) Encrypt([]byte) {}
func (noopEnc) Decrypt([]byte) {}

func startTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(srv.Shutdown)
	return srv, srv.listener.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func mustRegister(t *testing.T, c net.Conn, id uint32) relayproto.Status {
	t.Helper()
	if err := frame.WriteRelayFrame(c, frame.RelayFrame{
		Kind:    byte(relayproto.MsgRegister),
		Payload: relayproto.EncodeRegister(relayproto.Register{PeerID: id}),
	}, noopEnc{}, 2*time.Second, nil); err != nil {
		t.Fatalf("write register: %v", err)
	}
	resp, err := frame.ReadRelayFrame(c, frame.DefaultMaxPeerPayload, noopEnc{}, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("read register response: %v", err)
	}
	rr, err := relayproto.DecodeRegisterResponse(resp.Payload)
	if err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return rr.Status
}

// TestRegisterThenDuplicateRejected covers the duplicate-ID policy: a second
// registration under the same id while the first is still within its
// Registered grace window is rejected.
func TestRegisterThenDuplicateRejected(t *testing.T) {
	_, addr := startTestServer(t)

	a := dial(t, addr)
	defer a.Close()
	if status := mustRegister(t, a, 42); status != relayproto.StatusOK {
		t.Fatalf("first register: got status %v, want OK", status)
	}

	b := dial(t, addr)
	defer b.Close()
	if status := mustRegister(t, b, 42); status != relayproto.StatusDuplicate {
		t.Fatalf("second register: got status %v, want Duplicate", status)
	}
}

// TestPairingAndForwarding covers spec scenario S4: two registered peers
// pair via CONNECT_REQUEST, and MSG_DATA forwards opaquely between them.
func TestPairingAndForwarding(t *testing.T) {
	_, addr := startTestServer(t)

	host := dial(t, addr)
	defer host.Close()
	if status := mustRegister(t, host, 100); status != relayproto.StatusOK {
		t.Fatalf("host register: %v", status)
	}

	ctrl := dial(t, addr)
	defer ctrl.Close()
	if status := mustRegister(t, ctrl, 200); status != relayproto.StatusOK {
		t.Fatalf("controller register: %v", status)
	}

	if err := frame.WriteRelayFrame(ctrl, frame.RelayFrame{
		Kind:    byte(relayproto.MsgConnectRequest),
		Payload: relayproto.EncodeConnectRequest(relayproto.ConnectRequest{TargetID: 100}),
	}, noopEnc{}, 2*time.Second, nil); err != nil {
		t.Fatalf("write connect request: %v", err)
	}

	connResp, err := frame.ReadRelayFrame(ctrl, frame.DefaultMaxPeerPayload, noopEnc{}, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("read connect response: %v", err)
	}
	cr, err := relayproto.DecodeConnectResponse(connResp.Payload)
	if err != nil || cr.Status != relayproto.StatusOK {
		t.Fatalf("connect response: err=%v status=%v", err, cr.Status)
	}

	partnerFrame, err := frame.ReadRelayFrame(host, frame.DefaultMaxPeerPayload, noopEnc{}, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("host read partner-connected: %v", err)
	}
	if relayproto.Kind(partnerFrame.Kind) != relayproto.MsgPartnerConnected {
		t.Fatalf("expected partner-connected, got kind %d", partnerFrame.Kind)
	}
	pc, err := relayproto.DecodePartnerConnected(partnerFrame.Payload)
	if err != nil || pc.PartnerID != 200 {
		t.Fatalf("partner-connected payload: err=%v partnerID=%d", err, pc.PartnerID)
	}

	payload := []byte("hello over the relay")
	if err := frame.WriteRelayFrame(ctrl, frame.RelayFrame{
		Kind:    byte(relayproto.MsgData),
		Payload: payload,
	}, noopEnc{}, 2*time.Second, nil); err != nil {
		t.Fatalf("write data: %v", err)
	}

	dataFrame, err := frame.ReadRelayFrame(host, frame.DefaultMaxPeerPayload, noopEnc{}, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("host read data: %v", err)
	}
	if string(dataFrame.Payload) != string(payload) {
		t.Fatalf("forwarded payload mismatch: got %q want %q", dataFrame.Payload, payload)
	}
}

// TestConnectToUnknownTargetFails covers the "not found" branch of the
// pairing rule.
func TestConnectToUnknownTargetFails(t *testing.T) {
	_, addr := startTestServer(t)

	ctrl := dial(t, addr)
	defer ctrl.Close()
	mustRegister(t, ctrl, 300)

	if err := frame.WriteRelayFrame(ctrl, frame.RelayFrame{
		Kind:    byte(relayproto.MsgConnectRequest),
		Payload: relayproto.EncodeConnectRequest(relayproto.ConnectRequest{TargetID: 9999}),
	}, noopEnc{}, 2*time.Second, nil); err != nil {
		t.Fatalf("write connect request: %v", err)
	}
	resp, err := frame.ReadRelayFrame(ctrl, frame.DefaultMaxPeerPayload, noopEnc{}, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("read connect response: %v", err)
	}
	cr, err := relayproto.DecodeConnectResponse(resp.Payload)
	if err != nil || cr.Status != relayproto.StatusErrConnect {
		t.Fatalf("expected ErrConnect, got err=%v status=%v", err, cr.Status)
	}
}

// TestDisconnectNotifiesPartner covers the explicit MSG_DISCONNECT path.
func TestDisconnectNotifiesPartner(t *testing.T) {
	_, addr := startTestServer(t)

	host := dial(t, addr)
	defer host.Close()
	mustRegister(t, host, 1)

	ctrl := dial(t, addr)
	mustRegister(t, ctrl, 2)

	if err := frame.WriteRelayFrame(ctrl, frame.RelayFrame{
		Kind:    byte(relayproto.MsgConnectRequest),
		Payload: relayproto.EncodeConnectRequest(relayproto.ConnectRequest{TargetID: 1}),
	}, noopEnc{}, 2*time.Second, nil); err != nil {
		t.Fatalf("write connect request: %v", err)
	}
	if _, err := frame.ReadRelayFrame(ctrl, frame.DefaultMaxPeerPayload, noopEnc{}, 2*time.Second, nil); err != nil {
		t.Fatalf("read connect response: %v", err)
	}
	if _, err := frame.ReadRelayFrame(host, frame.DefaultMaxPeerPayload, noopEnc{}, 2*time.Second, nil); err != nil {
		t.Fatalf("host read partner-connected: %v", err)
	}

	if err := frame.WriteRelayFrame(ctrl, frame.RelayFrame{Kind: byte(relayproto.MsgDisconnect)}, noopEnc{}, 2*time.Second, nil); err != nil {
		t.Fatalf("write disconnect: %v", err)
	}
	ctrl.Close()

	notice, err := frame.ReadRelayFrame(host, frame.DefaultMaxPeerPayload, noopEnc{}, 2*time.Second, nil)
	if err != nil {
		t.Fatalf("host read partner-disconnected: %v", err)
	}
	if relayproto.Kind(notice.Kind) != relayproto.MsgPartnerDisconnected {
		t.Fatalf("expected partner-disconnected, got kind %d", notice.Kind)
	}
	pd, err := relayproto.DecodePartnerDisconnected(notice.Payload)
	if err != nil || pd.Reason != relayproto.ReasonNormal {
		t.Fatalf("partner-disconnected payload: err=%v reason=%v", err, pd.Reason)
	}
}

// TestShutdownDrainsQuietWorker guards against Shutdown hanging forever
// on a registered-but-silent peer: that worker's ReadRelayFrame call has
// no idle timeout of its own, so only Shutdown's forced read-deadline
// expiry (server.go) can unblock it and let Serve return.
func TestShutdownDrainsQuietWorker(t *testing.T) {
	srv, err := Listen("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := srv.listener.Addr().String()
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve() }()

	c := dial(t, addr)
	defer c.Close()
	if status := mustRegister(t, c, 99); status != relayproto.StatusOK {
		t.Fatalf("register: status=%v", status)
	}

	srv.Shutdown()

	select {
	case <-serveErr:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not drain a quiet registered worker within 2s")
	}
}

// TestRegistryStaleReplacement exercises Register's third branch
// directly: a Registered-but-idle slot is evicted rather than rejected.
func TestRegistryStaleReplacement(t *testing.T) {
	reg := NewRegistry()
	a := reg.Add(&fakeConn{})
	result, stale := reg.Register(a, 7)
	if result != RegisterOK || stale != nil {
		t.Fatalf("first register: result=%v stale=%v", result, stale)
	}
	a.mu.Lock()
	a.LastSeen = time.Now().Add(-2 * RegisteredGrace)
	a.mu.Unlock()

	b := reg.Add(&fakeConn{})
	result, stale = reg.Register(b, 7)
	if result != RegisterReplacedStale || stale != a {
		t.Fatalf("second register: result=%v stale=%v want ReplacedStale,a", result, stale)
	}
	if got, _ := reg.Lookup(7); got != b {
		t.Fatalf("registry lookup after replacement: got %v want b", got)
	}
}

type fakeConn struct{}

func (fakeConn) Read([]byte) (int, error)         { return 0, nil }
func (fakeConn) Write(p []byte) (int, error)      { return len(p), nil }
func (fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (fakeConn) Close() error                     { return nil }
