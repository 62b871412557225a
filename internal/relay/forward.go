package relay

import (
	"fmt"
	"time"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/relaymetrics"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/relayproto"
)

// worker drives one accepted connection's entire lifetime: reading
// relay frames and dispatching them per spec.md §4.5, until the socket
// errors, the peer disconnects, or the reaper closes it out from under
// this loop (ReadExact then surfaces a ConnectionLost/Closed error).
type worker struct {
	srv  *Server
	conn *Conn
}

func (w *worker) run() {
	defer w.cleanup()
	for {
		f, err := frame.ReadRelayFrame(w.conn.raw, frame.DefaultMaxPeerPayload, passthroughEncryptor{}, 0, nil)
		if err != nil {
			return
		}
		w.conn.touch()
		if err := w.dispatch(relayproto.Kind(f.Kind), f.Flags, f.Payload); err != nil {
			w.srv.logger.Log(EventError, err.Error())
			return
		}
	}
}

func (w *worker) dispatch(kind relayproto.Kind, flags byte, payload []byte) error {
	switch kind {
	case relayproto.MsgRegister:
		return w.handleRegister(payload)
	case relayproto.MsgConnectRequest:
		return w.handleConnectRequest(payload)
	case relayproto.MsgData:
		return w.handleData(flags, payload)
	case relayproto.MsgPing:
		return w.reply(relayproto.MsgPong, nil, 0)
	case relayproto.MsgPong:
		return nil
	case relayproto.MsgDisconnect:
		w.handleDisconnect()
		return fmt.Errorf("peer requested disconnect")
	default:
		return nil // unknown control kinds are ignored, not fatal
	}
}

func (w *worker) reply(kind relayproto.Kind, payload []byte, flags byte) error {
	return frame.WriteRelayFrame(w.conn.raw, frame.RelayFrame{Kind: byte(kind), Flags: flags, Payload: payload}, passthroughEncryptor{}, frame.DefaultRelayPayloadTimeout, nil)
}

func (w *worker) handleRegister(payload []byte) error {
	reg, err := relayproto.DecodeRegister(payload)
	if err != nil {
		return err
	}
	result, stale := w.srv.registry.Register(w.conn, reg.PeerID)
	switch result {
	case RegisterDuplicate:
		relaymetrics.ConnectionsRejected.WithLabelValues("duplicate").Inc()
		w.srv.logger.Log(EventProtect, fmt.Sprintf("rejected duplicate registration for id=%d", reg.PeerID))
		return w.reply(relayproto.MsgRegisterResponse, relayproto.EncodeRegisterResponse(relayproto.RegisterResponse{Status: relayproto.StatusDuplicate}), 0)
	case RegisterReplacedStale:
		w.srv.logger.Log(EventCleanup, fmt.Sprintf("cleaned up stale slot for id=%d", reg.PeerID))
		if stale != nil {
			stale.raw.SetReadDeadline(time.Now())
		}
	}
	relaymetrics.ConnectionsRegistered.Inc()
	relaymetrics.ConnectionsActive.Set(float64(w.srv.registry.Count()))
	w.srv.logger.Log(EventRegister, fmt.Sprintf("id=%d", reg.PeerID))
	return w.reply(relayproto.MsgRegisterResponse, relayproto.EncodeRegisterResponse(relayproto.RegisterResponse{Status: relayproto.StatusOK}), 0)
}

func (w *worker) handleConnectRequest(payload []byte) error {
	req, err := relayproto.DecodeConnectRequest(payload)
	if err != nil {
		return err
	}
	partner, ok := w.srv.registry.Lookup(req.TargetID)
	if !ok || partner.state() == ConnDisconnected {
		w.srv.logger.Log(EventConnect, fmt.Sprintf("initiator=%d partner=%d result=not_found", w.conn.ID, req.TargetID))
		return w.reply(relayproto.MsgConnectResponse, relayproto.EncodeConnectResponse(relayproto.ConnectResponse{Status: relayproto.StatusErrConnect}), 0)
	}
	if partner.state() == ConnPaired {
		w.srv.logger.Log(EventConnect, fmt.Sprintf("initiator=%d partner=%d result=busy", w.conn.ID, req.TargetID))
		return w.reply(relayproto.MsgConnectResponse, relayproto.EncodeConnectResponse(relayproto.ConnectResponse{Status: relayproto.StatusErrConnect}), 0)
	}

	w.srv.registry.Pair(w.conn, partner)
	relaymetrics.PairingsActive.Inc()
	w.srv.logger.Log(EventConnect, fmt.Sprintf("initiator=%d partner=%d result=ok", w.conn.ID, req.TargetID))

	if err := w.reply(relayproto.MsgConnectResponse, relayproto.EncodeConnectResponse(relayproto.ConnectResponse{Status: relayproto.StatusOK}), 0); err != nil {
		return err
	}
	return frame.WriteRelayFrame(partner.raw, frame.RelayFrame{
		Kind:    byte(relayproto.MsgPartnerConnected),
		Payload: relayproto.EncodePartnerConnected(relayproto.PartnerConnected{PartnerID: w.conn.ID}),
	}, passthroughEncryptor{}, frame.DefaultRelayPayloadTimeout, nil)
}

// handleData forwards an opaque MSG_DATA frame to this connection's
// partner verbatim: the relay never decrypts, inspects, or reframes it.
func (w *worker) handleData(flags byte, payload []byte) error {
	w.conn.mu.Lock()
	partner := w.conn.Partner
	w.conn.mu.Unlock()
	if partner == nil {
		return fmt.Errorf("data frame with no partner paired")
	}
	partner.touch()
	relaymetrics.BytesForwardedTotal.Add(float64(len(payload)))
	return frame.WriteRelayFrame(partner.raw, frame.RelayFrame{
		Kind:    byte(relayproto.MsgData),
		Flags:   flags,
		Payload: payload,
	}, passthroughEncryptor{}, frame.DefaultRelayPayloadTimeout, nil)
}

func (w *worker) handleDisconnect() {
	w.notifyPartner(relayproto.ReasonNormal)
}

// cleanup runs once when the worker's read loop exits for any reason:
// it notifies the partner (if any) and removes this connection from the
// registry.
func (w *worker) cleanup() {
	wasPaired := w.conn.state() == ConnPaired
	w.conn.raw.(interface{ Close() error }).Close()
	w.notifyPartner(relayproto.ReasonNormal)
	w.srv.registry.Remove(w.conn)
	w.conn.setState(ConnDisconnected)
	if wasPaired {
		relaymetrics.PairingsActive.Dec()
	}
	relaymetrics.ConnectionsActive.Set(float64(w.srv.registry.Count()))
	w.srv.logger.Log(EventDisconnect, fmt.Sprintf("id=%d", w.conn.ID))
}

func (w *worker) notifyPartner(reason relayproto.DisconnectReason) {
	w.conn.mu.Lock()
	partner := w.conn.Partner
	w.conn.Partner = nil
	w.conn.mu.Unlock()
	if partner == nil {
		return
	}
	partner.mu.Lock()
	partner.State = ConnDisconnected
	partner.Partner = nil
	partner.mu.Unlock()
	_ = frame.WriteRelayFrame(partner.raw, frame.RelayFrame{
		Kind:    byte(relayproto.MsgPartnerDisconnected),
		Payload: relayproto.EncodePartnerDisconnected(relayproto.PartnerDisconnected{Reason: reason, PartnerID: w.conn.ID}),
	}, passthroughEncryptor{}, frame.DefaultRelayPayloadTimeout, nil)
}

// notifyPartnerTimeout tells partner that timedOutID was reaped for
// inactivity, transitioning partner back to Disconnected per spec.md's
// "Liveness and reaping" — used by the reaper sweep, which has no
// worker of its own to drive the notification.
func notifyPartnerTimeout(partner *Conn, timedOutID uint32) {
	partner.mu.Lock()
	partner.State = ConnDisconnected
	partner.Partner = nil
	partner.mu.Unlock()
	_ = frame.WriteRelayFrame(partner.raw, frame.RelayFrame{
		Kind:    byte(relayproto.MsgPartnerDisconnected),
		Payload: relayproto.EncodePartnerDisconnected(relayproto.PartnerDisconnected{Reason: relayproto.ReasonTimeout, PartnerID: timedOutID}),
	}, passthroughEncryptor{}, frame.DefaultRelayPayloadTimeout, nil)
}

// passthroughEncryptor implements frame.Encryptor as a no-op: the relay
// is content-agnostic and never applies C1 itself. A MSG_DATA frame's
// FlagCiphered bit, if set by the two peer endpoints, is preserved
// byte-for-byte as it passes through (see handleData) — only the peers
// ever call cipher.Cipher.Encrypt/Decrypt on that payload.
type passthroughEncryptor struct{}

func (passthroughEncryptor) Encrypt([]byte) {}
func (passthroughEncryptor) Decrypt([]byte) {}
