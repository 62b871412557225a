package session

import (
	"time"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/relayproto"
)

// RelayedConn adapts a raw connection to a relay server into a
// frame.Conn carrying the inner peer-frame stream, per spec.md §9's
// dual-framing design: every peer-frame byte this type's Read/Write
// methods see is actually the payload of an outer relayproto.MsgData
// relay frame. Handshake, screen update, and transfer code built against
// frame.Conn runs unmodified whether the underlying transport is a
// direct TCP socket or a relayed one.
type RelayedConn struct {
	raw    frame.Conn
	enc    frame.Encryptor
	idle   time.Duration
	cancel frame.CancelFunc

	pending []byte // unread tail of the most recent inbound MsgData payload
}

// DialViaRelay performs the relay-side handshake for a controller: it
// registers ownID, requests pairing with targetID, and returns once the
// relay answers with an OK CONNECT_RESPONSE. The relay sends
// MSG_PARTNER_CONNECTED only to the target, not to the initiator.
func DialViaRelay(raw frame.Conn, ownID, targetID uint32, enc frame.Encryptor, idle time.Duration, cancel frame.CancelFunc) (*RelayedConn, error) {
	if err := frame.WriteRelayFrame(raw, frame.RelayFrame{
		Kind:    byte(relayproto.MsgRegister),
		Payload: relayproto.EncodeRegister(relayproto.Register{PeerID: ownID}),
	}, enc, idle, cancel); err != nil {
		return nil, err
	}
	resp, err := frame.ReadRelayFrame(raw, frame.DefaultMaxPeerPayload, enc, idle, cancel)
	if err != nil {
		return nil, err
	}
	if relayproto.Kind(resp.Kind) != relayproto.MsgRegisterResponse {
		return nil, cerrors.New(cerrors.Protocol, "expected register response from relay")
	}
	rr, err := relayproto.DecodeRegisterResponse(resp.Payload)
	if err != nil {
		return nil, err
	}
	if rr.Status != relayproto.StatusOK {
		return nil, cerrors.ErrDuplicateID
	}

	if err := frame.WriteRelayFrame(raw, frame.RelayFrame{
		Kind:    byte(relayproto.MsgConnectRequest),
		Payload: relayproto.EncodeConnectRequest(relayproto.ConnectRequest{TargetID: targetID}),
	}, enc, idle, cancel); err != nil {
		return nil, err
	}
	cresp, err := frame.ReadRelayFrame(raw, frame.DefaultMaxPeerPayload, enc, idle, cancel)
	if err != nil {
		return nil, err
	}
	if relayproto.Kind(cresp.Kind) != relayproto.MsgConnectResponse {
		return nil, cerrors.New(cerrors.Protocol, "expected connect response from relay")
	}
	cr, err := relayproto.DecodeConnectResponse(cresp.Payload)
	if err != nil {
		return nil, err
	}
	if cr.Status != relayproto.StatusOK {
		return nil, cerrors.ErrNotFound
	}

	return &RelayedConn{raw: raw, enc: enc, idle: idle, cancel: cancel}, nil
}

// AwaitViaRelay performs the relay-side handshake for a host: it
// registers ownID and waits for the relay to announce an incoming
// pairing via MSG_PARTNER_CONNECTED.
func AwaitViaRelay(raw frame.Conn, ownID uint32, enc frame.Encryptor, idle time.Duration, cancel frame.CancelFunc) (*RelayedConn, error) {
	if err := frame.WriteRelayFrame(raw, frame.RelayFrame{
		Kind:    byte(relayproto.MsgRegister),
		Payload: relayproto.EncodeRegister(relayproto.Register{PeerID: ownID}),
	}, enc, idle, cancel); err != nil {
		return nil, err
	}
	resp, err := frame.ReadRelayFrame(raw, frame.DefaultMaxPeerPayload, enc, idle, cancel)
	if err != nil {
		return nil, err
	}
	if relayproto.Kind(resp.Kind) != relayproto.MsgRegisterResponse {
		return nil, cerrors.New(cerrors.Protocol, "expected register response from relay")
	}
	rr, err := relayproto.DecodeRegisterResponse(resp.Payload)
	if err != nil {
		return nil, err
	}
	if rr.Status != relayproto.StatusOK {
		return nil, cerrors.ErrDuplicateID
	}

	// No idle timeout while waiting for an incoming pairing: this is a
	// long, indefinite wait, not a stalled control exchange.
	pframe, err := frame.ReadRelayFrame(raw, frame.DefaultMaxPeerPayload, enc, 0, cancel)
	if err != nil {
		return nil, err
	}
	if relayproto.Kind(pframe.Kind) != relayproto.MsgPartnerConnected {
		return nil, cerrors.New(cerrors.Protocol, "expected partner-connected from relay")
	}
	if _, err := relayproto.DecodePartnerConnected(pframe.Payload); err != nil {
		return nil, err
	}

	return &RelayedConn{raw: raw, enc: enc, idle: idle, cancel: cancel}, nil
}

// Read implements io.Reader by pulling the next relayproto.MsgData frame
// once the previous one is exhausted. MSG_PING frames are answered with
// MSG_PONG inline and otherwise skipped; MSG_PARTNER_DISCONNECTED and
// MSG_DISCONNECT surface as cerrors.ErrPartnerLeft / ErrRelayLost.
func (c *RelayedConn) Read(p []byte) (int, error) {
	for len(c.pending) == 0 {
		f, err := frame.ReadRelayFrame(c.raw, frame.DefaultMaxPeerPayload, c.enc, c.idle, c.cancel)
		if err != nil {
			return 0, err
		}
		switch relayproto.Kind(f.Kind) {
		case relayproto.MsgData:
			c.pending = f.Payload
		case relayproto.MsgPing:
			if werr := frame.WriteRelayFrame(c.raw, frame.RelayFrame{Kind: byte(relayproto.MsgPong)}, c.enc, c.idle, c.cancel); werr != nil {
				return 0, werr
			}
		case relayproto.MsgPartnerDisconnected:
			return 0, cerrors.ErrPartnerLeft
		case relayproto.MsgDisconnect:
			return 0, cerrors.ErrRelayLost
		default:
			// Unknown control kind: ignore and keep waiting for data.
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write implements io.Writer by wrapping p as a single MsgData relay
// frame, ciphered per spec.md §4.2's relay-payload rule.
func (c *RelayedConn) Write(p []byte) (int, error) {
	if err := frame.WriteRelayFrame(c.raw, frame.RelayFrame{
		Kind:    byte(relayproto.MsgData),
		Flags:   frame.FlagCiphered,
		Payload: p,
	}, c.enc, c.idle, c.cancel); err != nil {
		return 0, err
	}
	return len(p), nil
}

// SetReadDeadline and SetWriteDeadline forward to the underlying
// transport; per-frame idle timeouts inside Read/Write already manage
// deadlines, so these only matter if a caller wants to bound this call
// itself from the outside.
func (c *RelayedConn) SetReadDeadline(t time.Time) error  { return c.raw.SetReadDeadline(t) }
func (c *RelayedConn) SetWriteDeadline(t time.Time) error { return c.raw.SetWriteDeadline(t) }
