// Package relayproto defines the relay-server wire protocol (C5's outer
// framing): the typed control messages a peer exchanges with the relay
// to register, request a pairing, and learn about its partner, plus the
// MSG_DATA envelope that carries an opaque forwarded peer-frame stream.
// Both internal/relay (the server) and the peer-side relay transport
// share this package so the two ends can never drift apart.
package relayproto

import (
	"encoding/binary"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
)

// Kind is the relay-frame Kind byte identifying a control message.
type Kind byte

const (
	MsgRegister            Kind = 1
	MsgRegisterResponse    Kind = 2
	MsgConnectRequest      Kind = 3
	MsgConnectResponse     Kind = 4
	MsgPartnerConnected    Kind = 5
	MsgPartnerDisconnected Kind = 6
	MsgData                Kind = 7
	MsgPing                Kind = 8
	MsgPong                Kind = 9
	MsgDisconnect          Kind = 10
)

// Status is the result code carried by REGISTER_RESPONSE and
// CONNECT_RESPONSE, per spec.md §4.5.
type Status byte

const (
	StatusOK         Status = 0
	StatusDuplicate  Status = 1
	StatusErrConnect Status = 2
)

// DisconnectReason is the reason code carried by MSG_PARTNER_DISCONNECTED.
type DisconnectReason byte

const (
	ReasonNormal  DisconnectReason = 0
	ReasonTimeout DisconnectReason = 1
)

// Register is the MSG_REGISTER payload: the peer announces the ID it
// wants to be reachable under.
type Register struct {
	PeerID uint32
}

func EncodeRegister(r Register) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, r.PeerID)
	return buf
}

func DecodeRegister(buf []byte) (Register, error) {
	if len(buf) != 4 {
		return Register{}, cerrors.New(cerrors.Protocol, "malformed register")
	}
	return Register{PeerID: binary.LittleEndian.Uint32(buf)}, nil
}

// RegisterResponse is the MSG_REGISTER_RESPONSE payload.
type RegisterResponse struct {
	Status Status
}

func EncodeRegisterResponse(r RegisterResponse) []byte {
	return []byte{byte(r.Status), 0, 0, 0}
}

func DecodeRegisterResponse(buf []byte) (RegisterResponse, error) {
	if len(buf) != 4 {
		return RegisterResponse{}, cerrors.New(cerrors.Protocol, "malformed register response")
	}
	return RegisterResponse{Status: Status(buf[0])}, nil
}

// ConnectRequest is the MSG_CONNECT_REQUEST payload: a controller asking
// the relay to pair it with targetID. The peer-level password exchange
// happens inside the subsequent peer handshake carried over MSG_DATA
// (§4.4), not here — the relay's pairing step stays credential-blind.
type ConnectRequest struct {
	TargetID uint32
}

func EncodeConnectRequest(r ConnectRequest) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, r.TargetID)
	return buf
}

func DecodeConnectRequest(buf []byte) (ConnectRequest, error) {
	if len(buf) != 4 {
		return ConnectRequest{}, cerrors.New(cerrors.Protocol, "malformed connect request")
	}
	return ConnectRequest{TargetID: binary.LittleEndian.Uint32(buf)}, nil
}

// ConnectResponse is the MSG_CONNECT_RESPONSE payload.
type ConnectResponse struct {
	Status Status
}

func EncodeConnectResponse(r ConnectResponse) []byte {
	return []byte{byte(r.Status), 0, 0, 0}
}

func DecodeConnectResponse(buf []byte) (ConnectResponse, error) {
	if len(buf) != 4 {
		return ConnectResponse{}, cerrors.New(cerrors.Protocol, "malformed connect response")
	}
	return ConnectResponse{Status: Status(buf[0])}, nil
}

// PartnerConnected is the MSG_PARTNER_CONNECTED payload, sent to the
// target of a pairing once it completes; the initiator learns of the
// pairing from its CONNECT_RESPONSE instead.
type PartnerConnected struct {
	PartnerID uint32
}

func EncodePartnerConnected(p PartnerConnected) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, p.PartnerID)
	return buf
}

func DecodePartnerConnected(buf []byte) (PartnerConnected, error) {
	if len(buf) != 4 {
		return PartnerConnected{}, cerrors.New(cerrors.Protocol, "malformed partner connected")
	}
	return PartnerConnected{PartnerID: binary.LittleEndian.Uint32(buf)}, nil
}

// PartnerDisconnected is the MSG_PARTNER_DISCONNECTED payload.
type PartnerDisconnected struct {
	Reason    DisconnectReason
	PartnerID uint32
}

func EncodePartnerDisconnected(p PartnerDisconnected) []byte {
	buf := make([]byte, 8)
	buf[0] = byte(p.Reason)
	binary.LittleEndian.PutUint32(buf[4:8], p.PartnerID)
	return buf
}

func DecodePartnerDisconnected(buf []byte) (PartnerDisconnected, error) {
	if len(buf) != 8 {
		return PartnerDisconnected{}, cerrors.New(cerrors.Protocol, "malformed partner disconnected")
	}
	return PartnerDisconnected{
		Reason:    DisconnectReason(buf[0]),
		PartnerID: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}
