package session

import (
	"encoding/binary"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
)

// passwordFieldSize is the fixed width of the handshake's numeric
// password field on the wire (zero-padded ASCII digits).
const passwordFieldSize = 16

// HandshakePayload is the MSG_HANDSHAKE / MSG_HANDSHAKE_ACK body.
// Password is zero on an ack, per spec.md §4.4.
type HandshakePayload struct {
	Magic         uint32
	OwnID         uint32
	Password      string
	ScreenWidth   uint16
	ScreenHeight  uint16
	ColorDepth    uint8
	Compression   CompressionKind
	VersionMajor  uint8
	VersionMinor  uint8
}

func encodeHandshake(h HandshakePayload) []byte {
	buf := make([]byte, 4+4+passwordFieldSize+2+2+1+1+1+1)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.OwnID)
	copy(buf[8:8+passwordFieldSize], []byte(h.Password))
	off := 8 + passwordFieldSize
	binary.LittleEndian.PutUint16(buf[off:off+2], h.ScreenWidth)
	binary.LittleEndian.PutUint16(buf[off+2:off+4], h.ScreenHeight)
	buf[off+4] = h.ColorDepth
	buf[off+5] = byte(h.Compression)
	buf[off+6] = h.VersionMajor
	buf[off+7] = h.VersionMinor
	return buf
}

func decodeHandshake(buf []byte) (HandshakePayload, error) {
	want := 4 + 4 + passwordFieldSize + 2 + 2 + 1 + 1 + 1 + 1
	if len(buf) != want {
		return HandshakePayload{}, cerrors.New(cerrors.Protocol, "malformed handshake payload")
	}
	h := HandshakePayload{
		Magic: binary.LittleEndian.Uint32(buf[0:4]),
		OwnID: binary.LittleEndian.Uint32(buf[4:8]),
	}
	pwBytes := buf[8 : 8+passwordFieldSize]
	end := 0
	for end < len(pwBytes) && pwBytes[end] != 0 {
		end++
	}
	h.Password = string(pwBytes[:end])
	off := 8 + passwordFieldSize
	h.ScreenWidth = binary.LittleEndian.Uint16(buf[off : off+2])
	h.ScreenHeight = binary.LittleEndian.Uint16(buf[off+2 : off+4])
	h.ColorDepth = buf[off+4]
	h.Compression = CompressionKind(buf[off+5])
	h.VersionMajor = buf[off+6]
	h.VersionMinor = buf[off+7]
	return h, nil
}

// DoControllerHandshake sends MSG_HANDSHAKE and waits for the host's
// reply. A non-ack reply, or the host closing the connection, surfaces
// as cerrors.ErrAuthFailed (the host never discloses which part of the
// credentials was wrong).
func DoControllerHandshake(c frame.Conn, ownID uint32, password string, localWidth, localHeight uint16) (HandshakePayload, error) {
	req := HandshakePayload{
		Magic:        HandshakeMagic,
		OwnID:        ownID,
		Password:     password,
		ScreenWidth:  localWidth,
		ScreenHeight: localHeight,
		ColorDepth:   24,
		Compression:  CompressionRLE,
		VersionMajor: ProtocolVersionMajor,
		VersionMinor: ProtocolVersionMinor,
	}

	f := frame.PeerFrame{Kind: byte(MsgHandshake), Payload: encodeHandshake(req)}
	if err := frame.WritePeerFrame(c, f, frame.DefaultControlIdle, nil); err != nil {
		return HandshakePayload{}, err
	}

	resp, err := frame.ReadPeerFrame(c, frame.DefaultMaxPeerPayload, frame.DefaultControlIdle, nil)
	if err != nil {
		if cerrors.IsKind(err, cerrors.ConnectionClosed) || cerrors.IsKind(err, cerrors.ConnectionLost) {
			return HandshakePayload{}, cerrors.ErrAuthFailed
		}
		return HandshakePayload{}, err
	}
	if MessageKind(resp.Kind) != MsgHandshakeAck {
		return HandshakePayload{}, cerrors.ErrAuthFailed
	}
	ack, err := decodeHandshake(resp.Payload)
	if err != nil {
		return HandshakePayload{}, cerrors.ErrAuthFailed
	}
	if ack.Magic != HandshakeMagic {
		return HandshakePayload{}, cerrors.ErrAuthFailed
	}
	return ack, nil
}

// DoHostHandshake waits for MSG_HANDSHAKE from the controller, validates
// the magic and password against expectedPassword, and replies with
// MSG_HANDSHAKE_ACK on success. On failure it sends no reply and returns
// an error without closing c; closing the connection is left to the
// caller. Any non-handshake message received while handshaking is itself
// a failure (no reply, no disclosure).
func DoHostHandshake(c frame.Conn, ownID uint32, expectedPassword string, localWidth, localHeight uint16) (HandshakePayload, error) {
	req, err := frame.ReadPeerFrame(c, frame.DefaultMaxPeerPayload, frame.DefaultControlIdle, nil)
	if err != nil {
		return HandshakePayload{}, err
	}
	if MessageKind(req.Kind) != MsgHandshake {
		return HandshakePayload{}, cerrors.New(cerrors.Protocol, "expected handshake, got other message while handshaking")
	}
	hs, err := decodeHandshake(req.Payload)
	if err != nil {
		return HandshakePayload{}, cerrors.ErrAuthFailed
	}
	if hs.Magic != HandshakeMagic || !passwordMatches(hs.Password, expectedPassword) {
		return HandshakePayload{}, cerrors.ErrAuthFailed
	}

	ack := HandshakePayload{
		Magic:        HandshakeMagic,
		OwnID:        ownID,
		Password:     "",
		ScreenWidth:  localWidth,
		ScreenHeight: localHeight,
		ColorDepth:   24,
		Compression:  CompressionRLE,
		VersionMajor: ProtocolVersionMajor,
		VersionMinor: ProtocolVersionMinor,
	}
	f := frame.PeerFrame{Kind: byte(MsgHandshakeAck), Payload: encodeHandshake(ack)}
	if err := frame.WritePeerFrame(c, f, frame.DefaultControlIdle, nil); err != nil {
		return HandshakePayload{}, err
	}
	return hs, nil
}

// passwordMatches compares two numeric password strings by their integer
// value so "012345" and "12345" are treated identically, matching
// spec.md's "compared as numeric value" rule for host-configured custom
// strings.
func passwordMatches(got, want string) bool {
	if got == want {
		return true
	}
	gi, gok := parseNumeric(got)
	wi, wok := parseNumeric(want)
	return gok && wok && gi == wi
}

func parseNumeric(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	var v uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		v = v*10 + uint64(r-'0')
	}
	return v, true
}

// RandomPassword generates a random 5-digit numeric password string, used
// when the host has not configured a custom password (§4.4, §6).
func RandomPassword(randUint32 func() uint32) string {
	n := randUint32() % 90000
	n += 10000
	return padDigits(n, 5)
}

func padDigits(n uint32, width int) string {
	s := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		s[i] = byte('0' + n%10)
		n /= 10
	}
	return string(s)
}
