// Package session implements the peer session state machine (C4): the
// handshake, typed-message dispatch, input/clipboard relay, and file and
// folder transfer protocols that ride on top of internal/frame's
// peer-frame codec.
package session

import (
	"sync"
	"time"
)

// MessageKind is the peer-frame Kind byte identifying a typed message.
type MessageKind byte

const (
	MsgHandshake    MessageKind = 1
	MsgHandshakeAck MessageKind = 2

	MsgScreenUpdate  MessageKind = 3
	MsgFullScreenReq MessageKind = 4

	MsgMouseEvent    MessageKind = 5
	MsgKeyboardEvent MessageKind = 6

	MsgClipboardText  MessageKind = 7
	MsgClipboardFiles MessageKind = 8
	MsgClipboardReq   MessageKind = 9

	MsgFileReq   MessageKind = 10
	MsgFileStart MessageKind = 11
	MsgFileData  MessageKind = 12
	MsgFileEnd   MessageKind = 13
	MsgFileAck   MessageKind = 14
	MsgFileNone  MessageKind = 15

	MsgFolderStart MessageKind = 16
	MsgFolderEntry MessageKind = 17
	MsgFolderEnd   MessageKind = 18

	MsgPing       MessageKind = 19
	MsgPong       MessageKind = 20
	MsgDisconnect MessageKind = 21
)

// HandshakeMagic is the fixed protocol magic ("RD2K" as a little-endian
// u32), required verbatim in every MSG_HANDSHAKE.
const HandshakeMagic uint32 = 0x4B324452

// ProtocolVersionMajor and ProtocolVersionMinor are the version fields
// this implementation advertises and accepts.
const (
	ProtocolVersionMajor = 1
	ProtocolVersionMinor = 0
)

// Role distinguishes which end of a session this process plays.
type Role int

const (
	RoleController Role = iota
	RoleHost
)

// Phase is the peer session state machine's current state.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseListening
	PhaseConnecting
	PhaseHandshaking
	PhaseConnected
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseListening:
		return "listening"
	case PhaseConnecting:
		return "connecting"
	case PhaseHandshaking:
		return "handshaking"
	case PhaseConnected:
		return "connected"
	case PhaseClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// CompressionKind is the screen-delta compression scheme advertised during
// handshake. RLE is the only one this protocol revision defines.
type CompressionKind byte

const (
	CompressionRLE CompressionKind = 0
)

// ScreenInfo describes one side's advertised screen geometry.
type ScreenInfo struct {
	Width       uint16
	Height      uint16
	BPP         uint8
	Compression CompressionKind
}

// FlowControlCounters tracks sender-side pacing bookkeeping for bulk
// transfer (§4.4 "Flow control").
type FlowControlCounters struct {
	mu             sync.Mutex
	ChunksSent     uint32
	BytesSent      uint64
	LastThrottleAt time.Time
}

func (f *FlowControlCounters) recordChunk(n int) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ChunksSent++
	f.BytesSent += uint64(n)
	return f.ChunksSent
}

// InputEvent is either a mouse or keyboard event queued for host-side
// injection, in network arrival order.
type InputEvent struct {
	IsKeyboard bool
	Mouse      MouseEvent
	Keyboard   KeyboardEvent
}

// MouseButton identifies which mouse button a MouseEvent concerns.
type MouseButton byte

const (
	MouseButtonNone MouseButton = iota
	MouseButtonLeft
	MouseButtonRight
	MouseButtonMiddle
)

// MouseEventType distinguishes the mouse action carried by a MouseEvent.
type MouseEventType byte

const (
	MouseMove MouseEventType = iota
	MouseButtonDown
	MouseButtonUp
	MouseWheel
)

// MouseEvent is the fixed-size controller→host mouse payload.
type MouseEvent struct {
	Type        MouseEventType
	X, Y        uint16 // absolute coordinates
	Button      MouseButton
	WheelDelta  int16
}

// KeyboardEvent is the fixed-size controller→host keyboard payload.
type KeyboardEvent struct {
	VirtualKey uint8
	ScanCode   uint8
	Down       bool
	Extended   bool
}
