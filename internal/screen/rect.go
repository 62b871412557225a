package screen

import (
	"encoding/binary"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
)

// Encoding identifies how a rectangle's pixel data is encoded on the wire.
type Encoding byte

const (
	EncodingNone Encoding = 0
	EncodingRLE  Encoding = 1
)

// RectHeaderSize is the fixed per-rectangle wire header: x,y,w,h (4×u16),
// encoding (u8), reserved (u8), dataSize (u32) = 14 bytes.
const RectHeaderSize = 14

// RectMessage is one {header, data} pair as carried by a single
// MSG_SCREEN_UPDATE peer message.
type RectMessage struct {
	Rect     Rect
	Encoding Encoding
	Data     []byte // raw RGB24 bytes if EncodingNone, RLE stream if EncodingRLE
}

// EncodeRect serializes a rectangle plus its (already encoded) payload
// bytes into the wire layout from spec.md §4.3.
func EncodeRect(m RectMessage) []byte {
	out := make([]byte, RectHeaderSize+len(m.Data))
	binary.LittleEndian.PutUint16(out[0:2], uint16(m.Rect.X))
	binary.LittleEndian.PutUint16(out[2:4], uint16(m.Rect.Y))
	binary.LittleEndian.PutUint16(out[4:6], uint16(m.Rect.W))
	binary.LittleEndian.PutUint16(out[6:8], uint16(m.Rect.H))
	out[8] = byte(m.Encoding)
	out[9] = 0 // reserved
	binary.LittleEndian.PutUint32(out[10:14], uint32(len(m.Data)))
	copy(out[RectHeaderSize:], m.Data)
	return out
}

// DecodeRect parses one {header, data} pair from buf, returning the
// message and the number of bytes consumed.
func DecodeRect(buf []byte) (RectMessage, int, error) {
	if len(buf) < RectHeaderSize {
		return RectMessage{}, 0, cerrors.New(cerrors.Protocol, "truncated rect header")
	}
	x := binary.LittleEndian.Uint16(buf[0:2])
	y := binary.LittleEndian.Uint16(buf[2:4])
	w := binary.LittleEndian.Uint16(buf[4:6])
	h := binary.LittleEndian.Uint16(buf[6:8])
	enc := Encoding(buf[8])
	dataSize := binary.LittleEndian.Uint32(buf[10:14])

	consumed := RectHeaderSize + int(dataSize)
	if consumed > len(buf) {
		return RectMessage{}, 0, cerrors.New(cerrors.Protocol, "truncated rect data")
	}

	data := buf[RectHeaderSize:consumed]
	return RectMessage{
		Rect:     Rect{X: int(x), Y: int(y), W: int(w), H: int(h)},
		Encoding: enc,
		Data:     data,
	}, consumed, nil
}

// ClampToScreen reports whether r fits entirely within a screenW×screenH
// frame. Receivers must drop (not clamp-and-keep) any rectangle that
// fails this check, per spec.md §4.3.
func ClampToScreen(r Rect, screenW, screenH int) bool {
	if r.X < 0 || r.Y < 0 || r.W <= 0 || r.H <= 0 {
		return false
	}
	return r.X+r.W <= screenW && r.Y+r.H <= screenH
}

// DecodePixels expands a RectMessage's Data into raw RGB24 bytes of
// exactly w*h*3 bytes, returning a Protocol error if the encoded stream
// does not produce the expected length (truncated RLE run, for example).
func DecodePixels(m RectMessage) ([]byte, error) {
	expected := m.Rect.W * m.Rect.H * 3
	switch m.Encoding {
	case EncodingNone:
		if len(m.Data) != expected {
			return nil, cerrors.New(cerrors.Protocol, "raw rect data length mismatch")
		}
		return m.Data, nil
	case EncodingRLE:
		out := make([]byte, expected)
		n := Decompress(m.Data, out)
		if n != expected {
			return nil, cerrors.New(cerrors.Protocol, "truncated rle rect data")
		}
		return out, nil
	default:
		return nil, cerrors.New(cerrors.Protocol, "unknown rect encoding")
	}
}
