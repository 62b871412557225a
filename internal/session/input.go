package session

import (
	"encoding/binary"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
)

// mouseEventSize and keyboardEventSize are the fixed wire payload sizes
// for MSG_MOUSE_EVENT and MSG_KEYBOARD_EVENT.
const (
	mouseEventSize    = 1 + 2 + 2 + 1 + 2
	keyboardEventSize = 1 + 1 + 1 + 1
)

// EncodeMouseEvent serializes a MouseEvent to its fixed-size wire form.
func EncodeMouseEvent(e MouseEvent) []byte {
	buf := make([]byte, mouseEventSize)
	buf[0] = byte(e.Type)
	binary.LittleEndian.PutUint16(buf[1:3], e.X)
	binary.LittleEndian.PutUint16(buf[3:5], e.Y)
	buf[5] = byte(e.Button)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(e.WheelDelta))
	return buf
}

// DecodeMouseEvent parses a MSG_MOUSE_EVENT payload.
func DecodeMouseEvent(buf []byte) (MouseEvent, error) {
	if len(buf) != mouseEventSize {
		return MouseEvent{}, cerrors.New(cerrors.Protocol, "malformed mouse event")
	}
	return MouseEvent{
		Type:       MouseEventType(buf[0]),
		X:          binary.LittleEndian.Uint16(buf[1:3]),
		Y:          binary.LittleEndian.Uint16(buf[3:5]),
		Button:     MouseButton(buf[5]),
		WheelDelta: int16(binary.LittleEndian.Uint16(buf[6:8])),
	}, nil
}

// EncodeKeyboardEvent serializes a KeyboardEvent to its fixed-size wire
// form.
func EncodeKeyboardEvent(e KeyboardEvent) []byte {
	buf := make([]byte, keyboardEventSize)
	buf[0] = e.VirtualKey
	buf[1] = e.ScanCode
	buf[2] = boolByte(e.Down)
	buf[3] = boolByte(e.Extended)
	return buf
}

// DecodeKeyboardEvent parses a MSG_KEYBOARD_EVENT payload.
func DecodeKeyboardEvent(buf []byte) (KeyboardEvent, error) {
	if len(buf) != keyboardEventSize {
		return KeyboardEvent{}, cerrors.New(cerrors.Protocol, "malformed keyboard event")
	}
	return KeyboardEvent{
		VirtualKey: buf[0],
		ScanCode:   buf[1],
		Down:       buf[2] != 0,
		Extended:   buf[3] != 0,
	}, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// ClampMouseCoords clamps an out-of-bounds mouse coordinate into
// [0,width-1]x[0,height-1] rather than dropping the event, per spec.md's
// "Input event with out-of-bounds coordinates → clamp to screen; never
// drop the session" rule.
func ClampMouseCoords(x, y, width, height uint16) (uint16, uint16) {
	if width > 0 && x >= width {
		x = width - 1
	}
	if height > 0 && y >= height {
		y = height - 1
	}
	return x, y
}

// InputQueueCapacity is the bounded size of the host-side input-injection
// queue (§4.4, §5): the network reader is a single producer, the
// injection worker a single consumer, and the queue drops the oldest
// entry on overflow rather than blocking the reader.
const InputQueueCapacity = 256

// InputQueue decouples the network reader from (possibly blocking) OS
// input-injection calls. Push never blocks; on a full queue it discards
// the oldest pending event, preserving the relative order of mouse vs.
// keyboard events for everything that is kept.
type InputQueue struct {
	ch chan InputEvent
}

// NewInputQueue creates an InputQueue with the standard capacity.
func NewInputQueue() *InputQueue {
	return &InputQueue{ch: make(chan InputEvent, InputQueueCapacity)}
}

// Push enqueues ev, dropping the oldest queued event first if full.
func (q *InputQueue) Push(ev InputEvent) {
	for {
		select {
		case q.ch <- ev:
			return
		default:
			select {
			case <-q.ch:
			default:
			}
		}
	}
}

// Events exposes the consumer-side channel for the injection worker to
// range over.
func (q *InputQueue) Events() <-chan InputEvent {
	return q.ch
}

// Close signals the injection worker to stop once drained.
func (q *InputQueue) Close() {
	close(q.ch)
}
