// Package frame implements the peer-frame and relay-frame wire formats
// (C2): fixed headers, a rolling checksum over the payload, and the
// exact-read/exact-write I/O contract both session and relay code share.
package frame

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
)

// Checksum computes the payload checksum recurrence from spec.md §3:
// h = ((h<<5)+h) + byte, seed 0. An empty payload checksums to 0.
func Checksum(payload []byte) uint32 {
	var h uint32
	for _, b := range payload {
		h = (h<<5)+h+uint32(b)
	}
	return h
}

// Conn is the minimal surface exactio needs: a byte stream with
// deadline support. net.Conn satisfies it directly.
type Conn interface {
	io.Reader
	io.Writer
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// CancelFunc reports whether a cooperative cancel has been requested.
// Both the send loop and the receive loop check it between chunks.
type CancelFunc func() bool

func neverCancelled() bool { return false }

// ReadExact fills buf completely, tolerating TCP fragmentation and
// spurious wakeups. idleTimeout bounds how long the read may go without
// making any progress; exceeding it without partial progress yields
// cerrors.ErrTimeout. EOF with zero bytes read yields
// cerrors.ErrConnectionClosed. Any other I/O error yields
// cerrors.ErrConnectionLost. A true return from cancel yields
// cerrors.ErrCancelled.
func ReadExact(c Conn, buf []byte, idleTimeout time.Duration, cancel CancelFunc) error {
	if cancel == nil {
		cancel = neverCancelled
	}
	total := 0
	for total < len(buf) {
		if cancel() {
			return cerrors.ErrCancelled
		}
		if idleTimeout > 0 {
			if err := c.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
				return cerrors.Wrap(cerrors.ConnectionLost, "set read deadline", err)
			}
		}
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			if n > 0 {
				// Progress was made even though this call also errored;
				// loop again so the deadline is refreshed on next Read.
				continue
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return cerrors.ErrTimeout
			}
			if errors.Is(err, io.EOF) {
				return cerrors.ErrConnectionClosed
			}
			return cerrors.Wrap(cerrors.ConnectionLost, "read", err)
		}
	}
	return nil
}

// WriteExact writes buf completely, looping on short writes. It is
// cancellable between internal write attempts via cancel.
func WriteExact(c Conn, buf []byte, writeTimeout time.Duration, cancel CancelFunc) error {
	if cancel == nil {
		cancel = neverCancelled
	}
	total := 0
	for total < len(buf) {
		if cancel() {
			return cerrors.ErrCancelled
		}
		if writeTimeout > 0 {
			if err := c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return cerrors.Wrap(cerrors.ConnectionLost, "set write deadline", err)
			}
		}
		n, err := c.Write(buf[total:])
		total += n
		if err != nil {
			return cerrors.Wrap(cerrors.ConnectionLost, "write", err)
		}
	}
	return nil
}
