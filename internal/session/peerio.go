package session

import (
	"sync"
	"time"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
)

// PeerWriter serializes outbound peer frames onto a single frame.Conn.
// The session's dispatch loop is the only reader, but screen updates,
// input echoes, and bulk-transfer chunks can all originate from
// different goroutines (capture loop, injection worker, transfer
// sender), so every write goes through this single mutex-guarded point,
// matching the teacher's one-writer-goroutine convention without
// actually forcing everything onto one goroutine.
type PeerWriter struct {
	mu     sync.Mutex
	conn   frame.Conn
	idle   time.Duration
	cancel frame.CancelFunc
}

// NewPeerWriter wraps c for serialized writes using writeTimeout as the
// per-write idle deadline.
func NewPeerWriter(c frame.Conn, writeTimeout time.Duration, cancel frame.CancelFunc) *PeerWriter {
	return &PeerWriter{conn: c, idle: writeTimeout, cancel: cancel}
}

// WriteFrame writes one frame atomically with respect to other WriteFrame
// callers.
func (w *PeerWriter) WriteFrame(f frame.PeerFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return frame.WritePeerFrame(w.conn, f, w.idle, w.cancel)
}

// PeerReader is a thin, single-goroutine wrapper around ReadPeerFrame;
// the protocol only ever has one reader per connection, so it needs no
// locking.
type PeerReader struct {
	conn       frame.Conn
	maxPayload int
	idle       time.Duration
	cancel     frame.CancelFunc
}

// NewPeerReader wraps c for sequential frame reads.
func NewPeerReader(c frame.Conn, maxPayload int, idleTimeout time.Duration, cancel frame.CancelFunc) *PeerReader {
	return &PeerReader{conn: c, maxPayload: maxPayload, idle: idleTimeout, cancel: cancel}
}

// ReadFrame reads the next peer frame.
func (r *PeerReader) ReadFrame() (frame.PeerFrame, error) {
	return frame.ReadPeerFrame(r.conn, r.maxPayload, r.idle, r.cancel)
}
