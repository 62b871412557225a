package frame

import (
	"encoding/binary"
	"time"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
)

// PeerHeaderSize is the fixed 12-byte peer-frame header length.
const PeerHeaderSize = 12

// DefaultMaxPeerPayload is the default receive-buffer ceiling for a
// single peer-frame payload (4 MiB).
const DefaultMaxPeerPayload = 4 << 20

// DefaultControlIdle and DefaultBulkIdle are the two idle-deadline
// buckets named in spec.md §5: 5s for control frames, 60s for bulk
// transfer frames (large file/folder chunks).
const (
	DefaultControlIdle = 5 * time.Second
	DefaultBulkIdle    = 60 * time.Second
)

// PeerFrame is the in-memory form of the 12-byte-header peer wire frame.
type PeerFrame struct {
	Kind    byte
	Flags   byte
	Payload []byte
}

// WritePeerFrame writes a header followed by payload with the exact-write
// contract. The checksum is computed and filled in automatically.
func WritePeerFrame(c Conn, f PeerFrame, writeTimeout time.Duration, cancel CancelFunc) error {
	header := make([]byte, PeerHeaderSize)
	header[0] = f.Kind
	header[1] = f.Flags
	binary.LittleEndian.PutUint16(header[2:4], 0)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(f.Payload)))
	binary.LittleEndian.PutUint32(header[8:12], Checksum(f.Payload))

	if err := WriteExact(c, header, writeTimeout, cancel); err != nil {
		return err
	}
	if len(f.Payload) == 0 {
		return nil
	}
	return WriteExact(c, f.Payload, writeTimeout, cancel)
}

// ReadPeerFrame reads one full peer frame, validating payloadLength against
// maxPayload and the checksum against the received payload.
func ReadPeerFrame(c Conn, maxPayload int, idleTimeout time.Duration, cancel CancelFunc) (PeerFrame, error) {
	header := make([]byte, PeerHeaderSize)
	if err := ReadExact(c, header, idleTimeout, cancel); err != nil {
		return PeerFrame{}, err
	}

	kind := header[0]
	flags := header[1]
	length := binary.LittleEndian.Uint32(header[4:8])
	checksum := binary.LittleEndian.Uint32(header[8:12])

	if maxPayload > 0 && length > uint32(maxPayload) {
		return PeerFrame{}, cerrors.New(cerrors.Protocol, "peer frame payload exceeds maximum")
	}

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		if err := ReadExact(c, payload, idleTimeout, cancel); err != nil {
			return PeerFrame{}, err
		}
	}

	if Checksum(payload) != checksum {
		return PeerFrame{}, cerrors.New(cerrors.Protocol, "peer frame checksum mismatch")
	}

	return PeerFrame{Kind: kind, Flags: flags, Payload: payload}, nil
}
