package session

import (
	"encoding/binary"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
)

// ChunkSize is the protocol-fixed chunk size; changing it breaks
// interoperability with an unmodified remote peer (§6 chunkSize).
const ChunkSize = 32 * 1024

// MaxFileSize is the default ceiling for a single file transfer (100 GiB).
const MaxFileSize = 100 * 1024 * 1024 * 1024

// TransferMode identifies what a transfer context is currently doing.
type TransferMode int

const (
	TransferIdle TransferMode = iota
	TransferSendingFile
	TransferReceivingFile
	TransferSendingFolder
	TransferReceivingFolder
)

// TransferContext is the at-most-one-in-progress file/folder transfer
// state a session holds, per spec.md §3.
type TransferContext struct {
	// TransferID correlates every log line for one
	// transfer attempt, since a session may run several transfers in
	// sequence and their chunks otherwise look identical in the log.
	TransferID           string
	Mode                 TransferMode
	TotalBytes           uint64
	TransferredBytes     uint64
	ChunkIndex           uint32
	TotalChunks          uint32
	RootName             string
	DestinationFolder    string
	File                 *os.File
	CancelRequested      bool
}

// DestinationResolver implements the receiver-side destination-folder
// priority order from spec.md §4.4 "Destination selection": an explicit
// path, else a remembered folder, else the platform desktop, else the
// drive root. Platform adapters (out of core scope) supply concrete
// answers; the core only enforces the priority and the existence check.
type DestinationResolver interface {
	ExplicitPath() (string, bool)
	RememberedFolder() (string, bool)
	DesktopPath() (string, bool)
	DriveRoot() (string, bool)
}

// ResolveDestination applies the §4.4 priority order and verifies the
// chosen path exists as a directory.
func ResolveDestination(r DestinationResolver, statDir func(string) bool) (string, error) {
	candidates := make([]string, 0, 4)
	if p, ok := r.ExplicitPath(); ok {
		candidates = append(candidates, p)
	}
	if p, ok := r.RememberedFolder(); ok {
		candidates = append(candidates, p)
	}
	if p, ok := r.DesktopPath(); ok {
		candidates = append(candidates, p)
	}
	if p, ok := r.DriveRoot(); ok {
		candidates = append(candidates, p)
	}
	for _, c := range candidates {
		if statDir(c) {
			return c, nil
		}
	}
	return "", cerrors.New(cerrors.NotFound, "no valid destination folder available")
}

// ValidateFileName enforces the §4.4 "Filename safety" rule: a pure base
// name with no path separators, no "..", and non-empty.
func ValidateFileName(name string) error {
	if name == "" {
		return cerrors.New(cerrors.Protocol, "empty filename")
	}
	if strings.ContainsAny(name, `\/`) {
		return cerrors.New(cerrors.Protocol, "filename must not contain path separators")
	}
	if strings.Contains(name, "..") {
		return cerrors.New(cerrors.Protocol, "filename must not contain ..")
	}
	return nil
}

// ValidateRelativePath enforces the folder-transfer path-traversal guard
// from spec.md §4.4: the normalized relative path must stay within the
// destination root.
func ValidateRelativePath(destRoot, relativePath string) (string, error) {
	if relativePath == "" {
		return "", cerrors.New(cerrors.Protocol, "empty folder entry path")
	}
	cleaned := filepath.Clean(relativePath)
	full := filepath.Join(destRoot, cleaned)
	rel, err := filepath.Rel(destRoot, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", cerrors.New(cerrors.Protocol, "folder entry escapes destination root")
	}
	return full, nil
}

// --- MSG_FILE_START / MSG_FILE_DATA / MSG_FILE_END wire encoding ---

// FileStart is the MSG_FILE_START payload.
type FileStart struct {
	FileName    string
	TotalBytes  uint64
	TotalChunks uint32
}

func EncodeFileStart(f FileStart) []byte {
	nameBytes := []byte(f.FileName)
	buf := make([]byte, 2+len(nameBytes)+8+4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(nameBytes)))
	off := 2
	copy(buf[off:off+len(nameBytes)], nameBytes)
	off += len(nameBytes)
	binary.LittleEndian.PutUint64(buf[off:off+8], f.TotalBytes)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], f.TotalChunks)
	return buf
}

func DecodeFileStart(buf []byte) (FileStart, error) {
	if len(buf) < 2 {
		return FileStart{}, cerrors.New(cerrors.Protocol, "truncated file start")
	}
	nameLen := int(binary.LittleEndian.Uint16(buf[0:2]))
	need := 2 + nameLen + 8 + 4
	if len(buf) != need {
		return FileStart{}, cerrors.New(cerrors.Protocol, "malformed file start")
	}
	name := string(buf[2 : 2+nameLen])
	off := 2 + nameLen
	total := binary.LittleEndian.Uint64(buf[off : off+8])
	chunks := binary.LittleEndian.Uint32(buf[off+8 : off+12])
	return FileStart{FileName: name, TotalBytes: total, TotalChunks: chunks}, nil
}

// FileData is the MSG_FILE_DATA payload: {chunkIndex u32, data}.
type FileData struct {
	ChunkIndex uint32
	Data       []byte
}

func EncodeFileData(d FileData) []byte {
	buf := make([]byte, 4+len(d.Data))
	binary.LittleEndian.PutUint32(buf[0:4], d.ChunkIndex)
	copy(buf[4:], d.Data)
	return buf
}

func DecodeFileData(buf []byte) (FileData, error) {
	if len(buf) < 4 {
		return FileData{}, cerrors.New(cerrors.Protocol, "truncated file data chunk")
	}
	return FileData{
		ChunkIndex: binary.LittleEndian.Uint32(buf[0:4]),
		Data:       buf[4:],
	}, nil
}

// TotalChunks computes ceil(size/ChunkSize).
func TotalChunks(size uint64) uint32 {
	if size == 0 {
		return 0
	}
	return uint32((size + ChunkSize - 1) / ChunkSize)
}

// --- sender-side adaptive throttle (§4.4 "Flow control") ---

const (
	sizeBucketLarge  = 100 * 1024 * 1024
	sizeBucketMedium = 10 * 1024 * 1024
)

// throttleBucket returns the per-chunk-group sleep interval, the number
// of chunks per group, and the post-final-chunk drain wait for a
// transfer of the given total size.
func throttleBucket(totalSize uint64) (sleep time.Duration, every int, drain time.Duration) {
	switch {
	case totalSize > sizeBucketLarge:
		return 30 * time.Millisecond, 4, 500 * time.Millisecond
	case totalSize > sizeBucketMedium:
		return 20 * time.Millisecond, 8, 200 * time.Millisecond
	default:
		return 5 * time.Millisecond, 16, 100 * time.Millisecond
	}
}

// SendThrottle paces an outbound chunk stream using a token-bucket
// limiter sized from the same latency hints spec.md names, rather than
// bare time.Sleep calls — still only a pacing hint, not a correctness
// requirement (an unmodified remote peer interoperates either way).
type SendThrottle struct {
	limiter *rate.Limiter
	every   int
	drain   time.Duration
	count   int
}

// NewSendThrottle builds a throttle sized for a transfer of totalSize
// bytes.
func NewSendThrottle(totalSize uint64) *SendThrottle {
	sleep, every, drain := throttleBucket(totalSize)
	// One token refills every `sleep` interval, burst of 1: this lands on
	// "sleep `sleep` every `every` chunks" by only consuming a token every
	// `every`-th chunk in AfterChunk below.
	var rl *rate.Limiter
	if sleep > 0 {
		rl = rate.NewLimiter(rate.Every(sleep), 1)
	}
	return &SendThrottle{limiter: rl, every: every, drain: drain}
}

// AfterChunk is called once per chunk sent; every `every` chunks it waits
// on the limiter.
func (t *SendThrottle) AfterChunk() {
	t.count++
	if t.limiter == nil || t.every <= 0 {
		return
	}
	if t.count%t.every == 0 {
		_ = t.limiter.Wait(noDeadlineCtx{})
	}
}

// Drain waits the post-final-chunk interval for this size bucket.
func (t *SendThrottle) Drain() {
	if t.drain > 0 {
		time.Sleep(t.drain)
	}
}

// noDeadlineCtx is a minimal context.Context substitute so rate.Limiter's
// Wait never needs a real deadline for this best-effort pacing; Wait only
// blocks until the limiter itself is ready.
type noDeadlineCtx struct{}

func (noDeadlineCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (noDeadlineCtx) Done() <-chan struct{}        { return nil }
func (noDeadlineCtx) Err() error                   { return nil }
func (noDeadlineCtx) Value(key any) any            { return nil }

// --- retry policy for transient send failures ---

// retryBackoffs is the linear 100/200/300ms backoff schedule for up to
// three retries of a transient chunk send failure.
var retryBackoffs = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}

// SendWithRetry invokes send up to len(retryBackoffs)+1 times, sleeping
// the linear backoff between attempts, and returns the last error if all
// attempts fail.
func SendWithRetry(send func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = send()
		if err == nil {
			return nil
		}
		if attempt >= len(retryBackoffs) {
			return err
		}
		time.Sleep(retryBackoffs[attempt])
	}
}

// SendFile drives the full outbound chunking protocol for a single file:
// MSG_FILE_START, then ChunkSize-sized MSG_FILE_DATA frames (throttled),
// then MSG_FILE_END. reader supplies the file bytes; size must match what
// reader will yield. cancel is polled between chunks.
func SendFile(w *PeerWriter, reader io.Reader, fileName string, size uint64, cancel func() bool) error {
	if size > MaxFileSize {
		return cerrors.ErrFileTooLarge
	}

	transferID := uuid.NewString()
	start := FileStart{FileName: fileName, TotalBytes: size, TotalChunks: TotalChunks(size)}
	if err := w.WriteFrame(frame.PeerFrame{Kind: byte(MsgFileStart), Payload: EncodeFileStart(start)}); err != nil {
		return err
	}
	log.Printf("📤 [%s] sending %q (%d bytes, %d chunks)", transferID, fileName, size, start.TotalChunks)

	throttle := NewSendThrottle(size)
	buf := make([]byte, ChunkSize)
	var sent uint64
	var idx uint32

	for sent < size {
		if cancel != nil && cancel() {
			return cerrors.ErrCancelled
		}
		n, err := io.ReadFull(reader, buf)
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			// Final, short chunk.
		} else if err != nil {
			return cerrors.Wrap(cerrors.ReadError, "reading file for transfer", err)
		}
		chunk := append([]byte(nil), buf[:n]...)
		sendErr := SendWithRetry(func() error {
			return w.WriteFrame(frame.PeerFrame{
				Kind:    byte(MsgFileData),
				Payload: EncodeFileData(FileData{ChunkIndex: idx, Data: chunk}),
			})
		})
		if sendErr != nil {
			return sendErr
		}
		sent += uint64(n)
		idx++
		throttle.AfterChunk()
	}

	throttle.Drain()
	log.Printf("✅ [%s] sent %q", transferID, fileName)
	return w.WriteFrame(frame.PeerFrame{Kind: byte(MsgFileEnd)})
}

// FileReceiver assembles an inbound single-file transfer, one
// MSG_FILE_DATA frame at a time, enforcing filename safety and cleaning
// up on any failure or cancellation.
type FileReceiver struct {
	ctx  TransferContext
	file *os.File
	path string
}

// BeginFileReceive validates the filename, resolves destPath/filename as
// the on-disk target, and creates the file for writing.
func BeginFileReceive(destDir string, start FileStart) (*FileReceiver, error) {
	if err := ValidateFileName(start.FileName); err != nil {
		return nil, err
	}
	if start.TotalBytes > MaxFileSize {
		return nil, cerrors.ErrFileTooLarge
	}
	path := filepath.Join(destDir, start.FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.CreateError, "creating destination file", err)
	}
	transferID := uuid.NewString()
	log.Printf("📥 [%s] receiving %q (%d bytes, %d chunks)", transferID, start.FileName, start.TotalBytes, start.TotalChunks)
	return &FileReceiver{
		ctx: TransferContext{
			TransferID:  transferID,
			Mode:        TransferReceivingFile,
			TotalBytes:  start.TotalBytes,
			TotalChunks: start.TotalChunks,
			RootName:    start.FileName,
		},
		file: f,
		path: path,
	}, nil
}

// WriteChunk appends one MSG_FILE_DATA chunk's bytes to the file. On a
// write error it deletes the partial file and returns a WriteError.
func (r *FileReceiver) WriteChunk(d FileData) error {
	if r.ctx.CancelRequested {
		return nil // further data is dropped until MSG_FILE_END, per §4.4 Cancellation
	}
	if _, err := r.file.Write(d.Data); err != nil {
		r.abort()
		return cerrors.Wrap(cerrors.WriteError, "writing transferred chunk", err)
	}
	r.ctx.TransferredBytes += uint64(len(d.Data))
	r.ctx.ChunkIndex++
	return nil
}

// Cancel marks the transfer cancelled; further WriteChunk calls become
// no-ops until Finish deletes the partial file.
func (r *FileReceiver) Cancel() {
	r.ctx.CancelRequested = true
}

// Finish closes the file. If the transfer was cancelled it deletes the
// partial file instead of keeping it, per §4.4 Cancellation.
func (r *FileReceiver) Finish() error {
	if r.ctx.CancelRequested {
		r.abort()
		return cerrors.ErrCancelled
	}
	if err := r.file.Close(); err != nil {
		return cerrors.Wrap(cerrors.WriteError, "closing transferred file", err)
	}
	log.Printf("✅ [%s] received %q", r.ctx.TransferID, r.ctx.RootName)
	return nil
}

func (r *FileReceiver) abort() {
	r.file.Close()
	os.Remove(r.path)
}
