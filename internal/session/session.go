package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/screen"
)

// ScreenSource is the host-side capture hook: GrabFrame returns the
// current RGB24 framebuffer, its stride, and dimensions. A real
// implementation backs this with a platform-specific capture API; core
// code only needs the byte buffer.
type ScreenSource interface {
	GrabFrame() (pixels []byte, width, height, stride int, err error)
}

// InputSink is the host-side injection hook: the dispatch loop calls it
// directly, on its own goroutine, for every decoded mouse/keyboard event.
// The same events are also pushed onto the session's InputQueue, which
// nothing inside Session drains.
type InputSink interface {
	InjectMouse(MouseEvent)
	InjectKeyboard(KeyboardEvent)
}

// ClipboardSink receives decoded clipboard updates from the remote peer.
type ClipboardSink interface {
	SetClipboardText(string)
	NoteClipboardFiles([]string)
}

// LocalClipboardProvider supplies this session's own platform clipboard
// state in reply to MSG_CLIPBOARD_REQ and MSG_FILE_REQ. isFile reports
// whether paths (rather than text) is the live clipboard content.
type LocalClipboardProvider interface {
	CurrentClipboard() (text string, paths []string, isFile bool)
}

// TransferSink exposes the destination-folder resolution and progress
// reporting a session needs for inbound file/folder transfers.
type TransferSink interface {
	DestinationResolver
	OnTransferProgress(received, total uint64)
}

// Events is the set of callbacks a Session reports observable state
// changes through; every field may be nil.
type Events struct {
	OnPhaseChange func(Phase)
	OnError       func(error)
}

// Session is the peer session state machine (C4): it owns one
// frame.Conn, runs the handshake, then a single reader goroutine
// dispatching typed messages while callers push outbound messages
// through its PeerWriter.
type Session struct {
	role   Role
	conn   frame.Conn
	writer *PeerWriter
	reader *PeerReader

	mu    sync.Mutex
	phase Phase

	peer ScreenInfo

	inputQueue *InputQueue
	inputSink  InputSink
	clipSink   ClipboardSink
	clipSrc    LocalClipboardProvider
	xferSink   TransferSink
	screenSrc  ScreenSource

	fileRecv   *FileReceiver
	folderRecv *FolderReceiver

	forceFullFrame bool
	fullFrameReq   chan struct{}

	events Events

	cancelCtx context.Context
	cancel    context.CancelFunc
}

// Config bundles the dependencies a Session needs at construction.
type Config struct {
	Role      Role
	InputSink InputSink
	ClipSink  ClipboardSink
	ClipSrc   LocalClipboardProvider
	XferSink  TransferSink
	ScreenSrc ScreenSource
	Events    Events
}

// New wraps conn (already connected, not yet handshaken) in a Session.
func New(conn frame.Conn, cfg Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		role:         cfg.Role,
		conn:         conn,
		phase:        PhaseDisconnected,
		inputQueue:   NewInputQueue(),
		inputSink:    cfg.InputSink,
		clipSink:     cfg.ClipSink,
		clipSrc:      cfg.ClipSrc,
		xferSink:     cfg.XferSink,
		screenSrc:    cfg.ScreenSrc,
		fullFrameReq: make(chan struct{}, 1),
		events:       cfg.Events,
		cancelCtx:    ctx,
		cancel:       cancel,
	}
	s.writer = NewPeerWriter(conn, frame.DefaultControlIdle, s.cancelled)
	s.reader = NewPeerReader(conn, frame.DefaultMaxPeerPayload, frame.DefaultControlIdle, s.cancelled)
	return s
}

func (s *Session) cancelled() bool {
	select {
	case <-s.cancelCtx.Done():
		return true
	default:
		return false
	}
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
	if s.events.OnPhaseChange != nil {
		s.events.OnPhaseChange(p)
	}
}

// Phase returns the session's current state.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// RunController performs the controller-side handshake against a host
// and, on success, starts the dispatch loop. It blocks until the session
// ends (error, peer disconnect, or Close).
func (s *Session) RunController(ownID uint32, password string, width, height uint16) error {
	s.setPhase(PhaseHandshaking)
	ack, err := DoControllerHandshake(s.conn, ownID, password, width, height)
	if err != nil {
		s.setPhase(PhaseDisconnected)
		return err
	}
	s.peer = ScreenInfo{Width: ack.ScreenWidth, Height: ack.ScreenHeight, BPP: ack.ColorDepth, Compression: ack.Compression}
	s.setPhase(PhaseConnected)
	return s.dispatchLoop()
}

// RunHost performs the host-side handshake against an incoming
// controller and, on success, starts the dispatch loop.
func (s *Session) RunHost(ownID uint32, expectedPassword string, width, height uint16) error {
	s.setPhase(PhaseHandshaking)
	hs, err := DoHostHandshake(s.conn, ownID, expectedPassword, width, height)
	if err != nil {
		s.setPhase(PhaseDisconnected)
		return err
	}
	s.peer = ScreenInfo{Width: hs.ScreenWidth, Height: hs.ScreenHeight, BPP: hs.ColorDepth, Compression: hs.Compression}
	s.setPhase(PhaseConnected)
	return s.dispatchLoop()
}

// Close requests the session end: it best-effort writes MSG_DISCONNECT so
// the peer can tear down immediately instead of waiting out its own idle
// timeout, then cancels so the dispatch loop's next blocking read or write
// unwinds with cerrors.ErrCancelled.
func (s *Session) Close() {
	s.setPhase(PhaseClosing)
	_ = s.writer.WriteFrame(frame.PeerFrame{Kind: byte(MsgDisconnect)})
	s.cancel()
}

// dispatchLoop is the session's single reader goroutine, run on the
// calling goroutine: it reads one peer frame at a time and routes it by
// MessageKind, switching to the bulk idle timeout while a transfer is in
// progress.
func (s *Session) dispatchLoop() error {
	for {
		s.reader.idle = frame.DefaultControlIdle
		if s.fileRecv != nil || s.folderRecv != nil {
			s.reader.idle = frame.DefaultBulkIdle
		}
		f, err := s.reader.ReadFrame()
		if err != nil {
			s.setPhase(PhaseDisconnected)
			if s.events.OnError != nil {
				s.events.OnError(err)
			}
			return err
		}
		if err := s.handleFrame(f); err != nil {
			if cerrors.IsKind(err, cerrors.Cancelled) || cerrors.IsKind(err, cerrors.PartnerLeft) {
				s.setPhase(PhaseClosing)
				s.setPhase(PhaseDisconnected)
				return err
			}
			if s.events.OnError != nil {
				s.events.OnError(err)
			}
		}
	}
}

func (s *Session) handleFrame(f frame.PeerFrame) error {
	switch MessageKind(f.Kind) {
	case MsgFullScreenReq:
		s.requestFullFrame()
		return nil

	case MsgMouseEvent:
		ev, err := DecodeMouseEvent(f.Payload)
		if err != nil {
			return err
		}
		ev.X, ev.Y = ClampMouseCoords(ev.X, ev.Y, s.peer.Width, s.peer.Height)
		s.inputQueue.Push(InputEvent{Mouse: ev})
		if s.inputSink != nil {
			s.inputSink.InjectMouse(ev)
		}
		return nil

	case MsgKeyboardEvent:
		ev, err := DecodeKeyboardEvent(f.Payload)
		if err != nil {
			return err
		}
		s.inputQueue.Push(InputEvent{IsKeyboard: true, Keyboard: ev})
		if s.inputSink != nil {
			s.inputSink.InjectKeyboard(ev)
		}
		return nil

	case MsgClipboardText:
		cp, err := DecodeClipboardText(f.Payload)
		if err != nil {
			return err
		}
		if s.clipSink != nil {
			s.clipSink.SetClipboardText(cp.Text)
		}
		return nil

	case MsgClipboardFiles:
		cp, err := DecodeClipboardFiles(f.Payload)
		if err != nil {
			return err
		}
		if s.clipSink != nil {
			s.clipSink.NoteClipboardFiles(cp.Paths)
		}
		return nil

	case MsgClipboardReq:
		return s.handleClipboardReq()

	case MsgFileReq:
		return s.handleFileReq()

	case MsgScreenUpdate:
		return s.handleScreenUpdate(f.Payload)

	case MsgFileStart:
		return s.handleFileStart(f.Payload)
	case MsgFileData:
		return s.handleFileData(f.Payload)
	case MsgFileEnd:
		return s.handleFileEnd()

	case MsgFolderStart:
		return s.handleFolderStart(f.Payload)
	case MsgFolderEntry:
		return s.handleFolderEntry(f.Payload)
	case MsgFolderEnd:
		return s.handleFolderEnd()

	case MsgPing:
		return s.writer.WriteFrame(frame.PeerFrame{Kind: byte(MsgPong)})
	case MsgPong:
		return nil

	case MsgDisconnect:
		return cerrors.ErrPartnerLeft

	default:
		// Unknown message kinds are ignored rather than treated as fatal,
		// so a newer peer's optional extensions don't break older cores.
		return nil
	}
}

// handleScreenUpdate decodes and applies every {rect, data} pair packed
// into one MSG_SCREEN_UPDATE payload, dropping (not clamping) any
// rectangle that fails ClampToScreen.
func (s *Session) handleScreenUpdate(payload []byte) error {
	for len(payload) > 0 {
		msg, consumed, err := screen.DecodeRect(payload)
		if err != nil {
			return err
		}
		payload = payload[consumed:]
		if !screen.ClampToScreen(msg.Rect, int(s.peer.Width), int(s.peer.Height)) {
			continue
		}
		if _, err := screen.DecodePixels(msg); err != nil {
			return err
		}
		// A real controller blits the decoded pixels into its local
		// framebuffer here; core code stops at producing valid bytes.
	}
	return nil
}

// requestFullFrame records a pending MSG_FULL_SCREEN_REQ and wakes the
// capture loop so it runs an out-of-cycle tick immediately rather than
// waiting for the next ticker fire.
func (s *Session) requestFullFrame() {
	s.mu.Lock()
	s.forceFullFrame = true
	s.mu.Unlock()
	select {
	case s.fullFrameReq <- struct{}{}:
	default:
	}
}

// ConsumeFullFrameRequest reports and clears whether a MSG_FULL_SCREEN_REQ
// arrived since the last call. The capture loop calls this before each
// tick and, if true, passes a nil prev to CaptureAndSendFrame so every
// block is marked dirty.
func (s *Session) ConsumeFullFrameRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.forceFullFrame
	s.forceFullFrame = false
	return v
}

// FullFrameRequests is the channel a capture loop selects on, alongside
// its regular ticker, to react to MSG_FULL_SCREEN_REQ without waiting out
// the rest of the current tick interval.
func (s *Session) FullFrameRequests() <-chan struct{} { return s.fullFrameReq }

// handleClipboardReq answers MSG_CLIPBOARD_REQ with this session's own
// current clipboard, or an empty MSG_CLIPBOARD_TEXT if no local provider
// is wired in.
func (s *Session) handleClipboardReq() error {
	if s.clipSrc == nil {
		return s.writer.WriteFrame(frame.PeerFrame{Kind: byte(MsgClipboardText), Payload: EncodeClipboardText("")})
	}
	text, paths, isFile := s.clipSrc.CurrentClipboard()
	if isFile {
		return s.writer.WriteFrame(frame.PeerFrame{Kind: byte(MsgClipboardFiles), Payload: EncodeClipboardFiles(paths)})
	}
	return s.writer.WriteFrame(frame.PeerFrame{Kind: byte(MsgClipboardText), Payload: EncodeClipboardText(text)})
}

// handleFileReq answers MSG_FILE_REQ by sending the first file currently
// in this session's clipboard, or MSG_FILE_NONE if there is no match.
// The transfer runs on its own goroutine so the dispatch loop stays free
// to keep reading while the chunked send is in progress.
func (s *Session) handleFileReq() error {
	if s.clipSrc == nil {
		return s.writer.WriteFrame(frame.PeerFrame{Kind: byte(MsgFileNone)})
	}
	_, paths, isFile := s.clipSrc.CurrentClipboard()
	if !isFile || len(paths) == 0 {
		return s.writer.WriteFrame(frame.PeerFrame{Kind: byte(MsgFileNone)})
	}
	path := paths[0]
	f, err := os.Open(path)
	if err != nil {
		return s.writer.WriteFrame(frame.PeerFrame{Kind: byte(MsgFileNone)})
	}
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		f.Close()
		return s.writer.WriteFrame(frame.PeerFrame{Kind: byte(MsgFileNone)})
	}
	go func() {
		defer f.Close()
		if err := SendFile(s.writer, f, filepath.Base(path), uint64(fi.Size()), s.cancelled); err != nil {
			if s.events.OnError != nil {
				s.events.OnError(err)
			}
		}
	}()
	return nil
}

// CaptureAndSendFrame is the host-side capture-tick entry point: it
// grabs a frame, finds dirty rects against prev, RLE-encodes each, and
// sends them in as many MSG_SCREEN_UPDATE messages as needed, each
// packing as many rects as fit under maxPayload. It returns the newly captured frame so the caller can pass
// it as prev on the next tick.
func (s *Session) CaptureAndSendFrame(prev []byte, maxPayload int) ([]byte, error) {
	if s.screenSrc == nil {
		return prev, cerrors.New(cerrors.InvalidArgument, "no screen source configured")
	}
	curr, width, height, stride, err := s.screenSrc.GrabFrame()
	if err != nil {
		return prev, cerrors.Wrap(cerrors.ReadError, "capturing frame", err)
	}
	rects := screen.FindDirtyRects(prev, curr, width, height, stride, screen.DefaultMaxRects)
	if len(rects) == 0 {
		return curr, nil
	}

	var batch []byte
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.writer.WriteFrame(frame.PeerFrame{Kind: byte(MsgScreenUpdate), Payload: batch})
		batch = nil
		return err
	}

	for _, r := range rects {
		raw := extractRect(curr, stride, r)
		encoded := screen.Compress(raw)
		enc := screen.EncodingRLE
		if len(encoded) >= len(raw) {
			encoded = raw
			enc = screen.EncodingNone
		}
		wire := screen.EncodeRect(screen.RectMessage{Rect: r, Encoding: enc, Data: encoded})
		if maxPayload > 0 && len(batch)+len(wire) > maxPayload && len(batch) > 0 {
			if err := flush(); err != nil {
				return curr, err
			}
		}
		batch = append(batch, wire...)
	}
	if err := flush(); err != nil {
		return curr, err
	}
	return curr, nil
}

func extractRect(pixels []byte, stride int, r screen.Rect) []byte {
	out := make([]byte, r.W*r.H*3)
	for row := 0; row < r.H; row++ {
		srcOff := (r.Y+row)*stride + r.X*3
		dstOff := row * r.W * 3
		copy(out[dstOff:dstOff+r.W*3], pixels[srcOff:srcOff+r.W*3])
	}
	return out
}

func (s *Session) handleFileStart(payload []byte) error {
	start, err := DecodeFileStart(payload)
	if err != nil {
		return err
	}
	if s.xferSink == nil {
		return cerrors.New(cerrors.InvalidArgument, "no transfer sink configured")
	}
	dest, err := ResolveDestination(s.xferSink, dirExists)
	if err != nil {
		return err
	}
	recv, err := BeginFileReceive(dest, start)
	if err != nil {
		return err
	}
	s.fileRecv = recv
	return nil
}

func (s *Session) handleFileData(payload []byte) error {
	d, err := DecodeFileData(payload)
	if err != nil {
		return err
	}
	if s.folderRecv != nil {
		if err := s.folderRecv.WriteChunk(d); err != nil {
			return err
		}
		if s.xferSink != nil {
			s.xferSink.OnTransferProgress(s.folderRecv.received, s.folderRecv.currentSize)
		}
		return nil
	}
	if s.fileRecv == nil {
		return cerrors.New(cerrors.Protocol, "file data with no transfer in progress")
	}
	if err := s.fileRecv.WriteChunk(d); err != nil {
		return err
	}
	if s.xferSink != nil {
		s.xferSink.OnTransferProgress(s.fileRecv.ctx.TransferredBytes, s.fileRecv.ctx.TotalBytes)
	}
	return nil
}

func (s *Session) handleFileEnd() error {
	if s.fileRecv == nil {
		return cerrors.New(cerrors.Protocol, "file end with no transfer in progress")
	}
	err := s.fileRecv.Finish()
	s.fileRecv = nil
	return err
}

func (s *Session) handleFolderStart(payload []byte) error {
	start, err := DecodeFolderStart(payload)
	if err != nil {
		return err
	}
	if s.xferSink == nil {
		return cerrors.New(cerrors.InvalidArgument, "no transfer sink configured")
	}
	dest, err := ResolveDestination(s.xferSink, dirExists)
	if err != nil {
		return err
	}
	recv, err := BeginFolderReceive(dest, start)
	if err != nil {
		return err
	}
	s.folderRecv = recv
	return nil
}

func (s *Session) handleFolderEntry(payload []byte) error {
	e, err := DecodeFolderEntry(payload)
	if err != nil {
		return err
	}
	if s.folderRecv == nil {
		return cerrors.New(cerrors.Protocol, "folder entry with no transfer in progress")
	}
	return s.folderRecv.HandleEntry(e)
}

func (s *Session) handleFolderEnd() error {
	if s.folderRecv == nil {
		return cerrors.New(cerrors.Protocol, "folder end with no transfer in progress")
	}
	err := s.folderRecv.Finish()
	s.folderRecv = nil
	return err
}

// InputQueue exposes the decoded-input channel for a host-side injection
// worker to range over.
func (s *Session) InputQueue() *InputQueue { return s.inputQueue }

// Writer exposes the session's serialized frame writer for callers that
// send clipboard updates, input events (controller side), or drive
// SendFile/SendFolder directly.
func (s *Session) Writer() *PeerWriter { return s.writer }

// SendPing writes a keepalive ping; callers schedule this on a ticker
// per spec.md §5's keepalive interval.
func (s *Session) SendPing() error {
	return s.writer.WriteFrame(frame.PeerFrame{Kind: byte(MsgPing)})
}

// dirExists reports whether path exists and is a directory; it backs the
// DestinationResolver priority walk in ResolveDestination.
func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
