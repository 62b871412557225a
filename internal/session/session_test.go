package session

import (
	"net"
	"testing"
	"time"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
)

func frameMsg(kind MessageKind, payload []byte) frame.PeerFrame {
	return frame.PeerFrame{Kind: byte(kind), Payload: payload}
}

type fakeScreen struct {
	w, h, stride int
	buf          []byte
}

func (f *fakeScreen) GrabFrame() ([]byte, int, int, int, error) {
	out := append([]byte(nil), f.buf...)
	return out, f.w, f.h, f.stride, nil
}

type recordingInputSink struct{}

func (recordingInputSink) InjectMouse(MouseEvent)       {}
func (recordingInputSink) InjectKeyboard(KeyboardEvent) {}

type recordingClipSink struct{}

func (recordingClipSink) SetClipboardText(string)    {}
func (recordingClipSink) NoteClipboardFiles([]string) {}

type fakeClipboardSource struct {
	text   string
	paths  []string
	isFile bool
}

func (f fakeClipboardSource) CurrentClipboard() (string, []string, bool) {
	return f.text, f.paths, f.isFile
}

type recordingXferSink struct{}

func (recordingXferSink) ExplicitPath() (string, bool)     { return "", false }
func (recordingXferSink) RememberedFolder() (string, bool) { return "", false }
func (recordingXferSink) DesktopPath() (string, bool)      { return "", false }
func (recordingXferSink) DriveRoot() (string, bool)        { return "", false }
func (recordingXferSink) OnTransferProgress(uint64, uint64) {}

func newTestSession(conn net.Conn, role Role, screenSrc ScreenSource) (*Session, chan Phase) {
	return newTestSessionWithClipSrc(conn, role, screenSrc, nil)
}

func newTestSessionWithClipSrc(conn net.Conn, role Role, screenSrc ScreenSource, clipSrc LocalClipboardProvider) (*Session, chan Phase) {
	phases := make(chan Phase, 16)
	sess := New(conn, Config{
		Role:      role,
		InputSink: recordingInputSink{},
		ClipSink:  recordingClipSink{},
		ClipSrc:   clipSrc,
		XferSink:  recordingXferSink{},
		ScreenSrc: screenSrc,
		Events: Events{
			OnPhaseChange: func(p Phase) {
				select {
				case phases <- p:
				default:
				}
			},
		},
	})
	return sess, phases
}

func TestHandshakeRejectsWrongPassword(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	hostSess, _ := newTestSession(a, RoleHost, nil)
	ctrlSess, _ := newTestSession(b, RoleController, nil)

	hostErr := make(chan error, 1)
	go func() { hostErr <- hostSess.RunHost(1, "12345", 320, 240) }()

	ctrlErr := make(chan error, 1)
	go func() { ctrlErr <- ctrlSess.RunController(2, "54321", 320, 240) }()

	select {
	case err := <-hostErr:
		if err == nil {
			t.Fatal("expected host handshake to report a failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for host handshake to fail")
	}

	// DoHostHandshake deliberately sends no reply on a rejected password;
	// the caller closes its end so the controller's pending read unblocks
	// with a connection error rather than waiting out the idle timeout.
	a.Close()

	select {
	case err := <-ctrlErr:
		if err == nil {
			t.Fatal("expected auth failure, got nil")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for controller handshake to fail")
	}
}

func TestSessionConnectAndScreenUpdate(t *testing.T) {
	a, b := net.Pipe()

	hostScreen := &fakeScreen{w: 64, h: 64, stride: 64 * 3, buf: make([]byte, 64*64*3)}
	for i := range hostScreen.buf {
		hostScreen.buf[i] = 7
	}

	hostSess, hostPhases := newTestSession(a, RoleHost, hostScreen)
	ctrlSess, ctrlPhases := newTestSession(b, RoleController, nil)

	hostDone := make(chan error, 1)
	go func() { hostDone <- hostSess.RunHost(1, "42", 320, 240) }()

	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrlSess.RunController(2, "42", 320, 240) }()

	waitFor := func(ch chan Phase, want Phase) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case p := <-ch:
				if p == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for phase %s", want)
			}
		}
	}
	waitFor(hostPhases, PhaseConnected)
	waitFor(ctrlPhases, PhaseConnected)

	if _, err := hostSess.CaptureAndSendFrame(nil, 0); err != nil {
		t.Fatalf("CaptureAndSendFrame: %v", err)
	}

	// The controller's dispatch loop decodes MSG_SCREEN_UPDATE on its own
	// goroutine; give it a moment to process before tearing down.
	time.Sleep(100 * time.Millisecond)

	// Close the underlying pipe halves directly rather than relying on
	// Session.Close()'s cancel flag, which only unblocks a read at its
	// next 5-second idle-deadline wakeup.
	a.Close()
	b.Close()
	hostSess.Close()
	ctrlSess.Close()

	select {
	case <-hostDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for host session to end")
	}
	select {
	case <-ctrlDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for controller session to end")
	}
}

// TestDisconnectTerminatesDispatchLoop exercises spec.md's "Connected →
// Closing → Disconnected" transition on receipt of MSG_DISCONNECT: the
// dispatch loop must unwind instead of logging it as a recoverable error
// and blocking on the next read.
func TestDisconnectTerminatesDispatchLoop(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	hostSess, hostPhases := newTestSession(a, RoleHost, &fakeScreen{w: 1, h: 1, stride: 3, buf: make([]byte, 3)})
	ctrlSess, _ := newTestSession(b, RoleController, nil)

	hostDone := make(chan error, 1)
	go func() { hostDone <- hostSess.RunHost(1, "42", 320, 240) }()

	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrlSess.RunController(2, "42", 320, 240) }()

	waitFor := func(ch chan Phase, want Phase) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case p := <-ch:
				if p == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for phase %s", want)
			}
		}
	}
	waitFor(hostPhases, PhaseConnected)

	// Close triggers a best-effort MSG_DISCONNECT write before cancelling.
	ctrlSess.Close()

	select {
	case err := <-hostDone:
		if !cerrors.IsKind(err, cerrors.PartnerLeft) {
			t.Fatalf("expected PartnerLeft, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for host dispatch loop to unwind on MSG_DISCONNECT")
	}
	if got := hostSess.Phase(); got != PhaseDisconnected {
		t.Fatalf("expected host phase disconnected, got %s", got)
	}

	b.Close()
	select {
	case <-ctrlDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for controller session to end")
	}
}

// TestFullScreenReqForcesCapture verifies MSG_FULL_SCREEN_REQ wakes the
// requested session's FullFrameRequests channel and that
// ConsumeFullFrameRequest reports it exactly once.
func TestFullScreenReqForcesCapture(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	hostSess, hostPhases := newTestSession(a, RoleHost, &fakeScreen{w: 1, h: 1, stride: 3, buf: make([]byte, 3)})
	ctrlSess, ctrlPhases := newTestSession(b, RoleController, nil)

	hostDone := make(chan error, 1)
	go func() { hostDone <- hostSess.RunHost(1, "42", 320, 240) }()
	ctrlDone := make(chan error, 1)
	go func() { ctrlDone <- ctrlSess.RunController(2, "42", 320, 240) }()

	waitFor := func(ch chan Phase, want Phase) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case p := <-ch:
				if p == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for phase %s", want)
			}
		}
	}
	waitFor(hostPhases, PhaseConnected)
	waitFor(ctrlPhases, PhaseConnected)

	if err := ctrlSess.Writer().WriteFrame(frameMsg(MsgFullScreenReq, nil)); err != nil {
		t.Fatalf("write full screen req: %v", err)
	}

	select {
	case <-hostSess.FullFrameRequests():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for full frame request signal")
	}
	if !hostSess.ConsumeFullFrameRequest() {
		t.Fatal("expected ConsumeFullFrameRequest to report true once")
	}
	if hostSess.ConsumeFullFrameRequest() {
		t.Fatal("expected ConsumeFullFrameRequest to clear after first read")
	}

	a.Close()
	b.Close()
	hostSess.Close()
	ctrlSess.Close()
	<-hostDone
	<-ctrlDone
}

// TestClipboardReqRepliesWithLocalClipboard exercises MSG_CLIPBOARD_REQ:
// the session with a LocalClipboardProvider wired in replies with its own
// current clipboard rather than ignoring the request. The controller side
// talks to the host directly over the raw peer-frame codec instead of
// running its own Session dispatch loop, since only one goroutine may
// read a PeerReader at a time.
func TestClipboardReqRepliesWithLocalClipboard(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	clip := fakeClipboardSource{text: "hello from host"}
	hostSess, hostPhases := newTestSessionWithClipSrc(a, RoleHost, &fakeScreen{w: 1, h: 1, stride: 3, buf: make([]byte, 3)}, clip)

	hostDone := make(chan error, 1)
	go func() { hostDone <- hostSess.RunHost(1, "42", 320, 240) }()

	if _, err := DoControllerHandshake(b, 2, "42", 320, 240); err != nil {
		t.Fatalf("controller handshake: %v", err)
	}
	waitFor := func(ch chan Phase, want Phase) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case p := <-ch:
				if p == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for phase %s", want)
			}
		}
	}
	waitFor(hostPhases, PhaseConnected)

	noCancel := func() bool { return false }
	w := NewPeerWriter(b, frame.DefaultControlIdle, noCancel)
	r := NewPeerReader(b, frame.DefaultMaxPeerPayload, frame.DefaultControlIdle, noCancel)

	if err := w.WriteFrame(frameMsg(MsgClipboardReq, nil)); err != nil {
		t.Fatalf("write clipboard req: %v", err)
	}
	reply, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("reading clipboard reply: %v", err)
	}
	if MessageKind(reply.Kind) != MsgClipboardText {
		t.Fatalf("expected MsgClipboardText reply, got kind %d", reply.Kind)
	}
	cp, err := DecodeClipboardText(reply.Payload)
	if err != nil {
		t.Fatalf("decode clipboard text: %v", err)
	}
	if cp.Text != clip.text {
		t.Fatalf("got clipboard text %q want %q", cp.Text, clip.text)
	}

	a.Close()
	b.Close()
	hostSess.Close()
	<-hostDone
}

// TestFileReqNoMatchRepliesFileNone exercises the MSG_FILE_REQ path when
// no file is currently on the clipboard.
func TestFileReqNoMatchRepliesFileNone(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	hostSess, hostPhases := newTestSessionWithClipSrc(a, RoleHost, &fakeScreen{w: 1, h: 1, stride: 3, buf: make([]byte, 3)}, fakeClipboardSource{})

	hostDone := make(chan error, 1)
	go func() { hostDone <- hostSess.RunHost(1, "42", 320, 240) }()

	if _, err := DoControllerHandshake(b, 2, "42", 320, 240); err != nil {
		t.Fatalf("controller handshake: %v", err)
	}
	waitFor := func(ch chan Phase, want Phase) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case p := <-ch:
				if p == want {
					return
				}
			case <-deadline:
				t.Fatalf("timed out waiting for phase %s", want)
			}
		}
	}
	waitFor(hostPhases, PhaseConnected)

	noCancel := func() bool { return false }
	w := NewPeerWriter(b, frame.DefaultControlIdle, noCancel)
	r := NewPeerReader(b, frame.DefaultMaxPeerPayload, frame.DefaultControlIdle, noCancel)

	if err := w.WriteFrame(frameMsg(MsgFileReq, nil)); err != nil {
		t.Fatalf("write file req: %v", err)
	}
	reply, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("reading file req reply: %v", err)
	}
	if MessageKind(reply.Kind) != MsgFileNone {
		t.Fatalf("expected MsgFileNone reply, got kind %d", reply.Kind)
	}

	a.Close()
	b.Close()
	hostSess.Close()
	<-hostDone
}
