package main

import (
	"log"
	"os"
	"path/filepath"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/session"
)

// syntheticScreen is a placeholder ScreenSource: a moving solid-color
// box on a flat background, just enough to exercise dirty-rect discovery
// and RLE encoding without a real OS capture API.
type syntheticScreen struct {
	width, height, stride int
	buf                   []byte
	tick                  int
}

func newSyntheticScreen(width, height int) *syntheticScreen {
	stride := width * 3
	return &syntheticScreen{width: width, height: height, stride: stride, buf: make([]byte, stride*height)}
}

func (s *syntheticScreen) GrabFrame() ([]byte, int, int, int, error) {
	s.tick++
	for i := range s.buf {
		s.buf[i] = 32
	}
	const box = 40
	x := s.tick * 3 % (s.width - box)
	y := s.tick * 2 % (s.height - box)
	for row := 0; row < box; row++ {
		off := (y+row)*s.stride + x*3
		for col := 0; col < box; col++ {
			s.buf[off+col*3+0] = 220
			s.buf[off+col*3+1] = 80
			s.buf[off+col*3+2] = 40
		}
	}
	out := append([]byte(nil), s.buf...)
	return out, s.width, s.height, s.stride, nil
}

// loggingInputSink stands in for the OS input-injection adapter (§6
// InputInjector): it just logs what it would have injected.
type loggingInputSink struct{}

func (loggingInputSink) InjectMouse(ev session.MouseEvent) {
	log.Printf("🖱️  mouse %v (%d,%d)", ev.Type, ev.X, ev.Y)
}

func (loggingInputSink) InjectKeyboard(ev session.KeyboardEvent) {
	log.Printf("⌨️  key vk=%d down=%v", ev.VirtualKey, ev.Down)
}

// loggingClipboardSink stands in for the OS clipboard adapter (§6
// ClipboardAdapter).
type loggingClipboardSink struct{}

func (loggingClipboardSink) SetClipboardText(text string) {
	log.Printf("📋 clipboard text (%d bytes)", len(text))
}

func (loggingClipboardSink) NoteClipboardFiles(paths []string) {
	log.Printf("📋 clipboard file list: %d entries", len(paths))
}

// stubClipboardSource stands in for the OS clipboard adapter's read side
// (§6 ClipboardAdapter): it always reports an empty text clipboard, so
// MSG_CLIPBOARD_REQ and MSG_FILE_REQ exercise the no-content replies
// rather than a real platform clipboard.
type stubClipboardSource struct{}

func (stubClipboardSource) CurrentClipboard() (text string, paths []string, isFile bool) {
	return "", nil, false
}

// stubTransferSink stands in for the filesystem/dialog adapter (§6
// FilesystemAdapter): inbound transfers land under a fixed
// "remotedesk2k-received" directory in os.TempDir() instead of a
// user-chosen folder.
type stubTransferSink struct {
	destDir string
}

func newStubTransferSink() *stubTransferSink {
	dir := filepath.Join(os.TempDir(), "remotedesk2k-received")
	os.MkdirAll(dir, 0755)
	return &stubTransferSink{destDir: dir}
}

func (s *stubTransferSink) ExplicitPath() (string, bool)     { return "", false }
func (s *stubTransferSink) RememberedFolder() (string, bool) { return "", false }
func (s *stubTransferSink) DesktopPath() (string, bool)      { return s.destDir, true }
func (s *stubTransferSink) DriveRoot() (string, bool)        { return "", false }

func (s *stubTransferSink) OnTransferProgress(received, total uint64) {
	if total == 0 {
		return
	}
	log.Printf("📥 transfer progress: %d/%d bytes (%.0f%%)", received, total, 100*float64(received)/float64(total))
}
