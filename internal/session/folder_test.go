package session

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
)

func writeTestTree(t *testing.T, root string) {
	t.Helper()
	mustWrite := func(rel, content string) {
		full := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	mustWrite("a.txt", "top-level file")
	mustWrite(filepath.Join("sub", "b.txt"), "nested file")
	mustWrite(filepath.Join("sub", "deeper", "c.txt"), "deeply nested file")
}

func TestSendAndReceiveFolderRoundTrip(t *testing.T) {
	srcRoot := filepath.Join(t.TempDir(), "myfolder")
	if err := os.MkdirAll(srcRoot, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	writeTestTree(t, srcRoot)

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	writer := NewPeerWriter(a, frame.DefaultControlIdle, nil)
	reader := NewPeerReader(b, frame.DefaultMaxPeerPayload, frame.DefaultControlIdle, nil)

	sendErr := make(chan error, 1)
	go func() { sendErr <- SendFolder(writer, srcRoot, nil) }()

	destDir := t.TempDir()

	f, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("reading MSG_FOLDER_START: %v", err)
	}
	if MessageKind(f.Kind) != MsgFolderStart {
		t.Fatalf("first frame kind = %d, want MsgFolderStart", f.Kind)
	}
	start, err := DecodeFolderStart(f.Payload)
	if err != nil {
		t.Fatalf("DecodeFolderStart: %v", err)
	}
	if start.TotalFiles != 3 || start.TotalFolders != 2 {
		t.Fatalf("totals = %+v, want 3 files / 2 folders", start)
	}

	recv, err := BeginFolderReceive(destDir, start)
	if err != nil {
		t.Fatalf("BeginFolderReceive: %v", err)
	}

loop:
	for {
		f, err := reader.ReadFrame()
		if err != nil {
			t.Fatalf("reading folder frame: %v", err)
		}
		switch MessageKind(f.Kind) {
		case MsgFolderEnd:
			break loop
		case MsgFolderEntry:
			entry, derr := DecodeFolderEntry(f.Payload)
			if derr != nil {
				t.Fatalf("DecodeFolderEntry: %v", derr)
			}
			if err := recv.HandleEntry(entry); err != nil {
				t.Fatalf("HandleEntry(%q): %v", entry.RelativePath, err)
			}
		case MsgFileData:
			d, derr := DecodeFileData(f.Payload)
			if derr != nil {
				t.Fatalf("DecodeFileData: %v", derr)
			}
			if err := recv.WriteChunk(d); err != nil {
				t.Fatalf("WriteChunk: %v", err)
			}
		default:
			t.Fatalf("unexpected frame kind %d during folder transfer", f.Kind)
		}
	}
	if err := recv.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := <-sendErr; err != nil {
		t.Fatalf("SendFolder: %v", err)
	}

	rootName := filepath.Base(srcRoot)
	for _, rel := range []string{"a.txt", filepath.Join("sub", "b.txt"), filepath.Join("sub", "deeper", "c.txt")} {
		if _, err := os.Stat(filepath.Join(destDir, rootName, rel)); err != nil {
			t.Errorf("expected %s to exist: %v", rel, err)
		}
	}
}

func TestFolderReceiverRejectsPathTraversalEntry(t *testing.T) {
	destDir := t.TempDir()
	recv, err := BeginFolderReceive(destDir, FolderStart{RootName: "evil", TotalFiles: 1})
	if err != nil {
		t.Fatalf("BeginFolderReceive: %v", err)
	}
	bad := FolderEntry{RelativePath: "evil/../../escape.txt", Attr: FolderAttrFile, Size: 3}
	if err := recv.HandleEntry(bad); err == nil {
		t.Fatal("expected path-traversal entry to be rejected")
	}
}

func TestFolderReceiverCancelRemovesPartialTree(t *testing.T) {
	destDir := t.TempDir()
	recv, err := BeginFolderReceive(destDir, FolderStart{RootName: "cancelme", TotalFiles: 1})
	if err != nil {
		t.Fatalf("BeginFolderReceive: %v", err)
	}
	if err := recv.HandleEntry(FolderEntry{RelativePath: "cancelme/file.txt", Attr: FolderAttrFile, Size: 3}); err != nil {
		t.Fatalf("HandleEntry: %v", err)
	}
	recv.Cancel()
	if err := recv.Finish(); err == nil {
		t.Fatal("expected Finish to report cancellation")
	}
	if _, statErr := os.Stat(filepath.Join(destDir, "cancelme")); !os.IsNotExist(statErr) {
		t.Fatalf("expected destination root to be removed, stat err = %v", statErr)
	}
}
