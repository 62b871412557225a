package session

import (
	"encoding/binary"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/frame"
)

// FolderAttr classifies a MSG_FOLDER_ENTRY as a directory or a file.
type FolderAttr uint8

const (
	FolderAttrFile FolderAttr = 0
	FolderAttrDir  FolderAttr = 1
)

// FolderStart is the MSG_FOLDER_START payload.
type FolderStart struct {
	RootName    string
	TotalFiles  uint32
	TotalFolders uint32
	TotalBytes  uint64
}

func EncodeFolderStart(f FolderStart) []byte {
	nameBytes := []byte(f.RootName)
	buf := make([]byte, 2+len(nameBytes)+4+4+8)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(nameBytes)))
	off := 2
	copy(buf[off:off+len(nameBytes)], nameBytes)
	off += len(nameBytes)
	binary.LittleEndian.PutUint32(buf[off:off+4], f.TotalFiles)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], f.TotalFolders)
	off += 4
	binary.LittleEndian.PutUint64(buf[off:off+8], f.TotalBytes)
	return buf
}

func DecodeFolderStart(buf []byte) (FolderStart, error) {
	if len(buf) < 2 {
		return FolderStart{}, cerrors.New(cerrors.Protocol, "truncated folder start")
	}
	nameLen := int(binary.LittleEndian.Uint16(buf[0:2]))
	need := 2 + nameLen + 4 + 4 + 8
	if len(buf) != need {
		return FolderStart{}, cerrors.New(cerrors.Protocol, "malformed folder start")
	}
	name := string(buf[2 : 2+nameLen])
	off := 2 + nameLen
	files := binary.LittleEndian.Uint32(buf[off : off+4])
	folders := binary.LittleEndian.Uint32(buf[off+4 : off+8])
	total := binary.LittleEndian.Uint64(buf[off+8 : off+16])
	return FolderStart{RootName: name, TotalFiles: files, TotalFolders: folders, TotalBytes: total}, nil
}

// FolderEntry is the MSG_FOLDER_ENTRY payload: one directory-create or
// file-header record in the depth-first pre-order walk. File entries are
// immediately followed on the wire by that file's MSG_FILE_DATA chunks,
// with no terminating marker and no nested MSG_FILE_START: the entry
// header carries the size, and the receiver closes the file once that
// many bytes have arrived.
type FolderEntry struct {
	RelativePath string
	Attr         FolderAttr
	Size         uint64
	TotalChunks  uint32
}

func EncodeFolderEntry(e FolderEntry) []byte {
	pathBytes := []byte(e.RelativePath)
	buf := make([]byte, 2+len(pathBytes)+1+8+4)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(pathBytes)))
	off := 2
	copy(buf[off:off+len(pathBytes)], pathBytes)
	off += len(pathBytes)
	buf[off] = byte(e.Attr)
	off++
	binary.LittleEndian.PutUint64(buf[off:off+8], e.Size)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:off+4], e.TotalChunks)
	return buf
}

func DecodeFolderEntry(buf []byte) (FolderEntry, error) {
	if len(buf) < 2 {
		return FolderEntry{}, cerrors.New(cerrors.Protocol, "truncated folder entry")
	}
	pathLen := int(binary.LittleEndian.Uint16(buf[0:2]))
	need := 2 + pathLen + 1 + 8 + 4
	if len(buf) != need {
		return FolderEntry{}, cerrors.New(cerrors.Protocol, "malformed folder entry")
	}
	path := string(buf[2 : 2+pathLen])
	off := 2 + pathLen
	attr := FolderAttr(buf[off])
	off++
	size := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	chunks := binary.LittleEndian.Uint32(buf[off : off+4])
	return FolderEntry{RelativePath: path, Attr: attr, Size: size, TotalChunks: chunks}, nil
}

// walkEntry is one item of the pre-flight directory walk used to compute
// FolderStart's totals before anything is sent.
type walkEntry struct {
	relPath string
	isDir   bool
	size    int64
	abs     string
}

// planFolderWalk performs a depth-first, pre-order, lexically sorted walk
// of rootDir (mirroring spec.md's deterministic traversal order) and
// returns the flattened entry list plus aggregate totals.
func planFolderWalk(rootDir string) ([]walkEntry, FolderStart, error) {
	var entries []walkEntry
	var totalFiles, totalFolders uint32
	var totalBytes uint64

	var walk func(dir, rel string) error
	walk = func(dir, rel string) error {
		items, err := os.ReadDir(dir)
		if err != nil {
			return cerrors.Wrap(cerrors.ReadError, "reading directory for transfer", err)
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Name() < items[j].Name() })
		for _, item := range items {
			childRel := filepath.Join(rel, item.Name())
			childAbs := filepath.Join(dir, item.Name())
			if item.IsDir() {
				totalFolders++
				entries = append(entries, walkEntry{relPath: childRel, isDir: true, abs: childAbs})
				if err := walk(childAbs, childRel); err != nil {
					return err
				}
				continue
			}
			info, err := item.Info()
			if err != nil {
				return cerrors.Wrap(cerrors.ReadError, "stat file for transfer", err)
			}
			totalFiles++
			totalBytes += uint64(info.Size())
			entries = append(entries, walkEntry{relPath: childRel, isDir: false, size: info.Size(), abs: childAbs})
		}
		return nil
	}

	base := filepath.Base(rootDir)
	if err := walk(rootDir, base); err != nil {
		return nil, FolderStart{}, err
	}
	return entries, FolderStart{
		RootName:     base,
		TotalFiles:   totalFiles,
		TotalFolders: totalFolders,
		TotalBytes:   totalBytes,
	}, nil
}

// SendFolder drives the full MSG_FOLDER_START / MSG_FOLDER_ENTRY /
// (MSG_FILE_DATA...) / MSG_FOLDER_END protocol for rootDir.
func SendFolder(w *PeerWriter, rootDir string, cancel func() bool) error {
	entries, start, err := planFolderWalk(rootDir)
	if err != nil {
		return err
	}
	if start.TotalBytes > MaxFileSize {
		return cerrors.ErrFileTooLarge
	}

	if err := w.WriteFrame(frame.PeerFrame{Kind: byte(MsgFolderStart), Payload: EncodeFolderStart(start)}); err != nil {
		return err
	}
	transferID := uuid.NewString()
	log.Printf("📤 [%s] sending folder %q (%d files, %d folders, %d bytes)", transferID, start.RootName, start.TotalFiles, start.TotalFolders, start.TotalBytes)

	for _, e := range entries {
		if cancel != nil && cancel() {
			return cerrors.ErrCancelled
		}
		if e.isDir {
			entry := FolderEntry{RelativePath: e.relPath, Attr: FolderAttrDir}
			if err := w.WriteFrame(frame.PeerFrame{Kind: byte(MsgFolderEntry), Payload: EncodeFolderEntry(entry)}); err != nil {
				return err
			}
			continue
		}

		size := uint64(e.size)
		entry := FolderEntry{RelativePath: e.relPath, Attr: FolderAttrFile, Size: size, TotalChunks: TotalChunks(size)}
		if err := w.WriteFrame(frame.PeerFrame{Kind: byte(MsgFolderEntry), Payload: EncodeFolderEntry(entry)}); err != nil {
			return err
		}

		f, err := os.Open(e.abs)
		if err != nil {
			return cerrors.Wrap(cerrors.ReadError, "opening file for folder transfer", err)
		}
		err = sendFolderFileChunks(w, f, size, cancel)
		f.Close()
		if err != nil {
			return err
		}
	}

	log.Printf("✅ [%s] sent folder %q", transferID, start.RootName)
	return w.WriteFrame(frame.PeerFrame{Kind: byte(MsgFolderEnd)})
}

// sendFolderFileChunks streams one folder member's bytes as MSG_FILE_DATA
// frames, reusing transfer.go's throttle and retry policy.
func sendFolderFileChunks(w *PeerWriter, reader io.Reader, size uint64, cancel func() bool) error {
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
			// final short chunk
		} else if err != nil {
			return cerrors.Wrap(cerrors.ReadError, "reading folder member for transfer", err)
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
	return nil
}

// FolderReceiver assembles an inbound folder transfer entry-by-entry,
// enforcing the path-traversal guard on every relative path before it
// touches the filesystem.
type FolderReceiver struct {
	transferID  string
	destRoot    string
	current     *os.File
	currentPath string
	currentSize uint64
	received    uint64
	cancelled   bool
}

// BeginFolderReceive creates the destination root directory for a
// folder transfer.
func BeginFolderReceive(destDir string, start FolderStart) (*FolderReceiver, error) {
	root := filepath.Join(destDir, start.RootName)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, cerrors.Wrap(cerrors.CreateError, "creating destination folder", err)
	}
	transferID := uuid.NewString()
	log.Printf("📥 [%s] receiving folder %q (%d files, %d folders, %d bytes)", transferID, start.RootName, start.TotalFiles, start.TotalFolders, start.TotalBytes)
	return &FolderReceiver{transferID: transferID, destRoot: root}, nil
}

// HandleEntry processes one MSG_FOLDER_ENTRY: creating a directory, or
// opening the next file for incoming MSG_FILE_DATA chunks.
func (r *FolderReceiver) HandleEntry(e FolderEntry) error {
	full, err := ValidateRelativePath(r.destRoot, stripRootComponent(e.RelativePath))
	if err != nil {
		return err
	}
	if e.Attr == FolderAttrDir {
		if err := os.MkdirAll(full, 0755); err != nil {
			return cerrors.Wrap(cerrors.CreateError, "creating folder entry", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return cerrors.Wrap(cerrors.CreateError, "creating parent folder", err)
	}
	f, err := os.OpenFile(full, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return cerrors.Wrap(cerrors.CreateError, "creating folder member file", err)
	}
	r.current = f
	r.currentPath = full
	r.currentSize = e.Size
	r.received = 0
	return nil
}

// stripRootComponent drops the leading root-folder-name component the
// sender included in each relative path, since destRoot already
// corresponds to that root.
func stripRootComponent(rel string) string {
	rel = filepath.ToSlash(rel)
	if i := indexByte([]byte(rel), '/'); i >= 0 {
		return rel[i+1:]
	}
	return ""
}

// WriteChunk appends data to the currently open folder member file.
func (r *FolderReceiver) WriteChunk(d FileData) error {
	if r.cancelled || r.current == nil {
		return nil
	}
	if _, err := r.current.Write(d.Data); err != nil {
		r.current.Close()
		os.Remove(r.currentPath)
		r.current = nil
		return cerrors.Wrap(cerrors.WriteError, "writing folder member chunk", err)
	}
	r.received += uint64(len(d.Data))
	if r.received >= r.currentSize {
		r.current.Close()
		r.current = nil
	}
	return nil
}

// Cancel marks the folder transfer cancelled; the partial tree under
// destRoot is removed on Finish.
func (r *FolderReceiver) Cancel() {
	r.cancelled = true
	if r.current != nil {
		r.current.Close()
		r.current = nil
	}
}

// Finish completes the transfer. On cancellation it deletes the partial
// destination tree.
func (r *FolderReceiver) Finish() error {
	if r.current != nil {
		r.current.Close()
		r.current = nil
	}
	if r.cancelled {
		os.RemoveAll(r.destRoot)
		return cerrors.ErrCancelled
	}
	log.Printf("✅ [%s] received folder into %s", r.transferID, r.destRoot)
	return nil
}
