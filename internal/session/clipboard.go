package session

import (
	"encoding/binary"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
)

// ClipboardPayload is the decoded form of MSG_CLIPBOARD_TEXT /
// MSG_CLIPBOARD_FILES. IsFile distinguishes which wire kind produced it;
// Text is populated for MsgClipboardText, Paths for MsgClipboardFiles.
// File-path payloads are metadata only and never trigger a transfer on
// their own (§4.4).
type ClipboardPayload struct {
	IsFile bool
	Text   string
	Paths  []string
}

// clipboardHeaderSize is {length u32, isFile u8, reserved 3 bytes}.
const clipboardHeaderSize = 4 + 1 + 3

// EncodeClipboardText serializes a plain-text clipboard payload.
func EncodeClipboardText(text string) []byte {
	body := []byte(text)
	buf := make([]byte, clipboardHeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(body)))
	buf[4] = 0
	copy(buf[clipboardHeaderSize:], body)
	return buf
}

// EncodeClipboardFiles serializes a file-list clipboard payload: a
// leading {fileCount u32} followed by NUL-terminated path strings,
// wrapped in the same {length, isFile, reserved} header used by the text
// variant (length covers everything after the header).
func EncodeClipboardFiles(paths []string) []byte {
	var body []byte
	count := make([]byte, 4)
	binary.LittleEndian.PutUint32(count, uint32(len(paths)))
	body = append(body, count...)
	for _, p := range paths {
		body = append(body, []byte(p)...)
		body = append(body, 0)
	}
	buf := make([]byte, clipboardHeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(body)))
	buf[4] = 1
	copy(buf[clipboardHeaderSize:], body)
	return buf
}

// DecodeClipboardText parses a MSG_CLIPBOARD_TEXT payload.
func DecodeClipboardText(buf []byte) (ClipboardPayload, error) {
	if len(buf) < clipboardHeaderSize {
		return ClipboardPayload{}, cerrors.New(cerrors.Protocol, "truncated clipboard header")
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	if clipboardHeaderSize+int(length) > len(buf) {
		return ClipboardPayload{}, cerrors.New(cerrors.Protocol, "truncated clipboard text body")
	}
	body := buf[clipboardHeaderSize : clipboardHeaderSize+int(length)]
	return ClipboardPayload{IsFile: false, Text: string(body)}, nil
}

// DecodeClipboardFiles parses a MSG_CLIPBOARD_FILES payload.
func DecodeClipboardFiles(buf []byte) (ClipboardPayload, error) {
	if len(buf) < clipboardHeaderSize {
		return ClipboardPayload{}, cerrors.New(cerrors.Protocol, "truncated clipboard header")
	}
	length := binary.LittleEndian.Uint32(buf[0:4])
	if clipboardHeaderSize+int(length) > len(buf) {
		return ClipboardPayload{}, cerrors.New(cerrors.Protocol, "truncated clipboard files body")
	}
	body := buf[clipboardHeaderSize : clipboardHeaderSize+int(length)]
	if len(body) < 4 {
		return ClipboardPayload{}, cerrors.New(cerrors.Protocol, "truncated clipboard file count")
	}
	count := binary.LittleEndian.Uint32(body[0:4])
	rest := body[4:]

	paths := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		end := indexByte(rest, 0)
		if end < 0 {
			return ClipboardPayload{}, cerrors.New(cerrors.Protocol, "unterminated clipboard path")
		}
		paths = append(paths, string(rest[:end]))
		rest = rest[end+1:]
	}
	return ClipboardPayload{IsFile: true, Paths: paths}, nil
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}
