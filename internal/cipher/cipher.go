// Package cipher implements the obfuscation-grade symmetric byte transform
// (C1) and the derived Server-ID encoding. It is not a substitute for TLS —
// see spec.md's Non-goals — but every peer and relay in a deployment must
// agree on the same 16-byte key to interoperate.
package cipher

import (
	"encoding/base32"
	"strings"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
)

// KeySize is the fixed key length for every Cipher.
const KeySize = 16

// DefaultKey is the wire-compatible default key. Every peer and relay that
// wants to interoperate with an unmodified remote must use this key unless
// a deployment has deliberately repinned it everywhere at once.
var DefaultKey = [KeySize]byte{
	0x52, 0x44, 0x32, 0x4B, 0xDE, 0xAD, 0xBE, 0xEF,
	0xCA, 0xFE, 0xBA, 0xBE, 0x20, 0x00, 0x20, 0x26,
}

// sbox and invSBox are a fixed, non-cryptographic substitution table and
// its inverse. The table only needs to be a bijection on a byte; it is not
// meant to resist cryptanalysis.
var sbox [256]byte
var invSBox [256]byte

func init() {
	// Deterministic bijective permutation: sbox[x] = x rotated and mixed
	// with a fixed multiplier, modulo 256. Built once at package init so
	// encrypt/decrypt are table lookups, not per-byte arithmetic.
	for x := 0; x < 256; x++ {
		v := byte(x)
		v = rotl8(v, 3)
		v ^= 0x5A
		v = v*167 + 61 // 167 is coprime with 256, so this stays a bijection
		sbox[x] = v
		invSBox[v] = byte(x)
	}
}

func rotl8(b byte, n uint) byte {
	n &= 7
	return (b << n) | (b >> (8 - n))
}

func rotr8(b byte, n uint) byte {
	n &= 7
	return (b >> n) | (b << (8 - n))
}

// Cipher wraps a 16-byte key. The zero value is not usable; construct with
// New or NewDefault.
type Cipher struct {
	key [KeySize]byte
}

// New builds a Cipher from an explicit 16-byte key.
func New(key [KeySize]byte) *Cipher {
	return &Cipher{key: key}
}

// NewDefault builds a Cipher using DefaultKey.
func NewDefault() *Cipher {
	return &Cipher{key: DefaultKey}
}

// Encrypt transforms buf in place. Empty buffers are a no-op.
func (c *Cipher) Encrypt(buf []byte) {
	for i, x := range buf {
		rot := 1 + uint((i+1)%7)
		y := rotl8(sbox[x^c.key[i%KeySize]], rot)
		buf[i] = y ^ byte((i*37)&0xFF)
	}
}

// Decrypt reverses Encrypt in place. Empty buffers are a no-op.
func (c *Cipher) Decrypt(buf []byte) {
	for i, y := range buf {
		rot := 1 + uint((i+1)%7)
		t := y ^ byte((i*37)&0xFF)
		x := invSBox[rotr8(t, rot)] ^ c.key[i%KeySize]
		buf[i] = x
	}
}

// EncryptDword encrypts a 32-bit value treated as 4 little-endian bytes.
func (c *Cipher) EncryptDword(v uint32) uint32 {
	buf := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	c.Encrypt(buf)
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// DecryptDword reverses EncryptDword.
func (c *Cipher) DecryptDword(v uint32) uint32 {
	buf := []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
	c.Decrypt(buf)
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// EncryptIP and DecryptIP are identical to the dword helpers; kept as
// separate names because the wire format treats peer-IDs and Server-ID
// payload words as distinct concepts even though the transform is shared.
func (c *Cipher) EncryptIP(ip uint32) uint32 { return c.EncryptDword(ip) }
func (c *Cipher) DecryptIP(ip uint32) uint32 { return c.DecryptDword(ip) }

// serverIDAlphabet is the 32-symbol alphabet with 0/O and 1/I removed for
// readability over voice/text.
const serverIDAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var serverIDEncoding = base32.NewEncoding(serverIDAlphabet).WithPadding(base32.NoPadding)

const serverIDMarker = 0x2A

// EncodeServerID packs (ip, port) into the dashed base32 Server-ID form
// described in spec.md §3.
func (c *Cipher) EncodeServerID(ip [4]byte, port uint16) (string, error) {
	raw := make([]byte, 8)
	copy(raw[0:4], ip[:])
	raw[4] = byte(port >> 8)
	raw[5] = byte(port)
	var chk byte
	for _, b := range raw[:6] {
		chk ^= b
	}
	raw[6] = chk
	raw[7] = serverIDMarker

	c.Encrypt(raw)

	encoded := serverIDEncoding.EncodeToString(raw)
	return dashEvery4(encoded), nil
}

// DecodeServerID reverses EncodeServerID, validating the XOR checksum and
// marker byte. It tolerates dashes and mixed case on input.
func (c *Cipher) DecodeServerID(s string) (ip [4]byte, port uint16, err error) {
	clean := strings.ToUpper(strings.ReplaceAll(s, "-", ""))
	if clean == "" {
		return ip, 0, cerrors.New(cerrors.InvalidArgument, "empty server id")
	}

	raw, decErr := serverIDEncoding.DecodeString(clean)
	if decErr != nil {
		return ip, 0, cerrors.Wrap(cerrors.InvalidArgument, "bad base32 in server id", decErr)
	}
	if len(raw) != 8 {
		return ip, 0, cerrors.New(cerrors.InvalidArgument, "short decoded server id")
	}

	c.Decrypt(raw)

	var chk byte
	for _, b := range raw[:6] {
		chk ^= b
	}
	if chk != raw[6] {
		return ip, 0, cerrors.New(cerrors.InvalidArgument, "server id checksum mismatch")
	}
	if raw[7] != serverIDMarker {
		return ip, 0, cerrors.New(cerrors.InvalidArgument, "server id marker mismatch")
	}

	copy(ip[:], raw[0:4])
	port = uint16(raw[4])<<8 | uint16(raw[5])
	return ip, port, nil
}

func dashEvery4(s string) string {
	var b strings.Builder
	for i, r := range s {
		if i > 0 && i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}
