package cipher

import (
	"fmt"
	"strings"

	"github.com/Win2000DevCommunity/RemoteDesk2K/internal/cerrors"
)

// EncodeID formats an encrypted 32-bit peer-ID word as the four
// space-separated, zero-padded decimal octets used on screen (§3).
func EncodeID(encrypted uint32) string {
	a := byte(encrypted)
	b := byte(encrypted >> 8)
	cc := byte(encrypted >> 16)
	d := byte(encrypted >> 24)
	return fmt.Sprintf("%03d %03d %03d %03d", a, b, cc, d)
}

// ParseID accepts the display form with space, dot, or dash separators and
// tolerant whitespace, returning the raw encrypted 32-bit word.
func ParseID(text string) (uint32, error) {
	norm := strings.Map(func(r rune) rune {
		switch r {
		case '.', '-':
			return ' '
		default:
			return r
		}
	}, text)
	fields := strings.Fields(norm)
	if len(fields) != 4 {
		return 0, cerrors.New(cerrors.InvalidArgument, "peer id must have four octets")
	}
	var octets [4]uint32
	for i, f := range fields {
		var v uint32
		if _, err := fmt.Sscanf(f, "%d", &v); err != nil || v > 255 {
			return 0, cerrors.New(cerrors.InvalidArgument, "peer id octet out of range")
		}
		octets[i] = v
	}
	return octets[0] | octets[1]<<8 | octets[2]<<16 | octets[3]<<24, nil
}

// ResolveDirectIP decrypts an encrypted peer-ID word into a usable IPv4
// address for direct connect, rejecting addresses that cannot be a
// legitimate direct-connect target: 0.x.x.x, 127.x.x.x, 255.255.255.255,
// and 224.0.0.0/4 (multicast).
func (c *Cipher) ResolveDirectIP(encrypted uint32) (a, b, cc, d byte, err error) {
	plain := c.DecryptDword(encrypted)
	a = byte(plain)
	b = byte(plain >> 8)
	cc = byte(plain >> 16)
	d = byte(plain >> 24)

	switch {
	case a == 0:
		return 0, 0, 0, 0, cerrors.New(cerrors.InvalidArgument, "peer id resolves to 0.x.x.x")
	case a == 127:
		return 0, 0, 0, 0, cerrors.New(cerrors.InvalidArgument, "peer id resolves to loopback")
	case a == 255 && b == 255 && cc == 255 && d == 255:
		return 0, 0, 0, 0, cerrors.New(cerrors.InvalidArgument, "peer id resolves to broadcast")
	case a >= 224 && a <= 239:
		return 0, 0, 0, 0, cerrors.New(cerrors.InvalidArgument, "peer id resolves to multicast")
	}
	return a, b, cc, d, nil
}

// EncodeDirectID encrypts a dotted-quad IPv4 address into the wire peer-ID
// word, the inverse of ResolveDirectIP's decrypt step.
func (c *Cipher) EncodeDirectID(a, b, cc, d byte) uint32 {
	plain := uint32(a) | uint32(b)<<8 | uint32(cc)<<16 | uint32(d)<<24
	return c.EncryptDword(plain)
}
