package cipher

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	c := NewDefault()
	rng := rand.New(rand.NewSource(1))

	for _, n := range []int{0, 1, 5, 16, 17, 255, 4096} {
		buf := make([]byte, n)
		rng.Read(buf)
		orig := append([]byte(nil), buf...)

		c.Encrypt(buf)
		if n > 0 && bytes.Equal(buf, orig) {
			t.Fatalf("encrypt was a no-op for n=%d", n)
		}
		c.Decrypt(buf)
		if !bytes.Equal(buf, orig) {
			t.Fatalf("round trip mismatch for n=%d: got %v want %v", n, buf, orig)
		}
	}
}

// TestEncryptRotationSchedule guards against the rotation amount being
// computed on a byte-truncated position instead of the full loop index:
// both versions round-trip against themselves, so only a comparison
// against an independently computed rotation schedule (plain int, never
// truncated to a byte) catches the divergence at offsets >= 256, which
// is where real screen-delta rects and file chunks land on the wire.
func TestEncryptRotationSchedule(t *testing.T) {
	c := NewDefault()
	buf := make([]byte, 264)
	for i := range buf {
		buf[i] = byte(i)
	}
	orig := append([]byte(nil), buf...)

	c.Encrypt(buf)

	for i, x := range orig {
		rot := 1 + uint((i+1)%7)
		want := rotl8(sbox[x^c.key[i%KeySize]], rot)
		want ^= byte((i * 37) & 0xFF)
		if buf[i] != want {
			t.Fatalf("byte %d: got %#x want %#x (rot=%d)", i, buf[i], want, rot)
		}
	}
}

func TestDwordRoundTrip(t *testing.T) {
	c := NewDefault()
	for _, v := range []uint32{0, 1, 0xDEADBEEF, 0xFFFFFFFF, 0x01020304} {
		enc := c.EncryptDword(v)
		if got := c.DecryptDword(enc); got != v {
			t.Fatalf("dword round trip: got %x want %x", got, v)
		}
	}
}

func TestEmptyIsNoOp(t *testing.T) {
	c := NewDefault()
	var buf []byte
	c.Encrypt(buf)
	c.Decrypt(buf)
	if len(buf) != 0 {
		t.Fatalf("expected empty buffer to remain empty")
	}
}

func TestServerIDRoundTrip(t *testing.T) {
	c := NewDefault()
	cases := []struct {
		ip   [4]byte
		port uint16
	}{
		{[4]byte{192, 168, 1, 100}, 5000},
		{[4]byte{10, 0, 0, 1}, 1},
		{[4]byte{255, 255, 255, 255}, 65535},
		{[4]byte{0, 0, 0, 0}, 5901},
	}
	for _, tc := range cases {
		s, err := c.EncodeServerID(tc.ip, tc.port)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if len(s) < 14 || len(s) > 17 {
			t.Fatalf("unexpected server id length %d: %q", len(s), s)
		}
		ip, port, err := c.DecodeServerID(s)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ip != tc.ip || port != tc.port {
			t.Fatalf("round trip mismatch: got (%v,%d) want (%v,%d)", ip, port, tc.ip, tc.port)
		}
	}
}

func TestServerIDTamperRejected(t *testing.T) {
	c := NewDefault()
	s, err := c.EncodeServerID([4]byte{192, 168, 1, 100}, 5000)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	clean := []byte(s)
	// Flip a bit in the first symbol's underlying rune to corrupt the payload.
	for i, r := range clean {
		if r != '-' {
			if r == 'A' {
				clean[i] = 'B'
			} else {
				clean[i] = 'A'
			}
			break
		}
	}
	if _, _, err := c.DecodeServerID(string(clean)); err == nil {
		t.Fatalf("expected tampered server id to be rejected")
	}
}

func TestDecodeServerIDInvalid(t *testing.T) {
	c := NewDefault()
	if _, _, err := c.DecodeServerID("AAAA-AAAA-AAAA"); err == nil {
		t.Fatalf("expected invalid server id to be rejected")
	}
}

func TestResolveDirectIPRejectsInvalid(t *testing.T) {
	c := NewDefault()
	for _, ip := range [][4]byte{
		{0, 1, 2, 3},
		{127, 0, 0, 1},
		{255, 255, 255, 255},
		{224, 0, 0, 1},
	} {
		enc := c.EncodeDirectID(ip[0], ip[1], ip[2], ip[3])
		if _, _, _, _, err := c.ResolveDirectIP(enc); err == nil {
			t.Fatalf("expected %v to be rejected", ip)
		}
	}
}

func TestResolveDirectIPAcceptsValid(t *testing.T) {
	c := NewDefault()
	enc := c.EncodeDirectID(192, 168, 1, 100)
	a, b, cc, d, err := c.ResolveDirectIP(enc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != 192 || b != 168 || cc != 1 || d != 100 {
		t.Fatalf("got %d.%d.%d.%d", a, b, cc, d)
	}
}

func TestIDDisplayRoundTrip(t *testing.T) {
	const word uint32 = 0xC0A80164
	s := EncodeID(word)
	got, err := ParseID(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != word {
		t.Fatalf("got %x want %x", got, word)
	}
	if _, err := ParseID("192.168.001.100"); err != nil {
		t.Fatalf("dotted form should parse: %v", err)
	}
	if _, err := ParseID("192-168-001-100"); err != nil {
		t.Fatalf("dashed form should parse: %v", err)
	}
}
