package wasm

import (
	"bytes"
	"testing"
)

func TestReadU32_RoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 16384, 0xFFFF, 0xFFFFFFFF}
	for _, v := range values {
		enc := AppendU32(nil, v)
		got, err := ReadU32(bytes.NewReader(enc))
		if err != nil {
			t.Fatalf("ReadU32(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestReadS32_RoundTrip(t *testing.T) {
	values := []int32{0, 1, -1, 63, 64, -64, -65, 8191, -2147483648, 2147483647}
	for _, v := range values {
		enc := AppendS32(nil, v)
		got, err := ReadS32(bytes.NewReader(enc))
		if err != nil {
			t.Fatalf("ReadS32(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestReadS64_RoundTrip(t *testing.T) {
	values := []int64{0, -1, 1 << 40, -(1 << 40), -9223372036854775808, 9223372036854775807}
	for _, v := range values {
		enc := AppendS64(nil, v)
		got, err := ReadS64(bytes.NewReader(enc))
		if err != nil {
			t.Fatalf("ReadS64(%d): %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d: got %d", v, got)
		}
	}
}

func TestReadU32_Overflow(t *testing.T) {
	// Six continuation bytes exceed the 5-byte limit for u32.
	if _, err := ReadU32(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01})); err == nil {
		t.Fatal("expected error for over-long encoding")
	}
	// Five bytes whose final payload overflows 32 bits.
	if _, err := ReadU32(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x7F})); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestReadU32_Truncated(t *testing.T) {
	if _, err := ReadU32(bytes.NewReader([]byte{0x80})); err == nil {
		t.Fatal("expected error for truncated input")
	}
}

func TestReadS33_BlockTypes(t *testing.T) {
	cases := map[byte]int64{
		0x40: -64, // void
		0x7F: -1,  // i32
		0x7E: -2,  // i64
		0x7D: -3,  // f32
		0x7C: -4,  // f64
	}
	for b, want := range cases {
		got, err := ReadS33(bytes.NewReader([]byte{b}))
		if err != nil {
			t.Fatalf("ReadS33(0x%02x): %v", b, err)
		}
		if got != want {
			t.Errorf("ReadS33(0x%02x) = %d, want %d", b, got, want)
		}
	}
}
