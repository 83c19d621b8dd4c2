package wasm

import (
	"errors"
	"io"
)

var (
	// ErrLEBOverflow indicates a LEB128 value exceeded its bit width.
	ErrLEBOverflow = errors.New("leb128: value overflows target width")

	// ErrLEBTooLong indicates a LEB128 encoding used more bytes than allowed.
	ErrLEBTooLong = errors.New("leb128: encoding too long")
)

// ReadU32 decodes an unsigned LEB128 value of at most 32 bits.
func ReadU32(r io.ByteReader) (uint32, error) {
	v, err := readUnsigned(r, 32)
	return uint32(v), err
}

// ReadU64 decodes an unsigned LEB128 value of at most 64 bits.
func ReadU64(r io.ByteReader) (uint64, error) {
	return readUnsigned(r, 64)
}

// ReadS32 decodes a signed LEB128 value of at most 32 bits.
func ReadS32(r io.ByteReader) (int32, error) {
	v, err := readSigned(r, 32)
	return int32(v), err
}

// ReadS33 decodes a signed LEB128 value of at most 33 bits. Used for
// block type immediates.
func ReadS33(r io.ByteReader) (int64, error) {
	return readSigned(r, 33)
}

// ReadS64 decodes a signed LEB128 value of at most 64 bits.
func ReadS64(r io.ByteReader) (int64, error) {
	return readSigned(r, 64)
}

func readUnsigned(r io.ByteReader, bits uint) (uint64, error) {
	var result uint64
	var shift uint
	maxBytes := (bits + 6) / 7
	for i := uint(0); i < maxBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		payload := uint64(b & 0x7F)
		if shift+7 > bits {
			// Final byte: only the low bits fit.
			if payload>>(bits-shift) != 0 {
				return 0, ErrLEBOverflow
			}
		}
		result |= payload << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, ErrLEBTooLong
}

func readSigned(r io.ByteReader, bits uint) (int64, error) {
	var result int64
	var shift uint
	maxBytes := (bits + 6) / 7
	for i := uint(0); i < maxBytes; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7F) << shift
		shift += 7
		if b&0x80 == 0 {
			// Sign extend from the last payload bit.
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			if bits < 64 {
				min := int64(-1) << (bits - 1)
				max := int64(1)<<(bits-1) - 1
				if result < min || result > max {
					return 0, ErrLEBOverflow
				}
			}
			return result, nil
		}
	}
	return 0, ErrLEBTooLong
}

// AppendU32 appends the unsigned LEB128 encoding of v.
func AppendU32(dst []byte, v uint32) []byte {
	return AppendU64(dst, uint64(v))
}

// AppendU64 appends the unsigned LEB128 encoding of v.
func AppendU64(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// AppendS32 appends the signed LEB128 encoding of v.
func AppendS32(dst []byte, v int32) []byte {
	return AppendS64(dst, int64(v))
}

// AppendS64 appends the signed LEB128 encoding of v.
func AppendS64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}
