// Package binary provides low-level byte reading and writing helpers for
// the WebAssembly binary format codec.
package binary

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrUnexpectedEOF reports a truncated input.
var ErrUnexpectedEOF = errors.New("unexpected end of input")

// Reader wraps a byte slice with positional reads. All reads are bounds
// checked and return ErrUnexpectedEOF on truncation.
type Reader struct {
	buf []byte
	pos int
}

// NewReader returns a Reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Pos returns the current read offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int {
	return len(r.buf) - r.pos
}

// ReadByte implements io.ByteReader.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadBytes returns the next n bytes as a subslice of the underlying
// buffer. The returned slice aliases the input.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadU32LE reads a little-endian fixed-width uint32.
func (r *Reader) ReadU32LE() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64LE reads a little-endian fixed-width uint64.
func (r *Reader) ReadU64LE() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.pos+n > len(r.buf) {
		return ErrUnexpectedEOF
	}
	r.pos += n
	return nil
}

// Sub returns a Reader over the next n bytes and advances past them.
func (r *Reader) Sub(n int) (*Reader, error) {
	b, err := r.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

// Slice returns the bytes between two previously observed positions.
// The returned slice aliases the input.
func (r *Reader) Slice(from, to int) []byte {
	return r.buf[from:to]
}

// ExpectEOF returns an error if unread bytes remain.
func (r *Reader) ExpectEOF() error {
	if r.pos != len(r.buf) {
		return fmt.Errorf("trailing bytes: %d unread at offset %d", r.Len(), r.pos)
	}
	return nil
}

var _ io.ByteReader = (*Reader)(nil)
