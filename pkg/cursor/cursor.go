// Package cursor provides a bounds-checked reader over an in-memory byte
// buffer. It is the foundation for every parser in this module: forensic
// input is routinely truncated or damaged, so running past the end of a
// buffer is an expected condition that is reported as an error, never a
// panic.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOutOfBounds is the sentinel wrapped by every bounds failure. Callers
// should test with errors.Is.
var ErrOutOfBounds = errors.New("read past end of buffer")

// BoundsError describes a failed read: where it happened and how far short
// the buffer fell.
type BoundsError struct {
	Offset int // position the read started at
	Want   int // bytes requested
	Have   int // bytes remaining
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("read past end of buffer at offset %d: want %d bytes, have %d", e.Offset, e.Want, e.Have)
}

func (e *BoundsError) Unwrap() error {
	return ErrOutOfBounds
}

// Cursor reads sequentially from an immutable byte slice. Reads return
// subslices of the backing buffer rather than copies; the buffer must not
// be mutated while any returned slice is in use. A Cursor is not safe for
// concurrent use, but separate Cursors over the same buffer are.
type Cursor struct {
	buf []byte
	pos int
}

// New returns a Cursor positioned at the start of buf.
func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Position returns the current offset within the buffer.
func (c *Cursor) Position() int {
	return c.pos
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// Len returns the total length of the backing buffer.
func (c *Cursor) Len() int {
	return len(c.buf)
}

// Seek moves the cursor to an absolute offset. Seeking anywhere within
// [0, Len()] is valid; Seek(Len()) positions the cursor at end-of-buffer.
func (c *Cursor) Seek(offset int) error {
	if offset < 0 || offset > len(c.buf) {
		return &BoundsError{Offset: offset, Want: 0, Have: len(c.buf)}
	}
	c.pos = offset
	return nil
}

// Skip advances the cursor n bytes without returning them.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Remaining() {
		return &BoundsError{Offset: c.pos, Want: n, Have: c.Remaining()}
	}
	c.pos += n
	return nil
}

// Read returns the next n bytes and advances the cursor. The returned
// slice aliases the backing buffer.
func (c *Cursor) Read(n int) ([]byte, error) {
	b, err := c.Peek(n)
	if err != nil {
		return nil, err
	}
	c.pos += n
	return b, nil
}

// Peek returns the next n bytes without advancing the cursor.
func (c *Cursor) Peek(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, &BoundsError{Offset: c.pos, Want: n, Have: c.Remaining()}
	}
	return c.buf[c.pos : c.pos+n], nil
}

// ReadByte returns the next byte and advances the cursor.
func (c *Cursor) ReadByte() (byte, error) {
	b, err := c.Read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Rest returns all unread bytes, leaving the cursor at end-of-buffer.
func (c *Cursor) Rest() []byte {
	b := c.buf[c.pos:]
	c.pos = len(c.buf)
	return b
}

// Span returns the view [start, end) of the backing buffer, independent of
// the cursor position. Parsers use it to attach raw spans to the records
// they produce.
func (c *Cursor) Span(start, end int) ([]byte, error) {
	if start < 0 || end < start || end > len(c.buf) {
		return nil, &BoundsError{Offset: start, Want: end - start, Have: len(c.buf) - start}
	}
	return c.buf[start:end], nil
}

// ReadUint16LE reads a little-endian uint16.
func (c *Cursor) ReadUint16LE() (uint16, error) {
	b, err := c.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint16BE reads a big-endian uint16.
func (c *Cursor) ReadUint16BE() (uint16, error) {
	b, err := c.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint24LE reads a little-endian 3-byte unsigned integer, as used by
// chunk length fields.
func (c *Cursor) ReadUint24LE() (uint32, error) {
	b, err := c.Read(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
}

// ReadUint32LE reads a little-endian uint32.
func (c *Cursor) ReadUint32LE() (uint32, error) {
	b, err := c.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint32BE reads a big-endian uint32.
func (c *Cursor) ReadUint32BE() (uint32, error) {
	b, err := c.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint64LE reads a little-endian uint64.
func (c *Cursor) ReadUint64LE() (uint64, error) {
	b, err := c.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// ReadUint64BE reads a big-endian uint64.
func (c *Cursor) ReadUint64BE() (uint64, error) {
	b, err := c.Read(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadUntil reads up to and including the first occurrence of delim,
// returning the bytes before it. If delim is not found the rest of the
// buffer is consumed and found is false.
func (c *Cursor) ReadUntil(delim byte) (data []byte, found bool) {
	for i := c.pos; i < len(c.buf); i++ {
		if c.buf[i] == delim {
			data = c.buf[c.pos:i]
			c.pos = i + 1
			return data, true
		}
	}
	return c.Rest(), false
}
