// Package bitstream implements bit-addressed field access over byte buffers.
//
// A field is an unsigned value of 0 to 32 bits stored most-significant-bit
// first at an arbitrary bit address. Bit 0 of a buffer is the high bit of
// byte 0. Fields may straddle any number of byte boundaries; reads and writes
// never touch bits outside [addr, addr+width).
package bitstream

import (
	"errors"
	"fmt"
)

// MaxWidth is the widest field that can be read or written.
const MaxWidth = 32

// BitsPerByte is the number of bits in a buffer byte.
const BitsPerByte = 8

// Errors.
var (
	ErrFieldWidth = errors.New("bitfield width exceeds 32 bits")
	ErrOutOfRange = errors.New("bitfield outside buffer")
)

// span validates a field and returns the first and last byte index it covers
// plus the right shift that aligns its low bit within the last byte.
func span(buf []byte, addr uint32, width uint8) (first, last uint32, shift uint, err error) {
	if width > MaxWidth {
		return 0, 0, 0, fmt.Errorf("%w: width %d at bit %d", ErrFieldWidth, width, addr)
	}
	end := uint64(addr) + uint64(width) - 1
	if end/BitsPerByte >= uint64(len(buf)) {
		return 0, 0, 0, fmt.Errorf("%w: bits [%d,%d) of %d", ErrOutOfRange, addr, end+1, uint64(len(buf))*BitsPerByte)
	}
	first = addr / BitsPerByte
	last = uint32(end / BitsPerByte)
	shift = uint(7 - end%BitsPerByte)
	return first, last, shift, nil
}

// Read returns the width-bit field at addr. A zero width reads nothing and
// returns 0.
func Read(buf []byte, addr uint32, width uint8) (uint32, error) {
	if width == 0 {
		return 0, nil
	}
	first, last, shift, err := span(buf, addr, width)
	if err != nil {
		return 0, err
	}

	// At most 5 bytes: 32 bits plus 7 bits of misalignment.
	var acc uint64
	var j uint
	for i := last; ; i-- {
		acc |= uint64(buf[i]) << j
		j += BitsPerByte
		if i == first {
			break // test before decrementing; first may be 0
		}
	}

	mask := uint64(1)<<width - 1
	return uint32((acc >> shift) & mask), nil
}

// Write stores v truncated to width bits at addr. A zero width is a no-op.
func Write(buf []byte, addr uint32, width uint8, v uint32) error {
	if width == 0 {
		return nil
	}
	first, last, shift, err := span(buf, addr, width)
	if err != nil {
		return err
	}

	mask := (uint64(1)<<width - 1) << shift
	val := (uint64(v) << shift) & mask
	for i := last; ; i-- {
		buf[i] = buf[i]&^byte(mask) | byte(val)
		mask >>= BitsPerByte
		val >>= BitsPerByte
		if i == first {
			break
		}
	}
	return nil
}

// Cursor is a running bit position bound to a buffer.
//
// Addresses are relative to the start of the bound buffer. The instruction
// and metadata regions each get their own Cursor.
type Cursor struct {
	buf []byte
	pos uint32
}

// NewCursor returns a cursor at bit 0 of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Bind rebinds the cursor to buf and rewinds it to bit 0.
func (c *Cursor) Bind(buf []byte) {
	c.buf = buf
	c.pos = 0
}

// Bytes returns the bound buffer.
func (c *Cursor) Bytes() []byte {
	return c.buf
}

// Len returns the size of the bound buffer in bits.
func (c *Cursor) Len() uint32 {
	return uint32(len(c.buf)) * BitsPerByte
}

// Remaining returns the number of bits between the cursor and the end of the
// buffer, or 0 if the cursor is past the end.
func (c *Cursor) Remaining() uint32 {
	if n := c.Len(); c.pos < n {
		return n - c.pos
	}
	return 0
}

// Tell returns the current bit address.
func (c *Cursor) Tell() uint32 {
	return c.pos
}

// Seek moves the cursor to an absolute bit address.
func (c *Cursor) Seek(addr uint32) {
	c.pos = addr
}

// Advance moves the cursor forward n bits.
func (c *Cursor) Advance(n uint32) {
	c.pos += n
}

// Next reads the field at the cursor and advances past it. On error the
// cursor does not move.
func (c *Cursor) Next(width uint8) (uint32, error) {
	v, err := Read(c.buf, c.pos, width)
	if err != nil {
		return 0, err
	}
	c.pos += uint32(width)
	return v, nil
}

// ReadAt reads the field at addr without moving the cursor.
func (c *Cursor) ReadAt(addr uint32, width uint8) (uint32, error) {
	return Read(c.buf, addr, width)
}

// WriteAt writes the field at addr without moving the cursor.
func (c *Cursor) WriteAt(addr uint32, width uint8, v uint32) error {
	return Write(c.buf, addr, width, v)
}
