package glow

import (
	"fmt"

	"github.com/fortiblox/glow/pkg/bitstream"
)

// Context header field widths, in stream order.
const (
	magicBits           = 4
	contextLenBits      = 16
	instrLenBits        = 32
	ledCountBits        = 16
	tickIntervalBits    = 16
	brightnessCoeffBits = 16
	pathCountBits       = 8
)

// HeaderBits is the size of the fixed context header.
const HeaderBits = magicBits + contextLenBits + instrLenBits + ledCountBits +
	tickIntervalBits + brightnessCoeffBits + pathCountBits

// HeaderBytes is the number of bytes that must be resident to parse the header.
const HeaderBytes = (HeaderBits + 7) / 8

// Header is the fixed prefix of the context region.
type Header struct {
	ContextLen      uint16 // bytes
	InstrLen        uint32 // bytes
	LedCount        uint16
	TickIntervalMs  uint16
	BrightnessCoeff uint16
	PathCount       uint8
}

// ParseHeader parses the context header at the start of buf.
func ParseHeader(buf []byte) (Header, error) {
	return readHeader(bitstream.NewCursor(buf))
}

// readHeader parses the header at the cursor and leaves the cursor just past it.
func readHeader(c *bitstream.Cursor) (Header, error) {
	var h Header

	magic, err := c.Next(magicBits)
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if Opcode(magic) != OpContextRegion {
		return h, fmt.Errorf("%w: tag %d, want %d", ErrInvalidHeader, magic, OpContextRegion)
	}

	fields := []struct {
		width uint8
		set   func(uint32)
	}{
		{contextLenBits, func(v uint32) { h.ContextLen = uint16(v) }},
		{instrLenBits, func(v uint32) { h.InstrLen = v }},
		{ledCountBits, func(v uint32) { h.LedCount = uint16(v) }},
		{tickIntervalBits, func(v uint32) { h.TickIntervalMs = uint16(v) }},
		{brightnessCoeffBits, func(v uint32) { h.BrightnessCoeff = uint16(v) }},
		{pathCountBits, func(v uint32) { h.PathCount = uint8(v) }},
	}
	for _, f := range fields {
		v, err := c.Next(f.width)
		if err != nil {
			return h, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
		}
		f.set(v)
	}
	return h, nil
}
