// Package glowtest assembles glow program images for tests.
package glowtest

import (
	"github.com/fortiblox/glow/pkg/bitstream"
)

// Opcode values, duplicated so that tests inside package glow can import
// this package.
const (
	opHere          = 1
	opGoto          = 2
	opPause         = 3
	opGlowImmediate = 4
	opGlowRamp      = 5
	opContextRegion = 13
	opPathActivate  = 14
	opPathEnd       = 15
)

// Channel bits.
const (
	Red    uint8 = 0x08
	Green  uint8 = 0x04
	Blue   uint8 = 0x02
	Bright uint8 = 0x01
)

// Code is an append-only bit stream.
type Code struct {
	buf []byte
	n   uint32
}

// Bits appends v as a width-bit field.
func (c *Code) Bits(width uint8, v uint32) *Code {
	need := int((c.n + uint32(width) + 7) / bitstream.BitsPerByte)
	for len(c.buf) < need {
		c.buf = append(c.buf, 0)
	}
	if err := bitstream.Write(c.buf, c.n, width, v); err != nil {
		panic(err)
	}
	c.n += uint32(width)
	return c
}

// Len returns the stream length in bits, which is also the bit address of
// the next instruction.
func (c *Code) Len() uint32 {
	return c.n
}

// Bytes returns the stream padded with zero bits to a whole byte.
func (c *Code) Bytes() []byte {
	return c.buf
}

// byteWidth returns the smallest whole byte count, 1 to 4, that holds v.
func byteWidth(v uint32) uint32 {
	switch {
	case v <= 0xFF:
		return 1
	case v <= 0xFFFF:
		return 2
	case v <= 0xFFFFFF:
		return 3
	}
	return 4
}

// sized appends a 2-bit selector and v in (selector+1) bytes.
func (c *Code) sized(v uint32) *Code {
	n := byteWidth(v)
	return c.Bits(2, n-1).Bits(uint8(n*8), v)
}

// Op appends a bare opcode, including reserved values.
func (c *Code) Op(op uint8) *Code {
	return c.Bits(4, uint32(op))
}

// Here appends a label marker.
func (c *Code) Here() *Code {
	return c.Op(opHere)
}

// Goto appends a jump to an absolute bit address within the path.
func (c *Code) Goto(addr uint32) *Code {
	return c.Op(opGoto).Bits(32, addr)
}

// Pause appends a pause of the given number of ticks.
func (c *Code) Pause(ticks uint32) *Code {
	return c.Op(opPause).sized(ticks)
}

// Immediate appends a GlowImmediate. values are indexed red, green, blue,
// bright; only channels in mask are emitted. leds holds one apply flag per
// LED and must cover the whole strip.
func (c *Code) Immediate(mask, action uint8, values [4]uint8, leds []bool) *Code {
	c.Op(opGlowImmediate).Bits(4, uint32(mask)).Bits(2, uint32(action))
	if action > 1 {
		return c
	}
	for i, m := range []uint8{Red, Green, Blue, Bright} {
		if mask&m == 0 {
			continue
		}
		width := uint8(8)
		if m == Bright {
			width = 5
		}
		c.Bits(width, uint32(values[i]))
	}
	return c.flags(leds)
}

// Ramp is one channel of a GlowRamp.
type Ramp struct {
	Channel uint8 // one of Red, Green, Blue, Bright
	Base    uint8
	Trend   uint8 // 0 none, 1 increase, 2 decrease
	Step    uint32
	Delta   uint8
}

// GlowRamp appends a ramp over duration ticks. ramps must be listed in
// red, green, blue, bright order.
func (c *Code) GlowRamp(duration uint32, ramps []Ramp, leds []bool) *Code {
	var mask uint8
	for _, r := range ramps {
		mask |= r.Channel
	}
	c.Op(opGlowRamp).sized(duration).Bits(4, uint32(mask))
	for _, r := range ramps {
		c.Bits(8, uint32(r.Base)).Bits(2, uint32(r.Trend))
		if r.Trend == 0 {
			continue
		}
		c.sized(r.Step).Bits(8, uint32(r.Delta))
	}
	return c.flags(leds)
}

// PathActivate appends an activation of path idx.
func (c *Code) PathActivate(idx uint8) *Code {
	return c.Op(opPathActivate).Bits(8, uint32(idx))
}

// PathEnd appends a path terminator.
func (c *Code) PathEnd() *Code {
	return c.Op(opPathEnd)
}

func (c *Code) flags(leds []bool) *Code {
	for _, on := range leds {
		var v uint32
		if on {
			v = 1
		}
		c.Bits(1, v)
	}
	return c
}

// LEDs returns n apply flags with the listed indexes set.
func LEDs(n int, on ...int) []bool {
	flags := make([]bool, n)
	for _, i := range on {
		flags[i] = true
	}
	return flags
}

// Path is one path's instructions and initial metadata.
type Path struct {
	Code   *Code
	Ended  bool
	Cursor uint32
	Extra  uint32
	Pause  uint32

	// CursorBytes is the cursor field width, 1 to 4. Zero sizes it to the
	// path's bit length.
	CursorBytes uint32
	// ExtraBytes and PauseBytes are the optional field widths, 0 to 4.
	ExtraBytes uint32
	PauseBytes uint32
}

// NewPath returns a runnable path with 2-byte extra and pause fields.
func NewPath(code *Code) Path {
	return Path{Code: code, ExtraBytes: 2, PauseBytes: 2}
}

// Program describes a whole image.
type Program struct {
	LedCount        uint16
	TickIntervalMs  uint16
	BrightnessCoeff uint16
	Paths           []Path
}

// Layout reports where Build placed the regions.
type Layout struct {
	ContextLen int
	InstrLen   int
	Starts     []uint32 // path start offsets within the instruction region
}

// Build assembles the image: context region then instruction region.
func (p Program) Build() ([]byte, Layout) {
	var instr []byte
	var layout Layout
	for _, path := range p.Paths {
		layout.Starts = append(layout.Starts, uint32(len(instr)))
		instr = append(instr, path.Code.Bytes()...)
	}

	ctx := &Code{}
	ctx.Bits(4, opContextRegion).
		Bits(16, 0). // context length, patched below
		Bits(32, uint32(len(instr))).
		Bits(16, uint32(p.LedCount)).
		Bits(16, uint32(p.TickIntervalMs)).
		Bits(16, uint32(p.BrightnessCoeff)).
		Bits(8, uint32(len(p.Paths)))
	for _, path := range p.Paths {
		var v uint32
		if path.Ended {
			v = 1
		}
		ctx.Bits(1, v)
	}
	for i, path := range p.Paths {
		length := uint32(len(path.Code.Bytes()))
		ctx.sized(layout.Starts[i]).sized(length)

		cb := path.CursorBytes
		if cb == 0 {
			cb = byteWidth(length * 8)
		}
		ctx.Bits(2, cb-1).Bits(uint8(cb*8), path.Cursor)
		ctx.Bits(3, path.ExtraBytes).Bits(uint8(path.ExtraBytes*8), path.Extra)
		ctx.Bits(3, path.PauseBytes).Bits(uint8(path.PauseBytes*8), path.Pause)
	}

	image := append([]byte{}, ctx.Bytes()...)
	if err := bitstream.Write(image, 4, 16, uint32(len(image))); err != nil {
		panic(err)
	}
	layout.ContextLen = len(image)
	layout.InstrLen = len(instr)
	return append(image, instr...), layout
}
