package glow

import (
	"fmt"

	"github.com/fortiblox/glow/pkg/bitstream"
)

// Metadata block selector widths.
const (
	bytesSelBits = 2 // value is (sel+1) bytes wide
	optSelBits   = 3 // value is sel bytes wide, may be absent
)

// field is one persisted metadata value and where it lives.
type field struct {
	addr  uint32
	width uint8
	value uint32
}

// pathState is a path's metadata block, re-read every tick.
type pathState struct {
	index  uint8
	start  uint32 // byte offset into the instruction region
	length uint32 // bytes
	ended  bool

	cursor field // persisted instruction bit address
	extra  field // ramp tick counter
	pause  field // remaining pause ticks

	at uint32 // bit address of the executing instruction
}

// readSized reads a selector and the value whose byte width it selects.
func readSized(c *bitstream.Cursor, selBits uint8, bias uint32) (field, error) {
	sel, err := c.Next(selBits)
	if err != nil {
		return field{}, err
	}
	width := (sel + bias) * bitstream.BitsPerByte
	if width > bitstream.MaxWidth {
		return field{}, fmt.Errorf("%w: selector %d at bit %d", bitstream.ErrFieldWidth, sel, c.Tell()-uint32(selBits))
	}
	f := field{addr: c.Tell(), width: uint8(width)}
	f.value, err = c.Next(f.width)
	return f, err
}

// readPath parses the metadata block at addr for path idx and returns the
// bit address of the next block.
func (ip *Interpreter) readPath(idx uint8, addr uint32) (*pathState, uint32, error) {
	p := &pathState{index: idx}

	ended, err := ip.meta.ReadAt(ip.endedAddr+uint32(idx), endedBitBits)
	if err != nil {
		return nil, 0, err
	}
	p.ended = ended != 0

	// start, length, cursor, extra, pause
	sels := [5]uint8{bytesSelBits, bytesSelBits, bytesSelBits, optSelBits, optSelBits}
	var fs [5]field
	ip.meta.Seek(addr)
	for i, sel := range sels {
		bias := uint32(1)
		if sel == optSelBits {
			bias = 0
		}
		if fs[i], err = readSized(ip.meta, sel, bias); err != nil {
			return nil, 0, fmt.Errorf("path %d metadata: %w", idx, err)
		}
	}
	p.start, p.length = fs[0].value, fs[1].value
	p.cursor, p.extra, p.pause = fs[2], fs[3], fs[4]

	return p, ip.meta.Tell(), nil
}

// persist writes f back to the context region.
func (ip *Interpreter) persist(f field) error {
	return ip.meta.WriteAt(f.addr, f.width, f.value)
}

// setEnded writes the ended bit of path idx.
func (ip *Interpreter) setEnded(idx uint8, ended bool) error {
	var v uint32
	if ended {
		v = 1
	}
	return ip.meta.WriteAt(ip.endedAddr+uint32(idx), endedBitBits, v)
}

// PathInfo is one path's persisted metadata.
type PathInfo struct {
	Index  uint8
	Start  uint32 // byte offset into the instruction region
	Length uint32 // bytes
	Ended  bool
	Cursor uint32
	Extra  uint32
	Pause  uint32
}

// Paths decodes every path's metadata from a context region, such as the
// start of a program image or a saved context.
func Paths(region []byte) ([]PathInfo, error) {
	ip := &Interpreter{meta: bitstream.NewCursor(region)}
	h, err := readHeader(ip.meta)
	if err != nil {
		return nil, err
	}
	ip.endedAddr = ip.meta.Tell()

	out := make([]PathInfo, 0, h.PathCount)
	addr := ip.endedAddr + uint32(h.PathCount)
	for i := 0; i < int(h.PathCount); i++ {
		p, next, err := ip.readPath(uint8(i), addr)
		if err != nil {
			return out, err
		}
		addr = next
		out = append(out, PathInfo{
			Index:  p.index,
			Start:  p.start,
			Length: p.length,
			Ended:  p.ended,
			Cursor: p.cursor.value,
			Extra:  p.extra.value,
			Pause:  p.pause.value,
		})
	}
	return out, nil
}
