package glow

import (
	"fmt"

	"github.com/fortiblox/glow/pkg/bitstream"
	"github.com/fortiblox/glow/pkg/ledstrip"
	"go.uber.org/zap"
)

// handler executes one instruction whose opcode has already been consumed.
// It reports whether the path is blocked for the rest of the tick.
type handler func(ip *Interpreter, p *pathState) (blocked bool, err error)

// handlers covers the whole opcode space; reserved values map to execReserved.
var handlers = [OpcodeCount]handler{
	0:               (*Interpreter).execReserved,
	OpHere:          (*Interpreter).execHere,
	OpGoto:          (*Interpreter).execGoto,
	OpPause:         (*Interpreter).execPause,
	OpGlowImmediate: (*Interpreter).execGlowImmediate,
	OpGlowRamp:      (*Interpreter).execGlowRamp,
	6:               (*Interpreter).execReserved,
	7:               (*Interpreter).execReserved,
	8:               (*Interpreter).execReserved,
	9:               (*Interpreter).execReserved,
	10:              (*Interpreter).execReserved,
	11:              (*Interpreter).execReserved,
	12:              (*Interpreter).execReserved,
	OpContextRegion: (*Interpreter).execReserved,
	OpPathActivate:  (*Interpreter).execPathActivate,
	OpPathEnd:       (*Interpreter).execPathEnd,
}

// step decodes and executes the instruction at the instruction cursor.
func (ip *Interpreter) step(p *pathState) (bool, error) {
	p.at = ip.instr.Tell()
	v, err := ip.instr.Next(OpcodeBits)
	if err != nil {
		return true, err
	}
	ip.stats.Instructions++
	return handlers[v](ip, p)
}

// operand reads the next instruction operand.
func (ip *Interpreter) operand(width uint8) (uint32, error) {
	return ip.instr.Next(width)
}

// sizedOperand reads a 2-bit selector followed by a (sel+1)-byte value.
func (ip *Interpreter) sizedOperand() (uint32, error) {
	sel, err := ip.operand(sizeSelBits)
	if err != nil {
		return 0, err
	}
	return ip.operand(uint8(sel+1) * bitstream.BitsPerByte)
}

func (ip *Interpreter) execReserved(p *pathState) (bool, error) {
	ip.stats.Reserved++
	op, _ := ip.instr.ReadAt(p.at, OpcodeBits)
	ip.logger.Debug("reserved opcode",
		zap.Uint8("path", p.index),
		zap.Uint32("bit", p.at),
		zap.Stringer("opcode", Opcode(op)))
	return false, nil
}

func (ip *Interpreter) execHere(*pathState) (bool, error) {
	return false, nil
}

func (ip *Interpreter) execGoto(*pathState) (bool, error) {
	addr, err := ip.operand(gotoBits)
	if err != nil {
		return true, err
	}
	ip.instr.Seek(addr)
	return false, nil
}

func (ip *Interpreter) execPause(p *pathState) (bool, error) {
	ticks, err := ip.sizedOperand()
	if err != nil {
		return true, err
	}

	p.pause.value = ticks
	if err := ip.persist(p.pause); err != nil {
		return true, err
	}

	// Resume after the operands once the pause runs out.
	p.cursor.value = ip.instr.Tell()
	return true, ip.persist(p.cursor)
}

// channels is a set of channel values selected by a 4-bit bitmap.
type channels struct {
	bitmap uint8
	values [4]uint8 // red, green, blue, bright
}

func (c *channels) has(i int) bool {
	return c.bitmap&channelMasks[i] != 0
}

// applyLeds reads one apply flag per LED and writes the selected channels into
// every flagged LED.
func (ip *Interpreter) applyLeds(c *channels) error {
	leds := ip.frame.Leds
	for i := range leds {
		on, err := ip.operand(ledFlagBits)
		if err != nil {
			return err
		}
		if on == 0 {
			continue
		}
		l := &leds[i]
		if c.has(0) {
			l.Red = c.values[0]
		}
		if c.has(1) {
			l.Green = c.values[1]
		}
		if c.has(2) {
			l.Blue = c.values[2]
		}
		if c.has(3) {
			l.Bright = c.values[3]
		}
		if c.bitmap&0x0F != 0 {
			ip.frame.Dirty = true
		}
	}
	return nil
}

func (ip *Interpreter) execGlowImmediate(*pathState) (bool, error) {
	bitmap, err := ip.operand(bitmapBits)
	if err != nil {
		return true, err
	}
	action, err := ip.operand(actionBits)
	if err != nil {
		return true, err
	}

	switch Action(action) {
	case ActionClearThenSet:
		ip.frame.Fill(0, 0, 0, 0)
	case ActionSetVal:
	default:
		// SetValZero and SetValRandom carry no further operands.
		return false, nil
	}

	c := channels{bitmap: uint8(bitmap)}
	for i := range channelMasks {
		if !c.has(i) {
			continue
		}
		width := uint8(colorBits)
		if channelMasks[i] == MaskBright {
			width = brightBits
		}
		v, err := ip.operand(width)
		if err != nil {
			return true, err
		}
		c.values[i] = uint8(v)
	}

	if err := ip.applyLeds(&c); err != nil {
		return true, err
	}
	return false, nil
}

func (ip *Interpreter) execGlowRamp(p *pathState) (bool, error) {
	duration, err := ip.sizedOperand()
	if err != nil {
		return true, err
	}
	bitmap, err := ip.operand(bitmapBits)
	if err != nil {
		return true, err
	}

	counter := p.extra.value
	if counter > duration {
		counter = 0
	}
	p.extra.value = counter + 1
	if err := ip.persist(p.extra); err != nil {
		return true, err
	}

	c := channels{bitmap: uint8(bitmap)}
	for i := range channelMasks {
		if !c.has(i) {
			continue
		}
		base, err := ip.operand(colorBits)
		if err != nil {
			return true, err
		}
		trend, err := ip.operand(trendBits)
		if err != nil {
			return true, err
		}
		c.values[i] = uint8(base)
		if Trend(trend) == TrendNone {
			continue
		}
		step, err := ip.sizedOperand()
		if err != nil {
			return true, err
		}
		delta, err := ip.operand(deltaBits)
		if err != nil {
			return true, err
		}
		c.values[i] = rampValue(uint8(base), Trend(trend), counter, step, delta)
	}

	if err := ip.applyLeds(&c); err != nil {
		return true, err
	}

	if counter >= duration {
		return false, nil
	}

	// Sleep one tick and re-execute this instruction on resumption.
	p.pause.value = 1
	if err := ip.persist(p.pause); err != nil {
		return true, err
	}
	p.cursor.value = p.at
	return true, ip.persist(p.cursor)
}

// rampValue offsets base by floor(counter/step)*delta in the trend's
// direction, saturating at 0 and 255. Bright uses the same range.
func rampValue(base uint8, trend Trend, counter, step, delta uint32) uint8 {
	if step == 0 {
		return base
	}
	offset := uint64(counter/step) * uint64(delta)
	switch trend {
	case TrendIncrease:
		if offset > uint64(ledstrip.MaxColor-base) {
			return ledstrip.MaxColor
		}
		return base + uint8(offset)
	case TrendDecrease:
		if offset > uint64(base) {
			return 0
		}
		return base - uint8(offset)
	}
	return base
}

func (ip *Interpreter) execPathActivate(*pathState) (bool, error) {
	target, err := ip.operand(pathIdxBits)
	if err != nil {
		return true, err
	}
	if target >= uint32(ip.header.PathCount) {
		ip.assert(fmt.Errorf("%w: activate path %d of %d", ErrPathIndex, target, ip.header.PathCount))
		return false, nil
	}
	// The target runs from its own persisted state when its slot comes up.
	return false, ip.setEnded(uint8(target), false)
}

func (ip *Interpreter) execPathEnd(p *pathState) (bool, error) {
	p.ended = true
	if err := ip.setEnded(p.index, true); err != nil {
		return true, err
	}

	// Leave a clean restart point for a later PathActivate.
	p.pause.value = 0
	if err := ip.persist(p.pause); err != nil {
		return true, err
	}
	p.cursor.value = 0
	return true, ip.persist(p.cursor)
}
