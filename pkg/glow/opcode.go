package glow

import "fmt"

// Opcode is the 4-bit instruction tag at the start of every instruction.
type Opcode uint8

// OpcodeBits is the width of an opcode field.
const OpcodeBits = 4

// OpcodeCount is the size of the opcode space.
const OpcodeCount = 1 << OpcodeBits

// Opcodes. Values not listed are reserved and execute as no-ops.
const (
	OpHere          Opcode = 1  // label marker
	OpGoto          Opcode = 2  // 32-bit absolute bit address
	OpPause         Opcode = 3  // sized tick count
	OpGlowImmediate Opcode = 4  // set channel values on selected LEDs
	OpGlowRamp      Opcode = 5  // ramp channel values over ticks
	OpContextRegion Opcode = 13 // header tag, never executed
	OpPathActivate  Opcode = 14 // 8-bit path index
	OpPathEnd       Opcode = 15
)

var opcodeNames = [OpcodeCount]string{
	OpHere:          "Here",
	OpGoto:          "Goto",
	OpPause:         "Pause",
	OpGlowImmediate: "GlowImmediate",
	OpGlowRamp:      "GlowRamp",
	OpContextRegion: "ContextRegion",
	OpPathActivate:  "PathActivate",
	OpPathEnd:       "PathEnd",
}

// String returns the opcode name.
func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Reserved(%d)", uint8(op))
}

// Reserved reports whether op has no executable behavior.
func (op Opcode) Reserved() bool {
	switch op {
	case OpHere, OpGoto, OpPause, OpGlowImmediate, OpGlowRamp, OpPathActivate, OpPathEnd:
		return false
	}
	return true
}

// Channel bitmap bits, in operand order.
const (
	MaskRed    = 0x08
	MaskGreen  = 0x04
	MaskBlue   = 0x02
	MaskBright = 0x01
)

// channelMasks lists the channel bits in the order their operands appear.
var channelMasks = [4]uint8{MaskRed, MaskGreen, MaskBlue, MaskBright}

// Operand widths.
const (
	bitmapBits   = 4
	actionBits   = 2
	trendBits    = 2
	sizeSelBits  = 2 // selects (sel+1) bytes
	colorBits    = 8
	brightBits   = 5
	deltaBits    = 8
	gotoBits     = 32
	pathIdxBits  = 8
	ledFlagBits  = 1
	endedBitBits = 1
)

// Action selects how GlowImmediate writes its values.
type Action uint8

// GlowImmediate actions.
const (
	ActionSetVal       Action = 0
	ActionClearThenSet Action = 1
	ActionSetValZero   Action = 2 // reserved
	ActionSetValRandom Action = 3 // reserved
)

// Trend is the direction of a GlowRamp channel.
type Trend uint8

// GlowRamp trends.
const (
	TrendNone     Trend = 0
	TrendIncrease Trend = 1
	TrendDecrease Trend = 2
)
