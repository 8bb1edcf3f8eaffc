// Package glow implements the tick-driven interpreter for bit-packed LED
// animation programs.
//
// A program buffer holds a context region followed by an instruction region.
// The context region starts with a fixed header, then one ended bit per path,
// then one variable-width metadata block per path. Every value a path needs to
// resume (instruction cursor, ramp counter, pause countdown) lives in its
// metadata block, so the context region alone is the complete run state.
//
// Programs run either resident, with the whole buffer in RAM, or paged, where
// the RAM buffer holds the context region plus one path's instructions at a
// time, copied in from storage as each path is scheduled.
package glow

import (
	"errors"
	"fmt"

	"github.com/fortiblox/glow/pkg/bitstream"
	"github.com/fortiblox/glow/pkg/ledstrip"
	"go.uber.org/zap"
)

// Errors.
var (
	ErrInvalidHeader  = errors.New("invalid context header")
	ErrNotInitialized = errors.New("interpreter not initialized")
	ErrCacheOverflow  = errors.New("region does not fit in ram buffer")
	ErrOutOfRange     = errors.New("storage read outside bounds")
	ErrBudgetExceeded = errors.New("instruction budget exceeded")
	ErrPathIndex      = errors.New("path index out of range")
	ErrContextLength  = errors.New("context region length mismatch")
)

// Storage is the non-volatile memory programs are paged from.
type Storage interface {
	// ReadAt fills dst with the bytes starting at absolute address src.
	ReadAt(dst []byte, src uint32) error
}

// InterpreterOpts configures an Interpreter.
type InterpreterOpts struct {
	// LedCount is the number of LEDs on the strip. Zero adopts the count
	// from the program header.
	LedCount int

	// Storage selects paged mode when non-nil.
	Storage Storage
	// NvmStart is the storage address of the program buffer.
	NvmStart uint32
	// NvmEnd bounds storage reads when non-zero.
	NvmEnd uint32

	// MaxInstructions limits the instructions one path may execute per
	// tick. Zero disables the limit.
	MaxInstructions uint64

	Pusher                  ledstrip.Pusher
	OnTickInterval          func(ms uint16)
	OnBrightnessCoefficient func(v uint16)
	OnAssert                func(err error)

	Logger *zap.Logger
}

// Stats counts interpreter activity since construction.
type Stats struct {
	Ticks        uint64
	Instructions uint64
	Reserved     uint64 // reserved opcodes executed as no-ops
	Pages        uint64 // path instruction loads from storage
	Pushes       uint64
	Asserts      uint64
}

// Interpreter executes one program. It is not safe for concurrent use.
type Interpreter struct {
	sram   []byte
	opts   InterpreterOpts
	logger *zap.Logger

	header     Header
	meta       *bitstream.Cursor // context region
	instr      *bitstream.Cursor // current path's instructions
	endedAddr  uint32
	firstBlock uint32

	frame *ledstrip.Buffer
	meter *InstructionMeter
	stats Stats
	ready bool
}

// NewInterpreter creates an interpreter over sram. In resident mode sram
// holds the whole program; in paged mode it is the cache the context region
// and the scheduled path's instructions are loaded into.
func NewInterpreter(sram []byte, opts InterpreterOpts) *Interpreter {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		sram:   sram,
		opts:   opts,
		logger: logger.Named("glow"),
		meta:   bitstream.NewCursor(nil),
		instr:  bitstream.NewCursor(nil),
		frame:  ledstrip.NewBuffer(opts.LedCount),
		meter:  NewInstructionMeter(opts.MaxInstructions),
	}
}

// paged reports whether instructions are loaded from storage.
func (ip *Interpreter) paged() bool {
	return ip.opts.Storage != nil
}

// Init parses the context header, forwards the tick interval and brightness
// coefficient, loads the context region in paged mode, and pushes an all-off
// frame. A returned error means the program must not be run; a bad header
// tag wraps ErrInvalidHeader.
func (ip *Interpreter) Init() error {
	ip.ready = false

	if ip.paged() {
		if len(ip.sram) < HeaderBytes {
			return fmt.Errorf("%w: header needs %d bytes, have %d", ErrCacheOverflow, HeaderBytes, len(ip.sram))
		}
		if err := ip.load(ip.sram[:HeaderBytes], ip.opts.NvmStart); err != nil {
			return err
		}
	}

	ip.meta.Bind(ip.sram)
	h, err := readHeader(ip.meta)
	if err != nil {
		return err
	}
	ip.endedAddr = ip.meta.Tell()
	ip.meta.Advance(uint32(h.PathCount))
	ip.firstBlock = ip.meta.Tell()

	if uint32(h.ContextLen)*bitstream.BitsPerByte < ip.firstBlock {
		return fmt.Errorf("%w: context length %d cannot hold %d paths", ErrInvalidHeader, h.ContextLen, h.PathCount)
	}
	if int(h.ContextLen) > len(ip.sram) {
		return fmt.Errorf("%w: context region %d bytes, ram %d", ErrCacheOverflow, h.ContextLen, len(ip.sram))
	}
	if !ip.paged() && uint64(h.ContextLen)+uint64(h.InstrLen) > uint64(len(ip.sram)) {
		return fmt.Errorf("%w: program %d bytes, ram %d", ErrCacheOverflow,
			uint64(h.ContextLen)+uint64(h.InstrLen), len(ip.sram))
	}
	ip.header = h

	if ip.opts.OnTickInterval != nil {
		ip.opts.OnTickInterval(h.TickIntervalMs)
	}
	if ip.opts.OnBrightnessCoefficient != nil {
		ip.opts.OnBrightnessCoefficient(h.BrightnessCoeff)
	}

	if ip.paged() {
		if err := ip.load(ip.sram[:h.ContextLen], ip.opts.NvmStart); err != nil {
			return err
		}
	}

	ip.meta.Bind(ip.sram[:h.ContextLen])
	ip.instr.Bind(ip.sram[h.ContextLen:])

	switch n := ip.opts.LedCount; {
	case n == 0:
		ip.frame = ledstrip.NewBuffer(int(h.LedCount))
	case n != int(h.LedCount):
		ip.logger.Warn("program led count differs from strip",
			zap.Uint16("program", h.LedCount),
			zap.Int("strip", n))
	}

	ip.logger.Info("program initialized",
		zap.Uint16("contextLen", h.ContextLen),
		zap.Uint32("instrLen", h.InstrLen),
		zap.Uint8("paths", h.PathCount),
		zap.Uint16("tickIntervalMs", h.TickIntervalMs),
		zap.Bool("paged", ip.paged()))

	ip.ready = true
	return ip.SetTestColor(0, 0, 0, 0)
}

// Run executes one tick: every runnable path in ascending index order, then
// a frame push if the frame is dirty. The boolean is reserved for signaling
// completion and is always true once initialized.
//
// Errors inside a path are reported through OnAssert and stop only that
// path. The returned error joins storage and push failures; the tick's state
// changes are kept either way.
func (ip *Interpreter) Run() (bool, error) {
	if !ip.ready {
		return false, ErrNotInitialized
	}
	ip.stats.Ticks++

	var errs []error
	addr := ip.firstBlock
	for i := 0; i < int(ip.header.PathCount); i++ {
		p, next, err := ip.readPath(uint8(i), addr)
		if err != nil {
			// Later blocks start where this one ends, so none are reachable.
			ip.assert(err)
			break
		}
		addr = next

		if p.ended {
			continue
		}
		if p.pause.value > 0 {
			p.pause.value--
			if err := ip.persist(p.pause); err != nil {
				ip.assert(err)
				continue
			}
			if p.pause.value > 0 {
				continue
			}
		}

		if err := ip.stage(p); err != nil {
			ip.logger.Error("staging path failed", zap.Uint8("path", p.index), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		ip.runPath(p)
	}

	if ip.frame.Dirty {
		if err := ip.push(); err != nil {
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}

// stage binds the instruction cursor to path p's instructions, copying them
// into the cache first in paged mode.
func (ip *Interpreter) stage(p *pathState) error {
	base := uint64(ip.header.ContextLen)
	if ip.paged() {
		if base+uint64(p.length) > uint64(len(ip.sram)) {
			return fmt.Errorf("%w: path %d needs %d bytes, cache has %d", ErrCacheOverflow,
				p.index, p.length, uint64(len(ip.sram))-base)
		}
		window := ip.sram[base : base+uint64(p.length)]
		src := uint64(ip.opts.NvmStart) + base + uint64(p.start)
		if src > uint64(^uint32(0)) {
			return fmt.Errorf("%w: path %d at %d", ErrOutOfRange, p.index, src)
		}
		if err := ip.load(window, uint32(src)); err != nil {
			return err
		}
		ip.stats.Pages++
		ip.instr.Bind(window)
		return nil
	}

	lo := base + uint64(p.start)
	hi := lo + uint64(p.length)
	if hi > uint64(len(ip.sram)) {
		return fmt.Errorf("%w: path %d spans bytes [%d,%d) of %d", bitstream.ErrOutOfRange,
			p.index, lo, hi, len(ip.sram))
	}
	ip.instr.Bind(ip.sram[lo:hi])
	return nil
}

// runPath decodes p from its persisted cursor until an instruction blocks or
// no complete opcode remains.
func (ip *Interpreter) runPath(p *pathState) {
	ip.instr.Seek(p.cursor.value)
	ip.meter.Reset()

	for ip.instr.Remaining() >= OpcodeBits {
		if err := ip.meter.Consume(1); err != nil {
			ip.logger.Warn("path stopped for this tick",
				zap.Uint8("path", p.index),
				zap.Uint64("limit", ip.meter.Limit()),
				zap.Error(err))
			return
		}
		blocked, err := ip.step(p)
		if err != nil {
			ip.assert(fmt.Errorf("path %d at bit %d: %w", p.index, p.at, err))
			return
		}
		if blocked {
			return
		}
	}
}

// load reads len(dst) bytes from storage address src.
func (ip *Interpreter) load(dst []byte, src uint32) error {
	end := uint64(src) + uint64(len(dst))
	if ip.opts.NvmEnd != 0 && end > uint64(ip.opts.NvmEnd) {
		return fmt.Errorf("%w: [%d,%d) past %d", ErrOutOfRange, src, end, ip.opts.NvmEnd)
	}
	if err := ip.opts.Storage.ReadAt(dst, src); err != nil {
		return fmt.Errorf("storage read at %d: %w", src, err)
	}
	return nil
}

// assert reports an invariant violation.
func (ip *Interpreter) assert(err error) {
	ip.stats.Asserts++
	ip.logger.Warn("assertion failed", zap.Error(err))
	if ip.opts.OnAssert != nil {
		ip.opts.OnAssert(err)
	}
}

func (ip *Interpreter) push() error {
	ip.stats.Pushes++
	if ip.opts.Pusher == nil {
		return nil
	}
	if err := ip.opts.Pusher.Push(ip.frame); err != nil {
		return fmt.Errorf("push frame: %w", err)
	}
	return nil
}

// SetTestColor floods every LED with one color and pushes the frame
// immediately.
func (ip *Interpreter) SetTestColor(red, green, blue, bright uint8) error {
	ip.frame.Fill(red, green, blue, bright)
	return ip.push()
}

// Frame returns the live LED frame.
func (ip *Interpreter) Frame() *ledstrip.Buffer {
	return ip.frame
}

// Header returns the parsed context header. It is zero before Init.
func (ip *Interpreter) Header() Header {
	return ip.header
}

// Stats returns activity counters.
func (ip *Interpreter) Stats() Stats {
	return ip.stats
}

// ContextRegion returns a copy of the context region, which holds every
// path's resumable state.
func (ip *Interpreter) ContextRegion() ([]byte, error) {
	if !ip.ready {
		return nil, ErrNotInitialized
	}
	out := make([]byte, ip.header.ContextLen)
	copy(out, ip.sram)
	return out, nil
}

// RestoreContext replaces the context region with one saved by
// ContextRegion. The saved header must match the loaded program's.
func (ip *Interpreter) RestoreContext(region []byte) error {
	if !ip.ready {
		return ErrNotInitialized
	}
	if len(region) != int(ip.header.ContextLen) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrContextLength, len(region), ip.header.ContextLen)
	}
	h, err := ParseHeader(region)
	if err != nil {
		return err
	}
	if h != ip.header {
		return fmt.Errorf("%w: saved header does not match program", ErrInvalidHeader)
	}
	copy(ip.sram, region)
	return nil
}
