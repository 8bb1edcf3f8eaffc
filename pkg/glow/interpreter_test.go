package glow

import (
	"testing"

	"github.com/fortiblox/glow/internal/glowtest"
	"github.com/fortiblox/glow/pkg/ledstrip"
	"github.com/fortiblox/glow/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newResident initializes an interpreter with the whole image in ram.
func newResident(t *testing.T, prog glowtest.Program, opts InterpreterOpts) *Interpreter {
	t.Helper()
	image, _ := prog.Build()
	sram := make([]byte, len(image)+16)
	copy(sram, image)
	ip := NewInterpreter(sram, opts)
	require.NoError(t, ip.Init())
	return ip
}

// pathAt parses the metadata block of path idx.
func pathAt(t *testing.T, ip *Interpreter, idx uint8) *pathState {
	t.Helper()
	var (
		p   *pathState
		err error
	)
	addr := ip.firstBlock
	for i := uint8(0); i <= idx; i++ {
		p, addr, err = ip.readPath(i, addr)
		require.NoError(t, err)
	}
	return p
}

func tick(t *testing.T, ip *Interpreter) {
	t.Helper()
	ok, err := ip.Run()
	require.NoError(t, err)
	require.True(t, ok)
}

// pauseProgram has path 0 pause three ticks before lighting LED 0 green,
// while path 1 lights LED 1 blue on every tick.
func pauseProgram() glowtest.Program {
	a := (&glowtest.Code{}).
		Pause(3).
		Immediate(glowtest.Green, 0, [4]uint8{0, 200}, glowtest.LEDs(2, 0)).
		PathEnd()
	b := (&glowtest.Code{}).
		Immediate(glowtest.Blue, 0, [4]uint8{0, 0, 9}, glowtest.LEDs(2, 1)).
		Pause(1).
		Goto(0)
	return glowtest.Program{
		LedCount: 2,
		Paths:    []glowtest.Path{glowtest.NewPath(a), glowtest.NewPath(b)},
	}
}

func TestParseHeader(t *testing.T) {
	prog := glowtest.Program{
		LedCount:        60,
		TickIntervalMs:  25,
		BrightnessCoeff: 300,
		Paths: []glowtest.Path{
			glowtest.NewPath((&glowtest.Code{}).PathEnd()),
			glowtest.NewPath((&glowtest.Code{}).Here().PathEnd()),
		},
	}
	image, layout := prog.Build()

	h, err := ParseHeader(image)
	require.NoError(t, err)
	assert.Equal(t, Header{
		ContextLen:      uint16(layout.ContextLen),
		InstrLen:        uint32(layout.InstrLen),
		LedCount:        60,
		TickIntervalMs:  25,
		BrightnessCoeff: 300,
		PathCount:       2,
	}, h)
	assert.Equal(t, 14, HeaderBytes)
}

func TestInitRejectsBadMagic(t *testing.T) {
	prog := glowtest.Program{
		LedCount: 1,
		Paths:    []glowtest.Path{glowtest.NewPath((&glowtest.Code{}).PathEnd())},
	}
	image, _ := prog.Build()
	image[0] = image[0]&0x0F | 0x70

	ip := NewInterpreter(image, InterpreterOpts{LedCount: 1})
	require.ErrorIs(t, ip.Init(), ErrInvalidHeader)

	ok, err := ip.Run()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestInitCollaborators(t *testing.T) {
	var (
		interval uint16
		coeff    uint16
		frames   []ledstrip.Led
	)
	prog := glowtest.Program{
		LedCount:        3,
		TickIntervalMs:  40,
		BrightnessCoeff: 512,
		Paths:           []glowtest.Path{glowtest.NewPath((&glowtest.Code{}).PathEnd())},
	}
	ip := newResident(t, prog, InterpreterOpts{
		OnTickInterval:          func(ms uint16) { interval = ms },
		OnBrightnessCoefficient: func(v uint16) { coeff = v },
		Pusher: ledstrip.PusherFunc(func(f *ledstrip.Buffer) error {
			frames = append(frames, f.Leds...)
			return nil
		}),
	})

	assert.Equal(t, uint16(40), interval)
	assert.Equal(t, uint16(512), coeff)
	// Zero LedCount adopts the program's count.
	assert.Equal(t, 3, ip.Frame().Len())
	// Init pushes one all-off frame.
	assert.Equal(t, make([]ledstrip.Led, 3), frames)
	assert.Equal(t, uint64(1), ip.Stats().Pushes)
}

func TestSinglePathProgram(t *testing.T) {
	code := (&glowtest.Code{}).
		Immediate(glowtest.Red, 0, [4]uint8{255}, glowtest.LEDs(4, 0)).
		PathEnd()
	prog := glowtest.Program{LedCount: 4, Paths: []glowtest.Path{glowtest.NewPath(code)}}
	ip := newResident(t, prog, InterpreterOpts{LedCount: 4})

	tick(t, ip)

	frame := ip.Frame()
	assert.Equal(t, ledstrip.Led{Red: 255}, frame.Leds[0])
	for _, l := range frame.Leds[1:] {
		assert.Equal(t, ledstrip.Led{}, l)
	}
	assert.True(t, frame.Dirty)
	assert.True(t, pathAt(t, ip, 0).ended)
	assert.Equal(t, uint64(2), ip.Stats().Pushes)
}

func TestPauseResumesAfterCountdown(t *testing.T) {
	ip := newResident(t, pauseProgram(), InterpreterOpts{LedCount: 2})

	tick(t, ip)
	a := pathAt(t, ip, 0)
	assert.Equal(t, uint32(3), a.pause.value)
	assert.Equal(t, uint32(14), a.cursor.value, "resume address follows the pause operands")

	wantInstructions := []uint64{3, 6, 9, 14}
	wantPause := []uint32{3, 2, 1, 0}
	for i := 0; i < 4; i++ {
		if i > 0 {
			tick(t, ip)
		}
		a := pathAt(t, ip, 0)
		assert.Equal(t, wantPause[i], a.pause.value, "tick %d", i+1)
		assert.Equal(t, wantInstructions[i], ip.Stats().Instructions, "tick %d", i+1)
		assert.Equal(t, uint8(9), ip.Frame().Leds[1].Blue, "path 1 runs every tick")

		if i < 3 {
			assert.Zero(t, ip.Frame().Leds[0].Green, "tick %d", i+1)
			assert.False(t, a.ended)
		} else {
			assert.Equal(t, uint8(200), ip.Frame().Leds[0].Green)
			assert.True(t, a.ended)
		}
	}
}

func TestPathEndAndActivate(t *testing.T) {
	b := (&glowtest.Code{}).
		Here().
		Immediate(glowtest.Red, 0, [4]uint8{255}, glowtest.LEDs(1, 0)).
		PathEnd()
	a := (&glowtest.Code{}).
		Pause(2).
		PathActivate(0).
		PathEnd()
	pb := glowtest.NewPath(b)
	pb.Cursor = 4 // skip Here
	prog := glowtest.Program{
		LedCount: 1,
		Paths:    []glowtest.Path{pb, glowtest.NewPath(a)},
	}
	ip := newResident(t, prog, InterpreterOpts{LedCount: 1})
	leds := ip.Frame().Leds

	tick(t, ip)
	p := pathAt(t, ip, 0)
	assert.True(t, p.ended)
	assert.Zero(t, p.cursor.value)
	assert.Zero(t, p.pause.value)
	assert.Equal(t, uint8(255), leds[0].Red)
	leds[0].Red = 0

	tick(t, ip)
	assert.True(t, pathAt(t, ip, 0).ended)
	assert.Zero(t, leds[0].Red)

	// Path 1 activates path 0 after path 0's slot has passed.
	tick(t, ip)
	assert.False(t, pathAt(t, ip, 0).ended)
	assert.True(t, pathAt(t, ip, 1).ended)
	assert.Zero(t, leds[0].Red)

	tick(t, ip)
	assert.True(t, pathAt(t, ip, 0).ended)
	assert.Equal(t, uint8(255), leds[0].Red, "path 0 restarted from bit 0")
}

func TestActivateLaterPathRunsSameTick(t *testing.T) {
	a := (&glowtest.Code{}).PathActivate(1).PathEnd()
	b := (&glowtest.Code{}).
		Immediate(glowtest.Blue, 0, [4]uint8{0, 0, 77}, glowtest.LEDs(1, 0)).
		PathEnd()
	pb := glowtest.NewPath(b)
	pb.Ended = true
	prog := glowtest.Program{LedCount: 1, Paths: []glowtest.Path{glowtest.NewPath(a), pb}}
	ip := newResident(t, prog, InterpreterOpts{LedCount: 1})

	tick(t, ip)
	assert.Equal(t, uint8(77), ip.Frame().Leds[0].Blue)
}

func TestGlowImmediateActions(t *testing.T) {
	t.Run("clear then set", func(t *testing.T) {
		code := (&glowtest.Code{}).
			Immediate(glowtest.Red, 1, [4]uint8{255}, glowtest.LEDs(2, 1)).
			PathEnd()
		prog := glowtest.Program{LedCount: 2, Paths: []glowtest.Path{glowtest.NewPath(code)}}
		ip := newResident(t, prog, InterpreterOpts{LedCount: 2})
		require.NoError(t, ip.SetTestColor(1, 2, 3, 4))

		tick(t, ip)
		assert.Equal(t, ledstrip.Led{}, ip.Frame().Leds[0])
		assert.Equal(t, ledstrip.Led{Red: 255}, ip.Frame().Leds[1])
	})

	t.Run("all channels", func(t *testing.T) {
		code := (&glowtest.Code{}).
			Immediate(glowtest.Red|glowtest.Green|glowtest.Blue|glowtest.Bright, 0,
				[4]uint8{10, 20, 30, 31}, glowtest.LEDs(3, 0, 2)).
			PathEnd()
		prog := glowtest.Program{LedCount: 3, Paths: []glowtest.Path{glowtest.NewPath(code)}}
		ip := newResident(t, prog, InterpreterOpts{LedCount: 3})

		tick(t, ip)
		want := ledstrip.Led{Red: 10, Green: 20, Blue: 30, Bright: 31}
		assert.Equal(t, []ledstrip.Led{want, {}, want}, ip.Frame().Leds)
	})

	t.Run("reserved actions read no values", func(t *testing.T) {
		code := (&glowtest.Code{}).
			Immediate(glowtest.Red, 2, [4]uint8{}, nil).
			Immediate(glowtest.Green, 3, [4]uint8{}, nil).
			PathEnd()
		prog := glowtest.Program{LedCount: 1, Paths: []glowtest.Path{glowtest.NewPath(code)}}
		ip := newResident(t, prog, InterpreterOpts{LedCount: 1})

		tick(t, ip)
		assert.Equal(t, ledstrip.Led{}, ip.Frame().Leds[0])
		assert.True(t, pathAt(t, ip, 0).ended)
	})
}

func TestGlowRamp(t *testing.T) {
	code := (&glowtest.Code{}).
		GlowRamp(3, []glowtest.Ramp{
			{Channel: glowtest.Red, Base: 10, Trend: 1, Step: 1, Delta: 20},
			{Channel: glowtest.Blue, Base: 50, Trend: 2, Step: 1, Delta: 30},
			{Channel: glowtest.Bright, Base: 7},
		}, glowtest.LEDs(1, 0)).
		PathEnd()
	prog := glowtest.Program{LedCount: 1, Paths: []glowtest.Path{glowtest.NewPath(code)}}
	ip := newResident(t, prog, InterpreterOpts{LedCount: 1})

	want := []ledstrip.Led{
		{Red: 10, Blue: 50, Bright: 7},
		{Red: 30, Blue: 20, Bright: 7},
		{Red: 50, Blue: 0, Bright: 7},
		{Red: 70, Blue: 0, Bright: 7},
	}
	for i, w := range want {
		tick(t, ip)
		assert.Equal(t, w, ip.Frame().Leds[0], "tick %d", i+1)

		p := pathAt(t, ip, 0)
		assert.Equal(t, uint32(i+1), p.extra.value)
		if i < 3 {
			assert.Equal(t, uint32(1), p.pause.value, "ramp sleeps one tick")
			assert.Zero(t, p.cursor.value, "ramp rewinds to itself")
			assert.False(t, p.ended)
		} else {
			assert.True(t, p.ended)
		}
	}
}

func TestRampValue(t *testing.T) {
	tests := []struct {
		name    string
		base    uint8
		trend   Trend
		counter uint32
		step    uint32
		delta   uint32
		want    uint8
	}{
		{"increase", 10, TrendIncrease, 4, 2, 5, 20},
		{"increase saturates", 200, TrendIncrease, 3, 1, 30, 255},
		{"increase exact headroom", 200, TrendIncrease, 1, 1, 55, 255},
		{"offset wider than a byte", 0, TrendIncrease, 100, 1, 200, 255},
		{"decrease", 100, TrendDecrease, 9, 3, 10, 70},
		{"decrease saturates", 20, TrendDecrease, 2, 1, 15, 0},
		{"step below counter", 100, TrendDecrease, 1, 2, 50, 100},
		{"zero step", 40, TrendIncrease, 7, 0, 10, 40},
		{"unknown trend", 40, Trend(3), 7, 1, 10, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rampValue(tt.base, tt.trend, tt.counter, tt.step, tt.delta))
		})
	}
}

func TestReservedOpcodes(t *testing.T) {
	code := (&glowtest.Code{}).
		Op(0).Op(7).Op(12).Op(uint8(OpContextRegion)).
		Immediate(glowtest.Blue, 0, [4]uint8{0, 0, 9}, glowtest.LEDs(1, 0)).
		PathEnd()
	prog := glowtest.Program{LedCount: 1, Paths: []glowtest.Path{glowtest.NewPath(code)}}
	ip := newResident(t, prog, InterpreterOpts{LedCount: 1})

	tick(t, ip)
	assert.Equal(t, uint8(9), ip.Frame().Leds[0].Blue)
	assert.Equal(t, uint64(4), ip.Stats().Reserved)
}

func TestHandlerTableIsComplete(t *testing.T) {
	for op := 0; op < OpcodeCount; op++ {
		assert.NotNil(t, handlers[op], "opcode %d", op)
	}
	for _, op := range []Opcode{0, 6, 12, OpContextRegion} {
		assert.True(t, op.Reserved(), op.String())
	}
	for _, op := range []Opcode{OpHere, OpGoto, OpPause, OpGlowImmediate, OpGlowRamp, OpPathActivate, OpPathEnd} {
		assert.False(t, op.Reserved(), op.String())
	}
}

func TestInstructionBudget(t *testing.T) {
	code := (&glowtest.Code{}).Here().Goto(0)
	prog := glowtest.Program{LedCount: 1, Paths: []glowtest.Path{glowtest.NewPath(code)}}
	ip := newResident(t, prog, InterpreterOpts{LedCount: 1, MaxInstructions: 10})

	tick(t, ip)
	assert.Equal(t, uint64(10), ip.Stats().Instructions)
	tick(t, ip)
	assert.Equal(t, uint64(20), ip.Stats().Instructions)
	assert.Zero(t, pathAt(t, ip, 0).cursor.value)
}

func TestAssertions(t *testing.T) {
	t.Run("activate missing path", func(t *testing.T) {
		var errs []error
		code := (&glowtest.Code{}).
			PathActivate(5).
			Immediate(glowtest.Red, 0, [4]uint8{7}, glowtest.LEDs(1, 0)).
			PathEnd()
		prog := glowtest.Program{LedCount: 1, Paths: []glowtest.Path{glowtest.NewPath(code)}}
		ip := newResident(t, prog, InterpreterOpts{
			LedCount: 1,
			OnAssert: func(err error) { errs = append(errs, err) },
		})

		tick(t, ip)
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrPathIndex)
		assert.Equal(t, uint8(7), ip.Frame().Leds[0].Red, "path continues after the assertion")
	})

	t.Run("truncated operand", func(t *testing.T) {
		var errs []error
		code := (&glowtest.Code{}).Op(uint8(OpGoto)).Bits(8, 0)
		prog := glowtest.Program{LedCount: 1, Paths: []glowtest.Path{glowtest.NewPath(code)}}
		ip := newResident(t, prog, InterpreterOpts{
			LedCount: 1,
			OnAssert: func(err error) { errs = append(errs, err) },
		})

		tick(t, ip)
		require.Len(t, errs, 1)
		assert.Equal(t, uint64(1), ip.Stats().Asserts)
	})
}

func TestPagedMatchesResident(t *testing.T) {
	const nvmStart = 64
	image, layout := pauseProgram().Build()
	nvm := append(make([]byte, nvmStart), image...)

	cache := make([]byte, layout.ContextLen+16)
	paged := NewInterpreter(cache, InterpreterOpts{
		LedCount: 2,
		Storage:  storage.NewMemDevice(nvm),
		NvmStart: nvmStart,
		NvmEnd:   uint32(len(nvm)),
	})
	require.NoError(t, paged.Init())
	resident := newResident(t, pauseProgram(), InterpreterOpts{LedCount: 2})

	for i := 0; i < 5; i++ {
		tick(t, paged)
		tick(t, resident)
		assert.Equal(t, resident.Frame().Leds, paged.Frame().Leds, "tick %d", i+1)
	}
	assert.Equal(t, uint64(7), paged.Stats().Pages)

	pr, err := paged.ContextRegion()
	require.NoError(t, err)
	rr, err := resident.ContextRegion()
	require.NoError(t, err)
	assert.Equal(t, rr, pr)
}

func TestPagedErrors(t *testing.T) {
	const nvmStart = 8
	image, layout := pauseProgram().Build()
	nvm := append(make([]byte, nvmStart), image...)

	t.Run("storage bound", func(t *testing.T) {
		ip := NewInterpreter(make([]byte, 256), InterpreterOpts{
			LedCount: 2,
			Storage:  storage.NewMemDevice(nvm),
			NvmStart: nvmStart,
			NvmEnd:   nvmStart + 10,
		})
		assert.ErrorIs(t, ip.Init(), ErrOutOfRange)
	})

	t.Run("path larger than cache", func(t *testing.T) {
		ip := NewInterpreter(make([]byte, layout.ContextLen+2), InterpreterOpts{
			LedCount: 2,
			Storage:  storage.NewMemDevice(nvm),
			NvmStart: nvmStart,
		})
		require.NoError(t, ip.Init())

		ok, err := ip.Run()
		assert.True(t, ok)
		assert.ErrorIs(t, err, ErrCacheOverflow)
	})
}

func TestRestoreContext(t *testing.T) {
	first := newResident(t, pauseProgram(), InterpreterOpts{LedCount: 2})
	tick(t, first)
	region, err := first.ContextRegion()
	require.NoError(t, err)

	second := newResident(t, pauseProgram(), InterpreterOpts{LedCount: 2})
	require.NoError(t, second.RestoreContext(region))
	assert.Equal(t, uint32(3), pathAt(t, second, 0).pause.value)

	tick(t, second)
	tick(t, second)
	assert.Zero(t, second.Frame().Leds[0].Green)
	tick(t, second)
	assert.Equal(t, uint8(200), second.Frame().Leds[0].Green)

	assert.ErrorIs(t, second.RestoreContext(region[:len(region)-1]), ErrContextLength)
}

func TestPaths(t *testing.T) {
	prog := pauseProgram()
	prog.Paths[1].Ended = true
	prog.Paths[1].Pause = 7
	prog.Paths[1].PauseBytes = 1
	prog.Paths[1].ExtraBytes = 0
	image, layout := prog.Build()

	paths, err := Paths(image)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	assert.Equal(t, PathInfo{Index: 0, Start: 0, Length: layout.Starts[1]}, paths[0])
	assert.Equal(t, PathInfo{
		Index:  1,
		Start:  layout.Starts[1],
		Length: uint32(layout.InstrLen) - layout.Starts[1],
		Ended:  true,
		Pause:  7,
	}, paths[1])
}
