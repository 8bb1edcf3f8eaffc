// Package player drives an interpreter in real time.
//
// The player calls the interpreter once per tick interval, follows interval
// changes requested by the program, and periodically saves the context region
// so that a restarted player resumes every path where it stopped.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fortiblox/glow/internal/types"
	"github.com/fortiblox/glow/pkg/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultTickInterval is used when a program requests an interval of zero.
const DefaultTickInterval = 50 * time.Millisecond

// Player errors.
var (
	ErrAlreadyRunning = errors.New("player is already running")
	ErrNotLoaded      = errors.New("no interpreter loaded")
)

// Interpreter is the part of glow.Interpreter the player drives.
type Interpreter interface {
	Init() error
	Run() (bool, error)
	ContextRegion() ([]byte, error)
	RestoreContext(region []byte) error
}

// Config holds player configuration.
type Config struct {
	// ProgramID keys saved contexts.
	ProgramID types.ProgramID

	// Contexts stores context regions. Nil disables saving and restoring.
	Contexts *storage.ContextStore

	// SaveEvery is the number of ticks between saves. Zero saves only when
	// Run returns.
	SaveEvery int

	// MaxTicks stops Run after this many ticks. Zero runs until cancelled.
	MaxTicks uint64

	// OnBrightnessCoefficient receives the program's brightness coefficient.
	OnBrightnessCoefficient func(v uint16)

	Logger *zap.Logger
}

// snapshot is a context region captured at a tick.
type snapshot struct {
	region []byte
	tick   uint64
}

// Player runs one interpreter.
type Player struct {
	config Config
	logger *zap.Logger
	ip     Interpreter

	running     atomic.Bool
	ticks       atomic.Uint64
	interval    atomic.Int64 // nanoseconds
	coefficient atomic.Uint32
	intervalCh  chan time.Duration

	tickErrors atomic.Uint64
	saves      atomic.Uint64
}

// New creates a player. Wire SetTickInterval and SaveBrightnessCoefficient
// into the interpreter's options, then call Load.
func New(config Config) *Player {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Player{
		config:     config,
		logger:     logger.Named("player"),
		intervalCh: make(chan time.Duration, 1),
	}
	p.interval.Store(int64(DefaultTickInterval))
	return p
}

// SetTickInterval sets the time between ticks. Zero selects
// DefaultTickInterval. A running loop picks up the change at its next tick.
func (p *Player) SetTickInterval(ms uint16) {
	d := time.Duration(ms) * time.Millisecond
	if d == 0 {
		d = DefaultTickInterval
	}
	if time.Duration(p.interval.Swap(int64(d))) == d {
		return
	}
	p.logger.Debug("tick interval changed", zap.Duration("interval", d))

	// Keep only the latest pending change.
	select {
	case <-p.intervalCh:
	default:
	}
	p.intervalCh <- d
}

// TickInterval returns the current tick interval.
func (p *Player) TickInterval() time.Duration {
	return time.Duration(p.interval.Load())
}

// SaveBrightnessCoefficient records the program's brightness coefficient and
// forwards it to the configured receiver.
func (p *Player) SaveBrightnessCoefficient(v uint16) {
	p.coefficient.Store(uint32(v))
	if p.config.OnBrightnessCoefficient != nil {
		p.config.OnBrightnessCoefficient(v)
	}
}

// BrightnessCoefficient returns the last coefficient the program set.
func (p *Player) BrightnessCoefficient() uint16 {
	return uint16(p.coefficient.Load())
}

// Load initializes ip and restores its saved context, if any.
func (p *Player) Load(ip Interpreter) error {
	if err := ip.Init(); err != nil {
		return fmt.Errorf("init program: %w", err)
	}
	p.ip = ip
	p.ticks.Store(0)

	restored, err := p.Restore()
	if err != nil {
		return err
	}
	p.logger.Info("program loaded",
		zap.Stringer("program", p.config.ProgramID),
		zap.Bool("restored", restored),
		zap.Uint64("tick", p.ticks.Load()))
	return nil
}

// Restore loads the saved context region for the configured program. It
// reports false when no context is saved.
func (p *Player) Restore() (bool, error) {
	if p.ip == nil {
		return false, ErrNotLoaded
	}
	if p.config.Contexts == nil {
		return false, nil
	}
	snap, err := p.config.Contexts.Load(p.config.ProgramID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load context: %w", err)
	}
	if err := p.ip.RestoreContext(snap.Region); err != nil {
		return false, fmt.Errorf("restore context: %w", err)
	}
	p.ticks.Store(snap.Tick)
	return true, nil
}

// Step runs one tick.
func (p *Player) Step() error {
	if p.ip == nil {
		return ErrNotLoaded
	}
	_, err := p.ip.Run()
	p.ticks.Add(1)
	if err != nil {
		p.tickErrors.Add(1)
	}
	return err
}

// Ticks returns the number of ticks run, including ticks restored from a
// saved context.
func (p *Player) Ticks() uint64 {
	return p.ticks.Load()
}

// Saves returns the number of context saves written.
func (p *Player) Saves() uint64 {
	return p.saves.Load()
}

// Run ticks until ctx is cancelled or MaxTicks is reached, then saves the
// context region one last time.
func (p *Player) Run(ctx context.Context) error {
	if p.ip == nil {
		return ErrNotLoaded
	}
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)

	saves := make(chan snapshot, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(saves)
		return p.tickLoop(gctx, saves)
	})
	g.Go(func() error {
		return p.saveLoop(saves)
	})
	return g.Wait()
}

func (p *Player) tickLoop(ctx context.Context, saves chan<- snapshot) error {
	ticker := time.NewTicker(p.TickInterval())
	defer ticker.Stop()

	var sinceSave int
	for {
		select {
		case <-ctx.Done():
			p.snapshot(saves, true)
			return nil

		case d := <-p.intervalCh:
			ticker.Reset(d)

		case <-ticker.C:
			if err := p.Step(); err != nil {
				p.logger.Warn("tick failed", zap.Uint64("tick", p.Ticks()), zap.Error(err))
			}

			if p.config.MaxTicks > 0 && p.Ticks() >= p.config.MaxTicks {
				p.snapshot(saves, true)
				return nil
			}

			sinceSave++
			if p.config.SaveEvery > 0 && sinceSave >= p.config.SaveEvery {
				sinceSave = 0
				p.snapshot(saves, false)
			}
		}
	}
}

// snapshot hands the current context region to the save loop. A periodic
// snapshot is dropped if the previous one is still being written.
func (p *Player) snapshot(saves chan<- snapshot, final bool) {
	if p.config.Contexts == nil {
		return
	}
	region, err := p.ip.ContextRegion()
	if err != nil {
		p.logger.Error("capture context", zap.Error(err))
		return
	}
	s := snapshot{region: region, tick: p.Ticks()}
	if final {
		saves <- s
		return
	}
	select {
	case saves <- s:
	default:
		p.logger.Debug("context save skipped, previous save in progress", zap.Uint64("tick", s.tick))
	}
}

// saveLoop writes snapshots until saves is closed. A failed save does not
// stop playback; the first failure is returned once the loop drains.
func (p *Player) saveLoop(saves <-chan snapshot) error {
	var first error
	for s := range saves {
		if err := p.config.Contexts.Save(p.config.ProgramID, s.region, s.tick); err != nil {
			p.logger.Error("context save failed", zap.Uint64("tick", s.tick), zap.Error(err))
			if first == nil {
				first = fmt.Errorf("save context at tick %d: %w", s.tick, err)
			}
			continue
		}
		p.saves.Add(1)
		p.logger.Debug("context saved", zap.Uint64("tick", s.tick))
	}
	return first
}
