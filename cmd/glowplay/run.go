package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fortiblox/glow/internal/config"
	"github.com/fortiblox/glow/internal/types"
	"github.com/fortiblox/glow/pkg/glow"
	"github.com/fortiblox/glow/pkg/ledstrip"
	"github.com/fortiblox/glow/pkg/player"
	"github.com/fortiblox/glow/pkg/program"
	"github.com/fortiblox/glow/pkg/push"
	"github.com/fortiblox/glow/pkg/storage"
	"go.uber.org/zap"
)

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "TOML configuration file")
	programPath := fs.String("program", "", "Program image (.glow, optionally zstd-compressed)")
	programID := fs.String("id", "", "Base58 id of a stored program (default: the active program)")
	endpoint := fs.String("push", "", "Frame sink address, overrides push.endpoint")
	maxTicks := fs.Uint64("max-ticks", 0, "Stop after this many ticks (0 = run until signalled)")
	mode := fs.String("mode", "", "Storage mode (resident or paged), overrides storage.mode")
	logLevel := fs.String("log-level", "", "Log level, overrides log.level")
	fs.Parse(args)

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *endpoint != "" {
		cfg.Push.Endpoint = *endpoint
	}
	if *mode != "" {
		cfg.Storage.Mode = *mode
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	src, err := openSource(&cfg, *programPath, *programID)
	if err != nil {
		return err
	}
	defer src.close()
	img := src.image
	logger.Info("program selected",
		zap.Stringer("id", img.ID),
		zap.Uint8("paths", img.Header.PathCount),
		zap.Int("bytes", len(img.Data)),
		zap.String("mode", cfg.Storage.Mode))

	var pusher ledstrip.Pusher
	var client *push.Client
	if ep := cfg.Push.ExpandedEndpoint(); ep != "" {
		client, err = push.Dial(push.ClientConfig{
			Endpoint:         ep,
			UseTLS:           cfg.Push.UseTLS,
			KeepaliveTime:    cfg.Push.Keepalive,
			KeepaliveTimeout: cfg.Push.Timeout,
		}, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		pusher = client
	} else {
		pusher = push.NewLogPusher(logger)
	}

	var contexts *storage.ContextStore
	if cfg.Storage.ContextDB != "" {
		contexts, err = storage.OpenContextStore(storage.DefaultContextStoreConfig(cfg.Storage.ContextDB))
		if err != nil {
			return err
		}
		defer contexts.Close()
	}

	pcfg := player.Config{
		ProgramID: img.ID,
		Contexts:  contexts,
		SaveEvery: cfg.Storage.SaveEvery,
		MaxTicks:  *maxTicks,
		Logger:    logger,
	}
	if client != nil {
		pcfg.OnBrightnessCoefficient = client.SetCoefficient
	}
	pl := player.New(pcfg)

	sram := make([]byte, cfg.Device.SramBufferSize)
	opts := glow.InterpreterOpts{
		LedCount:                cfg.Device.LedCount,
		NvmStart:                cfg.Device.NvmStart,
		NvmEnd:                  cfg.Device.NvmEnd,
		MaxInstructions:         cfg.Device.MaxInstructionsPerTick,
		Pusher:                  pusher,
		OnTickInterval:          pl.SetTickInterval,
		OnBrightnessCoefficient: pl.SaveBrightnessCoefficient,
		OnAssert: func(err error) {
			logger.Error("program fault", zap.Error(err))
		},
		Logger: logger,
	}
	if cfg.Paged() {
		opts.Storage = src.device
	} else {
		if len(img.Data) > len(sram) {
			return fmt.Errorf("%w: program is %d bytes, sram_buffer_size %d",
				glow.ErrCacheOverflow, len(img.Data), len(sram))
		}
		copy(sram, img.Data)
	}

	ip := glow.NewInterpreter(sram, opts)
	if err := pl.Load(ip); err != nil {
		return err
	}

	err = pl.Run(ctx)
	st := ip.Stats()
	logger.Info("playback stopped",
		zap.Uint64("ticks", pl.Ticks()),
		zap.Uint64("instructions", st.Instructions),
		zap.Uint64("pushes", st.Pushes),
		zap.Uint64("pages", st.Pages),
		zap.Uint64("faults", st.Asserts),
		zap.Uint64("saves", pl.Saves()))
	return err
}

// source is a program image and, in paged mode, the device it pages from.
type source struct {
	image  *program.Image
	device storage.Device
	closer func() error
}

func (s *source) close() {
	if s.closer != nil {
		s.closer()
	}
}

// openSource loads the program from a file or from the program store.
func openSource(cfg *config.Config, path, id string) (*source, error) {
	if path != "" {
		img, err := program.Load(path)
		if err != nil {
			return nil, err
		}
		src := &source{image: img}
		if !cfg.Paged() {
			return src, nil
		}
		if img.Compressed {
			src.device = storage.NewMemDevice(img.Data)
			return src, nil
		}
		dev, err := storage.OpenFileDevice(path)
		if err != nil {
			return nil, err
		}
		src.device, src.closer = dev, dev.Close
		return src, nil
	}

	if cfg.Storage.ProgramDB == "" {
		return nil, errors.New("no program: pass -program or set storage.program_db")
	}
	store, err := storage.OpenProgramStore(storage.ProgramStoreConfig{
		Path:     cfg.Storage.ProgramDB,
		ReadOnly: true,
	})
	if err != nil {
		return nil, err
	}

	pid, err := selectProgram(store, id)
	if err != nil {
		store.Close()
		return nil, err
	}
	data, err := store.Get(pid)
	if err != nil {
		store.Close()
		return nil, err
	}
	img, err := program.Parse(data)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("program %s: %w", pid, err)
	}

	src := &source{image: img, closer: store.Close}
	if cfg.Paged() {
		if src.device, err = store.Device(pid); err != nil {
			store.Close()
			return nil, err
		}
	}
	return src, nil
}

// selectProgram parses id, or returns the store's active program when id is
// empty.
func selectProgram(store *storage.ProgramStore, id string) (types.ProgramID, error) {
	if id == "" {
		pid, err := store.Active()
		if errors.Is(err, storage.ErrNotFound) {
			return pid, errors.New("no active program: pass -id or import one")
		}
		return pid, err
	}
	return types.ProgramIDFromBase58(id)
}
