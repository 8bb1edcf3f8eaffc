// Package config loads player configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SupportedProtocolVersion is the program protocol this player runs.
const SupportedProtocolVersion = 1

// Default configuration values.
const (
	// DefaultSramBufferSize is the RAM available for program data.
	DefaultSramBufferSize = 16 * 1024

	// DefaultSaveEvery is how many ticks pass between context saves.
	DefaultSaveEvery = 100

	// DefaultKeepalive is the interval between keepalive pings on the push
	// connection.
	DefaultKeepalive = 10 * time.Second

	// DefaultPushTimeout bounds dialing the push endpoint.
	DefaultPushTimeout = 5 * time.Second
)

// Storage modes.
const (
	ModeResident = "resident"
	ModePaged    = "paged"
)

// Configuration errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnknownKeys   = errors.New("unknown configuration keys")
)

// Config is the whole player configuration.
type Config struct {
	Device  DeviceConfig  `toml:"device"`
	Storage StorageConfig `toml:"storage"`
	Push    PushConfig    `toml:"push"`
	Log     LogConfig     `toml:"log"`
}

// DeviceConfig describes the hardware the program runs on.
type DeviceConfig struct {
	ProtocolVersion int `toml:"protocol_version"`

	// LedCount is the strip length. Zero uses the program header's count.
	LedCount int `toml:"led_count"`

	// SramBufferSize is the RAM buffer size in bytes. In paged mode it must
	// hold the context region plus the largest path.
	SramBufferSize int `toml:"sram_buffer_size"`

	// NvmStart and NvmEnd bound the storage region in paged mode. NvmEnd of
	// zero leaves reads unbounded.
	NvmStart uint32 `toml:"nvm_start"`
	NvmEnd   uint32 `toml:"nvm_end"`

	// MaxInstructionsPerTick bounds each path per tick. Zero disables it.
	MaxInstructionsPerTick uint64 `toml:"max_instructions_per_tick"`
}

// StorageConfig selects how programs are held and where state is saved.
type StorageConfig struct {
	Mode      string `toml:"mode"`
	ProgramDB string `toml:"program_db"`
	ContextDB string `toml:"context_db"`

	// SaveEvery is the number of ticks between context saves. Zero saves
	// only on shutdown.
	SaveEvery int `toml:"save_every"`
}

// PushConfig configures where frames are sent.
type PushConfig struct {
	// Endpoint is the frame sink's gRPC address. Empty logs frames instead.
	// ${VAR} references are expanded from the environment.
	Endpoint  string        `toml:"endpoint"`
	UseTLS    bool          `toml:"use_tls"`
	Keepalive time.Duration `toml:"keepalive"`
	Timeout   time.Duration `toml:"timeout"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			ProtocolVersion: SupportedProtocolVersion,
			SramBufferSize:  DefaultSramBufferSize,
		},
		Storage: StorageConfig{
			Mode:      ModeResident,
			SaveEvery: DefaultSaveEvery,
		},
		Push: PushConfig{
			Keepalive: DefaultKeepalive,
			Timeout:   DefaultPushTimeout,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, fmt.Errorf("cannot read %s: %w", path, err)
		}
		return cfg, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return cfg, fmt.Errorf("%w in %s: %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
	}
	return cfg, cfg.Validate()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Device.ProtocolVersion != SupportedProtocolVersion {
		return fmt.Errorf("%w: protocol version %d, supported %d",
			ErrInvalidConfig, c.Device.ProtocolVersion, SupportedProtocolVersion)
	}

	if c.Device.LedCount < 0 || c.Device.LedCount > 0xFFFF {
		return fmt.Errorf("%w: led count must be between 0 and 65535", ErrInvalidConfig)
	}

	if c.Device.SramBufferSize <= 0 {
		return fmt.Errorf("%w: sram buffer size must be positive", ErrInvalidConfig)
	}

	switch c.Storage.Mode {
	case ModeResident:
	case ModePaged:
		if c.Device.NvmEnd != 0 && c.Device.NvmEnd <= c.Device.NvmStart {
			return fmt.Errorf("%w: nvm end must be after nvm start", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: storage mode %q", ErrInvalidConfig, c.Storage.Mode)
	}

	if c.Storage.SaveEvery < 0 {
		return fmt.Errorf("%w: save interval must not be negative", ErrInvalidConfig)
	}

	if c.Push.Keepalive < 0 || c.Push.Timeout < 0 {
		return fmt.Errorf("%w: push durations must not be negative", ErrInvalidConfig)
	}

	if _, err := c.Log.level(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}

// Paged reports whether programs are paged in from storage.
func (c *Config) Paged() bool {
	return c.Storage.Mode == ModePaged
}

// ExpandedEndpoint returns the push endpoint with environment variables
// expanded.
func (c *PushConfig) ExpandedEndpoint() string {
	return os.Expand(c.Endpoint, os.Getenv)
}

func (c LogConfig) level() (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return l, fmt.Errorf("log level %q: %w", c.Level, err)
	}
	return l, nil
}

// Logger builds a zap logger from the log section.
func (c LogConfig) Logger() (*zap.Logger, error) {
	level, err := c.level()
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
