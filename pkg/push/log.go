package push

import (
	"github.com/fortiblox/glow/pkg/ledstrip"
	"go.uber.org/zap"
)

// LogPusher logs frames instead of sending them anywhere.
type LogPusher struct {
	logger *zap.Logger
	frames uint64
}

// NewLogPusher returns a pusher that logs each frame at debug level.
func NewLogPusher(logger *zap.Logger) *LogPusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPusher{logger: logger.Named("frames")}
}

// Push implements ledstrip.Pusher.
func (p *LogPusher) Push(frame *ledstrip.Buffer) error {
	p.frames++
	p.logger.Debug("frame",
		zap.Uint64("seq", p.frames),
		zap.Int("leds", frame.Len()),
		zap.Int("lit", Lit(frame.Leds)))
	return nil
}

// Frames returns the number of frames pushed.
func (p *LogPusher) Frames() uint64 {
	return p.frames
}

// Lit counts LEDs with any non-zero channel.
func Lit(leds []ledstrip.Led) int {
	n := 0
	for _, l := range leds {
		if l != (ledstrip.Led{}) {
			n++
		}
	}
	return n
}
