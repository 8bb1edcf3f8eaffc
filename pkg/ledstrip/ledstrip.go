// Package ledstrip holds the color data pushed to an addressable light strip.
package ledstrip

// Channel limits.
const (
	MaxColor  = 255
	MaxBright = 31
)

// Led is one addressable light's color.
type Led struct {
	Red    uint8 // 0-255
	Green  uint8 // 0-255
	Blue   uint8 // 0-255
	Bright uint8 // 0-31
}

// Buffer is the frame shared between the interpreter and the hardware push.
//
// Dirty is set by every color mutation and is never cleared by the
// interpreter; a frame that changed once is pushed on every later tick.
type Buffer struct {
	Leds  []Led
	Dirty bool
}

// NewBuffer returns an all-off frame of n LEDs.
func NewBuffer(n int) *Buffer {
	return &Buffer{Leds: make([]Led, n)}
}

// Len returns the number of LEDs.
func (b *Buffer) Len() int {
	return len(b.Leds)
}

// Fill sets every LED to the same color and marks the frame dirty.
func (b *Buffer) Fill(red, green, blue, bright uint8) {
	for i := range b.Leds {
		b.Leds[i] = Led{Red: red, Green: green, Blue: blue, Bright: bright}
	}
	b.Dirty = true
}

// Pack returns the frame as 4 bytes per LED in red, green, blue, bright order.
func (b *Buffer) Pack() []byte {
	out := make([]byte, 0, len(b.Leds)*4)
	for _, l := range b.Leds {
		out = append(out, l.Red, l.Green, l.Blue, l.Bright)
	}
	return out
}

// Unpack decodes a frame produced by Pack. Trailing partial records are ignored.
func Unpack(data []byte) []Led {
	leds := make([]Led, len(data)/4)
	for i := range leds {
		p := data[i*4:]
		leds[i] = Led{Red: p[0], Green: p[1], Blue: p[2], Bright: p[3]}
	}
	return leds
}

// Pusher writes a finished frame to hardware or a simulator.
type Pusher interface {
	Push(frame *Buffer) error
}

// PusherFunc adapts a function to Pusher.
type PusherFunc func(frame *Buffer) error

// Push implements Pusher.
func (f PusherFunc) Push(frame *Buffer) error {
	return f(frame)
}
