package bitstream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadKnownLayout(t *testing.T) {
	// 1101 0000000000000011 ...
	buf := []byte{0xD0, 0x00, 0x30}

	tests := []struct {
		name  string
		addr  uint32
		width uint8
		want  uint32
	}{
		{"nibble", 0, 4, 0xD},
		{"straddle 16 at 4", 4, 16, 0x0003},
		{"single bit", 1, 1, 1},
		{"zero width", 5, 0, 0},
		{"whole buffer", 0, 24, 0xD00030},
		{"last bits", 20, 4, 0x0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Read(buf, tt.addr, tt.width)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteStraddlingByteBoundary(t *testing.T) {
	buf := []byte{0xFF, 0xFF, 0xFF}

	require.NoError(t, Write(buf, 4, 12, 0xABC))
	assert.Equal(t, []byte{0xFA, 0xBC, 0xFF}, buf)

	got, err := Read(buf, 4, 12)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xABC), got)
}

func TestWriteTruncatesValue(t *testing.T) {
	buf := make([]byte, 2)

	require.NoError(t, Write(buf, 3, 5, 0xFFFF))
	assert.Equal(t, []byte{0x1F, 0x00}, buf)
}

func TestWriteFirstByte(t *testing.T) {
	// Fields that end in byte 0 exercise the descending loop's lower bound.
	buf := []byte{0x00, 0xAA}

	require.NoError(t, Write(buf, 0, 8, 0x5A))
	assert.Equal(t, []byte{0x5A, 0xAA}, buf)

	require.NoError(t, Write(buf, 0, 1, 1))
	assert.Equal(t, byte(0xDA), buf[0])
}

func TestRoundTripPreservesSentinels(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for width := uint8(1); width <= MaxWidth; width++ {
		for offset := uint32(0); offset < 16; offset++ {
			buf := make([]byte, 10)
			for i := range buf {
				buf[i] = 0xA5
			}
			before := append([]byte(nil), buf...)

			// Sentinel bytes on both sides: field starts inside byte 1.
			addr := 8 + offset
			v := rng.Uint32()
			require.NoError(t, Write(buf, addr, width, v))

			got, err := Read(buf, addr, width)
			require.NoError(t, err)
			want := v & uint32(uint64(1)<<width-1)
			require.Equalf(t, want, got, "width=%d addr=%d", width, addr)

			for bit := uint32(0); bit < uint32(len(buf))*8; bit++ {
				if bit >= addr && bit < addr+uint32(width) {
					continue
				}
				b, err := Read(buf, bit, 1)
				require.NoError(t, err)
				o, err := Read(before, bit, 1)
				require.NoError(t, err)
				require.Equalf(t, o, b, "bit %d changed (width=%d addr=%d)", bit, width, addr)
			}
		}
	}
}

func TestFieldWidthLimit(t *testing.T) {
	buf := make([]byte, 8)

	_, err := Read(buf, 0, 33)
	assert.ErrorIs(t, err, ErrFieldWidth)

	err = Write(buf, 0, 33, 1)
	assert.ErrorIs(t, err, ErrFieldWidth)
}

func TestOutOfRange(t *testing.T) {
	buf := make([]byte, 2)

	_, err := Read(buf, 9, 8)
	assert.ErrorIs(t, err, ErrOutOfRange)

	err = Write(buf, 16, 1, 1)
	assert.ErrorIs(t, err, ErrOutOfRange)

	// Zero-width access is always allowed, even past the end.
	v, err := Read(buf, 100, 0)
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestCursor(t *testing.T) {
	buf := []byte{0xD1, 0x23, 0x45, 0x67}
	c := NewCursor(buf)

	v, err := c.Next(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xD), v)
	assert.Equal(t, uint32(4), c.Tell())

	v, err = c.Next(0)
	require.NoError(t, err)
	assert.Zero(t, v)
	assert.Equal(t, uint32(4), c.Tell(), "zero width must not advance")

	v, err = c.Next(12)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x123), v)

	c.Advance(8)
	assert.Equal(t, uint32(24), c.Tell())
	assert.Equal(t, uint32(8), c.Remaining())

	_, err = c.Next(9)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, uint32(24), c.Tell(), "failed read must not advance")

	require.NoError(t, c.WriteAt(0, 4, 0x2))
	v, err = c.ReadAt(0, 8)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x21), v)

	c.Seek(40)
	assert.Zero(t, c.Remaining())

	c.Bind([]byte{0xFF})
	assert.Zero(t, c.Tell())
	assert.Equal(t, uint32(8), c.Len())
}
