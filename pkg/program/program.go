// Package program loads glow program images from disk.
//
// Images are stored raw or zstd-compressed; compressed images are detected
// by their frame magic, not the file name.
package program

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fortiblox/glow/internal/types"
	"github.com/fortiblox/glow/pkg/glow"
	"github.com/klauspost/compress/zstd"
)

// zstdMagic starts every zstd frame.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// Errors.
var (
	ErrTruncated = errors.New("program image truncated")
)

// Image is a decoded program.
type Image struct {
	// ID is the blake3 hash of the uncompressed image.
	ID     types.ProgramID
	Data   []byte
	Header glow.Header

	// Compressed reports whether the source was zstd-compressed.
	Compressed bool
}

// Size returns the number of bytes the header declares.
func (img *Image) Size() int {
	return int(img.Header.ContextLen) + int(img.Header.InstrLen)
}

// Paths returns the image's initial path metadata.
func (img *Image) Paths() ([]glow.PathInfo, error) {
	return glow.Paths(img.Data[:img.Header.ContextLen])
}

// Parse decodes an image, decompressing it first if needed.
func Parse(data []byte) (*Image, error) {
	compressed := IsCompressed(data)
	if compressed {
		raw, err := Decompress(data)
		if err != nil {
			return nil, err
		}
		data = raw
	}

	h, err := glow.ParseHeader(data)
	if err != nil {
		return nil, err
	}
	img := &Image{
		ID:         types.HashProgram(data),
		Data:       data,
		Header:     h,
		Compressed: compressed,
	}
	if len(data) < img.Size() {
		return nil, fmt.Errorf("%w: %d bytes, header declares %d", ErrTruncated, len(data), img.Size())
	}
	return img, nil
}

// Load reads and parses the image at path.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	img, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// IsCompressed reports whether data is a zstd frame.
func IsCompressed(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// Compress compresses an image with zstd.
func Compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// Decompress decompresses a zstd image.
func Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	out, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Describe writes a human-readable summary of the image.
func (img *Image) Describe(w io.Writer) error {
	h := img.Header
	fmt.Fprintf(w, "id:            %s\n", img.ID)
	fmt.Fprintf(w, "size:          %d bytes (context %d, instructions %d)\n", img.Size(), h.ContextLen, h.InstrLen)
	fmt.Fprintf(w, "leds:          %d\n", h.LedCount)
	fmt.Fprintf(w, "tick interval: %d ms\n", h.TickIntervalMs)
	fmt.Fprintf(w, "brightness:    %d\n", h.BrightnessCoeff)
	fmt.Fprintf(w, "paths:         %d\n", h.PathCount)

	paths, err := img.Paths()
	if err != nil {
		return err
	}
	for _, p := range paths {
		state := "runnable"
		if p.Ended {
			state = "ended"
		}
		_, err := fmt.Fprintf(w, "  path %3d: start %d, %d bytes, cursor %d, pause %d, %s\n",
			p.Index, p.Start, p.Length, p.Cursor, p.Pause, state)
		if err != nil {
			return err
		}
	}
	return nil
}
