// Package storage provides the non-volatile storage the interpreter pages
// program bytes from, and the stores that hold programs and their persisted
// path state.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	// ErrNotFound is returned when a program or context does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOutOfRange is returned for reads past the end of a device.
	ErrOutOfRange = errors.New("read outside storage")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("store closed")
)

// Device is byte-addressed non-volatile storage holding a program image.
type Device interface {
	// ReadAt fills dst with the bytes starting at src.
	ReadAt(dst []byte, src uint32) error

	// Size returns the number of readable bytes.
	Size() uint32
}

// MemDevice is a Device over an in-memory image.
type MemDevice struct {
	data []byte
}

// NewMemDevice returns a device reading from data. The slice is not copied.
func NewMemDevice(data []byte) *MemDevice {
	return &MemDevice{data: data}
}

// ReadAt implements Device.
func (d *MemDevice) ReadAt(dst []byte, src uint32) error {
	end := uint64(src) + uint64(len(dst))
	if end > uint64(len(d.data)) {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfRange, src, end, len(d.data))
	}
	copy(dst, d.data[src:end])
	return nil
}

// Size implements Device.
func (d *MemDevice) Size() uint32 {
	return uint32(len(d.data))
}

// FileDevice is a Device over a raw image file, such as a flash dump.
type FileDevice struct {
	mu   sync.Mutex
	f    *os.File
	size uint32
}

// OpenFileDevice opens path read-only.
func OpenFileDevice(path string) (*FileDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open device: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat device: %w", err)
	}
	return &FileDevice{f: f, size: uint32(st.Size())}, nil
}

// ReadAt implements Device.
func (d *FileDevice) ReadAt(dst []byte, src uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return ErrClosed
	}
	if end := uint64(src) + uint64(len(dst)); end > uint64(d.size) {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfRange, src, end, d.size)
	}
	if _, err := d.f.ReadAt(dst, int64(src)); err != nil && err != io.EOF {
		return fmt.Errorf("read device: %w", err)
	}
	return nil
}

// Size implements Device.
func (d *FileDevice) Size() uint32 {
	return d.size
}

// Close closes the underlying file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	return err
}
