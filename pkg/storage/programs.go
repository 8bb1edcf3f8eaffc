package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fortiblox/glow/internal/types"
	bolt "go.etcd.io/bbolt"
)

// Bucket names for BoltDB.
var (
	// bucketPrograms stores program images keyed by ProgramID.
	bucketPrograms = []byte("programs")

	// bucketMetadata stores store metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyActive = []byte("active")
)

// ProgramStoreConfig holds program store options.
type ProgramStoreConfig struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultProgramStoreConfig returns the default program store configuration.
func DefaultProgramStoreConfig(path string) ProgramStoreConfig {
	return ProgramStoreConfig{
		Path: path,
	}
}

// ProgramStore keeps program images in a BoltDB file.
type ProgramStore struct {
	db     *bolt.DB
	config ProgramStoreConfig

	mu     sync.RWMutex
	closed bool
}

// OpenProgramStore creates or opens a program store.
func OpenProgramStore(config ProgramStoreConfig) (*ProgramStore, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &ProgramStore{db: db, config: config}
	if !config.ReadOnly {
		err := db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketPrograms, bucketMetadata} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("create bucket %s: %w", name, err)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	return s, nil
}

func (s *ProgramStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put stores an image and returns its id. Storing the same image twice is a
// no-op.
func (s *ProgramStore) Put(image []byte) (types.ProgramID, error) {
	if err := s.checkOpen(); err != nil {
		return types.ProgramID{}, err
	}
	id := types.HashProgram(image)
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPrograms).Put(id.Bytes(), image)
	})
	if err != nil {
		return types.ProgramID{}, fmt.Errorf("put program: %w", err)
	}
	return id, nil
}

// Get returns a copy of the image stored under id.
func (s *ProgramStore) Get(id types.ProgramID) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var image []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrograms)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(id.Bytes())
		if v == nil {
			return ErrNotFound
		}
		image = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return image, nil
}

// Has reports whether an image is stored under id.
func (s *ProgramStore) Has(id types.ProgramID) bool {
	_, err := s.size(id)
	return err == nil
}

func (s *ProgramStore) size(id types.ProgramID) (uint32, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var n uint32
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrograms)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get(id.Bytes())
		if v == nil {
			return ErrNotFound
		}
		n = uint32(len(v))
		return nil
	})
	return n, err
}

// List returns the ids of all stored images in key order.
func (s *ProgramStore) List() ([]types.ProgramID, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var ids []types.ProgramID
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrograms)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			id, err := types.ProgramIDFromBytes(k)
			if err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}

// Delete removes an image. Deleting the active image clears the active mark.
func (s *ProgramStore) Delete(id types.ProgramID) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketPrograms).Delete(id.Bytes()); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMetadata)
		if v := meta.Get(keyActive); v != nil && string(v) == string(id.Bytes()) {
			return meta.Delete(keyActive)
		}
		return nil
	})
}

// SetActive marks id as the image to play on startup.
func (s *ProgramStore) SetActive(id types.ProgramID) error {
	if !s.Has(id) {
		return fmt.Errorf("%w: program %s", ErrNotFound, id)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put(keyActive, id.Bytes())
	})
}

// Active returns the id marked by SetActive.
func (s *ProgramStore) Active() (types.ProgramID, error) {
	if err := s.checkOpen(); err != nil {
		return types.ProgramID{}, err
	}
	var id types.ProgramID
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return ErrNotFound
		}
		v := meta.Get(keyActive)
		if v == nil {
			return ErrNotFound
		}
		var err error
		id, err = types.ProgramIDFromBytes(v)
		return err
	})
	return id, err
}

// Device returns a paging Device reading the image stored under id directly
// from the database.
func (s *ProgramStore) Device(id types.ProgramID) (Device, error) {
	n, err := s.size(id)
	if err != nil {
		return nil, err
	}
	return &boltDevice{store: s, id: id, size: n}, nil
}

// Close closes the database.
func (s *ProgramStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// boltDevice reads a stored image one page at a time.
type boltDevice struct {
	store *ProgramStore
	id    types.ProgramID
	size  uint32
}

// ReadAt implements Device.
func (d *boltDevice) ReadAt(dst []byte, src uint32) error {
	if err := d.store.checkOpen(); err != nil {
		return err
	}
	end := uint64(src) + uint64(len(dst))
	if end > uint64(d.size) {
		return fmt.Errorf("%w: [%d,%d) of %d", ErrOutOfRange, src, end, d.size)
	}
	return d.store.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketPrograms).Get(d.id.Bytes())
		if v == nil {
			return fmt.Errorf("%w: program %s", ErrNotFound, d.id)
		}
		// Values are only valid for the life of the transaction.
		copy(dst, v[src:end])
		return nil
	})
}

// Size implements Device.
func (d *boltDevice) Size() uint32 {
	return d.size
}
