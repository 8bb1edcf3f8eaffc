package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fortiblox/glow/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixContext is the prefix for saved context regions.
	// Key format: prefixContext + program id (32 bytes)
	prefixContext = []byte{0x01}

	// prefixTick is the prefix for the tick count at save time.
	// Key format: prefixTick + program id (32 bytes)
	prefixTick = []byte{0x02}
)

// ContextStoreConfig contains configuration for the context store.
type ContextStoreConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk before Save returns.
	SyncWrites bool

	// Logger is an optional badger logger. Nil disables badger logging.
	Logger badger.Logger
}

// DefaultContextStoreConfig returns default configuration.
func DefaultContextStoreConfig(path string) ContextStoreConfig {
	return ContextStoreConfig{
		Path:       path,
		SyncWrites: true,
	}
}

// Snapshot is a saved context region.
type Snapshot struct {
	Region  []byte
	Tick    uint64
	SavedAt time.Time
}

// ContextStore persists each program's context region so paths resume where
// they left off after a power loss.
type ContextStore struct {
	db     *badger.DB
	closed atomic.Bool
}

// OpenContextStore opens a BadgerDB-backed context store.
func OpenContextStore(cfg ContextStoreConfig) (*ContextStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &ContextStore{db: db}, nil
}

func contextKey(prefix []byte, id types.ProgramID) []byte {
	key := make([]byte, 1+types.ProgramIDSize)
	key[0] = prefix[0]
	copy(key[1:], id[:])
	return key
}

// Save stores region for id, replacing any earlier snapshot.
func (s *ContextStore) Save(id types.ProgramID, region []byte, tick uint64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	meta := make([]byte, 16)
	binary.LittleEndian.PutUint64(meta[0:8], tick)
	binary.LittleEndian.PutUint64(meta[8:16], uint64(time.Now().UnixNano()))

	region = append([]byte(nil), region...)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(contextKey(prefixContext, id), region); err != nil {
			return err
		}
		return txn.Set(contextKey(prefixTick, id), meta)
	})
}

// Load returns the latest snapshot for id.
func (s *ContextStore) Load(id types.ProgramID) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	snap := &Snapshot{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(contextKey(prefixContext, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if snap.Region, err = item.ValueCopy(nil); err != nil {
			return err
		}

		item, err = txn.Get(contextKey(prefixTick, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 16 {
				snap.Tick = binary.LittleEndian.Uint64(val[0:8])
				snap.SavedAt = time.Unix(0, int64(binary.LittleEndian.Uint64(val[8:16])))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Delete removes the snapshot for id.
func (s *ContextStore) Delete(id types.ProgramID) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(contextKey(prefixContext, id)); err != nil {
			return err
		}
		return txn.Delete(contextKey(prefixTick, id))
	})
}

// Close closes the database.
func (s *ContextStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}
