// Package storage caches built navigation graphs in badger so a zone whose
// geometry and thresholds have not changed can skip the build.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"

	"github.com/Faultbox/midgard-nav/internal/navgraph"
)

var (
	// ErrNotFound is returned when no graph is stored under a key.
	ErrNotFound = errors.New("graph not found")
	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("graph store closed")
)

const keyPrefix = "graph:"

// GraphStore is a badger database of zstd-compressed graph blobs.
type GraphStore struct {
	db  *badger.DB
	enc *zstd.Encoder
	dec *zstd.Decoder

	mu      sync.RWMutex
	isReady bool
}

// Open opens or creates a store in dir.
func Open(dir string) (*GraphStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	return open(opts)
}

// OpenInMemory opens a store that keeps nothing on disk.
func OpenInMemory() (*GraphStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*GraphStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &GraphStore{db: db, enc: enc, dec: dec, isReady: true}, nil
}

// Close flushes and closes the database.
func (s *GraphStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isReady {
		return nil
	}
	s.isReady = false
	s.dec.Close()
	return s.db.Close()
}

// Save stores g under key, replacing any previous graph.
func (s *GraphStore) Save(key string, g *navgraph.Graph) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isReady {
		return ErrClosed
	}

	raw, err := g.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}
	blob := s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4))

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+key), blob)
	})
	if err != nil {
		return fmt.Errorf("saving graph %q: %w", key, err)
	}
	return nil
}

// Load returns the graph stored under key or ErrNotFound.
func (s *GraphStore) Load(key string) (*navgraph.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isReady {
		return nil, ErrClosed
	}

	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("reading graph %q: %w", key, err)
	}

	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing graph %q: %w", key, err)
	}
	return navgraph.UnmarshalGraph(raw)
}

// Delete removes the graph under key. Deleting a missing key is not an error.
func (s *GraphStore) Delete(key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isReady {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
}

// Keys lists stored keys starting with prefix, in key order.
func (s *GraphStore) Keys(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isReady {
		return nil, ErrClosed
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(keyPrefix + prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	return keys, err
}
