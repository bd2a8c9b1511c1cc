package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

const (
	// defaultSyncInterval is the default interval between WAL syncs.
	defaultSyncInterval = 100 * time.Millisecond

	// defaultCacheSize is the default block cache size.
	defaultCacheSize = 16 << 20
)

// ErrClosed is returned by operations on a closed Storage.
var ErrClosed = errors.New("storage closed")

// Options tunes the underlying Pebble instance.
type Options struct {
	CacheSize    int64         // CacheSize is the block cache size in bytes
	SyncInterval time.Duration // SyncInterval is the WAL sync period; 0 selects the default
	SyncWrites   bool          // SyncWrites makes every write durable before returning
}

// Storage is a key-value store backed by Pebble.
// Unless SyncWrites is set, writes are NoSync and a background goroutine
// periodically syncs the WAL to disk.
type Storage struct {
	db        *pebble.DB           // db is the underlying Pebble database
	writeOpts *pebble.WriteOptions // writeOpts is Sync or NoSync per Options.SyncWrites

	stopSync chan struct{}  // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup // wg tracks the sync goroutine
	closeMu  sync.Once      // closeMu makes Close idempotent
}

// New opens a Storage at path with default options.
func New(path string) (*Storage, error) {
	return Open(path, Options{})
}

// Open opens a Storage at path with the given options.
func Open(path string, o Options) (*Storage, error) {
	cacheSize := o.CacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}

	cache := pebble.NewCache(cacheSize)
	defer cache.Unref()

	db, err := pebble.Open(path, &pebble.Options{
		Cache:                       cache,
		MemTableSize:                8 << 20,
		MemTableStopWritesThreshold: 2,
	})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s:\n%w", path, err)
	}

	s := &Storage{
		db:        db,
		writeOpts: pebble.NoSync,
		stopSync:  make(chan struct{}),
	}

	if o.SyncWrites {
		s.writeOpts = pebble.Sync
		return s, nil
	}

	interval := o.SyncInterval
	if interval <= 0 {
		interval = defaultSyncInterval
	}

	s.startSyncLoop(interval)

	return s, nil
}

// Get retrieves the value for the given key.
// Returns nil if the key does not exist.
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// value is only valid until closer.Close()
	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

// Has reports whether key exists.
func (s *Storage) Has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, closer.Close()
}

// Set stores a key-value pair.
func (s *Storage) Set(key, value []byte) error {
	return s.db.Set(key, value, s.writeOpts)
}

// Delete removes a key from the store.
func (s *Storage) Delete(key []byte) error {
	return s.db.Delete(key, s.writeOpts)
}

// Batch collects writes that are committed atomically.
type Batch struct {
	b     *pebble.Batch
	owner *Storage
}

// NewBatch starts a new atomic write batch.
// The caller must Commit or Close it.
func (s *Storage) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch(), owner: s}
}

// Set queues a key-value write.
func (b *Batch) Set(key, value []byte) error {
	return b.b.Set(key, value, nil)
}

// Delete queues a key deletion.
func (b *Batch) Delete(key []byte) error {
	return b.b.Delete(key, nil)
}

// Len returns the number of queued operations.
func (b *Batch) Len() int {
	return int(b.b.Count())
}

// Commit applies all queued writes. Either all are written or none.
func (b *Batch) Commit() error {
	defer b.b.Close()
	return b.b.Commit(b.owner.writeOpts)
}

// Close discards an uncommitted batch.
func (b *Batch) Close() error {
	return b.b.Close()
}

// IteratePrefix calls fn for each key-value pair with the given prefix,
// in lexicographic key order. Key and value are only valid during the call.
// If fn returns an error, iteration stops and the error is returned.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// IterateRange calls fn for each pair with lower <= key < upper.
func (s *Storage) IterateRange(lower, upper []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// PrefixUpperBound exposes the exclusive upper bound of a prefix scan.
func PrefixUpperBound(prefix []byte) []byte {
	return prefixUpperBound(prefix)
}

// prefixUpperBound increments the last non-0xFF byte; returns nil if prefix is all 0xFF.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper[:i+1]
		}
	}

	return nil
}

// Close stops the sync goroutine, flushes the WAL and closes the database.
func (s *Storage) Close() error {
	err := ErrClosed

	s.closeMu.Do(func() {
		close(s.stopSync)
		s.wg.Wait()

		if serr := s.sync(); serr != nil {
			s.db.Close()
			err = serr
			return
		}

		err = s.db.Close()
	})

	return err
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (s *Storage) startSyncLoop(interval time.Duration) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = s.sync()
			case <-s.stopSync:
				return
			}
		}
	}()
}

// sync forces a WAL sync to disk.
func (s *Storage) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
