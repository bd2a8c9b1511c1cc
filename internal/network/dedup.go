package network

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// defaultDedupTTL is how long a pushed message hash is remembered.
	defaultDedupTTL = 30 * time.Second

	// minSweepInterval bounds how often expired hashes are swept.
	minSweepInterval = time.Second
)

// Dedup drops pushed messages seen within a TTL, keyed by their blake3 hash.
type Dedup struct {
	mu   sync.Mutex
	seen map[[32]byte]time.Time // seen maps message hash to first sighting
	ttl  time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewDedup creates a tracker; ttl <= 0 selects the default.
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	d := &Dedup{
		seen: make(map[[32]byte]time.Time),
		ttl:  ttl,
		stop: make(chan struct{}),
	}

	sweep := ttl / 2
	if sweep < minSweepInterval {
		sweep = minSweepInterval
	}

	d.wg.Add(1)
	go d.sweepLoop(sweep)

	return d
}

// Check reports whether data is new and records it.
func (d *Dedup) Check(data []byte) bool {
	hash := blake3.Sum256(data)
	now := time.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[hash]; ok && now.Sub(at) < d.ttl {
		return false
	}

	d.seen[hash] = now
	return true
}

// Len returns the number of remembered hashes.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.seen)
}

// Close stops the sweeper.
func (d *Dedup) Close() {
	d.once.Do(func() { close(d.stop) })
	d.wg.Wait()
}

func (d *Dedup) sweepLoop(every time.Duration) {
	defer d.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-d.stop:
			return
		case now := <-ticker.C:
			d.sweep(now)
		}
	}
}

// sweep drops hashes older than the TTL.
func (d *Dedup) sweep(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for hash, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, hash)
		}
	}
}
