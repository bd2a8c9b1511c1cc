package gossip

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"TrustLedger/internal/ledger"
	"TrustLedger/internal/logger"
)

const (
	defaultSyncInterval   = 30 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultMaxConcurrent  = 8
	defaultDigestCache    = 1024

	// maxPullRounds bounds the requests spent catching up one authority from one peer.
	maxPullRounds = 64
)

// requestID is a global counter for gossip requests.
var requestID atomic.Uint64

// Peer is a remote node that answers gossip requests.
type Peer interface {
	ID() string
	Request(ctx context.Context, data []byte) ([]byte, error)
}

// PeerSet lists the peers to reconcile with.
type PeerSet interface {
	Peers() []Peer
}

// PeerSetFunc adapts a function to PeerSet.
type PeerSetFunc func() []Peer

// Peers calls f.
func (f PeerSetFunc) Peers() []Peer {
	return f()
}

// SyncConfig tunes a Syncer. Zero fields take defaults.
type SyncConfig struct {
	Interval       time.Duration // Interval is the time between reconciliation rounds
	RequestTimeout time.Duration // RequestTimeout bounds one request to one peer
	MaxConcurrent  int           // MaxConcurrent is the number of peers reconciled in parallel
	DigestCache    int           // DigestCache is the number of peer preview digests remembered
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.Interval <= 0 {
		c.Interval = defaultSyncInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.DigestCache <= 0 {
		c.DigestCache = defaultDigestCache
	}
	return c
}

// Syncer periodically pulls revocation versions this node is missing.
//
// Each round asks every peer for its previews and, for each authority where
// the peer is ahead, requests the versions above the local one. A peer whose
// preview has not changed since it was last fully reconciled is skipped.
type Syncer struct {
	ledger Ledger
	peers  PeerSet
	cfg    SyncConfig

	digests *lru.Cache[string, [32]byte] // digests maps peer ID to its last reconciled preview digest
	pulls   singleflight.Group          // pulls coalesces concurrent catch-ups of one authority from one peer

	stop    chan struct{}
	stopped bool       // stopped is set by Stop; no goroutine is added after it
	stopMu  sync.Mutex // stopMu orders wg.Add against Stop
	wg      sync.WaitGroup
}

// NewSyncer creates a syncer over l that reconciles with peers.
func NewSyncer(l Ledger, peers PeerSet, cfg SyncConfig) (*Syncer, error) {
	cfg = cfg.withDefaults()

	digests, err := lru.New[string, [32]byte](cfg.DigestCache)
	if err != nil {
		return nil, fmt.Errorf("create digest cache:\n%w", err)
	}

	return &Syncer{
		ledger:  l,
		peers:   peers,
		cfg:     cfg,
		digests: digests,
		stop:    make(chan struct{}),
	}, nil
}

// Start begins the periodic reconciliation loop.
func (s *Syncer) Start() {
	if s.track() {
		go s.loop()
	}
}

// Stop stops the loop and waits for in-flight work.
func (s *Syncer) Stop() {
	s.stopMu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	s.stopMu.Unlock()

	s.wg.Wait()
}

// track registers one background goroutine, or reports false once stopped.
func (s *Syncer) track() bool {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return false
	}

	s.wg.Add(1)
	return true
}

// loop runs a round on every tick until stopped.
func (s *Syncer) loop() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-s.stop
		cancel()
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("sync round", "error", err)
			}
		}
	}
}

// SyncOnce runs one reconciliation round against every peer. Failures of
// individual peers are logged, not returned.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	peers := s.peers.Peers()
	if len(peers) == 0 {
		return nil
	}

	start := time.Now()

	var accepted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)

	for _, p := range peers {
		g.Go(func() error {
			n, err := s.SyncPeer(gctx, p)
			if err != nil {
				logger.Debug("sync with peer failed", "peer", p.ID(), "error", err)
			}
			accepted.Add(int64(n))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if n := accepted.Load(); n > 0 {
		logger.Info("sync round done", "peers", len(peers), "accepted", n, logger.Timed(start))
	}

	return ctx.Err()
}

// SyncPeer reconciles with one peer and returns the number of versions accepted.
func (s *Syncer) SyncPeer(ctx context.Context, p Peer) (int, error) {
	remote, err := s.requestPreviews(ctx, p)
	if err != nil {
		return 0, err
	}

	digest := previewDigest(remote)
	if last, ok := s.digests.Get(p.ID()); ok && last == digest {
		return 0, nil
	}

	local, err := s.ledger.GetLatestRevocationPreviews()
	if err != nil {
		return 0, fmt.Errorf("read local previews:\n%w", err)
	}

	total := 0
	complete := true

	for h, remoteVersion := range remote {
		if remoteVersion <= local[h] {
			continue
		}

		r, err := s.pull(ctx, p, h, remoteVersion)
		total += r.accepted

		if err != nil {
			return total, err
		}

		if !r.reached {
			complete = false
		}
	}

	if complete {
		s.digests.Add(p.ID(), digest)
	}

	return total, nil
}

// pullResult is what one coalesced catch-up reports to every waiter.
type pullResult struct {
	accepted int
	reached  bool
}

// Pull catches up authority h from peer p as far as p goes. Concurrent pulls
// of the same authority from the same peer share one request sequence.
func (s *Syncer) Pull(ctx context.Context, p Peer, h ledger.Hash) (int, error) {
	r, err := s.pull(ctx, p, h, 0)
	return r.accepted, err
}

// PullAsync runs Pull in the background. It is used as the handler's gap callback.
func (s *Syncer) PullAsync(p Peer, h ledger.Hash) {
	if !s.track() {
		return
	}

	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout*maxPullRounds)
		defer cancel()

		go func() {
			select {
			case <-s.stop:
				cancel()
			case <-ctx.Done():
			}
		}()

		n, err := s.Pull(ctx, p, h)
		if err != nil {
			logger.Debug("gap pull failed", "peer", p.ID(), "authority", h.Short(), "error", err)
			return
		}

		logger.Debug("gap pull done", "peer", p.ID(), "authority", h.Short(), "accepted", n)
	}()
}

// pull runs pullRange through the singleflight group keyed by peer and
// authority. A shared run may have had another target, so reached is
// recomputed against this caller's target.
func (s *Syncer) pull(ctx context.Context, p Peer, h ledger.Hash, target uint64) (pullResult, error) {
	v, err, shared := s.pulls.Do(p.ID()+"/"+h.String(), func() (any, error) {
		n, reached, err := s.pullRange(ctx, p, h, target)
		return pullResult{accepted: n, reached: reached}, err
	})

	r, _ := v.(pullResult)
	if err != nil || !shared || target == 0 {
		return r, err
	}

	local, err := s.localVersion(h)
	if err != nil {
		return r, err
	}

	r.reached = local >= target
	return r, nil
}

// pullRange requests versions of h above the local one until target is
// reached, the peer has nothing more, or the chain stops advancing.
// A zero target means "as far as the peer goes".
func (s *Syncer) pullRange(ctx context.Context, p Peer, h ledger.Hash, target uint64) (accepted int, reached bool, err error) {
	for round := 0; round < maxPullRounds; round++ {
		local, err := s.localVersion(h)
		if err != nil {
			return accepted, false, err
		}

		if target != 0 && local >= target {
			return accepted, true, nil
		}

		blobs, err := s.requestRevocations(ctx, p, h, local)
		if err != nil {
			return accepted, false, err
		}

		if len(blobs) == 0 {
			return accepted, target == 0, nil
		}

		n, err := s.ingest(h, blobs)
		accepted += n

		if err != nil {
			return accepted, false, err
		}

		if n == 0 {
			// Nothing new was accepted; the peer is not helping.
			return accepted, false, nil
		}
	}

	return accepted, false, nil
}

// ingest inserts blobs of h in ascending order and stops at the first gap.
func (s *Syncer) ingest(h ledger.Hash, blobs []ledger.RevocationBlob) (int, error) {
	accepted := 0

	for _, b := range blobs {
		if b.AuthorityHash != h {
			logger.Warn("peer sent revocation for another authority",
				"want", h.Short(),
				"got", b.AuthorityHash.Short(),
			)
			continue
		}

		result, err := s.ledger.InsertBlob(b)
		if err != nil {
			return accepted, fmt.Errorf("insert version %d of %s:\n%w", b.Version, h.Short(), err)
		}

		switch result {
		case ledger.Accepted:
			accepted++
		case ledger.Gap:
			return accepted, nil
		}
	}

	return accepted, nil
}

// localVersion returns the highest stored version of h, 0 if unknown.
func (s *Syncer) localVersion(h ledger.Hash) (uint64, error) {
	previews, err := s.ledger.GetLatestRevocationPreviews()
	if err != nil {
		return 0, fmt.Errorf("read local previews:\n%w", err)
	}

	return previews[h], nil
}

// requestPreviews asks p for its previews.
func (s *Syncer) requestPreviews(ctx context.Context, p Peer) (map[ledger.Hash]uint64, error) {
	reqID := requestID.Add(1)

	resp, err := s.request(ctx, p, EncodePreviewRequest(reqID))
	if err != nil {
		return nil, fmt.Errorf("preview request:\n%w", err)
	}

	gotID, previews, err := DecodePreviewResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("decode previews:\n%w", err)
	}

	if gotID != reqID {
		return nil, fmt.Errorf("request ID mismatch: got %d, want %d", gotID, reqID)
	}

	return previews, nil
}

// requestRevocations asks p for versions of h above since.
func (s *Syncer) requestRevocations(ctx context.Context, p Peer, h ledger.Hash, since uint64) ([]ledger.RevocationBlob, error) {
	reqID := requestID.Add(1)

	req := EncodeRevocationRequest(RevocationRequest{
		RequestID:    reqID,
		Authority:    h,
		SinceVersion: since,
	})

	resp, err := s.request(ctx, p, req)
	if err != nil {
		return nil, fmt.Errorf("revocation request:\n%w", err)
	}

	gotID, blobs, err := DecodeRevocationResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("decode revocations:\n%w", err)
	}

	if gotID != reqID {
		return nil, fmt.Errorf("request ID mismatch: got %d, want %d", gotID, reqID)
	}

	return blobs, nil
}

// request sends data to p with the per-request timeout.
func (s *Syncer) request(ctx context.Context, p Peer, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	return p.Request(ctx, data)
}

// previewDigest hashes a preview independently of map order.
func previewDigest(previews map[ledger.Hash]uint64) [32]byte {
	hashes := make([]ledger.Hash, 0, len(previews))
	for h := range previews {
		hashes = append(hashes, h)
	}
	sortHashes(hashes)

	hasher := blake3.New()
	var buf [8]byte

	for _, h := range hashes {
		hasher.Write(h[:])
		binary.BigEndian.PutUint64(buf[:], previews[h])
		hasher.Write(buf[:])
	}

	var out [32]byte
	copy(out[:], hasher.Sum(nil))

	return out
}
