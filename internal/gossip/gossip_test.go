package gossip

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"TrustLedger/internal/identity"
	"TrustLedger/internal/ledger"
	"TrustLedger/internal/revstore"
	"TrustLedger/internal/storage"
)

// newTestLedger returns a Manager over a fresh pebble store.
func newTestLedger(t *testing.T) *ledger.Manager {
	t.Helper()

	db, err := storage.New(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := ledger.NewManager(revstore.New(db), ledger.WithSignatureCheck())
	if err := m.LoadTrustedAuthorities(); err != nil {
		t.Fatalf("load: %v", err)
	}

	return m
}

func newTestSigner(t *testing.T) identity.Signer {
	t.Helper()

	s, err := identity.GenerateEd25519()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return s
}

func item(v uint64) ledger.Hash {
	return identity.Sum([]byte(fmt.Sprintf("item-%d", v)))
}

// signedBlob returns version v of signer's chain revoking item(v).
func signedBlob(s identity.Signer, v uint64) ledger.RevocationBlob {
	revoked := []ledger.Hash{item(v)}

	return ledger.RevocationBlob{
		AuthorityHash: s.Public().Hash(),
		Version:       v,
		Signature:     identity.SignRevocation(s, v, revoked),
		Revoked:       revoked,
	}
}

// fillChain inserts versions 1..n of signer's chain into m.
func fillChain(t *testing.T, m *ledger.Manager, s identity.Signer, n uint64) {
	t.Helper()

	for v := uint64(1); v <= n; v++ {
		res, err := m.InsertBlob(signedBlob(s, v))
		if err != nil || res != ledger.Accepted {
			t.Fatalf("insert v%d: %v, %v", v, res, err)
		}
	}
}

// localPeer answers requests from another node's Handler in process.
type localPeer struct {
	id       string
	handler  *Handler
	requests atomic.Int32
	fail     atomic.Bool
}

func (p *localPeer) ID() string { return p.id }

func (p *localPeer) Request(_ context.Context, data []byte) ([]byte, error) {
	p.requests.Add(1)

	if p.fail.Load() {
		return nil, errors.New("connection reset")
	}

	return p.handler.HandleRequest(data)
}

func peerSet(peers ...Peer) PeerSet {
	return PeerSetFunc(func() []Peer { return peers })
}

// captureBroadcaster records pushed messages.
type captureBroadcaster struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (b *captureBroadcaster) Gossip(data []byte, _ int) error {
	b.mu.Lock()
	b.msgs = append(b.msgs, data)
	b.mu.Unlock()
	return nil
}

func TestCodecPreviews(t *testing.T) {
	previews := map[ledger.Hash]uint64{item(1): 3, item(2): 0, item(3): 1 << 40}

	reqID, err := DecodePreviewRequest(EncodePreviewRequest(42))
	if err != nil || reqID != 42 {
		t.Fatalf("preview request = %d, %v", reqID, err)
	}

	data := EncodePreviewResponse(7, previews)

	gotID, got, err := DecodePreviewResponse(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if gotID != 7 || len(got) != len(previews) {
		t.Fatalf("got id %d, %d entries", gotID, len(got))
	}

	for h, v := range previews {
		if got[h] != v {
			t.Errorf("preview %s = %d, want %d", h.Short(), got[h], v)
		}
	}

	if string(EncodePreviewResponse(7, previews)) != string(data) {
		t.Error("equal previews encoded differently")
	}
}

func TestCodecRevocationResponse(t *testing.T) {
	s := newTestSigner(t)
	blobs := []ledger.RevocationBlob{signedBlob(s, 1), signedBlob(s, 2)}
	blobs[1].Revoked = append(blobs[1].Revoked, item(99))

	data, err := EncodeRevocationResponse(9, blobs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	reqID, got, err := DecodeRevocationResponse(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if reqID != 9 || len(got) != 2 {
		t.Fatalf("got id %d, %d blobs", reqID, len(got))
	}

	if got[1].Version != 2 || len(got[1].Revoked) != 2 || got[1].Revoked[1] != item(99) {
		t.Errorf("blob 2 = %+v", got[1])
	}

	if !identity.VerifyRevocation(s.Public(), 1, got[0].Signature, got[0].Revoked) {
		t.Error("signature did not survive encoding")
	}

	empty, err := EncodeRevocationResponse(10, nil)
	if err != nil {
		t.Fatalf("encode empty: %v", err)
	}

	if _, got, err := DecodeRevocationResponse(empty); err != nil || len(got) != 0 {
		t.Errorf("empty = %v, %v", got, err)
	}
}

func TestCodecRejectsBadInput(t *testing.T) {
	update := EncodeRevocationUpdate(signedBlob(newTestSigner(t), 1))

	if _, err := DecodeRevocationUpdate(nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("empty: %v", err)
	}

	if _, err := DecodeRevocationUpdate(EncodePreviewRequest(1)); !errors.Is(err, ErrWrongType) {
		t.Errorf("wrong type: %v", err)
	}

	garbage := []byte{MsgRevocationUpdate, 0xff, 0xff, 0xff, 0x7f, 1, 2, 3, 4, 5}
	if _, err := DecodeRevocationUpdate(garbage); err == nil {
		t.Error("garbage decoded")
	}

	if _, _, err := DecodePreviewResponse(update[:5]); err == nil {
		t.Error("truncated message decoded")
	}

	bad := EncodeRevocationRequest(RevocationRequest{RequestID: 1})
	req, err := DecodeRevocationRequest(bad)
	if err != nil || req.Authority != (ledger.Hash{}) {
		t.Errorf("zero authority = %+v, %v", req, err)
	}
}

func TestSyncPeerPullsMissingVersions(t *testing.T) {
	source := newTestLedger(t)
	target := newTestLedger(t)
	s := newTestSigner(t)
	h := s.Public().Hash()

	fillChain(t, source, s, 5)
	fillChain(t, target, s, 2)

	peer := &localPeer{id: "source", handler: NewHandler(source)}

	syncer, err := NewSyncer(target, peerSet(peer), SyncConfig{})
	if err != nil {
		t.Fatalf("new syncer: %v", err)
	}

	n, err := syncer.SyncPeer(context.Background(), peer)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	if n != 3 {
		t.Errorf("accepted %d, want 3", n)
	}

	blobs, err := target.GetRevocations(h, 0)
	if err != nil || len(blobs) != 5 {
		t.Fatalf("target chain = %d blobs, %v", len(blobs), err)
	}

	for i, b := range blobs {
		if b.Version != uint64(i+1) || b.Revoked[0] != item(b.Version) {
			t.Errorf("blob %d = %+v", i, b)
		}
	}

	// Unchanged remote preview: only the preview request is sent.
	before := peer.requests.Load()
	if n, err := syncer.SyncPeer(context.Background(), peer); err != nil || n != 0 {
		t.Fatalf("second sync = %d, %v", n, err)
	}

	if got := peer.requests.Load() - before; got != 1 {
		t.Errorf("second sync sent %d requests, want 1", got)
	}
}

// gatedPeer holds its first revocation request until release is closed.
type gatedPeer struct {
	*localPeer
	held    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newGatedPeer(id string, source *ledger.Manager) *gatedPeer {
	return &gatedPeer{
		localPeer: &localPeer{id: id, handler: NewHandler(source)},
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (p *gatedPeer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if t, _ := MessageType(data); t == MsgRevocationRequest && p.held.CompareAndSwap(false, true) {
		close(p.entered)
		<-p.release
	}

	return p.localPeer.Request(ctx, data)
}

func TestSyncPeerIsNotBlockedByPullFromLaggingPeer(t *testing.T) {
	local := newTestLedger(t)
	behind := newTestLedger(t)
	ahead := newTestLedger(t)
	s := newTestSigner(t)
	h := s.Public().Hash()

	fillChain(t, behind, s, 2)
	fillChain(t, ahead, s, 5)

	slow := newGatedPeer("behind", behind)
	fast := &localPeer{id: "ahead", handler: NewHandler(ahead)}

	syncer, _ := NewSyncer(local, peerSet(slow, fast), SyncConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := syncer.Pull(context.Background(), slow, h)
		done <- err
	}()

	<-slow.entered

	n, err := syncer.SyncPeer(context.Background(), fast)
	if err != nil || n != 5 {
		t.Fatalf("sync with peer ahead = %d, %v", n, err)
	}

	close(slow.release)
	if err := <-done; err != nil {
		t.Fatalf("pull from lagging peer: %v", err)
	}

	previews, _ := local.GetLatestRevocationPreviews()
	if previews[h] != 5 {
		t.Fatalf("local version = %d, want 5", previews[h])
	}
}

func TestSharedPullReportsPerCallerTarget(t *testing.T) {
	local := newTestLedger(t)
	source := newTestLedger(t)
	s := newTestSigner(t)
	h := s.Public().Hash()

	fillChain(t, source, s, 5)

	peer := newGatedPeer("source", source)
	syncer, _ := NewSyncer(local, peerSet(peer), SyncConfig{})

	leader := make(chan pullResult, 1)
	go func() {
		r, _ := syncer.pull(context.Background(), peer, h, 0)
		leader <- r
	}()

	<-peer.entered

	joined := make(chan pullResult, 1)
	go func() {
		r, _ := syncer.pull(context.Background(), peer, h, 10)
		joined <- r
	}()

	time.Sleep(50 * time.Millisecond)
	close(peer.release)

	if r := <-leader; !r.reached {
		t.Errorf("open-ended pull = %+v, want reached", r)
	}

	if r := <-joined; r.reached {
		t.Errorf("pull to version 10 of a 5-version chain = %+v, want not reached", r)
	}
}

func TestPullAsyncAfterStopIsIgnored(t *testing.T) {
	local := newTestLedger(t)
	source := newTestLedger(t)
	s := newTestSigner(t)

	fillChain(t, source, s, 2)

	peer := &localPeer{id: "source", handler: NewHandler(source)}
	syncer, _ := NewSyncer(local, peerSet(peer), SyncConfig{})
	syncer.Stop()

	syncer.PullAsync(peer, s.Public().Hash())
	syncer.Stop()

	if got := peer.requests.Load(); got != 0 {
		t.Errorf("stopped syncer sent %d requests", got)
	}
}

func TestSyncPeerPagesLongChains(t *testing.T) {
	source := newTestLedger(t)
	target := newTestLedger(t)
	s := newTestSigner(t)

	fillChain(t, source, s, 7)

	handler := NewHandler(source)
	handler.maxBlobs = 2
	peer := &localPeer{id: "source", handler: handler}

	syncer, _ := NewSyncer(target, peerSet(peer), SyncConfig{})

	n, err := syncer.SyncPeer(context.Background(), peer)
	if err != nil || n != 7 {
		t.Fatalf("sync = %d, %v", n, err)
	}

	previews, _ := target.GetLatestRevocationPreviews()
	if previews[s.Public().Hash()] != 7 {
		t.Errorf("target version = %d, want 7", previews[s.Public().Hash()])
	}
}

func TestSyncOnceToleratesFailingPeer(t *testing.T) {
	source := newTestLedger(t)
	target := newTestLedger(t)
	s := newTestSigner(t)

	fillChain(t, source, s, 3)

	good := &localPeer{id: "good", handler: NewHandler(source)}
	bad := &localPeer{id: "bad", handler: NewHandler(source)}
	bad.fail.Store(true)

	syncer, _ := NewSyncer(target, peerSet(bad, good), SyncConfig{MaxConcurrent: 1})

	if err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("sync once: %v", err)
	}

	previews, _ := target.GetLatestRevocationPreviews()
	if previews[s.Public().Hash()] != 3 {
		t.Errorf("target version = %d, want 3", previews[s.Public().Hash()])
	}
}

func TestPushedGapTriggersPull(t *testing.T) {
	source := newTestLedger(t)
	target := newTestLedger(t)
	s := newTestSigner(t)
	h := s.Public().Hash()

	fillChain(t, source, s, 4)

	peer := &localPeer{id: "source", handler: NewHandler(source)}
	syncer, _ := NewSyncer(target, peerSet(peer), SyncConfig{})

	handler := NewHandler(target)

	var gaps atomic.Int32
	handler.OnGap(func(p Peer, a ledger.Hash) {
		gaps.Add(1)
		if _, err := syncer.Pull(context.Background(), p, a); err != nil {
			t.Errorf("pull: %v", err)
		}
	})

	handler.HandleMessage(peer, EncodeRevocationUpdate(signedBlob(s, 4)))

	if gaps.Load() != 1 {
		t.Fatalf("gap callbacks = %d, want 1", gaps.Load())
	}

	a, ok, err := target.GetAuthority(h)
	if err != nil || !ok || a.Version != 4 {
		t.Fatalf("after gap pull = %+v, %v, %v", a, ok, err)
	}

	// The next version arrives in order and needs no pull.
	next := signedBlob(s, 5)
	if _, err := source.InsertBlob(next); err != nil {
		t.Fatalf("source insert: %v", err)
	}

	handler.HandleMessage(peer, EncodeRevocationUpdate(next))

	if gaps.Load() != 1 {
		t.Errorf("in-order update triggered a pull")
	}

	if a, _, _ := target.GetAuthority(h); a.Version != 5 {
		t.Errorf("version = %d, want 5", a.Version)
	}
}

func TestSyncerStartStop(t *testing.T) {
	syncer, err := NewSyncer(newTestLedger(t), peerSet(), SyncConfig{})
	if err != nil {
		t.Fatalf("new syncer: %v", err)
	}

	syncer.Start()
	syncer.Stop()
	syncer.Stop()
}

func TestPublisher(t *testing.T) {
	local := newTestLedger(t)
	remote := newTestLedger(t)
	s := newTestSigner(t)
	out := &captureBroadcaster{}

	pub, err := NewPublisher(local, s, out)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	for v := uint64(1); v <= 2; v++ {
		blob, err := pub.Publish([]ledger.Hash{item(v)})
		if err != nil {
			t.Fatalf("publish %d: %v", v, err)
		}

		if blob.Version != v {
			t.Errorf("published version %d, want %d", blob.Version, v)
		}
	}

	if len(out.msgs) != 2 {
		t.Fatalf("pushed %d messages, want 2", len(out.msgs))
	}

	// Remote knows the key, so signatures are checked on ingest.
	if err := remote.RegisterAuthorityKey(s.Public()); err != nil {
		t.Fatalf("register key: %v", err)
	}

	handler := NewHandler(remote)
	peer := &localPeer{id: "local", handler: NewHandler(local)}

	for _, msg := range out.msgs {
		handler.HandleMessage(peer, msg)
	}

	a, _, _ := remote.GetAuthority(pub.Authority())
	if a.Version != 2 {
		t.Errorf("remote version = %d, want 2", a.Version)
	}
}

func TestPublishedVersionIsRejectedWhenTampered(t *testing.T) {
	remote := newTestLedger(t)
	s := newTestSigner(t)

	if err := remote.RegisterAuthorityKey(s.Public()); err != nil {
		t.Fatalf("register key: %v", err)
	}

	blob := signedBlob(s, 1)
	blob.Revoked = []ledger.Hash{item(1000)}

	res, err := remote.InsertBlob(blob)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if res != ledger.Rejected {
		t.Errorf("tampered blob = %v, want Rejected", res)
	}
}

// staleLedger reports every insert as a duplicate.
type staleLedger struct {
	*ledger.Manager
}

func (staleLedger) InsertRevocations(ledger.Hash, uint64, []byte, []ledger.Hash) (ledger.IngestResult, error) {
	return ledger.Duplicate, nil
}

func TestPublishNotAccepted(t *testing.T) {
	out := &captureBroadcaster{}

	pub, err := NewPublisher(staleLedger{newTestLedger(t)}, newTestSigner(t), out)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	_, err = pub.Publish(nil)
	if !errors.Is(err, ErrNotAccepted) || !errors.Is(err, ledger.ErrDuplicateVersion) {
		t.Fatalf("err = %v", err)
	}

	if len(out.msgs) != 0 {
		t.Error("refused version was pushed")
	}
}
