package gossip

import (
	"errors"
	"fmt"
	"sync"

	"TrustLedger/internal/identity"
	"TrustLedger/internal/ledger"
	"TrustLedger/internal/logger"
)

// defaultFanout is the number of peers a new version is pushed to.
const defaultFanout = 8

// ErrNotAccepted is returned when the local ledger refuses a version this node signed.
var ErrNotAccepted = errors.New("signed version not accepted")

// PublishLedger is the part of ledger.Manager a Publisher needs.
type PublishLedger interface {
	GetAuthority(h ledger.Hash) (ledger.Authority, bool, error)
	RegisterAuthorityKey(key identity.PublicKey) error
	InsertRevocations(h ledger.Hash, version uint64, signature []byte, revoked []ledger.Hash) (ledger.IngestResult, error)
}

// Broadcaster pushes a message to a subset of peers.
type Broadcaster interface {
	Gossip(data []byte, fanout int) error
}

// Publisher lets a node holding an authority key issue new chain versions.
// Each version is ingested locally first, then pushed to peers.
type Publisher struct {
	ledger PublishLedger
	signer identity.Signer
	out    Broadcaster
	fanout int

	mu sync.Mutex // mu serializes version numbering
}

// NewPublisher creates a publisher signing with signer.
// The signer's key is registered with the ledger so its versions verify.
func NewPublisher(l PublishLedger, signer identity.Signer, out Broadcaster) (*Publisher, error) {
	if err := l.RegisterAuthorityKey(signer.Public()); err != nil {
		return nil, fmt.Errorf("register authority key:\n%w", err)
	}

	return &Publisher{
		ledger: l,
		signer: signer,
		out:    out,
		fanout: defaultFanout,
	}, nil
}

// Authority returns the hash of the publishing authority.
func (p *Publisher) Authority() ledger.Hash {
	return p.signer.Public().Hash()
}

// Publish signs revoked as the next version of this authority's chain.
func (p *Publisher) Publish(revoked []ledger.Hash) (ledger.RevocationBlob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h := p.Authority()

	auth, _, err := p.ledger.GetAuthority(h)
	if err != nil {
		return ledger.RevocationBlob{}, fmt.Errorf("lookup own authority:\n%w", err)
	}

	blob := ledger.RevocationBlob{
		AuthorityHash: h,
		Version:       auth.Version + 1,
		Revoked:       append([]ledger.Hash(nil), revoked...),
	}
	blob.Signature = identity.SignRevocation(p.signer, blob.Version, blob.Revoked)

	result, err := p.ledger.InsertRevocations(h, blob.Version, blob.Signature, blob.Revoked)
	if err != nil {
		return ledger.RevocationBlob{}, fmt.Errorf("store version %d:\n%w", blob.Version, err)
	}

	if result != ledger.Accepted {
		return ledger.RevocationBlob{}, fmt.Errorf("%w: version %d:\n%w", ErrNotAccepted, blob.Version, result.Err())
	}

	if p.out != nil {
		if err := p.out.Gossip(EncodeRevocationUpdate(blob), p.fanout); err != nil {
			logger.Warn("push revocation update", "version", blob.Version, "error", err)
		}
	}

	logger.Info("revocations published", "version", blob.Version, "revoked", len(revoked))

	return blob, nil
}
