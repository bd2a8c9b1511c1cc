package ledger

import (
	"fmt"

	"TrustLedger/internal/identity"
)

// Hash identifies an authority (hash of its public key) or a revoked item.
type Hash = identity.Hash

// KeyKind tells whether an authority's public key is known.
type KeyKind uint8

const (
	// HashOnly authorities were learned through a revocation or a hash reference.
	HashOnly KeyKind = iota

	// KeyKnown authorities carry the public key whose hash is Authority.Hash.
	KeyKnown
)

// String returns the kind name.
func (k KeyKind) String() string {
	if k == KeyKnown {
		return "key-known"
	}
	return "hash-only"
}

// Authority is the trust metadata kept for one signing identity.
// The key is only reachable through PublicKey, which reports whether it is known.
type Authority struct {
	Hash       Hash   // Hash is blake3 of the tagged public key
	Version    uint64 // Version is the highest chain version on record (0 = none)
	Recognized bool   // Recognized is true if this node trusts the authority

	kind KeyKind
	key  identity.PublicKey
}

// NewHashOnlyAuthority returns an authority known only by its hash.
func NewHashOnlyAuthority(h Hash) Authority {
	return Authority{Hash: h, kind: HashOnly}
}

// NewKeyedAuthority returns an authority whose hash is derived from key.
func NewKeyedAuthority(key identity.PublicKey) Authority {
	return Authority{Hash: key.Hash(), kind: KeyKnown, key: key}
}

// Kind returns whether the key is known.
func (a Authority) Kind() KeyKind {
	return a.kind
}

// PublicKey returns the key and true for KeyKnown authorities.
func (a Authority) PublicKey() (identity.PublicKey, bool) {
	if a.kind != KeyKnown {
		return nil, false
	}
	return a.key, true
}

// WithKey upgrades a HashOnly authority to KeyKnown, keeping version and
// recognition. The key must hash to a.Hash.
func (a Authority) WithKey(key identity.PublicKey) (Authority, error) {
	if key.Hash() != a.Hash {
		return a, fmt.Errorf("%w: key hashes to %s, authority is %s",
			ErrKeyMismatch, key.Hash().Short(), a.Hash.Short())
	}

	a.kind = KeyKnown
	a.key = key
	return a, nil
}

// RevocationBlob is one chain version as stored and exchanged with peers.
type RevocationBlob struct {
	AuthorityHash Hash   // AuthorityHash is the chain owner
	Version       uint64 // Version is 1-based and gapless per authority
	Signature     []byte // Signature is opaque to the ledger and replayed unchanged
	Revoked       []Hash // Revoked is replayed exactly as inserted
}

// IngestResult reports what InsertRevocations did with one version.
type IngestResult uint8

const (
	// Accepted means the version was persisted.
	Accepted IngestResult = iota + 1

	// Duplicate means the version already existed; nothing changed.
	Duplicate

	// Gap means the predecessor version is missing; the update was dropped.
	Gap

	// Rejected means the update was malformed or failed signature verification.
	Rejected
)

// String returns the result name.
func (r IngestResult) String() string {
	switch r {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Gap:
		return "gap"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Err maps a non-accepted result to its sentinel error. Accepted yields nil.
func (r IngestResult) Err() error {
	switch r {
	case Accepted:
		return nil
	case Duplicate:
		return ErrDuplicateVersion
	case Gap:
		return ErrChainGap
	default:
		return ErrRejected
	}
}
