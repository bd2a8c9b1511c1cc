package ledger

import "TrustLedger/internal/identity"

// RevocationStore is the durable backing store of the ledger.
//
// Implementations must be safe for concurrent use. They need not make the
// gap and duplicate checks atomic with InsertVersion: the Manager serializes
// all writes for one authority.
type RevocationStore interface {
	// KnownAuthorities returns every authority on record, in a stable order.
	KnownAuthorities() ([]Authority, error)

	// RecognizedAuthorities returns the authorities with Recognized set.
	RecognizedAuthorities() ([]Authority, error)

	// AuthorityByHash returns the record for h and whether it exists.
	AuthorityByHash(h Hash) (Authority, bool, error)

	// InsertAuthorityKey records key. If a record for key.Hash() exists it gains
	// the key and keeps its version and recognition; otherwise a new record is created.
	InsertAuthorityKey(key identity.PublicKey) error

	// InsertAuthorityHash creates a HashOnly record unless one exists.
	InsertAuthorityHash(h Hash) error

	// RecognizeAuthority sets Recognized. It does not touch version or history.
	RecognizeAuthority(h Hash) error

	// DisregardAuthority clears Recognized. It does not touch version or history.
	DisregardAuthority(h Hash) error

	// HasVersion reports whether version v of h's chain is stored.
	HasVersion(h Hash, v uint64) (bool, error)

	// InsertVersion persists one chain element and raises the authority's
	// Version to blob.Version if it is higher. Both writes are atomic.
	// The authority record must exist.
	InsertVersion(blob RevocationBlob) error

	// VersionsSince returns the stored versions of h greater than since, ascending.
	// Unknown authorities yield an empty slice.
	VersionsSince(h Hash, since uint64) ([]uint64, error)

	// Revocations materializes the requested versions of h, in the order requested.
	// Unknown authorities yield an empty slice. A requested version that is not
	// stored for a known authority fails with ErrVersionNotFound.
	Revocations(h Hash, versions []uint64) ([]RevocationBlob, error)

	// TruncateVersions deletes the versions of h at or above from and lowers the
	// authority's Version to from-1. Both writes are atomic. from must be positive.
	TruncateVersions(h Hash, from uint64) error

	// AllRevocations returns every stored chain element, for audit and replay.
	AllRevocations() ([]RevocationBlob, error)
}
