// Package revstore persists authorities and their revocation chains in Pebble.
package revstore

import (
	"fmt"

	"TrustLedger/internal/identity"
	"TrustLedger/internal/ledger"
	"TrustLedger/internal/storage"
)

// Store implements ledger.RevocationStore on top of storage.Storage.
//
// Authority record updates are read-modify-write; concurrent writers for the
// same authority must be serialized by the caller, as ledger.Manager does.
type Store struct {
	db *storage.Storage
}

var _ ledger.RevocationStore = (*Store)(nil)

// New creates a Store over db. The Store does not own db.
func New(db *storage.Storage) *Store {
	return &Store{db: db}
}

// KnownAuthorities returns all authorities ordered by hash.
func (s *Store) KnownAuthorities() ([]ledger.Authority, error) {
	return s.scanAuthorities(func(ledger.Authority) bool { return true })
}

// RecognizedAuthorities returns the trusted authorities ordered by hash.
func (s *Store) RecognizedAuthorities() ([]ledger.Authority, error) {
	return s.scanAuthorities(func(a ledger.Authority) bool { return a.Recognized })
}

// scanAuthorities iterates authority records and keeps those matching keep.
func (s *Store) scanAuthorities(keep func(ledger.Authority) bool) ([]ledger.Authority, error) {
	var out []ledger.Authority

	err := s.db.IteratePrefix(prefixAuthority, func(key, value []byte) error {
		h, err := identity.HashFromBytes(key[len(prefixAuthority):])
		if err != nil {
			return fmt.Errorf("%w: authority key: %v", errCorrupt, err)
		}

		a, err := decodeAuthority(h, value)
		if err != nil {
			return err
		}

		if keep(a) {
			out = append(out, a)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan authorities:\n%w", err)
	}

	return out, nil
}

// AuthorityByHash returns the record for h.
func (s *Store) AuthorityByHash(h ledger.Hash) (ledger.Authority, bool, error) {
	data, err := s.db.Get(authorityKey(h))
	if err != nil {
		return ledger.Authority{}, false, fmt.Errorf("get authority %s:\n%w", h.Short(), err)
	}

	if data == nil {
		return ledger.Authority{}, false, nil
	}

	a, err := decodeAuthority(h, data)
	if err != nil {
		return ledger.Authority{}, false, err
	}

	return a, true, nil
}

// InsertAuthorityKey creates a keyed record or attaches key to an existing one.
func (s *Store) InsertAuthorityKey(key identity.PublicKey) error {
	h := key.Hash()

	a, ok, err := s.AuthorityByHash(h)
	if err != nil {
		return err
	}

	switch {
	case !ok:
		a = ledger.NewKeyedAuthority(key)
	case a.Kind() == ledger.KeyKnown:
		return nil
	default:
		if a, err = a.WithKey(key); err != nil {
			return err
		}
	}

	return s.putAuthority(a)
}

// InsertAuthorityHash creates a HashOnly record unless one exists.
func (s *Store) InsertAuthorityHash(h ledger.Hash) error {
	exists, err := s.db.Has(authorityKey(h))
	if err != nil {
		return fmt.Errorf("check authority %s:\n%w", h.Short(), err)
	}

	if exists {
		return nil
	}

	return s.putAuthority(ledger.NewHashOnlyAuthority(h))
}

// RecognizeAuthority marks h as trusted.
func (s *Store) RecognizeAuthority(h ledger.Hash) error {
	return s.setRecognized(h, true)
}

// DisregardAuthority marks h as not trusted.
func (s *Store) DisregardAuthority(h ledger.Hash) error {
	return s.setRecognized(h, false)
}

// setRecognized rewrites the flag of an existing record.
func (s *Store) setRecognized(h ledger.Hash, recognized bool) error {
	a, ok, err := s.AuthorityByHash(h)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownAuthority, h.Short())
	}

	if a.Recognized == recognized {
		return nil
	}

	a.Recognized = recognized
	return s.putAuthority(a)
}

// putAuthority writes a's record.
func (s *Store) putAuthority(a ledger.Authority) error {
	if err := s.db.Set(authorityKey(a.Hash), encodeAuthority(a)); err != nil {
		return fmt.Errorf("put authority %s:\n%w", a.Hash.Short(), err)
	}
	return nil
}

// HasVersion reports whether version v of h is stored.
func (s *Store) HasVersion(h ledger.Hash, v uint64) (bool, error) {
	ok, err := s.db.Has(versionKey(h, v))
	if err != nil {
		return false, fmt.Errorf("check version %d of %s:\n%w", v, h.Short(), err)
	}
	return ok, nil
}

// InsertVersion writes the version record and raises the authority version in one batch.
func (s *Store) InsertVersion(b ledger.RevocationBlob) error {
	a, ok, err := s.AuthorityByHash(b.AuthorityHash)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownAuthority, b.AuthorityHash.Short())
	}

	batch := s.db.NewBatch()

	if err := batch.Set(versionKey(b.AuthorityHash, b.Version), encodeVersion(b)); err != nil {
		batch.Close()
		return fmt.Errorf("batch version:\n%w", err)
	}

	if b.Version > a.Version {
		a.Version = b.Version
		if err := batch.Set(authorityKey(a.Hash), encodeAuthority(a)); err != nil {
			batch.Close()
			return fmt.Errorf("batch authority:\n%w", err)
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit version %d of %s:\n%w", b.Version, b.AuthorityHash.Short(), err)
	}

	return nil
}

// TruncateVersions deletes versions of h from from upward and lowers the
// authority version in one batch.
func (s *Store) TruncateVersions(h ledger.Hash, from uint64) error {
	if from == 0 {
		return fmt.Errorf("%w: truncate from 0", ledger.ErrInvalidVersion)
	}

	a, ok, err := s.AuthorityByHash(h)
	if err != nil {
		return err
	}

	if !ok {
		return fmt.Errorf("%w: %s", ledger.ErrUnknownAuthority, h.Short())
	}

	versions, err := s.VersionsSince(h, from-1)
	if err != nil {
		return err
	}

	batch := s.db.NewBatch()

	for _, v := range versions {
		if err := batch.Delete(versionKey(h, v)); err != nil {
			batch.Close()
			return fmt.Errorf("batch delete version %d:\n%w", v, err)
		}
	}

	if a.Version >= from {
		a.Version = from - 1
		if err := batch.Set(authorityKey(h), encodeAuthority(a)); err != nil {
			batch.Close()
			return fmt.Errorf("batch authority:\n%w", err)
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit truncate of %s from %d:\n%w", h.Short(), from, err)
	}

	return nil
}

// VersionsSince returns stored versions of h above since, ascending.
func (s *Store) VersionsSince(h ledger.Hash, since uint64) ([]uint64, error) {
	from, ok := nextVersion(since)
	if !ok {
		return nil, nil
	}

	prefix := chainPrefix(h)
	var out []uint64

	err := s.db.IterateRange(versionKey(h, from), storage.PrefixUpperBound(prefix), func(key, _ []byte) error {
		_, v, err := splitVersionKey(key)
		if err != nil {
			return err
		}

		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list versions of %s:\n%w", h.Short(), err)
	}

	return out, nil
}

// Revocations returns the requested versions of h in request order.
// Unknown authorities yield nil; a missing version of a known authority is ErrVersionNotFound.
func (s *Store) Revocations(h ledger.Hash, versions []uint64) ([]ledger.RevocationBlob, error) {
	known, err := s.db.Has(authorityKey(h))
	if err != nil {
		return nil, fmt.Errorf("check authority %s:\n%w", h.Short(), err)
	}

	if !known {
		return nil, nil
	}

	out := make([]ledger.RevocationBlob, 0, len(versions))

	for _, v := range versions {
		data, err := s.db.Get(versionKey(h, v))
		if err != nil {
			return nil, fmt.Errorf("get version %d of %s:\n%w", v, h.Short(), err)
		}

		if data == nil {
			return nil, fmt.Errorf("%w: %s version %d", ledger.ErrVersionNotFound, h.Short(), v)
		}

		blob, err := decodeVersion(h, v, data)
		if err != nil {
			return nil, err
		}

		out = append(out, blob)
	}

	return out, nil
}

// AllRevocations returns every stored version ordered by authority hash then version.
func (s *Store) AllRevocations() ([]ledger.RevocationBlob, error) {
	var out []ledger.RevocationBlob

	err := s.db.IteratePrefix(prefixVersion, func(key, value []byte) error {
		h, v, err := splitVersionKey(key)
		if err != nil {
			return err
		}

		blob, err := decodeVersion(h, v, value)
		if err != nil {
			return err
		}

		out = append(out, blob)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan revocations:\n%w", err)
	}

	return out, nil
}

// Stats counts authority and version records.
func (s *Store) Stats() (authorities, versions int, err error) {
	count := func(prefix []byte) (int, error) {
		n := 0
		err := s.db.IteratePrefix(prefix, func(_, _ []byte) error {
			n++
			return nil
		})
		return n, err
	}

	if authorities, err = count(prefixAuthority); err != nil {
		return 0, 0, err
	}

	if versions, err = count(prefixVersion); err != nil {
		return 0, 0, err
	}

	return authorities, versions, nil
}
