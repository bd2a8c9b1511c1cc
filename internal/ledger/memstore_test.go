package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"TrustLedger/internal/identity"
)

var errInjected = errors.New("injected storage failure")

// memStore is an in-memory RevocationStore with failure injection.
type memStore struct {
	mu       sync.Mutex
	records  map[Hash]*memRecord
	order    []Hash
	failNext map[string]bool // failNext marks a method name to fail once
	calls    map[string]int
}

type memRecord struct {
	auth     Authority
	versions map[uint64]RevocationBlob
}

func newMemStore() *memStore {
	return &memStore{
		records:  make(map[Hash]*memRecord),
		failNext: make(map[string]bool),
		calls:    make(map[string]int),
	}
}

// fail makes the next call to method return errInjected.
func (s *memStore) fail(method string) {
	s.mu.Lock()
	s.failNext[method] = true
	s.mu.Unlock()
}

// enter records a call and reports whether it must fail. Caller holds mu.
func (s *memStore) enter(method string) error {
	s.calls[method]++
	if s.failNext[method] {
		delete(s.failNext, method)
		return errInjected
	}
	return nil
}

func (s *memStore) list(filter func(Authority) bool) []Authority {
	out := make([]Authority, 0, len(s.order))
	for _, h := range s.order {
		if a := s.records[h].auth; filter(a) {
			out = append(out, a)
		}
	}
	return out
}

func (s *memStore) KnownAuthorities() ([]Authority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter("KnownAuthorities"); err != nil {
		return nil, err
	}
	return s.list(func(Authority) bool { return true }), nil
}

func (s *memStore) RecognizedAuthorities() ([]Authority, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter("RecognizedAuthorities"); err != nil {
		return nil, err
	}
	return s.list(func(a Authority) bool { return a.Recognized }), nil
}

func (s *memStore) AuthorityByHash(h Hash) (Authority, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter("AuthorityByHash"); err != nil {
		return Authority{}, false, err
	}

	r, ok := s.records[h]
	if !ok {
		return Authority{}, false, nil
	}
	return r.auth, true, nil
}

func (s *memStore) add(a Authority) {
	s.records[a.Hash] = &memRecord{auth: a, versions: make(map[uint64]RevocationBlob)}
	s.order = append(s.order, a.Hash)
}

func (s *memStore) InsertAuthorityKey(key identity.PublicKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter("InsertAuthorityKey"); err != nil {
		return err
	}

	r, ok := s.records[key.Hash()]
	if !ok {
		s.add(NewKeyedAuthority(key))
		return nil
	}

	upgraded, err := r.auth.WithKey(key)
	if err != nil {
		return err
	}
	r.auth = upgraded
	return nil
}

func (s *memStore) InsertAuthorityHash(h Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter("InsertAuthorityHash"); err != nil {
		return err
	}

	if _, ok := s.records[h]; !ok {
		s.add(NewHashOnlyAuthority(h))
	}
	return nil
}

func (s *memStore) setRecognized(method string, h Hash, v bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter(method); err != nil {
		return err
	}

	r, ok := s.records[h]
	if !ok {
		return ErrUnknownAuthority
	}
	r.auth.Recognized = v
	return nil
}

func (s *memStore) RecognizeAuthority(h Hash) error {
	return s.setRecognized("RecognizeAuthority", h, true)
}

func (s *memStore) DisregardAuthority(h Hash) error {
	return s.setRecognized("DisregardAuthority", h, false)
}

func (s *memStore) HasVersion(h Hash, v uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter("HasVersion"); err != nil {
		return false, err
	}

	r, ok := s.records[h]
	if !ok {
		return false, nil
	}
	_, ok = r.versions[v]
	return ok, nil
}

func (s *memStore) InsertVersion(b RevocationBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter("InsertVersion"); err != nil {
		return err
	}

	r, ok := s.records[b.AuthorityHash]
	if !ok {
		return ErrUnknownAuthority
	}

	if _, dup := r.versions[b.Version]; dup {
		return fmt.Errorf("%w: version %d", ErrDuplicateVersion, b.Version)
	}

	r.versions[b.Version] = b
	if b.Version > r.auth.Version {
		r.auth.Version = b.Version
	}
	return nil
}

func (s *memStore) VersionsSince(h Hash, since uint64) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[h]
	if !ok {
		return nil, nil
	}

	var out []uint64
	for v := range r.versions {
		if v > since {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *memStore) Revocations(h Hash, versions []uint64) ([]RevocationBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[h]
	if !ok {
		return nil, nil
	}

	out := make([]RevocationBlob, 0, len(versions))
	for _, v := range versions {
		b, ok := r.versions[v]
		if !ok {
			return nil, fmt.Errorf("%w: %s version %d", ErrVersionNotFound, h.Short(), v)
		}
		out = append(out, b)
	}
	return out, nil
}

func (s *memStore) TruncateVersions(h Hash, from uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.enter("TruncateVersions"); err != nil {
		return err
	}

	if from == 0 {
		return ErrInvalidVersion
	}

	r, ok := s.records[h]
	if !ok {
		return ErrUnknownAuthority
	}

	for v := range r.versions {
		if v >= from {
			delete(r.versions, v)
		}
	}

	if r.auth.Version >= from {
		r.auth.Version = from - 1
	}
	return nil
}

func (s *memStore) AllRevocations() ([]RevocationBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []RevocationBlob
	for _, h := range s.order {
		r := s.records[h]
		versions := make([]uint64, 0, len(r.versions))
		for v := range r.versions {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
		for _, v := range versions {
			out = append(out, r.versions[v])
		}
	}
	return out, nil
}

// storedVersions returns the persisted versions of h, ascending.
func (s *memStore) storedVersions(h Hash) []uint64 {
	v, _ := s.VersionsSince(h, 0)
	return v
}
