package ledger

import (
	"fmt"
	"sync/atomic"

	"TrustLedger/internal/identity"
	"TrustLedger/internal/logger"
)

// Seeder supplies the preinstalled authorities trusted at startup.
type Seeder interface {
	DefaultAuthorities() ([]identity.PublicKey, error)
}

// SeederFunc adapts a function to Seeder.
type SeederFunc func() ([]identity.PublicKey, error)

// DefaultAuthorities calls f.
func (f SeederFunc) DefaultAuthorities() ([]identity.PublicKey, error) {
	return f()
}

// Option configures a Manager.
type Option func(*Manager)

// WithCache makes the Manager use c instead of a private cache.
func WithCache(c *AuthorityCache) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithSignatureCheck verifies incoming versions against the authority key
// when the key is known. Versions for HashOnly authorities are accepted
// unverified and checked when the key arrives; the chain is cut at the first
// version that fails.
func WithSignatureCheck() Option {
	return func(m *Manager) {
		m.verifySignatures = true
	}
}

// Manager combines the store and the trusted cache and is the entry point for
// transport handlers and applications. Safe for concurrent use.
type Manager struct {
	store RevocationStore
	cache *AuthorityCache
	locks *keyLocker

	verifySignatures bool
	seeded           atomic.Bool
}

// NewManager creates a Manager over store. Call LoadTrustedAuthorities before use.
func NewManager(store RevocationStore, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		cache: NewAuthorityCache(),
		locks: newKeyLocker(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Cache returns the trusted-authority cache.
func (m *Manager) Cache() *AuthorityCache {
	return m.cache
}

// LoadTrustedAuthorities fills the cache from the store's recognized set.
func (m *Manager) LoadTrustedAuthorities() error {
	if err := m.cache.Load(m.store); err != nil {
		return err
	}

	logger.Info("trusted authorities loaded", "count", m.cache.Len())
	return nil
}

// LoadDefaultAuthorities trusts every key returned by s. It may run once.
func (m *Manager) LoadDefaultAuthorities(s Seeder) error {
	if !m.seeded.CompareAndSwap(false, true) {
		return ErrAlreadySeeded
	}

	keys, err := s.DefaultAuthorities()
	if err != nil {
		return fmt.Errorf("read default authorities:\n%w", err)
	}

	for _, key := range keys {
		if err := m.AddTrustedAuthority(key); err != nil {
			return fmt.Errorf("seed authority %s:\n%w", key.Hash().Short(), err)
		}
	}

	logger.Info("default authorities loaded", "count", len(keys))
	return nil
}

// InsertRevocations ingests one chain version for authority h.
//
// Unknown authorities are registered by hash. The version is dropped as a Gap
// if version-1 is not stored, and ignored as a Duplicate if version is already
// stored. Only storage failures are returned as errors.
func (m *Manager) InsertRevocations(h Hash, version uint64, signature []byte, revoked []Hash) (IngestResult, error) {
	if version == 0 {
		logger.Warn("dropping revocation with version 0", "authority", h.Short())
		return Rejected, nil
	}

	unlock := m.locks.lock(h)
	defer unlock()

	auth, ok, err := m.store.AuthorityByHash(h)
	if err != nil {
		return 0, fmt.Errorf("lookup authority %s:\n%w", h.Short(), err)
	}

	if !ok {
		if err := m.store.InsertAuthorityHash(h); err != nil {
			return 0, fmt.Errorf("register authority %s:\n%w", h.Short(), err)
		}

		auth = NewHashOnlyAuthority(h)
		logger.Debug("registered authority from revocation", "authority", h.Short())
	}

	if m.verifySignatures {
		if key, known := auth.PublicKey(); known && !identity.VerifyRevocation(key, version, signature, revoked) {
			logger.Warn("dropping revocation with bad signature", "authority", h.Short(), "version", version)
			return Rejected, nil
		}
	}

	if version >= 2 {
		prev, err := m.store.HasVersion(h, version-1)
		if err != nil {
			return 0, fmt.Errorf("check version %d of %s:\n%w", version-1, h.Short(), err)
		}

		if !prev {
			logger.Warn("received revocations out of order, skipping",
				"authority", h.Short(),
				"version", version,
				"local", auth.Version,
			)
			return Gap, nil
		}
	}

	exists, err := m.store.HasVersion(h, version)
	if err != nil {
		return 0, fmt.Errorf("check version %d of %s:\n%w", version, h.Short(), err)
	}

	if exists {
		logger.Debug("duplicate revocation version", "authority", h.Short(), "version", version)
		return Duplicate, nil
	}

	blob := RevocationBlob{
		AuthorityHash: h,
		Version:       version,
		Signature:     append([]byte(nil), signature...),
		Revoked:       append([]Hash(nil), revoked...),
	}

	if err := m.store.InsertVersion(blob); err != nil {
		return 0, fmt.Errorf("store version %d of %s:\n%w", version, h.Short(), err)
	}

	m.cache.UpdateVersionIfPresent(h, version)

	logger.Debug("revocation version stored",
		"authority", h.Short(),
		"version", version,
		"revoked", len(revoked),
	)

	return Accepted, nil
}

// InsertBlob is InsertRevocations for a decoded blob.
func (m *Manager) InsertBlob(b RevocationBlob) (IngestResult, error) {
	return m.InsertRevocations(b.AuthorityHash, b.Version, b.Signature, b.Revoked)
}

// GetLatestRevocationPreviews returns the highest stored version of every known
// authority, trusted or not.
func (m *Manager) GetLatestRevocationPreviews() (map[Hash]uint64, error) {
	authorities, err := m.store.KnownAuthorities()
	if err != nil {
		return nil, fmt.Errorf("list known authorities:\n%w", err)
	}

	previews := make(map[Hash]uint64, len(authorities))
	for _, a := range authorities {
		previews[a.Hash] = a.Version
	}

	return previews, nil
}

// GetRevocations returns every stored version of h above fromVersion, ascending.
func (m *Manager) GetRevocations(h Hash, fromVersion uint64) ([]RevocationBlob, error) {
	versions, err := m.store.VersionsSince(h, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("list versions of %s:\n%w", h.Short(), err)
	}

	if len(versions) == 0 {
		return nil, nil
	}

	blobs, err := m.store.Revocations(h, versions)
	if err != nil {
		return nil, fmt.Errorf("read revocations of %s:\n%w", h.Short(), err)
	}

	return blobs, nil
}

// GetAllRevocations dumps every stored chain element.
func (m *Manager) GetAllRevocations() ([]RevocationBlob, error) {
	return m.store.AllRevocations()
}

// AddTrustedAuthority starts trusting key. An authority already on record keeps
// its version and history; a new one starts at version 0.
func (m *Manager) AddTrustedAuthority(key identity.PublicKey) error {
	h := key.Hash()

	unlock := m.locks.lock(h)
	defer unlock()

	if m.cache.Contains(h) {
		return nil
	}

	auth, ok, err := m.store.AuthorityByHash(h)
	if err != nil {
		return fmt.Errorf("lookup authority %s:\n%w", h.Short(), err)
	}

	if ok && auth.Kind() == HashOnly && m.verifySignatures {
		if auth.Version, err = m.dropUnverified(key, auth.Version); err != nil {
			return err
		}
	}

	if !ok || auth.Kind() == HashOnly {
		if err := m.store.InsertAuthorityKey(key); err != nil {
			return fmt.Errorf("insert authority %s:\n%w", h.Short(), err)
		}
	}

	if err := m.store.RecognizeAuthority(h); err != nil {
		return fmt.Errorf("recognize authority %s:\n%w", h.Short(), err)
	}

	if !ok {
		auth = NewKeyedAuthority(key)
	} else if auth.Kind() == HashOnly {
		if auth, err = auth.WithKey(key); err != nil {
			return err
		}
	}

	auth.Recognized = true
	m.cache.Upsert(auth)

	logger.Info("authority trusted", "authority", h.Short(), "version", auth.Version)
	return nil
}

// DeleteTrustedAuthority stops trusting h. The store keeps its history.
func (m *Manager) DeleteTrustedAuthority(h Hash) error {
	unlock := m.locks.lock(h)
	defer unlock()

	auth, ok, err := m.store.AuthorityByHash(h)
	if err != nil {
		return fmt.Errorf("lookup authority %s:\n%w", h.Short(), err)
	}

	if !ok || (!auth.Recognized && !m.cache.Contains(h)) {
		return nil
	}

	if err := m.store.DisregardAuthority(h); err != nil {
		return fmt.Errorf("disregard authority %s:\n%w", h.Short(), err)
	}

	m.cache.Remove(h)

	logger.Info("authority distrusted", "authority", h.Short())
	return nil
}

// DeleteTrustedAuthorityKey stops trusting the authority identified by key.
func (m *Manager) DeleteTrustedAuthorityKey(key identity.PublicKey) error {
	return m.DeleteTrustedAuthority(key.Hash())
}

// RegisterAuthorityKey attaches key to its authority record, creating the
// record if needed. A cached authority is upgraded in place.
func (m *Manager) RegisterAuthorityKey(key identity.PublicKey) error {
	h := key.Hash()

	unlock := m.locks.lock(h)
	defer unlock()

	auth, ok, err := m.store.AuthorityByHash(h)
	if err != nil {
		return fmt.Errorf("lookup authority %s:\n%w", h.Short(), err)
	}

	if ok && auth.Kind() == KeyKnown {
		return nil
	}

	if ok && m.verifySignatures {
		if auth.Version, err = m.dropUnverified(key, auth.Version); err != nil {
			return err
		}
	}

	if err := m.store.InsertAuthorityKey(key); err != nil {
		return fmt.Errorf("insert authority %s:\n%w", h.Short(), err)
	}

	if cached, found := m.cache.Get(h); found && cached.Kind() == HashOnly {
		upgraded, err := cached.WithKey(key)
		if err != nil {
			return err
		}
		upgraded.Version = auth.Version
		m.cache.Upsert(upgraded)
	}

	return nil
}

// dropUnverified checks the stored chain of key's authority and truncates it
// at the first version whose signature fails. It returns the resulting head.
// Caller holds the authority lock.
func (m *Manager) dropUnverified(key identity.PublicKey, head uint64) (uint64, error) {
	h := key.Hash()

	blobs, err := m.GetRevocations(h, 0)
	if err != nil {
		return head, err
	}

	for _, b := range blobs {
		if identity.VerifyRevocation(key, b.Version, b.Signature, b.Revoked) {
			continue
		}

		if err := m.store.TruncateVersions(h, b.Version); err != nil {
			return head, fmt.Errorf("truncate %s at version %d:\n%w", h.Short(), b.Version, err)
		}

		logger.Warn("discarded revocations failing the authority key",
			"authority", h.Short(),
			"from", b.Version,
			"head", head,
		)

		return b.Version - 1, nil
	}

	return head, nil
}

// GetTrustedAuthority returns h from the cache only.
func (m *Manager) GetTrustedAuthority(h Hash) (Authority, bool) {
	return m.cache.Get(h)
}

// GetAuthority returns h from the cache, falling back to the store.
func (m *Manager) GetAuthority(h Hash) (Authority, bool, error) {
	if a, ok := m.cache.Get(h); ok {
		return a, true, nil
	}

	return m.store.AuthorityByHash(h)
}

// GetAuthorities returns every authority on record.
func (m *Manager) GetAuthorities() ([]Authority, error) {
	return m.store.KnownAuthorities()
}

// GetTrustedAuthorities returns the cached trusted set.
func (m *Manager) GetTrustedAuthorities() []Authority {
	return m.cache.List()
}

// Contains reports whether h is trusted.
func (m *Manager) Contains(h Hash) bool {
	return m.cache.Contains(h)
}
