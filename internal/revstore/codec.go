package revstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"TrustLedger/internal/identity"
	"TrustLedger/internal/ledger"
)

// Key prefixes.
var (
	prefixAuthority = []byte("a:") // a:<hash> -> authority record
	prefixVersion   = []byte("v:") // v:<hash><version BE> -> version record
)

const (
	flagRecognized = 0x01
	flagKeyKnown   = 0x02

	// authorityHeaderSize is [1B flags][8B version].
	authorityHeaderSize = 1 + 8

	// maxRevokedPerVersion bounds decode allocations.
	maxRevokedPerVersion = 1 << 20
)

var errCorrupt = errors.New("corrupt record")

// authorityKey returns a:<hash>.
func authorityKey(h ledger.Hash) []byte {
	key := make([]byte, len(prefixAuthority)+identity.HashSize)
	copy(key, prefixAuthority)
	copy(key[len(prefixAuthority):], h[:])
	return key
}

// chainPrefix returns v:<hash>, the prefix of all versions of h.
func chainPrefix(h ledger.Hash) []byte {
	key := make([]byte, len(prefixVersion)+identity.HashSize)
	copy(key, prefixVersion)
	copy(key[len(prefixVersion):], h[:])
	return key
}

// versionKey returns v:<hash><version BE>. Big-endian keeps versions sorted.
func versionKey(h ledger.Hash, v uint64) []byte {
	key := make([]byte, len(prefixVersion)+identity.HashSize+8)
	copy(key, chainPrefix(h))
	binary.BigEndian.PutUint64(key[len(prefixVersion)+identity.HashSize:], v)
	return key
}

// splitVersionKey extracts hash and version from a version key.
func splitVersionKey(key []byte) (ledger.Hash, uint64, error) {
	var h ledger.Hash
	if len(key) != len(prefixVersion)+identity.HashSize+8 {
		return h, 0, fmt.Errorf("%w: version key of %d bytes", errCorrupt, len(key))
	}

	copy(h[:], key[len(prefixVersion):])
	return h, binary.BigEndian.Uint64(key[len(prefixVersion)+identity.HashSize:]), nil
}

// encodeAuthority serializes an authority record.
// Format: [1B flags] [8B version] [key bytes, present iff flagKeyKnown]
func encodeAuthority(a ledger.Authority) []byte {
	var keyBytes []byte
	var flags byte

	if key, ok := a.PublicKey(); ok {
		keyBytes = key.Bytes()
		flags |= flagKeyKnown
	}

	if a.Recognized {
		flags |= flagRecognized
	}

	buf := make([]byte, authorityHeaderSize+len(keyBytes))
	buf[0] = flags
	binary.BigEndian.PutUint64(buf[1:9], a.Version)
	copy(buf[authorityHeaderSize:], keyBytes)

	return buf
}

// decodeAuthority parses a record written by encodeAuthority.
func decodeAuthority(h ledger.Hash, data []byte) (ledger.Authority, error) {
	if len(data) < authorityHeaderSize {
		return ledger.Authority{}, fmt.Errorf("%w: authority %s has %d bytes", errCorrupt, h.Short(), len(data))
	}

	flags := data[0]
	a := ledger.NewHashOnlyAuthority(h)

	if flags&flagKeyKnown != 0 {
		key, err := identity.ParsePublicKey(data[authorityHeaderSize:])
		if err != nil {
			return ledger.Authority{}, fmt.Errorf("%w: authority %s key: %v", errCorrupt, h.Short(), err)
		}

		if a, err = a.WithKey(key); err != nil {
			return ledger.Authority{}, fmt.Errorf("%w: %v", errCorrupt, err)
		}
	}

	a.Version = binary.BigEndian.Uint64(data[1:9])
	a.Recognized = flags&flagRecognized != 0

	return a, nil
}

// encodeVersion serializes signature and revoked hashes of one version.
// Format: [4B sigLen] [sig] [4B count] [count x 32B hashes]
func encodeVersion(b ledger.RevocationBlob) []byte {
	buf := make([]byte, 4+len(b.Signature)+4+len(b.Revoked)*identity.HashSize)

	binary.BigEndian.PutUint32(buf[0:4], uint32(len(b.Signature)))
	off := 4 + copy(buf[4:], b.Signature)

	binary.BigEndian.PutUint32(buf[off:off+4], uint32(len(b.Revoked)))
	off += 4

	for _, h := range b.Revoked {
		off += copy(buf[off:], h[:])
	}

	return buf
}

// decodeVersion parses a record written by encodeVersion.
func decodeVersion(h ledger.Hash, v uint64, data []byte) (ledger.RevocationBlob, error) {
	blob := ledger.RevocationBlob{AuthorityHash: h, Version: v}

	if len(data) < 4 {
		return blob, fmt.Errorf("%w: version %d of %s truncated", errCorrupt, v, h.Short())
	}

	sigLen := uint64(binary.BigEndian.Uint32(data[0:4]))
	if uint64(len(data)) < 4+sigLen+4 {
		return blob, fmt.Errorf("%w: version %d of %s truncated signature", errCorrupt, v, h.Short())
	}

	blob.Signature = append([]byte(nil), data[4:4+sigLen]...)
	rest := data[4+sigLen:]

	count := binary.BigEndian.Uint32(rest[0:4])
	rest = rest[4:]

	if count > maxRevokedPerVersion || uint64(len(rest)) != uint64(count)*identity.HashSize {
		return blob, fmt.Errorf("%w: version %d of %s has %d bytes for %d hashes",
			errCorrupt, v, h.Short(), len(rest), count)
	}

	blob.Revoked = make([]ledger.Hash, count)
	for i := range blob.Revoked {
		copy(blob.Revoked[i][:], rest[i*identity.HashSize:])
	}

	return blob, nil
}

// nextVersion returns since+1, or false if since is the last possible version.
func nextVersion(since uint64) (uint64, bool) {
	if since == math.MaxUint64 {
		return 0, false
	}
	return since + 1, true
}
