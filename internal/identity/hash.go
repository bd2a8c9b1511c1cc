package identity

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// HashSize is the length of an authority or content hash.
const HashSize = 32

// Hash identifies an authority (hash of its public key) or revoked content.
type Hash [HashSize]byte

// Sum returns the blake3 hash of data.
func Sum(data []byte) Hash {
	return blake3.Sum256(data)
}

// HashFromBytes copies b into a Hash. b must be exactly HashSize bytes.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length: got %d, want %d", len(b), HashSize)
	}

	copy(h[:], b)
	return h, nil
}

// ParseHash decodes a hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("decode hash: %w", err)
	}

	return HashFromBytes(b)
}

// String returns the full hex encoding.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 bytes as hex, for logs.
func (h Hash) Short() string {
	return hex.EncodeToString(h[:8])
}
