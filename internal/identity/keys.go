package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
)

// Scheme tags the signature algorithm of a key.
type Scheme byte

const (
	SchemeEd25519 Scheme = 0x01
	SchemeBLS     Scheme = 0x02
)

// String returns the scheme name.
func (s Scheme) String() string {
	switch s {
	case SchemeEd25519:
		return "ed25519"
	case SchemeBLS:
		return "bls12381"
	default:
		return fmt.Sprintf("scheme(0x%02x)", byte(s))
	}
}

var (
	ErrUnknownScheme = errors.New("unknown key scheme")
	ErrInvalidKey    = errors.New("invalid public key")
)

// PublicKey is an authority's verification key.
type PublicKey interface {
	// Scheme returns the signature algorithm.
	Scheme() Scheme

	// Bytes returns the tagged encoding: [1B scheme][raw key].
	Bytes() []byte

	// Hash returns blake3(Bytes()).
	Hash() Hash

	// Verify reports whether signature is valid for message.
	Verify(signature, message []byte) bool
}

// Signer can produce signatures verifiable by its PublicKey.
type Signer interface {
	Public() PublicKey
	Sign(message []byte) []byte
}

// ParsePublicKey decodes a tagged key encoding produced by PublicKey.Bytes.
func ParsePublicKey(data []byte) (PublicKey, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: too short (%d bytes)", ErrInvalidKey, len(data))
	}

	raw := data[1:]

	switch Scheme(data[0]) {
	case SchemeEd25519:
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("%w: ed25519 key has %d bytes", ErrInvalidKey, len(raw))
		}
		return NewEd25519PublicKey(ed25519.PublicKey(raw)), nil

	case SchemeBLS:
		return ParseBLSPublicKey(raw)

	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownScheme, data[0])
	}
}

// ParsePublicKeyHex decodes a hex-encoded tagged key.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode key hex: %w", err)
	}

	return ParsePublicKey(b)
}

// tagged prefixes raw key bytes with the scheme tag.
func tagged(s Scheme, raw []byte) []byte {
	out := make([]byte, 1+len(raw))
	out[0] = byte(s)
	copy(out[1:], raw)
	return out
}
