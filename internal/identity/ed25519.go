package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// Ed25519PublicKey wraps an ed25519 verification key.
type Ed25519PublicKey struct {
	key  ed25519.PublicKey
	enc  []byte
	hash Hash
}

// NewEd25519PublicKey wraps key. The encoding and hash are computed once.
func NewEd25519PublicKey(key ed25519.PublicKey) *Ed25519PublicKey {
	k := make(ed25519.PublicKey, len(key))
	copy(k, key)

	enc := tagged(SchemeEd25519, k)

	return &Ed25519PublicKey{key: k, enc: enc, hash: Sum(enc)}
}

func (k *Ed25519PublicKey) Scheme() Scheme { return SchemeEd25519 }
func (k *Ed25519PublicKey) Bytes() []byte  { return append([]byte(nil), k.enc...) }
func (k *Ed25519PublicKey) Hash() Hash     { return k.hash }

// Verify checks an ed25519 signature.
func (k *Ed25519PublicKey) Verify(signature, message []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(k.key, message, signature)
}

// Ed25519Signer signs with an ed25519 private key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  *Ed25519PublicKey
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{
		priv: priv,
		pub:  NewEd25519PublicKey(priv.Public().(ed25519.PublicKey)),
	}
}

// GenerateEd25519 creates a signer with a fresh random key.
func GenerateEd25519() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key:\n%w", err)
	}

	return NewEd25519Signer(priv), nil
}

func (s *Ed25519Signer) Public() PublicKey { return s.pub }

// Sign signs message.
func (s *Ed25519Signer) Sign(message []byte) []byte {
	return ed25519.Sign(s.priv, message)
}
