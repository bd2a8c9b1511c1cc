package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// BLSPublicKeySize is the size of a compressed BLS public key in bytes.
	BLSPublicKeySize = 48

	// BLSSignatureSize is the size of a compressed BLS signature in bytes.
	BLSSignatureSize = 96
)

// blsDST is the domain separation tag for BLS signatures.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// BLSPublicKey is a BLS12-381 (min-pk) verification key.
type BLSPublicKey struct {
	point *blst.P1Affine
	enc   []byte
	hash  Hash
}

// ParseBLSPublicKey decodes a compressed BLS public key.
func ParseBLSPublicKey(raw []byte) (*BLSPublicKey, error) {
	if len(raw) != BLSPublicKeySize {
		return nil, fmt.Errorf("%w: bls key has %d bytes", ErrInvalidKey, len(raw))
	}

	point := new(blst.P1Affine).Uncompress(raw)
	if point == nil || !point.KeyValidate() {
		return nil, fmt.Errorf("%w: bls point rejected", ErrInvalidKey)
	}

	return newBLSPublicKey(point), nil
}

func newBLSPublicKey(point *blst.P1Affine) *BLSPublicKey {
	enc := tagged(SchemeBLS, point.Compress())
	return &BLSPublicKey{point: point, enc: enc, hash: Sum(enc)}
}

func (k *BLSPublicKey) Scheme() Scheme { return SchemeBLS }
func (k *BLSPublicKey) Bytes() []byte  { return append([]byte(nil), k.enc...) }
func (k *BLSPublicKey) Hash() Hash     { return k.hash }

// Verify checks a compressed BLS signature.
func (k *BLSPublicKey) Verify(signature, message []byte) bool {
	if len(signature) != BLSSignatureSize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	return sig.Verify(true, k.point, false, message, blsDST)
}

// BLSSigner holds a BLS private/public key pair.
type BLSSigner struct {
	secret *blst.SecretKey
	pub    *BLSPublicKey
}

// DeriveBLSFromEd25519 derives a deterministic BLS key pair from an ed25519 private key,
// bound to it via BLAKE3("trustledger-bls-keygen" || seed).
func DeriveBLSFromEd25519(priv ed25519.PrivateKey) (*BLSSigner, error) {
	h := blake3.New()
	h.Write([]byte("trustledger-bls-keygen"))
	h.Write(priv.Seed())

	var derived [32]byte
	h.Sum(derived[:0])

	return BLSFromSeed(derived[:])
}

// GenerateBLS creates a BLS key pair from a random seed.
func GenerateBLS() (*BLSSigner, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return BLSFromSeed(ikm[:])
}

// BLSFromSeed creates a BLS key pair from a seed of at least 32 bytes.
func BLSFromSeed(seed []byte) (*BLSSigner, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	return &BLSSigner{
		secret: secret,
		pub:    newBLSPublicKey(new(blst.P1Affine).From(secret)),
	}, nil
}

func (s *BLSSigner) Public() PublicKey { return s.pub }

// Sign creates a compressed BLS signature over message.
func (s *BLSSigner) Sign(message []byte) []byte {
	return new(blst.P2Affine).Sign(s.secret, message, blsDST).Compress()
}
