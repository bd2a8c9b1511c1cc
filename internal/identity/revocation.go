package identity

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/zeebo/blake3"
)

// revocationDomain separates revocation signatures from any other use of a key.
var revocationDomain = []byte("trustledger/revocation/v1")

// RevocationDigest is the message an authority signs for one chain version.
// Revoked hashes are hashed as a set, so their order on the wire does not matter.
//
// Layout: blake3(domain || authority || version(8B BE) || count(4B BE) || sorted hashes)
func RevocationDigest(authority Hash, version uint64, revoked []Hash) []byte {
	sorted := make([]Hash, len(revoked))
	copy(sorted, revoked)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	h := blake3.New()
	h.Write(revocationDomain)
	h.Write(authority[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], version)
	h.Write(buf[:])

	binary.BigEndian.PutUint32(buf[:4], uint32(len(sorted)))
	h.Write(buf[:4])

	for i := range sorted {
		h.Write(sorted[i][:])
	}

	return h.Sum(nil)
}

// SignRevocation signs one chain version with s.
func SignRevocation(s Signer, version uint64, revoked []Hash) []byte {
	return s.Sign(RevocationDigest(s.Public().Hash(), version, revoked))
}

// VerifyRevocation checks that signature was produced by key over the given version.
func VerifyRevocation(key PublicKey, version uint64, signature []byte, revoked []Hash) bool {
	return key.Verify(signature, RevocationDigest(key.Hash(), version, revoked))
}
