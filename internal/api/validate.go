package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"TrustLedger/internal/identity"
	"TrustLedger/internal/ledger"
)

const (
	// maxBodySize bounds request bodies (1 MB).
	maxBodySize = 1 << 20

	// maxRevokedPerPublish bounds the hashes in one published version.
	maxRevokedPerPublish = 4096
)

// trustRequest is the body of POST /authorities/trusted.
type trustRequest struct {
	Key string `json:"key"` // Key is the hex of the scheme-tagged public key
}

func (r trustRequest) publicKey() (identity.PublicKey, error) {
	if r.Key == "" {
		return nil, errors.New("missing key")
	}

	key, err := identity.ParsePublicKeyHex(r.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid key: %v", err)
	}

	return key, nil
}

// publishRequest is the body of POST /revocations.
type publishRequest struct {
	Revoked []string `json:"revoked"` // Revoked holds hex content hashes
}

func (r publishRequest) hashes() ([]ledger.Hash, error) {
	if len(r.Revoked) > maxRevokedPerPublish {
		return nil, fmt.Errorf("too many revoked hashes: %d > %d", len(r.Revoked), maxRevokedPerPublish)
	}

	out := make([]ledger.Hash, len(r.Revoked))
	for i, s := range r.Revoked {
		h, err := identity.ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("revoked[%d]: %v", i, err)
		}
		out[i] = h
	}

	return out, nil
}

// authorityView is the JSON form of an authority.
type authorityView struct {
	Hash    string `json:"hash"`
	Kind    string `json:"kind"`
	Key     string `json:"key,omitempty"`
	Version uint64 `json:"version"`
	Trusted bool   `json:"trusted"`
}

func toAuthorityView(a ledger.Authority) authorityView {
	v := authorityView{
		Hash:    a.Hash.String(),
		Kind:    a.Kind().String(),
		Version: a.Version,
		Trusted: a.Recognized,
	}

	if key, ok := a.PublicKey(); ok {
		v.Key = hex.EncodeToString(key.Bytes())
	}

	return v
}

func toAuthorityViews(as []ledger.Authority) []authorityView {
	out := make([]authorityView, len(as))
	for i, a := range as {
		out[i] = toAuthorityView(a)
	}
	return out
}

// blobView is the JSON form of one chain version.
type blobView struct {
	Authority string   `json:"authority"`
	Version   uint64   `json:"version"`
	Signature string   `json:"signature"`
	Revoked   []string `json:"revoked"`
}

func toBlobView(b ledger.RevocationBlob) blobView {
	revoked := make([]string, len(b.Revoked))
	for i, h := range b.Revoked {
		revoked[i] = h.String()
	}

	return blobView{
		Authority: b.AuthorityHash.String(),
		Version:   b.Version,
		Signature: hex.EncodeToString(b.Signature),
		Revoked:   revoked,
	}
}

func toBlobViews(bs []ledger.RevocationBlob) []blobView {
	out := make([]blobView, len(bs))
	for i, b := range bs {
		out[i] = toBlobView(b)
	}
	return out
}

// hashParam parses the {hash} path value, answering 400 on failure.
func hashParam(w http.ResponseWriter, r *http.Request) (ledger.Hash, bool) {
	h, err := identity.ParseHash(r.PathValue("hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid authority hash")
		return h, false
	}

	return h, true
}

// decodeBody decodes a bounded JSON body into v, answering 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	return true
}
