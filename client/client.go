// Package client talks to a ledger node's admin HTTP API.
package client

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"TrustLedger/internal/identity"
	"TrustLedger/internal/ledger"
)

// Client connects to a ledger node via HTTP.
type Client struct {
	baseURL string       // baseURL is e.g. "http://127.0.0.1:8080"
	http    *http.Client // http performs the requests
}

// Health is the node status reported by /health.
type Health struct {
	Status    string `json:"status"`
	Trusted   int    `json:"trusted"`
	Peers     int    `json:"peers"`
	Authority string `json:"authority,omitempty"` // Authority is set on publishing nodes
}

// Authority is one authority record as seen by the node.
type Authority struct {
	Hash    ledger.Hash        // Hash identifies the authority
	Kind    string             // Kind is "hash-only" or "key-known"
	Key     identity.PublicKey // Key is nil while only the hash is known
	Version uint64             // Version is the latest stored chain version
	Trusted bool               // Trusted reports membership in the trusted set
}

type authorityJSON struct {
	Hash    string `json:"hash"`
	Kind    string `json:"kind"`
	Key     string `json:"key"`
	Version uint64 `json:"version"`
	Trusted bool   `json:"trusted"`
}

func (a authorityJSON) parse() (Authority, error) {
	h, err := identity.ParseHash(a.Hash)
	if err != nil {
		return Authority{}, fmt.Errorf("authority hash:\n%w", err)
	}

	out := Authority{Hash: h, Kind: a.Kind, Version: a.Version, Trusted: a.Trusted}

	if a.Key != "" {
		if out.Key, err = identity.ParsePublicKeyHex(a.Key); err != nil {
			return Authority{}, fmt.Errorf("authority %s key:\n%w", h.Short(), err)
		}
	}

	return out, nil
}

type blobJSON struct {
	Authority string   `json:"authority"`
	Version   uint64   `json:"version"`
	Signature string   `json:"signature"`
	Revoked   []string `json:"revoked"`
}

func (b blobJSON) parse() (ledger.RevocationBlob, error) {
	h, err := identity.ParseHash(b.Authority)
	if err != nil {
		return ledger.RevocationBlob{}, fmt.Errorf("blob authority:\n%w", err)
	}

	sig, err := hex.DecodeString(b.Signature)
	if err != nil {
		return ledger.RevocationBlob{}, fmt.Errorf("blob signature:\n%w", err)
	}

	revoked := make([]ledger.Hash, len(b.Revoked))
	for i, s := range b.Revoked {
		if revoked[i], err = identity.ParseHash(s); err != nil {
			return ledger.RevocationBlob{}, fmt.Errorf("blob revoked[%d]:\n%w", i, err)
		}
	}

	return ledger.RevocationBlob{AuthorityHash: h, Version: b.Version, Signature: sig, Revoked: revoked}, nil
}

// New creates a client for the node at addr ("host:port" or a full URL).
func New(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}

	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Health returns the node status.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h, http.StatusOK)
	return h, err
}

// Authorities returns every authority the node knows about.
func (c *Client) Authorities(ctx context.Context) ([]Authority, error) {
	return c.authorities(ctx, "/authorities")
}

// Trusted returns the node's trusted set.
func (c *Client) Trusted(ctx context.Context) ([]Authority, error) {
	return c.authorities(ctx, "/authorities/trusted")
}

func (c *Client) authorities(ctx context.Context, path string) ([]Authority, error) {
	var raw []authorityJSON
	if err := c.do(ctx, http.MethodGet, path, nil, &raw, http.StatusOK); err != nil {
		return nil, err
	}

	out := make([]Authority, len(raw))
	for i, a := range raw {
		parsed, err := a.parse()
		if err != nil {
			return nil, err
		}
		out[i] = parsed
	}

	return out, nil
}

// Authority returns one authority. A 404 StatusError means it is unknown.
func (c *Client) Authority(ctx context.Context, h ledger.Hash) (Authority, error) {
	var raw authorityJSON
	if err := c.do(ctx, http.MethodGet, "/authorities/"+h.String(), nil, &raw, http.StatusOK); err != nil {
		return Authority{}, err
	}

	return raw.parse()
}

// Trust adds key to the node's trusted set.
func (c *Client) Trust(ctx context.Context, key identity.PublicKey) (Authority, error) {
	body := map[string]string{"key": hex.EncodeToString(key.Bytes())}

	var raw authorityJSON
	if err := c.do(ctx, http.MethodPost, "/authorities/trusted", body, &raw, http.StatusCreated); err != nil {
		return Authority{}, err
	}

	return raw.parse()
}

// Distrust removes h from the node's trusted set. Its history is kept.
func (c *Client) Distrust(ctx context.Context, h ledger.Hash) error {
	return c.do(ctx, http.MethodDelete, "/authorities/trusted/"+h.String(), nil, nil, http.StatusNoContent)
}

// Previews returns the node's latest version per authority.
func (c *Client) Previews(ctx context.Context) (map[ledger.Hash]uint64, error) {
	var raw map[string]uint64
	if err := c.do(ctx, http.MethodGet, "/previews", nil, &raw, http.StatusOK); err != nil {
		return nil, err
	}

	out := make(map[ledger.Hash]uint64, len(raw))
	for s, v := range raw {
		h, err := identity.ParseHash(s)
		if err != nil {
			return nil, fmt.Errorf("preview hash:\n%w", err)
		}
		out[h] = v
	}

	return out, nil
}

// Revocations returns the chain versions of h above since.
func (c *Client) Revocations(ctx context.Context, h ledger.Hash, since uint64) ([]ledger.RevocationBlob, error) {
	q := url.Values{"since": {strconv.FormatUint(since, 10)}}

	var raw []blobJSON
	if err := c.do(ctx, http.MethodGet, "/revocations/"+h.String()+"?"+q.Encode(), nil, &raw, http.StatusOK); err != nil {
		return nil, err
	}

	return parseBlobs(raw)
}

// Publish asks an authority node to issue the next version revoking the given hashes.
func (c *Client) Publish(ctx context.Context, revoked []ledger.Hash) (ledger.RevocationBlob, error) {
	hexes := make([]string, len(revoked))
	for i, h := range revoked {
		hexes[i] = h.String()
	}

	var raw blobJSON
	if err := c.do(ctx, http.MethodPost, "/revocations", map[string][]string{"revoked": hexes}, &raw, http.StatusCreated); err != nil {
		return ledger.RevocationBlob{}, err
	}

	return raw.parse()
}

func parseBlobs(raw []blobJSON) ([]ledger.RevocationBlob, error) {
	out := make([]ledger.RevocationBlob, len(raw))
	for i, b := range raw {
		parsed, err := b.parse()
		if err != nil {
			return nil, err
		}
		out[i] = parsed
	}
	return out, nil
}
