package gossip

import (
	"fmt"
	"sync"

	"TrustLedger/internal/ledger"
	"TrustLedger/internal/logger"
)

// defaultMaxBlobsPerResponse caps the versions returned for one revocation request.
const defaultMaxBlobsPerResponse = 256

// Ledger is the part of ledger.Manager the gossip layer uses.
type Ledger interface {
	GetLatestRevocationPreviews() (map[ledger.Hash]uint64, error)
	GetRevocations(h ledger.Hash, fromVersion uint64) ([]ledger.RevocationBlob, error)
	InsertBlob(b ledger.RevocationBlob) (ledger.IngestResult, error)
}

// Handler serves gossip requests from the local ledger and ingests pushed updates.
type Handler struct {
	ledger   Ledger
	maxBlobs int

	onGap   func(Peer, ledger.Hash) // onGap is called when a pushed update skips versions
	onGapMu sync.RWMutex
}

// NewHandler creates a handler over l.
func NewHandler(l Ledger) *Handler {
	return &Handler{
		ledger:   l,
		maxBlobs: defaultMaxBlobsPerResponse,
	}
}

// OnGap sets the function called when a pushed update arrives ahead of the local chain.
func (h *Handler) OnGap(fn func(Peer, ledger.Hash)) {
	h.onGapMu.Lock()
	h.onGap = fn
	h.onGapMu.Unlock()
}

// HandleRequest answers a preview or revocation request.
func (h *Handler) HandleRequest(data []byte) ([]byte, error) {
	t, err := MessageType(data)
	if err != nil {
		return nil, err
	}

	switch t {
	case MsgPreviewRequest:
		return h.handlePreviewRequest(data)
	case MsgRevocationRequest:
		return h.handleRevocationRequest(data)
	default:
		return nil, fmt.Errorf("%w: 0x%02x is not a request", ErrWrongType, t)
	}
}

// handlePreviewRequest returns the local version of every known authority.
func (h *Handler) handlePreviewRequest(data []byte) ([]byte, error) {
	reqID, err := DecodePreviewRequest(data)
	if err != nil {
		return nil, fmt.Errorf("decode preview request:\n%w", err)
	}

	previews, err := h.ledger.GetLatestRevocationPreviews()
	if err != nil {
		return nil, fmt.Errorf("read previews:\n%w", err)
	}

	logger.Debug("serving previews", "request_id", reqID, "authorities", len(previews))

	return EncodePreviewResponse(reqID, previews), nil
}

// handleRevocationRequest returns up to maxBlobs versions above the requested one.
func (h *Handler) handleRevocationRequest(data []byte) ([]byte, error) {
	req, err := DecodeRevocationRequest(data)
	if err != nil {
		return nil, fmt.Errorf("decode revocation request:\n%w", err)
	}

	blobs, err := h.ledger.GetRevocations(req.Authority, req.SinceVersion)
	if err != nil {
		return nil, fmt.Errorf("read revocations of %s:\n%w", req.Authority.Short(), err)
	}

	if len(blobs) > h.maxBlobs {
		blobs = blobs[:h.maxBlobs]
	}

	logger.Debug("serving revocations",
		"request_id", req.RequestID,
		"authority", req.Authority.Short(),
		"since", req.SinceVersion,
		"count", len(blobs),
	)

	return EncodeRevocationResponse(req.RequestID, blobs)
}

// HandleMessage ingests a pushed revocation update from peer.
func (h *Handler) HandleMessage(from Peer, data []byte) {
	t, err := MessageType(data)
	if err != nil {
		return
	}

	if t != MsgRevocationUpdate {
		logger.Debug("ignoring gossip message", "type", t, "peer", from.ID())
		return
	}

	blob, err := DecodeRevocationUpdate(data)
	if err != nil {
		logger.Warn("bad revocation update", "peer", from.ID(), "error", err)
		return
	}

	result, err := h.ledger.InsertBlob(blob)
	if err != nil {
		logger.Error("ingest revocation update",
			"authority", blob.AuthorityHash.Short(),
			"version", blob.Version,
			"error", err,
		)
		return
	}

	if result != ledger.Gap {
		return
	}

	h.onGapMu.RLock()
	fn := h.onGap
	h.onGapMu.RUnlock()

	if fn != nil {
		fn(from, blob.AuthorityHash)
	}
}
