package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"TrustLedger/internal/identity"
	"TrustLedger/internal/ledger"
	"TrustLedger/internal/logger"
)

// Ledger is the ledger surface exposed over HTTP.
type Ledger interface {
	GetAuthorities() ([]ledger.Authority, error)
	GetTrustedAuthorities() []ledger.Authority
	GetAuthority(h ledger.Hash) (ledger.Authority, bool, error)
	AddTrustedAuthority(key identity.PublicKey) error
	DeleteTrustedAuthority(h ledger.Hash) error
	GetLatestRevocationPreviews() (map[ledger.Hash]uint64, error)
	GetRevocations(h ledger.Hash, fromVersion uint64) ([]ledger.RevocationBlob, error)
}

// Publisher issues new versions of this node's own authority chain.
type Publisher interface {
	Authority() ledger.Hash
	Publish(revoked []ledger.Hash) (ledger.RevocationBlob, error)
}

// PeerCounter reports transport connectivity for /health.
type PeerCounter interface {
	PeerCount() int
}

// Server is the local admin HTTP API.
type Server struct {
	addr      string
	ledger    Ledger
	publisher Publisher   // publisher is nil when the node holds no authority key
	peers     PeerCounter // peers is optional
	server    *http.Server
	listener  net.Listener
}

// New creates an API server. publisher and peers may be nil.
func New(addr string, l Ledger, publisher Publisher, peers PeerCounter) *Server {
	return &Server{
		addr:      addr,
		ledger:    l,
		publisher: publisher,
		peers:     peers,
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /authorities", s.handleAuthorities)
	mux.HandleFunc("GET /authorities/trusted", s.handleTrusted)
	mux.HandleFunc("POST /authorities/trusted", s.handleAddTrusted)
	mux.HandleFunc("DELETE /authorities/trusted/{hash}", s.handleDeleteTrusted)
	mux.HandleFunc("GET /authorities/{hash}", s.handleAuthority)
	mux.HandleFunc("GET /previews", s.handlePreviews)
	mux.HandleFunc("GET /revocations/{hash}", s.handleRevocations)
	mux.HandleFunc("POST /revocations", s.handlePublish)
	return mux
}

// Start listens on addr and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", ln.Addr().String())

		if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"trusted": len(s.ledger.GetTrustedAuthorities()),
	}

	if s.peers != nil {
		resp["peers"] = s.peers.PeerCount()
	}

	if s.publisher != nil {
		resp["authority"] = s.publisher.Authority().String()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAuthorities(w http.ResponseWriter, r *http.Request) {
	all, err := s.ledger.GetAuthorities()
	if err != nil {
		internalError(w, "list authorities", err)
		return
	}

	writeJSON(w, http.StatusOK, toAuthorityViews(all))
}

func (s *Server) handleTrusted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toAuthorityViews(s.ledger.GetTrustedAuthorities()))
}

func (s *Server) handleAuthority(w http.ResponseWriter, r *http.Request) {
	h, ok := hashParam(w, r)
	if !ok {
		return
	}

	a, found, err := s.ledger.GetAuthority(h)
	if err != nil {
		internalError(w, "get authority", err)
		return
	}

	if !found {
		writeError(w, http.StatusNotFound, "unknown authority")
		return
	}

	writeJSON(w, http.StatusOK, toAuthorityView(a))
}

func (s *Server) handleAddTrusted(w http.ResponseWriter, r *http.Request) {
	var req trustRequest
	if !decodeBody(w, r, &req) {
		return
	}

	key, err := req.publicKey()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.ledger.AddTrustedAuthority(key); err != nil {
		internalError(w, "trust authority", err)
		return
	}

	a, _, err := s.ledger.GetAuthority(key.Hash())
	if err != nil {
		internalError(w, "get authority", err)
		return
	}

	writeJSON(w, http.StatusCreated, toAuthorityView(a))
}

func (s *Server) handleDeleteTrusted(w http.ResponseWriter, r *http.Request) {
	h, ok := hashParam(w, r)
	if !ok {
		return
	}

	if err := s.ledger.DeleteTrustedAuthority(h); err != nil {
		internalError(w, "distrust authority", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreviews(w http.ResponseWriter, r *http.Request) {
	previews, err := s.ledger.GetLatestRevocationPreviews()
	if err != nil {
		internalError(w, "read previews", err)
		return
	}

	out := make(map[string]uint64, len(previews))
	for h, v := range previews {
		out[h.String()] = v
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRevocations(w http.ResponseWriter, r *http.Request) {
	h, ok := hashParam(w, r)
	if !ok {
		return
	}

	var since uint64
	if q := r.URL.Query().Get("since"); q != "" {
		v, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = v
	}

	blobs, err := s.ledger.GetRevocations(h, since)
	if err != nil {
		internalError(w, "read revocations", err)
		return
	}

	writeJSON(w, http.StatusOK, toBlobViews(blobs))
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "node has no authority key")
		return
	}

	var req publishRequest
	if !decodeBody(w, r, &req) {
		return
	}

	revoked, err := req.hashes()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blob, err := s.publisher.Publish(revoked)
	if err != nil {
		internalError(w, "publish revocations", err)
		return
	}

	writeJSON(w, http.StatusCreated, toBlobView(blob))
}

// internalError logs err and answers 500 without leaking details.
func internalError(w http.ResponseWriter, op string, err error) {
	logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}
