// Package network carries gossip bytes between ledger nodes over QUIC.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"TrustLedger/internal/logger"
)

const (
	defaultRedialDelay = 2 * time.Second
	maxRedialDelay     = time.Minute

	// alpnProtocol is the ALPN identifier of the ledger gossip protocol.
	alpnProtocol = "trustledger/1"
)

var (
	ErrNoPrivateKey = errors.New("private key is required")
	ErrNoListenAddr = errors.New("listen address is required")
	ErrPeerClosed   = errors.New("peer is closed")
	ErrNoHandler    = errors.New("no request handler registered")
	ErrSelfConnect  = errors.New("refusing connection to self")
	ErrNotRunning   = errors.New("node is not running")
)

// Config holds the configuration for a Node.
type Config struct {
	PrivateKey  ed25519.PrivateKey // PrivateKey is the node's transport identity
	ListenAddr  string             // ListenAddr is the UDP address to listen on (e.g. ":7400")
	RedialDelay time.Duration      // RedialDelay is the first delay before redialing a lost outbound peer
	DedupTTL    time.Duration      // DedupTTL is how long a pushed message is remembered
}

// Node accepts and dials QUIC connections to other ledger nodes.
// Pushes arrive on uni streams, requests on bidi streams.
type Node struct {
	key        ed25519.PrivateKey
	id         string
	listenAddr string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	listener *quic.Listener

	peers   map[string]*Peer // peers maps peer ID to the live connection
	peersMu sync.RWMutex

	dialing   map[string]bool // dialing holds outbound addresses with an active dial loop
	dialingMu sync.Mutex

	redialDelay time.Duration
	dedup       *Dedup

	onConnect  func(*Peer)
	onMessage  func(*Peer, []byte)
	onRequest  func(*Peer, []byte) ([]byte, error)
	handlersMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node. Call Start to listen.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, ErrNoPrivateKey
	}

	if cfg.ListenAddr == "" {
		return nil, ErrNoListenAddr
	}

	redial := cfg.RedialDelay
	if redial <= 0 {
		redial = defaultRedialDelay
	}

	cert, err := generateCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate:\n%w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	pub := cfg.PrivateKey.Public().(ed25519.PublicKey)

	return &Node{
		key:        cfg.PrivateKey,
		id:         hex.EncodeToString(pub),
		listenAddr: cfg.ListenAddr,
		tlsConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			ClientAuth:         tls.RequireAnyClientCert,
			InsecureSkipVerify: true, // peers are identified by their certificate key
			NextProtos:         []string{alpnProtocol},
			MinVersion:         tls.VersionTLS13,
		},
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		peers:       make(map[string]*Peer),
		dialing:     make(map[string]bool),
		redialDelay: redial,
		dedup:       NewDedup(cfg.DedupTTL),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// ID returns the node's peer ID (hex of its ed25519 public key).
func (n *Node) ID() string {
	return n.id
}

// PublicKey returns the node's transport public key.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.key.Public().(ed25519.PublicKey)
}

// Addr returns the bound listen address, or "" before Start.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start listens and accepts connections in the background.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen on %s:\n%w", n.listenAddr, err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	logger.Info("transport listening", "addr", listener.Addr().String(), "id", n.id[:16])

	return nil
}

// Connect dials addr once and registers the peer.
func (n *Node) Connect(addr string) (*Peer, error) {
	conn, err := quic.DialAddr(n.ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", addr, err)
	}

	peer, err := n.addPeer(conn, addr, true)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	n.callOnConnect(peer)

	return peer, nil
}

// Bootstrap keeps a connection to each address, redialing with backoff when lost.
func (n *Node) Bootstrap(addrs []string) {
	for _, addr := range addrs {
		n.startDialLoop(addr, 0)
	}
}

// Gossip pushes data to up to fanout random peers.
func (n *Node) Gossip(data []byte, fanout int) error {
	var errs []error

	for _, p := range selectRandomPeers(n.Peers(), fanout) {
		if err := p.Send(data); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", p.ShortID(), err))
		}
	}

	return errors.Join(errs...)
}

// Broadcast pushes data to every connected peer.
func (n *Node) Broadcast(data []byte) error {
	return n.Gossip(data, len(n.Peers()))
}

// selectRandomPeers returns up to k peers in random order.
func selectRandomPeers(peers []*Peer, k int) []*Peer {
	if k >= len(peers) {
		return peers
	}

	if k <= 0 {
		return nil
	}

	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })

	return peers[:k]
}

// Peers returns a snapshot of connected peers.
func (n *Node) Peers() []*Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}

	return out
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	return len(n.peers)
}

// Peer returns the connected peer with the given ID.
func (n *Node) Peer(id string) (*Peer, bool) {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	p, ok := n.peers[id]
	return p, ok
}

// OnConnect sets the handler called after a peer connects.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onConnect = fn
	n.handlersMu.Unlock()
}

// OnMessage sets the handler for pushed messages. Duplicates are filtered first.
func (n *Node) OnMessage(fn func(*Peer, []byte)) {
	n.handlersMu.Lock()
	n.onMessage = fn
	n.handlersMu.Unlock()
}

// OnRequest sets the handler answering request streams.
func (n *Node) OnRequest(fn func(*Peer, []byte) ([]byte, error)) {
	n.handlersMu.Lock()
	n.onRequest = fn
	n.handlersMu.Unlock()
}

// Close stops dialing, closes every connection and waits for goroutines.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.peersMu.Lock()
	peers := n.peers
	n.peers = make(map[string]*Peer)
	n.peersMu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	n.wg.Wait()
	n.dedup.Close()

	return nil
}

// acceptLoop registers incoming connections until the listener closes.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()

			peer, err := n.addPeer(conn, conn.RemoteAddr().String(), false)
			if err != nil {
				logger.Debug("rejecting connection", "addr", conn.RemoteAddr().String(), "error", err)
				conn.CloseWithError(1, "setup failed")
				return
			}

			n.callOnConnect(peer)
		}()
	}
}

// addPeer wraps conn and starts its receive loop. A previous connection to
// the same peer is replaced.
func (n *Node) addPeer(conn *quic.Conn, addr string, outbound bool) (*Peer, error) {
	pub, err := extractPublicKey(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("extract public key:\n%w", err)
	}

	id := hex.EncodeToString(pub)
	if id == n.id {
		return nil, ErrSelfConnect
	}

	if n.ctx.Err() != nil {
		return nil, ErrNotRunning
	}

	peer := &Peer{
		publicKey: pub,
		id:        id,
		address:   addr,
		outbound:  outbound,
		conn:      conn,
		node:      n,
	}

	n.peersMu.Lock()
	old := n.peers[id]
	n.peers[id] = peer
	n.peersMu.Unlock()

	if old != nil {
		old.Close()
	}

	logger.Debug("peer connected", "peer", peer.ShortID(), "addr", addr, "outbound", outbound)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop()
	}()

	return peer, nil
}

// removePeer forgets p unless it was already replaced, and redials lost outbound peers.
func (n *Node) removePeer(p *Peer) {
	n.peersMu.Lock()
	if n.peers[p.id] == p {
		delete(n.peers, p.id)
	}
	n.peersMu.Unlock()

	logger.Debug("peer disconnected", "peer", p.ShortID())

	if p.outbound && n.ctx.Err() == nil {
		n.startDialLoop(p.address, n.redialDelay)
	}
}

// startDialLoop keeps one dial loop per address.
func (n *Node) startDialLoop(addr string, initialDelay time.Duration) {
	n.dialingMu.Lock()
	if n.dialing[addr] {
		n.dialingMu.Unlock()
		return
	}
	n.dialing[addr] = true
	n.dialingMu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			n.dialingMu.Lock()
			delete(n.dialing, addr)
			n.dialingMu.Unlock()
		}()

		n.dialLoop(addr, initialDelay)
	}()
}

// dialLoop dials addr with exponential backoff until it succeeds or the node closes.
func (n *Node) dialLoop(addr string, delay time.Duration) {
	for {
		if delay > 0 {
			select {
			case <-n.ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		_, err := n.Connect(addr)
		if err == nil || n.ctx.Err() != nil || errors.Is(err, ErrSelfConnect) {
			return
		}

		delay = nextDelay(delay, n.redialDelay)
		logger.Debug("dial failed", "addr", addr, "retry_in", delay, "error", err)
	}
}

// nextDelay doubles d, starting from base and capped at maxRedialDelay.
func nextDelay(d, base time.Duration) time.Duration {
	if d < base {
		return base
	}

	d *= 2
	if d > maxRedialDelay {
		d = maxRedialDelay
	}

	return d
}

func (n *Node) callOnConnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onConnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

func (n *Node) callOnMessage(p *Peer, data []byte) {
	n.handlersMu.RLock()
	fn := n.onMessage
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p, data)
	}
}

func (n *Node) callOnRequest(p *Peer, data []byte) ([]byte, error) {
	n.handlersMu.RLock()
	fn := n.onRequest
	n.handlersMu.RUnlock()

	if fn == nil {
		return nil, ErrNoHandler
	}

	return fn(p, data)
}
