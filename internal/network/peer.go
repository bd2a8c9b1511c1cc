package network

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"TrustLedger/internal/logger"
)

// defaultRequestTimeout applies when a Request context has no deadline.
const defaultRequestTimeout = 30 * time.Second

// Peer is a live connection to another node.
type Peer struct {
	publicKey ed25519.PublicKey
	id        string // id is the hex public key
	address   string // address is the dialed or remote address
	outbound  bool   // outbound is true when this node dialed the peer
	conn      *quic.Conn
	node      *Node
	closed    atomic.Bool
	sendMu    sync.Mutex
}

// ID returns the peer's hex-encoded public key.
func (p *Peer) ID() string {
	return p.id
}

// ShortID returns the first 16 hex characters of the ID, for logs.
func (p *Peer) ShortID() string {
	return p.id[:16]
}

// PublicKey returns the peer's transport public key.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Address returns the peer's network address.
func (p *Peer) Address() string {
	return p.address
}

// Send pushes data on a new unidirectional stream.
func (p *Peer) Send(data []byte) error {
	if p.closed.Load() {
		return ErrPeerClosed
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	stream, err := p.conn.OpenUniStreamSync(p.node.ctx)
	if err != nil {
		return fmt.Errorf("open stream:\n%w", err)
	}

	if err := writeFrame(stream, data); err != nil {
		stream.CancelWrite(0)
		return fmt.Errorf("write message:\n%w", err)
	}

	return stream.Close()
}

// Request sends data on a bidirectional stream and waits for the reply.
func (p *Peer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, ErrPeerClosed
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeFrame(stream, data); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	resp, err := readFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("read response:\n%w", err)
	}

	return resp, nil
}

// Close closes the connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// receiveLoop serves streams until the connection ends.
func (p *Peer) receiveLoop() {
	ctx := p.conn.Context()

	go p.acceptRequests(ctx)

	for {
		stream, err := p.conn.AcceptUniStream(ctx)
		if err != nil {
			break
		}

		go p.handlePush(stream)
	}

	p.closed.Store(true)
	p.node.removePeer(p)
}

// acceptRequests serves bidirectional request streams.
func (p *Peer) acceptRequests(ctx context.Context) {
	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			return
		}

		go p.handleRequest(stream)
	}
}

// handleRequest answers one request stream. On handler failure the stream is
// reset so the requester fails fast.
func (p *Peer) handleRequest(stream *quic.Stream) {
	defer stream.Close()

	data, err := readFrame(stream)
	if err != nil {
		return
	}

	resp, err := p.node.callOnRequest(p, data)
	if err != nil {
		logger.Debug("request failed", "peer", p.ShortID(), "error", err)
		stream.CancelWrite(1)
		return
	}

	writeFrame(stream, resp)
}

// handlePush reads one pushed message and delivers it unless it is a duplicate.
func (p *Peer) handlePush(stream *quic.ReceiveStream) {
	data, err := readFrame(stream)
	if err != nil {
		logger.Debug("push read error", "peer", p.ShortID(), "error", err)
		return
	}

	if !p.node.dedup.Check(data) {
		return
	}

	p.node.callOnMessage(p, data)
}
