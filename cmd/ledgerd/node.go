package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"TrustLedger/internal/api"
	"TrustLedger/internal/gossip"
	"TrustLedger/internal/ledger"
	"TrustLedger/internal/logger"
	"TrustLedger/internal/network"
	"TrustLedger/internal/storage"
)

// connectSyncTimeout bounds the reconciliation run when a peer connects.
const connectSyncTimeout = 30 * time.Second

// Node wires the ledger, gossip, transport and admin API together.
type Node struct {
	cfg *Config

	storage   *storage.Storage
	ledger    *ledger.Manager
	trusted   *ledger.AuthorityCache // trusted is the manager's trusted set
	network   *network.Node
	handler   *gossip.Handler
	syncer    *gossip.Syncer
	publisher *gossip.Publisher
	api       *api.Server

	ctx    context.Context // ctx is cancelled on Close
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates and initializes all node components.
func NewNode(cfg *Config) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{cfg: cfg, ctx: ctx, cancel: cancel}

	if err := n.initStorage(); err != nil {
		cancel()
		return nil, err
	}

	steps := []func() error{n.initLedger, n.initNetwork, n.initGossip}
	for _, step := range steps {
		if err := step(); err != nil {
			n.Close()
			return nil, err
		}
	}

	n.initAPI()
	n.wire()

	return n, nil
}

// wire connects transport callbacks to the gossip layer.
func (n *Node) wire() {
	n.network.OnRequest(func(_ *network.Peer, data []byte) ([]byte, error) {
		return n.handler.HandleRequest(data)
	})

	n.network.OnMessage(func(p *network.Peer, data []byte) {
		n.handler.HandleMessage(p, data)
	})

	n.handler.OnGap(n.syncer.PullAsync)

	n.network.OnConnect(func(p *network.Peer) {
		logger.Info("peer connected", "peer", p.ShortID(), "addr", p.Address())

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()

			ctx, cancel := context.WithTimeout(n.ctx, connectSyncTimeout)
			defer cancel()

			if _, err := n.syncer.SyncPeer(ctx, p); err != nil {
				logger.Debug("initial sync failed", "peer", p.ShortID(), "error", err)
			}
		}()
	})
}

// gossipPeers returns the connected peers as gossip peers.
func (n *Node) gossipPeers() []gossip.Peer {
	peers := n.network.Peers()
	out := make([]gossip.Peer, len(peers))

	for i, p := range peers {
		out[i] = p
	}

	return out
}

// Run starts the node and blocks until SIGINT or SIGTERM.
func (n *Node) Run() error {
	if err := n.network.Start(); err != nil {
		n.Close()
		return err
	}

	n.network.Bootstrap(n.cfg.Peers)
	n.syncer.Start()

	if n.api != nil {
		if err := n.api.Start(); err != nil {
			n.Close()
			return err
		}
	}

	if n.publisher != nil {
		logger.Info("publishing as authority", "authority", n.publisher.Authority().String())
	}

	logger.Info("node ready", "addr", n.network.Addr(), "trusted", n.trusted.Len())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	return n.Close()
}

// Close stops all components in reverse dependency order.
func (n *Node) Close() error {
	n.cancel()

	if n.api != nil {
		if err := n.api.Stop(); err != nil {
			logger.Warn("stop api", "error", err)
		}
	}

	if n.syncer != nil {
		n.syncer.Stop()
	}

	if n.network != nil {
		if err := n.network.Close(); err != nil {
			logger.Warn("close network", "error", err)
		}
	}

	n.wg.Wait()

	return n.storage.Close()
}
