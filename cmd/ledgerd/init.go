package main

import (
	"fmt"
	"os"
	"path/filepath"

	"TrustLedger/internal/api"
	"TrustLedger/internal/gossip"
	"TrustLedger/internal/identity"
	"TrustLedger/internal/ledger"
	"TrustLedger/internal/network"
	"TrustLedger/internal/revstore"
	"TrustLedger/internal/storage"
)

// initStorage opens the database under the data directory.
func (n *Node) initStorage() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data dir:\n%w", err)
	}

	db, err := storage.Open(filepath.Join(n.cfg.DataPath, "db"), storage.Options{
		SyncWrites: n.cfg.SyncWrites,
	})
	if err != nil {
		return fmt.Errorf("open storage:\n%w", err)
	}

	n.storage = db
	return nil
}

// initLedger builds the manager, loads the trusted set and applies seeds.
func (n *Node) initLedger() error {
	n.trusted = ledger.NewAuthorityCache()

	opts := []ledger.Option{ledger.WithCache(n.trusted)}
	if n.cfg.VerifySignatures {
		opts = append(opts, ledger.WithSignatureCheck())
	}

	n.ledger = ledger.NewManager(revstore.New(n.storage), opts...)

	if err := n.ledger.LoadTrustedAuthorities(); err != nil {
		return fmt.Errorf("load trusted authorities:\n%w", err)
	}

	if n.cfg.SeedsPath == "" {
		return nil
	}

	if err := n.ledger.LoadDefaultAuthorities(fileSeeder{path: n.cfg.SeedsPath}); err != nil {
		return fmt.Errorf("load default authorities:\n%w", err)
	}

	return nil
}

// initNetwork creates the QUIC node.
func (n *Node) initNetwork() error {
	node, err := network.NewNode(network.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.QUICAddress,
	})
	if err != nil {
		return fmt.Errorf("create network:\n%w", err)
	}

	n.network = node
	return nil
}

// initGossip creates the request handler, the syncer and, for authority
// nodes, the publisher.
func (n *Node) initGossip() error {
	n.handler = gossip.NewHandler(n.ledger)

	syncer, err := gossip.NewSyncer(n.ledger, gossip.PeerSetFunc(n.gossipPeers), gossip.SyncConfig{
		Interval: n.cfg.SyncInterval,
	})
	if err != nil {
		return fmt.Errorf("create syncer:\n%w", err)
	}

	n.syncer = syncer

	signer, err := authoritySigner(n.cfg)
	if err != nil {
		return err
	}

	if signer == nil {
		return nil
	}

	n.publisher, err = gossip.NewPublisher(n.ledger, signer, n.network)
	if err != nil {
		return fmt.Errorf("create publisher:\n%w", err)
	}

	return nil
}

// initAPI creates the admin HTTP server.
func (n *Node) initAPI() {
	if n.cfg.HTTPAddress == "" {
		return
	}

	// A nil *gossip.Publisher must stay a nil interface.
	var publisher api.Publisher
	if n.publisher != nil {
		publisher = n.publisher
	}

	n.api = api.New(n.cfg.HTTPAddress, n.ledger, publisher, n.network)
}

// authoritySigner derives the configured authority signer from the node key.
// It returns nil when the node does not publish.
func authoritySigner(cfg *Config) (identity.Signer, error) {
	switch cfg.Authority {
	case authorityEd25519:
		return identity.NewEd25519Signer(cfg.PrivateKey), nil
	case authorityBLS:
		s, err := identity.DeriveBLSFromEd25519(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("derive bls key:\n%w", err)
		}
		return s, nil
	default:
		return nil, nil
	}
}
