package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"TrustLedger/internal/logger"
)

// Authority signing schemes accepted by -authority.
const (
	authorityNone    = ""
	authorityEd25519 = "ed25519"
	authorityBLS     = "bls"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the admin API listen address. Empty disables the API.
	HTTPAddress string

	// QUICAddress is the gossip listen address.
	QUICAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 key, used for transport identity.
	PrivateKey ed25519.PrivateKey

	// Peers are gossip addresses dialed at startup and redialed when lost.
	Peers []string

	// SeedsPath is a file of default authority keys trusted at startup.
	SeedsPath string

	// SyncInterval is the time between anti-entropy rounds.
	SyncInterval time.Duration

	// VerifySignatures rejects versions whose signature fails against a known key.
	VerifySignatures bool

	// Authority selects the scheme this node signs its own revocations with,
	// derived from PrivateKey. Empty means the node is not an authority.
	Authority string

	// SyncWrites makes every storage write durable before returning.
	SyncWrites bool

	// LogLevel is the minimum level written.
	LogLevel slog.Level
}

// parseFlags parses command-line flags into Config.
func parseFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg := &Config{}

	var peers, level string

	fs.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	fs.StringVar(&cfg.HTTPAddress, "http", "127.0.0.1:8080", "Admin HTTP API address (empty to disable)")
	fs.StringVar(&cfg.QUICAddress, "quic", ":7400", "QUIC gossip address")
	fs.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	fs.StringVar(&peers, "peers", "", "Comma-separated gossip peer addresses")
	fs.StringVar(&cfg.SeedsPath, "seeds", "", "File of default authority keys, one hex key per line")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", 30*time.Second, "Interval between sync rounds")
	fs.BoolVar(&cfg.VerifySignatures, "verify-signatures", true, "Reject versions with bad signatures when the authority key is known")
	fs.StringVar(&cfg.Authority, "authority", "", "Publish revocations as an authority: ed25519 or bls")
	fs.BoolVar(&cfg.SyncWrites, "sync-writes", false, "Sync every storage write to disk")
	fs.StringVar(&level, "log-level", "info", "Log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.Peers = splitList(peers)

	var err error
	if cfg.LogLevel, err = logger.ParseLevel(level); err != nil {
		return nil, err
	}

	switch cfg.Authority {
	case authorityNone, authorityEd25519, authorityBLS:
	default:
		return nil, fmt.Errorf("unknown authority scheme %q", cfg.Authority)
	}

	if cfg.SyncInterval <= 0 {
		return nil, errors.New("sync interval must be positive")
	}

	return cfg, nil
}

// splitList splits a comma-separated flag value, dropping empty items.
func splitList(s string) []string {
	var out []string

	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if errors.Is(err, os.ErrNotExist) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
