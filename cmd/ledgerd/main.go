package main

import (
	"flag"
	"fmt"
	"os"

	"TrustLedger/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(args []string) error {
	cfg, err := parseFlags(flag.NewFlagSet("ledgerd", flag.ExitOnError), args)
	if err != nil {
		return err
	}

	logger.Init(cfg.LogLevel)

	cfg.PrivateKey, err = loadOrGenerateKey(cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	logger.Info("starting ledger node",
		"id", node.network.ID()[:16],
		"quic", cfg.QUICAddress,
		"http", cfg.HTTPAddress,
		"data", cfg.DataPath,
		"peers", len(cfg.Peers),
		"authority", cfg.Authority,
	)

	return node.Run()
}
