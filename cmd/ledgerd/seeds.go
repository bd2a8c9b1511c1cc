package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"TrustLedger/internal/identity"
	"TrustLedger/internal/ledger"
)

// fileSeeder reads default authority keys from a text file: one hex-encoded,
// scheme-tagged public key per line. Blank lines and # comments are skipped.
type fileSeeder struct {
	path string
}

var _ ledger.Seeder = fileSeeder{}

// DefaultAuthorities parses the seed file.
func (s fileSeeder) DefaultAuthorities() ([]identity.PublicKey, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open seeds:\n%w", err)
	}
	defer f.Close()

	var keys []identity.PublicKey

	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}

		if text == "" {
			continue
		}

		key, err := identity.ParsePublicKeyHex(text)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", s.path, line, err)
		}

		keys = append(keys, key)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read seeds:\n%w", err)
	}

	return keys, nil
}
