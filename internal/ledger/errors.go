package ledger

import "errors"

// Ledger errors. Gap and duplicate conditions are expected in gossip and are
// reported through IngestResult; the sentinels exist so stores and callers can
// name them when they do surface.
var (
	ErrChainGap         = errors.New("revocation chain gap")
	ErrDuplicateVersion = errors.New("revocation version already stored")
	ErrUnknownAuthority = errors.New("unknown authority")
	ErrVersionNotFound  = errors.New("revocation version not found")
	ErrKeyMismatch      = errors.New("public key does not match authority hash")
	ErrRejected         = errors.New("revocation rejected")
	ErrInvalidVersion   = errors.New("revocation version must be positive")
	ErrAlreadySeeded    = errors.New("default authorities already loaded")
)
