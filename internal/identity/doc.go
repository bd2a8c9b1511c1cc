// Package identity provides the cryptographic identities that authorities sign
// revocations with. A PublicKey is serialized with a one-byte scheme tag so ed25519
// and BLS authorities can share one ledger; its Hash is blake3 over that encoding.
package identity
