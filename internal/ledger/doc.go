// Package ledger is the node-local trust and revocation ledger.
//
// Every authority has an independent, gapless chain of revocation versions
// starting at 1. The Manager ingests versions received from peers, rejecting any
// whose predecessor is missing and ignoring re-deliveries, and exposes a preview
// (highest version per known authority) that peers diff against to pull deltas.
//
// A RevocationStore is the single source of truth. The AuthorityCache mirrors the
// recognized (trusted) subset of it and is only written after the store accepted
// the corresponding change. Writes to one authority are serialized by a
// per-authority lock; different authorities proceed in parallel.
package ledger
