// Package gossip exchanges revocation chains between nodes: a preview
// exchange, delta pulls of missing versions, and pushed updates.
package gossip
