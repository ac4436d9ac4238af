package relay

import (
	"sync"

	"thinrelay.dev/engine/cache"
)

// PeerCaches are the two per-connection caches created once at version
// negotiation and shared between the receive and send paths (spec §3,
// §5): sent_tx_set and relayed_block_set. Both are protected by mu, the
// single per-peer send mutex spec §5 calls for; received_tx_map and
// received_tx_set are receive-path-only and live on Session instead,
// needing no lock.
type PeerCaches struct {
	mu sync.Mutex

	SentTxSet       *cache.BoundedSet[[32]byte]
	RelayedBlockSet *cache.BoundedSet[[32]byte]
}

func newPeerCaches(capacity int) *PeerCaches {
	return &PeerCaches{
		SentTxSet:       cache.NewBoundedSet[[32]byte](capacity),
		RelayedBlockSet: cache.NewBoundedSet[[32]byte](relayedBlockCapacity),
	}
}

// Lock and Unlock let Sender serialize a send_block/send_transaction call
// against concurrent sends for the same peer (spec §4.6: "Steps 2-6
// execute atomically with respect to other sends on the same peer").
func (c *PeerCaches) Lock()   { c.mu.Lock() }
func (c *PeerCaches) Unlock() { c.mu.Unlock() }
