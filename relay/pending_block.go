package relay

import "thinrelay.dev/engine/chain"

// pendingSlot holds one transaction's position in a block under assembly.
// A nil tx is a tombstone: a short-hash the engine has announced intent to
// resolve but has not yet received the bytes for.
type pendingSlot struct {
	shortHash ShortHash
	tx        *chain.Transaction
}

// PendingBlock is the block reassembly state machine (spec §4.4): it owns
// one block's worth of slots, tracks how many remain unresolved, and
// guards against being assembled more than once.
type PendingBlock struct {
	header       chain.BlockHeader
	mode         RelayMode
	slots        []pendingSlot
	shortIndex   map[ShortHash]int
	remaining    int
	alreadyBuilt bool
}

// NewPendingBlockAbbrevHash builds a pending block from an ordered list of
// short-hash announcements. resolve is consulted once per hash to fill in
// any transaction the engine already holds; duplicate short-hashes within
// the same announcement are a protocol error (spec §3: block-local
// collisions are never silently resolved).
func NewPendingBlockAbbrevHash(header chain.BlockHeader, hashes []ShortHash, resolve func(ShortHash) (chain.Transaction, bool)) (*PendingBlock, *FrameError) {
	pb := &PendingBlock{
		header:     header,
		mode:       ModeAbbrevHash,
		slots:      make([]pendingSlot, len(hashes)),
		shortIndex: make(map[ShortHash]int, len(hashes)),
	}
	for i, sh := range hashes {
		if _, dup := pb.shortIndex[sh]; dup {
			return nil, fatal("relay: duplicate short-hash within block")
		}
		pb.shortIndex[sh] = i
		pb.slots[i] = pendingSlot{shortHash: sh}
		pb.remaining++
	}
	for sh, idx := range pb.shortIndex {
		if tx, ok := resolve(sh); ok {
			pb.slots[idx].tx = &tx
			pb.remaining--
		}
	}
	return pb, nil
}

// NewPendingBlockCacheID builds a pending block for CACHE_ID mode, whose
// slots arrive already resolved as the BLOCK payload's record list is
// parsed (there is no tombstone state in this mode).
func NewPendingBlockCacheID(header chain.BlockHeader) *PendingBlock {
	return &PendingBlock{header: header, mode: ModeCacheID}
}

// AddCacheSlot appends a slot resolved while parsing a CACHE_ID block's
// record list (either a cache hit or an inline transaction).
func (pb *PendingBlock) AddCacheSlot(tx chain.Transaction) {
	pb.slots = append(pb.slots, pendingSlot{tx: &tx})
}

// ResolveShortHash fills a tombstoned slot when an out-of-block
// transaction matching sh arrives (spec §4.4). matched reports that sh
// named a tombstoned slot of this block and this call filled it;
// duplicate reports that sh names a slot that was already resolved (then
// matched is false) — a protocol error per spec §4.4 ("Duplicate
// resolution of the same slot is a protocol error"), distinct from sh
// simply belonging to no slot of this block at all (both false).
func (pb *PendingBlock) ResolveShortHash(sh ShortHash, tx chain.Transaction) (matched, duplicate bool) {
	idx, ok := pb.shortIndex[sh]
	if !ok {
		return false, false
	}
	if pb.slots[idx].tx != nil {
		return false, true
	}
	pb.slots[idx].tx = &tx
	pb.remaining--
	return true, false
}

// Remaining is the tombstone count spec.md calls pending_tx_count.
func (pb *PendingBlock) Remaining() int { return pb.remaining }

// Ready reports whether every slot has been resolved.
func (pb *PendingBlock) Ready() bool { return pb.remaining == 0 }

// Header returns the block header this reassembly is building around.
func (pb *PendingBlock) Header() chain.BlockHeader { return pb.header }

// Build assembles the final block. It fails if called a second time on the
// same PendingBlock (the already_built guard) or before every slot has
// been resolved.
func (pb *PendingBlock) Build() (chain.Block, *FrameError) {
	if pb.alreadyBuilt {
		return chain.Block{}, fatal("relay: block already assembled")
	}
	if pb.remaining != 0 {
		return chain.Block{}, fatal("relay: block not ready: %d transactions outstanding", pb.remaining)
	}
	txs := make([]chain.Transaction, len(pb.slots))
	for i, s := range pb.slots {
		if s.tx == nil {
			return chain.Block{}, fatal("relay: internal: slot %d unresolved at build time", i)
		}
		txs[i] = *s.tx
	}
	pb.alreadyBuilt = true
	return chain.Block{Header: pb.header, Txs: txs}, nil
}
