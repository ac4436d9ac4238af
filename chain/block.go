// Package chain holds the minimal wire types the relay engine needs from
// the cryptocurrency network it relays for: a fixed-size, opaque block
// header and an opaque transaction blob. The engine never interprets
// either beyond hashing them — semantic validation (Merkle roots, PoW,
// scripts, consensus rules) belongs to an external validator and is not
// reproduced here (spec §1, §3).
package chain

import (
	"crypto/sha256"
	"fmt"
)

// HeaderBytesLen is the fixed size of a block header on the wire (spec §3).
const HeaderBytesLen = 80

// MaxBlockSize bounds both inline transaction encoding inside a block and
// out-of-band transaction frames. A transaction at or above this size
// cannot be carried by the 24-bit inline length used in CACHE_ID mode
// (spec §3, §4.4).
const MaxBlockSize = 1 << 24

// BlockHeader is the fixed 80-byte header the consensus layer produces.
// The relay engine treats it as opaque bytes; it never decodes the
// version/prev-hash/Merkle-root/time/bits/nonce fields inside.
type BlockHeader [HeaderBytesLen]byte

// ParseHeaderBytes validates that b is exactly HeaderBytesLen long and
// returns it as a BlockHeader.
func ParseHeaderBytes(b []byte) (BlockHeader, error) {
	var h BlockHeader
	if len(b) != HeaderBytesLen {
		return h, fmt.Errorf("chain: header: want %d bytes, got %d", HeaderBytesLen, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Hash returns the double-SHA-256 of the header's 80 bytes (spec §3).
func (h BlockHeader) Hash() [32]byte {
	return DoubleSHA256(h[:])
}

// DoubleSHA256 computes SHA-256(SHA-256(data)), the hash primitive spec.md
// treats as an externally-provided capability (spec §1). It is a fixed
// consensus algorithm, not a design choice, so it is implemented directly
// against the standard library rather than any third-party hash package
// — see DESIGN.md.
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// Transaction is an opaque, already-serialized transaction blob. The
// engine never interprets its contents; it only ever moves bytes and
// compares hashes.
type Transaction struct {
	Bytes []byte
}

// Hash is the double-SHA-256 of the transaction's serialized bytes — the
// transaction's full 32-byte identifier (spec §3).
func (t Transaction) Hash() [32]byte {
	return DoubleSHA256(t.Bytes)
}

// Block is a header plus its ordered transaction list, exactly as handed
// to the embedder once assembly completes (spec §3: "Once assembled, it
// is passed out of the engine; the engine itself does not own it
// afterward.").
type Block struct {
	Header BlockHeader
	Txs    []Transaction
}

// Hash returns the block's identifying hash: its header's hash.
func (b Block) Hash() [32]byte {
	return b.Header.Hash()
}
