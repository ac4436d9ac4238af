package relay

import "thinrelay.dev/engine/chain"

// ShortHash is the 8-byte abbreviated transaction identifier used in
// ABBREV_HASH mode block announcements: the leading bytes of the
// transaction's double-SHA-256 hash, never a cryptographic commitment on
// its own (collisions within a single block are treated as a protocol
// error rather than silently resolved, per the block reassembler).
type ShortHash [8]byte

// DeriveShortHash takes the leading 8 bytes of a transaction hash.
func DeriveShortHash(txHash [32]byte) ShortHash {
	var sh ShortHash
	copy(sh[:], txHash[:len(sh)])
	return sh
}

func shortHashOf(tx chain.Transaction) ShortHash {
	return DeriveShortHash(tx.Hash())
}
