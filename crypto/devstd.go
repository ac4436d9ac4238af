package crypto

import "thinrelay.dev/engine/chain"

// Interner is the process-wide transaction deduplicator spec.md models as
// an injected capability (spec §6, §9): "the engine does not care whether
// it is backed by shared ownership or per-connection copies," only that
// intern(tx) returns a value equal-by-hash to any prior call with an
// equal transaction.
type Interner interface {
	Intern(tx chain.Transaction) chain.Transaction
}

// SHA3Interner is the default Interner. It keys its table on a
// SHA3-256 digest of the transaction bytes rather than the chain's own
// double-SHA-256 txid, so that a deliberately-crafted short-hash
// collision on the wire (spec §3) cannot be leveraged to alias two
// distinct transactions inside the shared table.
type SHA3Interner struct {
	digest Digest256
	table  map[[32]byte]chain.Transaction
}

// NewSHA3Interner constructs an empty interner. It is safe for use by a
// single engine instance; the caller supplies external synchronization
// if the same interner is shared across connections (spec §9 leaves
// ownership unspecified).
func NewSHA3Interner() *SHA3Interner {
	return &SHA3Interner{
		digest: SHA3Digest256{},
		table:  make(map[[32]byte]chain.Transaction),
	}
}

func (in *SHA3Interner) Intern(tx chain.Transaction) chain.Transaction {
	key := in.digest.Sum256(tx.Bytes)
	if existing, ok := in.table[key]; ok {
		return existing
	}
	in.table[key] = tx
	return tx
}
