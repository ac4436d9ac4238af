// Package crypto provides the one injected cryptographic capability the
// relay engine needs beyond the chain package's fixed double-SHA-256: a
// pluggable, collision-resistant digest used for process-wide transaction
// interning (spec §6, §9). Signature verification and other consensus
// cryptography are out of scope (spec §1: semantic validation is an
// external collaborator).
package crypto

import "golang.org/x/crypto/sha3"

// Digest256 is the narrow pluggable-hash capability used away from the
// consensus-critical path — currently just the interner's lookup key.
// Modeled after the teacher's CryptoProvider interface, trimmed to the
// one primitive this engine needs.
type Digest256 interface {
	Sum256(data []byte) [32]byte
}

// SHA3Digest256 is the default Digest256, backed by SHA3-256. The teacher
// reaches for golang.org/x/crypto/sha3 whenever it needs a digest apart
// from the chain's own double-SHA-256; the interner follows the same
// habit so that a short-hash collision on the wire (spec §3: "Collisions
// within a single block are a protocol error") never aliases two
// distinct transactions in the process-wide table.
type SHA3Digest256 struct{}

func (SHA3Digest256) Sum256(data []byte) [32]byte {
	return sha3.Sum256(data)
}
