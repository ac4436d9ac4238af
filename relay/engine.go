package relay

import "thinrelay.dev/engine/chain"

// Role fixes which side of the handshake a Session plays (spec §2).
type Role int

const (
	// RoleInitiator sends its VERSION frame first, unprompted.
	RoleInitiator Role = iota
	// RoleResponder waits for the peer's VERSION before sending its own.
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// Callbacks are the embedder hooks invoked from the receive path. None of
// them may block (spec §6); an embedder that needs to do real work should
// hand off to its own goroutine or queue.
type Callbacks interface {
	// OnBlockHeader fires the moment a BLOCK frame's 80-byte header is
	// parsed, before any transaction in the block has been resolved.
	OnBlockHeader(header chain.BlockHeader)
	// OnBlock fires once every transaction in a block has been resolved
	// and the block has been assembled.
	OnBlock(block chain.Block)
	// OnTransaction fires for each out-of-block transaction accepted
	// into the receive-side caches.
	OnTransaction(tx chain.Transaction)
	// OnLog, OnLogStats and OnConnected are textual event sinks; none of
	// them are protocol-bearing.
	OnLog(line string)
	OnLogStats(line string)
	OnConnected(line string)
}

// Validator is the embedder-provided semantic checker (spec §6). Errors
// from either method are treated as fatal and close the connection.
type Validator interface {
	// VerifyTransaction semantically validates tx and may return a
	// canonicalized replacement to store and relay onward.
	VerifyTransaction(tx chain.Transaction) (chain.Transaction, error)
	VerifyBlock(block chain.Block) error
}

// Interner is the process-wide transaction deduplicator (spec §6, §9):
// its only contract is that Intern(tx) returns a value equal-by-hash to
// any previously interned transaction with the same bytes. The engine
// does not care how it is backed.
type Interner interface {
	Intern(tx chain.Transaction) chain.Transaction
}

// Stats is a best-effort snapshot of engine activity. Per spec §9's design
// note on inline-transaction byte accounting, these counters are never
// protocol-bearing; they are read from Session.Stats, not used for
// decision-making, and the engine never passes them to OnLogStats. Session
// updates FramesRead and BlocksAssembled only; FramesWritten and
// TransactionsRelayed are not updated anywhere in this package.
type Stats struct {
	FramesRead          uint64
	FramesWritten       uint64
	BlocksAssembled     uint64
	TransactionsRelayed uint64
}
