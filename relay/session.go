package relay

import (
	"encoding/binary"
	"io"

	"thinrelay.dev/engine/cache"
	"thinrelay.dev/engine/chain"
)

// sessionState is the coarse receive-path state spec §4.5 names.
type sessionState int

const (
	stateAwaitingVersion sessionState = iota
	stateIdle
	stateReadingBlockTransactions
	stateClosed
)

// phase is the finer-grained byte-accumulation step Feed is paused at
// between calls. It exists because a single sessionState (in particular
// ReadingBlockTransactions) can straddle more than one distinct
// accumulation shape on the wire.
type phase int

const (
	phaseFrameHeader       phase = iota
	phaseFramePayload            // accumulating a frame's declared payload
	phaseBlockRecordPeek         // ABBREV_HASH trailing: deciding magic vs raw length
	phaseBlockHeaderRest         // completing a real frame header whose first 4 bytes were magic
	phaseBlockRawTxPayload       // reading a raw length-prefixed inline tx record
)

// IndexInline is the CACHE_ID sentinel meaning "inline transaction
// follows" rather than a cache position (spec §3, §4.4).
const IndexInline uint16 = 0xFFFF

// IndexFatalThreshold is the point at which a cache index is an internal
// inconsistency rather than protocol data (spec §3: "Index >= 2*(2^15-1)
// = 65534 is a fatal internal inconsistency").
const IndexFatalThreshold uint16 = 0xFFFE

// relayedBlockCapacity is the fixed size of relayed_block_set (spec §3).
const relayedBlockCapacity = 50

// Session is the per-connection receive-path state machine (spec §4.5).
// It is the sole mutator of its own receive-side caches and PendingBlock
// for the life of the connection (spec §3); nothing about it is safe to
// use from more than one goroutine.
type Session struct {
	role      Role
	callbacks Callbacks
	validator Validator
	interner  Interner
	w         io.Writer

	state sessionState
	ph    phase

	headerBuf  []byte
	curHeader  frameHeader
	payloadBuf []byte

	negotiated     bool
	mode           RelayMode
	maxFreeTxBytes int

	sentVersion bool
	peerVersion string

	caches        *PeerCaches
	receivedTxMap *cache.BoundedMap[ShortHash, chain.Transaction]
	receivedTxSet *cache.BoundedMap[[32]byte, chain.Transaction]

	pending *PendingBlock

	Stats Stats
}

// SessionConfig bundles the embedder capabilities a Session needs (spec
// §6) plus the writer it uses to drive the handshake and keepalive
// replies on its own initiative.
type SessionConfig struct {
	Role      Role
	Writer    io.Writer
	Callbacks Callbacks
	Validator Validator
	Interner  Interner
}

// NewSession constructs a Session in the AwaitingVersion state (spec §2).
// An initiator must call Start before any bytes are fed in; a responder
// simply waits for the peer's VERSION to arrive via Feed.
func NewSession(cfg SessionConfig) *Session {
	return &Session{
		role:      cfg.Role,
		callbacks: cfg.Callbacks,
		validator: cfg.Validator,
		interner:  cfg.Interner,
		w:         cfg.Writer,
		state:     stateAwaitingVersion,
		ph:        phaseFrameHeader,
	}
}

// Start sends this engine's own VERSION frame when the role is initiator.
// For a responder it is a no-op: its own VERSION is sent from Feed, only
// after the peer's has been received (spec §4.3).
func (s *Session) Start() error {
	if s.role != RoleInitiator {
		return nil
	}
	if err := WriteFrame(s.w, FrameVersion, encodeVersionPayload(CurrentVersion)); err != nil {
		return err
	}
	s.sentVersion = true
	return nil
}

// Closed reports whether this session has transitioned to Closed.
func (s *Session) Closed() bool { return s.state == stateClosed }

// Negotiated reports whether a VERSION exchange has completed.
func (s *Session) Negotiated() bool { return s.negotiated }

// SharedCaches returns the sent_tx_set / relayed_block_set pair created
// at negotiation, or nil before that. An embedder constructs this
// connection's Sender with the same pointer so both paths serialize
// through one mutex (spec §5).
func (s *Session) SharedCaches() *PeerCaches { return s.caches }

// Mode returns the negotiated relay mode, valid once Negotiated is true.
func (s *Session) Mode() RelayMode { return s.mode }

// MaxFreeTxBytes returns the negotiated out-of-block transaction size
// limit L, valid once Negotiated is true.
func (s *Session) MaxFreeTxBytes() int { return s.maxFreeTxBytes }

// PeerVersion returns the peer's negotiated version string.
func (s *Session) PeerVersion() string { return s.peerVersion }

// Feed consumes data, dispatching callbacks and mutating caches along the
// way, and returns how many bytes it consumed. Bytes of a partial frame at
// the end of data are consumed too: they are buffered inside the Session,
// not left in data, and the next call resumes from them. Feed stops early
// only on an error, returning the count consumed up to that point.
func (s *Session) Feed(data []byte) (int, *FrameError) {
	consumed := 0
	for consumed < len(data) {
		if s.state == stateClosed {
			return consumed, fatal("relay: session is closed")
		}
		switch s.ph {
		case phaseFrameHeader:
			if !fill(&s.headerBuf, FrameHeaderLen, data, &consumed) {
				return consumed, nil
			}
			hdr, ferr := decodeFrameHeader(s.headerBuf, uint32(chain.MaxBlockSize))
			s.headerBuf = s.headerBuf[:0]
			if ferr != nil {
				s.state = stateClosed
				return consumed, ferr
			}
			if ferr := s.checkFrameAllowed(hdr.Type); ferr != nil {
				s.state = stateClosed
				return consumed, ferr
			}
			s.curHeader = hdr
			s.payloadBuf = s.payloadBuf[:0]
			if hdr.Length == 0 {
				if ferr := s.dispatchFrame(hdr.Type, nil); ferr != nil {
					s.state = stateClosed
					return consumed, ferr
				}
				s.syncPhaseToState()
				continue
			}
			s.ph = phaseFramePayload
		case phaseFramePayload:
			if !fill(&s.payloadBuf, int(s.curHeader.Length), data, &consumed) {
				return consumed, nil
			}
			if ferr := s.dispatchFrame(s.curHeader.Type, s.payloadBuf); ferr != nil {
				s.state = stateClosed
				return consumed, ferr
			}
			s.syncPhaseToState()
		case phaseBlockRecordPeek:
			if !fill(&s.headerBuf, 4, data, &consumed) {
				return consumed, nil
			}
			if binary.BigEndian.Uint32(s.headerBuf) == Magic {
				s.ph = phaseBlockHeaderRest
				continue
			}
			length := binary.BigEndian.Uint32(s.headerBuf)
			s.headerBuf = s.headerBuf[:0]
			if length > uint32(chain.MaxBlockSize) {
				s.state = stateClosed
				return consumed, fatal("relay: inline block transaction record length %d exceeds maximum", length)
			}
			s.payloadBuf = s.payloadBuf[:0]
			s.curHeader = frameHeader{Type: FrameTransaction, Length: length}
			if length == 0 {
				if ferr := s.acceptBlockRecordTx(nil); ferr != nil {
					s.state = stateClosed
					return consumed, ferr
				}
				s.syncPhaseToState()
				continue
			}
			s.ph = phaseBlockRawTxPayload
		case phaseBlockHeaderRest:
			if !fill(&s.headerBuf, FrameHeaderLen, data, &consumed) {
				return consumed, nil
			}
			hdr, ferr := decodeFrameHeader(s.headerBuf, uint32(chain.MaxBlockSize))
			s.headerBuf = s.headerBuf[:0]
			if ferr != nil {
				s.state = stateClosed
				return consumed, ferr
			}
			switch hdr.Type {
			case FrameEndBlock:
				if hdr.Length != 0 {
					s.state = stateClosed
					return consumed, fatal("relay: END_BLOCK must have an empty payload")
				}
				if ferr := s.finishBlock(); ferr != nil {
					s.state = stateClosed
					return consumed, ferr
				}
				s.syncPhaseToState()
			case FrameTransaction:
				s.curHeader = hdr
				s.payloadBuf = s.payloadBuf[:0]
				if hdr.Length == 0 {
					if ferr := s.acceptTransaction(nil, false); ferr != nil {
						s.state = stateClosed
						return consumed, ferr
					}
					s.syncPhaseToState()
				} else {
					s.ph = phaseFramePayload
				}
			default:
				s.state = stateClosed
				return consumed, fatal("relay: unexpected frame %s while reading block transactions", hdr.Type)
			}
		case phaseBlockRawTxPayload:
			if !fill(&s.payloadBuf, int(s.curHeader.Length), data, &consumed) {
				return consumed, nil
			}
			tx := append([]byte(nil), s.payloadBuf...)
			if ferr := s.acceptBlockRecordTx(tx); ferr != nil {
				s.state = stateClosed
				return consumed, ferr
			}
			s.syncPhaseToState()
		}
	}
	return consumed, nil
}

// syncPhaseToState picks the next accumulation phase from the coarse
// state alone, always called right after a dispatch that may have
// changed state. It is the single place that decides "what comes next",
// so no call site needs to reason about whether a nested finishBlock call
// already moved the session back to Idle.
func (s *Session) syncPhaseToState() {
	if s.state == stateReadingBlockTransactions {
		s.ph = phaseBlockRecordPeek
		s.headerBuf = s.headerBuf[:0]
		return
	}
	s.ph = phaseFrameHeader
	s.headerBuf = s.headerBuf[:0]
}

// fill appends bytes from data[*consumed:] into *buf until it holds need
// bytes, advancing *consumed as it goes. It reports whether *buf now
// holds at least need bytes.
func fill(buf *[]byte, need int, data []byte, consumed *int) bool {
	if len(*buf) >= need {
		return true
	}
	avail := len(data) - *consumed
	take := need - len(*buf)
	if take > avail {
		take = avail
	}
	if take > 0 {
		*buf = append(*buf, data[*consumed:*consumed+take]...)
		*consumed += take
	}
	return len(*buf) >= need
}

// checkFrameAllowed enforces which frame types are legal in the current
// coarse state, independent of payload contents (spec §4.5: "Any
// unexpected frame type ... transitions to Closed").
func (s *Session) checkFrameAllowed(t FrameType) *FrameError {
	switch s.state {
	case stateAwaitingVersion:
		if t != FrameVersion {
			return fatal("relay: expected VERSION, got %s", t)
		}
	case stateIdle:
		switch t {
		case FrameBlock, FrameTransaction, FrameEndBlock, FrameMaxVersion, FramePing, FramePong:
			return nil
		default:
			return fatal("relay: unexpected frame %s in Idle state", t)
		}
	}
	return nil
}

// dispatchFrame handles one fully-buffered top-level frame.
func (s *Session) dispatchFrame(t FrameType, payload []byte) *FrameError {
	s.Stats.FramesRead++
	switch t {
	case FrameVersion:
		return s.handleVersion(payload)
	case FrameMaxVersion:
		// Informational only; this engine never auto-upgrades mid-session.
		return nil
	case FramePing:
		return s.handlePing(payload)
	case FramePong:
		return nil
	case FrameTransaction:
		return s.handleTransaction(payload)
	case FrameBlock:
		return s.handleBlock(payload)
	case FrameEndBlock:
		// A bare END_BLOCK with no preceding BLOCK is a structural
		// impossibility: there is nothing to terminate.
		if s.pending == nil {
			return fatal("relay: END_BLOCK with no block in progress")
		}
		return s.finishBlock()
	default:
		return fatal("relay: unknown frame type %d", t)
	}
}

func (s *Session) handleVersion(payload []byte) *FrameError {
	v, err := decodeVersionPayload(payload)
	if err != nil {
		return fatal("relay: %v", err)
	}
	entry, lookupErr := lookupVersion(v)
	if lookupErr != nil {
		// Peer unknown/incompatible version: close quietly (spec §7),
		// no scary protocol-error logging.
		return frameErr(0, true, "relay: %v", lookupErr)
	}
	s.peerVersion = v
	s.mode = entry.Mode
	s.maxFreeTxBytes = entry.MaxFreeTxBytes
	s.caches = newPeerCaches(entry.CacheCapacity)
	switch s.mode {
	case ModeAbbrevHash:
		s.receivedTxMap = cache.NewBoundedMap[ShortHash, chain.Transaction](entry.CacheCapacity)
	case ModeCacheID:
		s.receivedTxSet = cache.NewBoundedMap[[32]byte, chain.Transaction](entry.CacheCapacity)
	}
	s.negotiated = true

	if s.role == RoleResponder && !s.sentVersion {
		if err := WriteFrame(s.w, FrameVersion, encodeVersionPayload(CurrentVersion)); err != nil {
			return frameErr(0, false, "relay: write VERSION: %w", err)
		}
		s.sentVersion = true
	}
	if isOlderThanCurrent(v) {
		if err := WriteFrame(s.w, FrameMaxVersion, encodeVersionPayload(CurrentVersion)); err != nil {
			return frameErr(0, false, "relay: write MAX_VERSION: %w", err)
		}
	}
	s.state = stateIdle
	if s.callbacks != nil {
		s.callbacks.OnConnected("negotiated " + v)
	}
	return nil
}

func (s *Session) handlePing(payload []byte) *FrameError {
	if err := WriteFrame(s.w, FramePong, payload); err != nil {
		return frameErr(0, false, "relay: write PONG: %w", err)
	}
	return nil
}

// handleTransaction processes a standalone out-of-block TRANSACTION frame
// (spec §4.5 state 3): verify, intern, then either resolve a live
// PendingBlock's tombstone or insert into the receive cache and notify
// the embedder.
func (s *Session) handleTransaction(payload []byte) *FrameError {
	if !s.negotiated {
		return fatal("relay: TRANSACTION before version negotiation")
	}
	if len(payload) > s.maxFreeTxBytes {
		return fatal("relay: out-of-block transaction of %d bytes exceeds limit %d", len(payload), s.maxFreeTxBytes)
	}
	return s.acceptTransaction(payload, false)
}

// acceptBlockRecordTx processes one ABBREV_HASH trailing inline-tx record
// (spec §4.4): these exist only to resolve this block's own tombstones,
// so an arrival that matches no slot is a structural impossibility.
func (s *Session) acceptBlockRecordTx(payload []byte) *FrameError {
	return s.acceptTransaction(payload, true)
}

func (s *Session) acceptTransaction(payload []byte, forBlock bool) *FrameError {
	raw := chain.Transaction{Bytes: append([]byte(nil), payload...)}
	verified, err := s.validator.VerifyTransaction(raw)
	if err != nil {
		return frameErr(0, true, "relay: transaction semantic validation failed: %w", err)
	}
	tx := s.interner.Intern(verified)
	hash := tx.Hash()

	if s.pending != nil {
		sh := DeriveShortHash(hash)
		matched, duplicate := s.pending.ResolveShortHash(sh, tx)
		if duplicate {
			return fatal("relay: duplicate resolution of short-hash %x within block", sh)
		}
		if matched {
			// Even once every tombstone resolves, assembly waits for the
			// mandatory END_BLOCK (spec §4.4): finishing here would tear
			// down s.pending before that terminator arrives, and the
			// receive path never treats a bare END_BLOCK with no block
			// in progress as anything but a structural error.
			return nil
		}
	}

	if forBlock {
		return fatal("relay: inline block transaction record matched no pending slot")
	}

	switch s.mode {
	case ModeAbbrevHash:
		s.receivedTxMap.Add(DeriveShortHash(hash), tx)
	case ModeCacheID:
		s.receivedTxSet.Add(hash, tx)
	}
	if s.callbacks != nil {
		s.callbacks.OnTransaction(tx)
	}
	return nil
}

// handleBlock parses a BLOCK frame's fully-buffered payload (spec §4.4).
func (s *Session) handleBlock(payload []byte) *FrameError {
	if !s.negotiated {
		return fatal("relay: BLOCK before version negotiation")
	}
	if s.pending != nil {
		return fatal("relay: BLOCK received while another block is still in progress")
	}
	if len(payload) < chain.HeaderBytesLen {
		return fatal("relay: BLOCK payload shorter than header")
	}
	header, err := chain.ParseHeaderBytes(payload[:chain.HeaderBytesLen])
	if err != nil {
		return fatal("relay: %v", err)
	}
	rest := payload[chain.HeaderBytesLen:]
	if s.callbacks != nil {
		s.callbacks.OnBlockHeader(header)
	}

	switch s.mode {
	case ModeAbbrevHash:
		return s.startAbbrevHashBlock(header, rest)
	case ModeCacheID:
		return s.startCacheIDBlock(header, rest)
	default:
		return fatal("relay: internal: no relay mode negotiated")
	}
}

func (s *Session) startAbbrevHashBlock(header chain.BlockHeader, rest []byte) *FrameError {
	if len(rest) < 4 {
		return fatal("relay: BLOCK payload missing transaction count")
	}
	count := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if uint64(len(rest)) != uint64(count)*8 {
		return fatal("relay: BLOCK short-hash list length mismatch: want %d hashes, have %d bytes", count, len(rest))
	}
	hashes := make([]ShortHash, count)
	for i := range hashes {
		copy(hashes[i][:], rest[i*8:(i+1)*8])
	}
	pb, ferr := NewPendingBlockAbbrevHash(header, hashes, func(sh ShortHash) (chain.Transaction, bool) {
		return s.receivedTxMap.Get(sh)
	})
	if ferr != nil {
		return ferr
	}
	s.pending = pb
	// Whether or not every short-hash already resolved, the mandatory
	// END_BLOCK terminator is still required (spec §4.4), so the receive
	// path always moves into ReadingBlockTransactions to await it.
	s.state = stateReadingBlockTransactions
	return nil
}

func (s *Session) startCacheIDBlock(header chain.BlockHeader, rest []byte) *FrameError {
	pb := NewPendingBlockCacheID(header)
	for len(rest) > 0 {
		if len(rest) < 2 {
			return fatal("relay: CACHE_ID block record truncated")
		}
		idx := binary.BigEndian.Uint16(rest[:2])
		rest = rest[2:]
		if idx == IndexInline {
			if len(rest) < 3 {
				return fatal("relay: CACHE_ID inline transaction length truncated")
			}
			length := uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2])
			rest = rest[3:]
			if uint64(length) > uint64(len(rest)) {
				return fatal("relay: CACHE_ID inline transaction length %d exceeds remaining payload", length)
			}
			if length >= chain.MaxBlockSize {
				return fatal("relay: CACHE_ID inline transaction of %d bytes meets or exceeds maximum", length)
			}
			txBytes := rest[:length]
			rest = rest[length:]
			verified, err := s.validator.VerifyTransaction(chain.Transaction{Bytes: append([]byte(nil), txBytes...)})
			if err != nil {
				return frameErr(0, true, "relay: transaction semantic validation failed: %w", err)
			}
			pb.AddCacheSlot(s.interner.Intern(verified))
			continue
		}
		if idx >= IndexFatalThreshold {
			return fatal("relay: INTERNAL ERROR: cache index %d is not a valid position", idx)
		}
		tx, ok := s.receivedTxSet.RemoveAtIndex(uint64(idx))
		if !ok {
			return fatal("relay: CACHE_ID index %d has no live cache entry", idx)
		}
		pb.AddCacheSlot(tx)
	}
	// CACHE_ID has no tombstone state (spec §4.4): every record in the
	// frame is resolved synchronously above, so the block is always
	// Ready() by construction; only the mandatory END_BLOCK remains.
	s.pending = pb
	s.state = stateReadingBlockTransactions
	return nil
}

// finishBlock assembles the active PendingBlock, guarding against
// double-assembly via PendingBlock's own already_built flag, and returns
// to Idle. All tombstones may resolve well before END_BLOCK arrives, but
// assembly itself always waits for that mandatory terminator (spec §4.4).
func (s *Session) finishBlock() *FrameError {
	pb := s.pending
	if pb == nil {
		return fatal("relay: finishBlock called with no block in progress")
	}
	if !pb.Ready() {
		return fatal("relay: END_BLOCK with %d transactions still unresolved", pb.Remaining())
	}
	block, ferr := pb.Build()
	if ferr != nil {
		// Assembly happens only here, on END_BLOCK; a block is never
		// assembled early when its last slot resolves. Build's
		// remaining failures (already_built, an unresolved slot) are
		// dropped: the block is discarded without OnBlock and the
		// session returns to Idle.
		s.pending = nil
		s.state = stateIdle
		return nil
	}
	if err := s.validator.VerifyBlock(block); err != nil {
		s.pending = nil
		s.state = stateIdle
		return frameErr(0, true, "relay: block semantic validation failed: %w", err)
	}
	s.pending = nil
	s.Stats.BlocksAssembled++
	if s.callbacks != nil {
		s.callbacks.OnBlock(block)
	}
	s.state = stateIdle
	return nil
}
