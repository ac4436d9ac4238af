package relay

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameHeaderLen is the fixed 12-byte magic+type+length prefix in front of
// every top-level message (spec §4.2).
const FrameHeaderLen = 12

// Magic identifies this wire protocol. It is not a cryptographic value,
// only a framing sanity check (spec §4.2).
const Magic uint32 = 0xF2BEEF42

// FrameType enumerates the top-level message kinds. VERSION through
// MAX_VERSION are spec.md's five; PING/PONG are a supplemental keepalive
// pair this engine adds on top (SPEC_FULL.md §4).
type FrameType uint32

const (
	FrameVersion FrameType = iota
	FrameBlock
	FrameTransaction
	FrameEndBlock
	FrameMaxVersion
	FramePing
	FramePong
)

func (t FrameType) String() string {
	switch t {
	case FrameVersion:
		return "VERSION"
	case FrameBlock:
		return "BLOCK"
	case FrameTransaction:
		return "TRANSACTION"
	case FrameEndBlock:
		return "END_BLOCK"
	case FrameMaxVersion:
		return "MAX_VERSION"
	case FramePing:
		return "PING"
	case FramePong:
		return "PONG"
	default:
		return fmt.Sprintf("FrameType(%d)", uint32(t))
	}
}

// frameHeader is the decoded 12-byte prefix.
type frameHeader struct {
	Type   FrameType
	Length uint32
}

// encodeFrameHeader writes the 12-byte magic+type+length prefix.
func encodeFrameHeader(typ FrameType, length uint32) [FrameHeaderLen]byte {
	var hdr [FrameHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[0:4], Magic)
	binary.BigEndian.PutUint32(hdr[4:8], uint32(typ))
	binary.BigEndian.PutUint32(hdr[8:12], length)
	return hdr
}

// decodeFrameHeader parses a 12-byte buffer already known to hold a full
// header. maxLength caps what a declared payload length may claim without
// ever being read into memory (spec §4.2: oversize declared lengths are a
// framing error, not a buffer to allocate and then reject).
func decodeFrameHeader(b []byte, maxLength uint32) (frameHeader, *FrameError) {
	if len(b) != FrameHeaderLen {
		return frameHeader{}, fatal("relay: frame header must be %d bytes, got %d", FrameHeaderLen, len(b))
	}
	magic := binary.BigEndian.Uint32(b[0:4])
	if magic != Magic {
		return frameHeader{}, fatal("relay: magic mismatch")
	}
	typ := FrameType(binary.BigEndian.Uint32(b[4:8]))
	length := binary.BigEndian.Uint32(b[8:12])
	if length > maxLength {
		return frameHeader{}, fatal("relay: frame length %d exceeds maximum %d", length, maxLength)
	}
	return frameHeader{Type: typ, Length: length}, nil
}

// WriteFrame writes one complete top-level frame: header followed by
// payload. Every frame the engine sends goes through it, from both the
// handshake and the send pipeline; the only other bytes on the wire are
// the raw length-prefixed inline records SendBlock writes between BLOCK
// and END_BLOCK in ABBREV_HASH mode.
func WriteFrame(w io.Writer, typ FrameType, payload []byte) error {
	hdr := encodeFrameHeader(typ, uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("relay: write frame header: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("relay: write frame payload: %w", err)
	}
	return nil
}
