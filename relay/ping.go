package relay

import (
	"encoding/binary"
	"io"
)

// PingPayloadLen is the fixed size of a PING/PONG nonce payload.
const PingPayloadLen = 8

// EncodePingNonce encodes a keepalive nonce for a PING frame.
func EncodePingNonce(nonce uint64) []byte {
	buf := make([]byte, PingPayloadLen)
	binary.BigEndian.PutUint64(buf, nonce)
	return buf
}

// DecodePingNonce decodes a PING/PONG payload back into its nonce.
func DecodePingNonce(payload []byte) (uint64, bool) {
	if len(payload) != PingPayloadLen {
		return 0, false
	}
	return binary.BigEndian.Uint64(payload), true
}

// SendPing writes a PING frame carrying nonce. The receiving Session
// echoes it back as a PONG with no action required from this side beyond
// whatever round-trip bookkeeping the embedder wants to do on receipt
// (SPEC_FULL.md §4: PING/PONG is a supplemental keepalive, not part of
// spec.md's relay surface).
func SendPing(w io.Writer, nonce uint64) error {
	return WriteFrame(w, FramePing, EncodePingNonce(nonce))
}
