package relay

import (
	"encoding/binary"
	"fmt"
	"io"

	"thinrelay.dev/engine/chain"
)

// Sender implements the send pipeline (spec §4.6): send_transaction and
// send_block, shrinking payloads against the negotiated caches and
// executing atomically with respect to other sends on the same peer.
type Sender struct {
	w              io.Writer
	mode           RelayMode
	maxFreeTxBytes int
	caches         *PeerCaches
}

// NewSender builds a Sender bound to caches — typically the same
// *PeerCaches the corresponding Session exposes via SharedCaches, so the
// two directions of one connection share sent_tx_set / relayed_block_set
// (spec §5).
func NewSender(w io.Writer, mode RelayMode, maxFreeTxBytes int, caches *PeerCaches) *Sender {
	return &Sender{w: w, mode: mode, maxFreeTxBytes: maxFreeTxBytes, caches: caches}
}

// SendTransaction implements send_transaction (spec §4.6). A nil caches
// (no negotiated version) or an oversized transaction drops silently.
func (s *Sender) SendTransaction(tx chain.Transaction) error {
	if s.caches == nil {
		return nil
	}
	if len(tx.Bytes) > s.maxFreeTxBytes {
		return nil
	}
	hash := tx.Hash()

	s.caches.Lock()
	defer s.caches.Unlock()

	if s.caches.SentTxSet.Contains(hash) {
		return nil
	}
	if err := WriteFrame(s.w, FrameTransaction, tx.Bytes); err != nil {
		return fmt.Errorf("relay: send transaction: %w", err)
	}
	s.caches.SentTxSet.Add(hash)
	return nil
}

// SendBlock implements send_block (spec §4.6): step 2-6 run under the
// shared send mutex as one atomic unit.
func (s *Sender) SendBlock(block chain.Block) error {
	if s.caches == nil {
		return nil
	}
	blockHash := block.Hash()

	s.caches.Lock()
	defer s.caches.Unlock()

	if s.caches.RelayedBlockSet.Contains(blockHash) {
		return nil
	}

	payload := make([]byte, 0, chain.HeaderBytesLen+len(block.Txs)*9)
	payload = append(payload, block.Header[:]...)

	var trailing [][]byte // ABBREV_HASH only: raw inline records sent after the BLOCK frame

	switch s.mode {
	case ModeAbbrevHash:
		var count [4]byte
		binary.BigEndian.PutUint32(count[:], uint32(len(block.Txs)))
		payload = append(payload, count[:]...)
		for _, tx := range block.Txs {
			sh := shortHashOf(tx)
			payload = append(payload, sh[:]...)
		}
		for _, tx := range block.Txs {
			if !s.caches.SentTxSet.Contains(tx.Hash()) {
				trailing = append(trailing, tx.Bytes)
			}
		}
	case ModeCacheID:
		for _, tx := range block.Txs {
			hash := tx.Hash()
			if idx, ok := s.caches.SentTxSet.IndexOf(hash); ok && idx < uint64(IndexFatalThreshold) {
				var idxBytes [2]byte
				binary.BigEndian.PutUint16(idxBytes[:], uint16(idx))
				payload = append(payload, idxBytes[:]...)
				s.caches.SentTxSet.Remove(hash)
				continue
			}
			if len(tx.Bytes) >= chain.MaxBlockSize {
				return fmt.Errorf("relay: internal: transaction of %d bytes meets or exceeds the maximum inline size", len(tx.Bytes))
			}
			var idxBytes [2]byte
			binary.BigEndian.PutUint16(idxBytes[:], IndexInline)
			payload = append(payload, idxBytes[:]...)
			n := len(tx.Bytes)
			payload = append(payload, byte(n>>16), byte(n>>8), byte(n))
			payload = append(payload, tx.Bytes...)
		}
	}

	if err := WriteFrame(s.w, FrameBlock, payload); err != nil {
		return fmt.Errorf("relay: send block: %w", err)
	}

	if s.mode == ModeAbbrevHash {
		for _, raw := range trailing {
			var lenBytes [4]byte
			binary.BigEndian.PutUint32(lenBytes[:], uint32(len(raw)))
			if _, err := s.w.Write(lenBytes[:]); err != nil {
				return fmt.Errorf("relay: send block inline tx length: %w", err)
			}
			if _, err := s.w.Write(raw); err != nil {
				return fmt.Errorf("relay: send block inline tx: %w", err)
			}
		}
	}

	if err := WriteFrame(s.w, FrameEndBlock, nil); err != nil {
		return fmt.Errorf("relay: send end-of-block: %w", err)
	}
	s.caches.RelayedBlockSet.Add(blockHash)
	return nil
}
