package relay

import (
	"bytes"
	"encoding/binary"
	"testing"

	"thinrelay.dev/engine/chain"
)

func TestSenderSendTransactionDedupes(t *testing.T) {
	var buf bytes.Buffer
	caches := newPeerCaches(10)
	sender := NewSender(&buf, ModeCacheID, 25000, caches)

	tx := chain.Transaction{Bytes: []byte("hello")}
	if err := sender.SendTransaction(tx); err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	firstLen := buf.Len()
	if firstLen == 0 {
		t.Fatalf("expected a frame to be written")
	}

	if err := sender.SendTransaction(tx); err != nil {
		t.Fatalf("SendTransaction (repeat): %v", err)
	}
	if buf.Len() != firstLen {
		t.Fatalf("sending the same transaction twice should not write a second frame")
	}
}

func TestSenderSendTransactionOversizedDrops(t *testing.T) {
	var buf bytes.Buffer
	caches := newPeerCaches(10)
	sender := NewSender(&buf, ModeCacheID, 10, caches)

	tx := chain.Transaction{Bytes: make([]byte, 11)}
	if err := sender.SendTransaction(tx); err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("oversized transaction should be dropped silently, wrote %d bytes", buf.Len())
	}
}

func TestSenderSendBlockCacheIDUsesIndexForSentTx(t *testing.T) {
	var buf bytes.Buffer
	caches := newPeerCaches(10)
	sender := NewSender(&buf, ModeCacheID, 25000, caches)

	tx := chain.Transaction{Bytes: []byte("already sent")}
	if err := sender.SendTransaction(tx); err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	buf.Reset()

	block := chain.Block{Txs: []chain.Transaction{tx}}
	if err := sender.SendBlock(block); err != nil {
		t.Fatalf("SendBlock: %v", err)
	}

	hdr, ferr := decodeFrameHeader(buf.Bytes()[:FrameHeaderLen], 1<<24)
	if ferr != nil {
		t.Fatalf("decode BLOCK header: %v", ferr)
	}
	if hdr.Type != FrameBlock {
		t.Fatalf("expected BLOCK frame first, got %s", hdr.Type)
	}
	payload := buf.Bytes()[FrameHeaderLen : FrameHeaderLen+int(hdr.Length)]
	rest := payload[chain.HeaderBytesLen:]
	if len(rest) != 2 {
		t.Fatalf("expected a single 2-byte index record, got %d bytes", len(rest))
	}
	idx := binary.BigEndian.Uint16(rest)
	if idx != 0 {
		t.Fatalf("expected cache index 0, got %d", idx)
	}
	if caches.SentTxSet.Contains(tx.Hash()) {
		t.Fatalf("index should be consumed (removed) once referenced by a block")
	}
}

func TestSenderSendBlockCacheIDInlinesUnsentTx(t *testing.T) {
	var buf bytes.Buffer
	caches := newPeerCaches(10)
	sender := NewSender(&buf, ModeCacheID, 25000, caches)

	tx := chain.Transaction{Bytes: []byte("never sent before")}
	block := chain.Block{Txs: []chain.Transaction{tx}}
	if err := sender.SendBlock(block); err != nil {
		t.Fatalf("SendBlock: %v", err)
	}

	hdr, ferr := decodeFrameHeader(buf.Bytes()[:FrameHeaderLen], 1<<24)
	if ferr != nil {
		t.Fatalf("decode BLOCK header: %v", ferr)
	}
	payload := buf.Bytes()[FrameHeaderLen : FrameHeaderLen+int(hdr.Length)]
	rest := payload[chain.HeaderBytesLen:]
	idx := binary.BigEndian.Uint16(rest[:2])
	if idx != IndexInline {
		t.Fatalf("expected inline sentinel %d, got %d", IndexInline, idx)
	}
	length := uint32(rest[2])<<16 | uint32(rest[3])<<8 | uint32(rest[4])
	if int(length) != len(tx.Bytes) {
		t.Fatalf("inline length %d, want %d", length, len(tx.Bytes))
	}
}

func TestSenderSendBlockAbbrevHashEncodesShortHashesAndTrailingRecords(t *testing.T) {
	var buf bytes.Buffer
	caches := newPeerCaches(10)
	sender := NewSender(&buf, ModeAbbrevHash, 10000, caches)

	alreadySent := chain.Transaction{Bytes: []byte("peer already has this one")}
	if err := sender.SendTransaction(alreadySent); err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	buf.Reset()

	notYetSent := chain.Transaction{Bytes: []byte("peer has never seen this one")}
	block := chain.Block{Txs: []chain.Transaction{alreadySent, notYetSent}}
	if err := sender.SendBlock(block); err != nil {
		t.Fatalf("SendBlock: %v", err)
	}

	rest := buf.Bytes()
	hdr, ferr := decodeFrameHeader(rest[:FrameHeaderLen], 1<<24)
	if ferr != nil {
		t.Fatalf("decode BLOCK header: %v", ferr)
	}
	if hdr.Type != FrameBlock {
		t.Fatalf("expected BLOCK frame first, got %s", hdr.Type)
	}
	payload := rest[FrameHeaderLen : FrameHeaderLen+int(hdr.Length)]
	rest = rest[FrameHeaderLen+int(hdr.Length):]

	body := payload[chain.HeaderBytesLen:]
	count := binary.BigEndian.Uint32(body[:4])
	if count != uint32(len(block.Txs)) {
		t.Fatalf("expected transaction count %d, got %d", len(block.Txs), count)
	}
	hashes := body[4:]
	if len(hashes) != len(block.Txs)*8 {
		t.Fatalf("expected %d bytes of short-hashes, got %d", len(block.Txs)*8, len(hashes))
	}
	var gotFirst, gotSecond ShortHash
	copy(gotFirst[:], hashes[0:8])
	copy(gotSecond[:], hashes[8:16])
	if gotFirst != shortHashOf(alreadySent) || gotSecond != shortHashOf(notYetSent) {
		t.Fatalf("short-hash list does not match block order")
	}

	// Exactly one trailing raw-length-prefixed record for notYetSent: the
	// already-sent transaction is not repeated (spec §4.6 step 4).
	if len(rest) < 4 {
		t.Fatalf("expected a trailing inline-tx record, got %d bytes left", len(rest))
	}
	trailingLen := binary.BigEndian.Uint32(rest[:4])
	rest = rest[4:]
	if int(trailingLen) != len(notYetSent.Bytes) {
		t.Fatalf("trailing record length %d, want %d", trailingLen, len(notYetSent.Bytes))
	}
	if !bytes.Equal(rest[:trailingLen], notYetSent.Bytes) {
		t.Fatalf("trailing record bytes do not match the un-sent transaction")
	}
	rest = rest[trailingLen:]

	endHdr, ferr := decodeFrameHeader(rest[:FrameHeaderLen], 1<<24)
	if ferr != nil {
		t.Fatalf("decode END_BLOCK header: %v", ferr)
	}
	if endHdr.Type != FrameEndBlock || endHdr.Length != 0 {
		t.Fatalf("expected empty END_BLOCK frame, got %s len=%d", endHdr.Type, endHdr.Length)
	}
	rest = rest[FrameHeaderLen:]
	if len(rest) != 0 {
		t.Fatalf("unexpected %d trailing bytes after END_BLOCK", len(rest))
	}
}

func TestSenderSendBlockDedupesByBlockHash(t *testing.T) {
	var buf bytes.Buffer
	caches := newPeerCaches(10)
	sender := NewSender(&buf, ModeCacheID, 25000, caches)

	block := chain.Block{}
	if err := sender.SendBlock(block); err != nil {
		t.Fatalf("SendBlock: %v", err)
	}
	firstLen := buf.Len()
	if err := sender.SendBlock(block); err != nil {
		t.Fatalf("SendBlock (repeat): %v", err)
	}
	if buf.Len() != firstLen {
		t.Fatalf("re-sending the same block should not write again")
	}
}

func TestSenderNilCachesIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	sender := NewSender(&buf, ModeCacheID, 25000, nil)
	if err := sender.SendTransaction(chain.Transaction{Bytes: []byte("x")}); err != nil {
		t.Fatalf("SendTransaction: %v", err)
	}
	if err := sender.SendBlock(chain.Block{}); err != nil {
		t.Fatalf("SendBlock: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("a Sender with no negotiated caches should write nothing")
	}
}
