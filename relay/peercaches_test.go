package relay

import "testing"

func TestNewPeerCaches(t *testing.T) {
	c := newPeerCaches(10)
	if c.SentTxSet == nil || c.RelayedBlockSet == nil {
		t.Fatalf("expected both caches to be initialized")
	}
	c.Lock()
	c.SentTxSet.Add([32]byte{1})
	c.Unlock()
	if !c.SentTxSet.Contains([32]byte{1}) {
		t.Fatalf("expected entry to be present after Add")
	}
}
