package relay

import "testing"

func TestLookupVersionKnown(t *testing.T) {
	entry, err := lookupVersion(CurrentVersion)
	if err != nil {
		t.Fatalf("lookupVersion(%q): %v", CurrentVersion, err)
	}
	if entry.Mode != ModeCacheID {
		t.Fatalf("current version should negotiate CACHE_ID mode, got %v", entry.Mode)
	}
}

func TestLookupVersionUnknown(t *testing.T) {
	if _, err := lookupVersion("nonexistent version"); err == nil {
		t.Fatalf("expected error for unknown version string")
	}
}

func TestIsOlderThanCurrent(t *testing.T) {
	if !isOlderThanCurrent("efficient eagle") {
		t.Fatalf("efficient eagle should be older than current")
	}
	if isOlderThanCurrent(CurrentVersion) {
		t.Fatalf("current version should not be older than itself")
	}
	if isOlderThanCurrent("nonexistent version") {
		t.Fatalf("unknown version should not be treated as older")
	}
}

func TestEncodeDecodeVersionPayloadRoundTrip(t *testing.T) {
	payload := encodeVersionPayload(CurrentVersion)
	got, err := decodeVersionPayload(payload)
	if err != nil {
		t.Fatalf("decodeVersionPayload: %v", err)
	}
	if got != CurrentVersion {
		t.Fatalf("got %q, want %q", got, CurrentVersion)
	}
}

func TestDecodeVersionPayloadRejectsEmpty(t *testing.T) {
	if _, err := decodeVersionPayload(nil); err == nil {
		t.Fatalf("expected error for empty version payload")
	}
}

func TestDecodeVersionPayloadRejectsNonPrintable(t *testing.T) {
	if _, err := decodeVersionPayload([]byte{0x01, 0x02}); err == nil {
		t.Fatalf("expected error for non-printable version payload")
	}
}
