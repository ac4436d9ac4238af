package relay

import (
	"fmt"

	"thinrelay.dev/engine/chain"
)

// RelayMode selects how a connection announces and resolves block
// transactions (spec §4, §7).
type RelayMode int

const (
	// ModeAbbrevHash resolves short-hash announcements against a table of
	// previously-seen transactions, falling back to tombstones that are
	// filled in as matching transactions arrive.
	ModeAbbrevHash RelayMode = iota
	// ModeCacheID resolves 16-bit positional indices into a per-connection
	// cache of previously-seen transactions, with a sentinel index for
	// transactions sent inline.
	ModeCacheID
)

// versionEntry is a row of the version table (spec §7): a version string
// announces a fixed cache capacity (K), a maximum free-standing transaction
// size (L), and a relay mode. Once negotiated, this triple is frozen for
// the lifetime of the connection.
type versionEntry struct {
	CacheCapacity  int
	MaxFreeTxBytes int
	Mode           RelayMode
}

// CurrentVersion is this engine's own version string: the newest row in
// the table, always the one an initiator announces first.
const CurrentVersion = "daring dolphin"

// versionTable is the full set of versions this engine understands,
// oldest first. Real deployments only ever add rows; nothing here is ever
// renumbered out from under an already-negotiated connection.
var versionTable = map[string]versionEntry{
	"efficient eagle":    {CacheCapacity: 2000, MaxFreeTxBytes: chain.MaxBlockSize, Mode: ModeAbbrevHash},
	"charming chameleon": {CacheCapacity: 1000, MaxFreeTxBytes: 10000, Mode: ModeAbbrevHash},
	CurrentVersion:       {CacheCapacity: 1000, MaxFreeTxBytes: 25000, Mode: ModeCacheID},
}

// versionOrder ranks known versions oldest to newest, used only to decide
// whether a peer should be nudged with a MAX_VERSION frame.
var versionOrder = []string{"efficient eagle", "charming chameleon", CurrentVersion}

func versionRank(v string) (int, bool) {
	for i, name := range versionOrder {
		if name == v {
			return i, true
		}
	}
	return 0, false
}

// isOlderThanCurrent reports whether v is a known version ranked below
// this engine's own.
func isOlderThanCurrent(v string) bool {
	rank, ok := versionRank(v)
	if !ok {
		return false
	}
	currentRank, _ := versionRank(CurrentVersion)
	return rank < currentRank
}

func lookupVersion(v string) (versionEntry, error) {
	entry, ok := versionTable[v]
	if !ok {
		return versionEntry{}, fmt.Errorf("relay: unknown version %q", v)
	}
	return entry, nil
}

// encodeVersionPayload renders a version string as-is: the frame's
// declared length already delimits it, so no extra framing is needed.
func encodeVersionPayload(v string) []byte {
	return []byte(v)
}

func decodeVersionPayload(b []byte) (string, error) {
	if len(b) == 0 {
		return "", fmt.Errorf("relay: empty version string")
	}
	for _, c := range b {
		if c < 0x20 || c >= 0x7f {
			return "", fmt.Errorf("relay: version string is not printable ASCII")
		}
	}
	return string(b), nil
}
