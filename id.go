package packstream

import (
	"encoding/hex"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// IDLen is the size of a content identifier in bytes.
const IDLen = 16

// ID is a content identifier: the leading bytes of the digest of an item's
// transmitted bytes, rendered as 32 lowercase hex characters in entry names.
type ID [IDLen]byte

// ZeroID is the placeholder identifier carried by provisional header entries.
var ZeroID ID

// IDFromDigest derives an identifier from a finalized content digest.
func IDFromDigest(d digest.Digest) (ID, error) {
	if d.Algorithm() != digest.Canonical {
		return ID{}, fmt.Errorf("packstream: identifier needs a %s digest, got %s", digest.Canonical, d.Algorithm())
	}
	raw, err := hex.DecodeString(d.Encoded())
	if err != nil {
		return ID{}, fmt.Errorf("packstream: bad digest encoding: %w", err)
	}
	if len(raw) < IDLen {
		return ID{}, fmt.Errorf("packstream: digest too short for an identifier")
	}
	var id ID
	copy(id[:], raw[:IDLen])
	return id, nil
}

// ParseID parses the 32 hex character rendering of an identifier.
func ParseID(s string) (ID, error) {
	if len(s) != IDLen*2 {
		return ID{}, fmt.Errorf("packstream: identifier %q: want %d hex characters", s, IDLen*2)
	}
	var id ID
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return ID{}, fmt.Errorf("packstream: identifier %q: %w", s, err)
	}
	return id, nil
}

// String returns the 32 hex character rendering used in entry names.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the all-zero placeholder.
func (id ID) IsZero() bool {
	return id == ZeroID
}
