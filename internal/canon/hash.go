package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// HashPrefix is the fixed prefix of a canonical content hash string.
const HashPrefix = "0x"

// ContentHash is a SHA-256 digest of a canonical payload in canonical
// form: "0x" followed by 64 lowercase hex digits. SHA-256 is the same
// primitive the ledger uses internally, so hashes compare directly with
// no algorithm translation.
type ContentHash string

// Hash computes the content hash of a canonical payload.
func Hash(payload []byte) ContentHash {
	sum := sha256.Sum256(payload)
	return ContentHash(HashPrefix + hex.EncodeToString(sum[:]))
}

// Normalize collapses representational variants of a hash string into
// canonical form: lowercase hex with the "0x" prefix. It is idempotent,
// and two strings differing only by case or prefix normalize equal:
//
//	Normalize("ABCD") == Normalize("0xabcd") == "0xabcd"
func Normalize(hashLike string) ContentHash {
	s := strings.ToLower(strings.TrimSpace(hashLike))
	s = strings.TrimPrefix(s, HashPrefix)
	if s == "" {
		return ""
	}
	return ContentHash(HashPrefix + s)
}

// Equal reports whether two hash strings denote the same digest,
// ignoring case and prefix differences.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}
