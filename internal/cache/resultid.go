package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// resultIDHashLen is the number of hex characters kept from the hash.
const resultIDHashLen = 10

// Canonicalize produces a stable serialization of a query's identifying
// parameters: JSON with sorted keys at every nesting level (encoding/json
// sorts map keys deterministically). Any instability here would silently
// break cache reuse, so this is an explicit, tested function rather than an
// inline detail of ResultID.
func Canonicalize(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		// Unencodable values cannot participate in the identity; fall
		// back to the empty query rather than failing the save.
		return "{}"
	}
	return string(encoded)
}

// ResultID derives the cache slot for a query deterministically: a
// human-readable service prefix plus a short fixed-length hash of the
// canonical parameter serialization. Identical queries reuse the same slot,
// so re-running a query overwrites rather than duplicates.
func ResultID(service string, params map[string]any) string {
	sum := sha256.Sum256([]byte(Canonicalize(params)))
	return sanitizeService(service) + "_" + hex.EncodeToString(sum[:])[:resultIDHashLen]
}

// sanitizeService reduces an endpoint path to a filesystem-safe prefix:
// "search/studies" → "search_studies", "studies/123" → "studies_123".
func sanitizeService(service string) string {
	service = strings.Trim(service, "/")
	if service == "" {
		return "result"
	}
	var b strings.Builder
	for _, r := range service {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
