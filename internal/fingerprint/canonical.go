package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"pible/internal/geoutil"
)

// canonicalSHA256 encodes features as JSON (Go's encoding/json sorts map
// keys lexicographically) and hashes the result, matching the
// json.dumps(features, sort_keys=True) + hashlib.sha256 rule the feature
// vectors were ported from.
func canonicalSHA256(features map[string]any) string {
	b, err := json.Marshal(features)
	if err != nil {
		// features is always built from this package's own scalar/slice
		// types, which always marshal.
		panic(err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func macIsRandomized(mac string) bool {
	return geoutil.IsRandomized(mac)
}
