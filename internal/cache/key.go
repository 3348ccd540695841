package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Key builds the cache key for a call: a readable
// service|method|endpoint prefix plus a payload digest. The readable
// prefix is what makes substring-based Clear patterns useful.
//
// Volatile payload fields (request IDs, timestamps) listed in
// ignoreFields are stripped before hashing so they do not defeat the
// cache. Non-JSON payloads are hashed as-is.
func Key(service, endpoint, method string, payload []byte, ignoreFields []string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	digest := payloadDigest(payload, ignoreFields)

	var b strings.Builder
	b.Grow(len(service) + len(method) + len(endpoint) + len(digest) + 3)
	b.WriteString(service)
	b.WriteByte('|')
	b.WriteString(method)
	b.WriteByte('|')
	b.WriteString(endpoint)
	b.WriteByte('|')
	b.WriteString(digest)
	return b.String()
}

// payloadDigest hashes the payload with volatile fields removed.
// First 16 bytes (32 hex chars) keep 128 bits of entropy.
func payloadDigest(payload []byte, ignoreFields []string) string {
	normalized := payload
	if len(ignoreFields) > 0 && gjson.ValidBytes(payload) {
		for _, path := range ignoreFields {
			if cleaned, err := sjson.DeleteBytes(normalized, path); err == nil {
				normalized = cleaned
			}
		}
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:16])
}
