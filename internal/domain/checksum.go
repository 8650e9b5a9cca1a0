package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ChecksumPayload computes the hex SHA-256 of the JSON-canonicalized
// payload: keys sorted lexicographically at every nesting level, no
// whitespace. Two payloads with the same content always hash identically
// regardless of map iteration order.
func ChecksumPayload(payload map[string]interface{}) string {
	var b strings.Builder
	writeCanonical(&b, payload)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONString(b, k)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []interface{}:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		// Scalars round-trip through encoding/json for consistent
		// number and string formatting.
		data, err := json.Marshal(val)
		if err != nil {
			data = []byte(fmt.Sprintf("%q", fmt.Sprintf("%v", val)))
		}
		b.Write(data)
	}
}

func writeJSONString(b *strings.Builder, s string) {
	data, _ := json.Marshal(s)
	b.Write(data)
}
