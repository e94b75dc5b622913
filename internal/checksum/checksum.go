package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// ETag returns the strong entity tag for data.
func ETag(data []byte) string {
	return `"` + Sum(data) + `"`
}

// Matches reports whether an If-Match header value refers to data.
// Surrounding quotes and a weak-validator prefix are ignored.
func Matches(ifMatch string, data []byte) bool {
	v := strings.TrimPrefix(strings.TrimSpace(ifMatch), "W/")
	v = strings.Trim(v, `"`)
	return v == "*" || v == Sum(data)
}
