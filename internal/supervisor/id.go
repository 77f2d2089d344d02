package supervisor

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// ResolveID derives the stable stream identifier from the exact source URL
// string. No normalization is applied: URLs differing only in case or
// trailing slashes yield different identifiers.
func ResolveID(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:])
}

// streamID maps a media-server stream path (or its tail segment) back to the
// stream identifier.
func streamID(stream string) string {
	trimmed := strings.TrimSpace(stream)
	trimmed = strings.TrimSuffix(trimmed, "/")
	if trimmed == "" {
		return ""
	}
	return path.Base(trimmed)
}
