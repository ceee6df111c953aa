// Package fingerprint provides the stable 64-bit hashes used for URL
// deduplication, chunk change detection, and graph cache keys.
//
// Hashes are xxhash64 rendered as 16 hex digits. They are deterministic
// across process restarts; there is no secrecy requirement.
package fingerprint

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// HashURL returns the seen-set fingerprint for a URL.
// The URL is normalized first so trivial variants collapse to one entry:
// scheme and host are lowercased, default ports dropped, trailing slash
// and fragment removed.
func HashURL(raw string) string {
	return hex64(xxhash.Sum64String(NormalizeURL(raw)))
}

// HashContent returns the change-detection fingerprint for a chunk's text.
func HashContent(text string) string {
	return hex64(xxhash.Sum64String(text))
}

// CacheKey hashes any comparable key struct over its canonical JSON
// serialization. Map keys are sorted by encoding/json, so equal values
// yield equal hashes regardless of insertion order.
func CacheKey(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal cache key: %w", err)
	}
	return hex64(xxhash.Sum64(data)), nil
}

// NormalizeURL canonicalizes a URL for deduplication purposes.
// Invalid URLs are returned trimmed but otherwise untouched; hashing
// them still yields a stable value.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}

func hex64(v uint64) string {
	return fmt.Sprintf("%016x", v)
}
