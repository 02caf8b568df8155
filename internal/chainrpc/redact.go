package chainrpc

import (
	"net/url"
	"strings"
)

// minSecretLen is the shortest path segment treated as an embedded API
// key. Provider keys (Alchemy, Infura, QuickNode) are long base-58/62
// strings; chain names and API version segments are short.
const minSecretLen = 20

// Redact strips credentials from an endpoint URL before it reaches a log
// line: userinfo, query string, fragment, and any path segment that looks
// like an API key.
func Redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		// Not URL-shaped; keep only a prefix.
		if len(endpoint) > 24 {
			return endpoint[:24] + "..."
		}
		return endpoint
	}

	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""

	segments := strings.Split(u.Path, "/")
	for i, seg := range segments {
		if looksLikeSecret(seg) {
			segments[i] = "***"
		}
	}
	u.Path = strings.Join(segments, "/")

	return u.String()
}

// looksLikeSecret reports whether a path segment is a long base-58/62
// token rather than a readable path component.
func looksLikeSecret(seg string) bool {
	if len(seg) < minSecretLen {
		return false
	}
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
