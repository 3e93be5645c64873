package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
)

// trackingQueryParams lists query keys stripped during URL normalization.
// These vary per submission without changing what the media actually is,
// so leaving them in would defeat duplicate detection.
var trackingQueryParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"si":           true,
	"ref":          true,
	"feature":      true,
}

// NormalizeURL canonicalizes a submitted URL for fingerprinting: lowercases
// the scheme and host, drops a default port, strips known tracking query
// params, and removes a trailing slash from the path.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("queue: url missing scheme or host")
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Host = strings.TrimSuffix(u.Host, ":80")
	u.Host = strings.TrimSuffix(u.Host, ":443")

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if trackingQueryParams[strings.ToLower(key)] {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""

	return u.String(), nil
}

// FingerprintString returns the hex-encoded SHA-256 hash of s. Used for
// normalized URLs.
func FingerprintString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// FingerprintBytes returns the hex-encoded SHA-256 hash of the given file
// contents. Used for uploads.
func FingerprintBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
