package security

import (
	"crypto/subtle"
	"strings"
)

// DefaultAllowedOrigins are the dev-server origins a browser may post from.
var DefaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
}

// OriginPolicy is an exact-match allow-list of browser origins.
type OriginPolicy struct {
	origins []string
}

// NewOriginPolicy normalizes the list, dropping blanks and trailing slashes.
func NewOriginPolicy(origins []string) OriginPolicy {
	clean := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" {
			continue
		}
		clean = append(clean, origin)
	}
	return OriginPolicy{origins: clean}
}

// Allowed reports whether origin is on the list.
func (p OriginPolicy) Allowed(origin string) bool {
	for _, allowed := range p.origins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Resolve returns the value for Access-Control-Allow-Origin: the request
// origin when allowed, otherwise the first configured origin.
func (p OriginPolicy) Resolve(origin string) string {
	if p.Allowed(origin) {
		return origin
	}
	if len(p.origins) == 0 {
		return ""
	}
	return p.origins[0]
}

// Origins returns a copy of the allow-list.
func (p OriginPolicy) Origins() []string {
	return append([]string(nil), p.origins...)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return header[len(prefix):]
}

// TokenMatches compares a presented token with the secret in constant time.
// An empty secret never matches.
func TokenMatches(presented string, secret string) bool {
	if secret == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) == 1
}
