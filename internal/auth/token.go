// Package auth authenticates operator requests to the admin endpoints with
// static bearer tokens from the config file.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	respcache "github.com/eugener/respcache/internal"
)

// TokenAuth accepts any of a fixed set of bearer tokens. Only SHA-256
// digests are kept in memory.
type TokenAuth struct {
	digests [][sha256.Size]byte
}

// NewTokenAuth returns a TokenAuth for tokens. Empty tokens are ignored.
func NewTokenAuth(tokens []string) *TokenAuth {
	a := &TokenAuth{}
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			a.digests = append(a.digests, sha256.Sum256([]byte(t)))
		}
	}
	return a
}

// Enabled reports whether any token is configured.
func (a *TokenAuth) Enabled() bool { return len(a.digests) > 0 }

// Authenticate checks the Authorization header.
func (a *TokenAuth) Authenticate(r *http.Request) error {
	h := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || raw == "" {
		return respcache.ErrUnauthorized
	}
	got := sha256.Sum256([]byte(raw))
	match := 0
	// Compare against every digest so timing does not reveal which one matched.
	for _, d := range a.digests {
		match |= subtle.ConstantTimeCompare(got[:], d[:])
	}
	if match != 1 {
		return respcache.ErrUnauthorized
	}
	return nil
}
