package generator

import (
	"net/http"
	"time"

	"github.com/rs/dnscache"

	"github.com/eugener/respcache/internal/dialer"
)

// NewTransport returns a pooled *http.Transport for the upstream API. A
// non-nil resolver caches DNS lookups for the upstream host.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	return &http.Transport{
		DialContext:         dialer.New(resolver, 10*time.Second),
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}
