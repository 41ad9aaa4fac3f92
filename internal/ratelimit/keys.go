package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"rentgate/internal/models"
)

// KeyExtractor maps a request to the identity its requests are counted under.
// Any string is a valid key, including the empty string.
type KeyExtractor interface {
	ExtractKey(r *http.Request) string
}

// KeyExtractorFunc adapts a function to KeyExtractor.
type KeyExtractorFunc func(r *http.Request) string

// ExtractKey calls f(r).
func (f KeyExtractorFunc) ExtractKey(r *http.Request) string {
	return f(r)
}

// RemoteAddrKey keys by the connection's peer address, without the port.
type RemoteAddrKey struct{}

// ExtractKey implements KeyExtractor.
func (RemoteAddrKey) ExtractKey(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// ForwardedForKey keys by the first X-Forwarded-For hop, then X-Real-IP, then
// the peer address. Only use it behind a proxy that overwrites these headers.
type ForwardedForKey struct{}

// ExtractKey implements KeyExtractor.
func (ForwardedForKey) ExtractKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return RealIPKey{}.ExtractKey(r)
}

// RealIPKey keys by X-Real-IP, falling back to the peer address.
type RealIPKey struct{}

// ExtractKey implements KeyExtractor.
func (RealIPKey) ExtractKey(r *http.Request) string {
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return RemoteAddrKey{}.ExtractKey(r)
}

// HeaderKey keys by the value of a request header. Requests without the
// header fall back to Fallback, or share the empty-string bucket when it is nil.
type HeaderKey struct {
	Name     string
	Fallback KeyExtractor
}

// ExtractKey implements KeyExtractor.
func (h HeaderKey) ExtractKey(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(h.Name)); v != "" {
		return "hdr:" + v
	}
	if h.Fallback != nil {
		return h.Fallback.ExtractKey(r)
	}
	return ""
}

// APIKeyIdentity keys authenticated requests by API key ID and anonymous ones
// by Fallback.
type APIKeyIdentity struct {
	Fallback KeyExtractor
}

// ExtractKey implements KeyExtractor.
func (a APIKeyIdentity) ExtractKey(r *http.Request) string {
	if key, ok := models.APIKeyFromContext(r.Context()); ok {
		return "key:" + key.ID
	}
	if a.Fallback != nil {
		return a.Fallback.ExtractKey(r)
	}
	return RemoteAddrKey{}.ExtractKey(r)
}

// NewKeyExtractor builds the extractor for a policy key strategy. When
// trustProxy is set the ip strategy reads forwarding headers.
func NewKeyExtractor(strategy string, trustProxy bool) (KeyExtractor, error) {
	var ip KeyExtractor = RemoteAddrKey{}
	if trustProxy {
		ip = ForwardedForKey{}
	}

	switch {
	case strategy == "" || strategy == models.KeyStrategyIP:
		return ip, nil
	case strategy == models.KeyStrategyForwarded:
		return ForwardedForKey{}, nil
	case strategy == models.KeyStrategyRealIP:
		return RealIPKey{}, nil
	case strategy == models.KeyStrategyAPIKey:
		return APIKeyIdentity{Fallback: ip}, nil
	case strings.HasPrefix(strategy, models.KeyStrategyHeader):
		name := strings.TrimPrefix(strategy, models.KeyStrategyHeader)
		if name == "" {
			return nil, fmt.Errorf("key strategy %q: missing header name", strategy)
		}
		return HeaderKey{Name: http.CanonicalHeaderKey(name), Fallback: ip}, nil
	default:
		return nil, fmt.Errorf("unsupported key strategy: %s", strategy)
	}
}
