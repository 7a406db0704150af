package ratelimit

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"gcra-gateway/middleware/ratelimit/domain"
)

func TestPeerIPExtractor_UsesRemoteAddrHost(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"

	got, err := PeerIPExtractor{}.Extract(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ip:10.0.0.9" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestPeerIPExtractor_AcceptsIPv6AndNoPort(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "[::1]:443"
	if got, _ := (PeerIPExtractor{}).Extract(r); got != "ip:::1" {
		t.Fatalf("expected ip:::1, got %q", got)
	}

	r.RemoteAddr = "192.168.0.7"
	if got, _ := (PeerIPExtractor{}).Extract(r); got != "ip:192.168.0.7" {
		t.Fatalf("expected bare ip, got %q", got)
	}
}

func TestPeerIPExtractor_FailsWithoutAddress(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = ""

	_, err := PeerIPExtractor{}.Extract(r)
	if !errors.Is(err, domain.ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable, got %v", err)
	}
	var kerr *KeyExtractionError
	if !errors.As(err, &kerr) {
		t.Fatalf("expected *KeyExtractionError, got %T", err)
	}
}

func TestHeaderExtractor_TrimsValue(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("X-Client", " client-123 ")

	got, err := HeaderExtractor{Header: "X-Client"}.Extract(r)
	if err != nil || got != "hdr:X-Client:client-123" {
		t.Fatalf("expected header key, got %q err=%v", got, err)
	}
}

func TestForwardedForExtractor_TrustedProxyUsesFirstIP(t *testing.T) {
	e := ForwardedForExtractor{TrustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}}

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got, _ := e.Extract(r); got != "ip:1.2.3.4" {
		t.Fatalf("expected first XFF ip, got %q", got)
	}
}

func TestForwardedForExtractor_UntrustedPeerIgnoresHeader(t *testing.T) {
	e := ForwardedForExtractor{TrustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}}

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "203.0.113.5:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got, _ := e.Extract(r); got != "ip:203.0.113.5" {
		t.Fatalf("expected peer ip for untrusted proxy, got %q", got)
	}
}

func TestForwardedForExtractor_GarbageHeaderFallsBackToPeer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "not-an-ip")

	e := ForwardedForExtractor{TrustedProxies: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}}
	if got, _ := e.Extract(r); got != "ip:10.0.0.9" {
		t.Fatalf("expected peer ip, got %q", got)
	}
}

func TestBearerTokenExtractor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	if got, err := (BearerTokenExtractor{}).Extract(r); err != nil || got != "bearer:abc123" {
		t.Fatalf("expected token, got %q err=%v", got, err)
	}

	r.Header.Del("Authorization")
	_, err := BearerTokenExtractor{}.Extract(r)
	var kerr *KeyExtractionError
	if !errors.As(err, &kerr) || kerr.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 extraction error, got %v", err)
	}
}

func TestDefaultKeyExtractor_PrefersHeaderWhenSet(t *testing.T) {
	e := DefaultKeyExtractor("X-Client", nil)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Client", "client-123")
	if got, _ := e.Extract(r); got != "hdr:X-Client:client-123" {
		t.Fatalf("expected header key, got %q", got)
	}

	r.Header.Del("X-Client")
	if got, _ := e.Extract(r); got != "ip:10.0.0.1" {
		t.Fatalf("expected fallback to peer ip, got %q", got)
	}
}

func TestDefaultKeyExtractor_TrustXForwardedForUsesFirstIP(t *testing.T) {
	e := DefaultKeyExtractor("", []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")})

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.9:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")

	if got, _ := e.Extract(r); got != "ip:1.2.3.4" {
		t.Fatalf("expected first XFF ip, got %q", got)
	}
}

func TestForwardedForExtractor_NoTrustedProxiesIgnoresHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "203.0.113.5:5555"
	r.Header.Set("X-Forwarded-For", "1.2.3.4")

	if got, _ := (ForwardedForExtractor{}).Extract(r); got != "ip:203.0.113.5" {
		t.Fatalf("expected peer ip when no proxy is trusted, got %q", got)
	}
	if got, _ := DefaultKeyExtractor("", nil).Extract(r); got != "ip:203.0.113.5" {
		t.Fatalf("expected default extractor to ignore XFF, got %q", got)
	}
}

func TestExtractors_StrategiesDoNotShareKeys(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Api-Key", "10.0.0.1")
	r.Header.Set("Authorization", "Bearer 10.0.0.1")

	seen := map[string]string{}
	for _, e := range []KeyExtractor{PeerIPExtractor{}, HeaderExtractor{Header: "X-Api-Key"}, BearerTokenExtractor{}, GlobalExtractor{}} {
		key, err := e.Extract(r)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", e.Name(), err)
		}
		if other, dup := seen[key]; dup {
			t.Fatalf("%s and %s share key %q", e.Name(), other, key)
		}
		seen[key] = e.Name()
	}
}

func TestFirstOf_AllFailKeepsLastStatus(t *testing.T) {
	e := FirstOf(HeaderExtractor{Header: "X-Api-Key"}, BearerTokenExtractor{})

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	_, err := e.Extract(r)

	var kerr *KeyExtractionError
	if !errors.As(err, &kerr) {
		t.Fatalf("expected *KeyExtractionError, got %T", err)
	}
	if kerr.Status != http.StatusUnauthorized {
		t.Fatalf("expected status from last extractor, got %d", kerr.Status)
	}
	if !errors.Is(err, domain.ErrKeyUnavailable) {
		t.Fatalf("expected ErrKeyUnavailable in chain")
	}
}
