package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	resolver, err := newClientIPResolver(false, nil)
	if err != nil {
		t.Fatalf("newClientIPResolver: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	req.Header.Set("X-Forwarded-For", "198.51.100.9")

	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "203.0.113.5" || source != ipSourceRemoteAddr {
		t.Fatalf("expected remote addr to win when not trusted, got %q/%q", ip, source)
	}
}

func TestClientIPTrustsForwardedHeaderFromTrustedProxy(t *testing.T) {
	resolver, err := newClientIPResolver(false, []string{"203.0.113.0/24"})
	if err != nil {
		t.Fatalf("newClientIPResolver: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	req.Header.Set("X-Forwarded-For", "198.51.100.9, 203.0.113.5")

	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "198.51.100.9" || source != ipSourceXForwardedFor {
		t.Fatalf("expected first X-Forwarded-For entry from trusted proxy, got %q/%q", ip, source)
	}
}

func TestClientIPTrustForwardedHeadersGlobalFlag(t *testing.T) {
	resolver, err := newClientIPResolver(true, nil)
	if err != nil {
		t.Fatalf("newClientIPResolver: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Real-IP", "198.51.100.20")

	ip, source := resolver.ClientIPFromRequest(req)
	if ip != "198.51.100.20" || source != ipSourceXRealIP {
		t.Fatalf("expected X-Real-IP to be trusted globally, got %q/%q", ip, source)
	}
}

func TestNewClientIPResolverRejectsInvalidProxy(t *testing.T) {
	if _, err := newClientIPResolver(false, []string{"not-an-address"}); err == nil {
		t.Fatalf("expected error for invalid trusted proxy address")
	}
}
