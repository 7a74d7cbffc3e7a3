package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"gatewayproxy/internal/auth"
	"gatewayproxy/internal/composite"
	"gatewayproxy/internal/forwarder"
	"gatewayproxy/internal/registry"
	"gatewayproxy/internal/trafficlog"
)

type stubRegistry struct {
	endpoints  map[string]registry.EndpointDefinition
	composites map[string]registry.CompositeDefinition
}

func (s stubRegistry) Get(name string) (registry.EndpointDefinition, bool) {
	def, ok := s.endpoints[strings.ToLower(name)]
	return def, ok
}

func (s stubRegistry) GetComposite(name string) (registry.CompositeDefinition, bool) {
	def, ok := s.composites[strings.ToLower(name)]
	return def, ok
}

type allowAllEnvironments struct{}

func (allowAllEnvironments) IsAllowed(env string) bool { return env == "dev" }

type testAllowAllSafety struct{}

func (testAllowAllSafety) Allowed(ctx context.Context, u *url.URL) bool { return true }

func methodSet(methods ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(methods))
	for _, m := range methods {
		set[strings.ToUpper(m)] = struct{}{}
	}
	return set
}

func newTestServer(t *testing.T, upstreamURL string) (*Server, *auth.MemoryVerifier) {
	t.Helper()

	reg := stubRegistry{
		endpoints: map[string]registry.EndpointDefinition{
			"items": {Name: "Items", URL: upstreamURL + "/items", Methods: methodSet("GET"), Kind: registry.KindStandard},
			"secretthing": {Name: "SecretThing", URL: upstreamURL + "/secret", Methods: methodSet("GET"), Kind: registry.KindPrivate, IsPrivate: true},
		},
	}

	verifier := auth.NewMemoryVerifier()
	if err := verifier.Provision("test-token", "alice"); err != nil {
		t.Fatalf("provision token: %v", err)
	}

	fwd := forwarder.New(reg, allowAllEnvironments{}, testAllowAllSafety{}, "gateway", nil)
	orch := composite.New(reg, "gateway", nil)

	dir := t.TempDir()
	driver, err := trafficlog.NewFileDriver(trafficlog.FileDriverConfig{Dir: dir, Prefix: "traffic", MaxFileSizeMB: 10, MaxFileCount: 5})
	if err != nil {
		t.Fatalf("new file driver: %v", err)
	}
	sink := trafficlog.NewSink(driver, trafficlog.Config{QueueCapacity: 64, BatchSize: 8})

	srv, err := New(Config{
		Addr:         "127.0.0.1:0",
		ServerName:   "gateway",
		Registry:     reg,
		Environments: allowAllEnvironments{},
		Forwarder:    fwd,
		Orchestrator: orch,
		Verifier:     verifier,
		TrafficLog:   sink,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv, verifier
}

func TestStandardProxyRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":[]}`))
	}))
	defer upstream.Close()

	srv, _ := newTestServer(t, upstream.URL)

	req := httptest.NewRequest(http.MethodGet, "/api/dev/items", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMissingAuthorizationIsUnauthorized(t *testing.T) {
	srv, _ := newTestServer(t, "http://example.invalid")

	req := httptest.NewRequest(http.MethodGet, "/api/dev/items", nil)
	rec := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUnrecognizedTokenIsForbidden(t *testing.T) {
	srv, _ := newTestServer(t, "http://example.invalid")

	req := httptest.NewRequest(http.MethodGet, "/api/dev/items", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-token")
	rec := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestPrivateEndpointBlockedDirectly(t *testing.T) {
	srv, _ := newTestServer(t, "http://example.invalid")

	req := httptest.NewRequest(http.MethodGet, "/api/dev/secretthing", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for private endpoint, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownCompositeIsNotFound(t *testing.T) {
	srv, _ := newTestServer(t, "http://example.invalid")

	req := httptest.NewRequest(http.MethodPost, "/api/dev/composite/NoSuchWorkflow", nil)
	req.Header.Set("Authorization", "Bearer test-token")
	rec := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthzDoesNotRequireAuth(t *testing.T) {
	srv, _ := newTestServer(t, "http://example.invalid")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
