package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"gatewayproxy/internal/observability/logging"
)

func TestRequestIDMiddlewareGeneratesWhenMissing(t *testing.T) {
	var seenRequestID, seenTraceID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenRequestID, _ = logging.RequestIDFromContext(r.Context())
		seenTraceID, _ = logging.TraceIDFromContext(r.Context())
	})

	handler := requestIDMiddlewareWithGenerator(nil, sequentialIDs(), next)
	req := httptest.NewRequest(http.MethodGet, "/api/dev/items", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seenRequestID == "" || seenTraceID == "" {
		t.Fatalf("expected generated request and trace ids, got %q / %q", seenRequestID, seenTraceID)
	}
	if got := rec.Header().Get("X-Request-Id"); got != seenRequestID {
		t.Fatalf("expected response header to echo request id, got %q want %q", got, seenRequestID)
	}
}

func TestRequestIDMiddlewareReusesInboundHeader(t *testing.T) {
	var seenRequestID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenRequestID, _ = logging.RequestIDFromContext(r.Context())
	})

	handler := requestIDMiddlewareWithGenerator(nil, sequentialIDs(), next)
	req := httptest.NewRequest(http.MethodGet, "/api/dev/items", nil)
	req.Header.Set("X-Request-Id", "inbound-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seenRequestID != "inbound-id" {
		t.Fatalf("expected inbound request id to be reused, got %q", seenRequestID)
	}
}

func TestNewRequestIDProducesDistinctValues(t *testing.T) {
	first := newRequestID()
	second := newRequestID()
	if first == "" || second == "" {
		t.Fatalf("expected non-empty request ids")
	}
	if first == second {
		t.Fatalf("expected distinct request ids, got %q twice", first)
	}
}

func sequentialIDs() idGenerator {
	n := 0
	return func() string {
		n++
		if n%2 == 1 {
			return "req-seq"
		}
		return "trace-seq"
	}
}
