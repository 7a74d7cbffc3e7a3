package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"gatewayproxy/internal/config"
)

func TestBuildVerifierDefaultsToMemory(t *testing.T) {
	verifier, err := buildVerifier(context.Background(), config.GatewayConfig{})
	if err != nil {
		t.Fatalf("buildVerifier returned error: %v", err)
	}
	if verifier == nil {
		t.Fatalf("expected a non-nil in-memory verifier")
	}
}

func TestBuildVerifierLoadsMemoryFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	tokens := map[string]string{"sometoken": "alice"}
	data, err := json.Marshal(tokens)
	if err != nil {
		t.Fatalf("marshal tokens: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write tokens file: %v", err)
	}

	verifier, err := buildVerifier(context.Background(), config.GatewayConfig{TokenStorePath: path})
	if err != nil {
		t.Fatalf("buildVerifier returned error: %v", err)
	}

	username, ok := verifier.Verify(context.Background(), "sometoken")
	if !ok || username != "alice" {
		t.Fatalf("expected provisioned token to verify as alice, got %q/%v", username, ok)
	}
}

func TestBuildVerifierRequiresDSNForPostgresDriver(t *testing.T) {
	if _, err := buildVerifier(context.Background(), config.GatewayConfig{TokenStoreDriver: "postgres"}); err == nil {
		t.Fatal("expected error when postgres driver selected without a DSN")
	}
}

func TestBuildSafetyCheckerDefaultsWithoutRedisMirror(t *testing.T) {
	checker, err := buildSafetyChecker(config.GatewayConfig{})
	if err != nil {
		t.Fatalf("buildSafetyChecker returned error: %v", err)
	}
	if checker == nil {
		t.Fatalf("expected a non-nil default checker")
	}
}

func TestBuildTrafficLogSinkDefaultsToFileDriver(t *testing.T) {
	dir := t.TempDir()
	sink, err := buildTrafficLogSink(config.GatewayConfig{
		TrafficLogDir:           dir,
		TrafficLogQueueCapacity: 16,
		TrafficLogBatchSize:     4,
	}, nil, nil)
	if err != nil {
		t.Fatalf("buildTrafficLogSink returned error: %v", err)
	}
	if sink == nil {
		t.Fatalf("expected a non-nil sink")
	}
	if err := sink.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown sink: %v", err)
	}
}

func TestBuildTrafficLogSinkRequiresDSNForPostgresDriver(t *testing.T) {
	if _, err := buildTrafficLogSink(config.GatewayConfig{TrafficLogDriver: "postgres"}, nil, nil); err == nil {
		t.Fatal("expected error when postgres driver selected without a DSN")
	}
}
