package composite

import (
	"encoding/json"
	"testing"
)

func TestResolveTemplateGuidProducesDistinctValues(t *testing.T) {
	ctx := newExecutionContext("req-1", nil)
	a, err := resolveTemplate(ctx, prefixGuid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := resolveTemplate(ctx, prefixGuid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == b {
		t.Fatalf("expected distinct guids, got %v twice", a)
	}
}

func TestResolveTemplateRequestID(t *testing.T) {
	ctx := newExecutionContext("req-123", nil)
	got, err := resolveTemplate(ctx, prefixRequestID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "req-123" {
		t.Fatalf("expected req-123, got %v", got)
	}
}

func TestResolveTemplateContextVariable(t *testing.T) {
	ctx := newExecutionContext("req-1", map[string]string{"tenant": "acme"})
	got, err := resolveTemplate(ctx, "$context.tenant")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "acme" {
		t.Fatalf("expected acme, got %v", got)
	}
}

func TestResolveTemplateLiteralPassesThrough(t *testing.T) {
	ctx := newExecutionContext("req-1", nil)
	got, err := resolveTemplate(ctx, "literal-value")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "literal-value" {
		t.Fatalf("expected literal-value unchanged, got %v", got)
	}
}

func TestResolvePrevReferenceNumericIndexAndScalar(t *testing.T) {
	ctx := newExecutionContext("req-1", nil)
	ctx.store("CreateOrderLines", json.RawMessage(`[{"d":{"TransactionKey":"abc-123"}},{"d":{"TransactionKey":"other"}}]`))

	got, err := resolveTemplate(ctx, "$prev.CreateOrderLines.0.d.TransactionKey")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "abc-123" {
		t.Fatalf("expected abc-123, got %v", got)
	}
}

func TestResolvePrevReferenceDetachesObjects(t *testing.T) {
	ctx := newExecutionContext("req-1", nil)
	ctx.store("Step1", json.RawMessage(`{"nested":{"a":1,"b":2}}`))

	got, err := resolveTemplate(ctx, "$prev.Step1.nested")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	obj, ok := got.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", got)
	}
	obj["a"] = 999 // mutate the detached copy
	raw, _ := ctx.get("Step1")
	if string(raw) != `{"nested":{"a":1,"b":2}}` {
		t.Fatalf("expected stored step result to be unaffected by mutation, got %s", raw)
	}
}

func TestResolvePrevReferenceUnknownStepErrors(t *testing.T) {
	ctx := newExecutionContext("req-1", nil)
	_, err := resolveTemplate(ctx, "$prev.NeverRan.field")
	if err == nil {
		t.Fatalf("expected error for unresolved prior step")
	}
}
