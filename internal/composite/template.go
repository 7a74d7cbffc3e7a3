package composite

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	prefixGuid      = "$guid"
	prefixRequestID = "$requestid"
	prefixContext   = "$context."
	prefixPrev      = "$prev."
)

// resolveTemplate evaluates a single templateTransformations expression
// against the execution context, returning the raw JSON value to splice
// into the outgoing payload.
func resolveTemplate(ctx *ExecutionContext, expr string) (interface{}, error) {
	switch {
	case expr == prefixGuid:
		return uuid.New().String(), nil
	case expr == prefixRequestID:
		return ctx.RequestID, nil
	case strings.HasPrefix(expr, prefixContext):
		name := strings.TrimPrefix(expr, prefixContext)
		return ctx.Variables[name], nil
	case strings.HasPrefix(expr, prefixPrev):
		return resolvePrevReference(ctx, strings.TrimPrefix(expr, prefixPrev))
	default:
		return expr, nil
	}
}

// resolvePrevReference resolves "<step>.<propPath>" against
// stepResults[<step>], navigating object keys and numeric array indices.
func resolvePrevReference(ctx *ExecutionContext, path string) (interface{}, error) {
	parts := strings.Split(path, ".")
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("malformed $prev reference %q", path)
	}
	stepName := parts[0]
	raw, ok := ctx.get(stepName)
	if !ok {
		return nil, fmt.Errorf("$prev references unknown or not-yet-executed step %q", stepName)
	}

	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decode stored result for step %q: %w", stepName, err)
	}

	for _, segment := range parts[1:] {
		value = navigate(value, segment)
		if value == nil {
			break
		}
	}

	if isScalar(value) {
		return value, nil
	}
	// Detach by re-serializing and re-parsing, per the documented
	// anti-aliasing rule for values copied between steps.
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("re-encode $prev value: %w", err)
	}
	var detached interface{}
	if err := json.Unmarshal(encoded, &detached); err != nil {
		return nil, fmt.Errorf("re-decode $prev value: %w", err)
	}
	return detached, nil
}

func navigate(value interface{}, segment string) interface{} {
	if idx, err := strconv.Atoi(segment); err == nil {
		arr, ok := value.([]interface{})
		if !ok || idx < 0 || idx >= len(arr) {
			return nil
		}
		return arr[idx]
	}
	obj, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	return obj[segment]
}

func isScalar(value interface{}) bool {
	switch value.(type) {
	case nil, bool, float64, string:
		return true
	default:
		return false
	}
}

// applyTemplateTransformations rewrites the matching keys of payload (when
// it is a JSON object) in place, evaluating each template expression.
func applyTemplateTransformations(ctx *ExecutionContext, payload interface{}, transforms map[string]string) (interface{}, error) {
	if len(transforms) == 0 {
		return payload, nil
	}
	obj, ok := payload.(map[string]interface{})
	if !ok {
		return payload, nil
	}
	for key, expr := range transforms {
		resolved, err := resolveTemplate(ctx, expr)
		if err != nil {
			return nil, err
		}
		obj[key] = resolved
	}
	return obj, nil
}
