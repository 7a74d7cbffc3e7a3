package composite

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"gatewayproxy/internal/registry"
)

// Lookup resolves an endpoint definition by case-insensitive name, the same
// contract the forwarder uses.
type Lookup interface {
	Get(name string) (registry.EndpointDefinition, bool)
}

// Orchestrator runs CompositeDefinition workflows sequentially against the
// registry, using its own HTTP client to dial each step's endpoint.
type Orchestrator struct {
	registry   Lookup
	client     *http.Client
	serverName string
}

// New constructs an Orchestrator. client, when nil, defaults to a
// 30-second-timeout client; step dispatch does not stream, so a timeout is
// appropriate where the forwarder's passthrough client has none.
func New(reg Lookup, serverName string, client *http.Client) *Orchestrator {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Orchestrator{registry: reg, client: client, serverName: serverName}
}

// Run executes every step of def in declared order against requestBody,
// returning the completed CompositeResult on success or a *FailureError
// describing the first failing step.
func (o *Orchestrator) Run(ctx context.Context, def registry.CompositeDefinition, env string, requestBody []byte) (*CompositeResult, error) {
	var topLevel interface{}
	if len(bytes.TrimSpace(requestBody)) > 0 {
		if err := json.Unmarshal(requestBody, &topLevel); err != nil {
			return nil, fmt.Errorf("request body is not valid JSON: %w", err)
		}
	}

	execCtx := newExecutionContext(uuid.New().String(), nil)
	result := &CompositeResult{StepResults: make(map[string]json.RawMessage)}

	for _, step := range def.Steps {
		endpoint, ok := o.registry.Get(step.Endpoint)
		if !ok {
			return o.fail(result, step.Name, fmt.Sprintf("step endpoint %q not found", step.Endpoint))
		}
		if !endpoint.AllowsMethod(step.Method) {
			return o.fail(result, step.Name, fmt.Sprintf("method %q is not allowed for endpoint %q", step.Method, step.Endpoint))
		}

		items, fanOut, err := selectStepInputs(topLevel, step, execCtx)
		if err != nil {
			return o.fail(result, step.Name, err.Error())
		}

		if !fanOut {
			transformed, err := applyTemplateTransformations(execCtx, items[0], step.TemplateTransformations)
			if err != nil {
				return o.fail(result, step.Name, err.Error())
			}
			items[0] = transformed
		} else {
			for i := range items {
				transformed, err := applyTemplateTransformations(execCtx, items[i], step.TemplateTransformations)
				if err != nil {
					return o.fail(result, step.Name, err.Error())
				}
				items[i] = transformed
			}
		}

		decoded := make([]json.RawMessage, 0, len(items))
		for _, item := range items {
			raw, status, err := o.dispatch(ctx, endpoint, step.Method, env, item)
			if err != nil {
				return o.fail(result, step.Name, err.Error())
			}
			if status < 200 || status >= 300 {
				return o.fail(result, step.Name, fmt.Sprintf("upstream returned status %d: %s", status, raw))
			}
			decoded = append(decoded, raw)
		}

		var stored json.RawMessage
		if fanOut {
			arr, err := json.Marshal(decoded)
			if err != nil {
				return o.fail(result, step.Name, err.Error())
			}
			stored = arr
		} else {
			stored = decoded[0]
		}
		execCtx.store(step.Name, stored)
		result.StepResults[step.Name] = stored
	}

	result.Success = true
	return result, nil
}

func (o *Orchestrator) fail(result *CompositeResult, step, message string) (*CompositeResult, error) {
	result.Success = false
	result.ErrorStep = step
	result.ErrorMessage = message
	return result, &FailureError{Step: step, Details: message, Result: *result}
}

// selectStepInputs implements the four-level input-selection priority
// order. It always returns at least one item; fanOut reports whether the
// step should run once per returned item.
func selectStepInputs(topLevel interface{}, step registry.CompositeStep, execCtx *ExecutionContext) ([]interface{}, bool, error) {
	if step.IsArray {
		obj, ok := topLevel.(map[string]interface{})
		if ok {
			if arr, ok := obj[step.ArrayProperty].([]interface{}); ok {
				items := make([]interface{}, len(arr))
				for i, el := range arr {
					cloned, err := deepClone(el)
					if err != nil {
						return nil, false, err
					}
					items[i] = cloned
				}
				return items, true, nil
			}
		}
	}

	if step.DependsOn != "" {
		if raw, ok := execCtx.get(step.DependsOn); ok {
			var value interface{}
			if err := json.Unmarshal(raw, &value); err != nil {
				return nil, false, fmt.Errorf("decode dependsOn value for step %q: %w", step.DependsOn, err)
			}
			return []interface{}{value}, false, nil
		}
	}

	if step.SourceProperty != "" {
		if obj, ok := topLevel.(map[string]interface{}); ok {
			if value, present := obj[step.SourceProperty]; present {
				cloned, err := deepClone(value)
				if err != nil {
					return nil, false, err
				}
				return []interface{}{cloned}, false, nil
			}
		}
	}

	cloned, err := deepClone(topLevel)
	if err != nil {
		return nil, false, err
	}
	return []interface{}{cloned}, false, nil
}

func deepClone(value interface{}) (interface{}, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("clone value: %w", err)
	}
	var clone interface{}
	if err := json.Unmarshal(encoded, &clone); err != nil {
		return nil, fmt.Errorf("clone value: %w", err)
	}
	return clone, nil
}

// dispatch sends method to endpoint.URL with the step's payload, returning
// the raw (possibly re-decoded) response body and upstream status code.
func (o *Orchestrator) dispatch(ctx context.Context, endpoint registry.EndpointDefinition, method, env string, payload interface{}) (json.RawMessage, int, error) {
	var bodyReader io.Reader
	method = strings.ToUpper(method)
	carriesBody := method != http.MethodGet && method != http.MethodDelete
	if carriesBody {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encode step payload: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.URL, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("build step request: %w", err)
	}
	req.Header.Set("ServerName", o.serverName)
	req.Header.Set("DatabaseName", env)
	req.Header.Set("Accept", "application/json,text/javascript; charset=utf-8")
	if carriesBody {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("dispatch step request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read step response: %w", err)
	}

	if json.Valid(respBody) {
		return json.RawMessage(respBody), resp.StatusCode, nil
	}
	quoted, err := json.Marshal(string(respBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("encode non-JSON step response: %w", err)
	}
	return json.RawMessage(quoted), resp.StatusCode, nil
}
