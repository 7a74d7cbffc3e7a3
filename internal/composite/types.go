// Package composite runs named multi-step workflows declared in the
// endpoint registry, threading values between steps via a small template
// substitution language.
package composite

import "encoding/json"

// ExecutionContext carries the state shared by every step of a single
// composite invocation.
type ExecutionContext struct {
	RequestID string
	Variables map[string]string
	results   map[string]json.RawMessage
}

func newExecutionContext(requestID string, variables map[string]string) *ExecutionContext {
	if variables == nil {
		variables = map[string]string{}
	}
	return &ExecutionContext{
		RequestID: requestID,
		Variables: variables,
		results:   make(map[string]json.RawMessage),
	}
}

func (c *ExecutionContext) store(step string, value json.RawMessage) {
	c.results[step] = value
}

func (c *ExecutionContext) get(step string) (json.RawMessage, bool) {
	v, ok := c.results[step]
	return v, ok
}

// StepOutcome pairs one step's upstream status with its raw response body.
// The orchestrator does not populate it; CompositeResult carries step results
// on its own.
type StepOutcome struct {
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// CompositeResult is the response body for a successful or failed
// composite invocation.
type CompositeResult struct {
	Success      bool                       `json:"success"`
	ErrorStep    string                     `json:"errorStep,omitempty"`
	ErrorMessage string                     `json:"errorMessage,omitempty"`
	StepResults  map[string]json.RawMessage `json:"stepResults"`
}

// FailureError is returned by Run when a step fails; the router renders it
// as {error, step, details, result}.
type FailureError struct {
	Step    string
	Details string
	Result  CompositeResult
}

func (e *FailureError) Error() string {
	return e.Details
}
