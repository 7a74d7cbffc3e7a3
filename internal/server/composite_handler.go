package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"gatewayproxy/internal/composite"
	"gatewayproxy/internal/trafficlog"
)

// handleComposite dispatches a named composite workflow through the
// orchestrator and records a traffic log entry summarizing the run.
func (s *Server) handleComposite(w http.ResponseWriter, r *http.Request, env, name string) {
	started := time.Now()

	def, ok := s.registry.GetComposite(name)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "unknown composite endpoint")
		return
	}
	if !s.environments.IsAllowed(env) {
		writeJSONError(w, http.StatusBadRequest, "environment not allowed")
		return
	}

	var body []byte
	var err error
	if r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
	}

	entry := trafficlog.Entry{
		TraceID:        traceIDFromRequest(r),
		Timestamp:      started.UTC(),
		Method:         r.Method,
		Path:           r.URL.Path,
		Query:          r.URL.RawQuery,
		Env:            env,
		EndpointName:   name,
		TargetURL:      "composite:" + name,
		Username:       usernameFromContext(r.Context()),
		RequestHeaders: trafficlog.RedactHeaders(r.Header),
		RequestSize:    int64(len(body)),
	}
	ip, _ := resolveClientIP(r, s.ipResolver)
	entry.ClientIP = ip
	if s.captureRequestBodies {
		entry.RequestBody = trafficlog.TruncateBody(body, s.maxBodyCaptureSize)
	}

	result, runErr := s.orchestrator.Run(r.Context(), def, env, body)
	entry.DurationMs = time.Since(started).Milliseconds()

	var failure *composite.FailureError
	if runErr != nil && errors.As(runErr, &failure) {
		entry.StatusCode = http.StatusBadRequest
		s.trafficLog().Enqueue(entry)
		writeCompositeFailure(w, failure.Step, failure.Details, failure.Result)
		return
	}
	if runErr != nil {
		entry.StatusCode = http.StatusInternalServerError
		s.trafficLog().Enqueue(entry)
		writeJSONError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	entry.StatusCode = http.StatusOK
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		entry.ResponseSize = int64(len(payload))
		if s.captureResponseBodies {
			entry.ResponseBody = trafficlog.TruncateBody(payload, s.maxBodyCaptureSize)
		}
	}
	s.trafficLog().Enqueue(entry)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(result)
}
