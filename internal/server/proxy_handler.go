package server

import (
	"io"
	"net/http"
	"strings"
	"time"

	"gatewayproxy/internal/forwarder"
	"gatewayproxy/internal/trafficlog"
)

// handleProxy dispatches a standard or private endpoint invocation through
// the forwarder and records a traffic log entry for it.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request, env, endpointPath string) {
	started := time.Now()

	endpointName := endpointPath
	if idx := strings.IndexByte(endpointPath, '/'); idx >= 0 {
		endpointName = endpointPath[:idx]
	}

	var reqCapture *trafficlog.BodyCapture
	if s.captureRequestBodies && r.Body != nil {
		reqCapture = trafficlog.NewBodyCapture(s.maxBodyCaptureSize)
		r.Body = io.NopCloser(reqCapture.TeeReader(r.Body))
	}

	result, fwdErr := s.forwarder.Forward(r.Context(), env, endpointPath, r)

	entry := trafficlog.Entry{
		TraceID:        traceIDFromRequest(r),
		Timestamp:      started.UTC(),
		Method:         r.Method,
		Path:           r.URL.Path,
		Query:          r.URL.RawQuery,
		Env:            env,
		EndpointName:   endpointName,
		DurationMs:     time.Since(started).Milliseconds(),
		Username:       usernameFromContext(r.Context()),
		RequestHeaders: trafficlog.RedactHeaders(r.Header),
	}
	ip, _ := resolveClientIP(r, s.ipResolver)
	entry.ClientIP = ip
	if reqCapture != nil {
		entry.RequestSize = reqCapture.Total()
		entry.RequestBody = reqCapture.Truncated()
	} else if r.ContentLength > 0 {
		entry.RequestSize = r.ContentLength
	}

	if fwdErr != nil {
		entry.StatusCode = fwdErr.Status
		s.trafficLog().Enqueue(entry)
		writeJSONError(w, fwdErr.Status, fwdErr.Message)
		return
	}

	if result.TargetURL != nil {
		entry.TargetURL = result.TargetURL.String()
	}
	entry.StatusCode = result.StatusCode
	entry.ResponseSize = int64(len(result.Body))
	if s.captureResponseBodies {
		entry.ResponseBody = trafficlog.TruncateBody(result.Body, s.maxBodyCaptureSize)
	}
	s.trafficLog().Enqueue(entry)

	writeForwardedResult(w, result)
}

func writeForwardedResult(w http.ResponseWriter, result *forwarder.Result) {
	header := w.Header()
	for name, values := range result.Header {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)
}
