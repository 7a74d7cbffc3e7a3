// Package trafficlog decouples request serving from log persistence: a
// bounded drop-oldest queue buffers entries produced by the request
// middleware and a single background worker batches them out to a storage
// driver (file or Postgres).
package trafficlog

import (
	"net/http"
	"strings"
	"time"
)

// Entry is one recorded request/response pair. Its JSON tags define the
// line shape the file driver writes; the Postgres driver maps fields to
// columns explicitly.
type Entry struct {
	TraceID        string              `json:"traceId"`
	Timestamp      time.Time           `json:"timestamp"`
	Method         string              `json:"method"`
	Path           string              `json:"path"`
	Query          string              `json:"query"`
	Env            string              `json:"env"`
	EndpointName   string              `json:"endpointName"`
	TargetURL      string              `json:"targetUrl"`
	StatusCode     int                 `json:"statusCode"`
	RequestSize    int64               `json:"requestSize"`
	ResponseSize   int64               `json:"responseSize"`
	DurationMs     int64               `json:"durationMs"`
	Username       string              `json:"username,omitempty"`
	ClientIP       string              `json:"clientIp"`
	RequestBody    string              `json:"requestBody,omitempty"`
	ResponseBody   string              `json:"responseBody,omitempty"`
	RequestHeaders map[string][]string `json:"requestHeaders"`
}

var sensitiveHeaderSuffixes = []string{"-token", "-key"}
var sensitiveHeaderNames = map[string]struct{}{
	"authorization": {},
	"cookie":        {},
	"secret":        {},
	"credential":    {},
	"password":      {},
}

// RedactHeaders returns a copy of headers with sensitive values replaced by
// "[REDACTED]": Authorization, Cookie, any *-Token or *-Key, Secret,
// Credential, and Password.
func RedactHeaders(headers http.Header) map[string][]string {
	redacted := make(map[string][]string, len(headers))
	for name, values := range headers {
		if isSensitiveHeader(name) {
			redacted[name] = []string{"[REDACTED]"}
			continue
		}
		redacted[name] = append([]string(nil), values...)
	}
	return redacted
}

func isSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	if _, ok := sensitiveHeaderNames[lower]; ok {
		return true
	}
	for _, suffix := range sensitiveHeaderSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// TruncateBody returns body capped at limit bytes, appending an ellipsis
// marker when truncation occurred. limit<=0 disables capture entirely.
func TruncateBody(body []byte, limit int) string {
	if limit <= 0 || len(body) == 0 {
		return ""
	}
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
