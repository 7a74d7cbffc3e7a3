package server

import (
	"net/http"
	"strings"
)

// apiRouter parses /api/{env}/{endpoint-or-composite}/{remainder-or-name}
// and dispatches to the forwarder or the composite orchestrator.
func (s *Server) apiRouter(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/api/")
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		writeJSONError(w, http.StatusNotFound, "missing environment and endpoint")
		return
	}

	segments := strings.SplitN(trimmed, "/", 2)
	env := segments[0]
	if env == "" {
		writeJSONError(w, http.StatusNotFound, "missing environment")
		return
	}

	rest := ""
	if len(segments) == 2 {
		rest = segments[1]
	}
	if rest == "" {
		writeJSONError(w, http.StatusNotFound, "missing endpoint name")
		return
	}

	const compositePrefix = "composite/"
	if rest == "composite" {
		writeJSONError(w, http.StatusNotFound, "missing composite name")
		return
	}
	if strings.HasPrefix(rest, compositePrefix) {
		name := strings.TrimPrefix(rest, compositePrefix)
		name = strings.TrimSuffix(name, "/")
		s.handleComposite(w, r, env, name)
		return
	}

	s.handleProxy(w, r, env, rest)
}
