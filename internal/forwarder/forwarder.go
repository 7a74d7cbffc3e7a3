// Package forwarder implements the gateway's proxy forwarding path:
// request reconstruction, header policy, upstream dispatch, and response
// relay with URL rewriting.
package forwarder

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"gatewayproxy/internal/registry"
	"gatewayproxy/internal/rewrite"
	"gatewayproxy/internal/safety"
)

// bodyForwardingMethods lists the methods for which the request body is
// forwarded upstream; GET and HEAD never carry a body.
var bodyForwardingMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
	http.MethodOptions: {},
	"MERGE":           {},
}

// strippedRequestHeaders are never copied from the inbound request onto the
// outbound one; DatabaseName and ServerName are reinjected explicitly and
// Content-* headers are reattached only when a body is forwarded.
var strippedRequestHeaderPrefixes = []string{"Content-"}

var strippedRequestHeaders = map[string]struct{}{
	"Host":         {},
	"Databasename": {},
	"Servername":   {},
}

var endpointNamePattern = regexp.MustCompile(`^([A-Za-z0-9_]+)(?:/(.*))?$`)

// EnvironmentAllower reports whether an environment label is permitted.
type EnvironmentAllower interface {
	IsAllowed(env string) bool
}

// Lookup resolves an endpoint definition by case-insensitive name.
type Lookup interface {
	Get(name string) (registry.EndpointDefinition, bool)
}

// Result is the outcome of a successful forward; the router writes it to
// the client's http.ResponseWriter.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	TargetURL  *url.URL
}

// Forwarder validates and dispatches standard proxy requests.
type Forwarder struct {
	registry    Lookup
	environments EnvironmentAllower
	safety      safety.Checker
	client      *http.Client
	serverName  string
}

// New constructs a Forwarder. client, when nil, defaults to a
// connection-reusing client tuned for fan-in to a small set of upstream
// hosts.
func New(reg Lookup, environments EnvironmentAllower, checker safety.Checker, serverName string, client *http.Client) *Forwarder {
	if client == nil {
		client = defaultClient()
	}
	return &Forwarder{registry: reg, environments: environments, safety: checker, client: client, serverName: serverName}
}

func defaultClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// Forward validates env/rest/method against the registry and environment
// allow-list, dispatches the request upstream, rewrites the response body,
// and returns the relay-ready Result.
func (f *Forwarder) Forward(ctx context.Context, env, rest string, r *http.Request) (*Result, *Error) {
	if f.environments != nil && !f.environments.IsAllowed(env) {
		return nil, newError(http.StatusBadRequest, "Environment '%s' is not allowed.", env)
	}

	match := endpointNamePattern.FindStringSubmatch(rest)
	if match == nil {
		return nil, newError(http.StatusBadRequest, "No endpoint name could be determined from the request path.")
	}
	endpointName, remainder := match[1], match[2]

	def, ok := f.registry.Get(endpointName)
	if !ok {
		return nil, newError(http.StatusNotFound, "Endpoint '%s' was not found.", endpointName)
	}
	if !def.AccessibleDirectly() {
		return nil, newError(http.StatusForbidden, "Endpoint not accessible directly")
	}
	if !def.AllowsMethod(r.Method) {
		return nil, newError(http.StatusMethodNotAllowed, "Method '%s' is not allowed for endpoint '%s'.", r.Method, endpointName)
	}

	targetURL, buildErr := buildUpstreamURL(def.URL, remainder, r.URL.RawQuery)
	if buildErr != nil {
		return nil, newError(http.StatusBadRequest, "%s", buildErr.Error())
	}

	if f.safety != nil && !f.safety.Allowed(ctx, targetURL) {
		return nil, newError(http.StatusForbidden, "Target URL is not permitted.")
	}

	outbound, outErr := f.buildOutboundRequest(ctx, r, targetURL, env)
	if outErr != nil {
		return nil, newError(http.StatusInternalServerError, "Internal Server Error")
	}

	resp, err := f.client.Do(outbound)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "Internal Server Error")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(http.StatusInternalServerError, "Internal Server Error")
	}

	header := relayHeader(resp.Header)
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", "application/json")
	}

	rewritten := rewrite.Rewrite(body, originalBase(def.URL), proxyBase(r, env, endpointName))

	return &Result{StatusCode: resp.StatusCode, Header: header, Body: rewritten, TargetURL: targetURL}, nil
}

func (f *Forwarder) buildOutboundRequest(ctx context.Context, r *http.Request, target *url.URL, env string) (*http.Request, error) {
	var bodyReader io.Reader
	forwardsBody := shouldForwardBody(r.Method)
	if forwardsBody && r.Body != nil {
		bodyReader = r.Body
	}

	outbound, err := http.NewRequestWithContext(ctx, r.Method, target.String(), bodyReader)
	if err != nil {
		return nil, err
	}

	for name, values := range r.Header {
		if skipRequestHeader(name) {
			continue
		}
		for _, v := range values {
			outbound.Header.Add(name, v)
		}
	}
	if forwardsBody {
		for name, values := range r.Header {
			if strings.HasPrefix(http.CanonicalHeaderKey(name), "Content-") {
				for _, v := range values {
					outbound.Header.Add(name, v)
				}
			}
		}
	}

	outbound.Header.Set("DatabaseName", env)
	outbound.Header.Set("ServerName", f.serverName)
	return outbound, nil
}

func shouldForwardBody(method string) bool {
	_, ok := bodyForwardingMethods[strings.ToUpper(method)]
	return ok
}

func skipRequestHeader(name string) bool {
	canonical := http.CanonicalHeaderKey(name)
	if _, stripped := strippedRequestHeaders[canonical]; stripped {
		return true
	}
	for _, prefix := range strippedRequestHeaderPrefixes {
		if strings.HasPrefix(canonical, prefix) {
			return true
		}
	}
	return false
}

func relayHeader(upstream http.Header) http.Header {
	out := make(http.Header, len(upstream))
	for name, values := range upstream {
		if http.CanonicalHeaderKey(name) == "Content-Length" {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	return out
}

// buildUpstreamURL assembles the forwarded URL per the single-path-segment
// encoding rule: remainder is percent-encoded as one segment, except when
// it is fully parenthesized, in which case only the inner content is
// encoded and the parentheses are preserved literally.
func buildUpstreamURL(base, remainder, rawQuery string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if remainder != "" {
		parsed.RawPath = parsed.EscapedPath() + "/" + encodeRemainder(remainder)
		parsed.Path = parsed.Path + "/" + remainder
	}
	parsed.RawQuery = rawQuery
	return parsed, nil
}

func encodeRemainder(remainder string) string {
	if len(remainder) >= 2 && strings.HasPrefix(remainder, "(") && strings.HasSuffix(remainder, ")") {
		inner := remainder[1 : len(remainder)-1]
		return "(" + url.PathEscape(inner) + ")"
	}
	return url.PathEscape(remainder)
}

func originalBase(endpointURL string) rewrite.BaseURL {
	parsed, err := url.Parse(endpointURL)
	if err != nil {
		return rewrite.BaseURL{}
	}
	return rewrite.BaseURL{
		Host: parsed.Scheme + "://" + parsed.Host,
		Path: strings.TrimRight(parsed.Path, "/"),
	}
}

func proxyBase(r *http.Request, env, endpointName string) rewrite.BaseURL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return rewrite.BaseURL{
		Host: scheme + "://" + r.Host,
		Path: "/api/" + env + "/" + endpointName,
	}
}
