// Package rewrite implements the gateway's response-body URL rewriter: a
// pure function that replaces upstream host/path prefixes with the
// gateway's own so that clients never see internal service URLs.
package rewrite

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"strings"
)

// BaseURL is a host+path pair used as either the "original" (upstream) or
// "proxy" (gateway-facing) side of a rewrite.
type BaseURL struct {
	Host string
	Path string
}

func (b BaseURL) trimmed() string {
	return trimTrailingSlash(b.Host + b.Path)
}

func trimTrailingSlash(s string) string {
	return strings.TrimRight(s, "/")
}

// Rewrite replaces every occurrence of original's host+path prefix in body
// with proxy's host+path prefix. It first attempts an XML-aware rewrite and
// falls back to a text/JSON regex rewrite when the body does not parse as
// XML. Rewrite is idempotent: calling it twice with the same original/proxy
// pair produces the same output as calling it once.
func Rewrite(body []byte, original, proxy BaseURL) []byte {
	o := original.trimmed()
	p := proxy.trimmed()
	if o == "" {
		return body
	}

	if rewritten, ok := rewriteXML(body, o, p, proxy.Host, proxy.Path); ok {
		return rewritten
	}
	return rewriteText(body, o, p)
}

var namespaceDeclPrefixes = []string{"xmlns"}

func isNamespaceDecl(name xml.Name) bool {
	if name.Local == "xmlns" {
		return true
	}
	for _, prefix := range namespaceDeclPrefixes {
		if name.Space == prefix {
			return true
		}
	}
	return false
}

func isXMLBase(name xml.Name) bool {
	return name.Local == "base" && (name.Space == "xml" || strings.EqualFold(name.Space, "http://www.w3.org/xml/1998/namespace"))
}

// rewriteXML attempts to decode body as an XML token stream, rewriting
// attribute and character-data values along the way. It returns ok=false
// when the body fails to parse as XML, signalling the caller to fall back
// to the text rewrite.
func rewriteXML(body []byte, o, p, proxyHost, proxyPath string) ([]byte, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '<' {
		return nil, false
	}

	decoder := xml.NewDecoder(bytes.NewReader(body))
	var out bytes.Buffer
	encoder := xml.NewEncoder(&out)

	for {
		tok, err := decoder.Token()
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			return nil, false
		}

		switch t := tok.(type) {
		case xml.StartElement:
			rewritten := t.Copy()
			for i, attr := range rewritten.Attr {
				rewritten.Attr[i] = rewriteAttr(attr, o, p, proxyPath)
			}
			if err := encoder.EncodeToken(rewritten); err != nil {
				return nil, false
			}
		case xml.CharData:
			text := string(t)
			rewritten := rewriteLeafText(text, o, p, proxyHost)
			if err := encoder.EncodeToken(xml.CharData(rewritten)); err != nil {
				return nil, false
			}
		default:
			if err := encoder.EncodeToken(tok); err != nil {
				return nil, false
			}
		}
	}

	if err := encoder.Flush(); err != nil {
		return nil, false
	}
	return out.Bytes(), true
}

func rewriteAttr(attr xml.Attr, o, p, proxyPath string) xml.Attr {
	if isNamespaceDecl(attr.Name) {
		return attr
	}

	value := attr.Value
	switch {
	case isXMLBase(attr.Name) && strings.HasPrefix(value, o):
		attr.Value = p + strings.TrimPrefix(value, o)
	case strings.HasPrefix(value, o):
		attr.Value = p + strings.TrimPrefix(value, o)
	case strings.HasPrefix(value, p):
		// already rewritten
	case attr.Name.Local == "href" && !strings.HasPrefix(value, "http") && !strings.HasPrefix(value, "/"):
		attr.Value = strings.TrimSuffix(proxyPath+"/"+value, "/")
	}
	return attr
}

func rewriteLeafText(text, o, p, proxyHost string) string {
	if !strings.HasPrefix(text, o) {
		return text
	}
	rewritten := p + strings.TrimPrefix(text, o)
	// Idempotence guard: OData-style <id> values may already embed the
	// proxy host from an earlier rewrite pass nested inside the body.
	if proxyHost != "" {
		rewritten = strings.ReplaceAll(rewritten, proxyHost, p)
	}
	return rewritten
}

// rewriteText is the non-XML fallback: replace every case-insensitive
// match of o, optionally followed by a path suffix, with p plus the same
// suffix.
func rewriteText(body []byte, o, p string) []byte {
	if o == "" {
		return body
	}
	pattern := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(o) + `(/[^"'\s]*)?`)
	return pattern.ReplaceAllFunc(body, func(match []byte) []byte {
		suffix := match[len(o):]
		return append([]byte(p), suffix...)
	})
}
