package rewrite

import (
	"bytes"
	"strings"
	"testing"
)

func TestRewriteJSONBody(t *testing.T) {
	original := BaseURL{Host: "http://up:8020", Path: "/items"}
	proxy := BaseURL{Host: "http://localhost", Path: "/api/dev/Items"}

	body := []byte(`{"d":{"url":"http://up:8020/items/1"}}`)
	got := Rewrite(body, original, proxy)
	want := `{"d":{"url":"http://localhost/api/dev/Items/1"}}`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestRewriteIsIdempotent(t *testing.T) {
	original := BaseURL{Host: "http://up:8020", Path: "/items"}
	proxy := BaseURL{Host: "http://localhost", Path: "/api/dev/Items"}

	body := []byte(`{"d":{"url":"http://up:8020/items/1","next":"http://up:8020/items?skip=10"}}`)
	once := Rewrite(body, original, proxy)
	twice := Rewrite(once, original, proxy)
	if !bytes.Equal(once, twice) {
		t.Fatalf("rewrite is not idempotent:\nonce=%s\ntwice=%s", once, twice)
	}
}

func TestRewriteLeavesUnrelatedContentUnchanged(t *testing.T) {
	original := BaseURL{Host: "http://up:8020", Path: "/items"}
	proxy := BaseURL{Host: "http://localhost", Path: "/api/dev/Items"}

	body := []byte(`{"message":"no urls here","count":42}`)
	got := Rewrite(body, original, proxy)
	if string(got) != string(body) {
		t.Fatalf("expected unrelated content to be unchanged, got %s", got)
	}
}

func TestRewriteXMLBaseAndHref(t *testing.T) {
	original := BaseURL{Host: "http://up:8020", Path: "/items"}
	proxy := BaseURL{Host: "http://localhost", Path: "/api/dev/Items"}

	body := []byte(`<feed xml:base="http://up:8020/items/"><entry><link href="1" rel="self"/></entry></feed>`)
	got := Rewrite(body, original, proxy)
	s := string(got)
	if !strings.Contains(s, `http://localhost/api/dev/Items/`) {
		t.Fatalf("expected xml:base to be rewritten, got %s", s)
	}
	if !strings.Contains(s, `href="/api/dev/Items/1"`) {
		t.Fatalf("expected bare href to be prefixed with proxy path, got %s", s)
	}
}

func TestRewriteXMLNamespaceDeclarationsLeftAlone(t *testing.T) {
	original := BaseURL{Host: "http://up:8020", Path: "/items"}
	proxy := BaseURL{Host: "http://localhost", Path: "/api/dev/Items"}

	body := []byte(`<feed xmlns="http://www.w3.org/2005/Atom" xmlns:d="http://up:8020/items/schema"><id>http://up:8020/items/1</id></feed>`)
	got := Rewrite(body, original, proxy)
	s := string(got)
	if !strings.Contains(s, `xmlns="http://www.w3.org/2005/Atom"`) {
		t.Fatalf("expected default namespace declaration untouched, got %s", s)
	}
}

func TestRewriteODataIDIdempotenceGuard(t *testing.T) {
	original := BaseURL{Host: "http://up:8020", Path: "/items"}
	proxy := BaseURL{Host: "http://localhost", Path: "/api/dev/Items"}

	body := []byte(`<entry><id>http://up:8020/items/Items(1)</id></entry>`)
	once := Rewrite(body, original, proxy)
	twice := Rewrite(once, original, proxy)
	if !bytes.Equal(once, twice) {
		t.Fatalf("expected OData <id> rewrite to be idempotent:\nonce=%s\ntwice=%s", once, twice)
	}
	if !strings.Contains(string(once), "http://localhost/api/dev/Items") {
		t.Fatalf("expected id element to be rewritten, got %s", once)
	}
}

func TestRewriteFallsBackToTextWhenNotXML(t *testing.T) {
	original := BaseURL{Host: "http://up:8020", Path: "/items"}
	proxy := BaseURL{Host: "http://localhost", Path: "/api/dev/Items"}

	body := []byte(`plain text referencing http://up:8020/items/5 inline`)
	got := Rewrite(body, original, proxy)
	want := `plain text referencing http://localhost/api/dev/Items/5 inline`
	if string(got) != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestRewriteEmptyOriginalIsNoop(t *testing.T) {
	body := []byte(`{"url":"http://up:8020/items/1"}`)
	got := Rewrite(body, BaseURL{}, BaseURL{Host: "http://localhost"})
	if string(got) != string(body) {
		t.Fatalf("expected no-op when original is empty, got %s", got)
	}
}
