package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeEndpointFile(t *testing.T, root, name, contents string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "endpoint.json"), []byte(contents), 0o644); err != nil {
		t.Fatalf("write endpoint file: %v", err)
	}
}

func TestNewSeedsEmptyRegistry(t *testing.T) {
	root := t.TempDir()
	reg, err := New(context.Background(), root, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := reg.Get("Items"); !ok {
		t.Fatalf("expected seeded Items endpoint")
	}
	if len(reg.ListComposites()) == 0 {
		t.Fatalf("expected at least one seeded composite")
	}
}

func TestRegistryLoadsDirectoryTree(t *testing.T) {
	root := t.TempDir()
	writeEndpointFile(t, root, "Items", `{"Url":"http://up:8020/items","Methods":["GET","POST"]}`)
	writeEndpointFile(t, root, "SalesOrderLine", `{"Url":"http://up:8020/lines","Methods":["POST"],"IsPrivate":true}`)
	writeEndpointFile(t, root, "SalesOrder", `{
		"Url":"http://up:8020/orders","Methods":["POST"],"Type":"Composite",
		"CompositeConfig":{
			"Name":"SalesOrder","Steps":[
				{"Name":"CreateLines","Endpoint":"SalesOrderLine","Method":"POST","IsArray":true,"ArrayProperty":"Lines"},
				{"Name":"CreateHeader","Endpoint":"SalesOrderLine","Method":"POST","DependsOn":"CreateLines"}
			]
		}
	}`)

	reg, err := New(context.Background(), root, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	def, ok := reg.Get("items")
	if !ok {
		t.Fatalf("expected case-insensitive lookup to find Items")
	}
	if !def.AllowsMethod("get") {
		t.Fatalf("expected case-insensitive method match")
	}
	if def.AllowsMethod("DELETE") {
		t.Fatalf("expected DELETE to be disallowed")
	}

	private, ok := reg.Get("SalesOrderLine")
	if !ok || private.AccessibleDirectly() {
		t.Fatalf("expected private endpoint to be hidden from direct access")
	}

	composite, ok := reg.Get("SalesOrder")
	if !ok || composite.AccessibleDirectly() {
		t.Fatalf("expected composite endpoint to be hidden from direct access")
	}

	composites := reg.ListComposites()
	if len(composites) != 1 || composites[0].Name != "SalesOrder" {
		t.Fatalf("expected exactly one composite named SalesOrder, got %+v", composites)
	}
}

func TestRegistrySkipsInvalidFilesButContinues(t *testing.T) {
	root := t.TempDir()
	writeEndpointFile(t, root, "Good", `{"Url":"http://up:8020/good","Methods":["GET"]}`)
	writeEndpointFile(t, root, "MissingURL", `{"Methods":["GET"]}`)
	writeEndpointFile(t, root, "MissingMethods", `{"Url":"http://up:8020/x"}`)

	reg, err := New(context.Background(), root, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := reg.Get("Good"); !ok {
		t.Fatalf("expected Good endpoint to load despite sibling errors")
	}
	if _, ok := reg.Get("MissingURL"); ok {
		t.Fatalf("expected MissingURL endpoint to be rejected")
	}
	if _, ok := reg.Get("MissingMethods"); ok {
		t.Fatalf("expected MissingMethods endpoint to be rejected")
	}
}

func TestRegistryReloadPicksUpChanges(t *testing.T) {
	root := t.TempDir()
	writeEndpointFile(t, root, "Items", `{"Url":"http://up:8020/items","Methods":["GET"]}`)

	reg, err := New(context.Background(), root, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	def, _ := reg.Get("Items")
	if def.AllowsMethod("POST") {
		t.Fatalf("expected POST to be disallowed before reload")
	}

	writeEndpointFile(t, root, "Items", `{"Url":"http://up:8020/items","Methods":["GET","POST"]}`)
	if err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	def, _ = reg.Get("Items")
	if !def.AllowsMethod("POST") {
		t.Fatalf("expected POST to be allowed after reload")
	}
}

func TestRegistryMissingRootCreatesDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist-yet")
	if _, err := New(context.Background(), root, nil, nil); err != nil {
		t.Fatalf("New: %v", err)
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		t.Fatalf("expected registry root to be created, err=%v", err)
	}
}
