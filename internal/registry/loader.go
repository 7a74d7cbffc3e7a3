package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// snapshot is the immutable result of a single registry load.
type snapshot struct {
	endpoints  map[string]EndpointDefinition // lowercase name -> definition
	composites map[string]CompositeDefinition
}

func newSnapshot() *snapshot {
	return &snapshot{
		endpoints:  make(map[string]EndpointDefinition),
		composites: make(map[string]CompositeDefinition),
	}
}

type parsedFile struct {
	path string
	name string
	def  EndpointDefinition
	err  error
}

// loadFromDirectory walks root for *.json files, parses each concurrently
// (bounded by a weighted semaphore sized to GOMAXPROCS), and merges results
// into a snapshot in deterministic sorted-path order so that name
// collisions resolve identically regardless of goroutine completion order.
func loadFromDirectory(ctx context.Context, root string, logger *slog.Logger) (*snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		if mkErr := os.MkdirAll(root, 0o755); mkErr != nil {
			return nil, fmt.Errorf("create registry root %q: %w", root, mkErr)
		}
		return newSnapshot(), nil
	}

	var paths []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Error("registry walk error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if walkErr != nil {
		logger.Error("registry directory unreadable", "root", root, "error", walkErr)
		return newSnapshot(), nil
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		snap := newSnapshot()
		seedSnapshot(snap)
		return snap, nil
	}

	concurrency := int64(runtime.GOMAXPROCS(0))
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)

	results := make([]parsedFile, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		i, path := i, path
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = parsedFile{path: path, err: err}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = parseEndpointFile(path)
		}()
	}
	wg.Wait()

	snap := newSnapshot()
	for _, result := range results {
		if result.err != nil {
			logger.Warn("registry: skipping endpoint file", "path", result.path, "error", result.err)
			continue
		}
		lowerName := strings.ToLower(result.name)
		snap.endpoints[lowerName] = result.def
		if result.def.CompositeConfig != nil {
			snap.composites[lowerName] = *result.def.CompositeConfig
		}
	}

	if len(snap.endpoints) == 0 {
		seedSnapshot(snap)
	}

	return snap, nil
}

func parseEndpointFile(path string) parsedFile {
	name := filepath.Base(filepath.Dir(path))
	data, err := os.ReadFile(path)
	if err != nil {
		return parsedFile{path: path, name: name, err: fmt.Errorf("read: %w", err)}
	}

	var raw endpointFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return parsedFile{path: path, name: name, err: fmt.Errorf("parse json: %w", err)}
	}
	if strings.TrimSpace(raw.URL) == "" {
		return parsedFile{path: path, name: name, err: fmt.Errorf("empty Url field")}
	}
	if len(raw.Methods) == 0 {
		return parsedFile{path: path, name: name, err: fmt.Errorf("empty Methods field")}
	}

	methods := make(map[string]struct{}, len(raw.Methods))
	for _, m := range raw.Methods {
		trimmed := strings.ToUpper(strings.TrimSpace(m))
		if trimmed != "" {
			methods[trimmed] = struct{}{}
		}
	}

	kind := parseKind(raw.Type)
	def := EndpointDefinition{
		Name:      name,
		URL:       raw.URL,
		Methods:   methods,
		Kind:      kind,
		IsPrivate: raw.IsPrivate,
	}
	if kind == KindComposite {
		if raw.CompositeConfig == nil || len(raw.CompositeConfig.Steps) == 0 {
			return parsedFile{path: path, name: name, err: fmt.Errorf("composite endpoint missing steps")}
		}
		def.CompositeConfig = raw.CompositeConfig.toDefinition(name)
	} else if raw.CompositeConfig != nil {
		def.CompositeConfig = raw.CompositeConfig.toDefinition(name)
	}

	return parsedFile{path: path, name: name, def: def}
}

// seedSnapshot populates an empty registry with one standard and one
// composite sample definition, matching the bootstrap behavior operators
// rely on for a brand new deployment.
func seedSnapshot(snap *snapshot) {
	snap.endpoints["items"] = EndpointDefinition{
		Name:    "Items",
		URL:     "http://localhost:8020/items",
		Methods: map[string]struct{}{"GET": {}, "POST": {}},
		Kind:    KindStandard,
	}

	composite := &CompositeDefinition{
		Name:        "SampleWorkflow",
		Description: "Example composite calling Items twice.",
		Steps: []CompositeStep{
			{Name: "FetchItems", Endpoint: "Items", Method: "GET"},
			{Name: "CreateItem", Endpoint: "Items", Method: "POST", DependsOn: "FetchItems",
				TemplateTransformations: map[string]string{"TransactionKey": "$guid"}},
		},
	}
	snap.endpoints["sampleworkflow"] = EndpointDefinition{
		Name:            "SampleWorkflow",
		URL:             "http://localhost:8020/items",
		Methods:         map[string]struct{}{"POST": {}},
		Kind:            KindComposite,
		CompositeConfig: composite,
	}
	snap.composites["sampleworkflow"] = *composite
}
