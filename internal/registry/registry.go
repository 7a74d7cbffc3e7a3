package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"gatewayproxy/internal/observability/metrics"
)

// Registry holds an atomically-swappable, immutable snapshot of endpoint
// and composite definitions loaded from a directory tree.
type Registry struct {
	root     string
	logger   *slog.Logger
	recorder *metrics.Recorder

	current atomic.Pointer[snapshot]
	group   singleflight.Group
}

// New constructs a Registry rooted at root and performs an initial
// synchronous load.
func New(ctx context.Context, root string, logger *slog.Logger, recorder *metrics.Recorder) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.Default()
	}
	r := &Registry{root: root, logger: logger, recorder: recorder}
	snap, err := loadFromDirectory(ctx, root, logger)
	if err != nil {
		recorder.RegistryReloadFailed()
		return nil, err
	}
	r.current.Store(snap)
	recorder.RegistryReloaded()
	return r, nil
}

// Get performs a case-insensitive lookup of an endpoint by name.
func (r *Registry) Get(name string) (EndpointDefinition, bool) {
	snap := r.current.Load()
	if snap == nil {
		return EndpointDefinition{}, false
	}
	def, ok := snap.endpoints[strings.ToLower(name)]
	return def, ok
}

// ListComposites returns every definition whose Kind is Composite or which
// carries a non-nil CompositeConfig.
func (r *Registry) ListComposites() []CompositeDefinition {
	snap := r.current.Load()
	if snap == nil {
		return nil
	}
	composites := make([]CompositeDefinition, 0, len(snap.composites))
	for _, def := range snap.composites {
		composites = append(composites, def)
	}
	return composites
}

// GetComposite performs a case-insensitive lookup of a composite definition
// by name.
func (r *Registry) GetComposite(name string) (CompositeDefinition, bool) {
	snap := r.current.Load()
	if snap == nil {
		return CompositeDefinition{}, false
	}
	def, ok := snap.composites[strings.ToLower(name)]
	return def, ok
}

// Reload re-scans the registry root and atomically swaps in the new
// snapshot. Concurrent callers share a single in-flight scan via
// singleflight.
func (r *Registry) Reload(ctx context.Context) error {
	_, err, _ := r.group.Do("reload", func() (interface{}, error) {
		snap, loadErr := loadFromDirectory(ctx, r.root, r.logger)
		if loadErr != nil {
			r.recorder.RegistryReloadFailed()
			return nil, loadErr
		}
		r.current.Store(snap)
		r.recorder.RegistryReloaded()
		return nil, nil
	})
	return err
}
