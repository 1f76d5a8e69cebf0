package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/omnirelay/omnirelay/pkg/config"
	"github.com/omnirelay/omnirelay/pkg/telemetry"
)

// Constructor builds an adapter instance from its platform configuration.
type Constructor func(cfg config.PlatformConfig) (Adapter, error)

// Registry holds adapter constructors by platform name and manages the live
// instances built from configuration. At most one instance per platform is
// live at a time.
type Registry struct {
	logger *slog.Logger

	mu           sync.RWMutex
	constructors map[string]Constructor
	live         map[string]Adapter
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:       logger,
		constructors: make(map[string]Constructor),
		live:         make(map[string]Adapter),
	}
}

// Register stores or overwrites the constructor for a platform name. Pure
// bookkeeping: an already-loaded instance is unaffected.
func (r *Registry) Register(name string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = ctor
}

// LoadAll constructs and initializes an adapter for every enabled platform in
// configs. One platform's failure (missing constructor, constructor error,
// failed Initialize) is logged and never prevents the others from loading.
// Returns the number of platforms successfully loaded.
func (r *Registry) LoadAll(ctx context.Context, configs map[string]config.PlatformConfig) int {
	names := make([]string, 0, len(configs))
	for name, cfg := range configs {
		if cfg.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		if err := r.load(ctx, name, configs[name]); err != nil {
			r.logger.Error("platform failed to load",
				slog.String("platform", name),
				slog.String("err", err.Error()))
			telemetry.Metrics.AdapterUp.WithLabelValues(name).Set(0)
			continue
		}
		loaded++
		telemetry.Metrics.AdapterUp.WithLabelValues(name).Set(1)
		r.logger.Info("platform loaded", slog.String("platform", name))
	}
	return loaded
}

func (r *Registry) load(ctx context.Context, name string, cfg config.PlatformConfig) error {
	r.mu.RLock()
	ctor, ok := r.constructors[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no constructor registered for platform %q", name)
	}

	inst, err := ctor(cfg)
	if err != nil {
		return &InitError{Platform: name, Err: err}
	}
	if err := inst.Initialize(ctx); err != nil {
		return &InitError{Platform: name, Err: err}
	}

	r.mu.Lock()
	r.live[name] = inst
	r.mu.Unlock()
	return nil
}

// Get returns the live adapter for a platform, or ErrNotLoaded.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.live[name]
	if !ok {
		return nil, fmt.Errorf("platform %q: %w", name, ErrNotLoaded)
	}
	return inst, nil
}

// UnloadAll shuts down every live instance. Per-instance shutdown errors are
// collected and logged without aborting the remaining shutdowns; the live set
// is cleared unconditionally afterward.
func (r *Registry) UnloadAll(ctx context.Context) error {
	r.mu.Lock()
	live := r.live
	r.live = make(map[string]Adapter)
	r.mu.Unlock()

	names := make([]string, 0, len(live))
	for name := range live {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := live[name].Shutdown(ctx); err != nil {
			r.logger.Error("platform shutdown failed",
				slog.String("platform", name),
				slog.String("err", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		telemetry.Metrics.AdapterUp.WithLabelValues(name).Set(0)
	}
	return errors.Join(errs...)
}

// Count is the size of the live set.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// Names lists the live platforms, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.live))
	for name := range r.live {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetMessageHandler installs the inbound handler on every live adapter.
func (r *Registry) SetMessageHandler(h Handler) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, inst := range r.live {
		inst.SetMessageHandler(h)
	}
}
