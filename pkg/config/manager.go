package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/omnirelay/omnirelay/pkg/telemetry"
)

// Manager owns the active settings snapshot. Load replaces the snapshot and
// bumps its version; a failed load leaves the previous snapshot authoritative.
type Manager struct {
	path     string
	logger   *slog.Logger
	detector ChangeDetector

	mu        sync.RWMutex
	current   *Settings
	version   int
	callbacks []func(*Settings) error
}

type ManagerOption func(*Manager)

// WithDetector substitutes the change-detection strategy used by Watch.
// The default polls the file's modification time.
func WithDetector(d ChangeDetector) ManagerOption {
	return func(m *Manager) { m.detector = d }
}

func NewManager(path string, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{path: path, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Load reads and validates the configuration document. A missing file is not
// fatal: defaults are used with a warning. A malformed or invalid document
// fails the load and the prior snapshot is retained.
func (m *Manager) Load() (*Settings, error) {
	cfg, err := parse(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			m.logger.Warn("config file not found, using defaults", slog.String("path", m.path))
			cfg = Default()
		} else {
			return nil, err
		}
	}

	m.mu.Lock()
	m.current = cfg
	m.version++
	version := m.version
	m.mu.Unlock()

	m.logger.Info("config loaded", slog.String("path", m.path), slog.Int("version", version))
	return cfg, nil
}

// Reload re-runs Load and notifies every registered callback with the new
// snapshot. A callback error is logged and does not block the remaining
// callbacks.
func (m *Manager) Reload() (*Settings, error) {
	cfg, err := m.Load()
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	callbacks := make([]func(*Settings) error, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			m.logger.Error("config change callback failed", slog.String("err", err.Error()))
		}
	}
	return cfg, nil
}

// OnChange registers a callback invoked after every successful Reload
// (not after plain Load).
func (m *Manager) OnChange(cb func(*Settings) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Current returns the active snapshot. It never returns nil: before the first
// successful Load it returns the defaults.
func (m *Manager) Current() *Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return Default()
	}
	return m.current
}

// Version is the monotonically increasing snapshot version, incremented once
// per successful load, never reused.
func (m *Manager) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func (m *Manager) Path() string { return m.path }

// Watch periodically consults the change detector and reloads on change.
// A failed reload is logged and watching continues; the old snapshot stays
// authoritative. Returns when ctx is cancelled.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	detector := m.detector
	if detector == nil {
		detector = m.newDetector()
		defer detector.Close()
	}
	if err := detector.Commit(); err != nil {
		m.logger.Warn("config watch baseline", slog.String("err", err.Error()))
	}
	m.logger.Info("config watch started", slog.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("config watch stopped")
			return nil
		case <-ticker.C:
			changed, err := detector.Changed()
			if err != nil {
				m.logger.Warn("config change detection failed", slog.String("err", err.Error()))
				continue
			}
			if !changed {
				continue
			}
			m.logger.Info("config file changed, reloading")
			if _, err := m.Reload(); err != nil {
				telemetry.Metrics.ConfigReloads.WithLabelValues("error").Inc()
				m.logger.Error("config reload failed, keeping previous snapshot",
					slog.String("err", err.Error()))
				continue
			}
			telemetry.Metrics.ConfigReloads.WithLabelValues("ok").Inc()
			if err := detector.Commit(); err != nil {
				m.logger.Warn("config watch baseline", slog.String("err", err.Error()))
			}
		}
	}
}

// newDetector builds the change-detection strategy named by the active
// snapshot. Falls back to mtime polling when filesystem notifications are
// unavailable, such as when the config file does not exist yet.
func (m *Manager) newDetector() ChangeDetector {
	if m.Current().Server.WatchStrategy == WatchNotify {
		d, err := NewNotifyDetector(m.path)
		if err == nil {
			m.logger.Info("config watch using file notifications")
			return d
		}
		m.logger.Warn("file notification watch unavailable, polling instead",
			slog.String("err", err.Error()))
	}
	return NewPollDetector(m.path)
}

// Dump serializes the active snapshot back to TOML, principally so a loaded
// configuration can be round-tripped.
func (m *Manager) Dump() ([]byte, error) {
	buf, err := toml.Marshal(m.Current())
	if err != nil {
		return nil, fmt.Errorf("config: encoding snapshot: %w", err)
	}
	return buf, nil
}
