package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"slices"
	"sync"

	"github.com/ekisa-team/beamline/internal/config"
	"github.com/ekisa-team/beamline/internal/engine"
	"github.com/ekisa-team/beamline/internal/envvar"
	"github.com/ekisa-team/beamline/internal/home"
	"github.com/ekisa-team/beamline/internal/predictor"
	"github.com/ekisa-team/beamline/internal/signature"
	"github.com/ekisa-team/beamline/internal/xfs"
)

// Manager orchestrates the lifecycle of the configured predictors.
type Manager struct {
	registry   *Registry
	loaders    *engine.Loaders
	signatures *signature.Registry
	mu         sync.RWMutex // Use RWMutex for better read concurrency
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLoaders sets the checkpoint loaders shared by every predictor.
func WithLoaders(l *engine.Loaders) ManagerOption {
	return func(m *Manager) {
		m.loaders = l
	}
}

// WithSignatures sets the registry featurizers and postprocessors are
// resolved in.
func WithSignatures(r *signature.Registry) ManagerOption {
	return func(m *Manager) {
		m.signatures = r
	}
}

// NewManager creates a Manager with an empty registry.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{registry: NewRegistry()}
	for _, opt := range opts {
		opt(m)
	}
	if m.loaders == nil {
		m.loaders = predictor.DefaultLoaders()
	}
	if m.signatures == nil {
		m.signatures = predictor.DefaultRegistry()
	}
	return m
}

// Registry returns the model registry.
func (m *Manager) Registry() *Registry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.registry
}

// LoadModelsFromConfig builds and loads one predictor per configured model,
// fetching missing checkpoints from the model source when one is
// configured. Instances whose configuration is unchanged are kept; dropped
// instances are closed. Models that fail to load stay in the registry marked
// failed and their errors are returned joined.
func (m *Manager) LoadModelsFromConfig(ctx context.Context, cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	homeDir := home.Resolve(cfg)
	if err := home.Ensure(homeDir); err != nil {
		return fmt.Errorf("failed to prepare home directory %s: %w", homeDir, err)
	}
	zoo := resolveZoo(cfg, homeDir)

	ids := make([]string, 0, len(cfg.Models))
	for id := range cfg.Models {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	previous := m.registry
	next := NewRegistry()
	kept := make(map[string]bool)

	var errs []error
	for _, id := range ids {
		modelConfig := cfg.Models[id]

		if old, ok := previous.Get(id); ok && old.Ready() && reflect.DeepEqual(old.config, modelConfig) {
			next.Set(old)
			kept[id] = true
			slog.Debug("Model unchanged, keeping loaded instance", "model_id", id)
			continue
		}

		instance := m.load(ctx, id, modelConfig, zoo, homeDir)
		if instance.Status == StatusFailed {
			errs = append(errs, fmt.Errorf("model %s: %s", id, instance.Error))
		}
		next.Set(instance)
	}

	m.registry = next

	// Replaced or dropped instances close once their in-flight calls finish.
	for _, instance := range previous.List() {
		if kept[instance.ID] {
			continue
		}
		done := instance.Retire()
		go func() {
			if err := <-done; err != nil {
				slog.Warn("Failed to close model", "model_id", instance.ID, "error", err)
			}
		}()
	}

	return errors.Join(errs...)
}

func (m *Manager) load(ctx context.Context, id string, modelConfig config.ModelConfig, zoo predictor.Zoo, homeDir string) *Instance {
	sel := predictor.Selector{
		Theory:    modelConfig.Theory,
		XASType:   modelConfig.XASType,
		Version:   modelConfig.Version,
		Directory: modelConfig.Directory,
	}.WithDefaults()
	instance := NewInstance(id, sel, modelConfig)

	opts := []predictor.Option{
		predictor.WithZoo(zoo),
		predictor.WithHomeDir(homeDir),
		predictor.WithLoaders(m.loaders),
		predictor.WithRegistry(m.signatures),
		predictor.WithFormat(modelConfig.Format),
	}
	if src, err := modelConfig.GetSource(); err == nil {
		opts = append(opts, predictor.WithSource(src))
	}

	p, err := predictor.New(sel, opts...)
	if err != nil {
		slog.Error("Invalid model selector", "model_id", id, "selector", sel.Key(), "error", err)
		instance.SetError(err)
		return instance
	}

	instance.SetStatus(StatusLoading)
	err = p.Load(ctx)
	if errors.Is(err, predictor.ErrCheckpointNotFound) && modelConfig.HasSource() {
		slog.Info("Checkpoint not in zoo, fetching", "model_id", id, "permalink", p.Permalink())
		if err = p.Fetch(ctx); err == nil {
			err = p.Load(ctx)
		}
	}
	if err != nil {
		slog.Error("Failed to load model", "model_id", id, "selector", sel.Key(), "error", err)
		instance.SetError(err)
		return instance
	}

	instance.Predictor = p
	instance.Absorber = p.Absorber()
	instance.SetStatus(StatusLoaded)

	slog.Info("Model loaded into registry", "model_id", id, "selector", sel.Key(), "absorber", instance.Absorber)
	return instance
}

// Close retires every instance, waits for in-flight calls and empties the
// registry.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, instance := range m.registry.List() {
		errs = append(errs, <-instance.Retire())
	}
	m.registry = NewRegistry()

	return errors.Join(errs...)
}

// resolveZoo returns the zoo roots, searched in order.
// Precedence:
// 1. BEAMLINE_ZOO_PATH environment variable.
// 2. ZooDir field in the config.
// 3. The fetch cache under the home directory.
func resolveZoo(cfg *config.Config, homeDir string) predictor.Zoo {
	var roots []string
	if p := os.Getenv(envvar.BeamlineZooPath); p != "" {
		roots = append(roots, xfs.ExpandTilde(p))
	}
	if cfg.Storage.ZooDir != "" {
		roots = append(roots, xfs.ExpandTilde(cfg.Storage.ZooDir))
	}
	roots = append(roots, home.ZooDir(homeDir))

	return predictor.Zoo{Roots: roots}
}
