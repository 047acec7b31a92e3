// Package model defines the model lifecycle and keeps the loaded predictors
// the servers dispatch to.
package model

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ekisa-team/beamline/internal/config"
	"github.com/ekisa-team/beamline/internal/predictor"
)

// Model is an artifact that can be fetched, loaded and run.
type Model interface {
	// Name is a filename-like identifier, e.g. FEFF-XANES-v230925.json.
	Name() string

	// Permalink is the URL of the canonical remote artifact.
	Permalink() string

	// Fetch retrieves the artifact from Permalink into local storage.
	Fetch(ctx context.Context) error

	// Load reads the local artifact into memory.
	Load(ctx context.Context) error

	// Info writes a human readable model card.
	Info(w io.Writer) error

	// Infer runs the core model stage.
	Infer(ctx context.Context, x any) (any, error)
}

// Featurizer is implemented by models with a featurization stage.
type Featurizer interface {
	Featurize(ctx context.Context, x any) (any, error)
}

// Postprocessor is implemented by models with a postprocessing stage.
type Postprocessor interface {
	Postprocess(ctx context.Context, x any) (any, error)
}

// Call runs featurize, infer and postprocess on x, in that order. Stages a
// model does not implement pass their input through.
func Call(ctx context.Context, m Model, x any) (any, error) {
	var err error

	if f, ok := m.(Featurizer); ok {
		if x, err = f.Featurize(ctx, x); err != nil {
			return nil, fmt.Errorf("featurize: %w", err)
		}
	}

	if x, err = m.Infer(ctx, x); err != nil {
		return nil, fmt.Errorf("infer: %w", err)
	}

	if p, ok := m.(Postprocessor); ok {
		if x, err = p.Postprocess(ctx, x); err != nil {
			return nil, fmt.Errorf("postprocess: %w", err)
		}
	}

	return x, nil
}

// Status is the current loading status of a model.
type Status string

const (
	// StatusUnloaded indicates that the model is not loaded.
	StatusUnloaded Status = "unloaded"

	// StatusLoading indicates that the model is being loaded.
	StatusLoading Status = "loading"

	// StatusLoaded indicates that the model is loaded.
	StatusLoaded Status = "loaded"

	// StatusFailed indicates that the model failed to load.
	StatusFailed Status = "failed"
)

// Instance is a configured model and its loading state.
type Instance struct {
	ID        string               `json:"id"`
	Selector  predictor.Selector   `json:"selector"`
	Absorber  string               `json:"absorber,omitempty"`
	Tags      []string             `json:"tags,omitempty"`
	Status    Status               `json:"status"`
	LoadedAt  *time.Time           `json:"loaded_at,omitempty"`
	Error     string               `json:"error,omitempty"`
	Predictor *predictor.Predictor `json:"-"`

	config config.ModelConfig

	mu       sync.Mutex
	inflight int
	retired  bool
	drained  chan struct{}
}

// NewInstance creates an unloaded instance.
func NewInstance(id string, sel predictor.Selector, cfg config.ModelConfig) *Instance {
	return &Instance{
		ID:       id,
		Selector: sel,
		Tags:     cfg.Tags,
		Status:   StatusUnloaded,
		config:   cfg,
	}
}

// SetStatus sets the status of the instance.
func (i *Instance) SetStatus(status Status) {
	i.Status = status
	if status == StatusLoaded {
		now := time.Now()
		i.LoadedAt = &now
	}
}

// SetError marks the instance failed with err.
func (i *Instance) SetError(err error) {
	i.Status = StatusFailed
	i.Error = err.Error()
}

// Ready reports whether the instance can serve predictions.
func (i *Instance) Ready() bool {
	return i.Status == StatusLoaded && i.Predictor != nil
}

// Acquire registers a call on the instance. The returned release must be
// called when the call is done. Acquire fails with ErrUnloaded once the
// instance has been retired.
func (i *Instance) Acquire() (release func(), err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.retired {
		return nil, fmt.Errorf("%w: %w: %s", ErrNotReady, ErrUnloaded, i.ID)
	}
	i.inflight++

	return sync.OnceFunc(i.release), nil
}

func (i *Instance) release() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.inflight--
	if i.retired && i.inflight == 0 {
		close(i.drained)
	}
}

// Retire refuses new calls and closes the predictor once the calls in
// flight have been released. The close error is sent on the returned
// channel. Retiring twice yields a closed channel.
func (i *Instance) Retire() <-chan error {
	done := make(chan error, 1)

	i.mu.Lock()
	if i.retired {
		i.mu.Unlock()
		close(done)
		return done
	}
	i.retired = true
	i.drained = make(chan struct{})
	pending := i.inflight
	if pending == 0 {
		close(i.drained)
	}
	drained := i.drained
	i.mu.Unlock()

	closePredictor := func() {
		var err error
		if i.Predictor != nil {
			err = i.Predictor.Close()
			slog.Info("Model unloaded successfully", "model_id", i.ID)
		}
		done <- err
		close(done)
	}

	if pending == 0 {
		closePredictor()
		return done
	}

	slog.Info("Waiting for in-flight calls before unloading model", "model_id", i.ID, "calls", pending)
	go func() {
		<-drained
		closePredictor()
	}()

	return done
}

// Ensure Predictor implements every pipeline stage at compile time
var (
	_ Model         = (*predictor.Predictor)(nil)
	_ Featurizer    = (*predictor.Predictor)(nil)
	_ Postprocessor = (*predictor.Predictor)(nil)
)
