// Package service implements the transport-independent XAS operations the
// HTTP and gRPC servers expose.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ekisa-team/beamline/internal/cache"
	"github.com/ekisa-team/beamline/internal/config"
	"github.com/ekisa-team/beamline/internal/metrics"
	"github.com/ekisa-team/beamline/internal/model"
	"github.com/ekisa-team/beamline/internal/predictor"
	"github.com/ekisa-team/beamline/internal/structure"
)

// PredictRequest selects a model, either by ID or by theory, absorber and
// optional version, and carries the structure to predict for.
type PredictRequest struct {
	ModelID   string
	Theory    string
	Absorber  string
	Version   string
	Structure *structure.Structure
	Average   bool
}

// PredictResponse is a site-resolved prediction.
type PredictResponse struct {
	ModelID  string
	Absorber string
	Energies []float64
	Sites    predictor.Result
	Average  *predictor.Array
	Cached   bool
}

// ModelInfo describes a configured model.
type ModelInfo struct {
	ID        string
	Name      string
	Selector  predictor.Selector
	Absorber  string
	Status    model.Status
	Permalink string
	Tags      []string
	LoadedAt  *time.Time
	Error     string
}

// XAS serves spectrum predictions from the managed models.
type XAS struct {
	models *model.Manager
	cache  *cache.Predictions
}

// NewXAS creates a new XAS service. c may be nil to disable caching.
func NewXAS(models *model.Manager, c *cache.Predictions) *XAS {
	return &XAS{
		models: models,
		cache:  c,
	}
}

// Reload applies cfg to the model manager and drops cached predictions.
func (s *XAS) Reload(ctx context.Context, cfg *config.Config) error {
	err := s.models.LoadModelsFromConfig(ctx, cfg)
	s.cache.Purge()

	ready := 0
	for _, instance := range s.models.Registry().List() {
		if instance.Ready() {
			ready++
		}
	}
	metrics.SetModelsLoaded(ready)

	return err
}

// Predict runs the selected model on the request structure.
func (s *XAS) Predict(ctx context.Context, req *PredictRequest) (*PredictResponse, error) {
	if req.Structure == nil {
		return nil, fmt.Errorf("%w: missing structure", ErrInvalidRequest)
	}
	if err := req.Structure.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	instance, release, err := s.acquire(req)
	if err != nil {
		return nil, err
	}
	defer release()

	resp := &PredictResponse{
		ModelID:  instance.ID,
		Absorber: instance.Absorber,
	}

	key := cache.Key(instance.ID, req.Structure.Fingerprint())
	if result, ok := s.cache.Get(key); ok {
		metrics.RecordCache(true)
		resp.Sites = result
		resp.Cached = true
	} else {
		if s.cache != nil {
			metrics.RecordCache(false)
		}

		start := time.Now()
		out, err := model.Call(ctx, instance.Predictor, req.Structure)
		metrics.RecordPrediction(instance.ID, err, time.Since(start).Seconds())
		if err != nil {
			slog.Error("Prediction failed", "model_id", instance.ID, "error", err)
			return nil, err
		}

		result, ok := out.(predictor.Result)
		if !ok {
			return nil, fmt.Errorf("model %s returned %T, want predictor.Result", instance.ID, out)
		}
		metrics.RecordAbsorberSites(len(result))
		s.cache.Add(key, result)
		resp.Sites = result
	}

	energies, err := instance.Predictor.Energies()
	switch {
	case err == nil:
		resp.Energies = energies
	case !errors.Is(err, predictor.ErrGridNotFound):
		return nil, err
	}

	if req.Average && len(resp.Sites) > 0 {
		avg, err := resp.Sites.Average()
		if err != nil {
			return nil, err
		}
		resp.Average = &avg
	}

	return resp, nil
}

// acquire resolves the model and holds it for the duration of a call, so a
// reload cannot close it underneath. An instance retired between lookup and
// acquisition is looked up again in the new registry.
func (s *XAS) acquire(req *PredictRequest) (*model.Instance, func(), error) {
	for attempt := 0; ; attempt++ {
		instance, err := s.resolve(req)
		if err != nil {
			return nil, nil, err
		}

		release, err := instance.Acquire()
		if err == nil {
			return instance, release, nil
		}
		if !errors.Is(err, model.ErrUnloaded) || attempt > 0 {
			return nil, nil, err
		}
		slog.Debug("Model unloaded during lookup, retrying", "model_id", instance.ID)
	}
}

func (s *XAS) resolve(req *PredictRequest) (*model.Instance, error) {
	registry := s.models.Registry()
	if req.ModelID != "" {
		return registry.Resolve(req.ModelID)
	}

	if req.Absorber == "" {
		return nil, fmt.Errorf("%w: either a model id or an absorber is required", ErrInvalidRequest)
	}
	theory := req.Theory
	if theory == "" {
		theory = predictor.TheoryFEFF
	}

	return registry.Find(theory, req.Absorber, req.Version)
}

// Models lists every configured model.
func (s *XAS) Models() []ModelInfo {
	instances := s.models.Registry().List()

	infos := make([]ModelInfo, 0, len(instances))
	for _, instance := range instances {
		info := ModelInfo{
			ID:       instance.ID,
			Selector: instance.Selector,
			Absorber: instance.Absorber,
			Status:   instance.Status,
			Tags:     instance.Tags,
			LoadedAt: instance.LoadedAt,
			Error:    instance.Error,
			Name:     instance.Selector.Signature(),
		}
		if instance.Predictor != nil {
			info.Name = instance.Predictor.Name()
			info.Permalink = instance.Predictor.Permalink()
		}
		infos = append(infos, info)
	}

	return infos
}

// Info writes the model card of a loaded model.
func (s *XAS) Info(id string, w io.Writer) error {
	instance, release, err := s.acquire(&PredictRequest{ModelID: id})
	if err != nil {
		return err
	}
	defer release()

	return instance.Predictor.Info(w)
}

// Grid returns the energy axis for theory and element.
func (s *XAS) Grid(theory, element string) ([]float64, error) {
	return predictor.Grid(theory, element)
}
