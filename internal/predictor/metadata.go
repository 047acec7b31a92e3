package predictor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/ekisa-team/beamline/internal/engine"
	"github.com/ekisa-team/beamline/internal/structure"
)

const (
	defaultFeaturizer    = "featurizer:radial"
	defaultPostprocessor = "postprocess:identity"
)

// Metadata is the model card stored next to the checkpoints.
type Metadata struct {
	Absorber      string   `yaml:"absorber"`
	Description   string   `yaml:"description,omitempty"`
	Authors       []string `yaml:"authors,omitempty"`
	Created       string   `yaml:"created,omitempty"`
	TrainingSet   string   `yaml:"training_set,omitempty"`
	Permalink     string   `yaml:"permalink,omitempty"`
	Featurizer    string   `yaml:"featurizer,omitempty"`
	Postprocessor string   `yaml:"postprocessor,omitempty"`
	InputName     string   `yaml:"input_name,omitempty"`
	OutputName    string   `yaml:"output_name,omitempty"`
	OutputDim     int      `yaml:"output_dim,omitempty"`
}

// LoadMetadata reads and validates the metadata document at path.
func LoadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMetadataNotFound, path)
		}
		return nil, fmt.Errorf("predictor: failed to read metadata: %w", err)
	}

	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidMetadata, path, err)
	}

	if err := meta.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &meta, nil
}

func (m *Metadata) validate() error {
	if m.Absorber == "" {
		return fmt.Errorf("%w: missing absorber", ErrInvalidMetadata)
	}
	if !structure.IsElement(m.Absorber) {
		return fmt.Errorf("%w: absorber %q is not an element symbol", ErrInvalidMetadata, m.Absorber)
	}
	if m.OutputDim < 0 {
		return fmt.Errorf("%w: negative output_dim %d", ErrInvalidMetadata, m.OutputDim)
	}

	if m.Featurizer == "" {
		m.Featurizer = defaultFeaturizer
	}
	if m.Postprocessor == "" {
		m.Postprocessor = defaultPostprocessor
	}

	return nil
}

// EngineOptions returns the engine settings declared by the metadata.
func (m *Metadata) EngineOptions() engine.Options {
	return engine.Options{
		InputName:  m.InputName,
		OutputName: m.OutputName,
		OutputDim:  m.OutputDim,
	}
}
