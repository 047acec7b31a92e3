package config

import (
	"errors"
)

// SourceType represents the type of model source.
type SourceType string

const (
	// SourceTypePermalink represents a permanent HTTP(S) location such as a Zenodo record.
	SourceTypePermalink SourceType = "permalink"

	// SourceTypeHuggingFace represents a Hugging Face model repository source.
	SourceTypeHuggingFace SourceType = "huggingface"
)

// ErrNoSource is returned when a model has no remote source configured.
var ErrNoSource = errors.New("no source configured for model")

// Config holds the main configuration for the application.
type Config struct {
	Version string                 `json:"version"           yaml:"version"`
	Storage StorageConfig          `json:"storage,omitempty" yaml:"storage,omitempty"`
	Models  map[string]ModelConfig `json:"models"            yaml:"models"`
	Server  ServerConfig           `json:"server,omitempty"  yaml:"server,omitempty"`
	Cache   CacheConfig            `json:"cache,omitempty"   yaml:"cache,omitempty"`
}

// StorageConfig holds the local directories models are read from.
type StorageConfig struct {
	HomeDir string `json:"home_dir,omitempty" yaml:"home_dir,omitempty"`
	ZooDir  string `json:"zoo_dir,omitempty"  yaml:"zoo_dir,omitempty"`
}

// ModelConfig selects one packaged predictor. Empty selector fields fall
// back to the predictor defaults. Format is the checkpoint extension fetched
// from the source ("json" or "onnx").
type ModelConfig struct {
	Source    SourceConfig `json:"source,omitempty"    yaml:"source,omitempty"`
	Theory    string       `json:"theory,omitempty"    yaml:"theory,omitempty"`
	XASType   string       `json:"xas_type,omitempty"  yaml:"xas_type,omitempty"`
	Version   string       `json:"version,omitempty"   yaml:"version,omitempty"`
	Directory string       `json:"directory,omitempty" yaml:"directory,omitempty"`
	Format    string       `json:"format,omitempty"    yaml:"format,omitempty"`
	Tags      []string     `json:"tags,omitempty"      yaml:"tags,omitempty"`
}

// SourceConfig wraps optional sources (only one should be set).
type SourceConfig struct {
	Permalink   *PermalinkSource   `json:"permalink,omitempty"   yaml:"permalink,omitempty"`
	HuggingFace *HuggingFaceSource `json:"huggingface,omitempty" yaml:"huggingface,omitempty"`
}

// ServerConfig holds listener ports.
type ServerConfig struct {
	HTTPPort int `json:"http_port,omitempty" yaml:"http_port,omitempty"`
	GRPCPort int `json:"grpc_port,omitempty" yaml:"grpc_port,omitempty"`
}

// CacheConfig sizes the prediction result cache. A negative size disables it.
type CacheConfig struct {
	Size int `json:"size,omitempty" yaml:"size,omitempty"`
}

// -------------------------
// Source definitions
// -------------------------

// ModelSource represents a source for a model.
type ModelSource interface {
	Type() SourceType
}

// PermalinkSource is a base URL under which the checkpoint and its
// metadata.yaml are published, e.g. https://zenodo.org/records/123/files.
type PermalinkSource struct {
	URL    string            `json:"url"              yaml:"url"`
	SHA256 map[string]string `json:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// Type returns the permalink source type.
func (p PermalinkSource) Type() SourceType {
	return SourceTypePermalink
}

// HuggingFaceSource represents a Hugging Face model repository source.
type HuggingFaceSource struct {
	Repo          string `json:"repo"                     yaml:"repo"`
	Revision      string `json:"revision,omitempty"       yaml:"revision,omitempty"`
	RepoType      string `json:"repo_type,omitempty"      yaml:"repo_type,omitempty"`
	Token         string `json:"token,omitempty"          yaml:"token,omitempty"`
	MaxWorkers    int    `json:"max_workers,omitempty"    yaml:"max_workers,omitempty"`
	ForceDownload bool   `json:"force_download,omitempty" yaml:"force_download,omitempty"`
}

// Type returns the Hugging Face source type.
func (h HuggingFaceSource) Type() SourceType {
	return SourceTypeHuggingFace
}

// GetSource returns the active source for the model.
func (m *ModelConfig) GetSource() (ModelSource, error) {
	if m.Source.Permalink != nil {
		return *m.Source.Permalink, nil
	}
	if m.Source.HuggingFace != nil {
		return *m.Source.HuggingFace, nil
	}

	return nil, ErrNoSource
}

// HasSource reports whether a remote source is configured.
func (m *ModelConfig) HasSource() bool {
	return m.Source.Permalink != nil || m.Source.HuggingFace != nil
}

// SetPermalinkSource sets the permalink source.
func (m *ModelConfig) SetPermalinkSource(source PermalinkSource) {
	m.Source.Permalink = &source
	m.Source.HuggingFace = nil
}

// SetHuggingFaceSource sets the Hugging Face source.
func (m *ModelConfig) SetHuggingFaceSource(source HuggingFaceSource) {
	m.Source.HuggingFace = &source
	m.Source.Permalink = nil
}
