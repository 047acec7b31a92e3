// Package predictor builds XAS spectrum predictors from packaged model zoo
// checkpoints.
package predictor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/ekisa-team/beamline/internal/config"
	"github.com/ekisa-team/beamline/internal/config/source"
	"github.com/ekisa-team/beamline/internal/engine"
	"github.com/ekisa-team/beamline/internal/engine/dense"
	"github.com/ekisa-team/beamline/internal/engine/onnx"
	"github.com/ekisa-team/beamline/internal/featurizer"
	"github.com/ekisa-team/beamline/internal/home"
	"github.com/ekisa-team/beamline/internal/signature"
	"github.com/ekisa-team/beamline/internal/structure"
)

// PredictFunc maps a structure to per-site spectra for the absorbing element.
type PredictFunc func(ctx context.Context, s *structure.Structure, opts ...PredictOption) (Result, error)

// PredictOption tunes a single prediction.
type PredictOption func(*predictConfig)

type predictConfig struct {
	siteResolved bool
}

// SiteResolved requests site-resolved output. Every prediction is already
// keyed by site, so the flag is accepted for compatibility and otherwise
// has no effect.
func SiteResolved(v bool) PredictOption {
	return func(c *predictConfig) {
		c.siteResolved = v
	}
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithZoo sets the zoo roots checkpoints are resolved against.
func WithZoo(z Zoo) Option {
	return func(p *Predictor) {
		p.zoo = z
		p.zooSet = true
	}
}

// WithLoaders sets the checkpoint loaders. Defaults to DefaultLoaders.
func WithLoaders(l *engine.Loaders) Option {
	return func(p *Predictor) {
		p.loaders = l
	}
}

// WithRegistry sets the registry featurizer and postprocessor signatures are
// resolved in. Defaults to DefaultRegistry.
func WithRegistry(r *signature.Registry) Option {
	return func(p *Predictor) {
		p.registry = r
	}
}

// WithSource sets the remote location Fetch downloads from.
func WithSource(src config.ModelSource) Option {
	return func(p *Predictor) {
		p.src = src
	}
}

// WithDownloader overrides the downloader chosen for the source type.
func WithDownloader(d source.Downloader) Option {
	return func(p *Predictor) {
		p.downloader = d
	}
}

// WithHomeDir sets the home directory fetched checkpoints are stored under.
func WithHomeDir(dir string) Option {
	return func(p *Predictor) {
		p.homeDir = dir
	}
}

// WithFormat sets the checkpoint extension Fetch downloads, "onnx" or
// ".onnx" alike. Empty keeps the dense JSON default.
func WithFormat(ext string) Option {
	return func(p *Predictor) {
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p.format = strings.ToLower(ext)
	}
}

// DefaultLoaders returns loaders for every built-in checkpoint format.
func DefaultLoaders() *engine.Loaders {
	l := engine.NewLoaders()
	dense.Register(l)
	onnx.Register(l)
	return l
}

// Predictor is a packaged model: a selector, the checkpoints it resolves to
// and the metadata describing them. It is safe for concurrent use once
// loaded.
type Predictor struct {
	sel        Selector
	zoo        Zoo
	zooSet     bool
	loaders    *engine.Loaders
	registry   *signature.Registry
	src        config.ModelSource
	downloader source.Downloader
	homeDir    string
	format     string

	mu          sync.RWMutex
	resolved    Resolved
	meta        *Metadata
	featurizer  featurizer.Featurizer
	postprocess PostprocessFunc
	engines     []engine.Engine
}

// New validates sel and returns an unloaded predictor. It does no I/O.
func New(sel Selector, opts ...Option) (*Predictor, error) {
	if err := sel.Validate(); err != nil {
		return nil, err
	}

	p := &Predictor{sel: sel, format: dense.Ext}
	for _, opt := range opts {
		opt(p)
	}

	if p.homeDir == "" {
		p.homeDir = home.Dir()
	}
	if !p.zooSet {
		p.zoo = DefaultZoo()
		p.zoo.Roots[len(p.zoo.Roots)-1] = home.ZooDir(p.homeDir)
	}
	if p.loaders == nil {
		p.loaders = DefaultLoaders()
	}
	if p.registry == nil {
		p.registry = DefaultRegistry()
	}
	if !p.loaders.Supports(sel.Signature() + p.format) {
		return nil, fmt.Errorf("%w: checkpoint format %q (supported %v)", ErrNotSupported, p.format, p.loaders.Extensions())
	}

	return p, nil
}

// Build validates sel, loads its checkpoints and metadata and returns the
// prediction closure. Nothing stays open when it fails.
func Build(ctx context.Context, sel Selector, opts ...Option) (PredictFunc, error) {
	p, err := New(sel, opts...)
	if err != nil {
		return nil, err
	}
	if err := p.Load(ctx); err != nil {
		return nil, err
	}

	return p.Predict, nil
}

// Selector returns the selector the predictor was built for.
func (p *Predictor) Selector() Selector {
	return p.sel
}

// Name is the checkpoint file name. Before loading it is derived from the
// selector and the configured format.
func (p *Predictor) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.resolved.Checkpoints) == 1 {
		return filepath.Base(p.resolved.Checkpoints[0])
	}
	return p.sel.Signature() + p.format
}

// Permalink is the URL the checkpoint is published at, or "" when neither a
// source nor the metadata names one.
func (p *Predictor) Permalink() string {
	name := p.Name()

	switch src := p.src.(type) {
	case config.PermalinkSource:
		u, err := source.FileURL(src.URL, name)
		if err == nil {
			return u
		}
	case config.HuggingFaceSource:
		rev := src.Revision
		if rev == "" {
			rev = "main"
		}
		return fmt.Sprintf("https://huggingface.co/%s/resolve/%s/%s/%s", strings.TrimSpace(src.Repo), rev, p.sel.Directory, name)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.meta != nil {
		return p.meta.Permalink
	}
	return ""
}

// Fetch downloads the checkpoint and its metadata into the home zoo.
func (p *Predictor) Fetch(ctx context.Context) error {
	if p.sel.IsEnsemble() {
		return fmt.Errorf("%w: %s", ErrEnsembleFetch, p.sel.Key())
	}
	if p.src == nil {
		return fmt.Errorf("%w: %s", ErrNoPermalink, p.sel.Key())
	}

	d := p.downloader
	if d == nil {
		var err error
		if d, err = source.GetDownloader(ctx, p.src.Type()); err != nil {
			return err
		}
	}

	zooDir := home.ZooDir(p.homeDir)
	name := p.sel.Signature() + p.format

	// Hugging Face repositories mirror the zoo layout; a permalink serves a
	// single directory.
	files := []string{name, MetadataFile}
	target := filepath.Join(zooDir, p.sel.Directory)
	if p.src.Type() == config.SourceTypeHuggingFace {
		files = []string{p.sel.Directory + "/" + name, p.sel.Directory + "/" + MetadataFile}
		target = zooDir
	}

	slog.Info("Fetching model", "selector", p.sel.Key(), "source", p.src.Type(), "target", target)
	if err := d.Download(ctx, p.src, files, target); err != nil {
		return fmt.Errorf("predictor: failed to fetch %s: %w", p.sel.Key(), err)
	}

	return nil
}

// Load resolves the checkpoints, reads the metadata and opens an engine per
// checkpoint. A failed load leaves the predictor as it was.
func (p *Predictor) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := p.zoo.Resolve(p.sel, p.loaders)
	if err != nil {
		return err
	}

	meta, err := LoadMetadata(res.MetadataPath())
	if err != nil {
		return err
	}

	feat, err := signature.ResolveAs[featurizer.Featurizer](p.registry, meta.Featurizer)
	if err != nil {
		return fmt.Errorf("predictor: featurizer: %w", err)
	}
	post, err := signature.ResolveAs[PostprocessFunc](p.registry, meta.Postprocessor)
	if err != nil {
		return fmt.Errorf("predictor: postprocessor: %w", err)
	}

	engines := make([]engine.Engine, 0, len(res.Checkpoints))
	for _, path := range res.Checkpoints {
		e, err := p.loaders.Load(path, meta.EngineOptions())
		if err != nil {
			if cerr := engine.CloseAll(engines); cerr != nil {
				slog.Warn("Failed to close engines after load error", "selector", p.sel.Key(), "error", cerr)
			}
			return err
		}
		engines = append(engines, e)
	}

	p.mu.Lock()
	old := p.engines
	p.resolved = res
	p.meta = meta
	p.featurizer = feat
	p.postprocess = post
	p.engines = engines
	p.mu.Unlock()

	if err := engine.CloseAll(old); err != nil {
		slog.Warn("Failed to close replaced engines", "selector", p.sel.Key(), "error", err)
	}

	slog.Info("Predictor loaded", "selector", p.sel.Key(), "absorber", meta.Absorber, "checkpoints", len(engines))
	return nil
}

// Loaded reports whether Load has succeeded.
func (p *Predictor) Loaded() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.engines) > 0
}

// Absorber is the element the model predicts spectra for, or "" before
// loading.
func (p *Predictor) Absorber() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.meta == nil {
		return ""
	}
	return p.meta.Absorber
}

// Metadata returns a copy of the loaded metadata.
func (p *Predictor) Metadata() (Metadata, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.meta == nil {
		return Metadata{}, false
	}
	return *p.meta, true
}

// Checkpoints lists the loaded checkpoint paths.
func (p *Predictor) Checkpoints() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return append([]string(nil), p.resolved.Checkpoints...)
}

// Energies is the energy grid the predicted spectra are sampled on.
func (p *Predictor) Energies() ([]float64, error) {
	absorber := p.Absorber()
	if absorber == "" {
		return nil, ErrNotLoaded
	}
	return Grid(p.sel.Theory, absorber)
}

// Info writes a human readable model card to w.
func (p *Predictor) Info(w io.Writer) error {
	meta, loaded := p.Metadata()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name:\t%s\n", p.Name())
	fmt.Fprintf(tw, "Theory:\t%s\n", p.sel.Theory)
	fmt.Fprintf(tw, "XAS type:\t%s\n", p.sel.XASType)
	fmt.Fprintf(tw, "Version:\t%s\n", p.sel.Version)
	fmt.Fprintf(tw, "Directory:\t%s\n", p.sel.Directory)

	if !loaded {
		fmt.Fprintf(tw, "Status:\tnot loaded\n")
		return tw.Flush()
	}

	fmt.Fprintf(tw, "Absorber:\t%s\n", meta.Absorber)
	if meta.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", meta.Description)
	}
	if len(meta.Authors) > 0 {
		fmt.Fprintf(tw, "Authors:\t%s\n", strings.Join(meta.Authors, ", "))
	}
	if meta.Created != "" {
		fmt.Fprintf(tw, "Created:\t%s\n", meta.Created)
	}
	if meta.TrainingSet != "" {
		fmt.Fprintf(tw, "Training set:\t%s\n", meta.TrainingSet)
	}
	fmt.Fprintf(tw, "Featurizer:\t%s\n", meta.Featurizer)
	fmt.Fprintf(tw, "Postprocessor:\t%s\n", meta.Postprocessor)
	for i, c := range p.Checkpoints() {
		fmt.Fprintf(tw, "Checkpoint %d:\t%s\n", i, c)
	}
	if link := p.Permalink(); link != "" {
		fmt.Fprintf(tw, "Permalink:\t%s\n", link)
	}
	if g, ok := Grids[p.sel.Theory][meta.Absorber]; ok {
		fmt.Fprintf(tw, "Energy grid:\t%g to %g eV, %d points\n", g.Start, g.Stop, g.Points)
	}

	return tw.Flush()
}

// FeatureSet is the featurized structure, one row per site.
type FeatureSet struct {
	Structure *structure.Structure
	Rows      [][]float32
}

// Output is the raw model output for the absorbing sites, shaped
// site x ensemble x output.
type Output struct {
	Indexes []int
	Values  Array
}

// FeaturizeStructure featurizes every site of s.
func (p *Predictor) FeaturizeStructure(ctx context.Context, s *structure.Structure) (*FeatureSet, error) {
	p.mu.RLock()
	feat := p.featurizer
	p.mu.RUnlock()

	if feat == nil {
		return nil, ErrNotLoaded
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	rows, err := feat.Featurize(ctx, s)
	if err != nil {
		return nil, err
	}
	if len(rows) != s.Len() {
		return nil, fmt.Errorf("%w: featurizer returned %d rows for %d sites", ErrShapeMismatch, len(rows), s.Len())
	}

	return &FeatureSet{Structure: s, Rows: rows}, nil
}

// InferFeatures runs every engine on the rows of the absorbing sites.
func (p *Predictor) InferFeatures(ctx context.Context, fs *FeatureSet) (*Output, error) {
	p.mu.RLock()
	engines := p.engines
	absorber := ""
	if p.meta != nil {
		absorber = p.meta.Absorber
	}
	p.mu.RUnlock()

	if len(engines) == 0 {
		return nil, ErrNotLoaded
	}

	indexes := fs.Structure.IndexesOf(absorber)
	if len(indexes) == 0 {
		return &Output{Indexes: []int{}, Values: Array{Shape: []int{0, len(engines), 0}}}, nil
	}

	rows := make([][]float32, len(indexes))
	for i, idx := range indexes {
		rows[i] = fs.Rows[idx]
	}

	outs := make([][][]float32, len(engines))
	width := -1
	for e, eng := range engines {
		out, err := eng.Run(ctx, rows)
		if err != nil {
			return nil, err
		}
		if len(out) != len(rows) {
			return nil, fmt.Errorf("%w: engine %d returned %d rows for %d sites", ErrShapeMismatch, e, len(out), len(rows))
		}
		for _, row := range out {
			if width == -1 {
				width = len(row)
			}
			if len(row) != width {
				return nil, fmt.Errorf("%w: engine %d output width %d, want %d", ErrShapeMismatch, e, len(row), width)
			}
		}
		outs[e] = out
	}

	// Stack with the ensemble axis after the site axis.
	data := make([]float64, 0, len(indexes)*len(engines)*width)
	for s := range indexes {
		for e := range engines {
			for _, v := range outs[e][s] {
				data = append(data, float64(v))
			}
		}
	}

	return &Output{
		Indexes: indexes,
		Values:  NewArray([]int{len(indexes), len(engines), width}, data),
	}, nil
}

// PostprocessOutput splits out by site, squeezes each prediction and
// applies the postprocessor.
func (p *Predictor) PostprocessOutput(out *Output) (Result, error) {
	p.mu.RLock()
	post := p.postprocess
	p.mu.RUnlock()

	if post == nil {
		return nil, ErrNotLoaded
	}

	result := make(Result, len(out.Indexes))
	if len(out.Indexes) == 0 {
		return result, nil
	}

	block := out.Values.Size() / len(out.Indexes)
	for i, idx := range out.Indexes {
		site := Array{
			Shape: append([]int(nil), out.Values.Shape[1:]...),
			Data:  append([]float64(nil), out.Values.Data[i*block:(i+1)*block]...),
		}

		a, err := post(site.Squeeze())
		if err != nil {
			return nil, fmt.Errorf("predictor: postprocess site %d: %w", idx, err)
		}
		result[idx] = a
	}

	return result, nil
}

// Predict runs the full pipeline on s. A structure without the absorbing
// element yields an empty result.
func (p *Predictor) Predict(ctx context.Context, s *structure.Structure, opts ...PredictOption) (Result, error) {
	var cfg predictConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.siteResolved {
		slog.Debug("site_resolved has no effect, predictions are always per site", "selector", p.sel.Key())
	}

	fs, err := p.FeaturizeStructure(ctx, s)
	if err != nil {
		return nil, err
	}
	out, err := p.InferFeatures(ctx, fs)
	if err != nil {
		return nil, err
	}
	return p.PostprocessOutput(out)
}

// Featurize accepts a *structure.Structure and returns a *FeatureSet.
func (p *Predictor) Featurize(ctx context.Context, x any) (any, error) {
	s, ok := x.(*structure.Structure)
	if !ok {
		return nil, fmt.Errorf("%w: featurize wants *structure.Structure, got %T", ErrUnexpectedInput, x)
	}
	return p.FeaturizeStructure(ctx, s)
}

// Infer accepts a *FeatureSet and returns an *Output.
func (p *Predictor) Infer(ctx context.Context, x any) (any, error) {
	fs, ok := x.(*FeatureSet)
	if !ok {
		return nil, fmt.Errorf("%w: infer wants *FeatureSet, got %T", ErrUnexpectedInput, x)
	}
	return p.InferFeatures(ctx, fs)
}

// Postprocess accepts an *Output and returns a Result.
func (p *Predictor) Postprocess(_ context.Context, x any) (any, error) {
	out, ok := x.(*Output)
	if !ok {
		return nil, fmt.Errorf("%w: postprocess wants *Output, got %T", ErrUnexpectedInput, x)
	}
	return p.PostprocessOutput(out)
}

// Close releases the engines. The predictor can be loaded again.
func (p *Predictor) Close() error {
	p.mu.Lock()
	engines := p.engines
	p.engines = nil
	p.resolved = Resolved{}
	p.meta = nil
	p.featurizer = nil
	p.postprocess = nil
	p.mu.Unlock()

	if err := engine.CloseAll(engines); err != nil {
		return fmt.Errorf("predictor: close %s: %w", p.sel.Key(), err)
	}
	return nil
}
