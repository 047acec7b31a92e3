package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"strconv"
	"sync"
	"syscall"

	"github.com/ekisa-team/beamline/internal/cache"
	"github.com/ekisa-team/beamline/internal/config"
	"github.com/ekisa-team/beamline/internal/engine/onnx"
	"github.com/ekisa-team/beamline/internal/env"
	"github.com/ekisa-team/beamline/internal/envvar"
	"github.com/ekisa-team/beamline/internal/home"
	"github.com/ekisa-team/beamline/internal/logger"
	"github.com/ekisa-team/beamline/internal/model"
	"github.com/ekisa-team/beamline/internal/plotting"
	"github.com/ekisa-team/beamline/internal/predictor"
	grpcserver "github.com/ekisa-team/beamline/internal/server/grpc"
	httpserver "github.com/ekisa-team/beamline/internal/server/http"
	"github.com/ekisa-team/beamline/internal/service"
	"github.com/ekisa-team/beamline/internal/structure"
)

var version = "dev"

const usage = `Usage: beamline <command> [flags]

Commands:
  serve      serve predictions over HTTP and gRPC
  predict    predict site-resolved spectra for a structure file
  fetch      download a model into the home zoo
  info       print a model card
  grid       print the energy grid for a theory and element
  plotstyle  write the publication matplotlibrc fragment
  home       print (and optionally create) the home directory

Run "beamline <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	environment := env.FromEnv()
	slog.SetDefault(logger.New(environment))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx, environment, args)
	case "predict":
		err = runPredict(ctx, args, os.Stdout)
	case "fetch":
		err = runFetch(ctx, args)
	case "info":
		err = runInfo(ctx, args, os.Stdout)
	case "grid":
		err = runGrid(args, os.Stdout)
	case "plotstyle":
		err = runPlotStyle(args, os.Stdout)
	case "home":
		err = runHome(args, os.Stdout)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("Command failed", "command", cmd, "error", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, environment env.Environment, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	var (
		flagHTTPPort   = fs.Int("http-port", 0, "HTTP port to listen on (overrides config)")
		flagGRPCPort   = fs.Int("grpc-port", 0, "GRPC port to listen on (overrides config)")
		flagConfigPath = fs.String("config", path.Join(config.DefaultConfigPath(), "config.yaml"), "Path to config file")
		flagSchemaPath = fs.String("schema", "", "Path to schema file (defaults to the embedded schema)")
		flagLogFile    = fs.String("log-file", "logs/beamline.log", "Rotated log file, empty to disable")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *flagLogFile != "" {
		slog.SetDefault(logger.New(environment,
			logger.WithLogToFile(true),
			logger.WithLogFile(*flagLogFile),
		))
	}

	manager := model.NewManager()
	defer func() {
		if err := manager.Close(); err != nil {
			slog.Warn("Failed to close models", "error", err)
		}
		shutdownRuntime()
	}()

	var svc *service.XAS
	var svcMu sync.Mutex

	watcher, err := config.NewWatcher(*flagConfigPath, *flagSchemaPath, func(cfg *config.Config, err error) {
		if err != nil {
			slog.Error("Failed to reload config", "error", err)
			return
		}

		svcMu.Lock()
		defer svcMu.Unlock()
		if svc == nil {
			return
		}
		if err := svc.Reload(ctx, cfg); err != nil {
			slog.Error("Failed to load models from config", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	cfg := watcher.Snapshot()
	slog.Info("Config loaded successfully", "config", *flagConfigPath, "schema", *flagSchemaPath)

	results, err := cache.New(cfg.Cache.Size)
	if err != nil {
		return err
	}

	svcMu.Lock()
	svc = service.NewXAS(manager, results)
	if err := svc.Reload(ctx, cfg); err != nil {
		// Failed models are reported by /models; keep serving the rest.
		slog.Error("Failed to load models from config", "error", err)
	}
	svcMu.Unlock()

	httpPort := pickPort(*flagHTTPPort, envvar.BeamlineServerHTTPPort, cfg.Server.HTTPPort)
	grpcPort := pickPort(*flagGRPCPort, envvar.BeamlineServerGRPCPort, cfg.Server.GRPCPort)

	httpSrv := httpserver.NewServer(fmt.Sprintf(":%d", httpPort), version, svc)
	grpcSrv := grpcserver.NewServer(fmt.Sprintf(":%d", grpcPort), svc)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, serve := range []func(context.Context) error{httpSrv.ListenAndServe, grpcSrv.ListenAndServe} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errs[i] = serve(ctx); errs[i] != nil {
				// One listener failing takes the other down.
				cancel()
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// shutdownRuntime tears down the ONNX runtime once every session is closed.
func shutdownRuntime() {
	if err := onnx.Shutdown(); err != nil {
		slog.Warn("Failed to shut down ONNX runtime", "error", err)
	}
}

// closePredictor releases p and the runtime behind it.
func closePredictor(p *predictor.Predictor) {
	if err := p.Close(); err != nil {
		slog.Warn("Failed to close model", "name", p.Name(), "error", err)
	}
	shutdownRuntime()
}

// pickPort prefers the flag, then the environment, then the config.
func pickPort(flagValue int, envKey string, configValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	if raw := os.Getenv(envKey); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil && p > 0 {
			return p
		}
		slog.Warn("Ignoring invalid port", "env", envKey, "value", raw)
	}
	return configValue
}

// modelFlags registers the selector and source flags shared by the model
// commands.
type modelFlags struct {
	theory     *string
	xasType    *string
	version    *string
	directory  *string
	format     *string
	zoo        *string
	permalink  *string
	hfRepo     *string
	hfRevision *string
}

func newModelFlags(fs *flag.FlagSet) *modelFlags {
	d := predictor.DefaultSelector()
	return &modelFlags{
		theory:     fs.String("theory", d.Theory, "Level of theory"),
		xasType:    fs.String("xas-type", d.XASType, "XANES or EXAFS"),
		version:    fs.String("version", d.Version, "Model version; a glob selects an ensemble"),
		directory:  fs.String("directory", d.Directory, "Zoo subdirectory naming the training chemistry"),
		format:     fs.String("format", "json", "Checkpoint format to fetch (json or onnx)"),
		zoo:        fs.String("zoo", "", "Packaged zoo root searched before the home zoo"),
		permalink:  fs.String("permalink", "", "Base URL the checkpoint is published under"),
		hfRepo:     fs.String("hf-repo", "", "Hugging Face repository mirroring the zoo"),
		hfRevision: fs.String("hf-revision", "", "Hugging Face revision"),
	}
}

func (f *modelFlags) selector() predictor.Selector {
	return predictor.Selector{
		Theory:    *f.theory,
		XASType:   *f.xasType,
		Version:   *f.version,
		Directory: *f.directory,
	}
}

func (f *modelFlags) options() []predictor.Option {
	opts := []predictor.Option{predictor.WithFormat(*f.format)}

	if *f.zoo != "" {
		z := predictor.DefaultZoo()
		z.Roots = append([]string{*f.zoo}, z.Roots...)
		opts = append(opts, predictor.WithZoo(z))
	}

	switch {
	case *f.permalink != "":
		opts = append(opts, predictor.WithSource(config.PermalinkSource{URL: *f.permalink}))
	case *f.hfRepo != "":
		opts = append(opts, predictor.WithSource(config.HuggingFaceSource{Repo: *f.hfRepo, Revision: *f.hfRevision}))
	}

	return opts
}

func (f *modelFlags) hasSource() bool {
	return *f.permalink != "" || *f.hfRepo != ""
}

// load builds and loads the predictor, fetching it first when it is missing
// and a source was given.
func (f *modelFlags) load(ctx context.Context) (*predictor.Predictor, error) {
	p, err := predictor.New(f.selector(), f.options()...)
	if err != nil {
		return nil, err
	}

	err = p.Load(ctx)
	if errors.Is(err, predictor.ErrCheckpointNotFound) && f.hasSource() {
		if err = p.Fetch(ctx); err == nil {
			err = p.Load(ctx)
		}
	}
	if err != nil {
		return nil, err
	}

	return p, nil
}

type sitePrediction struct {
	Index    int             `json:"index"`
	Species  string          `json:"species"`
	Spectrum predictor.Array `json:"spectrum"`
}

type predictOutput struct {
	Model    string             `json:"model"`
	Absorber string             `json:"absorber"`
	Energies []float64          `json:"energies,omitempty"`
	Sites    []sitePrediction   `json:"sites"`
	Average  *predictor.Array   `json:"average,omitempty"`
	Selector predictor.Selector `json:"selector"`
}

func runPredict(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	mf := newModelFlags(fs)
	var (
		flagStructure    = fs.String("structure", "", "Structure file (.json, .yaml or .xyz)")
		flagAverage      = fs.Bool("average", false, "Also report the site-averaged spectrum")
		flagSiteResolved = fs.Bool("site-resolved", true, "Accepted for compatibility; output is always per site")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *flagStructure == "" {
		return errors.New("predict: -structure is required")
	}

	s, err := structure.Load(*flagStructure)
	if err != nil {
		return err
	}

	p, err := mf.load(ctx)
	if err != nil {
		return err
	}
	defer closePredictor(p)

	result, err := p.Predict(ctx, s, predictor.SiteResolved(*flagSiteResolved))
	if err != nil {
		return err
	}

	out := predictOutput{
		Model:    p.Name(),
		Absorber: p.Absorber(),
		Selector: p.Selector(),
		Sites:    make([]sitePrediction, 0, len(result)),
	}
	if energies, err := p.Energies(); err == nil {
		out.Energies = energies
	}
	for _, idx := range result.Indexes() {
		out.Sites = append(out.Sites, sitePrediction{Index: idx, Species: s.Sites[idx].Species, Spectrum: result[idx]})
	}
	if *flagAverage && len(result) > 0 {
		avg, err := result.Average()
		if err != nil {
			return err
		}
		out.Average = &avg
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	mf := newModelFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := predictor.New(mf.selector(), mf.options()...)
	if err != nil {
		return err
	}
	if err := p.Fetch(ctx); err != nil {
		return err
	}

	slog.Info("Model fetched", "name", p.Name(), "permalink", p.Permalink())
	return nil
}

func runInfo(ctx context.Context, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	mf := newModelFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, err := mf.load(ctx)
	if err != nil {
		return err
	}
	defer closePredictor(p)

	return p.Info(w)
}

func runGrid(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("grid", flag.ContinueOnError)
	var (
		flagTheory  = fs.String("theory", predictor.TheoryFEFF, "Level of theory")
		flagElement = fs.String("element", "Ti", "Absorbing element")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	energies, err := predictor.Grid(*flagTheory, *flagElement)
	if err != nil {
		return err
	}
	for _, e := range energies {
		if _, err := fmt.Fprintln(w, strconv.FormatFloat(e, 'f', -1, 64)); err != nil {
			return err
		}
	}
	return nil
}

func runPlotStyle(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("plotstyle", flag.ContinueOnError)
	flagOutput := fs.String("o", "", "Write to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *flagOutput == "" {
		return plotting.Defaults().WriteRC(w)
	}

	f, err := os.Create(*flagOutput)
	if err != nil {
		return err
	}
	if err := plotting.Defaults().WriteRC(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runHome(args []string, w io.Writer) error {
	fs := flag.NewFlagSet("home", flag.ContinueOnError)
	flagEnsure := fs.Bool("ensure", false, "Create the directory if it is missing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dir := home.Dir()
	if *flagEnsure {
		if err := home.Ensure(dir); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintln(w, dir)
	return err
}
