// Command catpipe runs the categorical pipeline once: load a dataset, tabulate
// its feature values, split it, train a classifier, evaluate it and write the
// images and reports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"catpipe/internal/app"
	"catpipe/internal/config"
	"catpipe/internal/exporter"
	"catpipe/internal/infrastructure"
	"catpipe/internal/operations"
	"catpipe/internal/validation"
	"catpipe/pkg/contracts"
	"catpipe/pkg/contracts/domain"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configFile string
	dataPath   string
	sheet      string
	train      float64
	eval       float64
	depth      int
	model      string
	version    bool

	// ratiosSet is true when -train or -eval was given; otherwise the
	// configured split ratios apply
	ratiosSet bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("catpipe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configFile, "config", "", "path to a YAML config file")
	fs.StringVar(&opts.dataPath, "data", "", "dataset file (.txt or .xlsx); defaults to the configured dataset")
	fs.StringVar(&opts.sheet, "sheet", "", "worksheet name for .xlsx datasets")
	fs.Float64Var(&opts.train, "train", 0.6, "training ratio; without -train or -eval the configured split ratios apply")
	fs.Float64Var(&opts.eval, "eval", 0.2, "evaluation ratio; the test ratio is the remainder")
	fs.IntVar(&opts.depth, "depth", 0, "depth of the rendered tree (1-10)")
	fs.StringVar(&opts.model, "model", "", "classifier: tree or forest")
	fs.BoolVar(&opts.version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "train" || f.Name == "eval" {
			opts.ratiosSet = true
		}
	})
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.depth < 0 || opts.depth > 10 {
		return nil, fmt.Errorf("-depth must be between 1 and 10, got %d", opts.depth)
	}
	switch domain.ModelKind(opts.model) {
	case "", domain.ModelKindTree, domain.ModelKindForest:
	default:
		return nil, fmt.Errorf("-model must be tree or forest, got %q", opts.model)
	}
	return opts, nil
}

func (o *options) request() domain.RunRequest {
	req := domain.RunRequest{
		DataPath: o.dataPath,
		Sheet:    o.sheet,
		Model:    domain.ModelKind(o.model),
		Depth:    o.depth,
	}
	if o.ratiosSet {
		req.Ratios = []float64{o.train, o.eval, 1 - o.train - o.eval}
	}
	return req
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if opts.version {
		fmt.Fprintln(stdout, contracts.GetFullVersionString())
		return exitOK
	}

	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return exitError
	}

	logger, closeLogger, err := infrastructure.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize logger: %v\n", err)
		return exitError
	}
	defer closeLogger()

	resp, err := execute(ctx, cfg, opts.request(), logger)
	if resp != nil && resp.Report != nil {
		printReport(stdout, resp.Report)
	}
	if err != nil {
		infrastructure.WithError(logger, err).ErrorContext(ctx, "run_failed")
		fmt.Fprintf(stderr, "run failed: %v\n", err)
		return exitError
	}
	return exitOK
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFrom(path)
}

func execute(ctx context.Context, cfg *config.Config, req domain.RunRequest, logger *slog.Logger) (*operations.OperationResponse, error) {
	paths, err := cfg.ResolvePaths()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}
	if err := paths.EnsureDirectories(logger); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	files := validation.NewFileValidator(logger)
	if err := files.ValidateOutputDirectories(paths.ImagesDir, paths.ReportsDir); err != nil {
		return nil, err
	}
	if req.DataPath == "" {
		req.DataPath = cfg.Dataset.Path
	}
	if err := files.ValidateDataset(req.DataPath); err != nil {
		return nil, err
	}

	store, err := exporter.NewArtifactStore(cfg.Export.Store, logger)
	if err != nil {
		return nil, err
	}

	manager, _, err := app.NewPipeline(cfg, paths, nil, store, operations.NewOperationTracer(nil), logger)
	if err != nil {
		return nil, err
	}
	defer manager.Shutdown()

	return manager.Execute(ctx, operations.OperationRequest{Run: req})
}

func printReport(w io.Writer, report *domain.RunReport) {
	fmt.Fprintf(w, "run %s: %s\n", report.RunID, report.Status)
	if report.Dataset != "" {
		fmt.Fprintf(w, "dataset: %s\n", report.Dataset)
	}
	for _, name := range []string{domain.PartitionTrain, domain.PartitionEval, domain.PartitionTest} {
		if n, ok := report.SplitSizes[name]; ok {
			fmt.Fprintf(w, "  %-5s %d rows\n", name, n)
		}
	}
	for _, warning := range report.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	for _, ev := range report.Evaluations {
		fmt.Fprintf(w, "accuracy on %s: %.4f (%d rows)\n", ev.Partition, ev.Accuracy, ev.Rows)
	}
	for _, artifact := range report.Artifacts {
		fmt.Fprintf(w, "wrote %s\n", artifact)
	}
	if report.Error != "" {
		fmt.Fprintf(w, "error: %s\n", report.Error)
	}
}
