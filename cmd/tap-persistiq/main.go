package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/NickLeoMartin/tap-persistiq/internal/config"
	"github.com/NickLeoMartin/tap-persistiq/internal/config/envloader"
	"github.com/NickLeoMartin/tap-persistiq/internal/config/fileloader"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/domain/checkpoint"
	"github.com/NickLeoMartin/tap-persistiq/internal/engine"
	"github.com/NickLeoMartin/tap-persistiq/internal/engine/metrics"
	infracatalog "github.com/NickLeoMartin/tap-persistiq/internal/infra/catalog"
	"github.com/NickLeoMartin/tap-persistiq/internal/infra/persistiq"
	"github.com/NickLeoMartin/tap-persistiq/internal/infra/sink"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/logger"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/otel"
	"github.com/NickLeoMartin/tap-persistiq/pkg/common/timeutil"
)

const serviceType = "tap-persistiq"

// errUsage marks invocation errors already reported on stderr.
var errUsage = errors.New("usage error")

type options struct {
	configPath  string
	statePath   string
	catalogPath string
	discover    bool
	check       bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet(serviceType, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to the tap config file (JSON or YAML)")
	fs.StringVar(&opts.statePath, "state", "", "path to a state file to resume from")
	fs.StringVar(&opts.catalogPath, "catalog", "", "path to a catalog selecting streams and fields")
	fs.BoolVar(&opts.discover, "discover", false, "print the catalog of available streams and exit")
	fs.BoolVar(&opts.check, "check", false, "verify the access token and exit")

	if err := fs.Parse(args); err != nil {
		return opts, errUsage
	}
	if !opts.discover && opts.configPath == "" {
		fmt.Fprintln(stderr, "--config is required")
		fs.Usage()
		return opts, errUsage
	}
	return opts, nil
}

func main() {
	_, _ = maxprocs.Set()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		os.Exit(1)
	}
}

// run executes one invocation. Singer messages go to stdout; everything else
// goes to stderr.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	if opts.discover {
		return discover(stdout)
	}

	cfg, err := loadConfig(ctx, opts.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "invalid configuration: %v\n", err)
		return err
	}

	log := newLogger(stderr, cfg)

	telemetryCfg := otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		Probability:      cfg.Telemetry.SamplingRatio,
		InsecureExporter: cfg.Telemetry.Insecure,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"tap.id":           cfg.StateBackend.TapID,
		},
	}
	// One span per produced message would dwarf the rest of the trace.
	telemetryCfg.ExcludedSpans = map[string]struct{}{"kafka.produce": {}}

	providers, telemetryTeardown, err := otel.InitTelemetry(log, telemetryCfg)
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		return err
	}
	defer telemetryTeardown(context.WithoutCancel(ctx))

	tracer := providers.Tracer.Tracer(cfg.Telemetry.ServiceName)
	tapMetrics, err := metrics.New(providers.Meter)
	if err != nil {
		log.Error(ctx, "failed to create metrics", "error", err)
		return err
	}

	client, err := persistiq.NewClient(cfg, log, tracer,
		persistiq.WithRetryObserver(func(_ int, wait time.Duration, _ error) {
			tapMetrics.IncRetries(ctx, wait)
		}),
	)
	if err != nil {
		log.Error(ctx, "failed to create api client", "error", err)
		return err
	}

	if err := client.Check(ctx); err != nil {
		log.Error(ctx, "access token check failed", "error", err)
		return err
	}
	if opts.check {
		log.Info(ctx, "access token is valid")
		return nil
	}

	cat, err := loadCatalog(ctx, opts.catalogPath, log)
	if err != nil {
		log.Error(ctx, "failed to load catalog", "path", opts.catalogPath, "error", err)
		return err
	}

	repo, closeRepo, err := openStateRepository(ctx, cfg, providers, tracer)
	if err != nil {
		log.Error(ctx, "failed to open state backend", "backend", cfg.StateBackend.Type, "error", err)
		return err
	}
	defer closeRepo()

	initial, err := loadInitialState(ctx, opts.statePath, repo, cfg.StateBackend.TapID)
	if err != nil {
		log.Error(ctx, "failed to load initial state", "error", err)
		return err
	}

	out, closeSink, err := buildSink(cfg, stdout, log, tracer)
	if err != nil {
		log.Error(ctx, "failed to create sink", "sink", cfg.Sink.Type, "error", err)
		return err
	}
	defer func() {
		if err := closeSink(); err != nil {
			log.Warn(ctx, "failed to close sink", "error", err)
		}
	}()
	if repo != nil {
		out = sink.NewStateMirror(out, repo, cfg.StateBackend.TapID)
	}

	startDate, err := timeutil.ParseTimestamp(cfg.StartDate)
	if err != nil {
		log.Error(ctx, "invalid start_date", "error", err)
		return err
	}

	store := checkpoint.NewStore(initial, out)
	pager := engine.NewPaginator(client, out, store, timeutil.Default(), tapMetrics, log, tracer)
	orch := engine.NewOrchestrator(pager, out, store, startDate, tapMetrics, log, tracer)

	summary, err := orch.Run(ctx, cat)
	if err != nil {
		log.Error(ctx, "sync failed", "run_id", summary.RunID.String(), "error", err)
		return err
	}
	log.Info(ctx, "sync complete",
		"run_id", summary.RunID.String(),
		"records", summary.TotalRecords,
		"duration", summary.Duration.String(),
	)
	return nil
}

func discover(stdout io.Writer) error {
	doc, err := infracatalog.Discover()
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := envloader.New(fileloader.NewFileLoader(path)).Load(ctx)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadCatalog(ctx context.Context, path string, log *logger.Logger) (*catalog.Catalog, error) {
	if path == "" {
		log.Info(ctx, "no catalog given, selecting every stream")
		return infracatalog.SelectAll()
	}
	doc, err := infracatalog.LoadDocument(path)
	if err != nil {
		return nil, err
	}
	return infracatalog.Resolve(ctx, doc, log)
}

func newLogger(w io.Writer, cfg *config.Config) *logger.Logger {
	hostname, _ := os.Hostname()

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(w, "failed to marshal error attributes: %v\n", err)
				return
			}
			fmt.Fprintf(w, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	metadata := map[string]string{
		"hostname": hostname,
		"app":      serviceType,
		"tap_id":   cfg.StateBackend.TapID,
	}

	return logger.NewWithMetadata(w, logger.ParseLevel(cfg.LogLevel), cfg.Telemetry.ServiceName, traceIDFn, logEvents, metadata)
}
