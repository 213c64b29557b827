package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/INLOpen/phoneprefix/compiler"
	"github.com/INLOpen/phoneprefix/config"
	"github.com/INLOpen/phoneprefix/diag"
	"github.com/INLOpen/phoneprefix/hooks"
	"github.com/INLOpen/phoneprefix/hooks/listeners"
	"github.com/INLOpen/phoneprefix/progress"
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "", "stderr":
		output = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Debug("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error
	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("phoneprefix-build")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}
	return tp, cleanup, nil
}

// applyFlags lets explicitly set flags override the configuration file.
func applyFlags(cfg *config.Config, input, output *string, expand *bool, workers *int, onMiss *string) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.InputDir = *input
		case "output":
			cfg.OutputDir = *output
		case "expand":
			cfg.ExpandCountries = *expand
		case "workers":
			cfg.Workers = *workers
		case "on-miss":
			cfg.Partition.OnMiss = *onMiss
		}
	})
}

func run() int {
	configPath := flag.String("config", "phoneprefix.yaml", "Path to the configuration file")
	input := flag.String("input", "", "Directory holding <lang>/<country code>.txt tables")
	output := flag.String("output", "", "Directory receiving the shards and the manifest")
	expand := flag.Bool("expand", true, "Split large countries into finer buckets")
	workers := flag.Int("workers", 1, "Number of input files compiled in parallel")
	onMiss := flag.String("on-miss", "", "What to do with entries outside every bucket: error or catchall")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}
	applyFlags(cfg, input, output, expand, workers, onMiss)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration:\n%v\n", err)
		return 1
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		return 1
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	var metricSrv *diag.MetricsServer
	if cfg.Debug.Enabled {
		metricSrv = diag.NewMetricsServer(cfg.Debug, logger)
		go func() {
			if err := metricSrv.Start(); err != nil {
				logger.Error("Failed to start metrics server", "error", err)
			}
		}()
		defer metricSrv.Stop()
	}

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		logger.Error("Failed to initialize tracer provider", "error", err)
		return 1
	}
	defer tracerCleanup()

	opts, err := compiler.OptionsFromConfig(cfg)
	if err != nil {
		logger.Error("Invalid compiler options", "error", err)
		return 1
	}

	// --- Register Hooks ---
	hookManager := hooks.NewHookManager(logger)
	defer hookManager.Stop()
	shardSize := listeners.NewShardSizeListener(logger, listeners.ShardSizeThresholds{
		MaxEntries: cfg.Shard.SizeWarning.MaxEntries,
		MaxBytes:   cfg.Shard.SizeWarning.MaxBytes,
	})
	sizeRatio := listeners.NewSizeRatioListener(logger)
	hookManager.Register(hooks.EventPostShardWrite, shardSize)
	hookManager.Register(hooks.EventPostShardWrite, sizeRatio)
	hookManager.Register(hooks.EventPostCompileFile, sizeRatio)
	hookManager.Register(hooks.EventPostShardWrite, listeners.NewUnmatchedAlerterListener(logger))
	if cfg.Progress.Enabled {
		progress.New(os.Stderr, logger).Register(hookManager)
	}
	// --- End Register Hooks ---

	opts.HookManager = hookManager
	opts.Tracer = tp.Tracer("phoneprefix/compiler")
	opts.Metrics = compiler.NewMetrics(true, "phoneprefix_")
	opts.Logger = logger

	c, err := compiler.New(opts)
	if err != nil {
		logger.Error("Failed to create compiler", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := c.Run(ctx)
	hookManager.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "phoneprefix-build: %v\n", err)
		return 1
	}
	fmt.Printf("compiled %d files into %d shards (%d entries, %d bytes, output/source %.2f) in %s\n",
		report.Totals.Files, report.Totals.Shards, report.Totals.Entries, report.Totals.Bytes,
		sizeRatio.Ratio(), report.Duration.Round(time.Millisecond))
	return 0
}

func main() {
	os.Exit(run())
}
