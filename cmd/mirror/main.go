package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-course-mirror/config"
	"github.com/aluiziolira/go-course-mirror/models"
	"github.com/aluiziolira/go-course-mirror/pipeline"
	"github.com/aluiziolira/go-course-mirror/scraper"
)

func main() {
	defaultCfg := config.DefaultConfig()

	pageDefault := defaultCfg.PageURL
	if value, ok := config.EnvString("MIRROR_PAGE_URL"); ok {
		pageDefault = value
	}
	outDefault := defaultCfg.OutputRoot
	if value, ok := config.EnvString("MIRROR_OUT"); ok {
		outDefault = value
	}
	parallelDefault := defaultCfg.Parallelism
	if value, ok, err := config.EnvInt("MIRROR_PARALLEL"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid MIRROR_PARALLEL: %v\n", err)
		os.Exit(1)
	} else if ok {
		parallelDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("MIRROR_METRICS_ADDR"); ok {
		metricsDefault = value
	}

	pageURL := flag.String("page-url", pageDefault, "Course schedule page to mirror")
	outputRoot := flag.String("out", outDefault, "Output root directory (artifacts land under <out>/course/)")
	parallelism := flag.Int("parallel", parallelDefault, "Number of concurrent downloads")
	timeoutSec := flag.Int("timeout", int(defaultCfg.Timeout/time.Second), "Per-request timeout (seconds)")
	notebookPrefix := flag.String("notebook-prefix", defaultCfg.NotebookPrefix, "Filename prefix for rewritten notebook downloads")
	respectRobots := flag.Bool("respect-robots", false, "Respect robots.txt directives")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	cfg := config.DefaultConfig()
	cfg.PageURL = *pageURL
	cfg.OutputRoot = *outputRoot
	cfg.Parallelism = *parallelism
	cfg.Timeout = time.Duration(*timeoutSec) * time.Second
	cfg.NotebookPrefix = *notebookPrefix
	cfg.RespectRobotsTxt = *respectRobots
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting mirror",
		slog.String("page_url", cfg.PageURL),
		slog.String("output_root", cfg.OutputRoot),
		slog.Int("parallel", cfg.Parallelism),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	store, err := pipeline.NewDiskStore(cfg.OutputRoot)
	if err != nil {
		slog.Error("initialising output store", slog.Any("error", err))
		os.Exit(1)
	}

	p, err := pipeline.NewPipeline(store, cfg)
	if err != nil {
		slog.Error("initialising pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	p.Start(cfg.Parallelism)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight downloads to finish")
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	result, err := s.Run(ctx, p)
	if err != nil {
		slog.Error("mirror failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline reported write errors", slog.Any("error", err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, p.GetMetrics(), cfg.OutputRoot)
}

func printSummary(result *models.MirrorResult, metrics map[string]interface{}, outputRoot string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Mirror complete")

	written := int64(0)
	if assets, ok := metrics["written_assets"].(int64); ok {
		written = assets
	}
	stubs := int64(0)
	if s, ok := metrics["written_stubs"].(int64); ok {
		stubs = s
	}

	duration := result.EndTime.Sub(result.StartTime)
	fmt.Printf("  Rows:          %d\n", result.RowCount)
	fmt.Printf("  Requests:      %d\n", result.RequestCount)
	fmt.Printf("  Assets:        %d\n", written)
	fmt.Printf("  Stubs:         %d\n", stubs)
	fmt.Printf("  Skipped links: %d\n", result.SkippedLinks)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if len(result.FailedURLs) > 0 {
		fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output root:   %s\n", outputRoot)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
