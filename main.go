package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/corvidae/relay/internal/app"
	"github.com/corvidae/relay/internal/config"
	"github.com/corvidae/relay/internal/logger"
	"github.com/corvidae/relay/internal/util"
	"github.com/corvidae/relay/internal/version"
	"github.com/corvidae/relay/pkg/container"
	"github.com/corvidae/relay/pkg/format"
	"github.com/corvidae/relay/pkg/nerdstats"
	"github.com/corvidae/relay/pkg/profiler"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}
	version.PrintVersionInfo(false, vlog)

	fs := pflag.CommandLine
	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(buildLoggerConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())
	if container.IsContainerised() {
		styledLogger.Info("running inside a container")
	}

	if cfg.Engineering.EnableProfiler {
		profiler.InitialiseProfiler(cfg.Engineering.ProfilerAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	config.WatchForChanges(fs, func(updated *config.Config) {
		styledLogger.Info("config file changed; new values take effect after a restart",
			"fail_threshold", updated.FailThreshold,
			"recover_threshold", updated.RecoverThreshold,
			"webhook_format", updated.WebhookFormat)
	})

	application, err := app.New(cfg, styledLogger)
	if err != nil {
		logger.FatalWithLogger(logInstance, "failed to build application", "error", err)
	}

	if err := application.Start(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "failed to start application", "error", err)
	}

	<-ctx.Done()

	if err := application.Stop(context.Background()); err != nil {
		styledLogger.Error("error during shutdown", "error", err)
	}

	if cfg.Engineering.ShowNerdStats {
		reportProcessStats(styledLogger, startTime)
	}

	styledLogger.Info("relay has shut down")
}

// buildLoggerConfig adapts the validated application config into the
// logger package's own Config shape, converting the unit-suffixed
// max_size string (e.g. "10MB") into the plain megabyte count lumberjack
// expects.
func buildLoggerConfig(cfg *config.Config) *logger.Config {
	return &logger.Config{
		Level:      cfg.Logging.Level,
		LogDir:     cfg.Logging.Dir,
		Theme:      cfg.Logging.Theme,
		MaxSize:    logSizeMB(cfg.Logging.MaxSize),
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		FileOutput: cfg.Logging.FileOutput,
		PrettyLogs: !cfg.Logging.JSONLogs,
	}
}

func logSizeMB(sizeStr string) int {
	const defaultMB = 10
	if sizeStr == "" {
		return defaultMB
	}
	bytes, err := util.ParseSize(sizeStr)
	if err != nil || bytes <= 0 {
		return defaultMB
	}
	mb := bytes / (1 << 20)
	if mb < 1 {
		mb = 1
	}
	return int(mb)
}

func reportProcessStats(log *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	log.Info("process memory stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	if stats.NumGC > 0 {
		log.Info("garbage collection stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
		)
	}

	log.Info("goroutine stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"num_cgo_calls", stats.NumCgoCall,
	)

	log.Info("runtime stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)

	if buildInfo := stats.GetBuildInfoSummary(); len(buildInfo) > 0 {
		var buildArgs []any
		for key, value := range buildInfo {
			buildArgs = append(buildArgs, key, value)
		}
		log.Info("build info", buildArgs...)
	}
}
