// Command abraxas is the tick-runner: it calls internal/tick.RunTick on
// a cadence (a fixed interval or a cron expression) and exits cleanly on
// SIGINT/SIGTERM. --once runs exactly one tick and exits, matching the
// seal/validate/gate tools' script-like invocation; --temporal-worker
// runs it instead as a Temporal worker serving TickWorkflow, for
// operators who want ticks hosted on a Temporal cluster rather than
// driven by this process's own clock.
//
// Grounded on the teacher's cmd/cortex/main.go: configureLogger,
// single-instance lock, --once branch, signal-driven shutdown.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron"

	"github.com/antigravity-dev/abraxas/internal/artifacts"
	"github.com/antigravity-dev/abraxas/internal/bindings"
	"github.com/antigravity-dev/abraxas/internal/lock"
	"github.com/antigravity-dev/abraxas/internal/store"
	"github.com/antigravity-dev/abraxas/internal/telemetry"
	"github.com/antigravity-dev/abraxas/internal/tick"
	tickTemporal "github.com/antigravity-dev/abraxas/internal/tick/temporal"
)

func configureLogger(logLevel string, useDev bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if useDev {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func main() {
	var (
		artifactsDir = flag.String("artifacts_dir", "./artifacts", "root artifacts directory")
		runID        = flag.String("run_id", "abraxas", "run ID written into emitted artifacts")
		policyDir    = flag.String("policy_dir", "", "policy directory (empty means \"policy\")")
		repoRoot     = flag.String("repo_root", ".", "repository root")
		mode         = flag.String("mode", "live", "tick mode (live|sandbox)")
		logLevel     = flag.String("log-level", "info", "log level: debug, info, warn, error")
		dev          = flag.Bool("dev", false, "use text log format (default is JSON)")
		once         = flag.Bool("once", false, "run a single tick then exit")
		schedule     = flag.String("schedule", "", "cron expression for tick cadence (e.g. \"*/5 * * * *\"); overrides --interval")
		interval     = flag.Duration("interval", 5*time.Minute, "fixed tick interval, used when --schedule is unset")
		lockFile     = flag.String("lock_file", "/tmp/abraxas.lock", "single-instance lock file path")
		temporalMode = flag.Bool("temporal-worker", false, "run as a Temporal worker serving TickWorkflow instead of ticking locally")
		temporalHost = flag.String("temporal-host", "127.0.0.1:7233", "Temporal server host:port")
		temporalQ    = flag.String("temporal-queue", tickTemporal.DefaultTaskQueue, "Temporal task queue name")
		dbPath       = flag.String("db", "", "path to a derived SQLite query index (empty disables indexing); query it with abraxas-validate --db")
	)
	flag.Parse()

	logger := configureLogger(*logLevel, *dev)
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.InitTracerProvider(context.Background())
	if err != nil {
		logger.Error("failed to init tracer provider", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracer provider shutdown error", "error", err)
		}
	}()

	if *temporalMode {
		logger.Info("starting temporal worker", "host", *temporalHost, "queue", *temporalQ)
		if err := tickTemporal.RunWorker(*temporalHost, *temporalQ); err != nil {
			logger.Error("temporal worker exited with error", "error", err)
			os.Exit(1)
		}
		return
	}

	lockHandle, err := lock.Acquire(*lockFile)
	if err != nil {
		logger.Error("failed to acquire lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release(lockHandle)

	var idx *store.Store
	if *dbPath != "" {
		idx, err = store.Open(*dbPath)
		if err != nil {
			logger.Error("failed to open store", "path", *dbPath, "error", err)
			os.Exit(1)
		}
		defer idx.Close()
		logger.Info("indexing artifacts into derived store", "db", *dbPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tickCounter := 0
	runTick := func() {
		n := tickCounter
		tickCounter++
		start := time.Now()
		var indexer artifacts.Indexer
		if idx != nil {
			indexer = idx
		}
		out, err := tick.RunTick(tick.Input{
			Tick:         n,
			RunID:        *runID,
			Mode:         *mode,
			Context:      map[string]any{},
			ArtifactsDir: *artifactsDir,
			Bindings:     pipeline(),
			PolicyDir:    *policyDir,
			RepoRoot:     *repoRoot,
			Indexer:      indexer,
		})
		if err != nil {
			logger.Error("tick failed", "tick", n, "error", err, "elapsed", time.Since(start).String())
			return
		}
		logger.Info("tick complete",
			"tick", n,
			"run_id", out.RunID,
			"trendpack", out.Artifacts.Trendpack,
			"trendpack_sha256", out.Artifacts.TrendpackSHA256,
			"elapsed", time.Since(start).String(),
		)
	}

	if *once {
		logger.Info("running single tick (--once mode)")
		runTick()
		logger.Info("single tick complete, exiting")
		return
	}

	if *schedule != "" {
		c := cron.New()
		if err := c.AddFunc(*schedule, runTick); err != nil {
			logger.Error("invalid --schedule expression", "schedule", *schedule, "error", err)
			os.Exit(1)
		}
		logger.Info("abraxas running on cron schedule", "schedule", *schedule)
		c.Start()
		defer c.Stop()
	} else {
		logger.Info("abraxas running on fixed interval", "interval", interval.String())
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					runTick()
				}
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	shutdownStart := time.Now()
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	logger.Info("abraxas stopped", "shutdown_duration", time.Since(shutdownStart).String())
}

// pipeline is the minimal signal/compress/overlay wiring shared with
// cmd/abraxas-gate and internal/seal: a live tick-runner exercises the
// same pipeline shape as a gated or sealed one.
func pipeline() bindings.Bindings {
	return bindings.Bindings{
		RunSignal:   func(ctx map[string]any) (any, error) { return map[string]any{"signal": 1}, nil },
		RunCompress: func(ctx map[string]any) (any, error) { return map[string]any{"compress": 1}, nil },
		RunOverlay:  func(ctx map[string]any) (any, error) { return map[string]any{"overlay": 1}, nil },
		ShadowTasks: map[string]bindings.PipelineFn{
			"sei": func(ctx map[string]any) (any, error) { return map[string]any{"sei": 0}, nil },
		},
		Provenance: bindings.Provenance{Bindings: "PipelineBindings.v0"},
	}
}
