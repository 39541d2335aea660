// Command simulate runs deterministic replay / MCS minimization against a
// recorded superlog trace, per spec §6's CLI surface:
//
//	simulate --config <path>
//
// Exit code 0 on success, 5 if the trace's violation could not be
// reproduced (mcs.ErrNotReproducible), nonzero on any other error
// (config, trace-corrupt, or internal).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"log/slog"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netsys/sts-replay/internal/cache"
	"github.com/netsys/sts-replay/internal/config"
	"github.com/netsys/sts-replay/internal/eventdag"
	"github.com/netsys/sts-replay/internal/gate"
	"github.com/netsys/sts-replay/internal/httpapi"
	"github.com/netsys/sts-replay/internal/invariant"
	"github.com/netsys/sts-replay/internal/iomux"
	"github.com/netsys/sts-replay/internal/mcs"
	"github.com/netsys/sts-replay/internal/metrics"
	"github.com/netsys/sts-replay/internal/procset"
	"github.com/netsys/sts-replay/internal/replay"
	"github.com/netsys/sts-replay/internal/scheduler"
	"github.com/netsys/sts-replay/internal/sim"
	"github.com/netsys/sts-replay/internal/store"
	"github.com/netsys/sts-replay/internal/streamer"
	"github.com/netsys/sts-replay/internal/trace"
)

func main() {
	os.Exit(run())
}

func run() int {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("simulate: .env load error", "err", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	configPath := flag.String("config", "config.yaml", "path to the YAML run configuration")
	flag.Parse()

	if err := os.Setenv("CONFIG_PATH", *configPath); err != nil {
		slog.Error("simulate: could not set CONFIG_PATH", "err", err)
		return 1
	}
	cfg := config.Get()

	events, err := trace.ParsePath(cfg.Simulation.SuperlogPath)
	if err != nil {
		slog.Error("simulate: trace corrupt", "path", cfg.Simulation.SuperlogPath, "err", err)
		return 1
	}
	dag := eventdag.New(events)

	invariantCheck, err := invariant.Lookup(cfg.Simulation.InvariantCheck)
	if err != nil {
		slog.Error("simulate: config error", "err", err)
		return 1
	}

	ctx := context.Background()

	var metricsCollector *metrics.Metrics
	if cfg.Metrics.Enabled {
		metricsCollector = metrics.New()
	}

	var hub *streamer.Hub
	if cfg.Streamer.Enabled {
		hub = streamer.New()
		stopHub := make(chan struct{})
		go hub.Run(stopHub)
		defer close(stopHub)
	}

	var archive *store.Store
	if cfg.Store.Enabled {
		var err error
		archive, err = store.Open(ctx, cfg.Store.DSN)
		if err != nil {
			slog.Warn("simulate: store unavailable, archiving disabled", "err", err)
		} else {
			defer archive.Close()
		}
	}

	precompute := resolveCache(cfg.Cache)
	if rc, ok := precompute.(*cache.RedisCache); ok {
		defer rc.Close()
	}

	procs := procset.New()
	procs.InstallSignalHandler()
	defer procs.Stop()

	opt := mcs.Options{
		InvariantCheckName:          cfg.Simulation.InvariantCheck,
		NoViolationVerificationRuns: cfg.MCS.NoViolationVerificationRuns,
		OptimizedFiltering:          cfg.MCS.OptimizedFiltering,
		EndWaitSeconds:              cfg.MCS.EndWaitSeconds,
		ResultsDir:                  cfg.Results.Dir,
		MCSTracePath:                cfg.Results.MCSTracePath,
		RuntimeStatsPath:            cfg.Results.RuntimeStatsPath,
		SuperlogPath:                cfg.Simulation.SuperlogPath,
	}

	finder := mcs.New(dag, opt, buildReplayFunc(cfg, procs, invariantCheck))
	if precompute != nil {
		finder.SetCache(precompute)
	}
	if metricsCollector != nil {
		finder.SetMetrics(metricsCollector)
	}
	if hub != nil {
		finder.SetProgress(hub)
	}

	if cfg.HTTP.Enabled {
		srv := httpapi.New(hub, statusAdapter{finder})
		go func() {
			if err := srv.ListenAndServe(cfg.HTTP.Addr); err != nil {
				slog.Warn("simulate: http api stopped", "err", err)
			}
		}()
	} else if cfg.Metrics.Enabled {
		go func() {
			if err := http.ListenAndServe(cfg.Metrics.Addr, promhttp.Handler()); err != nil {
				slog.Warn("simulate: metrics server stopped", "err", err)
			}
		}()
	}

	var result *eventdag.EventDag
	if cfg.MCS.Efficient {
		result, err = finder.RunEfficient()
	} else {
		result, err = finder.Run()
	}

	if errors.Is(err, mcs.ErrNotReproducible) {
		slog.Error("simulate: violation not reproducible", "err", err)
		return 5
	}
	if err != nil {
		slog.Error("simulate: minimization failed", "err", err)
		return 1
	}

	slog.Info("simulate: minimization complete", "mcs_size", len(result.InputEvents()))
	archiveResult(ctx, archive, cfg, result)
	return 0
}

// resolveCache selects the Redis-backed precompute cache when configured and
// reachable, falling back to the in-memory cache.New() otherwise (spec §4.6;
// the Redis variant is an optional addition for sharing dedup state across a
// distributed minimization fleet).
func resolveCache(cfg config.CacheConfig) cache.PrecomputeCache {
	if !cfg.RedisEnabled {
		return nil
	}
	rc, err := cache.NewRedis(cfg.RedisAddr)
	if err != nil {
		slog.Warn("simulate: redis cache unavailable, using in-memory cache", "addr", cfg.RedisAddr, "err", err)
		return nil
	}
	return rc
}

// archiveResult records the final MCS to the Postgres archive, if enabled.
// Archiving failures are logged, not fatal: the filesystem dump (already
// written by the Finder) remains the source of truth per spec §4.10/§6.
func archiveResult(ctx context.Context, archive *store.Store, cfg *config.Config, result *eventdag.EventDag) {
	if archive == nil {
		return
	}
	statsJSON, err := os.ReadFile(cfg.Results.RuntimeStatsPath)
	if err != nil {
		slog.Warn("simulate: could not read runtime stats for archiving", "err", err)
		return
	}
	runID := uuid.NewString()
	if err := archive.RecordIntermediateMCS(ctx, runID, "final", len(result.InputEvents()), statsJSON); err != nil {
		slog.Warn("simulate: archiving final mcs failed", "err", err)
	}
}

// statusAdapter adapts *mcs.Finder to httpapi.StatusProvider: the two
// packages each define their own RunStatus shape so neither needs to import
// the other.
type statusAdapter struct{ f *mcs.Finder }

func (a statusAdapter) RunStatus() httpapi.RunStatus {
	s := a.f.RunStatus()
	return httpapi.RunStatus{
		Phase:        s.Phase,
		TotalReplays: s.TotalReplays,
		CurrentSize:  s.CurrentSize,
		OriginalSize: s.OriginalSize,
	}
}

// buildReplayFunc returns a mcs.ReplayFunc that constructs fresh
// Simulation/Gate/IOMultiplexer collaborators for every candidate subset,
// replays it, and evaluates the configured invariant check against the
// resulting simulation state.
func buildReplayFunc(cfg *config.Config, procs *procset.Set, invariantCheck invariant.Check) mcs.ReplayFunc {
	return func(dag *eventdag.EventDag) (*replay.Result, []string, error) {
		g := gate.New()
		io := iomux.New()
		simulation := sim.New(g)
		simulation.RegisterEntitiesFromEvents(dag.Events())

		r := &replay.Replayer{Sim: simulation, Gate: g, IO: io, Procs: procs}
		defer r.CleanUp()

		replayCfg := replay.Config{
			SchedulerOptions: scheduler.Options{
				Speedup:              cfg.Scheduler.Speedup,
				DelayInputEvents:     cfg.Scheduler.DelayInputEvents,
				InitialWait:          cfg.Scheduler.InitialWait(),
				EpsilonSeconds:       cfg.Scheduler.EpsilonSeconds,
				SleepIntervalSeconds: cfg.Scheduler.SleepInterval(),
			},
			EndWaitSeconds: cfg.MCS.EndWaitSeconds,
			SuperlogPath:   cfg.Simulation.SuperlogPath,
		}

		result, err := r.Replay(dag, replayCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("simulate: replay: %w", err)
		}
		violations, err := invariantCheck(simulation)
		if err != nil {
			return nil, nil, fmt.Errorf("simulate: invariant check: %w", err)
		}
		return result, violations, nil
	}
}
