// Package mcs implements the MCSFinder of spec §4.7–§4.10: the
// delta-debugging driver that repeatedly replays candidate subsets of an
// EventDag and converges on a minimal violating subset, recording runtime
// statistics and dumping intermediate MCSes as the best-so-far shrinks.
//
// Grounded on mcs_finder.py's MCSFinder (classical ddmin, §3.2 of the
// delta-debugging paper) and EfficientMCSFinder (Zeller 1999 §4).
package mcs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/netsys/sts-replay/internal/cache"
	"github.com/netsys/sts-replay/internal/event"
	"github.com/netsys/sts-replay/internal/eventdag"
	"github.com/netsys/sts-replay/internal/replay"
	"github.com/netsys/sts-replay/internal/stats"
	"github.com/netsys/sts-replay/internal/trace"
)

// ErrNotReproducible is returned by Run when the initial verification phase
// never reproduces the violation; callers should exit with code 5 (spec §7).
var ErrNotReproducible = errors.New("mcs: unable to reproduce correctness violation")

// InvariantCheck evaluates a completed replay and returns a list of
// violation descriptors (empty = no violation), per spec §6's collaborator
// contract.
type InvariantCheck func() ([]string, error)

// ReplayFunc runs one end-to-end replay of dag and reports its observed
// deltas, wrapping a *replay.Replayer with per-call collaborator
// construction (the caller decides whether collaborators are shared or
// fresh per replay).
type ReplayFunc func(dag *eventdag.EventDag) (*replay.Result, []string, error)

// Options configures one MCSFinder run.
type Options struct {
	InvariantCheckName         string
	NoViolationVerificationRuns int
	OptimizedFiltering         bool
	EndWaitSeconds             float64
	ResultsDir                 string
	MCSTracePath               string
	RuntimeStatsPath           string
	SuperlogPath               string
}

// Finder drives classical or efficient ddmin over a dag, calling back into
// replayFn for each candidate subset.
type Finder struct {
	opt      Options
	replayFn ReplayFunc
	stats    *stats.RuntimeStats
	cache    cache.PrecomputeCache

	dag *eventdag.EventDag

	intermcsMinSize int
	intermcsCount   int

	phase    string
	progress ProgressReporter
	metrics  MetricsRecorder
}

// RunStatus is a point-in-time snapshot of this Finder's progress, satisfying
// httpapi.StatusProvider for the status/control API.
type RunStatus struct {
	Phase        string
	TotalReplays int64
	CurrentSize  int
	OriginalSize int
}

// RunStatus reports this Finder's current phase and sizes, safe to call
// concurrently with Run/RunEfficient (every field read here is either
// immutable after New or a process-wide atomic counter).
func (f *Finder) RunStatus() RunStatus {
	return RunStatus{
		Phase:        f.phase,
		TotalReplays: replay.TotalReplays(),
		CurrentSize:  len(f.dag.InputEvents()),
		OriginalSize: f.stats.TotalInputs,
	}
}

// New builds a Finder. replayFn must run one full replay of the given dag
// and report violation descriptors via the second return value (empty =
// no violation).
func New(dag *eventdag.EventDag, opt Options, replayFn ReplayFunc) *Finder {
	return &Finder{
		opt:             opt,
		replayFn:        replayFn,
		stats:           stats.New(opt.RuntimeStatsPath),
		dag:             dag,
		intermcsMinSize: -1,
	}
}

// SetCache overrides the precompute-dedup collaborator classical ddmin uses
// (the in-memory cache.New() is the default). Callers share a
// cache.NewRedis(addr) across processes to dedup candidate subsets run by a
// distributed minimization fleet.
func (f *Finder) SetCache(c cache.PrecomputeCache) { f.cache = c }

// ProgressReporter is the narrow contract a live-progress collaborator
// (streamer.Hub) satisfies; nil by default, so Finder never requires one.
type ProgressReporter interface {
	SubsetTested(iteration, size int, label string)
	ViolationFound(iteration, size int, label string)
	MCSShrunk(iteration, size int, label string)
	Done(finalSize int)
}

// SetProgress wires a ProgressReporter that is notified as candidates are
// tested and the best-so-far MCS shrinks.
func (f *Finder) SetProgress(p ProgressReporter) { f.progress = p }

// MetricsRecorder is the narrow contract a Prometheus collaborator
// (metrics.Metrics) satisfies; nil by default, so Finder never requires one.
type MetricsRecorder interface {
	RecordReplay(matched, timedOut map[string]int)
	RecordViolation()
	SetIterationSize(n int)
	ObserveReplayDuration(seconds float64)
	ObservePruneDuration(seconds float64)
}

// SetMetrics wires a MetricsRecorder that is updated as replays run and the
// best-so-far MCS shrinks.
func (f *Finder) SetMetrics(m MetricsRecorder) { f.metrics = m }

// Run performs the reproducibility gate, optional optimized filtering, and
// classical ddmin, returning the minimized dag.
func (f *Finder) Run() (*eventdag.EventDag, error) {
	f.phase = "verifying"
	f.dag = f.dag.MarkInvalidInputSequences().FilterUnsupportedInputTypes()
	f.stats.SetDagStats(len(f.dag.InputEvents()), f.dag.Len(), dagDurationSeconds(f.dag))

	if f.dag.Len() == 0 {
		return nil, errors.New("mcs: no supported input types in trace")
	}

	if err := f.checkReproducibility(); err != nil {
		return nil, err
	}

	f.phase = "pruning"
	f.stats.RecordPruneStart()
	if f.opt.OptimizedFiltering {
		f.optimizeEventDag()
	}

	c := f.cache
	if c == nil {
		c = cache.New()
	}
	result, totalPruned, err := f.ddmin(f.dag, 2, c, nil)
	if err != nil {
		return nil, err
	}
	f.trackIterationSize(totalPruned)
	f.dag = result

	f.stats.RecordPruneEnd()
	f.stats.RecordGlobalStats(int(replay.TotalReplays()), int(replay.TotalInputsReplayed()))
	if f.metrics != nil {
		f.metrics.ObservePruneDuration(f.stats.PruneDurationSeconds)
	}
	f.dumpRuntimeStats("")
	f.phase = "done"
	if f.progress != nil {
		f.progress.Done(len(f.dag.InputEvents()))
	}

	slog.Info("final MCS", "size", len(f.dag.InputEvents()))
	for _, ie := range f.dag.InputEvents() {
		slog.Info("  mcs input", "label", ie.Label())
	}
	if f.opt.MCSTracePath != "" {
		if err := f.dumpMCSTrace(f.dag, f.opt.MCSTracePath); err != nil {
			return nil, err
		}
	}
	slog.Info("total replays", "count", replay.TotalReplays())
	return f.dag, nil
}

func dagDurationSeconds(dag *eventdag.EventDag) float64 {
	events := dag.Events()
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Time().Sub(events[0].Time())
}

// checkReproducibility runs the full trace up to NoViolationVerificationRuns
// times; fails with ErrNotReproducible if none reproduces (spec §4.9).
func (f *Finder) checkReproducibility() error {
	f.stats.RecordReplayStart()
	runs := f.opt.NoViolationVerificationRuns
	if runs <= 0 {
		runs = 1
	}
	reproduced := false
	i := 0
	for ; i < runs; i++ {
		violations := f.replay(f.dag)
		if len(violations) > 0 {
			reproduced = true
			break
		}
	}
	f.stats.SetInitialVerificationRunsNeeded(i)
	f.stats.RecordReplayEnd()
	if f.metrics != nil {
		f.metrics.ObserveReplayDuration(f.stats.ReplayDurationSeconds)
	}
	if !reproduced {
		f.dumpRuntimeStats("")
		return ErrNotReproducible
	}
	slog.Info("violation reproduced, proceeding with pruning")
	replay.ResetCounters()
	return nil
}

// replay runs one replay of dag and records its deltas into stats. A
// replay-level error (ResourceError: subprocess/socket failure) is treated
// as "no violation" per spec §7's conservative propagation policy, rather
// than surfaced to the caller.
func (f *Finder) replay(dag *eventdag.EventDag) []string {
	result, violations, err := f.replayFn(dag)
	if err != nil {
		slog.Warn("replay failed, treating as non-violating", "err", err)
		return nil
	}
	if result != nil {
		iter := int(replay.TotalReplays())
		f.stats.RecordNewInternalEvents(iter, result.NewInternalEvents)
		f.stats.RecordEarlyInternalEvents(iter, result.EarlyInternalEvents)
		f.stats.RecordTimedOutEvents(iter, result.TimedOutEvents)
		f.stats.RecordMatchedEvents(iter, result.MatchedEvents)
		f.stats.RecordAmbiguous(result.AmbiguousCounts, result.AmbiguousEvents)
		if f.metrics != nil {
			f.metrics.RecordReplay(result.MatchedEvents, result.TimedOutEvents)
		}
	}
	return violations
}

// checkViolation repeats replay up to NoViolationVerificationRuns times,
// counting a violation if any run exhibits one (spec §4.7).
func (f *Finder) checkViolation(dag *eventdag.EventDag, subsetIndex int) (bool, error) {
	runs := f.opt.NoViolationVerificationRuns
	if runs <= 0 {
		runs = 1
	}
	size := len(dag.InputEvents())
	if f.progress != nil {
		f.progress.SubsetTested(int(replay.TotalReplays()), size, fmt.Sprintf("subset %d", subsetIndex))
	}
	for i := 0; i < runs; i++ {
		violations := f.replay(dag)
		if len(violations) > 0 {
			f.stats.RecordViolationFound(i)
			if f.progress != nil {
				f.progress.ViolationFound(int(replay.TotalReplays()), size, fmt.Sprintf("subset %d", subsetIndex))
			}
			if f.metrics != nil {
				f.metrics.RecordViolation()
			}
			return true, nil
		}
	}
	return false, nil
}

func (f *Finder) trackIterationSize(totalPruned int) {
	size := len(f.dag.InputEvents()) - totalPruned
	f.stats.RecordIterationSize(int(replay.TotalReplays()), size)
	if f.metrics != nil {
		f.metrics.SetIterationSize(size)
	}
}

func (f *Finder) dumpRuntimeStats(overridePath string) {
	snapshot := f.stats.Clone()
	if overridePath != "" {
		snapshot.SetRuntimeStatsFile(overridePath)
	}
	if err := snapshot.WriteRuntimeStats(); err != nil {
		slog.Warn("failed to write runtime stats", "err", err)
	}
}

func (f *Finder) dumpMCSTrace(dag *eventdag.EventDag, path string) error {
	return trace.WritePath(path, dag.Events(), json.RawMessage(fmt.Sprintf(`{"invariant_check":%q}`, f.opt.InvariantCheckName)))
}

// maybeDumpIntermediateMCS writes a numbered snapshot whenever the
// best-so-far dag shrinks, so an aborted run still yields progress.
func (f *Finder) maybeDumpIntermediateMCS(dag *eventdag.EventDag, label string) {
	if f.opt.ResultsDir == "" {
		return
	}
	size := dag.Len()
	if f.intermcsMinSize >= 0 && size >= f.intermcsMinSize {
		return
	}
	f.intermcsMinSize = size
	f.intermcsCount++
	if f.progress != nil {
		f.progress.MCSShrunk(int(replay.TotalReplays()), size, label)
	}
	dst := filepath.Join(f.opt.ResultsDir, fmt.Sprintf("intermcs_%d_%s", f.intermcsCount, sanitizeLabel(label)))
	if err := os.MkdirAll(dst, 0o755); err != nil {
		slog.Warn("failed to create intermediate mcs dir", "dir", dst, "err", err)
		return
	}
	tracePath := filepath.Join(dst, filepath.Base(f.opt.MCSTracePath))
	if err := f.dumpMCSTrace(dag, tracePath); err != nil {
		slog.Warn("failed to dump intermediate mcs trace", "err", err)
	}
	statsPath := filepath.Join(dst, filepath.Base(f.opt.RuntimeStatsPath))
	f.dumpRuntimeStats(statsPath)
}

func sanitizeLabel(label string) string {
	out := make([]rune, 0, len(label))
	for _, r := range label {
		if r == '/' {
			out = append(out, '.')
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}

// optimizeEventDag employs domain knowledge of event classes to reduce the
// size of the dag before ddmin, per spec §4.7's "Optimized filtering".
func (f *Finder) optimizeEventDag() {
	for _, kind := range event.OptimizedFilteringOrder {
		var pruned []string
		for _, ie := range f.dag.InputEvents() {
			if ie.Kind != kind {
				pruned = append(pruned, ie.Label())
			}
		}
		if len(pruned) == len(f.dag.InputEvents()) {
			slog.Debug("optimized filtering: no events pruned for kind", "kind", event.KindName(kind))
			continue
		}
		prunedDag := f.dag.InputSubset(pruned)
		violations := f.replay(prunedDag)
		if len(violations) > 0 {
			slog.Info("optimized filtering: violation survives pruning kind, resizing dag", "kind", event.KindName(kind))
			f.dag = prunedDag
		}
	}
}
