// Package stats implements RuntimeStats (spec §4.10, "RuntimeStats" row of
// the module table): a typed record of counters, durations, and per-iteration
// sizes accumulated across an MCS-finding run, serialized atomically to disk.
// Grounded on mcs_finder.py's RuntimeStats class.
package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RuntimeStats mirrors the original's RuntimeStats.__dict__ field set,
// renamed to Go conventions; json tags keep the on-disk shape snake_case
// for compatibility with tooling that consumes the original format.
type RuntimeStats struct {
	TotalInputs             int `json:"total_inputs"`
	TotalEvents             int `json:"total_events"`
	OriginalDurationSeconds float64 `json:"original_duration_seconds"`

	ReplayStartEpoch    float64 `json:"replay_start_epoch,omitempty"`
	ReplayEndEpoch      float64 `json:"replay_end_epoch,omitempty"`
	ReplayDurationSeconds float64 `json:"replay_duration_seconds,omitempty"`

	PruneStartEpoch    float64 `json:"prune_start_epoch,omitempty"`
	PruneEndEpoch      float64 `json:"prune_end_epoch,omitempty"`
	PruneDurationSeconds float64 `json:"prune_duration_seconds,omitempty"`

	InitialVerificationRunsNeeded int `json:"initial_verification_runs_needed"`

	TotalReplays         int `json:"total_replays"`
	TotalInputsReplayed  int `json:"total_inputs_replayed"`

	IterationSize map[int]int `json:"iteration_size"`

	ViolationFoundInRun map[int]int `json:"violation_found_in_run"`

	NewInternalEvents   map[int][]string `json:"new_internal_events"`
	EarlyInternalEvents map[int][]string `json:"early_internal_events"`
	TimedOutEvents      map[int]map[string]int `json:"timed_out_events"`
	MatchedEvents       map[int]map[string]int `json:"matched_events"`

	AmbiguousCounts map[string]int      `json:"ambiguous_counts"`
	AmbiguousEvents map[string][]string `json:"ambiguous_events"`

	Config string `json:"config,omitempty"`

	runtimeStatsFile string
}

// New returns a RuntimeStats with every map initialized, writing to path
// (an empty path defers the file name to WriteRuntimeStats's timestamped
// default).
func New(path string) *RuntimeStats {
	return &RuntimeStats{
		IterationSize:       make(map[int]int),
		ViolationFoundInRun: make(map[int]int),
		NewInternalEvents:   make(map[int][]string),
		EarlyInternalEvents: make(map[int][]string),
		TimedOutEvents:      make(map[int]map[string]int),
		MatchedEvents:       make(map[int]map[string]int),
		AmbiguousCounts:     make(map[string]int),
		AmbiguousEvents:     make(map[string][]string),
		runtimeStatsFile:    path,
	}
}

func (s *RuntimeStats) SetDagStats(totalInputs, totalEvents int, durationSeconds float64) {
	s.TotalInputs = totalInputs
	s.TotalEvents = totalEvents
	s.OriginalDurationSeconds = durationSeconds
}

func (s *RuntimeStats) RecordReplayStart() { s.ReplayStartEpoch = nowEpoch() }

func (s *RuntimeStats) RecordReplayEnd() {
	s.ReplayEndEpoch = nowEpoch()
	s.ReplayDurationSeconds = s.ReplayEndEpoch - s.ReplayStartEpoch
}

func (s *RuntimeStats) RecordPruneStart() { s.PruneStartEpoch = nowEpoch() }

func (s *RuntimeStats) RecordPruneEnd() {
	s.PruneEndEpoch = nowEpoch()
	s.PruneDurationSeconds = s.PruneEndEpoch - s.PruneStartEpoch
}

func (s *RuntimeStats) SetInitialVerificationRunsNeeded(n int) { s.InitialVerificationRunsNeeded = n }

func (s *RuntimeStats) RecordIterationSize(replayIteration, size int) {
	s.IterationSize[replayIteration] = size
}

func (s *RuntimeStats) RecordViolationFound(verificationIteration int) {
	s.ViolationFoundInRun[verificationIteration]++
}

func (s *RuntimeStats) RecordNewInternalEvents(replayIteration int, events []string) {
	s.NewInternalEvents[replayIteration] = events
}

func (s *RuntimeStats) RecordEarlyInternalEvents(replayIteration int, events []string) {
	s.EarlyInternalEvents[replayIteration] = events
}

func (s *RuntimeStats) RecordTimedOutEvents(replayIteration int, counts map[string]int) {
	s.TimedOutEvents[replayIteration] = counts
}

func (s *RuntimeStats) RecordMatchedEvents(replayIteration int, counts map[string]int) {
	s.MatchedEvents[replayIteration] = counts
}

func (s *RuntimeStats) RecordGlobalStats(totalReplays, totalInputsReplayed int) {
	s.TotalReplays = totalReplays
	s.TotalInputsReplayed = totalInputsReplayed
}

// RecordAmbiguous merges one replay's ambiguous-fingerprint observations
// into the run-wide set (spec §9's duplicate-fingerprint open question).
func (s *RuntimeStats) RecordAmbiguous(counts map[string]int, events map[string][]string) {
	for k, v := range counts {
		s.AmbiguousCounts[k] = v
	}
	for k, v := range events {
		s.AmbiguousEvents[k] = v
	}
}

// Clone returns a deep-enough copy for a point-in-time dump (intermediate
// MCS dumps snapshot stats without further mutation racing the write).
func (s *RuntimeStats) Clone() *RuntimeStats {
	clone := *s
	clone.IterationSize = copyIntMap(s.IterationSize)
	clone.ViolationFoundInRun = copyIntMap(s.ViolationFoundInRun)
	clone.NewInternalEvents = copyStringSliceMap(s.NewInternalEvents)
	clone.EarlyInternalEvents = copyStringSliceMap(s.EarlyInternalEvents)
	clone.TimedOutEvents = copyNestedIntMap(s.TimedOutEvents)
	clone.MatchedEvents = copyNestedIntMap(s.MatchedEvents)
	clone.AmbiguousCounts = copyStringIntMap(s.AmbiguousCounts)
	clone.AmbiguousEvents = copyStringStringSliceMap(s.AmbiguousEvents)
	return &clone
}

func copyIntMap(m map[int]int) map[int]int {
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyStringSliceMap(m map[int][]string) map[int][]string {
	out := make(map[int][]string, len(m))
	for k, v := range m {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func copyStringStringSliceMap(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func copyNestedIntMap(m map[int]map[string]int) map[int]map[string]int {
	out := make(map[int]map[string]int, len(m))
	for k, v := range m {
		out[k] = copyStringIntMap(v)
	}
	return out
}

func copyStringIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WriteRuntimeStats serializes s to its file, atomically (write to a temp
// file in the same directory, then rename) so a crash mid-write never leaves
// a truncated stats file behind.
func (s *RuntimeStats) WriteRuntimeStats() error {
	path := s.runtimeStatsFile
	if path == "" {
		path = fmt.Sprintf("runtime_stats/%s.json", time.Now().UTC().Format("20060102-150405"))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("stats: mkdir %s: %w", dir, err)
		}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("stats: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("stats: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("stats: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}

// SetRuntimeStatsFile overrides the destination path (used for the
// numbered intermediate-MCS dumps).
func (s *RuntimeStats) SetRuntimeStatsFile(path string) { s.runtimeStatsFile = path }

func nowEpoch() float64 {
	t := time.Now()
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}
