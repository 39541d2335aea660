// Package replay implements the Replayer of spec §4.5: it orchestrates one
// end-to-end replay of an EventDag against a simulation, and reports the
// deltas an MCSFinder iteration needs (newly observed internal events,
// causality violations, match/timeout counters).
//
// Grounded on mcs_finder.py's MCSFinder.replay and _track_new_internal_events;
// the "new internal events" diff follows that method's logic exactly
// (compare pending receipts still buffered at the end of this run against
// the prior run's .unacked buffer, removing matched entries as it walks).
// The "early internal events" / causality-violation detection resolves the
// specification's open question about duplicate fingerprints by
// canonicalizing per-fingerprint occurrence order within the dag explicitly,
// rather than leaving the matching rule implicit.
package replay

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/netsys/sts-replay/internal/eventdag"
	"github.com/netsys/sts-replay/internal/event"
	"github.com/netsys/sts-replay/internal/gate"
	"github.com/netsys/sts-replay/internal/iomux"
	"github.com/netsys/sts-replay/internal/procset"
	"github.com/netsys/sts-replay/internal/scheduler"
	"github.com/netsys/sts-replay/internal/trace"
)

// totalReplays / totalInputsReplayed are process-wide counters mirroring the
// original's Replayer.total_replays / total_inputs_replayed class
// attributes, which RuntimeStats keys its per-iteration records by.
var (
	totalReplays        int64
	totalInputsReplayed int64
)

// TotalReplays returns the number of Replay calls made so far, process-wide.
func TotalReplays() int64 { return atomic.LoadInt64(&totalReplays) }

// TotalInputsReplayed returns the number of input events injected so far,
// process-wide, across all replays.
func TotalInputsReplayed() int64 { return atomic.LoadInt64(&totalInputsReplayed) }

// ResetCounters zeroes the process-wide replay counters; used when a fresh
// minimization run needs to discount a reproducibility-verification phase
// per mcs_finder.py's "Replayer.total_replays = 0" reset.
func ResetCounters() {
	atomic.StoreInt64(&totalReplays, 0)
	atomic.StoreInt64(&totalInputsReplayed, 0)
}

// Config configures one Replay call.
type Config struct {
	SchedulerOptions   scheduler.Options
	EndWaitSeconds     float64 // sleep after the run, before invariant check
	SuperlogPath       string  // if set, enables the new-internal-events diff against SuperlogPath+".unacked"
}

// Result is what one replay reports back to the minimizer. The simulation
// handle itself is not part of Result: callers already hold it, since they
// constructed the Replayer's collaborators before calling Replay.
type Result struct {
	NewInternalEvents   []string
	EarlyInternalEvents []string
	MatchedEvents       map[string]int
	TimedOutEvents      map[string]int

	// AmbiguousCounts/AmbiguousEvents resolve the open question in spec §9
	// about duplicate fingerprints: a fingerprint key is "ambiguous" when
	// more than one internal event in this dag shares it, since matching
	// then depends on trace-order rather than on the fingerprint alone.
	AmbiguousCounts map[string]int
	AmbiguousEvents map[string][]string
}

// Replayer orchestrates a single replay given its collaborators. Collaborators
// are constructed by the caller (typically MCSFinder) fresh per replay, so
// that CleanUp tears down exactly what this Replay call created.
type Replayer struct {
	Sim   scheduler.Simulation
	Gate  *gate.Gate
	IO    *iomux.Multiplexer
	Procs *procset.Set
}

// Replay runs dag forward through the scheduler to completion and reports
// the observed deltas.
func (r *Replayer) Replay(dag *eventdag.EventDag, cfg Config) (*Result, error) {
	atomic.AddInt64(&totalReplays, 1)

	sched := scheduler.New(r.Sim, r.IO, cfg.SchedulerOptions)
	dupOrder := buildDuplicateFingerprintOrder(dag)

	var early []string
	for _, e := range dag.Events() {
		ie, isInternal := e.(*event.InternalEvent)
		matchedBefore := 0
		if isInternal {
			matchedBefore = sched.Stats.EventMatched[event.KindName(ie.Kind)]
		}
		if err := sched.Schedule(e); err != nil {
			return nil, fmt.Errorf("replay: %w", err)
		}
		if e.IsInput() {
			atomic.AddInt64(&totalInputsReplayed, 1)
			continue
		}
		if !isInternal {
			continue
		}
		if sched.Stats.EventMatched[event.KindName(ie.Kind)] == matchedBefore {
			continue // wasn't matched this run; can't be "early"
		}
		if violation := dupOrder.observe(ie); violation != "" {
			early = append(early, violation)
		}
	}

	if cfg.EndWaitSeconds > 0 {
		time.Sleep(time.Duration(cfg.EndWaitSeconds * float64(time.Second)))
	}

	newInternal, err := r.newInternalEvents(cfg.SuperlogPath)
	if err != nil {
		return nil, err
	}

	ambigCounts, ambigEvents := dupOrder.ambiguous()

	return &Result{
		NewInternalEvents:   newInternal,
		EarlyInternalEvents: early,
		MatchedEvents:       sched.Stats.EventMatched,
		TimedOutEvents:      sched.Stats.EventTimedOut,
		AmbiguousCounts:     ambigCounts,
		AmbiguousEvents:     ambigEvents,
	}, nil
}

// CleanUp releases this replay's resources: closes all I/O workers and
// kills any controller processes this replay registered.
func (r *Replayer) CleanUp() {
	if r.IO != nil {
		r.IO.CloseAll()
	}
	if r.Procs != nil {
		r.Procs.KillAll()
	}
}

// newInternalEvents diffs this run's still-buffered pending receives against
// the prior run's ".unacked" buffer, removing matched entries as it walks
// (mirrors _track_new_internal_events exactly, including the
// remove-first-match semantics under duplicate fingerprints).
func (r *Replayer) newInternalEvents(superlogPath string) ([]string, error) {
	if superlogPath == "" {
		return nil, nil
	}
	prevUnacked, exists, err := trace.ParseUnacked(superlogPath)
	if err != nil {
		return nil, fmt.Errorf("replay: parsing unacked buffer: %w", err)
	}
	if !exists {
		return nil, nil
	}
	prevStrings := make([]string, len(prevUnacked))
	for i, ie := range prevUnacked {
		prevStrings[i] = ie.Fingerprint.String()
	}

	var fresh []string
	for _, p := range r.Gate.PendingReceives() {
		key := p.Fingerprint.String()
		if idx := indexOf(prevStrings, key); idx >= 0 {
			prevStrings = append(prevStrings[:idx], prevStrings[idx+1:]...)
		} else {
			fresh = append(fresh, fmt.Sprintf("pending_receipt(dpid=%d,cid=%s,digest=%s)", p.DPID, p.CID, p.Fingerprint.MessageDigest))
		}
	}
	return fresh, nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// duplicateFingerprintOrder tracks, per fingerprint, the trace-ordered
// sequence of internal-event labels sharing it, and the position we expect
// to satisfy next. A match for a label that is not next in that sequence is
// a causality violation: a later-logged occurrence of this fingerprint was
// observed before an earlier one.
type duplicateFingerprintOrder struct {
	order map[string][]string // fp key -> ordered labels
	next  map[string]int      // fp key -> index of next expected label
}

func buildDuplicateFingerprintOrder(dag *eventdag.EventDag) *duplicateFingerprintOrder {
	d := &duplicateFingerprintOrder{order: make(map[string][]string), next: make(map[string]int)}
	for _, e := range dag.Events() {
		ie, ok := e.(*event.InternalEvent)
		if !ok {
			continue
		}
		key := ie.Fingerprint.String()
		d.order[key] = append(d.order[key], ie.Label())
	}
	return d
}

// observe records that ie matched, returning a non-empty violation
// description if it fired out of its fingerprint group's logged order.
func (d *duplicateFingerprintOrder) observe(ie *event.InternalEvent) string {
	key := ie.Fingerprint.String()
	labels := d.order[key]
	if len(labels) < 2 {
		return "" // no duplicate occurrences of this fingerprint; cannot be "early"
	}
	idx := d.next[key]
	pos := indexOf(labels, ie.Label())
	if pos != idx {
		return fmt.Sprintf("%s observed before %s (shared fingerprint %s)", ie.Label(), labels[idx], key)
	}
	d.next[key] = idx + 1
	return ""
}

// ambiguous returns, for every fingerprint shared by more than one internal
// event in the dag, its occurrence count and the labels sharing it.
func (d *duplicateFingerprintOrder) ambiguous() (map[string]int, map[string][]string) {
	counts := make(map[string]int)
	events := make(map[string][]string)
	for key, labels := range d.order {
		if len(labels) < 2 {
			continue
		}
		counts[key] = len(labels)
		events[key] = labels
	}
	return counts, events
}
