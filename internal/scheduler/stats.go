package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/netsys/sts-replay/internal/event"
)

// Stats accumulates per-kind matched/timed-out counters across a replay run,
// grounded on the original's EventSchedulerStats.
type Stats struct {
	EventMatched  map[string]int
	EventTimedOut map[string]int

	replayStart time.Time
	recordStart float64
	started     bool
}

// NewStats returns an empty counters set.
func NewStats() *Stats {
	return &Stats{EventMatched: make(map[string]int), EventTimedOut: make(map[string]int)}
}

// StartReplay anchors wall-clock/recorded-time offsets to the first
// scheduled event, for FormatTime's two-clock display.
func (s *Stats) StartReplay(e event.Event) {
	s.replayStart = time.Now()
	s.recordStart = e.Time().AsFloat()
	s.started = true
}

// FormatTime renders "<wall elapsed> <recorded elapsed>" for e, matching the
// original's EventSchedulerStats.time().
func (s *Stats) FormatTime(e event.Event) string {
	if !s.started {
		return ""
	}
	wall := time.Since(s.replayStart).Seconds()
	rec := e.Time().AsFloat() - s.recordStart
	return formatDuration(wall) + " " + formatDuration(rec)
}

func formatDuration(d float64) string {
	mins := int(d / 60)
	secs := int(d) % 60
	ms := int(d*1000) % 1000
	return fmt.Sprintf("%02d:%02d.%03d", mins, secs, ms)
}

// EventMatchedOccurred records a successful proceed() for e.
func (s *Stats) EventMatchedOccurred(e event.Event) {
	s.EventMatched[event.KindName(kindOf(e))]++
}

// EventTimedOutOccurred records a timed-out wait for e.
func (s *Stats) EventTimedOutOccurred(e event.Event) {
	s.EventTimedOut[event.KindName(kindOf(e))]++
}

func kindOf(e event.Event) event.Kind {
	switch ev := e.(type) {
	case *event.InputEvent:
		return ev.Kind
	case *event.InternalEvent:
		return ev.Kind
	default:
		return event.KindUnknown
	}
}

// String renders the same aggregate report as the original's __str__.
func (s *Stats) String() string {
	var b strings.Builder
	totalMatched, totalTimedOut := 0, 0
	for _, c := range s.EventMatched {
		totalMatched += c
	}
	for _, c := range s.EventTimedOut {
		totalTimedOut += c
	}
	fmt.Fprintf(&b, "Events matched: %d, timed out: %d\n", totalMatched, totalTimedOut)
	b.WriteString("Matches per event type:\n")
	for _, kv := range sortedCounts(s.EventMatched) {
		fmt.Fprintf(&b, "  %s %d\n", kv.key, kv.count)
	}
	b.WriteString("Timeouts per event type:\n")
	for _, kv := range sortedCounts(s.EventTimedOut) {
		fmt.Fprintf(&b, "  %s %d\n", kv.key, kv.count)
	}
	return b.String()
}

type kindCount struct {
	key   string
	count int
}

func sortedCounts(m map[string]int) []kindCount {
	out := make([]kindCount, 0, len(m))
	for k, v := range m {
		out = append(out, kindCount{k, v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].count < out[j].count })
	return out
}
