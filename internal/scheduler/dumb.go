package scheduler

import (
	"log/slog"
	"time"

	"github.com/netsys/sts-replay/internal/event"
)

// DumbScheduler is a fixed-interval scheduler that sleeps the recorded
// inter-event delta and then polls with a flat epsilon window, without any
// of EventScheduler's speedup/initial-wait/corrupt-trace accounting. It is
// not wired into the default replay path (Scheduler is): kept as an
// alternate pacing strategy, grounded on the original's DumbEventScheduler.
type DumbScheduler struct {
	sim Simulation
	io  IOMux

	EpsilonSeconds       float64
	SleepIntervalSeconds time.Duration

	lastEvent event.Event
	Stats     *Stats
}

// NewDumbScheduler builds a DumbScheduler with the given epsilon/sleep
// interval, matching DumbEventScheduler's constructor defaults.
func NewDumbScheduler(sim Simulation, io IOMux, epsilonSeconds float64, sleepInterval time.Duration) *DumbScheduler {
	if sleepInterval == 0 {
		sleepInterval = 200 * time.Millisecond
	}
	return &DumbScheduler{sim: sim, io: io, EpsilonSeconds: epsilonSeconds, SleepIntervalSeconds: sleepInterval, Stats: NewStats()}
}

// Schedule sleeps for the recorded delta since the last scheduled event (if
// any), then polls e until it proceeds or epsilon elapses.
func (s *DumbScheduler) Schedule(e event.Event) {
	if s.lastEvent != nil {
		recDelta := e.Time().AsFloat() - s.lastEvent.Time().AsFloat()
		if recDelta > 0 {
			slog.Debug("sleeping before next event", "ms", recDelta*1000)
			s.io.Sleep(durationFromSeconds(recDelta))
		}
	} else {
		s.Stats.StartReplay(e)
	}
	slog.Debug("waiting for event", "event", e.Label(), "epsilon_ms", s.EpsilonSeconds*1000)

	end := nowFloat() + s.EpsilonSeconds
	proceeded := false
	for {
		if e.Proceed(s.sim) {
			proceeded = true
			break
		}
		if nowFloat() > end {
			break
		}
		s.io.Select(s.SleepIntervalSeconds)
	}
	if proceeded {
		s.Stats.EventMatchedOccurred(e)
	} else {
		s.Stats.EventTimedOutOccurred(e)
	}
	s.lastEvent = e
}
