// Package scheduler implements the EventScheduler of spec §4.3: it paces
// replay against the original recorded timing, injecting InputEvents and
// waiting for InternalEvents to be observed, within a bounded slack window.
//
// Grounded on sts/control_flow/event_scheduler.py (EventScheduler,
// DumbEventScheduler, EventSchedulerStats); the wait-time arithmetic below —
// including the "-0.01" slack and the 10000-second corrupt-trace guard —
// reproduces that file's formulas exactly.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/netsys/sts-replay/internal/event"
)

// IOMux is the narrow collaborator the scheduler paces itself against: a
// select/sleep loop, satisfied by *iomux.Multiplexer.
type IOMux interface {
	Select(timeout time.Duration)
	Sleep(d time.Duration)
}

// Options configures an EventScheduler's pacing. DefaultOptions holds the
// original's keyword-argument defaults; a zero Speedup is treated as 1.0.
type Options struct {
	Speedup              float64
	DelayInputEvents      bool
	InitialWait          time.Duration
	EpsilonSeconds       float64
	SleepIntervalSeconds time.Duration
}

// DefaultOptions mirrors EventScheduler's __init__ defaults.
func DefaultOptions() Options {
	return Options{
		Speedup:              1.0,
		DelayInputEvents:      true,
		InitialWait:          500 * time.Millisecond,
		EpsilonSeconds:       0.5,
		SleepIntervalSeconds: 200 * time.Millisecond,
	}
}

// corruptTraceSeconds is the "to_wait is way too big" guard from the
// original: a wait this large means the trace's recorded timestamps are
// inconsistent with real elapsed time.
const corruptTraceSeconds = 10000.0

// Scheduler paces event admission against recorded trace timing.
type Scheduler struct {
	sim Simulation
	io  IOMux
	opt Options

	lastRealTime time.Time
	lastRecTime  event.Timestamp
	started      bool

	Stats *Stats
}

// Simulation is the collaborator a scheduled event proceeds against.
type Simulation = event.Simulation

// New builds a Scheduler with the given options.
func New(sim Simulation, io IOMux, opt Options) *Scheduler {
	return &Scheduler{sim: sim, io: io, opt: opt, Stats: NewStats()}
}

// Schedule admits one event: InputEvents are delayed-then-injected,
// InternalEvents are polled for until observed or the deadline passes.
func (s *Scheduler) Schedule(e event.Event) error {
	if !s.started {
		s.Stats.StartReplay(e)
		s.started = true
	}

	var err error
	if e.IsInput() {
		err = s.injectInput(e)
	} else {
		s.waitForInternal(e)
	}
	s.updateEventTime(e)
	return err
}

func (s *Scheduler) injectInput(e event.Event) error {
	if s.opt.DelayInputEvents {
		wait, err := s.waitTime(e)
		if err != nil {
			return err
		}
		if wait > 0.01 {
			slog.Debug("delaying input event", "event", e.Label(), "wait_ms", wait*1000)
			s.io.Sleep(durationFromSeconds(wait))
		}
	}
	slog.Debug("injecting event", "event", e.Label())
	end := e.Time().AsFloat()
	s.pollEvent(e, end)
	return nil
}

func (s *Scheduler) waitForInternal(e event.Event) {
	wait, err := s.waitTime(e)
	if err != nil {
		slog.Warn("wait_time computation rejected, treating as timed out", "event", e.Label(), "err", err)
		s.Stats.EventTimedOutOccurred(e)
		return
	}
	start := nowFloat()
	end := start + wait - 0.01 + s.opt.EpsilonSeconds

	internal, _ := e.(*event.InternalEvent)
	if internal != nil && internal.TimeoutDisallowed {
		// "Really far in the future" per the original: 30000000000 unix
		// seconds (Fri, 30 Aug 2920).
		end = 30000000000
		slog.Debug("waiting forever", "event", e.Label())
	} else {
		slog.Debug("waiting for event", "event", e.Label(), "epsilon_ms", s.opt.EpsilonSeconds*1000)
	}
	s.pollEvent(e, end)
}

// pollEvent repeatedly calls Proceed until it succeeds or endTime (a unix
// epoch float) passes, sleeping the multiplexer's select interval between
// attempts so pending I/O keeps flowing.
func (s *Scheduler) pollEvent(e event.Event, endTime float64) {
	for {
		if e.Proceed(s.sim) {
			s.Stats.EventMatchedOccurred(e)
			s.updateEventTime(e)
			return
		}
		if nowFloat() > endTime {
			s.Stats.EventTimedOutOccurred(e)
			return
		}
		s.io.Select(s.opt.SleepIntervalSeconds)
	}
}

func (s *Scheduler) updateEventTime(e event.Event) {
	s.lastRealTime = time.Now()
	s.lastRecTime = e.Time()
}

// waitTime returns how long to wait, in seconds, before e should occur or be
// injected, matching the original's formula exactly including the
// corrupt-trace guard.
func (s *Scheduler) waitTime(e event.Event) (float64, error) {
	if s.lastRealTime.IsZero() {
		return s.opt.InitialWait.Seconds(), nil
	}
	speedup := s.opt.Speedup
	if speedup == 0 {
		speedup = 1.0
	}
	recDelta := (e.Time().AsFloat() - s.lastRecTime.AsFloat()) / speedup
	realDelta := nowFloat() - float64(s.lastRealTime.Unix()) - float64(s.lastRealTime.Nanosecond())/1e9

	toWait := recDelta - realDelta
	if toWait > corruptTraceSeconds {
		return 0, fmt.Errorf("scheduler: wait time %.0fms is way too big for event %s", toWait*1000, e.Label())
	}
	if toWait < 0 {
		return 0, nil
	}
	return toWait, nil
}

func nowFloat() float64 {
	t := time.Now()
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

func durationFromSeconds(secs float64) time.Duration {
	if secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
