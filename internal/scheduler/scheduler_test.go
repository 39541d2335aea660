package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsys/sts-replay/internal/event"
)

type fakeGate struct{ matched bool }

func (g *fakeGate) Match(event.Fingerprint) bool { return g.matched }

type fakeSim struct{ gate *fakeGate }

func (s *fakeSim) FailSwitch(uint64) error                        { return nil }
func (s *fakeSim) RecoverSwitch(uint64) error                     { return nil }
func (s *fakeSim) FailLink(uint64, uint32, uint64, uint32) error    { return nil }
func (s *fakeSim) RecoverLink(uint64, uint32, uint64, uint32) error { return nil }
func (s *fakeSim) FailController(string) error                    { return nil }
func (s *fakeSim) RecoverController(string) error                 { return nil }
func (s *fakeSim) MigrateHost(uint64, uint32, uint64, uint32) error { return nil }
func (s *fakeSim) ChangePolicy(string) error                      { return nil }
func (s *fakeSim) InjectTraffic(string) error                     { return nil }
func (s *fakeSim) DropDataplane(string) error                     { return nil }
func (s *fakeSim) BlockControlChannel(uint64, string) error       { return nil }
func (s *fakeSim) UnblockControlChannel(uint64, string) error     { return nil }
func (s *fakeSim) Gate() event.GateView                           { return s.gate }
func (s *fakeSim) ObserveState(string, string) bool                { return true }

type fakeIO struct {
	selects int
}

func (f *fakeIO) Select(time.Duration) { f.selects++ }
func (f *fakeIO) Sleep(time.Duration)  {}

func TestScheduleInputEventInjectsAndRecordsMatch(t *testing.T) {
	sim := &fakeSim{}
	io := &fakeIO{}
	s := New(sim, io, DefaultOptions())

	e := &event.InputEvent{EventLabel: "i1", Kind: event.KindSwitchFailure, RecordedTime: event.Timestamp{Sec: 1}}
	err := s.Schedule(e)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats.EventMatched["SwitchFailure"])
}

func TestScheduleInternalEventTimesOutWhenNeverObserved(t *testing.T) {
	sim := &fakeSim{gate: &fakeGate{matched: false}}
	io := &fakeIO{}
	opt := DefaultOptions()
	opt.SleepIntervalSeconds = 0
	s := New(sim, io, opt)

	e := &event.InternalEvent{
		EventLabel:   "n1",
		Kind:         event.KindMessageReceipt,
		RecordedTime: event.Timestamp{Sec: 1},
		Fingerprint:  event.Fingerprint{MessageDigest: "x"},
	}
	// waitTime's InitialWait path keeps the deadline derivation bounded (about
	// InitialWait plus EpsilonSeconds), so the unmatched event times out.
	_ = s.Schedule(e)
	assert.Equal(t, 1, s.Stats.EventTimedOut["MessageReceipt"])
}

func TestScheduleInternalEventMatchesImmediately(t *testing.T) {
	sim := &fakeSim{gate: &fakeGate{matched: true}}
	io := &fakeIO{}
	s := New(sim, io, DefaultOptions())

	e := &event.InternalEvent{
		EventLabel:   "n1",
		Kind:         event.KindMessageReceipt,
		RecordedTime: event.Timestamp{Sec: 1},
		Fingerprint:  event.Fingerprint{MessageDigest: "x"},
	}
	err := s.Schedule(e)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Stats.EventMatched["MessageReceipt"])
}

func TestWaitTimeCorruptTraceGuard(t *testing.T) {
	sim := &fakeSim{}
	io := &fakeIO{}
	s := New(sim, io, DefaultOptions())
	s.lastRealTime = time.Now()
	s.lastRecTime = event.Timestamp{Sec: 0}

	e := &event.InputEvent{EventLabel: "i1", RecordedTime: event.Timestamp{Sec: 20000}}
	_, err := s.waitTime(e)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "way too big")
}

func TestWaitTimeNegativeClampsToZero(t *testing.T) {
	sim := &fakeSim{}
	io := &fakeIO{}
	s := New(sim, io, DefaultOptions())
	s.lastRealTime = time.Now().Add(-10 * time.Second)
	s.lastRecTime = event.Timestamp{Sec: 0}

	e := &event.InputEvent{EventLabel: "i1", RecordedTime: event.Timestamp{Sec: 1}}
	wait, err := s.waitTime(e)
	require.NoError(t, err)
	assert.Equal(t, 0.0, wait)
}

func TestWaitTimeUsesInitialWaitBeforeFirstEvent(t *testing.T) {
	sim := &fakeSim{}
	io := &fakeIO{}
	opt := DefaultOptions()
	opt.InitialWait = 250 * time.Millisecond
	s := New(sim, io, opt)

	e := &event.InputEvent{EventLabel: "i1", RecordedTime: event.Timestamp{Sec: 1}}
	wait, err := s.waitTime(e)
	require.NoError(t, err)
	assert.Equal(t, 0.25, wait)
}

func TestInternalEventTimeoutDisallowedWaitsUntilMatched(t *testing.T) {
	sim := &fakeSim{gate: &fakeGate{matched: false}}
	io := &fakeIO{}
	s := New(sim, io, DefaultOptions())

	sim.gate.matched = true // immediate match so TimeoutDisallowed's huge deadline is never reached
	e := &event.InternalEvent{
		EventLabel:        "n1",
		Kind:              event.KindMessageReceipt,
		RecordedTime:      event.Timestamp{Sec: 1},
		Fingerprint:       event.Fingerprint{MessageDigest: "x"},
		TimeoutDisallowed: true,
	}
	_ = s.Schedule(e)
	assert.Equal(t, 1, s.Stats.EventMatched["MessageReceipt"])
}

func TestDumbSchedulerMatchAndTimeout(t *testing.T) {
	sim := &fakeSim{gate: &fakeGate{matched: true}}
	io := &fakeIO{}
	ds := NewDumbScheduler(sim, io, 0.01, time.Millisecond)

	e := &event.InternalEvent{EventLabel: "n1", Kind: event.KindMessageReceipt, Fingerprint: event.Fingerprint{MessageDigest: "x"}}
	ds.Schedule(e)
	assert.Equal(t, 1, ds.Stats.EventMatched["MessageReceipt"])

	sim.gate.matched = false
	e2 := &event.InternalEvent{EventLabel: "n2", Kind: event.KindMessageReceipt, Fingerprint: event.Fingerprint{MessageDigest: "y"}}
	ds.Schedule(e2)
	assert.Equal(t, 1, ds.Stats.EventTimedOut["MessageReceipt"])
}

func TestStatsString(t *testing.T) {
	s := NewStats()
	e := &event.InputEvent{EventLabel: "i1", Kind: event.KindSwitchFailure}
	s.EventMatchedOccurred(e)
	out := s.String()
	assert.Contains(t, out, "Events matched: 1")
	assert.Contains(t, out, "SwitchFailure")
}
