package mcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsys/sts-replay/internal/event"
	"github.com/netsys/sts-replay/internal/eventdag"
	"github.com/netsys/sts-replay/internal/replay"
)

func fiveIndependentInputs() []event.Event {
	var events []event.Event
	for i := 1; i <= 5; i++ {
		events = append(events, &event.InputEvent{
			EventLabel: label(i),
			Kind:       event.KindSwitchFailure,
			DPID:       uint64(i),
			RoundNo:    i,
		})
	}
	return events
}

func label(i int) string {
	return "i" + string(rune('0'+i))
}

// replayFuncCulprit reports a violation iff culprit is present in the
// candidate dag's inputs, modeling a single-cause minimal-failure scenario.
func replayFuncCulprit(culprit string) ReplayFunc {
	return func(dag *eventdag.EventDag) (*replay.Result, []string, error) {
		for _, l := range dag.InputLabels() {
			if l == culprit {
				return &replay.Result{MatchedEvents: map[string]int{}, TimedOutEvents: map[string]int{}}, []string{"violation: " + culprit + " present"}, nil
			}
		}
		return &replay.Result{MatchedEvents: map[string]int{}, TimedOutEvents: map[string]int{}}, nil, nil
	}
}

func TestRunFindsMinimalCausalSubset(t *testing.T) {
	replay.ResetCounters()
	dag := eventdag.New(fiveIndependentInputs())
	f := New(dag, Options{NoViolationVerificationRuns: 1}, replayFuncCulprit("i3"))

	result, err := f.Run()
	require.NoError(t, err)
	assert.Equal(t, []string{"i3"}, result.InputLabels())
}

func TestRunNotReproducibleReturnsSentinelError(t *testing.T) {
	dag := eventdag.New(fiveIndependentInputs())
	noViolation := func(dag *eventdag.EventDag) (*replay.Result, []string, error) {
		return &replay.Result{}, nil, nil
	}
	f := New(dag, Options{NoViolationVerificationRuns: 1}, noViolation)

	_, err := f.Run()
	assert.ErrorIs(t, err, ErrNotReproducible)
}

func TestRunEfficientFindsMinimalCausalSubset(t *testing.T) {
	replay.ResetCounters()
	dag := eventdag.New(fiveIndependentInputs())
	f := New(dag, Options{NoViolationVerificationRuns: 1}, replayFuncCulprit("i4"))

	result, err := f.RunEfficient()
	require.NoError(t, err)
	assert.Equal(t, []string{"i4"}, result.InputLabels())
}

func TestReplayErrorTreatedAsNoViolation(t *testing.T) {
	dag := eventdag.New(fiveIndependentInputs())
	alwaysErrors := func(dag *eventdag.EventDag) (*replay.Result, []string, error) {
		return nil, nil, assertError{}
	}
	f := New(dag, Options{NoViolationVerificationRuns: 1}, alwaysErrors)

	violations := f.replay(dag)
	assert.Empty(t, violations)
}

type assertError struct{}

func (assertError) Error() string { return "simulated resource error" }

type fakeProgress struct {
	subsetTested, violationFound, mcsShrunk int
	done                                    bool
	finalSize                               int
}

func (p *fakeProgress) SubsetTested(iteration, size int, label string)   { p.subsetTested++ }
func (p *fakeProgress) ViolationFound(iteration, size int, label string) { p.violationFound++ }
func (p *fakeProgress) MCSShrunk(iteration, size int, label string)      { p.mcsShrunk++ }
func (p *fakeProgress) Done(finalSize int)                              { p.done = true; p.finalSize = finalSize }

type fakeMetrics struct {
	replays, violations int
	lastSize            int
}

func (m *fakeMetrics) RecordReplay(matched, timedOut map[string]int) { m.replays++ }
func (m *fakeMetrics) RecordViolation()                              { m.violations++ }
func (m *fakeMetrics) SetIterationSize(n int)                        { m.lastSize = n }
func (m *fakeMetrics) ObserveReplayDuration(seconds float64)         {}
func (m *fakeMetrics) ObservePruneDuration(seconds float64)          {}

func TestRunNotifiesProgressAndMetrics(t *testing.T) {
	replay.ResetCounters()
	dag := eventdag.New(fiveIndependentInputs())
	f := New(dag, Options{NoViolationVerificationRuns: 1}, replayFuncCulprit("i2"))
	p := &fakeProgress{}
	m := &fakeMetrics{}
	f.SetProgress(p)
	f.SetMetrics(m)

	_, err := f.Run()
	require.NoError(t, err)
	assert.True(t, p.done)
	assert.Equal(t, 1, p.finalSize)
	assert.Greater(t, p.subsetTested, 0)
	assert.Greater(t, p.violationFound, 0)
	assert.Greater(t, m.replays, 0)
	assert.Greater(t, m.violations, 0)
}

func TestRunStatusReflectsPhaseAndSize(t *testing.T) {
	dag := eventdag.New(fiveIndependentInputs())
	f := New(dag, Options{NoViolationVerificationRuns: 1}, replayFuncCulprit("i1"))

	status := f.RunStatus()
	assert.Equal(t, "", status.Phase, "phase is unset before Run is called")

	_, err := f.Run()
	require.NoError(t, err)
	status = f.RunStatus()
	assert.Equal(t, "done", status.Phase)
	assert.Equal(t, 1, status.CurrentSize)
}
