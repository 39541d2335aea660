package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// A single package-level instance avoids double-registering the same
// collector names against the default registry across test functions.
var m = New()

func TestRecordReplayIncrementsCounters(t *testing.T) {
	m.RecordReplay(map[string]int{"SwitchFailure": 2}, map[string]int{"LinkFailure": 1})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReplaysTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsMatched.WithLabelValues("SwitchFailure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTimedOut.WithLabelValues("LinkFailure")))
}

func TestRecordViolationIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(m.ViolationsFound)
	m.RecordViolation()
	assert.Equal(t, before+1, testutil.ToFloat64(m.ViolationsFound))
}

func TestSetIterationSizeUpdatesGauge(t *testing.T) {
	m.SetIterationSize(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.IterationSize))
}

func TestObserveDurationsDoNotPanic(t *testing.T) {
	m.ObserveReplayDuration(1.5)
	m.ObservePruneDuration(30.0)
}
