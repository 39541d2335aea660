package replay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsys/sts-replay/internal/event"
	"github.com/netsys/sts-replay/internal/eventdag"
	"github.com/netsys/sts-replay/internal/gate"
	"github.com/netsys/sts-replay/internal/iomux"
	"github.com/netsys/sts-replay/internal/procset"
	"github.com/netsys/sts-replay/internal/scheduler"
	"github.com/netsys/sts-replay/internal/sim"
)

func TestTotalReplaysIncrementsAndResets(t *testing.T) {
	ResetCounters()
	assert.Equal(t, int64(0), TotalReplays())

	dag := eventdag.New([]event.Event{
		&event.InputEvent{EventLabel: "i1", Kind: event.KindSwitchFailure, DPID: 1},
	})
	g := gate.New()
	s := sim.New(g)
	s.RegisterSwitch(1)
	r := &Replayer{Sim: s, Gate: g, IO: iomux.New(), Procs: procset.New()}
	defer r.CleanUp()

	_, err := r.Replay(dag, Config{SchedulerOptions: scheduler.DefaultOptions()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), TotalReplays())
	assert.Equal(t, int64(1), TotalInputsReplayed())

	ResetCounters()
	assert.Equal(t, int64(0), TotalReplays())
}

func TestReplayRecordsMatchedAndTimedOutEvents(t *testing.T) {
	ResetCounters()
	g := gate.New()
	s := sim.New(g)
	s.RegisterSwitch(1)
	s.RecordStateChange("k", "v")

	dag := eventdag.New([]event.Event{
		&event.InputEvent{EventLabel: "i1", Kind: event.KindSwitchFailure, DPID: 1},
		&event.InternalEvent{EventLabel: "n1", Kind: event.KindStateChange, Fingerprint: event.Fingerprint{StateKey: "k", StateValue: "v"}},
		&event.InternalEvent{EventLabel: "n2", Kind: event.KindStateChange, Fingerprint: event.Fingerprint{StateKey: "never", StateValue: "observed"}},
	})

	opt := scheduler.DefaultOptions()
	opt.SleepIntervalSeconds = 0
	opt.EpsilonSeconds = 0.02
	r := &Replayer{Sim: s, Gate: g, IO: iomux.New(), Procs: procset.New()}
	defer r.CleanUp()

	result, err := r.Replay(dag, Config{SchedulerOptions: opt})
	require.NoError(t, err)
	assert.Equal(t, 1, result.MatchedEvents["StateChange"])
	assert.Equal(t, 1, result.TimedOutEvents["StateChange"])
}

func TestReplayDetectsAmbiguousFingerprints(t *testing.T) {
	ResetCounters()
	g := gate.New()
	s := sim.New(g)
	s.RecordStateChange("k", "v")
	s.RecordStateChange("k", "v") // same key: overwrites, so only n1 can match

	dag := eventdag.New([]event.Event{
		&event.InternalEvent{EventLabel: "n1", Kind: event.KindStateChange, Fingerprint: event.Fingerprint{StateKey: "k", StateValue: "v"}},
		&event.InternalEvent{EventLabel: "n2", Kind: event.KindStateChange, Fingerprint: event.Fingerprint{StateKey: "k", StateValue: "v"}},
	})

	r := &Replayer{Sim: s, Gate: g, IO: iomux.New(), Procs: procset.New()}
	defer r.CleanUp()

	result, err := r.Replay(dag, Config{SchedulerOptions: scheduler.DefaultOptions()})
	require.NoError(t, err)
	require.Len(t, result.AmbiguousEvents, 1)
	for _, labels := range result.AmbiguousEvents {
		assert.ElementsMatch(t, []string{"n1", "n2"}, labels)
	}
}

func TestNewInternalEventsDiffAgainstUnackedBuffer(t *testing.T) {
	dir := t.TempDir()
	superlog := filepath.Join(dir, "superlog.json")
	unacked := superlog + ".unacked"
	content := `{"class":"MessageReceipt","label":"prior","time":[1,0],"round":0,"message_digest":"seen"}` + "\n"
	require.NoError(t, os.WriteFile(unacked, []byte(content), 0o644))

	g := gate.New()
	g.RegisterConnection("c1", func([]byte) error { return nil }, func([]byte) error { return nil })
	g.InsertPendingReceipt(0, "", "c1", nil, event.Fingerprint{MessageDigest: "new-one"})

	r := &Replayer{Gate: g}
	fresh, err := r.newInternalEvents(superlog)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Contains(t, fresh[0], "new-one")
}

func TestNewInternalEventsNoSuperlogPathSkipsDiff(t *testing.T) {
	r := &Replayer{Gate: gate.New()}
	fresh, err := r.newInternalEvents("")
	require.NoError(t, err)
	assert.Nil(t, fresh)
}

func TestDuplicateFingerprintOrderDetectsOutOfOrderMatch(t *testing.T) {
	dag := eventdag.New([]event.Event{
		&event.InternalEvent{EventLabel: "n1", Kind: event.KindStateChange, Fingerprint: event.Fingerprint{StateKey: "k", StateValue: "v"}},
		&event.InternalEvent{EventLabel: "n2", Kind: event.KindStateChange, Fingerprint: event.Fingerprint{StateKey: "k", StateValue: "v"}},
	})
	d := buildDuplicateFingerprintOrder(dag)

	n2 := &event.InternalEvent{EventLabel: "n2", Fingerprint: event.Fingerprint{StateKey: "k", StateValue: "v"}}
	violation := d.observe(n2)
	assert.NotEmpty(t, violation, "n2 observed before n1 in its logged order should be flagged")
}

func TestDuplicateFingerprintOrderInOrderNoViolation(t *testing.T) {
	dag := eventdag.New([]event.Event{
		&event.InternalEvent{EventLabel: "n1", Kind: event.KindStateChange, Fingerprint: event.Fingerprint{StateKey: "k", StateValue: "v"}},
		&event.InternalEvent{EventLabel: "n2", Kind: event.KindStateChange, Fingerprint: event.Fingerprint{StateKey: "k", StateValue: "v"}},
	})
	d := buildDuplicateFingerprintOrder(dag)

	n1 := &event.InternalEvent{EventLabel: "n1", Fingerprint: event.Fingerprint{StateKey: "k", StateValue: "v"}}
	n2 := &event.InternalEvent{EventLabel: "n2", Fingerprint: event.Fingerprint{StateKey: "k", StateValue: "v"}}
	assert.Empty(t, d.observe(n1))
	assert.Empty(t, d.observe(n2))
}

func TestDuplicateFingerprintOrderSingleOccurrenceNeverAmbiguous(t *testing.T) {
	dag := eventdag.New([]event.Event{
		&event.InternalEvent{EventLabel: "n1", Kind: event.KindStateChange, Fingerprint: event.Fingerprint{StateKey: "k", StateValue: "v"}},
	})
	d := buildDuplicateFingerprintOrder(dag)
	counts, events := d.ambiguous()
	assert.Empty(t, counts)
	assert.Empty(t, events)
}
