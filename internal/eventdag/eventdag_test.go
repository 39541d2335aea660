package eventdag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netsys/sts-replay/internal/event"
)

func sampleEvents() []event.Event {
	return []event.Event{
		&event.InputEvent{EventLabel: "i1", Kind: event.KindSwitchFailure, DPID: 1, DependentLabels: []string{"n1"}},
		&event.InternalEvent{EventLabel: "n1", Kind: event.KindStateChange},
		&event.InputEvent{EventLabel: "i2", Kind: event.KindSwitchRecovery, DPID: 1},
		&event.InputEvent{EventLabel: "i3", Kind: event.KindLinkFailure, StartDPID: 1, EndDPID: 2, DependentLabels: []string{"n2"}},
		&event.InternalEvent{EventLabel: "n2", Kind: event.KindStateChange},
	}
}

func TestNewAndInputEvents(t *testing.T) {
	dag := New(sampleEvents())
	labels := dag.InputLabels()
	assert.Equal(t, []string{"i1", "i2", "i3"}, labels)
	assert.Equal(t, 5, dag.Len())
}

func TestInputSubsetIncludesDependencyClosure(t *testing.T) {
	dag := New(sampleEvents())
	sub := dag.InputSubset([]string{"i1"})
	labels := make([]string, 0)
	for _, e := range sub.Events() {
		labels = append(labels, e.Label())
	}
	assert.Equal(t, []string{"i1", "n1"}, labels, "n1 depends only on i1 and must be pulled in")
}

func TestInputSubsetExcludesPartiallyCoveredDependents(t *testing.T) {
	e := []event.Event{
		&event.InputEvent{EventLabel: "i1", Kind: event.KindSwitchFailure, DependentLabels: []string{"n1"}},
		&event.InputEvent{EventLabel: "i2", Kind: event.KindSwitchFailure, DependentLabels: []string{"n1"}},
		&event.InternalEvent{EventLabel: "n1", Kind: event.KindStateChange},
	}
	dag := New(e)
	sub := dag.InputSubset([]string{"i1"})
	for _, ev := range sub.Events() {
		assert.NotEqual(t, "n1", ev.Label(), "n1 requires both i1 and i2 present")
	}
}

func TestInputComplement(t *testing.T) {
	dag := New(sampleEvents())
	comp := dag.InputComplement([]string{"i1"})
	assert.Equal(t, []string{"i2", "i3"}, comp.InputLabels())
}

func TestAtomIntegrityPairsFailureWithRecovery(t *testing.T) {
	dag := New(sampleEvents())
	atoms := dag.AtomicInputEvents()
	require.Len(t, atoms, 2)

	var pairFound, singletonFound bool
	for _, a := range atoms {
		if len(a.Labels) == 2 {
			assert.ElementsMatch(t, []string{"i1", "i2"}, a.Labels)
			pairFound = true
		} else {
			assert.Equal(t, []string{"i3"}, a.Labels)
			singletonFound = true
		}
	}
	assert.True(t, pairFound)
	assert.True(t, singletonFound)
}

func TestAtomicInputSubsetNeverSplitsAnAtom(t *testing.T) {
	dag := New(sampleEvents())
	atoms := dag.AtomicInputEvents()
	var pair Atom
	for _, a := range atoms {
		if len(a.Labels) == 2 {
			pair = a
		}
	}
	sub := dag.AtomicInputSubset([]Atom{pair})
	assert.ElementsMatch(t, []string{"i1", "i2"}, sub.InputLabels())
}

func TestInsertAtomicInputsUnion(t *testing.T) {
	dag := New(sampleEvents())
	base := dag.InputSubset([]string{"i3"})
	withCarryover := base.InsertAtomicInputs([]Atom{{Labels: []string{"i1", "i2"}}})
	assert.ElementsMatch(t, []string{"i1", "i2", "i3"}, withCarryover.InputLabels())
}

func TestMarkInvalidInputSequencesDropsOrphanRecovery(t *testing.T) {
	e := []event.Event{
		&event.InputEvent{EventLabel: "i1", Kind: event.KindSwitchRecovery, DPID: 1},
		&event.InputEvent{EventLabel: "i2", Kind: event.KindSwitchFailure, DPID: 2},
		&event.InputEvent{EventLabel: "i3", Kind: event.KindSwitchRecovery, DPID: 2},
	}
	dag := New(e).MarkInvalidInputSequences()
	assert.Equal(t, []string{"i2", "i3"}, dag.InputLabels())
}

func TestFilterUnsupportedInputTypes(t *testing.T) {
	e := []event.Event{
		&event.InputEvent{EventLabel: "i1", Kind: event.KindUnknown},
		&event.InputEvent{EventLabel: "i2", Kind: event.KindSwitchFailure},
	}
	dag := New(e).FilterUnsupportedInputTypes()
	assert.Equal(t, []string{"i2"}, dag.InputLabels())
}

func TestSplitListEvenAndUneven(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	parts := SplitList(items, 2)
	require.Len(t, parts, 2)
	assert.Equal(t, []int{1, 2, 3}, parts[0])
	assert.Equal(t, []int{4, 5}, parts[1])

	single := SplitList(items, 1)
	require.Len(t, single, 1)
	assert.Equal(t, items, single[0])
}

func TestSplitListNMoreThanLen(t *testing.T) {
	items := []int{1, 2}
	parts := SplitList(items, 5)
	assert.Len(t, parts, 2)
}

func TestSplitListEmpty(t *testing.T) {
	parts := SplitList([]int{}, 3)
	assert.Nil(t, parts)
}
