// Package eventdag implements the ordered event sequence and its
// input/internal projection operators described in spec §3 and §4.4.
package eventdag

import (
	"github.com/netsys/sts-replay/internal/event"
)

// Atom is an indivisible group of input events — typically a Failure paired
// with its matching Recovery — that the minimizer must include or exclude as
// a whole (spec §4.4 "Atom integrity").
type Atom struct {
	Labels []string
}

// root holds the data shared by every view derived from the same original
// trace: the full ordered event sequence plus precomputed dependency and
// atom-grouping information. Views are cheap projections over root, not
// independent copies, satisfying the "do not rebuild the entire dag per
// call" performance note in spec §4.4.
type root struct {
	all           []event.Event
	inputLabels   []string            // all input labels, original order
	causingInputs map[string][]string // internal label -> every input label whose DependentLabels names it
	atoms         []Atom
	labelToAtom   map[string]int
}

// EventDag is an ordered view over a trace: a subset of labels considered
// "present", materialized in original order.
type EventDag struct {
	r       *root
	present map[string]bool // nil means "all present" (the root view)
	events  []event.Event   // materialized, in original order
}

// New builds the root EventDag from a full ordered event sequence (as
// produced by trace.Parse).
func New(events []event.Event) *EventDag {
	r := &root{
		all:           events,
		causingInputs: make(map[string][]string),
		labelToAtom:   make(map[string]int),
	}
	for _, e := range events {
		if e.IsInput() {
			r.inputLabels = append(r.inputLabels, e.Label())
		}
	}
	for _, e := range events {
		ie, ok := e.(*event.InputEvent)
		if !ok {
			continue
		}
		for _, dep := range ie.DependentLabels {
			r.causingInputs[dep] = append(r.causingInputs[dep], ie.Label())
		}
	}
	r.atoms = buildAtoms(events)
	for i, a := range r.atoms {
		for _, l := range a.Labels {
			r.labelToAtom[l] = i
		}
	}
	return &EventDag{r: r, present: nil, events: events}
}

// buildAtoms pairs each Failure with the next matching Recovery of the same
// entity (by dpid / link endpoints / cid) that appears later in the trace;
// unmatched inputs (including non-failure/recovery kinds) form singleton
// atoms. Matching is by entity identity and ordering, per spec §3.
func buildAtoms(events []event.Event) []Atom {
	var atoms []Atom
	consumed := make(map[string]bool)

	entityKey := func(ie *event.InputEvent) string {
		switch ie.Kind {
		case event.KindSwitchFailure, event.KindSwitchRecovery:
			return "switch"
		case event.KindLinkFailure, event.KindLinkRecovery:
			return "link"
		case event.KindControllerFailure, event.KindControllerRecovery:
			return "controller"
		default:
			return ""
		}
	}
	identity := func(ie *event.InputEvent) string {
		switch ie.Kind {
		case event.KindSwitchFailure, event.KindSwitchRecovery:
			return entityKey(ie) + ":" + itoa(ie.DPID)
		case event.KindLinkFailure, event.KindLinkRecovery:
			return entityKey(ie) + ":" + itoa(ie.StartDPID) + "/" + itoa(uint64(ie.StartPort)) +
				"-" + itoa(ie.EndDPID) + "/" + itoa(uint64(ie.EndPort))
		case event.KindControllerFailure, event.KindControllerRecovery:
			return entityKey(ie) + ":" + ie.CID
		default:
			return ""
		}
	}
	isFailure := func(k event.Kind) bool {
		return k == event.KindSwitchFailure || k == event.KindLinkFailure || k == event.KindControllerFailure
	}
	isRecovery := func(k event.Kind) bool {
		return k == event.KindSwitchRecovery || k == event.KindLinkRecovery || k == event.KindControllerRecovery
	}

	var inputs []*event.InputEvent
	for _, e := range events {
		if ie, ok := e.(*event.InputEvent); ok {
			inputs = append(inputs, ie)
		}
	}

	for i, ie := range inputs {
		if consumed[ie.Label()] {
			continue
		}
		if !isFailure(ie.Kind) {
			continue
		}
		id := identity(ie)
		for j := i + 1; j < len(inputs); j++ {
			other := inputs[j]
			if consumed[other.Label()] {
				continue
			}
			if isRecovery(other.Kind) && identity(other) == id {
				atoms = append(atoms, Atom{Labels: []string{ie.Label(), other.Label()}})
				consumed[ie.Label()] = true
				consumed[other.Label()] = true
				break
			}
		}
	}
	for _, ie := range inputs {
		if !consumed[ie.Label()] {
			atoms = append(atoms, Atom{Labels: []string{ie.Label()}})
		}
	}
	return atoms
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Events returns the full ordered sequence present in this view.
func (d *EventDag) Events() []event.Event { return d.events }

// Len returns the number of events present in this view.
func (d *EventDag) Len() int { return len(d.events) }

// InputEvents projects the view to its input events, order-preserving.
func (d *EventDag) InputEvents() []*event.InputEvent {
	var out []*event.InputEvent
	for _, e := range d.events {
		if ie, ok := e.(*event.InputEvent); ok {
			out = append(out, ie)
		}
	}
	return out
}

// InputLabels returns the labels of InputEvents() in order.
func (d *EventDag) InputLabels() []string {
	ins := d.InputEvents()
	labels := make([]string, len(ins))
	for i, e := range ins {
		labels[i] = e.Label()
	}
	return labels
}

// AtomicInputEvents groups this view's input events into atoms, preserving
// only atoms whose every member label is present in this view (an atom can
// never be split across views produced by AtomicInputSubset/InsertAtomicInputs).
func (d *EventDag) AtomicInputEvents() []Atom {
	present := d.presentSet()
	var out []Atom
	seen := make(map[int]bool)
	for _, label := range d.InputLabels() {
		idx, ok := d.r.labelToAtom[label]
		if !ok || seen[idx] {
			continue
		}
		atom := d.r.atoms[idx]
		whole := true
		for _, l := range atom.Labels {
			if !present[l] {
				whole = false
				break
			}
		}
		if whole {
			seen[idx] = true
			out = append(out, atom)
		}
	}
	return out
}

// presentSet returns the label membership of this view (all labels if this
// is the root view).
func (d *EventDag) presentSet() map[string]bool {
	if d.present != nil {
		return d.present
	}
	all := make(map[string]bool, len(d.events))
	for _, e := range d.events {
		all[e.Label()] = true
	}
	return all
}

// buildView filters root.all to the input labels in inputSet, including
// every internal event whose full causing-input set sits inside inputSet
// (the dependency-closure invariant of spec §3), in original order.
func (d *EventDag) buildView(inputSet map[string]bool) *EventDag {
	present := make(map[string]bool, len(inputSet))
	var out []event.Event
	for _, e := range d.r.all {
		switch ev := e.(type) {
		case *event.InputEvent:
			if inputSet[ev.Label()] {
				present[ev.Label()] = true
				out = append(out, e)
			}
		case *event.InternalEvent:
			causes := d.r.causingInputs[ev.Label()]
			include := true
			for _, c := range causes {
				if !inputSet[c] {
					include = false
					break
				}
			}
			if include {
				present[ev.Label()] = true
				out = append(out, e)
			}
		}
	}
	return &EventDag{r: d.r, present: present, events: out}
}

// InputSubset returns a new dag containing only inputs in labels plus all of
// their declared internal dependents, in original order (spec §3).
func (d *EventDag) InputSubset(labels []string) *EventDag {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	return d.buildView(set)
}

// InputComplement returns InputSubset(inputs(d) \ labels).
func (d *EventDag) InputComplement(labels []string) *EventDag {
	excluded := make(map[string]bool, len(labels))
	for _, l := range labels {
		excluded[l] = true
	}
	var remaining []string
	for _, l := range d.InputLabels() {
		if !excluded[l] {
			remaining = append(remaining, l)
		}
	}
	return d.InputSubset(remaining)
}

// AtomicInputSubset builds the subset dag containing exactly the given
// atoms (each included whole), plus their internal dependents.
func (d *EventDag) AtomicInputSubset(atoms []Atom) *EventDag {
	var labels []string
	for _, a := range atoms {
		labels = append(labels, a.Labels...)
	}
	return d.InputSubset(labels)
}

// InsertAtomicInputs returns InputSubset(inputs(d) ∪ atoms) — the carryover
// union operation used by the efficient ddmin variant (spec §4.8).
func (d *EventDag) InsertAtomicInputs(atoms []Atom) *EventDag {
	set := make(map[string]bool)
	for _, l := range d.InputLabels() {
		set[l] = true
	}
	for _, a := range atoms {
		for _, l := range a.Labels {
			set[l] = true
		}
	}
	var labels []string
	for l := range set {
		labels = append(labels, l)
	}
	return d.InputSubset(labels)
}

// MarkInvalidInputSequences drops input sequences that cannot possibly
// replay: a Recovery with no preceding Failure of the same entity in trace
// order (spec §3).
func (d *EventDag) MarkInvalidInputSequences() *EventDag {
	liveEntities := make(map[string]bool) // entity key -> currently failed
	var keep []string
	for _, ie := range d.InputEvents() {
		switch ie.Kind {
		case event.KindSwitchRecovery:
			key := "switch:" + itoa(ie.DPID)
			if !liveEntities[key] {
				continue // drop: recovery without prior failure
			}
			liveEntities[key] = false
		case event.KindSwitchFailure:
			liveEntities["switch:"+itoa(ie.DPID)] = true
		case event.KindLinkRecovery:
			key := "link:" + itoa(ie.StartDPID) + "-" + itoa(ie.EndDPID)
			if !liveEntities[key] {
				continue
			}
			liveEntities[key] = false
		case event.KindLinkFailure:
			liveEntities["link:"+itoa(ie.StartDPID)+"-"+itoa(ie.EndDPID)] = true
		case event.KindControllerRecovery:
			key := "controller:" + ie.CID
			if !liveEntities[key] {
				continue
			}
			liveEntities[key] = false
		case event.KindControllerFailure:
			liveEntities["controller:"+ie.CID] = true
		}
		keep = append(keep, ie.Label())
	}
	return d.InputSubset(keep)
}

// FilterUnsupportedInputTypes drops event classes the scheduler cannot
// interpret (i.e. events that failed to resolve to a known Kind during
// parsing) per spec §3.
func (d *EventDag) FilterUnsupportedInputTypes() *EventDag {
	var keep []string
	for _, ie := range d.InputEvents() {
		if ie.Kind != event.KindUnknown {
			keep = append(keep, ie.Label())
		}
	}
	return d.InputSubset(keep)
}

// SplitList partitions items into n roughly equal contiguous groups,
// matching the Python original's split_list helper used by ddmin.
func SplitList[T any](items []T, n int) [][]T {
	if n <= 0 {
		n = 1
	}
	if n > len(items) {
		n = len(items)
	}
	if n == 0 {
		return nil
	}
	out := make([][]T, n)
	base := len(items) / n
	rem := len(items) % n
	idx := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		out[i] = items[idx : idx+size]
		idx += size
	}
	return out
}
