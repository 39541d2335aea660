package event

import "fmt"

// Kind is the closed set of event variants. Dynamic dispatch on a class-name
// string (as the Python original does) is replaced here with a small
// registry mapping variant tag to wire-format name (see kindNames /
// nameToKind below), per the sum-type guidance in the spec's design notes.
type Kind int

const (
	KindUnknown Kind = iota

	// Input event variants.
	KindSwitchFailure
	KindSwitchRecovery
	KindLinkFailure
	KindLinkRecovery
	KindControllerFailure
	KindControllerRecovery
	KindHostMigration
	KindPolicyChange
	KindTrafficInjection
	KindDataplaneDrop
	KindControlChannelBlock
	KindControlChannelUnblock

	// Internal event variants.
	KindMessageReceipt
	KindStateChange
)

var kindNames = map[Kind]string{
	KindSwitchFailure:       "SwitchFailure",
	KindSwitchRecovery:      "SwitchRecovery",
	KindLinkFailure:         "LinkFailure",
	KindLinkRecovery:        "LinkRecovery",
	KindControllerFailure:   "ControllerFailure",
	KindControllerRecovery:  "ControllerRecovery",
	KindHostMigration:       "HostMigration",
	KindPolicyChange:        "PolicyChange",
	KindTrafficInjection:    "TrafficInjection",
	KindDataplaneDrop:       "DataplaneDrop",
	KindControlChannelBlock: "ControlChannelBlock",
	KindControlChannelUnblock: "ControlChannelUnblock",
	KindMessageReceipt:      "MessageReceipt",
	KindStateChange:         "StateChange",
}

var nameToKind = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, v := range kindNames {
		m[v] = k
	}
	return m
}()

// KindName returns the wire-format class name for a Kind.
func KindName(k Kind) string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// KindFromName resolves a wire-format class name to its Kind. The second
// return value is false for classes the scheduler cannot interpret at all
// (used by EventDag.FilterUnsupportedInputTypes).
func KindFromName(name string) (Kind, bool) {
	k, ok := nameToKind[name]
	return k, ok
}

// IsInputKind reports whether a Kind belongs to the InputEvent family.
func IsInputKind(k Kind) bool {
	switch k {
	case KindSwitchFailure, KindSwitchRecovery, KindLinkFailure, KindLinkRecovery,
		KindControllerFailure, KindControllerRecovery, KindHostMigration,
		KindPolicyChange, KindTrafficInjection, KindDataplaneDrop,
		KindControlChannelBlock, KindControlChannelUnblock:
		return true
	default:
		return false
	}
}

// OptimizedFilteringOrder is the class order tried by MCSFinder's optional
// pre-ddmin pruning pass (spec §4.7).
var OptimizedFilteringOrder = []Kind{
	KindTrafficInjection, KindDataplaneDrop, KindSwitchFailure, KindSwitchRecovery,
	KindLinkFailure, KindLinkRecovery, KindHostMigration, KindControllerFailure,
	KindControllerRecovery, KindPolicyChange, KindControlChannelBlock,
	KindControlChannelUnblock,
}

// Fingerprint identifies an InternalEvent's observable for equality matching
// against pending gate items: either a buffered controller<->switch message
// or a controller state-change tuple.
type Fingerprint struct {
	DPID          uint64
	CID           string
	MessageDigest string
	StateKey      string
	StateValue    string
}

func (f Fingerprint) String() string {
	if f.MessageDigest != "" {
		return fmt.Sprintf("msg(dpid=%d,cid=%s,digest=%s)", f.DPID, f.CID, f.MessageDigest)
	}
	return fmt.Sprintf("state(%s=%s)", f.StateKey, f.StateValue)
}

// Event is the common contract for both InputEvent and InternalEvent: a
// single proceed() operation that the scheduler polls until it returns true
// or the event's deadline passes.
type Event interface {
	Label() string
	Time() Timestamp
	Round() int
	IsInput() bool
	Proceed(sim Simulation) bool
}

// Simulation is the narrow collaborator contract events need in order to
// proceed: inject themselves (input events) or check whether they have been
// observed (internal events). The concrete simulation, topology, and
// controller-process lifecycle are substitutable collaborators per spec §6;
// this interface is deliberately small.
type Simulation interface {
	FailSwitch(dpid uint64) error
	RecoverSwitch(dpid uint64) error
	FailLink(startDPID uint64, startPort uint32, endDPID uint64, endPort uint32) error
	RecoverLink(startDPID uint64, startPort uint32, endDPID uint64, endPort uint32) error
	FailController(cid string) error
	RecoverController(cid string) error
	MigrateHost(oldDPID uint64, oldPort uint32, newDPID uint64, newPort uint32) error
	ChangePolicy(requestType string) error
	InjectTraffic(label string) error
	DropDataplane(label string) error
	BlockControlChannel(dpid uint64, cid string) error
	UnblockControlChannel(dpid uint64, cid string) error
	Gate() GateView
	// ObserveState reports whether the controller state-change tuple
	// (key, value) has been observed since the last call for this key.
	ObserveState(key, value string) bool
}

// GateView is the slice of DeferredConnectionGate an InternalEvent needs: a
// lookup that, on match, also releases the matched pending item (spec §4.2:
// "if so, it also releases that item").
type GateView interface {
	Match(fp Fingerprint) bool
}

// InputEvent is an externally-injected event. DependentLabels names the
// internal events this input caused in the original run — the basis for
// EventDag's dependency-closure pruning (spec §3 Invariant).
type InputEvent struct {
	EventLabel      string
	RecordedTime    Timestamp
	RoundNo         int
	DependentLabels []string
	Kind            Kind

	// Fingerprint fields, populated per Kind. Unused fields for a given
	// Kind stay zero-valued; see superlog field table in spec §6.
	DPID           uint64
	PortNo         uint32
	StartDPID      uint64
	StartPort      uint32
	EndDPID        uint64
	EndPort        uint32
	CID            string
	OldIngressDPID uint64
	OldIngressPort uint32
	NewIngressDPID uint64
	NewIngressPort uint32
	RequestType    string
}

func (e *InputEvent) Label() string    { return e.EventLabel }
func (e *InputEvent) Time() Timestamp  { return e.RecordedTime }
func (e *InputEvent) Round() int       { return e.RoundNo }
func (e *InputEvent) IsInput() bool    { return true }

// Proceed performs the injection named by e.Kind and returns true if it
// succeeded. Every variant here is expected to succeed unless the
// collaborator simulation rejects it (e.g., unknown dpid).
func (e *InputEvent) Proceed(sim Simulation) bool {
	var err error
	switch e.Kind {
	case KindSwitchFailure:
		err = sim.FailSwitch(e.DPID)
	case KindSwitchRecovery:
		err = sim.RecoverSwitch(e.DPID)
	case KindLinkFailure:
		err = sim.FailLink(e.StartDPID, e.StartPort, e.EndDPID, e.EndPort)
	case KindLinkRecovery:
		err = sim.RecoverLink(e.StartDPID, e.StartPort, e.EndDPID, e.EndPort)
	case KindControllerFailure:
		err = sim.FailController(e.CID)
	case KindControllerRecovery:
		err = sim.RecoverController(e.CID)
	case KindHostMigration:
		err = sim.MigrateHost(e.OldIngressDPID, e.OldIngressPort, e.NewIngressDPID, e.NewIngressPort)
	case KindPolicyChange:
		err = sim.ChangePolicy(e.RequestType)
	case KindTrafficInjection:
		err = sim.InjectTraffic(e.EventLabel)
	case KindDataplaneDrop:
		err = sim.DropDataplane(e.EventLabel)
	case KindControlChannelBlock:
		err = sim.BlockControlChannel(e.DPID, e.CID)
	case KindControlChannelUnblock:
		err = sim.UnblockControlChannel(e.DPID, e.CID)
	default:
		return false
	}
	return err == nil
}

// InternalEvent is an event observed inside the controller(s) under
// simulation: a pending message receipt/send, or a recorded state change.
// TimeoutDisallowed, if true, forces the scheduler to wait indefinitely
// (spec §4.3 step 4).
type InternalEvent struct {
	EventLabel        string
	RecordedTime      Timestamp
	RoundNo           int
	Kind              Kind
	Fingerprint       Fingerprint
	TimeoutDisallowed bool
}

func (e *InternalEvent) Label() string   { return e.EventLabel }
func (e *InternalEvent) Time() Timestamp { return e.RecordedTime }
func (e *InternalEvent) Round() int      { return e.RoundNo }
func (e *InternalEvent) IsInput() bool   { return false }

// Proceed returns true iff the expected observation has been made: for a
// MessageReceipt/MessageSend fingerprint, that the gate holds a matching
// pending item (released as a side effect); for a StateChange fingerprint,
// that the simulation's controller state matches.
func (e *InternalEvent) Proceed(sim Simulation) bool {
	if e.Kind == KindStateChange {
		return sim.ObserveState(e.Fingerprint.StateKey, e.Fingerprint.StateValue)
	}
	return sim.Gate().Match(e.Fingerprint)
}
