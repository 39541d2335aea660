// Package sim provides the narrow Simulation/Controller/InvariantCheck
// collaborators that scheduled events act against (spec §2, §8: these are
// external actors the engine depends on through small interfaces, not
// reimplemented in depth) plus an in-memory reference Simulation sufficient
// to drive the scheduler and its tests end to end.
//
// Grounded on sts/entities.py's Controller/DeferredOFConnection wiring: the
// reference Simulation below plays the role of the topology + god-scheduler
// glue that file shows, minus any real dataplane/controller process.
package sim

import (
	"fmt"
	"sync"

	"github.com/netsys/sts-replay/internal/event"
	"github.com/netsys/sts-replay/internal/gate"
)

// Controller is the narrow lifecycle contract a real controller process
// collaborator exposes; the reference Simulation below keeps controllers as
// pure alive/dead state and does not itself implement this interface.
type Controller interface {
	ID() string
	Start() error
	Stop() error
	Alive() bool
}

// InvariantCheck is the narrow contract for a post-replay (or periodic)
// correctness check over the simulation's observed state. Violations are
// returned as opaque description strings; the concrete invariant (e.g. a
// connectivity or loop-freedom check) is a substitutable collaborator out of
// this engine's scope.
type InvariantCheck interface {
	Check(sim *Simulation) ([]string, error)
}

// Simulation is a reference in-memory implementation of event.Simulation:
// enough topology bookkeeping to make InputEvent/InternalEvent proceed()
// calls meaningful in tests, without modeling an actual dataplane.
type Simulation struct {
	mu sync.Mutex

	switchesAlive     map[uint64]bool
	linksAlive        map[string]bool
	controllersAlive  map[string]bool
	blockedChannels   map[string]bool
	pendingStates     map[string]string
	injectedTraffic   map[string]bool
	droppedDataplane  map[string]bool
	policy            string

	gate *gate.Gate
}

// New returns a Simulation with every registered entity assumed alive; call
// RegisterSwitch/RegisterLink/RegisterController to seed known entities
// before replay (unknown entities are treated as an error on first failure).
func New(g *gate.Gate) *Simulation {
	return &Simulation{
		switchesAlive:    make(map[uint64]bool),
		linksAlive:       make(map[string]bool),
		controllersAlive: make(map[string]bool),
		blockedChannels:  make(map[string]bool),
		pendingStates:    make(map[string]string),
		injectedTraffic:  make(map[string]bool),
		droppedDataplane: make(map[string]bool),
		gate:             g,
	}
}

func linkKey(startDPID uint64, startPort uint32, endDPID uint64, endPort uint32) string {
	return fmt.Sprintf("%d/%d-%d/%d", startDPID, startPort, endDPID, endPort)
}

func channelKey(dpid uint64, cid string) string {
	return fmt.Sprintf("%d:%s", dpid, cid)
}

// RegisterSwitch/RegisterLink/RegisterController seed a known entity as
// alive, so the first Failure event for it has something to flip.
func (s *Simulation) RegisterSwitch(dpid uint64)        { s.switchesAlive[dpid] = true }
func (s *Simulation) RegisterController(cid string)     { s.controllersAlive[cid] = true }
func (s *Simulation) RegisterLink(startDPID uint64, startPort uint32, endDPID uint64, endPort uint32) {
	s.linksAlive[linkKey(startDPID, startPort, endDPID, endPort)] = true
}

// RegisterEntitiesFromEvents seeds every switch/link/controller mentioned by
// a Failure/Recovery input event in events as alive, so a trace can be
// replayed without the caller hand-listing its topology up front.
func (s *Simulation) RegisterEntitiesFromEvents(events []event.Event) {
	for _, e := range events {
		ie, ok := e.(*event.InputEvent)
		if !ok {
			continue
		}
		switch ie.Kind {
		case event.KindSwitchFailure, event.KindSwitchRecovery:
			s.RegisterSwitch(ie.DPID)
		case event.KindLinkFailure, event.KindLinkRecovery:
			s.RegisterLink(ie.StartDPID, ie.StartPort, ie.EndDPID, ie.EndPort)
		case event.KindControllerFailure, event.KindControllerRecovery:
			s.RegisterController(ie.CID)
		}
	}
}

func (s *Simulation) FailSwitch(dpid uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.switchesAlive[dpid] {
		return fmt.Errorf("sim: unknown switch %d", dpid)
	}
	s.switchesAlive[dpid] = false
	return nil
}

func (s *Simulation) RecoverSwitch(dpid uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.switchesAlive[dpid] = true
	return nil
}

func (s *Simulation) FailLink(startDPID uint64, startPort uint32, endDPID uint64, endPort uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := linkKey(startDPID, startPort, endDPID, endPort)
	if !s.linksAlive[key] {
		return fmt.Errorf("sim: unknown link %s", key)
	}
	s.linksAlive[key] = false
	return nil
}

func (s *Simulation) RecoverLink(startDPID uint64, startPort uint32, endDPID uint64, endPort uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linksAlive[linkKey(startDPID, startPort, endDPID, endPort)] = true
	return nil
}

func (s *Simulation) FailController(cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.controllersAlive[cid] {
		return fmt.Errorf("sim: unknown controller %s", cid)
	}
	s.controllersAlive[cid] = false
	return nil
}

func (s *Simulation) RecoverController(cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controllersAlive[cid] = true
	return nil
}

func (s *Simulation) MigrateHost(oldDPID uint64, oldPort uint32, newDPID uint64, newPort uint32) error {
	return nil
}

func (s *Simulation) ChangePolicy(requestType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = requestType
	return nil
}

func (s *Simulation) InjectTraffic(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injectedTraffic[label] = true
	return nil
}

func (s *Simulation) DropDataplane(label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.droppedDataplane[label] = true
	return nil
}

func (s *Simulation) BlockControlChannel(dpid uint64, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blockedChannels[channelKey(dpid, cid)] = true
	return nil
}

func (s *Simulation) UnblockControlChannel(dpid uint64, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blockedChannels, channelKey(dpid, cid))
	return nil
}

func (s *Simulation) Gate() event.GateView { return s.gate }

// RecordStateChange publishes a controller state-change tuple (e.g. parsed
// off a controller sync-protocol message) for a subsequent InternalEvent's
// ObserveState to consume.
func (s *Simulation) RecordStateChange(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingStates[key] = value
}

// ObserveState implements event.Simulation: it reports whether (key, value)
// was published via RecordStateChange since the last call for this key,
// consuming the observation.
func (s *Simulation) ObserveState(key, value string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingStates[key] == value {
		delete(s.pendingStates, key)
		return true
	}
	return false
}

// SwitchAlive/LinkAlive/ControllerAlive let an InvariantCheck collaborator
// inspect current topology state.
func (s *Simulation) SwitchAlive(dpid uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switchesAlive[dpid]
}

func (s *Simulation) LinkAlive(startDPID uint64, startPort uint32, endDPID uint64, endPort uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linksAlive[linkKey(startDPID, startPort, endDPID, endPort)]
}

func (s *Simulation) ControllerAlive(cid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controllersAlive[cid]
}

// SwitchesSnapshot/ControllersSnapshot/LinksSnapshot return a point-in-time
// copy of entity liveness, for InvariantCheck collaborators to scan without
// holding the simulation's lock.
func (s *Simulation) SwitchesSnapshot() map[uint64]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]bool, len(s.switchesAlive))
	for k, v := range s.switchesAlive {
		out[k] = v
	}
	return out
}

func (s *Simulation) ControllersSnapshot() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.controllersAlive))
	for k, v := range s.controllersAlive {
		out[k] = v
	}
	return out
}

func (s *Simulation) LinksSnapshot() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.linksAlive))
	for k, v := range s.linksAlive {
		out[k] = v
	}
	return out
}
