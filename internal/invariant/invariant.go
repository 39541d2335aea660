// Package invariant provides the small named-check registry the CLI
// resolves `simulation.invariant_check` against. Per spec §6, the concrete
// invariant predicate is a substitutable collaborator outside the engine's
// core scope; this registry exists so the CLI has a runnable default rather
// than requiring every user to link in their own checker.
package invariant

import (
	"fmt"

	"github.com/netsys/sts-replay/internal/sim"
)

// Check evaluates a completed replay's simulation state and returns a list
// of violation descriptors (empty = no violation), per spec §6.
type Check func(s *sim.Simulation) ([]string, error)

var registry = map[string]Check{
	"any_switch_down":       AnySwitchDown,
	"any_controller_down":   AnyControllerDown,
	"any_link_down":         AnyLinkDown,
	"no_violation":          func(*sim.Simulation) ([]string, error) { return nil, nil },
}

// Lookup resolves a named invariant check. ConfigError per spec §7 if the
// name is unregistered.
func Lookup(name string) (Check, error) {
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("invariant: unknown invariant check %q", name)
	}
	return c, nil
}

// Register adds or overrides a named check, letting a caller wire in a
// domain-specific predicate without forking this package.
func Register(name string, c Check) { registry[name] = c }

// AnySwitchDown is a toy invariant used by the test scenarios of spec §8:
// it reports a violation if any registered switch is currently down.
func AnySwitchDown(s *sim.Simulation) ([]string, error) {
	var violations []string
	for dpid, alive := range s.SwitchesSnapshot() {
		if !alive {
			violations = append(violations, fmt.Sprintf("switch %d is down", dpid))
		}
	}
	return violations, nil
}

// AnyControllerDown reports a violation if any registered controller is
// currently down.
func AnyControllerDown(s *sim.Simulation) ([]string, error) {
	var violations []string
	for cid, alive := range s.ControllersSnapshot() {
		if !alive {
			violations = append(violations, fmt.Sprintf("controller %s is down", cid))
		}
	}
	return violations, nil
}

// AnyLinkDown reports a violation if any registered link is currently down.
func AnyLinkDown(s *sim.Simulation) ([]string, error) {
	var violations []string
	for link, alive := range s.LinksSnapshot() {
		if !alive {
			violations = append(violations, fmt.Sprintf("link %s is down", link))
		}
	}
	return violations, nil
}
