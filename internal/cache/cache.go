// Package cache implements PrecomputeCache (spec §4.6): an in-memory set of
// canonicalized input-sequence fingerprints already replayed, so ddmin never
// re-tests the same subset twice. Grounded on the shape described for
// MCSFinder's precompute_cache collaborator in mcs_finder.py (already_done /
// update), reconstructed here since the original source's
// util/precompute_cache.py was not retrieved — only its call sites were.
package cache

import "strings"

// fingerprint canonicalizes an ordered label sequence into a cache key.
func fingerprint(labels []string) string {
	return strings.Join(labels, "\x00")
}

// PrecomputeCache is the narrow contract ddmin needs from its dedup
// collaborator: Cache and RedisCache satisfy it. PowerSetCache does not,
// because its Update also takes the replay's verdict.
type PrecomputeCache interface {
	AlreadyDone(labels []string) bool
	Update(labels []string)
}

// Cache is the plain antichain-free variant: every tested sequence is
// remembered verbatim.
type Cache struct {
	done map[string]bool
}

// New returns an empty Cache.
func New() *Cache {
	return &Cache{done: make(map[string]bool)}
}

// AlreadyDone reports whether this exact label sequence has been tested.
func (c *Cache) AlreadyDone(labels []string) bool {
	return c.done[fingerprint(labels)]
}

// Update records labels as tested.
func (c *Cache) Update(labels []string) {
	c.done[fingerprint(labels)] = true
}

// PowerSetCache additionally propagates a violating/non-violating verdict to
// every superset/subset: once a sequence is known to violate, every superset
// is redundant to test (still violates, by the dependency-closure/atom
// monotonicity the ddmin proofs rely on); once known non-violating, every
// subset is redundant. Implemented as two antichains (minimal violating
// sets, maximal non-violating sets) rather than materializing the full
// power set.
type PowerSetCache struct {
	violating    []map[string]bool // antichain of minimal violating sets, as label sets
	nonViolating []map[string]bool // antichain of maximal non-violating sets, as label sets
}

// NewPowerSet returns an empty PowerSetCache.
func NewPowerSet() *PowerSetCache {
	return &PowerSetCache{}
}

func toSet(labels []string) map[string]bool {
	s := make(map[string]bool, len(labels))
	for _, l := range labels {
		s[l] = true
	}
	return s
}

func isSubset(a, b map[string]bool) bool {
	for l := range a {
		if !b[l] {
			return false
		}
	}
	return true
}

// AlreadyDone reports whether labels is implied done by the recorded
// verdicts: a superset of some known-violating set, or a subset of some
// known-non-violating set.
func (c *PowerSetCache) AlreadyDone(labels []string) bool {
	set := toSet(labels)
	for _, v := range c.violating {
		if isSubset(v, set) {
			return true
		}
	}
	for _, nv := range c.nonViolating {
		if isSubset(set, nv) {
			return true
		}
	}
	return false
}

// Update records a tested sequence's verdict. It prunes any antichain member
// made redundant by the new entry (a new violating set that is a subset of
// an existing one makes the existing one redundant, and vice versa).
func (c *PowerSetCache) Update(labels []string, violated bool) {
	set := toSet(labels)
	if violated {
		kept := c.violating[:0]
		for _, v := range c.violating {
			if !isSubset(set, v) {
				kept = append(kept, v)
			}
		}
		c.violating = append(kept, set)
		return
	}
	kept := c.nonViolating[:0]
	for _, nv := range c.nonViolating {
		if !isSubset(nv, set) {
			kept = append(kept, nv)
		}
	}
	c.nonViolating = append(kept, set)
}
