package hooks

import "sync"

// Registry is the process-wide mutable hook store, mapping trigger to an
// ordered sequence of hooks. It is exposed behind an interface so tests can
// install a fresh instance per test rather than relying on import-time
// global registration (spec §9: "registration on import is forbidden").
type Registry interface {
	Register(h Hook)
	Snapshot(trigger Trigger) []Hook
}

type memRegistry struct {
	mu      sync.Mutex
	next    int
	byTrigger map[Trigger][]Hook
}

var _ Registry = (*memRegistry)(nil)

// NewRegistry returns a fresh, empty Registry.
func NewRegistry() Registry {
	return &memRegistry{byTrigger: map[Trigger][]Hook{}}
}

// Register adds h under its trigger. A hook with a duplicate name under the
// same trigger replaces the prior registration in place.
func (r *memRegistry) Register(h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byTrigger[h.Trigger]
	for i, existing := range list {
		if existing.Name == h.Name {
			h.registrationOrder = existing.registrationOrder
			list[i] = h
			r.byTrigger[h.Trigger] = list
			return
		}
	}
	h.registrationOrder = r.next
	r.next++
	r.byTrigger[h.Trigger] = append(list, h)
}

// Snapshot returns the hooks for trigger in priority order (ties broken by
// registration order), safe to iterate without holding the registry lock.
func (r *memRegistry) Snapshot(trigger Trigger) []Hook {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := append([]Hook(nil), r.byTrigger[trigger]...)
	sortByPriority(list)
	return list
}

func sortByPriority(list []Hook) {
	// insertion sort: the hook count per trigger is always small and this
	// keeps the comparator trivial to reason about (priority, then
	// registration order as a stable tie-break).
	for i := 1; i < len(list); i++ {
		j := i
		for j > 0 && less(list[j], list[j-1]) {
			list[j], list[j-1] = list[j-1], list[j]
			j--
		}
	}
}

func less(a, b Hook) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.registrationOrder < b.registrationOrder
}
