package server

import (
	"slices"
	"sync"
)

// activeRooms is the ordered set of room names that have had at least one
// member, kept in first-activation order. A name keeps its position while
// its room empties and refills; it is only forgotten when the room record
// is deleted.
type activeRooms struct {
	mu     sync.Mutex
	order  []string
	active map[string]bool
}

func newActiveRooms() *activeRooms {
	return &activeRooms{
		active: make(map[string]bool),
	}
}

// set marks a room active or inactive. When the active set changes, notify
// is called with the new snapshot while the lock is still held.
func (a *activeRooms) set(name string, isActive bool, notify func([]string)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active[name] == isActive {
		return
	}

	if isActive {
		a.active[name] = true
		if !slices.Contains(a.order, name) {
			a.order = append(a.order, name)
		}
	} else {
		delete(a.active, name)
	}

	if notify != nil {
		notify(a.snapshot())
	}
}

// forget drops an inactive room from the ordering.
func (a *activeRooms) forget(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active[name] {
		return
	}
	a.order = slices.DeleteFunc(a.order, func(n string) bool { return n == name })
}

func (a *activeRooms) names() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.snapshot()
}

// view runs fn with the current snapshot under the lock, so fn is ordered
// with respect to every notify callback.
func (a *activeRooms) view(fn func([]string)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fn(a.snapshot())
}

func (a *activeRooms) snapshot() []string {
	names := make([]string, 0, len(a.active))
	for _, n := range a.order {
		if a.active[n] {
			names = append(names, n)
		}
	}
	return names
}
