package channel

import (
	"fmt"
	"sync"
)

// Listener wraps a callback so it has an identity: registering the same
// *Listener twice under one event is a no-op, and Off removes it by pointer.
type Listener struct {
	fn func(data interface{})
}

func NewListener(fn func(data interface{})) *Listener {
	return &Listener{fn: fn}
}

func (l *Listener) invoke(data interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panicked: %v", r)
		}
	}()

	if l.fn != nil {
		l.fn(data)
	}
	return nil
}

type registry struct {
	mu        sync.RWMutex
	listeners map[Event]map[*Listener]struct{}
}

func newRegistry() *registry {
	return &registry{
		listeners: make(map[Event]map[*Listener]struct{}),
	}
}

// add reports whether l was newly registered.
func (r *registry) add(event Event, l *Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.listeners[event]
	if !ok {
		set = make(map[*Listener]struct{})
		r.listeners[event] = set
	}
	if _, exists := set[l]; exists {
		return false
	}
	set[l] = struct{}{}
	return true
}

func (r *registry) remove(event Event, l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.listeners[event]
	if !ok {
		return
	}
	delete(set, l)
	if len(set) == 0 {
		delete(r.listeners, event)
	}
}

func (r *registry) snapshot(event Event) []*Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.listeners[event]
	out := make([]*Listener, 0, len(set))
	for l := range set {
		out = append(out, l)
	}
	return out
}

func (r *registry) count(event Event) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners[event])
}
