// Package events provides a named-event listener registry used by the
// observer and router resources. Each resource owns two independent
// emitters: a primary one for functional events and an observer one for
// lifecycle monitoring.
package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives one emitted event.
type Handler[E any] func(E)

type listener[E any] struct {
	id      uint64
	handler Handler[E]
	once    bool
}

// Emitter fans events out to listeners registered under an event name.
// Listeners may subscribe and unsubscribe while an emission is in flight;
// every emission works on a snapshot taken before the first handler runs.
type Emitter[E any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[string][]listener[E]
	logger    *slog.Logger
}

// New creates an emitter. Panics recovered by SafeEmit are logged to logger.
func New[E any](logger *slog.Logger) *Emitter[E] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter[E]{
		listeners: make(map[string][]listener[E]),
		logger:    logger,
	}
}

// On registers handler for name and returns a function that removes it.
func (e *Emitter[E]) On(name string, handler Handler[E]) (off func()) {
	return e.add(name, handler, false)
}

// Once registers handler for a single delivery of name.
func (e *Emitter[E]) Once(name string, handler Handler[E]) (off func()) {
	return e.add(name, handler, true)
}

func (e *Emitter[E]) add(name string, handler Handler[E], once bool) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.listeners[name] = append(e.listeners[name], listener[E]{id: id, handler: handler, once: once})

	return func() { e.remove(name, id) }
}

func (e *Emitter[E]) remove(name string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.listeners[name]
	for i, l := range current {
		if l.id != id {
			continue
		}
		// Copy instead of splicing in place: snapshots held by running
		// emissions share the old backing array.
		next := make([]listener[E], 0, len(current)-1)
		next = append(next, current[:i]...)
		next = append(next, current[i+1:]...)
		if len(next) == 0 {
			delete(e.listeners, name)
		} else {
			e.listeners[name] = next
		}
		return
	}
}

// RemoveAllListeners drops every listener registered for name. An empty
// name drops all listeners of every event.
func (e *Emitter[E]) RemoveAllListeners(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if name == "" {
		e.listeners = make(map[string][]listener[E])
		return
	}
	delete(e.listeners, name)
}

// ListenerCount returns the number of listeners registered for name.
func (e *Emitter[E]) ListenerCount(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[name])
}

// snapshot copies the listener list for name and removes once-listeners
// so they cannot fire twice under concurrent emission.
func (e *Emitter[E]) snapshot(name string) []listener[E] {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.listeners[name]
	if len(current) == 0 {
		return nil
	}
	snap := make([]listener[E], len(current))
	copy(snap, current)

	kept := current[:0:0]
	for _, l := range current {
		if !l.once {
			kept = append(kept, l)
		}
	}
	if len(kept) != len(current) {
		if len(kept) == 0 {
			delete(e.listeners, name)
		} else {
			e.listeners[name] = kept
		}
	}
	return snap
}

// Emit delivers event to every listener of name. A panicking listener
// unwinds into the caller. Reports whether any listener was registered.
func (e *Emitter[E]) Emit(name string, event E) bool {
	snap := e.snapshot(name)
	for _, l := range snap {
		l.handler(event)
	}
	return len(snap) > 0
}

// SafeEmit delivers event like Emit, but a panic in one listener is
// recovered and logged and delivery continues with the next listener.
func (e *Emitter[E]) SafeEmit(name string, event E) bool {
	snap := e.snapshot(name)
	for _, l := range snap {
		e.invoke(name, l, event)
	}
	return len(snap) > 0
}

func (e *Emitter[E]) invoke(name string, l listener[E], event E) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event listener failed",
				"event", name,
				"error", fmt.Sprint(r),
			)
		}
	}()
	l.handler(event)
}
