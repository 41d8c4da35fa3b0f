package producer

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Resolver turns a wire-level producer id into a live producer. It returns
// nil when the producer is unknown or already closed.
type Resolver func(producerID string) *Producer

// Registry manages the producers known to one router.
type Registry struct {
	producers map[string]*Producer
	logger    *slog.Logger
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		producers: make(map[string]*Producer),
		logger:    logger.With("component", "producers"),
	}
}

// Add registers p. Ids must be unique.
func (r *Registry) Add(p *Producer) error {
	if p == nil || p.ID() == "" {
		return fmt.Errorf("producer id required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.producers[p.ID()]; exists {
		return fmt.Errorf("producer already exists: %s", p.ID())
	}
	r.producers[p.ID()] = p

	r.logger.Debug("producer added", "id", p.ID(), "kind", p.Kind())
	return nil
}

// Get retrieves a producer by id, closed or not.
func (r *Registry) Get(id string) (*Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.producers[id]
	if !ok {
		return nil, fmt.Errorf("producer not found: %s", id)
	}
	return p, nil
}

// Resolve implements Resolver. Closed producers resolve to nil so that
// stale references are never handed to observers.
func (r *Registry) Resolve(id string) *Producer {
	r.mu.RLock()
	p, ok := r.producers[id]
	r.mu.RUnlock()

	if !ok || p.Closed() {
		return nil
	}
	return p
}

// Remove closes and forgets the producer with the given id.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	p, ok := r.producers[id]
	if ok {
		delete(r.producers, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("producer not found: %s", id)
	}
	p.Close()

	r.logger.Debug("producer removed", "id", id)
	return nil
}

// List returns all producers ordered by id.
func (r *Registry) List() []*Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Producer, 0, len(r.producers))
	for _, p := range r.producers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Len returns the number of registered producers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.producers)
}
