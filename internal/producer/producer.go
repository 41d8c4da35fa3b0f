// Package producer tracks the live media producers an observer can be
// pointed at. Observers only ever look producers up by id; they never own
// them.
package producer

import (
	"sync"
)

// Kind is the media kind of a producer.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Producer is an application-level handle for one inbound media stream.
type Producer struct {
	id      string
	kind    Kind
	appData map[string]any

	mu     sync.RWMutex
	closed bool
	paused bool
}

// New creates an open producer handle.
func New(id string, kind Kind, appData map[string]any) *Producer {
	if appData == nil {
		appData = make(map[string]any)
	}
	return &Producer{
		id:      id,
		kind:    kind,
		appData: appData,
	}
}

// ID returns the producer id.
func (p *Producer) ID() string { return p.id }

// Kind returns the media kind.
func (p *Producer) Kind() Kind { return p.kind }

// AppData returns the custom application data.
func (p *Producer) AppData() map[string]any { return p.appData }

// Closed reports whether the producer has been closed.
func (p *Producer) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Paused reports whether the producer is paused.
func (p *Producer) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// SetPaused updates the paused flag.
func (p *Producer) SetPaused(paused bool) {
	p.mu.Lock()
	p.paused = paused
	p.mu.Unlock()
}

// Close marks the producer closed. Closing twice is a no-op.
func (p *Producer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
