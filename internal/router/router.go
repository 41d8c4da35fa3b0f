// Package router implements the parent resource that creates RTP observers
// in a remote worker and tears them down when it closes.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/clawinfra/rtpobserver/internal/channel"
	"github.com/clawinfra/rtpobserver/internal/events"
	"github.com/clawinfra/rtpobserver/internal/observer"
	"github.com/clawinfra/rtpobserver/internal/producer"
)

// Worker methods issued by a router.
const (
	MethodCreateAudioLevelObserver = "router.createAudioLevelObserver"
	MethodClose                    = "router.close"
)

// Observer stream events.
const (
	EventClose          = "close"
	EventNewRtpObserver = "newrtpobserver"
	EventWorkerClose    = "workerclose"
)

// ErrClosed is returned when creating observers on a closed router.
var ErrClosed = errors.New("router closed")

// Event is delivered on the router observer stream. RtpObserver is set for
// newrtpobserver.
type Event struct {
	RtpObserver *observer.AudioLevelObserver
}

// createAudioLevelObserverRequest is the payload of
// router.createAudioLevelObserver.
type createAudioLevelObserverRequest struct {
	RtpObserverID string `json:"rtpObserverId"`
	MaxEntries    uint16 `json:"maxEntries"`
	Threshold     int8   `json:"threshold"`
	Interval      uint16 `json:"interval"`
}

// Router owns the observers it created.
type Router struct {
	id        string
	channel   channel.Channel
	producers *producer.Registry
	logger    *slog.Logger

	observer *events.Emitter[Event]

	mu        sync.Mutex
	closed    bool
	observers map[string]*observer.AudioLevelObserver
}

// New creates an open router bound to ch. producers resolves the producer
// ids observers report.
func New(id string, ch channel.Channel, producers *producer.Registry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "router", "id", id)
	return &Router{
		id:        id,
		channel:   ch,
		producers: producers,
		logger:    logger,
		observer:  events.New[Event](logger),
		observers: make(map[string]*observer.AudioLevelObserver),
	}
}

// ID returns the router id.
func (r *Router) ID() string {
	return r.id
}

// Closed reports whether the router is closed.
func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Observer returns the monitoring stream.
func (r *Router) Observer() *events.Emitter[Event] {
	return r.observer
}

// RtpObserver returns a tracked observer by id.
func (r *Router) RtpObserver(id string) (*observer.AudioLevelObserver, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.observers[id]
	return o, ok
}

// RtpObservers returns the tracked observers sorted by id.
func (r *Router) RtpObservers() []*observer.AudioLevelObserver {
	r.mu.Lock()
	list := make([]*observer.AudioLevelObserver, 0, len(r.observers))
	for _, o := range r.observers {
		list = append(list, o)
	}
	r.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// CreateAudioLevelObserver validates opts, asks the worker to create the
// observer and tracks the result until it closes.
func (r *Router) CreateAudioLevelObserver(ctx context.Context, opts observer.AudioLevelObserverOptions) (*observer.AudioLevelObserver, error) {
	if r.Closed() {
		return nil, ErrClosed
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	r.logger.Debug("createAudioLevelObserver()")

	internal := channel.Internal{RouterID: r.id, RtpObserverID: uuid.NewString()}
	reqData := createAudioLevelObserverRequest{
		RtpObserverID: internal.RtpObserverID,
		MaxEntries:    opts.MaxEntries,
		Threshold:     opts.Threshold,
		Interval:      opts.Interval,
	}

	if _, err := r.channel.Request(ctx, MethodCreateAudioLevelObserver, channel.Internal{RouterID: r.id}, reqData); err != nil {
		return nil, fmt.Errorf("create audio level observer: %w", err)
	}

	var resolve producer.Resolver
	if r.producers != nil {
		resolve = r.producers.Resolve
	}
	o := observer.NewAudioLevelObserver(observer.Options{
		Internal:        internal,
		Channel:         r.channel,
		AppData:         opts.AppData,
		GetProducerByID: resolve,
		Logger:          r.logger,
	})

	o.On(observer.EventPrivateClose, func(observer.Event) {
		r.mu.Lock()
		delete(r.observers, o.ID())
		r.mu.Unlock()
	})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		o.RouterClosed()
		return nil, ErrClosed
	}
	r.observers[o.ID()] = o
	r.mu.Unlock()

	// Emit observer event.
	r.observer.SafeEmit(EventNewRtpObserver, Event{RtpObserver: o})

	return o, nil
}

// Close closes the router and every observer it owns. The worker is told
// on a best-effort basis. Closing twice is a no-op.
func (r *Router) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	observers := r.observers
	r.observers = make(map[string]*observer.AudioLevelObserver)
	r.mu.Unlock()

	r.logger.Debug("close()")

	if _, err := r.channel.Request(ctx, MethodClose, channel.Internal{RouterID: r.id}, nil); err != nil {
		r.logger.Debug("close request failed", "error", err)
	}

	for _, o := range observers {
		o.RouterClosed()
	}

	// Emit observer event.
	r.observer.SafeEmit(EventClose, Event{})
}

// WorkerClosed closes the router after its worker went away. No request is
// sent.
func (r *Router) WorkerClosed() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	observers := r.observers
	r.observers = make(map[string]*observer.AudioLevelObserver)
	r.mu.Unlock()

	r.logger.Debug("workerClosed()")

	for _, o := range observers {
		o.RouterClosed()
	}

	r.observer.SafeEmit(EventWorkerClose, Event{})
	r.observer.SafeEmit(EventClose, Event{})
}
