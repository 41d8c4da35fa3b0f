// Package observer implements the control-plane proxies for RTP observers
// running inside a remote media worker.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/clawinfra/rtpobserver/internal/channel"
	"github.com/clawinfra/rtpobserver/internal/events"
	"github.com/clawinfra/rtpobserver/internal/producer"
)

// Worker methods issued by an observer.
const (
	MethodClose          = "rtpObserver.close"
	MethodPause          = "rtpObserver.pause"
	MethodResume         = "rtpObserver.resume"
	MethodAddProducer    = "rtpObserver.addProducer"
	MethodRemoveProducer = "rtpObserver.removeProducer"
)

// Options carries what the owning router hands to a new observer.
type Options struct {
	Internal        channel.Internal
	Channel         channel.Channel
	AppData         map[string]any
	GetProducerByID producer.Resolver
	Logger          *slog.Logger
}

// AddRemoveProducerOptions is the request payload of addProducer and
// removeProducer.
type AddRemoveProducerOptions struct {
	ProducerID string `json:"producerId"`
}

type state struct {
	closed bool
	paused bool
}

// RtpObserver is the proxy for one observer resource in the worker. The
// primary stream (On, Once) carries routerclose and the private @close
// event; Observer returns the monitoring stream.
type RtpObserver struct {
	internal    channel.Internal
	channel     channel.Channel
	getProducer producer.Resolver
	appData     map[string]any
	logger      *slog.Logger

	primary  *events.Emitter[Event]
	observer *events.Emitter[Event]

	mu    sync.Mutex
	state state
}

// New creates an open observer. The router calls this after the worker
// acknowledged creation.
func New(opts Options) *RtpObserver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rtpobserver", "id", opts.Internal.RtpObserverID)

	appData := opts.AppData
	if appData == nil {
		appData = make(map[string]any)
	}
	getProducer := opts.GetProducerByID
	if getProducer == nil {
		getProducer = func(string) *producer.Producer { return nil }
	}

	logger.Debug("constructor()")

	return &RtpObserver{
		internal:    opts.Internal,
		channel:     opts.Channel,
		getProducer: getProducer,
		appData:     appData,
		logger:      logger,
		primary:     events.New[Event](logger),
		observer:    events.New[Event](logger),
	}
}

// ID returns the observer id.
func (o *RtpObserver) ID() string {
	return o.internal.RtpObserverID
}

// RouterID returns the id of the owning router.
func (o *RtpObserver) RouterID() string {
	return o.internal.RouterID
}

// Closed reports whether the observer is closed.
func (o *RtpObserver) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.closed
}

// Paused reports whether the observer is paused.
func (o *RtpObserver) Paused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.paused
}

// AppData returns the custom application data. The map itself may be
// mutated by the caller; it cannot be replaced.
func (o *RtpObserver) AppData() map[string]any {
	return o.appData
}

// SetAppData always fails: appData is fixed at construction.
func (o *RtpObserver) SetAppData(map[string]any) error {
	return fmt.Errorf("%w: cannot override appData object", ErrInvalidOperation)
}

// On subscribes to a primary stream event.
func (o *RtpObserver) On(name string, handler events.Handler[Event]) (off func()) {
	return o.primary.On(name, handler)
}

// Once subscribes to a single primary stream event.
func (o *RtpObserver) Once(name string, handler events.Handler[Event]) (off func()) {
	return o.primary.Once(name, handler)
}

// Observer returns the monitoring stream.
func (o *RtpObserver) Observer() *events.Emitter[Event] {
	return o.observer
}

// markClosed flips the closed flag and reports whether this call did it.
func (o *RtpObserver) markClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.closed {
		return false
	}
	o.state.closed = true
	return true
}

// Close closes the observer. The worker is told asynchronously and a
// failure there is only logged: the local transition is authoritative.
func (o *RtpObserver) Close() {
	if !o.markClosed() {
		return
	}

	o.logger.Debug("close()")

	// Remove notification subscriptions.
	o.channel.Unsubscribe(o.internal.RtpObserverID)

	go func() {
		if _, err := o.channel.Request(context.Background(), MethodClose, o.internal, nil); err != nil {
			o.logger.Debug("close request failed", "error", err)
		}
	}()

	o.primary.SafeEmit(EventPrivateClose, Event{})

	// Emit observer event.
	o.observer.SafeEmit(EventClose, Event{})
}

// RouterClosed is called by the owning router when it closes. No request
// is sent: the worker side is going away with the router.
func (o *RtpObserver) RouterClosed() {
	if !o.markClosed() {
		return
	}

	o.logger.Debug("routerClosed()")

	// Remove notification subscriptions.
	o.channel.Unsubscribe(o.internal.RtpObserverID)

	o.primary.SafeEmit(EventRouterClose, Event{})

	// Emit observer event.
	o.observer.SafeEmit(EventClose, Event{})
}

// Pause pauses the observer. pause is emitted only when the observer was
// not already paused when the worker acknowledged.
func (o *RtpObserver) Pause(ctx context.Context) error {
	if o.Closed() {
		return ErrClosed
	}

	o.logger.Debug("pause()")

	if _, err := o.channel.Request(ctx, MethodPause, o.internal, nil); err != nil {
		return err
	}

	wasPaused, err := o.setPaused(true)
	if err != nil {
		return err
	}

	// Emit observer event.
	if !wasPaused {
		o.observer.SafeEmit(EventPause, Event{})
	}
	return nil
}

// Resume resumes the observer. resume is emitted only when the observer
// was paused when the worker acknowledged.
func (o *RtpObserver) Resume(ctx context.Context) error {
	if o.Closed() {
		return ErrClosed
	}

	o.logger.Debug("resume()")

	if _, err := o.channel.Request(ctx, MethodResume, o.internal, nil); err != nil {
		return err
	}

	wasPaused, err := o.setPaused(false)
	if err != nil {
		return err
	}

	// Emit observer event.
	if wasPaused {
		o.observer.SafeEmit(EventResume, Event{})
	}
	return nil
}

// setPaused applies an acknowledged pause or resume and returns the flag
// value it replaced. An observer closed while the request was in flight
// keeps its state.
func (o *RtpObserver) setPaused(paused bool) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.closed {
		return false, ErrClosed
	}
	was := o.state.paused
	o.state.paused = paused
	return was, nil
}

// AddProducer adds a producer to the observer. The addproducer event
// carries whatever the resolver returned, which is nil if the producer
// closed before the call.
func (o *RtpObserver) AddProducer(ctx context.Context, producerID string) error {
	return o.addRemoveProducer(ctx, MethodAddProducer, EventAddProducer, producerID)
}

// RemoveProducer removes a producer from the observer.
func (o *RtpObserver) RemoveProducer(ctx context.Context, producerID string) error {
	return o.addRemoveProducer(ctx, MethodRemoveProducer, EventRemoveProducer, producerID)
}

func (o *RtpObserver) addRemoveProducer(ctx context.Context, method, event, producerID string) error {
	if o.Closed() {
		return ErrClosed
	}

	o.logger.Debug(method, "producerId", producerID)

	p := o.getProducer(producerID)
	reqData := AddRemoveProducerOptions{ProducerID: producerID}

	if _, err := o.channel.Request(ctx, method, o.internal, reqData); err != nil {
		return err
	}

	if o.Closed() {
		return ErrClosed
	}

	// Emit observer event.
	o.observer.SafeEmit(event, Event{Producer: p})
	return nil
}
