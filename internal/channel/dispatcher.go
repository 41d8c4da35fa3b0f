package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultRequestTimeout bounds a request whose context has no deadline.
const DefaultRequestTimeout = 10 * time.Second

// sendFunc writes one encoded frame to the worker.
type sendFunc func(ctx context.Context, frame []byte) error

// Dispatcher implements the transport-independent half of a Channel:
// request/response correlation and notification routing. Transports feed
// every inbound frame to HandleFrame.
//
// Notifications are queued in arrival order and delivered by a single
// goroutine, so a handler may issue requests on the same channel while the
// transport keeps routing responses.
type Dispatcher struct {
	codec   Codec
	send    sendFunc
	timeout time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	closed   bool
	pending  map[string]chan Inbound
	handlers map[string]NotificationHandler
	queue    []Inbound

	wake chan struct{}
	done chan struct{}
}

// NewDispatcher creates a dispatcher that writes frames through send. A
// zero timeout selects DefaultRequestTimeout.
func NewDispatcher(codec Codec, timeout time.Duration, logger *slog.Logger, send func(ctx context.Context, frame []byte) error) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		codec:    codec,
		send:     send,
		timeout:  timeout,
		logger:   logger,
		pending:  make(map[string]chan Inbound),
		handlers: make(map[string]NotificationHandler),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go d.deliverLoop()
	return d
}

// Done is closed once the dispatcher is closed.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// Codec returns the wire codec.
func (d *Dispatcher) Codec() Codec {
	return d.codec
}

// Request sends method and waits for the matching response.
func (d *Dispatcher) Request(ctx context.Context, method string, internal Internal, data any) (Payload, error) {
	id := uuid.NewString()
	respCh := make(chan Inbound, 1)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Payload{}, fmt.Errorf("%w: %s: %w", ErrRequestFailed, method, ErrClosed)
	}
	d.pending[id] = respCh
	d.mu.Unlock()
	defer d.forget(id)

	frame, err := d.codec.Marshal(Request{
		ID:       id,
		Method:   method,
		Internal: internal,
		Data:     data,
	})
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %s: marshal request: %w", ErrRequestFailed, method, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	d.logger.Debug("request", "method", method, "id", id, "target", internal.RtpObserverID)

	if err := d.send(ctx, frame); err != nil {
		return Payload{}, fmt.Errorf("%w: %s: send: %w", ErrRequestFailed, method, err)
	}

	select {
	case in, ok := <-respCh:
		if !ok {
			return Payload{}, fmt.Errorf("%w: %s: %w", ErrRequestFailed, method, ErrClosed)
		}
		if !in.Accepted {
			reason := in.Reason
			if reason == "" {
				reason = in.Error
			}
			return Payload{}, &RequestError{Method: method, Reason: reason}
		}
		return Payload{raw: in.Data, codec: d.codec}, nil
	case <-ctx.Done():
		return Payload{}, fmt.Errorf("%w: %s: %w", ErrRequestFailed, method, ctx.Err())
	}
}

func (d *Dispatcher) forget(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// Subscribe routes notifications for targetID to handler.
func (d *Dispatcher) Subscribe(targetID string, handler NotificationHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.handlers[targetID] = handler
}

// Unsubscribe stops routing notifications for targetID.
func (d *Dispatcher) Unsubscribe(targetID string) {
	d.mu.Lock()
	delete(d.handlers, targetID)
	d.mu.Unlock()
}

// Subscribed reports whether a handler is registered for targetID.
func (d *Dispatcher) Subscribed(targetID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[targetID]
	return ok
}

// HandleFrame decodes one inbound frame and either completes the pending
// request it answers or queues it for the subscribed notification handler.
// It never runs handlers itself.
func (d *Dispatcher) HandleFrame(frame []byte) {
	in, err := d.codec.DecodeInbound(frame)
	if err != nil {
		d.logger.Warn("dropping undecodable frame", "error", err, "size", len(frame))
		return
	}

	if in.IsResponse() {
		d.mu.Lock()
		respCh, ok := d.pending[in.ID]
		delete(d.pending, in.ID)
		d.mu.Unlock()

		if !ok {
			d.logger.Warn("response for unknown request", "id", in.ID)
			return
		}
		respCh <- in
		return
	}

	if in.TargetID == "" {
		d.logger.Warn("dropping frame without id or targetId", "event", in.Event)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, in)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) deliverLoop() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		}
		for {
			in, handler, ok := d.next()
			if !ok {
				break
			}
			if handler == nil {
				d.logger.Debug("notification for unsubscribed target", "target", in.TargetID, "event", in.Event)
				continue
			}
			d.deliver(in, handler)
		}
	}
}

// next pops the oldest queued notification together with the handler
// subscribed at delivery time.
func (d *Dispatcher) next() (Inbound, NotificationHandler, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.queue) == 0 {
		return Inbound{}, nil, false
	}
	in := d.queue[0]
	d.queue[0] = Inbound{}
	d.queue = d.queue[1:]
	return in, d.handlers[in.TargetID], true
}

func (d *Dispatcher) deliver(in Inbound, handler NotificationHandler) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("notification handler failed",
				"target", in.TargetID,
				"event", in.Event,
				"error", fmt.Sprint(r),
			)
		}
	}()
	handler(in.Event, Payload{raw: in.Data, codec: d.codec})
}

// Pending returns the number of requests awaiting a response.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close fails every pending request, drops queued notifications and all
// subscriptions, and closes Done. Further requests fail with ErrClosed.
// Closing twice is a no-op.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	close(d.done)
	d.queue = nil

	for id, respCh := range d.pending {
		close(respCh)
		delete(d.pending, id)
	}
	d.handlers = make(map[string]NotificationHandler)
}
