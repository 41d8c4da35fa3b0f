package observer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/clawinfra/rtpobserver/internal/channel"
	"github.com/clawinfra/rtpobserver/internal/producer"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type call struct {
	method   string
	internal channel.Internal
	data     any
}

// fakeChannel records requests and lets tests push notifications.
type fakeChannel struct {
	mu       sync.Mutex
	calls    []call
	fail     map[string]error
	gates    map[string]chan struct{}
	handlers map[string]channel.NotificationHandler
	closeReq chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		fail:     make(map[string]error),
		gates:    make(map[string]chan struct{}),
		handlers: make(map[string]channel.NotificationHandler),
		closeReq: make(chan struct{}, 4),
	}
}

func (c *fakeChannel) Request(ctx context.Context, method string, internal channel.Internal, data any) (channel.Payload, error) {
	c.mu.Lock()
	c.calls = append(c.calls, call{method: method, internal: internal, data: data})
	err := c.fail[method]
	gate := c.gates[method]
	c.mu.Unlock()

	if method == MethodClose {
		c.closeReq <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return channel.Payload{}, ctx.Err()
		}
	}
	return channel.Payload{}, err
}

// hold makes requests for method wait until the returned gate is closed.
func (c *fakeChannel) hold(method string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	gate := make(chan struct{})
	c.gates[method] = gate
	return gate
}

// waitIssued blocks until n requests for method have been sent.
func (c *fakeChannel) waitIssued(t *testing.T, method string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		got := 0
		for _, m := range c.methods() {
			if m == method {
				got++
			}
		}
		if got >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d %s requests, saw %d", n, method, got)
		}
		time.Sleep(time.Millisecond)
	}
}

func (c *fakeChannel) Subscribe(targetID string, handler channel.NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[targetID] = handler
}

func (c *fakeChannel) Unsubscribe(targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, targetID)
}

func (c *fakeChannel) subscribed(targetID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[targetID]
	return ok
}

func (c *fakeChannel) notify(t *testing.T, targetID, event string, data any) {
	t.Helper()
	payload, err := channel.NewPayload(channel.JSONCodec{}, data)
	if err != nil {
		t.Fatalf("encode notification: %v", err)
	}
	c.mu.Lock()
	h := c.handlers[targetID]
	c.mu.Unlock()
	if h != nil {
		h(event, payload)
	}
}

func (c *fakeChannel) methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.calls))
	for _, call := range c.calls {
		out = append(out, call.method)
	}
	return out
}

func (c *fakeChannel) lastCall() call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[len(c.calls)-1]
}

func (c *fakeChannel) setFail(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail[method] = err
}

// recordEvents captures the named events on the observer stream.
type eventLog struct {
	mu     sync.Mutex
	events []string
	last   Event
}

func (l *eventLog) record(name string) func(Event) {
	return func(e Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, name)
		l.last = e
	}
}

func (l *eventLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) count(name string) int {
	n := 0
	for _, e := range l.names() {
		if e == name {
			n++
		}
	}
	return n
}

func newTestObserver(t *testing.T, ch *fakeChannel, producers *producer.Registry) *AudioLevelObserver {
	t.Helper()
	var resolve producer.Resolver
	if producers != nil {
		resolve = producers.Resolve
	}
	return NewAudioLevelObserver(Options{
		Internal:        channel.Internal{RouterID: "router-1", RtpObserverID: "obs-1"},
		Channel:         ch,
		GetProducerByID: resolve,
		Logger:          testLogger(),
	})
}

func watchAll(o *RtpObserver) *eventLog {
	log := &eventLog{}
	for _, name := range []string{
		EventClose, EventPause, EventResume, EventAddProducer,
		EventRemoveProducer, EventVolumes, EventSilence,
	} {
		o.Observer().On(name, log.record(name))
	}
	return log
}
