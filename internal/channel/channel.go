// Package channel carries control requests from this process to a remote
// media worker and routes the worker's unsolicited notifications back to
// the resource they target.
//
// Every transport speaks the same three envelopes, encoded with the
// configured Codec:
//
//	request      {id, method, internal, data}
//	response     {id, accepted, error, reason, data}
//	notification {targetId, event, data}
//
// Requests are correlated with responses by id. Notifications are routed by
// targetId to the single handler subscribed under that id, in the order the
// transport delivers them.
package channel

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRequestFailed matches every error returned by Request when the
	// worker rejected the request, the request timed out, or it could not
	// be delivered.
	ErrRequestFailed = errors.New("channel: request failed")
	// ErrClosed is returned for requests issued on, or pending when, the
	// channel closes.
	ErrClosed = errors.New("channel: closed")
	// ErrNotConnected is returned when the transport has no live
	// connection to the worker.
	ErrNotConnected = errors.New("channel: not connected")
	// ErrEmptyPayload is returned when decoding a payload that carried no
	// data.
	ErrEmptyPayload = errors.New("channel: empty payload")
)

// RequestError is returned when the worker answered a request with
// accepted=false.
type RequestError struct {
	Method string
	Reason string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %q rejected by worker: %s", e.Method, e.Reason)
}

// Is makes a worker rejection match ErrRequestFailed.
func (e *RequestError) Is(target error) bool {
	return target == ErrRequestFailed
}

// Internal identifies the resource a request acts on.
type Internal struct {
	RouterID      string `json:"routerId"`
	RtpObserverID string `json:"rtpObserverId,omitempty"`
}

// NotificationHandler receives notifications addressed to one target id.
// data is empty when the notification carried no payload.
type NotificationHandler func(event string, data Payload)

// Channel is the request/notification surface consumed by observers and
// routers.
type Channel interface {
	// Request sends method to the worker and waits for its response.
	Request(ctx context.Context, method string, internal Internal, data any) (Payload, error)

	// Subscribe routes notifications for targetID to handler, replacing
	// any previous handler for that id.
	Subscribe(targetID string, handler NotificationHandler)

	// Unsubscribe stops routing notifications for targetID.
	Unsubscribe(targetID string)
}

// Transport is a Channel bound to a live connection.
type Transport interface {
	Channel

	// Name returns the transport identifier ("mqtt", "websocket").
	Name() string

	// Start connects to the worker.
	Start(ctx context.Context) error

	// Close disconnects and fails every pending request with ErrClosed.
	Close() error

	// Done is closed once the channel to the worker is gone, either through
	// Close or because the worker hung up.
	Done() <-chan struct{}
}

// Payload is an encoded data field still in its wire form.
type Payload struct {
	raw   []byte
	codec Codec
}

// NewPayload encodes v with codec. A nil v yields an empty payload.
func NewPayload(codec Codec, v any) (Payload, error) {
	if v == nil {
		return Payload{codec: codec}, nil
	}
	raw, err := codec.Marshal(v)
	if err != nil {
		return Payload{}, fmt.Errorf("encode payload: %w", err)
	}
	return Payload{raw: raw, codec: codec}, nil
}

// Empty reports whether the payload carried no data.
func (p Payload) Empty() bool {
	return len(p.raw) == 0
}

// Decode unmarshals the payload into v.
func (p Payload) Decode(v any) error {
	if p.Empty() || p.codec == nil {
		return ErrEmptyPayload
	}
	return p.codec.Unmarshal(p.raw, v)
}
