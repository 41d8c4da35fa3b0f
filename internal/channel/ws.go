package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// maxFrameSize bounds a single inbound frame.
const maxFrameSize = 1 << 20

// WSOptions configures a WebSocket transport.
type WSOptions struct {
	URL string
	// Subject is placed in the handshake token; normally the router id.
	Subject        string
	TokenSecret    string
	TokenTTL       time.Duration
	RequestTimeout time.Duration
}

// WSTransport talks to a worker over one duplex WebSocket connection.
// Frames are binary for CBOR and text for JSON. A single reader goroutine
// feeds the dispatcher, so notifications are handled in arrival order.
type WSTransport struct {
	opts     WSOptions
	codec    Codec
	logger   *slog.Logger
	dispatch *Dispatcher

	mu     sync.RWMutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebSocket creates a WebSocket transport. Start dials the worker.
func NewWebSocket(opts WSOptions, codec Codec, logger *slog.Logger) *WSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &WSTransport{
		opts:   opts,
		codec:  codec,
		logger: logger.With("channel", "websocket"),
	}
	t.dispatch = NewDispatcher(codec, opts.RequestTimeout, t.logger, t.write)
	return t
}

func (t *WSTransport) Name() string {
	return "websocket"
}

// Start dials the worker and starts the read loop.
func (t *WSTransport) Start(ctx context.Context) error {
	header := http.Header{}
	if t.opts.TokenSecret != "" {
		ttl := t.opts.TokenTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		token, err := SignToken(t.opts.Subject, []byte(t.opts.TokenSecret), ttl)
		if err != nil {
			return fmt.Errorf("sign handshake token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.Dial(ctx, t.opts.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return fmt.Errorf("dial worker %s: %w", t.opts.URL, err)
	}
	conn.SetReadLimit(maxFrameSize)

	readCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	t.mu.Lock()
	t.conn = conn
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go t.readLoop(readCtx, conn, done)

	t.logger.Info("websocket channel started", "url", t.opts.URL)
	return nil
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.logger.Error("websocket read failed", "error", err)
			}
			// Without a reader no response can arrive; fail what is pending.
			t.dispatch.Close()
			return
		}
		t.dispatch.HandleFrame(data)
	}
}

func (t *WSTransport) write(ctx context.Context, frame []byte) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return ErrNotConnected
	}

	msgType := websocket.MessageText
	if t.codec.Name() == "cbor" {
		msgType = websocket.MessageBinary
	}
	return conn.Write(ctx, msgType, frame)
}

// Done is closed by Close or when the worker drops the connection.
func (t *WSTransport) Done() <-chan struct{} {
	return t.dispatch.Done()
}

func (t *WSTransport) Request(ctx context.Context, method string, internal Internal, data any) (Payload, error) {
	return t.dispatch.Request(ctx, method, internal, data)
}

func (t *WSTransport) Subscribe(targetID string, handler NotificationHandler) {
	t.dispatch.Subscribe(targetID, handler)
}

func (t *WSTransport) Unsubscribe(targetID string) {
	t.dispatch.Unsubscribe(targetID)
}

// Close fails pending requests and closes the connection.
func (t *WSTransport) Close() error {
	t.dispatch.Close()

	t.mu.Lock()
	conn, cancel, done := t.conn, t.cancel, t.done
	t.conn = nil
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	if err := conn.Close(websocket.StatusNormalClosure, "closing"); err != nil {
		t.logger.Debug("websocket close handshake incomplete", "error", err)
	}
	cancel()
	<-done

	t.logger.Info("websocket channel stopped")
	return nil
}
