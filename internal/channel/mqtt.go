package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	// MQTT topics for worker communication
	requestsTopic      = "rtpobserver/workers/%s/requests"      // proxy → worker
	responsesTopic     = "rtpobserver/workers/%s/responses"     // worker → proxy
	notificationsTopic = "rtpobserver/workers/%s/notifications" // worker → proxy
)

// MQTTOptions configures an MQTT transport.
type MQTTOptions struct {
	Host           string
	Port           int
	Username       string
	Password       string
	WorkerID       string
	RequestTimeout time.Duration
}

// MQTTTransport talks to a worker through an MQTT broker. Requests are
// published with QoS 1 on the worker's request topic; responses and
// notifications arrive on two subscribed topics and are fed to the
// dispatcher. paho delivers messages in order, which preserves the
// per-target notification order.
type MQTTTransport struct {
	opts     MQTTOptions
	clientID string
	logger   *slog.Logger
	client   MQTTClient
	dispatch *Dispatcher
	// Factory function for creating MQTT client
	clientFactory func(opts *mqtt.ClientOptions) MQTTClient
}

// NewMQTT creates an MQTT transport backed by the paho client.
func NewMQTT(opts MQTTOptions, codec Codec, logger *slog.Logger) *MQTTTransport {
	return NewMQTTWithClient(opts, codec, logger, func(o *mqtt.ClientOptions) MQTTClient {
		return mqtt.NewClient(o)
	})
}

// NewMQTTWithClient creates an MQTT transport with a custom client factory (for testing)
func NewMQTTWithClient(opts MQTTOptions, codec Codec, logger *slog.Logger, clientFactory func(*mqtt.ClientOptions) MQTTClient) *MQTTTransport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &MQTTTransport{
		opts:          opts,
		clientID:      "rtpobserver-" + uuid.NewString(),
		logger:        logger.With("channel", "mqtt", "worker", opts.WorkerID),
		clientFactory: clientFactory,
	}
	t.dispatch = NewDispatcher(codec, opts.RequestTimeout, t.logger, t.publish)
	return t
}

func (t *MQTTTransport) Name() string {
	return "mqtt"
}

func (t *MQTTTransport) Start(ctx context.Context) error {
	if t.opts.WorkerID == "" {
		return fmt.Errorf("mqtt: worker id required")
	}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", t.opts.Host, t.opts.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(t.clientID)

	if t.opts.Username != "" {
		opts.SetUsername(t.opts.Username)
		opts.SetPassword(t.opts.Password)
	}

	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(true)

	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		t.logger.Warn("mqtt connection lost", "error", err)
	})

	// Subscriptions are re-established on every (re)connect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		t.logger.Info("mqtt connected, subscribing to topics")
		if err := t.subscribe(); err != nil {
			t.logger.Error("failed to subscribe", "error", err)
		}
	})

	t.client = t.clientFactory(opts)

	t.logger.Info("connecting to mqtt broker", "broker", brokerURL)
	token := t.client.Connect()
	if err := waitToken(ctx, token, 10*time.Second); err != nil {
		return fmt.Errorf("connect to mqtt: %w", err)
	}

	t.logger.Info("mqtt channel started")
	return nil
}

// Close fails pending requests and disconnects from the broker.
func (t *MQTTTransport) Close() error {
	t.logger.Info("stopping mqtt channel")
	t.dispatch.Close()

	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}

// Done is closed by Close. A lost broker connection is retried by the
// client and does not close it.
func (t *MQTTTransport) Done() <-chan struct{} {
	return t.dispatch.Done()
}

func (t *MQTTTransport) Request(ctx context.Context, method string, internal Internal, data any) (Payload, error) {
	return t.dispatch.Request(ctx, method, internal, data)
}

func (t *MQTTTransport) Subscribe(targetID string, handler NotificationHandler) {
	t.dispatch.Subscribe(targetID, handler)
}

func (t *MQTTTransport) Unsubscribe(targetID string) {
	t.dispatch.Unsubscribe(targetID)
}

// publish sends one request frame with QoS 1 (at least once delivery).
func (t *MQTTTransport) publish(ctx context.Context, frame []byte) error {
	if t.client == nil || !t.client.IsConnected() {
		return ErrNotConnected
	}

	topic := fmt.Sprintf(requestsTopic, t.opts.WorkerID)
	token := t.client.Publish(topic, 1, false, frame)
	if err := waitToken(ctx, token, 5*time.Second); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	t.logger.Debug("frame published", "topic", topic, "size", len(frame))
	return nil
}

func (t *MQTTTransport) subscribe() error {
	for _, pattern := range []string{responsesTopic, notificationsTopic} {
		topic := fmt.Sprintf(pattern, t.opts.WorkerID)
		token := t.client.Subscribe(topic, 1, t.handleMessage)
		if !token.WaitTimeout(5 * time.Second) {
			return fmt.Errorf("subscribe timeout")
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		t.logger.Info("subscribed", "topic", topic)
	}
	return nil
}

func (t *MQTTTransport) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	t.logger.Debug("mqtt message received", "topic", msg.Topic(), "size", len(msg.Payload()))
	t.dispatch.HandleFrame(msg.Payload())
}

// waitToken waits for a paho token, bounded by both ctx and limit.
func waitToken(ctx context.Context, token mqtt.Token, limit time.Duration) error {
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", limit)
	}
}
