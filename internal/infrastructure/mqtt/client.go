package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/homesync/internal/infrastructure/config"
)

// Client is the broker connection shared by the bridge and every node.
//
// Each process connects with its device ID (or the bridge ID) as client ID,
// so presence on homesync/status/<client_id> identifies the device. paho
// reconnects in the background after the first successful connect; tracked
// subscriptions and online presence are restored on every reconnect.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	connected atomic.Bool

	mu            sync.Mutex
	subscriptions map[string]subscription
	onConnect     func()
	onDisconnect  func(err error)
	logger        Logger
}

// Logger receives handler failures and reconnect warnings.
// *logging.Logger satisfies it.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one received message. topic is the concrete topic,
// not the filter. A returned error is logged; the message is not redelivered.
//
// It is an alias so narrow transport interfaces elsewhere can spell it as a
// plain func type.
type MessageHandler = func(topic string, payload []byte) error

// Connect dials the broker once and returns when the CONNACK arrives, ctx
// ends, or the connect timeout passes. A retained offline presence is
// registered as the will, so a crashed process is reported by the broker.
//
// Use ConnectWithRetry to keep trying with backoff.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onReconnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onConnectionLost(err) })

	c.client = pahomqtt.NewClient(opts)
	if err := c.awaitConnect(ctx, c.client.Connect()); err != nil {
		// ConnectRetry keeps paho dialling until told to stop.
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The on-connect handler runs asynchronously; callers may subscribe now.
	c.connected.Store(true)
	return c, nil
}

func (c *Client) awaitConnect(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timeAfter(defaultConnectTimeout):
		return fmt.Errorf("timeout after %v", defaultConnectTimeout)
	}
}

func (c *Client) onReconnect() {
	c.connected.Store(true)

	c.mu.Lock()
	subs := make([]subscription, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		subs = append(subs, s)
	}
	hook := c.onConnect
	c.mu.Unlock()

	for _, s := range subs {
		if err := await(c.client.Subscribe(s.topic, s.qos, c.wrapHandler(s.handler)), ErrSubscribeFailed); err != nil {
			c.logError("MQTT resubscribe failed", "topic", s.topic, "error", err)
		}
	}
	c.publishPresence(StatusOnline, "")

	if hook != nil {
		hook()
	}
}

func (c *Client) onConnectionLost(err error) {
	c.connected.Store(false)
	c.logWarn("MQTT connection lost, reconnecting", "error", err)

	c.mu.Lock()
	hook := c.onDisconnect
	c.mu.Unlock()
	if hook != nil {
		hook(err)
	}
}

func (c *Client) publishPresence(status, reason string) {
	id := c.cfg.Broker.ClientID
	token := c.client.Publish(Topics{}.Presence(id), byte(c.cfg.QoS), true, buildPresencePayload(id, status, reason))
	token.WaitTimeout(defaultPublishTimeout)
}

// Close publishes a graceful offline presence, which the broker would not
// send for a clean disconnect, and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		c.publishPresence(StatusOffline, ReasonGracefulShutdown)
	}
	c.connected.Store(false)
	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker link is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether the client currently has a broker link.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.connected.Load() && c.client.IsConnected()
}

// ClientID returns the configured client identifier.
func (c *Client) ClientID() string {
	return c.cfg.Broker.ClientID
}

// SetOnConnect registers a hook run after every reconnect, once
// subscriptions are restored.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers a hook run when the connection drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// SetLogger sets where handler errors and panics are reported. Without one
// they are discarded.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) currentLogger() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

func (c *Client) logWarn(msg string, args ...any) {
	if l := c.currentLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (c *Client) logError(msg string, args ...any) {
	if l := c.currentLogger(); l != nil {
		l.Error(msg, args...)
	}
}

func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		c.dispatch(handler, msg.Topic(), msg.Payload())
	}
}

// dispatch runs handler, logging a returned error and recovering a panic so
// one bad message cannot stop paho's delivery goroutine.
func (c *Client) dispatch(handler MessageHandler, topic string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logError("MQTT handler panic recovered", "topic", topic, "panic", r)
		}
	}()
	if err := handler(topic, payload); err != nil {
		c.logWarn("MQTT handler returned error", "topic", topic, "error", err)
	}
}
