// Package broker wraps the MQTT client used for peer locations and alert
// fan-out.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/retry"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Handler processes one message. A returned error is logged; it never
// stops the subscription.
type Handler func(topic string, payload []byte) error

// Config describes the broker connection.
type Config struct {
	Broker   string `yaml:"broker" validate:"omitempty,url"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout bounds each connect, subscribe and publish round trip.
	Timeout time.Duration `yaml:"timeout"`
}

const defaultTimeout = 10 * time.Second

// ErrNotConnected is returned by Publish before the first successful
// connect.
var ErrNotConnected = errors.New("mqtt: not connected")

type subscription struct {
	qos     byte
	handler Handler
}

// Client is a reconnecting MQTT client. Subscriptions are remembered and
// restored after every reconnect because sessions are clean.
type Client struct {
	client  mqtt.Client
	timeout time.Duration
	log     *zap.Logger

	mu   sync.Mutex
	subs map[string]subscription
}

// New creates a client. It does not connect; call Connect.
func New(cfg Config, logger *zap.Logger) *Client {
	c := newClient(nil, cfg.Timeout, logger)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(c.timeout)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.log.Warn("mqtt connection lost", zap.Error(err))
	})

	c.client = mqtt.NewClient(opts)
	return c
}

func newClient(client mqtt.Client, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		client:  client,
		timeout: timeout,
		log:     logger.Named("mqtt"),
		subs:    make(map[string]subscription),
	}
}

// Connect dials the broker, retrying with backoff until it succeeds or ctx
// is done. Later reconnects are handled by the client itself.
func (c *Client) Connect(ctx context.Context) error {
	var lastErr error
	for r := retry.New(500*time.Millisecond, 30*time.Second); r.Wait(ctx); {
		err := c.wait(c.client.Connect())
		if err == nil {
			c.log.Info("mqtt connected")
			return nil
		}
		lastErr = err
		c.log.Warn("mqtt connect failed, retrying", zap.Error(err))
	}
	if lastErr != nil {
		return fmt.Errorf("connect to mqtt broker: %w (last error: %v)", ctx.Err(), lastErr)
	}
	return fmt.Errorf("connect to mqtt broker: %w", ctx.Err())
}

// Subscribe registers handler for topic and remembers it for reconnects.
func (c *Client) Subscribe(topic string, qos byte, handler Handler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if !c.client.IsConnected() {
		return nil
	}
	return c.subscribe(topic, qos, handler)
}

func (c *Client) subscribe(topic string, qos byte, handler Handler) error {
	token := c.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			c.log.Warn("mqtt handler failed", zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	if err := c.wait(token); err != nil {
		return fmt.Errorf("subscribe to topic %s: %w", topic, err)
	}
	return nil
}

// Unsubscribe forgets topics.
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()

	if !c.client.IsConnected() {
		return nil
	}
	if err := c.wait(c.client.Unsubscribe(topics...)); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}

// Publish sends payload to topic.
func (c *Client) Publish(topic string, qos byte, retained bool, payload []byte) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	if err := c.wait(c.client.Publish(topic, qos, retained, payload)); err != nil {
		return fmt.Errorf("publish to topic %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports the current connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects, allowing 250ms for in-flight work.
func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) onConnect(mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for t, s := range c.subs {
		subs[t] = s
	}
	c.mu.Unlock()

	for topic, s := range subs {
		if err := c.subscribe(topic, s.qos, s.handler); err != nil {
			c.log.Error("restore subscription", zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (c *Client) wait(token mqtt.Token) error {
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("mqtt: timed out after %s", c.timeout)
	}
	return token.Error()
}
