// Package notify delivers proximity notifications to the user's channels.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Notification is handed to a Notifier when an alert fires.
type Notification struct {
	AlertID        string  `json:"alertId"`
	Title          string  `json:"title"`
	Body           string  `json:"body"`
	TargetDeviceID string  `json:"targetDeviceId"`
	DistanceMeters float64 `json:"distanceMeters"`
}

// Notifier delivers a notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("proximity alert",
		zap.String("alert_id", n.AlertID),
		zap.String("target_device_id", n.TargetDeviceID),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.Float64("distance_m", n.DistanceMeters),
	)
	return nil
}

// Publisher sends a payload to a broker topic. *broker.Client implements it.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// DefaultTopic is where MQTTNotifier publishes.
const DefaultTopic = "trackd/alerts"

// MQTTNotifier publishes notifications as JSON.
type MQTTNotifier struct {
	Publisher Publisher
	Topic     string
	QoS       byte
}

func (m MQTTNotifier) Notify(_ context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	topic := m.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	if err := m.Publisher.Publish(topic, m.QoS, false, payload); err != nil {
		return fmt.Errorf("publish notification %s: %w", n.AlertID, err)
	}
	return nil
}
