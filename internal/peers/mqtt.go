package peers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/hanibalsk/trackd/internal/broker"
	"github.com/hanibalsk/trackd/internal/model"
)

// DefaultTopic is the subscription pattern for peer location updates. The
// wildcard segment is the peer's device id.
const DefaultTopic = "trackd/peers/+/location"

// Subscriber is the part of the broker client the feed needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler broker.Handler) error
}

// Message is the payload published for a peer location.
type Message struct {
	DeviceID    string  `json:"deviceId,omitempty"`
	DisplayName string  `json:"displayName,omitempty"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Accuracy    float64 `json:"accuracy"`
	Timestamp   int64   `json:"timestamp"`
	Provider    string  `json:"provider,omitempty"`
}

// MQTTOptions configures an MQTTFeed.
type MQTTOptions struct {
	Topic  string
	Clock  quartz.Clock
	Logger *zap.Logger

	// Self is this device's id; its own updates are ignored.
	Self string

	// Names overrides display names by device id.
	Names map[string]string

	// MaxAge hides locations older than this. Zero keeps them forever.
	MaxAge time.Duration
}

// MQTTFeed caches the latest location per peer from broker messages.
type MQTTFeed struct {
	opts MQTTOptions
	log  *zap.Logger

	mu    sync.RWMutex
	peers map[string]model.Peer
}

// NewMQTTFeed creates a feed. Devices listed in Names are reported even
// before their first update.
func NewMQTTFeed(opts MQTTOptions) *MQTTFeed {
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	f := &MQTTFeed{
		opts:  opts,
		log:   opts.Logger.Named("peers"),
		peers: make(map[string]model.Peer),
	}
	for id, name := range opts.Names {
		f.peers[id] = model.Peer{DeviceID: id, DisplayName: name}
	}
	return f
}

// Start subscribes to the peer topic.
func (f *MQTTFeed) Start(sub Subscriber) error {
	if err := sub.Subscribe(f.opts.Topic, 1, f.Handle); err != nil {
		return fmt.Errorf("subscribe peer feed: %w", err)
	}
	f.log.Info("peer feed subscribed", zap.String("topic", f.opts.Topic))
	return nil
}

// Handle ingests one location message.
func (f *MQTTFeed) Handle(topic string, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode peer location on %s: %w", topic, err)
	}
	if msg.DeviceID == "" {
		msg.DeviceID = deviceFromTopic(topic)
	}
	if msg.DeviceID == "" {
		return fmt.Errorf("peer location on %s: missing device id", topic)
	}
	if msg.DeviceID == f.opts.Self {
		return nil
	}

	ts := time.UnixMilli(msg.Timestamp).UTC()
	if msg.Timestamp == 0 {
		ts = f.opts.Clock.Now().UTC()
	}
	rec := model.LocationRecord{
		DeviceID:  msg.DeviceID,
		Latitude:  msg.Latitude,
		Longitude: msg.Longitude,
		Accuracy:  msg.Accuracy,
		Timestamp: ts,
		Provider:  msg.Provider,
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.peers[msg.DeviceID]
	if p.Location != nil && p.Location.Timestamp.After(ts) {
		// out of order
		return nil
	}
	p.DeviceID = msg.DeviceID
	if name, ok := f.opts.Names[msg.DeviceID]; ok {
		p.DisplayName = name
	} else if msg.DisplayName != "" {
		p.DisplayName = msg.DisplayName
	}
	p.Location = &rec
	f.peers[msg.DeviceID] = p
	return nil
}

// Peers returns every known peer ordered by device id.
func (f *MQTTFeed) Peers(context.Context) ([]model.Peer, error) {
	now := f.opts.Clock.Now()

	f.mu.RLock()
	out := make([]model.Peer, 0, len(f.peers))
	for _, p := range f.peers {
		if p.Location != nil {
			loc := *p.Location
			p.Location = &loc
			if f.opts.MaxAge > 0 && now.Sub(loc.Timestamp) > f.opts.MaxAge {
				p.Location = nil
			}
		}
		out = append(out, p)
	}
	f.mu.RUnlock()

	sortPeers(out)
	return out, nil
}

func deviceFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) == 4 && parts[0] == "trackd" && parts[1] == "peers" {
		return parts[2]
	}
	return ""
}
