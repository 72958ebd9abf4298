package peers

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hanibalsk/trackd/internal/broker"
	"github.com/hanibalsk/trackd/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStatic_ReturnsCopy(t *testing.T) {
	s := Static{{DeviceID: "a"}, {DeviceID: "b"}}
	got, err := s.Peers(t.Context())
	require.NoError(t, err)
	got[0].DeviceID = "changed"
	assert.Equal(t, "a", s[0].DeviceID)
}

type fakeSubscriber struct {
	topic   string
	handler broker.Handler
	err     error
}

func (f *fakeSubscriber) Subscribe(topic string, _ byte, h broker.Handler) error {
	f.topic, f.handler = topic, h
	return f.err
}

func newFeed(t *testing.T, opts MQTTOptions) (*MQTTFeed, *quartz.Mock) {
	clock := quartz.NewMock(t)
	clock.Set(t0)
	opts.Clock = clock
	opts.Logger = zaptest.NewLogger(t)
	return NewMQTTFeed(opts), clock
}

func TestMQTTFeed_Start(t *testing.T) {
	f, _ := newFeed(t, MQTTOptions{})
	sub := &fakeSubscriber{}
	require.NoError(t, f.Start(sub))
	assert.Equal(t, DefaultTopic, sub.topic)

	require.NoError(t, sub.handler("trackd/peers/p1/location", []byte(`{"latitude":48.1,"longitude":17.1}`)))
	ps, err := f.Peers(t.Context())
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "p1", ps[0].DeviceID)

	failing := &fakeSubscriber{err: errors.New("not authorized")}
	assert.Error(t, f.Start(failing))
}

func TestMQTTFeed_Handle(t *testing.T) {
	f, _ := newFeed(t, MQTTOptions{
		Self:  "me",
		Names: map[string]string{"p2": "Bob", "p3": "Carol"},
	})

	require.NoError(t, f.Handle("trackd/peers/p1/location",
		[]byte(`{"displayName":"Alice","latitude":48.1,"longitude":17.1,"accuracy":5,"timestamp":1772366400000}`)))
	require.NoError(t, f.Handle("trackd/peers/ignored/location",
		[]byte(`{"deviceId":"p2","displayName":"Robert","latitude":48.2,"longitude":17.2}`)))
	require.NoError(t, f.Handle("trackd/peers/me/location", []byte(`{"latitude":1,"longitude":1}`)))

	ps, err := f.Peers(t.Context())
	require.NoError(t, err)
	require.Len(t, ps, 3)

	assert.Equal(t, "p1", ps[0].DeviceID)
	assert.Equal(t, "Alice", ps[0].DisplayName)
	require.NotNil(t, ps[0].Location)
	assert.Equal(t, model.Point{Lat: 48.1, Lon: 17.1}, ps[0].Location.Point())
	assert.Equal(t, time.UnixMilli(1772366400000).UTC(), ps[0].Location.Timestamp)

	assert.Equal(t, "p2", ps[1].DeviceID)
	assert.Equal(t, "Bob", ps[1].DisplayName, "configured name wins")
	require.NotNil(t, ps[1].Location)
	assert.Equal(t, t0, ps[1].Location.Timestamp, "missing timestamp uses receive time")

	assert.Equal(t, "p3", ps[2].DeviceID)
	assert.Nil(t, ps[2].Location)
}

func TestMQTTFeed_HandleRejectsBadInput(t *testing.T) {
	f, _ := newFeed(t, MQTTOptions{})
	assert.Error(t, f.Handle("trackd/peers/p1/location", []byte("not json")))
	assert.Error(t, f.Handle("other/topic", []byte(`{"latitude":1}`)))
}

func TestMQTTFeed_IgnoresOutOfOrder(t *testing.T) {
	f, _ := newFeed(t, MQTTOptions{})
	newer := t0.UnixMilli()
	older := t0.Add(-time.Minute).UnixMilli()

	require.NoError(t, f.Handle("trackd/peers/p1/location", locationMsg(1, newer)))
	require.NoError(t, f.Handle("trackd/peers/p1/location", locationMsg(2, older)))

	ps, _ := f.Peers(t.Context())
	require.Len(t, ps, 1)
	assert.Equal(t, 1.0, ps[0].Location.Latitude)
}

func TestMQTTFeed_MaxAge(t *testing.T) {
	f, clock := newFeed(t, MQTTOptions{MaxAge: 10 * time.Minute})
	require.NoError(t, f.Handle("trackd/peers/p1/location", locationMsg(1, t0.UnixMilli())))

	ps, _ := f.Peers(t.Context())
	require.NotNil(t, ps[0].Location)

	clock.Set(t0.Add(11 * time.Minute))
	ps, _ = f.Peers(t.Context())
	assert.Nil(t, ps[0].Location)
}

func locationMsg(lat float64, tsMillis int64) []byte {
	return []byte(fmt.Sprintf(`{"latitude":%g,"longitude":17.1,"timestamp":%d}`, lat, tsMillis))
}
