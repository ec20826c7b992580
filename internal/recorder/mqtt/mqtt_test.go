package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/LeoCommon/gpsrecorder/pkg/position"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, completed bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if completed {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(time.Duration) bool {
	return true
}

func (t *fakeToken) Done() <-chan struct{} {
	return t.done
}

func (t *fakeToken) Error() error {
	return t.err
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	open  bool
	token *fakeToken
	sent  []published
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.sent = append(c.sent, published{topic, qos, retained, payload.([]byte)})
	return c.token
}

func (c *fakeClient) IsConnectionOpen() bool {
	return c.open
}

func TestPublish(t *testing.T) {
	client := &fakeClient{open: true, token: newToken(nil, true)}
	p := newPublisher(client, "gpsrecorder/position", 1, true, "van-7")

	rec := position.Record{
		ID:          "id-1",
		Latitude:    -8.7316,
		Longitude:   115.1707,
		Speed:       3.2,
		SpeedUnit:   position.KilometersPerHour,
		FixAcquired: true,
		Timestamp:   time.Date(2024, 3, 5, 22, 10, 0, 500, time.UTC),
	}
	require.NoError(t, p.Store(context.Background(), rec))
	require.Len(t, client.sent, 1)

	msg := client.sent[0]
	assert.Equal(t, "gpsrecorder/position", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.payload, &decoded))
	assert.Equal(t, "id-1", decoded["id"])
	assert.Equal(t, "van-7", decoded["recorder"])
	assert.Equal(t, "kmh", decoded["speed_unit"])
	assert.Equal(t, true, decoded["fix"])
	assert.Equal(t, "2024-03-05T22:10:00.0000005Z", decoded["timestamp"])
	assert.NotContains(t, decoded, "device_time")
}

func TestPublishErrors(t *testing.T) {
	client := &fakeClient{open: false, token: newToken(nil, true)}
	p := newPublisher(client, "t", 0, false, "r")

	assert.ErrorIs(t, p.Store(context.Background(), position.Record{}), ErrNotConnected)
	assert.Empty(t, client.sent)

	client.open = true
	client.token = newToken(errors.New("broker gone"), true)
	assert.EqualError(t, p.Store(context.Background(), position.Record{}), "broker gone")

	// a publish that never completes is bounded by the context
	client.token = newToken(nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Store(ctx, position.Record{}), context.DeadlineExceeded)
}
