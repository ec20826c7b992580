// Package mqtt publishes emitted positions to a broker
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/LeoCommon/gpsrecorder/internal/recorder/config"
	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"github.com/LeoCommon/gpsrecorder/pkg/position"
	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	ConnectTimeout    = 10 * time.Second
	DisconnectQuiesce = 250 // ms
)

var ErrNotConnected = errors.New("mqtt client not connected")

// Message is the json payload of one position
type Message struct {
	ID               string  `json:"id"`
	Recorder         string  `json:"recorder"`
	Lat              float64 `json:"lat"`
	Lon              float64 `json:"lon"`
	HDOP             float64 `json:"hdop"`
	VDOP             float64 `json:"vdop"`
	PDOP             float64 `json:"pdop"`
	Speed            float64 `json:"speed"`
	SpeedUnit        string  `json:"speed_unit"`
	Bearing          float64 `json:"bearing"`
	Fix              bool    `json:"fix"`
	SatellitesInView int     `json:"satellites_in_view"`
	DeviceTime       *string `json:"device_time,omitempty"`
	Timestamp        string  `json:"timestamp"`
}

func NewMessage(recorder string, r position.Record) Message {
	m := Message{
		ID:               r.ID,
		Recorder:         recorder,
		Lat:              r.Latitude,
		Lon:              r.Longitude,
		HDOP:             r.HDOP,
		VDOP:             r.VDOP,
		PDOP:             r.PDOP,
		Speed:            r.Speed,
		SpeedUnit:        string(r.SpeedUnit),
		Bearing:          r.Bearing,
		Fix:              r.FixAcquired,
		SatellitesInView: r.SatellitesInView,
		Timestamp:        r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if !r.DeviceTime.IsZero() {
		s := r.DeviceTime.UTC().Format(time.RFC3339)
		m.DeviceTime = &s
	}
	return m
}

// publisher is the part of paho.Client the sink uses
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnectionOpen() bool
}

// Publisher implements position.Sink
type Publisher struct {
	client   publisher
	topic    string
	qos      byte
	retained bool
	recorder string

	disconnect func()
}

// Connect creates the paho client and waits for the first connection, paho keeps
// reconnecting in the background afterwards.
func Connect(conf *config.Manager) (*Publisher, error) {
	c := conf.Mqtt().C()
	recorder := conf.Recorder().C().Name

	opts := paho.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(ConnectTimeout).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(_ paho.Client) {
			log.Info("mqtt connected", zap.String("broker", c.Broker))
		})

	if c.Username != "" {
		opts.SetUsername(c.Username).SetPassword(c.Password)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(ConnectTimeout) {
		// connect retry keeps going, publishing fails until it succeeds
		log.Warn("mqtt broker not reachable yet", zap.String("broker", c.Broker))
	} else if token.Error() != nil {
		return nil, token.Error()
	}

	p := newPublisher(client, c.Topic, c.QoS, c.Retained, recorder)
	p.disconnect = func() { client.Disconnect(DisconnectQuiesce) }
	return p, nil
}

func newPublisher(client publisher, topic string, qos byte, retained bool, recorder string) *Publisher {
	return &Publisher{
		client:   client,
		topic:    topic,
		qos:      qos,
		retained: retained,
		recorder: recorder,
	}
}

func (p *Publisher) Store(ctx context.Context, r position.Record) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(NewMessage(p.recorder, r))
	if err != nil {
		return err
	}

	token := p.client.Publish(p.topic, p.qos, p.retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) Close() {
	if p.disconnect != nil {
		p.disconnect()
	}
}
