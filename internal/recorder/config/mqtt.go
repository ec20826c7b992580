package config

import (
	"errors"
	"net/url"
)

const DefaultMqttTopic = ProductName + "/position"

type MqttConfig struct {
	Broker   string `toml:"broker,omitempty" comment:"e.g. tcp://localhost:1883"`
	ClientID string `toml:"client_id,omitempty"`
	Topic    string `toml:"topic,omitempty"`
	QoS      byte   `toml:"qos,omitempty"`
	Retained bool   `toml:"retained,omitempty"`
	Username string `toml:"username,omitempty"`
	Password string `toml:"password,omitempty"`
	Disabled bool   `toml:"disabled"`
}

type MqttConfigManager struct {
	BaseConfigManager[MqttConfig]
}

func (m *MqttConfigManager) Verify() error {
	if m.conf.Disabled {
		return nil
	}

	if m.conf.Broker == "" {
		return errors.New("mqtt enabled but no broker specified")
	}

	if _, err := url.Parse(m.conf.Broker); err != nil {
		return err
	}

	if m.conf.Topic == "" {
		return errors.New("mqtt topic can not be empty")
	}

	if m.conf.QoS > 2 {
		return errors.New("mqtt qos must be 0, 1 or 2")
	}

	return nil
}

func NewMqttConfigManager(config *MqttConfig, mgr *Manager) *MqttConfigManager {
	m := MqttConfigManager{}
	m.conf = config
	m.mgr = mgr

	return &m
}
