package config

import (
	"errors"

	"github.com/LeoCommon/gpsrecorder/pkg/position"
)

type RecorderConfig struct {
	Name            string       `toml:"name" comment:"recorder name, sent along with uploaded positions"`
	Debug           bool         `toml:"debug,omitempty"`
	EmitInterval    TOMLDuration `toml:"emit_interval" comment:"how often a dirty position is handed to the sinks"`
	SpeedUnit       string       `toml:"speed_unit" comment:"knots, mph, kmh or mps"`
	SpeedLimit      float64      `toml:"speed_limit,omitempty" comment:"warn when exceeded, in speed_unit, 0 disables"`
	MotionFallback  bool         `toml:"motion_fallback" comment:"compute speed and bearing from consecutive fixes when the receiver does not report them"`
	DeviceMotionTTL TOMLDuration `toml:"device_motion_ttl,omitempty"`
	StaleTimeout    TOMLDuration `toml:"stale_timeout,omitempty" comment:"reset the receiver when no line arrived for this long while connected, 0 disables"`
}

type RecorderConfigManager struct {
	BaseConfigManager[RecorderConfig]
}

func (r *RecorderConfigManager) Verify() error {
	if r.conf.EmitInterval.Value() <= 0 {
		return errors.New("emit_interval must be positive")
	}

	if _, err := position.ParseSpeedUnit(r.conf.SpeedUnit); err != nil {
		return err
	}

	if r.conf.SpeedLimit < 0 {
		return errors.New("speed_limit can not be negative")
	}

	if r.conf.DeviceMotionTTL.Value() < 0 || r.conf.StaleTimeout.Value() < 0 {
		return errors.New("negative durations are not allowed")
	}

	return nil
}

// AggregatorConfig translates the section into the aggregator settings
func (r *RecorderConfigManager) AggregatorConfig() position.Config {
	c := r.C()

	// Verified on load
	unit, _ := position.ParseSpeedUnit(c.SpeedUnit)

	return position.Config{
		EmitInterval:    c.EmitInterval.Value(),
		SpeedUnit:       unit,
		SpeedLimit:      c.SpeedLimit,
		MotionFallback:  c.MotionFallback,
		DeviceMotionTTL: c.DeviceMotionTTL.Value(),
	}
}

func NewRecorderConfigManager(config *RecorderConfig, mgr *Manager) *RecorderConfigManager {
	r := RecorderConfigManager{}
	r.conf = config
	r.mgr = mgr

	return &r
}
