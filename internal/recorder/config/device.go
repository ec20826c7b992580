package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LeoCommon/gpsrecorder/pkg/serialport"
	"github.com/LeoCommon/gpsrecorder/pkg/usb"
	"github.com/google/gousb"
)

type DeviceConfig struct {
	Name            string       `toml:"name" comment:"logical receiver name used in log messages"`
	Port            string       `toml:"port,omitempty" comment:"fixed serial port, skips discovery"`
	PathGlob        string       `toml:"path_glob,omitempty" comment:"first match wins, e.g. /dev/serial/by-id/usb-u-blox*"`
	VendorID        string       `toml:"vendor_id,omitempty" comment:"usb vendor id in hex, requires product_id"`
	ProductID       string       `toml:"product_id,omitempty"`
	BaudRate        int          `toml:"baud_rate"`
	DataBits        int          `toml:"data_bits"`
	Parity          string       `toml:"parity" comment:"N, E or O"`
	StopBits        int          `toml:"stop_bits"`
	ReconnectDelay  TOMLDuration `toml:"reconnect_delay"`
	Framing         string       `toml:"framing" comment:"legacy forwards partial reads as lines, buffered waits for the terminator"`
	RequireChecksum bool         `toml:"require_checksum,omitempty" comment:"drop sentences without a checksum"`
	Hotplug         bool         `toml:"hotplug" comment:"reconnect immediately when udev reports a supported receiver"`
	ReleaseUnits    []string     `toml:"release_units,omitempty" comment:"systemd units stopped before connecting, e.g. gpsd.service"`
	InitSentences   []string     `toml:"init_sentences,omitempty" comment:"written to the receiver after connecting, the checksum is appended"`
}

type DeviceConfigManager struct {
	BaseConfigManager[DeviceConfig]
}

func (d *DeviceConfigManager) Verify() error {
	if _, err := d.SerialOptions(); err != nil {
		return err
	}

	if _, err := serialport.ParseFramingMode(d.conf.Framing); err != nil {
		return err
	}

	if d.conf.ReconnectDelay.Value() <= 0 {
		return errors.New("reconnect_delay must be positive")
	}

	if (d.conf.VendorID == "") != (d.conf.ProductID == "") {
		return errors.New("vendor_id and product_id must be set together")
	}

	if _, err := d.USBDevice(); err != nil {
		return err
	}

	for _, s := range d.conf.InitSentences {
		if !strings.HasPrefix(s, "$") {
			return fmt.Errorf("init sentence %q does not start with $", s)
		}
	}

	return nil
}

// SerialOptions returns the normalized port settings
func (d *DeviceConfigManager) SerialOptions() (serialport.Options, error) {
	c := d.C()
	return serialport.Options{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		StopBits: c.StopBits,
		Parity:   c.Parity,
	}.Normalize()
}

// USBDevice returns the configured receiver, nil if no ids are set
func (d *DeviceConfigManager) USBDevice() (*usb.Device, error) {
	c := d.C()
	if c.VendorID == "" {
		return nil, nil
	}

	vid, err := usb.ParseHexUINT16(c.VendorID)
	if err != nil {
		return nil, fmt.Errorf("invalid vendor_id %q: %w", c.VendorID, err)
	}

	pid, err := usb.ParseHexUINT16(c.ProductID)
	if err != nil {
		return nil, fmt.Errorf("invalid product_id %q: %w", c.ProductID, err)
	}

	if t, ok := usb.FindSupportedDeviceTuple(gousb.ID(vid), gousb.ID(pid)); ok {
		return t.Device, nil
	}

	return &usb.Device{Name: c.Name, VendorID: gousb.ID(vid), ProductID: gousb.ID(pid)}, nil
}

func NewDeviceConfigManager(config *DeviceConfig, mgr *Manager) *DeviceConfigManager {
	d := DeviceConfigManager{}
	d.conf = config
	d.mgr = mgr

	return &d
}
