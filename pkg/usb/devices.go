package usb

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gousb"
)

type DeviceType int

const (
	Unknown DeviceType = iota
	// u-blox receivers with the CDC ACM interface
	GNSSUBlox7
	GNSSUBlox8
	GNSSUBlox9
	// USB to serial bridges found on cheap receiver boards
	BridgePL2303
	BridgeCP210x
)

var (
	SupportedDevices = DeviceMap{
		GNSSUBlox7: {
			VendorID:  0x1546,
			ProductID: 0x01a7,
			Name:      "u-blox 7 GPS/GNSS Receiver",
		},
		GNSSUBlox8: {
			VendorID:  0x1546,
			ProductID: 0x01a8,
			Name:      "u-blox 8 GNSS Receiver",
		},
		GNSSUBlox9: {
			VendorID:  0x1546,
			ProductID: 0x01a9,
			Name:      "u-blox 9 GNSS Receiver",
		},
		BridgePL2303: {
			VendorID:  0x067b,
			ProductID: 0x2303,
			Name:      "Prolific PL2303",
		},
		BridgeCP210x: {
			VendorID:  0x10c4,
			ProductID: 0xea60,
			Name:      "Silicon Labs CP210x",
		},
	}
)

type Device struct {
	Name      string
	VendorID  gousb.ID
	ProductID gousb.ID
}

func (d *Device) String() string {
	return fmt.Sprintf("%s vid: %s pid: %s", d.Name, d.VendorID.String(), d.ProductID.String())
}

// Matches compares against the hex strings reported by udev and the serial enumerator
func (d *Device) Matches(vid string, pid string) bool {
	v, err := ParseHexUINT16(vid)
	if err != nil {
		return false
	}
	p, err := ParseHexUINT16(pid)
	if err != nil {
		return false
	}
	return gousb.ID(v) == d.VendorID && gousb.ID(p) == d.ProductID
}

type DeviceMap map[DeviceType]*Device

type DeviceTuple struct {
	*Device
	DeviceType
}

func FindSupportedDeviceTuple(vendorID gousb.ID, productID gousb.ID) (DeviceTuple, bool) {
	for k, device := range SupportedDevices {
		if device.VendorID == vendorID && device.ProductID == productID {
			return DeviceTuple{DeviceType: k, Device: device}, true
		}
	}
	return DeviceTuple{}, false
}

func ParseHexUINT16(str string) (uint16, error) {
	val, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(str), "0x"), 16, 16)
	if err != nil {
		return 0, err
	}

	return uint16(val), nil
}
