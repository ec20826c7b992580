package usb

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// Resolver finds the serial port of a GNSS receiver. The first configured strategy
// that yields a port wins: explicit port, path glob, vendor and product id.
type Resolver struct {
	// Port is used as is when set
	Port string
	// PathGlob matches stable names, e.g. /dev/serial/by-id/usb-u-blox*
	PathGlob string
	// Device limits the id lookup to one receiver, nil accepts every supported device
	Device *Device

	glob      func(pattern string) ([]string, error)
	listPorts func() ([]*enumerator.PortDetails, error)
}

func NewResolver(port string, pathGlob string, device *Device) *Resolver {
	return &Resolver{
		Port:      port,
		PathGlob:  pathGlob,
		Device:    device,
		glob:      filepath.Glob,
		listPorts: enumerator.GetDetailedPortsList,
	}
}

// ResolvePort implements serialport.Resolver, device is only used for messages
func (r *Resolver) ResolvePort(device string) (string, error) {
	if r.Port != "" {
		return r.Port, nil
	}

	if r.PathGlob != "" {
		matches, err := r.glob(r.PathGlob)
		if err != nil {
			return "", fmt.Errorf("invalid path glob %q: %w", r.PathGlob, err)
		}
		if len(matches) > 0 {
			sort.Strings(matches)
			return matches[0], nil
		}
	}

	ports, err := r.listPorts()
	if err != nil {
		return "", fmt.Errorf("could not enumerate serial ports: %w", err)
	}

	for _, p := range ports {
		if !p.IsUSB {
			continue
		}

		if r.Device != nil {
			if r.Device.Matches(p.VID, p.PID) {
				return p.Name, nil
			}
			continue
		}

		for _, d := range SupportedDevices {
			if d.Matches(p.VID, p.PID) {
				log.Debug("found supported receiver", zap.String("port", p.Name), zap.String("device", d.String()))
				return p.Name, nil
			}
		}
	}

	return "", NewNotFoundError(fmt.Sprintf("no serial port found for %s", device))
}
