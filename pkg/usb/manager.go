package usb

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/DiscoResearchSat/go-udev/netlink"
	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"github.com/google/gousb"
	"go.uber.org/zap"
)

// HotplugHandler is called for supported devices only
type HotplugHandler func(device DeviceTuple, added bool)

type DeviceManager struct {
	sync.Mutex
	sync.WaitGroup

	// Currently attached receivers
	devices   DeviceMap
	onHotplug HotplugHandler

	// Cancels the udev monitor if it is running
	cancelMonitor context.CancelFunc
	// The udev event connection, if not nil, udev monitoring is active
	udev *netlink.UEventConn
}

// NewDeviceManager creates a manager, with hotplug enabled it listens for udev
// bind and unbind events. Missing udev support is logged and ignored.
func NewDeviceManager(hotplug bool, onHotplug HotplugHandler) *DeviceManager {
	m := &DeviceManager{
		devices:   make(DeviceMap),
		onHotplug: onHotplug,
	}

	if !hotplug {
		return m
	}

	m.udev = new(netlink.UEventConn)
	if err := m.udev.Connect(netlink.UdevEvent); err != nil {
		log.Error("could not connect to udev, hotplug support not available", zap.Error(err))
		m.udev = nil
		return m
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancelMonitor = cancel

	m.Add(1)
	go m.monitor(ctx)

	return m
}

// FindSupportedDevices scans the bus for attached receivers
func (m *DeviceManager) FindSupportedDevices() DeviceMap {
	m.Lock()
	defer m.Unlock()

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	for devType, d := range SupportedDevices {
		dev, err := usbCtx.OpenDeviceWithVIDPID(d.VendorID, d.ProductID)
		if dev == nil {
			if err != nil {
				log.Debug("could not open usb device", zap.String("device", d.String()), zap.Error(err))
			}
			continue
		}
		dev.Close()

		m.devices[devType] = d
		log.Info("found supported receiver", zap.String("device", d.String()))
	}

	found := make(DeviceMap, len(m.devices))
	for k, v := range m.devices {
		found[k] = v
	}
	return found
}

// Attached returns the first known receiver, it is nil if none was seen
func (m *DeviceManager) Attached() *DeviceTuple {
	m.Lock()
	defer m.Unlock()

	for k, d := range m.devices {
		return &DeviceTuple{Device: d, DeviceType: k}
	}
	return nil
}

func (m *DeviceManager) HotplugReceived(vendorID uint16, productID uint16, wasAdded bool) {
	tuple, found := FindSupportedDeviceTuple(gousb.ID(vendorID), gousb.ID(productID))
	if !found {
		log.Debug("ignoring unsupported usb device", zap.String("vid", gousb.ID(vendorID).String()), zap.String("pid", gousb.ID(productID).String()))
		return
	}

	m.Lock()
	if wasAdded {
		m.devices[tuple.DeviceType] = tuple.Device
		log.Info("receiver attached", zap.String("device", tuple.Device.String()))
	} else {
		delete(m.devices, tuple.DeviceType)
		log.Info("receiver removed", zap.String("device", tuple.Device.String()))
	}
	m.Unlock()

	// outside the lock, the handler may call back into us
	if m.onHotplug != nil {
		m.onHotplug(tuple, wasAdded)
	}
}

// ResetDevice issues a usb port reset, the receiver re-enumerates afterwards
func (m *DeviceManager) ResetDevice(target DeviceType) error {
	supd, exists := SupportedDevices[target]
	if !exists {
		return fmt.Errorf("device type %d is not supported", target)
	}

	m.Lock()
	d, exists := m.devices[target]
	m.Unlock()
	if !exists {
		return NewNotFoundError(fmt.Sprintf("device '%s' not attached", supd.Name))
	}

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	dev, _ := usbCtx.OpenDeviceWithVIDPID(d.VendorID, d.ProductID)
	if dev == nil {
		log.Error("the receiver was detected previously, but disappeared", zap.String("device", d.String()))
		return NewVanishedError(fmt.Sprintf("%s disappeared but was detected before", d.String()))
	}
	defer dev.Close()

	if err := dev.Reset(); err != nil {
		log.Error("resetting usb device failed", zap.String("device", d.String()), zap.Error(err))
		return err
	}

	log.Info("usb device reset", zap.String("device", d.String()))
	return nil
}

func (m *DeviceManager) Shutdown() {
	if m.cancelMonitor != nil {
		log.Info("stopping udev monitor")
		m.cancelMonitor()
	}
	m.Wait()
}

// parseProduct splits the udev PRODUCT value "1546/1a7/100" into vendor and product id
func parseProduct(product string) (uint16, uint16, error) {
	s := strings.Split(product, "/")
	if len(s) < 2 {
		return 0, 0, fmt.Errorf("malformed product string %q", product)
	}

	vid, err := ParseHexUINT16(s[0])
	if err != nil {
		return 0, 0, fmt.Errorf("could not parse vendor id %q: %w", s[0], err)
	}
	pid, err := ParseHexUINT16(s[1])
	if err != nil {
		return 0, 0, fmt.Errorf("could not parse product id %q: %w", s[1], err)
	}
	return vid, pid, nil
}

func (m *DeviceManager) monitor(ctx context.Context) {
	defer m.Done()
	defer m.udev.Close()

	// buffered, a matcher error is reported before Monitor returns
	errs := make(chan error, 1)

	// usb_device binds and unbinds only, interfaces would fire once per endpoint
	matchRule := fmt.Sprintf("%s|%s", netlink.BIND, netlink.UNBIND)
	deviceMatcher := &netlink.RuleDefinitions{
		Rules: []netlink.RuleDefinition{
			{
				Action: &matchRule,
				Env: map[string]string{
					"DEVTYPE": "usb_device",
				},
			},
		},
	}

	queue := m.udev.Monitor(ctx, errs, deviceMatcher)

	for {
		select {
		case <-ctx.Done():
			// drain until the reader goroutine closed the queue
			for queue != nil {
				select {
				case _, ok := <-queue:
					if !ok {
						queue = nil
					}
				case <-errs:
				}
			}
			log.Info("stopped observing udev events")
			return

		case uevent, ok := <-queue:
			if !ok {
				// the reader stopped on an error, it was reported on errs
				log.Warn("udev monitor stopped, hotplug support not available")
				queue = nil
				continue
			}

			product, ok := uevent.Env["PRODUCT"]
			if !ok {
				log.Debug("uevent without product", zap.String("event", uevent.String()))
				continue
			}

			vid, pid, err := parseProduct(product)
			if err != nil {
				log.Error("could not parse uevent product", zap.Error(err))
				continue
			}

			m.HotplugReceived(vid, pid, uevent.Action == netlink.BIND)

		case err := <-errs:
			if ctx.Err() != nil {
				continue
			}
			log.Error("udev monitor encountered an error", zap.Error(err))
		}
	}
}
