package recorder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	"github.com/LeoCommon/gpsrecorder/internal/recorder/api"
	"github.com/LeoCommon/gpsrecorder/internal/recorder/config"
	"github.com/LeoCommon/gpsrecorder/internal/recorder/mqtt"
	"github.com/LeoCommon/gpsrecorder/internal/recorder/storage"
	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"github.com/LeoCommon/gpsrecorder/pkg/nmea"
	"github.com/LeoCommon/gpsrecorder/pkg/position"
	"github.com/LeoCommon/gpsrecorder/pkg/serialport"
	"github.com/LeoCommon/gpsrecorder/pkg/systemd"
	"github.com/LeoCommon/gpsrecorder/pkg/usb"
	"go.uber.org/zap"
)

const releaseUnitsTimeout = 30 * time.Second

// Options replace the hardware facing parts, used by tests
type Options struct {
	// Instrumentation skips dbus and usb and accepts a missing config file
	Instrumentation bool

	Resolver serialport.Resolver
	Open     serialport.Opener
	Exists   serialport.ExistsFunc
}

// App global app struct that contains all services
type App struct {
	// All go routines that should terminate when the application ends are registered here
	WG sync.WaitGroup

	Conf *config.Manager

	SystemdConnector *systemd.Connector
	UsbManager       *usb.DeviceManager

	Serial     *serialport.Manager
	Parser     *nmea.Parser
	Aggregator *position.Aggregator

	// Sinks, nil when disabled
	Api     *api.RestAPI
	Storage *storage.DB
	Mqtt    *mqtt.Publisher

	mu          sync.Mutex
	running     bool
	connectedAt time.Time
	resets      uint64
	parseErrors uint64
	dropped     uint64
}

func (a *App) loadConfiguration(configPath string, acceptEmptyConfig bool) error {
	a.Conf = config.NewManager()
	err := a.Conf.Load(configPath, acceptEmptyConfig)
	if err == nil || configPath == config.DefaultConfigPath || !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	log.Error("config file not found, trying default path", zap.String("path", configPath), zap.Error(err))
	a.Conf = config.NewManager()
	return a.Conf.Load(config.DefaultConfigPath, acceptEmptyConfig)
}

// Setup loads the configuration and builds every service, nothing is started yet
func Setup(flags config.CLIFlags, opts Options) (*App, error) {
	app := App{}

	log.Init(flags.Debug)
	log.Info("gps recorder starting")

	if err := app.loadConfiguration(flags.ConfigPath, opts.Instrumentation); err != nil {
		return nil, err
	}

	// debug can also be enabled from the config file
	if !flags.Debug && app.Conf.Recorder().C().Debug {
		log.Init(true)
	}

	if !opts.Instrumentation {
		var err error
		app.SystemdConnector, err = systemd.NewConnector()
		if err != nil {
			log.Warn("could not connect to dbus, units can not be released", zap.Error(err))
			app.SystemdConnector = nil
		}
	}

	sinks, err := app.setupSinks(flags.Debug)
	if err != nil {
		app.Shutdown()
		return nil, err
	}

	app.Aggregator = position.New(app.Conf.Recorder().AggregatorConfig(), sinks)

	if err := app.setupSerial(opts); err != nil {
		app.Shutdown()
		return nil, err
	}

	if !opts.Instrumentation {
		dev := app.Conf.Device().C()
		app.UsbManager = usb.NewDeviceManager(dev.Hotplug, app.onHotplug)
		for _, d := range app.UsbManager.FindSupportedDevices() {
			log.Info("supported receiver attached", zap.String("device", d.String()))
		}
	}

	return &app, nil
}

func (a *App) setupSinks(debug bool) (position.Sinks, error) {
	var sinks position.Sinks

	if s := a.Conf.Storage().C(); !s.Disabled {
		db, err := storage.Open(s.Path)
		if err != nil {
			return nil, fmt.Errorf("could not open position database: %w", err)
		}
		a.Storage = db
		sinks = append(sinks, position.NamedSink{Name: "sqlite", Sink: db})
		log.Info("storing positions", zap.String("path", s.Path))
	}

	if !a.Conf.Api().C().Disabled {
		restAPI, err := api.NewRestAPI(a.Conf, debug)
		if err != nil {
			return nil, fmt.Errorf("could not initialize api: %w", err)
		}
		a.Api = restAPI
		sinks = append(sinks, position.NamedSink{Name: "api", Sink: restAPI})
		log.Info("uploading positions", zap.String("url", restAPI.GetBaseURL()))
	}

	if !a.Conf.Mqtt().C().Disabled {
		pub, err := mqtt.Connect(a.Conf)
		if err != nil {
			return nil, fmt.Errorf("could not connect to mqtt broker: %w", err)
		}
		a.Mqtt = pub
		sinks = append(sinks, position.NamedSink{Name: "mqtt", Sink: pub})
	}

	if len(sinks) == 0 {
		log.Warn("no sink enabled, positions are only logged")
		sinks = append(sinks, position.NamedSink{Name: "log", Sink: position.SinkFunc(logSink)})
	}

	return sinks, nil
}

func logSink(_ context.Context, r position.Record) error {
	log.Info("position", zap.Stringer("record", r))
	return nil
}

func (a *App) setupSerial(opts Options) error {
	devCM := a.Conf.Device()
	dev := devCM.C()

	a.Parser = &nmea.Parser{RequireChecksum: dev.RequireChecksum}

	resolver := opts.Resolver
	if resolver == nil {
		device, err := devCM.USBDevice()
		if err != nil {
			return err
		}
		resolver = usb.NewResolver(dev.Port, dev.PathGlob, device)
	}

	open := opts.Open
	if open == nil {
		serialOpts, err := devCM.SerialOptions()
		if err != nil {
			return err
		}
		if open, err = serialport.SerialOpener(serialOpts); err != nil {
			return err
		}
	}

	// verified on load
	framing, _ := serialport.ParseFramingMode(dev.Framing)

	a.Serial = serialport.NewManager(serialport.Config{
		Device:         dev.Name,
		ReconnectDelay: dev.ReconnectDelay.Value(),
		Framing:        framing,
		Resolver:       resolver,
		Open:           open,
		Exists:         opts.Exists,
		OnLine:         a.handleLine,
		OnState:        a.handleState,
	})

	return nil
}

// handleLine runs on the serial reader, parse errors never stop the stream
func (a *App) handleLine(line string, received time.Time) {
	if strings.TrimSpace(line) == "" {
		return
	}

	updates, err := a.Parser.ParseSentence(nmea.Sentence{Text: line, Received: received})
	switch {
	case err == nil:
		a.Aggregator.Apply(updates, received)
	case nmea.IsDropped(err):
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		log.Debug("sentence dropped", zap.String("line", line), zap.Error(err))
	default:
		a.mu.Lock()
		a.parseErrors++
		a.mu.Unlock()
		log.Warn("malformed sentence", zap.String("line", line), zap.Error(err))
	}
}

func (a *App) handleState(connected bool) {
	a.Aggregator.SetConnected(connected)

	if !connected {
		log.Warn("receiver disconnected")
		_ = systemd.Status("receiver disconnected")
		return
	}

	a.mu.Lock()
	a.connectedAt = time.Now()
	a.mu.Unlock()

	port := a.Serial.Stats().Port
	log.Info("receiver connected", zap.String("port", port))
	_ = systemd.Status("connected to " + port)

	a.writeInitSentences()
}

func (a *App) writeInitSentences() {
	for _, s := range a.Conf.Device().C().InitSentences {
		sentence := strings.TrimSpace(s)
		if !strings.Contains(sentence, "*") {
			sentence += "*" + nmea.Checksum(sentence)
		}

		if _, err := a.Serial.Write([]byte(sentence + "\r\n")); err != nil {
			log.Error("could not write init sentence", zap.String("sentence", sentence), zap.Error(err))
			return
		}
		log.Debug("init sentence written", zap.String("sentence", sentence))
	}
}

// onHotplug retries right away instead of waiting for the reconnect delay
func (a *App) onHotplug(device usb.DeviceTuple, added bool) {
	if added && a.Serial != nil {
		log.Info("receiver plugged in, reconnecting", zap.String("device", device.String()))
		a.Serial.Kick()
	}
}

func (a *App) releaseUnits(ctx context.Context) {
	units := a.Conf.Device().C().ReleaseUnits
	if len(units) == 0 || a.SystemdConnector == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, releaseUnitsTimeout)
	defer cancel()

	if err := systemd.ReleaseUnits(ctx, a.SystemdConnector, units); err != nil {
		log.Warn("could not release all units, the port may be busy", zap.Error(err))
	}
}

// Run connects to the receiver and blocks until ctx is done
func (a *App) Run(ctx context.Context) {
	a.releaseUnits(ctx)

	// the aggregator outlives ctx, Shutdown still flushes the last position
	a.Aggregator.Start(context.WithoutCancel(ctx))
	a.mu.Lock()
	a.running = true
	a.mu.Unlock()

	a.Serial.Connect()

	if stale := a.Conf.Recorder().C().StaleTimeout.Value(); stale > 0 {
		a.WG.Add(1)
		go a.watchStale(ctx, stale)
	}

	<-ctx.Done()
}

func (a *App) watchStale(ctx context.Context, timeout time.Duration) {
	defer a.WG.Done()

	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := a.checkStale(now, timeout); err != nil {
				a.recoverStuck(err)
			}
		}
	}
}

// checkStale returns a StuckError when a connected receiver went silent
func (a *App) checkStale(now time.Time, timeout time.Duration) error {
	stats := a.Serial.Stats()
	if stats.State != serialport.Connected {
		return nil
	}

	a.mu.Lock()
	last := a.connectedAt
	a.mu.Unlock()
	if stats.LastReceived.After(last) {
		last = stats.LastReceived
	}

	if silent := now.Sub(last); silent > timeout {
		return usb.NewStuckError(fmt.Sprintf("no data from %s for %s", stats.Port, silent.Round(time.Second)))
	}
	return nil
}

func (a *App) recoverStuck(reason error) {
	log.Warn("receiver stuck, resetting", zap.Error(reason))

	a.mu.Lock()
	a.resets++
	a.mu.Unlock()

	if a.UsbManager != nil {
		if attached := a.UsbManager.Attached(); attached != nil {
			err := a.UsbManager.ResetDevice(attached.DeviceType)
			if err != nil && !errors.Is(err, &usb.NotFoundError{}) {
				log.Error("usb reset failed", zap.Error(err))
			}
		}
	}

	// close and reopen, the reconnect timer takes over if the port is gone
	a.Serial.Connect()
}

// Status is a one line summary for the service manager
func (a *App) Status() string {
	serial := a.Serial.Stats()

	a.mu.Lock()
	running := a.running
	resets, parseErrors, dropped := a.resets, a.parseErrors, a.dropped
	a.mu.Unlock()

	status := fmt.Sprintf("%s %s, %d lines, %d malformed, %d dropped, %d resets",
		serial.Port, serial.State, serial.Lines, parseErrors, dropped, resets)

	// the aggregator only answers once Run started it
	if !running {
		return status
	}
	if agg, err := a.Aggregator.Stats(); err == nil {
		status += fmt.Sprintf(", %d fixes, %d emitted, %d emit errors", agg.Fixes, agg.Emits, agg.EmitErrors)
	}
	return status
}

// Shutdown disconnects the receiver, emits the last position and closes all services
func (a *App) Shutdown() {
	if a.Serial != nil {
		a.Serial.Disconnect()
	}

	a.mu.Lock()
	running := a.running
	a.mu.Unlock()

	if a.Aggregator != nil && running {
		if err := a.Aggregator.Flush(); err != nil && !errors.Is(err, position.ErrStopped) {
			log.Error("final flush failed", zap.Error(err))
		}
		a.Aggregator.Stop()
	}

	a.WG.Wait()

	if a.Mqtt != nil {
		a.Mqtt.Close()
	}

	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			log.Error("could not close database", zap.Error(err))
		}
	}

	if a.UsbManager != nil {
		a.UsbManager.Shutdown()
	}

	if a.SystemdConnector != nil {
		_ = a.SystemdConnector.Shutdown()
	}

	log.Sync()
}
