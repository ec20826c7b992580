// Package serialport supervises one line oriented serial device.
//
// The Manager resolves the OS port through an injected Resolver, frames the byte stream into
// lines and keeps retrying at a fixed cadence while the device is gone.
package serialport

import (
	"errors"
	"sync"
	"time"

	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"go.uber.org/zap"
)

const (
	DefaultReconnectDelay = 2 * time.Second

	readBufferSize = 512
)

var ErrDisconnected = errors.New("serial port is not connected")

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Resolver maps the logical device name to an OS port identifier
type Resolver interface {
	ResolvePort(device string) (string, error)
}

type ResolverFunc func(device string) (string, error)

func (f ResolverFunc) ResolvePort(device string) (string, error) {
	return f(device)
}

// LineHandler receives every framed line together with the time its read returned.
// It runs on the reader goroutine and must not call Connect or Disconnect.
type LineHandler func(line string, received time.Time)

// StateHandler is called once per transition between connected and not connected
type StateHandler func(connected bool)

type Config struct {
	// Device is the logical name handed to the Resolver, e.g. "gps"
	Device string

	ReconnectDelay time.Duration
	Framing        FramingMode

	Resolver Resolver
	Open     Opener
	// Exists defaults to PortExists
	Exists ExistsFunc

	OnLine  LineHandler
	OnState StateHandler
}

// Stats describe the traffic seen since the manager was created
type Stats struct {
	Port         string
	State        State
	Reads        uint64
	Lines        uint64
	LastLine     string
	LastReceived time.Time
}

type Manager struct {
	conf Config
	log  *zap.Logger

	// attemptMu serializes opening and closing, it is taken before mu
	attemptMu sync.Mutex
	// notifyMu keeps state callbacks in transition order
	notifyMu sync.Mutex

	mu           sync.Mutex
	state        State
	port         Port
	timer        *time.Timer
	disconnected bool
	stats        Stats

	// reconnect callbacks that passed the disconnected check
	inflight sync.WaitGroup
	readers  sync.WaitGroup
}

func NewManager(conf Config) *Manager {
	if conf.ReconnectDelay <= 0 {
		conf.ReconnectDelay = DefaultReconnectDelay
	}
	if conf.Exists == nil {
		conf.Exists = PortExists
	}
	if conf.OnLine == nil {
		conf.OnLine = func(string, time.Time) {}
	}
	if conf.OnState == nil {
		conf.OnState = func(bool) {}
	}

	return &Manager{
		conf:         conf,
		log:          log.Named("serial", zap.String("device", conf.Device)),
		disconnected: true,
	}
}

// Connect (re)opens the port. An open port is closed first. Failures are logged and
// retried every ReconnectDelay until the port is open or Disconnect is called.
func (m *Manager) Connect() {
	m.attemptMu.Lock()
	defer m.attemptMu.Unlock()

	m.mu.Lock()
	m.disconnected = false
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()

	m.closePort()
	m.open()

	m.mu.Lock()
	m.armLocked()
	m.mu.Unlock()
}

// Disconnect stops reconnecting and closes the port. No reconnect attempt runs
// after it returns.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.disconnected = true
	if m.timer != nil {
		m.timer.Stop()
	}
	m.mu.Unlock()

	// a callback may have passed the check before the flag was set
	m.inflight.Wait()

	m.attemptMu.Lock()
	defer m.attemptMu.Unlock()
	m.closePort()
}

// Kick fires a pending reconnect right away, e.g. when a receiver was plugged in
func (m *Manager) Kick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disconnected || m.timer == nil || m.state == Connected {
		return
	}
	m.timer.Reset(0)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.State = m.state
	return s
}

// Write sends raw bytes to the receiver, e.g. configuration sentences
func (m *Manager) Write(data []byte) (int, error) {
	m.mu.Lock()
	p := m.port
	m.mu.Unlock()

	if p == nil {
		return 0, ErrDisconnected
	}
	return p.Write(data)
}

// armLocked schedules the next attempt while the port is not open, m.mu must be held
func (m *Manager) armLocked() {
	if m.disconnected || m.state == Connected {
		return
	}

	if m.timer == nil {
		m.timer = time.AfterFunc(m.conf.ReconnectDelay, m.reconnect)
		return
	}
	m.timer.Reset(m.conf.ReconnectDelay)
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.disconnected {
		m.mu.Unlock()
		return
	}
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	m.log.Debug("reconnect timer fired")

	m.attemptMu.Lock()
	if m.State() != Connected {
		m.open()
	}
	m.mu.Lock()
	m.armLocked()
	m.mu.Unlock()
	m.attemptMu.Unlock()
}

// open tries to open the resolved port once, m.attemptMu must be held
func (m *Manager) open() {
	name, err := m.conf.Resolver.ResolvePort(m.conf.Device)
	if err != nil {
		m.log.Warn("serial port not found", zap.Error(err))
		return
	}

	if !m.conf.Exists(name) {
		m.log.Warn("serial port not found", zap.String("port", name))
		return
	}

	m.setState(Connecting)

	p, err := m.conf.Open(name)
	if err != nil {
		m.log.Error("failed to open serial port", zap.String("port", name), zap.Error(err))
		m.setState(Disconnected)
		return
	}

	m.mu.Lock()
	m.port = p
	m.stats.Port = name
	m.mu.Unlock()

	m.log.Info("serial port opened", zap.String("port", name))
	m.setState(Connected)

	// started last, a read error right away must not be overwritten by Connected
	m.readers.Add(1)
	go m.read(p)
}

// closePort closes an open port and waits for its reader, m.attemptMu must be held
func (m *Manager) closePort() {
	m.mu.Lock()
	p := m.port
	m.port = nil
	m.mu.Unlock()

	if p != nil {
		if err := p.Close(); err != nil {
			m.log.Warn("failed to close serial port", zap.Error(err))
		}
		m.log.Info("serial port closed")
	}

	m.readers.Wait()
	m.setState(Disconnected)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s

	// Take the notify lock before releasing mu so callbacks keep the transition order
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	if (prev == Connected) != (s == Connected) {
		m.conf.OnState(s == Connected)
	}
}

func (m *Manager) read(p Port) {
	defer m.readers.Done()

	framer := NewFramer(m.conf.Framing)
	buf := make([]byte, readBufferSize)

	for {
		n, err := p.Read(buf)
		if n > 0 {
			received := time.Now()
			lines := framer.Push(buf[:n])

			m.mu.Lock()
			m.stats.Reads++
			for _, l := range lines {
				if l != "" {
					m.stats.Lines++
					m.stats.LastLine = l
					m.stats.LastReceived = received
				}
			}
			m.mu.Unlock()

			for _, l := range lines {
				m.conf.OnLine(l, received)
			}
		}

		if err != nil {
			m.lost(p, err)
			return
		}
	}
}

// lost handles a read error on p, unless p was closed on purpose
func (m *Manager) lost(p Port, err error) {
	m.mu.Lock()
	if m.port != p {
		m.mu.Unlock()
		return
	}
	m.port = nil
	m.mu.Unlock()

	m.log.Warn("serial port lost", zap.Error(err))
	_ = p.Close()
	m.setState(Disconnected)

	m.mu.Lock()
	m.armLocked()
	m.mu.Unlock()
}
