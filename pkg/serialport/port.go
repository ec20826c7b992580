package serialport

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.bug.st/serial"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = 500 * time.Millisecond
)

// Port is the part of a serial port the manager needs, serial.Port satisfies it
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the OS port with the given name
type Opener func(name string) (Port, error)

// ExistsFunc reports whether the OS currently lists the port
type ExistsFunc func(name string) bool

// Options are the line settings of the receiver, the zero value is 9600 8N1
type Options struct {
	BaudRate int
	DataBits int
	StopBits int
	Parity   string

	// ReadTimeout bounds a single blocking read, reads return empty after it
	ReadTimeout time.Duration
}

// Normalize validates the options and fills in defaults
func (o Options) Normalize() (Options, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.ToUpper(strings.TrimSpace(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}

	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}

	return opts, nil
}

// SerialMode converts the options into the mode used by go.bug.st/serial
func (o Options) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode, nil
}

// SerialOpener returns an Opener for real serial ports using these options
func SerialOpener(o Options) (Opener, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	return func(name string) (Port, error) {
		p, err := serial.Open(name, mode)
		if err != nil {
			return nil, err
		}

		// Without a timeout Read blocks until data arrives, the reader needs to notice closes
		if err := p.SetReadTimeout(opts.ReadTimeout); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to set read timeout: %w", err)
		}

		return p, nil
	}, nil
}

// PortExists checks the OS port list, symlinks like /dev/serial/by-id/* are resolved first
func PortExists(name string) bool {
	if resolved, err := filepath.EvalSymlinks(name); err == nil {
		name = resolved
	}

	ports, err := serial.GetPortsList()
	if err != nil {
		return false
	}

	for _, p := range ports {
		if p == name {
			return true
		}
	}
	return false
}
