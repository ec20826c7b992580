package systemd

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/LeoCommon/gpsrecorder/pkg/log"
)

var ErrNoNotifySocket = errors.New("systemd-notify socket was not available")

// EntertainWatchdog sends a notification to the systemd watchdog
func EntertainWatchdog() error {
	log.Debug("notifying systemd watchdog")
	return Notify(NotifyWatchdog)
}

// Status publishes a free form status line, visible in systemctl status
func Status(status string) error {
	return Notify(fmt.Sprintf(NotifyStatusTemplate, status))
}

// WatchdogInterval returns half of the configured watchdog timeout, 0 if there is none
func WatchdogInterval() time.Duration {
	usec, err := strconv.ParseInt(os.Getenv(WatchdogUsecEnvVar), 10, 64)
	if err != nil || usec <= 0 {
		return 0
	}
	return time.Duration(usec) * time.Microsecond / 2
}

// Notify sends the provided msg to the systemd socket
func Notify(msg string) error {
	name := os.Getenv(NotifySocketEnvVar)
	if name == "" {
		return ErrNoNotifySocket
	}

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Net: "unixgram", Name: name})
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.Write([]byte(msg))
	return err
}
