package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeoCommon/gpsrecorder/internal/recorder"
	"github.com/LeoCommon/gpsrecorder/internal/recorder/config"
	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"github.com/LeoCommon/gpsrecorder/pkg/systemd"
	"go.uber.org/zap"
)

// used when systemd does not set a watchdog
const statusInterval = 30 * time.Second

func main() {
	flags := config.ParseCLIFlags()

	app, err := recorder.Setup(flags, recorder.Options{})
	if err != nil {
		fmt.Printf("Initialization failed, error: %s\n", err)
		os.Exit(1)
	}

	exitSignal := make(chan os.Signal, 1)
	signal.Notify(exitSignal, os.Interrupt, syscall.SIGTERM)

	// SIGUSR1 logs the current state
	statusSignal := make(chan os.Signal, 1)
	signal.Notify(statusSignal, syscall.SIGUSR1)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		app.Run(ctx)
	}()

	if err := systemd.Notify(systemd.NotifyReady); err != nil {
		log.Debug("not running under systemd", zap.Error(err))
	}

	interval := systemd.WatchdogInterval()
	if interval == 0 {
		interval = statusInterval
	}
	ticker := time.NewTicker(interval)

loop:
	for {
		select {
		case <-ticker.C:
			_ = systemd.EntertainWatchdog()
			_ = systemd.Status(app.Status())

		case <-statusSignal:
			log.Info("status", zap.String("status", app.Status()))

		case sig := <-exitSignal:
			log.Info("exit signal received, shutting down", zap.Stringer("signal", sig))
			break loop
		}
	}

	ticker.Stop()
	_ = systemd.Notify(systemd.NotifyStopping)

	cancel()
	<-runDone
	app.Shutdown()

	log.Info("recorder stopped")
}
