// Package position keeps the current position snapshot of a receiver and hands it to
// a Sink at a fixed interval.
//
// All updates, connection state changes and emit ticks are funneled through one
// goroutine, so the snapshot is never shared.
package position

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"github.com/LeoCommon/gpsrecorder/pkg/nmea"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultEmitInterval    = 10 * time.Second
	DefaultDeviceMotionTTL = 5 * time.Second
	DefaultSinkTimeout     = 5 * time.Second

	eventQueueSize = 256

	// fixes closer than this belong to the same receiver epoch, e.g. GGA and GLL
	sameEpoch = 500 * time.Millisecond
)

var ErrStopped = errors.New("aggregator is not running")

type Config struct {
	EmitInterval time.Duration
	SpeedUnit    SpeedUnit
	// SpeedLimit in SpeedUnit, 0 disables the check
	SpeedLimit float64

	// MotionFallback derives speed and bearing from consecutive fixes while the
	// receiver did not report them for DeviceMotionTTL
	MotionFallback  bool
	DeviceMotionTTL time.Duration

	SinkTimeout time.Duration

	// NewID creates record identities, defaults to random UUIDs
	NewID func() string
}

// Stats are counters since Start
type Stats struct {
	Connected          bool
	Fixes              uint64
	Emits              uint64
	EmitErrors         uint64
	SpeedLimitExceeded uint64
	TimingErrors       uint64
}

type updateEvent struct {
	updates  []nmea.Update
	received time.Time
}

type stateEvent struct {
	connected bool
}

type flushEvent struct {
	done chan struct{}
}

type queryEvent struct {
	reply chan query
}

type query struct {
	snapshot Snapshot
	stats    Stats
}

type Aggregator struct {
	conf Config
	sink Sink
	log  *zap.Logger

	events chan any
	done   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// owned by the run loop
	snap             Snapshot
	prev             *Fix
	lastDeviceMotion time.Time
	ticker           *time.Ticker

	// GSV cycle being collected, next is the expected message number
	gsv     []nmea.Satellite
	gsvNext int
	stats            Stats
}

func New(conf Config, sink Sink) *Aggregator {
	if conf.EmitInterval <= 0 {
		conf.EmitInterval = DefaultEmitInterval
	}
	if conf.SpeedUnit == "" {
		conf.SpeedUnit = MilesPerHour
	}
	if conf.DeviceMotionTTL <= 0 {
		conf.DeviceMotionTTL = DefaultDeviceMotionTTL
	}
	if conf.SinkTimeout <= 0 {
		conf.SinkTimeout = DefaultSinkTimeout
	}
	if conf.NewID == nil {
		conf.NewID = uuid.NewString
	}

	a := &Aggregator{
		conf:   conf,
		sink:   sink,
		log:    log.Named("position"),
		events: make(chan any, eventQueueSize),
		done:   make(chan struct{}),
	}
	a.snap.SpeedUnit = conf.SpeedUnit
	return a
}

// Start runs the event loop until ctx is done or Stop is called
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer close(a.done)
		a.run(ctx)
	}()
}

// Stop ends the loop and waits for it, a dirty snapshot is not emitted
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

func (a *Aggregator) post(ev any) bool {
	select {
	case a.events <- ev:
		return true
	case <-a.done:
		return false
	}
}

// Apply queues the updates of one sentence, they are applied together
func (a *Aggregator) Apply(updates []nmea.Update, received time.Time) {
	if len(updates) == 0 {
		return
	}
	a.post(updateEvent{updates: updates, received: received})
}

// SetConnected starts or stops the emit timer, it matches serialport.StateHandler
func (a *Aggregator) SetConnected(connected bool) {
	a.post(stateEvent{connected: connected})
}

// Flush emits a dirty snapshot now and waits until the sink returned
func (a *Aggregator) Flush() error {
	done := make(chan struct{})
	if !a.post(flushEvent{done: done}) {
		return ErrStopped
	}

	select {
	case <-done:
		return nil
	case <-a.done:
		return ErrStopped
	}
}

func (a *Aggregator) query() (query, error) {
	reply := make(chan query, 1)
	if !a.post(queryEvent{reply: reply}) {
		return query{}, ErrStopped
	}

	select {
	case q := <-reply:
		return q, nil
	case <-a.done:
		return query{}, ErrStopped
	}
}

// Snapshot returns a copy of the live snapshot
func (a *Aggregator) Snapshot() (Snapshot, error) {
	q, err := a.query()
	return q.snapshot, err
}

func (a *Aggregator) Stats() (Stats, error) {
	q, err := a.query()
	return q.stats, err
}

func (a *Aggregator) run(ctx context.Context) {
	defer a.stopTimer()

	for {
		var tick <-chan time.Time
		if a.ticker != nil {
			tick = a.ticker.C
		}

		select {
		case <-ctx.Done():
			return
		case <-tick:
			a.emit(ctx)
		case ev := <-a.events:
			a.handle(ctx, ev)
		}
	}
}

func (a *Aggregator) handle(ctx context.Context, ev any) {
	switch ev := ev.(type) {
	case updateEvent:
		a.apply(ev.updates, ev.received)
	case stateEvent:
		a.setConnected(ev.connected)
	case flushEvent:
		a.emit(ctx)
		close(ev.done)
	case queryEvent:
		snap := a.snap
		snap.Satellites = slices.Clone(a.snap.Satellites)
		ev.reply <- query{snapshot: snap, stats: a.stats}
	}
}

func (a *Aggregator) setConnected(connected bool) {
	a.stats.Connected = connected

	if !connected {
		a.stopTimer()
		return
	}

	if a.ticker == nil {
		a.ticker = time.NewTicker(a.conf.EmitInterval)
		a.log.Debug("emit timer started", zap.Duration("interval", a.conf.EmitInterval))
	}
}

func (a *Aggregator) stopTimer() {
	if a.ticker != nil {
		a.ticker.Stop()
		a.ticker = nil
		a.log.Debug("emit timer stopped")
	}
}

func (a *Aggregator) apply(updates []nmea.Update, received time.Time) {
	if received.IsZero() {
		received = time.Now()
	}

	// The motion fallback only runs for sentences without speed or bearing of their own
	deviceMotion := false
	for _, u := range updates {
		switch u.(type) {
		case nmea.SpeedUpdate, nmea.BearingUpdate:
			deviceMotion = true
		}
	}
	if deviceMotion {
		a.lastDeviceMotion = received
	}

	for _, u := range updates {
		switch u := u.(type) {
		case nmea.PositionFix:
			a.applyFix(u, received, deviceMotion)
		case nmea.SpeedUpdate:
			a.setSpeed(a.conf.SpeedUnit.FromKnots(u.Value))
		case nmea.BearingUpdate:
			a.snap.Bearing = u.Degrees
		case nmea.DOPUpdate:
			switch u.Kind {
			case nmea.HDOP:
				a.snap.HDOP = u.Value
			case nmea.VDOP:
				a.snap.VDOP = u.Value
			case nmea.PDOP:
				a.snap.PDOP = u.Value
			}
		case nmea.FixStatus:
			if a.snap.FixAcquired != u.Acquired {
				a.log.Info("fix status changed", zap.Bool("acquired", u.Acquired))
			}
			a.snap.FixAcquired = u.Acquired
		case nmea.SatelliteView:
			a.snap.SatellitesInView = u.InView
			a.applySatellites(u)
		case nmea.TimeUpdate:
			a.snap.DeviceTime = u.UTC
		}
	}
}

func (a *Aggregator) applyFix(u nmea.PositionFix, received time.Time, deviceMotion bool) {
	cur := Fix{Lat: u.Lat, Lon: u.Lon, Time: received}

	if a.prev != nil {
		if elapsed := received.Sub(a.prev.Time); elapsed > 0 && elapsed < sameEpoch {
			// motion is measured from the first fix of an epoch
			cur = *a.prev
		} else if a.conf.MotionFallback && !deviceMotion &&
			received.Sub(a.lastDeviceMotion) > a.conf.DeviceMotionTTL {
			a.applyMotion(*a.prev, cur)
		}
	}
	a.prev = &cur

	a.snap.Latitude = u.Lat
	a.snap.Longitude = u.Lon
	a.snap.Timestamp = received
	a.snap.Dirty = true
	a.stats.Fixes++
}

func (a *Aggregator) applyMotion(prev Fix, cur Fix) {
	m, err := ComputeMotion(prev, cur)
	if err != nil {
		a.stats.TimingErrors++
		a.log.Warn("motion fallback skipped", zap.Error(err))
		return
	}

	a.setSpeed(a.conf.SpeedUnit.FromMetersPerSecond(m.Speed))
	// standing still keeps the last heading
	if m.Distance > 0 {
		a.snap.Bearing = m.Bearing
	}
}

// applySatellites collects the satellites of one GSV cycle, the list is replaced once the
// last message arrived. A cycle with a missing message is discarded.
func (a *Aggregator) applySatellites(u nmea.SatelliteView) {
	if u.Messages <= 1 || u.Message <= 0 {
		a.snap.Satellites = slices.Clone(u.Satellites)
		a.gsv, a.gsvNext = nil, 0
		return
	}

	if u.Message == 1 {
		a.gsv, a.gsvNext = nil, 1
	}
	if u.Message != a.gsvNext {
		a.gsv, a.gsvNext = nil, 0
		return
	}

	a.gsv = append(a.gsv, u.Satellites...)
	a.gsvNext++

	if u.Message == u.Messages {
		a.snap.Satellites = a.gsv
		a.gsv, a.gsvNext = nil, 0
	}
}

func (a *Aggregator) setSpeed(speed float64) {
	a.snap.Speed = speed

	if a.conf.SpeedLimit > 0 && speed > a.conf.SpeedLimit {
		a.stats.SpeedLimitExceeded++
		a.log.Warn("speed limit exceeded",
			zap.Float64("speed", speed),
			zap.Float64("limit", a.conf.SpeedLimit),
			zap.String("unit", string(a.conf.SpeedUnit)))
	}
}

// emit hands a dirty snapshot to the sink. The snapshot is reset even if the sink fails.
func (a *Aggregator) emit(ctx context.Context) {
	if !a.snap.Dirty {
		return
	}

	r := a.snap.take(a.conf.NewID())
	a.stats.Emits++

	if a.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, a.conf.SinkTimeout)
	defer cancel()

	if err := a.sink.Store(ctx, r); err != nil {
		a.stats.EmitErrors++
		a.log.Error("failed to store position", zap.String("id", r.ID), zap.Error(err))
		return
	}
	a.log.Debug("position stored", zap.Stringer("record", r), zap.String("id", r.ID))
}
