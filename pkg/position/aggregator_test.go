package position

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/LeoCommon/gpsrecorder/pkg/nmea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu      sync.Mutex
	records []Record
	err     error
}

func (s *recordingSink) Store(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *recordingSink) last() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[len(s.records)-1]
}

func startAggregator(t *testing.T, conf Config, sink Sink) *Aggregator {
	t.Helper()

	ids := 0
	if conf.NewID == nil {
		conf.NewID = func() string {
			ids++
			return fmt.Sprintf("record-%d", ids)
		}
	}

	a := New(conf, sink)
	a.Start(context.Background())
	t.Cleanup(a.Stop)
	return a
}

func TestEmitOnlyWhenDirty(t *testing.T) {
	sink := &recordingSink{}
	a := startAggregator(t, Config{}, sink)

	// nothing to emit yet
	require.NoError(t, a.Flush())
	assert.Equal(t, 0, sink.count())

	a.Apply([]nmea.Update{nmea.PositionFix{Lat: -8.7316, Lon: 115.1707}}, t0)
	require.NoError(t, a.Flush())
	require.NoError(t, a.Flush())

	require.Equal(t, 1, sink.count())
	r := sink.last()
	assert.Equal(t, "record-1", r.ID)
	assert.Equal(t, -8.7316, r.Latitude)
	assert.Equal(t, 115.1707, r.Longitude)
	assert.Equal(t, t0, r.Timestamp)
	assert.Equal(t, MilesPerHour, r.SpeedUnit)

	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.False(t, snap.Dirty)
	assert.Empty(t, snap.ID)
	// position stays, only the dirty flag and the identity are reset
	assert.Equal(t, -8.7316, snap.Latitude)

	a.Apply([]nmea.Update{nmea.PositionFix{Lat: -8.7317, Lon: 115.1707}}, t0.Add(time.Second))
	require.NoError(t, a.Flush())
	require.Equal(t, 2, sink.count())
	assert.Equal(t, "record-2", sink.last().ID)
}

func TestFieldUpdatesDoNotMarkDirty(t *testing.T) {
	sink := &recordingSink{}
	a := startAggregator(t, Config{SpeedUnit: Knots}, sink)

	a.Apply([]nmea.Update{
		nmea.DOPUpdate{Kind: nmea.PDOP, Value: 0.87},
		nmea.DOPUpdate{Kind: nmea.HDOP, Value: 14.6},
		nmea.DOPUpdate{Kind: nmea.VDOP, Value: 21.3},
		nmea.SpeedUpdate{Value: 0.022},
		nmea.BearingUpdate{Degrees: 84.4},
		nmea.FixStatus{Acquired: true},
		nmea.SatelliteView{InView: 11},
		nmea.TimeUpdate{UTC: t0},
	}, t0)
	require.NoError(t, a.Flush())
	assert.Equal(t, 0, sink.count())

	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.False(t, snap.Dirty)
	assert.Equal(t, Record{
		HDOP:             14.6,
		VDOP:             21.3,
		PDOP:             0.87,
		Speed:            0.022,
		SpeedUnit:        Knots,
		Bearing:          84.4,
		FixAcquired:      true,
		SatellitesInView: 11,
		DeviceTime:       t0,
	}, snap.Record)

	// the next fix carries them along
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 1, Lon: 2}}, t0)
	require.NoError(t, a.Flush())
	require.Equal(t, 1, sink.count())
	assert.Equal(t, 14.6, sink.last().HDOP)
	assert.Equal(t, 11, sink.last().SatellitesInView)
}

func TestSpeedIsConverted(t *testing.T) {
	a := startAggregator(t, Config{SpeedUnit: MilesPerHour}, nil)

	a.Apply([]nmea.Update{nmea.SpeedUpdate{Value: 10}}, t0)
	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.InDelta(t, 11.50779, snap.Speed, 1e-9)
}

func TestSpeedLimit(t *testing.T) {
	a := startAggregator(t, Config{SpeedUnit: MilesPerHour, SpeedLimit: 55}, nil)

	a.Apply([]nmea.Update{nmea.SpeedUpdate{Value: 40}}, t0) // 46 mph
	a.Apply([]nmea.Update{nmea.SpeedUpdate{Value: 50}}, t0) // 57.5 mph

	stats, err := a.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.SpeedLimitExceeded)
}

func TestEmitTimerFollowsConnection(t *testing.T) {
	sink := &recordingSink{}
	a := startAggregator(t, Config{EmitInterval: 10 * time.Millisecond}, sink)

	// not connected, the timer is not running
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 1, Lon: 1}}, t0)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sink.count())

	a.SetConnected(true)
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// ticks without a new fix emit nothing
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sink.count())

	a.SetConnected(false)
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 2, Lon: 2}}, t0.Add(time.Second))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, sink.count())

	stats, err := a.Stats()
	require.NoError(t, err)
	assert.False(t, stats.Connected)
	assert.EqualValues(t, 2, stats.Fixes)
	assert.EqualValues(t, 1, stats.Emits)
}

func TestSinkFailureStillResets(t *testing.T) {
	sink := &recordingSink{err: errors.New("database is locked")}
	a := startAggregator(t, Config{}, sink)

	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 1, Lon: 1}}, t0)
	require.NoError(t, a.Flush())
	require.NoError(t, a.Flush())

	assert.Equal(t, 1, sink.count())
	stats, err := a.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.EmitErrors)

	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.False(t, snap.Dirty)
}

func TestMotionFallback(t *testing.T) {
	a := startAggregator(t, Config{SpeedUnit: MetersPerSecond, MotionFallback: true}, nil)

	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 0}}, t0)
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 1}}, t0.Add(time.Hour))

	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.InDelta(t, 30.88752, snap.Speed, 1e-5)
	assert.InDelta(t, 90, snap.Bearing, 1e-9)
}

func TestMotionFallbackInvalidTiming(t *testing.T) {
	a := startAggregator(t, Config{SpeedUnit: MetersPerSecond, MotionFallback: true}, nil)

	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 0}}, t0)
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 1}}, t0.Add(time.Hour))
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 1, Lon: 1}}, t0.Add(time.Hour))

	snap, err := a.Snapshot()
	require.NoError(t, err)

	// motion from the first pair is kept, the position is still updated
	assert.InDelta(t, 30.88752, snap.Speed, 1e-5)
	assert.InDelta(t, 90, snap.Bearing, 1e-9)
	assert.Equal(t, 1.0, snap.Latitude)

	stats, err := a.Stats()
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.TimingErrors)
}

func TestMotionFallbackSameEpoch(t *testing.T) {
	a := startAggregator(t, Config{SpeedUnit: MetersPerSecond, MotionFallback: true}, nil)

	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 0}}, t0)
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 0.001}}, t0.Add(time.Second))

	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.InDelta(t, 111.195, snap.Speed, 1e-3)
	assert.InDelta(t, 90, snap.Bearing, 1e-6)

	// GLL after GGA of the same epoch
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 0.001}}, t0.Add(1020*time.Millisecond))

	snap, err = a.Snapshot()
	require.NoError(t, err)
	assert.InDelta(t, 111.195, snap.Speed, 1e-3)
	assert.InDelta(t, 90, snap.Bearing, 1e-6)

	// the next epoch is measured from the first fix of the previous one
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 0.002}}, t0.Add(2*time.Second))

	snap, err = a.Snapshot()
	require.NoError(t, err)
	assert.InDelta(t, 111.195, snap.Speed, 1e-3)
	assert.InDelta(t, 90, snap.Bearing, 1e-6)
}

func TestMotionFallbackStandingStill(t *testing.T) {
	a := startAggregator(t, Config{SpeedUnit: MetersPerSecond, MotionFallback: true}, nil)

	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 0}}, t0)
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 0.001}}, t0.Add(time.Second))
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 0.001}}, t0.Add(2*time.Second))

	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.Zero(t, snap.Speed)
	// the heading is kept, not turned south
	assert.InDelta(t, 90, snap.Bearing, 1e-6)
}

func TestSatelliteList(t *testing.T) {
	a := startAggregator(t, Config{}, nil)

	first := []nmea.Satellite{
		{PRN: 3, Elevation: 3, Azimuth: 111},
		{PRN: 4, Elevation: 15, Azimuth: 270},
		{PRN: 6, Elevation: 1, Azimuth: 10},
		{PRN: 13, Elevation: 6, Azimuth: 292},
	}
	second := []nmea.Satellite{{PRN: 22, Elevation: 42, Azimuth: 67, SNR: 42}}

	a.Apply([]nmea.Update{nmea.SatelliteView{Messages: 2, Message: 1, InView: 5, Satellites: first}}, t0)

	// incomplete cycle, nothing published yet
	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Satellites)
	assert.Equal(t, 5, snap.SatellitesInView)

	a.Apply([]nmea.Update{nmea.SatelliteView{Messages: 2, Message: 2, InView: 5, Satellites: second}}, t0)

	snap, err = a.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, append(append([]nmea.Satellite{}, first...), second...), snap.Satellites)

	// the copy handed out is not shared with the live snapshot
	snap.Satellites[0].PRN = 99
	again, err := a.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 3, again.Satellites[0].PRN)

	// a cycle with a missing message keeps the previous list
	a.Apply([]nmea.Update{nmea.SatelliteView{Messages: 3, Message: 1, InView: 9, Satellites: second}}, t0)
	a.Apply([]nmea.Update{nmea.SatelliteView{Messages: 3, Message: 3, InView: 9, Satellites: second}}, t0)
	snap, err = a.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.Satellites, 5)

	// a single sentence without numbering replaces the list directly
	a.Apply([]nmea.Update{nmea.SatelliteView{InView: 1, Satellites: second}}, t0)
	snap, err = a.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, second, snap.Satellites)
}

func TestDeviceMotionSuppressesFallback(t *testing.T) {
	a := startAggregator(t, Config{SpeedUnit: Knots, MotionFallback: true, DeviceMotionTTL: time.Minute}, nil)

	// RMC like sentence with speed and track
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 0}, nmea.SpeedUpdate{Value: 3}, nmea.BearingUpdate{Degrees: 10}}, t0)
	// GGA like sentence shortly after
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 1}}, t0.Add(10*time.Second))

	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 3.0, snap.Speed)
	assert.Equal(t, 10.0, snap.Bearing)

	// once the receiver stopped reporting motion the fallback takes over
	a.Apply([]nmea.Update{nmea.PositionFix{Lat: 0, Lon: 2}}, t0.Add(2*time.Minute))
	snap, err = a.Snapshot()
	require.NoError(t, err)
	assert.InDelta(t, 90, snap.Bearing, 1e-9)
	assert.NotEqual(t, 3.0, snap.Speed)
}

func TestStoppedAggregator(t *testing.T) {
	a := New(Config{}, nil)
	a.Start(context.Background())
	a.Stop()

	assert.ErrorIs(t, a.Flush(), ErrStopped)
	_, err := a.Stats()
	assert.ErrorIs(t, err, ErrStopped)

	// must not block
	a.Apply([]nmea.Update{nmea.PositionFix{}}, t0)
	a.SetConnected(true)
}

func TestSinksFanOut(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("broker unreachable")}

	sinks := Sinks{
		{Name: "mqtt", Sink: failing},
		{Name: "sqlite", Sink: ok},
	}

	err := sinks.Store(context.Background(), Record{ID: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mqtt: broker unreachable")
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, failing.count())

	assert.NoError(t, Sinks{{Name: "sqlite", Sink: ok}}.Store(context.Background(), Record{}))
	assert.NoError(t, Sinks{}.Store(context.Background(), Record{}))
}
