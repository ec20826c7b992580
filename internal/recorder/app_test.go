package recorder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LeoCommon/gpsrecorder/internal/recorder/config"
	"github.com/LeoCommon/gpsrecorder/internal/recorder/storage"
	"github.com/LeoCommon/gpsrecorder/pkg/position"
	"github.com/LeoCommon/gpsrecorder/pkg/serialport"
	"github.com/LeoCommon/gpsrecorder/pkg/usb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sampleRMC = "$GPRMC,093652.00,A,0843.89597,S,11510.24425,E,0.022,,131018,,,D*6D"
	sampleGSA = "$GPGSA,A,3,10,07,05,02,29,04,08,13,,,,,0.87,14.6,21.3*0A"
	badGLL    = "$GPGLL,4916.45,X,12311.12,W,225444,A"

	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type testPort struct {
	data   chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []byte
}

func newTestPort() *testPort {
	return &testPort{data: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *testPort) Read(b []byte) (int, error) {
	select {
	case d := <-p.data:
		return copy(b, d), nil
	case <-p.closed:
		return 0, errors.New("closed")
	}
}

func (p *testPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, b...)
	return len(b), nil
}

func (p *testPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *testPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.written)
}

type testReceiver struct {
	mu    sync.Mutex
	ports []*testPort
	opens atomic.Int32
}

func (r *testReceiver) open(name string) (serialport.Port, error) {
	r.opens.Add(1)
	p := newTestPort()
	r.mu.Lock()
	r.ports = append(r.ports, p)
	r.mu.Unlock()
	return p, nil
}

func (r *testReceiver) current() *testPort {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ports) == 0 {
		return nil
	}
	return r.ports[len(r.ports)-1]
}

func setupApp(t *testing.T, emitInterval string) (*App, *testReceiver) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[recorder]
emit_interval = "` + emitInterval + `"
stale_timeout = "0s"

[device]
reconnect_delay = "20ms"
framing = "buffered"
init_sentences = ["$PUBX,40,GLL,0,0,0,0"]

[storage]
path = "` + filepath.Join(dir, "positions.db") + `"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	rx := &testReceiver{}
	app, err := Setup(config.CLIFlags{ConfigPath: path, Debug: true}, Options{
		Instrumentation: true,
		Resolver: serialport.ResolverFunc(func(string) (string, error) {
			return "/dev/ttyACM0", nil
		}),
		Open:   rx.open,
		Exists: func(string) bool { return true },
	})
	require.NoError(t, err)
	return app, rx
}

func run(app *App) (context.CancelFunc, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		app.Run(ctx)
	}()
	return cancel, done
}

func TestRecordsPositions(t *testing.T) {
	app, rx := setupApp(t, "50ms")
	cancel, done := run(app)

	require.Eventually(t, func() bool {
		return app.Serial.State() == serialport.Connected
	}, waitFor, tick)

	port := rx.current()
	require.Eventually(t, func() bool {
		return port.Written() == "$PUBX,40,GLL,0,0,0,0*5C\r\n"
	}, waitFor, tick)

	// split across reads, the buffered framer joins them
	port.data <- []byte(sampleRMC[:20])
	port.data <- []byte(sampleRMC[20:] + "\r\n" + sampleGSA + "\r\n\r\n" + badGLL + "\r\n")

	require.Eventually(t, func() bool {
		n, err := app.Storage.Count(context.Background())
		return err == nil && n == 1
	}, waitFor, tick)

	records, err := app.Storage.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.NotEmpty(t, r.ID)
	assert.InDelta(t, -8.7315995, r.Latitude, 1e-6)
	assert.InDelta(t, 115.1707375, r.Longitude, 1e-6)
	assert.InDelta(t, 0.022*position.KnotsToMPH, r.Speed, 1e-9)
	assert.Equal(t, position.MilesPerHour, r.SpeedUnit)
	assert.True(t, r.FixAcquired)
	// time of day from the sentence, date from the arrival
	assert.Equal(t, time.UTC, r.DeviceTime.Location())
	h, m, sec := r.DeviceTime.Clock()
	assert.Equal(t, []int{9, 36, 52}, []int{h, m, sec})

	// the malformed GLL is counted, the snapshot stays clean
	require.Eventually(t, func() bool {
		return strings.Contains(app.Status(), "1 malformed")
	}, waitFor, tick)
	time.Sleep(150 * time.Millisecond)
	n, err := app.Storage.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	cancel()
	<-done
	app.Shutdown()
}

func TestShutdownFlushes(t *testing.T) {
	// no periodic emit during the test
	app, rx := setupApp(t, "1h")

	cancel, done := run(app)
	require.Eventually(t, func() bool { return rx.current() != nil }, waitFor, tick)

	rx.current().data <- []byte(sampleRMC + "\r\n")
	require.Eventually(t, func() bool {
		s, err := app.Aggregator.Stats()
		return err == nil && s.Fixes == 1
	}, waitFor, tick)

	n, err := app.Storage.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	cancel()
	<-done
	app.Shutdown()

	db, err := storage.Open(app.Conf.Storage().C().Path)
	require.NoError(t, err)
	defer db.Close()

	n, err = db.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCheckStale(t *testing.T) {
	app, rx := setupApp(t, "50ms")
	cancel, done := run(app)
	defer func() {
		cancel()
		<-done
		app.Shutdown()
	}()

	// init sentences are written once the connection time is recorded
	require.Eventually(t, func() bool {
		port := rx.current()
		return port != nil && port.Written() != ""
	}, waitFor, tick)

	now := time.Now()
	assert.NoError(t, app.checkStale(now, time.Minute))

	err := app.checkStale(now.Add(2*time.Minute), time.Minute)
	assert.ErrorIs(t, err, &usb.StuckError{})

	// recovering reopens the port
	opens := rx.opens.Load()
	app.recoverStuck(err)
	require.Eventually(t, func() bool {
		return rx.opens.Load() > opens && app.Serial.State() == serialport.Connected
	}, waitFor, tick)
	assert.Contains(t, app.Status(), "1 resets")
}

func TestStatusBeforeRun(t *testing.T) {
	app, _ := setupApp(t, "50ms")
	defer app.Shutdown()

	status := make(chan string, 1)
	go func() { status <- app.Status() }()

	select {
	case s := <-status:
		assert.Contains(t, s, "disconnected")
		assert.NotContains(t, s, "fixes")
	case <-time.After(waitFor):
		t.Fatal("status blocked before the aggregator started")
	}
}

func TestDroppedSentencesCounted(t *testing.T) {
	app, _ := setupApp(t, "1h")
	defer app.Shutdown()

	received := time.Now()
	// wrong checksum, unknown sentence, proprietary
	app.handleLine("$GPGLL,4916.45,N,12311.12,W,225444,A*32", received)
	app.handleLine("$GPZDA,201530.00,04,07,2002,00,00*60", received)
	app.handleLine("$PUBX,00*33", received)
	// blank segments of the legacy framer are ignored
	app.handleLine("", received)
	app.handleLine(" \t", received)
	app.handleLine(badGLL, received)

	status := app.Status()
	assert.Contains(t, status, "3 dropped")
	assert.Contains(t, status, "1 malformed")
}

func TestSetupInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[device]\nframing = \"magic\"\n"), 0600))

	_, err := Setup(config.CLIFlags{ConfigPath: path}, Options{Instrumentation: true})
	assert.Error(t, err)
}
