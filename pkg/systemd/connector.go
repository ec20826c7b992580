package systemd

import (
	"context"
	"sync"

	"github.com/LeoCommon/gpsrecorder/pkg/log"
	"github.com/LeoCommon/gpsrecorder/pkg/systemd/dbuscon"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// Connector talks to the systemd manager over the system bus
type Connector struct {
	client   *dbuscon.Client
	signalCh chan *dbus.Signal
	matcher  []dbus.MatchOption
	wg       sync.WaitGroup

	jobsLock sync.Mutex
	jobs     map[dbus.ObjectPath]chan<- string
}

// NewConnector connects to the system bus and listens for finished jobs
func NewConnector() (*Connector, error) {
	c := &Connector{
		client: dbuscon.NewDbusClient(),
		jobs:   make(map[dbus.ObjectPath]chan<- string),
		matcher: []dbus.MatchOption{
			dbus.WithMatchInterface(BusManagerInterface),
			dbus.WithMatchMember(BusMemberJobRemoved),
		},
	}

	if err := c.client.Connect(); err != nil {
		return nil, err
	}

	conn, ok := c.client.Connected()
	if !ok {
		return nil, &dbuscon.NotConnectedError{}
	}

	// Match all job removed signals so we can get their results
	c.signalCh = make(chan *dbus.Signal, 10)
	conn.Signal(c.signalCh)
	if err := conn.AddMatchSignal(c.matcher...); err != nil {
		_ = c.client.Shutdown()
		return nil, err
	}

	c.wg.Add(1)
	go c.listenForSignals()

	log.Info("systemd/dbus initialization complete")
	return c, nil
}

// Connected returns if the client is correctly connected
func (c *Connector) Connected() bool {
	_, ok := c.client.Connected()
	return ok
}

func (c *Connector) Shutdown() error {
	conn, ok := c.client.Connected()
	if ok {
		_ = conn.RemoveMatchSignal(c.matcher...)
		conn.RemoveSignal(c.signalCh)
	}

	close(c.signalCh)
	c.wg.Wait()
	return c.client.Shutdown()
}

func getUnitObjectPath(unitName string) dbus.ObjectPath {
	return dbus.ObjectPath(BusObjectSystemdPath + "/unit/" + EscapeObjectPath(unitName))
}

// CheckUnitState returns the ActiveState of a unit, e.g. "active" or "inactive"
func (c *Connector) CheckUnitState(ctx context.Context, unitName string) (string, error) {
	conn, ok := c.client.Connected()
	if !ok {
		return "", &dbuscon.NotConnectedError{}
	}

	unit := conn.Object(BusObjectSystemdDest, getUnitObjectPath(unitName))

	var state string
	err := unit.CallWithContext(ctx, BusMemberGetProp, 0,
		BusObjectSystemdDestUnit, BusObjectPropertyActiveState).Store(&state)

	return state, err
}

// StopUnit stops a unit and waits for the job, true means the job finished with "done"
func (c *Connector) StopUnit(ctx context.Context, unitName string) (bool, error) {
	conn, ok := c.client.Connected()
	if !ok {
		return false, &dbuscon.NotConnectedError{}
	}

	// buffered, the signal may arrive after we gave up waiting
	ch := make(chan string, 1)

	// Hold the job lock so the JobRemoved signal can not overtake the registration
	c.jobsLock.Lock()
	service := conn.Object(BusObjectSystemdDest, BusObjectSystemdPath)
	result := service.CallWithContext(ctx, BusInterfaceStopUnit, 0, unitName, "replace")
	if result.Err != nil {
		c.jobsLock.Unlock()
		return false, result.Err
	}

	var job dbus.ObjectPath
	if err := result.Store(&job); err != nil {
		c.jobsLock.Unlock()
		return false, err
	}
	c.jobs[job] = ch
	c.jobsLock.Unlock()

	select {
	case res := <-ch:
		return res == JobResultDone, nil
	case <-ctx.Done():
		c.jobsLock.Lock()
		delete(c.jobs, job)
		c.jobsLock.Unlock()
		return false, ctx.Err()
	}
}

func (c *Connector) jobCompleteSignal(signal *dbus.Signal) {
	var id uint32
	var job dbus.ObjectPath
	var unit string
	var result string
	if err := dbus.Store(signal.Body, &id, &job, &unit, &result); err != nil {
		log.Debug("malformed job removed signal", zap.Error(err))
		return
	}

	c.jobsLock.Lock()
	defer c.jobsLock.Unlock()

	if out, ok := c.jobs[job]; ok {
		out <- result
		delete(c.jobs, job)
	}
}

func (c *Connector) listenForSignals() {
	defer c.wg.Done()

	for signal := range c.signalCh {
		if signal.Name == BusSignalJobRemoved {
			c.jobCompleteSignal(signal)
		}
	}
	log.Debug("signal channel terminated")
}
