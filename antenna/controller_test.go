package antenna_test

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/radiotelescope/antenna"
	"github.com/w1xm/radiotelescope/rotator"
	"github.com/w1xm/radiotelescope/simulator"
	"github.com/w1xm/radiotelescope/stepper"
	"github.com/w1xm/radiotelescope/stepper/emulator"
)

const testInterval = 10 * time.Millisecond

// spyDriver records calls and lets tests inject failures.
type spyDriver struct {
	mu        sync.Mutex
	calls     []string
	connected bool
	az, el    int64
	moving    bool

	moves         [][2]int64
	failPositions int
	moveErr       error
	stopErr       error
	// ackDelay holds MoveToPosition before the mount starts moving.
	ackDelay time.Duration
	// block, when set, parks GetPosition until it is closed.
	block   chan struct{}
	blocked int
	// pollAfterDisconnect is set if the monitor polled a closed driver.
	pollAfterDisconnect bool
}

func (d *spyDriver) record(call string) {
	d.calls = append(d.calls, call)
}

func (d *spyDriver) count(call string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (d *spyDriver) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("connect")
	d.connected = true
	return nil
}

func (d *spyDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("disconnect")
	d.connected = false
	return nil
}

func (d *spyDriver) MoveToPosition(az, el int64) error {
	d.mu.Lock()
	d.record("move")
	delay := d.ackDelay
	d.mu.Unlock()
	time.Sleep(delay)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.moveErr != nil {
		return d.moveErr
	}
	d.moves = append(d.moves, [2]int64{az, el})
	d.moving = true
	return nil
}

func (d *spyDriver) GetPosition() (int64, int64, error) {
	d.mu.Lock()
	block := d.block
	if block != nil {
		d.blocked++
	}
	d.mu.Unlock()
	if block != nil {
		<-block
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("get position")
	if !d.connected {
		d.pollAfterDisconnect = true
		return 0, 0, rotator.CommError("get position", rotator.ErrNotConnected)
	}
	if d.failPositions > 0 {
		d.failPositions--
		return 0, 0, rotator.CommError("get position", io.ErrUnexpectedEOF)
	}
	return d.az, d.el, nil
}

func (d *spyDriver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("stop")
	if d.stopErr != nil {
		return d.stopErr
	}
	d.moving = false
	return nil
}

func (d *spyDriver) IsMoving() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("is moving")
	return d.moving, nil
}

func (d *spyDriver) set(f func(d *spyDriver)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f(d)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func newController(t *testing.T, d rotator.Driver, cfg antenna.Config) *antenna.Controller {
	t.Helper()
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = testInterval
	}
	c, err := antenna.New(d, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		c.Shutdown(context.Background())
	})
	return c
}

func TestMoveOutsideLimitsNeverReachesDriver(t *testing.T) {
	d := &spyDriver{}
	c := newController(t, d, antenna.Config{
		Limits: antenna.Limits{MinAzimuth: 10, MaxAzimuth: 350, MinElevation: 5, MaxElevation: 80},
	})

	for _, p := range []antenna.Position{
		{Azimuth: 5, Elevation: 30},
		{Azimuth: 355, Elevation: 30},
		{Azimuth: 180, Elevation: 85},
		{Azimuth: 180, Elevation: 1},
	} {
		if err := c.MoveTo(p); !errors.Is(err, antenna.ErrSafety) {
			t.Errorf("MoveTo(%v) = %v, want ErrSafety", p, err)
		}
	}
	if err := c.MoveTo(antenna.Position{Azimuth: 400, Elevation: 30}); !errors.Is(err, antenna.ErrValidation) {
		t.Errorf("MoveTo outside the envelope = %v, want ErrValidation", err)
	}
	if n := d.count("move"); n != 0 {
		t.Errorf("driver received %d moves, want 0", n)
	}
	if got := c.State(); got != antenna.StateIdle {
		t.Errorf("State = %v, want idle", got)
	}
}

func TestCalibratedTargetOutsideEnvelope(t *testing.T) {
	d := &spyDriver{}
	c := newController(t, d, antenna.Config{})
	if err := c.SetCalibration(antenna.Calibration{ElevationOffset: 10}, false); err != nil {
		t.Fatalf("SetCalibration: %v", err)
	}
	// Referenced 5° is raw -5°, below the mount's mechanical floor.
	err := c.MoveTo(antenna.Position{Azimuth: 90, Elevation: 5})
	var se *antenna.SafetyError
	if !errors.As(err, &se) || se.Axis != antenna.Elevation {
		t.Fatalf("MoveTo = %v, want elevation *SafetyError", err)
	}
	if n := d.count("move"); n != 0 {
		t.Errorf("driver received %d moves, want 0", n)
	}
}

func TestMoveAppliesCalibration(t *testing.T) {
	d := &spyDriver{}
	c := newController(t, d, antenna.Config{})
	if err := c.SetCalibration(antenna.Calibration{AzimuthOffset: 10, ElevationOffset: 5}, false); err != nil {
		t.Fatalf("SetCalibration: %v", err)
	}
	if err := c.MoveTo(antenna.Position{Azimuth: 5, Elevation: 35}); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	m := antenna.DefaultMotorConfig()
	want := [][2]int64{{m.DegreesToSteps(antenna.Azimuth, 355), m.DegreesToSteps(antenna.Elevation, 30)}}
	d.mu.Lock()
	got := d.moves
	d.mu.Unlock()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("driver moves mismatch (-want +got):\n%s", diff)
	}
	status := c.Status()
	if status.Target == nil || *status.Target != (antenna.Position{Azimuth: 5, Elevation: 35}) {
		t.Errorf("Status.Target = %v, want the referenced target", status.Target)
	}
}

func TestStateTransitions(t *testing.T) {
	sim := simulator.New(simulator.Config{StepsPerSecond: 2000000, Tick: time.Millisecond})
	c, err := antenna.New(sim, antenna.Config{MonitorInterval: testInterval}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.MoveTo(antenna.Position{Azimuth: 1, Elevation: 1}); !errors.Is(err, antenna.ErrNotInitialized) {
		t.Errorf("MoveTo before Initialize = %v, want ErrNotInitialized", err)
	}
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Shutdown(context.Background())
	if got := c.State(); got != antenna.StateIdle {
		t.Fatalf("State after Initialize = %v, want idle", got)
	}

	target := antenna.Position{Azimuth: 45, Elevation: 30}
	if err := c.MoveTo(target); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if got := c.State(); got != antenna.StateMoving {
		t.Errorf("State after MoveTo = %v, want moving", got)
	}
	waitFor(t, "idle", func() bool { return c.State() == antenna.StateIdle })

	azSteps, elSteps, err := sim.GetPosition()
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if azSteps != 40000 || elSteps != 21333 {
		t.Errorf("mount at (%d, %d) steps, want (40000, 21333)", azSteps, elSteps)
	}
	got, err := c.GetCurrentPosition(true)
	if err != nil {
		t.Fatalf("GetCurrentPosition: %v", err)
	}
	m := c.Motor()
	if math.Abs(got.Azimuth-target.Azimuth) > m.Resolution(antenna.Azimuth) ||
		math.Abs(got.Elevation-target.Elevation) > m.Resolution(antenna.Elevation) {
		t.Errorf("GetCurrentPosition = %v, want within one step of %v", got, target)
	}
}

func TestStopWhileMoving(t *testing.T) {
	d := &spyDriver{}
	c := newController(t, d, antenna.Config{})
	if err := c.MoveTo(antenna.Position{Azimuth: 90, Elevation: 45}); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	if got := c.State(); got != antenna.StateMoving {
		t.Fatalf("State = %v, want moving", got)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := c.State(); got != antenna.StateStopped {
		t.Errorf("State after Stop = %v, want stopped", got)
	}
	if n := d.count("stop"); n != 1 {
		t.Errorf("driver Stop called %d times, want 1", n)
	}
	if status := c.Status(); status.Target != nil {
		t.Errorf("Status.Target = %v after Stop, want nil", status.Target)
	}
	// The monitor must not turn Stopped into Idle.
	time.Sleep(5 * testInterval)
	if got := c.State(); got != antenna.StateStopped {
		t.Errorf("State = %v some polls after Stop, want stopped", got)
	}
	if err := c.MoveTo(antenna.Position{Azimuth: 10, Elevation: 10}); err != nil {
		t.Errorf("MoveTo from stopped: %v", err)
	}
}

func TestConcurrentStopDuringMove(t *testing.T) {
	sim := simulator.New(simulator.Config{StepsPerSecond: 1000, Tick: 5 * time.Millisecond})
	c := newController(t, sim, antenna.Config{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.MoveTo(antenna.Position{Azimuth: float64(10 + i), Elevation: 20})
		}(i)
		go func() {
			defer wg.Done()
			if err := c.Stop(); err != nil {
				t.Errorf("Stop: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := sim.Tasks(); n > 1 {
		t.Errorf("%d motion tasks alive, want at most 1", n)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n := sim.Tasks(); n != 0 {
		t.Errorf("%d motion tasks alive after Stop, want 0", n)
	}
}

func TestErrorStateRejectsCommands(t *testing.T) {
	d := &spyDriver{moveErr: rotator.CommError("move", io.ErrUnexpectedEOF)}
	c := newController(t, d, antenna.Config{MonitorInterval: time.Hour})

	err := c.MoveTo(antenna.Position{Azimuth: 90, Elevation: 45})
	if !errors.Is(err, antenna.ErrPosition) || !errors.Is(err, rotator.ErrCommunication) {
		t.Fatalf("MoveTo with failing driver = %v, want position error wrapping a communication error", err)
	}
	if got := c.State(); got != antenna.StateError {
		t.Fatalf("State = %v, want error", got)
	}
	if err := c.MoveTo(antenna.Position{Azimuth: 1, Elevation: 1}); !errors.Is(err, antenna.ErrInErrorState) {
		t.Errorf("MoveTo in error state = %v, want ErrInErrorState", err)
	}
	if err := c.Calibrate(context.Background()); !errors.Is(err, antenna.ErrInErrorState) {
		t.Errorf("Calibrate in error state = %v, want ErrInErrorState", err)
	}
	if n := d.count("move"); n != 1 {
		t.Errorf("driver received %d moves, want 1", n)
	}

	d.set(func(d *spyDriver) { d.moveErr = nil })
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := c.State(); got != antenna.StateStopped {
		t.Errorf("State after Stop = %v, want stopped", got)
	}
	if err := c.MoveTo(antenna.Position{Azimuth: 1, Elevation: 1}); err != nil {
		t.Errorf("MoveTo after recovery: %v", err)
	}
}

func TestStopFailureEntersErrorState(t *testing.T) {
	d := &spyDriver{stopErr: rotator.CommError("stop", io.ErrUnexpectedEOF)}
	c := newController(t, d, antenna.Config{MonitorInterval: time.Hour})
	if err := c.Stop(); !errors.Is(err, antenna.ErrAntenna) {
		t.Errorf("Stop = %v, want ErrAntenna", err)
	}
	if got := c.State(); got != antenna.StateError {
		t.Errorf("State = %v, want error", got)
	}
	d.set(func(d *spyDriver) { d.stopErr = nil })
}

func TestMonitorRetryBudget(t *testing.T) {
	d := &spyDriver{}
	c := newController(t, d, antenna.Config{MaxPollFailures: 3})

	d.set(func(d *spyDriver) { d.failPositions = 2 })
	waitFor(t, "failures to drain", func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.failPositions == 0
	})
	time.Sleep(3 * testInterval)
	if got := c.State(); got != antenna.StateIdle {
		t.Fatalf("State after 2 failed polls = %v, want idle", got)
	}

	d.set(func(d *spyDriver) { d.failPositions = 1 << 30 })
	waitFor(t, "error state", func() bool { return c.State() == antenna.StateError })
	if status := c.Status(); status.Error == "" {
		t.Error("Status.Error is empty in error state")
	}

	d.set(func(d *spyDriver) { d.failPositions = 0 })
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	time.Sleep(3 * testInterval)
	if got := c.State(); got != antenna.StateStopped {
		t.Errorf("State after recovery = %v, want stopped", got)
	}
}

func TestLoneChecksumFaultDuringMonitoring(t *testing.T) {
	sim := simulator.New(simulator.Config{StepsPerSecond: 1000000, Tick: time.Millisecond})
	emu, conn := emulator.New(sim)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go emu.Run(ctx)

	driver := stepper.New(stepper.Config{
		Timeout:    200 * time.Millisecond,
		Turnaround: time.Millisecond,
		Dial:       func() (io.ReadWriteCloser, error) { return conn, nil },
	})
	c := newController(t, driver, antenna.Config{})

	waitFor(t, "first poll", func() bool { return emu.Served() >= 2 })
	emu.CorruptNext()
	served := emu.Served()
	waitFor(t, "polls after the fault", func() bool { return emu.Served() >= served+6 })
	if got := c.State(); got != antenna.StateIdle {
		t.Errorf("State after a lone checksum fault = %v, want idle", got)
	}

	if err := c.MoveTo(antenna.Position{Azimuth: 45, Elevation: 30}); err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	waitFor(t, "idle", func() bool { return c.State() == antenna.StateIdle })
	az, el, err := sim.GetPosition()
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if az != 40000 || el != 21333 {
		t.Errorf("mount at (%d, %d) steps, want (40000, 21333)", az, el)
	}
}

func TestCalibrateReference(t *testing.T) {
	m := antenna.DefaultMotorConfig()
	const rawAz = 123.4
	d := &spyDriver{az: m.DegreesToSteps(antenna.Azimuth, rawAz), el: m.DegreesToSteps(antenna.Elevation, 20)}
	c := newController(t, d, antenna.Config{})

	x := rawAz
	cal, err := c.CalibrateReference(&x, false)
	if err != nil {
		t.Fatalf("CalibrateReference: %v", err)
	}
	if cal.AzimuthOffset < 0 || cal.AzimuthOffset >= 360 {
		t.Errorf("azimuth offset %g not in [0, 360)", cal.AzimuthOffset)
	}
	got, err := c.GetCurrentPosition(true)
	if err != nil {
		t.Fatalf("GetCurrentPosition: %v", err)
	}
	if off := math.Min(got.Azimuth, 360-got.Azimuth); off > m.Resolution(antenna.Azimuth) {
		t.Errorf("referenced azimuth = %g, want about 0", got.Azimuth)
	}

	// Without an explicit azimuth the live reading is used.
	d.set(func(d *spyDriver) { d.az = m.DegreesToSteps(antenna.Azimuth, 200) })
	if _, err := c.CalibrateReference(nil, false); err != nil {
		t.Fatalf("CalibrateReference(nil): %v", err)
	}
	got, err = c.GetCurrentPosition(true)
	if err != nil {
		t.Fatalf("GetCurrentPosition: %v", err)
	}
	if off := math.Min(got.Azimuth, 360-got.Azimuth); off > m.Resolution(antenna.Azimuth) {
		t.Errorf("referenced azimuth = %g, want about 0", got.Azimuth)
	}
}

type memStore struct {
	mu      sync.Mutex
	saved   map[string]antenna.Calibration
	saveErr error
}

func (s *memStore) Load(instance string) (antenna.Calibration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cal, ok := s.saved[instance]
	if !ok {
		return antenna.Calibration{}, antenna.ErrNoCalibration
	}
	return cal, nil
}

func (s *memStore) Save(instance string, cal antenna.Calibration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if s.saved == nil {
		s.saved = make(map[string]antenna.Calibration)
	}
	s.saved[instance] = cal
	return nil
}

func TestCalibrationPersistence(t *testing.T) {
	store := &memStore{}
	c := newController(t, &spyDriver{}, antenna.Config{Instance: "dish", Store: store})
	want := antenna.Calibration{AzimuthOffset: 3.5, ElevationOffset: -1}
	if err := c.SetCalibration(want, true); err != nil {
		t.Fatalf("SetCalibration: %v", err)
	}

	reloaded, err := antenna.New(&spyDriver{}, antenna.Config{Instance: "dish", Store: store}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if diff := cmp.Diff(want, reloaded.Calibration()); diff != "" {
		t.Errorf("reloaded calibration mismatch (-want +got):\n%s", diff)
	}

	fresh, err := antenna.New(&spyDriver{}, antenna.Config{Instance: "other", Store: store}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := fresh.Calibration(); got != (antenna.Calibration{}) {
		t.Errorf("calibration without a stored record = %+v, want zero", got)
	}

	store.mu.Lock()
	store.saveErr = errors.New("read-only file system")
	store.mu.Unlock()
	next := antenna.Calibration{AzimuthOffset: 7}
	err = c.SetCalibration(next, true)
	var pe *antenna.PersistError
	if !errors.As(err, &pe) {
		t.Fatalf("SetCalibration with failing store = %v, want *PersistError", err)
	}
	if got := c.Calibration(); got != next {
		t.Errorf("in-memory calibration = %+v, want %+v despite the persist failure", got, next)
	}
	if err := c.ResetCalibration(false); err != nil {
		t.Errorf("ResetCalibration: %v", err)
	}
	if got := c.Calibration(); got != (antenna.Calibration{}) {
		t.Errorf("calibration after reset = %+v", got)
	}
}

func TestPersistWithoutStore(t *testing.T) {
	c := newController(t, &spyDriver{}, antenna.Config{})
	err := c.SetCalibration(antenna.Calibration{AzimuthOffset: 1}, true)
	if !errors.Is(err, antenna.ErrNoStore) {
		t.Errorf("SetCalibration = %v, want ErrNoStore", err)
	}
}

func TestCalibrate(t *testing.T) {
	sim := simulator.New(simulator.Config{StepsPerSecond: 1000000, Tick: time.Millisecond})
	c := newController(t, sim, antenna.Config{})
	sim.SetPosition(5000, 3000)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Calibrate(ctx); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	if got := c.State(); got != antenna.StateIdle {
		t.Errorf("State after Calibrate = %v, want idle", got)
	}
	az, el, err := sim.GetPosition()
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if az != 0 || el != 0 {
		t.Errorf("mount at (%d, %d) after Calibrate, want home", az, el)
	}
}

func TestCalibrateInterrupted(t *testing.T) {
	sim := simulator.New(simulator.Config{StepsPerSecond: 10, Tick: 10 * time.Millisecond})
	c := newController(t, sim, antenna.Config{})
	sim.SetPosition(100000, 0)

	errc := make(chan error, 1)
	go func() { errc <- c.Calibrate(context.Background()) }()
	waitFor(t, "calibrating", func() bool { return c.State() == antenna.StateCalibrating })
	if err := c.MoveTo(antenna.Position{Azimuth: 1, Elevation: 1}); !errors.Is(err, antenna.ErrBusy) {
		t.Errorf("MoveTo while calibrating = %v, want ErrBusy", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, antenna.ErrAntenna) {
			t.Errorf("interrupted Calibrate = %v, want ErrAntenna", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Calibrate did not return after Stop")
	}
}

func TestSlowMoveAckStaysMoving(t *testing.T) {
	d := &spyDriver{ackDelay: 100 * time.Millisecond}
	c := newController(t, d, antenna.Config{MonitorInterval: 2 * time.Millisecond})

	errc := make(chan error, 1)
	go func() { errc <- c.MoveTo(antenna.Position{Azimuth: 90, Elevation: 45}) }()
	waitFor(t, "move sent", func() bool { return d.count("move") == 1 })
	polls := d.count("is moving")
	time.Sleep(20 * time.Millisecond)
	if d.count("is moving") <= polls {
		t.Fatal("monitor did not poll while the move was in flight")
	}
	if got := c.State(); got != antenna.StateMoving {
		t.Errorf("State before the driver accepted the move = %v, want moving", got)
	}
	if err := <-errc; err != nil {
		t.Fatalf("MoveTo: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if got := c.State(); got != antenna.StateMoving {
		t.Errorf("State while the mount moves = %v, want moving", got)
	}

	d.set(func(d *spyDriver) { d.moving = false })
	waitFor(t, "idle", func() bool { return c.State() == antenna.StateIdle })
}

func TestCalibrateWaitsForSlowAck(t *testing.T) {
	m := antenna.DefaultMotorConfig()
	d := &spyDriver{
		az:       m.DegreesToSteps(antenna.Azimuth, 90),
		el:       m.DegreesToSteps(antenna.Elevation, 45),
		ackDelay: 50 * time.Millisecond,
	}
	c := newController(t, d, antenna.Config{MonitorInterval: 2 * time.Millisecond})

	errc := make(chan error, 1)
	go func() { errc <- c.Calibrate(context.Background()) }()
	select {
	case err := <-errc:
		t.Fatalf("Calibrate returned %v while the mount was still moving", err)
	case <-time.After(150 * time.Millisecond):
	}
	if got := c.State(); got != antenna.StateCalibrating {
		t.Errorf("State = %v, want calibrating", got)
	}

	d.set(func(d *spyDriver) { d.az, d.el, d.moving = 0, 0, false })
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Calibrate: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Calibrate did not return after the mount stopped")
	}
	if got := c.State(); got != antenna.StateIdle {
		t.Errorf("State after Calibrate = %v, want idle", got)
	}
}

func TestCalibrateChecksReferencedHome(t *testing.T) {
	d := &spyDriver{}
	c := newController(t, d, antenna.Config{
		Limits: antenna.Limits{MinAzimuth: 0, MaxAzimuth: 180, MinElevation: 0, MaxElevation: 90},
	})
	// Raw home reads as azimuth 200, outside the configured limits.
	if err := c.SetCalibration(antenna.Calibration{AzimuthOffset: 200}, false); err != nil {
		t.Fatalf("SetCalibration: %v", err)
	}
	var se *antenna.SafetyError
	if err := c.Calibrate(context.Background()); !errors.As(err, &se) || se.Axis != antenna.Azimuth {
		t.Fatalf("Calibrate = %v, want azimuth *SafetyError", err)
	}
	if n := d.count("move"); n != 0 {
		t.Errorf("driver received %d moves, want 0", n)
	}
	if got := c.State(); got != antenna.StateIdle {
		t.Errorf("State = %v, want idle", got)
	}
}

func TestJog(t *testing.T) {
	m := antenna.DefaultMotorConfig()
	d := &spyDriver{az: m.DegreesToSteps(antenna.Azimuth, 355), el: m.DegreesToSteps(antenna.Elevation, 88)}
	c := newController(t, d, antenna.Config{})

	if err := c.Jog(antenna.Azimuth, 10); err != nil {
		t.Fatalf("Jog azimuth: %v", err)
	}
	if err := c.Jog(antenna.Elevation, 10); err != nil {
		t.Fatalf("Jog elevation: %v", err)
	}
	if err := c.Jog("roll", 1); !errors.Is(err, antenna.ErrValidation) {
		t.Errorf("Jog on unknown axis = %v, want ErrValidation", err)
	}
	d.mu.Lock()
	moves := d.moves
	d.mu.Unlock()
	if len(moves) != 2 {
		t.Fatalf("driver received %d moves, want 2", len(moves))
	}
	start := m.StepsToDegrees(antenna.Azimuth, m.DegreesToSteps(antenna.Azimuth, 355))
	if got, want := moves[0][0], m.DegreesToSteps(antenna.Azimuth, start+10-360); got != want {
		t.Errorf("azimuth jog sent %d steps, want %d", got, want)
	}
	if got, want := moves[1][1], m.DegreesToSteps(antenna.Elevation, 90); got != want {
		t.Errorf("elevation jog sent %d steps, want %d", got, want)
	}
}

func TestShutdownOrdering(t *testing.T) {
	d := &spyDriver{}
	c, err := antenna.New(d, antenna.Config{MonitorInterval: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	waitFor(t, "polls", func() bool { return d.count("get position") >= 3 })
	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pollAfterDisconnect {
		t.Error("monitor polled the driver after Disconnect")
	}
	if last := d.calls[len(d.calls)-1]; last != "disconnect" {
		t.Errorf("last driver call = %q, want disconnect", last)
	}
	stops := 0
	for _, call := range d.calls {
		if call == "stop" {
			stops++
		}
	}
	if stops != 1 {
		t.Errorf("Shutdown called Stop %d times, want 1", stops)
	}
}

func TestReinitialize(t *testing.T) {
	d := &spyDriver{}
	c := newController(t, d, antenna.Config{})
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize: %v", err)
	}
	if got := c.State(); got != antenna.StateIdle {
		t.Errorf("State = %v, want idle", got)
	}
	if n, m := d.count("connect"), d.count("disconnect"); n != 2 || m != 1 {
		t.Errorf("connect/disconnect calls = %d/%d, want 2/1", n, m)
	}
}

func TestReinitializeAfterMonitorTimeout(t *testing.T) {
	d := &spyDriver{}
	c := newController(t, d, antenna.Config{})
	d.set(func(d *spyDriver) { d.block = make(chan struct{}) })
	waitFor(t, "a parked poll", func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.blocked > 0
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Initialize(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Initialize with a stuck monitor = %v, want deadline exceeded", err)
	}
	if n := d.count("connect"); n != 1 {
		t.Errorf("driver reconnected %d times while the old monitor was alive", n-1)
	}

	d.set(func(d *spyDriver) {
		close(d.block)
		d.block = nil
	})
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if n, m := d.count("connect"), d.count("disconnect"); n != 2 || m != 1 {
		t.Errorf("connect/disconnect calls = %d/%d, want 2/1", n, m)
	}
	if got := c.State(); got != antenna.StateIdle {
		t.Errorf("State = %v, want idle", got)
	}
}

func TestStatusCallback(t *testing.T) {
	statuses := make(chan antenna.Status, 100)
	c, err := antenna.New(&spyDriver{}, antenna.Config{MonitorInterval: testInterval}, func(s antenna.Status) {
		select {
		case statuses <- s:
		default:
		}
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer c.Shutdown(context.Background())
	select {
	case s := <-statuses:
		if s.State != antenna.StateIdle {
			t.Errorf("status state = %v, want idle", s.State)
		}
		if diff := cmp.Diff(antenna.DefaultLimits(), s.Limits); diff != "" {
			t.Errorf("status limits mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no status callback")
	}
}
