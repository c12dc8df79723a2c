// Package antenna implements the antenna controller: safety validation,
// unit conversion, calibration and the state machine around a
// rotator.Driver.
package antenna

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/w1xm/radiotelescope/rotator"
)

const (
	DefaultMonitorInterval = 500 * time.Millisecond
	DefaultMaxPollFailures = 3
	DefaultShutdownTimeout = 2 * time.Second

	calibratePollInterval = 100 * time.Millisecond
)

var errInterrupted = errors.New("interrupted")

type Config struct {
	// Instance keys the stored calibration.
	Instance        string
	Motor           MotorConfig
	Limits          Limits
	MonitorInterval time.Duration
	// MaxPollFailures is the number of consecutive failed polls that put
	// the antenna into StateError.
	MaxPollFailures int
	// Store may be nil, in which case calibrations live in memory only.
	Store CalibrationStore
}

// Status is a point-in-time view of the controller.
type Status struct {
	State State
	// Position is referenced; RawPosition is mechanical.
	Position    Position
	RawPosition Position
	Target      *Position
	Moving      bool
	Limits      Limits
	Calibration Calibration
	Error       string `json:",omitempty"`
	Time        time.Time
}

// StatusCallback is invoked on the monitoring goroutine after every poll.
// It must not block.
type StatusCallback func(status Status)

type Controller struct {
	cfg            Config
	driver         rotator.Driver
	statusCallback StatusCallback

	// cmdMu serializes commands that start motion. Stop does not take it.
	cmdMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	state       State
	calibration Calibration
	raw         Position
	target      *Position
	moving      bool
	lastErr     string
	failures    int
	// seq is bumped by every command that supersedes the current motion.
	seq uint64
	// acked is the last seq whose move the driver accepted. Until it
	// catches up with seq, a stopped mount is the previous motion's.
	acked uint64

	cancel context.CancelFunc
	done   chan struct{}

	status atomic.Pointer[Status]
}

// New builds a controller around driver and loads the stored calibration
// for cfg.Instance, if any. statusCallback may be nil.
func New(driver rotator.Driver, cfg Config, statusCallback StatusCallback) (*Controller, error) {
	if cfg.Motor == (MotorConfig{}) {
		cfg.Motor = DefaultMotorConfig()
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if cfg.MaxPollFailures <= 0 {
		cfg.MaxPollFailures = DefaultMaxPollFailures
	}
	if err := cfg.Motor.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	c := &Controller{
		cfg:            cfg,
		driver:         driver,
		statusCallback: statusCallback,
	}
	if cfg.Store != nil {
		cal, err := cfg.Store.Load(cfg.Instance)
		switch {
		case errors.Is(err, ErrNoCalibration):
		case err != nil:
			log.Printf("loading calibration for %q: %v; using zero offsets", cfg.Instance, err)
		default:
			log.Printf("loaded calibration for %q: %+v", cfg.Instance, cal)
			c.calibration = cal
		}
	}
	c.mu.Lock()
	c.publishLocked()
	c.mu.Unlock()
	return c, nil
}

func (c *Controller) Motor() MotorConfig { return c.cfg.Motor }

func (c *Controller) Limits() Limits { return c.cfg.Limits }

// publishLocked snapshots the controller into c.status.
func (c *Controller) publishLocked() Status {
	s := Status{
		State:       c.state,
		Position:    c.calibration.referenced(c.raw),
		RawPosition: c.raw,
		Moving:      c.moving,
		Limits:      c.cfg.Limits,
		Calibration: c.calibration,
		Error:       c.lastErr,
		Time:        time.Now(),
	}
	if c.target != nil {
		t := *c.target
		s.Target = &t
	}
	c.status.Store(&s)
	return s
}

// Status returns the latest snapshot. Consecutive calls are not atomic
// with respect to motion.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setErrorLocked(err error) {
	c.state = StateError
	c.lastErr = err.Error()
	c.publishLocked()
}

// Initialize connects the driver and starts the monitor. Calling it again,
// e.g. to recover from StateError, tears the previous session down first.
func (c *Controller) Initialize(ctx context.Context) error {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if initialized {
		log.Print("reinitializing antenna")
		if err := c.stopMonitor(ctx); err != nil {
			return &Error{Op: "initialize", Err: err}
		}
		if err := c.driver.Disconnect(); err != nil {
			log.Printf("disconnecting driver: %v", err)
		}
	}

	if err := c.driver.Connect(); err != nil {
		c.mu.Lock()
		c.initialized = false
		c.setErrorLocked(err)
		c.mu.Unlock()
		return &Error{Op: "initialize", Err: err}
	}

	monitorCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.initialized = true
	c.seq++
	c.acked = c.seq
	c.state = StateIdle
	c.target = nil
	c.lastErr = ""
	c.failures = 0
	c.cancel, c.done = cancel, done
	c.publishLocked()
	c.mu.Unlock()

	go c.monitor(monitorCtx, done)
	log.Printf("antenna %q initialized", c.cfg.Instance)
	return nil
}

// stopMonitor cancels the monitor and waits for it, bounded by ctx. If ctx
// ends first the monitor stays tracked, so a later call waits for the same
// goroutine instead of starting a second one beside it.
func (c *Controller) stopMonitor(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	if cancel == nil {
		c.initialized = false
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("waiting for monitor: %w", ctx.Err())
	}
	c.mu.Lock()
	if c.done == done {
		c.cancel, c.done = nil, nil
		c.initialized = false
	}
	c.mu.Unlock()
	return nil
}

// Shutdown stops motion, stops the monitor, and disconnects the driver, in
// that order. The driver stays connected if the monitor does not exit
// before ctx is done; without a deadline, ctx is bounded by
// DefaultShutdownTimeout.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if !initialized {
		return nil
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultShutdownTimeout)
		defer cancel()
	}

	if err := c.Stop(); err != nil {
		log.Printf("stopping before shutdown: %v", err)
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if err := c.stopMonitor(ctx); err != nil {
		return &Error{Op: "shutdown", Err: err}
	}
	if err := c.driver.Disconnect(); err != nil {
		return &Error{Op: "shutdown", Err: err}
	}
	c.mu.Lock()
	c.state = StateStopped
	c.moving = false
	c.target = nil
	c.publishLocked()
	c.mu.Unlock()
	log.Printf("antenna %q shut down", c.cfg.Instance)
	return nil
}

// MoveTo points the antenna at a referenced target. Validation and limit
// errors are returned before anything reaches the driver. Retargeting
// while moving is allowed.
func (c *Controller) MoveTo(target Position) error {
	if err := target.Validate(); err != nil {
		return err
	}
	if err := c.cfg.Limits.Check(target); err != nil {
		return err
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	c.mu.Lock()
	if err := c.commandableLocked(); err != nil {
		c.mu.Unlock()
		return &Error{Op: "move", Err: err}
	}
	raw := c.calibration.raw(target)
	c.mu.Unlock()
	if err := checkEnvelope(raw); err != nil {
		return err
	}
	_, err := c.dispatch(target, raw, StateMoving)
	return err
}

func (c *Controller) commandableLocked() error {
	switch {
	case !c.initialized:
		return ErrNotInitialized
	case c.state == StateError:
		return ErrInErrorState
	case c.state == StateCalibrating:
		return ErrBusy
	}
	return nil
}

// dispatch sends raw to the driver and enters state. Callers hold cmdMu.
func (c *Controller) dispatch(target, raw Position, state State) (uint64, error) {
	azSteps, elSteps := c.cfg.Motor.toSteps(raw)

	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.target = &target
	c.state = state
	c.lastErr = ""
	c.publishLocked()
	c.mu.Unlock()

	if err := c.driver.MoveToPosition(azSteps, elSteps); err != nil {
		log.Printf("moving to %v: %v", target, err)
		c.mu.Lock()
		if c.seq == seq {
			c.setErrorLocked(err)
		}
		c.mu.Unlock()
		return seq, &PositionError{Target: target, Err: err}
	}

	c.mu.Lock()
	c.acked = seq
	stopped := c.seq != seq && c.state == StateStopped
	c.mu.Unlock()
	if stopped {
		// A Stop overtook this command on the wire.
		log.Printf("move to %v was stopped before it was acknowledged; halting again", target)
		if err := c.driver.Stop(); err != nil {
			log.Printf("stopping: %v", err)
		}
		return seq, nil
	}
	log.Printf("moving to %v (raw %v, %d/%d steps)", target, raw, azSteps, elSteps)
	return seq, nil
}

// Stop halts both axes and clears the target. It may be called at any time,
// including from StateError, and does not wait for the monitor to observe
// the halt.
func (c *Controller) Stop() error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return &Error{Op: "stop", Err: ErrNotInitialized}
	}
	c.seq++
	c.mu.Unlock()

	err := c.driver.Stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.target = nil
	if err != nil {
		c.setErrorLocked(err)
		return &Error{Op: "stop", Err: err}
	}
	c.state = StateStopped
	c.lastErr = ""
	c.failures = 0
	c.publishLocked()
	log.Print("antenna stopped")
	return nil
}

// Calibrate drives the mount to its mechanical home (0, 0) and blocks until
// the move finishes or ctx is done.
func (c *Controller) Calibrate(ctx context.Context) error {
	home := Position{}

	c.cmdMu.Lock()
	c.mu.Lock()
	if err := c.commandableLocked(); err != nil {
		c.mu.Unlock()
		c.cmdMu.Unlock()
		return &Error{Op: "calibrate", Err: err}
	}
	referenced := c.calibration.referenced(home)
	c.mu.Unlock()
	if err := c.cfg.Limits.Check(referenced); err != nil {
		c.cmdMu.Unlock()
		return err
	}
	log.Print("calibrating: returning to home position")
	seq, err := c.dispatch(referenced, home, StateCalibrating)
	c.cmdMu.Unlock()
	if err != nil {
		return err
	}

	t := time.NewTicker(calibratePollInterval)
	defer t.Stop()
	for {
		c.mu.Lock()
		state, current := c.state, c.seq
		c.mu.Unlock()
		switch {
		case current == seq && state == StateCalibrating:
		case current == seq && state == StateIdle:
			log.Print("calibration complete")
			return nil
		case state == StateError:
			return &Error{Op: "calibrate", Err: ErrInErrorState}
		default:
			return &Error{Op: "calibrate", Err: errInterrupted}
		}
		select {
		case <-ctx.Done():
			return &Error{Op: "calibrate", Err: ctx.Err()}
		case <-t.C:
		}
	}
}

// Jog moves one axis by delta degrees from the current referenced position.
// Azimuth wraps around; elevation is clamped to the mechanical envelope.
func (c *Controller) Jog(axis Axis, delta float64) error {
	current, err := c.GetCurrentPosition(true)
	if err != nil {
		return err
	}
	switch axis {
	case Azimuth:
		current.Azimuth = wrapAzimuth(current.Azimuth + delta)
	case Elevation:
		current.Elevation = clampElevation(current.Elevation + delta)
	default:
		return fmt.Errorf("%w: unknown axis %q", ErrValidation, axis)
	}
	return c.MoveTo(current)
}

// GetCurrentPosition reads the position from the driver. With referenced
// set, the calibration is applied to the mechanical reading.
func (c *Controller) GetCurrentPosition(referenced bool) (Position, error) {
	c.mu.Lock()
	initialized := c.initialized
	c.mu.Unlock()
	if !initialized {
		return Position{}, &Error{Op: "get position", Err: ErrNotInitialized}
	}
	azSteps, elSteps, err := c.driver.GetPosition()
	if err != nil {
		return Position{}, err
	}
	raw := c.cfg.Motor.toPosition(azSteps, elSteps)
	if !referenced {
		return raw, nil
	}
	return c.Calibration().referenced(raw), nil
}

func (c *Controller) Calibration() Calibration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calibration
}

// SetCalibration replaces the calibration. The new offsets take effect even
// when persisting fails, in which case a *PersistError is returned.
func (c *Controller) SetCalibration(cal Calibration, persist bool) error {
	c.mu.Lock()
	c.calibration = cal
	c.publishLocked()
	c.mu.Unlock()
	log.Printf("calibration set to %+v", cal)
	if !persist {
		return nil
	}
	if c.cfg.Store == nil {
		return &PersistError{Instance: c.cfg.Instance, Err: ErrNoStore}
	}
	if err := c.cfg.Store.Save(c.cfg.Instance, cal); err != nil {
		return &PersistError{Instance: c.cfg.Instance, Err: err}
	}
	return nil
}

func (c *Controller) ResetCalibration(persist bool) error {
	return c.SetCalibration(Calibration{}, persist)
}

// CalibrateReference makes rawAzimuth read as zero. When rawAzimuth is nil
// the current mechanical azimuth is read from the driver.
func (c *Controller) CalibrateReference(rawAzimuth *float64, persist bool) (Calibration, error) {
	var az float64
	if rawAzimuth != nil {
		az = *rawAzimuth
	} else {
		raw, err := c.GetCurrentPosition(false)
		if err != nil {
			return c.Calibration(), err
		}
		az = raw.Azimuth
	}
	cal := c.Calibration().ReferenceAzimuth(az)
	return cal, c.SetCalibration(cal, persist)
}
