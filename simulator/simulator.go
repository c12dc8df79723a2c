// Package simulator implements a rotator.Driver that models the mount
// kinematically instead of talking to hardware.
package simulator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/w1xm/radiotelescope/rotator"
)

const (
	// DefaultStepsPerSecond is the speed of both axes.
	DefaultStepsPerSecond = 1000
	// DefaultTick is the integration step.
	DefaultTick = 100 * time.Millisecond
)

type Config struct {
	StepsPerSecond float64
	Tick           time.Duration
}

// Simulator moves both axes toward the commanded target at a fixed number
// of steps per tick. At most one motion task runs at a time.
type Simulator struct {
	stepsPerTick int64
	tick         time.Duration

	// cmdMu serializes commands that start or cancel motion.
	cmdMu sync.Mutex

	mu                 sync.Mutex
	connected          bool
	az, el             int64
	targetAz, targetEl int64
	moving             bool
	cancel             context.CancelFunc
	done               chan struct{}

	tasks int32
}

var _ rotator.Driver = (*Simulator)(nil)

func New(cfg Config) *Simulator {
	if cfg.StepsPerSecond <= 0 {
		cfg.StepsPerSecond = DefaultStepsPerSecond
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	perTick := int64(cfg.StepsPerSecond * cfg.Tick.Seconds())
	if perTick < 1 {
		perTick = 1
	}
	return &Simulator{stepsPerTick: perTick, tick: cfg.Tick}
}

// Connect marks the simulator connected. Connecting twice is rejected.
func (s *Simulator) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return rotator.CommError("connect", rotator.ErrAlreadyConnected)
	}
	s.connected = true
	log.Printf("simulator connected (%d steps every %v)", s.stepsPerTick, s.tick)
	return nil
}

func (s *Simulator) Disconnect() error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	s.halt()
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()
	if wasConnected {
		log.Print("simulator disconnected")
	}
	return nil
}

func (s *Simulator) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Simulator) MoveToPosition(azimuthSteps, elevationSteps int64) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if !s.isConnected() {
		return rotator.CommError("move", rotator.ErrNotConnected)
	}
	s.halt()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.mu.Lock()
	s.targetAz, s.targetEl = azimuthSteps, elevationSteps
	s.moving = true
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	atomic.AddInt32(&s.tasks, 1)
	go s.run(ctx, done)
	return nil
}

// halt cancels the running motion task and waits for it to exit.
// Callers hold cmdMu.
func (s *Simulator) halt() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	s.mu.Lock()
	s.moving = false
	s.mu.Unlock()
}

func (s *Simulator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer atomic.AddInt32(&s.tasks, -1)
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		if s.step() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// step advances both axes by one tick and reports whether the target has
// been reached.
func (s *Simulator) step() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	azDiff := s.targetAz - s.az
	elDiff := s.targetEl - s.el
	if abs(azDiff) < 1 && abs(elDiff) < 1 {
		s.moving = false
		return true
	}
	s.az += clamp(azDiff, s.stepsPerTick)
	s.el += clamp(elDiff, s.stepsPerTick)
	return false
}

func clamp(diff, max int64) int64 {
	if diff > max {
		return max
	}
	if diff < -max {
		return -max
	}
	return diff
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func (s *Simulator) GetPosition() (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, 0, rotator.CommError("get position", rotator.ErrNotConnected)
	}
	return s.az, s.el, nil
}

// Stop cancels any motion. It is safe to call while disconnected.
func (s *Simulator) Stop() error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	s.halt()
	return nil
}

func (s *Simulator) IsMoving() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false, rotator.CommError("is moving", rotator.ErrNotConnected)
	}
	return s.moving, nil
}

// Tasks returns the number of live motion tasks, which is never more than one.
func (s *Simulator) Tasks() int {
	return int(atomic.LoadInt32(&s.tasks))
}

// SetPosition teleports the mount, cancelling any motion.
func (s *Simulator) SetPosition(azimuthSteps, elevationSteps int64) {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	s.halt()
	s.mu.Lock()
	s.az, s.el = azimuthSteps, elevationSteps
	s.targetAz, s.targetEl = azimuthSteps, elevationSteps
	s.mu.Unlock()
}
