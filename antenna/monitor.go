package antenna

import (
	"context"
	"log"
	"time"
)

func (c *Controller) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(c.cfg.MonitorInterval)
	defer t.Stop()
	for {
		if status, ok := c.poll(ctx); ok && c.statusCallback != nil {
			c.statusCallback(status)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// poll reads the driver once and applies the result. The monitor is the
// only writer of the mechanical position and the only path from Moving or
// Calibrating to Idle, which it takes only for a reading made after the
// current move was acknowledged.
func (c *Controller) poll(ctx context.Context) (Status, bool) {
	c.mu.Lock()
	seq, acked := c.seq, c.acked
	c.mu.Unlock()

	azSteps, elSteps, err := c.driver.GetPosition()
	var moving bool
	if err == nil {
		moving, err = c.driver.IsMoving()
	}
	if ctx.Err() != nil {
		return Status{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failures++
		log.Printf("polling antenna (%d/%d): %v", c.failures, c.cfg.MaxPollFailures, err)
		if c.failures >= c.cfg.MaxPollFailures && c.state != StateError {
			log.Printf("%d consecutive polls failed; entering error state", c.failures)
			c.setErrorLocked(err)
		}
		return c.publishLocked(), true
	}
	c.failures = 0
	c.raw = c.cfg.Motor.toPosition(azSteps, elSteps)
	c.moving = moving
	if !moving && seq == c.seq && acked == seq && (c.state == StateMoving || c.state == StateCalibrating) {
		log.Printf("move complete at %v", c.calibration.referenced(c.raw))
		c.state = StateIdle
	}
	return c.publishLocked(), true
}
