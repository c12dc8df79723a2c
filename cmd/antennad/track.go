package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/w1xm/radiotelescope/ephemeris"
)

const defaultTrackInterval = 5 * time.Second

// tracker follows at most one sky object.
type tracker struct {
	interval time.Duration

	mu     sync.Mutex
	target string
	cancel context.CancelFunc
	// done is closed when the tracking goroutine exits, including when it
	// gives up on its own.
	done chan struct{}
}

// name returns the object being tracked, or "".
func (t *tracker) name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		return ""
	}
	select {
	case <-t.done:
		return ""
	default:
		return t.target
	}
}

func (t *tracker) stopLocked() string {
	if t.cancel == nil {
		return ""
	}
	t.cancel()
	<-t.done
	name := t.target
	t.target, t.cancel, t.done = "", nil, nil
	return name
}

// point moves the antenna to where name is now.
func (s *Server) point(name string) (ephemeris.Result, error) {
	res, err := s.eph.Lookup(name)
	if err != nil {
		return res, err
	}
	p, err := res.Position()
	if err != nil {
		return res, err
	}
	return res, s.ant.MoveTo(p)
}

// startTracking points the antenna at name and re-points it every interval
// until tracking is stopped or a move fails, e.g. when the object sets.
func (s *Server) startTracking(name string) (ephemeris.Result, error) {
	s.tracker.mu.Lock()
	defer s.tracker.mu.Unlock()
	if prev := s.tracker.stopLocked(); prev != "" {
		log.Printf("stopped tracking %s", prev)
	}
	res, err := s.point(name)
	if err != nil {
		return res, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.tracker.target, s.tracker.cancel, s.tracker.done = res.Name, cancel, done
	go s.track(ctx, res.Name, done)
	log.Printf("tracking %s at %.3f° %.3f°", res.Name, res.Azimuth, res.Elevation)
	return res, nil
}

func (s *Server) track(ctx context.Context, name string, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(s.tracker.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		if _, err := s.point(name); err != nil {
			s.metrics.ObserveCommand("track", err)
			log.Printf("tracking %s: %v; giving up", name, err)
			return
		}
	}
}

// stopTracking waits for any in-flight re-pointing to finish, so a command
// issued afterwards is not overtaken by the tracker.
func (s *Server) stopTracking() {
	s.tracker.mu.Lock()
	defer s.tracker.mu.Unlock()
	if name := s.tracker.stopLocked(); name != "" {
		log.Printf("stopped tracking %s", name)
	}
}
