// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package scheduler

import (
	"sync"
	"time"
)

// Periodic is the recurring timer that posts EventStatus
type Periodic struct {
	mu       sync.Mutex
	s        *Scheduler
	interval time.Duration
	stop     chan struct{}
	gate     func() bool
}

func newPeriodic(s *Scheduler) *Periodic {
	return &Periodic{
		s:    s,
		gate: func() bool { return true },
	}
}

// Configure sets the interval in milliseconds. A running timer is stopped.
func (p *Periodic) Configure(ms uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.interval = time.Duration(ms) * time.Millisecond
}

// Start starts the timer with the configured interval. It does nothing when
// the interval is zero or the timer already runs.
func (p *Periodic) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startLocked()
}

// Stop stops the timer
func (p *Periodic) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Restart stops the timer and starts it again with a new interval.
// It is a no-op when ms is zero or the gate reports periodic sending as
// disabled.
func (p *Periodic) Restart(ms uint32) {
	if ms == 0 || !p.gate() {
		p.s.logger.Debug().Uint32("ms", ms).Msg("Periodic restart ignored")
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.interval = time.Duration(ms) * time.Millisecond
	p.startLocked()
}

// Running reports whether the timer is active
func (p *Periodic) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stop != nil
}

// Interval returns the configured interval
func (p *Periodic) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *Periodic) startLocked() {
	if p.interval <= 0 || p.stop != nil {
		return
	}
	stop := make(chan struct{})
	p.stop = stop
	ticker := time.NewTicker(p.interval)
	p.s.logger.Debug().Dur("interval", p.interval).Msg("Periodic timer started")

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.s.Post(EventStatus)
			case <-stop:
				return
			}
		}
	}()
}

func (p *Periodic) stopLocked() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	p.stop = nil
}
