// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotInitialized is returned by Wait before Init has been called
var ErrNotInitialized = fmt.Errorf("scheduler not initialized")

// Handler receives the event snapshot of the current cycle
type Handler func(Event)

// Handlers are invoked in field order on every wake cycle. BLEConfig and
// ATCmd only run when their bit is in the snapshot. Nil slots are skipped.
type Handlers struct {
	App       Handler
	BLEData   Handler
	LoRaData  Handler
	BLEConfig Handler
	ATCmd     Handler
}

// Scheduler is the single suspension point of the main task.
//
// Post may be called from any goroutine. Wait, Clear, RunOnce and Run belong
// to the main task.
type Scheduler struct {
	pending  atomic.Uint32
	waker    atomic.Pointer[waker]
	state    atomic.Int32
	cycles   atomic.Uint64
	periodic *Periodic
	logger   zerolog.Logger
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the scheduler logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithPeriodicGate sets the predicate consulted by Periodic().Restart.
// When it returns false the timer stays stopped.
func WithPeriodicGate(gate func() bool) Option {
	return func(s *Scheduler) {
		s.periodic.gate = gate
	}
}

// New creates a scheduler. Events posted before Init are dropped.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: log.With().Str("component", "scheduler").Logger(),
	}
	s.periodic = newPeriodic(s)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init constructs the wake signal. Calling it again is a no-op.
func (s *Scheduler) Init() {
	s.waker.CompareAndSwap(nil, newWaker())
}

// Post ORs ev into the pending set and wakes the main task.
// It never blocks and is a no-op before Init.
func (s *Scheduler) Post(ev Event) {
	w := s.waker.Load()
	if w == nil {
		return
	}
	s.pending.Or(uint32(ev))
	w.give()
}

// Pending returns the current pending set without consuming it
func (s *Scheduler) Pending() Event {
	return Event(s.pending.Load())
}

// Clear removes exactly the bits in ev. Bits posted since the snapshot stay.
func (s *Scheduler) Clear(ev Event) {
	s.pending.And(^uint32(ev))
}

// State returns the scheduler state
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Cycles returns the number of completed wake cycles
func (s *Scheduler) Cycles() uint64 {
	return s.cycles.Load()
}

// Periodic returns the periodic status timer
func (s *Scheduler) Periodic() *Periodic {
	return s.periodic
}

// Wait blocks until at least one bit is pending and returns a snapshot.
// There is no timeout; only a cancelled context ends the wait early.
func (s *Scheduler) Wait(ctx context.Context) (Event, error) {
	w := s.waker.Load()
	if w == nil {
		return 0, ErrNotInitialized
	}
	for {
		if ev := Event(s.pending.Load()); ev != 0 {
			s.state.Store(int32(StateActive))
			return ev, nil
		}
		// A stale token from an already handled post wakes us with nothing
		// pending; loop back and block again.
		if err := w.take(ctx); err != nil {
			return 0, err
		}
	}
}

// RunOnce waits for events and runs handler cycles until the pending set is
// empty, then returns to idle.
func (s *Scheduler) RunOnce(ctx context.Context, h Handlers) error {
	ev, err := s.Wait(ctx)
	if err != nil {
		return err
	}
	for ev != 0 {
		s.logger.Trace().Stringer("events", ev).Msg("Wake")
		s.dispatch(ev, h)
		s.Clear(ev)
		ev = Event(s.pending.Load())
	}
	s.state.Store(int32(StateIdle))
	s.cycles.Add(1)
	return nil
}

// Run loops RunOnce until ctx is done
func (s *Scheduler) Run(ctx context.Context, h Handlers) error {
	for {
		if err := s.RunOnce(ctx, h); err != nil {
			return err
		}
	}
}

func (s *Scheduler) dispatch(ev Event, h Handlers) {
	if h.App != nil {
		h.App(ev)
	}
	if h.BLEData != nil {
		h.BLEData(ev)
	}
	if h.LoRaData != nil {
		h.LoRaData(ev)
	}
	if h.BLEConfig != nil && ev&EventBLEConfig != 0 {
		h.BLEConfig(ev)
	}
	if h.ATCmd != nil && ev&EventATCmd != 0 {
		h.ATCmd(ev)
	}
}
