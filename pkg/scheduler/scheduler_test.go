// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestScheduler(opts ...Option) *Scheduler {
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	s := New(opts...)
	s.Init()
	return s
}

// ============================================================
// Post / Wait / Clear
// ============================================================

func TestPostBeforeInit(t *testing.T) {
	s := New(WithLogger(zerolog.Nop()))
	s.Post(EventStatus)

	if s.Pending() != 0 {
		t.Errorf("Pending() = %v, want NONE", s.Pending())
	}
	if _, err := s.Wait(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Wait() error = %v, want ErrNotInitialized", err)
	}

	s.Init()
	s.Post(EventATCmd)
	if s.Pending() != EventATCmd {
		t.Errorf("Pending() = %v, want AT_CMD", s.Pending())
	}
}

func TestPostCombinesBits(t *testing.T) {
	s := newTestScheduler()
	s.Post(EventStatus)
	s.Post(EventATCmd)
	s.Post(EventStatus)

	if got := s.Pending(); got != EventStatus|EventATCmd {
		t.Errorf("Pending() = %v, want STATUS|AT_CMD", got)
	}
}

func TestPostConcurrent(t *testing.T) {
	s := newTestScheduler()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(bit int) {
			defer wg.Done()
			s.Post(Event(1 << bit))
		}(i)
	}
	wg.Wait()

	if got := s.Pending(); got != 0xFFFF {
		t.Errorf("Pending() = 0x%04X, want 0xFFFF", uint16(got))
	}
}

func TestClearKeepsNewBits(t *testing.T) {
	s := newTestScheduler()
	s.Post(EventStatus)

	snapshot, err := s.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	s.Post(EventLoRaData)
	s.Clear(snapshot)

	if got := s.Pending(); got != EventLoRaData {
		t.Errorf("Pending() = %v, want LORA_DATA", got)
	}
}

func TestWaitCancelled(t *testing.T) {
	s := newTestScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want context.Canceled", err)
	}
}

func TestWaitIgnoresStaleToken(t *testing.T) {
	s := newTestScheduler()

	// Two posts leave one token behind after the first cycle consumed both bits
	s.Post(EventStatus)
	s.Post(EventATCmd)
	ev, _ := s.Wait(context.Background())
	s.Clear(ev)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want deadline with nothing pending", err)
	}
}

// ============================================================
// Handler fan-out
// ============================================================

func recordingHandlers(calls *[]string) Handlers {
	rec := func(name string) Handler {
		return func(Event) { *calls = append(*calls, name) }
	}
	return Handlers{
		App:       rec("app"),
		BLEData:   rec("ble_data"),
		LoRaData:  rec("lora_data"),
		BLEConfig: rec("ble_config"),
		ATCmd:     rec("at_cmd"),
	}
}

func TestRunOnceOrder(t *testing.T) {
	tests := []struct {
		name  string
		post  Event
		calls []string
	}{
		{
			name:  "status and at",
			post:  EventStatus | EventATCmd,
			calls: []string{"app", "ble_data", "lora_data", "at_cmd"},
		},
		{
			name:  "all",
			post:  EventStatus | EventBLEConfig | EventATCmd | EventLoRaData,
			calls: []string{"app", "ble_data", "lora_data", "ble_config", "at_cmd"},
		},
		{
			name:  "status only",
			post:  EventStatus,
			calls: []string{"app", "ble_data", "lora_data"},
		},
		{
			name:  "config only",
			post:  EventBLEConfig,
			calls: []string{"app", "ble_data", "lora_data", "ble_config"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestScheduler()
			var calls []string
			s.Post(tt.post)

			if err := s.RunOnce(context.Background(), recordingHandlers(&calls)); err != nil {
				t.Fatalf("RunOnce() error = %v", err)
			}
			if !reflect.DeepEqual(calls, tt.calls) {
				t.Errorf("calls = %v, want %v", calls, tt.calls)
			}
			if s.State() != StateIdle {
				t.Errorf("State() = %v, want idle", s.State())
			}
			if s.Pending() != 0 {
				t.Errorf("Pending() = %v, want NONE", s.Pending())
			}
		})
	}
}

func TestRunOnceNilHandlers(t *testing.T) {
	s := newTestScheduler()
	s.Post(EventStatus | EventATCmd | EventBLEConfig)
	if err := s.RunOnce(context.Background(), Handlers{}); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
}

func TestRunOnceRepeatsForNewBits(t *testing.T) {
	s := newTestScheduler()
	var seen []Event
	posted := false

	h := Handlers{
		App: func(ev Event) {
			seen = append(seen, ev)
			if !posted {
				posted = true
				s.Post(EventLoRaTxFin)
			}
		},
	}

	s.Post(EventStatus)
	if err := s.RunOnce(context.Background(), h); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	want := []Event{EventStatus, EventLoRaTxFin}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("snapshots = %v, want %v", seen, want)
	}
	if s.Cycles() != 1 {
		t.Errorf("Cycles() = %d, want 1", s.Cycles())
	}
}

func TestHandlerSeesSnapshotState(t *testing.T) {
	s := newTestScheduler()
	var state State
	s.Post(EventStatus)
	s.RunOnce(context.Background(), Handlers{App: func(Event) { state = s.State() }})

	if state != StateActive {
		t.Errorf("state during handler = %v, want active", state)
	}
}

func TestWakeExactlyOnce(t *testing.T) {
	s := newTestScheduler()
	var appCalls, atCalls atomic.Int32
	var order []string
	var mu sync.Mutex
	called := make(chan struct{}, 8)

	h := Handlers{
		App: func(Event) {
			appCalls.Add(1)
			mu.Lock()
			order = append(order, "app")
			mu.Unlock()
		},
		ATCmd: func(Event) {
			atCalls.Add(1)
			mu.Lock()
			order = append(order, "at_cmd")
			mu.Unlock()
			called <- struct{}{}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, h) }()

	// Let the main task suspend
	time.Sleep(10 * time.Millisecond)
	s.Post(EventStatus | EventATCmd)

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("handlers not invoked")
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}

	if appCalls.Load() != 1 || atCalls.Load() != 1 {
		t.Errorf("app=%d at=%d, want one call each", appCalls.Load(), atCalls.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(order, []string{"app", "at_cmd"}) {
		t.Errorf("order = %v, want [app at_cmd]", order)
	}
}

// ============================================================
// Periodic timer
// ============================================================

func TestPeriodicRestartGate(t *testing.T) {
	tests := []struct {
		name    string
		gate    bool
		ms      uint32
		running bool
	}{
		{"enabled", true, 50, true},
		{"zero interval", true, 0, false},
		{"gate closed", false, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := tt.gate
			s := newTestScheduler(WithPeriodicGate(func() bool { return gate }))
			p := s.Periodic()
			p.Restart(tt.ms)
			defer p.Stop()

			if p.Running() != tt.running {
				t.Errorf("Running() = %v, want %v", p.Running(), tt.running)
			}
		})
	}
}

func TestPeriodicRestartKeepsRunningTimerWhenIgnored(t *testing.T) {
	s := newTestScheduler()
	p := s.Periodic()
	p.Configure(1000)
	p.Start()
	defer p.Stop()

	p.Restart(0)
	if !p.Running() || p.Interval() != time.Second {
		t.Errorf("Restart(0) changed the timer: running=%v interval=%v", p.Running(), p.Interval())
	}
}

func TestPeriodicPostsStatus(t *testing.T) {
	s := newTestScheduler()
	p := s.Periodic()
	p.Configure(5)
	p.Start()
	defer p.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !ev.Has(EventStatus) {
		t.Errorf("event = %v, want STATUS", ev)
	}
}

func TestPeriodicConfigureStops(t *testing.T) {
	s := newTestScheduler()
	p := s.Periodic()
	p.Configure(10)
	p.Start()
	if !p.Running() {
		t.Fatal("timer should run after Start")
	}
	p.Configure(20)
	if p.Running() {
		t.Error("Configure should stop a running timer")
	}

	p.Configure(0)
	p.Start()
	if p.Running() {
		t.Error("Start with zero interval should not run")
	}
}

// ============================================================
// Event formatting
// ============================================================

func TestEventString(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{0, "NONE"},
		{EventStatus, "STATUS"},
		{EventStatus | EventATCmd, "STATUS|AT_CMD"},
		{EventLoRaJoinFin | EventUser, "LORA_JOIN_FIN|0x0100"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.ev.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
