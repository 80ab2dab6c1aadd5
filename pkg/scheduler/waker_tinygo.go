//go:build tinygo

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package scheduler

import (
	"context"
	"sync/atomic"
	"time"
)

// pollInterval bounds the wake latency on targets without blocking primitives
// that are safe to signal from an interrupt handler
const pollInterval = time.Millisecond

// waker is an atomic flag. give only performs a store, so it can be called
// from an interrupt handler.
type waker struct {
	flag atomic.Bool
}

func newWaker() *waker {
	return &waker{}
}

func (w *waker) give() {
	w.flag.Store(true)
}

func (w *waker) take(ctx context.Context) error {
	for {
		if w.flag.Swap(false) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		time.Sleep(pollInterval)
	}
}
