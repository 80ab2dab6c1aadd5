//go:build !tinygo

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package scheduler

import "context"

// waker is a binary semaphore. give never blocks; extra gives while a token
// is already pending collapse into one wake.
type waker struct {
	sem chan struct{}
}

func newWaker() *waker {
	return &waker{sem: make(chan struct{}, 1)}
}

func (w *waker) give() {
	select {
	case w.sem <- struct{}{}:
	default:
	}
}

func (w *waker) take(ctx context.Context) error {
	select {
	case <-w.sem:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
