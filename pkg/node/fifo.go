// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import "sync"

// DefaultFIFOSize matches the console receive buffer of the reference board
const DefaultFIFOSize = 1024

// FIFO is a fixed-size byte ring. Writers on any goroutine append; the main
// task drains. Bytes that do not fit are dropped.
type FIFO struct {
	mu   sync.Mutex
	buf  []byte
	head int // next read
	n    int
	lost uint64
}

// NewFIFO creates a ring holding up to size bytes
func NewFIFO(size int) *FIFO {
	if size <= 0 {
		size = DefaultFIFOSize
	}
	return &FIFO{buf: make([]byte, size)}
}

// Write appends as much of p as fits and returns the count stored
func (f *FIFO) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := 0
	for _, b := range p {
		if f.n == len(f.buf) {
			f.lost += uint64(len(p) - stored)
			break
		}
		f.buf[(f.head+f.n)%len(f.buf)] = b
		f.n++
		stored++
	}
	return stored, nil
}

// Pop removes the oldest byte
func (f *FIFO) Pop() (byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.n == 0 {
		return 0, false
	}
	b := f.buf[f.head]
	f.head = (f.head + 1) % len(f.buf)
	f.n--
	return b, true
}

// Len returns the number of buffered bytes
func (f *FIFO) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

// Lost returns how many bytes were dropped on overflow
func (f *FIFO) Lost() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lost
}
