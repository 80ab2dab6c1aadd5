// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FanOut copies every write to all attached outputs. A failing output is
// logged and skipped; the others still receive the bytes.
type FanOut struct {
	mu      sync.Mutex
	outputs []io.Writer
	logger  zerolog.Logger
}

// NewFanOut creates a fan-out over the given writers
func NewFanOut(outputs ...io.Writer) *FanOut {
	return &FanOut{
		outputs: outputs,
		logger:  log.With().Str("component", "fanout").Logger(),
	}
}

// Add attaches another output
func (f *FanOut) Add(w io.Writer) {
	f.mu.Lock()
	f.outputs = append(f.outputs, w)
	f.mu.Unlock()
}

// Write never fails
func (f *FanOut) Write(p []byte) (int, error) {
	f.mu.Lock()
	outputs := append([]io.Writer(nil), f.outputs...)
	f.mu.Unlock()

	for _, w := range outputs {
		if _, err := w.Write(p); err != nil {
			f.logger.Debug().Err(err).Msg("Output write failed")
		}
	}
	return len(p), nil
}
