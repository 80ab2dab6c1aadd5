// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store owns the configuration record and keeps it in sync with storage.
//
// Store is not safe for concurrent use; all access happens on the node's
// main task.
type Store struct {
	storage   Storage
	record    Record
	persisted []byte
	writes    int
	settle    time.Duration
	sleep     func(time.Duration)
	logger    zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithSettle sets the pause applied after writes on storage without Syncer
func WithSettle(d time.Duration) Option {
	return func(s *Store) {
		s.settle = d
	}
}

// NewStore creates a store on top of storage. The record holds defaults
// until Load is called.
func NewStore(storage Storage, opts ...Option) *Store {
	s := &Store{
		storage: storage,
		record:  Defaults(),
		settle:  MinSettle,
		sleep:   time.Sleep,
		logger:  log.With().Str("component", "settings").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record returns the live record. Callers mutate it in place and call Save.
func (s *Store) Record() *Record {
	return &s.record
}

// Writes returns how many images this store has written
func (s *Store) Writes() int {
	return s.writes
}

// ResetRequested reports the reset-on-save policy stored in the record
func (s *Store) ResetRequested() bool {
	return s.record.ResetRequest
}

// Image returns the packed image of the live record
func (s *Store) Image() []byte {
	return s.record.image()
}

// Load reads the record from storage.
//
// Empty storage is initialized with defaults. A previous-schema image is
// migrated and immediately written back. Anything else that does not carry
// the current markers is erased and replaced by defaults. Storage failures
// are reported as ErrMigrationFailed.
func (s *Store) Load() error {
	data, err := s.storage.Read()
	switch {
	case errors.Is(err, ErrNotFound):
		s.logger.Info().Msg("Settings not found, writing defaults")
		if err := s.writeDefaults(); err != nil {
			return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
		}
		data, err = s.storage.Read()
		if err != nil {
			return fmt.Errorf("%w: re-read after format: %v", ErrMigrationFailed, err)
		}
	case errors.Is(err, ErrCorrupted):
		s.logger.Warn().Err(err).Msg("Stored settings failed integrity check")
		data = nil
	case err != nil:
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	if len(data) >= 2 && data[0] == ValidMarker && data[1] == LegacyMarker {
		old, err := unpackLegacy(data)
		if err == nil {
			s.logger.Info().Msg("Settings have old structure, merging into new structure")
			s.record = old.migrate()
			if err := s.write(s.record.image()); err != nil {
				return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
			}
			return nil
		}
		s.logger.Warn().Err(err).Msg("Old settings structure unreadable")
	}

	if len(data) >= RecordSize && data[0] == ValidMarker && data[1] == CurrentMarker {
		var r Record
		if err := r.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
		}
		s.record = r
		s.persisted = append([]byte(nil), data[:RecordSize]...)
		s.logger.Debug().Msg("Settings loaded")
		return nil
	}

	s.logger.Warn().Msg("Invalid settings data, formatting storage")
	if err := s.storage.Format(); err != nil {
		return fmt.Errorf("%w: format: %v", ErrMigrationFailed, err)
	}
	if err := s.writeDefaults(); err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	return nil
}

// Save writes the record if its image differs from the last persisted one.
// It returns false when the write failed; the in-memory record stays valid.
func (s *Store) Save() bool {
	image := s.record.image()
	if s.persisted != nil && bytes.Equal(image, s.persisted) {
		s.logger.Debug().Msg("Settings unchanged, skipping write")
		return true
	}
	if err := s.write(image); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save settings")
		return false
	}
	s.logger.Info().Msg("Settings changed, new data written")
	return true
}

// Reset erases storage and writes the default record unconditionally
func (s *Store) Reset() error {
	if err := s.storage.Format(); err != nil {
		return fmt.Errorf("failed to format storage: %w", err)
	}
	return s.writeDefaults()
}

// Apply replaces the record with a complete image received from a companion
// application, then saves it. If the save fails the previous record is kept
// and ErrSaveFailed is returned.
func (s *Store) Apply(data []byte) error {
	if len(data) != RecordSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrWrongSize, len(data), RecordSize)
	}
	if data[0] != ValidMarker || data[1] != CurrentMarker {
		return ErrBadMarkers
	}
	var r Record
	if err := r.UnmarshalBinary(data); err != nil {
		return err
	}
	prev := s.record
	s.record = r
	if !s.Save() {
		s.record = prev
		return ErrSaveFailed
	}
	return nil
}

func (s *Store) writeDefaults() error {
	s.record = Defaults()
	return s.write(s.record.image())
}

func (s *Store) write(image []byte) error {
	if err := s.storage.Write(image); err != nil {
		return err
	}
	if syncer, ok := s.storage.(Syncer); ok {
		if err := syncer.Sync(); err != nil {
			return fmt.Errorf("storage sync failed: %w", err)
		}
	} else if s.settle > 0 {
		s.sleep(s.settle)
	}
	s.persisted = append(s.persisted[:0], image...)
	s.writes++
	return nil
}
