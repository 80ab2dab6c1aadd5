// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned by Storage.Read when nothing has been written yet
	ErrNotFound = fmt.Errorf("settings not found in storage")

	// ErrCorrupted is returned by Storage.Read when the stored image fails its integrity check
	ErrCorrupted = fmt.Errorf("settings image corrupted")

	// ErrWrongSize is returned when an image does not have the expected length
	ErrWrongSize = fmt.Errorf("settings image has wrong size")

	// ErrBadMarkers is returned when an image does not start with the current markers
	ErrBadMarkers = fmt.Errorf("settings image does not have required markers")

	// ErrSaveFailed is returned by Apply when the new image could not be written
	ErrSaveFailed = fmt.Errorf("settings image could not be saved")

	// ErrMigrationFailed is returned by Load when a storage access fails while
	// validating or migrating the record. The node must restart.
	ErrMigrationFailed = fmt.Errorf("settings migration failed")
)

// MinSettle is the pause after a write on storage that cannot report completion
const MinSettle = 100 * time.Millisecond

// Storage is the byte-oriented non-volatile medium holding one settings image
type Storage interface {
	// Read returns the whole stored image, or ErrNotFound
	Read() ([]byte, error)
	// Write replaces the stored image
	Write(data []byte) error
	// Format erases the medium
	Format() error
}

// Syncer is implemented by storage that can signal write completion
type Syncer interface {
	Sync() error
}

// MemoryStorage keeps the image in memory. It counts writes and can be told
// to fail, which makes it the storage of choice for tests and dry runs.
type MemoryStorage struct {
	mu        sync.Mutex
	data      []byte
	writes    int
	formats   int
	failRead  error
	failWrite error
}

// NewMemoryStorage creates an empty (unformatted) memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Read implements Storage
func (m *MemoryStorage) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead != nil {
		return nil, m.failRead
	}
	if m.data == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out, nil
}

// Write implements Storage
func (m *MemoryStorage) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	m.data = make([]byte, len(data))
	copy(m.data, data)
	m.writes++
	return nil
}

// Format implements Storage
func (m *MemoryStorage) Format() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = nil
	m.formats++
	return nil
}

// Sync implements Syncer; memory writes complete immediately
func (m *MemoryStorage) Sync() error {
	return nil
}

// Writes returns the number of successful writes
func (m *MemoryStorage) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Formats returns the number of Format calls
func (m *MemoryStorage) Formats() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.formats
}

// Preload stores an image without counting it as a write
func (m *MemoryStorage) Preload(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make([]byte, len(data))
	copy(m.data, data)
}

// FailReads makes every subsequent Read return err (nil clears)
func (m *MemoryStorage) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRead = err
}

// FailWrites makes every subsequent Write return err (nil clears)
func (m *MemoryStorage) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = err
}
