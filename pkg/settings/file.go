// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/snksoft/crc"
)

// crcSize is the length of the integrity trailer appended to file images
const crcSize = 2

// FileStorage emulates the internal flash file with a regular file.
//
// The image is followed by a little-endian CRC-16/X25 trailer. Writes go to a
// temporary file that is renamed over the old one, so a crash never leaves a
// half-written image behind.
type FileStorage struct {
	path string
}

// NewFileStorage creates a file-backed storage at path
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Path returns the backing file path
func (f *FileStorage) Path() string {
	return f.path
}

// Read implements Storage
func (f *FileStorage) Read() ([]byte, error) {
	raw, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if len(raw) == 0 {
		return nil, ErrNotFound
	}
	if len(raw) < crcSize {
		return nil, ErrCorrupted
	}

	data := raw[:len(raw)-crcSize]
	stored := binary.LittleEndian.Uint16(raw[len(raw)-crcSize:])
	if calculated := checksum(data); calculated != stored {
		return nil, fmt.Errorf("%w: CRC mismatch: expected 0x%04X, got 0x%04X", ErrCorrupted, calculated, stored)
	}
	return data, nil
}

// Write implements Storage
func (f *FileStorage) Write(data []byte) error {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	out := make([]byte, len(data)+crcSize)
	copy(out, data)
	binary.LittleEndian.PutUint16(out[len(data):], checksum(data))

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".settings-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close settings: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

// Format implements Storage
func (f *FileStorage) Format() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to format %s: %w", f.path, err)
	}
	return nil
}

// Sync implements Syncer. Write already fsyncs the image before renaming it,
// so completion only needs the directory entry flushed.
func (f *FileStorage) Sync() error {
	dir, err := os.Open(filepath.Dir(f.path))
	if err != nil {
		return fmt.Errorf("failed to open settings dir: %w", err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		// Some filesystems refuse to fsync directories
		if errors.Is(err, fs.ErrInvalid) {
			return nil
		}
		return err
	}
	return nil
}

func checksum(data []byte) uint16 {
	return uint16(crc.CalculateCRC(crc.X25, data))
}
