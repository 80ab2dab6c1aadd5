// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"
)

// layout is the byte order of every persisted image
var layout = &struc.Options{Order: binary.LittleEndian}

// Record is the persisted node configuration.
//
// Field order is the on-flash and over-the-air layout; do not reorder.
type Record struct {
	ValidMark1       uint8
	ValidMark2       uint8
	DevEUI           [8]byte
	AppEUI           [8]byte
	AppKey           [16]byte
	DevAddr          uint32
	NwkSKey          [16]byte
	AppSKey          [16]byte
	OTAAEnabled      bool
	ADREnabled       bool
	PublicNetwork    bool
	DutyCycle        bool
	SendRepeatTime   uint32 // milliseconds, 0 disables periodic sending
	JoinTrials       uint8
	TxPower          uint8
	DataRate         uint8
	Class            uint8
	SubbandChannels  uint8
	AutoJoin         bool
	AppPort          uint8
	ConfirmedMsg     bool
	Region           uint8 // API region index
	LoRaWANEnable    bool  // false selects P2P mode
	P2PFrequency     uint32
	P2PTxPower       uint8
	P2PBandwidth     uint8
	P2PSF            uint8
	P2PCR            uint8
	P2PPreambleLen   uint16
	P2PSymbolTimeout uint8
	ResetRequest     bool
	P2PRxWindow      uint16
}

// Defaults returns the compiled-in default record
func Defaults() Record {
	return Record{
		ValidMark1:       ValidMarker,
		ValidMark2:       CurrentMarker,
		DevEUI:           [8]byte{0x00, 0x0D, 0x75, 0xE6, 0x56, 0x4D, 0xC1, 0xF3},
		AppEUI:           [8]byte{0x70, 0xB3, 0xD5, 0x7E, 0xD0, 0x02, 0x01, 0xE1},
		AppKey:           [16]byte{0x2B, 0x84, 0xE0, 0xB0, 0x9B, 0x68, 0xE5, 0xCB, 0x42, 0x17, 0x6F, 0xE7, 0x53, 0xDC, 0xEE, 0x79},
		DevAddr:          0x26021FB4,
		NwkSKey:          [16]byte{0x32, 0x3D, 0x15, 0x5A, 0x00, 0x0D, 0xF3, 0x35, 0x30, 0x7A, 0x16, 0xDA, 0x0C, 0x9D, 0xF5, 0x3F},
		AppSKey:          [16]byte{0x3F, 0x6A, 0x66, 0x45, 0x9D, 0x5E, 0xDC, 0xA6, 0x3C, 0xBC, 0x46, 0x19, 0xCD, 0x61, 0xA1, 0x1E},
		OTAAEnabled:      true,
		ADREnabled:       false,
		PublicNetwork:    true,
		DutyCycle:        false,
		SendRepeatTime:   0,
		JoinTrials:       5,
		TxPower:          0,
		DataRate:         3,
		Class:            ClassA,
		SubbandChannels:  1,
		AutoJoin:         false,
		AppPort:          2,
		ConfirmedMsg:     false,
		Region:           RegionAS923,
		LoRaWANEnable:    true,
		P2PFrequency:     916000000,
		P2PTxPower:       22,
		P2PBandwidth:     0,
		P2PSF:            7,
		P2PCR:            1,
		P2PPreambleLen:   8,
		P2PSymbolTimeout: 0,
		ResetRequest:     true,
		P2PRxWindow:      RxWindowNone,
	}
}

// HasCurrentMarkers reports whether the record carries the current schema markers
func (r *Record) HasCurrentMarkers() bool {
	return r.ValidMark1 == ValidMarker && r.ValidMark2 == CurrentMarker
}

// MarshalBinary packs the record into its fixed-size image
func (r *Record) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(RecordSize)
	if err := struc.PackWithOptions(&buf, r, layout); err != nil {
		return nil, fmt.Errorf("failed to pack settings: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary unpacks a fixed-size image. Markers are not checked here.
func (r *Record) UnmarshalBinary(data []byte) error {
	if len(data) < RecordSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrWrongSize, len(data), RecordSize)
	}
	var out Record
	if err := struc.UnpackWithOptions(bytes.NewReader(data[:RecordSize]), &out, layout); err != nil {
		return fmt.Errorf("failed to unpack settings: %w", err)
	}
	*r = out
	return nil
}

// image packs the record. It panics only if the struct layout is invalid.
func (r *Record) image() []byte {
	data, err := r.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return data
}
