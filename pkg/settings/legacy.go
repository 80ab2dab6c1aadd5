// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"bytes"
	"fmt"

	"github.com/lunixbochs/struc"
)

// legacyRecord is the previous schema (marker 0x55): LoRaWAN only, no P2P
// parameters and no mode flag.
type legacyRecord struct {
	ValidMark1      uint8
	ValidMark2      uint8
	DevEUI          [8]byte
	AppEUI          [8]byte
	AppKey          [16]byte
	DevAddr         uint32
	NwkSKey         [16]byte
	AppSKey         [16]byte
	OTAAEnabled     bool
	ADREnabled      bool
	PublicNetwork   bool
	DutyCycle       bool
	SendRepeatTime  uint32
	JoinTrials      uint8
	TxPower         uint8
	DataRate        uint8
	Class           uint8
	SubbandChannels uint8
	AutoJoin        bool
	AppPort         uint8
	ConfirmedMsg    bool
	Region          uint8
	ResetRequest    bool
}

func unpackLegacy(data []byte) (*legacyRecord, error) {
	if len(data) < LegacySize {
		return nil, fmt.Errorf("%w: legacy image has %d bytes, want %d", ErrWrongSize, len(data), LegacySize)
	}
	var old legacyRecord
	if err := struc.UnpackWithOptions(bytes.NewReader(data[:LegacySize]), &old, layout); err != nil {
		return nil, fmt.Errorf("failed to unpack legacy settings: %w", err)
	}
	return &old, nil
}

func (o *legacyRecord) pack() ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, o, layout); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// migrate copies every field the old schema knows into a default record.
// Fields the old schema lacks keep their defaults. resetRequest is not carried
// over.
func (o *legacyRecord) migrate() Record {
	r := Defaults()
	r.DevEUI = o.DevEUI
	r.AppEUI = o.AppEUI
	r.AppKey = o.AppKey
	r.DevAddr = o.DevAddr
	r.NwkSKey = o.NwkSKey
	r.AppSKey = o.AppSKey
	r.OTAAEnabled = o.OTAAEnabled
	r.ADREnabled = o.ADREnabled
	r.PublicNetwork = o.PublicNetwork
	r.DutyCycle = o.DutyCycle
	r.SendRepeatTime = o.SendRepeatTime
	r.JoinTrials = o.JoinTrials
	r.TxPower = o.TxPower
	r.DataRate = o.DataRate
	r.Class = o.Class
	r.SubbandChannels = o.SubbandChannels
	r.AutoJoin = o.AutoJoin
	r.AppPort = o.AppPort
	r.ConfirmedMsg = o.ConfirmedMsg
	r.Region = o.Region
	return r
}

// LegacyImage builds a previous-schema image from a record. It is used by the
// settings tooling to produce migration fixtures.
func LegacyImage(r *Record) ([]byte, error) {
	old := legacyRecord{
		ValidMark1:      ValidMarker,
		ValidMark2:      LegacyMarker,
		DevEUI:          r.DevEUI,
		AppEUI:          r.AppEUI,
		AppKey:          r.AppKey,
		DevAddr:         r.DevAddr,
		NwkSKey:         r.NwkSKey,
		AppSKey:         r.AppSKey,
		OTAAEnabled:     r.OTAAEnabled,
		ADREnabled:      r.ADREnabled,
		PublicNetwork:   r.PublicNetwork,
		DutyCycle:       r.DutyCycle,
		SendRepeatTime:  r.SendRepeatTime,
		JoinTrials:      r.JoinTrials,
		TxPower:         r.TxPower,
		DataRate:        r.DataRate,
		Class:           r.Class,
		SubbandChannels: r.SubbandChannels,
		AutoJoin:        r.AutoJoin,
		AppPort:         r.AppPort,
		ConfirmedMsg:    r.ConfirmedMsg,
		Region:          r.Region,
		ResetRequest:    r.ResetRequest,
	}
	return old.pack()
}
