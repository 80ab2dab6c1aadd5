// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborRecord is the companion-app representation: a CBOR map with small
// integer keys. Keys are stable; new fields get new keys.
type cborRecord struct {
	DevEUI           []byte `cbor:"0,keyasint"`
	AppEUI           []byte `cbor:"1,keyasint"`
	AppKey           []byte `cbor:"2,keyasint"`
	DevAddr          uint32 `cbor:"3,keyasint"`
	NwkSKey          []byte `cbor:"4,keyasint"`
	AppSKey          []byte `cbor:"5,keyasint"`
	OTAAEnabled      bool   `cbor:"6,keyasint"`
	ADREnabled       bool   `cbor:"7,keyasint"`
	PublicNetwork    bool   `cbor:"8,keyasint"`
	DutyCycle        bool   `cbor:"9,keyasint"`
	SendRepeatTime   uint32 `cbor:"10,keyasint"`
	JoinTrials       uint8  `cbor:"11,keyasint"`
	TxPower          uint8  `cbor:"12,keyasint"`
	DataRate         uint8  `cbor:"13,keyasint"`
	Class            uint8  `cbor:"14,keyasint"`
	SubbandChannels  uint8  `cbor:"15,keyasint"`
	AutoJoin         bool   `cbor:"16,keyasint"`
	AppPort          uint8  `cbor:"17,keyasint"`
	ConfirmedMsg     bool   `cbor:"18,keyasint"`
	Region           uint8  `cbor:"19,keyasint"`
	LoRaWANEnable    bool   `cbor:"20,keyasint"`
	P2PFrequency     uint32 `cbor:"21,keyasint"`
	P2PTxPower       uint8  `cbor:"22,keyasint"`
	P2PBandwidth     uint8  `cbor:"23,keyasint"`
	P2PSF            uint8  `cbor:"24,keyasint"`
	P2PCR            uint8  `cbor:"25,keyasint"`
	P2PPreambleLen   uint16 `cbor:"26,keyasint"`
	P2PSymbolTimeout uint8  `cbor:"27,keyasint"`
	ResetRequest     bool   `cbor:"28,keyasint"`
	P2PRxWindow      uint16 `cbor:"29,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	cborEncMode = em
}

// EncodeCBOR serializes a record for export
func EncodeCBOR(r *Record) ([]byte, error) {
	c := cborRecord{
		DevEUI:           r.DevEUI[:],
		AppEUI:           r.AppEUI[:],
		AppKey:           r.AppKey[:],
		DevAddr:          r.DevAddr,
		NwkSKey:          r.NwkSKey[:],
		AppSKey:          r.AppSKey[:],
		OTAAEnabled:      r.OTAAEnabled,
		ADREnabled:       r.ADREnabled,
		PublicNetwork:    r.PublicNetwork,
		DutyCycle:        r.DutyCycle,
		SendRepeatTime:   r.SendRepeatTime,
		JoinTrials:       r.JoinTrials,
		TxPower:          r.TxPower,
		DataRate:         r.DataRate,
		Class:            r.Class,
		SubbandChannels:  r.SubbandChannels,
		AutoJoin:         r.AutoJoin,
		AppPort:          r.AppPort,
		ConfirmedMsg:     r.ConfirmedMsg,
		Region:           r.Region,
		LoRaWANEnable:    r.LoRaWANEnable,
		P2PFrequency:     r.P2PFrequency,
		P2PTxPower:       r.P2PTxPower,
		P2PBandwidth:     r.P2PBandwidth,
		P2PSF:            r.P2PSF,
		P2PCR:            r.P2PCR,
		P2PPreambleLen:   r.P2PPreambleLen,
		P2PSymbolTimeout: r.P2PSymbolTimeout,
		ResetRequest:     r.ResetRequest,
		P2PRxWindow:      r.P2PRxWindow,
	}
	data, err := cborEncMode.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR: %w", err)
	}
	return data, nil
}

// DecodeCBOR parses an exported record. Fields missing from the map keep
// their defaults. The result is validated before it is returned.
func DecodeCBOR(data []byte) (*Record, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty CBOR payload")
	}

	d := Defaults()
	c := cborRecord{
		DevEUI:           d.DevEUI[:],
		AppEUI:           d.AppEUI[:],
		AppKey:           d.AppKey[:],
		DevAddr:          d.DevAddr,
		NwkSKey:          d.NwkSKey[:],
		AppSKey:          d.AppSKey[:],
		OTAAEnabled:      d.OTAAEnabled,
		PublicNetwork:    d.PublicNetwork,
		JoinTrials:       d.JoinTrials,
		DataRate:         d.DataRate,
		SubbandChannels:  d.SubbandChannels,
		AppPort:          d.AppPort,
		LoRaWANEnable:    d.LoRaWANEnable,
		P2PFrequency:     d.P2PFrequency,
		P2PTxPower:       d.P2PTxPower,
		P2PSF:            d.P2PSF,
		P2PCR:            d.P2PCR,
		P2PPreambleLen:   d.P2PPreambleLen,
		ResetRequest:     d.ResetRequest,
	}
	if err := cbor.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode CBOR: %w", err)
	}

	r := d
	if err := copyKey(r.DevEUI[:], c.DevEUI, "dev_eui"); err != nil {
		return nil, err
	}
	if err := copyKey(r.AppEUI[:], c.AppEUI, "app_eui"); err != nil {
		return nil, err
	}
	if err := copyKey(r.AppKey[:], c.AppKey, "app_key"); err != nil {
		return nil, err
	}
	if err := copyKey(r.NwkSKey[:], c.NwkSKey, "nwk_s_key"); err != nil {
		return nil, err
	}
	if err := copyKey(r.AppSKey[:], c.AppSKey, "app_s_key"); err != nil {
		return nil, err
	}
	r.DevAddr = c.DevAddr
	r.OTAAEnabled = c.OTAAEnabled
	r.ADREnabled = c.ADREnabled
	r.PublicNetwork = c.PublicNetwork
	r.DutyCycle = c.DutyCycle
	r.SendRepeatTime = c.SendRepeatTime
	r.JoinTrials = c.JoinTrials
	r.TxPower = c.TxPower
	r.DataRate = c.DataRate
	r.Class = c.Class
	r.SubbandChannels = c.SubbandChannels
	r.AutoJoin = c.AutoJoin
	r.AppPort = c.AppPort
	r.ConfirmedMsg = c.ConfirmedMsg
	r.Region = c.Region
	r.LoRaWANEnable = c.LoRaWANEnable
	r.P2PFrequency = c.P2PFrequency
	r.P2PTxPower = c.P2PTxPower
	r.P2PBandwidth = c.P2PBandwidth
	r.P2PSF = c.P2PSF
	r.P2PCR = c.P2PCR
	r.P2PPreambleLen = c.P2PPreambleLen
	r.P2PSymbolTimeout = c.P2PSymbolTimeout
	r.ResetRequest = c.ResetRequest
	r.P2PRxWindow = c.P2PRxWindow

	if errs := Validate(&r); len(errs) > 0 {
		return nil, &errs[0]
	}
	return &r, nil
}

func copyKey(dst, src []byte, field string) error {
	if len(src) != len(dst) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be %d bytes", len(dst)), Value: len(src)}
	}
	copy(dst, src)
	return nil
}
