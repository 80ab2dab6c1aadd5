// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package radio describes the radio PHY and LoRaWAN MAC collaborators the
// node drives, the P2P receive-mode policy, and two implementations: an
// in-memory stub and an MQTT-backed simulated air interface.
//
// Completion callbacks may run on any goroutine, the same way the firmware
// runs them in interrupt context.
package radio

import "fmt"

var (
	// ErrNotInitialized is returned when an operation needs Init first
	ErrNotInitialized = fmt.Errorf("radio not initialized")

	// ErrNotJoined is returned by MAC.Send before the join completed
	ErrNotJoined = fmt.Errorf("network not joined")

	// ErrPayloadTooLarge is returned when a frame exceeds MaxPayload
	ErrPayloadTooLarge = fmt.Errorf("payload too large")
)

// MaxPayload is the largest frame the radio buffer holds
const MaxPayload = 256

// Packet is a received frame. Port is zero for P2P frames.
type Packet struct {
	Port    uint8
	Payload []byte
	RSSI    int16
	SNR     int8
}

// Callbacks are the completion notifications. Nil fields are ignored.
type Callbacks struct {
	TxDone     func()
	TxTimeout  func()
	RxDone     func(Packet)
	RxTimeout  func()
	RxError    func()
	CADDone    func(busy bool)
	JoinDone   func(devAddr uint32)
	JoinFailed func()
	TxFinished func(acked bool)
}

// P2PConfig holds the raw PHY parameters used in P2P mode
type P2PConfig struct {
	Frequency     uint32
	TxPower       uint8
	Bandwidth     uint8 // index into settings.Bandwidths
	SF            uint8
	CR            uint8
	Preamble      uint16
	SymbolTimeout uint8
}

// MACConfig is handed to the MAC on initialization
type MACConfig struct {
	DevEUI     [8]byte
	AppEUI     [8]byte
	AppKey     [16]byte
	NwkSKey    [16]byte
	AppSKey    [16]byte
	DevAddr    uint32
	OTAA       bool
	ADR        bool
	Public     bool
	DutyCycle  bool
	DataRate   uint8
	TxPower    uint8
	JoinTrials uint8
	Class      uint8
	Region     uint8
	Subband    uint8
}

// Radio is the PHY driver surface used in P2P mode
type Radio interface {
	Init(cb Callbacks) error
	SetChannel(freq uint32)
	SetConfig(cfg P2PConfig)
	Send(data []byte) error
	// Rx starts receiving. Zero means no timeout.
	Rx(timeoutMs uint32)
	Sleep()
	StartCAD()
}

// MAC is the LoRaWAN engine surface
type MAC interface {
	Init(cfg MACConfig, cb Callbacks) error
	Join() error
	JoinStatus() bool
	Send(port uint8, data []byte, confirmed bool) error
	// DevAddr returns the address assigned by an OTAA join, or zero
	DevAddr() uint32
	SetDataRate(dr uint8, adr bool)
	SetTxPower(power uint8)
	SetConfirmRetries(n uint8)
	ConfirmRetries() uint8
	RegionParams() RegionParams
}
