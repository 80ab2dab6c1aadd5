// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atcmd

import (
	"github.com/Thermoquad/loranode/pkg/radio"
	"github.com/Thermoquad/loranode/pkg/settings"
)

// Link is the radio link the built-in commands drive
type Link interface {
	Initialized() bool
	Joined() bool
	Init() error
	Join() error
	Reconfigure()
	Sleep()
	Receive(ms uint32)
	SetRxWindow(w uint16)
	SendLoRaWAN(port uint8, data []byte) error
	SendP2P(data []byte) error
	DevAddr() uint32
	SetDataRate(dr uint8, adr bool)
	SetTxPower(power uint8)
	SetConfirmRetries(n uint8)
	ConfirmRetries() uint8
	RSSI() int16
	SNR() int8
	LastRx() radio.Packet
	ConfirmResult() bool
	RegionParams() radio.RegionParams
}

// Device is the host board
type Device interface {
	BatteryVoltage() float64
	HardwareModel() string
	HardwareID() string
	SerialNumber() string
	// RequestRestart asks for a restart once the reply is flushed
	RequestRestart()
}

// Timer is the periodic send timer
type Timer interface {
	Restart(ms uint32)
	Stop()
}

// BuildInfo describes the running firmware
type BuildInfo struct {
	Version   string
	BuildTime string
}

// Env holds the collaborators of the built-in commands
type Env struct {
	Store  *settings.Store
	Link   Link
	Device Device
	Timer  Timer
	Build  BuildInfo
}

type builtins struct {
	env Env
	reg *Registry
}

// InstallBuiltins builds the built-in table on top of env. Without an
// explicit mode source the registry follows the record's join mode.
func (r *Registry) InstallBuiltins(env Env) {
	b := &builtins{env: env, reg: r}
	if r.lorawan == nil {
		r.lorawan = func() bool { return env.Store.Record().LoRaWANEnable }
	}

	var table []Descriptor
	table = append(table, b.systemCommands()...)
	table = append(table, b.lorawanCommands()...)
	table = append(table, b.deviceCommands()...)
	table = append(table, b.p2pCommands()...)
	table = append(table, b.compatCommands()...)
	table = append(table, b.statusCommands()...)
	r.builtins = table
}

func (b *builtins) rec() *settings.Record {
	return b.env.Store.Record()
}

func (b *builtins) lorawan() bool {
	return b.rec().LoRaWANEnable
}

// save persists the record and maps a failed write to ErrExecFailed
func (b *builtins) save() Status {
	if !b.env.Store.Save() {
		return ErrExecFailed
	}
	return OK
}
