// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atcmd

// Perm says which request shapes a descriptor accepts
type Perm uint8

const (
	PermRead      Perm = 1 << 0
	PermWrite     Perm = 1 << 1
	PermReadWrite      = PermRead | PermWrite
)

func (p Perm) String() string {
	switch p {
	case PermRead:
		return "R"
	case PermWrite:
		return "W"
	case PermReadWrite:
		return "RW"
	default:
		return "-"
	}
}

// Mode restricts requests to one join mode
type Mode uint8

const (
	ModeAny Mode = iota
	ModeLoRaWAN
	ModeP2P
)

func (m Mode) allows(lorawan bool) bool {
	switch m {
	case ModeLoRaWAN:
		return lorawan
	case ModeP2P:
		return !lorawan
	default:
		return true
	}
}

// Descriptor is one entry of a command table
type Descriptor struct {
	Name string // e.g. "+DEVEUI"
	Help string

	Query func() (string, Status)
	Exec  func(arg string) Status
	Run   func() Status

	Perm Perm
	// Mode gates set and run requests
	Mode Mode
	// QueryMode gates query requests
	QueryMode Mode

	// Custom lists the command with the ATC prefix
	Custom bool
}
