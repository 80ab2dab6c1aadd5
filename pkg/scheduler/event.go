// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package scheduler suspends the node's main task until events arrive and
// fans them out to the handlers in a fixed order.
package scheduler

import (
	"fmt"
	"strings"
)

// Event is a set of pending event bits
type Event uint16

// Event bits
const (
	EventStatus      Event = 0x0001 // Periodic timer tick
	EventBLEConfig   Event = 0x0002 // Settings image received from the companion
	EventBLEData     Event = 0x0004 // AT bytes received from the companion
	EventLoRaData    Event = 0x0008 // Radio delivered a payload
	EventLoRaTxFin   Event = 0x0010 // Transmission finished
	EventATCmd       Event = 0x0020 // Command bytes pending in the FIFO
	EventLoRaJoinFin Event = 0x0040 // Join procedure finished

	// EventUser is the first bit available to the application
	EventUser Event = 0x0100
)

var eventNames = []struct {
	bit  Event
	name string
}{
	{EventStatus, "STATUS"},
	{EventBLEConfig, "BLE_CONFIG"},
	{EventBLEData, "BLE_DATA"},
	{EventLoRaData, "LORA_DATA"},
	{EventLoRaTxFin, "LORA_TX_FIN"},
	{EventATCmd, "AT_CMD"},
	{EventLoRaJoinFin, "LORA_JOIN_FIN"},
}

// Has reports whether every bit of mask is set
func (e Event) Has(mask Event) bool {
	return e&mask == mask
}

// String renders the set as NAME|NAME, with unnamed bits in hex
func (e Event) String() string {
	if e == 0 {
		return "NONE"
	}
	var parts []string
	rest := e
	for _, n := range eventNames {
		if e&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%04X", uint16(rest)))
	}
	return strings.Join(parts, "|")
}

// State is the scheduler state
type State int32

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
