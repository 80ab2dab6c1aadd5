// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import "fmt"

// RxMode is the P2P receive policy applied after every radio operation
type RxMode uint8

const (
	RxNone        RxMode = iota // Transmit only, radio sleeps
	RxTimed                     // Receive for a fixed window
	RxContinuous                // Receive forever, restart after every event
	RxUntilPacket               // Receive without timeout until one frame arrived
)

// Window sentinels as stored in the settings record
const (
	WindowNone       uint16 = 0
	WindowContinuous uint16 = 65534
	WindowUntilRx    uint16 = 65535
)

func (m RxMode) String() string {
	switch m {
	case RxNone:
		return "none"
	case RxTimed:
		return "timed"
	case RxContinuous:
		return "continuous"
	case RxUntilPacket:
		return "until-packet"
	default:
		return fmt.Sprintf("RxMode(%d)", uint8(m))
	}
}

// ModeFromWindow decodes a stored receive window into a mode and, for timed
// receive, its duration in milliseconds
func ModeFromWindow(w uint16) (RxMode, uint32) {
	switch w {
	case WindowNone:
		return RxNone, 0
	case WindowContinuous:
		return RxContinuous, 0
	case WindowUntilRx:
		return RxUntilPacket, 0
	default:
		return RxTimed, uint32(w)
	}
}

// Outcome is a radio completion
type Outcome uint8

const (
	OutcomeTxDone Outcome = iota
	OutcomeRxDone
	OutcomeTxTimeout
	OutcomeRxTimeout
	OutcomeRxError
	OutcomeCADBusy
)

func (o Outcome) String() string {
	switch o {
	case OutcomeTxDone:
		return "tx done"
	case OutcomeRxDone:
		return "rx done"
	case OutcomeTxTimeout:
		return "tx timeout"
	case OutcomeRxTimeout:
		return "rx timeout"
	case OutcomeRxError:
		return "rx error"
	case OutcomeCADBusy:
		return "cad busy"
	default:
		return fmt.Sprintf("Outcome(%d)", uint8(o))
	}
}

// Action is what the radio does next
type Action struct {
	Receive bool
	Timeout uint32 // ms, zero receives without timeout
}

// Sleep is the action that powers the receiver down
var Sleep = Action{}

func (a Action) String() string {
	if !a.Receive {
		return "sleep"
	}
	return fmt.Sprintf("rx(%d)", a.Timeout)
}

// Apply performs the action on r
func (a Action) Apply(r Radio) {
	if a.Receive {
		r.Rx(a.Timeout)
		return
	}
	r.Sleep()
}

// NextAction decides the radio state after an outcome.
//
// After a finished transmission every receive mode re-arms the receiver.
// After anything else only continuous mode keeps listening.
func NextAction(mode RxMode, rxTime uint32, o Outcome) Action {
	if o == OutcomeTxDone {
		return Arm(mode, rxTime)
	}
	if mode == RxContinuous {
		return Action{Receive: true}
	}
	return Sleep
}

// Arm returns the action that puts the radio into mode
func Arm(mode RxMode, rxTime uint32) Action {
	switch mode {
	case RxContinuous, RxUntilPacket:
		return Action{Receive: true}
	case RxTimed:
		return Action{Receive: true, Timeout: rxTime}
	default:
		return Sleep
	}
}
