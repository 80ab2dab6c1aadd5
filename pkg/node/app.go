// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"math"

	"github.com/Thermoquad/loranode/pkg/scheduler"
)

// App is the application layer of a node. Handle runs first in every
// handler cycle and sees the full event snapshot.
type App interface {
	Init(n *Node) error
	Handle(ev scheduler.Event)
}

// Cayenne LPP
const (
	lppAnalogInput = 0x02
	lppBatteryChan = 0x01
	lppAnalogScale = 100
)

// StatusApp sends the battery voltage on every status tick and reports
// join and transmit results on the console
type StatusApp struct {
	n *Node
}

// Init implements App
func (a *StatusApp) Init(n *Node) error {
	a.n = n
	return nil
}

// Handle implements App
func (a *StatusApp) Handle(ev scheduler.Event) {
	if ev.Has(scheduler.EventStatus) {
		a.sendStatus()
	}
	if ev.Has(scheduler.EventLoRaJoinFin) {
		if a.n.link.JoinResult() {
			a.n.Printf("+EVT:JOINED")
		} else {
			a.n.Printf("+EVT:JOIN_FAILED")
		}
	}
	if ev.Has(scheduler.EventLoRaTxFin) {
		if a.n.link.ConfirmResult() {
			a.n.Printf("+EVT:TX_DONE")
		} else {
			a.n.Printf("+EVT:TX_FAILED")
		}
	}
}

func (a *StatusApp) sendStatus() {
	n := a.n
	if !n.link.Joined() {
		n.logger.Debug().Msg("Status tick while not joined, nothing sent")
		return
	}

	payload := lppAnalog(lppBatteryChan, n.device.BatteryVoltage())
	var err error
	if n.store.Record().LoRaWANEnable {
		err = n.link.SendLoRaWAN(0, payload)
	} else {
		err = n.link.SendP2P(payload)
	}
	if err != nil {
		n.logger.Warn().Err(err).Msg("Status send failed")
		return
	}
	n.logger.Info().Hex("payload", payload).Msg("Status sent")
}

// lppAnalog encodes v as a Cayenne LPP analog input (0.01 resolution, signed)
func lppAnalog(channel uint8, v float64) []byte {
	scaled := math.Round(v * lppAnalogScale)
	if scaled > math.MaxInt16 {
		scaled = math.MaxInt16
	} else if scaled < math.MinInt16 {
		scaled = math.MinInt16
	}
	raw := uint16(int16(scaled))
	return []byte{channel, lppAnalogInput, byte(raw >> 8), byte(raw)}
}
