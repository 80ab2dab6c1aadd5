// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"sync/atomic"

	"github.com/Thermoquad/loranode/pkg/config"
)

// hostDevice is the simulated board behind the device commands
type hostDevice struct {
	info    config.Device
	restart atomic.Bool
}

func (d *hostDevice) BatteryVoltage() float64 { return d.info.BatteryVolts() }
func (d *hostDevice) HardwareModel() string   { return d.info.HWModel }
func (d *hostDevice) HardwareID() string      { return d.info.HWID }
func (d *hostDevice) SerialNumber() string    { return d.info.Serial }

// RequestRestart only flags the restart; the node acts on it once the
// current handler cycle is finished
func (d *hostDevice) RequestRestart() {
	d.restart.Store(true)
}

func (d *hostDevice) restartRequested() bool {
	return d.restart.Load()
}
