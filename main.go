// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// loranode - LoRa sensor node application core
//
// Runs a node against a simulated or MQTT-bridged radio and provides
// console and settings tools for talking to it.

package main

import (
	"os"

	"github.com/Thermoquad/loranode/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
