// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport carries AT traffic and settings images between a node
// and its operators: serial lines, a WebSocket client, the node-side
// WebSocket configuration server and the reply fan-out.
package transport

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// Connection is a byte stream to a node: a serial line or the text side of
// the companion endpoint
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// OpenSerial opens a serial port at 8N1
func OpenSerial(portName string, baudRate int) (*SerialConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}
