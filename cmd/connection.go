// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/loranode/pkg/transport"
)

// OpenConnection opens either a serial or WebSocket connection based on flags
func OpenConnection() (transport.Connection, string, error) {
	if wsURL != "" {
		conn, err := dialCompanion()
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := transport.OpenSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// dialCompanion opens the companion endpoint named by --url
func dialCompanion() (*transport.WebSocketConnection, error) {
	password := ""
	if wsUsername != "" {
		var err error
		password, err = transport.GetPassword()
		if err != nil {
			return nil, err
		}
	}
	return transport.DialWebSocket(wsURL, wsUsername, password, wsNoSSLVerify)
}
