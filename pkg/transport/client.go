// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned once the companion connection has failed or
// been closed
var ErrConnectionClosed = errors.New("websocket connection closed")

const (
	handshakeTimeout = 10 * time.Second
	dialTimeout      = 15 * time.Second
)

// WebSocketConnection is the client side of the companion endpoint.
// Text frames carry AT bytes and are exposed through Read and Write.
// Binary frames carry settings images and are returned by ReadSettings.
//
// Read and ReadSettings must not be called concurrently.
type WebSocketConnection struct {
	conn   *websocket.Conn
	text   []byte
	images [][]byte
	err    error
}

// fill reads one frame into the text or image queue
func (w *WebSocketConnection) fill() error {
	if w.err != nil {
		return w.err
	}
	messageType, data, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			err = ErrConnectionClosed
		}
		w.err = err
		return err
	}
	switch messageType {
	case websocket.BinaryMessage:
		w.images = append(w.images, data)
	case websocket.TextMessage:
		w.text = append(w.text, data...)
	}
	return nil
}

// Read returns AT text. Settings images that arrive meanwhile are queued.
func (w *WebSocketConnection) Read(p []byte) (int, error) {
	for len(w.text) == 0 {
		if err := w.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, w.text)
	w.text = w.text[n:]
	return n, nil
}

// ReadSettings returns the next settings image. AT text that arrives
// meanwhile stays queued for Read.
func (w *WebSocketConnection) ReadSettings() ([]byte, error) {
	for len(w.images) == 0 {
		if err := w.fill(); err != nil {
			return nil, err
		}
	}
	img := w.images[0]
	w.images = w.images[1:]
	return img, nil
}

// Write sends p as one text frame
func (w *WebSocketConnection) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteSettings sends a settings image
func (w *WebSocketConnection) WriteSettings(image []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, image)
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// DialWebSocket connects to a companion endpoint. Credentials are sent as
// HTTP Basic auth when both are set.
func DialWebSocket(wsURL, username, password string, skipSSLVerify bool) (*WebSocketConnection, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipSSLVerify}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		headers.Set("Authorization", "Basic "+basicAuth(username, password))
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return &WebSocketConnection{conn: conn}, nil
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}
