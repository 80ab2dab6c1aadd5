// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultConfigPath is where the companion endpoint is mounted
const DefaultConfigPath = "/ble"

const writeWait = 5 * time.Second

// ServerHandlers receive companion traffic. They run on the connection's
// reader goroutine and must hand work to the main task instead of doing it.
type ServerHandlers struct {
	// Data receives AT bytes from a text frame
	Data func(p []byte)
	// Settings receives a settings image from a binary frame
	Settings func(image []byte)
	// Image supplies the settings image pushed to a client on connect
	Image func() []byte
	// Connected is called when a client attaches or detaches
	Connected func(connected bool)
}

// ConfigServer is the node side of the companion link. It accepts one
// WebSocket client at a time.
type ConfigServer struct {
	path     string
	user     string
	pass     string
	handlers ServerHandlers
	logger   zerolog.Logger
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conn   *websocket.Conn
	wmu    sync.Mutex
	server *http.Server
	ln     net.Listener
}

// ServerOption configures a ConfigServer
type ServerOption func(*ConfigServer)

// WithServerLogger sets the server logger
func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *ConfigServer) {
		s.logger = l
	}
}

// WithPath mounts the endpoint somewhere other than DefaultConfigPath
func WithPath(path string) ServerOption {
	return func(s *ConfigServer) {
		s.path = path
	}
}

// WithBasicAuth requires HTTP Basic credentials on the upgrade request
func WithBasicAuth(username, password string) ServerOption {
	return func(s *ConfigServer) {
		s.user = username
		s.pass = password
	}
}

// NewConfigServer creates a server that dispatches to h
func NewConfigServer(h ServerHandlers, opts ...ServerOption) *ConfigServer {
	s := &ConfigServer{
		path:     DefaultConfigPath,
		handlers: h,
		logger:   log.With().Str("component", "companion").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the endpoint path
func (s *ConfigServer) Path() string {
	return s.path
}

// Start listens on addr and serves in the background
func (s *ConfigServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, s)

	s.mu.Lock()
	s.ln = ln
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	srv := s.server
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Companion server stopped")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Str("path", s.path).Msg("Companion server listening")
	return nil
}

// Addr returns the listen address, or "" before Start
func (s *ConfigServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close drops the client and stops the listener
func (s *ConfigServer) Close() error {
	s.mu.Lock()
	conn := s.conn
	srv := s.server
	s.conn = nil
	s.server = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if srv != nil {
		return srv.Close()
	}
	return nil
}

// Connected reports whether a client is attached
func (s *ConfigServer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// ServeHTTP upgrades the request and runs the client until it disconnects
func (s *ConfigServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.user != "" {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.user || pass != s.pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="loranode"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	s.mu.Lock()
	busy := s.conn != nil
	s.mu.Unlock()
	if busy {
		http.Error(w, "companion already connected", http.StatusConflict)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Upgrade failed")
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "busy"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Companion connected")
	if s.handlers.Connected != nil {
		s.handlers.Connected(true)
	}
	if s.handlers.Image != nil {
		if err := s.send(conn, websocket.BinaryMessage, s.handlers.Image()); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to push settings")
		}
	}

	s.readLoop(conn)

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	conn.Close()

	if s.handlers.Connected != nil {
		s.handlers.Connected(false)
	}
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Companion disconnected")
}

func (s *ConfigServer) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("Companion read failed")
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			if s.handlers.Data != nil {
				s.handlers.Data(data)
			}
		case websocket.BinaryMessage:
			s.logger.Debug().Int("size", len(data)).Msg("Settings write received")
			if s.handlers.Settings != nil {
				s.handlers.Settings(data)
			}
		}
	}
}

// Write sends AT output to the client as a text frame. Without a client the
// bytes are discarded.
func (s *ConfigServer) Write(p []byte) (int, error) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return len(p), nil
	}
	if err := s.send(conn, websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Notify pushes a settings image to the client, if any
func (s *ConfigServer) Notify(image []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.send(conn, websocket.BinaryMessage, image)
}

func (s *ConfigServer) send(conn *websocket.Conn, messageType int, data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, data)
}
