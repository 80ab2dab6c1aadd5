// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config reads the node configuration file (loranode.toml).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// DefaultFile is the configuration file looked up when none is given
const DefaultFile = "loranode.toml"

// Radio backends
const (
	BackendStub = "stub"
	BackendMQTT = "mqtt"
)

// Config is the node configuration
type Config struct {
	Storage   Storage   `toml:"storage"`
	Serial    Serial    `toml:"serial"`
	Companion Companion `toml:"companion"`
	Radio     Radio     `toml:"radio"`
	Extension Extension `toml:"extension"`
	Device    Device    `toml:"device"`
	Log       Log       `toml:"log"`
}

// Storage locates the settings image
type Storage struct {
	Path string `toml:"path"`
}

// Serial is the USB console line. An empty port means stdin/stdout.
type Serial struct {
	Port string `toml:"port"`
	Baud int    `toml:"baud"`
	// Echo writes typed characters back to the console
	Echo bool `toml:"echo"`
}

// Companion is the WebSocket configuration endpoint. An empty listen
// address disables it.
type Companion struct {
	Listen   string `toml:"listen"`
	Path     string `toml:"path"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// Radio selects the air interface
type Radio struct {
	Backend     string   `toml:"backend"`
	Broker      string   `toml:"broker"`
	TopicPrefix string   `toml:"topic_prefix"`
	Username    string   `toml:"username"`
	Password    string   `toml:"password"`
	AutoAccept  bool     `toml:"auto_accept"`
	JoinTimeout Duration `toml:"join_timeout"`
}

// Extension points at an optional Lua script
type Extension struct {
	Script string `toml:"script"`
}

// Device describes the simulated hardware
type Device struct {
	BatteryMV uint16 `toml:"battery_mv"`
	HWModel   string `toml:"hw_model"`
	HWID      string `toml:"hw_id"`
	Serial    string `toml:"serial_number"`
}

// Log sets the zerolog level name
type Log struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration written as a string ("10s") in TOML
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the configuration used when no file exists
func Default() Config {
	return Config{
		Storage: Storage{Path: "loranode.settings"},
		Serial:  Serial{Baud: 115200},
		Companion: Companion{
			Listen: "127.0.0.1:8765",
			Path:   "/ble",
		},
		Radio: Radio{
			Backend:     BackendStub,
			Broker:      "tcp://127.0.0.1:1883",
			TopicPrefix: "loranode",
			JoinTimeout: Duration{10 * time.Second},
		},
		Device: Device{
			BatteryMV: 3700,
			HWModel:   "linux-sim",
			HWID:      "host",
			Serial:    "SN0001",
		},
		Log: Log{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML over the defaults and validates the result
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return Config{}, fmt.Errorf("parse error at line %d, column %d: %s", row, col, derr.Error())
		}
		return Config{}, fmt.Errorf("parse error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the values Parse cannot
func (c *Config) Validate() error {
	switch c.Radio.Backend {
	case BackendStub:
	case BackendMQTT:
		if c.Radio.Broker == "" {
			return fmt.Errorf("radio: mqtt backend needs a broker")
		}
	default:
		return fmt.Errorf("radio: unknown backend %q", c.Radio.Backend)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage: path is required")
	}
	if c.Serial.Port != "" && c.Serial.Baud <= 0 {
		return fmt.Errorf("serial: invalid baud rate %d", c.Serial.Baud)
	}
	if c.Companion.Listen != "" && (c.Companion.Path == "" || c.Companion.Path[0] != '/') {
		return fmt.Errorf("companion: path must start with /")
	}
	return nil
}

// Marshal encodes the configuration as TOML
func (c *Config) Marshal() ([]byte, error) {
	return toml.Marshal(c)
}

// BatteryVolts converts the configured battery level to volts
func (d Device) BatteryVolts() float64 {
	return float64(d.BatteryMV) / 1000
}
