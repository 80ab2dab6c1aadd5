// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/loranode/pkg/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Set by the linker
var (
	Version   = "0.3.0"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "loranode",
	Short: "LoRa sensor node simulator and AT console",
	Long: `loranode - run a simulated LoRa sensor node and talk to real or simulated
nodes over their AT command interface.

The node keeps its settings in a file, takes AT commands on a serial line or
stdin, serves companion-app configuration over WebSocket and reaches the air
through an in-memory stub or an MQTT broker.

Connection modes (console, monitor, settings):
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host:8765/ble [--username user]

For WebSocket authentication, the password is read from the LORANODE_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "Node configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

func setupLogging(cmd *cobra.Command, args []string) error {
	level := logLevel
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
	return nil
}

// loadConfig reads the configuration file and applies the persistent flags
// that override it
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Serial.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Serial.Baud = baudRate
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	} else if cfg.Log.Level != "" {
		lvl, err := zerolog.ParseLevel(cfg.Log.Level)
		if err != nil {
			return cfg, fmt.Errorf("log: invalid level %q", cfg.Log.Level)
		}
		zerolog.SetGlobalLevel(lvl)
	}
	return cfg, cfg.Validate()
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
