// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Thermoquad/loranode/pkg/atcmd"
	"github.com/Thermoquad/loranode/pkg/config"
	"github.com/Thermoquad/loranode/pkg/node"
	"github.com/Thermoquad/loranode/pkg/radio"
	"github.com/Thermoquad/loranode/pkg/settings"
	"github.com/Thermoquad/loranode/pkg/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const restartDelay = time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulated sensor node",
	Long: `Boot a simulated LoRa sensor node and serve it until interrupted.

AT commands are read from the serial port given in the configuration or with
--port, or from stdin when no port is set. Replies go back the same way and
to the companion connection when one is attached.

The node restarts itself after ATZ, a work-mode change or a settings write
with the reset flag set; settings are re-read from storage on every restart.

Radio backends:
  stub  in-memory loopback; joins and sends complete immediately
  mqtt  frames are published to an MQTT broker (see [radio] in the config)`,
	RunE: runRun,
}

var (
	runListen  string
	runBackend string
	runBroker  string
	runScript  string
	runStorage string
)

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runListen, "listen", "", "Companion server address (empty string disables)")
	runCmd.Flags().StringVar(&runBackend, "radio", "", "Radio backend (stub, mqtt)")
	runCmd.Flags().StringVar(&runBroker, "broker", "", "MQTT broker URL")
	runCmd.Flags().StringVar(&runScript, "script", "", "Lua extension script")
	runCmd.Flags().StringVar(&runStorage, "storage", "", "Settings file")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Companion.Listen = runListen
	}
	if flags.Changed("radio") {
		cfg.Radio.Backend = runBackend
	}
	if flags.Changed("broker") {
		cfg.Radio.Broker = runBroker
	}
	if flags.Changed("script") {
		cfg.Extension.Script = runScript
	}
	if flags.Changed("storage") {
		cfg.Storage.Path = runStorage
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, mac, closeRadio, err := openRadio(ctx, cfg.Radio)
	if err != nil {
		return err
	}
	defer closeRadio()

	in, out, closeConsole, err := openConsole(cfg.Serial)
	if err != nil {
		return err
	}
	defer closeConsole()

	var current atomic.Pointer[node.Node]
	go pumpConsole(in, &current)

	storage := settings.NewFileStorage(cfg.Storage.Path)
	log.Info().
		Str("storage", storage.Path()).
		Str("radio", cfg.Radio.Backend).
		Str("companion", cfg.Companion.Listen).
		Msg("Starting node")

	for {
		n := node.New(node.Params{
			Storage:   storage,
			Radio:     r,
			MAC:       mac,
			Console:   out,
			Echo:      cfg.Serial.Echo,
			Companion: cfg.Companion,
			Device:    cfg.Device,
			Script:    cfg.Extension.Script,
			Build:     atcmd.BuildInfo{Version: Version, BuildTime: BuildTime},
		}, node.WithLogger(log.Logger))

		current.Store(n)
		err := n.Boot(ctx)
		if err == nil {
			err = n.Run(ctx)
		}
		current.Store(nil)
		n.Close()

		switch {
		case errors.Is(err, node.ErrRestart):
			log.Info().Err(err).Msg("Restarting node")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(restartDelay):
			}
		case ctx.Err() != nil:
			log.Info().Msg("Node stopped")
			return nil
		default:
			return err
		}
	}
}

// openRadio builds the configured air interface. The MQTT client outlives
// node restarts.
func openRadio(ctx context.Context, cfg config.Radio) (radio.Radio, radio.MAC, func(), error) {
	switch cfg.Backend {
	case config.BackendMQTT:
		m := radio.NewMQTT(radio.MQTTConfig{
			Broker:      cfg.Broker,
			TopicPrefix: cfg.TopicPrefix,
			Username:    cfg.Username,
			Password:    cfg.Password,
			JoinTimeout: cfg.JoinTimeout.Duration,
			AutoAccept:  cfg.AutoAccept,
		}, radio.WithMQTTLogger(log.With().Str("component", "mqtt").Logger()))

		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := m.Connect(connectCtx); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to connect to broker %s: %w", cfg.Broker, err)
		}
		return m, m.MAC(), m.Close, nil
	default:
		s := radio.NewLoopbackStub()
		return s, s.MAC(), func() {}, nil
	}
}

// openConsole returns the serial port, or stdin and stdout without one
func openConsole(cfg config.Serial) (io.Reader, io.Writer, func(), error) {
	if cfg.Port == "" {
		return os.Stdin, os.Stdout, func() {}, nil
	}
	conn, err := transport.OpenSerial(cfg.Port, cfg.Baud)
	if err != nil {
		return nil, nil, nil, err
	}
	return conn, conn, func() { conn.Close() }, nil
}

// pumpConsole hands console bytes to whichever node is current. Bytes that
// arrive while the node restarts are lost, as on the board.
func pumpConsole(in io.Reader, current *atomic.Pointer[node.Node]) {
	buf := make([]byte, 256)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if nd := current.Load(); nd != nil {
				nd.Input(buf[:n])
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("Console read failed")
			}
			return
		}
	}
}
