// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package node ties the scheduler, settings store, command registry and
// radio link into a running sensor node.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thermoquad/loranode/pkg/atcmd"
	"github.com/Thermoquad/loranode/pkg/config"
	"github.com/Thermoquad/loranode/pkg/extension"
	"github.com/Thermoquad/loranode/pkg/lora"
	"github.com/Thermoquad/loranode/pkg/radio"
	"github.com/Thermoquad/loranode/pkg/scheduler"
	"github.com/Thermoquad/loranode/pkg/settings"
	"github.com/Thermoquad/loranode/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrRestart is returned by Run when the node asked for a restart. The
// caller re-creates the node from storage.
var ErrRestart = errors.New("node restart requested")

// DefaultInitRetry is the interval of the radio failure reminder
const DefaultInitRetry = 5 * time.Second

// Params are the collaborators of a node
type Params struct {
	Storage settings.Storage
	Radio   radio.Radio
	MAC     radio.MAC

	// Console receives command replies and event lines
	Console io.Writer
	// Echo mirrors command input back to Console
	Echo bool

	Companion config.Companion
	Device    config.Device
	Script    string
	Build     atcmd.BuildInfo
}

// Node is one simulated sensor node
type Node struct {
	store  *settings.Store
	sched  *scheduler.Scheduler
	link   *lora.Controller
	reg    *atcmd.Registry
	out    *transport.FanOut
	server *transport.ConfigServer
	ext    *extension.Engine
	device *hostDevice
	app    App
	script string
	listen string

	console   *FIFO
	companion *FIFO

	mu       sync.Mutex
	incoming []byte
	snapshot []byte

	initFailed atomic.Bool
	initRetry  time.Duration
	cancel     context.CancelFunc

	logger zerolog.Logger
}

// Option configures a Node
type Option func(*Node)

// WithLogger sets the node logger. Components derive their own loggers from it.
func WithLogger(l zerolog.Logger) Option {
	return func(n *Node) {
		n.logger = l
	}
}

// WithApp replaces the default status application
func WithApp(a App) Option {
	return func(n *Node) {
		n.app = a
	}
}

// WithInitRetry sets the interval of the radio failure reminder
func WithInitRetry(d time.Duration) Option {
	return func(n *Node) {
		n.initRetry = d
	}
}

// New wires a node. Nothing touches storage or the radio until Boot.
func New(p Params, opts ...Option) *Node {
	n := &Node{
		device:    &hostDevice{info: p.Device},
		script:    p.Script,
		listen:    p.Companion.Listen,
		console:   NewFIFO(DefaultFIFOSize),
		companion: NewFIFO(DefaultFIFOSize),
		initRetry: DefaultInitRetry,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.app == nil {
		n.app = &StatusApp{}
	}

	component := func(name string) zerolog.Logger {
		return n.logger.With().Str("component", name).Logger()
	}

	n.store = settings.NewStore(p.Storage, settings.WithLogger(component("settings")))
	n.sched = scheduler.New(
		scheduler.WithLogger(component("scheduler")),
		scheduler.WithPeriodicGate(func() bool { return n.store.Record().AutoJoin }),
	)
	n.link = lora.New(p.Radio, p.MAC, n.store, n.sched, lora.WithLogger(component("lora")))

	n.out = transport.NewFanOut()
	if p.Console != nil {
		n.out.Add(p.Console)
	}
	if p.Companion.Listen != "" {
		serverOpts := []transport.ServerOption{
			transport.WithServerLogger(component("companion")),
		}
		if p.Companion.Path != "" {
			serverOpts = append(serverOpts, transport.WithPath(p.Companion.Path))
		}
		if p.Companion.Username != "" {
			serverOpts = append(serverOpts, transport.WithBasicAuth(p.Companion.Username, p.Companion.Password))
		}
		n.server = transport.NewConfigServer(transport.ServerHandlers{
			Data:     n.CompanionData,
			Settings: n.CompanionSettings,
			Image:    n.SettingsImage,
		}, serverOpts...)
		n.out.Add(n.server)
	}

	regOpts := []atcmd.Option{atcmd.WithLogger(component("atcmd"))}
	if p.Echo && p.Console != nil {
		regOpts = append(regOpts, atcmd.WithEcho(p.Console))
	}
	n.reg = atcmd.NewRegistry(n.out, regOpts...)
	n.reg.InstallBuiltins(atcmd.Env{
		Store:  n.store,
		Link:   n.link,
		Device: n.device,
		Timer:  n.sched.Periodic(),
		Build:  p.Build,
	})

	return n
}

// Boot runs the startup sequence. Radio failures are not fatal: the node
// keeps serving commands and reminds the operator periodically.
func (n *Node) Boot(ctx context.Context) error {
	ctx, n.cancel = context.WithCancel(ctx)

	if err := n.store.Load(); err != nil {
		if errors.Is(err, settings.ErrMigrationFailed) {
			return fmt.Errorf("%w: %v", ErrRestart, err)
		}
		return err
	}
	n.logger.Debug().Msg(n.store.Record().Format())
	n.publish()

	if n.script != "" {
		n.ext = extension.New(n.store, extension.WithLogger(n.logger.With().Str("component", "extension").Logger()))
		if err := n.ext.DoFile(n.script); err != nil {
			return err
		}
		n.ext.Install(n.reg)
	}

	if n.server != nil {
		if err := n.server.Start(n.listen); err != nil {
			return fmt.Errorf("failed to start companion server: %w", err)
		}
	}

	n.sched.Init()

	rec := n.store.Record()
	if rec.AutoJoin {
		n.logger.Info().Msg("Auto join is enabled, start LoRa and join")
		if err := n.link.Init(); err != nil {
			n.logger.Error().Err(err).Msg("Init LoRa failed")
			n.initFailed.Store(true)
			go n.remind(ctx)
		} else {
			n.logger.Info().Msg("LoRa init success")
		}
	} else {
		n.link.Sleep()
		n.logger.Info().Msg("Auto join is disabled, waiting for connect command")
	}

	if err := n.app.Init(n); err != nil {
		return fmt.Errorf("application init failed: %w", err)
	}
	return nil
}

// remind logs until the link comes up or the node stops
func (n *Node) remind(ctx context.Context) {
	ticker := time.NewTicker(n.initRetry)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n.link.Initialized() {
				n.initFailed.Store(false)
				return
			}
			n.logger.Warn().Msg("Get your LoRa stuff in order")
		}
	}
}

// Close stops timers, the companion server and the script engine
func (n *Node) Close() {
	if n.cancel != nil {
		n.cancel()
	}
	n.sched.Periodic().Stop()
	if n.server != nil {
		n.server.Close()
	}
	if n.ext != nil {
		n.ext.Close()
	}
}

// Run handles events until ctx is cancelled or a restart is requested
func (n *Node) Run(ctx context.Context) error {
	for {
		if err := n.RunOnce(ctx); err != nil {
			return err
		}
	}
}

// RunOnce handles one wake of the scheduler
func (n *Node) RunOnce(ctx context.Context) error {
	if err := n.sched.RunOnce(ctx, n.handlers()); err != nil {
		return err
	}
	if n.device.restartRequested() {
		n.logger.Info().Msg("Restart requested")
		return ErrRestart
	}
	return nil
}

// ============================================================
// Inputs (any goroutine)
// ============================================================

// Input queues console bytes for the command registry
func (n *Node) Input(p []byte) {
	if len(p) == 0 {
		return
	}
	n.console.Write(p)
	n.sched.Post(scheduler.EventATCmd)
}

// CompanionData queues AT bytes received from the companion link. Every
// chunk is one line; a terminator is appended so a client need not send one.
func (n *Node) CompanionData(p []byte) {
	if len(p) == 0 {
		return
	}
	n.companion.Write(p)
	n.companion.Write([]byte{'\r'})
	n.sched.Post(scheduler.EventBLEData)
}

// CompanionSettings queues a settings image received from the companion
// link. Only the most recent unprocessed image is kept.
func (n *Node) CompanionSettings(image []byte) {
	n.mu.Lock()
	n.incoming = append([]byte(nil), image...)
	n.mu.Unlock()
	n.sched.Post(scheduler.EventBLEConfig)
}

// SettingsImage returns the record image as of the last handler cycle
func (n *Node) SettingsImage() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]byte(nil), n.snapshot...)
}

// ============================================================
// Handlers (main task)
// ============================================================

func (n *Node) handlers() scheduler.Handlers {
	return scheduler.Handlers{
		App:       n.app.Handle,
		BLEData:   n.handleCompanionData,
		LoRaData:  n.handleLoRaData,
		BLEConfig: n.handleSettingsWrite,
		ATCmd:     n.handleConsole,
	}
}

func (n *Node) handleCompanionData(ev scheduler.Event) {
	if !ev.Has(scheduler.EventBLEData) {
		return
	}
	n.drain(n.companion)
}

func (n *Node) handleConsole(scheduler.Event) {
	n.drain(n.console)
}

func (n *Node) drain(f *FIFO) {
	for {
		b, ok := f.Pop()
		if !ok {
			break
		}
		n.reg.FeedByte(b)
	}
	n.publish()
}

func (n *Node) handleLoRaData(ev scheduler.Event) {
	if !ev.Has(scheduler.EventLoRaData) {
		return
	}
	p := n.link.LastRx()
	n.logger.Info().
		Uint8("port", p.Port).
		Int("size", len(p.Payload)).
		Int16("rssi", p.RSSI).
		Int8("snr", p.SNR).
		Msg("Data received")

	if n.store.Record().LoRaWANEnable {
		n.reg.Printf("+EVT:RX_1:%d:%d:UNICAST:%d:%X", p.RSSI, p.SNR, p.Port, p.Payload)
	} else {
		n.reg.Printf("+EVT:RXP2P:%d:%d:%X", p.RSSI, p.SNR, p.Payload)
	}
}

func (n *Node) handleSettingsWrite(scheduler.Event) {
	n.mu.Lock()
	image := n.incoming
	n.incoming = nil
	n.mu.Unlock()
	if image == nil {
		return
	}

	if err := n.store.Apply(image); err != nil {
		if errors.Is(err, settings.ErrSaveFailed) {
			n.logger.Error().Err(err).Msg("Companion settings not persisted")
			return
		}
		n.logger.Warn().Err(err).Msg("Rejected settings from companion")
		return
	}
	n.logger.Info().Msg("Config received over companion link")
	n.publish()
	if n.server != nil {
		if err := n.server.Notify(n.store.Image()); err != nil {
			n.logger.Warn().Err(err).Msg("Settings notify failed")
		}
	}

	rec := n.store.Record()
	if n.store.ResetRequested() {
		n.logger.Info().Msg("Initiate reset")
		n.device.RequestRestart()
		return
	}
	if rec.AutoJoin && !n.link.Initialized() {
		if err := n.link.Init(); err != nil {
			n.logger.Error().Err(err).Msg("Init LoRa failed")
		}
	}
}

func (n *Node) publish() {
	image := n.store.Image()
	n.mu.Lock()
	n.snapshot = image
	n.mu.Unlock()
}

// ============================================================
// Accessors
// ============================================================

// Store returns the settings store. Main task only.
func (n *Node) Store() *settings.Store {
	return n.store
}

// Link returns the radio link controller
func (n *Node) Link() *lora.Controller {
	return n.link
}

// Scheduler returns the event scheduler
func (n *Node) Scheduler() *scheduler.Scheduler {
	return n.sched
}

// Registry returns the command registry
func (n *Node) Registry() *atcmd.Registry {
	return n.reg
}

// Device returns the board description
func (n *Node) Device() atcmd.Device {
	return n.device
}

// Printf writes an event line to every output
func (n *Node) Printf(format string, args ...interface{}) {
	n.reg.Printf(format, args...)
}

// Logger returns the node logger
func (n *Node) Logger() zerolog.Logger {
	return n.logger
}

// InitFailed reports whether the boot-time radio init failed and the link
// is still down
func (n *Node) InitFailed() bool {
	return n.initFailed.Load() && !n.link.Initialized()
}

// CompanionAddr returns the companion server address, or ""
func (n *Node) CompanionAddr() string {
	if n.server == nil {
		return ""
	}
	return n.server.Addr()
}
