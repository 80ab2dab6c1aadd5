// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package lora is the link controller. It decides when the radio or the
// LoRaWAN MAC is called and turns their completions into scheduler events.
//
// Methods other than the radio callbacks run on the node's main task, the
// same task that owns the settings record.
package lora

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Thermoquad/loranode/pkg/radio"
	"github.com/Thermoquad/loranode/pkg/scheduler"
	"github.com/Thermoquad/loranode/pkg/settings"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotInitialized is returned by operations that need an initialized link
	ErrNotInitialized = errors.New("link not initialized")

	// ErrWrongMode is returned when an operation does not apply to the current join mode
	ErrWrongMode = errors.New("operation not available in current mode")
)

// Controller owns the link state
type Controller struct {
	radio  radio.Radio
	mac    radio.MAC
	store  *settings.Store
	sched  *scheduler.Scheduler
	logger zerolog.Logger

	mu          sync.Mutex
	initialized bool
	joined      bool
	joinResult  bool
	confirm     bool
	last        radio.Packet
	rssi        int16
	snr         int8
	rxMode      radio.RxMode
	rxTime      uint32
	repeat      uint32
	pending     []byte
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the controller logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// New creates a controller. r drives P2P mode, mac drives LoRaWAN mode.
func New(r radio.Radio, mac radio.MAC, store *settings.Store, sched *scheduler.Scheduler, opts ...Option) *Controller {
	c := &Controller{
		radio:  r,
		mac:    mac,
		store:  store,
		sched:  sched,
		logger: log.With().Str("component", "lora").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Init initializes the link in the mode selected by the record
func (c *Controller) Init() error {
	if c.store.Record().LoRaWANEnable {
		return c.InitLoRaWAN()
	}
	return c.InitP2P()
}

// ============================================================
// P2P
// ============================================================

// InitP2P initializes the radio for point-to-point use, starts the periodic
// timer when a repeat interval is set and applies the receive mode
func (c *Controller) InitP2P() error {
	rec := c.store.Record()

	if !c.Initialized() {
		if err := c.radio.Init(c.p2pCallbacks()); err != nil {
			return fmt.Errorf("radio init failed: %w", err)
		}
	}
	c.radio.Sleep()
	c.configureRadio(rec)

	if rec.SendRepeatTime != 0 {
		p := c.sched.Periodic()
		p.Configure(rec.SendRepeatTime)
		p.Start()
	}

	mode, ms := radio.ModeFromWindow(rec.P2PRxWindow)
	c.mu.Lock()
	c.rxMode, c.rxTime = mode, ms
	c.repeat = rec.SendRepeatTime
	c.initialized = true
	c.joined = true
	c.mu.Unlock()

	radio.Arm(mode, ms).Apply(c.radio)

	c.logger.Info().
		Uint32("frequency", rec.P2PFrequency).
		Uint8("sf", rec.P2PSF).
		Str("bw", settings.BandwidthName(rec.P2PBandwidth)).
		Uint8("cr", rec.P2PCR).
		Str("rx_mode", mode.String()).
		Msg("P2P initialized")
	return nil
}

// Reconfigure applies changed P2P parameters to an initialized radio.
// It does nothing before Init or in LoRaWAN mode.
func (c *Controller) Reconfigure() {
	rec := c.store.Record()
	if rec.LoRaWANEnable || !c.Initialized() {
		return
	}
	c.radio.Sleep()
	c.configureRadio(rec)

	c.mu.Lock()
	action := radio.Arm(c.rxMode, c.rxTime)
	c.mu.Unlock()
	action.Apply(c.radio)
}

func (c *Controller) configureRadio(rec *settings.Record) {
	c.radio.SetChannel(rec.P2PFrequency)
	c.radio.SetConfig(radio.P2PConfig{
		Frequency:     rec.P2PFrequency,
		TxPower:       rec.P2PTxPower,
		Bandwidth:     rec.P2PBandwidth,
		SF:            rec.P2PSF,
		CR:            rec.P2PCR,
		Preamble:      rec.P2PPreambleLen,
		SymbolTimeout: rec.P2PSymbolTimeout,
	})
}

// SetRxWindow changes the P2P receive mode and arms the radio accordingly
func (c *Controller) SetRxWindow(w uint16) {
	mode, ms := radio.ModeFromWindow(w)
	c.mu.Lock()
	c.rxMode, c.rxTime = mode, ms
	init := c.initialized
	c.mu.Unlock()

	if init && !c.store.Record().LoRaWANEnable {
		radio.Arm(mode, ms).Apply(c.radio)
	}
}

// RxMode returns the active receive mode and timed window
func (c *Controller) RxMode() (radio.RxMode, uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rxMode, c.rxTime
}

// SendP2P queues a frame and starts channel activity detection. The frame
// goes out when the channel is free.
func (c *Controller) SendP2P(data []byte) error {
	if len(data) > radio.MaxPayload {
		return radio.ErrPayloadTooLarge
	}
	if c.store.Record().LoRaWANEnable {
		return ErrWrongMode
	}
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	c.pending = append(c.pending[:0], data...)
	c.mu.Unlock()

	c.radio.Sleep()
	c.radio.StartCAD()
	return nil
}

// Receive starts receiving for ms milliseconds, zero without timeout
func (c *Controller) Receive(ms uint32) {
	c.radio.Rx(ms)
}

// Sleep powers the radio down
func (c *Controller) Sleep() {
	c.radio.Sleep()
}

func (c *Controller) p2pCallbacks() radio.Callbacks {
	return radio.Callbacks{
		TxDone: func() {
			c.setConfirm(true)
			c.logger.Debug().Msg("P2P TX finished")
			c.sched.Post(scheduler.EventLoRaTxFin)
			c.rearm(radio.OutcomeTxDone)
		},
		TxTimeout: func() {
			c.setConfirm(false)
			c.logger.Warn().Msg("P2P TX timeout")
			c.sched.Post(scheduler.EventLoRaTxFin)
			c.rearm(radio.OutcomeTxTimeout)
		},
		RxDone: func(p radio.Packet) {
			c.storePacket(p)
			c.logger.Debug().Int("size", len(p.Payload)).Int16("rssi", p.RSSI).Int8("snr", p.SNR).Msg("P2P RX")
			c.sched.Post(scheduler.EventLoRaData)
			c.rearm(radio.OutcomeRxDone)
		},
		RxTimeout: func() {
			c.logger.Debug().Msg("P2P RX timeout")
			c.rearm(radio.OutcomeRxTimeout)
		},
		RxError: func() {
			c.logger.Debug().Msg("P2P RX error")
			c.rearm(radio.OutcomeRxError)
		},
		CADDone: func(busy bool) {
			if busy {
				c.logger.Debug().Msg("P2P CAD busy")
				c.setConfirm(false)
				c.sched.Post(scheduler.EventLoRaTxFin)
				c.rearm(radio.OutcomeCADBusy)
				return
			}
			c.mu.Lock()
			data := append([]byte(nil), c.pending...)
			c.mu.Unlock()
			if err := c.radio.Send(data); err != nil {
				c.logger.Error().Err(err).Msg("P2P send failed")
				c.setConfirm(false)
				c.sched.Post(scheduler.EventLoRaTxFin)
			}
		},
	}
}

func (c *Controller) rearm(o radio.Outcome) {
	c.mu.Lock()
	action := radio.NextAction(c.rxMode, c.rxTime, o)
	c.mu.Unlock()
	action.Apply(c.radio)
}

// ============================================================
// LoRaWAN
// ============================================================

// InitLoRaWAN initializes the MAC and starts the network join. Activation by
// personalization joins locally inside the MAC.
func (c *Controller) InitLoRaWAN() error {
	rec := c.store.Record()
	rec.SubbandChannels = clampSubband(rec.Region, rec.SubbandChannels)

	cfg := radio.MACConfig{
		DevEUI:     rec.DevEUI,
		AppEUI:     rec.AppEUI,
		AppKey:     rec.AppKey,
		NwkSKey:    rec.NwkSKey,
		AppSKey:    rec.AppSKey,
		DevAddr:    rec.DevAddr,
		OTAA:       rec.OTAAEnabled,
		ADR:        rec.ADREnabled,
		Public:     rec.PublicNetwork,
		DutyCycle:  rec.DutyCycle,
		DataRate:   rec.DataRate,
		TxPower:    rec.TxPower,
		JoinTrials: rec.JoinTrials,
		Class:      rec.Class,
		Region:     rec.Region,
		Subband:    rec.SubbandChannels,
	}

	c.logger.Info().Str("region", settings.RegionName(rec.Region)).Msg("Initialize LoRaWAN")
	if err := c.mac.Init(cfg, c.macCallbacks()); err != nil {
		return fmt.Errorf("LoRaWAN init failed: %w", err)
	}

	c.mu.Lock()
	c.repeat = rec.SendRepeatTime
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info().Bool("otaa", rec.OTAAEnabled).Msg("Start join")
	if err := c.mac.Join(); err != nil {
		return fmt.Errorf("join request failed: %w", err)
	}
	return nil
}

// Join restarts the network join on an initialized MAC
func (c *Controller) Join() error {
	if !c.Initialized() {
		return ErrNotInitialized
	}
	if err := c.mac.Join(); err != nil {
		return fmt.Errorf("join request failed: %w", err)
	}
	return nil
}

// SendLoRaWAN sends an uplink. Port zero uses the configured application port.
func (c *Controller) SendLoRaWAN(port uint8, data []byte) error {
	rec := c.store.Record()
	if !rec.LoRaWANEnable {
		return ErrWrongMode
	}
	if !c.mac.JoinStatus() {
		c.logger.Debug().Msg("Did not join network, skip sending frame")
		return radio.ErrNotJoined
	}
	if port == 0 {
		port = rec.AppPort
	}
	return c.mac.Send(port, data, rec.ConfirmedMsg)
}

func (c *Controller) macCallbacks() radio.Callbacks {
	return radio.Callbacks{
		JoinDone: func(addr uint32) {
			c.mu.Lock()
			c.joined = true
			c.joinResult = true
			repeat := c.repeat
			c.mu.Unlock()

			c.logger.Info().Str("dev_addr", fmt.Sprintf("%08X", addr)).Msg("Network joined")
			c.sched.Post(scheduler.EventLoRaJoinFin)

			if repeat != 0 {
				p := c.sched.Periodic()
				p.Configure(repeat)
				p.Start()
			}
		},
		JoinFailed: func() {
			c.mu.Lock()
			c.joinResult = false
			c.mu.Unlock()
			c.logger.Warn().Msg("Join failed, check credentials and gateway range")
			c.sched.Post(scheduler.EventLoRaJoinFin)
		},
		RxDone: func(p radio.Packet) {
			c.storePacket(p)
			c.logger.Info().Uint8("port", p.Port).Int("size", len(p.Payload)).
				Int16("rssi", p.RSSI).Int8("snr", p.SNR).Msg("LoRa packet received")
			c.sched.Post(scheduler.EventLoRaData)
		},
		TxFinished: func(acked bool) {
			c.setConfirm(acked)
			c.logger.Debug().Bool("acked", acked).Msg("TX finished")
			c.sched.Post(scheduler.EventLoRaTxFin)
		},
	}
}

// clampSubband resets a sub-band the region cannot use to 1
func clampSubband(region, subband uint8) uint8 {
	limit := uint8(2)
	switch region {
	case settings.RegionAS923, settings.RegionAS923_2, settings.RegionAS923_3,
		settings.RegionAS923_4, settings.RegionRU864:
		limit = 1
	case settings.RegionAU915, settings.RegionUS915:
		limit = 9
	case settings.RegionCN470:
		limit = 12
	}
	if subband > limit {
		return 1
	}
	return subband
}

// ============================================================
// Shared state
// ============================================================

func (c *Controller) storePacket(p radio.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = radio.Packet{Port: p.Port, Payload: append([]byte(nil), p.Payload...), RSSI: p.RSSI, SNR: p.SNR}
	c.rssi = p.RSSI
	c.snr = p.SNR
}

func (c *Controller) setConfirm(ok bool) {
	c.mu.Lock()
	c.confirm = ok
	c.mu.Unlock()
}

// Initialized reports whether the radio or MAC has been initialized
func (c *Controller) Initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Joined reports whether the link is usable: joined in LoRaWAN mode,
// initialized in P2P mode
func (c *Controller) Joined() bool {
	if c.store.Record().LoRaWANEnable {
		return c.mac.JoinStatus()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined
}

// JoinResult is the outcome of the last join attempt
func (c *Controller) JoinResult() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinResult
}

// ConfirmResult is the outcome of the last transmission
func (c *Controller) ConfirmResult() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirm
}

// LastRx returns a copy of the last received packet
func (c *Controller) LastRx() radio.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.last
	p.Payload = append([]byte(nil), c.last.Payload...)
	return p
}

// RSSI returns the signal strength of the last received packet
func (c *Controller) RSSI() int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rssi
}

// SNR returns the signal-to-noise ratio of the last received packet
func (c *Controller) SNR() int8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snr
}

// DevAddr returns the network-assigned address, zero unless joined by OTAA
func (c *Controller) DevAddr() uint32 {
	return c.mac.DevAddr()
}

// SetDataRate forwards the data rate and ADR flag to the MAC
func (c *Controller) SetDataRate(dr uint8, adr bool) {
	c.mac.SetDataRate(dr, adr)
}

// SetTxPower forwards the transmit power to the MAC
func (c *Controller) SetTxPower(power uint8) {
	c.mac.SetTxPower(power)
}

// SetConfirmRetries forwards the retry count to the MAC
func (c *Controller) SetConfirmRetries(n uint8) {
	c.mac.SetConfirmRetries(n)
}

// ConfirmRetries returns the MAC retry count
func (c *Controller) ConfirmRetries() uint8 {
	return c.mac.ConfirmRetries()
}

// RegionParams returns the regional timing reported by the MAC
func (c *Controller) RegionParams() radio.RegionParams {
	return c.mac.RegionParams()
}
