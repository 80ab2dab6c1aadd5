// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MQTTConfig configures the simulated air interface
type MQTTConfig struct {
	Broker      string // tcp://host:1883
	TopicPrefix string
	Username    string
	Password    string

	// JoinTimeout bounds the wait for a join accept
	JoinTimeout time.Duration
	// AutoAccept completes joins locally instead of waiting for a network
	// simulator to answer on the joined topic
	AutoAccept bool
	// TxTimeout bounds the wait for a publish acknowledgement
	TxTimeout time.Duration
}

// frame is the envelope carried on every topic. Payloads stay opaque.
type frame struct {
	Source    string `cbor:"0,keyasint"`
	Port      uint8  `cbor:"1,keyasint,omitempty"`
	Payload   []byte `cbor:"2,keyasint,omitempty"`
	Confirmed bool   `cbor:"3,keyasint,omitempty"`
	RSSI      int16  `cbor:"4,keyasint,omitempty"`
	SNR       int8   `cbor:"5,keyasint,omitempty"`
	SF        uint8  `cbor:"6,keyasint,omitempty"`
	Bandwidth uint8  `cbor:"7,keyasint,omitempty"`
	DevAddr   uint32 `cbor:"8,keyasint,omitempty"`
}

// Signal values reported for frames that carry none
const (
	defaultRSSI int16 = -60
	defaultSNR  int8  = 9
)

var frameEncMode cbor.EncMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	frameEncMode = em
}

func encodeFrame(f *frame) ([]byte, error) {
	return frameEncMode.Marshal(f)
}

func decodeFrame(data []byte) (*frame, error) {
	var f frame
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}
	return &f, nil
}

// Topics
func uplinkTopic(prefix string, devEUI [8]byte) string {
	return fmt.Sprintf("%s/%s/up", prefix, strings.ToUpper(hex.EncodeToString(devEUI[:])))
}

func downlinkTopic(prefix string, devEUI [8]byte) string {
	return fmt.Sprintf("%s/%s/down", prefix, strings.ToUpper(hex.EncodeToString(devEUI[:])))
}

func joinTopic(prefix string, devEUI [8]byte) string {
	return fmt.Sprintf("%s/%s/join", prefix, strings.ToUpper(hex.EncodeToString(devEUI[:])))
}

func joinedTopic(prefix string, devEUI [8]byte) string {
	return fmt.Sprintf("%s/%s/joined", prefix, strings.ToUpper(hex.EncodeToString(devEUI[:])))
}

func p2pTopic(prefix string, freq uint32) string {
	return fmt.Sprintf("%s/p2p/%d", prefix, freq)
}

// MQTT is a Radio and MAC that moves frames over an MQTT broker. Nodes on the
// same broker and P2P frequency hear each other.
type MQTT struct {
	cfg    MQTTConfig
	id     string
	client mqtt.Client
	logger zerolog.Logger

	mu        sync.Mutex
	cb        Callbacks
	p2p       P2PConfig
	channel   string
	receiving bool
	rxGen     uint64
	rxTimer   *time.Timer

	macCfg    MACConfig
	macReady  bool
	joined    bool
	devAddr   uint32
	retries   uint8
	joinTimer *time.Timer
}

// MQTTOption configures an MQTT radio
type MQTTOption func(*MQTT)

// WithMQTTLogger sets the logger
func WithMQTTLogger(l zerolog.Logger) MQTTOption {
	return func(m *MQTT) {
		m.logger = l
	}
}

// NewMQTT creates an unconnected MQTT radio
func NewMQTT(cfg MQTTConfig, opts ...MQTTOption) *MQTT {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "loranode"
	}
	if cfg.JoinTimeout == 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	if cfg.TxTimeout == 0 {
		cfg.TxTimeout = 5 * time.Second
	}
	m := &MQTT{
		cfg:    cfg,
		id:     "loranode-" + uuid.NewString(),
		logger: log.With().Str("component", "mqtt-radio").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ClientID returns the MQTT client identifier, also used as frame source
func (m *MQTT) ClientID() string {
	return m.id
}

// Connect connects to the broker
func (m *MQTT) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(m.id).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.logger.Warn().Err(err).Msg("Broker connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", m.cfg.Broker, err)
	}

	m.client = client
	m.logger.Info().Str("broker", m.cfg.Broker).Str("client_id", m.id).Msg("Connected")
	return nil
}

// Close disconnects from the broker
func (m *MQTT) Close() {
	m.mu.Lock()
	m.stopRxLocked()
	if m.joinTimer != nil {
		m.joinTimer.Stop()
	}
	client := m.client
	m.mu.Unlock()

	if client != nil {
		client.Disconnect(250)
	}
}

func (m *MQTT) callbacks() Callbacks {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cb
}

func (m *MQTT) subscribe(topic string, handler mqtt.MessageHandler) error {
	if m.client == nil {
		return ErrNotInitialized
	}
	token := m.client.Subscribe(topic, 0, handler)
	token.Wait()
	return token.Error()
}

func (m *MQTT) publish(topic string, f *frame, done func(ok bool)) error {
	if m.client == nil {
		return ErrNotInitialized
	}
	data, err := encodeFrame(f)
	if err != nil {
		return err
	}
	token := m.client.Publish(topic, 0, false, data)
	go func() {
		ok := token.WaitTimeout(m.cfg.TxTimeout) && token.Error() == nil
		if !ok {
			m.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("Publish failed")
		}
		if done != nil {
			done(ok)
		}
	}()
	return nil
}

// ============================================================
// Radio
// ============================================================

// Init implements Radio
func (m *MQTT) Init(cb Callbacks) error {
	if m.client == nil {
		return ErrNotInitialized
	}
	m.mu.Lock()
	m.cb = cb
	m.mu.Unlock()
	return nil
}

// SetChannel implements Radio. It moves the P2P subscription.
func (m *MQTT) SetChannel(freq uint32) {
	topic := p2pTopic(m.cfg.TopicPrefix, freq)

	m.mu.Lock()
	old := m.channel
	m.channel = topic
	m.p2p.Frequency = freq
	m.mu.Unlock()

	if old == topic || m.client == nil {
		return
	}
	if old != "" {
		m.client.Unsubscribe(old).Wait()
	}
	if err := m.subscribe(topic, m.onP2PFrame); err != nil {
		m.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe")
	}
}

// SetConfig implements Radio
func (m *MQTT) SetConfig(cfg P2PConfig) {
	m.mu.Lock()
	freq := m.p2p.Frequency
	m.p2p = cfg
	m.p2p.Frequency = freq
	m.mu.Unlock()

	if cfg.Frequency != 0 && cfg.Frequency != freq {
		m.SetChannel(cfg.Frequency)
	}
}

// Send implements Radio
func (m *MQTT) Send(data []byte) error {
	if len(data) > MaxPayload {
		return ErrPayloadTooLarge
	}
	m.mu.Lock()
	topic := m.channel
	f := &frame{Source: m.id, Payload: data, SF: m.p2p.SF, Bandwidth: m.p2p.Bandwidth}
	m.mu.Unlock()
	if topic == "" {
		return ErrNotInitialized
	}

	return m.publish(topic, f, func(ok bool) {
		cb := m.callbacks()
		if ok && cb.TxDone != nil {
			cb.TxDone()
		} else if !ok && cb.TxTimeout != nil {
			cb.TxTimeout()
		}
	})
}

// Rx implements Radio
func (m *MQTT) Rx(timeoutMs uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRxLocked()
	m.receiving = true
	if timeoutMs == 0 {
		return
	}
	gen := m.rxGen
	m.rxTimer = time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
		m.mu.Lock()
		if gen != m.rxGen || !m.receiving {
			m.mu.Unlock()
			return
		}
		m.receiving = false
		f := m.cb.RxTimeout
		m.mu.Unlock()
		if f != nil {
			f()
		}
	})
}

// Sleep implements Radio
func (m *MQTT) Sleep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopRxLocked()
}

// StartCAD implements Radio. The simulated channel is never busy.
func (m *MQTT) StartCAD() {
	go func() {
		if f := m.callbacks().CADDone; f != nil {
			f(false)
		}
	}()
}

func (m *MQTT) stopRxLocked() {
	m.rxGen++
	m.receiving = false
	if m.rxTimer != nil {
		m.rxTimer.Stop()
		m.rxTimer = nil
	}
}

func (m *MQTT) onP2PFrame(_ mqtt.Client, msg mqtt.Message) {
	f, err := decodeFrame(msg.Payload())
	if err != nil {
		if cb := m.callbacks(); cb.RxError != nil {
			cb.RxError()
		}
		return
	}

	m.mu.Lock()
	if f.Source == m.id || !m.receiving {
		m.mu.Unlock()
		return
	}
	if f.SF != m.p2p.SF || f.Bandwidth != m.p2p.Bandwidth {
		m.mu.Unlock()
		m.logger.Debug().Uint8("sf", f.SF).Uint8("bw", f.Bandwidth).Msg("Frame on different modulation ignored")
		return
	}
	m.stopRxLocked()
	rx := m.cb.RxDone
	m.mu.Unlock()

	if rx != nil {
		rx(packetFromFrame(f))
	}
}

func packetFromFrame(f *frame) Packet {
	p := Packet{Port: f.Port, Payload: f.Payload, RSSI: f.RSSI, SNR: f.SNR}
	if p.RSSI == 0 {
		p.RSSI = defaultRSSI
	}
	if p.SNR == 0 {
		p.SNR = defaultSNR
	}
	return p
}

// ============================================================
// MAC
// ============================================================

type mqttMAC struct{ m *MQTT }

// MAC returns the LoRaWAN view of the MQTT radio
func (m *MQTT) MAC() MAC {
	return mqttMAC{m}
}

func (a mqttMAC) Init(cfg MACConfig, cb Callbacks) error {
	m := a.m
	if m.client == nil {
		return ErrNotInitialized
	}
	m.mu.Lock()
	m.macCfg = cfg
	m.cb = cb
	m.retries = cfg.JoinTrials
	m.macReady = true
	m.mu.Unlock()

	if err := m.subscribe(downlinkTopic(m.cfg.TopicPrefix, cfg.DevEUI), m.onDownlink); err != nil {
		return fmt.Errorf("failed to subscribe downlink: %w", err)
	}
	if err := m.subscribe(joinedTopic(m.cfg.TopicPrefix, cfg.DevEUI), m.onJoinAccept); err != nil {
		return fmt.Errorf("failed to subscribe join accept: %w", err)
	}
	m.logger.Info().Str("region", fmt.Sprint(cfg.Region)).Bool("otaa", cfg.OTAA).Msg("MAC initialized")
	return nil
}

func (a mqttMAC) Join() error {
	m := a.m
	m.mu.Lock()
	if !m.macReady {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	cfg := m.macCfg
	m.mu.Unlock()

	if !cfg.OTAA {
		go m.acceptJoin(cfg.DevAddr)
		return nil
	}

	req := &frame{Source: m.id, Payload: append(cfg.AppEUI[:], cfg.DevEUI[:]...)}
	if err := m.publish(joinTopic(m.cfg.TopicPrefix, cfg.DevEUI), req, nil); err != nil {
		return err
	}
	if m.cfg.AutoAccept {
		addr := 0x26000000 | uint32(cfg.DevEUI[5])<<16 | uint32(cfg.DevEUI[6])<<8 | uint32(cfg.DevEUI[7])
		go m.acceptJoin(addr)
		return nil
	}

	m.mu.Lock()
	if m.joinTimer != nil {
		m.joinTimer.Stop()
	}
	m.joinTimer = time.AfterFunc(m.cfg.JoinTimeout, func() {
		m.mu.Lock()
		joined := m.joined
		f := m.cb.JoinFailed
		m.mu.Unlock()
		if !joined && f != nil {
			m.logger.Warn().Msg("Join accept not received")
			f()
		}
	})
	m.mu.Unlock()
	return nil
}

func (m *MQTT) acceptJoin(addr uint32) {
	m.mu.Lock()
	if m.joinTimer != nil {
		m.joinTimer.Stop()
		m.joinTimer = nil
	}
	m.joined = true
	if m.macCfg.OTAA {
		m.devAddr = addr
	}
	f := m.cb.JoinDone
	m.mu.Unlock()

	if f != nil {
		f(addr)
	}
}

func (m *MQTT) onJoinAccept(_ mqtt.Client, msg mqtt.Message) {
	f, err := decodeFrame(msg.Payload())
	if err != nil {
		m.logger.Warn().Err(err).Msg("Malformed join accept")
		return
	}
	m.acceptJoin(f.DevAddr)
}

func (m *MQTT) onDownlink(_ mqtt.Client, msg mqtt.Message) {
	f, err := decodeFrame(msg.Payload())
	if err != nil {
		m.logger.Warn().Err(err).Msg("Malformed downlink")
		return
	}
	if rx := m.callbacks().RxDone; rx != nil {
		rx(packetFromFrame(f))
	}
}

func (a mqttMAC) JoinStatus() bool {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	return a.m.joined
}

func (a mqttMAC) Send(port uint8, data []byte, confirmed bool) error {
	m := a.m
	if len(data) > MaxPayload {
		return ErrPayloadTooLarge
	}
	m.mu.Lock()
	joined := m.joined
	devEUI := m.macCfg.DevEUI
	m.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}

	f := &frame{Source: m.id, Port: port, Payload: data, Confirmed: confirmed}
	return m.publish(uplinkTopic(m.cfg.TopicPrefix, devEUI), f, func(ok bool) {
		if cb := m.callbacks(); cb.TxFinished != nil {
			cb.TxFinished(ok)
		}
	})
}

func (a mqttMAC) DevAddr() uint32 {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	return a.m.devAddr
}

func (a mqttMAC) SetDataRate(dr uint8, adr bool) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.macCfg.DataRate = dr
	a.m.macCfg.ADR = adr
}

func (a mqttMAC) SetTxPower(power uint8) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.macCfg.TxPower = power
}

func (a mqttMAC) SetConfirmRetries(n uint8) {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	a.m.retries = n
}

func (a mqttMAC) ConfirmRetries() uint8 {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	return a.m.retries
}

func (a mqttMAC) RegionParams() RegionParams {
	a.m.mu.Lock()
	defer a.m.mu.Unlock()
	return DefaultRegionParams(a.m.macCfg.Region)
}
