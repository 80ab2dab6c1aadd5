// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

import (
	"fmt"
	"sync"
)

// Stub is an in-memory Radio and MAC. It records every call and lets the
// caller inject completions. With AutoComplete set, joins, CAD and sends
// complete on their own goroutine, which makes the stub usable as a dry-run
// backend.
type Stub struct {
	mu           sync.Mutex
	calls        []string
	cb           Callbacks
	macCfg       MACConfig
	p2pCfg       P2PConfig
	frequency    uint32
	initialized  bool
	joined       bool
	devAddr      uint32
	retries      uint8
	sent         [][]byte
	autoComplete bool

	// InitErr and JoinErr, when set, are returned by the next Init and Join
	InitErr error
	JoinErr error
}

// NewStub creates a stub radio
func NewStub() *Stub {
	return &Stub{}
}

// NewLoopbackStub creates a stub whose operations complete by themselves
func NewLoopbackStub() *Stub {
	return &Stub{autoComplete: true}
}

func (s *Stub) record(format string, args ...interface{}) {
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls
func (s *Stub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// ResetCalls clears the call log
func (s *Stub) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Sent returns every payload passed to Send (radio or MAC)
func (s *Stub) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// P2PConfig returns the last configuration set on the radio
func (s *Stub) P2PConfig() P2PConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.p2pCfg
}

// MACConfig returns the configuration the MAC was initialized with
func (s *Stub) MACConfig() MACConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.macCfg
}

func (s *Stub) callbacks() Callbacks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb
}

// ============================================================
// Radio
// ============================================================

// Init implements Radio
func (s *Stub) Init(cb Callbacks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("init")
	if s.InitErr != nil {
		err := s.InitErr
		s.InitErr = nil
		return err
	}
	s.cb = cb
	s.initialized = true
	return nil
}

// SetChannel implements Radio
func (s *Stub) SetChannel(freq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("channel %d", freq)
	s.frequency = freq
}

// SetConfig implements Radio
func (s *Stub) SetConfig(cfg P2PConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("config sf%d bw%d cr%d pl%d txp%d", cfg.SF, cfg.Bandwidth, cfg.CR, cfg.Preamble, cfg.TxPower)
	s.p2pCfg = cfg
}

// Send implements Radio
func (s *Stub) Send(data []byte) error {
	s.mu.Lock()
	s.record("send %X", data)
	s.sent = append(s.sent, append([]byte(nil), data...))
	auto := s.autoComplete
	s.mu.Unlock()

	if auto {
		go s.TxDone()
	}
	return nil
}

// Rx implements Radio
func (s *Stub) Rx(timeoutMs uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("rx %d", timeoutMs)
}

// Sleep implements Radio
func (s *Stub) Sleep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("sleep")
}

// StartCAD implements Radio
func (s *Stub) StartCAD() {
	s.mu.Lock()
	s.record("cad")
	auto := s.autoComplete
	s.mu.Unlock()

	if auto {
		go s.CADDone(false)
	}
}

// ============================================================
// MAC
// ============================================================

type stubMAC struct{ s *Stub }

// MAC returns the LoRaWAN view of the stub
func (s *Stub) MAC() MAC {
	return stubMAC{s}
}

func (m stubMAC) Init(cfg MACConfig, cb Callbacks) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("mac init region %d otaa %t", cfg.Region, cfg.OTAA)
	if s.InitErr != nil {
		err := s.InitErr
		s.InitErr = nil
		return err
	}
	s.macCfg = cfg
	s.cb = cb
	s.retries = cfg.JoinTrials
	s.initialized = true
	return nil
}

func (m stubMAC) Join() error {
	s := m.s
	s.mu.Lock()
	s.record("mac join")
	if s.JoinErr != nil {
		err := s.JoinErr
		s.JoinErr = nil
		s.mu.Unlock()
		return err
	}
	auto := s.autoComplete
	addr := s.macCfg.DevAddr
	if s.macCfg.OTAA {
		addr = 0x26000000 | uint32(s.macCfg.DevEUI[6])<<8 | uint32(s.macCfg.DevEUI[7])
	}
	s.mu.Unlock()

	if auto {
		go s.JoinDone(addr)
	}
	return nil
}

func (m stubMAC) JoinStatus() bool {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.joined
}

func (m stubMAC) Send(port uint8, data []byte, confirmed bool) error {
	s := m.s
	s.mu.Lock()
	s.record("mac send %d %X %t", port, data, confirmed)
	if !s.joined {
		s.mu.Unlock()
		return ErrNotJoined
	}
	s.sent = append(s.sent, append([]byte(nil), data...))
	auto := s.autoComplete
	s.mu.Unlock()

	if auto {
		go s.TxFinished(true)
	}
	return nil
}

func (m stubMAC) DevAddr() uint32 {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.devAddr
}

func (m stubMAC) SetDataRate(dr uint8, adr bool) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.record("mac dr %d adr %t", dr, adr)
	m.s.macCfg.DataRate = dr
	m.s.macCfg.ADR = adr
}

func (m stubMAC) SetTxPower(power uint8) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.record("mac txp %d", power)
	m.s.macCfg.TxPower = power
}

func (m stubMAC) SetConfirmRetries(n uint8) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.record("mac retries %d", n)
	m.s.retries = n
}

func (m stubMAC) ConfirmRetries() uint8 {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.retries
}

func (m stubMAC) RegionParams() RegionParams {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return DefaultRegionParams(m.s.macCfg.Region)
}

// ============================================================
// Completion injection
// ============================================================

// TxDone fires the transmit-done callback
func (s *Stub) TxDone() {
	if f := s.callbacks().TxDone; f != nil {
		f()
	}
}

// TxTimeout fires the transmit-timeout callback
func (s *Stub) TxTimeout() {
	if f := s.callbacks().TxTimeout; f != nil {
		f()
	}
}

// Receive fires the receive-done callback
func (s *Stub) Receive(p Packet) {
	if f := s.callbacks().RxDone; f != nil {
		f(p)
	}
}

// RxTimeout fires the receive-timeout callback
func (s *Stub) RxTimeout() {
	if f := s.callbacks().RxTimeout; f != nil {
		f()
	}
}

// RxError fires the receive-error callback
func (s *Stub) RxError() {
	if f := s.callbacks().RxError; f != nil {
		f()
	}
}

// CADDone fires the channel-activity callback
func (s *Stub) CADDone(busy bool) {
	if f := s.callbacks().CADDone; f != nil {
		f(busy)
	}
}

// JoinDone marks the MAC joined and fires the join callback
func (s *Stub) JoinDone(devAddr uint32) {
	s.mu.Lock()
	s.joined = true
	s.devAddr = devAddr
	f := s.cb.JoinDone
	s.mu.Unlock()
	if f != nil {
		f(devAddr)
	}
}

// JoinFailed fires the join-failed callback
func (s *Stub) JoinFailed() {
	if f := s.callbacks().JoinFailed; f != nil {
		f()
	}
}

// TxFinished fires the LoRaWAN transmit-finished callback
func (s *Stub) TxFinished(acked bool) {
	if f := s.callbacks().TxFinished; f != nil {
		f(acked)
	}
}
