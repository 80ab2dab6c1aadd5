// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package node

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/loranode/pkg/config"
	"github.com/Thermoquad/loranode/pkg/radio"
	"github.com/Thermoquad/loranode/pkg/scheduler"
	"github.com/Thermoquad/loranode/pkg/settings"
	"github.com/Thermoquad/loranode/pkg/transport"
	"github.com/rs/zerolog"
)

type fixture struct {
	n       *Node
	stub    *radio.Stub
	storage *settings.MemoryStorage
	out     *bytes.Buffer
}

func newFixture(t *testing.T, stub *radio.Stub, rec *settings.Record, mutate func(*Params)) *fixture {
	t.Helper()
	storage := settings.NewMemoryStorage()
	if rec != nil {
		data, err := rec.MarshalBinary()
		if err != nil {
			t.Fatal(err)
		}
		storage.Preload(data)
	}
	out := &bytes.Buffer{}
	p := Params{
		Storage: storage,
		Radio:   stub,
		MAC:     stub.MAC(),
		Console: out,
		Device:  config.Default().Device,
	}
	if mutate != nil {
		mutate(&p)
	}
	n := New(p, WithLogger(zerolog.Nop()), WithInitRetry(10*time.Millisecond))
	t.Cleanup(n.Close)
	return &fixture{n: n, stub: stub, storage: storage, out: out}
}

func (f *fixture) boot(t *testing.T) {
	t.Helper()
	if err := f.n.Boot(context.Background()); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}
}

func (f *fixture) runOnce(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := f.n.RunOnce(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("no event within 2s")
	}
	return err
}

func p2pAutoJoin() *settings.Record {
	r := settings.Defaults()
	r.LoRaWANEnable = false
	r.AutoJoin = true
	return &r
}

// ============================================================
// Boot Tests
// ============================================================

func TestBootDefaults(t *testing.T) {
	f := newFixture(t, radio.NewStub(), nil, nil)
	f.boot(t)

	if f.storage.Writes() != 1 {
		t.Errorf("storage writes = %d, want 1", f.storage.Writes())
	}
	if calls := f.stub.Calls(); len(calls) != 1 || calls[0] != "sleep" {
		t.Errorf("radio calls = %v, want [sleep]", calls)
	}
	if f.n.Link().Initialized() {
		t.Error("link initialized without auto join")
	}
	if !bytes.Equal(f.n.SettingsImage(), f.n.Store().Image()) {
		t.Error("SettingsImage() does not match the loaded record")
	}
}

func TestBootAutoJoinP2P(t *testing.T) {
	f := newFixture(t, radio.NewStub(), p2pAutoJoin(), nil)
	f.boot(t)

	if !f.n.Link().Initialized() || !f.n.Link().Joined() {
		t.Error("P2P link not up after auto join")
	}
	if f.n.InitFailed() {
		t.Error("InitFailed() = true")
	}
}

func TestBootAutoJoinLoRaWAN(t *testing.T) {
	r := settings.Defaults()
	r.AutoJoin = true
	f := newFixture(t, radio.NewLoopbackStub(), &r, nil)
	f.boot(t)

	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !strings.Contains(f.out.String(), "+EVT:JOINED\r\n") {
		t.Errorf("output = %q, want join event", f.out.String())
	}
	if !f.n.Link().Joined() {
		t.Error("Joined() = false")
	}
}

func TestBootRadioFailureKeepsCommands(t *testing.T) {
	stub := radio.NewStub()
	stub.InitErr = errors.New("no radio")
	f := newFixture(t, stub, p2pAutoJoin(), nil)
	f.boot(t)

	if !f.n.InitFailed() {
		t.Fatal("InitFailed() = false")
	}

	f.n.Input([]byte("AT\r\n"))
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if f.out.String() != "OK\r\n" {
		t.Errorf("output = %q, want OK", f.out.String())
	}
}

func TestBootStorageFailureRestarts(t *testing.T) {
	f := newFixture(t, radio.NewStub(), nil, nil)
	f.storage.FailReads(errors.New("flash gone"))

	err := f.n.Boot(context.Background())
	if !errors.Is(err, ErrRestart) {
		t.Errorf("Boot() error = %v, want ErrRestart", err)
	}
}

// ============================================================
// Handler Tests
// ============================================================

func TestConsoleCommand(t *testing.T) {
	f := newFixture(t, radio.NewStub(), nil, nil)
	f.boot(t)

	f.n.Input([]byte("AT+NWM=?\r\n"))
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if want := "AT+NWM=1\r\nOK\r\n"; f.out.String() != want {
		t.Errorf("output = %q, want %q", f.out.String(), want)
	}
}

func TestRestartDeferred(t *testing.T) {
	f := newFixture(t, radio.NewStub(), nil, nil)
	f.boot(t)

	f.n.Input([]byte("ATZ\r\n"))
	if err := f.runOnce(t); !errors.Is(err, ErrRestart) {
		t.Fatalf("RunOnce() error = %v, want ErrRestart", err)
	}
	if f.out.String() != "OK\r\n" {
		t.Errorf("reply = %q, want OK before the restart", f.out.String())
	}
}

func TestStatusUplink(t *testing.T) {
	f := newFixture(t, radio.NewStub(), p2pAutoJoin(), nil)
	f.boot(t)

	f.n.Scheduler().Post(scheduler.EventStatus)
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	f.stub.CADDone(false)

	sent := f.stub.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(sent))
	}
	if want := []byte{0x01, 0x02, 0x01, 0x72}; !bytes.Equal(sent[0], want) {
		t.Errorf("payload = %X, want %X", sent[0], want)
	}
}

func TestStatusSkippedWhenNotJoined(t *testing.T) {
	f := newFixture(t, radio.NewStub(), nil, nil)
	f.boot(t)

	f.n.Scheduler().Post(scheduler.EventStatus)
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(f.stub.Sent()) != 0 {
		t.Error("status sent before join")
	}
}

func TestLoRaDataEvent(t *testing.T) {
	f := newFixture(t, radio.NewStub(), p2pAutoJoin(), nil)
	f.boot(t)

	f.stub.Receive(radio.Packet{Payload: []byte{0xCA, 0xFE}, RSSI: -40, SNR: 5})
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if want := "+EVT:RXP2P:-40:5:CAFE\r\n"; f.out.String() != want {
		t.Errorf("output = %q, want %q", f.out.String(), want)
	}
}

func TestSettingsWrite(t *testing.T) {
	tests := []struct {
		name        string
		reset       bool
		wantRestart bool
	}{
		{"applied", false, false},
		{"reset requested", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, radio.NewStub(), nil, nil)
			f.boot(t)

			r := settings.Defaults()
			r.AppPort = 9
			r.ResetRequest = tt.reset
			img, err := r.MarshalBinary()
			if err != nil {
				t.Fatal(err)
			}

			f.n.CompanionSettings(img)
			err = f.runOnce(t)
			if gotRestart := errors.Is(err, ErrRestart); gotRestart != tt.wantRestart {
				t.Fatalf("RunOnce() error = %v, wantRestart %v", err, tt.wantRestart)
			}
			if f.n.Store().Record().AppPort != 9 {
				t.Errorf("AppPort = %d, want 9", f.n.Store().Record().AppPort)
			}
			if !bytes.Equal(f.n.SettingsImage(), img) {
				t.Error("SettingsImage() not updated")
			}
		})
	}
}

func TestSettingsWriteRejected(t *testing.T) {
	f := newFixture(t, radio.NewStub(), nil, nil)
	f.boot(t)
	before := f.n.Store().Image()

	f.n.CompanionSettings([]byte{0xAA, 0x56, 0x00})
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !bytes.Equal(f.n.Store().Image(), before) {
		t.Error("record changed by a short image")
	}
}

func TestSettingsWriteSaveFails(t *testing.T) {
	f := newFixture(t, radio.NewStub(), nil, nil)
	f.boot(t)
	before := f.n.Store().Image()
	f.storage.FailWrites(errors.New("flash busy"))

	r := settings.Defaults()
	r.AppPort = 9
	r.ResetRequest = true
	img, err := r.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	f.n.CompanionSettings(img)
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v, want nil", err)
	}
	if got := f.n.Store().Record().AppPort; got != 2 {
		t.Errorf("AppPort = %d, want 2", got)
	}
	if !bytes.Equal(f.n.Store().Image(), before) {
		t.Error("record changed although the save failed")
	}

	f.storage.FailWrites(nil)
	reloaded := settings.NewStore(f.storage)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := reloaded.Record().AppPort; got != 2 {
		t.Errorf("stored AppPort = %d, want 2", got)
	}
}

func TestCompanionData(t *testing.T) {
	f := newFixture(t, radio.NewStub(), nil, nil)
	f.boot(t)

	f.n.CompanionData([]byte("AT\r\n"))
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if f.out.String() != "OK\r\n" {
		t.Errorf("output = %q, want OK", f.out.String())
	}
}

func TestCompanionChunkIsLine(t *testing.T) {
	f := newFixture(t, radio.NewStub(), nil, nil)
	f.boot(t)

	f.n.CompanionData([]byte("AT+NWM=?"))
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if want := "AT+NWM=1\r\nOK\r\n"; f.out.String() != want {
		t.Errorf("output = %q, want %q", f.out.String(), want)
	}
}

func TestConsoleEcho(t *testing.T) {
	f := newFixture(t, radio.NewStub(), nil, func(p *Params) { p.Echo = true })
	f.boot(t)

	f.n.Input([]byte("at\r"))
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if want := "at\rOK\r\n"; f.out.String() != want {
		t.Errorf("output = %q, want %q", f.out.String(), want)
	}
}

// ============================================================
// Integration Tests
// ============================================================

func TestCompanionServer(t *testing.T) {
	f := newFixture(t, radio.NewStub(), nil, func(p *Params) {
		p.Companion = config.Companion{Listen: "127.0.0.1:0", Path: "/ble"}
	})
	f.boot(t)

	conn, err := transport.DialWebSocket("ws://"+f.n.CompanionAddr()+"/ble", "", "", false)
	if err != nil {
		t.Fatalf("DialWebSocket() error = %v", err)
	}
	defer conn.Close()

	img, err := conn.ReadSettings()
	if err != nil {
		t.Fatalf("ReadSettings() error = %v", err)
	}
	if !bytes.Equal(img, f.n.SettingsImage()) {
		t.Error("pushed image does not match the record")
	}

	if _, err := conn.Write([]byte("AT+NWM=?\r\n")); err != nil {
		t.Fatal(err)
	}
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got := string(buf[:n]); got != "AT+NWM=1\r\n" {
		t.Errorf("companion reply = %q", got)
	}
	if !strings.Contains(f.out.String(), "AT+NWM=1\r\nOK\r\n") {
		t.Errorf("console did not mirror the reply: %q", f.out.String())
	}
}

func TestExtensionScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ext.lua")
	src := `at.register{name="+HELLO", perm="R", query=function() return 0, "hi" end}`
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	f := newFixture(t, radio.NewStub(), nil, func(p *Params) { p.Script = path })
	f.boot(t)

	f.n.Input([]byte("AT+HELLO=?\r\n"))
	if err := f.runOnce(t); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if want := "AT+HELLO=hi\r\nOK\r\n"; f.out.String() != want {
		t.Errorf("output = %q, want %q", f.out.String(), want)
	}
}

// ============================================================
// Payload Tests
// ============================================================

func TestLPPAnalog(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		want []byte
	}{
		{"battery", 3.7, []byte{0x01, 0x02, 0x01, 0x72}},
		{"zero", 0, []byte{0x01, 0x02, 0x00, 0x00}},
		{"negative", -1.5, []byte{0x01, 0x02, 0xFF, 0x6A}},
		{"clamped", 1000, []byte{0x01, 0x02, 0x7F, 0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lppAnalog(1, tt.v); !bytes.Equal(got, tt.want) {
				t.Errorf("lppAnalog(%v) = %X, want %X", tt.v, got, tt.want)
			}
		})
	}
}
