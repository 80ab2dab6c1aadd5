// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atcmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/Thermoquad/loranode/pkg/radio"
	"github.com/Thermoquad/loranode/pkg/settings"
	"github.com/rs/zerolog"
)

// ============================================================
// Fakes
// ============================================================

type fakeLink struct {
	calls       []string
	initialized bool
	joined      bool
	devAddr     uint32
	rssi        int16
	snr         int8
	last        radio.Packet
	confirm     bool
	retries     uint8
	sendErr     error
	initErr     error
}

func (l *fakeLink) call(format string, args ...interface{}) {
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *fakeLink) Initialized() bool { return l.initialized }
func (l *fakeLink) Joined() bool      { return l.joined }
func (l *fakeLink) Init() error {
	l.call("init")
	if l.initErr != nil {
		return l.initErr
	}
	l.initialized = true
	return nil
}
func (l *fakeLink) Join() error            { l.call("join"); return nil }
func (l *fakeLink) Reconfigure()           { l.call("reconfigure") }
func (l *fakeLink) Sleep()                 { l.call("sleep") }
func (l *fakeLink) Receive(ms uint32)      { l.call("rx %d", ms) }
func (l *fakeLink) SetRxWindow(w uint16)   { l.call("window %d", w) }
func (l *fakeLink) DevAddr() uint32        { return l.devAddr }
func (l *fakeLink) SetDataRate(dr uint8, adr bool) {
	l.call("dr %d %t", dr, adr)
}
func (l *fakeLink) SetTxPower(p uint8)        { l.call("txp %d", p) }
func (l *fakeLink) SetConfirmRetries(n uint8) { l.call("retries %d", n); l.retries = n }
func (l *fakeLink) ConfirmRetries() uint8     { return l.retries }
func (l *fakeLink) RSSI() int16               { return l.rssi }
func (l *fakeLink) SNR() int8                 { return l.snr }
func (l *fakeLink) LastRx() radio.Packet      { return l.last }
func (l *fakeLink) ConfirmResult() bool       { return l.confirm }
func (l *fakeLink) RegionParams() radio.RegionParams {
	return radio.DefaultRegionParams(0)
}
func (l *fakeLink) SendLoRaWAN(port uint8, data []byte) error {
	l.call("send %d %X", port, data)
	return l.sendErr
}
func (l *fakeLink) SendP2P(data []byte) error {
	l.call("psend %X", data)
	return l.sendErr
}

type fakeDevice struct {
	restarts int
}

func (d *fakeDevice) BatteryVoltage() float64 { return 3.7 }
func (d *fakeDevice) HardwareModel() string   { return "linux-sim" }
func (d *fakeDevice) HardwareID() string      { return "amd64" }
func (d *fakeDevice) SerialNumber() string    { return "SN0001" }
func (d *fakeDevice) RequestRestart()         { d.restarts++ }

type fakeTimer struct {
	restarts []uint32
	stops    int
}

func (t *fakeTimer) Restart(ms uint32) { t.restarts = append(t.restarts, ms) }
func (t *fakeTimer) Stop()             { t.stops++ }

type harness struct {
	reg     *Registry
	out     *bytes.Buffer
	store   *settings.Store
	storage *settings.MemoryStorage
	link    *fakeLink
	device  *fakeDevice
	timer   *fakeTimer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	storage := settings.NewMemoryStorage()
	store := settings.NewStore(storage, settings.WithLogger(zerolog.Nop()))
	if err := store.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	h := &harness{
		out:     &bytes.Buffer{},
		store:   store,
		storage: storage,
		link:    &fakeLink{},
		device:  &fakeDevice{},
		timer:   &fakeTimer{},
	}
	h.reg = NewRegistry(h.out, WithLogger(zerolog.Nop()))
	h.reg.InstallBuiltins(Env{
		Store:  store,
		Link:   h.link,
		Device: h.device,
		Timer:  h.timer,
		Build:  BuildInfo{Version: "1.2.3", BuildTime: "2025-01-01 00:00"},
	})
	return h
}

// exec runs one line and returns the reply
func (h *harness) exec(line string) string {
	h.out.Reset()
	h.reg.Execute(line)
	return h.out.String()
}

func (h *harness) p2p() {
	h.store.Record().LoRaWANEnable = false
}

func reply(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

// ============================================================
// Line assembly
// ============================================================

func TestFeedByte(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bare AT", "AT\r", reply("OK")},
		{"lowercase", "at+dr=?\r", reply("AT+DR=3", "OK")},
		{"newline terminator", "AT+DR=?\n", reply("AT+DR=3", "OK")},
		{"backspace edits", "AT+DRX\x08=?\r", reply("AT+DR=3", "OK")},
		{"delete edits", "AT+DRX\x7f=?\r", reply("AT+DR=3", "OK")},
		{"backspace on empty", "\x08\x08AT\r", reply("OK")},
		{"filtered bytes", "AT+D#R\t=?\r", reply("AT+DR=3", "OK")},
		{"empty lines ignored", "\r\n\r\n", ""},
		{"not an AT line", "HELLO\r", ""},
		{"too short", "A\r", ""},
		{"CRLF dispatches once", "AT\r\n", reply("OK")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.reg.Feed([]byte(tt.input))
			if got := h.out.String(); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
			if h.reg.Pending() != 0 {
				t.Errorf("Pending() = %d after terminator", h.reg.Pending())
			}
		})
	}
}

func TestFeedByteOverflow(t *testing.T) {
	h := newHarness(t)
	h.reg.Feed(bytes.Repeat([]byte{'A'}, LineSize-1))
	if h.reg.Pending() != LineSize-1 {
		t.Fatalf("Pending() = %d, want %d", h.reg.Pending(), LineSize-1)
	}

	h.reg.FeedByte('A')
	if h.reg.Pending() != 0 {
		t.Errorf("Pending() = %d after overflow, want 0", h.reg.Pending())
	}
	h.reg.FeedByte('\r')
	if h.out.Len() != 0 {
		t.Errorf("overflowed line dispatched: %q", h.out.String())
	}

	h.reg.Feed([]byte("AT\r"))
	if got := h.out.String(); got != reply("OK") {
		t.Errorf("reply after overflow = %q, want OK", got)
	}
}

func TestFeedByteEcho(t *testing.T) {
	out := &bytes.Buffer{}
	echo := &bytes.Buffer{}
	reg := NewRegistry(out, WithLogger(zerolog.Nop()), WithEcho(echo))

	reg.Feed([]byte("atx\x08\r"))
	if want := "atx\x08 \b\r"; echo.String() != want {
		t.Errorf("echo = %q, want %q", echo.String(), want)
	}
	if got := out.String(); got != reply("OK") {
		t.Errorf("reply = %q, want OK", got)
	}

	h := newHarness(t)
	h.reg.Feed([]byte("AT\r"))
	if got := h.out.String(); got != reply("OK") {
		t.Errorf("reply without echo = %q", got)
	}
}

// ============================================================
// Resolution and replies
// ============================================================

func TestReplyShapes(t *testing.T) {
	tests := []struct {
		name string
		line string
		want string
	}{
		{"describe", "AT+DR?", reply(`AT+DR:"Get or set the TX data rate=[0..15]"`, "OK")},
		{"query", "AT+TXP=?", reply("AT+TXP=0", "OK")},
		{"exec", "AT+TXP=4", reply("OK")},
		{"unknown", "AT+FOO", reply("+CME ERROR:1")},
		{"unknown shape", "AT+DR!", reply("+CME ERROR:1")},
		{"empty value", "AT+DR=", reply("+CME ERROR:1")},
		{"query write-only", "AT+SEND=?", reply("+CME ERROR:2")},
		{"run read-only", "AT+BAT", reply("+CME ERROR:2")},
		{"exec read-only", "AT+BAT=1", reply("+CME ERROR:2")},
		{"run without slot", "AT+DR", reply("+CME ERROR:1")},
		{"bad value", "AT+DR=16", reply("+CME ERROR:5")},
		{"garbage value", "AT+DR=1X", reply("+CME ERROR:5")},
		{"custom prefix", "ATC+SENDINT=?", reply("AT+SENDINT=0", "OK")},
		{"prefix continues search", "AT+SENDINT=?", reply("AT+SENDINT=0", "OK")},
		{"battery", "AT+BAT=?", reply("AT+BAT=3.70", "OK")},
		{"version", "AT+VER=?", reply("AT+VER=loranode 1.2.3", "OK")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if got := h.exec(tt.line); got != tt.want {
				t.Errorf("Execute(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
}

func TestDescribeEmptyHelpEchoesName(t *testing.T) {
	h := newHarness(t)
	h.reg.RegisterCommands([]Descriptor{{Name: "+QUIET", Run: func() Status { return OK }}})
	if got := h.exec("ATC+QUIET?"); got != reply("+QUIET", "OK") {
		t.Errorf("describe = %q", got)
	}
}

func TestDevAddrRoundTrip(t *testing.T) {
	h := newHarness(t)
	if got := h.exec("AT+DEVADDR=01020304"); got != reply("OK") {
		t.Fatalf("set = %q, want OK", got)
	}
	if h.store.Record().DevAddr != 0x01020304 {
		t.Errorf("DevAddr = %08X, want 01020304", h.store.Record().DevAddr)
	}
	if got := h.exec("AT+DEVADDR=?"); got != reply("AT+DEVADDR=01020304", "OK") {
		t.Errorf("query = %q", got)
	}

	h.link.devAddr = 0x26AABBCC
	if got := h.exec("AT+DEVADDR=?"); got != reply("AT+DEVADDR=26AABBCC", "OK") {
		t.Errorf("query after OTAA join = %q", got)
	}
}

func TestKeyRejectsBadHex(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"odd length", "AT+DEVEUI=ABC"},
		{"too short", "AT+DEVEUI=0011"},
		{"too long", "AT+DEVEUI=001122334455667788"},
		{"not hex", "AT+APPKEY=ZZ112233445566778899AABBCCDDEEFF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			before := *h.store.Record()
			writes := h.storage.Writes()

			if got := h.exec(tt.line); got != reply("+CME ERROR:5") {
				t.Errorf("Execute(%q) = %q, want error 5", tt.line, got)
			}
			if *h.store.Record() != before {
				t.Error("record changed after rejected value")
			}
			if h.storage.Writes() != writes {
				t.Error("storage written after rejected value")
			}
		})
	}
}

func TestKeySet(t *testing.T) {
	h := newHarness(t)
	if got := h.exec("AT+APPKEY=00112233445566778899AABBCCDDEEFF"); got != reply("OK") {
		t.Fatalf("set = %q", got)
	}
	if got := h.exec("AT+APPKEY=?"); got != reply("AT+APPKEY=00112233445566778899AABBCCDDEEFF", "OK") {
		t.Errorf("query = %q", got)
	}
}

func TestModeGate(t *testing.T) {
	h := newHarness(t)
	writes := h.storage.Writes()

	if got := h.exec("AT+PSF=9"); got != reply("+CME ERROR:2") {
		t.Errorf("P2P write in LoRaWAN mode = %q, want error 2", got)
	}
	if len(h.link.calls) != 0 {
		t.Errorf("link called: %v", h.link.calls)
	}
	if h.storage.Writes() != writes {
		t.Error("storage written")
	}
	if got := h.exec("AT+PSF=?"); got != reply("AT+PSF=7", "OK") {
		t.Errorf("P2P query in LoRaWAN mode = %q", got)
	}

	h.p2p()
	if got := h.exec("AT+DR=2"); got != reply("+CME ERROR:2") {
		t.Errorf("LoRaWAN write in P2P mode = %q, want error 2", got)
	}
	if got := h.exec("AT+PSF=9"); got != reply("OK") {
		t.Errorf("P2P write in P2P mode = %q", got)
	}
}

func TestModeGateQueries(t *testing.T) {
	h := newHarness(t)
	called := 0
	h.reg.RegisterCommands([]Descriptor{{
		Name: "+GATED",
		Query: func() (string, Status) {
			called++
			return "1", OK
		},
		Run:       func() Status { return OK },
		Perm:      PermReadWrite,
		QueryMode: ModeLoRaWAN,
	}})

	if got := h.exec("AT+GATED=?"); got != reply("AT+GATED=1", "OK") {
		t.Errorf("query in LoRaWAN mode = %q", got)
	}

	h.p2p()
	tests := []struct {
		line string
		want string
	}{
		{"AT+GATED=?", reply("+CME ERROR:2")},
		{"AT+NJS=?", reply("+CME ERROR:2")},
		{"AT+JOIN=?", reply("+CME ERROR:2")},
		{"AT+GATED", reply("OK")},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := h.exec(tt.line); got != tt.want {
				t.Errorf("Execute(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}
	if called != 1 {
		t.Errorf("query callback ran %d times, want 1", called)
	}
}

func TestSaveFailure(t *testing.T) {
	h := newHarness(t)
	h.storage.FailWrites(errors.New("flash busy"))
	if got := h.exec("AT+DR=5"); got != reply("+CME ERROR:7") {
		t.Errorf("Execute() with failing storage = %q, want error 7", got)
	}
}

// ============================================================
// Listing and plugin tables
// ============================================================

func TestListing(t *testing.T) {
	h := newHarness(t)
	h.reg.RegisterCommands([]Descriptor{
		{Name: "+HELLO", Help: "Say hello", Run: func() Status { return OK }},
	})

	lines := strings.Split(strings.TrimSuffix(h.exec("AT?"), "\r\n"), "\r\n")
	want := []string{
		"AT+<CMD>?: help on <CMD>",
		"AT+<CMD>: run <CMD>",
		"AT+<CMD>=<value>: set the value",
		"AT+<CMD>=?: get the value",
		"ATR,W: Restore default settings",
		"ATZ,W: Restart the node",
		"AT+APPEUI,RW: Get or set the application EUI",
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}

	n := len(lines)
	if lines[n-1] != "OK" {
		t.Errorf("last line = %q, want OK", lines[n-1])
	}
	if lines[n-2] != "ATC+HELLO,RW: Say hello" {
		t.Errorf("user entry = %q", lines[n-2])
	}
	if !strings.HasPrefix(lines[n-3], "ATC+SENDINT,RW: ") {
		t.Errorf("last built-in = %q", lines[n-3])
	}
	if !strings.HasPrefix(lines[n-4], "ATC+STATUS,R: ") {
		t.Errorf("status entry = %q", lines[n-4])
	}
	if got := n - 4 - 1 - 1; got != len(h.reg.Builtins()) {
		t.Errorf("listed %d built-ins, table has %d", got, len(h.reg.Builtins()))
	}
}

func TestUserCommands(t *testing.T) {
	h := newHarness(t)
	ran := 0
	var arg string
	h.reg.RegisterCommands([]Descriptor{
		{Name: "+HELLO", Run: func() Status { ran++; return OK }},
		{Name: "+ECHO", Exec: func(a string) Status { arg = a; return OK }, Perm: PermWrite},
		{Name: "+FAIL", Run: func() Status { return StatusFailed }},
		{Name: "+CODE", Run: func() Status { return Status(10) }},
		{Name: "+DR", Query: func() (string, Status) { return "user", OK }},
	})

	tests := []struct {
		name string
		line string
		want string
	}{
		{"custom prefix", "ATC+HELLO", reply("OK")},
		{"plain prefix", "AT+HELLO", reply("OK")},
		{"exec", "ATC+ECHO=A B", reply("OK")},
		{"query write-only user", "ATC+ECHO=?", reply("+CME ERROR:2")},
		{"generic failure", "ATC+FAIL", reply("+CME ERROR:8")},
		{"hex code", "ATC+CODE", reply("+CME ERROR:a")},
		{"built-in wins", "AT+DR=?", reply("AT+DR=3", "OK")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := h.exec(tt.line); got != tt.want {
				t.Errorf("Execute(%q) = %q, want %q", tt.line, got, tt.want)
			}
		})
	}

	if ran != 2 {
		t.Errorf("user run called %d times, want 2", ran)
	}
	if arg != "A B" {
		t.Errorf("exec arg = %q, want %q", arg, "A B")
	}
}

func TestFallback(t *testing.T) {
	h := newHarness(t)
	var seen []string
	h.reg.RegisterCommands([]Descriptor{{Name: "+USER", Run: func() Status { return OK }}})
	h.reg.RegisterFallback(func(line string) bool {
		seen = append(seen, line)
		if line == "AT+PING" {
			h.reg.Printf("PONG")
			return true
		}
		return false
	})

	if got := h.exec("AT+PING"); got != reply("PONG") {
		t.Errorf("handled = %q", got)
	}
	if got := h.exec("AT+NOPE"); got != reply("+CME ERROR:1") {
		t.Errorf("unhandled = %q", got)
	}
	if got := h.exec("AT+USER"); got != reply("OK") {
		t.Errorf("user = %q", got)
	}
	if len(seen) != 2 {
		t.Errorf("fallback saw %v, want two lines", seen)
	}
}

// ============================================================
// Hex decoding
// ============================================================

func TestDecodeHex(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		input   string
		want    []byte
		wantErr error
	}{
		{"exact", 2, "A1B2", []byte{0xA1, 0xB2}, nil},
		{"short", 4, "01", []byte{0x01, 0xEE, 0xEE, 0xEE}, nil},
		{"empty", 2, "", []byte{0xEE, 0xEE}, nil},
		{"lowercase", 1, "ff", []byte{0xFF}, nil},
		{"odd", 2, "ABC", []byte{0xEE, 0xEE}, ErrHexLength},
		{"overflow", 1, "0102", []byte{0xEE}, ErrHexOverflow},
		{"bad digit", 2, "0G01", []byte{0xEE, 0xEE}, ErrHexDigit},
		{"bad second digit", 2, "01G0", []byte{0xEE, 0xEE}, ErrHexDigit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := bytes.Repeat([]byte{0xEE}, tt.size)
			n, err := DecodeHex(dst, tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("DecodeHex() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && n != len(tt.input)/2 {
				t.Errorf("DecodeHex() n = %d, want %d", n, len(tt.input)/2)
			}
			if !bytes.Equal(dst, tt.want) {
				t.Errorf("dst = %X, want %X", dst, tt.want)
			}
		})
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{OK, "OK"},
		{ErrNotAllowed, "NOALLOW"},
		{StatusPrinted, "PRINTED"},
		{Status(42), "Status(42)"},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, want %q", int(tt.status), got, tt.want)
		}
	}
}
