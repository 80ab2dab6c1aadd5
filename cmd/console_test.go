// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// ============================================================================
// Fake node
// ============================================================================

// fakeNode answers each written line with the reply registered for it
type fakeNode struct {
	mu      sync.Mutex
	replies map[string]string
	sent    []string
	r       *io.PipeReader
	w       *io.PipeWriter
}

func newFakeNode(replies map[string]string) *fakeNode {
	r, w := io.Pipe()
	return &fakeNode{replies: replies, r: r, w: w}
}

func (f *fakeNode) Read(p []byte) (int, error) { return f.r.Read(p) }

func (f *fakeNode) Write(p []byte) (int, error) {
	line := strings.TrimRight(string(p), "\r\n")
	f.mu.Lock()
	f.sent = append(f.sent, line)
	reply, ok := f.replies[line]
	f.mu.Unlock()
	if ok {
		go f.w.Write([]byte(reply))
	}
	return len(p), nil
}

func (f *fakeNode) Close() error {
	f.w.Close()
	return f.r.Close()
}

// ============================================================================
// Reply Parsing Tests
// ============================================================================

func TestFinalReply(t *testing.T) {
	tests := []struct {
		line  string
		final bool
		ok    bool
	}{
		{"OK", true, true},
		{"+CME ERROR:5", true, false},
		{"+CME ERROR:1", true, false},
		{"+NWM:1", false, false},
		{"+EVT:JOINED", false, false},
		{"OKAY", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			final, ok := finalReply(tt.line)
			if final != tt.final || ok != tt.ok {
				t.Errorf("finalReply(%q) = %v, %v; want %v, %v", tt.line, final, ok, tt.final, tt.ok)
			}
		})
	}
}

// ============================================================================
// Exec Mode Tests
// ============================================================================

func TestExecCommands(t *testing.T) {
	node := newFakeNode(map[string]string{
		"AT+NWM=?": "+NWM:1\r\nOK\r\n",
		"AT+NWM=7": "+CME ERROR:5\r\n",
	})
	defer node.Close()

	var out bytes.Buffer
	failed, err := execCommands(node, &out, []string{"AT+NWM=?", "AT+NWM=7"}, time.Second)
	if err != nil {
		t.Fatalf("execCommands error: %v", err)
	}
	if !failed {
		t.Error("failed = false, want true after an error reply")
	}

	want := "+NWM:1\nOK\n+CME ERROR:5\n"
	if out.String() != want {
		t.Errorf("output = %q, want %q", out.String(), want)
	}
}

func TestExecCommandsSuccess(t *testing.T) {
	node := newFakeNode(map[string]string{"AT": "OK\r\n"})
	defer node.Close()

	var out bytes.Buffer
	failed, err := execCommands(node, &out, []string{"AT"}, time.Second)
	if err != nil || failed {
		t.Errorf("execCommands = %v, %v; want false, nil", failed, err)
	}
}

func TestExecCommandsTimeout(t *testing.T) {
	node := newFakeNode(nil)
	defer node.Close()

	var out bytes.Buffer
	failed, err := execCommands(node, &out, []string{"AT+SILENT"}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("execCommands error: %v", err)
	}
	if !failed {
		t.Error("failed = false, want true on timeout")
	}
	if !strings.Contains(out.String(), "no reply") {
		t.Errorf("output = %q, want timeout notice", out.String())
	}
}

// ============================================================================
// Monitor Tests
// ============================================================================

func TestMonitor(t *testing.T) {
	stamp := time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	now := func() time.Time { return stamp }
	input := "+EVT:JOINED\r\n\r\nOK\r\n+EVT:TX_DONE\r\n"

	tests := []struct {
		name       string
		eventsOnly bool
		want       string
	}{
		{"all", false, "[03:04:05.006] +EVT:JOINED\n[03:04:05.006] OK\n[03:04:05.006] +EVT:TX_DONE\n"},
		{"events", true, "[03:04:05.006] +EVT:JOINED\n[03:04:05.006] +EVT:TX_DONE\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := monitor(strings.NewReader(input), &out, now, tt.eventsOnly); err != nil {
				t.Fatalf("monitor error: %v", err)
			}
			if out.String() != tt.want {
				t.Errorf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

// ============================================================================
// Console UI Tests
// ============================================================================

func TestConsoleAppendOutput(t *testing.T) {
	m := initialConsoleModel(io.Discard, "test")

	m.appendOutput("+NWM:1\r\nO")
	if len(m.lines) != 1 || m.partial != "O" {
		t.Fatalf("lines = %v, partial = %q", m.lines, m.partial)
	}
	m.appendOutput("K\r\n+EVT:JOINED\r\n+CME ERROR:5\r\n")

	want := []consoleLine{
		{lineReply, "+NWM:1"},
		{lineOK, "OK"},
		{lineEvent, "+EVT:JOINED"},
		{lineError, "+CME ERROR:5"},
	}
	if len(m.lines) != len(want) {
		t.Fatalf("got %d lines, want %d", len(m.lines), len(want))
	}
	for i, l := range want {
		if m.lines[i] != l {
			t.Errorf("line %d = %+v, want %+v", i, m.lines[i], l)
		}
	}
}

func TestConsoleLineCap(t *testing.T) {
	m := initialConsoleModel(io.Discard, "test")
	m.appendOutput(strings.Repeat("x\n", maxConsoleLines+10))
	if len(m.lines) != maxConsoleLines {
		t.Errorf("len(lines) = %d, want %d", len(m.lines), maxConsoleLines)
	}
}

func TestConsoleSubmitAndHistory(t *testing.T) {
	var sent bytes.Buffer
	m := initialConsoleModel(&sent, "test")

	for _, line := range []string{"AT+NWM=?", "AT+STATUS=?"} {
		m.input.SetValue(line)
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m = next.(consoleModel)
	}

	if sent.String() != "AT+NWM=?\r\nAT+STATUS=?\r\n" {
		t.Errorf("sent = %q", sent.String())
	}
	if m.input.Value() != "" {
		t.Errorf("input = %q after submit, want empty", m.input.Value())
	}

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(consoleModel)
	if m.input.Value() != "AT+STATUS=?" {
		t.Errorf("up = %q, want AT+STATUS=?", m.input.Value())
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(consoleModel)
	if m.input.Value() != "AT+NWM=?" {
		t.Errorf("up up = %q, want AT+NWM=?", m.input.Value())
	}
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(consoleModel)
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(consoleModel)
	if m.input.Value() != "" {
		t.Errorf("down past end = %q, want empty", m.input.Value())
	}
}

func TestConsoleConnectionLost(t *testing.T) {
	var sent bytes.Buffer
	m := initialConsoleModel(&sent, "test")

	next, _ := m.Update(consoleClosedMsg{err: io.EOF})
	m = next.(consoleModel)
	if !m.connectionLost {
		t.Fatal("connectionLost = false")
	}

	m.input.SetValue("AT")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(consoleModel)
	if sent.Len() != 0 {
		t.Errorf("sent %q after connection loss", sent.String())
	}
}

// ============================================================================
// Ping Tests
// ============================================================================

func TestPingNode(t *testing.T) {
	node := newFakeNode(map[string]string{"AT": "+EVT:TX_DONE\r\nOK\r\n"})
	defer node.Close()

	var out bytes.Buffer
	ok, failed := pingNode(node, &out, 2, time.Second)
	if ok != 2 || failed != 0 {
		t.Errorf("pingNode = %d ok, %d failed; want 2, 0\n%s", ok, failed, out.String())
	}
}

func TestPingNodeTimeout(t *testing.T) {
	node := newFakeNode(nil)
	defer node.Close()

	var out bytes.Buffer
	ok, failed := pingNode(node, &out, 1, 50*time.Millisecond)
	if ok != 0 || failed != 1 {
		t.Errorf("pingNode = %d ok, %d failed; want 0, 1", ok, failed)
	}
	if !strings.Contains(out.String(), "TIMEOUT") {
		t.Errorf("output = %q", out.String())
	}
}
