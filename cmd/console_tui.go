// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/Thermoquad/loranode/pkg/atcmd"
	"github.com/Thermoquad/loranode/pkg/transport"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxConsoleLines = 1000
	maxHistory      = 100
	chromeHeight    = 4 // rows outside the viewport
)

// Line kinds, used for coloring
const (
	lineReply = iota
	lineOK
	lineError
	lineEvent
	lineEcho
	lineInfo
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	lineStyles = map[int]lipgloss.Style{
		lineReply: lipgloss.NewStyle(),
		lineOK:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		lineError: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		lineEvent: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		lineEcho:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		lineInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
	}
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

type consoleLine struct {
	kind int
	text string
}

// consoleModel is the Bubble Tea model for the AT console
type consoleModel struct {
	conn     io.Writer
	connInfo string

	output  viewport.Model
	input   textinput.Model
	lines   []consoleLine
	partial string

	history []string
	histPos int // len(history) when not browsing

	width          int
	height         int
	ready          bool
	connectionLost bool
	quitting       bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type consoleDataMsg []byte

type consoleClosedMsg struct {
	err error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialConsoleModel(conn io.Writer, connInfo string) consoleModel {
	ti := textinput.New()
	ti.Placeholder = "AT+NWM=?"
	ti.Prompt = "> "
	ti.CharLimit = atcmd.LineSize
	ti.Focus()

	return consoleModel{
		conn:     conn,
		connInfo: connInfo,
		output:   viewport.New(80, 20),
		input:    ti,
		width:    80,
		height:   24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m consoleModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m consoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "enter":
			m.submit()
			return m, nil
		case "up":
			m.browse(-1)
			return m, nil
		case "down":
			m.browse(1)
			return m, nil
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.output, cmd = m.output.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.output.Width = msg.Width
		m.output.Height = max(msg.Height-chromeHeight, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.refresh()

	case consoleDataMsg:
		m.appendOutput(string(msg))
		m.refresh()

	case consoleClosedMsg:
		m.connectionLost = true
		text := "Connection closed"
		if msg.err != nil && msg.err != io.EOF && msg.err != transport.ErrConnectionClosed {
			text = fmt.Sprintf("Connection lost: %v", msg.err)
		}
		m.addLine(lineInfo, text)
		m.refresh()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m consoleModel) View() string {
	if m.quitting {
		return "Closing console...\n"
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render("loranode console"))
	s.WriteString(" ")
	s.WriteString(statusStyle.Render(m.connInfo))
	s.WriteString("\n")
	s.WriteString(m.output.View())
	s.WriteString("\n")
	s.WriteString(m.input.View())
	s.WriteString("\n")

	status := "enter: send  up/down: history  pgup/pgdown: scroll  esc: quit"
	if m.connectionLost {
		status = "connection lost, esc to quit"
	}
	s.WriteString(statusStyle.Render(status))
	return s.String()
}

//////////////////////////////////////////////////////////////
// Input
//////////////////////////////////////////////////////////////

func (m *consoleModel) submit() {
	line := strings.TrimSpace(m.input.Value())
	m.input.Reset()
	if line == "" {
		return
	}

	if len(m.history) == 0 || m.history[len(m.history)-1] != line {
		m.history = append(m.history, line)
		if len(m.history) > maxHistory {
			m.history = m.history[1:]
		}
	}
	m.histPos = len(m.history)

	if m.connectionLost {
		m.addLine(lineInfo, "Not sent: connection lost")
		m.refresh()
		return
	}

	m.addLine(lineEcho, "> "+line)
	if _, err := io.WriteString(m.conn, line+"\r\n"); err != nil {
		m.addLine(lineError, fmt.Sprintf("Write failed: %v", err))
	}
	m.refresh()
}

func (m *consoleModel) browse(delta int) {
	if len(m.history) == 0 {
		return
	}
	pos := m.histPos + delta
	if pos < 0 {
		pos = 0
	}
	if pos >= len(m.history) {
		m.histPos = len(m.history)
		m.input.SetValue("")
		return
	}
	m.histPos = pos
	m.input.SetValue(m.history[pos])
	m.input.CursorEnd()
}

//////////////////////////////////////////////////////////////
// Output
//////////////////////////////////////////////////////////////

// appendOutput splits received bytes into lines; a trailing fragment waits
// for the rest of its line
func (m *consoleModel) appendOutput(data string) {
	data = m.partial + data
	parts := strings.Split(data, "\n")
	m.partial = parts[len(parts)-1]
	for _, p := range parts[:len(parts)-1] {
		p = strings.TrimRight(p, "\r")
		if p == "" {
			continue
		}
		m.addLine(classifyLine(p), p)
	}
}

func (m *consoleModel) addLine(kind int, text string) {
	m.lines = append(m.lines, consoleLine{kind: kind, text: text})
	if len(m.lines) > maxConsoleLines {
		m.lines = m.lines[len(m.lines)-maxConsoleLines:]
	}
}

func (m *consoleModel) refresh() {
	var b strings.Builder
	for i, l := range m.lines {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(lineStyles[l.kind].Render(l.text))
	}
	m.output.SetContent(b.String())
	m.output.GotoBottom()
}

func classifyLine(line string) int {
	switch {
	case line == "OK":
		return lineOK
	case strings.HasPrefix(line, atcmd.ErrorPrefix):
		return lineError
	case strings.HasPrefix(line, "+EVT:"):
		return lineEvent
	default:
		return lineReply
	}
}
