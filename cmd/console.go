// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Thermoquad/loranode/pkg/atcmd"
	"github.com/Thermoquad/loranode/pkg/transport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive AT command console",
	Long: `Open an AT command console on a node.

On a terminal the console runs as a full-screen UI with a scrolling reply
pane and command history (up/down). With --line, or when stdout is not a
terminal, lines typed on stdin are sent as they are and replies are copied
to stdout.

With --exec the given commands are sent one after another; each waits for
its final OK or error line. The exit code is 1 if any command failed.

Examples:
  loranode console --port /dev/ttyACM0
  loranode console --url ws://127.0.0.1:8765/ble -e AT+NWM=? -e AT+STATUS=?`,
	RunE: runConsole,
}

var (
	consoleLineMode bool
	consoleExec     []string
	consoleTimeout  time.Duration
)

func init() {
	rootCmd.AddCommand(consoleCmd)
	consoleCmd.Flags().BoolVar(&consoleLineMode, "line", false, "Plain line mode instead of the full-screen UI")
	consoleCmd.Flags().StringArrayVarP(&consoleExec, "exec", "e", nil, "Send a command and wait for its reply (repeatable)")
	consoleCmd.Flags().DurationVar(&consoleTimeout, "timeout", 5*time.Second, "Reply timeout for --exec")
}

func runConsole(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	if len(consoleExec) > 0 {
		failed, err := execCommands(conn, os.Stdout, consoleExec, consoleTimeout)
		if err != nil {
			return err
		}
		if failed {
			os.Exit(1)
		}
		return nil
	}

	if consoleLineMode || !term.IsTerminal(int(os.Stdout.Fd())) {
		return lineConsole(conn, os.Stdin, os.Stdout)
	}

	m := initialConsoleModel(conn, connInfo)
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				p.Send(consoleDataMsg(data))
			}
			if err != nil {
				p.Send(consoleClosedMsg{err: err})
				return
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// lineConsole copies stdin lines to the node and replies to out until
// either side closes
func lineConsole(conn transport.Connection, in io.Reader, out io.Writer) error {
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(out, conn)
		done <- err
	}()

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if _, err := io.WriteString(conn, scanner.Text()+"\r\n"); err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		select {
		case err := <-done:
			return closedErr(err)
		default:
		}
	}
	return scanner.Err()
}

func closedErr(err error) error {
	if err == nil || err == io.EOF || err == transport.ErrConnectionClosed {
		return nil
	}
	return err
}

// execCommands sends each command and prints the reply lines up to the final
// one. failed reports whether any command ended in an error or timed out.
func execCommands(conn transport.Connection, out io.Writer, commands []string, timeout time.Duration) (failed bool, err error) {
	lines := make(chan string, 64)
	go readLines(conn, lines)

	for _, c := range commands {
		if _, err := io.WriteString(conn, c+"\r\n"); err != nil {
			return failed, fmt.Errorf("write failed: %w", err)
		}

		deadline := time.After(timeout)
	wait:
		for {
			select {
			case line, ok := <-lines:
				if !ok {
					return true, fmt.Errorf("connection closed waiting for %s", c)
				}
				fmt.Fprintln(out, line)
				if final, ok := finalReply(line); final {
					failed = failed || !ok
					break wait
				}
			case <-deadline:
				fmt.Fprintf(out, "%s: no reply within %v\n", c, timeout)
				failed = true
				break wait
			}
		}
	}
	return failed, nil
}

// readLines splits r into lines without terminators and closes lines on error
func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line != "" {
			lines <- line
		}
	}
}

// finalReply reports whether line ends a command reply, and whether the
// command succeeded
func finalReply(line string) (final, ok bool) {
	switch {
	case line == "OK":
		return true, true
	case strings.HasPrefix(line, atcmd.ErrorPrefix):
		return true, false
	}
	return false, false
}
