// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display node output with timestamps",
	Long: `Continuously display the lines a node prints, one per line with a
receive timestamp. Event lines (+EVT:...) can be shown on their own with
--events.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

var monitorEventsOnly bool

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorEventsOnly, "events", false, "Only show +EVT lines")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "loranode - Monitor\n")
	fmt.Fprintf(out, "Connection: %s\n", connInfo)
	fmt.Fprintf(out, "Press Ctrl+C to exit\n\n")

	return monitor(conn, out, time.Now, monitorEventsOnly)
}

// monitor copies lines from r to out until r closes
func monitor(r io.Reader, out io.Writer, now func() time.Time, eventsOnly bool) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if eventsOnly && !strings.HasPrefix(line, "+EVT:") {
			continue
		}
		fmt.Fprintf(out, "[%s] %s\n", now().Format("15:04:05.000"), line)
	}
	return closedErr(scanner.Err())
}
