// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that a node answers AT commands",
	Long: `Send bare AT commands and wait for OK.

This is useful for verifying:
  - the serial line or WebSocket connection is established
  - HTTP Basic authentication works
  - the node's command task is running

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("loranode - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	ok, failed := pingNode(conn, os.Stdout, pingCount, time.Duration(pingTimeout)*time.Second)

	fmt.Printf("\n--- Results ---\n")
	fmt.Printf("Sent: %d, Received: %d, Failed: %d\n", pingCount, ok, failed)
	if failed > 0 {
		os.Exit(1)
	}
	fmt.Printf("All pings successful\n")
	return nil
}

// pingNode sends count bare AT commands and reports the round trip of each
func pingNode(conn io.ReadWriter, out io.Writer, count int, timeout time.Duration) (ok, failed int) {
	lines := make(chan string, 64)
	go readLines(conn, lines)

	for i := 1; i <= count; i++ {
		fmt.Fprintf(out, "Ping %d/%d: ", i, count)

		start := time.Now()
		if _, err := io.WriteString(conn, "AT\r\n"); err != nil {
			fmt.Fprintf(out, "SEND FAILED: %v\n", err)
			failed++
			continue
		}

		deadline := time.After(timeout)
	wait:
		for {
			select {
			case line, open := <-lines:
				if !open {
					fmt.Fprintf(out, "CONNECTION CLOSED\n")
					return ok, failed + count - i + 1
				}
				final, good := finalReply(line)
				if !final {
					// Unsolicited output such as events
					continue
				}
				if good {
					fmt.Fprintf(out, "OK, rtt=%v\n", time.Since(start).Round(time.Millisecond))
					ok++
				} else {
					fmt.Fprintf(out, "ERROR: %s\n", line)
					failed++
				}
				break wait
			case <-deadline:
				fmt.Fprintf(out, "TIMEOUT (no reply after %v)\n", timeout)
				failed++
				break wait
			}
		}

		if i < count {
			time.Sleep(100 * time.Millisecond)
		}
	}
	return ok, failed
}
