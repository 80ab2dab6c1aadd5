// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atcmd

import "strconv"

// parseRange parses a decimal value within [lo, hi]
func parseRange(s string, lo, hi uint64) (uint64, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v < lo || v > hi {
		return 0, false
	}
	return v, true
}

// parseFlag parses "0" or "1"
func parseFlag(s string) (bool, bool) {
	switch s {
	case "0":
		return false, true
	case "1":
		return true, true
	}
	return false, false
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
