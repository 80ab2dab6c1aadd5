// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atcmd

import (
	"encoding/hex"
	"errors"
)

var (
	ErrHexLength   = errors.New("hex string has odd length")
	ErrHexOverflow = errors.New("hex string does not fit destination")
	ErrHexDigit    = errors.New("invalid hex digit")
)

// DecodeHex decodes s into dst and returns the number of bytes written.
// On error dst is left untouched.
func DecodeHex(dst []byte, s string) (int, error) {
	if len(s)%2 != 0 {
		return 0, ErrHexLength
	}
	if len(s)/2 > len(dst) {
		return 0, ErrHexOverflow
	}
	tmp, err := hex.DecodeString(s)
	if err != nil {
		return 0, ErrHexDigit
	}
	return copy(dst, tmp), nil
}
