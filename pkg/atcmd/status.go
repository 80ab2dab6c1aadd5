// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atcmd

import "fmt"

// Status is the result code a command callback returns
type Status int

const (
	OK            Status = 0
	ErrNoSupport  Status = 1
	ErrNotAllowed Status = 2
	ErrBadValue   Status = 5
	ErrParamCount Status = 6
	ErrExecFailed Status = 7
	ErrSystem     Status = 8

	// StatusPrinted means the callback wrote its own reply
	StatusPrinted Status = 0xFF

	// StatusFailed is the generic failure some callbacks return. It is
	// reported as ErrSystem.
	StatusFailed Status = -1
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case ErrNoSupport:
		return "NOSUPP"
	case ErrNotAllowed:
		return "NOALLOW"
	case ErrBadValue:
		return "PARA_VAL"
	case ErrParamCount:
		return "PARA_NUM"
	case ErrExecFailed:
		return "EXEC_FAIL"
	case ErrSystem:
		return "SYS"
	case StatusPrinted:
		return "PRINTED"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// code returns the error code written after the error prefix
func (s Status) code() int {
	if s == StatusFailed {
		return int(ErrSystem)
	}
	return int(s)
}
