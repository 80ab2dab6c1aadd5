// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import "fmt"

// ValidationError describes one out-of-range record field
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", v.Field, v.Message, v.Value)
}

// Validate checks every tunable against the ranges the command layer accepts.
// Returns a slice of validation errors (empty if the record is valid).
func Validate(r *Record) []ValidationError {
	errors := []ValidationError{}

	add := func(field, msg string, value interface{}) {
		errors = append(errors, ValidationError{Field: field, Message: msg, Value: value})
	}

	if r.ValidMark1 != ValidMarker || r.ValidMark2 != CurrentMarker {
		add("markers", "current schema markers required", fmt.Sprintf("%02X %02X", r.ValidMark1, r.ValidMark2))
	}
	if r.Region >= regionCount {
		add("region", "unknown region", r.Region)
	}
	if r.Class != ClassA && r.Class != ClassC {
		add("class", "only class A and C are supported", r.Class)
	}
	if r.DataRate > MaxDataRate {
		add("data_rate", fmt.Sprintf("must be 0..%d", MaxDataRate), r.DataRate)
	}
	if r.TxPower > MaxTxPower {
		add("tx_power", fmt.Sprintf("must be 0..%d", MaxTxPower), r.TxPower)
	}
	if r.AppPort == 0 {
		add("app_port", "must be 1..255", r.AppPort)
	}
	if r.SubbandChannels == 0 || r.SubbandChannels > 12 {
		add("subband", "must be 1..12", r.SubbandChannels)
	}
	if r.P2PFrequency < MinP2PFrequency || r.P2PFrequency > MaxP2PFrequency {
		add("p2p_frequency", fmt.Sprintf("must be %d..%d", MinP2PFrequency, MaxP2PFrequency), r.P2PFrequency)
	}
	if r.P2PSF < MinP2PSF || r.P2PSF > MaxP2PSF {
		add("p2p_sf", fmt.Sprintf("must be %d..%d", MinP2PSF, MaxP2PSF), r.P2PSF)
	}
	if int(r.P2PBandwidth) >= len(Bandwidths) {
		add("p2p_bandwidth", "unknown bandwidth", r.P2PBandwidth)
	}
	if r.P2PCR < MinP2PCR || r.P2PCR > MaxP2PCR {
		add("p2p_cr", fmt.Sprintf("must be %d..%d", MinP2PCR, MaxP2PCR), r.P2PCR)
	}
	if r.P2PPreambleLen > MaxP2PPreamble {
		add("p2p_preamble", fmt.Sprintf("must be 0..%d", MaxP2PPreamble), r.P2PPreambleLen)
	}
	if r.P2PTxPower > MaxP2PTxPower {
		add("p2p_tx_power", fmt.Sprintf("must be 0..%d", MaxP2PTxPower), r.P2PTxPower)
	}

	return errors
}
