// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package radio

// RegionParams are the regional timing values the MAC reports
type RegionParams struct {
	JoinAcceptDelay1 uint32 // ms
	JoinAcceptDelay2 uint32 // ms
	ReceiveDelay1    uint32 // ms
	ReceiveDelay2    uint32 // ms
	Rx2DataRate      uint8
	Rx2Frequency     uint32 // Hz
}

// rx2 defaults per API region index
var rx2 = [...]struct {
	dr   uint8
	freq uint32
}{
	{2, 923200000}, // AS923
	{8, 923300000}, // AU915
	{0, 505300000}, // CN470
	{0, 786000000}, // CN779
	{0, 434665000}, // EU433
	{0, 869525000}, // EU868
	{0, 921900000}, // KR920
	{2, 866550000}, // IN865
	{8, 923300000}, // US915
	{2, 921400000}, // AS923-2
	{2, 916600000}, // AS923-3
	{2, 917300000}, // AS923-4
	{0, 869100000}, // RU864
}

// DefaultRegionParams returns the regional defaults for an API region index.
// Unknown regions get the AS923 values.
func DefaultRegionParams(region uint8) RegionParams {
	p := RegionParams{
		JoinAcceptDelay1: 5000,
		JoinAcceptDelay2: 6000,
		ReceiveDelay1:    1000,
		ReceiveDelay2:    2000,
	}
	idx := int(region)
	if idx >= len(rx2) {
		idx = 0
	}
	p.Rx2DataRate = rx2[idx].dr
	p.Rx2Frequency = rx2[idx].freq
	return p
}
