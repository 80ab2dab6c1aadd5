// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package settings owns the node configuration record and its persistence.
//
// The record is a fixed-layout, little-endian byte image that starts with two
// marker bytes. The first marks the image as valid, the second identifies the
// schema version. Images written by the previous schema are migrated forward
// on load; images with unknown markers are replaced by defaults.
package settings

// Marker bytes
const (
	ValidMarker   = 0xAA
	CurrentMarker = 0x57 // Schema with P2P parameters
	LegacyMarker  = 0x55 // LoRaWAN-only schema
)

// Image sizes
const (
	RecordSize = 102
	LegacySize = 88
)

// LoRaWAN regions as used by the MAC layer (API index)
const (
	RegionAS923 = iota
	RegionAU915
	RegionCN470
	RegionCN779
	RegionEU433
	RegionEU868
	RegionKR920
	RegionIN865
	RegionUS915
	RegionAS923_2
	RegionAS923_3
	RegionAS923_4
	RegionRU864
	regionCount
)

// RegionNames is indexed by API region
var RegionNames = [regionCount]string{
	"AS923", "AU915", "CN470", "CN779",
	"EU433", "EU868", "KR920", "IN865",
	"US915", "AS923-2", "AS923-3", "AS923-4", "RU864",
}

// The configuration tool numbers regions differently from the MAC layer.
// toolRegions maps API index -> tool index, apiRegions the reverse.
var (
	toolRegions = [regionCount]uint8{8, 6, 1, 12, 0, 4, 7, 3, 5, 9, 10, 11, 2}
	apiRegions  = [regionCount]uint8{4, 2, 12, 7, 5, 8, 1, 6, 0, 9, 10, 11, 3}
)

// ToolRegion converts an API region index to the configuration tool index
func ToolRegion(api uint8) (uint8, bool) {
	if int(api) >= len(toolRegions) {
		return 0, false
	}
	return toolRegions[api], true
}

// APIRegion converts a configuration tool region index to the API index
func APIRegion(tool uint8) (uint8, bool) {
	if int(tool) >= len(apiRegions) {
		return 0, false
	}
	return apiRegions[tool], true
}

// RegionName returns the printable name of an API region
func RegionName(api uint8) string {
	if int(api) >= len(RegionNames) {
		return "UNKNOWN"
	}
	return RegionNames[api]
}

// Bandwidths holds the P2P bandwidth tokens, indexed by the stored value
var Bandwidths = [...]string{"125", "250", "500", "062", "041", "031", "020", "015", "010", "007"}

// BandwidthIndex returns the stored value for a bandwidth token
func BandwidthIndex(token string) (uint8, bool) {
	for i, bw := range Bandwidths {
		if bw == token {
			return uint8(i), true
		}
	}
	return 0, false
}

// BandwidthName returns the token for a stored bandwidth value
func BandwidthName(idx uint8) string {
	if int(idx) >= len(Bandwidths) {
		return "???"
	}
	return Bandwidths[idx]
}

// LoRaWAN device classes
const (
	ClassA = 0
	ClassB = 1
	ClassC = 2
)

// P2P receive window sentinels
const (
	RxWindowNone       = 0
	RxWindowContinuous = 65534
	RxWindowUntilRx    = 65535
)

// Parameter limits shared by the AT commands and the CBOR importer
const (
	MinP2PFrequency = 525000000
	MaxP2PFrequency = 960000000
	MinP2PSF        = 7
	MaxP2PSF        = 12
	MinP2PCR        = 1
	MaxP2PCR        = 4
	MaxP2PPreamble  = 256
	MaxP2PTxPower   = 23
	MaxDataRate     = 15
	MaxTxPower      = 10
)
