// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package settings

import (
	"fmt"
	"io"
	"strings"
)

// Format renders the record as an offset-annotated diagnostic block.
// The three-digit prefixes are the byte offsets in the persisted image.
func (r *Record) Format() string {
	var b strings.Builder

	b.WriteString("Saved settings:\n")
	fmt.Fprintf(&b, "000 Marks: %02X %02X\n", r.ValidMark1, r.ValidMark2)
	fmt.Fprintf(&b, "002 Dev EUI %X\n", r.DevEUI[:])
	fmt.Fprintf(&b, "010 App EUI %X\n", r.AppEUI[:])
	fmt.Fprintf(&b, "018 App Key %X\n", r.AppKey[:])
	fmt.Fprintf(&b, "034 Dev Addr %08X\n", r.DevAddr)
	fmt.Fprintf(&b, "038 NWS Key %X\n", r.NwkSKey[:])
	fmt.Fprintf(&b, "054 Apps Key %X\n", r.AppSKey[:])
	fmt.Fprintf(&b, "070 OTAA %s\n", enabled(r.OTAAEnabled))
	fmt.Fprintf(&b, "071 ADR %s\n", enabled(r.ADREnabled))
	fmt.Fprintf(&b, "072 %s Network\n", pick(r.PublicNetwork, "Public", "Private"))
	fmt.Fprintf(&b, "073 Dutycycle %s\n", enabled(r.DutyCycle))
	fmt.Fprintf(&b, "074 Repeat time %d\n", r.SendRepeatTime)
	fmt.Fprintf(&b, "078 Join trials %d\n", r.JoinTrials)
	fmt.Fprintf(&b, "079 TX Power %d\n", r.TxPower)
	fmt.Fprintf(&b, "080 DR %d\n", r.DataRate)
	fmt.Fprintf(&b, "081 Class %d\n", r.Class)
	fmt.Fprintf(&b, "082 Subband %d\n", r.SubbandChannels)
	fmt.Fprintf(&b, "083 Auto join %s\n", enabled(r.AutoJoin))
	fmt.Fprintf(&b, "084 Fport %d\n", r.AppPort)
	fmt.Fprintf(&b, "085 %s Message\n", pick(r.ConfirmedMsg, "Confirmed", "Unconfirmed"))
	fmt.Fprintf(&b, "086 Region %s\n", RegionName(r.Region))
	fmt.Fprintf(&b, "087 Mode %s\n", pick(r.LoRaWANEnable, "LPWAN", "P2P"))
	fmt.Fprintf(&b, "088 P2P frequency %d\n", r.P2PFrequency)
	fmt.Fprintf(&b, "092 P2P TX Power %d\n", r.P2PTxPower)
	fmt.Fprintf(&b, "093 P2P BW %s\n", BandwidthName(r.P2PBandwidth))
	fmt.Fprintf(&b, "094 P2P SF %d\n", r.P2PSF)
	fmt.Fprintf(&b, "095 P2P CR %d\n", r.P2PCR)
	fmt.Fprintf(&b, "096 P2P Preamble length %d\n", r.P2PPreambleLen)
	fmt.Fprintf(&b, "098 P2P Symbol Timeout %d\n", r.P2PSymbolTimeout)
	fmt.Fprintf(&b, "099 Reset request %s\n", enabled(r.ResetRequest))
	fmt.Fprintf(&b, "100 P2P RX window %d\n", r.P2PRxWindow)

	return b.String()
}

// Log writes the diagnostic block of the live record to w
func (s *Store) Log(w io.Writer) {
	io.WriteString(w, s.record.Format())
}

func enabled(b bool) string {
	return pick(b, "enabled", "disabled")
}

func pick(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
