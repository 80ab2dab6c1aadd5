// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atcmd

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/loranode/pkg/radio"
	"github.com/Thermoquad/loranode/pkg/settings"
)

// CLIVersion is the AT command set version reported to configuration tools
const CLIVersion = "1.5.8"

// Read-only queries expected by the vendor configuration tool

func (b *builtins) compatCommands() []Descriptor {
	constant := func(name, help, value string) Descriptor {
		return Descriptor{Name: name, Help: help, Perm: PermRead, Query: func() (string, Status) { return value, OK }}
	}
	region := func(name, help string, get func(radio.RegionParams) uint32) Descriptor {
		return Descriptor{Name: name, Help: help, Perm: PermRead, Query: func() (string, Status) {
			return fmt.Sprintf("%d", get(b.env.Link.RegionParams())), OK
		}}
	}

	return []Descriptor{
		{Name: "+BUILDTIME", Help: "Get build time", Perm: PermRead, Query: func() (string, Status) { return b.env.Build.BuildTime, OK }},
		constant("+CLIVER", "Get the version of the AT command set", CLIVersion),
		{Name: "+APIVER", Help: "Get the version of the API", Perm: PermRead, Query: func() (string, Status) { return b.env.Build.Version, OK }},
		{Name: "+HWMODEL", Help: "Get the hardware model", Perm: PermRead, Query: func() (string, Status) { return b.env.Device.HardwareModel(), OK }},
		{Name: "+HWID", Help: "Get the hardware ID", Perm: PermRead, Query: func() (string, Status) { return b.env.Device.HardwareID(), OK }},
		{Name: "+ALIAS", Help: "Get the device alias", Perm: PermRead, Query: func() (string, Status) {
			return fmt.Sprintf("loranode %X", b.rec().DevEUI[:]), OK
		}},
		{Name: "+SN", Help: "Get the device serial number", Perm: PermRead, Query: func() (string, Status) { return b.env.Device.SerialNumber(), OK }},
		constant("+NETID", "Get the network identifier (3 bytes in hex)", "000000"),
		constant("+LPM", "Get the low power mode", "0"),
		{Name: "+CFS", Help: "Get the last message confirm status", Perm: PermRead, Query: func() (string, Status) { return flag(b.env.Link.ConfirmResult()), OK }},
		{Name: "+DCS", Help: "Get the duty cycle status", Perm: PermRead, Query: func() (string, Status) { return flag(b.rec().DutyCycle), OK }},
		{Name: "+PNM", Help: "Get the network mode", Perm: PermRead, Query: func() (string, Status) { return flag(b.rec().PublicNetwork), OK }},
		{Name: "+RECV", Help: "Get the last received packet", Perm: PermRead, Query: b.queryRecv},
		{Name: "+CHE", Help: "Get eight channel mode", Perm: PermRead, Query: b.queryEightChannel},
		constant("+CHS", "Get single channel mode", "0"),
		{Name: "+RETY", Help: "Get or set the number of retries in confirmed mode", Query: b.queryRetry, Exec: b.execRetry, Perm: PermReadWrite, Mode: ModeP2P},
		region("+JN1DL", "Get the join delay 1", func(p radio.RegionParams) uint32 { return p.JoinAcceptDelay1 }),
		region("+JN2DL", "Get the join delay 2", func(p radio.RegionParams) uint32 { return p.JoinAcceptDelay2 }),
		region("+RX1DL", "Get the RX delay 1", func(p radio.RegionParams) uint32 { return p.ReceiveDelay1 }),
		region("+RX2DL", "Get the RX delay 2", func(p radio.RegionParams) uint32 { return p.ReceiveDelay2 }),
		region("+RX2DR", "Get the RX2 data rate", func(p radio.RegionParams) uint32 { return uint32(p.Rx2DataRate) }),
		region("+RX2FQ", "Get the RX2 frequency", func(p radio.RegionParams) uint32 { return p.Rx2Frequency }),
		{Name: "+ARSSI", Help: "Get all channel RSSI", Perm: PermRead, Query: func() (string, Status) { return fmt.Sprintf("0:%d", b.env.Link.RSSI()), OK }},
		constant("+LINKCHECK", "Get network link status", "0"),
		constant("+LSTMULC", "Get multicast status", multicastStatus()),
	}
}

func multicastStatus() string {
	group := "0:00000000:" + strings.Repeat("0", 32) + ":" + strings.Repeat("0", 32) + ":000000000:00:0"
	return strings.Join([]string{group, group, group, group}, ",")
}

func (b *builtins) queryRecv() (string, Status) {
	p := b.env.Link.LastRx()
	if len(p.Payload) == 0 {
		return " ", OK
	}
	return fmt.Sprintf("%d:%X", p.Port, p.Payload), OK
}

func (b *builtins) queryEightChannel() (string, Status) {
	r := b.rec()
	if _, ok := maxSubband(r.Region); !ok {
		return "", ErrNotAllowed
	}
	return fmt.Sprintf("%d", int(r.SubbandChannels)*8-7), OK
}

func (b *builtins) queryRetry() (string, Status) {
	return fmt.Sprintf("%d", b.env.Link.ConfirmRetries()), OK
}

func (b *builtins) execRetry(arg string) Status {
	v, ok := parseRange(arg, 0, 8)
	if !ok {
		return ErrBadValue
	}
	b.env.Link.SetConfirmRetries(uint8(v))
	b.rec().JoinTrials = uint8(v)
	return b.saveAndReconfigure()
}

// ============================================================
// Status and send interval
// ============================================================

func (b *builtins) statusCommands() []Descriptor {
	return []Descriptor{
		{Name: "+STATUS", Help: "Status, show LoRaWAN status", Query: b.queryStatus, Perm: PermRead, Custom: true},
		{Name: "+SENDINT", Help: "Send interval, get or set the automatic send interval", Query: b.querySendInterval, Exec: b.execSendInterval,
			Perm: PermReadWrite, Mode: ModeAny, Custom: true},
	}
}

func (b *builtins) queryStatus() (string, Status) {
	r := b.rec()
	p := b.reg.Printf

	p("Device status:")
	p("   %s", b.env.Device.HardwareModel())
	p("   Auto join %s", enabledText(r.AutoJoin))
	p("   Mode %s", pick(r.LoRaWANEnable, "LPWAN", "P2P"))
	p("   Network %s", pick(b.env.Link.Joined(), "joined", "not joined"))
	p("   Send Frequency %d", r.SendRepeatTime/1000)
	p("LPWAN status:")
	p("   Dev EUI %X", r.DevEUI[:])
	p("   App EUI %X", r.AppEUI[:])
	p("   App Key %X", r.AppKey[:])
	p("   Dev Addr %08X", r.DevAddr)
	p("   NWS Key %X", r.NwkSKey[:])
	p("   Apps Key %X", r.AppSKey[:])
	p("   OTAA %s", enabledText(r.OTAAEnabled))
	p("   ADR %s", enabledText(r.ADREnabled))
	p("   %s Network", pick(r.PublicNetwork, "Public", "Private"))
	p("   Dutycycle %s", enabledText(r.DutyCycle))
	p("   Join trials %d", r.JoinTrials)
	p("   TX Power %d", r.TxPower)
	p("   DR %d", r.DataRate)
	p("   Class %d", r.Class)
	p("   Subband %d", r.SubbandChannels)
	p("   Fport %d", r.AppPort)
	p("   %s Message", pick(r.ConfirmedMsg, "Confirmed", "Unconfirmed"))
	p("   Region %s", settings.RegionName(r.Region))
	p("LoRa P2P status:")
	p("   P2P frequency %d", r.P2PFrequency)
	p("   P2P TX Power %d", r.P2PTxPower)
	p("   P2P BW %s", settings.BandwidthName(r.P2PBandwidth))
	p("   P2P SF %d", r.P2PSF)
	p("   P2P CR %d", r.P2PCR)
	p("   P2P Preamble length %d", r.P2PPreambleLen)
	p("   P2P Symbol Timeout %d", r.P2PSymbolTimeout)
	p("OK")
	return "", StatusPrinted
}

func (b *builtins) querySendInterval() (string, Status) {
	return fmt.Sprintf("%d", b.rec().SendRepeatTime/1000), OK
}

func (b *builtins) execSendInterval(arg string) Status {
	secs, ok := parseRange(arg, 0, (1<<32-1)/1000)
	if !ok {
		return ErrBadValue
	}
	ms := uint32(secs * 1000)
	b.rec().SendRepeatTime = ms
	if st := b.save(); st != OK {
		return st
	}
	if ms == 0 {
		b.env.Timer.Stop()
	} else {
		b.env.Timer.Restart(ms)
	}
	return OK
}

func enabledText(v bool) string {
	return pick(v, "enabled", "disabled")
}

func pick(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
