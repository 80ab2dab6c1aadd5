// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atcmd

import (
	"fmt"
	"strings"

	"github.com/Thermoquad/loranode/pkg/radio"
	"github.com/Thermoquad/loranode/pkg/settings"
)

func (b *builtins) deviceCommands() []Descriptor {
	return []Descriptor{
		{Name: "+BAT", Help: "Get battery level", Query: b.queryBattery, Perm: PermRead},
		{Name: "+RSSI", Help: "Last RX packet RSSI", Query: b.queryRSSI, Perm: PermRead},
		{Name: "+SNR", Help: "Last RX packet SNR", Query: b.querySNR, Perm: PermRead},
		{Name: "+VER", Help: "Get firmware version", Query: b.queryVersion, Perm: PermRead},
		{Name: "+NWM", Help: "Switch LoRa work mode", Query: b.queryWorkMode, Exec: b.execWorkMode, Perm: PermReadWrite, Mode: ModeAny},
	}
}

func (b *builtins) queryBattery() (string, Status) {
	return fmt.Sprintf("%.2f", b.env.Device.BatteryVoltage()), OK
}

func (b *builtins) queryRSSI() (string, Status) {
	return fmt.Sprintf("%d", b.env.Link.RSSI()), OK
}

func (b *builtins) querySNR() (string, Status) {
	return fmt.Sprintf("%d", b.env.Link.SNR()), OK
}

func (b *builtins) queryVersion() (string, Status) {
	return "loranode " + b.env.Build.Version, OK
}

func (b *builtins) queryWorkMode() (string, Status) {
	return flag(b.lorawan()), OK
}

// execWorkMode switches between P2P (0) and LoRaWAN (1). A change takes
// effect after a restart.
func (b *builtins) execWorkMode(arg string) Status {
	v, ok := parseFlag(arg)
	if !ok {
		return ErrBadValue
	}
	r := b.rec()
	changed := r.LoRaWANEnable != v
	r.LoRaWANEnable = v
	if st := b.save(); st != OK {
		return st
	}
	if changed {
		b.reg.logger.Info().Bool("lorawan", v).Msg("Work mode changed, restart requested")
		b.env.Device.RequestRestart()
	}
	return OK
}

// ============================================================
// P2P parameters
// ============================================================

func (b *builtins) p2pCommands() []Descriptor {
	return []Descriptor{
		b.p2pNumber("+PFREQ", "Set P2P frequency", settings.MinP2PFrequency, settings.MaxP2PFrequency,
			func(r *settings.Record) uint64 { return uint64(r.P2PFrequency) },
			func(r *settings.Record, v uint64) { r.P2PFrequency = uint32(v) }),
		b.p2pNumber("+PSF", "Set P2P spreading factor", settings.MinP2PSF, settings.MaxP2PSF,
			func(r *settings.Record) uint64 { return uint64(r.P2PSF) },
			func(r *settings.Record, v uint64) { r.P2PSF = uint8(v) }),
		{Name: "+PBW", Help: "Set P2P bandwidth", Query: b.queryBandwidth, Exec: b.execBandwidth, Perm: PermReadWrite, Mode: ModeP2P},
		b.p2pNumber("+PCR", "Set P2P coding rate", settings.MinP2PCR, settings.MaxP2PCR,
			func(r *settings.Record) uint64 { return uint64(r.P2PCR) },
			func(r *settings.Record, v uint64) { r.P2PCR = uint8(v) }),
		b.p2pNumber("+PPL", "Set P2P preamble length", 0, settings.MaxP2PPreamble,
			func(r *settings.Record) uint64 { return uint64(r.P2PPreambleLen) },
			func(r *settings.Record, v uint64) { r.P2PPreambleLen = uint16(v) }),
		b.p2pNumber("+PTP", "Set P2P TX power", 0, settings.MaxP2PTxPower,
			func(r *settings.Record) uint64 { return uint64(r.P2PTxPower) },
			func(r *settings.Record, v uint64) { r.P2PTxPower = uint8(v) }),
		{Name: "+P2P", Help: "Set P2P configuration", Query: b.queryP2P, Exec: b.execP2P, Perm: PermReadWrite, Mode: ModeP2P},
		{Name: "+PSEND", Help: "P2P send data", Exec: b.execP2PSend, Perm: PermWrite, Mode: ModeP2P},
		{Name: "+PRECV", Help: "P2P receive mode", Query: b.queryP2PReceive, Exec: b.execP2PReceive, Perm: PermReadWrite, Mode: ModeP2P},
	}
}

// p2pNumber builds a ranged P2P parameter command. A successful write is
// applied to the radio.
func (b *builtins) p2pNumber(name, help string, lo, hi uint64, get func(*settings.Record) uint64, set func(*settings.Record, uint64)) Descriptor {
	return Descriptor{
		Name: name,
		Help: help,
		Query: func() (string, Status) {
			return fmt.Sprintf("%d", get(b.rec())), OK
		},
		Exec: func(arg string) Status {
			v, ok := parseRange(arg, lo, hi)
			if !ok {
				return ErrBadValue
			}
			set(b.rec(), v)
			return b.saveAndReconfigure()
		},
		Perm: PermReadWrite,
		Mode: ModeP2P,
	}
}

func (b *builtins) saveAndReconfigure() Status {
	if st := b.save(); st != OK {
		return st
	}
	b.env.Link.Reconfigure()
	return OK
}

func (b *builtins) queryBandwidth() (string, Status) {
	return settings.BandwidthName(b.rec().P2PBandwidth), OK
}

func (b *builtins) execBandwidth(arg string) Status {
	idx, ok := settings.BandwidthIndex(arg)
	if !ok {
		return ErrBadValue
	}
	b.rec().P2PBandwidth = idx
	return b.saveAndReconfigure()
}

func (b *builtins) queryP2P() (string, Status) {
	r := b.rec()
	return fmt.Sprintf("%d:%d:%s:%d:%d:%d",
		r.P2PFrequency, r.P2PSF, settings.BandwidthName(r.P2PBandwidth),
		r.P2PCR, r.P2PPreambleLen, r.P2PTxPower), OK
}

// execP2P handles freq:sf:bw:cr:preamble:txp. Every field is checked before
// the record changes.
func (b *builtins) execP2P(arg string) Status {
	parts := strings.Split(arg, ":")
	if len(parts) != 6 {
		return ErrParamCount
	}
	freq, ok := parseRange(parts[0], settings.MinP2PFrequency, settings.MaxP2PFrequency)
	if !ok {
		return ErrBadValue
	}
	sf, ok := parseRange(parts[1], settings.MinP2PSF, settings.MaxP2PSF)
	if !ok {
		return ErrBadValue
	}
	bw, ok := settings.BandwidthIndex(parts[2])
	if !ok {
		return ErrBadValue
	}
	cr, ok := parseRange(parts[3], settings.MinP2PCR, settings.MaxP2PCR)
	if !ok {
		return ErrBadValue
	}
	pl, ok := parseRange(parts[4], 0, settings.MaxP2PPreamble)
	if !ok {
		return ErrBadValue
	}
	txp, ok := parseRange(parts[5], 0, settings.MaxP2PTxPower)
	if !ok {
		return ErrBadValue
	}

	r := b.rec()
	r.P2PFrequency = uint32(freq)
	r.P2PSF = uint8(sf)
	r.P2PBandwidth = bw
	r.P2PCR = uint8(cr)
	r.P2PPreambleLen = uint16(pl)
	r.P2PTxPower = uint8(txp)
	return b.saveAndReconfigure()
}

func (b *builtins) execP2PSend(arg string) Status {
	var buf [radio.MaxPayload]byte
	n, err := DecodeHex(buf[:], arg)
	if err != nil {
		return ErrBadValue
	}
	if err := b.env.Link.SendP2P(buf[:n]); err != nil {
		b.reg.logger.Warn().Err(err).Msg("P2P send failed")
		return ErrExecFailed
	}
	return OK
}

func (b *builtins) queryP2PReceive() (string, Status) {
	return fmt.Sprintf("%d", b.rec().P2PRxWindow), OK
}

// execP2PReceive sets the receive window: 0 off, 1..65533 ms,
// 65534 continuous, 65535 until one packet arrived
func (b *builtins) execP2PReceive(arg string) Status {
	v, ok := parseRange(arg, 0, 65535)
	if !ok {
		return ErrBadValue
	}
	b.rec().P2PRxWindow = uint16(v)
	if st := b.save(); st != OK {
		return st
	}
	b.env.Link.SetRxWindow(uint16(v))
	return OK
}
