// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package atcmd

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/Thermoquad/loranode/pkg/settings"
)

func (b *builtins) systemCommands() []Descriptor {
	return []Descriptor{
		{Name: "R", Help: "Restore default settings", Run: b.restore, Perm: PermWrite},
		{Name: "Z", Help: "Restart the node", Run: b.reboot, Perm: PermWrite},
	}
}

func (b *builtins) restore() Status {
	if err := b.env.Store.Reset(); err != nil {
		b.reg.logger.Error().Err(err).Msg("Factory reset failed")
		return ErrExecFailed
	}
	return OK
}

func (b *builtins) reboot() Status {
	b.env.Device.RequestRestart()
	return OK
}

func (b *builtins) lorawanCommands() []Descriptor {
	return []Descriptor{
		b.key("+APPEUI", "Get or set the application EUI", func(r *settings.Record) []byte { return r.AppEUI[:] }),
		b.key("+APPKEY", "Get or set the application key", func(r *settings.Record) []byte { return r.AppKey[:] }),
		b.key("+DEVEUI", "Get or set the device EUI", func(r *settings.Record) []byte { return r.DevEUI[:] }),
		b.key("+APPSKEY", "Get or set the application session key", func(r *settings.Record) []byte { return r.AppSKey[:] }),
		b.key("+NWKSKEY", "Get or set the network session key", func(r *settings.Record) []byte { return r.NwkSKey[:] }),
		{Name: "+DEVADDR", Help: "Get or set the device address", Query: b.queryDevAddr, Exec: b.execDevAddr, Perm: PermReadWrite, Mode: ModeLoRaWAN},
		b.toggle("+CFM", "Get or set the confirm mode", func(r *settings.Record) *bool { return &r.ConfirmedMsg }, nil),
		{Name: "+JOIN", Help: "Join network", Query: b.queryJoin, Exec: b.execJoin, Perm: PermReadWrite, Mode: ModeAny, QueryMode: ModeLoRaWAN},
		{Name: "+NJS", Help: "Get the join status", Query: b.queryJoinStatus, Perm: PermRead, QueryMode: ModeLoRaWAN},
		b.toggle("+NJM", "Get or set the network join mode", func(r *settings.Record) *bool { return &r.OTAAEnabled }, nil),
		{Name: "+SEND", Help: "Send data", Exec: b.execSend, Perm: PermWrite, Mode: ModeLoRaWAN},
		b.toggle("+ADR", "Get or set the adaptive data rate setting", func(r *settings.Record) *bool { return &r.ADREnabled }, func() {
			b.env.Link.SetDataRate(b.rec().DataRate, b.rec().ADREnabled)
		}),
		{Name: "+CLASS", Help: "Get or set the device class", Query: b.queryClass, Exec: b.execClass, Perm: PermReadWrite, Mode: ModeLoRaWAN},
		{Name: "+DR", Help: "Get or set the TX data rate=[0..15]", Query: b.queryDataRate, Exec: b.execDataRate, Perm: PermReadWrite, Mode: ModeLoRaWAN},
		{Name: "+TXP", Help: "Get or set the transmit power=[0..10]", Query: b.queryTxPower, Exec: b.execTxPower, Perm: PermReadWrite, Mode: ModeLoRaWAN},
		{Name: "+BAND", Help: "Get and set the LoRaWAN region (0 = EU433, 1 = CN470, 2 = RU864, 3 = IN865, 4 = EU868, 5 = US915, 6 = AU915, 7 = KR920, 8 = AS923-1, 9 = AS923-2, 10 = AS923-3, 11 = AS923-4, 12 = CN779)",
			Query: b.queryBand, Exec: b.execBand, Perm: PermReadWrite, Mode: ModeLoRaWAN},
		{Name: "+MASK", Help: "Get and set the channel mask", Query: b.queryMask, Exec: b.execMask, Perm: PermReadWrite, Mode: ModeLoRaWAN},
	}
}

// key builds a fixed-length hex key command
func (b *builtins) key(name, help string, field func(*settings.Record) []byte) Descriptor {
	return Descriptor{
		Name: name,
		Help: help,
		Query: func() (string, Status) {
			return fmt.Sprintf("%X", field(b.rec())), OK
		},
		Exec: func(arg string) Status {
			dst := field(b.rec())
			var tmp [16]byte
			n, err := DecodeHex(tmp[:len(dst)], arg)
			if err != nil || n != len(dst) {
				return ErrBadValue
			}
			copy(dst, tmp[:n])
			return b.save()
		},
		Perm: PermReadWrite,
		Mode: ModeLoRaWAN,
	}
}

// toggle builds a 0/1 command. apply runs after a successful save.
func (b *builtins) toggle(name, help string, field func(*settings.Record) *bool, apply func()) Descriptor {
	return Descriptor{
		Name: name,
		Help: help,
		Query: func() (string, Status) {
			return flag(*field(b.rec())), OK
		},
		Exec: func(arg string) Status {
			v, ok := parseFlag(arg)
			if !ok {
				return ErrBadValue
			}
			*field(b.rec()) = v
			if st := b.save(); st != OK {
				return st
			}
			if apply != nil {
				apply()
			}
			return OK
		},
		Perm: PermReadWrite,
		Mode: ModeLoRaWAN,
	}
}

func (b *builtins) queryDevAddr() (string, Status) {
	if addr := b.env.Link.DevAddr(); addr != 0 && b.rec().OTAAEnabled {
		return fmt.Sprintf("%08X", addr), OK
	}
	return fmt.Sprintf("%08X", b.rec().DevAddr), OK
}

func (b *builtins) execDevAddr(arg string) Status {
	var tmp [4]byte
	n, err := DecodeHex(tmp[:], arg)
	if err != nil || n != len(tmp) {
		return ErrBadValue
	}
	b.rec().DevAddr = binary.BigEndian.Uint32(tmp[:])
	return b.save()
}

// ============================================================
// Join
// ============================================================

func (b *builtins) queryJoin() (string, Status) {
	r := b.rec()
	return fmt.Sprintf("%s:%s:%d:%d", flag(b.env.Link.Joined()), flag(r.AutoJoin), 8, r.JoinTrials), OK
}

// execJoin handles join:auto[:interval:trials]. The interval is accepted
// and ignored.
func (b *builtins) execJoin(arg string) Status {
	parts := strings.Split(arg, ":")
	if len(parts) < 2 || len(parts) == 3 || len(parts) > 4 {
		return ErrParamCount
	}
	join, ok := parseFlag(parts[0])
	if !ok {
		return ErrBadValue
	}
	auto, ok := parseFlag(parts[1])
	if !ok {
		return ErrBadValue
	}
	link := b.env.Link
	r := b.rec()

	if !r.LoRaWANEnable {
		if !link.Initialized() {
			if err := link.Init(); err != nil {
				b.reg.logger.Error().Err(err).Msg("P2P init failed")
				return ErrExecFailed
			}
		} else if join {
			link.Receive(0)
		}
		r.AutoJoin = auto
		if !join && !auto {
			link.Sleep()
		}
		return b.save()
	}

	trials := r.JoinTrials
	if len(parts) == 4 {
		if _, ok := parseRange(parts[2], 0, 255); !ok {
			return ErrBadValue
		}
		v, ok := parseRange(parts[3], 1, 255)
		if !ok {
			return ErrBadValue
		}
		trials = uint8(v)
		link.SetConfirmRetries(trials)
	}
	r.AutoJoin = auto
	r.JoinTrials = trials
	if st := b.save(); st != OK {
		return st
	}

	switch {
	case !join:
	case !link.Initialized():
		if err := link.Init(); err != nil {
			b.reg.logger.Error().Err(err).Msg("LoRaWAN init failed")
			return ErrExecFailed
		}
	case !link.Joined():
		if err := link.Join(); err != nil {
			b.reg.logger.Error().Err(err).Msg("Join request failed")
			return ErrExecFailed
		}
	case auto:
		b.env.Device.RequestRestart()
	}
	return OK
}

func (b *builtins) queryJoinStatus() (string, Status) {
	return flag(b.env.Link.Joined()), OK
}

// ============================================================
// Send
// ============================================================

// execSend handles port:hex
func (b *builtins) execSend(arg string) Status {
	if !b.env.Link.Joined() {
		return ErrNotAllowed
	}
	portStr, data, found := strings.Cut(arg, ":")
	if !found {
		return ErrParamCount
	}
	port, ok := parseRange(portStr, 1, 255)
	if !ok {
		return ErrBadValue
	}
	if len(data) > 254 {
		return ErrBadValue
	}
	var buf [127]byte
	n, err := DecodeHex(buf[:], data)
	if err != nil {
		return ErrBadValue
	}
	if err := b.env.Link.SendLoRaWAN(uint8(port), buf[:n]); err != nil {
		b.reg.logger.Warn().Err(err).Msg("Send failed")
		return ErrExecFailed
	}
	return OK
}

// ============================================================
// Radio parameters
// ============================================================

func (b *builtins) queryClass() (string, Status) {
	return string(rune('A' + b.rec().Class)), OK
}

func (b *builtins) execClass(arg string) Status {
	if len(arg) != 1 {
		return ErrBadValue
	}
	switch arg[0] {
	case 'A':
		b.rec().Class = settings.ClassA
	case 'C':
		b.rec().Class = settings.ClassC
	default:
		return ErrBadValue
	}
	return b.save()
}

func (b *builtins) queryDataRate() (string, Status) {
	return fmt.Sprintf("%d", b.rec().DataRate), OK
}

func (b *builtins) execDataRate(arg string) Status {
	v, ok := parseRange(arg, 0, settings.MaxDataRate)
	if !ok {
		return ErrBadValue
	}
	r := b.rec()
	r.DataRate = uint8(v)
	if st := b.save(); st != OK {
		return st
	}
	b.env.Link.SetDataRate(r.DataRate, r.ADREnabled)
	return OK
}

func (b *builtins) queryTxPower() (string, Status) {
	return fmt.Sprintf("%d", b.rec().TxPower), OK
}

func (b *builtins) execTxPower(arg string) Status {
	v, ok := parseRange(arg, 0, settings.MaxTxPower)
	if !ok {
		return ErrBadValue
	}
	b.rec().TxPower = uint8(v)
	if st := b.save(); st != OK {
		return st
	}
	b.env.Link.SetTxPower(uint8(v))
	return OK
}

func (b *builtins) queryBand() (string, Status) {
	tool, ok := settings.ToolRegion(b.rec().Region)
	if !ok {
		return "", ErrSystem
	}
	return fmt.Sprintf("%d", tool), OK
}

func (b *builtins) execBand(arg string) Status {
	v, ok := parseRange(arg, 0, 12)
	if !ok {
		return ErrBadValue
	}
	api, ok := settings.APIRegion(uint8(v))
	if !ok {
		return ErrBadValue
	}
	b.rec().Region = api
	return b.save()
}

// maxSubband returns the number of sub-bands of regions with a channel mask
func maxSubband(region uint8) (uint8, bool) {
	switch region {
	case settings.RegionUS915, settings.RegionAU915:
		return 9, true
	case settings.RegionCN470:
		return 12, true
	}
	return 0, false
}

func (b *builtins) queryMask() (string, Status) {
	r := b.rec()
	if _, ok := maxSubband(r.Region); !ok {
		return "", ErrNotAllowed
	}
	return fmt.Sprintf("%04X", 1<<(r.SubbandChannels-1)), OK
}

// execMask takes a hex mask with exactly one bit set, bit n selecting
// sub-band n+1
func (b *builtins) execMask(arg string) Status {
	r := b.rec()
	limit, ok := maxSubband(r.Region)
	if !ok {
		return ErrNotAllowed
	}
	var tmp [2]byte
	n, err := DecodeHex(tmp[:], arg)
	if err != nil || n != 2 {
		return ErrBadValue
	}
	mask := binary.BigEndian.Uint16(tmp[:])
	if mask == 0 || mask&(mask-1) != 0 || mask > 0x0800 {
		return ErrBadValue
	}
	subband := uint8(1)
	for mask > 1 {
		mask >>= 1
		subband++
	}
	if subband > limit {
		return ErrBadValue
	}
	r.SubbandChannels = subband
	return b.save()
}
