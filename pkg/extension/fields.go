// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package extension

import (
	"fmt"

	"github.com/Thermoquad/loranode/pkg/settings"
	lua "github.com/yuin/gopher-lua"
)

// fieldValue maps a settings field name to a Lua value. Keys are returned
// as upper-case hex strings, unknown names as nil.
func fieldValue(r *settings.Record, field string) lua.LValue {
	switch field {
	case "dev_eui":
		return lua.LString(fmt.Sprintf("%X", r.DevEUI[:]))
	case "app_eui":
		return lua.LString(fmt.Sprintf("%X", r.AppEUI[:]))
	case "app_key":
		return lua.LString(fmt.Sprintf("%X", r.AppKey[:]))
	case "nwk_s_key":
		return lua.LString(fmt.Sprintf("%X", r.NwkSKey[:]))
	case "app_s_key":
		return lua.LString(fmt.Sprintf("%X", r.AppSKey[:]))
	case "dev_addr":
		return lua.LNumber(r.DevAddr)
	case "otaa":
		return lua.LBool(r.OTAAEnabled)
	case "adr":
		return lua.LBool(r.ADREnabled)
	case "public_network":
		return lua.LBool(r.PublicNetwork)
	case "duty_cycle":
		return lua.LBool(r.DutyCycle)
	case "send_repeat_time":
		return lua.LNumber(r.SendRepeatTime)
	case "join_trials":
		return lua.LNumber(r.JoinTrials)
	case "tx_power":
		return lua.LNumber(r.TxPower)
	case "data_rate":
		return lua.LNumber(r.DataRate)
	case "class":
		return lua.LNumber(r.Class)
	case "subband":
		return lua.LNumber(r.SubbandChannels)
	case "auto_join":
		return lua.LBool(r.AutoJoin)
	case "app_port":
		return lua.LNumber(r.AppPort)
	case "confirmed":
		return lua.LBool(r.ConfirmedMsg)
	case "region":
		return lua.LString(settings.RegionName(r.Region))
	case "lorawan":
		return lua.LBool(r.LoRaWANEnable)
	case "p2p_frequency":
		return lua.LNumber(r.P2PFrequency)
	case "p2p_tx_power":
		return lua.LNumber(r.P2PTxPower)
	case "p2p_bandwidth":
		return lua.LString(settings.BandwidthName(r.P2PBandwidth))
	case "p2p_sf":
		return lua.LNumber(r.P2PSF)
	case "p2p_cr":
		return lua.LNumber(r.P2PCR)
	case "p2p_preamble":
		return lua.LNumber(r.P2PPreambleLen)
	case "p2p_symbol_timeout":
		return lua.LNumber(r.P2PSymbolTimeout)
	case "reset_request":
		return lua.LBool(r.ResetRequest)
	case "p2p_rx_window":
		return lua.LNumber(r.P2PRxWindow)
	default:
		return lua.LNil
	}
}
