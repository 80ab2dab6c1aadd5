// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package extension loads a Lua script that adds AT commands and a fallback
// line handler to the command registry.
//
// Scripts see two modules:
//
//	at.register{name="+HELLO", help="say hello", perm="R", query=function() return 0, "hi" end}
//	at.fallback(function(line) return false end)
//	at.print("text")
//	settings.get("app_port")
//
// Callbacks return a numeric status (0 is OK) and, for queries, a value.
// The state is not goroutine-safe; callbacks run on the node's main task.
package extension

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Thermoquad/loranode/pkg/atcmd"
	"github.com/Thermoquad/loranode/pkg/settings"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// ErrNoName is raised when at.register is given an entry without a name
var ErrNoName = errors.New("command needs a name")

// Engine owns the Lua state and the tables it produced
type Engine struct {
	L        *lua.LState
	store    *settings.Store
	reg      *atcmd.Registry
	commands []atcmd.Descriptor
	fallback *lua.LFunction
	logger   zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// New creates an engine. store may be nil, in which case settings.get
// always returns nil.
func New(store *settings.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		logger: log.With().Str("component", "extension").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(e.L)
	lua.OpenTable(e.L)
	lua.OpenString(e.L)
	lua.OpenMath(e.L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require"} {
		e.L.SetGlobal(name, lua.LNil)
	}

	at := e.L.NewTable()
	e.L.SetFuncs(at, map[string]lua.LGFunction{
		"register": e.luaRegister,
		"fallback": e.luaFallback,
		"print":    e.luaPrint,
	})
	e.L.SetGlobal("at", at)

	st := e.L.NewTable()
	e.L.SetFuncs(st, map[string]lua.LGFunction{
		"get": e.luaSettingsGet,
	})
	e.L.SetGlobal("settings", st)

	return e
}

// Close releases the Lua state
func (e *Engine) Close() {
	e.L.Close()
}

// DoString runs a script chunk
func (e *Engine) DoString(src string) error {
	if err := e.L.DoString(src); err != nil {
		return fmt.Errorf("extension script failed: %w", err)
	}
	return nil
}

// DoFile runs a script file
func (e *Engine) DoFile(path string) error {
	if err := e.L.DoFile(path); err != nil {
		return fmt.Errorf("extension script %s failed: %w", path, err)
	}
	e.logger.Info().Str("script", path).Int("commands", len(e.commands)).Msg("Extension loaded")
	return nil
}

// Commands returns the descriptors registered so far
func (e *Engine) Commands() []atcmd.Descriptor {
	return e.commands
}

// HasFallback reports whether the script installed a fallback handler
func (e *Engine) HasFallback() bool {
	return e.fallback != nil
}

// Install hands the user table and fallback to reg. at.print writes
// through reg from then on.
func (e *Engine) Install(reg *atcmd.Registry) {
	e.reg = reg
	if len(e.commands) > 0 {
		reg.RegisterCommands(e.commands)
	}
	if e.fallback != nil {
		reg.RegisterFallback(e.handleLine)
	}
}

// ============================================================
// Lua API
// ============================================================

func (e *Engine) luaRegister(L *lua.LState) int {
	tbl := L.CheckTable(1)

	name := lua.LVAsString(tbl.RawGetString("name"))
	if name == "" {
		L.ArgError(1, ErrNoName.Error())
		return 0
	}
	if !strings.HasPrefix(name, "+") {
		name = "+" + name
	}
	name = strings.ToUpper(name)

	d := atcmd.Descriptor{
		Name: name,
		Help: lua.LVAsString(tbl.RawGetString("help")),
		Mode: parseMode(lua.LVAsString(tbl.RawGetString("mode"))),
	}

	perm, err := parsePerm(tbl.RawGetString("perm"))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	d.Perm = perm

	if fn, ok := tbl.RawGetString("query").(*lua.LFunction); ok {
		d.Query = func() (string, atcmd.Status) { return e.callQuery(name, fn) }
	}
	if fn, ok := tbl.RawGetString("exec").(*lua.LFunction); ok {
		d.Exec = func(arg string) atcmd.Status { return e.callStatus(name, fn, lua.LString(arg)) }
	}
	if fn, ok := tbl.RawGetString("run").(*lua.LFunction); ok {
		d.Run = func() atcmd.Status { return e.callStatus(name, fn) }
	}

	e.commands = append(e.commands, d)
	e.logger.Debug().Str("cmd", name).Stringer("perm", d.Perm).Msg("Script command registered")
	return 0
}

func (e *Engine) luaFallback(L *lua.LState) int {
	e.fallback = L.CheckFunction(1)
	return 0
}

func (e *Engine) luaPrint(L *lua.LState) int {
	text := L.CheckString(1)
	if e.reg != nil {
		e.reg.Printf("%s", text)
	} else {
		e.logger.Info().Str("text", text).Msg("Script output")
	}
	return 0
}

func (e *Engine) luaSettingsGet(L *lua.LState) int {
	field := L.CheckString(1)
	if e.store == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(fieldValue(e.store.Record(), field))
	return 1
}

// ============================================================
// Callbacks
// ============================================================

func (e *Engine) callQuery(name string, fn *lua.LFunction) (string, atcmd.Status) {
	if err := e.L.CallByParam(lua.P{Fn: fn, NRet: 2, Protect: true}); err != nil {
		e.logger.Error().Err(err).Str("cmd", name).Msg("Script query failed")
		return "", atcmd.ErrExecFailed
	}
	value := e.L.Get(-1)
	status := e.L.Get(-2)
	e.L.Pop(2)

	st := toStatus(status)
	if st != atcmd.OK {
		return "", st
	}
	if value == lua.LNil {
		return "", atcmd.OK
	}
	return value.String(), atcmd.OK
}

func (e *Engine) callStatus(name string, fn *lua.LFunction, args ...lua.LValue) atcmd.Status {
	if err := e.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		e.logger.Error().Err(err).Str("cmd", name).Msg("Script command failed")
		return atcmd.ErrExecFailed
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)
	return toStatus(ret)
}

func (e *Engine) handleLine(line string) bool {
	if err := e.L.CallByParam(lua.P{Fn: e.fallback, NRet: 1, Protect: true}, lua.LString(line)); err != nil {
		e.logger.Error().Err(err).Str("line", line).Msg("Script fallback failed")
		return false
	}
	ret := e.L.Get(-1)
	e.L.Pop(1)
	return lua.LVAsBool(ret)
}

// nil means OK
func toStatus(v lua.LValue) atcmd.Status {
	switch v := v.(type) {
	case lua.LNumber:
		return atcmd.Status(int(v))
	case lua.LBool:
		if v {
			return atcmd.OK
		}
		return atcmd.ErrExecFailed
	default:
		return atcmd.OK
	}
}

func parsePerm(v lua.LValue) (atcmd.Perm, error) {
	switch v := v.(type) {
	case *lua.LNilType:
		return atcmd.PermReadWrite, nil
	case lua.LNumber:
		p := atcmd.Perm(int(v))
		if p == 0 || p > atcmd.PermReadWrite {
			return 0, fmt.Errorf("bad perm %d", int(v))
		}
		return p, nil
	case lua.LString:
		switch strings.ToUpper(string(v)) {
		case "R":
			return atcmd.PermRead, nil
		case "W":
			return atcmd.PermWrite, nil
		case "RW", "":
			return atcmd.PermReadWrite, nil
		}
	}
	return 0, fmt.Errorf("bad perm %q", v.String())
}

func parseMode(s string) atcmd.Mode {
	switch strings.ToLower(s) {
	case "lorawan":
		return atcmd.ModeLoRaWAN
	case "p2p":
		return atcmd.ModeP2P
	default:
		return atcmd.ModeAny
	}
}
