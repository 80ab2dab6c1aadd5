// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package atcmd assembles AT command lines byte by byte, resolves them against
// layered command tables and writes the textual reply.
//
// A line has the form AT<name><shape>, where shape is one of
//
//	?        describe the command
//	=?       query the value
//	=<value> set the value
//	(empty)  run the command
//
// Lookup goes through the built-in table, the user table and the fallback
// handler, in that order.
package atcmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LineSize is the capacity of the line buffer. A line that reaches it is
// discarded.
const LineSize = 160

// ErrorPrefix starts every error reply
const ErrorPrefix = "+CME ERROR:"

type shape uint8

const (
	shapeDescribe shape = iota
	shapeQuery
	shapeExec
	shapeRun
)

func (s shape) String() string {
	return [...]string{"describe", "query", "exec", "run"}[s]
}

// Registry is the command dispatcher. It is not safe for concurrent use;
// feed it from one task.
type Registry struct {
	out      io.Writer
	logger   zerolog.Logger
	lorawan  func() bool
	builtins []Descriptor
	user     []Descriptor
	fallback func(line string) bool
	echo     io.Writer

	buf [LineSize]byte
	n   int
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry logger
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithModeSource sets the function reporting whether the node is in LoRaWAN
// mode. Requests on mode-restricted descriptors are checked against it.
func WithModeSource(lorawan func() bool) Option {
	return func(r *Registry) {
		r.lorawan = lorawan
	}
}

// WithEcho writes every input byte back to w as it is fed. A backspace is
// followed by " \b" so a terminal erases the character.
func WithEcho(w io.Writer) Option {
	return func(r *Registry) {
		r.echo = w
	}
}

// NewRegistry creates a registry that writes replies to out
func NewRegistry(out io.Writer, opts ...Option) *Registry {
	r := &Registry{
		out:    out,
		logger: log.With().Str("component", "atcmd").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterCommands installs the user table. Entries without a permission
// are read-write.
func (r *Registry) RegisterCommands(ds []Descriptor) {
	for _, d := range ds {
		if d.Perm == 0 {
			d.Perm = PermReadWrite
		}
		r.user = append(r.user, d)
	}
	r.logger.Debug().Int("count", len(ds)).Msg("User commands registered")
}

// RegisterFallback installs the handler for lines no table resolves.
// It receives the complete line and reports whether it handled it.
func (r *Registry) RegisterFallback(fn func(line string) bool) {
	r.fallback = fn
}

// Builtins returns the built-in table
func (r *Registry) Builtins() []Descriptor {
	return r.builtins
}

// Printf writes one reply line
func (r *Registry) Printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format+"\r\n", args...)
}

// ============================================================
// Line assembly
// ============================================================

// Pending returns the number of buffered characters
func (r *Registry) Pending() int {
	return r.n
}

// Feed passes every byte of p to FeedByte
func (r *Registry) Feed(p []byte) {
	for _, b := range p {
		r.FeedByte(b)
	}
}

// FeedByte adds one input byte to the line buffer. A line terminator
// dispatches the buffered line.
func (r *Registry) FeedByte(b byte) {
	if r.echo != nil {
		r.echo.Write([]byte{b})
	}
	switch b {
	case '\r', '\n':
		if r.n == 0 {
			return
		}
		line := string(r.buf[:r.n])
		r.n = 0
		r.Execute(line)
		return
	case 0x08, 0x7F:
		if r.echo != nil {
			io.WriteString(r.echo, " \b")
		}
		if r.n > 0 {
			r.n--
		}
		return
	}

	if b >= 'a' && b <= 'z' {
		b -= 'a' - 'A'
	}
	if !allowed(b) {
		return
	}

	r.buf[r.n] = b
	r.n++
	if r.n >= LineSize {
		r.logger.Warn().Int("size", LineSize).Msg("Line too long, discarded")
		r.n = 0
	}
}

func allowed(b byte) bool {
	switch {
	case b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	}
	return strings.IndexByte("?+:=, ", b) >= 0
}

// ============================================================
// Dispatch
// ============================================================

// Execute resolves one complete line and writes the reply
func (r *Registry) Execute(line string) {
	if len(line) < 2 || line[:2] != "AT" {
		r.logger.Debug().Str("line", line).Msg("Not an AT command, ignored")
		return
	}
	name := line[2:]
	if strings.HasPrefix(name, "C") {
		name = name[1:]
	}

	if name == "" {
		r.Printf("OK")
		return
	}
	if name == "?" {
		r.list()
		return
	}

	if d, sh, arg, ok := match(r.builtins, name); ok {
		r.dispatch(d, sh, arg)
		return
	}
	if d, sh, arg, ok := match(r.user, name); ok {
		r.dispatch(d, sh, arg)
		return
	}
	if r.fallback != nil && r.fallback(line) {
		return
	}

	r.logger.Debug().Str("line", line).Msg("Unknown command")
	r.finish(ErrNoSupport)
}

func match(table []Descriptor, name string) (*Descriptor, shape, string, bool) {
	for i := range table {
		d := &table[i]
		if !strings.HasPrefix(name, d.Name) {
			continue
		}
		tail := name[len(d.Name):]
		switch {
		case tail == "?":
			return d, shapeDescribe, "", true
		case tail == "=?":
			return d, shapeQuery, "", true
		case len(tail) > 1 && tail[0] == '=':
			return d, shapeExec, tail[1:], true
		case tail == "":
			return d, shapeRun, "", true
		}
	}
	return nil, 0, "", false
}

func (r *Registry) dispatch(d *Descriptor, sh shape, arg string) {
	r.logger.Debug().Str("cmd", d.Name).Stringer("shape", sh).Msg("Dispatch")

	if sh == shapeDescribe {
		if d.Help == "" {
			r.Printf("%s", d.Name)
		} else {
			r.Printf("AT%s:\"%s\"", d.Name, d.Help)
		}
		r.Printf("OK")
		return
	}

	if st := r.check(d, sh); st != OK {
		r.finish(st)
		return
	}

	switch sh {
	case shapeQuery:
		value, st := d.Query()
		if st != OK {
			r.finish(st)
			return
		}
		r.Printf("AT%s=%s", d.Name, value)
		r.Printf("OK")
	case shapeExec:
		r.finish(d.Exec(arg))
	case shapeRun:
		r.finish(d.Run())
	}
}

// check enforces permission, mode and slot presence before any callback runs
func (r *Registry) check(d *Descriptor, sh shape) Status {
	need := PermWrite
	if sh == shapeQuery {
		need = PermRead
	}
	if d.Perm&need == 0 {
		return ErrNotAllowed
	}
	if r.lorawan != nil {
		mode := d.Mode
		if need == PermRead {
			mode = d.QueryMode
		}
		if !mode.allows(r.lorawan()) {
			return ErrNotAllowed
		}
	}

	var present bool
	switch sh {
	case shapeQuery:
		present = d.Query != nil
	case shapeExec:
		present = d.Exec != nil
	case shapeRun:
		present = d.Run != nil
	}
	if !present {
		return ErrNoSupport
	}
	return OK
}

func (r *Registry) finish(st Status) {
	switch st {
	case OK:
		r.Printf("OK")
	case StatusPrinted:
	default:
		r.Printf("%s%x", ErrorPrefix, st.code())
	}
}

func (r *Registry) list() {
	r.Printf("AT+<CMD>?: help on <CMD>")
	r.Printf("AT+<CMD>: run <CMD>")
	r.Printf("AT+<CMD>=<value>: set the value")
	r.Printf("AT+<CMD>=?: get the value")
	for _, d := range r.builtins {
		prefix := "AT"
		if d.Custom {
			prefix = "ATC"
		}
		r.Printf("%s%s,%s: %s", prefix, d.Name, d.Perm, d.Help)
	}
	for _, d := range r.user {
		r.Printf("ATC%s,%s: %s", d.Name, d.Perm, d.Help)
	}
	r.Printf("OK")
}
