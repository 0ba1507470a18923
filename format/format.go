// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package format prints block trace records one per line in the style
// of blkparse, with optional user-supplied format strings.
//
// A format string contains literal text and directives of the form
// %[-][width]verb. The verbs are:
//
//	%a  action letters (Q, D, C, ...)
//	%c  cpu
//	%C  command name of the pid
//	%d  RWBS direction and flags
//	%D  device as major,minor
//	%e  error value
//	%M  major device number
//	%m  minor device number
//	%n  number of sectors
//	%N  number of bytes
//	%p  pid
//	%P  payload, in hex
//	%s  sequence number
//	%S  sector
//	%t  nanoseconds part of the time
//	%T  seconds part of the time
//	%u  microseconds from queue to this event, for completions
//	%U  requests released by an unplug
//
// The escape \n is replaced by a newline.
package format

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/xerrors"

	"golang.org/x/exp/blktrace"
)

// Header is the prefix of every default line.
const Header = "%D %2c %8s %5T.%9t %5p %2a %3d "

// Namer resolves pids to command names.
type Namer interface {
	ProcessName(pid uint32) string
}

// Options configures a Formatter.
type Options struct {
	// Format, if set, replaces the default layout of every action.
	Format string
	// Formats replaces the layout of individual actions. It takes
	// precedence over Format.
	Formats map[blktrace.ActionCode]string

	// Mask, if non-zero, drops I/O records none of whose categories
	// are in the mask.
	Mask blktrace.Category

	// Dump, if set, receives every printed record in binary form.
	Dump      io.Writer
	DumpOrder binary.ByteOrder

	Names Namer
}

// A Formatter writes records as text.
type Formatter struct {
	w       *bufio.Writer
	opts    Options
	enc     *blktrace.Encoder
	layouts map[string][]piece
	queued  map[queueKey]uint64 // queue times, for %u
	err     error
}

type queueKey struct {
	dev    blktrace.Dev
	sector uint64
}

// New returns a Formatter writing to w.
func New(w io.Writer, opts Options) (*Formatter, error) {
	f := &Formatter{
		w:       bufio.NewWriter(w),
		opts:    opts,
		layouts: make(map[string][]piece),
		queued:  make(map[queueKey]uint64),
	}
	for _, s := range append([]string{opts.Format}, maps.Values(opts.Formats)...) {
		if _, err := f.layout(s); err != nil {
			return nil, err
		}
	}
	if opts.Dump != nil {
		order := opts.DumpOrder
		if order == nil {
			order = binary.LittleEndian
		}
		f.enc = blktrace.NewEncoder(order)
	}
	return f, nil
}

// Format writes rec, unless the mask excludes it. It reports whether
// rec was written.
func (f *Formatter) Format(rec *blktrace.Record) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if rec.Action.IsNotify() {
		if rec.Action.Code() != blktrace.NotifyMessage {
			return false, nil
		}
		f.exec(mustLayout(f, Header), rec)
		f.w.WriteString(blktrace.Message(rec))
		f.w.WriteByte('\n')
		return true, f.err
	}
	if f.opts.Mask != 0 && rec.Action.Category()&f.opts.Mask == 0 {
		return false, nil
	}
	code := rec.Action.Code()
	k := queueKey{rec.Device, rec.Sector}
	if code == blktrace.ActQueue {
		f.queued[k] = rec.Time
	}
	switch s, ok := f.opts.Formats[code]; {
	case ok:
		f.exec(mustLayout(f, s), rec)
	case f.opts.Format != "":
		f.exec(mustLayout(f, f.opts.Format), rec)
	default:
		f.exec(mustLayout(f, Header), rec)
		f.defaultTail(rec)
		f.w.WriteByte('\n')
	}
	if code == blktrace.ActComplete {
		delete(f.queued, k)
	}
	if f.enc != nil && f.err == nil {
		f.err = f.enc.WriteRecord(f.opts.Dump, rec)
	}
	return true, f.err
}

// Flush writes any buffered text.
func (f *Formatter) Flush() error {
	if err := f.w.Flush(); err != nil && f.err == nil {
		f.err = err
	}
	return f.err
}

func (f *Formatter) defaultTail(rec *blktrace.Record) {
	code := rec.Action.Code()
	switch code {
	case blktrace.ActPlug:
		f.exec(mustLayout(f, "[%C]"), rec)
	case blktrace.ActUnplugIO, blktrace.ActUnplugTimer:
		f.exec(mustLayout(f, "[%C] %U"), rec)
	case blktrace.ActRemap:
		f.exec(mustLayout(f, "%S + %n"), rec)
		if m, ok := blktrace.RemapPDU(rec); ok {
			fmt.Fprintf(f.w, " <- (%s) %d", m.From, m.FromSector)
		}
	case blktrace.ActSplit:
		f.exec(mustLayout(f, "%S"), rec)
		if s, ok := blktrace.SplitSector(rec); ok {
			fmt.Fprintf(f.w, " / %d", s)
		}
		f.exec(mustLayout(f, " [%C]"), rec)
	case blktrace.ActComplete, blktrace.ActRequeue, blktrace.ActAbort:
		if rec.Bytes != 0 {
			f.exec(mustLayout(f, "%S + %n "), rec)
		}
		f.exec(mustLayout(f, "[%e]"), rec)
	default:
		if rec.Bytes != 0 {
			f.exec(mustLayout(f, "%S + %n "), rec)
		}
		f.exec(mustLayout(f, "[%C]"), rec)
	}
}

type piece struct {
	lit   string
	verb  byte
	width int
	left  bool
	zero  bool
}

// ErrBadFormat is returned for a malformed format string.
var ErrBadFormat = xerrors.New("format: bad format string")

const verbs = "acCdDeMmnNpPsStTuU"

func (f *Formatter) layout(s string) ([]piece, error) {
	if ps, ok := f.layouts[s]; ok {
		return ps, nil
	}
	ps, err := parse(s)
	if err != nil {
		return nil, err
	}
	f.layouts[s] = ps
	return ps, nil
}

func mustLayout(f *Formatter, s string) []piece {
	ps, err := f.layout(s)
	if err != nil {
		panic(err)
	}
	return ps
}

func parse(s string) ([]piece, error) {
	s = strings.ReplaceAll(s, `\n`, "\n")
	var ps []piece
	var lit strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '%' {
			lit.WriteByte(c)
			continue
		}
		i++
		if i < len(s) && s[i] == '%' {
			lit.WriteByte('%')
			continue
		}
		if lit.Len() > 0 {
			ps = append(ps, piece{lit: lit.String()})
			lit.Reset()
		}
		p := piece{}
		if i < len(s) && s[i] == '-' {
			p.left = true
			i++
		}
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i > start {
			p.zero = s[start] == '0'
			p.width, _ = strconv.Atoi(s[start:i])
		}
		if i >= len(s) || !strings.ContainsRune(verbs, rune(s[i])) {
			return nil, xerrors.Errorf("%q at offset %d: %w", s, start, ErrBadFormat)
		}
		p.verb = s[i]
		if p.verb == 't' {
			p.zero = true
		}
		ps = append(ps, p)
	}
	if lit.Len() > 0 {
		ps = append(ps, piece{lit: lit.String()})
	}
	return ps, nil
}

func (f *Formatter) exec(ps []piece, rec *blktrace.Record) {
	for _, p := range ps {
		if p.verb == 0 {
			f.w.WriteString(p.lit)
			continue
		}
		v, num := f.value(p.verb, rec)
		pad(f.w, v, p, num)
	}
}

// value returns the text of verb for rec, and whether it is numeric.
func (f *Formatter) value(verb byte, rec *blktrace.Record) (string, bool) {
	u := func(v uint64) (string, bool) { return strconv.FormatUint(v, 10), true }
	switch verb {
	case 'a':
		if rec.Action.IsNotify() {
			return "m", false
		}
		return rec.Action.Code().String(), false
	case 'c':
		return u(uint64(rec.CPU))
	case 'C':
		if f.opts.Names != nil {
			if n := f.opts.Names.ProcessName(rec.PID); n != "" {
				return n, false
			}
		}
		return strconv.FormatUint(uint64(rec.PID), 10), false
	case 'd':
		return rec.RWBS(), false
	case 'D':
		return rec.Device.String(), false
	case 'e':
		return u(uint64(rec.Error))
	case 'M':
		return u(uint64(rec.Device.Major()))
	case 'm':
		return u(uint64(rec.Device.Minor()))
	case 'n':
		return u(rec.Sectors())
	case 'N':
		return u(uint64(rec.Bytes))
	case 'p':
		return u(uint64(rec.PID))
	case 'P':
		return hex.EncodeToString(rec.PDU), false
	case 's':
		return u(uint64(rec.Sequence))
	case 'S':
		return u(rec.Sector)
	case 't':
		return u(rec.Time % 1e9)
	case 'T':
		return u(rec.Time / 1e9)
	case 'u':
		if q, ok := f.queued[queueKey{rec.Device, rec.Sector}]; ok && rec.Action.Code() == blktrace.ActComplete && rec.Time >= q {
			return u((rec.Time - q) / 1000)
		}
		return u(0)
	case 'U':
		n, _ := blktrace.UnplugCount(rec)
		return u(n)
	}
	return "", false
}

func pad(w *bufio.Writer, v string, p piece, numeric bool) {
	n := p.width - len(v)
	if n <= 0 {
		w.WriteString(v)
		return
	}
	fill := " "
	if p.zero && numeric && !p.left {
		fill = "0"
	}
	if p.left {
		w.WriteString(v)
		w.WriteString(strings.Repeat(" ", n))
		return
	}
	w.WriteString(strings.Repeat(fill, n))
	w.WriteString(v)
}
