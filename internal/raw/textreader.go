// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package raw

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/exp/blktrace"
)

// TextReader parses records in text form.
type TextReader struct {
	s    *bufio.Scanner
	line int

	// Order is the byte order used for payloads the kernel writes in
	// header order, such as the start time of a timestamp notification.
	Order binary.ByteOrder
}

// NewTextReader returns a TextReader reading from r.
func NewTextReader(r io.Reader) *TextReader {
	return &TextReader{s: bufio.NewScanner(r), Order: binary.LittleEndian}
}

// ReadRecord returns the next record, or io.EOF.
func (r *TextReader) ReadRecord() (blktrace.Record, error) {
	for r.s.Scan() {
		r.line++
		line := strings.TrimSpace(r.s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec, err := r.parse(line)
		if err != nil {
			return blktrace.Record{}, fmt.Errorf("line %d: %v", r.line, err)
		}
		return rec, nil
	}
	if err := r.s.Err(); err != nil {
		return blktrace.Record{}, err
	}
	return blktrace.Record{}, io.EOF
}

// ReadAll returns every remaining record.
func (r *TextReader) ReadAll() ([]blktrace.Record, error) {
	var recs []blktrace.Record
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}

func (r *TextReader) parse(line string) (blktrace.Record, error) {
	name, rest, _ := strings.Cut(line, " ")
	rec := blktrace.Record{Magic: blktrace.Magic | blktrace.Version}
	code, cat, err := parseAction(name)
	if err != nil {
		return rec, err
	}
	haveCat := false
	for _, f := range splitFields(rest) {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			return rec, fmt.Errorf("malformed field %q", f)
		}
		switch k {
		case "dev":
			dev, err := parseDev(v)
			if err != nil {
				return rec, err
			}
			rec.Device = dev
		case "cpu":
			err = parseUint(v, 32, func(n uint64) { rec.CPU = uint32(n) })
		case "seq":
			err = parseUint(v, 32, func(n uint64) { rec.Sequence = uint32(n) })
		case "time":
			err = parseUint(v, 64, func(n uint64) { rec.Time = n })
		case "pid":
			err = parseUint(v, 32, func(n uint64) { rec.PID = uint32(n) })
		case "sector":
			err = parseUint(v, 64, func(n uint64) { rec.Sector = n })
		case "bytes":
			err = parseUint(v, 32, func(n uint64) { rec.Bytes = uint32(n) })
		case "err":
			err = parseUint(v, 16, func(n uint64) { rec.Error = uint16(n) })
		case "cat":
			haveCat = true
			for _, c := range strings.Split(v, ",") {
				bit, ok := blktrace.ParseCategory(c)
				if !ok {
					return rec, fmt.Errorf("unknown category %q", c)
				}
				cat |= bit
			}
		case "rwbs":
			bits, err := parseRWBS(v)
			if err != nil {
				return rec, err
			}
			cat |= bits
		case "remap":
			from, sector, ok := strings.Cut(v, "@")
			if !ok {
				return rec, fmt.Errorf("malformed remap %q", v)
			}
			dev, err := parseDev(from)
			if err != nil {
				return rec, err
			}
			n, err := strconv.ParseUint(sector, 10, 64)
			if err != nil {
				return rec, err
			}
			rec.PDU = blktrace.AppendRemapPDU(nil, blktrace.Remap{From: dev, To: rec.Device, FromSector: n})
		case "unplug", "split":
			err = parseUint(v, 64, func(n uint64) { rec.PDU = blktrace.AppendUint64PDU(nil, n) })
		case "start":
			sec, nsec, _ := strings.Cut(v, ".")
			s, err := strconv.ParseUint(sec, 10, 32)
			if err != nil {
				return rec, err
			}
			var ns uint64
			if nsec != "" {
				if ns, err = strconv.ParseUint(nsec, 10, 32); err != nil {
					return rec, err
				}
			}
			rec.PDU = make([]byte, 8)
			r.Order.PutUint32(rec.PDU[0:], uint32(s))
			r.Order.PutUint32(rec.PDU[4:], uint32(ns))
		case "data":
			s, err := strconv.Unquote(v)
			if err != nil {
				return rec, fmt.Errorf("bad data %s: %v", v, err)
			}
			rec.PDU = []byte(s)
		default:
			return rec, fmt.Errorf("unknown field %q", k)
		}
		if err != nil {
			return rec, fmt.Errorf("field %s: %v", k, err)
		}
	}
	if !haveCat {
		cat |= impliedCategory(code, cat)
	}
	rec.Action = blktrace.MakeAction(code, cat)
	rec.PDULen = uint16(len(rec.PDU))
	return rec, nil
}

// splitFields splits on spaces outside quoted values.
func splitFields(s string) []string {
	var fields []string
	start, quoted := -1, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' && (i == 0 || s[i-1] != '\\'):
			quoted = !quoted
			if start < 0 {
				start = i
			}
		case c == ' ' && !quoted:
			if start >= 0 {
				fields = append(fields, s[start:i])
				start = -1
			}
		default:
			if start < 0 {
				start = i
			}
		}
	}
	if start >= 0 {
		fields = append(fields, s[start:])
	}
	return fields
}

func parseUint(v string, bits int, set func(uint64)) error {
	n, err := strconv.ParseUint(v, 10, bits)
	if err != nil {
		return err
	}
	set(n)
	return nil
}

func parseDev(v string) (blktrace.Dev, error) {
	maj, min, ok := strings.Cut(v, ",")
	if !ok {
		return 0, fmt.Errorf("malformed device %q", v)
	}
	a, err := strconv.ParseUint(maj, 10, 12)
	if err != nil {
		return 0, err
	}
	b, err := strconv.ParseUint(min, 10, 20)
	if err != nil {
		return 0, err
	}
	return blktrace.MakeDev(uint32(a), uint32(b)), nil
}

var actionCodes = func() map[string]blktrace.ActionCode {
	m := make(map[string]blktrace.ActionCode)
	for c := blktrace.ActQueue; c <= blktrace.ActDriverData; c++ {
		m[c.String()] = c
	}
	return m
}()

func parseAction(name string) (blktrace.ActionCode, blktrace.Category, error) {
	if c, ok := actionCodes[name]; ok {
		return c, 0, nil
	}
	for c, n := range notifyNames {
		if n == name {
			return c, blktrace.CatNotify, nil
		}
	}
	return 0, 0, fmt.Errorf("unknown action %q", name)
}

func parseRWBS(v string) (blktrace.Category, error) {
	var cat blktrace.Category
	for _, c := range v {
		switch c {
		case 'R':
			cat |= blktrace.CatRead
		case 'W':
			cat |= blktrace.CatWrite
		case 'D':
			cat |= blktrace.CatDiscard
		case 'B':
			cat |= blktrace.CatBarrier
		case 'F':
			cat |= blktrace.CatFUA
		case 'A':
			cat |= blktrace.CatAhead
		case 'S':
			cat |= blktrace.CatSync
		case 'M':
			cat |= blktrace.CatMeta
		case 'N':
		default:
			return 0, fmt.Errorf("bad rwbs %q", v)
		}
	}
	return cat, nil
}

// impliedCategory returns the category bit the kernel attaches to each
// action.
func impliedCategory(code blktrace.ActionCode, cat blktrace.Category) blktrace.Category {
	if cat&blktrace.CatNotify != 0 {
		return 0
	}
	switch code {
	case blktrace.ActQueue, blktrace.ActBackMerge, blktrace.ActFrontMerge,
		blktrace.ActGetRequest, blktrace.ActSleepRequest, blktrace.ActPlug,
		blktrace.ActUnplugIO, blktrace.ActUnplugTimer, blktrace.ActInsert,
		blktrace.ActRemap:
		return blktrace.CatQueue
	case blktrace.ActRequeue:
		return blktrace.CatRequeue
	case blktrace.ActIssue:
		return blktrace.CatIssue
	case blktrace.ActComplete:
		return blktrace.CatComplete
	}
	return 0
}
