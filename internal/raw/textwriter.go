// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package raw converts between binary trace records and a line-based
// text form used for test fixtures and debugging.
//
// Each line holds one record: an action token followed by key=value
// fields.
//
//	Q dev=8,0 cpu=0 seq=1 time=100 pid=42 sector=2048 bytes=4096 cat=write,queue
//	A dev=8,16 cpu=0 seq=2 time=110 sector=100 bytes=4096 rwbs=W remap=8,0@2048
//	process dev=8,0 cpu=0 time=0 pid=42 data="dd"
//
// Blank lines and lines starting with '#' are ignored.
package raw

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/exp/blktrace"
)

// TextWriter writes records in text form.
type TextWriter struct {
	w io.Writer
}

// NewTextWriter returns a TextWriter writing to w.
func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: w}
}

// WriteRecord writes one record as a line of text.
func (w *TextWriter) WriteRecord(r *blktrace.Record) error {
	_, err := fmt.Fprintln(w.w, Format(r))
	return err
}

// Format returns the text form of r.
func Format(r *blktrace.Record) string {
	var s strings.Builder
	cat := r.Action.Category()
	if cat&blktrace.CatNotify != 0 {
		s.WriteString(notifyName(r.Action.Code()))
	} else {
		s.WriteString(r.Action.Code().String())
	}
	field := func(k, v string) {
		s.WriteByte(' ')
		s.WriteString(k)
		s.WriteByte('=')
		s.WriteString(v)
	}
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	field("dev", r.Device.String())
	field("cpu", u(uint64(r.CPU)))
	if r.Sequence != 0 {
		field("seq", u(uint64(r.Sequence)))
	}
	field("time", u(r.Time))
	if r.PID != 0 {
		field("pid", u(uint64(r.PID)))
	}
	if r.Sector != 0 || r.Bytes != 0 {
		field("sector", u(r.Sector))
		field("bytes", u(uint64(r.Bytes)))
	}
	if r.Error != 0 {
		field("err", u(uint64(r.Error)))
	}
	if cat != 0 {
		field("cat", categoryList(cat))
	}
	switch {
	case len(r.PDU) == 0:
	case cat&blktrace.CatNotify != 0 && r.Action.Code() == blktrace.NotifyTimestamp:
		field("data", strconv.Quote(string(r.PDU)))
	case cat&blktrace.CatNotify != 0:
		field("data", strconv.Quote(blktrace.Message(r)))
	case r.Action.Code() == blktrace.ActRemap:
		if m, ok := blktrace.RemapPDU(r); ok {
			field("remap", fmt.Sprintf("%v@%d", m.From, m.FromSector))
			break
		}
		field("data", strconv.Quote(string(r.PDU)))
	case r.Action.Code() == blktrace.ActUnplugIO || r.Action.Code() == blktrace.ActUnplugTimer:
		if n, ok := blktrace.UnplugCount(r); ok {
			field("unplug", u(n))
			break
		}
		field("data", strconv.Quote(string(r.PDU)))
	case r.Action.Code() == blktrace.ActSplit:
		if n, ok := blktrace.SplitSector(r); ok {
			field("split", u(n))
			break
		}
		field("data", strconv.Quote(string(r.PDU)))
	default:
		field("data", strconv.Quote(string(r.PDU)))
	}
	return s.String()
}

var categoryOrder = []struct {
	name string
	cat  blktrace.Category
}{
	{"read", blktrace.CatRead},
	{"write", blktrace.CatWrite},
	{"barrier", blktrace.CatBarrier},
	{"sync", blktrace.CatSync},
	{"queue", blktrace.CatQueue},
	{"requeue", blktrace.CatRequeue},
	{"issue", blktrace.CatIssue},
	{"complete", blktrace.CatComplete},
	{"fs", blktrace.CatFS},
	{"pc", blktrace.CatPC},
	{"notify", blktrace.CatNotify},
	{"ahead", blktrace.CatAhead},
	{"meta", blktrace.CatMeta},
	{"discard", blktrace.CatDiscard},
	{"drv_data", blktrace.CatDriverData},
	{"fua", blktrace.CatFUA},
}

func categoryList(c blktrace.Category) string {
	var names []string
	for _, e := range categoryOrder {
		if c&e.cat != 0 {
			names = append(names, e.name)
		}
	}
	return strings.Join(names, ",")
}

var notifyNames = map[blktrace.ActionCode]string{
	blktrace.NotifyProcess:   "process",
	blktrace.NotifyTimestamp: "timestamp",
	blktrace.NotifyMessage:   "message",
}

func notifyName(c blktrace.ActionCode) string {
	if n, ok := notifyNames[c]; ok {
		return n
	}
	return "notify" + strconv.Itoa(int(c))
}
