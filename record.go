// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"fmt"
	"strings"
)

const (
	// Magic is the format identifier carried in the top 24 bits of
	// every record's magic field.
	Magic = 0x65617400

	// Version is the only record version this package understands.
	Version = 0x07

	magicMask = 0xffffff00

	// HeaderSize is the size of the fixed part of a record on the wire.
	HeaderSize = 48

	// SectorSize is the unit of Record.Sector.
	SectorSize = 512
)

// Record is a single block I/O trace event.
type Record struct {
	Magic    uint32
	Sequence uint32
	Time     uint64 // nanoseconds since the stream started
	Sector   uint64
	Bytes    uint32
	Action   Action
	PID      uint32
	Device   Dev
	CPU      uint32
	Error    uint16
	PDULen   uint16
	PDU      []byte
}

// End returns the first sector past the record's transfer.
func (r *Record) End() uint64 {
	return r.Sector + uint64(r.Bytes/SectorSize)
}

// Sectors returns the transfer length in sectors.
func (r *Record) Sectors() uint64 {
	return uint64(r.Bytes / SectorSize)
}

func (r Record) String() string {
	return fmt.Sprintf("%v cpu=%d seq=%d time=%d pid=%d %s %s sector=%d bytes=%d err=%d pdu=%d",
		r.Device, r.CPU, r.Sequence, r.Time, r.PID, r.Action.Code(), r.RWBS(),
		r.Sector, r.Bytes, r.Error, r.PDULen)
}

// Dev is a packed device number.
type Dev uint32

const minorBits = 20

// MakeDev packs a major and minor number.
func MakeDev(major, minor uint32) Dev {
	return Dev(major<<minorBits | minor&(1<<minorBits-1))
}

// Major returns the device's major number.
func (d Dev) Major() uint32 { return uint32(d) >> minorBits }

// Minor returns the device's minor number.
func (d Dev) Minor() uint32 { return uint32(d) & (1<<minorBits - 1) }

func (d Dev) String() string {
	return fmt.Sprintf("%d,%d", d.Major(), d.Minor())
}

// Action is the action field of a record: the low 16 bits hold an
// ActionCode and the high 16 bits a Category mask.
type Action uint32

const categoryShift = 16

// Code returns the action code.
func (a Action) Code() ActionCode { return ActionCode(a & 0xffff) }

// Category returns the category mask.
func (a Action) Category() Category { return Category(a >> categoryShift) }

// Is reports whether every bit of c is set in the action's categories.
func (a Action) Is(c Category) bool { return a.Category()&c == c }

// IsNotify reports whether the record is a notification rather than
// an I/O event.
func (a Action) IsNotify() bool { return a.Category()&CatNotify != 0 }

// IsWrite reports whether the record describes a write.
func (a Action) IsWrite() bool { return a.Category()&CatWrite != 0 }

// MakeAction combines a code and a category mask.
func MakeAction(code ActionCode, cat Category) Action {
	return Action(uint32(cat)<<categoryShift | uint32(code))
}

// RWBS returns the blkparse-style direction and flag string.
func (r *Record) RWBS() string {
	c := r.Action.Category()
	var sb strings.Builder
	if c&CatBarrier != 0 {
		sb.WriteByte('B')
	}
	switch {
	case c&CatDiscard != 0:
		sb.WriteByte('D')
	case c&CatWrite != 0:
		sb.WriteByte('W')
	case r.Bytes != 0:
		sb.WriteByte('R')
	default:
		sb.WriteByte('N')
	}
	if c&CatFUA != 0 {
		sb.WriteByte('F')
	}
	if c&CatAhead != 0 {
		sb.WriteByte('A')
	}
	if c&CatSync != 0 {
		sb.WriteByte('S')
	}
	if c&CatMeta != 0 {
		sb.WriteByte('M')
	}
	return sb.String()
}

// ActionCode identifies what happened to an I/O.
type ActionCode uint16

const (
	ActQueue ActionCode = iota + 1
	ActBackMerge
	ActFrontMerge
	ActGetRequest
	ActSleepRequest
	ActRequeue
	ActIssue
	ActComplete
	ActPlug
	ActUnplugIO
	ActUnplugTimer
	ActInsert
	ActSplit
	ActBounce
	ActRemap
	ActAbort
	ActDriverData
)

// Notification codes. These share the code space with ActionCode and
// are only meaningful with CatNotify set.
const (
	NotifyProcess ActionCode = iota
	NotifyTimestamp
	NotifyMessage
)

var actionNames = [...]string{
	ActQueue:        "Q",
	ActBackMerge:    "M",
	ActFrontMerge:   "F",
	ActGetRequest:   "G",
	ActSleepRequest: "S",
	ActRequeue:      "R",
	ActIssue:        "D",
	ActComplete:     "C",
	ActPlug:         "P",
	ActUnplugIO:     "U",
	ActUnplugTimer:  "UT",
	ActInsert:       "I",
	ActSplit:        "X",
	ActBounce:       "B",
	ActRemap:        "A",
	ActAbort:        "AB",
	ActDriverData:   "DD",
}

// String returns the blkparse action letters for the code.
func (c ActionCode) String() string {
	if int(c) < len(actionNames) && actionNames[c] != "" {
		return actionNames[c]
	}
	return fmt.Sprintf("?%d", uint16(c))
}

// Category is a bit mask classifying a record.
type Category uint16

const (
	CatRead Category = 1 << iota
	CatWrite
	CatBarrier
	CatSync
	CatQueue
	CatRequeue
	CatIssue
	CatComplete
	CatFS
	CatPC
	CatNotify
	CatAhead
	CatMeta
	CatDiscard
	CatDriverData
	CatFUA

	CatAll Category = 0xffff
)

var categoryNames = map[string]Category{
	"read":     CatRead,
	"write":    CatWrite,
	"barrier":  CatBarrier,
	"sync":     CatSync,
	"queue":    CatQueue,
	"requeue":  CatRequeue,
	"issue":    CatIssue,
	"complete": CatComplete,
	"fs":       CatFS,
	"pc":       CatPC,
	"notify":   CatNotify,
	"ahead":    CatAhead,
	"meta":     CatMeta,
	"discard":  CatDiscard,
	"drv_data": CatDriverData,
	"fua":      CatFUA,
}

// ParseCategory converts a blktrace mask name ("read", "queue", ...)
// to its Category bit.
func ParseCategory(name string) (Category, bool) {
	c, ok := categoryNames[strings.ToLower(name)]
	return c, ok
}
