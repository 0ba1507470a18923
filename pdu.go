// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"bytes"
	"encoding/binary"
	"time"
)

// The kernel writes remap, unplug and split payloads big-endian
// regardless of the byte order of the record header.

// Remap is the payload of an ActRemap record.
type Remap struct {
	From       Dev
	To         Dev
	FromSector uint64
}

// RemapPDU decodes the payload of an ActRemap record.
func RemapPDU(r *Record) (Remap, bool) {
	if len(r.PDU) < 16 {
		return Remap{}, false
	}
	return Remap{
		From:       Dev(binary.BigEndian.Uint32(r.PDU[0:])),
		To:         Dev(binary.BigEndian.Uint32(r.PDU[4:])),
		FromSector: binary.BigEndian.Uint64(r.PDU[8:]),
	}, true
}

// AppendRemapPDU appends the wire form of m.
func AppendRemapPDU(b []byte, m Remap) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(m.From))
	b = binary.BigEndian.AppendUint32(b, uint32(m.To))
	return binary.BigEndian.AppendUint64(b, m.FromSector)
}

// UnplugCount returns the number of requests released by an unplug.
func UnplugCount(r *Record) (uint64, bool) {
	if len(r.PDU) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(r.PDU), true
}

// SplitSector returns the sector at which an ActSplit record's bio
// was divided.
func SplitSector(r *Record) (uint64, bool) {
	if len(r.PDU) < 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(r.PDU), true
}

// AppendUint64PDU appends a big-endian unplug count or split sector.
func AppendUint64PDU(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

// ProcessName returns the command name carried by a NotifyProcess
// record, or any record whose payload is a NUL-terminated string.
func ProcessName(r *Record) string {
	return cString(r.PDU)
}

// Message returns the text of a NotifyMessage record.
func Message(r *Record) string {
	return cString(r.PDU)
}

// Timestamp decodes a NotifyTimestamp record into the wall clock time
// at which the trace started. Its two 32-bit fields are written in the
// header's byte order.
func Timestamp(r *Record, order binary.ByteOrder) (time.Time, bool) {
	if len(r.PDU) < 8 || order == nil {
		return time.Time{}, false
	}
	sec := order.Uint32(r.PDU[0:])
	nsec := order.Uint32(r.PDU[4:])
	return time.Unix(int64(sec), int64(nsec)), true
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
