// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestPDU(t *testing.T) {
	r := &Record{PDU: []byte("kjournald\x00\x00\x00")}
	if got := ProcessName(r); got != "kjournald" {
		t.Errorf("ProcessName = %q", got)
	}
	if got := Message(&Record{PDU: []byte("no terminator")}); got != "no terminator" {
		t.Errorf("Message = %q", got)
	}

	r = &Record{PDU: AppendUint64PDU(nil, 3)}
	if n, ok := UnplugCount(r); !ok || n != 3 {
		t.Errorf("UnplugCount = %d, %v", n, ok)
	}
	if r.PDU[7] != 3 {
		t.Errorf("unplug count not big-endian: % x", r.PDU)
	}
	if s, ok := SplitSector(&Record{PDU: AppendUint64PDU(nil, 1<<40)}); !ok || s != 1<<40 {
		t.Errorf("SplitSector = %d, %v", s, ok)
	}
	if _, ok := UnplugCount(&Record{PDU: []byte{1, 2, 3}}); ok {
		t.Error("UnplugCount accepted a short payload")
	}
	if _, ok := RemapPDU(&Record{PDU: make([]byte, 15)}); ok {
		t.Error("RemapPDU accepted a short payload")
	}
}

func TestTimestamp(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		pdu := make([]byte, 8)
		order.PutUint32(pdu[0:], 1700000000)
		order.PutUint32(pdu[4:], 250)
		got, ok := Timestamp(&Record{PDU: pdu}, order)
		if want := time.Unix(1700000000, 250); !ok || !got.Equal(want) {
			t.Errorf("%v: Timestamp = %v, %v; want %v", order, got, ok, want)
		}
	}
	if _, ok := Timestamp(&Record{PDU: make([]byte, 8)}, nil); ok {
		t.Error("Timestamp accepted a nil byte order")
	}
}
