// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomon

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"golang.org/x/exp/blktrace"
	"golang.org/x/exp/blktrace/internal/raw"
	"golang.org/x/exp/blktrace/stats"
)

func feed(t *testing.T, m *Monitor, text string) []*Stat {
	t.Helper()
	recs, err := raw.NewTextReader(strings.NewReader(text)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	var out []*Stat
	for _, rec := range recs {
		rec := rec
		out = append(out, m.Handle(&rec)...)
	}
	return out
}

func TestMonitorIntervals(t *testing.T) {
	m := New(Config{Interval: time.Microsecond})
	out := feed(t, m, `
D dev=8,0 cpu=0 seq=1 time=0 sector=0 bytes=4096 rwbs=W
C dev=8,0 cpu=0 seq=2 time=200 sector=0 bytes=4096 rwbs=W
D dev=8,0 cpu=0 seq=3 time=300 sector=64 bytes=1024 rwbs=R
C dev=8,0 cpu=0 seq=4 time=2300 sector=64 bytes=1024 rwbs=R
C dev=8,16 cpu=0 seq=5 time=2400 sector=9 bytes=512 rwbs=R
`)
	// The read completes in the third interval, closing the first two.
	if len(out) != 2 {
		t.Fatalf("got %d stats, want 2", len(out))
	}
	first := out[0]
	if first.Time != 1000 || first.Requests() != 1 {
		t.Errorf("first interval: time %d, %d requests", first.Time, first.Requests())
	}
	if diff := cmp.Diff(stats.MinMax[uint64]{Min: 4096, Max: 4096, Sum: 4096, SOS: 4096 * 4096, Num: 1}, first.SizeW); diff != "" {
		t.Errorf("write sizes (-want +got):\n%s", diff)
	}
	if out[1].Requests() != 0 {
		t.Errorf("second interval counted %d requests", out[1].Requests())
	}

	rest := m.Flush(3000)
	if len(rest) != 2 {
		t.Fatalf("final flush returned %d stats, want 2", len(rest))
	}
	read := rest[0]
	if read.Device != blktrace.MakeDev(8, 0) || read.D2CR.Max != 2 || read.ThrputR.Max != 1024*1_000_000/1024/2 {
		t.Errorf("read stat = dev %v d2c %+v thrput %+v", read.Device, read.D2CR, read.ThrputR)
	}
	if m.Unmatched != 1 {
		t.Errorf("Unmatched = %d, want 1", m.Unmatched)
	}
}

func TestStatWire(t *testing.T) {
	s := NewStat(blktrace.MakeDev(8, 0))
	s.Time = 12345
	s.SizeHist.Add(4096)
	s.D2CHist.Add(70)
	s.SizeW.Add(4096)
	s.D2CW.Add(70)
	s.ThrputW.Add(57)
	s.Bidir = 2

	b, err := s.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != StatSize || StatSize != 424 {
		t.Fatalf("wire size = %d (StatSize %d), want 424", len(b), StatSize)
	}
	if b[7] != 0x39 {
		t.Errorf("time not big-endian: % x", b[:8])
	}
	got, err := ReadStat(bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(s, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	if _, err := ReadStat(bytes.NewReader(b[:100])); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("short read error = %v", err)
	}
	if err := new(Stat).UnmarshalBinary(b[:100]); !errors.Is(err, stats.ErrShortBuffer) {
		t.Errorf("short decode error = %v", err)
	}
}

func TestStatText(t *testing.T) {
	s := NewStat(blktrace.MakeDev(8, 0))
	s.SizeR.Add(512)
	s.SizeHist.Add(512)
	var sb strings.Builder
	if err := s.WriteText(&sb); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"device: 8,0",
		"sizes read (bytes): num 1, min 512, max 512, sum 512, squ 262144, avg 512.0, var 0.0",
		"d2c write (usec): num 0",
		"  <=      1024: 1",
		"bidirectional requests: 0",
	} {
		if !strings.Contains(sb.String(), want) {
			t.Errorf("dump lacks %q:\n%s", want, sb.String())
		}
	}
}
