// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iomon

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/xerrors"

	"golang.org/x/exp/blktrace"
	"golang.org/x/exp/blktrace/stats"
)

// StatSize is the size of a Stat on the wire.
const StatSize = 8 + 4*16 + 4*25 + 4 + 6*stats.MinMaxSize + 8

// Stat is the summary of one device over one interval.
type Stat struct {
	Time     uint64 // end of the interval, nanoseconds since genesis
	SizeHist *stats.Histogram
	D2CHist  *stats.Histogram
	Device   blktrace.Dev

	SizeR, SizeW     stats.MinMax[uint64] // bytes
	D2CR, D2CW       stats.MinMax[uint64] // microseconds
	ThrputR, ThrputW stats.MinMax[uint64] // KiB/s
	Bidir            uint64
}

// NewStat returns an empty Stat for dev.
func NewStat(dev blktrace.Dev) *Stat {
	return &Stat{
		SizeHist: stats.NewHistogram(stats.SizeShape),
		D2CHist:  stats.NewHistogram(stats.D2CShape),
		Device:   dev,
	}
}

// Requests returns the number of completed requests counted.
func (s *Stat) Requests() uint64 {
	return s.SizeR.Num + s.SizeW.Num
}

func (s *Stat) minmaxes() []*stats.MinMax[uint64] {
	return []*stats.MinMax[uint64]{&s.SizeR, &s.SizeW, &s.D2CR, &s.D2CW, &s.ThrputR, &s.ThrputW}
}

// AppendBinary appends the big-endian wire form of s.
func (s *Stat) AppendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, s.Time)
	b = s.SizeHist.AppendBinary(b)
	b = s.D2CHist.AppendBinary(b)
	b = binary.BigEndian.AppendUint32(b, uint32(s.Device))
	for _, m := range s.minmaxes() {
		b = stats.AppendMinMax(b, *m)
	}
	return binary.BigEndian.AppendUint64(b, s.Bidir)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Stat) MarshalBinary() ([]byte, error) {
	return s.AppendBinary(make([]byte, 0, StatSize)), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *Stat) UnmarshalBinary(b []byte) error {
	if len(b) < StatSize {
		return xerrors.Errorf("iomon: stat record of %d bytes: %w", len(b), stats.ErrShortBuffer)
	}
	*s = *NewStat(0)
	s.Time = binary.BigEndian.Uint64(b)
	off := 8
	for _, h := range []*stats.Histogram{s.SizeHist, s.D2CHist} {
		n, err := h.DecodeBinary(b[off:])
		if err != nil {
			return err
		}
		off += n
	}
	s.Device = blktrace.Dev(binary.BigEndian.Uint32(b[off:]))
	off += 4
	for _, m := range s.minmaxes() {
		v, err := stats.DecodeMinMax(b[off:])
		if err != nil {
			return err
		}
		*m = v
		off += stats.MinMaxSize
	}
	s.Bidir = binary.BigEndian.Uint64(b[off:])
	return nil
}

// ReadStat reads one wire record from r.
func ReadStat(r io.Reader) (*Stat, error) {
	var buf [StatSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}
	s := new(Stat)
	if err := s.UnmarshalBinary(buf[:]); err != nil {
		return nil, err
	}
	return s, nil
}

// WriteText writes a human-readable dump of s.
func (s *Stat) WriteText(w io.Writer) error {
	ew := &errWriter{w: w}
	ew.printf("time: %.9f\ndevice: %s\n", float64(s.Time)/1e9, s.Device)
	for _, row := range []struct {
		name string
		m    stats.MinMax[uint64]
	}{
		{"sizes read (bytes)", s.SizeR},
		{"sizes write (bytes)", s.SizeW},
		{"d2c read (usec)", s.D2CR},
		{"d2c write (usec)", s.D2CW},
		{"throughput read (kbytes/s)", s.ThrputR},
		{"throughput write (kbytes/s)", s.ThrputW},
	} {
		ew.printf("%s: num %d, min %d, max %d, sum %d, squ %d, avg %.1f, var %.1f\n",
			row.name, row.m.Num, row.m.Min, row.m.Max, row.m.Sum, row.m.SOS, zeroNaN(row.m.Mean()), zeroNaN(row.m.Variance()))
	}
	ew.printf("sizes histogram (bytes):\n")
	if ew.err == nil {
		_, ew.err = s.SizeHist.WriteTo(w)
	}
	ew.printf("d2c histogram (usec):\n")
	if ew.err == nil {
		_, ew.err = s.D2CHist.WriteTo(w)
	}
	ew.printf("bidirectional requests: %d\n\n", s.Bidir)
	return ew.err
}

func zeroNaN(v float64) float64 {
	if v != v {
		return 0
	}
	return v
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
