// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stats

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/xerrors"
)

// HistLog2 is the shape of a histogram whose buckets widen
// exponentially: bucket 0 ends at First and bucket i > 0 ends at
// First + Delta<<(i-1). The last bucket also takes every larger value.
type HistLog2 struct {
	First uint64
	Delta uint64
	Num   int
}

// UpperLimit returns the inclusive upper bound of bucket i.
func (h HistLog2) UpperLimit(i int) uint64 {
	if i == 0 {
		return h.First
	}
	return h.First + h.Delta<<(i-1)
}

// Index returns the bucket holding v.
func (h HistLog2) Index(v uint64) int {
	i := 0
	for i < h.Num-1 && v > h.UpperLimit(i) {
		i++
	}
	return i
}

// Shapes for request sizes in bytes and dispatch-to-completion times
// in microseconds.
var (
	SizeShape = HistLog2{First: 0, Delta: 1024, Num: 16}
	D2CShape  = HistLog2{First: 0, Delta: 8, Num: 25}
)

// ErrShapeMismatch is returned when combining histograms of different
// shapes.
var ErrShapeMismatch = xerrors.New("stats: histogram shapes differ")

// Histogram counts values into HistLog2 buckets.
type Histogram struct {
	Shape  HistLog2
	Counts []uint32
}

// NewHistogram returns an empty histogram of the given shape.
func NewHistogram(shape HistLog2) *Histogram {
	return &Histogram{Shape: shape, Counts: make([]uint32, shape.Num)}
}

// Add counts v.
func (h *Histogram) Add(v uint64) {
	h.Counts[h.Shape.Index(v)]++
}

// Merge adds o's counts to h.
func (h *Histogram) Merge(o *Histogram) error {
	if h.Shape != o.Shape {
		return xerrors.Errorf("merging %v into %v: %w", o.Shape, h.Shape, ErrShapeMismatch)
	}
	for i, c := range o.Counts {
		h.Counts[i] += c
	}
	return nil
}

// Total returns the number of values counted.
func (h *Histogram) Total() uint64 {
	var n uint64
	for _, c := range h.Counts {
		n += uint64(c)
	}
	return n
}

// Reset zeroes every bucket.
func (h *Histogram) Reset() {
	clear(h.Counts)
}

// AppendBinary appends the counts as big-endian uint32s.
func (h *Histogram) AppendBinary(b []byte) []byte {
	for _, c := range h.Counts {
		b = binary.BigEndian.AppendUint32(b, c)
	}
	return b
}

// DecodeBinary reads counts written by AppendBinary into h, whose shape
// determines how many are read. It returns the bytes consumed.
func (h *Histogram) DecodeBinary(b []byte) (int, error) {
	n := 4 * h.Shape.Num
	if len(b) < n {
		return 0, ErrShortBuffer
	}
	if len(h.Counts) != h.Shape.Num {
		h.Counts = make([]uint32, h.Shape.Num)
	}
	for i := range h.Counts {
		h.Counts[i] = binary.BigEndian.Uint32(b[4*i:])
	}
	return n, nil
}

// WriteTo prints one line per bucket with its upper bound and count,
// omitting the empty tail.
func (h *Histogram) WriteTo(w io.Writer) (int64, error) {
	last := len(h.Counts) - 1
	for last > 0 && h.Counts[last] == 0 {
		last--
	}
	var total int64
	for i := 0; i <= last; i++ {
		var n int
		var err error
		if i > 0 && i == h.Shape.Num-1 {
			n, err = fmt.Fprintf(w, "   >%10d: %d\n", h.Shape.UpperLimit(i-1), h.Counts[i])
		} else {
			n, err = fmt.Fprintf(w, "  <=%10d: %d\n", h.Shape.UpperLimit(i), h.Counts[i])
		}
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
