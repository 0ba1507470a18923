// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stats provides the online accumulators used to summarize
// block I/O traces: min/max/sum accumulators, log2 histograms, seek
// distance trees and time-weighted integrals.
package stats

import (
	"encoding/binary"
	"math"

	"golang.org/x/exp/constraints"
	"golang.org/x/xerrors"
)

// Number is a value MinMax can accumulate.
type Number interface {
	constraints.Integer | constraints.Float
}

// MinMax accumulates the minimum, maximum, sum, sum of squares and
// count of a series.
type MinMax[T Number] struct {
	Min, Max T
	Sum, SOS T
	Num      uint64
}

// Add adds v to the series.
func (m *MinMax[T]) Add(v T) {
	if m.Num == 0 || v < m.Min {
		m.Min = v
	}
	if m.Num == 0 || v > m.Max {
		m.Max = v
	}
	m.Sum += v
	m.SOS += v * v
	m.Num++
}

// Merge folds o into m.
func (m *MinMax[T]) Merge(o MinMax[T]) {
	if o.Num == 0 {
		return
	}
	if m.Num == 0 {
		*m = o
		return
	}
	m.Min = min(m.Min, o.Min)
	m.Max = max(m.Max, o.Max)
	m.Sum += o.Sum
	m.SOS += o.SOS
	m.Num += o.Num
}

// Mean returns the arithmetic mean, or NaN for an empty series.
func (m MinMax[T]) Mean() float64 {
	if m.Num == 0 {
		return math.NaN()
	}
	return float64(m.Sum) / float64(m.Num)
}

// Variance returns the population variance, or NaN for an empty series.
func (m MinMax[T]) Variance() float64 {
	if m.Num == 0 {
		return math.NaN()
	}
	n := float64(m.Num)
	s := float64(m.Sum)
	return (float64(m.SOS) - s*s/n) / n
}

// MinMaxSize is the size of the wire form of a MinMax[uint64].
const MinMaxSize = 40

// ErrShortBuffer is returned when decoding from too few bytes.
var ErrShortBuffer = xerrors.New("stats: short buffer")

// AppendMinMax appends the big-endian wire form of m: min, max, sum,
// sum of squares and count. An empty accumulator is written with
// min = MaxUint64.
func AppendMinMax(b []byte, m MinMax[uint64]) []byte {
	lo := m.Min
	if m.Num == 0 {
		lo = math.MaxUint64
	}
	b = binary.BigEndian.AppendUint64(b, lo)
	b = binary.BigEndian.AppendUint64(b, m.Max)
	b = binary.BigEndian.AppendUint64(b, m.Sum)
	b = binary.BigEndian.AppendUint64(b, m.SOS)
	return binary.BigEndian.AppendUint64(b, m.Num)
}

// DecodeMinMax decodes the wire form written by AppendMinMax.
func DecodeMinMax(b []byte) (MinMax[uint64], error) {
	if len(b) < MinMaxSize {
		return MinMax[uint64]{}, ErrShortBuffer
	}
	m := MinMax[uint64]{
		Min: binary.BigEndian.Uint64(b[0:]),
		Max: binary.BigEndian.Uint64(b[8:]),
		Sum: binary.BigEndian.Uint64(b[16:]),
		SOS: binary.BigEndian.Uint64(b[24:]),
		Num: binary.BigEndian.Uint64(b[32:]),
	}
	if m.Num == 0 {
		m.Min = 0
	}
	return m, nil
}
