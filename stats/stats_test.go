// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stats

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func minmaxOf(vs ...uint64) MinMax[uint64] {
	var m MinMax[uint64]
	for _, v := range vs {
		m.Add(v)
	}
	return m
}

func TestMinMax(t *testing.T) {
	m := minmaxOf(4, 2, 9, 5)
	want := MinMax[uint64]{Min: 2, Max: 9, Sum: 20, SOS: 16 + 4 + 81 + 25, Num: 4}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("MinMax mismatch (-want +got):\n%s", diff)
	}
	if m.Mean() != 5 {
		t.Errorf("Mean = %v, want 5", m.Mean())
	}
	if got := m.Variance(); got != 6.5 {
		t.Errorf("Variance = %v, want 6.5", got)
	}

	var empty MinMax[float64]
	if !math.IsNaN(empty.Mean()) || !math.IsNaN(empty.Variance()) {
		t.Error("empty accumulator should report NaN")
	}
}

func TestMinMaxMergeAssociative(t *testing.T) {
	a, b, c := minmaxOf(1, 7), minmaxOf(3), minmaxOf(10, 0, 4)

	left := a
	left.Merge(b)
	left.Merge(c)

	bc := b
	bc.Merge(c)
	right := a
	right.Merge(bc)

	if diff := cmp.Diff(left, right); diff != "" {
		t.Errorf("merge not associative (-left +right):\n%s", diff)
	}
	if diff := cmp.Diff(minmaxOf(1, 7, 3, 10, 0, 4), left); diff != "" {
		t.Errorf("merge differs from a single pass (-want +got):\n%s", diff)
	}

	var zero MinMax[uint64]
	got := a
	got.Merge(zero)
	if diff := cmp.Diff(a, got); diff != "" {
		t.Errorf("merging an empty accumulator changed it (-want +got):\n%s", diff)
	}
	zero.Merge(a)
	if diff := cmp.Diff(a, zero); diff != "" {
		t.Errorf("merging into an empty accumulator (-want +got):\n%s", diff)
	}
}

func TestMinMaxWire(t *testing.T) {
	m := minmaxOf(1<<40, 3)
	b := AppendMinMax(nil, m)
	if len(b) != MinMaxSize {
		t.Fatalf("wire size = %d, want %d", len(b), MinMaxSize)
	}
	if b[7] != 3 {
		t.Errorf("min is not big-endian: % x", b[:8])
	}
	got, err := DecodeMinMax(b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	empty := AppendMinMax(nil, MinMax[uint64]{})
	for _, c := range empty[:8] {
		if c != 0xff {
			t.Fatalf("empty min = % x, want all ones", empty[:8])
		}
	}
	if _, err := DecodeMinMax(b[:10]); err != ErrShortBuffer {
		t.Errorf("short decode error = %v", err)
	}
}

func TestHistLog2(t *testing.T) {
	h := HistLog2{First: 0, Delta: 8, Num: 5}
	var limits []uint64
	for i := 0; i < h.Num; i++ {
		limits = append(limits, h.UpperLimit(i))
	}
	if diff := cmp.Diff([]uint64{0, 8, 16, 32, 64}, limits); diff != "" {
		t.Errorf("limits mismatch (-want +got):\n%s", diff)
	}
	for _, tc := range []struct {
		v    uint64
		want int
	}{
		{0, 0}, {1, 1}, {8, 1}, {9, 2}, {32, 3}, {33, 4}, {64, 4}, {1 << 30, 4},
	} {
		if got := h.Index(tc.v); got != tc.want {
			t.Errorf("Index(%d) = %d, want %d", tc.v, got, tc.want)
		}
	}
}

func histOf(shape HistLog2, vs ...uint64) *Histogram {
	h := NewHistogram(shape)
	for _, v := range vs {
		h.Add(v)
	}
	return h
}

func TestHistogramMerge(t *testing.T) {
	shape := HistLog2{First: 0, Delta: 1024, Num: 16}
	a := histOf(shape, 512, 4096, 4096, 1<<20)
	b := histOf(shape, 0, 8192)

	orig := histOf(shape, 512, 4096, 4096, 1<<20)
	if err := a.Merge(NewHistogram(shape)); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(orig, a); diff != "" {
		t.Errorf("merging zero changed histogram (-want +got):\n%s", diff)
	}

	ab := histOf(shape, 512, 4096, 4096, 1<<20)
	ab.Merge(b)
	ba := histOf(shape, 0, 8192)
	ba.Merge(a)
	if diff := cmp.Diff(ab, ba); diff != "" {
		t.Errorf("merge not commutative (-ab +ba):\n%s", diff)
	}
	if ab.Total() != 6 {
		t.Errorf("Total = %d, want 6", ab.Total())
	}

	if err := a.Merge(NewHistogram(HistLog2{0, 8, 16})); err == nil {
		t.Error("merged histograms of different shapes")
	}
}

func TestHistogramWire(t *testing.T) {
	shape := HistLog2{First: 0, Delta: 8, Num: 25}
	h := histOf(shape, 3, 100, 100, 70000)
	b := h.AppendBinary(nil)
	if len(b) != 4*25 {
		t.Fatalf("wire size = %d", len(b))
	}
	got := NewHistogram(shape)
	n, err := got.DecodeBinary(b)
	if err != nil || n != len(b) {
		t.Fatalf("DecodeBinary = %d, %v", n, err)
	}
	if diff := cmp.Diff(h, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestHistogramWriteTo(t *testing.T) {
	h := histOf(HistLog2{First: 0, Delta: 8, Num: 3}, 0, 5, 100)
	var sb strings.Builder
	if _, err := h.WriteTo(&sb); err != nil {
		t.Fatal(err)
	}
	want := "  <=         0: 1\n  <=         8: 1\n   >         8: 1\n"
	if diff := cmp.Diff(want, sb.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestSeekRelative(t *testing.T) {
	s := NewSeekTracker(false)
	var got []int64
	for _, io := range [][2]uint64{{100, 108}, {104, 112}, {200, 208}, {50, 58}, {58, 66}, {54, 62}} {
		got = append(got, s.Add(io[0], io[1]))
	}
	// 100 from nothing, 104 overlaps, 200 after 112, 50 before 200,
	// 58 after 58, 54 ends inside [58,66].
	want := []int64{100, 0, 88, -150, 0, 0}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("distances mismatch (-want +got):\n%s", diff)
	}
	modes, n := s.Modes()
	if diff := cmp.Diff([]int64{0}, modes); diff != "" || n != 3 {
		t.Errorf("Modes = %v, %d; want [0], 3", modes, n)
	}
	if s.Median() != 0 {
		t.Errorf("Median = %v, want 0", s.Median())
	}
	if s.Mean() != float64(100+88-150)/6 {
		t.Errorf("Mean = %v", s.Mean())
	}
}

func TestSeekOverlapEnd(t *testing.T) {
	for _, tc := range []struct {
		name       string
		prev, next [2]uint64
		want       int64
	}{
		{"end inside", [2]uint64{100, 108}, [2]uint64{96, 104}, 0},
		{"end at start", [2]uint64{100, 108}, [2]uint64{92, 100}, 0},
		{"before", [2]uint64{100, 108}, [2]uint64{80, 88}, -20},
		{"after", [2]uint64{100, 108}, [2]uint64{120, 128}, 12},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSeekTracker(false)
			s.Add(tc.prev[0], tc.prev[1])
			if got := s.Add(tc.next[0], tc.next[1]); got != tc.want {
				t.Errorf("Add(%d, %d) = %d, want %d", tc.next[0], tc.next[1], got, tc.want)
			}
		})
	}
}

func TestSeekAbsolute(t *testing.T) {
	s := NewSeekTracker(true)
	for _, io := range [][2]uint64{{0, 8}, {8, 16}, {32, 40}, {16, 24}} {
		s.Add(io[0], io[1])
	}
	// Distances 0, 0, 16, -24.
	if s.Count() != 4 {
		t.Errorf("Count = %d", s.Count())
	}
	if s.Median() != 0 {
		t.Errorf("Median = %v, want 0", s.Median())
	}
	var dists []int64
	s.Distances(func(d int64, _ uint64) bool {
		dists = append(dists, d)
		return true
	})
	if diff := cmp.Diff([]int64{-24, 0, 16}, dists); diff != "" {
		t.Errorf("distances mismatch (-want +got):\n%s", diff)
	}
}

func TestIntegrator(t *testing.T) {
	var g Integrator
	g.Set(0, 2)
	g.Set(10, 0)
	g.Set(30, 4)
	// Area: 2*10 + 0*20 + 4*10 over 40.
	if got := g.Average(40); got != 1.5 {
		t.Errorf("Average = %v, want 1.5", got)
	}
	if got := g.Busy(40); got != 0.5 {
		t.Errorf("Busy = %v, want 0.5", got)
	}
}

func TestDepthNeverNegative(t *testing.T) {
	var d Depth
	d.Dec(0)
	d.Inc(10)
	d.Inc(20)
	d.Dec(30)
	d.Dec(40)
	d.Dec(50)
	if d.Value() != 0 {
		t.Errorf("Value = %d, want 0", d.Value())
	}
	if d.Max() != 2 || d.Floored() != 2 {
		t.Errorf("Max, Floored = %d, %d; want 2, 2", d.Max(), d.Floored())
	}
	// 1 over [10,20), 2 over [20,30), 1 over [30,40), out of 50.
	if got := d.Average(50); got != 0.8 {
		t.Errorf("Average = %v", got)
	}
}
