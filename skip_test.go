// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSkipListInsert(t *testing.T) {
	for _, tc := range []struct {
		name string
		ins  [][2]uint32
		want []SkipRange
	}{
		{"single", [][2]uint32{{4, 6}}, []SkipRange{{4, 6}}},
		{"disjoint", [][2]uint32{{10, 12}, {4, 6}}, []SkipRange{{4, 6}, {10, 12}}},
		{"adjacent", [][2]uint32{{4, 6}, {7, 9}}, []SkipRange{{4, 9}}},
		{"overlap", [][2]uint32{{4, 8}, {6, 12}}, []SkipRange{{4, 12}}},
		{"bridge", [][2]uint32{{1, 2}, {8, 9}, {3, 7}}, []SkipRange{{1, 9}}},
		{"inverted", [][2]uint32{{6, 4}}, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var l SkipList
			for _, r := range tc.ins {
				l.Insert(r[0], r[1])
			}
			if diff := cmp.Diff(tc.want, l.Ranges()); diff != "" {
				t.Errorf("ranges mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSkipListRemove(t *testing.T) {
	var l SkipList
	l.Insert(10, 20)
	for _, seq := range []uint32{10, 20, 15} {
		if !l.Remove(seq) {
			t.Errorf("Remove(%d) = false, want true", seq)
		}
	}
	if l.Remove(30) {
		t.Error("Remove(30) = true for a sequence outside every range")
	}
	want := []SkipRange{{11, 14}, {16, 19}}
	if diff := cmp.Diff(want, l.Ranges()); diff != "" {
		t.Errorf("ranges mismatch (-want +got):\n%s", diff)
	}
	if l.Skipped() != 8 || l.Count() != 2 {
		t.Errorf("Skipped, Count = %d, %d; want 8, 2", l.Skipped(), l.Count())
	}
	if !l.Contains(12) || l.Contains(15) {
		t.Error("Contains disagrees with Ranges")
	}
}

func newTestCPU() *cpuInfo {
	return newDevSet(4).get(MakeDev(8, 0)).cpu(0)
}

func TestCheckSequenceGap(t *testing.T) {
	c := newTestCPU()
	for _, seq := range []uint32{1, 2, 3, 7, 8, 9} {
		rec := Record{Sequence: seq}
		if !c.check(&rec, true) {
			t.Fatalf("check(%d, force) = false", seq)
		}
		c.emit(&rec)
	}
	st := c.stats()
	if diff := cmp.Diff([]SkipRange{{4, 6}}, st.Skips); diff != "" {
		t.Errorf("skips mismatch (-want +got):\n%s", diff)
	}
	if st.Events != 6 || st.Skipped != 3 {
		t.Errorf("events, skipped = %d, %d; want 6, 3", st.Events, st.Skipped)
	}
	if got, want := st.Lost(), 100*3.0/9; got != want {
		t.Errorf("Lost = %v, want %v", got, want)
	}
}

func TestCheckSequenceNoGap(t *testing.T) {
	c := newTestCPU()
	for seq := uint32(1); seq <= 10; seq++ {
		rec := Record{Sequence: seq}
		if !c.check(&rec, false) {
			t.Fatalf("check(%d) held an in-order record", seq)
		}
		c.emit(&rec)
	}
	if st := c.stats(); len(st.Skips) != 0 || st.Late != 0 {
		t.Errorf("stats = %+v, want no skips or late records", st)
	}
}

func TestCheckSequenceHoldAndRepair(t *testing.T) {
	c := newTestCPU()
	for _, seq := range []uint32{1, 2} {
		rec := Record{Sequence: seq}
		c.check(&rec, false)
		c.emit(&rec)
	}
	gap := Record{Sequence: 5}
	if c.check(&gap, false) {
		t.Fatal("gap accepted without force")
	}
	if !c.check(&gap, true) {
		t.Fatal("gap held with force")
	}
	c.emit(&gap)

	// A straggler fills part of the recorded gap.
	late := Record{Sequence: 3}
	if !c.check(&late, false) {
		t.Fatal("late record held")
	}
	c.emit(&late)

	st := c.stats()
	if diff := cmp.Diff([]SkipRange{{4, 4}}, st.Skips); diff != "" {
		t.Errorf("skips mismatch (-want +got):\n%s", diff)
	}
	if st.Late != 1 {
		t.Errorf("late = %d, want 1", st.Late)
	}
}

func TestCheckSequenceFirstRecord(t *testing.T) {
	c := newTestCPU()
	c.read(40)
	c.read(41)
	rec := Record{Sequence: 40}
	if !c.check(&rec, false) {
		t.Error("smallest sequence read was held")
	}
	c2 := newTestCPU()
	c2.read(39)
	rec = Record{Sequence: 40}
	if c2.check(&rec, false) {
		t.Error("first record accepted while an older one is pending")
	}
}

func TestLookbackEviction(t *testing.T) {
	l := newLookback()
	for seq := uint32(1); seq <= 10; seq++ {
		l.insert(seq, 4)
	}
	if l.len() != 4 {
		t.Fatalf("len = %d, want 4", l.len())
	}
	if l.remove(6) {
		t.Error("evicted sequence still present")
	}
	if !l.remove(9) {
		t.Error("recent sequence missing")
	}
}
