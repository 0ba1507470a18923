// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"fmt"
	"sort"
)

// SkipRange is an inclusive range of sequence numbers that never
// arrived on a stream.
type SkipRange struct {
	Start, End uint32
}

// Len returns the number of sequence numbers in the range.
func (s SkipRange) Len() uint64 {
	return uint64(s.End) - uint64(s.Start) + 1
}

func (s SkipRange) String() string {
	return fmt.Sprintf("[%d,%d]", s.Start, s.End)
}

// SkipList is a sorted set of non-overlapping, non-adjacent skip ranges.
type SkipList struct {
	ranges []SkipRange
}

// Insert records the range [start,end], merging it with any range it
// overlaps or touches.
func (l *SkipList) Insert(start, end uint32) {
	if end < start {
		return
	}
	// First range that ends at or after start-1.
	i := sort.Search(len(l.ranges), func(i int) bool {
		return uint64(l.ranges[i].End)+1 >= uint64(start)
	})
	j := i
	for j < len(l.ranges) && uint64(l.ranges[j].Start) <= uint64(end)+1 {
		start = min(start, l.ranges[j].Start)
		end = max(end, l.ranges[j].End)
		j++
	}
	merged := SkipRange{start, end}
	if i == j {
		l.ranges = append(l.ranges, SkipRange{})
		copy(l.ranges[i+1:], l.ranges[i:])
		l.ranges[i] = merged
		return
	}
	l.ranges[i] = merged
	l.ranges = append(l.ranges[:i+1], l.ranges[j:]...)
}

// Remove takes seq out of whichever range holds it, splitting the
// range if needed. It reports whether seq was present. A late record
// that fills part of a gap is repaired this way.
func (l *SkipList) Remove(seq uint32) bool {
	i := sort.Search(len(l.ranges), func(i int) bool {
		return l.ranges[i].End >= seq
	})
	if i == len(l.ranges) || l.ranges[i].Start > seq {
		return false
	}
	r := l.ranges[i]
	switch {
	case r.Start == seq && r.End == seq:
		l.ranges = append(l.ranges[:i], l.ranges[i+1:]...)
	case r.Start == seq:
		l.ranges[i].Start++
	case r.End == seq:
		l.ranges[i].End--
	default:
		l.ranges = append(l.ranges, SkipRange{})
		copy(l.ranges[i+2:], l.ranges[i+1:])
		l.ranges[i] = SkipRange{r.Start, seq - 1}
		l.ranges[i+1] = SkipRange{seq + 1, r.End}
	}
	return true
}

// Contains reports whether seq lies in a skip range.
func (l *SkipList) Contains(seq uint32) bool {
	i := sort.Search(len(l.ranges), func(i int) bool {
		return l.ranges[i].End >= seq
	})
	return i < len(l.ranges) && l.ranges[i].Start <= seq
}

// Ranges returns a copy of the ranges in ascending order.
func (l *SkipList) Ranges() []SkipRange {
	return append([]SkipRange(nil), l.ranges...)
}

// Count returns the number of ranges.
func (l *SkipList) Count() int {
	return len(l.ranges)
}

// Skipped returns the total number of missing sequence numbers.
func (l *SkipList) Skipped() uint64 {
	var n uint64
	for _, r := range l.ranges {
		n += r.Len()
	}
	return n
}
