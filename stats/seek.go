// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stats

import (
	"github.com/google/btree"
)

type seekCount struct {
	dist  int64
	count uint64
}

// SeekTracker records the distance between consecutive I/Os and keeps
// an exact distribution of the distances.
//
// In absolute mode the distance is measured from the end of the
// previous I/O. Otherwise an I/O that starts inside the previous
// extent, or ends inside it, counts as no seek. Otherwise one that
// starts before it is measured from its start and one that starts after
// it from its end.
type SeekTracker struct {
	Absolute bool

	lastStart uint64
	lastEnd   uint64
	total     int64
	n         uint64
	dists     *btree.BTreeG[seekCount]
}

// NewSeekTracker returns an empty tracker.
func NewSeekTracker(absolute bool) *SeekTracker {
	return &SeekTracker{
		Absolute: absolute,
		dists: btree.NewG(8, func(a, b seekCount) bool {
			return a.dist < b.dist
		}),
	}
}

// Add records an I/O covering [start, end) sectors and returns its
// seek distance. The first I/O seeks from sector 0.
func (s *SeekTracker) Add(start, end uint64) int64 {
	var d int64
	switch {
	case s.Absolute:
		d = int64(start - s.lastEnd)
	case s.lastStart <= start && start <= s.lastEnd,
		s.lastStart <= end && end <= s.lastEnd:
		// Overlaps the previous extent.
	case start > s.lastEnd:
		d = int64(start - s.lastEnd)
	default:
		d = int64(start - s.lastStart)
	}
	s.lastStart, s.lastEnd = start, end

	s.total += d
	s.n++
	c, _ := s.dists.Get(seekCount{dist: d})
	c.dist = d
	c.count++
	s.dists.ReplaceOrInsert(c)
	return d
}

// Count returns the number of I/Os recorded.
func (s *SeekTracker) Count() uint64 {
	return s.n
}

// Mean returns the mean seek distance.
func (s *SeekTracker) Mean() float64 {
	if s.n == 0 {
		return 0
	}
	return float64(s.total) / float64(s.n)
}

// Median returns the median seek distance. For an even count it is the
// mean of the two middle distances.
func (s *SeekTracker) Median() float64 {
	if s.n == 0 {
		return 0
	}
	lo := s.nth((s.n - 1) / 2)
	if s.n%2 == 1 {
		return float64(lo)
	}
	hi := s.nth(s.n / 2)
	return (float64(lo) + float64(hi)) / 2
}

// nth returns the k'th smallest distance, counting from zero.
func (s *SeekTracker) nth(k uint64) int64 {
	var d int64
	var seen uint64
	s.dists.Ascend(func(c seekCount) bool {
		seen += c.count
		if seen > k {
			d = c.dist
			return false
		}
		return true
	})
	return d
}

// Modes returns the most frequent distances in ascending order and how
// often each occurred.
func (s *SeekTracker) Modes() ([]int64, uint64) {
	var modes []int64
	var best uint64
	s.dists.Ascend(func(c seekCount) bool {
		switch {
		case c.count > best:
			best = c.count
			modes = append(modes[:0], c.dist)
		case c.count == best:
			modes = append(modes, c.dist)
		}
		return true
	})
	return modes, best
}

// Distances calls f for each distinct distance in ascending order.
func (s *SeekTracker) Distances(f func(dist int64, count uint64) bool) {
	s.dists.Ascend(func(c seekCount) bool {
		return f(c.dist, c.count)
	})
}
