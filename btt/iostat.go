// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt

// Direction indexes per-direction counters.
const (
	Read  = 0
	Write = 1
)

func direction(write bool) int {
	if write {
		return Write
	}
	return Read
}

// IOStat holds iostat-style request accounting for a device.
type IOStat struct {
	Merges    [2]uint64 // bios merged into an existing request
	Issued    [2]uint64 // requests sent to the driver
	Completed [2]uint64
	Sectors   [2]uint64 // sectors completed

	// Passthrough (PC) requests are counted here rather than above.
	IssuedPC, CompletedPC [2]uint64

	// Wait is the sum of queue-to-completion times of completed bios and
	// Service the sum of dispatch-to-completion times of completed
	// requests, both in seconds.
	Wait    float64
	Service float64
	bios    uint64
}

// Await returns the mean time in seconds from queue to completion.
func (s *IOStat) Await() float64 {
	if s.bios == 0 {
		return 0
	}
	return s.Wait / float64(s.bios)
}

// Svctm returns the mean time in seconds a request spent in the
// driver.
func (s *IOStat) Svctm() float64 {
	n := s.Completed[Read] + s.Completed[Write]
	if n == 0 {
		return 0
	}
	return s.Service / float64(n)
}

// Merge folds o into s.
func (s *IOStat) Merge(o *IOStat) {
	for i := range s.Merges {
		s.Merges[i] += o.Merges[i]
		s.Issued[i] += o.Issued[i]
		s.Completed[i] += o.Completed[i]
		s.Sectors[i] += o.Sectors[i]
		s.IssuedPC[i] += o.IssuedPC[i]
		s.CompletedPC[i] += o.CompletedPC[i]
	}
	s.Wait += o.Wait
	s.Service += o.Service
	s.bios += o.bios
}
