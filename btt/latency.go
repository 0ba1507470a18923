// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt

import (
	"github.com/circonus-labs/circonusllhist"

	"golang.org/x/exp/blktrace/stats"
)

// Stage identifies a latency between two points in an I/O's life.
type Stage int

const (
	Q2Q Stage = iota // between consecutive queues
	Q2G              // queue to request allocation
	S2G              // sleep to request allocation
	G2I              // allocation to insert
	Q2M              // queue to merge
	I2D              // insert to dispatch
	M2D              // merge to dispatch
	D2C              // dispatch to completion
	Q2C              // queue to completion
	Q2A              // queue to remap
	numStages
)

var stageNames = [numStages]string{
	Q2Q: "Q2Q",
	Q2G: "Q2G",
	S2G: "S2G",
	G2I: "G2I",
	Q2M: "Q2M",
	I2D: "I2D",
	M2D: "M2D",
	D2C: "D2C",
	Q2C: "Q2C",
	Q2A: "Q2A",
}

func (s Stage) String() string {
	if s >= 0 && s < numStages {
		return stageNames[s]
	}
	return "?"
}

// Stages lists every stage in report order.
func Stages() []Stage {
	s := make([]Stage, numStages)
	for i := range s {
		s[i] = Stage(i)
	}
	return s
}

// Latencies holds one accumulator per stage, in seconds.
type Latencies [numStages]stats.MinMax[float64]

func (l *Latencies) add(s Stage, from, to uint64) {
	if to < from {
		return
	}
	l[s].Add(seconds(to - from))
}

// Merge folds o into l.
func (l *Latencies) Merge(o *Latencies) {
	for i := range l {
		l[i].Merge(o[i])
	}
}

func seconds(ns uint64) float64 {
	return float64(ns) / 1e9
}

// quantiles keeps approximate latency distributions for the stages a
// report breaks down by percentile.
type quantiles struct {
	d2c, q2c *circonusllhist.Histogram
}

func newQuantiles() quantiles {
	return quantiles{d2c: circonusllhist.NewNoLocks(), q2c: circonusllhist.NewNoLocks()}
}

func (q quantiles) add(s Stage, from, to uint64) {
	if to < from {
		return
	}
	switch s {
	case D2C:
		q.d2c.RecordValue(seconds(to - from))
	case Q2C:
		q.q2c.RecordValue(seconds(to - from))
	}
}

// Percentile returns the approximate latency in seconds below which
// fraction p of the stage's samples fall. Only D2C and Q2C are kept.
func (q quantiles) Percentile(s Stage, p float64) float64 {
	switch s {
	case D2C:
		return q.d2c.ValueAtQuantile(p)
	case Q2C:
		return q.q2c.ValueAtQuantile(p)
	}
	return 0
}
