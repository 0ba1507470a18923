// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"github.com/google/btree"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// StreamStats summarizes one (device, cpu) stream at the end of a run.
type StreamStats struct {
	Device  Dev
	CPU     uint32
	Events  uint64 // records emitted in order
	Late    uint64 // records that arrived behind the stream's frontier
	Corrupt uint64 // records dropped by the codec
	Skips   []SkipRange
	Skipped uint64 // total sequence numbers covered by Skips
}

// Lost returns the percentage of the stream's events that were lost.
func (s StreamStats) Lost() float64 {
	total := s.Events + s.Skipped
	if total == 0 {
		return 0
	}
	return 100 * float64(s.Skipped) / float64(total)
}

// devInfo holds the ingestion state for one device.
type devInfo struct {
	dev      Dev
	cpus     map[uint32]*cpuInfo
	nfiles   int
	batch    int
	events   uint64
	firstTs  uint64
	lastTs   uint64
	lastRead uint64 // youngest time read so far
}

func newDevInfo(dev Dev, batch int) *devInfo {
	return &devInfo{dev: dev, cpus: make(map[uint32]*cpuInfo), batch: batch}
}

func (d *devInfo) cpu(cpu uint32) *cpuInfo {
	c, ok := d.cpus[cpu]
	if !ok {
		c = newCPUInfo(d, cpu)
		d.cpus[cpu] = c
	}
	return c
}

// lookbackCap is the number of emitted records each cpu keeps around
// for late-arrival repair.
func (d *devInfo) lookbackCap() int {
	n := d.nfiles
	if n < 1 {
		n = 1
	}
	return d.batch * n
}

// seen records that rec was emitted.
func (d *devInfo) seen(rec *Record) {
	if d.events == 0 || rec.Time < d.firstTs {
		d.firstTs = rec.Time
	}
	if rec.Time > d.lastTs {
		d.lastTs = rec.Time
	}
	d.events++
}

// cpuInfo is the sequencing state of one (device, cpu) stream.
type cpuInfo struct {
	dev         *devInfo
	cpu         uint32
	started     bool
	lastSeq     uint32
	smallestSeq uint32
	haveSmall   bool
	skips       SkipList
	lookback    *lookback
	events      uint64
	late        uint64
	corrupt     uint64
}

func newCPUInfo(d *devInfo, cpu uint32) *cpuInfo {
	return &cpuInfo{dev: d, cpu: cpu, lookback: newLookback()}
}

// read notes a sequence number as having been read from the source,
// whether or not it has been emitted yet.
func (c *cpuInfo) read(seq uint32) {
	if !c.haveSmall || seq < c.smallestSeq {
		c.smallestSeq = seq
		c.haveSmall = true
	}
}

// check decides whether rec may be emitted now. It returns false if
// the record should be held back while more input arrives, which only
// happens when force is false.
func (c *cpuInfo) check(rec *Record, force bool) bool {
	seq := rec.Sequence
	if !c.started {
		if seq == 1 || (c.haveSmall && seq <= c.smallestSeq) {
			return true
		}
		return force
	}
	expected := c.lastSeq + 1
	switch {
	case seq == expected:
		return true
	case seq < expected:
		// Either a duplicate of something still in the lookback window
		// or a straggler that fills part of an earlier gap.
		if c.lookback.remove(seq) {
			return true
		}
		c.skips.Remove(seq)
		return true
	case !force:
		return false
	default:
		if c.skips.Remove(seq) {
			return true
		}
		c.skips.Insert(expected, seq-1)
		return true
	}
}

// emit advances the stream past rec, which check accepted.
func (c *cpuInfo) emit(rec *Record) {
	if !c.started || rec.Sequence > c.lastSeq {
		c.lastSeq = rec.Sequence
	} else {
		c.late++
	}
	c.started = true
	c.events++
	c.lookback.insert(rec.Sequence, c.dev.lookbackCap())
}

func (c *cpuInfo) stats() StreamStats {
	return StreamStats{
		Device:  c.dev.dev,
		CPU:     c.cpu,
		Events:  c.events,
		Late:    c.late,
		Corrupt: c.corrupt,
		Skips:   c.skips.Ranges(),
		Skipped: c.skips.Skipped(),
	}
}

// lookback is a bounded window of recently emitted sequence numbers,
// evicted in insertion order.
type lookback struct {
	tree *btree.BTreeG[uint32]
	fifo []uint32
}

func newLookback() *lookback {
	return &lookback{tree: btree.NewOrderedG[uint32](8)}
}

func (l *lookback) insert(seq uint32, capacity int) {
	if _, found := l.tree.ReplaceOrInsert(seq); found {
		return
	}
	l.fifo = append(l.fifo, seq)
	for l.tree.Len() > capacity && len(l.fifo) > 0 {
		old := l.fifo[0]
		l.fifo = l.fifo[1:]
		l.tree.Delete(old)
	}
}

func (l *lookback) remove(seq uint32) bool {
	_, ok := l.tree.Delete(seq)
	return ok
}

func (l *lookback) len() int {
	return l.tree.Len()
}

// devSet is the per-run table of devices seen by a reader.
type devSet struct {
	batch int
	devs  map[Dev]*devInfo
	last  *devInfo
}

func newDevSet(batch int) *devSet {
	return &devSet{batch: batch, devs: make(map[Dev]*devInfo)}
}

func (s *devSet) get(dev Dev) *devInfo {
	if s.last != nil && s.last.dev == dev {
		return s.last
	}
	d, ok := s.devs[dev]
	if !ok {
		d = newDevInfo(dev, s.batch)
		s.devs[dev] = d
	}
	s.last = d
	return d
}

func (s *devSet) stats() []StreamStats {
	var out []StreamStats
	devs := maps.Keys(s.devs)
	slices.Sort(devs)
	for _, dev := range devs {
		d := s.devs[dev]
		cpus := maps.Keys(d.cpus)
		slices.Sort(cpus)
		for _, cpu := range cpus {
			out = append(out, d.cpus[cpu].stats())
		}
	}
	return out
}
