// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt

import (
	"math"

	"github.com/google/btree"

	"golang.org/x/exp/blktrace"
	"golang.org/x/exp/blktrace/stats"
)

// UnplugShape buckets the number of requests released per unplug.
var UnplugShape = stats.HistLog2{First: 0, Delta: 1, Num: 10}

// track is one queued bio, from Q until the C that covers it.
type track struct {
	id     uint64
	sector uint64
	end    uint64
	bytes  uint32
	write  bool
	pid    uint32
	proc   *Process

	q, g, s, i, m, d uint64
	has              stageMask
}

type stageMask uint8

const (
	hasG stageMask = 1 << iota
	hasS
	hasI
	hasM
	hasD
	hasA
	hasR // requeued; already measured up to insert
)

func trackLess(a, b *track) bool {
	if a.sector != b.sector {
		return a.sector < b.sector
	}
	return a.id < b.id
}

// request is an extent the block layer is assembling from bios, keyed
// by its start sector.
type request struct {
	id         uint64
	start, end uint64
	merges     uint64
}

func requestLess(a, b *request) bool {
	if a.start != b.start {
		return a.start < b.start
	}
	return a.id < b.id
}

// Plug tracks a device's plug state.
type Plug struct {
	Plugs       uint64
	Unplugs     uint64
	TimerUnplug uint64
	PluggedTime uint64 // nanoseconds

	plugged bool
	since   uint64
	hist    *stats.Histogram
}

// Histogram returns the distribution of requests released per unplug.
func (p *Plug) Histogram() *stats.Histogram { return p.hist }

func (p *Plug) plug(now uint64) {
	p.Plugs++
	if !p.plugged {
		p.plugged = true
		p.since = now
	}
}

func (p *Plug) unplug(now uint64, timer bool, released uint64, ok bool) {
	if timer {
		p.TimerUnplug++
	} else {
		p.Unplugs++
	}
	if ok {
		p.hist.Add(released)
	}
	if p.plugged {
		if now > p.since {
			p.PluggedTime += now - p.since
		}
		p.plugged = false
	}
}

// Counts holds per-device event tallies that carry no latency.
type Counts struct {
	Events     uint64
	Splits     uint64
	Bounces    uint64
	Aborts     uint64
	DriverData uint64
	Requeues   uint64
	Remaps     uint64
	Errors     uint64
	Aliases    uint64
	Incomplete uint64
	NotFound   map[blktrace.ActionCode]uint64
}

// Device accumulates the statistics of one block device.
type Device struct {
	Dev     blktrace.Dev
	Lat     Latencies
	IOStat  IOStat
	Counts  Counts
	Plug    Plug
	Regions Regions

	// QueueDepth counts bios queued but not yet merged or dispatched;
	// DriverDepth counts requests dispatched but not yet completed.
	QueueDepth  stats.Depth
	DriverDepth stats.Depth

	QSeek, DSeek, CSeek *stats.SeekTracker
	SizeHist, D2CHist   *stats.Histogram
	quantiles

	// Blocks holds the sizes, in sectors, of dispatched requests.
	Blocks stats.MinMax[uint64]

	First, Last uint64

	inflight *btree.BTreeG[*track]
	requests *btree.BTreeG[*request]
	reqEnds  map[uint64]*request
	nextID   uint64
	lastQ    uint64
	haveQ    bool
}

func newDevice(dev blktrace.Dev, cfg *Config) *Device {
	return &Device{
		Dev:       dev,
		Counts:    Counts{NotFound: make(map[blktrace.ActionCode]uint64)},
		Plug:      Plug{hist: stats.NewHistogram(UnplugShape)},
		Regions:   Regions{Delta: cfg.RegionDelta},
		QSeek:     stats.NewSeekTracker(cfg.AbsoluteSeeks),
		DSeek:     stats.NewSeekTracker(cfg.AbsoluteSeeks),
		CSeek:     stats.NewSeekTracker(cfg.AbsoluteSeeks),
		SizeHist:  stats.NewHistogram(stats.SizeShape),
		D2CHist:   stats.NewHistogram(stats.D2CShape),
		quantiles: newQuantiles(),
		inflight:  btree.NewG(16, trackLess),
		requests:  btree.NewG(16, requestLess),
		reqEnds:   make(map[uint64]*request),
	}
}

// InFlight returns the number of bios queued and not yet completed.
func (d *Device) InFlight() int {
	return d.inflight.Len()
}

// Pending returns the number of inserted requests not yet dispatched.
func (d *Device) Pending() int {
	return d.requests.Len()
}

// HasTrack reports whether a bio queued at sector is still in flight.
func (d *Device) HasTrack(sector uint64) bool {
	found := false
	d.inflight.AscendGreaterOrEqual(&track{sector: sector}, func(t *track) bool {
		found = t.sector == sector
		return false
	})
	return found
}

func (d *Device) newTrack(rec *blktrace.Record) *track {
	d.nextID++
	t := &track{
		id:     d.nextID,
		sector: rec.Sector,
		end:    rec.End(),
		bytes:  rec.Bytes,
		write:  rec.Action.IsWrite(),
		pid:    rec.PID,
		q:      rec.Time,
	}
	d.inflight.ReplaceOrInsert(t)
	return t
}

// newest returns the most recently queued in-flight bio at sector that
// has not yet reached the stage in skip.
func (d *Device) newest(sector uint64, skip stageMask) *track {
	var found *track
	pivot := &track{sector: sector, id: math.MaxUint64}
	d.inflight.DescendLessOrEqual(pivot, func(t *track) bool {
		if t.sector != sector {
			return false
		}
		if t.has&skip == 0 {
			found = t
			return false
		}
		return true
	})
	return found
}

// covered returns the in-flight bios that start inside [start, end).
func (d *Device) covered(start, end uint64) []*track {
	if end <= start {
		end = start + 1
	}
	var ts []*track
	d.inflight.AscendRange(&track{sector: start}, &track{sector: end}, func(t *track) bool {
		ts = append(ts, t)
		return true
	})
	return ts
}

func (d *Device) release(t *track) {
	d.inflight.Delete(t)
}

func (d *Device) addRequest(start, end uint64) *request {
	if r, ok := d.reqEnds[end]; ok && r.start == start {
		return r
	}
	d.nextID++
	r := &request{id: d.nextID, start: start, end: end}
	d.requests.ReplaceOrInsert(r)
	d.reqEnds[end] = r
	return r
}

// requestAt returns the pending request starting at sector.
func (d *Device) requestAt(start uint64) *request {
	var found *request
	d.requests.AscendGreaterOrEqual(&request{start: start}, func(r *request) bool {
		if r.start == start {
			found = r
		}
		return false
	})
	return found
}

// backMerge grows the request ending at sector to end.
func (d *Device) backMerge(sector, end uint64) bool {
	r, ok := d.reqEnds[sector]
	if !ok {
		return false
	}
	delete(d.reqEnds, sector)
	r.end = end
	r.merges++
	d.reqEnds[end] = r
	return true
}

// frontMerge moves the start of the request beginning at end back to
// sector, re-keying it.
func (d *Device) frontMerge(sector, end uint64) bool {
	r := d.requestAt(end)
	if r == nil {
		return false
	}
	d.requests.Delete(r)
	r.start = sector
	r.merges++
	d.requests.ReplaceOrInsert(r)
	return true
}

func (d *Device) removeRequest(start uint64) {
	r := d.requestAt(start)
	if r == nil {
		return
	}
	d.requests.Delete(r)
	if d.reqEnds[r.end] == r {
		delete(d.reqEnds, r.end)
	}
}

func (d *Device) seen(now uint64) {
	if d.Counts.Events == 0 || now < d.First {
		d.First = now
	}
	if now > d.Last {
		d.Last = now
	}
	d.Counts.Events++
}

// Process accumulates the statistics of one process, identified by pid
// or by command name.
type Process struct {
	PID   uint32
	Name  string
	Lat   Latencies
	QSeek *stats.SeekTracker

	Queued, Completed [2]uint64 // reads, writes
	QueuedBytes       [2]uint64
	Regions           Regions

	lastQ uint64
	haveQ bool
}

// Regions records the periods during which I/O was being queued. A
// new region starts when the gap since the previous queue exceeds
// Delta nanoseconds.
type Regions struct {
	Delta uint64
	List  []Region
}

// Region is a half-open interval of activity.
type Region struct {
	Start, End uint64
}

func (r *Regions) add(now uint64) {
	n := len(r.List)
	if n > 0 && now >= r.List[n-1].End && now-r.List[n-1].End <= r.Delta {
		r.List[n-1].End = now
		return
	}
	if n > 0 && now < r.List[n-1].End {
		return
	}
	r.List = append(r.List, Region{Start: now, End: now})
}
