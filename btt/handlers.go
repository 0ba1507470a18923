// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt

import (
	"go.uber.org/zap"

	"golang.org/x/exp/blktrace"
	"golang.org/x/exp/blktrace/stats"
)

func newSeek(cfg *Config) *stats.SeekTracker {
	return stats.NewSeekTracker(cfg.AbsoluteSeeks)
}

// latency records stage s for t on its device, its process and the
// whole run.
func (a *Analyzer) latency(d *Device, t *track, s Stage, from, to uint64) {
	d.Lat.add(s, from, to)
	d.quantiles.add(s, from, to)
	a.Lat.add(s, from, to)
	a.quantiles.add(s, from, to)
	if t != nil && t.proc != nil {
		t.proc.Lat.add(s, from, to)
	}
}

func (a *Analyzer) queue(d *Device, rec *blktrace.Record) {
	if rec.Bytes == 0 {
		return
	}
	now := rec.Time
	if d.HasTrack(rec.Sector) {
		d.Counts.Aliases++
		a.log.Warn("sector alias",
			zap.Stringer("dev", rec.Device),
			zap.Uint64("sector", rec.Sector),
			zap.Uint64("time", now))
	}
	t := d.newTrack(rec)
	p := a.process(rec.PID)
	t.proc = p

	if d.haveQ {
		d.Lat.add(Q2Q, d.lastQ, now)
	}
	d.lastQ, d.haveQ = now, true
	if a.haveQ {
		a.Lat.add(Q2Q, a.lastQ, now)
	}
	a.lastQ, a.haveQ = now, true
	if p.haveQ {
		p.Lat.add(Q2Q, p.lastQ, now)
	}
	p.lastQ, p.haveQ = now, true

	d.QueueDepth.Inc(now)
	d.Regions.add(now)
	p.Regions.add(now)
	d.QSeek.Add(t.sector, t.end)
	p.QSeek.Add(t.sector, t.end)
	dir := direction(t.write)
	p.Queued[dir]++
	p.QueuedBytes[dir] += uint64(t.bytes)
}

func (a *Analyzer) getRequest(d *Device, rec *blktrace.Record, sleep bool) {
	if rec.Bytes == 0 {
		return
	}
	now := rec.Time
	if sleep {
		t := d.newest(rec.Sector, hasS|hasG|hasD)
		if t == nil {
			a.notFound(d, rec)
			return
		}
		t.s = now
		t.has |= hasS
		return
	}
	t := d.newest(rec.Sector, hasG|hasD)
	if t == nil {
		a.notFound(d, rec)
		return
	}
	t.g = now
	t.has |= hasG
	a.latency(d, t, Q2G, t.q, now)
	if t.has&hasS != 0 {
		a.latency(d, t, S2G, t.s, now)
	}
}

func (a *Analyzer) insert(d *Device, rec *blktrace.Record) {
	if rec.Bytes == 0 {
		return
	}
	now := rec.Time
	d.addRequest(rec.Sector, rec.End())
	t := d.newest(rec.Sector, hasI|hasD)
	if t == nil {
		a.notFound(d, rec)
		return
	}
	t.i = now
	t.has |= hasI
	if t.has&hasR != 0 {
		t.has &^= hasR
		return
	}
	from := t.q
	if t.has&hasG != 0 {
		from = t.g
	}
	a.latency(d, t, G2I, from, now)
}

func (a *Analyzer) merge(d *Device, rec *blktrace.Record, front bool) {
	if rec.Bytes == 0 {
		return
	}
	now := rec.Time
	dir := direction(rec.Action.IsWrite())
	d.IOStat.Merges[dir]++

	var ok bool
	if front {
		ok = d.frontMerge(rec.Sector, rec.End())
	} else {
		ok = d.backMerge(rec.Sector, rec.End())
	}
	if !ok {
		a.log.Debug("merge target not found",
			zap.Stringer("dev", rec.Device),
			zap.Uint64("sector", rec.Sector),
			zap.Bool("front", front))
	}

	t := d.newest(rec.Sector, hasM|hasD)
	if t == nil {
		a.notFound(d, rec)
		return
	}
	t.m = now
	t.has |= hasM
	d.QueueDepth.Dec(now)
	a.latency(d, t, Q2M, t.q, now)
}

func (a *Analyzer) issue(d *Device, rec *blktrace.Record) {
	if rec.Bytes == 0 {
		return
	}
	now := rec.Time
	var found int
	for _, t := range d.covered(rec.Sector, rec.End()) {
		if t.has&hasD != 0 {
			continue
		}
		found++
		t.d = now
		t.has |= hasD
		switch {
		case t.has&hasM != 0:
			a.latency(d, t, M2D, t.m, now)
		case t.has&hasI != 0:
			a.latency(d, t, I2D, t.i, now)
			d.QueueDepth.Dec(now)
		default:
			d.QueueDepth.Dec(now)
		}
	}
	if found == 0 {
		a.notFound(d, rec)
	}
	d.removeRequest(rec.Sector)
	d.DriverDepth.Inc(now)
	dir := direction(rec.Action.IsWrite())
	if rec.Action.Is(blktrace.CatPC) {
		d.IOStat.IssuedPC[dir]++
	} else {
		d.IOStat.Issued[dir]++
	}
	d.DSeek.Add(rec.Sector, rec.End())
	d.SizeHist.Add(uint64(rec.Bytes))
	d.Blocks.Add(rec.Sectors())
}

func (a *Analyzer) complete(d *Device, rec *blktrace.Record) {
	if rec.Bytes == 0 {
		return
	}
	now := rec.Time
	dispatched, haveD := uint64(0), false
	ts := d.covered(rec.Sector, rec.End())
	for _, t := range ts {
		a.latency(d, t, Q2C, t.q, now)
		d.IOStat.Wait += seconds(now - min(now, t.q))
		d.IOStat.bios++
		if t.has&hasD != 0 {
			a.latency(d, t, D2C, t.d, now)
			if now >= t.d {
				d.D2CHist.Add((now - t.d) / 1000)
			}
			if !haveD || t.d < dispatched {
				dispatched, haveD = t.d, true
			}
		}
		if t.proc != nil {
			t.proc.Completed[direction(t.write)]++
		}
		d.release(t)
	}
	if len(ts) == 0 {
		a.notFound(d, rec)
	}
	dir := direction(rec.Action.IsWrite())
	if rec.Action.Is(blktrace.CatPC) {
		d.IOStat.CompletedPC[dir]++
	} else {
		if haveD && now >= dispatched {
			d.IOStat.Service += seconds(now - dispatched)
		}
		d.IOStat.Completed[dir]++
		d.IOStat.Sectors[dir] += rec.Sectors()
	}
	d.DriverDepth.Dec(now)
	d.CSeek.Add(rec.Sector, rec.End())
	if rec.Error != 0 {
		d.Counts.Errors++
	}
}

func (a *Analyzer) requeue(d *Device, rec *blktrace.Record) {
	d.Counts.Requeues++
	if rec.Bytes == 0 {
		return
	}
	now := rec.Time
	// The request goes back to the queue and is inserted and
	// dispatched again, so each bio's I2D and D2C restart.
	for _, t := range d.covered(rec.Sector, rec.End()) {
		t.has &^= hasD | hasI | hasM
		t.has |= hasR
		t.i, t.m, t.d = 0, 0, 0
		d.QueueDepth.Inc(now)
	}
	d.DriverDepth.Dec(now)
}

// remap links an I/O on a stacked device, such as a partition or a
// logical volume, to the bio queued on the device it came from.
func (a *Analyzer) remap(d *Device, rec *blktrace.Record) {
	d.Counts.Remaps++
	if rec.Bytes == 0 {
		return
	}
	m, ok := blktrace.RemapPDU(rec)
	if !ok {
		a.log.Debug("remap without payload", zap.Stringer("dev", rec.Device))
		return
	}
	from := a.device(m.From)
	t := from.newest(m.FromSector, hasA)
	if t == nil {
		a.notFound(from, rec)
		return
	}
	t.has |= hasA
	a.latency(from, t, Q2A, t.q, rec.Time)
}
