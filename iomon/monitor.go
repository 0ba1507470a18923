// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package iomon summarizes block I/O traces into periodic per-device
// statistics in the manner of blkiomon: request sizes, dispatch to
// completion times and throughput, split by direction, with log2
// histograms.
package iomon

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"golang.org/x/exp/blktrace"
)

// DefaultInterval is the length of a reporting interval.
const DefaultInterval = time.Second

// Config configures a Monitor.
type Config struct {
	Interval time.Duration
	Logger   *zap.Logger
}

type dispatch struct {
	time  uint64
	bytes uint32
}

type devState struct {
	stat     *Stat
	inflight map[uint64]dispatch // by sector
}

// A Monitor turns a time-ordered stream of records into Stats, one
// per device per interval.
type Monitor struct {
	interval uint64
	log      *zap.Logger
	devs     map[blktrace.Dev]*devState
	end      uint64 // end of the current interval
	started  bool

	// Unmatched counts completions with no recorded dispatch.
	Unmatched uint64
}

// New returns a Monitor configured by cfg.
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Monitor{
		interval: uint64(cfg.Interval),
		log:      cfg.Logger,
		devs:     make(map[blktrace.Dev]*devState),
	}
}

// Handle folds rec into the current interval. If rec starts a new
// interval, the Stats of every interval it closes are returned first.
func (m *Monitor) Handle(rec *blktrace.Record) []*Stat {
	if rec.Action.IsNotify() {
		return nil
	}
	var out []*Stat
	if !m.started {
		m.started = true
		m.end = rec.Time - rec.Time%m.interval + m.interval
	}
	for rec.Time >= m.end {
		out = append(out, m.flush(m.end)...)
		m.end += m.interval
	}

	switch rec.Action.Code() {
	case blktrace.ActIssue:
		if rec.Bytes == 0 {
			return out
		}
		d := m.device(rec.Device)
		d.inflight[rec.Sector] = dispatch{time: rec.Time, bytes: rec.Bytes}
	case blktrace.ActComplete:
		if rec.Bytes == 0 {
			return out
		}
		m.complete(rec)
	}
	return out
}

// Flush returns the Stats of the interval in progress, stamped with
// time now, and starts a new one.
func (m *Monitor) Flush(now uint64) []*Stat {
	return m.flush(now)
}

func (m *Monitor) complete(rec *blktrace.Record) {
	d := m.device(rec.Device)
	disp, ok := d.inflight[rec.Sector]
	if !ok {
		m.Unmatched++
		m.log.Debug("completion without dispatch",
			zap.Stringer("dev", rec.Device), zap.Uint64("sector", rec.Sector))
		return
	}
	delete(d.inflight, rec.Sector)

	s := d.stat
	size := uint64(rec.Bytes)
	var d2c uint64
	if rec.Time > disp.time {
		d2c = (rec.Time - disp.time) / 1000
	}
	// Bytes per microsecond to KiB per second.
	thrput := size * 1_000_000 / 1024
	if d2c > 0 {
		thrput /= d2c
	}

	s.SizeHist.Add(size)
	s.D2CHist.Add(d2c)
	cat := rec.Action.Category()
	if cat&blktrace.CatRead != 0 && cat&blktrace.CatWrite != 0 {
		s.Bidir++
	}
	if rec.Action.IsWrite() {
		s.SizeW.Add(size)
		s.D2CW.Add(d2c)
		s.ThrputW.Add(thrput)
	} else {
		s.SizeR.Add(size)
		s.D2CR.Add(d2c)
		s.ThrputR.Add(thrput)
	}
}

func (m *Monitor) device(dev blktrace.Dev) *devState {
	d, ok := m.devs[dev]
	if !ok {
		d = &devState{stat: NewStat(dev), inflight: make(map[uint64]dispatch)}
		m.devs[dev] = d
	}
	return d
}

func (m *Monitor) flush(now uint64) []*Stat {
	devs := maps.Keys(m.devs)
	slices.Sort(devs)
	out := make([]*Stat, 0, len(devs))
	for _, dev := range devs {
		d := m.devs[dev]
		d.stat.Time = now
		out = append(out, d.stat)
		d.stat = NewStat(dev)
	}
	return out
}
