// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package btt correlates the events of a block trace into the life
// cycles of individual I/Os and reports where time was spent.
//
// An Analyzer consumes records in time order, typically from a
// blktrace.Reader, and follows each queued bio through request
// allocation, insertion, merging, dispatch and completion. Latencies
// between those points are accumulated per device, per process and
// overall.
package btt

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"golang.org/x/exp/blktrace"
)

// DefaultRegionDelta is the longest pause, in nanoseconds, that still
// counts as one period of activity.
const DefaultRegionDelta = 100_000_000

// Config configures an Analyzer.
type Config struct {
	// AbsoluteSeeks measures seeks from the end of the previous I/O
	// even when the next one overlaps it.
	AbsoluteSeeks bool

	// ProcessByName groups processes by command name instead of pid.
	ProcessByName bool

	// RegionDelta overrides DefaultRegionDelta.
	RegionDelta uint64

	Logger *zap.Logger
	Tracer trace.Tracer
}

type procKey struct {
	pid  uint32
	name string
}

// An Analyzer holds the state of one analysis run.
type Analyzer struct {
	cfg   Config
	log   *zap.Logger
	devs  map[blktrace.Dev]*Device
	procs map[procKey]*Process
	names map[uint32]string
	span  trace.Span

	// Lat aggregates latencies across all devices.
	Lat Latencies
	quantiles

	// Unknown counts records with an action code the analyzer does
	// not recognize.
	Unknown uint64
	Events  uint64

	first, last uint64
	end         uint64
	lastQ       uint64
	haveQ       bool
}

// New returns an Analyzer configured by cfg.
func New(cfg Config) *Analyzer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RegionDelta == 0 {
		cfg.RegionDelta = DefaultRegionDelta
	}
	a := &Analyzer{
		cfg:       cfg,
		log:       cfg.Logger,
		devs:      make(map[blktrace.Dev]*Device),
		procs:     make(map[procKey]*Process),
		names:     make(map[uint32]string),
		quantiles: newQuantiles(),
	}
	if cfg.Tracer != nil {
		_, a.span = cfg.Tracer.Start(context.Background(), "btt.analyze")
	}
	return a
}

// SetProcessName records the command name of pid, as a NotifyProcess
// record would.
func (a *Analyzer) SetProcessName(pid uint32, name string) {
	a.names[pid] = name
	if p, ok := a.procs[procKey{pid: pid}]; ok && p.Name == "" {
		p.Name = name
	}
}

// Handle folds one record into the analysis. Records must arrive in
// time order.
func (a *Analyzer) Handle(rec *blktrace.Record) {
	if rec.Action.IsNotify() {
		if rec.Action.Code() == blktrace.NotifyProcess {
			a.SetProcessName(rec.PID, blktrace.ProcessName(rec))
		}
		return
	}
	now := rec.Time
	if a.Events == 0 || now < a.first {
		a.first = now
	}
	if now > a.last {
		a.last = now
	}
	a.Events++

	d := a.device(rec.Device)
	d.seen(now)

	switch code := rec.Action.Code(); code {
	case blktrace.ActQueue:
		a.queue(d, rec)
	case blktrace.ActGetRequest:
		a.getRequest(d, rec, false)
	case blktrace.ActSleepRequest:
		a.getRequest(d, rec, true)
	case blktrace.ActInsert:
		a.insert(d, rec)
	case blktrace.ActBackMerge:
		a.merge(d, rec, false)
	case blktrace.ActFrontMerge:
		a.merge(d, rec, true)
	case blktrace.ActIssue:
		a.issue(d, rec)
	case blktrace.ActComplete:
		a.complete(d, rec)
	case blktrace.ActRequeue:
		a.requeue(d, rec)
	case blktrace.ActPlug:
		d.Plug.plug(now)
	case blktrace.ActUnplugIO, blktrace.ActUnplugTimer:
		n, ok := blktrace.UnplugCount(rec)
		d.Plug.unplug(now, code == blktrace.ActUnplugTimer, n, ok)
	case blktrace.ActRemap:
		a.remap(d, rec)
	case blktrace.ActSplit:
		d.Counts.Splits++
	case blktrace.ActBounce:
		d.Counts.Bounces++
	case blktrace.ActAbort:
		d.Counts.Aborts++
	case blktrace.ActDriverData:
		d.Counts.DriverData++
	default:
		a.Unknown++
		a.log.Debug("unknown action", zap.Stringer("action", code), zap.Stringer("dev", rec.Device))
	}
}

// Finish closes the run at time now. In-flight bios are counted as
// incomplete and time-weighted averages are taken up to now.
func (a *Analyzer) Finish(now uint64) {
	if now < a.last {
		now = a.last
	}
	a.end = now
	var incomplete uint64
	for _, d := range a.devs {
		d.Counts.Incomplete = uint64(d.InFlight())
		incomplete += d.Counts.Incomplete
	}
	if incomplete > 0 {
		a.log.Debug("bios still in flight at end of trace", zap.Uint64("count", incomplete))
	}
	if a.span != nil {
		a.span.SetAttributes(
			attribute.Int64("events", int64(a.Events)),
			attribute.Int("devices", len(a.devs)),
			attribute.Int64("incomplete", int64(incomplete)),
		)
		a.span.End()
		a.span = nil
	}
}

// Span returns the first and last event times seen.
func (a *Analyzer) Span() (first, last uint64) {
	return a.first, a.last
}

// Device returns the statistics of dev, or nil if it was never seen.
func (a *Analyzer) Device(dev blktrace.Dev) *Device {
	return a.devs[dev]
}

// Devices returns every device seen, ordered by device number.
func (a *Analyzer) Devices() []*Device {
	ds := maps.Values(a.devs)
	slices.SortFunc(ds, func(x, y *Device) int {
		switch {
		case x.Dev < y.Dev:
			return -1
		case x.Dev > y.Dev:
			return 1
		}
		return 0
	})
	return ds
}

// Processes returns every process seen, ordered by name then pid.
func (a *Analyzer) Processes() []*Process {
	ps := maps.Values(a.procs)
	slices.SortFunc(ps, func(x, y *Process) int {
		switch {
		case x.Name < y.Name:
			return -1
		case x.Name > y.Name:
			return 1
		case x.PID < y.PID:
			return -1
		case x.PID > y.PID:
			return 1
		}
		return 0
	})
	return ps
}

func (a *Analyzer) device(dev blktrace.Dev) *Device {
	d, ok := a.devs[dev]
	if !ok {
		d = newDevice(dev, &a.cfg)
		a.devs[dev] = d
	}
	return d
}

func (a *Analyzer) process(pid uint32) *Process {
	name := a.names[pid]
	key := procKey{pid: pid}
	if a.cfg.ProcessByName && name != "" {
		key = procKey{name: name}
	}
	p, ok := a.procs[key]
	if !ok {
		p = &Process{
			PID:     pid,
			Name:    name,
			QSeek:   newSeek(&a.cfg),
			Regions: Regions{Delta: a.cfg.RegionDelta},
		}
		a.procs[key] = p
	}
	return p
}

func (a *Analyzer) notFound(d *Device, rec *blktrace.Record) {
	code := rec.Action.Code()
	d.Counts.NotFound[code]++
	a.log.Debug("no matching I/O",
		zap.Stringer("action", code),
		zap.Stringer("dev", rec.Device),
		zap.Uint64("sector", rec.Sector),
		zap.Uint64("time", rec.Time))
}
