// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"bufio"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"golang.org/x/exp/blktrace"
)

// Counts tallies events by kind and direction; index 0 is reads and 1
// is writes. Passthrough (PC) requests are counted apart from file
// system requests.
type Counts struct {
	Queued, Merged, Dispatched, Completed, Requeued [2]uint64
	QueuedKiB, DispatchedKiB, CompletedKiB          [2]uint64
	Plugs, Unplugs, TimerUnplugs                    uint64
	Events                                          uint64

	PC PCCounts
}

// PCCounts tallies passthrough requests by direction.
type PCCounts struct {
	Queued, Dispatched, Completed, Requeued [2]uint64
	QueuedKiB, DispatchedKiB, CompletedKiB [2]uint64
}

func (c *PCCounts) add(code blktrace.ActionCode, dir int, kib uint64) {
	switch code {
	case blktrace.ActQueue:
		c.Queued[dir]++
		c.QueuedKiB[dir] += kib
	case blktrace.ActIssue:
		c.Dispatched[dir]++
		c.DispatchedKiB[dir] += kib
	case blktrace.ActComplete:
		c.Completed[dir]++
		c.CompletedKiB[dir] += kib
	case blktrace.ActRequeue:
		c.Requeued[dir]++
	}
}

func (c *PCCounts) merge(o *PCCounts) {
	for i := 0; i < 2; i++ {
		c.Queued[i] += o.Queued[i]
		c.Dispatched[i] += o.Dispatched[i]
		c.Completed[i] += o.Completed[i]
		c.Requeued[i] += o.Requeued[i]
		c.QueuedKiB[i] += o.QueuedKiB[i]
		c.DispatchedKiB[i] += o.DispatchedKiB[i]
		c.CompletedKiB[i] += o.CompletedKiB[i]
	}
}

func (c *PCCounts) empty() bool {
	return *c == PCCounts{}
}

func (c *Counts) add(rec *blktrace.Record) {
	c.Events++
	dir := 0
	if rec.Action.IsWrite() {
		dir = 1
	}
	kib := uint64(rec.Bytes) / 1024
	if rec.Action.Is(blktrace.CatPC) {
		c.PC.add(rec.Action.Code(), dir, kib)
		return
	}
	switch rec.Action.Code() {
	case blktrace.ActQueue:
		c.Queued[dir]++
		c.QueuedKiB[dir] += kib
	case blktrace.ActBackMerge, blktrace.ActFrontMerge:
		c.Merged[dir]++
	case blktrace.ActIssue:
		c.Dispatched[dir]++
		c.DispatchedKiB[dir] += kib
	case blktrace.ActComplete:
		c.Completed[dir]++
		c.CompletedKiB[dir] += kib
	case blktrace.ActRequeue:
		c.Requeued[dir]++
	case blktrace.ActPlug:
		c.Plugs++
	case blktrace.ActUnplugIO:
		c.Unplugs++
	case blktrace.ActUnplugTimer:
		c.TimerUnplugs++
	}
}

func (c *Counts) merge(o *Counts) {
	for i := 0; i < 2; i++ {
		c.Queued[i] += o.Queued[i]
		c.Merged[i] += o.Merged[i]
		c.Dispatched[i] += o.Dispatched[i]
		c.Completed[i] += o.Completed[i]
		c.Requeued[i] += o.Requeued[i]
		c.QueuedKiB[i] += o.QueuedKiB[i]
		c.DispatchedKiB[i] += o.DispatchedKiB[i]
		c.CompletedKiB[i] += o.CompletedKiB[i]
	}
	c.PC.merge(&o.PC)
	c.Plugs += o.Plugs
	c.Unplugs += o.Unplugs
	c.TimerUnplugs += o.TimerUnplugs
	c.Events += o.Events
}

type streamKey struct {
	dev blktrace.Dev
	cpu uint32
}

// A Summary accumulates per-cpu, per-device and per-process event
// counts.
type Summary struct {
	streams map[streamKey]*Counts
	procs   map[string]*Counts
	names   Namer
}

// NewSummary returns an empty Summary. names, if not nil, groups the
// per-process counts by command name.
func NewSummary(names Namer) *Summary {
	return &Summary{
		streams: make(map[streamKey]*Counts),
		procs:   make(map[string]*Counts),
		names:   names,
	}
}

// Add counts rec.
func (s *Summary) Add(rec *blktrace.Record) {
	if rec.Action.IsNotify() {
		return
	}
	k := streamKey{rec.Device, rec.CPU}
	c, ok := s.streams[k]
	if !ok {
		c = new(Counts)
		s.streams[k] = c
	}
	c.add(rec)

	if rec.Action.Code() != blktrace.ActQueue && rec.PID == 0 {
		return
	}
	name := ""
	if s.names != nil {
		name = s.names.ProcessName(rec.PID)
	}
	if name == "" {
		name = fmt.Sprint(rec.PID)
	}
	p, ok := s.procs[name]
	if !ok {
		p = new(Counts)
		s.procs[name] = p
	}
	p.add(rec)
}

// Device returns the totals for dev across cpus.
func (s *Summary) Device(dev blktrace.Dev) Counts {
	var c Counts
	for k, v := range s.streams {
		if k.dev == dev {
			c.merge(v)
		}
	}
	return c
}

// CPU returns the counts of one cpu of dev.
func (s *Summary) CPU(dev blktrace.Dev, cpu uint32) Counts {
	if c, ok := s.streams[streamKey{dev, cpu}]; ok {
		return *c
	}
	return Counts{}
}

// WriteTo writes the per-cpu and per-device tables, the per-process
// tables if procs is set, and the data-quality lines of q.
func (s *Summary) WriteTo(w io.Writer, q blktrace.Summary, procs bool) error {
	bw := bufio.NewWriter(w)
	keys := maps.Keys(s.streams)
	slices.SortFunc(keys, func(a, b streamKey) int {
		switch {
		case a.dev != b.dev:
			return cmpUint(uint64(a.dev), uint64(b.dev))
		default:
			return cmpUint(uint64(a.cpu), uint64(b.cpu))
		}
	})
	for i, k := range keys {
		writeCounts(bw, fmt.Sprintf("CPU%d (%s):", k.cpu, k.dev), s.streams[k])
		if i == len(keys)-1 || keys[i+1].dev != k.dev {
			total := s.Device(k.dev)
			writeCounts(bw, fmt.Sprintf("Total (%s):", k.dev), &total)
		}
	}
	if procs {
		names := maps.Keys(s.procs)
		slices.Sort(names)
		for _, n := range names {
			writeCounts(bw, n+":", s.procs[n])
		}
	}
	fmt.Fprintf(bw, "Events: %s entries\n", humanize.Comma(int64(q.Events)))
	fmt.Fprintf(bw, "Skips: %d forward (%s - %5.1f%%)\n", q.Skips, humanize.Comma(int64(q.Skipped)), q.Lost())
	if q.Corrupt > 0 {
		fmt.Fprintf(bw, "Corrupt records: %d\n", q.Corrupt)
	}
	return bw.Flush()
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func writeCounts(w io.Writer, title string, c *Counts) {
	row := func(rl, wl string, r, rk, wr, wk uint64) {
		fmt.Fprintf(w, " %-16s %10s, %8sKiB  %-16s %10s, %8sKiB\n",
			rl, humanize.Comma(int64(r)), humanize.Comma(int64(rk)),
			wl, humanize.Comma(int64(wr)), humanize.Comma(int64(wk)))
	}
	fmt.Fprintln(w, title)
	row("Reads Queued:", "Writes Queued:", c.Queued[0], c.QueuedKiB[0], c.Queued[1], c.QueuedKiB[1])
	row("Read Dispatches:", "Write Dispatches:", c.Dispatched[0], c.DispatchedKiB[0], c.Dispatched[1], c.DispatchedKiB[1])
	row("Reads Completed:", "Writes Completed:", c.Completed[0], c.CompletedKiB[0], c.Completed[1], c.CompletedKiB[1])
	if pc := &c.PC; !pc.empty() {
		row("PC Reads Queued:", "PC Writes Queued:", pc.Queued[0], pc.QueuedKiB[0], pc.Queued[1], pc.QueuedKiB[1])
		row("PC Read Disp.:", "PC Write Disp.:", pc.Dispatched[0], pc.DispatchedKiB[0], pc.Dispatched[1], pc.DispatchedKiB[1])
		row("PC Reads Compl.:", "PC Writes Compl.:", pc.Completed[0], pc.CompletedKiB[0], pc.Completed[1], pc.CompletedKiB[1])
		fmt.Fprintf(w, " %-16s %10s  %-16s %10s\n", "PC Read Requeues:", humanize.Comma(int64(pc.Requeued[0])),
			"PC Write Requeues:", humanize.Comma(int64(pc.Requeued[1])))
	}
	fmt.Fprintf(w, " %-16s %10s  %-16s %10s\n", "Read Merges:", humanize.Comma(int64(c.Merged[0])),
		"Write Merges:", humanize.Comma(int64(c.Merged[1])))
	fmt.Fprintf(w, " %-16s %10s  %-16s %10s\n", "Read Requeues:", humanize.Comma(int64(c.Requeued[0])),
		"Write Requeues:", humanize.Comma(int64(c.Requeued[1])))
	fmt.Fprintf(w, " %-16s %10d  %-16s %10d  %-16s %10d\n", "Plugs:", c.Plugs,
		"Unplugs:", c.Unplugs, "Timer unplugs:", c.TimerUnplugs)
	fmt.Fprintln(w)
}
