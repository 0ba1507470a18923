// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"golang.org/x/exp/blktrace"
	"golang.org/x/exp/blktrace/stats"
)

// ReportOptions selects the optional sections of a report.
type ReportOptions struct {
	PerDevice  bool // latency tables for each device
	PerProcess bool // latency and queue tables for each process
}

// Quantiles reported for D2C and Q2C.
var reportQuantiles = []float64{0.5, 0.9, 0.99}

// WriteReport writes a text report of the run to w. sum describes the
// quality of the input and is summarized at the end.
func (a *Analyzer) WriteReport(w io.Writer, sum blktrace.Summary, opts ReportOptions) error {
	bw := bufio.NewWriter(w)
	r := &report{w: bw, a: a}
	devs := a.Devices()

	r.header("All Devices")
	r.latencies(&a.Lat)
	r.percentiles(a.quantiles, &a.Lat)

	r.header("Device Overhead")
	r.overhead(devs)

	r.header("Device Merge Information")
	r.merges(devs)

	r.header("Device Q2Q Seek Information")
	r.seeks(devs, func(d *Device) *stats.SeekTracker { return d.QSeek })
	r.header("Device D2D Seek Information")
	r.seeks(devs, func(d *Device) *stats.SeekTracker { return d.DSeek })

	r.header("Plug Information")
	r.plugs(devs)

	r.header("Queue Depths")
	r.depths(devs)

	r.header("IOSTAT")
	r.iostat(devs)

	if opts.PerDevice {
		for _, d := range devs {
			r.header("Device " + d.Dev.String())
			r.latencies(&d.Lat)
			r.percentiles(d.quantiles, &d.Lat)
		}
	}
	if opts.PerProcess {
		r.header("Per Process")
		r.processes(a.Processes())
	}

	r.header("Data Quality")
	r.quality(devs, sum)
	return bw.Flush()
}

type report struct {
	w *bufio.Writer
	a *Analyzer
}

func (r *report) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.w, format, args...)
}

func (r *report) header(title string) {
	r.printf("\n==================== %s ====================\n\n", title)
}

func (r *report) latencies(l *Latencies) {
	r.printf("%15s %13s %13s %13s %11s\n", "ALL", "MIN", "AVG", "MAX", "N")
	r.printf("%15s %13s %13s %13s %11s\n", dashes(15), dashes(13), dashes(13), dashes(13), dashes(11))
	for _, s := range Stages() {
		m := l[s]
		if m.Num == 0 {
			continue
		}
		r.printf("%-15s %13.9f %13.9f %13.9f %11s\n", s, m.Min, m.Mean(), m.Max, humanize.Comma(int64(m.Num)))
	}
}

func (r *report) percentiles(q quantiles, l *Latencies) {
	for _, s := range []Stage{D2C, Q2C} {
		if l[s].Num == 0 {
			continue
		}
		r.printf("%s", s)
		for _, p := range reportQuantiles {
			r.printf("  p%g=%.9f", p*100, q.Percentile(s, p))
		}
		r.printf("\n")
	}
}

func (r *report) overhead(devs []*Device) {
	stages := []Stage{Q2G, G2I, Q2M, I2D, D2C}
	r.printf("%10s |", "DEV")
	for _, s := range stages {
		r.printf(" %9s", s)
	}
	r.printf("\n")
	for _, d := range devs {
		q2c := d.Lat[Q2C].Sum
		if q2c == 0 {
			continue
		}
		r.printf("%10s |", "("+d.Dev.String()+")")
		for _, s := range stages {
			r.printf(" %8.4f%%", 100*d.Lat[s].Sum/q2c)
		}
		r.printf("\n")
	}
}

func (r *report) merges(devs []*Device) {
	r.printf("%10s | %8s %8s %7s | %8s %8s %8s %10s\n", "DEV", "#Q", "#D", "Ratio", "BLKmin", "BLKavg", "BLKmax", "Total")
	for _, d := range devs {
		q := d.QSeek.Count()
		n := d.IOStat.Issued[Read] + d.IOStat.Issued[Write]
		if n == 0 {
			continue
		}
		b := d.Blocks
		r.printf("%10s | %8d %8d %7.1f | %8d %8.0f %8d %10s\n",
			"("+d.Dev.String()+")", q, n, float64(q)/float64(n),
			b.Min, b.Mean(), b.Max, humanize.Comma(int64(b.Sum)))
	}
}

func (r *report) seeks(devs []*Device, pick func(*Device) *stats.SeekTracker) {
	r.printf("%10s | %10s %15s %15s | %s\n", "DEV", "NSEEKS", "MEAN", "MEDIAN", "MODE")
	for _, d := range devs {
		s := pick(d)
		if s.Count() == 0 {
			continue
		}
		modes, n := s.Modes()
		r.printf("%10s | %10d %15.1f %15.1f | (%d)", "("+d.Dev.String()+")", s.Count(), s.Mean(), s.Median(), n)
		for _, m := range modes {
			r.printf(" %d", m)
		}
		r.printf("\n")
	}
}

func (r *report) plugs(devs []*Device) {
	r.printf("%10s | %8s %10s %10s %10s\n", "DEV", "#Plugs", "#Unplugs", "#Timer", "Plugged")
	span := r.elapsed()
	for _, d := range devs {
		p := &d.Plug
		if p.Plugs == 0 && p.Unplugs == 0 && p.TimerUnplug == 0 {
			continue
		}
		pct := 0.0
		if span > 0 {
			pct = 100 * float64(p.PluggedTime) / float64(span)
		}
		r.printf("%10s | %8d %10d %10d %9.2f%%\n", "("+d.Dev.String()+")", p.Plugs, p.Unplugs, p.TimerUnplug, pct)
	}
}

func (r *report) depths(devs []*Device) {
	end := r.a.end
	r.printf("%10s | %8s %8s %8s %8s %7s\n", "DEV", "Q avg", "Q max", "D avg", "D max", "Busy")
	for _, d := range devs {
		r.printf("%10s | %8.2f %8d %8.2f %8d %6.2f%%\n", "("+d.Dev.String()+")",
			d.QueueDepth.Average(end), d.QueueDepth.Max(),
			d.DriverDepth.Average(end), d.DriverDepth.Max(),
			100*d.DriverDepth.Busy(end))
	}
}

func (r *report) iostat(devs []*Device) {
	secs := seconds(r.elapsed())
	if secs == 0 {
		secs = math.Inf(1)
	}
	r.printf("%10s | %8s %8s %8s %8s %10s %10s %8s %8s %10s %10s\n",
		"DEV", "rrqm/s", "wrqm/s", "r/s", "w/s", "rsec/s", "wsec/s", "pcr/s", "pcw/s", "await", "svctm")
	for _, d := range devs {
		s := &d.IOStat
		r.printf("%10s | %8.2f %8.2f %8.2f %8.2f %10.2f %10.2f %8.2f %8.2f %10.6f %10.6f\n", "("+d.Dev.String()+")",
			float64(s.Merges[Read])/secs, float64(s.Merges[Write])/secs,
			float64(s.Completed[Read])/secs, float64(s.Completed[Write])/secs,
			float64(s.Sectors[Read])/secs, float64(s.Sectors[Write])/secs,
			float64(s.CompletedPC[Read])/secs, float64(s.CompletedPC[Write])/secs,
			s.Await(), s.Svctm())
	}
}

func (r *report) processes(ps []*Process) {
	r.printf("%-20s %8s | %8s %8s %10s %10s | %13s %13s\n",
		"PROCESS", "PID", "#Q R", "#Q W", "Read", "Written", "Q2C avg", "Q seek mean")
	for _, p := range ps {
		name := p.Name
		if name == "" {
			name = "?"
		}
		q2c := p.Lat[Q2C].Mean()
		if math.IsNaN(q2c) {
			q2c = 0
		}
		r.printf("%-20s %8d | %8d %8d %10s %10s | %13.9f %13.1f\n", name, p.PID,
			p.Queued[Read], p.Queued[Write],
			humanize.IBytes(p.QueuedBytes[Read]), humanize.IBytes(p.QueuedBytes[Write]),
			q2c, p.QSeek.Mean())
	}
}

func (r *report) quality(devs []*Device, sum blktrace.Summary) {
	r.printf("Events: %s  Corrupt: %d  Skips: %d  Skipped: %d  Lost: %.3f%%\n",
		humanize.Comma(int64(sum.Events)), sum.Corrupt, sum.Skips, sum.Skipped, sum.Lost())
	for _, s := range sum.Streams {
		if len(s.Skips) == 0 && s.Corrupt == 0 {
			continue
		}
		r.printf("  (%s) cpu %d: %d skipped, %d corrupt, %.3f%% lost", s.Device, s.CPU, s.Skipped, s.Corrupt, s.Lost())
		for _, k := range s.Skips {
			r.printf(" %s", k)
		}
		r.printf("\n")
	}
	if r.a.Unknown > 0 {
		r.printf("Unknown actions: %d\n", r.a.Unknown)
	}
	for _, d := range devs {
		c := &d.Counts
		var missed uint64
		for _, n := range c.NotFound {
			missed += n
		}
		if c.Aliases+c.Incomplete+missed+c.Errors == 0 {
			continue
		}
		r.printf("  (%s) aliases %d, incomplete %d, unmatched %d, errors %d\n",
			d.Dev, c.Aliases, c.Incomplete, missed, c.Errors)
	}
}

func (r *report) elapsed() uint64 {
	first, last := r.a.Span()
	if r.a.end > last {
		last = r.a.end
	}
	return last - first
}

func dashes(n int) string {
	return strings.Repeat("-", n)
}
