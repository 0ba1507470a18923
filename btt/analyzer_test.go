// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package btt_test

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/tools/txtar"

	"golang.org/x/exp/blktrace"
	"golang.org/x/exp/blktrace/btt"
	"golang.org/x/exp/blktrace/internal/raw"
)

func records(t *testing.T, text string) []blktrace.Record {
	t.Helper()
	recs, err := raw.NewTextReader(strings.NewReader(text)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func analyze(t *testing.T, cfg btt.Config, text string) *btt.Analyzer {
	t.Helper()
	a := btt.New(cfg)
	var last uint64
	for _, rec := range records(t, text) {
		rec := rec
		a.Handle(&rec)
		last = rec.Time
	}
	a.Finish(last)
	return a
}

func ns(v float64) int64 {
	return int64(math.Round(v * 1e9))
}

// describe renders the state an expect line asks about.
func describe(a *btt.Analyzer, line string) (string, error) {
	f := strings.Fields(line)
	if len(f) < 2 {
		return "", fmt.Errorf("malformed expectation %q", line)
	}
	lat := &a.Lat
	var d *btt.Device
	if f[0] != "all" {
		for _, dev := range a.Devices() {
			if dev.Dev.String() == f[0] {
				d = dev
			}
		}
		if d == nil {
			return f[0] + " missing", nil
		}
		lat = &d.Lat
	}
	switch {
	case strings.HasPrefix(f[1], "inflight="):
		return fmt.Sprintf("%s inflight=%d qdepth=%d ddepth=%d",
			f[0], d.InFlight(), d.QueueDepth.Value(), d.DriverDepth.Value()), nil
	case strings.HasPrefix(f[1], "pending="):
		return fmt.Sprintf("%s pending=%d", f[0], d.Pending()), nil
	case f[1] == "notfound":
		out := f[0] + " notfound"
		for _, kv := range f[2:] {
			name, _, _ := strings.Cut(kv, "=")
			code, ok := actionCode(name)
			if !ok {
				return "", fmt.Errorf("unknown action in %q", line)
			}
			out += fmt.Sprintf(" %s=%d", name, d.Counts.NotFound[code])
		}
		return out, nil
	}
	for _, s := range btt.Stages() {
		if s.String() == f[1] {
			m := lat[s]
			return fmt.Sprintf("%s %s n=%d min=%d max=%d", f[0], s, m.Num, ns(m.Min), ns(m.Max)), nil
		}
	}
	return "", fmt.Errorf("unknown stage in %q", line)
}

func actionCode(name string) (blktrace.ActionCode, bool) {
	for c := blktrace.ActQueue; c <= blktrace.ActDriverData; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}

func TestAnalyzer(t *testing.T) {
	files, err := filepath.Glob("testdata/*.txtar")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no test files")
	}
	for _, path := range files {
		t.Run(filepath.Base(path), func(t *testing.T) {
			ar, err := txtar.ParseFile(path)
			if err != nil {
				t.Fatal(err)
			}
			var trace string
			var expect []string
			for _, f := range ar.Files {
				switch f.Name {
				case "trace":
					trace = string(f.Data)
				case "expect":
					for _, l := range strings.Split(strings.TrimSpace(string(f.Data)), "\n") {
						if l = strings.TrimSpace(l); l != "" {
							expect = append(expect, l)
						}
					}
				default:
					t.Fatalf("unknown section %q", f.Name)
				}
			}
			a := analyze(t, btt.Config{}, trace)
			var got []string
			for _, l := range expect {
				s, err := describe(a, l)
				if err != nil {
					t.Fatal(err)
				}
				got = append(got, s)
			}
			if diff := cmp.Diff(expect, got); diff != "" {
				t.Errorf("analysis mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLifecycleReleasesTrack(t *testing.T) {
	a := analyze(t, btt.Config{}, `
Q dev=8,0 cpu=0 seq=1 time=0 pid=10 sector=100 bytes=4096 rwbs=W
D dev=8,0 cpu=0 seq=2 time=100 pid=10 sector=100 bytes=4096 rwbs=W
`)
	d := a.Device(blktrace.MakeDev(8, 0))
	if !d.HasTrack(100) {
		t.Fatal("dispatched bio not in flight")
	}

	rec := records(t, "C dev=8,0 cpu=0 seq=3 time=500 sector=100 bytes=4096 rwbs=W")[0]
	a.Handle(&rec)
	if d.HasTrack(100) || d.InFlight() != 0 {
		t.Error("completed bio still in flight")
	}
	if got := ns(d.Lat[btt.Q2C].Max); got != 500 {
		t.Errorf("Q2C = %dns, want 500", got)
	}
	if got := ns(d.Lat[btt.D2C].Max); got != 400 {
		t.Errorf("D2C = %dns, want 400", got)
	}
	if d.IOStat.Completed[btt.Write] != 1 || d.IOStat.Sectors[btt.Write] != 8 {
		t.Errorf("iostat = %+v", d.IOStat)
	}
	if got := d.D2CHist.Total(); got != 1 {
		t.Errorf("D2C histogram holds %d samples", got)
	}
}

func TestPassthroughIOStat(t *testing.T) {
	a := analyze(t, btt.Config{}, `
Q dev=8,0 cpu=0 seq=1 time=0 pid=10 sector=100 bytes=4096 rwbs=W
Q dev=8,0 cpu=0 seq=2 time=10 pid=20 bytes=512 rwbs=R cat=pc
D dev=8,0 cpu=0 seq=3 time=20 pid=20 bytes=512 rwbs=R cat=pc
C dev=8,0 cpu=0 seq=4 time=30 bytes=512 rwbs=R cat=pc
D dev=8,0 cpu=0 seq=5 time=40 pid=10 sector=100 bytes=4096 rwbs=W
C dev=8,0 cpu=0 seq=6 time=50 sector=100 bytes=4096 rwbs=W
`)
	s := a.Device(blktrace.MakeDev(8, 0)).IOStat
	got := [][2]uint64{s.Issued, s.Completed, s.Sectors, s.IssuedPC, s.CompletedPC}
	want := [][2]uint64{{0, 1}, {0, 1}, {0, 8}, {1, 0}, {1, 0}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("iostat counters mismatch (-want +got):\n%s", diff)
	}
	if got := s.Svctm(); math.Abs(got-10e-9) > 1e-15 {
		t.Errorf("Svctm = %g, want 10ns", got)
	}
}

func TestSectorAlias(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	a := analyze(t, btt.Config{Logger: zap.New(core)}, `
Q dev=8,0 cpu=0 seq=1 time=0 pid=10 sector=100 bytes=4096 rwbs=W
Q dev=8,0 cpu=1 seq=1 time=10 pid=11 sector=100 bytes=4096 rwbs=W
C dev=8,0 cpu=0 seq=2 time=50 sector=100 bytes=4096 rwbs=W
`)
	d := a.Device(blktrace.MakeDev(8, 0))
	if d.Counts.Aliases != 1 {
		t.Errorf("Aliases = %d, want 1", d.Counts.Aliases)
	}
	if n := logs.FilterMessage("sector alias").Len(); n != 1 {
		t.Errorf("logged %d alias warnings, want 1", n)
	}
	if d.Lat[btt.Q2C].Num != 2 || d.InFlight() != 0 {
		t.Errorf("Q2C samples = %d, in flight = %d; want 2, 0", d.Lat[btt.Q2C].Num, d.InFlight())
	}
}

func TestPlug(t *testing.T) {
	a := analyze(t, btt.Config{}, `
P dev=8,0 cpu=0 seq=1 time=0
P dev=8,0 cpu=0 seq=2 time=50
U dev=8,0 cpu=0 seq=3 time=100 unplug=3
UT dev=8,0 cpu=0 seq=4 time=200 unplug=1
`)
	p := a.Device(blktrace.MakeDev(8, 0)).Plug
	got := []uint64{p.Plugs, p.Unplugs, p.TimerUnplug, p.PluggedTime, p.Histogram().Total()}
	if diff := cmp.Diff([]uint64{2, 1, 1, 100, 2}, got); diff != "" {
		t.Errorf("plug state mismatch (-want +got):\n%s", diff)
	}
}

func TestProcesses(t *testing.T) {
	trace := `
process cpu=0 pid=10 data="dd"
process cpu=0 pid=11 data="dd"
Q dev=8,0 cpu=0 seq=1 time=0 pid=10 sector=0 bytes=4096 rwbs=W
Q dev=8,0 cpu=0 seq=2 time=10 pid=11 sector=8 bytes=4096 rwbs=R
C dev=8,0 cpu=0 seq=3 time=20 sector=0 bytes=4096 rwbs=W
`
	byPID := analyze(t, btt.Config{}, trace).Processes()
	if len(byPID) != 2 {
		t.Fatalf("got %d processes by pid, want 2", len(byPID))
	}
	byName := analyze(t, btt.Config{ProcessByName: true}, trace).Processes()
	if len(byName) != 1 {
		t.Fatalf("got %d processes by name, want 1", len(byName))
	}
	p := byName[0]
	if p.Name != "dd" || p.Queued != [2]uint64{1, 1} || p.Completed != [2]uint64{0, 1} {
		t.Errorf("process = %s queued %v completed %v", p.Name, p.Queued, p.Completed)
	}
}

func TestUnknownAction(t *testing.T) {
	a := btt.New(btt.Config{})
	rec := blktrace.Record{Action: blktrace.MakeAction(99, blktrace.CatQueue), Bytes: 512}
	a.Handle(&rec)
	if a.Unknown != 1 {
		t.Errorf("Unknown = %d, want 1", a.Unknown)
	}
}

func TestFinishSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	a := analyze(t, btt.Config{Tracer: tp.Tracer("btt")}, `
Q dev=8,0 cpu=0 seq=1 time=0 pid=10 sector=100 bytes=4096 rwbs=W
`)
	spans := sr.Ended()
	if len(spans) != 1 || spans[0].Name() != "btt.analyze" {
		t.Fatalf("ended spans = %v", spans)
	}
	if got := a.Device(blktrace.MakeDev(8, 0)).Counts.Incomplete; got != 1 {
		t.Errorf("Incomplete = %d, want 1", got)
	}
}

func TestReport(t *testing.T) {
	a := analyze(t, btt.Config{}, `
process cpu=0 pid=10 data="fio"
Q dev=8,0 cpu=0 seq=1 time=0 pid=10 sector=100 bytes=4096 rwbs=W
D dev=8,0 cpu=0 seq=2 time=100 pid=10 sector=100 bytes=4096 rwbs=W
C dev=8,0 cpu=0 seq=3 time=500 sector=100 bytes=4096 rwbs=W
`)
	sum := blktrace.Summary{
		Events:  3,
		Skipped: 1,
		Skips:   1,
		Streams: []blktrace.StreamStats{{
			Device:  blktrace.MakeDev(8, 0),
			Events:  3,
			Skips:   []blktrace.SkipRange{{Start: 4, End: 4}},
			Skipped: 1,
		}},
	}
	var sb strings.Builder
	if err := a.WriteReport(&sb, sum, btt.ReportOptions{PerDevice: true, PerProcess: true}); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	for _, want := range []string{"All Devices", "Q2C", "D2C", "(8,0)", "fio", "Lost: 25.000%", "Device 8,0"} {
		if !strings.Contains(out, want) {
			t.Errorf("report lacks %q:\n%s", want, out)
		}
	}
}
