// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cli holds the input handling and run plumbing shared by the
// command line tools.
package cli

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"golang.org/x/exp/blktrace"
)

// Stdin is the input name that selects pipe mode.
const Stdin = "-"

// Input describes where records come from.
type Input struct {
	Bases     []string // per-device trace file basenames, or Stdin
	Dir       string
	Live      bool // Bases name per-cpu streams read concurrently
	Batch     int
	Stopwatch string // start:end, in seconds
	Flush     uint64
}

// AddFlags registers the input flags on fs.
func (in *Input) AddFlags(fs *pflag.FlagSet) {
	fs.StringSliceVarP(&in.Bases, "input", "i", nil, "trace file basename, or - for a pipe on stdin")
	fs.StringVarP(&in.Dir, "input-directory", "D", ".", "directory holding the trace files")
	fs.BoolVar(&in.Live, "live", false, "treat each input as a per-cpu stream and read them concurrently")
	fs.IntVarP(&in.Batch, "batch", "b", blktrace.DefaultBatch, "records read from a stream at a time")
	fs.StringVarP(&in.Stopwatch, "stopwatch", "w", "", "only report records between start[:end] seconds")
	fs.Uint64Var(&in.Flush, "flush-rounds", 1, "read rounds a piped record ages before it is emitted")
}

// ErrNoInput is returned when no input was named.
var ErrNoInput = xerrors.New("no input given; use -i")

// Open opens the input and returns a time-ordered reader over it.
// Cancelling ctx stops pipe and live readers, which then drain what
// they already hold.
func (in *Input) Open(ctx context.Context, log *zap.Logger, tracer trace.Tracer) (blktrace.RecordReader, error) {
	_, span := tracer.Start(ctx, "open")
	defer span.End()

	opts := blktrace.Options{Batch: in.Batch, FlushRounds: in.Flush, Logger: log, Tracer: tracer}
	var err error
	if opts.Start, opts.End, err = parseStopwatch(in.Stopwatch); err != nil {
		return nil, err
	}
	switch {
	case len(in.Bases) == 0:
		return nil, ErrNoInput
	case len(in.Bases) == 1 && in.Bases[0] == Stdin:
		p := blktrace.NewPipeReader(blktrace.NewSource("stdin", os.Stdin), opts)
		go func() {
			<-ctx.Done()
			p.Stop()
		}()
		return p, nil
	case in.Live:
		var srcs []blktrace.Source
		for _, name := range in.Bases {
			f, err := os.Open(name)
			if err != nil {
				closeAll(srcs)
				return nil, err
			}
			srcs = append(srcs, blktrace.NewSource(name, f))
		}
		return blktrace.NewCollector(ctx, srcs, opts), nil
	}
	var srcs []blktrace.Source
	for _, base := range in.Bases {
		s, err := blktrace.OpenFiles(in.Dir, base)
		if err != nil {
			closeAll(srcs)
			return nil, err
		}
		srcs = append(srcs, s...)
	}
	log.Debug("opened trace files", zap.Int("streams", len(srcs)))
	return blktrace.NewReader(srcs, opts)
}

func closeAll(srcs []blktrace.Source) {
	for _, s := range srcs {
		s.Close()
	}
}

// parseStopwatch parses start[:end] in seconds into nanoseconds.
func parseStopwatch(s string) (start, end uint64, err error) {
	if s == "" {
		return 0, 0, nil
	}
	lo, hi, hasEnd := strings.Cut(s, ":")
	ns := func(v string) (uint64, error) {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			return 0, xerrors.Errorf("bad stopwatch %q", s)
		}
		return uint64(f * 1e9), nil
	}
	if start, err = ns(lo); err != nil {
		return 0, 0, err
	}
	if hasEnd {
		if end, err = ns(hi); err != nil {
			return 0, 0, err
		}
		if end < start {
			return 0, 0, xerrors.Errorf("stopwatch %q ends before it starts", s)
		}
	}
	return start, end, nil
}

// SignalContext returns a context cancelled on SIGINT, SIGTERM or
// SIGHUP.
func SignalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)
}
