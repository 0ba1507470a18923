// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Blkparse merges the per-cpu files written by blktrace and prints
// their events in time order, followed by per-cpu and per-device
// summaries.
//
// Usage:
//
//	blkparse -i sda [-D dir] [-o out] [-d dump] [-a mask] [-f fmt] [-F act,fmt] [-w start:end]
//	blktrace -d /dev/sda -o - | blkparse -i -
package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/xerrors"

	"golang.org/x/exp/blktrace"
	"golang.org/x/exp/blktrace/format"
	"golang.org/x/exp/blktrace/internal/cli"
)

type config struct {
	in         cli.Input
	output     string
	dump       string
	masks      []string
	format     string
	formats    []string
	quiet      bool
	perProcess bool
	verbose    bool
}

func main() {
	var cfg config
	cmd := &cobra.Command{
		Use:           "blkparse",
		Short:         "print block trace events in time order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.RunE = cli.Run(&cfg.verbose, func(env *cli.Env, _ []string) error {
		return run(env, &cfg)
	})
	fs := cmd.Flags()
	cfg.in.AddFlags(fs)
	fs.StringVarP(&cfg.output, "output", "o", "", "write text output to this file")
	fs.StringVarP(&cfg.dump, "dump-binary", "d", "", "also write the ordered records in binary to this file")
	fs.StringSliceVarP(&cfg.masks, "act-mask", "a", nil, "only print events in these categories (queue, complete, ...)")
	fs.StringVarP(&cfg.format, "format", "f", "", "output format for every event")
	fs.StringArrayVarP(&cfg.formats, "format-spec", "F", nil, "output format for one action, as action,format")
	fs.BoolVarP(&cfg.quiet, "quiet", "q", false, "print only the summary")
	fs.BoolVarP(&cfg.perProcess, "per-program-stats", "s", false, "summarize by process")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log every unmatched or corrupt record")
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(env *cli.Env, cfg *config) error {
	opts, err := formatOptions(cfg)
	if err != nil {
		return err
	}
	rr, err := cfg.in.Open(env.Ctx, env.Log, env.Tracer)
	if err != nil {
		return err
	}
	defer rr.Close()

	out, closeOut, err := cli.Output(cfg.output)
	if err != nil {
		return err
	}
	defer closeOut()
	text := out
	if cfg.quiet {
		text = io.Discard
	}
	if cfg.dump != "" {
		d, closeDump, err := cli.Output(cfg.dump)
		if err != nil {
			return err
		}
		defer closeDump()
		opts.Dump = d
	}
	opts.Names = rr
	f, err := format.New(text, opts)
	if err != nil {
		return err
	}
	sum := format.NewSummary(rr)

	_, span := env.Tracer.Start(env.Ctx, "parse")
	var n int64
	for {
		rec, err := rr.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			span.End()
			return err
		}
		sum.Add(&rec)
		if _, err := f.Format(&rec); err != nil {
			span.End()
			return err
		}
		if r, ok := rr.(*blktrace.Reader); ok {
			r.Release(&rec)
		}
		n++
	}
	span.SetAttributes(attribute.Int64("records", n))
	span.End()

	if err := f.Flush(); err != nil {
		return err
	}
	if err := sum.WriteTo(out, rr.Summary(), cfg.perProcess); err != nil {
		return err
	}
	return closeOut()
}

func formatOptions(cfg *config) (format.Options, error) {
	opts := format.Options{Format: cfg.format}
	for _, m := range cfg.masks {
		c, ok := blktrace.ParseCategory(m)
		if !ok {
			return opts, xerrors.Errorf("unknown action mask %q", m)
		}
		opts.Mask |= c
	}
	for _, spec := range cfg.formats {
		act, layout, ok := strings.Cut(spec, ",")
		if !ok {
			return opts, xerrors.Errorf("-F %q: want action,format", spec)
		}
		code, ok := actionCode(act)
		if !ok {
			return opts, xerrors.Errorf("-F %q: unknown action %q", spec, act)
		}
		if opts.Formats == nil {
			opts.Formats = make(map[blktrace.ActionCode]string)
		}
		opts.Formats[code] = layout
	}
	return opts, nil
}

func actionCode(name string) (blktrace.ActionCode, bool) {
	for c := blktrace.ActQueue; c <= blktrace.ActDriverData; c++ {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}
