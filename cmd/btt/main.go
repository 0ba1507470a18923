// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Btt follows every I/O in a block trace from queue to completion and
// reports where the time went: latencies between each stage, queue
// depths, seeks, merges and iostat-style rates, per device and
// optionally per process.
//
// Usage:
//
//	btt -i sda [-D dir] [-o out] [-A] [-P] [-a] [-w start:end]
package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"golang.org/x/exp/blktrace"
	"golang.org/x/exp/blktrace/btt"
	"golang.org/x/exp/blktrace/internal/cli"
)

type config struct {
	in         cli.Input
	output     string
	perDevice  bool
	perProcess bool
	byName     bool
	absolute   bool
	verbose    bool
}

func main() {
	var cfg config
	cmd := &cobra.Command{
		Use:           "btt",
		Short:         "analyze block I/O latencies",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.RunE = cli.Run(&cfg.verbose, func(env *cli.Env, _ []string) error {
		return run(env, &cfg)
	})
	fs := cmd.Flags()
	cfg.in.AddFlags(fs)
	fs.StringVarP(&cfg.output, "output", "o", "", "write the report to this file")
	fs.BoolVarP(&cfg.perDevice, "all-data", "A", false, "include latency tables for each device")
	fs.BoolVarP(&cfg.perProcess, "per-process", "P", false, "include tables for each process")
	fs.BoolVarP(&cfg.byName, "by-name", "N", false, "group processes by command name")
	fs.BoolVarP(&cfg.absolute, "seek-absolute", "a", false, "measure seeks from the end of the previous I/O")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log every unmatched record")
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(env *cli.Env, cfg *config) error {
	rr, err := cfg.in.Open(env.Ctx, env.Log, env.Tracer)
	if err != nil {
		return err
	}
	defer rr.Close()

	a := btt.New(btt.Config{
		AbsoluteSeeks: cfg.absolute,
		ProcessByName: cfg.byName,
		Logger:        env.Log,
		Tracer:        env.Tracer,
	})
	var last uint64
	for {
		rec, err := rr.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		a.Handle(&rec)
		last = rec.Time
		if r, ok := rr.(*blktrace.Reader); ok {
			r.Release(&rec)
		}
	}
	a.Finish(last)

	out, closeOut, err := cli.Output(cfg.output)
	if err != nil {
		return err
	}
	defer closeOut()
	if err := a.WriteReport(out, rr.Summary(), btt.ReportOptions{
		PerDevice:  cfg.perDevice,
		PerProcess: cfg.perProcess,
	}); err != nil {
		return err
	}
	return closeOut()
}
