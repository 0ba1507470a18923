// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Blkiomon reads a block trace from a pipe and periodically writes
// per-device statistics on request sizes, completion times and
// throughput, as text, as big-endian binary records, or both.
//
// Usage:
//
//	blktrace -d /dev/sda -o - | blkiomon -I 10 -h stats.txt -b stats.bin
//	blkiomon --decode stats.bin
package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"golang.org/x/exp/blktrace/internal/cli"
	"golang.org/x/exp/blktrace/iomon"
)

type config struct {
	in       cli.Input
	interval int
	binary   string
	text     string
	decode   string
	verbose  bool
}

func main() {
	var cfg config
	cmd := &cobra.Command{
		Use:           "blkiomon",
		Short:         "periodic block I/O statistics",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.RunE = cli.Run(&cfg.verbose, func(env *cli.Env, _ []string) error {
		if cfg.decode != "" {
			return decode(cfg.decode)
		}
		return run(env, &cfg)
	})
	fs := cmd.Flags()
	cfg.in.AddFlags(fs)
	fs.IntVarP(&cfg.interval, "interval", "I", 1, "seconds per reporting interval")
	fs.StringVarP(&cfg.binary, "binary", "b", "", "write binary records to this file")
	fs.StringVarP(&cfg.text, "human-readable", "h", "", "write text to this file (- for stdout)")
	fs.StringVar(&cfg.decode, "decode", "", "print the binary records in this file as text and exit")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log unmatched completions")
	fs.BoolP("help", "", false, "help for blkiomon")
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(env *cli.Env, cfg *config) error {
	if len(cfg.in.Bases) == 0 {
		cfg.in.Bases = []string{cli.Stdin}
	}
	rr, err := cfg.in.Open(env.Ctx, env.Log, env.Tracer)
	if err != nil {
		return err
	}
	defer rr.Close()

	var text, bin io.Writer
	if cfg.text != "" {
		w, closeText, err := cli.Output(cfg.text)
		if err != nil {
			return err
		}
		defer closeText()
		text = w
	}
	if cfg.binary != "" {
		w, closeBin, err := cli.Output(cfg.binary)
		if err != nil {
			return err
		}
		defer closeBin()
		bin = w
	}
	emit := func(stats []*iomon.Stat) error {
		for _, s := range stats {
			if text != nil {
				if err := s.WriteText(text); err != nil {
					return err
				}
			}
			if bin != nil {
				if _, err := bin.Write(s.AppendBinary(nil)); err != nil {
					return err
				}
			}
		}
		return nil
	}

	m := iomon.New(iomon.Config{Interval: time.Duration(cfg.interval) * time.Second, Logger: env.Log})
	var last uint64
	for {
		rec, err := rr.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		last = rec.Time
		if err := emit(m.Handle(&rec)); err != nil {
			return err
		}
	}
	if m.Unmatched > 0 {
		env.Log.Info("completions without dispatch", zap.Uint64("count", m.Unmatched))
	}
	return emit(m.Flush(last))
}

func decode(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()
	for {
		s, err := iomon.ReadStat(f)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.WriteText(os.Stdout); err != nil {
			return err
		}
	}
}
