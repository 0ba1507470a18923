// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cli

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"golang.org/x/exp/blktrace/internal/logging"
	"golang.org/x/exp/blktrace/internal/telemetry"
)

// Env is what a command's run function works with.
type Env struct {
	Ctx    context.Context
	Log    *zap.Logger
	Tracer trace.Tracer
	Span   trace.Span
}

// Output opens name for writing; "" and "-" mean stdout. The returned
// close function must be called when done.
func Output(name string) (io.Writer, func() error, error) {
	if name == "" || name == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

// Run wraps run as a cobra RunE: it installs signal handling, a logger
// writing to the command's error stream, and a root span named after
// the command. Warnings logged during the run are also recorded on the
// span.
func Run(verbose *bool, run func(*Env, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := SignalContext(cmd.Context())
		defer stop()

		base := logging.New(*verbose, cmd.ErrOrStderr())
		tp := telemetry.NewProvider(base)
		defer tp.Shutdown(context.Background())
		tracer := tp.Tracer(cmd.Name())
		ctx, span := tracer.Start(ctx, cmd.Name())
		defer span.End()

		log := logging.New(*verbose, cmd.ErrOrStderr(), telemetry.NewSpanCore(zapcore.WarnLevel, span))
		defer log.Sync()

		err := run(&Env{Ctx: ctx, Log: log, Tracer: tracer, Span: span}, args)
		if err != nil {
			log.Error("failed", zap.Error(err))
			span.RecordError(err)
		}
		return err
	}
}
