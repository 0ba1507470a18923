// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package logging builds the loggers used by the command line tools.
package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger writing to w. Debug messages, which
// include every unmatched trace event, are only written if verbose is
// set.
func New(verbose bool, w io.Writer, cores ...zapcore.Core) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	return zap.New(zapcore.NewTee(append([]zapcore.Core{NewCore(level, w)}, cores...)...),
		zap.AddStacktrace(zapcore.ErrorLevel))
}

// NewCore returns a console-encoded core enabled at level and above.
func NewCore(level zapcore.Level, w io.Writer) zapcore.Core {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.TimeKey = ""
	cfg.CallerKey = ""
	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.AddSync(w), level)
}
