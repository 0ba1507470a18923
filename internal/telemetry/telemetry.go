// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package telemetry connects OpenTelemetry tracing to zap logging for
// the command line tools: finished spans are logged, and log entries
// written while a span is open are attached to it as span events.
package telemetry

import (
	"context"
	"math"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewProvider returns a tracer provider that logs every ended span
// to log at debug level.
func NewProvider(log *zap.Logger, opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	opts = append([]sdktrace.TracerProviderOption{sdktrace.WithSpanProcessor(&logProcessor{log: log})}, opts...)
	return sdktrace.NewTracerProvider(opts...)
}

type logProcessor struct {
	log *zap.Logger
}

var _ sdktrace.SpanProcessor = (*logProcessor)(nil)

func (p *logProcessor) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (p *logProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	if ce := p.log.Check(zapcore.DebugLevel, "span"); ce != nil {
		fields := []zap.Field{
			zap.String("name", s.Name()),
			zap.Duration("elapsed", s.EndTime().Sub(s.StartTime())),
		}
		for _, kv := range s.Attributes() {
			fields = append(fields, zap.Any(string(kv.Key), kv.Value.AsInterface()))
		}
		ce.Write(fields...)
	}
}

func (p *logProcessor) Shutdown(context.Context) error   { return nil }
func (p *logProcessor) ForceFlush(context.Context) error { return nil }

type spanCore struct {
	zapcore.LevelEnabler
	span  trace.Span
	attrs []attribute.KeyValue
}

// NewSpanCore returns a zap core that records entries at level and
// above as events on span.
func NewSpanCore(level zapcore.LevelEnabler, span trace.Span) zapcore.Core {
	return &spanCore{LevelEnabler: level, span: span}
}

func (c *spanCore) With(fields []zapcore.Field) zapcore.Core {
	c2 := *c
	c2.attrs = addAttributes(c.attrs, fields)
	return &c2
}

func (c *spanCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) && c.span.IsRecording() {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *spanCore) Write(e zapcore.Entry, fs []zapcore.Field) error {
	attrs := addAttributes(c.attrs, fs)
	attrs = append(attrs, attribute.String("level", e.Level.String()))
	c.span.AddEvent(e.Message, trace.WithAttributes(attrs...), trace.WithTimestamp(e.Time))
	return nil
}

func (c *spanCore) Sync() error { return nil }

// addAttributes returns attrs followed by the attributes converted from
// fields.
func addAttributes(attrs []attribute.KeyValue, fields []zapcore.Field) []attribute.KeyValue {
	as := make([]attribute.KeyValue, len(attrs), len(attrs)+len(fields))
	copy(as, attrs)
	for _, f := range fields {
		as = append(as, toAttribute(f))
	}
	return as
}

func toAttribute(f zapcore.Field) attribute.KeyValue {
	switch f.Type {
	case zapcore.BoolType:
		return attribute.Bool(f.Key, f.Integer == 1)
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type,
		zapcore.Uint64Type, zapcore.Uint32Type, zapcore.Uint16Type, zapcore.Uint8Type:
		return attribute.Int64(f.Key, f.Integer)
	case zapcore.Float64Type:
		return attribute.Float64(f.Key, math.Float64frombits(uint64(f.Integer)))
	case zapcore.DurationType:
		return attribute.String(f.Key, time.Duration(f.Integer).String())
	case zapcore.StringType:
		return attribute.String(f.Key, f.String)
	}
	// Everything else goes through zap's own encoding.
	enc := zapcore.NewMapObjectEncoder()
	f.AddTo(enc)
	return attribute.Any(f.Key, enc.Fields[f.Key])
}
