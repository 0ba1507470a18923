// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package telemetry

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestProviderLogsSpans(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tp := NewProvider(zap.New(core))
	_, span := tp.Tracer("test").Start(context.Background(), "ingest")
	span.SetAttributes(attribute.Int64("events", 42))
	span.End()

	got := logs.FilterMessage("span").All()
	if len(got) != 1 {
		t.Fatalf("logged %d spans, want 1", len(got))
	}
	m := got[0].ContextMap()
	if m["name"] != "ingest" || m["events"] != int64(42) {
		t.Errorf("span log fields = %v", m)
	}
}

func TestSpanCore(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	_, span := tp.Tracer("test").Start(context.Background(), "analyze")

	log := zap.New(NewSpanCore(zapcore.WarnLevel, span)).With(zap.String("dev", "8,0"))
	log.Debug("no matching I/O")
	log.Warn("sector alias", zap.Uint64("sector", 100), zap.Bool("front", true))
	span.End()

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended %d spans", len(ended))
	}
	events := ended[0].Events()
	if len(events) != 1 || events[0].Name != "sector alias" {
		t.Fatalf("events = %v", events)
	}
	want := []attribute.KeyValue{
		attribute.String("dev", "8,0"),
		attribute.Int64("sector", 100),
		attribute.Bool("front", true),
		attribute.String("level", "warn"),
	}
	if diff := cmp.Diff(want, events[0].Attributes, cmp.Comparer(func(a, b attribute.KeyValue) bool {
		return a.Key == b.Key && a.Value.Emit() == b.Value.Emit()
	})); diff != "" {
		t.Errorf("event attributes (-want +got):\n%s", diff)
	}
}
