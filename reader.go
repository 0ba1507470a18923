// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"context"
	"encoding/binary"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"golang.org/x/exp/blktrace/internal/pool"
)

// DefaultBatch is the number of records read from a stream at a time.
const DefaultBatch = 512

// Options configures a Reader or PipeReader.
type Options struct {
	// Batch is the number of records read from a stream per refill.
	Batch int

	// Genesis, if FixedGenesis is set, is subtracted from every
	// timestamp. Otherwise the earliest timestamp seen is used.
	Genesis      uint64
	FixedGenesis bool

	// Start and End bound the emitted records, relative to genesis.
	// End == 0 means no upper bound.
	Start, End uint64

	// FlushRounds is how many read rounds a record must age in the
	// pipe-mode queue before it may be emitted. Zero means 1.
	FlushRounds uint64

	Logger *zap.Logger

	// Tracer, if set, records the merge of a Reader as one span whose
	// attributes carry the final Summary.
	Tracer trace.Tracer
}

func (o *Options) setDefaults() {
	if o.Batch <= 0 {
		o.Batch = DefaultBatch
	}
	if o.FlushRounds == 0 {
		o.FlushRounds = 1
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Summary describes the quality of the input after a run.
type Summary struct {
	Streams []StreamStats
	Events  uint64
	Corrupt uint64
	Skips   int
	Skipped uint64
}

// Lost returns the percentage of events lost to sequence gaps.
func (s Summary) Lost() float64 {
	total := s.Events + s.Skipped
	if total == 0 {
		return 0
	}
	return 100 * float64(s.Skipped) / float64(total)
}

func summarize(devs *devSet, corrupt uint64) Summary {
	sum := Summary{Streams: devs.stats(), Corrupt: corrupt}
	for _, s := range sum.Streams {
		sum.Events += s.Events
		sum.Skips += len(s.Skips)
		sum.Skipped += s.Skipped
	}
	return sum
}

// notes holds what a reader has learned from notification records.
type notes struct {
	procs    map[uint32]string
	absStart time.Time
}

func (n *notes) note(rec *Record, order binary.ByteOrder) {
	switch rec.Action.Code() {
	case NotifyProcess:
		if n.procs == nil {
			n.procs = make(map[uint32]string)
		}
		n.procs[rec.PID] = ProcessName(rec)
	case NotifyTimestamp:
		if t, ok := Timestamp(rec, order); ok {
			n.absStart = t
		}
	}
}

// ProcessName returns the command name last announced for pid.
func (n *notes) ProcessName(pid uint32) string {
	return n.procs[pid]
}

// StartTime returns the wall clock time at which tracing started, if
// the trace announced it.
func (n *notes) StartTime() (time.Time, bool) {
	return n.absStart, !n.absStart.IsZero()
}

// RecordReader is a time-ordered supply of records.
type RecordReader interface {
	ReadRecord() (Record, error)
	ProcessName(pid uint32) string
	Summary() Summary
	Close() error
}

var (
	_ RecordReader = (*Reader)(nil)
	_ RecordReader = (*PipeReader)(nil)
	_ RecordReader = (*Collector)(nil)
)

// Reader merges per-cpu trace files into a single time-ordered
// sequence of records.
type Reader struct {
	opts     Options
	log      *zap.Logger
	frontier []*batchCursor
	srcs     []Source
	devs     *devSet
	bufs     *pool.FreeList[[]byte]
	genesis  uint64
	corrupt  uint64
	done     bool
	span     trace.Span
	notes
}

// NewReader primes every source and returns a Reader that merges them.
// The sources are closed when the Reader reaches the end of its input
// or is closed.
func NewReader(srcs []Source, opts Options) (*Reader, error) {
	opts.setDefaults()
	r := &Reader{
		opts: opts,
		log:  opts.Logger,
		srcs: srcs,
		devs: newDevSet(opts.Batch),
		bufs: pool.NewBuffers(pool.BufferCap, 64),
	}
	if opts.Tracer != nil {
		_, r.span = opts.Tracer.Start(context.Background(), "blktrace.merge",
			trace.WithAttributes(attribute.Int("sources", len(srcs))))
	}
	var cursors []*batchCursor
	for i, src := range srcs {
		if bs, ok := src.(bufferedSource); ok {
			bs.setBuffers(r.bufs)
		}
		bc := &batchCursor{src: src, idx: i}
		ok, err := bc.prime(r)
		if err != nil {
			r.Close()
			return nil, err
		}
		if ok {
			cursors = append(cursors, bc)
		}
	}
	r.countFiles(cursors)
	r.genesis = opts.Genesis
	if !opts.FixedGenesis {
		r.genesis = findGenesis(cursors)
	}
	for _, bc := range cursors {
		r.frontier = heapInsert(r.frontier, bc)
	}
	r.log.Debug("reader primed",
		zap.Int("streams", len(r.frontier)),
		zap.Uint64("genesis", r.genesis))
	return r, nil
}

// countFiles records how many files feed each device, which sizes the
// per-cpu lookback windows.
func (r *Reader) countFiles(cursors []*batchCursor) {
	for _, bc := range cursors {
		if bc.cpu != nil {
			bc.cpu.dev.nfiles++
		}
	}
}

func findGenesis(cursors []*batchCursor) uint64 {
	var g uint64
	found := false
	for _, bc := range cursors {
		for i := bc.head; i < len(bc.buf); i++ {
			if t := bc.buf[i].Time; !found || t < g {
				g, found = t, true
			}
		}
	}
	return g
}

// Genesis returns the time subtracted from every record.
func (r *Reader) Genesis() uint64 {
	return r.genesis
}

// ReadRecord returns the next record in time order. It returns io.EOF
// once every source is exhausted or the End bound is passed.
func (r *Reader) ReadRecord() (Record, error) {
	for {
		if r.done || len(r.frontier) == 0 {
			r.finish()
			return Record{}, io.EOF
		}
		bc := r.frontier[0]
		rec := bc.next()
		ok, err := bc.prime(r)
		if err != nil {
			return Record{}, err
		}
		if ok {
			heapUpdate(r.frontier, 0)
		} else {
			r.frontier = heapRemove(r.frontier, 0)
		}
		if rec.Time >= r.genesis {
			rec.Time -= r.genesis
		} else {
			rec.Time = 0
		}
		if rec.Action.IsNotify() {
			r.note(&rec, r.order())
			return rec, nil
		}
		if r.opts.End != 0 && rec.Time > r.opts.End {
			r.done = true
			continue
		}
		d := r.devs.get(rec.Device)
		c := d.cpu(rec.CPU)
		c.check(&rec, true)
		c.emit(&rec)
		d.seen(&rec)
		if rec.Time < r.opts.Start {
			r.Release(&rec)
			continue
		}
		return rec, nil
	}
}

func (r *Reader) order() binary.ByteOrder {
	return sourceOrder(r.srcs)
}

// Release returns rec's payload buffer for reuse. rec must not be used
// afterwards.
func (r *Reader) Release(rec *Record) {
	if cap(rec.PDU) > 0 {
		r.bufs.Put(rec.PDU)
	}
	rec.PDU = nil
}

// Summary reports skip and corruption statistics for the records read
// so far.
func (r *Reader) Summary() Summary {
	return summarize(r.devs, r.corrupt)
}

func (r *Reader) finish() {
	if r.span != nil {
		sum := r.Summary()
		r.span.SetAttributes(
			attribute.Int64("events", int64(sum.Events)),
			attribute.Int("skips", sum.Skips),
			attribute.Int64("skipped", int64(sum.Skipped)),
			attribute.Int64("corrupt", int64(sum.Corrupt)))
		r.span.End()
		r.span = nil
	}
	if r.srcs == nil {
		return
	}
	r.Close()
}

// Close closes all sources.
func (r *Reader) Close() error {
	if r.span != nil {
		r.span.End()
		r.span = nil
	}
	var first error
	for _, s := range r.srcs {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	r.srcs = nil
	r.frontier = nil
	return first
}
