// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"context"
	"encoding/binary"
	"io"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Collector orders records arriving concurrently from live per-cpu
// streams. Each source is read by its own goroutine; a single consumer
// calls ReadRecord.
type Collector struct {
	srcs    []Source
	sorter  *Sorter
	batch   int
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	recs    chan Record
	err     error // set before recs is closed
	closed  bool
	drained bool // recs observed closed
	order   atomic.Value
	corrupt atomic.Uint64
}

type byteOrder struct{ binary.ByteOrder }

// NewCollector starts one reader goroutine per source. Cancelling ctx
// stops collection; records already received are drained in force
// mode.
func NewCollector(ctx context.Context, srcs []Source, opts Options) *Collector {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(ctx)
	c := &Collector{
		srcs:   srcs,
		sorter: NewSorter(opts),
		batch:  opts.Batch,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		recs:   make(chan Record, opts.Batch*max(len(srcs), 1)),
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range srcs {
		src := src
		g.Go(func() error { return c.produce(gctx, src) })
	}
	go func() {
		c.err = g.Wait()
		close(c.recs)
	}()
	return c
}

func (c *Collector) produce(ctx context.Context, src Source) error {
	for {
		rec, err := src.ReadRecord()
		if err == io.EOF {
			return nil
		}
		var cerr *CorruptRecordError
		if xerrors.As(err, &cerr) {
			c.corrupt.Add(1)
			c.log.Warn("dropping corrupt record",
				zap.String("stream", cerr.Stream),
				zap.Int64("offset", cerr.Offset),
				zap.Error(cerr.Err))
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if c.order.Load() == nil {
			if o := sourceOrder([]Source{src}); o != nil {
				c.order.CompareAndSwap(nil, byteOrder{o})
			}
		}
		select {
		case c.recs <- rec:
		case <-ctx.Done():
			return nil
		}
	}
}

// ReadRecord returns the next record in time order, or io.EOF once all
// sources are exhausted or the context is cancelled.
func (c *Collector) ReadRecord() (Record, error) {
	for {
		if rec, ok := c.sorter.Next(false); ok {
			return rec, nil
		}
		if c.closed {
			c.sorter.EndRound()
			if rec, ok := c.sorter.Next(true); ok {
				return rec, nil
			}
			if c.drained && c.err != nil {
				return Record{}, c.err
			}
			return Record{}, io.EOF
		}
		c.receiveRound()
	}
}

// receiveRound waits for at least one record, then takes whatever else
// is ready, up to a batch.
func (c *Collector) receiveRound() {
	select {
	case rec, ok := <-c.recs:
		if !ok {
			c.closed, c.drained = true, true
			return
		}
		c.sorter.Add(rec)
	case <-c.ctx.Done():
		c.closed = true
		return
	}
loop:
	for n := 1; n < c.batch; n++ {
		select {
		case rec, ok := <-c.recs:
			if !ok {
				c.closed, c.drained = true, true
				break loop
			}
			c.sorter.Add(rec)
		default:
			break loop
		}
	}
	if c.sorter.order == nil {
		if o, ok := c.order.Load().(byteOrder); ok {
			c.sorter.SetByteOrder(o.ByteOrder)
		}
	}
	c.sorter.EndRound()
}

// ProcessName returns the command name last announced for pid.
func (c *Collector) ProcessName(pid uint32) string {
	return c.sorter.ProcessName(pid)
}

// Summary reports skip and corruption statistics.
func (c *Collector) Summary() Summary {
	s := c.sorter.Summary()
	s.Corrupt += c.corrupt.Load()
	return s
}

// Close stops the producers and closes every source.
func (c *Collector) Close() error {
	c.cancel()
	var first error
	for _, s := range c.srcs {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
