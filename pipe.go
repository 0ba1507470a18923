// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"io"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// PipeReader orders records read from a single stream that interleaves
// the output of many cpus, such as blktrace writing to a pipe.
type PipeReader struct {
	src    Source
	sorter *Sorter
	batch  int
	log    *zap.Logger
	eof    bool
	stop   atomic.Bool
}

// NewPipeReader returns a PipeReader consuming src.
func NewPipeReader(src Source, opts Options) *PipeReader {
	opts.setDefaults()
	return &PipeReader{
		src:    src,
		sorter: NewSorter(opts),
		batch:  opts.Batch,
		log:    opts.Logger,
	}
}

// Stop asks the reader to stop consuming input. Records already read
// are still returned, in force mode. Stop may be called from any
// goroutine.
func (p *PipeReader) Stop() {
	p.stop.Store(true)
}

// ReadRecord returns the next record in time order, or io.EOF.
func (p *PipeReader) ReadRecord() (Record, error) {
	for {
		if rec, ok := p.sorter.Next(false); ok {
			return rec, nil
		}
		if p.eof || p.stop.Load() {
			p.sorter.EndRound()
			if rec, ok := p.sorter.Next(true); ok {
				return rec, nil
			}
			return Record{}, io.EOF
		}
		if err := p.readRound(); err != nil {
			return Record{}, err
		}
	}
}

// readRound reads up to one batch of records into the sorter.
func (p *PipeReader) readRound() error {
	for n := 0; n < p.batch && !p.stop.Load(); n++ {
		rec, err := p.src.ReadRecord()
		if err == io.EOF {
			p.eof = true
			break
		}
		var cerr *CorruptRecordError
		if xerrors.As(err, &cerr) {
			p.sorter.Corrupt()
			p.log.Warn("dropping corrupt record",
				zap.String("stream", cerr.Stream),
				zap.Int64("offset", cerr.Offset),
				zap.Error(cerr.Err))
			continue
		}
		if err != nil {
			return err
		}
		p.sorter.Add(rec)
	}
	if p.sorter.order == nil {
		p.sorter.SetByteOrder(sourceOrder([]Source{p.src}))
	}
	p.sorter.EndRound()
	return nil
}

// ProcessName returns the command name last announced for pid.
func (p *PipeReader) ProcessName(pid uint32) string {
	return p.sorter.ProcessName(pid)
}

// Genesis returns the time subtracted from every record.
func (p *PipeReader) Genesis() uint64 {
	g, _ := p.sorter.Genesis()
	return g
}

// Summary reports skip and corruption statistics.
func (p *PipeReader) Summary() Summary {
	return p.sorter.Summary()
}

// Close closes the underlying source.
func (p *PipeReader) Close() error {
	return p.src.Close()
}
