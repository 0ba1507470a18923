// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"encoding/binary"

	"github.com/google/btree"
	"go.uber.org/zap"
)

// queued is a record waiting in a sortQueue.
type queued struct {
	rec   Record
	round uint64 // read round the record arrived in
	id    uint64 // arrival order, keeps equal keys distinct
}

func queuedLess(a, b *queued) bool {
	switch {
	case a.rec.Time != b.rec.Time:
		return a.rec.Time < b.rec.Time
	case a.rec.Device != b.rec.Device:
		return a.rec.Device < b.rec.Device
	case a.rec.Sequence != b.rec.Sequence:
		return a.rec.Sequence < b.rec.Sequence
	}
	return a.id < b.id
}

// Sorter orders records that arrive in rounds from many interleaved
// streams. A record is released only once it is at least FlushRounds
// rounds old and no older than the youngest record of the latest round,
// so stragglers from slower cpus can still slot in ahead of it.
type Sorter struct {
	opts     Options
	log      *zap.Logger
	tree     *btree.BTreeG[*queued]
	pending  []Record
	devs     *devSet
	round    uint64
	youngest uint64
	nextID   uint64
	genesis  uint64
	haveGen  bool
	corrupt  uint64
	order    binary.ByteOrder
	notes
}

// NewSorter returns an empty Sorter.
func NewSorter(opts Options) *Sorter {
	opts.setDefaults()
	return &Sorter{
		opts:    opts,
		log:     opts.Logger,
		tree:    btree.NewG(16, queuedLess),
		devs:    newDevSet(opts.Batch),
		genesis: opts.Genesis,
		haveGen: opts.FixedGenesis,
	}
}

// Add buffers rec in the current round.
func (s *Sorter) Add(rec Record) {
	s.pending = append(s.pending, rec)
}

// Corrupt counts a record the caller had to drop.
func (s *Sorter) Corrupt() {
	s.corrupt++
}

// SetByteOrder sets the byte order used to decode notification
// payloads.
func (s *Sorter) SetByteOrder(order binary.ByteOrder) {
	s.order = order
}

// Len returns the number of records held, including the current round.
func (s *Sorter) Len() int {
	return s.tree.Len() + len(s.pending)
}

// Genesis returns the time subtracted from every record, and whether
// it is known yet.
func (s *Sorter) Genesis() (uint64, bool) {
	return s.genesis, s.haveGen
}

// EndRound closes the current round, moving its records into the
// sort queue. It reports the number of records added.
func (s *Sorter) EndRound() int {
	n := len(s.pending)
	if n == 0 {
		return 0
	}
	if !s.haveGen {
		s.genesis = s.pending[0].Time
		for _, r := range s.pending[1:] {
			s.genesis = min(s.genesis, r.Time)
		}
		s.haveGen = true
	}
	s.round++
	first := true
	for _, rec := range s.pending {
		if rec.Time >= s.genesis {
			rec.Time -= s.genesis
		} else {
			s.log.Debug("record precedes genesis",
				zap.Stringer("device", rec.Device),
				zap.Uint32("cpu", rec.CPU),
				zap.Uint32("sequence", rec.Sequence))
			rec.Time = 0
		}
		if first || rec.Time < s.youngest {
			s.youngest = rec.Time
			first = false
		}
		if !rec.Action.IsNotify() {
			d := s.devs.get(rec.Device)
			d.cpu(rec.CPU).read(rec.Sequence)
			if rec.Time > d.lastRead {
				d.lastRead = rec.Time
			}
		}
		s.nextID++
		s.tree.ReplaceOrInsert(&queued{rec: rec, round: s.round, id: s.nextID})
	}
	clear(s.pending)
	s.pending = s.pending[:0]
	return n
}

// Next returns the oldest record that may be released. With force set
// every queued record is eligible and sequence gaps are recorded as
// skips instead of holding records back.
func (s *Sorter) Next(force bool) (Record, bool) {
	for {
		q, ok := s.tree.Min()
		if !ok {
			return Record{}, false
		}
		if !force {
			if s.round-q.round < s.opts.FlushRounds || q.rec.Time > s.youngest {
				return Record{}, false
			}
		}
		rec := &q.rec
		if rec.Action.IsNotify() {
			s.tree.DeleteMin()
			s.note(rec, s.order)
			return *rec, true
		}
		if s.opts.End != 0 && rec.Time > s.opts.End {
			s.tree.DeleteMin()
			continue
		}
		d := s.devs.get(rec.Device)
		c := d.cpu(rec.CPU)
		// A gap that survives another full round is taken as lost.
		if !c.check(rec, force || s.round-q.round > s.opts.FlushRounds) {
			return Record{}, false
		}
		s.tree.DeleteMin()
		c.emit(rec)
		d.seen(rec)
		if rec.Time < s.opts.Start {
			continue
		}
		return *rec, true
	}
}

// Summary reports skip and corruption statistics for the records
// released so far.
func (s *Sorter) Summary() Summary {
	return summarize(s.devs, s.corrupt)
}
