// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"cmp"
	"io"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"
)

// batchCursor reads one Source a batch at a time and exposes the
// oldest record not yet emitted.
type batchCursor struct {
	src  Source
	idx  int      // registration order; breaks timestamp ties
	buf  []Record // primed records, buf[head] is next
	head int
	eof  bool
	cpu  *cpuInfo // stream of the last record read, for corrupt accounting

	corrupt uint64 // corrupt records seen before the stream was identified
}

// prime refills the cursor with up to batch records. It reports
// whether any record is available.
func (b *batchCursor) prime(r *Reader) (bool, error) {
	if b.head < len(b.buf) {
		return true, nil
	}
	b.buf = b.buf[:0]
	b.head = 0
	for !b.eof && len(b.buf) < r.opts.Batch {
		rec, err := b.src.ReadRecord()
		if err == io.EOF {
			b.eof = true
			break
		}
		var cerr *CorruptRecordError
		if xerrors.As(err, &cerr) {
			if b.cpu != nil {
				b.cpu.corrupt++
			} else {
				b.corrupt++
			}
			r.corrupt++
			r.log.Warn("dropping corrupt record",
				zap.String("stream", cerr.Stream),
				zap.Int64("offset", cerr.Offset),
				zap.Error(cerr.Err))
			continue
		}
		if err != nil {
			return false, err
		}
		if !rec.Action.IsNotify() {
			d := r.devs.get(rec.Device)
			b.cpu = d.cpu(rec.CPU)
			b.cpu.read(rec.Sequence)
			if rec.Time > d.lastRead {
				d.lastRead = rec.Time
			}
			if b.corrupt > 0 {
				b.cpu.corrupt += b.corrupt
				b.corrupt = 0
			}
		}
		b.buf = append(b.buf, rec)
	}
	// A stream is only partially ordered on its own.
	slices.SortStableFunc(b.buf, func(x, y Record) int {
		if c := cmp.Compare(x.Time, y.Time); c != 0 {
			return c
		}
		return cmp.Compare(x.Sequence, y.Sequence)
	})
	return b.head < len(b.buf), nil
}

func (b *batchCursor) peek() *Record {
	return &b.buf[b.head]
}

func (b *batchCursor) next() Record {
	rec := b.buf[b.head]
	b.buf[b.head] = Record{}
	b.head++
	return rec
}

func (b *batchCursor) compare(a *batchCursor) int {
	if c := cmp.Compare(b.peek().Time, a.peek().Time); c != 0 {
		return c
	}
	return cmp.Compare(b.idx, a.idx)
}

func heapInsert(heap []*batchCursor, bc *batchCursor) []*batchCursor {
	// Add the cursor to the end of the heap.
	heap = append(heap, bc)

	// Sift the new entry up to the right place.
	heapSiftUp(heap, len(heap)-1)
	return heap
}

func heapUpdate(heap []*batchCursor, i int) {
	// Try to sift up.
	if heapSiftUp(heap, i) != i {
		return
	}
	// Try to sift down, if sifting up failed.
	heapSiftDown(heap, i)
}

func heapRemove(heap []*batchCursor, i int) []*batchCursor {
	// Sift index i up to the root, ignoring actual values.
	for i > 0 {
		heap[(i-1)/2], heap[i] = heap[i], heap[(i-1)/2]
		i = (i - 1) / 2
	}
	// Swap the root with the last element, then remove it.
	heap[0], heap[len(heap)-1] = heap[len(heap)-1], heap[0]
	heap = heap[:len(heap)-1]
	// Sift the root down.
	heapSiftDown(heap, 0)
	return heap
}

func heapSiftUp(heap []*batchCursor, i int) int {
	for i > 0 && heap[(i-1)/2].compare(heap[i]) > 0 {
		heap[(i-1)/2], heap[i] = heap[i], heap[(i-1)/2]
		i = (i - 1) / 2
	}
	return i
}

func heapSiftDown(heap []*batchCursor, i int) int {
	for {
		m := min3(heap, i, 2*i+1, 2*i+2)
		if m == i {
			// Heap invariant already applies.
			break
		}
		heap[i], heap[m] = heap[m], heap[i]
		i = m
	}
	return i
}

func min3(b []*batchCursor, i0, i1, i2 int) int {
	minIdx := i0
	if i1 < len(b) && b[i1].compare(b[minIdx]) < 0 {
		minIdx = i1
	}
	if i2 < len(b) && b[i2].compare(b[minIdx]) < 0 {
		minIdx = i2
	}
	return minIdx
}
