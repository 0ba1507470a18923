// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pool provides bounded free lists for objects that are
// allocated and released at high rates while reading traces.
//
// A FreeList never changes program behavior: Get on an empty list
// allocates, and Put on a full list drops the object for the garbage
// collector.
package pool

// Default capacities for the reader's lists.
const (
	RecordCap = 1024
	BufferCap = 256
)

// FreeList is a LIFO list of at most cap released objects.
// It is not safe for concurrent use.
type FreeList[T any] struct {
	items []T
	max   int
	alloc func() T
	reset func(T) T

	gets, hits uint64
}

// New returns a FreeList holding at most max objects. alloc makes a
// new object when the list is empty; reset, if non-nil, prepares a
// released object for reuse.
func New[T any](max int, alloc func() T, reset func(T) T) *FreeList[T] {
	return &FreeList[T]{max: max, alloc: alloc, reset: reset}
}

// Get returns a released object or a new one.
func (l *FreeList[T]) Get() T {
	l.gets++
	if n := len(l.items); n > 0 {
		l.hits++
		v := l.items[n-1]
		var zero T
		l.items[n-1] = zero
		l.items = l.items[:n-1]
		return v
	}
	return l.alloc()
}

// Put releases v. The caller must not use v afterwards.
func (l *FreeList[T]) Put(v T) {
	if len(l.items) >= l.max {
		return
	}
	if l.reset != nil {
		v = l.reset(v)
	}
	l.items = append(l.items, v)
}

// Len returns the number of objects available for reuse.
func (l *FreeList[T]) Len() int {
	return len(l.items)
}

// HitRate returns the fraction of Get calls served from the list.
func (l *FreeList[T]) HitRate() float64 {
	if l.gets == 0 {
		return 0
	}
	return float64(l.hits) / float64(l.gets)
}

// NewBuffers returns a list of byte slices with the given capacity,
// suitable for record payloads.
func NewBuffers(max, size int) *FreeList[[]byte] {
	return New(max,
		func() []byte { return make([]byte, 0, size) },
		func(b []byte) []byte { return b[:0] })
}
