// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pool

import "testing"

func TestFreeListReuse(t *testing.T) {
	allocs := 0
	l := New(2, func() *int { allocs++; return new(int) }, nil)

	a, b, c := l.Get(), l.Get(), l.Get()
	if allocs != 3 {
		t.Fatalf("allocs = %d, want 3", allocs)
	}
	l.Put(a)
	l.Put(b)
	l.Put(c) // over capacity, dropped
	if l.Len() != 2 {
		t.Fatalf("Len = %d, want 2", l.Len())
	}
	if got := l.Get(); got != b {
		t.Errorf("Get returned %p, want last released %p", got, b)
	}
	if got := l.Get(); got != a {
		t.Errorf("Get returned %p, want %p", got, a)
	}
	l.Get()
	if allocs != 4 {
		t.Errorf("allocs = %d, want 4", allocs)
	}
	if hr := l.HitRate(); hr != 2.0/6.0 {
		t.Errorf("HitRate = %v, want %v", hr, 2.0/6.0)
	}
}

func TestBuffersReset(t *testing.T) {
	l := NewBuffers(4, 64)
	b := l.Get()
	if cap(b) != 64 || len(b) != 0 {
		t.Fatalf("new buffer len=%d cap=%d", len(b), cap(b))
	}
	b = append(b, "payload"...)
	l.Put(b)
	if got := l.Get(); len(got) != 0 || cap(got) != 64 {
		t.Errorf("reused buffer len=%d cap=%d, want 0/64", len(got), cap(got))
	}
}
