// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mmap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	want := bytes.Repeat([]byte("blktrace"), 1000)
	name := filepath.Join(dir, "sda.blktrace.0")
	if err := os.WriteFile(name, want, 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if got := m.Size(); got != int64(len(want)) {
		t.Errorf("Size = %d, want %d", got, len(want))
	}
	if !bytes.Equal(m.Data(), want) {
		t.Errorf("Data mismatch")
	}
	if err := m.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestOpenEmpty(t *testing.T) {
	name := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(name, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()
	if len(m.Data()) != 0 {
		t.Errorf("Data len = %d, want 0", len(m.Data()))
	}
}
