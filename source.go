// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/xerrors"

	"golang.org/x/exp/blktrace/internal/mmap"
	"golang.org/x/exp/blktrace/internal/pool"
	"golang.org/x/exp/slices"
)

// Source is one stream of records, typically the output of a single
// cpu for a single device.
//
// ReadRecord returns io.EOF at the end of the stream. A
// *CorruptRecordError means one record was dropped and reading may
// continue; any other error ends the stream.
type Source interface {
	Name() string
	ReadRecord() (Record, error)
	Close() error
}

type bufferedSource interface {
	setBuffers(*pool.FreeList[[]byte])
}

// streamSource decodes records from a byte stream.
type streamSource struct {
	name  string
	r     *bufio.Reader
	c     io.Closer
	dec   *Decoder
	n     uint64
	bufs  *pool.FreeList[[]byte]
	fatal error
}

// NewSource returns a Source reading records from r. If r is an
// io.Closer it is closed by Close.
func NewSource(name string, r io.Reader) Source {
	s := &streamSource{name: name, r: bufio.NewReaderSize(r, 64<<10), dec: NewDecoder()}
	if c, ok := r.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *streamSource) Name() string { return s.name }

func (s *streamSource) setBuffers(b *pool.FreeList[[]byte]) { s.bufs = b }

func (s *streamSource) ReadRecord() (Record, error) {
	if s.fatal != nil {
		return Record{}, s.fatal
	}
	var buf []byte
	if s.bufs != nil {
		buf = s.bufs.Get()
	}
	off := s.dec.Offset()
	rec, err := s.dec.ReadRecord(s.r, buf)
	if err == nil {
		s.n++
		return rec, nil
	}
	if rec.PDU == nil && buf != nil {
		s.bufs.Put(buf)
	}
	return rec, s.classify(err, off)
}

// classify turns a decode error into either a stream-ending error or
// a CorruptRecordError.
func (s *streamSource) classify(err error, off int64) error {
	switch {
	case err == io.EOF:
		return io.EOF
	case err == io.ErrUnexpectedEOF:
		s.fatal = io.EOF
		return &CorruptRecordError{Stream: s.name, Offset: off, Err: ErrShortRecord}
	case s.n == 0 && (xerrors.Is(err, ErrBadMagic) || xerrors.Is(err, ErrUnsupportedVersion)):
		s.fatal = xerrors.Errorf("%s: %w", s.name, err)
		return s.fatal
	case xerrors.Is(err, ErrTruncatedPDU):
		s.fatal = io.EOF
		return &CorruptRecordError{Stream: s.name, Offset: off, Err: err}
	case xerrors.Is(err, ErrBadMagic) || xerrors.Is(err, ErrUnsupportedVersion):
		s.n++
		return &CorruptRecordError{Stream: s.name, Offset: off, Err: err}
	}
	s.fatal = xerrors.Errorf("%s: %w", s.name, err)
	return s.fatal
}

func (s *streamSource) Close() error {
	if s.c != nil {
		return s.c.Close()
	}
	return nil
}

// fileSource decodes records directly out of a memory-mapped file.
type fileSource struct {
	name  string
	f     *mmap.File
	data  []byte
	off   int
	dec   *Decoder
	n     uint64
	bufs  *pool.FreeList[[]byte]
	fatal error
}

// OpenFile opens a binary trace file as a Source.
func OpenFile(name string) (Source, error) {
	f, err := mmap.Open(name)
	if err != nil {
		return nil, xerrors.Errorf("opening trace: %w", err)
	}
	return &fileSource{name: name, f: f, data: f.Data(), dec: NewDecoder()}, nil
}

func (s *fileSource) Name() string { return s.name }

func (s *fileSource) setBuffers(b *pool.FreeList[[]byte]) { s.bufs = b }

func (s *fileSource) ReadRecord() (Record, error) {
	if s.fatal != nil {
		return Record{}, s.fatal
	}
	if s.off >= len(s.data) {
		return Record{}, io.EOF
	}
	off := s.off
	rec, n, err := s.dec.Decode(s.data[s.off:])
	if n == 0 {
		if err == ErrShortRecord {
			s.fatal = io.EOF
			return Record{}, &CorruptRecordError{Stream: s.name, Offset: int64(off), Err: err}
		}
		s.fatal = xerrors.Errorf("%s: %w", s.name, err)
		return Record{}, s.fatal
	}
	s.off += n
	if err != nil {
		if s.n == 0 && !xerrors.Is(err, ErrTruncatedPDU) {
			s.fatal = xerrors.Errorf("%s: %w", s.name, err)
			return Record{}, s.fatal
		}
		s.n++
		return Record{}, &CorruptRecordError{Stream: s.name, Offset: int64(off), Err: err}
	}
	s.n++
	// The mapping goes away on Close; give the record its own payload.
	if len(rec.PDU) > 0 {
		var buf []byte
		if s.bufs != nil {
			buf = s.bufs.Get()
		}
		rec.PDU = append(buf[:0], rec.PDU...)
	}
	return rec, nil
}

func (s *fileSource) Close() error {
	return s.f.Close()
}

// TraceFileName returns the per-cpu file name blktrace uses for a
// device trace.
func TraceFileName(dir, base string, cpu int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.blktrace.%d", base, cpu))
}

// OpenFiles opens every per-cpu trace file for base in dir, in cpu
// order. It fails if none exist.
func OpenFiles(dir, base string) ([]Source, error) {
	matches, err := filepath.Glob(filepath.Join(dir, base+".blktrace.*"))
	if err != nil {
		return nil, err
	}
	type cpuFile struct {
		cpu  int
		name string
	}
	var files []cpuFile
	for _, m := range matches {
		suffix := m[strings.LastIndexByte(m, '.')+1:]
		cpu, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		files = append(files, cpuFile{cpu, m})
	}
	if len(files) == 0 {
		return nil, xerrors.Errorf("no trace files for %q in %q: %w", base, dir, os.ErrNotExist)
	}
	slices.SortFunc(files, func(a, b cpuFile) int { return a.cpu - b.cpu })
	var srcs []Source
	for _, f := range files {
		s, err := OpenFile(f.name)
		if err != nil {
			for _, s := range srcs {
				s.Close()
			}
			return nil, err
		}
		srcs = append(srcs, s)
	}
	return srcs, nil
}

// sourceOrder returns the byte order of the first source that has
// decoded a record, or nil.
func sourceOrder(srcs []Source) binary.ByteOrder {
	for _, src := range srcs {
		var dec *Decoder
		switch s := src.(type) {
		case *streamSource:
			dec = s.dec
		case *fileSource:
			dec = s.dec
		}
		if dec != nil && dec.ByteOrder() != nil {
			return dec.ByteOrder()
		}
	}
	return nil
}
