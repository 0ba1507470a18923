// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Blkraw converts block traces between the binary format written by
// blktrace and a line-oriented text form, without reordering them.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/xerrors"

	"golang.org/x/exp/blktrace"
	"golang.org/x/exp/blktrace/internal/raw"
)

var bigEndian = flag.Bool("big-endian", false, "write binary records big-endian")

var modes = []struct{ name, help string }{
	{"text2bytes", "encode a text trace as binary records"},
	{"bytes2text", "decode binary records into text"},
	{"swap", "rewrite binary records in the other byte order"},
	{"strip", "drop comments and blank lines from a text trace"},
}

func init() {
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintf(out, "Usage: %s [flags] mode < input > output\n\nModes:\n", os.Args[0])
		for _, m := range modes {
			fmt.Fprintf(out, "  %-10s  %s\n", m.name, m.help)
		}
		fmt.Fprintln(out)
		flag.PrintDefaults()
	}
	log.SetFlags(0)
	log.SetPrefix("blkraw: ")
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	var order binary.ByteOrder = binary.LittleEndian
	if *bigEndian {
		order = binary.BigEndian
	}

	r := bufio.NewReader(os.Stdin)
	w := bufio.NewWriter(os.Stdout)
	var tr traceReader
	var tw traceWriter
	switch flag.Arg(0) {
	case "text2bytes":
		tr = raw.NewTextReader(r)
		tw = &binaryWriter{w: w, enc: blktrace.NewEncoder(order)}
	case "bytes2text":
		tr = &binaryReader{r: r, dec: blktrace.NewDecoder()}
		tw = raw.NewTextWriter(w)
	case "swap":
		br := &binaryReader{r: r, dec: blktrace.NewDecoder()}
		tr = br
		tw = &binaryWriter{w: w, swapFrom: br.dec}
	case "strip":
		tr = raw.NewTextReader(r)
		tw = raw.NewTextWriter(w)
	default:
		log.Fatalf("unknown mode %q; see -h", flag.Arg(0))
	}
	n, err := copyRecords(tw, tr)
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	if err != nil {
		log.Fatalf("after %d records: %v", n, err)
	}
}

func copyRecords(tw traceWriter, tr traceReader) (int, error) {
	n := 0
	for {
		rec, err := tr.ReadRecord()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := tw.WriteRecord(&rec); err != nil {
			return n, err
		}
		n++
	}
}

type traceReader interface {
	ReadRecord() (blktrace.Record, error)
}

type traceWriter interface {
	WriteRecord(*blktrace.Record) error
}

type binaryReader struct {
	r   io.Reader
	dec *blktrace.Decoder
}

// ReadRecord stops at the first malformed record: a raw dump should
// show exactly what the file holds.
func (b *binaryReader) ReadRecord() (blktrace.Record, error) {
	rec, err := b.dec.ReadRecord(b.r, nil)
	if err != nil && err != io.EOF {
		return rec, xerrors.Errorf("record at offset %d: %w", b.dec.Offset(), err)
	}
	return rec, err
}

type binaryWriter struct {
	w   io.Writer
	enc *blktrace.Encoder

	// swapFrom, if set, selects the encoder on the first record: the
	// byte order opposite to the one swapFrom detected.
	swapFrom *blktrace.Decoder
}

func (b *binaryWriter) WriteRecord(rec *blktrace.Record) error {
	if b.enc == nil {
		var order binary.ByteOrder = binary.BigEndian
		if b.swapFrom.ByteOrder() == binary.BigEndian {
			order = binary.LittleEndian
		}
		b.enc = blktrace.NewEncoder(order)
	}
	if b.swapFrom != nil && rec.Action.IsNotify() && rec.Action.Code() == blktrace.NotifyTimestamp {
		if t, ok := blktrace.Timestamp(rec, b.swapFrom.ByteOrder()); ok {
			pdu := make([]byte, 8)
			b.enc.Order.PutUint32(pdu[0:], uint32(t.Unix()))
			b.enc.Order.PutUint32(pdu[4:], uint32(t.Nanosecond()))
			rec.PDU = pdu
		}
	}
	return b.enc.WriteRecord(b.w, rec)
}
