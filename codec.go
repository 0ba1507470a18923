// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blktrace

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/xerrors"
)

var (
	// ErrBadMagic is returned for records whose magic field does not
	// identify a blktrace record in either byte order.
	ErrBadMagic = xerrors.New("bad trace magic")

	// ErrUnsupportedVersion is returned for records with a known magic
	// but a version other than Version.
	ErrUnsupportedVersion = xerrors.New("unsupported trace version")

	// ErrShortRecord is returned when fewer than HeaderSize bytes
	// are available.
	ErrShortRecord = xerrors.New("short trace record")

	// ErrTruncatedPDU is returned when the payload is shorter than the
	// header's pdu_len claims.
	ErrTruncatedPDU = xerrors.New("truncated trace payload")
)

// CorruptRecordError describes a record that was dropped from a stream.
type CorruptRecordError struct {
	Stream string
	Offset int64
	Err    error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("%s: corrupt record at offset %d: %v", e.Stream, e.Offset, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// Verify checks a record's magic and version.
func Verify(r *Record) error {
	if r.Magic&magicMask != Magic {
		return xerrors.Errorf("magic %#x: %w", r.Magic, ErrBadMagic)
	}
	if r.Magic&^magicMask != Version {
		return xerrors.Errorf("version %#x: %w", r.Magic&^magicMask, ErrUnsupportedVersion)
	}
	return nil
}

// DetectByteOrder determines the byte order of a stream from the first
// four bytes of its first record.
func DetectByteOrder(magic []byte) (binary.ByteOrder, error) {
	if len(magic) < 4 {
		return nil, ErrShortRecord
	}
	if binary.LittleEndian.Uint32(magic)&magicMask == Magic {
		return binary.LittleEndian, nil
	}
	if binary.BigEndian.Uint32(magic)&magicMask == Magic {
		return binary.BigEndian, nil
	}
	return nil, xerrors.Errorf("magic % x: %w", magic[:4], ErrBadMagic)
}

// Decoder decodes records of a single session. The byte order is fixed
// by the first record it sees.
type Decoder struct {
	order binary.ByteOrder
	hdr   [HeaderSize]byte
	off   int64
}

// NewDecoder returns a Decoder whose byte order is detected on first use.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// NewDecoderOrder returns a Decoder with a fixed byte order.
func NewDecoderOrder(order binary.ByteOrder) *Decoder {
	return &Decoder{order: order}
}

// ByteOrder returns the detected byte order, or nil if no record has
// been decoded yet.
func (d *Decoder) ByteOrder() binary.ByteOrder {
	return d.order
}

// Offset returns the number of bytes consumed by ReadRecord so far.
func (d *Decoder) Offset() int64 {
	return d.off
}

// Decode decodes one record from the start of b, returning the record
// and the number of bytes it occupied. The record's PDU aliases b.
//
// A byte order detection failure is fatal for the session; Verify
// failures on later records are not, and the returned length still
// covers the record so the caller can skip it.
func (d *Decoder) Decode(b []byte) (Record, int, error) {
	if len(b) < HeaderSize {
		return Record{}, 0, ErrShortRecord
	}
	if d.order == nil {
		order, err := DetectByteOrder(b)
		if err != nil {
			return Record{}, 0, err
		}
		d.order = order
	}
	r := d.decodeHeader(b)
	n := HeaderSize + int(r.PDULen)
	if len(b) < n {
		return r, len(b), ErrTruncatedPDU
	}
	if r.PDULen > 0 {
		r.PDU = b[HeaderSize:n]
	}
	return r, n, Verify(&r)
}

func (d *Decoder) decodeHeader(b []byte) Record {
	o := d.order
	return Record{
		Magic:    o.Uint32(b[0:]),
		Sequence: o.Uint32(b[4:]),
		Time:     o.Uint64(b[8:]),
		Sector:   o.Uint64(b[16:]),
		Bytes:    o.Uint32(b[24:]),
		Action:   Action(o.Uint32(b[28:])),
		PID:      o.Uint32(b[32:]),
		Device:   Dev(o.Uint32(b[36:])),
		CPU:      o.Uint32(b[40:]), // struct blk_io_trace: u32 cpu, u16 error, u16 pdu_len
		Error:    o.Uint16(b[44:]),
		PDULen:   o.Uint16(b[46:]),
	}
}

// ReadRecord reads one record from r. The PDU is freshly allocated
// unless buf has enough capacity, in which case it is reused.
//
// io.EOF is returned only at a clean record boundary; a partial header
// yields io.ErrUnexpectedEOF.
func (d *Decoder) ReadRecord(r io.Reader, buf []byte) (Record, error) {
	if _, err := io.ReadFull(r, d.hdr[:]); err != nil {
		return Record{}, err
	}
	d.off += HeaderSize
	if d.order == nil {
		order, err := DetectByteOrder(d.hdr[:])
		if err != nil {
			return Record{}, err
		}
		d.order = order
	}
	rec := d.decodeHeader(d.hdr[:])
	if rec.PDULen > 0 {
		if cap(buf) >= int(rec.PDULen) {
			buf = buf[:rec.PDULen]
		} else {
			buf = make([]byte, rec.PDULen)
		}
		n, err := io.ReadFull(r, buf)
		d.off += int64(n)
		if err != nil {
			return rec, xerrors.Errorf("reading %d byte payload: %w", rec.PDULen, ErrTruncatedPDU)
		}
		rec.PDU = buf
	}
	return rec, Verify(&rec)
}

// Encoder encodes records in a fixed byte order.
type Encoder struct {
	Order binary.ByteOrder
	buf   []byte
}

// NewEncoder returns an Encoder for the given byte order, or the
// native little-endian layout if order is nil.
func NewEncoder(order binary.ByteOrder) *Encoder {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Encoder{Order: order}
}

// AppendRecord appends the wire form of r to b. PDULen is taken from
// len(r.PDU).
func (e *Encoder) AppendRecord(b []byte, r *Record) []byte {
	o := e.Order
	var hdr [HeaderSize]byte
	o.PutUint32(hdr[0:], r.Magic)
	o.PutUint32(hdr[4:], r.Sequence)
	o.PutUint64(hdr[8:], r.Time)
	o.PutUint64(hdr[16:], r.Sector)
	o.PutUint32(hdr[24:], r.Bytes)
	o.PutUint32(hdr[28:], uint32(r.Action))
	o.PutUint32(hdr[32:], r.PID)
	o.PutUint32(hdr[36:], uint32(r.Device))
	o.PutUint32(hdr[40:], r.CPU)
	o.PutUint16(hdr[44:], r.Error)
	o.PutUint16(hdr[46:], uint16(len(r.PDU)))
	b = append(b, hdr[:]...)
	return append(b, r.PDU...)
}

// Encode returns the wire form of r.
func (e *Encoder) Encode(r *Record) []byte {
	return e.AppendRecord(make([]byte, 0, HeaderSize+len(r.PDU)), r)
}

// WriteRecord writes the wire form of r to w.
func (e *Encoder) WriteRecord(w io.Writer, r *Record) error {
	e.buf = e.AppendRecord(e.buf[:0], r)
	_, err := w.Write(e.buf)
	return err
}
