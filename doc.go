// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package blktrace reads Linux block layer traces.
//
// The kernel's blktrace facility emits one binary stream per cpu for
// each traced device. Each stream is in sequence order but the streams
// are not ordered with respect to one another, and records can be lost
// when the relay buffers overflow. This package decodes those records
// and merges the streams into a single sequence ordered by time,
// noting the ranges of sequence numbers that never arrived.
//
// Three readers cover the ways traces are consumed:
//
//   - Reader merges per-cpu files that are already complete.
//   - PipeReader orders a single stream in which the cpus are
//     interleaved, as when blktrace writes to a pipe.
//   - Collector reads live per-cpu streams concurrently.
//
// All three implement RecordReader. The btt, iomon and format packages
// consume their output.
package blktrace
