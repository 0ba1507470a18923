// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package raw

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"golang.org/x/exp/blktrace"
)

const sample = `
# comment
Q dev=8,0 cpu=1 seq=1 time=100 pid=42 sector=2048 bytes=4096 rwbs=WS
A dev=8,16 cpu=0 seq=2 time=110 sector=100 bytes=4096 rwbs=W remap=8,0@2048
U dev=8,0 cpu=1 seq=3 time=120 pid=42 unplug=2
X dev=8,0 cpu=1 seq=4 time=130 sector=2048 bytes=4096 rwbs=W split=2052
C dev=8,0 cpu=1 seq=5 time=140 sector=2048 bytes=4096 err=5 cat=write,complete
process dev=8,0 cpu=1 time=0 pid=42 data="dd"
message dev=8,0 cpu=1 time=150 data="two words"
`

func TestTextReader(t *testing.T) {
	recs, err := NewTextReader(strings.NewReader(sample)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 7 {
		t.Fatalf("read %d records, want 7", len(recs))
	}
	q := recs[0]
	if q.Action.Code() != blktrace.ActQueue || q.RWBS() != "WS" || q.Action.Category()&blktrace.CatQueue == 0 {
		t.Errorf("queue record = %+v (rwbs %s)", q, q.RWBS())
	}
	if m, ok := blktrace.RemapPDU(&recs[1]); !ok || m.From != blktrace.MakeDev(8, 0) || m.To != blktrace.MakeDev(8, 16) || m.FromSector != 2048 {
		t.Errorf("remap = %+v, %v", m, ok)
	}
	if n, _ := blktrace.UnplugCount(&recs[2]); n != 2 {
		t.Errorf("unplug count = %d", n)
	}
	if recs[4].Error != 5 {
		t.Errorf("error = %d", recs[4].Error)
	}
	if !recs[5].Action.IsNotify() || blktrace.ProcessName(&recs[5]) != "dd" {
		t.Errorf("process record = %+v", recs[5])
	}
	if got := blktrace.Message(&recs[6]); got != "two words" {
		t.Errorf("message = %q", got)
	}
}

func TestTextRoundTrip(t *testing.T) {
	recs, err := NewTextReader(strings.NewReader(sample)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	w := NewTextWriter(&sb)
	for i := range recs {
		if err := w.WriteRecord(&recs[i]); err != nil {
			t.Fatal(err)
		}
	}
	again, err := NewTextReader(strings.NewReader(sb.String())).ReadAll()
	if err != nil {
		t.Fatalf("rereading:\n%s\n%v", sb.String(), err)
	}
	if diff := cmp.Diff(recs, again); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestTextReaderErrors(t *testing.T) {
	for _, line := range []string{
		"Z dev=8,0",
		"Q dev=8",
		"Q dev=8,0 bogus=1",
		"Q dev=8,0 seq",
		"Q dev=8,0 rwbs=Q",
		"Q dev=8,0 seq=99999999999",
	} {
		if _, err := NewTextReader(strings.NewReader(line)).ReadRecord(); err == nil {
			t.Errorf("%q: no error", line)
		}
	}
}
