// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestVerbose(t *testing.T) {
	for _, verbose := range []bool{false, true} {
		var sb strings.Builder
		log := New(verbose, &sb)
		log.Debug("no matching I/O", zap.Uint64("sector", 8))
		log.Warn("sector alias", zap.Uint64("sector", 16))
		log.Sync()

		out := sb.String()
		if got := strings.Contains(out, "no matching I/O"); got != verbose {
			t.Errorf("verbose=%v: debug line written = %v\n%s", verbose, got, out)
		}
		if !strings.Contains(out, "WARN\tsector alias\t{\"sector\": 16}") {
			t.Errorf("verbose=%v: warning missing or malformed:\n%s", verbose, out)
		}
	}
}

func TestExtraCores(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var sb strings.Builder
	New(false, &sb, core).Info("opened", zap.String("file", "sda.blktrace.0"))
	if logs.Len() != 1 || logs.All()[0].ContextMap()["file"] != "sda.blktrace.0" {
		t.Errorf("observed %v", logs.All())
	}
}
