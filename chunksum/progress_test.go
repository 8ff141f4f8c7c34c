package chunksum_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/xyb/chunksum/chunksum"
)

func TestProgressRatePerFile(t *testing.T) {
	buf := bytes.NewBuffer(nil)
	p := chunksum.NewProgress(buf)

	//the rate is each file's own size over its own digest time, the
	//wall clock gap between events of different workers plays no part
	p.Report(chunksum.Event{Path: "a.bin", Size: 2 << 20, Dur: time.Second})
	p.Report(chunksum.Event{Path: "b.bin", Size: 4 << 20, Cached: true})
	p.Report(chunksum.Event{Path: "c.bin", Err: bytes.ErrTooLarge})
	p.Close()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 progress lines, got %d", len(lines))
	}

	if lines[0] != "a.bin 2.0 MiB 2.0 MiB/s" {
		t.Errorf("unexpected progress line: %q", lines[0])
	}

	if !strings.HasSuffix(lines[1], "(cached)") {
		t.Errorf("expected the cached file to be marked: %q", lines[1])
	}

	if !strings.Contains(lines[2], "error") {
		t.Errorf("expected the failed file to carry its error: %q", lines[2])
	}
}
