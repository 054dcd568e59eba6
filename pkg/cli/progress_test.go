package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"netpilot-hq/netpilot/pkg/events"
)

func newTestPrinter(buf *bytes.Buffer) *ProgressPrinter {
	p := NewProgressPrinter(buf)
	start := p.started
	p.now = func() time.Time { return start.Add(1500 * time.Millisecond) }
	return p
}

func TestProgressPrinter(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newTestPrinter(buf)
	ctx := context.Background()

	p.Progress(ctx, events.Progress{OperationID: "op-1", Step: "render", Percent: 50, Subject: "example.com", Message: "3 routers"})
	p.Progress(ctx, events.Progress{OperationID: "op-1", Step: "reload", Percent: 100})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "##########..........") || !strings.Contains(lines[0], " 50%") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[0], "example.com 3 routers (1.5s)") {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "100%") || !strings.Contains(lines[1], "reload") {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestProgressPrinter_DropsStaleReports(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newTestPrinter(buf)
	ctx := context.Background()

	p.Progress(ctx, events.Progress{OperationID: "op-1", Step: "write", Percent: 60})
	p.Progress(ctx, events.Progress{OperationID: "op-1", Step: "write", Percent: 60})
	p.Progress(ctx, events.Progress{OperationID: "op-1", Step: "write", Percent: 40})
	p.Progress(ctx, events.Progress{OperationID: "op-2", Step: "write", Percent: 40})

	if n := strings.Count(buf.String(), "\n"); n != 2 {
		t.Errorf("printed %d lines, want 2:\n%s", n, buf.String())
	}
}

func TestProgressPrinter_Clamps(t *testing.T) {
	tests := []struct {
		percent int
		want    string
	}{
		{-5, "....................]   0%"},
		{250, "####################] 100%"},
	}
	for _, tt := range tests {
		buf := &bytes.Buffer{}
		newTestPrinter(buf).Progress(context.Background(), events.Progress{Step: "x", Percent: tt.percent})
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("percent %d: output %q, want %q", tt.percent, buf.String(), tt.want)
		}
	}
}

func TestProgressPrinter_Concurrent(t *testing.T) {
	buf := &bytes.Buffer{}
	p := newTestPrinter(buf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Progress(context.Background(), events.Progress{OperationID: "op", Step: "domain", Percent: i * 10})
		}(i)
	}
	wg.Wait()

	if buf.Len() == 0 {
		t.Error("expected output")
	}
}
