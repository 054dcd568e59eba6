package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"netpilot-hq/netpilot/pkg/events"
)

// ProgressPrinter prints progress reports as one line per step.
type ProgressPrinter struct {
	mu      sync.Mutex
	writer  io.Writer
	started time.Time
	now     func() time.Time
	last    map[string]int
}

var _ events.ProgressSink = (*ProgressPrinter)(nil)

// NewProgressPrinter creates a printer that writes to w.
// If w is nil, it defaults to os.Stderr.
func NewProgressPrinter(w io.Writer) *ProgressPrinter {
	if w == nil {
		w = os.Stderr
	}
	return &ProgressPrinter{
		writer:  w,
		started: time.Now(),
		now:     time.Now,
		last:    make(map[string]int),
	}
}

// Progress implements events.ProgressSink. Reports that do not advance an
// operation are dropped.
func (p *ProgressPrinter) Progress(_ context.Context, r events.Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := r.OperationID + "/" + r.Step
	if pct, seen := p.last[key]; seen && pct >= r.Percent {
		return
	}
	p.last[key] = r.Percent

	elapsed := p.now().Sub(p.started).Round(time.Millisecond)
	fmt.Fprintf(p.writer, "[%s] %3d%% %-10s %s\n", bar(r.Percent, 20), clamp(r.Percent), r.Step, describe(r, elapsed))
}

func describe(r events.Progress, elapsed time.Duration) string {
	parts := make([]string, 0, 3)
	if r.Subject != "" {
		parts = append(parts, r.Subject)
	}
	if r.Message != "" {
		parts = append(parts, r.Message)
	}
	parts = append(parts, "("+elapsed.String()+")")
	return strings.Join(parts, " ")
}

func clamp(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	}
	return percent
}

func bar(percent, width int) string {
	filled := width * clamp(percent) / 100
	return strings.Repeat("#", filled) + strings.Repeat(".", width-filled)
}
