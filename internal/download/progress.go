package download

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

// ProgressOptions configures a Progress reporter.
type ProgressOptions struct {
	// Label prefixes every line, usually the job name.
	Label string

	// Output is where progress is drawn.
	// Default: os.Stderr
	Output io.Writer

	// UpdateInterval is how often the display is redrawn.
	// Default: 500ms
	UpdateInterval time.Duration
}

// Progress draws segment progress for one job. A nil *Progress is valid and
// reports nothing.
type Progress struct {
	opts ProgressOptions
	tty  bool

	total   atomic.Int64
	fetched atomic.Int64
	written atomic.Int64
	bytes   atomic.Int64
	retries atomic.Int64

	mu        sync.Mutex
	startTime time.Time
	started   bool
	stopped   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// ProgressSnapshot is a point-in-time copy of the counters.
type ProgressSnapshot struct {
	Total   int
	Fetched int
	Written int
	Bytes   int64
	Retries int
}

// NewProgress creates a reporter. Nothing is drawn until Start.
func NewProgress(opts ProgressOptions) *Progress {
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}
	p := &Progress{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if f, ok := opts.Output.(*os.File); ok {
		p.tty = term.IsTerminal(int(f.Fd()))
	}
	return p
}

// Start begins redrawing for a job of total segments.
func (p *Progress) Start(total int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.startTime = time.Now()
	p.total.Store(int64(total))
	go p.updateLoop()
}

// Stop draws the final line and stops redrawing. It is safe to call more than
// once and without Start.
func (p *Progress) Stop() {
	if p == nil {
		return
	}
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	started := p.started
	p.mu.Unlock()

	close(p.stopCh)
	if started {
		<-p.doneCh
	}
}

// SegmentFetched counts a segment whose body reached disk.
func (p *Progress) SegmentFetched() {
	if p != nil {
		p.fetched.Add(1)
	}
}

// SegmentRetried counts a failed attempt that will be retried.
func (p *Progress) SegmentRetried() {
	if p != nil {
		p.retries.Add(1)
	}
}

// SegmentWritten counts a segment appended to the output.
func (p *Progress) SegmentWritten(n int64) {
	if p != nil {
		p.written.Add(1)
		p.bytes.Add(n)
	}
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	if p == nil {
		return ProgressSnapshot{}
	}
	return ProgressSnapshot{
		Total:   int(p.total.Load()),
		Fetched: int(p.fetched.Load()),
		Written: int(p.written.Load()),
		Bytes:   p.bytes.Load(),
		Retries: int(p.retries.Load()),
	}
}

func (p *Progress) updateLoop() {
	defer close(p.doneCh)
	ticker := time.NewTicker(p.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			p.printFinal()
			return
		case <-ticker.C:
			p.print()
		}
	}
}

func (p *Progress) print() {
	s := p.Snapshot()
	elapsed := time.Since(p.startTime)

	var percent float64
	eta := "calculating..."
	if s.Total > 0 {
		percent = float64(s.Written) / float64(s.Total) * 100
	}
	if s.Written > 0 && s.Total > s.Written {
		perSegment := elapsed / time.Duration(s.Written)
		eta = (perSegment * time.Duration(s.Total-s.Written)).Round(time.Second).String()
	}
	speed := uint64(float64(s.Bytes) / max(elapsed.Seconds(), 0.1))

	line := fmt.Sprintf("[%s] %d/%d segments %5.1f%% | %s | %s/s | ETA %s",
		p.opts.Label, s.Written, s.Total, percent,
		humanize.Bytes(uint64(s.Bytes)), humanize.Bytes(speed), eta)

	if !p.tty {
		fmt.Fprintln(p.opts.Output, line)
		return
	}
	fmt.Fprintf(p.opts.Output, "\r%s %s", bar(percent, p.barWidth(len(line))), line)
}

func (p *Progress) printFinal() {
	s := p.Snapshot()
	elapsed := time.Since(p.startTime).Round(time.Millisecond)
	prefix := ""
	if p.tty {
		prefix = "\r\033[K"
	}
	fmt.Fprintf(p.opts.Output, "%s[%s] %d/%d segments | %s | %d retries | %s\n",
		prefix, p.opts.Label, s.Written, s.Total, humanize.Bytes(uint64(s.Bytes)), s.Retries, elapsed)
}

// barWidth fits the bar into the terminal next to a line of n characters.
func (p *Progress) barWidth(n int) int {
	f, ok := p.opts.Output.(*os.File)
	if !ok {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return min(max(width-n-4, 0), 40)
}

func bar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	filled := min(int(percent/100*float64(width)), width)
	return "[" + strings.Repeat("=", filled) + strings.Repeat(" ", width-filled) + "]"
}
