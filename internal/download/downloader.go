package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sync"
	"time"

	"hls-archiver/internal/hls"
)

// Defaults for Options fields left at zero.
const (
	DefaultWorkers      = 10
	DefaultAttempts     = 5
	DefaultMaxRounds    = 10
	DefaultPollInterval = 50 * time.Millisecond
)

// Output extensions. A job is complete when either file exists.
const (
	ExtTS      = ".ts"
	ExtMP4     = ".mp4"
	ExtTmp     = ".tmp"
	segPattern = `\.seg[0-9]+$`
)

// ErrAlreadyDownloaded is returned by Run when the job's output already exists.
var ErrAlreadyDownloaded = errors.New("download: already downloaded")

// Reasons reported by JobFailedError.
const (
	ReasonStalled    = "stalled"
	ReasonRoundLimit = "round limit"
	ReasonCancelled  = "cancelled"
	ReasonWrite      = "write failed"
)

// JobFailedError is returned when segments are still missing after the last
// round. No output file is promoted.
type JobFailedError struct {
	Failed []hls.SegmentRef
	Rounds int
	Reason string
	// Err is set for ReasonCancelled and ReasonWrite.
	Err error
}

func (e *JobFailedError) Error() string {
	msg := fmt.Sprintf("download failed after %d rounds (%s): %d segments missing", e.Rounds, e.Reason, len(e.Failed))
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *JobFailedError) Unwrap() error {
	return e.Err
}

// Fetcher performs a single GET and returns the response body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Observer receives per-segment counters. *metrics.Metrics implements it.
type Observer interface {
	SegmentDownloaded()
	SegmentRetried()
	SegmentFailed()
	BytesWritten(n int64)
}

// Options configures a Downloader.
type Options struct {
	// Workers is the number of concurrent segment fetches. Default: 10
	Workers int

	// Attempts per segment within one round. Default: 5
	Attempts int

	// MaxRounds bounds how many times the failed set is re-driven. Default: 10
	MaxRounds int

	// PollInterval is the longest the reassembly consumer sleeps before
	// re-checking for the next index. Default: 50ms
	PollInterval time.Duration

	// Observer is optional.
	Observer Observer

	// Progress is optional.
	Progress *Progress

	// Log defaults to slog.Default().
	Log *slog.Logger
}

// Job describes one output file.
type Job struct {
	// Name is the base file name without extension.
	Name string
	// Dir is the output directory.
	Dir      string
	Segments []hls.SegmentRef
}

// OutputPath is where the finished stream is promoted to.
func (j Job) OutputPath() string {
	return filepath.Join(j.Dir, j.Name+ExtTS)
}

// TempPath is the in-progress output.
func (j Job) TempPath() string {
	return j.OutputPath() + ExtTmp
}

// ArtifactPath is the temporary file holding segment index.
func (j Job) ArtifactPath(index int) string {
	return filepath.Join(j.Dir, fmt.Sprintf("%s.seg%d", j.Name, index))
}

// Result summarises a successful Run.
type Result struct {
	Path     string
	Bytes    int64
	Segments int
	Rounds   int
}

// Downloader runs download jobs. It holds no per-job state and may run several
// jobs at once provided their outputs differ.
type Downloader struct {
	fetcher Fetcher
	opts    Options
}

// New creates a Downloader that fetches segments through f.
func New(f Fetcher, opts Options) *Downloader {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	return &Downloader{fetcher: f, opts: opts}
}

// Downloaded reports whether the job's output exists as .ts or .mp4.
func Downloaded(dir, name string) bool {
	for _, ext := range []string{ExtMP4, ExtTS} {
		if _, err := os.Stat(filepath.Join(dir, name+ext)); err == nil {
			return true
		}
	}
	return false
}

// CleanStale removes a previous run's temporary output and segment artifacts.
func CleanStale(dir, name string) error {
	if err := os.Remove(filepath.Join(dir, name+ExtTS+ExtTmp)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	re := regexp.MustCompile(`^` + regexp.QuoteMeta(name) + segPattern)
	for _, e := range entries {
		if e.IsDir() || !re.MatchString(e.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Run downloads every segment of job and writes them, in index order, to the
// job's output. It returns ErrAlreadyDownloaded without any request when the
// output exists, and *JobFailedError when segments remain missing.
func (d *Downloader) Run(ctx context.Context, job Job) (Result, error) {
	log := d.opts.Log.With(slog.String("job", job.Name), slog.String("component", "downloader"))

	if Downloaded(job.Dir, job.Name) {
		return Result{}, ErrAlreadyDownloaded
	}
	if err := os.MkdirAll(job.Dir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create output dir: %w", err)
	}
	if err := CleanStale(job.Dir, job.Name); err != nil {
		return Result{}, fmt.Errorf("remove stale artifacts: %w", err)
	}

	out, err := os.OpenFile(job.TempPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("create output: %w", err)
	}

	state := NewState()
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.opts.Progress.Start(len(job.Segments))
	defer d.opts.Progress.Stop()

	type assembled struct {
		bytes int64
		err   error
	}
	doneCh := make(chan assembled, 1)
	go func() {
		n, err := d.reassemble(jobCtx, job, state, out)
		doneCh <- assembled{n, err}
	}()

	log.Info("writing stream", slog.String("path", job.OutputPath()), slog.Int("segments", len(job.Segments)))

	queue := job.Segments
	rounds := 0
	var failure *JobFailedError
	for len(queue) > 0 {
		if rounds == d.opts.MaxRounds {
			failure = &JobFailedError{Failed: queue, Rounds: rounds, Reason: ReasonRoundLimit}
			break
		}
		rounds++
		failed := d.runRound(jobCtx, job, queue, state, log)
		if err := ctx.Err(); err != nil {
			failure = &JobFailedError{Failed: failed, Rounds: rounds, Reason: ReasonCancelled, Err: err}
			break
		}
		if len(failed) == len(queue) {
			failure = &JobFailedError{Failed: failed, Rounds: rounds, Reason: ReasonStalled}
			break
		}
		if len(failed) > 0 {
			log.Warn("re-driving failed segments", slog.Int("round", rounds+1), slog.Int("failed", len(failed)))
		}
		queue = failed
	}

	if failure != nil {
		cancel()
		<-doneCh
		d.discard(out, job, log)
		return Result{}, failure
	}

	res := <-doneCh
	if res.err != nil {
		d.discard(out, job, log)
		return Result{}, &JobFailedError{Rounds: rounds, Reason: ReasonWrite, Err: res.err}
	}
	if err := out.Close(); err != nil {
		d.discard(nil, job, log)
		return Result{}, fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(job.TempPath(), job.OutputPath()); err != nil {
		d.discard(nil, job, log)
		return Result{}, fmt.Errorf("promote output: %w", err)
	}

	return Result{
		Path:     job.OutputPath(),
		Bytes:    res.bytes,
		Segments: len(job.Segments),
		Rounds:   rounds,
	}, nil
}

// runRound fetches queue with the worker pool and returns the segments that
// exhausted their attempts. Workers never abort siblings; the round drains.
func (d *Downloader) runRound(ctx context.Context, job Job, queue []hls.SegmentRef, state *State, log *slog.Logger) []hls.SegmentRef {
	work := make(chan hls.SegmentRef)
	var (
		mu     sync.Mutex
		failed []hls.SegmentRef
		wg     sync.WaitGroup
	)

	workers := min(d.opts.Workers, len(queue))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seg := range work {
				if err := d.fetchSegment(ctx, job, seg, state, log); err != nil {
					if ctx.Err() == nil {
						log.Warn("segment failed", slog.Int("index", seg.Index), slog.String("url", seg.URL), slog.String("error", err.Error()))
					}
					if d.opts.Observer != nil {
						d.opts.Observer.SegmentFailed()
					}
					mu.Lock()
					failed = append(failed, seg)
					mu.Unlock()
				}
			}
		}()
	}

	for _, seg := range queue {
		work <- seg
	}
	close(work)
	wg.Wait()

	sortByIndex(failed)
	return failed
}

// fetchSegment makes up to Attempts immediate attempts, persists the body and
// publishes the artifact.
func (d *Downloader) fetchSegment(ctx context.Context, job Job, seg hls.SegmentRef, state *State, log *slog.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= d.opts.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		body, err := d.fetcher.Fetch(ctx, seg.URL)
		if err == nil {
			artifact := job.ArtifactPath(seg.Index)
			if err := os.WriteFile(artifact, body, 0o644); err != nil {
				return fmt.Errorf("write artifact: %w", err)
			}
			if err := state.Publish(seg.Index, artifact); err != nil {
				return err
			}
			if d.opts.Observer != nil {
				d.opts.Observer.SegmentDownloaded()
			}
			d.opts.Progress.SegmentFetched()
			return nil
		}
		lastErr = err
		if attempt < d.opts.Attempts && ctx.Err() == nil {
			log.Debug("retrying segment",
				slog.Int("index", seg.Index),
				slog.Int("attempt", attempt),
				slog.Int("attempts", d.opts.Attempts),
				slog.String("error", err.Error()))
			if d.opts.Observer != nil {
				d.opts.Observer.SegmentRetried()
			}
			d.opts.Progress.SegmentRetried()
		}
	}
	return lastErr
}

// reassemble appends artifacts to out in index order, deleting each once
// written. It is the only writer of out.
func (d *Downloader) reassemble(ctx context.Context, job Job, state *State, out io.Writer) (int64, error) {
	var total int64
	for next := 0; next < len(job.Segments); next++ {
		artifact, err := state.Await(ctx, job.Segments[next].Index, d.opts.PollInterval)
		if err != nil {
			return total, err
		}
		n, err := appendArtifact(out, artifact)
		if err != nil {
			return total, fmt.Errorf("append segment %d: %w", next, err)
		}
		total += n
		if d.opts.Observer != nil {
			d.opts.Observer.BytesWritten(n)
		}
		d.opts.Progress.SegmentWritten(n)
	}
	return total, nil
}

func appendArtifact(out io.Writer, artifact string) (int64, error) {
	f, err := os.Open(artifact)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, f)
	f.Close()
	if err != nil {
		return n, err
	}
	return n, os.Remove(artifact)
}

// discard closes and removes the temporary output and any segment artifacts.
func (d *Downloader) discard(out *os.File, job Job, log *slog.Logger) {
	if out != nil {
		out.Close()
	}
	if err := CleanStale(job.Dir, job.Name); err != nil {
		log.Warn("failed to clean up temporary files", slog.String("error", err.Error()))
	}
}

func sortByIndex(segs []hls.SegmentRef) {
	slices.SortFunc(segs, func(a, b hls.SegmentRef) int { return a.Index - b.Index })
}
