package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"hls-archiver/internal/download"
	"hls-archiver/internal/hls"
	"hls-archiver/internal/platform/metrics"
)

// ErrArchived is returned by Run when the request is already in the archive.
var ErrArchived = errors.New("already recorded in archive")

// ErrNoSegments is returned when the selected rendition lists no segments.
var ErrNoSegments = errors.New("rendition has no segments")

// Archive remembers finished recordings. *archive.Archive implements it.
type Archive interface {
	Has(ctx context.Context, id string) (bool, error)
	Record(ctx context.Context, id string) error
}

// Remuxer converts a finished .ts file. remux.Remuxer implements it.
type Remuxer interface {
	Remux(ctx context.Context, tsPath string) (string, error)
}

// Options configures a Service.
type Options struct {
	// Dir is the output directory.
	Dir string

	// Format is the rendition selector. Default: hls.SelectorBest
	Format string

	// SkipDownload stops after format selection.
	SkipDownload bool

	// SkipConvert leaves the .ts output as is.
	SkipConvert bool

	// Download configures the segment downloader. Its Observer and Log are
	// filled in by the Service.
	Download download.Options

	// ProgressOutput enables a per-job progress display when non-nil.
	ProgressOutput io.Writer

	// Archive is optional.
	Archive Archive

	// Remuxer is required unless SkipConvert is set.
	Remuxer Remuxer

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Service runs download jobs and records their state in a Repository.
type Service struct {
	repo    Repository
	fetcher hls.Fetcher
	opts    Options
	log     *slog.Logger
}

// NewService returns a Service that fetches manifests and segments through f.
func NewService(repo Repository, f hls.Fetcher, opts Options, log *slog.Logger) *Service {
	if opts.Format == "" {
		opts.Format = hls.SelectorBest
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, fetcher: f, opts: opts, log: log}
}

// Jobs returns all jobs known to the service.
func (s *Service) Jobs() []Job {
	return s.repo.ListJobs()
}

// Job returns a single job.
func (s *Service) Job(id JobID) (Job, bool) {
	return s.repo.GetJob(id)
}

// ListFormats resolves req and returns its renditions without downloading.
func (s *Service) ListFormats(ctx context.Context, req Request) ([]hls.Rendition, error) {
	_, renditions, err := s.resolve(ctx, req, s.log.With(slog.String("job", s.jobName(req))))
	return renditions, err
}

// RunBatch runs reqs one after another and returns how many failed. A failed
// job never stops the batch; a cancelled ctx does.
func (s *Service) RunBatch(ctx context.Context, reqs []Request) int {
	failed := 0
	for i, req := range reqs {
		if ctx.Err() != nil {
			failed += len(reqs) - i
			break
		}
		job, _ := s.Run(ctx, req)
		if job.Status == StatusFailed {
			failed++
		}
	}
	return failed
}

// Run takes req through derivation, variant resolution, format selection,
// segment download and remux. The returned job is in a terminal status; err
// is non-nil for failed and skipped jobs.
func (s *Service) Run(ctx context.Context, req Request) (Job, error) {
	name := s.jobName(req)
	archiveID := req.ArchiveID
	if archiveID == "" {
		archiveID = name
	}
	log := s.log.With(slog.String("job", name))

	job := s.repo.CreateJob(name, req.URL)
	if s.opts.Metrics != nil {
		s.opts.Metrics.SetActiveJobs(s.repo.ActiveJobCount())
	}

	if s.opts.Archive != nil {
		ok, err := s.opts.Archive.Has(ctx, archiveID)
		if err != nil {
			log.Warn("archive lookup failed", slog.String("error", err.Error()))
		} else if ok {
			log.Info("already recorded in archive")
			return s.finish(job.ID, StatusSkipped, ErrArchived, log)
		}
	}

	tsPath := filepath.Join(s.opts.Dir, name+download.ExtTS)
	if download.Downloaded(s.opts.Dir, name) {
		log.Info("already downloaded")
		if !s.opts.SkipConvert && !s.opts.SkipDownload {
			if _, err := os.Stat(tsPath); err == nil {
				s.convert(ctx, job.ID, tsPath, log)
			}
		}
		s.record(ctx, archiveID, log)
		return s.finish(job.ID, StatusSkipped, download.ErrAlreadyDownloaded, log)
	}

	s.update(job.ID, func(j *Job) { j.Status = StatusResolving })
	master, renditions, err := s.resolve(ctx, req, log)
	if err != nil {
		return s.finish(job.ID, StatusFailed, err, log)
	}
	s.update(job.ID, func(j *Job) {
		j.SourceURL = master
		j.Formats = renditions
	})

	rendition, err := hls.Select(renditions, s.opts.Format)
	if err != nil {
		return s.finish(job.ID, StatusFailed, fmt.Errorf("format %q: %w", s.opts.Format, err), log)
	}
	log.Info("selected format",
		slog.String("name", rendition.Media.Name),
		slog.String("resolution", rendition.Format.Resolution),
		slog.Int64("bandwidth", rendition.Format.Bandwidth),
		slog.String("url", rendition.URL))
	s.update(job.ID, func(j *Job) { j.Rendition = &rendition })

	if s.opts.SkipDownload {
		return s.finish(job.ID, StatusSkipped, nil, log)
	}

	segs, summary, err := hls.FetchSegments(ctx, s.fetcher, rendition.URL)
	if err != nil {
		return s.finish(job.ID, StatusFailed, err, log)
	}
	if len(segs) == 0 {
		return s.finish(job.ID, StatusFailed, ErrNoSegments, log)
	}
	if !summary.Ended {
		log.Warn("playlist has no end marker, the recording may still be live")
	}
	log.Debug("segment list",
		slog.Int("segments", len(segs)),
		slog.Duration("target_duration", summary.TargetDuration),
		slog.Duration("duration", summary.Duration))
	s.update(job.ID, func(j *Job) {
		j.Status = StatusDownloading
		j.Segments = len(segs)
		j.Duration = summary.Duration.Seconds()
	})

	res, err := s.downloader(name).Run(ctx, download.Job{Name: name, Dir: s.opts.Dir, Segments: segs})
	switch {
	case errors.Is(err, download.ErrAlreadyDownloaded):
		log.Info("already downloaded")
		s.record(ctx, archiveID, log)
		return s.finish(job.ID, StatusSkipped, err, log)
	case err != nil:
		return s.finish(job.ID, StatusFailed, err, log)
	}
	log.Info("download complete",
		slog.String("path", res.Path),
		slog.Int64("bytes", res.Bytes),
		slog.Int("rounds", res.Rounds))
	s.update(job.ID, func(j *Job) { j.Output = res.Path })

	if !s.opts.SkipConvert {
		s.convert(ctx, job.ID, res.Path, log)
	}
	s.record(ctx, archiveID, log)
	return s.finish(job.ID, StatusSucceeded, nil, log)
}

// resolve derives rendition URLs for req and parses the multi-variant
// manifest. It returns the manifest URL used.
func (s *Service) resolve(ctx context.Context, req Request, log *slog.Logger) (string, []hls.Rendition, error) {
	base := req.URL
	if base == "" {
		var err error
		if base, err = hls.PickBaseURL(req.Media); err != nil {
			return "", nil, err
		}
	}
	log.Debug("got playlist", slog.String("url", base))

	media, _, err := hls.Derive(base, req.Media, log)
	if errors.Is(err, hls.ErrUnrecognizedHost) {
		media = map[string]string{hls.KeyURL: base}
	}

	master, err := hls.MasterURL(media)
	if err != nil {
		return "", nil, err
	}
	renditions, err := hls.ResolveVariants(ctx, s.fetcher, master, log)
	if err != nil {
		return master, nil, err
	}
	return master, renditions, nil
}

// downloader builds a per-job downloader so each job gets its own progress.
func (s *Service) downloader(name string) *download.Downloader {
	opts := s.opts.Download
	opts.Log = s.log
	if s.opts.Metrics != nil {
		opts.Observer = s.opts.Metrics
	}
	if s.opts.ProgressOutput != nil {
		opts.Progress = download.NewProgress(download.ProgressOptions{Label: name, Output: s.opts.ProgressOutput})
	}
	return download.New(s.fetcher, opts)
}

// convert remuxes tsPath. A failed remux keeps the .ts and does not fail the job.
func (s *Service) convert(ctx context.Context, id JobID, tsPath string, log *slog.Logger) {
	if s.opts.Remuxer == nil {
		return
	}
	s.update(id, func(j *Job) { j.Status = StatusRemuxing })
	out, err := s.opts.Remuxer.Remux(ctx, tsPath)
	if err != nil {
		log.Warn("conversion failed, keeping transport stream", slog.String("path", tsPath), slog.String("error", err.Error()))
		return
	}
	s.update(id, func(j *Job) { j.Output = out })
}

func (s *Service) record(ctx context.Context, archiveID string, log *slog.Logger) {
	if s.opts.Archive == nil {
		return
	}
	if err := s.opts.Archive.Record(ctx, archiveID); err != nil {
		log.Warn("could not record download in archive", slog.String("error", err.Error()))
	}
}

func (s *Service) update(id JobID, fn func(*Job)) {
	if _, err := s.repo.UpdateJob(id, fn); err != nil {
		s.log.Debug("job update dropped", slog.String("job_id", string(id)), slog.String("error", err.Error()))
	}
}

// finish moves the job to a terminal status and logs the outcome.
func (s *Service) finish(id JobID, status Status, cause error, log *slog.Logger) (Job, error) {
	job, _ := s.repo.UpdateJob(id, func(j *Job) {
		j.Status = status
		if cause != nil {
			j.Error = cause.Error()
		}
	})

	switch status {
	case StatusFailed:
		log.Error("job failed", slog.String("error", cause.Error()))
	case StatusSucceeded:
		log.Info("job finished", slog.String("output", job.Output))
	}

	if s.opts.Metrics != nil {
		result := metrics.ResultSucceeded
		switch status {
		case StatusFailed:
			result = metrics.ResultFailed
		case StatusSkipped:
			result = metrics.ResultSkipped
		}
		s.opts.Metrics.JobFinished(result)
		s.opts.Metrics.SetActiveJobs(s.repo.ActiveJobCount())
	}
	return job, cause
}

func (s *Service) jobName(req Request) string {
	if name := CleanName(req.Name); name != "" {
		return name
	}
	if req.URL != "" {
		return NameFromURL(req.URL)
	}
	if base, err := hls.PickBaseURL(req.Media); err == nil {
		return NameFromURL(base)
	}
	return "stream"
}
