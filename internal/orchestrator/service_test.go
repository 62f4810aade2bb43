package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hls-archiver/internal/download"
	"hls-archiver/internal/hls"
	"hls-archiver/internal/platform/httpclient"
	"hls-archiver/internal/platform/metrics"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

const (
	testMaster = `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=6000000,RESOLUTION=1920x1080,CODECS="avc1.64002a,mp4a.40.2"
chunklist_source/chunklist.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1280x720
chunklist_high/chunklist.m3u8
`
	testSegmentCount = 5
)

func testMedia(ended bool) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n")
	for i := 0; i < testSegmentCount; i++ {
		fmt.Fprintf(&b, "#EXTINF:2.000,\nseg%d.ts\n", i)
	}
	if ended {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}

// origin serves a master manifest at /vod/playlist.m3u8, two media playlists
// and their segments, and counts every request.
type origin struct {
	*httptest.Server

	mu       sync.Mutex
	requests []string
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		o.requests = append(o.requests, r.URL.Path)
		o.mu.Unlock()

		switch {
		case r.URL.Path == "/vod/playlist.m3u8":
			w.Write([]byte(testMaster))
		case strings.HasSuffix(r.URL.Path, "/chunklist.m3u8"):
			w.Write([]byte(testMedia(true)))
		case strings.HasSuffix(r.URL.Path, ".ts"):
			w.Write([]byte("[" + filepath.Base(r.URL.Path) + "]"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(o.Close)
	return o
}

func (o *origin) requestCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

func (o *origin) masterURL() string {
	return o.URL + "/vod/playlist.m3u8"
}

type fakeRemuxer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeRemuxer) Remux(ctx context.Context, tsPath string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tsPath)
	f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	out := strings.TrimSuffix(tsPath, download.ExtTS) + download.ExtMP4
	if err := os.Rename(tsPath, out); err != nil {
		return "", err
	}
	return out, nil
}

type fakeArchive struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newFakeArchive(ids ...string) *fakeArchive {
	a := &fakeArchive{ids: map[string]bool{}}
	for _, id := range ids {
		a.ids[id] = true
	}
	return a
}

func (a *fakeArchive) Has(ctx context.Context, id string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ids[id], nil
}

func (a *fakeArchive) Record(ctx context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids[id] = true
	return nil
}

func newTestService(t *testing.T, opts Options) (*Service, *InMemoryRepository) {
	t.Helper()
	if opts.Dir == "" {
		opts.Dir = t.TempDir()
	}
	opts.Download = download.Options{Workers: 3, Attempts: 2, PollInterval: 5 * time.Millisecond}
	repo := NewInMemoryRepository()
	client := httpclient.New(httpclient.Options{Timeout: 5 * time.Second})
	return NewService(repo, client, opts, testLogger()), repo
}

func TestService_Run_success(t *testing.T) {
	o := newOrigin(t)
	remuxer := &fakeRemuxer{}
	archive := newFakeArchive()
	svc, _ := newTestService(t, Options{Remuxer: remuxer, Archive: archive, Metrics: metrics.New()})

	job, err := svc.Run(context.Background(), Request{Name: "my stream", URL: o.masterURL()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %q (%s)", job.Status, job.Error)
	}
	if job.Rendition == nil || job.Rendition.Media.Name != hls.SourceName {
		t.Errorf("expected Source rendition, got %+v", job.Rendition)
	}
	if job.Segments != testSegmentCount {
		t.Errorf("expected %d segments, got %d", testSegmentCount, job.Segments)
	}
	if job.Duration != 10 {
		t.Errorf("expected duration 10s, got %v", job.Duration)
	}
	if len(job.Formats) != 2 {
		t.Errorf("expected 2 formats, got %d", len(job.Formats))
	}
	if job.FinishedAt == nil {
		t.Error("expected FinishedAt")
	}

	if len(remuxer.calls) != 1 {
		t.Fatalf("expected 1 remux call, got %d", len(remuxer.calls))
	}
	if !strings.HasSuffix(job.Output, "my stream.mp4") {
		t.Errorf("expected mp4 output, got %q", job.Output)
	}
	data, err := os.ReadFile(job.Output)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != "[seg0.ts][seg1.ts][seg2.ts][seg3.ts][seg4.ts]" {
		t.Errorf("unexpected output %q", data)
	}
	if ok, _ := archive.Has(context.Background(), "my stream"); !ok {
		t.Error("expected the job to be recorded in the archive")
	}
}

func TestService_Run_skip_convert(t *testing.T) {
	o := newOrigin(t)
	remuxer := &fakeRemuxer{}
	svc, _ := newTestService(t, Options{Remuxer: remuxer, SkipConvert: true})

	job, err := svc.Run(context.Background(), Request{Name: "raw", URL: o.masterURL()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(remuxer.calls) != 0 {
		t.Errorf("expected no remux calls, got %d", len(remuxer.calls))
	}
	if !strings.HasSuffix(job.Output, "raw.ts") {
		t.Errorf("expected ts output, got %q", job.Output)
	}
}

func TestService_Run_remux_failure_keeps_ts(t *testing.T) {
	o := newOrigin(t)
	remuxer := &fakeRemuxer{err: errors.New("ffmpeg: exit status 1")}
	svc, _ := newTestService(t, Options{Remuxer: remuxer})

	job, err := svc.Run(context.Background(), Request{Name: "keep", URL: o.masterURL()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != StatusSucceeded {
		t.Errorf("expected succeeded, got %q", job.Status)
	}
	if _, err := os.Stat(job.Output); err != nil || !strings.HasSuffix(job.Output, download.ExtTS) {
		t.Errorf("expected .ts output to remain, got %q (%v)", job.Output, err)
	}
}

func TestService_Run_already_downloaded(t *testing.T) {
	o := newOrigin(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "done.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	archive := newFakeArchive()
	svc, _ := newTestService(t, Options{Dir: dir, Remuxer: &fakeRemuxer{}, Archive: archive})

	job, err := svc.Run(context.Background(), Request{Name: "done", URL: o.masterURL()})
	if !errors.Is(err, download.ErrAlreadyDownloaded) {
		t.Fatalf("expected ErrAlreadyDownloaded, got %v", err)
	}
	if job.Status != StatusSkipped {
		t.Errorf("expected skipped, got %q", job.Status)
	}
	if n := o.requestCount(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
	if ok, _ := archive.Has(context.Background(), "done"); !ok {
		t.Error("expected an existing download to be recorded")
	}
}

func TestService_Run_existing_ts_is_converted(t *testing.T) {
	o := newOrigin(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "old.ts"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	remuxer := &fakeRemuxer{}
	svc, _ := newTestService(t, Options{Dir: dir, Remuxer: remuxer})

	job, _ := svc.Run(context.Background(), Request{Name: "old", URL: o.masterURL()})
	if len(remuxer.calls) != 1 {
		t.Fatalf("expected existing .ts to be remuxed, got %d calls", len(remuxer.calls))
	}
	if !strings.HasSuffix(job.Output, "old.mp4") {
		t.Errorf("expected mp4 output, got %q", job.Output)
	}
	if n := o.requestCount(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestService_Run_archived(t *testing.T) {
	o := newOrigin(t)
	svc, _ := newTestService(t, Options{SkipConvert: true, Archive: newFakeArchive("vod-42")})

	job, err := svc.Run(context.Background(), Request{ArchiveID: "vod-42", Name: "x", URL: o.masterURL()})
	if !errors.Is(err, ErrArchived) {
		t.Fatalf("expected ErrArchived, got %v", err)
	}
	if job.Status != StatusSkipped {
		t.Errorf("expected skipped, got %q", job.Status)
	}
	if n := o.requestCount(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestService_Run_format_not_found(t *testing.T) {
	o := newOrigin(t)
	svc, _ := newTestService(t, Options{SkipConvert: true, Format: "4k"})

	job, err := svc.Run(context.Background(), Request{Name: "x", URL: o.masterURL()})
	if !errors.Is(err, hls.ErrFormatNotFound) {
		t.Fatalf("expected ErrFormatNotFound, got %v", err)
	}
	if job.Status != StatusFailed || job.Error == "" {
		t.Errorf("expected failed job with error, got %+v", job)
	}
}

func TestService_Run_select_by_name(t *testing.T) {
	o := newOrigin(t)
	svc, _ := newTestService(t, Options{SkipConvert: true, Format: "720p"})

	job, err := svc.Run(context.Background(), Request{Name: "x", URL: o.masterURL()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Rendition.Media.Name != "720p" {
		t.Errorf("expected 720p, got %q", job.Rendition.Media.Name)
	}
	if !strings.Contains(job.Rendition.URL, "chunklist_high") {
		t.Errorf("expected chunklist_high URL, got %q", job.Rendition.URL)
	}
}

func TestService_Run_skip_download(t *testing.T) {
	o := newOrigin(t)
	svc, _ := newTestService(t, Options{SkipDownload: true})

	job, err := svc.Run(context.Background(), Request{Name: "x", URL: o.masterURL()})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.Status != StatusSkipped {
		t.Errorf("expected skipped, got %q", job.Status)
	}
	if job.Rendition == nil {
		t.Error("expected the selected rendition to be recorded")
	}
	for _, p := range o.requests {
		if strings.HasSuffix(p, ".ts") || strings.HasSuffix(p, "chunklist.m3u8") {
			t.Errorf("unexpected request %q", p)
		}
	}
}

func TestService_Run_master_not_found(t *testing.T) {
	o := newOrigin(t)
	svc, _ := newTestService(t, Options{SkipConvert: true})

	job, err := svc.Run(context.Background(), Request{Name: "x", URL: o.URL + "/missing.m3u8"})
	if !errors.Is(err, httpclient.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("expected failed, got %q", job.Status)
	}
}

func TestService_Run_media_map(t *testing.T) {
	o := newOrigin(t)
	svc, _ := newTestService(t, Options{SkipConvert: true})

	job, err := svc.Run(context.Background(), Request{
		Name:  "x",
		Media: map[string]string{hls.KeyPublic: o.masterURL()},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.SourceURL != o.masterURL() {
		t.Errorf("expected source %q, got %q", o.masterURL(), job.SourceURL)
	}
}

func TestService_ListFormats(t *testing.T) {
	o := newOrigin(t)
	svc, _ := newTestService(t, Options{})

	got, err := svc.ListFormats(context.Background(), Request{URL: o.masterURL()})
	if err != nil {
		t.Fatalf("ListFormats: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 renditions, got %d", len(got))
	}
	if got[0].Media.Name != hls.SourceName || got[1].Media.Name != "720p" {
		t.Errorf("unexpected names %q, %q", got[0].Media.Name, got[1].Media.Name)
	}
	if len(svc.Jobs()) != 0 {
		t.Error("ListFormats must not create jobs")
	}
}

func TestService_RunBatch(t *testing.T) {
	o := newOrigin(t)
	svc, repo := newTestService(t, Options{SkipConvert: true})

	failed := svc.RunBatch(context.Background(), []Request{
		{Name: "missing", URL: o.URL + "/missing.m3u8"},
		{Name: "good", URL: o.masterURL()},
	})
	if failed != 1 {
		t.Errorf("expected 1 failure, got %d", failed)
	}
	jobs := repo.ListJobs()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[1].Status != StatusSucceeded {
		t.Errorf("expected the batch to continue after a failure, got %q", jobs[1].Status)
	}
}

func TestService_RunBatch_cancelled(t *testing.T) {
	o := newOrigin(t)
	svc, _ := newTestService(t, Options{SkipConvert: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	failed := svc.RunBatch(ctx, []Request{{Name: "a", URL: o.masterURL()}, {Name: "b", URL: o.masterURL()}})
	if failed != 2 {
		t.Errorf("expected 2 failures, got %d", failed)
	}
	if n := o.requestCount(); n != 0 {
		t.Errorf("expected no requests, got %d", n)
	}
}

func TestService_jobName(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	tests := []struct {
		req  Request
		want string
	}{
		{Request{Name: "a/b: c"}, "a_b_ c"},
		{Request{URL: "https://cdn.example.com/vod/abc/playlist.m3u8"}, "abc playlist"},
		{Request{}, "stream"},
	}
	for _, tt := range tests {
		if got := svc.jobName(tt.req); got != tt.want {
			t.Errorf("jobName(%+v) = %q, want %q", tt.req, got, tt.want)
		}
	}
}
