package orchestrator

import (
	"time"

	"hls-archiver/internal/hls"
)

// JobID uniquely identifies a download job within a process.
type JobID string

// Status is the lifecycle stage of a job.
type Status string

const (
	StatusPending     Status = "pending"
	StatusResolving   Status = "resolving"
	StatusDownloading Status = "downloading"
	StatusRemuxing    Status = "remuxing"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusSkipped:
		return true
	}
	return false
}

// Request asks for one recording to be archived.
type Request struct {
	// ArchiveID identifies the recording in the download archive.
	// Default: Name
	ArchiveID string `json:"archive_id"`

	// Name is the output base name. It is cleaned before use.
	Name string `json:"name"`

	// URL is the base playlist URL. When empty it is picked from Media.
	URL string `json:"url"`

	// Media holds rendition URLs already known from the site, keyed by the
	// hls.Key* names. Missing entries are derived.
	Media map[string]string `json:"media,omitempty"`
}

// Job is the state of one download job as served by the status server.
type Job struct {
	ID        JobID          `json:"id"`
	Name      string         `json:"name"`
	SourceURL string         `json:"source_url"`
	Status    Status         `json:"status"`
	Rendition *hls.Rendition `json:"rendition,omitempty"`
	Segments  int            `json:"segments"`
	Duration  float64        `json:"duration_seconds,omitempty"`
	Output    string         `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Formats are the resolved renditions, served as a table.
	Formats []hls.Rendition `json:"-"`
}
