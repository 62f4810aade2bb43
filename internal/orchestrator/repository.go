package orchestrator

import (
	"errors"
	"sort"
	"sync"
	"time"

	"hls-archiver/internal/hls"

	"github.com/google/uuid"
)

// Repository defines the concurrency-safe contract for job state.
type Repository interface {
	// CreateJob registers a pending job and returns a snapshot of it.
	CreateJob(name, sourceURL string) Job

	// UpdateJob applies fn to the stored job and returns the updated snapshot.
	// Jobs in a terminal status cannot be updated.
	UpdateJob(id JobID, fn func(*Job)) (Job, error)

	// GetJob returns a snapshot of the job. The ok return is false if the job
	// does not exist.
	GetJob(id JobID) (job Job, ok bool)

	// ListJobs returns snapshots of all jobs ordered by start time.
	ListJobs() []Job

	// ActiveJobCount returns the number of jobs not in a terminal status.
	// Used for metrics.
	ActiveJobCount() int
}

var (
	// ErrJobNotFound is returned when updating an unknown job.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished is returned when updating a job that already reached a
	// terminal status.
	ErrJobFinished = errors.New("job has finished")
)

// InMemoryRepository is a concurrency-safe in-memory implementation of Repository.
// It uses a Store for persistence; by default that is an InMemoryStore.
type InMemoryRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewInMemoryRepository constructs a new repository with a default in-memory store.
func NewInMemoryRepository() *InMemoryRepository {
	return NewInMemoryRepositoryWithStore(NewInMemoryStore())
}

// NewInMemoryRepositoryWithStore constructs a repository that uses the given Store.
func NewInMemoryRepositoryWithStore(store Store) *InMemoryRepository {
	return &InMemoryRepository{store: store}
}

// CreateJob implements Repository.CreateJob.
func (r *InMemoryRepository) CreateJob(name, sourceURL string) Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := &Job{
		ID:        JobID(uuid.NewString()),
		Name:      name,
		SourceURL: sourceURL,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}
	r.store.SetJob(j)
	return snapshot(j)
}

// UpdateJob implements Repository.UpdateJob. FinishedAt is stamped when fn
// moves the job into a terminal status.
func (r *InMemoryRepository) UpdateJob(id JobID, fn func(*Job)) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.store.GetJob(id)
	if !ok {
		return Job{}, ErrJobNotFound
	}
	if j.Status.Terminal() {
		return snapshot(j), ErrJobFinished
	}

	fn(j)
	// fn must not change the key the job is stored under.
	j.ID = id
	if j.Status.Terminal() && j.FinishedAt == nil {
		now := time.Now().UTC()
		j.FinishedAt = &now
	}
	return snapshot(j), nil
}

// GetJob implements Repository.GetJob.
func (r *InMemoryRepository) GetJob(id JobID) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.store.GetJob(id)
	if !ok {
		return Job{}, false
	}
	return snapshot(j), true
}

// ListJobs implements Repository.ListJobs.
func (r *InMemoryRepository) ListJobs() []Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.store.ListJobIDs()
	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		if j, ok := r.store.GetJob(id); ok {
			jobs = append(jobs, snapshot(j))
		}
	}
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].StartedAt.Equal(jobs[k].StartedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].StartedAt.Before(jobs[k].StartedAt)
	})
	return jobs
}

// ActiveJobCount implements Repository.ActiveJobCount.
func (r *InMemoryRepository) ActiveJobCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, id := range r.store.ListJobIDs() {
		if j, ok := r.store.GetJob(id); ok && !j.Status.Terminal() {
			n++
		}
	}
	return n
}

// snapshot copies j so callers never share the stored slices and pointers.
func snapshot(j *Job) Job {
	out := *j
	if j.Rendition != nil {
		r := *j.Rendition
		out.Rendition = &r
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		out.FinishedAt = &t
	}
	if j.Formats != nil {
		out.Formats = append([]hls.Rendition(nil), j.Formats...)
	}
	return out
}
