package orchestrator

import (
	"testing"
)

func TestInMemoryStore_GetSetJob(t *testing.T) {
	store := NewInMemoryStore()

	_, ok := store.GetJob(JobID("j1"))
	if ok {
		t.Error("expected not found for empty store")
	}

	j := &Job{ID: JobID("j1"), Name: "stream", Status: StatusPending}
	store.SetJob(j)

	got, ok := store.GetJob(JobID("j1"))
	if !ok || got != j {
		t.Errorf("GetJob: ok=%v, got %p want %p", ok, got, j)
	}
}

func TestInMemoryStore_SetJob_replaces(t *testing.T) {
	store := NewInMemoryStore()
	j1 := &Job{ID: JobID("j1")}
	j2 := &Job{ID: JobID("j1")}
	store.SetJob(j1)
	store.SetJob(j2)

	got, ok := store.GetJob(JobID("j1"))
	if !ok || got != j2 {
		t.Errorf("SetJob should replace: got %p want %p", got, j2)
	}
}

func TestInMemoryStore_ListJobIDs(t *testing.T) {
	store := NewInMemoryStore()
	store.SetJob(&Job{ID: "a"})
	store.SetJob(&Job{ID: "b"})

	ids := store.ListJobIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %v", ids)
	}
	seen := map[JobID]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("expected ids a and b, got %v", ids)
	}
}

func TestNewInMemoryRepositoryWithStore(t *testing.T) {
	store := NewInMemoryStore()
	repo := NewInMemoryRepositoryWithStore(store)

	job := repo.CreateJob("stream", "https://example.com/a.m3u8")
	if _, ok := store.GetJob(job.ID); !ok {
		t.Error("repository should write through to the provided store")
	}
}
