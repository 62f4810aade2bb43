package archive

import (
	"context"
	"path/filepath"
	"testing"
)

func TestArchive_record_and_has(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "archive.db")

	a, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ok, err := a.Has(ctx, "n9ze3m2w184")
	if err != nil {
		t.Fatalf("Has: %v", err)
	}
	if ok {
		t.Error("expected empty archive")
	}

	if err := a.Record(ctx, "n9ze3m2w184"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := a.Record(ctx, "n9ze3m2w184"); err != nil {
		t.Fatalf("Record twice should be a no-op: %v", err)
	}

	ok, err = a.Has(ctx, "n9ze3m2w184")
	if err != nil || !ok {
		t.Errorf("expected recorded id, got %v (%v)", ok, err)
	}
	n, err := a.Count(ctx)
	if err != nil || n != 1 {
		t.Errorf("expected 1 entry, got %d (%v)", n, err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Entries survive reopening.
	a, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer a.Close()
	if ok, _ := a.Has(ctx, "n9ze3m2w184"); !ok {
		t.Error("expected id to persist across reopen")
	}
	if ok, _ := a.Has(ctx, "other"); ok {
		t.Error("unexpected id in archive")
	}
}
