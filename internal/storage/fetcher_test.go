package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestBatchFetcher_PreservesOrder(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx := context.Background()
	var paths []string
	for i := 0; i < 10; i++ {
		p := fmt.Sprintf("obj%02d.txt", i)
		if err := storage.Put(ctx, p, []byte(p)); err != nil {
			t.Fatalf("Put failed for %s: %v", p, err)
		}
		paths = append(paths, p)
	}

	fetcher := NewBatchFetcher(storage, 3)
	results, err := fetcher.Fetch(ctx, paths)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(results) != len(paths) {
		t.Fatalf("expected %d results, got %d", len(paths), len(results))
	}
	for i, r := range results {
		if r.ObjectPath != paths[i] {
			t.Errorf("results[%d].ObjectPath = %q, want %q", i, r.ObjectPath, paths[i])
		}
		if r.Err != nil {
			t.Errorf("results[%d] unexpected error: %v", i, r.Err)
		}
		if string(r.Data) != paths[i] {
			t.Errorf("results[%d].Data = %q, want %q", i, r.Data, paths[i])
		}
	}
}

func TestBatchFetcher_PerObjectErrors(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx := context.Background()
	if err := storage.Put(ctx, "present.txt", []byte("ok")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	results, err := NewBatchFetcher(storage, 0).Fetch(ctx, []string{"present.txt", "missing.txt"})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if results[0].Err != nil {
		t.Errorf("present.txt: unexpected error %v", results[0].Err)
	}
	if !errors.Is(results[1].Err, ErrObjectNotFound) {
		t.Errorf("missing.txt: expected ErrObjectNotFound, got %v", results[1].Err)
	}
}

func TestBatchFetcher_Empty(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	results, err := NewBatchFetcher(storage, 2).Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
