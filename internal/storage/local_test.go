package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStorage_PutGet(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx := context.Background()
	content := []byte(`{"id":"a"}`)

	objectPath := "logs/web_logs_0.json"
	if err := storage.Put(ctx, objectPath, content); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := storage.Get(ctx, objectPath)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	// overwrite replaces the content
	if err := storage.Put(ctx, objectPath, []byte(`{"id":"b"}`)); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	got, _ = storage.Get(ctx, objectPath)
	if string(got) != `{"id":"b"}` {
		t.Errorf("content after overwrite = %q", got)
	}
}

func TestLocalStorage_GetMissing(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	_, err = storage.Get(context.Background(), "nope.json")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx := context.Background()
	for _, p := range []string{"in/b.json", "in/a.json", "in/sub/c.json", "other/d.json"} {
		if err := storage.Put(ctx, p, []byte("{}")); err != nil {
			t.Fatalf("Put %s failed: %v", p, err)
		}
	}

	if err := os.WriteFile(filepath.Join(storage.BasePath(), "in", ".put-123"), []byte("{"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	objects, err := storage.ListObjects(ctx, "in")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}

	want := []string{"in/a.json", "in/b.json", "in/sub/c.json"}
	if len(objects) != len(want) {
		t.Fatalf("got %v, want %v", objects, want)
	}
	for i := range want {
		if objects[i] != want[i] {
			t.Errorf("objects[%d] = %q, want %q", i, objects[i], want[i])
		}
	}

	empty, err := storage.ListObjects(ctx, "does-not-exist")
	if err != nil {
		t.Fatalf("ListObjects on missing prefix failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty list, got %v", empty)
	}
}

func TestLocalStorage_ContextCancelled(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := storage.Put(ctx, "x.json", []byte("{}")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if _, err := storage.ListObjects(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
