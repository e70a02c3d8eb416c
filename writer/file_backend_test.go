package writer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackendReadWrite(t *testing.T) {
	dir := t.TempDir()
	b, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	ctx := context.Background()

	if _, err := b.Read(ctx, "missing.csv"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("missing object error = %v", err)
	}

	if err := b.Write(ctx, "archive/a.parquet", []byte("one")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Write(ctx, "archive/a.parquet", []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := b.Read(ctx, "archive/a.parquet")
	if err != nil || string(got) != "two" {
		t.Fatalf("Read = %q, %v", got, err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "archive"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestNewFileBackendRequiresDir(t *testing.T) {
	if _, err := NewFileBackend(""); err == nil {
		t.Fatal("expected error for empty dir")
	}
}
