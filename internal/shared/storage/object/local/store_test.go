package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"signalcraft-client/internal/shared/storage/object"
)

func TestSaveOpenDelete(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("RIFF"), 300)
	info, err := store.Save(ctx, "MOCK-001", "recording.wav", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if info.SizeBytes != int64(len(payload)) {
		t.Fatalf("expected size %d, got %d", len(payload), info.SizeBytes)
	}
	if !strings.HasSuffix(info.Key, "_recording.wav") {
		t.Fatalf("unexpected key %q", info.Key)
	}

	rc, err := store.Open(ctx, info.Key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, payload) {
		t.Fatalf("stored bytes differ")
	}

	if err := store.Delete(ctx, info.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(info.Key))); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
	if err := store.Delete(ctx, info.Key); err != nil {
		t.Fatalf("expected second delete to be a no-op, got %v", err)
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	store := New(t.TempDir())
	if _, err := store.Open(context.Background(), "../secret"); !errors.Is(err, object.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
