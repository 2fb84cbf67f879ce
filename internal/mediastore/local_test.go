package mediastore

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/fpang/instagram-publisher/internal/apperr"
)

// writeTestJPEG writes a solid-color JPEG of the given size.
func writeTestJPEG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write test jpeg: %v", err)
	}
}

func TestLocalStoreResolvePath(t *testing.T) {
	dir := t.TempDir()
	writeTestJPEG(t, filepath.Join(dir, "photo.jpg"), 100, 80)
	store := NewLocalStore(dir, "http://localhost:8080/media")

	path, err := store.ResolvePath(context.Background(), "photo.jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != filepath.Join(dir, "photo.jpg") {
		t.Errorf("unexpected path: %s", path)
	}
}

func TestLocalStoreResolvePathNotFound(t *testing.T) {
	store := NewLocalStore(t.TempDir(), "http://localhost:8080/media")

	_, err := store.ResolvePath(context.Background(), "missing.jpg")
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("expected not-found error, got: %v", err)
	}
}

func TestLocalStoreResolvePathEscapesRoot(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(filepath.Join(dir, "media"), "http://localhost:8080/media")
	os.MkdirAll(filepath.Join(dir, "media"), 0o755)
	writeTestJPEG(t, filepath.Join(dir, "secret.jpg"), 10, 10)

	// Traversal is cleaned back under the root, so the file outside is
	// simply not found.
	_, err := store.ResolvePath(context.Background(), "../secret.jpg")
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("expected not-found for traversal, got: %v", err)
	}
}

func TestLocalStoreReadDimensions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.jpg")
	writeTestJPEG(t, path, 640, 480)
	store := NewLocalStore(dir, "http://localhost:8080/media")

	w, h, err := store.ReadDimensions(context.Background(), path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 640 || h != 480 {
		t.Errorf("expected 640x480, got %dx%d", w, h)
	}
}

func TestLocalStoreReadDimensionsNotAnImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	os.WriteFile(path, []byte("not an image"), 0o644)
	store := NewLocalStore(dir, "http://localhost:8080/media")

	_, _, err := store.ReadDimensions(context.Background(), path)
	if !apperr.IsCode(err, apperr.CodeIO) {
		t.Errorf("expected IO error, got: %v", err)
	}
}

func TestLocalStoreWriteVariant(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir, "http://localhost:8080/media/")

	url, err := store.WriteVariant(context.Background(), "post-s1-0-1700000000-photo.jpg", []byte{0xff, 0xd8, 0xff})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "http://localhost:8080/media/ig-temp/post-s1-0-1700000000-photo.jpg"
	if url != want {
		t.Errorf("expected %s, got %s", want, url)
	}

	data, err := os.ReadFile(filepath.Join(dir, "ig-temp", "post-s1-0-1700000000-photo.jpg"))
	if err != nil {
		t.Fatalf("variant not written: %v", err)
	}
	if !bytes.Equal(data, []byte{0xff, 0xd8, 0xff}) {
		t.Error("variant bytes mismatch")
	}
}

func TestLocalStoreDefaultSubjectStable(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir, "http://localhost:8080/media")

	first, err := store.GetOrCreateDefaultSubject(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == "" {
		t.Fatal("expected non-empty subject ID")
	}

	second, err := store.GetOrCreateDefaultSubject(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first {
		t.Errorf("expected stable subject ID, got %s then %s", first, second)
	}

	// A fresh store over the same directory reads the persisted marker.
	again := NewLocalStore(dir, "http://localhost:8080/media")
	third, err := again.GetOrCreateDefaultSubject(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third != first {
		t.Errorf("expected persisted subject ID, got %s then %s", first, third)
	}
}
