package preparer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"strings"
	"testing"

	"github.com/fpang/instagram-publisher/internal/apperr"
	"github.com/fpang/instagram-publisher/internal/geometry"
)

// memStore is an in-memory MediaStore for preparer tests.
type memStore struct {
	images   map[string][]byte // imageID -> encoded bytes
	variants map[string][]byte // name -> written bytes
}

func newMemStore() *memStore {
	return &memStore{
		images:   make(map[string][]byte),
		variants: make(map[string][]byte),
	}
}

func (m *memStore) addJPEG(t *testing.T, id string, width, height int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	m.images[id] = buf.Bytes()
}

func (m *memStore) ResolvePath(ctx context.Context, imageID string) (string, error) {
	if _, ok := m.images[imageID]; !ok {
		return "", apperr.New(apperr.CodeNotFound, "image %q not found", imageID)
	}
	return imageID, nil
}

func (m *memStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	data, ok := m.images[path]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "image %q not found", path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) ReadDimensions(ctx context.Context, path string) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(m.images[path]))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func (m *memStore) WriteVariant(ctx context.Context, name string, jpegBytes []byte) (string, error) {
	m.variants[name] = jpegBytes
	return "http://media.test/ig-temp/" + name, nil
}

func (m *memStore) GetOrCreateDefaultSubject(ctx context.Context) (string, error) {
	return "default-subject", nil
}

func decodeVariant(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode variant: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestPrepareSquareCropAndClamp(t *testing.T) {
	store := newMemStore()
	store.addJPEG(t, "wide.jpg", 2000, 1000)
	p := New(store)

	artifacts, err := p.Prepare(context.Background(), []string{"wide.jpg"}, geometry.Square, "subj1", "post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected 1 artifact, got %d", len(artifacts))
	}

	a := artifacts[0]
	// 2000x1000 center-cropped square is 1000x1000 at (500,0); inside
	// bounds so no clamping.
	if a.Crop != (geometry.Rect{X: 500, Y: 0, W: 1000, H: 1000}) {
		t.Errorf("unexpected crop: %+v", a.Crop)
	}
	if a.Width != 1000 || a.Height != 1000 {
		t.Errorf("expected 1000x1000, got %dx%d", a.Width, a.Height)
	}

	w, h := decodeVariant(t, store.variants[a.Name])
	if w != 1000 || h != 1000 {
		t.Errorf("variant is %dx%d, want 1000x1000", w, h)
	}
	if !strings.HasPrefix(a.PublicURL, "http://media.test/ig-temp/") {
		t.Errorf("unexpected URL: %s", a.PublicURL)
	}
}

func TestPrepareClampsOversizedCrop(t *testing.T) {
	store := newMemStore()
	store.addJPEG(t, "big.jpg", 3000, 3000)
	p := New(store)

	artifacts, err := p.Prepare(context.Background(), []string{"big.jpg"}, geometry.Square, "subj1", "post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := artifacts[0]
	if a.Width != geometry.MaxDimension || a.Height != geometry.MaxDimension {
		t.Errorf("expected %dx%d, got %dx%d", geometry.MaxDimension, geometry.MaxDimension, a.Width, a.Height)
	}
	w, h := decodeVariant(t, store.variants[a.Name])
	if w != geometry.MaxDimension || h != geometry.MaxDimension {
		t.Errorf("variant is %dx%d", w, h)
	}
}

func TestPreparePortraitRatio(t *testing.T) {
	store := newMemStore()
	store.addJPEG(t, "p.jpg", 1200, 1200)
	p := New(store)

	artifacts, err := p.Prepare(context.Background(), []string{"p.jpg"}, geometry.Portrait, "subj1", "post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := artifacts[0]
	// 4:5 crop of a 1200 square is 960x1200, centered horizontally.
	if a.Crop != (geometry.Rect{X: 120, Y: 0, W: 960, H: 1200}) {
		t.Errorf("unexpected crop: %+v", a.Crop)
	}
	if a.Width != 960 || a.Height != 1200 {
		t.Errorf("expected 960x1200, got %dx%d", a.Width, a.Height)
	}
}

func TestPreparePreservesOrderAndNames(t *testing.T) {
	store := newMemStore()
	store.addJPEG(t, "a.jpg", 500, 500)
	store.addJPEG(t, "b.jpg", 500, 500)
	store.addJPEG(t, "c.jpg", 500, 500)
	p := New(store)

	artifacts, err := p.Prepare(context.Background(), []string{"a.jpg", "b.jpg", "c.jpg"}, geometry.Square, "s9", "post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(artifacts) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(artifacts))
	}

	for i, base := range []string{"a", "b", "c"} {
		name := artifacts[i].Name
		prefix := fmt.Sprintf("post-s9-%d-", i)
		if !strings.HasPrefix(name, prefix) {
			t.Errorf("artifact %d: expected prefix %s, got %s", i, prefix, name)
		}
		if !strings.HasSuffix(name, "-"+base+".jpg") {
			t.Errorf("artifact %d: expected suffix -%s.jpg, got %s", i, base, name)
		}
	}
}

func TestPrepareAbortsOnFirstFailure(t *testing.T) {
	store := newMemStore()
	store.addJPEG(t, "a.jpg", 500, 500)
	store.addJPEG(t, "c.jpg", 500, 500)
	p := New(store)

	artifacts, err := p.Prepare(context.Background(), []string{"a.jpg", "missing.jpg", "c.jpg"}, geometry.Square, "s1", "post")
	if err == nil {
		t.Fatal("expected error for missing image")
	}

	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Code != apperr.CodeNotFound {
		t.Errorf("expected not-found error, got: %v", err)
	}

	// The first artifact was produced before the failure; the third never was.
	if len(artifacts) != 1 {
		t.Errorf("expected 1 artifact before abort, got %d", len(artifacts))
	}
	if len(store.variants) != 1 {
		t.Errorf("expected 1 written variant, got %d", len(store.variants))
	}
}

func TestPrepareOnePixelWideSource(t *testing.T) {
	store := newMemStore()
	store.addJPEG(t, "strip.jpg", 1, 1000)
	p := New(store)

	artifacts, err := p.Prepare(context.Background(), []string{"strip.jpg"}, geometry.Landscape, "subj1", "post")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a := artifacts[0]
	if a.Width < geometry.MinDimension || a.Height < geometry.MinDimension {
		t.Errorf("output %dx%d below platform minimum", a.Width, a.Height)
	}
	w, h := decodeVariant(t, store.variants[a.Name])
	if w != a.Width || h != a.Height {
		t.Errorf("variant is %dx%d, artifact says %dx%d", w, h, a.Width, a.Height)
	}
}
