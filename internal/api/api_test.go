package api

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
	"time"

	"github.com/fpang/instagram-publisher/internal/apperr"
	"github.com/fpang/instagram-publisher/internal/credentials"
	"github.com/fpang/instagram-publisher/internal/geometry"
	"github.com/fpang/instagram-publisher/internal/instagram"
	"github.com/fpang/instagram-publisher/internal/preparer"
	"github.com/fpang/instagram-publisher/internal/progress"
	"github.com/fpang/instagram-publisher/internal/publisher"
	"github.com/fpang/instagram-publisher/internal/schedule"
)

// fakeMedia is an in-memory MediaStore.
type fakeMedia struct {
	images   map[string][]byte
	variants map[string][]byte
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{images: make(map[string][]byte), variants: make(map[string][]byte)}
}

func (m *fakeMedia) addJPEG(t *testing.T, id string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	m.images[id] = buf.Bytes()
}

func (m *fakeMedia) ResolvePath(ctx context.Context, imageID string) (string, error) {
	if _, ok := m.images[imageID]; !ok {
		return "", apperr.New(apperr.CodeNotFound, "image %q not found", imageID)
	}
	return imageID, nil
}

func (m *fakeMedia) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.images[path])), nil
}

func (m *fakeMedia) ReadDimensions(ctx context.Context, path string) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(m.images[path]))
	return cfg.Width, cfg.Height, err
}

func (m *fakeMedia) WriteVariant(ctx context.Context, name string, jpegBytes []byte) (string, error) {
	m.variants[name] = jpegBytes
	return "http://media.test/ig-temp/" + name, nil
}

func (m *fakeMedia) GetOrCreateDefaultSubject(ctx context.Context) (string, error) {
	return "default-subject", nil
}

// fakeRemote is a scriptable publisher.RemoteAPI.
type fakeRemote struct {
	next        int
	states      map[string]instagram.ContainerState
	createReady bool
	created     int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{states: make(map[string]instagram.ContainerState)}
}

func (f *fakeRemote) make() (string, error) {
	f.next++
	f.created++
	id := fmt.Sprintf("c%d", f.next)
	state := instagram.ContainerPending
	if f.createReady {
		state = instagram.ContainerReady
	}
	f.states[id] = state
	return id, nil
}

func (f *fakeRemote) CreateImageContainer(ctx context.Context, imageURL string, isCarousel bool) (string, error) {
	return f.make()
}

func (f *fakeRemote) CreateSingleImagePost(ctx context.Context, imageURL, caption string) (string, error) {
	return f.make()
}

func (f *fakeRemote) CreateCarouselContainer(ctx context.Context, children []string, caption string) (string, error) {
	return "carousel-1", nil
}

func (f *fakeRemote) ContainerStatus(ctx context.Context, containerID string) (instagram.ContainerState, error) {
	return f.states[containerID], nil
}

func (f *fakeRemote) Publish(ctx context.Context, containerID string) (string, error) {
	return "media-1", nil
}

func (f *fakeRemote) MediaPermalink(ctx context.Context, mediaID string) (string, error) {
	return "https://www.instagram.com/p/ABC/", nil
}

func (f *fakeRemote) setAll(state instagram.ContainerState) {
	for id := range f.states {
		f.states[id] = state
	}
}

type testEnv struct {
	svc    *Service
	media  *fakeMedia
	remote *fakeRemote
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	media := newFakeMedia()
	remote := newFakeRemote()
	orch := publisher.New(progress.NewMemoryStore(), remote)
	svc := NewService(
		media,
		preparer.New(media),
		orch,
		schedule.NewMemoryStore(),
		credentials.NewEnvProvider("tok", "ig-user", time.Time{}),
	)
	return &testEnv{svc: svc, media: media, remote: remote}
}

func TestPostFromMediaValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  PostFromMediaRequest
	}{
		{"no images", PostFromMediaRequest{Caption: "hi"}},
		{"too many images", PostFromMediaRequest{ImageIDs: make([]string, 11)}},
		{"caption too long", PostFromMediaRequest{ImageIDs: []string{"a.jpg"}, Caption: strings.Repeat("x", 2201)}},
	}
	for _, tt := range tests {
		_, err := env.svc.PostFromMedia(ctx, tt.req)
		if !apperr.IsCode(err, apperr.CodeValidation) {
			t.Errorf("%s: expected validation error, got: %v", tt.name, err)
		}
	}
}

func TestPostFromMediaRequiresCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.svc.creds = credentials.NewEnvProvider("", "", time.Time{})
	env.media.addJPEG(t, "a.jpg", 500, 500)

	_, err := env.svc.PostFromMedia(context.Background(), PostFromMediaRequest{ImageIDs: []string{"a.jpg"}})
	if !apperr.IsCode(err, apperr.CodeAuth) {
		t.Errorf("expected auth error, got: %v", err)
	}
}

func TestPostFromMediaFastPath(t *testing.T) {
	env := newTestEnv(t)
	env.remote.createReady = true
	for _, id := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		env.media.addJPEG(t, id, 1000, 1000)
	}

	res, err := env.svc.PostFromMedia(context.Background(), PostFromMediaRequest{
		ImageIDs:    []string{"a.jpg", "b.jpg", "c.jpg"},
		Caption:     "three",
		AspectRatio: "4:5",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "completed" {
		t.Fatalf("expected completed, got %s", res.Status)
	}
	if res.MediaID != "media-1" || res.Permalink == "" {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.ProcessingKey != "" {
		t.Error("completed result should not carry a processing key")
	}
	if env.remote.created != 3 {
		t.Errorf("expected 3 containers, got %d", env.remote.created)
	}
	// One prepared variant per image, portrait crop applied.
	if len(env.media.variants) != 3 {
		t.Errorf("expected 3 variants, got %d", len(env.media.variants))
	}
	for name, data := range env.media.variants {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode variant %s: %v", name, err)
		}
		ratio := float64(cfg.Width) / float64(cfg.Height)
		if ratio < 0.79 || ratio > 0.81 {
			t.Errorf("variant %s ratio %f, want ~0.8", name, ratio)
		}
	}
}

func TestPostFromMediaUnknownRatioFallsBackToSquare(t *testing.T) {
	env := newTestEnv(t)
	env.remote.createReady = true
	env.media.addJPEG(t, "a.jpg", 800, 600)

	res, err := env.svc.PostFromMedia(context.Background(), PostFromMediaRequest{
		ImageIDs:    []string{"a.jpg"},
		AspectRatio: "16:9",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "completed" {
		t.Fatalf("expected completed, got %s", res.Status)
	}

	for name, data := range env.media.variants {
		cfg, _, _ := image.DecodeConfig(bytes.NewReader(data))
		if cfg.Width != cfg.Height {
			t.Errorf("variant %s is %dx%d, want square fallback", name, cfg.Width, cfg.Height)
		}
	}
}

func TestPostNowAndPollLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.svc.PostNow(ctx, PostNowRequest{
		ImageURLs: []string{"http://x/1.jpg", "http://x/2.jpg", "http://x/3.jpg"},
		Caption:   "now",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "processing" || res.ProcessingKey == "" {
		t.Fatalf("expected processing with key, got %+v", res)
	}

	// Two of three containers finish.
	env.remote.states["c1"] = instagram.ContainerReady
	env.remote.states["c2"] = instagram.ContainerReady

	status, err := env.svc.PollStatus(ctx, res.ProcessingKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != "processing" || status.Ready != 2 || status.Pending != 1 || status.Total != 3 {
		t.Errorf("unexpected status: %+v", status)
	}

	env.remote.setAll(instagram.ContainerReady)
	status, err = env.svc.PollStatus(ctx, res.ProcessingKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != "completed" || status.MediaID != "media-1" {
		t.Errorf("unexpected final status: %+v", status)
	}

	// After completion the record is gone: the ambiguous not_found.
	status, err = env.svc.PollStatus(ctx, res.ProcessingKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != "not_found" {
		t.Errorf("expected not_found, got %s", status.Status)
	}
}

func TestPollStatusUnknownKey(t *testing.T) {
	env := newTestEnv(t)

	status, err := env.svc.PollStatus(context.Background(), "igpub-never")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Status != "not_found" {
		t.Errorf("expected not_found, got %s", status.Status)
	}

	if _, err := env.svc.PollStatus(context.Background(), ""); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Errorf("expected validation error for empty key, got: %v", err)
	}
}

func TestSchedulePostDefaultSubject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.media.addJPEG(t, "a.jpg", 500, 500)
	env.media.addJPEG(t, "b.jpg", 500, 500)

	post, err := env.svc.SchedulePost(ctx, SchedulePostRequest{
		ImageIDs:     []string{"a.jpg", "b.jpg"},
		CropData:     []geometry.Rect{{W: 100, H: 100}, {W: 100, H: 100}},
		Caption:      "later",
		ScheduleTime: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.ID == "" {
		t.Error("expected generated post ID")
	}
	if post.SubjectID != "default-subject" {
		t.Errorf("expected default subject fallback, got %s", post.SubjectID)
	}

	listed, err := env.svc.ListScheduledPosts(ctx, "default-subject")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listed) != 1 || listed[0].ID != post.ID {
		t.Errorf("unexpected listing: %+v", listed)
	}

	// Empty subject lists everything with parent back-references.
	all, err := env.svc.ListScheduledPosts(ctx, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 1 || all[0].ParentSubjectID != "default-subject" {
		t.Errorf("unexpected aggregated listing: %+v", all)
	}
}

func TestSchedulePostValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Crop count mismatch.
	_, err := env.svc.SchedulePost(ctx, SchedulePostRequest{
		ImageIDs:     []string{"a.jpg", "b.jpg"},
		CropData:     []geometry.Rect{{W: 100, H: 100}},
		ScheduleTime: time.Now().Add(time.Hour).Unix(),
	})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Errorf("expected validation error for crop mismatch, got: %v", err)
	}

	// Missing schedule time.
	_, err = env.svc.SchedulePost(ctx, SchedulePostRequest{
		ImageIDs: []string{"a.jpg"},
		CropData: []geometry.Rect{{W: 100, H: 100}},
	})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Errorf("expected validation error for missing time, got: %v", err)
	}

	// Unknown image.
	_, err = env.svc.SchedulePost(ctx, SchedulePostRequest{
		ImageIDs:     []string{"missing.jpg"},
		CropData:     []geometry.Rect{{W: 100, H: 100}},
		ScheduleTime: time.Now().Add(time.Hour).Unix(),
	})
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("expected not_found error for unknown image, got: %v", err)
	}

	// Crop entirely outside the image bounds.
	env.media.addJPEG(t, "small.jpg", 200, 200)
	_, err = env.svc.SchedulePost(ctx, SchedulePostRequest{
		ImageIDs:     []string{"small.jpg"},
		CropData:     []geometry.Rect{{X: 300, Y: 300, W: 100, H: 100}},
		ScheduleTime: time.Now().Add(time.Hour).Unix(),
	})
	if !apperr.IsCode(err, apperr.CodeValidation) {
		t.Errorf("expected validation error for out-of-bounds crop, got: %v", err)
	}
}

func TestConnectAccountStoresCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.svc.creds = credentials.NewEnvProvider("", "", time.Time{})
	env.svc.exchange = func(ctx context.Context, code string) (string, string, int64, error) {
		if code != "auth-code-1" {
			t.Errorf("unexpected code: %s", code)
		}
		return "long-lived-tok", "ig-user-77", 5184000, nil
	}

	result, err := env.svc.ConnectAccount(context.Background(), ConnectRequest{Code: "auth-code-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.UserID != "ig-user-77" {
		t.Errorf("expected ig-user-77, got %s", result.UserID)
	}
	if result.ExpiresAt <= time.Now().Unix() {
		t.Errorf("expiry not in the future: %d", result.ExpiresAt)
	}

	token, ok := env.svc.creds.AccessToken()
	if !ok || token != "long-lived-tok" {
		t.Errorf("provider not updated: token=%q ok=%v", token, ok)
	}
	userID, _ := env.svc.creds.RemoteUserID()
	if userID != "ig-user-77" {
		t.Errorf("provider user not updated: %s", userID)
	}

	// Publishing works immediately with the connected account.
	_, err = env.svc.PostNow(context.Background(), PostNowRequest{
		ImageURLs: []string{"https://media.test/a.jpg"},
		Caption:   "hello",
	})
	if err != nil {
		t.Fatalf("publish after connect failed: %v", err)
	}
}

func TestConnectAccountErrors(t *testing.T) {
	env := newTestEnv(t)

	// No code.
	env.svc.exchange = func(ctx context.Context, code string) (string, string, int64, error) {
		t.Fatal("exchange must not run without a code")
		return "", "", 0, nil
	}
	if _, err := env.svc.ConnectAccount(context.Background(), ConnectRequest{}); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Errorf("expected validation error, got: %v", err)
	}

	// OAuth app not configured.
	env.svc.exchange = nil
	if _, err := env.svc.ConnectAccount(context.Background(), ConnectRequest{Code: "c"}); !apperr.IsCode(err, apperr.CodeAuth) {
		t.Errorf("expected auth error, got: %v", err)
	}

	// Remote exchange failure.
	env.svc.exchange = func(ctx context.Context, code string) (string, string, int64, error) {
		return "", "", 0, errors.New("bad code")
	}
	if _, err := env.svc.ConnectAccount(context.Background(), ConnectRequest{Code: "c"}); !apperr.IsCode(err, apperr.CodeAuth) {
		t.Errorf("expected auth error, got: %v", err)
	}
}
