package mediastore

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/evanoberholster/imagemeta"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/instagram-publisher/internal/apperr"
)

// tempDirName is the directory under the media root where prepared
// variants are written. Served publicly so Instagram can fetch them.
const tempDirName = "ig-temp"

// defaultSubjectMarker persists the generated default subject ID across
// restarts.
const defaultSubjectMarker = ".default-subject"

// LocalStore is a MediaStore over a local media directory. Image IDs
// are paths relative to the root; prepared variants go to <root>/ig-temp
// and are served at <baseURL>/ig-temp/<name>.
type LocalStore struct {
	root    string
	baseURL string

	mu sync.Mutex // guards default subject creation
}

// NewLocalStore creates a store rooted at dir. baseURL is the public
// address the media root is served from, without a trailing slash.
func NewLocalStore(dir, baseURL string) *LocalStore {
	return &LocalStore{
		root:    dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// TempDir returns the directory variants are written to.
func (s *LocalStore) TempDir() string {
	return filepath.Join(s.root, tempDirName)
}

// ResolvePath resolves an image ID (a root-relative path) to an
// absolute filesystem path.
func (s *LocalStore) ResolvePath(ctx context.Context, imageID string) (string, error) {
	clean := filepath.Clean("/" + imageID) // forces the path under root
	path := filepath.Join(s.root, clean)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperr.New(apperr.CodeNotFound, "image %q not found", imageID)
		}
		return "", fmt.Errorf("stat image %q: %w", imageID, err)
	}
	if info.IsDir() {
		return "", apperr.New(apperr.CodeNotFound, "image %q is a directory", imageID)
	}
	return path, nil
}

// Open opens the image file at a resolved path.
func (s *LocalStore) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeIO, "open image %s", filepath.Base(path))
	}
	return f, nil
}

// ReadDimensions returns the pixel dimensions of the image at path. The
// encoded dimensions come from the image header; EXIF orientation values
// 5-8 indicate a 90° rotation, in which case width and height are swapped
// so that crop math sees the image as displayed.
func (s *LocalStore) ReadDimensions(ctx context.Context, path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, apperr.Wrap(err, apperr.CodeIO, "decode image header %s", filepath.Base(path))
	}
	width, height := cfg.Width, cfg.Height

	// Orientation is best-effort; many images carry no EXIF at all.
	if _, err := f.Seek(0, 0); err == nil {
		if exifData, err := imagemeta.Decode(f); err == nil && exifData.Orientation >= 5 {
			width, height = height, width
		}
	}

	log.Debug().Str("path", filepath.Base(path)).Int("width", width).Int("height", height).Msg("Read image dimensions")
	return width, height, nil
}

// WriteVariant writes a prepared JPEG under ig-temp and returns its
// public URL.
func (s *LocalStore) WriteVariant(ctx context.Context, name string, jpegBytes []byte) (string, error) {
	dir := s.TempDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, jpegBytes, 0o644); err != nil {
		return "", apperr.Wrap(err, apperr.CodeIO, "write variant %s", name)
	}

	url := fmt.Sprintf("%s/%s/%s", s.baseURL, tempDirName, filepath.Base(name))
	log.Debug().Str("variant", name).Int("bytes", len(jpegBytes)).Msg("Variant written")
	return url, nil
}

// GetOrCreateDefaultSubject returns the persisted default subject ID,
// generating and persisting one on first use.
func (s *LocalStore) GetOrCreateDefaultSubject(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	marker := filepath.Join(s.TempDir(), defaultSubjectMarker)
	if data, err := os.ReadFile(marker); err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	}

	id := uuid.New().String()
	if err := os.MkdirAll(s.TempDir(), 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	if err := os.WriteFile(marker, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("persist default subject: %w", err)
	}

	log.Info().Str("subjectId", id).Str("name", DefaultSubjectName).Msg("Default subject created")
	return id, nil
}
