// Package mediastore abstracts where source images live and where
// prepared publish variants are written. Instagram ingests media by
// fetching a public URL, so every implementation must be able to turn a
// written variant into a URL the Graph API can reach.
package mediastore

import (
	"context"
	"io"
)

// DefaultSubjectName is the display name of the fallback subject used
// when a publish request does not name one.
const DefaultSubjectName = "Instagram Publisher"

// MediaStore resolves source images and stores prepared variants.
type MediaStore interface {
	// ResolvePath resolves an image ID to a readable location: a
	// filesystem path for local stores, an object key for remote ones.
	// Returns a not-found error when the ID is unknown.
	ResolvePath(ctx context.Context, imageID string) (string, error)

	// Open returns the image bytes at a resolved path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// ReadDimensions returns the pixel width and height of the image at
	// path, corrected for EXIF orientation.
	ReadDimensions(ctx context.Context, path string) (width, height int, err error)

	// WriteVariant stores a prepared JPEG under the given artifact name
	// and returns a URL from which Instagram can fetch it.
	WriteVariant(ctx context.Context, name string, jpegBytes []byte) (publicURL string, err error)

	// GetOrCreateDefaultSubject returns the ID of the fallback subject,
	// creating it on first use. Repeated calls return the same ID.
	GetOrCreateDefaultSubject(ctx context.Context) (string, error)
}
