package mediastore

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/instagram-publisher/internal/apperr"
)

const (
	// tempPrefix is the key prefix prepared variants are uploaded under.
	tempPrefix = "ig-temp/"

	// variantURLExpiry bounds how long Instagram has to fetch an
	// uploaded variant. Container creation fetches promptly; an hour
	// covers slow remote processing with margin.
	variantURLExpiry = 1 * time.Hour

	// headerReadBytes is how much of an object is fetched to decode its
	// dimensions. Image headers sit at the front of the file; 64 KiB
	// covers JPEG/PNG headers even with large EXIF blocks.
	headerReadBytes = 64 * 1024
)

// S3Store is a MediaStore over an S3 bucket. Image IDs are object keys;
// prepared variants are uploaded under the ig-temp/ prefix and exposed
// to Instagram through presigned GET URLs.
type S3Store struct {
	client    *s3.Client
	presigner *s3.PresignClient
	bucket    string
}

// NewS3Store creates a store over the given bucket.
func NewS3Store(client *s3.Client, presigner *s3.PresignClient, bucket string) *S3Store {
	return &S3Store{
		client:    client,
		presigner: presigner,
		bucket:    bucket,
	}
}

// ResolvePath verifies the object exists and returns its key.
func (s *S3Store) ResolvePath(ctx context.Context, imageID string) (string, error) {
	key := strings.TrimPrefix(imageID, "/")
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return "", apperr.New(apperr.CodeNotFound, "image %q not found", imageID)
		}
		return "", fmt.Errorf("head object %q: %w", key, err)
	}
	return key, nil
}

// Open streams the object at a resolved key.
func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeIO, "get object %s", key)
	}
	return result.Body, nil
}

// ReadDimensions decodes the image header from a ranged GET of the
// object's first bytes.
func (s *S3Store) ReadDimensions(ctx context.Context, key string) (int, int, error) {
	rangeHeader := fmt.Sprintf("bytes=0-%d", headerReadBytes-1)
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Range:  &rangeHeader,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("get object header %q: %w", key, err)
	}
	defer result.Body.Close()

	head, err := io.ReadAll(result.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("read object header: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(head))
	if err != nil {
		return 0, 0, apperr.Wrap(err, apperr.CodeIO, "decode image header %s", path.Base(key))
	}

	log.Debug().Str("key", key).Int("width", cfg.Width).Int("height", cfg.Height).Msg("Read image dimensions")
	return cfg.Width, cfg.Height, nil
}

// WriteVariant uploads a prepared JPEG under ig-temp/ and returns a
// presigned GET URL Instagram can fetch it from.
func (s *S3Store) WriteVariant(ctx context.Context, name string, jpegBytes []byte) (string, error) {
	key := tempPrefix + path.Base(name)
	contentType := "image/jpeg"

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(jpegBytes),
		ContentType: &contentType,
	})
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeIO, "upload variant %s", name)
	}

	presigned, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	}, s3.WithPresignExpires(variantURLExpiry))
	if err != nil {
		return "", fmt.Errorf("presign variant %s: %w", key, err)
	}

	log.Debug().Str("key", key).Int("bytes", len(jpegBytes)).Msg("Variant uploaded")
	return presigned.URL, nil
}

// GetOrCreateDefaultSubject returns the default subject ID stored as a
// marker object, generating it on first use. The conditional put makes
// concurrent first calls converge on a single ID.
func (s *S3Store) GetOrCreateDefaultSubject(ctx context.Context) (string, error) {
	key := tempPrefix + defaultSubjectMarker

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err == nil {
		defer result.Body.Close()
		data, readErr := io.ReadAll(result.Body)
		if readErr == nil {
			if id := strings.TrimSpace(string(data)); id != "" {
				return id, nil
			}
		}
	}

	id := uuid.New().String()
	contentType := "text/plain"
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        strings.NewReader(id + "\n"),
		ContentType: &contentType,
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		// Another writer won the race; re-read their ID.
		reread, rerr := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
		})
		if rerr != nil {
			return "", fmt.Errorf("create default subject: %w", err)
		}
		defer reread.Body.Close()
		data, rerr := io.ReadAll(reread.Body)
		if rerr != nil {
			return "", fmt.Errorf("read default subject: %w", rerr)
		}
		return strings.TrimSpace(string(data)), nil
	}

	log.Info().Str("subjectId", id).Str("name", DefaultSubjectName).Msg("Default subject created")
	return id, nil
}
