// Package preparer turns source images into Instagram-ready JPEG
// variants: center-cropped to the requested aspect ratio, resized into
// the platform's dimension bounds, and written to the media store's
// scratch area where Instagram can fetch them.
package preparer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"path/filepath"
	"strings"
	"time"

	_ "image/gif"
	_ "image/png"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/fpang/instagram-publisher/internal/apperr"
	"github.com/fpang/instagram-publisher/internal/geometry"
	"github.com/fpang/instagram-publisher/internal/mediastore"
)

// jpegQuality is the encode quality for prepared variants. High quality
// matters here: Instagram re-compresses on ingest, so the variant is an
// intermediate, not the final asset.
const jpegQuality = 95

// Artifact is one prepared publish variant.
type Artifact struct {
	Name      string        // artifact file name
	PublicURL string        // URL Instagram fetches the variant from
	Width     int           // final pixel width after clamping
	Height    int           // final pixel height after clamping
	Crop      geometry.Rect // crop window applied to the source
}

// Preparer prepares source images for publishing.
type Preparer struct {
	store mediastore.MediaStore
}

func New(store mediastore.MediaStore) *Preparer {
	return &Preparer{store: store}
}

// Prepare processes imageIDs in order, producing one artifact per image.
// The first failure aborts the batch and is returned; artifacts already
// written stay in the scratch area until it is reclaimed.
func (p *Preparer) Prepare(ctx context.Context, imageIDs []string, ratio geometry.AspectRatio, subjectID, sessionKind string) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(imageIDs))
	now := time.Now().Unix()

	for i, imageID := range imageIDs {
		artifact, err := p.prepareOne(ctx, imageID, ratio, nil, subjectID, sessionKind, i, now)
		if err != nil {
			return artifacts, fmt.Errorf("prepare image %d (%s): %w", i, imageID, err)
		}
		artifacts = append(artifacts, artifact)
	}

	log.Info().Int("count", len(artifacts)).Str("ratio", ratio.Label).Msg("Assets prepared")
	return artifacts, nil
}

// PrepareWithCrops is Prepare for pre-computed crop windows, one per
// image, as stored with a scheduled post. Crops are intersected with
// the image bounds before use.
func (p *Preparer) PrepareWithCrops(ctx context.Context, imageIDs []string, crops []geometry.Rect, subjectID, sessionKind string) ([]Artifact, error) {
	if len(crops) != len(imageIDs) {
		return nil, apperr.New(apperr.CodeValidation, "have %d crops for %d images", len(crops), len(imageIDs))
	}

	artifacts := make([]Artifact, 0, len(imageIDs))
	now := time.Now().Unix()

	for i, imageID := range imageIDs {
		artifact, err := p.prepareOne(ctx, imageID, geometry.AspectRatio{}, &crops[i], subjectID, sessionKind, i, now)
		if err != nil {
			return artifacts, fmt.Errorf("prepare image %d (%s): %w", i, imageID, err)
		}
		artifacts = append(artifacts, artifact)
	}

	log.Info().Int("count", len(artifacts)).Msg("Assets prepared from stored crops")
	return artifacts, nil
}

func (p *Preparer) prepareOne(ctx context.Context, imageID string, ratio geometry.AspectRatio, fixedCrop *geometry.Rect, subjectID, sessionKind string, index int, unix int64) (Artifact, error) {
	path, err := p.store.ResolvePath(ctx, imageID)
	if err != nil {
		return Artifact{}, err
	}

	r, err := p.store.Open(ctx, path)
	if err != nil {
		return Artifact{}, err
	}
	img, _, err := image.Decode(r)
	r.Close()
	if err != nil {
		return Artifact{}, apperr.Wrap(err, apperr.CodeIO, "decode image")
	}

	bounds := img.Bounds()
	var crop geometry.Rect
	if fixedCrop != nil {
		crop = clipToBounds(*fixedCrop, bounds.Dx(), bounds.Dy())
	} else {
		crop = geometry.CenterCrop(bounds.Dx(), bounds.Dy(), ratio.Ratio)
	}
	finalW, finalH := geometry.ClampBounds(crop.W, crop.H)

	// Crop and resize in one pass: the crop window of the source is
	// scaled directly onto the output canvas.
	srcRect := image.Rect(
		bounds.Min.X+crop.X,
		bounds.Min.Y+crop.Y,
		bounds.Min.X+crop.X+crop.W,
		bounds.Min.Y+crop.Y+crop.H,
	)
	out := image.NewRGBA(image.Rect(0, 0, finalW, finalH))
	draw.CatmullRom.Scale(out, out.Bounds(), img, srcRect, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Artifact{}, fmt.Errorf("encode variant: %w", err)
	}

	name := artifactName(sessionKind, subjectID, index, unix, imageID)
	url, err := p.store.WriteVariant(ctx, name, buf.Bytes())
	if err != nil {
		return Artifact{}, err
	}

	log.Debug().
		Str("imageId", imageID).
		Str("variant", name).
		Int("cropWidth", crop.W).
		Int("cropHeight", crop.H).
		Int("finalWidth", finalW).
		Int("finalHeight", finalH).
		Msg("Image prepared")

	return Artifact{
		Name:      name,
		PublicURL: url,
		Width:     finalW,
		Height:    finalH,
		Crop:      crop,
	}, nil
}

// clipToBounds intersects a stored crop window with the actual image
// bounds, guarding against images that changed since the crop was saved.
func clipToBounds(crop geometry.Rect, width, height int) geometry.Rect {
	if crop.X < 0 {
		crop.X = 0
	}
	if crop.Y < 0 {
		crop.Y = 0
	}
	if crop.X+crop.W > width {
		crop.W = width - crop.X
	}
	if crop.Y+crop.H > height {
		crop.H = height - crop.Y
	}
	if crop.W <= 0 || crop.H <= 0 {
		return geometry.Rect{W: width, H: height}
	}
	return crop
}

// artifactName builds the variant file name:
// {sessionKind}-{subjectID}-{index}-{unix}-{originalBase}.jpg
func artifactName(sessionKind, subjectID string, index int, unix int64, imageID string) string {
	base := filepath.Base(imageID)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s-%s-%d-%d-%s.jpg", sessionKind, subjectID, index, unix, base)
}
