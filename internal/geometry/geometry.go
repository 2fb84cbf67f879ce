// Package geometry computes the center-crop rectangles and resize bounds
// used to bring arbitrary images into Instagram's aspect-ratio and
// resolution constraints. All functions are pure; the package has no
// dependencies beyond the standard library.
//
// Instagram accepts three feed aspect ratios: 1:1 (square), 4:5
// (portrait, ratio 0.8), and 1.91:1 (landscape). After cropping, both
// dimensions must land between 320 and 1440 pixels.
package geometry

const (
	// MinDimension is the smallest dimension Instagram accepts for a feed image.
	MinDimension = 320
	// MaxDimension is the largest dimension Instagram accepts for a feed image.
	MaxDimension = 1440
)

// Rect is a crop rectangle in source-image pixel coordinates.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"width"`
	H int `json:"height"`
}

// AspectRatio is one of the three canonical Instagram feed ratios.
type AspectRatio struct {
	// Ratio is width divided by height.
	Ratio float64 `json:"ratio"`
	// Label is the human-readable name: square, portrait, or landscape.
	Label string `json:"label"`
}

var (
	Square    = AspectRatio{Ratio: 1.0, Label: "square"}
	Portrait  = AspectRatio{Ratio: 0.8, Label: "portrait"}
	Landscape = AspectRatio{Ratio: 1.91, Label: "landscape"}
)

// ParseAspectRatio maps an aspect-ratio string ("1:1", "4:5", "1.91:1")
// to its canonical value. Unknown strings fall back to square; agents
// send free-form ratio strings and a wrong-but-publishable crop beats a
// rejected request.
func ParseAspectRatio(s string) AspectRatio {
	switch s {
	case "1:1":
		return Square
	case "4:5":
		return Portrait
	case "1.91:1":
		return Landscape
	default:
		return Square
	}
}

// CenterCrop returns the largest rectangle with the target width/height
// ratio that fits inside a width×height image, centered. It removes
// equal margins from the longer relative dimension and never upsamples.
// The crop is never smaller than 1×1: an extreme source (a 1px-wide
// strip against a landscape ratio) would floor to a zero dimension,
// which no downstream stage can scale or encode.
func CenterCrop(width, height int, targetRatio float64) Rect {
	currentRatio := float64(width) / float64(height)

	if currentRatio > targetRatio {
		// Relatively wider than target: trim the sides.
		newWidth := int(float64(height) * targetRatio)
		if newWidth < 1 {
			newWidth = 1
		}
		return Rect{
			X: (width - newWidth) / 2,
			Y: 0,
			W: newWidth,
			H: height,
		}
	}

	// Relatively taller than target: trim top and bottom.
	newHeight := int(float64(width) / targetRatio)
	if newHeight < 1 {
		newHeight = 1
	}
	return Rect{
		X: 0,
		Y: (height - newHeight) / 2,
		W: width,
		H: newHeight,
	}
}

// ClampBounds scales post-crop dimensions into Instagram's accepted
// range, preserving aspect ratio. A crop with either side under
// MinDimension is scaled up until the smaller side is exactly
// MinDimension; a crop with either side over MaxDimension is scaled
// down until the larger side is exactly MaxDimension. Dimensions
// already inside the range pass through unchanged.
func ClampBounds(width, height int) (int, int) {
	// A non-positive dimension would make the upscale factor infinite.
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}

	if width < MinDimension || height < MinDimension {
		smaller := width
		if height < width {
			smaller = height
		}
		scale := float64(MinDimension) / float64(smaller)
		return scaleDims(width, height, scale, MinDimension, height < width)
	}

	if width > MaxDimension || height > MaxDimension {
		larger := width
		if height > width {
			larger = height
		}
		scale := float64(MaxDimension) / float64(larger)
		return scaleDims(width, height, scale, MaxDimension, height > width)
	}

	return width, height
}

// scaleDims applies scale to both dimensions, pinning the driving
// dimension to exact so rounding cannot push it back out of range.
func scaleDims(width, height int, scale float64, exact int, heightDrives bool) (int, int) {
	if heightDrives {
		return atLeastOne(int(float64(width) * scale)), exact
	}
	return exact, atLeastOne(int(float64(height) * scale))
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
