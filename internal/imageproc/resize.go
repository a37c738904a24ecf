package imageproc

import (
	"image"

	"github.com/disintegration/imaging"
)

// Resize scales img to exactly width x height, ignoring the aspect ratio
func Resize(img image.Image, width, height int) *image.NRGBA {
	return imaging.Resize(img, width, height, imaging.Lanczos)
}

// Preview - lower-resolution derivative that fits into maxSide x maxSide. Smaller images are only copied.
func Preview(img image.Image, maxSide int) *image.NRGBA {
	if maxSide <= 0 {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, maxSide, maxSide, imaging.Lanczos)
}
