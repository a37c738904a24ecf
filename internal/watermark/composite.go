package watermark

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/UnendingLoop/GalleryWatermark/internal/imageproc"
	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/disintegration/imaging"
)

// BackingAlpha - alpha of the white rectangle drawn under backed placements
const BackingAlpha = 0.3

var backingColor = color.NRGBA{R: 255, G: 255, B: 255, A: uint8(math.Round(BackingAlpha * 255))}

// Source returns the pixels drawn for a placement. They are resized to the placement if needed.
type Source func(p model.Placement) (image.Image, error)

// Composite draws every placement of plan over a copy of target, in order.
// Anything outside the target is clipped; target itself is never modified.
func Composite(target image.Image, plan model.PlacementPlan, src Source) (*image.NRGBA, error) {
	if target == nil {
		return nil, errors.New("nil target image provided to Composite")
	}
	if src == nil {
		return nil, errors.New("nil watermark source provided to Composite")
	}

	for i, p := range plan.Placements {
		if p.Width <= 0 || p.Height <= 0 {
			return nil, fmt.Errorf("%w: placement #%d has size %dx%d", model.ErrInvalidConfig, i, p.Width, p.Height)
		}
	}

	dst := imaging.Clone(target)
	bounds := dst.Bounds()

	for i, p := range plan.Placements {
		rect := image.Rect(p.X, p.Y, p.X+p.Width, p.Y+p.Height)
		clip := rect.Intersect(bounds)
		if clip.Empty() {
			continue
		}

		opacity := clampUnit(p.Opacity)
		if !p.Backing && opacity == 0 {
			continue
		}

		layer, err := src(p)
		if err != nil {
			return nil, fmt.Errorf("watermark source for placement #%d: %w", i, err)
		}
		if layer == nil {
			return nil, fmt.Errorf("%w: empty watermark source for placement #%d", model.ErrDecode, i)
		}
		if lb := layer.Bounds(); lb.Dx() != p.Width || lb.Dy() != p.Height {
			layer = imageproc.Resize(layer, p.Width, p.Height)
		}

		if p.Backing {
			layer = withBacking(layer, opacity)
			opacity = 1
		}

		blendRegion(dst, layer, rect, clip, opacity)
	}

	return dst, nil
}

// withBacking puts layer, faded by opacity, on top of a white semi-transparent rectangle of the same size.
// The backing itself is not faded.
func withBacking(layer image.Image, opacity float64) *image.NRGBA {
	b := layer.Bounds()
	backing := imaging.New(b.Dx(), b.Dy(), backingColor)
	return imaging.Overlay(backing, layer, image.Point{}, opacity)
}

// blendRegion blends layer placed at rect onto dst, touching only the clip part of dst.
func blendRegion(dst *image.NRGBA, layer image.Image, rect, clip image.Rectangle, opacity float64) {
	region := imaging.Crop(dst, clip)
	region = imaging.Overlay(region, layer, rect.Min.Sub(clip.Min), opacity)

	rowLen := clip.Dx() * 4
	for y := 0; y < clip.Dy(); y++ {
		di := dst.PixOffset(clip.Min.X, clip.Min.Y+y)
		si := region.PixOffset(0, y)
		copy(dst.Pix[di:di+rowLen], region.Pix[si:si+rowLen])
	}
}
