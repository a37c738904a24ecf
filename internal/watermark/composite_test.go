package watermark

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

var (
	gray  = color.NRGBA{R: 100, G: 100, B: 100, A: 255}
	red   = color.NRGBA{R: 255, A: 255}
	blue  = color.NRGBA{B: 255, A: 255}
	black = color.NRGBA{A: 255}
	white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	return imaging.New(w, h, c)
}

// solidSource hands out a layer of exactly the placement size
func solidSource(c color.NRGBA) Source {
	return func(p model.Placement) (image.Image, error) {
		return solid(p.Width, p.Height, c), nil
	}
}

func planOf(w, h int, placements ...model.Placement) model.PlacementPlan {
	return model.PlacementPlan{
		Target:     model.Size{Width: w, Height: h},
		Mode:       model.ModeMultiPosition,
		Placements: placements,
	}
}

func TestComposite_FullyOutside(t *testing.T) {
	target := solid(200, 100, gray)

	plan := planOf(200, 100,
		model.Placement{X: 200, Y: 0, Width: 50, Height: 50, Opacity: 1},
		model.Placement{X: -50, Y: -50, Width: 50, Height: 50, Opacity: 1},
		model.Placement{X: 10, Y: 5000, Width: 50, Height: 50, Opacity: 1, Backing: true},
	)

	out, err := Composite(target, plan, solidSource(red))
	require.NoError(t, err)
	require.Equal(t, target.Pix, out.Pix)
}

func TestComposite_PartialClip(t *testing.T) {
	target := solid(800, 600, gray)
	plan := planOf(800, 600, model.Placement{X: 700, Y: 550, Width: 150, Height: 150, Opacity: 1})

	out, err := Composite(target, plan, solidSource(red))
	require.NoError(t, err)
	require.Equal(t, target.Bounds(), out.Bounds())

	require.Equal(t, red, out.NRGBAAt(700, 550))
	require.Equal(t, red, out.NRGBAAt(799, 599))
	require.Equal(t, gray, out.NRGBAAt(699, 550))
	require.Equal(t, gray, out.NRGBAAt(700, 549))
	require.Equal(t, gray, out.NRGBAAt(0, 0))
}

func TestComposite_NegativeOffset(t *testing.T) {
	target := solid(100, 100, gray)
	plan := planOf(100, 100, model.Placement{X: -50, Y: -20, Width: 100, Height: 40, Opacity: 1})

	out, err := Composite(target, plan, solidSource(red))
	require.NoError(t, err)

	require.Equal(t, red, out.NRGBAAt(0, 0))
	require.Equal(t, red, out.NRGBAAt(49, 19))
	require.Equal(t, gray, out.NRGBAAt(50, 0))
	require.Equal(t, gray, out.NRGBAAt(0, 20))
}

func TestComposite_TargetUntouched(t *testing.T) {
	target := solid(60, 60, gray)
	before := append([]uint8(nil), target.Pix...)

	plan := planOf(60, 60, model.Placement{X: 10, Y: 10, Width: 20, Height: 20, Opacity: 1})
	out, err := Composite(target, plan, solidSource(red))
	require.NoError(t, err)

	require.Equal(t, before, target.Pix)
	require.NotEqual(t, target.Pix, out.Pix)
}

func TestComposite_ZeroOpacity(t *testing.T) {
	target := solid(120, 80, gray)
	plan := planOf(120, 80, model.Placement{X: 10, Y: 10, Width: 50, Height: 50, Opacity: 0})

	called := false
	src := func(p model.Placement) (image.Image, error) {
		called = true
		return solid(p.Width, p.Height, red), nil
	}

	out, err := Composite(target, plan, src)
	require.NoError(t, err)
	require.Equal(t, target.Pix, out.Pix)
	require.False(t, called)
}

func TestComposite_OpacityMonotonic(t *testing.T) {
	target := solid(10, 10, gray)

	prev := -1
	for _, opacity := range []float64{0, 0.25, 0.5, 0.75, 1} {
		plan := planOf(10, 10, model.Placement{X: 0, Y: 0, Width: 10, Height: 10, Opacity: opacity})

		out, err := Composite(target, plan, solidSource(white))
		require.NoError(t, err)

		r := int(out.NRGBAAt(5, 5).R)
		require.Greater(t, r, prev, "opacity %v", opacity)
		prev = r
	}
	require.Equal(t, 255, prev)
}

func TestComposite_PartialAlphaIsModulated(t *testing.T) {
	target := solid(4, 4, black)
	half := color.NRGBA{R: 255, G: 255, B: 255, A: 128}

	full, err := Composite(target, planOf(4, 4, model.Placement{Width: 4, Height: 4, Opacity: 1}), solidSource(half))
	require.NoError(t, err)
	faded, err := Composite(target, planOf(4, 4, model.Placement{Width: 4, Height: 4, Opacity: 0.5}), solidSource(half))
	require.NoError(t, err)

	require.InDelta(t, 128, int(full.NRGBAAt(1, 1).R), 1)
	require.InDelta(t, 64, int(faded.NRGBAAt(1, 1).R), 1)
	require.Equal(t, uint8(255), faded.NRGBAAt(1, 1).A)
}

func TestComposite_PaintOrder(t *testing.T) {
	target := solid(50, 50, gray)

	layers := []color.NRGBA{red, blue}
	n := 0
	src := func(p model.Placement) (image.Image, error) {
		c := layers[n]
		n++
		return solid(p.Width, p.Height, c), nil
	}

	plan := planOf(50, 50,
		model.Placement{X: 0, Y: 0, Width: 30, Height: 30, Opacity: 1},
		model.Placement{X: 20, Y: 20, Width: 30, Height: 30, Opacity: 1},
	)

	out, err := Composite(target, plan, src)
	require.NoError(t, err)

	require.Equal(t, red, out.NRGBAAt(10, 10))
	require.Equal(t, blue, out.NRGBAAt(25, 25))
	require.Equal(t, blue, out.NRGBAAt(40, 40))
	require.Equal(t, gray, out.NRGBAAt(45, 5))
}

func TestComposite_Backing(t *testing.T) {
	target := solid(40, 40, black)

	// backing stays visible with a fully faded watermark
	plan := planOf(40, 40, model.Placement{X: 0, Y: 10, Width: 40, Height: 20, Opacity: 0, Backing: true})
	out, err := Composite(target, plan, solidSource(red))
	require.NoError(t, err)

	px := out.NRGBAAt(20, 20)
	require.InDelta(t, 77, int(px.R), 1)
	require.InDelta(t, 77, int(px.G), 1)
	require.InDelta(t, 77, int(px.B), 1)
	require.Equal(t, uint8(255), px.A)
	require.Equal(t, black, out.NRGBAAt(20, 5))

	// opaque watermark covers its backing completely
	plan.Placements[0].Opacity = 1
	out, err = Composite(target, plan, solidSource(red))
	require.NoError(t, err)
	require.Equal(t, red, out.NRGBAAt(20, 20))
}

func TestComposite_ResizesSource(t *testing.T) {
	target := solid(100, 100, gray)
	plan := planOf(100, 100, model.Placement{X: 10, Y: 10, Width: 40, Height: 30, Opacity: 1})

	src := func(model.Placement) (image.Image, error) {
		return solid(7, 3, red), nil
	}

	out, err := Composite(target, plan, src)
	require.NoError(t, err)
	require.Equal(t, red, out.NRGBAAt(30, 25))
	require.Equal(t, gray, out.NRGBAAt(50, 25))
	require.Equal(t, gray, out.NRGBAAt(30, 40))
}

func TestComposite_Errors(t *testing.T) {
	target := solid(10, 10, gray)
	ok := planOf(10, 10, model.Placement{Width: 5, Height: 5, Opacity: 1})

	_, err := Composite(nil, ok, solidSource(red))
	require.Error(t, err)

	_, err = Composite(target, ok, nil)
	require.Error(t, err)

	_, err = Composite(target, planOf(10, 10, model.Placement{Width: 0, Height: 5, Opacity: 1}), solidSource(red))
	require.ErrorIs(t, err, model.ErrInvalidConfig)

	// geometry is checked before anything is drawn, even for placements that would be clipped away
	_, err = Composite(target, planOf(10, 10,
		model.Placement{Width: 5, Height: 5, Opacity: 1},
		model.Placement{X: 1000, Width: 5, Height: -1, Opacity: 1},
	), solidSource(red))
	require.ErrorIs(t, err, model.ErrInvalidConfig)

	srcErr := errors.New("asset gone")
	_, err = Composite(target, ok, func(model.Placement) (image.Image, error) { return nil, srcErr })
	require.ErrorIs(t, err, srcErr)

	_, err = Composite(target, ok, func(model.Placement) (image.Image, error) { return nil, nil })
	require.ErrorIs(t, err, model.ErrDecode)
}

func TestComposite_EmptyPlan(t *testing.T) {
	target := solid(10, 10, gray)

	out, err := Composite(target, planOf(10, 10), solidSource(red))
	require.NoError(t, err)
	require.Equal(t, target.Pix, out.Pix)
}
