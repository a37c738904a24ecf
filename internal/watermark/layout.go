package watermark

import (
	"math"

	"github.com/UnendingLoop/GalleryWatermark/internal/model"
)

// ResolveLayout computes where the watermark is drawn on a target of the given size.
// It is pure and deterministic; placements come back in paint order and may extend
// past the target edges.
func ResolveLayout(targetWidth, targetHeight, watermarkWidth, watermarkHeight int, cfg model.WatermarkConfig) model.PlacementPlan {
	// hand-built configs get the same defaults as stored ones; normalized configs pass through unchanged
	cfg = Normalize(cfg.Raw())

	plan := model.PlacementPlan{
		Target:    model.Size{Width: targetWidth, Height: targetHeight},
		Watermark: model.Size{Width: watermarkWidth, Height: watermarkHeight},
		Mode:      cfg.Mode,
	}

	switch cfg.Mode {
	case model.ModeFitWidthCenter:
		plan.Placements = fitWidthCenter(targetWidth, targetHeight, cfg)
	case model.ModeFillPattern:
		plan.Placements = fillPattern(targetWidth, targetHeight, cfg)
	default:
		plan.Placements = atPositions(cfg)
	}
	return plan
}

func atPositions(cfg model.WatermarkConfig) []model.Placement {
	res := make([]model.Placement, len(cfg.Positions))
	for i, p := range cfg.Positions {
		res[i] = model.Placement{
			X:       p.X,
			Y:       p.Y,
			Width:   cfg.Size.Width,
			Height:  cfg.Size.Height,
			Opacity: cfg.PerPlacementOpacity[i],
		}
	}
	return res
}

// fitWidthCenter stretches the watermark over the whole target width and centers it vertically.
func fitWidthCenter(targetWidth, targetHeight int, cfg model.WatermarkConfig) []model.Placement {
	top := int(jsRound(float64(targetHeight-cfg.Size.Height) / 2))

	return []model.Placement{{
		X:       0,
		Y:       max(top, 0),
		Width:   targetWidth,
		Height:  cfg.Size.Height,
		Opacity: cfg.Opacity,
		Backing: true,
	}}
}

// fillPattern spreads PatternCount tiles over a near-square grid with equal margins.
// Spacing goes negative when the grid is larger than the target; tiles then overlap.
func fillPattern(targetWidth, targetHeight int, cfg model.WatermarkConfig) []model.Placement {
	n := cfg.PatternCount
	w, h := cfg.Size.Width, cfg.Size.Height

	cols := int(math.Ceil(math.Sqrt(float64(n))))
	rows := (n + cols - 1) / cols

	xSpacing := float64(targetWidth-cols*w) / float64(cols+1)
	ySpacing := float64(targetHeight-rows*h) / float64(rows+1)

	res := make([]model.Placement, 0, n)
	for row := 0; row < rows && len(res) < n; row++ {
		for col := 0; col < cols && len(res) < n; col++ {
			res = append(res, model.Placement{
				X:       int(jsRound(xSpacing + float64(col)*(float64(w)+xSpacing))),
				Y:       int(jsRound(ySpacing + float64(row)*(float64(h)+ySpacing))),
				Width:   w,
				Height:  h,
				Opacity: cfg.Opacity,
				Backing: true,
			})
		}
	}
	return res
}
