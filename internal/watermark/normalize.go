package watermark

import (
	"math"

	"github.com/UnendingLoop/GalleryWatermark/internal/model"
)

const (
	DefaultSize            = 100
	DefaultPatternCount    = 6
	DefaultPositionOpacity = 1.0
	DefaultBackedOpacity   = 0.5

	MaxPositions    = 64
	MaxPatternCount = 256
	MaxDimension    = 8192
	maxCoordinate   = 1 << 24
)

// position appended when "repeat" asks for more placements than were given
var repeatPosition = model.Position{X: 50, Y: 50}

// Normalize turns whatever an owner saved into a complete config. It never fails:
// missing or unusable fields take their defaults.
func Normalize(raw model.RawConfig) model.WatermarkConfig {
	positions := normalizePositions(raw.Positions, raw.Repeat)
	mode := resolveMode(raw, len(positions))

	opacity := DefaultPositionOpacity
	if mode.Backed() {
		opacity = DefaultBackedOpacity
	}
	if raw.Opacity.Valid {
		opacity = clampUnit(raw.Opacity.Value)
	}

	var sizeW, sizeH model.Number
	if raw.Size != nil {
		sizeW, sizeH = raw.Size.Width, raw.Size.Height
	}

	return model.WatermarkConfig{
		Mode: mode,
		Size: model.Size{
			Width:  dimension(sizeW, raw.Width),
			Height: dimension(sizeH, raw.Height),
		},
		Positions:           positions,
		PerPlacementOpacity: perPlacementOpacity(raw.PerWatermarkOpacity, len(positions), opacity),
		Opacity:             opacity,
		PatternCount:        patternCount(raw.PatternCount),
	}
}

// resolveMode: explicit mode first, then fillPattern over fitWidthCenter, then the position count.
func resolveMode(raw model.RawConfig, positions int) model.Mode {
	mode, ok := model.ParseMode(string(raw.Mode))
	switch {
	case ok && mode.Backed():
		return mode
	case ok:
		// single/multi only differ by the number of positions
	case bool(raw.FillPattern):
		return model.ModeFillPattern
	case bool(raw.FitWidthCenter):
		return model.ModeFitWidthCenter
	}

	if positions > 1 {
		return model.ModeMultiPosition
	}
	return model.ModeSinglePosition
}

func normalizePositions(raw model.RawPositions, repeat model.Number) []model.Position {
	positions := make([]model.Position, 0, len(raw))
	for _, p := range raw {
		if len(positions) == MaxPositions {
			break
		}
		positions = append(positions, model.Position{X: coordinate(p.X), Y: coordinate(p.Y)})
	}
	if len(positions) == 0 {
		positions = append(positions, model.Position{})
	}

	if !repeat.Valid || repeat.Value < 1 {
		return positions
	}

	want := int(math.Min(repeat.Value, MaxPositions))
	for len(positions) < want {
		positions = append(positions, repeatPosition)
	}
	return positions[:want]
}

func perPlacementOpacity(raw model.Numbers, count int, fallback float64) []float64 {
	res := make([]float64, count)
	for i := range res {
		res[i] = fallback
		if i < len(raw) && raw[i].Valid {
			res[i] = clampUnit(raw[i].Value)
		}
	}
	return res
}

func dimension(candidates ...model.Number) int {
	for _, c := range candidates {
		if !c.Valid {
			continue
		}
		if v := jsRound(c.Value); v >= 1 {
			return int(math.Min(v, MaxDimension))
		}
	}
	return DefaultSize
}

func patternCount(n model.Number) int {
	if !n.Valid || n.Value < 1 {
		return DefaultPatternCount
	}
	return int(math.Min(math.Floor(n.Value), MaxPatternCount))
}

func coordinate(n model.Number) int {
	if !n.Valid {
		return 0
	}
	return int(math.Max(math.Min(jsRound(n.Value), maxCoordinate), -maxCoordinate))
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}

// jsRound rounds half toward positive infinity, the way the placement UI does.
func jsRound(v float64) float64 {
	return math.Floor(v + 0.5)
}
