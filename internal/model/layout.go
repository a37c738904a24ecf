package model

import "strings"

// Mode - layout strategy of a watermark config. Exactly one per config.
type Mode string

const (
	ModeSinglePosition Mode = "single_position"
	ModeMultiPosition  Mode = "multi_position"
	ModeFitWidthCenter Mode = "fit_width_center"
	ModeFillPattern    Mode = "fill_pattern"
)

var modeAliases = map[string]Mode{
	"single":         ModeSinglePosition,
	"singleposition": ModeSinglePosition,
	"multi":          ModeMultiPosition,
	"multiposition":  ModeMultiPosition,
	"fitwidth":       ModeFitWidthCenter,
	"fitwidthcenter": ModeFitWidthCenter,
	"fill":           ModeFillPattern,
	"pattern":        ModeFillPattern,
	"fillpattern":    ModeFillPattern,
}

// ParseMode accepts canonical names and loose spellings ("fillPattern", "fit-width-center", ...)
func ParseMode(s string) (Mode, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)
	m, ok := modeAliases[key]
	return m, ok
}

// Backed reports whether placements of this mode are drawn over a semi-transparent white backing.
func (m Mode) Backed() bool {
	return m == ModeFitWidthCenter || m == ModeFillPattern
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// WatermarkConfig - normalized placement intent. Produced only by watermark.Normalize
// and never modified afterwards: derive a new value instead.
type WatermarkConfig struct {
	Mode                Mode       `json:"mode"`
	Size                Size       `json:"size"`
	Positions           []Position `json:"positions"`
	PerPlacementOpacity []float64  `json:"per_placement_opacity"`
	Opacity             float64    `json:"opacity"`
	PatternCount        int        `json:"pattern_count"`
}

// Raw converts the config back into its storable form. Normalizing the result yields the same config.
func (c WatermarkConfig) Raw() RawConfig {
	raw := RawConfig{
		Mode:         Label(c.Mode),
		Size:         &RawSize{Width: Num(float64(c.Size.Width)), Height: Num(float64(c.Size.Height))},
		Positions:    make(RawPositions, len(c.Positions)),
		Repeat:       Num(float64(len(c.Positions))),
		Opacity:      Num(c.Opacity),
		PatternCount: Num(float64(c.PatternCount)),
	}
	for i, p := range c.Positions {
		raw.Positions[i] = RawPosition{X: Num(float64(p.X)), Y: Num(float64(p.Y))}
	}
	raw.PerWatermarkOpacity = make(Numbers, len(c.PerPlacementOpacity))
	for i, o := range c.PerPlacementOpacity {
		raw.PerWatermarkOpacity[i] = Num(o)
	}
	raw.FitWidthCenter = Flag(c.Mode == ModeFitWidthCenter)
	raw.FillPattern = Flag(c.Mode == ModeFillPattern)
	return raw
}

// Placement - one resolved rectangle the watermark is drawn into.
// Backing placements carry a white backing under the watermark; Opacity then applies to the watermark layer only.
type Placement struct {
	X       int     `json:"x"`
	Y       int     `json:"y"`
	Width   int     `json:"width"`
	Height  int     `json:"height"`
	Opacity float64 `json:"opacity"`
	Backing bool    `json:"backing,omitempty"`
}

// PlacementPlan - placements in paint order for one target image
type PlacementPlan struct {
	Target     Size        `json:"target"`
	Watermark  Size        `json:"watermark"`
	Mode       Mode        `json:"mode"`
	Placements []Placement `json:"placements"`
}
