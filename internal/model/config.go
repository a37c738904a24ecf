package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// RawConfig is the watermark config exactly as owners save it. Every field decodes
// tolerantly: a value of the wrong type is treated as absent instead of failing the whole document.
type RawConfig struct {
	Mode                Label        `json:"mode,omitzero"`
	Size                *RawSize     `json:"size,omitempty"`
	Width               Number       `json:"width,omitzero"`
	Height              Number       `json:"height,omitzero"`
	Positions           RawPositions `json:"positions,omitempty"`
	Repeat              Number       `json:"repeat,omitzero"`
	Opacity             Number       `json:"opacity,omitzero"`
	PerWatermarkOpacity Numbers      `json:"perWatermarkOpacity,omitempty"`
	FitWidthCenter      Flag         `json:"fitWidthCenter,omitempty"`
	FillPattern         Flag         `json:"fillPattern,omitempty"`
	PatternCount        Number       `json:"patternCount,omitzero"`
}

type RawSize struct {
	Width  Number `json:"width,omitzero"`
	Height Number `json:"height,omitzero"`
}

type RawPosition struct {
	X Number `json:"x,omitzero"`
	Y Number `json:"y,omitzero"`
}

// ParseRawConfig reports only syntactically broken JSON; bad field values are absorbed.
func ParseRawConfig(data []byte) (RawConfig, error) {
	var raw RawConfig
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return raw, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return RawConfig{}, fmt.Errorf("parse watermark config: %w", err)
	}
	return raw, nil
}

func (r *RawSize) UnmarshalJSON(b []byte) error {
	type plain RawSize
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		*r = RawSize{}
		return nil
	}
	*r = RawSize(p)
	return nil
}

func (r *RawPosition) UnmarshalJSON(b []byte) error {
	type plain RawPosition
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		*r = RawPosition{}
		return nil
	}
	*r = RawPosition(p)
	return nil
}

// Scan - reads JSONB column into RawConfig
func (r *RawConfig) Scan(value any) error {
	if value == nil {
		*r = RawConfig{}
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("invalid type for RawConfig")
	}

	res, err := ParseRawConfig(b)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSONB to RawConfig: %w", err)
	}
	*r = res
	return nil
}

func (r RawConfig) Value() (driver.Value, error) {
	res, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RawConfig to JSONB: %w", err)
	}
	return res, nil
}

//--------------------

// Number - JSON scalar accepting numbers and numeric strings. Anything else, NaN and Inf are not Valid.
type Number struct {
	Value float64
	Valid bool
}

func Num(v float64) Number {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Number{}
	}
	return Number{Value: v, Valid: true}
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}

	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}

	switch t := v.(type) {
	case float64:
		*n = Num(t)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			*n = Num(f)
		}
	}
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Numbers - tolerant JSON array of Number; a non-array decodes as empty.
type Numbers []Number

func (ns *Numbers) UnmarshalJSON(b []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		*ns = nil
		return nil
	}

	res := make(Numbers, len(items))
	for i, item := range items {
		_ = res[i].UnmarshalJSON(item)
	}
	*ns = res
	return nil
}

// RawPositions - tolerant JSON array of positions; a non-array decodes as empty.
type RawPositions []RawPosition

func (ps *RawPositions) UnmarshalJSON(b []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(b, &items); err != nil {
		*ps = nil
		return nil
	}

	res := make(RawPositions, len(items))
	for i, item := range items {
		_ = res[i].UnmarshalJSON(item)
	}
	*ps = res
	return nil
}

// Flag - tolerant JSON boolean: true/false, "true"/"1"/..., non-zero numbers.
type Flag bool

func (f *Flag) UnmarshalJSON(b []byte) error {
	*f = false

	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}

	switch t := v.(type) {
	case bool:
		*f = Flag(t)
	case float64:
		*f = t != 0
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(t))
		*f = Flag(err == nil && parsed)
	}
	return nil
}

// Label - tolerant JSON string; a non-string decodes as empty.
type Label string

func (l *Label) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*l = ""
		return nil
	}
	*l = Label(s)
	return nil
}
