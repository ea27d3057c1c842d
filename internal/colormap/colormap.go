// Package colormap builds the 65,536-entry RGBA lookup tables that turn a
// decoded uint16 wire value into a presentation color, in flood-risk and
// absolute-topographic modes.
package colormap

import (
	"math"

	"github.com/floodcontour/elevation-tiles/internal/codec"
)

// Mode selects which rendering LUT to build.
type Mode int

const (
	ModeTopographic Mode = iota
	ModeFlood
)

func (m Mode) String() string {
	switch m {
	case ModeFlood:
		return "flood"
	default:
		return "topographic"
	}
}

// RGBA is a single 8-bit-per-channel color.
type RGBA struct {
	R, G, B, A uint8
}

// LUT maps every possible uint16 wire value (including the 65535 NoData
// sentinel) to a color. Index directly with the wire value.
type LUT [65536]RGBA

var (
	waterColor = RGBA{70, 130, 180, 230} // deep steel blue, near-full alpha: flood-mode NoData
	oceanColor = RGBA{70, 130, 180, 255} // topographic-mode NoData / below-sea color

	safeColor    = RGBA{76, 175, 80, 120}
	cautionColor = RGBA{255, 193, 7, 160}
	dangerColor  = RGBA{244, 67, 54, 200}
	floodedColor = RGBA{33, 150, 243, 220}
	transparent  = RGBA{0, 0, 0, 0}
)

// hypsometricStop is one control point of the topographic color ramp.
type hypsometricStop struct {
	elevM float64
	color RGBA
}

// hypsometricRamp runs green -> yellow-green -> tan -> brown -> gray -> white.
var hypsometricRamp = []hypsometricStop{
	{0, RGBA{34, 139, 34, 255}},
	{5, RGBA{85, 160, 60, 255}},
	{15, RGBA{139, 171, 77, 255}},
	{30, RGBA{189, 183, 107, 255}},
	{60, RGBA{210, 180, 140, 255}},
	{100, RGBA{193, 154, 107, 255}},
	{150, RGBA{160, 120, 90, 255}},
	{250, RGBA{139, 90, 60, 255}},
	{400, RGBA{150, 130, 120, 255}},
	{700, RGBA{160, 160, 160, 255}},
	{1200, RGBA{190, 190, 190, 255}},
	{2000, RGBA{220, 220, 220, 255}},
	{3000, RGBA{240, 240, 240, 255}},
	{4500, RGBA{250, 250, 250, 255}},
	{6500, RGBA{255, 255, 255, 255}},
}

const (
	topoCompressionScale = 120.0
	topoMaxElevation     = 6500.0
)

// BuildTopographic constructs the parameter-free topographic LUT. The
// result is safe to build once and share across requests.
func BuildTopographic() *LUT {
	var lut LUT
	denom := math.Asinh(topoMaxElevation / topoCompressionScale)

	positions := make([]float64, len(hypsometricRamp))
	for i, s := range hypsometricRamp {
		positions[i] = math.Asinh(s.elevM/topoCompressionScale) / denom
	}

	for u := 0; u < 65536; u++ {
		if u == int(codec.NoDataWire) {
			lut[u] = oceanColor
			continue
		}
		e := codec.Decode(uint16(u))
		if e < 0 {
			lut[u] = oceanColor
			continue
		}
		clamped := e
		if clamped > topoMaxElevation {
			clamped = topoMaxElevation
		}
		t := math.Asinh(clamped/topoCompressionScale) / denom
		lut[u] = hypsometricColorAt(t, positions)
	}
	return &lut
}

// hypsometricColorAt interpolates the ramp at normalized position t using
// the precomputed compressed position of each stop.
func hypsometricColorAt(t float64, positions []float64) RGBA {
	if t <= positions[0] {
		return hypsometricRamp[0].color
	}
	last := len(positions) - 1
	if t >= positions[last] {
		return hypsometricRamp[last].color
	}
	for i := 0; i < last; i++ {
		if t >= positions[i] && t <= positions[i+1] {
			span := positions[i+1] - positions[i]
			f := 0.0
			if span > 0 {
				f = (t - positions[i]) / span
			}
			return lerpColor(hypsometricRamp[i].color, hypsometricRamp[i+1].color, f)
		}
	}
	return hypsometricRamp[last].color
}

// BuildFlood constructs the LUT for a given water level in meters. Callers
// should quantize waterLevelM to the 0.1 m grid before calling, so the
// result is memoizable by that quantum.
func BuildFlood(waterLevelM float64) *LUT {
	var lut LUT
	for u := 0; u < 65536; u++ {
		if u == int(codec.NoDataWire) {
			lut[u] = waterColor
			continue
		}
		e := codec.Decode(uint16(u))
		lut[u] = floodColorAt(e, waterLevelM)
	}
	return &lut
}

func floodColorAt(elevM, waterLevelM float64) RGBA {
	r := elevM - waterLevelM
	switch {
	case r >= 5.0:
		return transparent
	case r >= 2.0:
		t := (5.0 - r) / 3.0
		return lerpColor(safeColor, cautionColor, t)
	case r >= 0.5:
		t := (2.0 - r) / 1.5
		return lerpColor(cautionColor, dangerColor, t)
	case r >= -0.5:
		t := (0.5 - r) / 1.0
		return lerpColor(dangerColor, floodedColor, t)
	default:
		return floodedColor
	}
}

func lerpColor(a, b RGBA, t float64) RGBA {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return RGBA{
		R: lerpByte(a.R, b.R, t),
		G: lerpByte(a.G, b.G, t),
		B: lerpByte(a.B, b.B, t),
		A: lerpByte(a.A, b.A, t),
	}
}

func lerpByte(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

// WaterColor returns the flood-mode NoData / water color.
func WaterColor() RGBA { return waterColor }

// OceanColor returns the topographic-mode NoData / below-sea color.
func OceanColor() RGBA { return oceanColor }

// QuantizeWaterLevel snaps a water level to the 0.1 m grid.
func QuantizeWaterLevel(waterLevelM float64) float64 {
	return math.Round(waterLevelM*10) / 10
}
