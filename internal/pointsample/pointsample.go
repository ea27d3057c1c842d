// Package pointsample implements the Point-Sample Service (§4.8): elevation
// and flood-risk classification for a single geographic coordinate.
package pointsample

import (
	"context"

	"github.com/floodcontour/elevation-tiles/internal/apperr"
	"github.com/floodcontour/elevation-tiles/internal/codec"
	"github.com/floodcontour/elevation-tiles/internal/coord"
)

// SampleZoom is the fixed zoom level used to resolve the covering tile.
const SampleZoom = 11

// Result is the response shape for POST /risk/location.
type Result struct {
	ElevationM       float64
	FloodRiskLevel   string
	RiskDescription  string
	WaterLevelM      float64
}

// Sample resolves (lat, lon) to an elevation and flood-risk classification.
// isWaterHint, when true, causes a NoData pixel to classify as water rather
// than unknown.
func Sample(ctx context.Context, payload []byte, lat, lon float64, waterLevelM float64, isWaterHint bool) (*Result, error) {
	tx, ty := coord.LonLatToTile(lon, lat, SampleZoom)
	px, py := coord.TilePixelCoords(lon, lat, SampleZoom, tx, ty, codec.TileDim)

	u, err := codec.ReadPixel(payload, int(px), int(py))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "pointsample.Sample", err)
	}

	if u == codec.NoDataWire {
		if isWaterHint {
			return &Result{
				ElevationM:      float64(codec.NoDataElevation),
				FloodRiskLevel:  "very_high",
				RiskDescription: "location is open water",
				WaterLevelM:     waterLevelM,
			}, nil
		}
		return &Result{
			ElevationM:      float64(codec.NoDataElevation),
			FloodRiskLevel:  "unknown",
			RiskDescription: "no elevation data at this location",
			WaterLevelM:     waterLevelM,
		}, nil
	}

	elevationM := codec.Decode(u)
	level, desc := classify(elevationM, waterLevelM)
	return &Result{
		ElevationM:      elevationM,
		FloodRiskLevel:  level,
		RiskDescription: desc,
		WaterLevelM:     waterLevelM,
	}, nil
}

// classify applies the §4.8 risk thresholds.
func classify(elevationM, waterLevelM float64) (level, description string) {
	delta := elevationM - waterLevelM
	switch {
	case elevationM <= waterLevelM:
		return "very_high", "at or below the current water level"
	case delta < 0.5:
		return "high", "less than 0.5 m above the current water level"
	case delta < 2.0:
		return "moderate", "less than 2 m above the current water level"
	case delta < 5.0:
		return "low", "less than 5 m above the current water level"
	default:
		return "low", "safe"
	}
}
