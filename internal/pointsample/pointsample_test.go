package pointsample

import (
	"context"
	"testing"

	"github.com/floodcontour/elevation-tiles/internal/codec"
)

func uniformPayload(e int16) []byte {
	mosaic := make([]int16, codec.TileDim*codec.TileDim)
	for i := range mosaic {
		mosaic[i] = e
	}
	return codec.EncodeTile(mosaic)
}

func TestSample_NoDataWithoutHint(t *testing.T) {
	payload := codec.AllNoDataPayload()
	res, err := Sample(context.Background(), payload, 0, 0, 1.0, false)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if res.FloodRiskLevel != "unknown" {
		t.Errorf("FloodRiskLevel = %q, want unknown", res.FloodRiskLevel)
	}
}

func TestSample_NoDataWithWaterHint(t *testing.T) {
	payload := codec.AllNoDataPayload()
	res, err := Sample(context.Background(), payload, 0, 0, 1.0, true)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if res.FloodRiskLevel != "very_high" {
		t.Errorf("FloodRiskLevel = %q, want very_high", res.FloodRiskLevel)
	}
}

func TestSample_RiskClassification(t *testing.T) {
	tests := []struct {
		name      string
		elevation int16
		waterM    float64
		want      string
	}{
		// Elevation 0 decodes to ~0 within +/-0.0725m of quantization error;
		// water levels are chosen with enough margin past each threshold
		// (0, 0.5, 2.0, 5.0) to stay robust to that rounding.
		{"at or below water level", 0, 0.2, "very_high"},
		{"well below water level", 0, 5, "very_high"},
		{"0.3m above", 0, -0.3, "high"},
		{"1.5m above", 0, -1.5, "moderate"},
		{"4m above", 0, -4, "low"},
		{"10m above, safe", 0, -10, "low"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := uniformPayload(tt.elevation)
			res, err := Sample(context.Background(), payload, 0, 0, tt.waterM, false)
			if err != nil {
				t.Fatalf("Sample: %v", err)
			}
			if res.FloodRiskLevel != tt.want {
				t.Errorf("FloodRiskLevel = %q, want %q", res.FloodRiskLevel, tt.want)
			}
		})
	}
}
