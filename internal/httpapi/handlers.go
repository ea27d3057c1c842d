package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/floodcontour/elevation-tiles/internal/apperr"
	"github.com/floodcontour/elevation-tiles/internal/colormap"
	"github.com/floodcontour/elevation-tiles/internal/coord"
	"github.com/floodcontour/elevation-tiles/internal/pointsample"
)

const immutableCacheControl = "public, max-age=31536000, immutable"

// handleUint16 serves GET /api/v1/tiles/elevation-data/{z}/{x}/{y}.u16.
func (s *Server) handleUint16(w http.ResponseWriter, r *http.Request) {
	z, x, y, ok := parseTileParams(w, r, ".u16")
	if !ok {
		return
	}

	// The Precompressed Store is consulted by default (and explicitly under
	// ?method=precompressed); ?method=runtime bypasses it to force a fresh
	// synthesis, e.g. when checking whether a regenerated pyramid is stale.
	preferPrecompressed := r.URL.Query().Get("method") != "runtime"
	accept := parseAcceptEncoding(r.Header.Get("Accept-Encoding"))

	payload, contentEncoding, src, err := s.engine.ServeUint16(r.Context(), z, x, y, preferPrecompressed, accept)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", immutableCacheControl)
	w.Header().Set("Vary", "Accept-Encoding")
	w.Header().Set("X-Tile-Source", string(src))
	if contentEncoding != "" && contentEncoding != "identity" {
		w.Header().Set("Content-Encoding", contentEncoding)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handleTopoPNG serves GET /api/v1/tiles/elevation/{z}/{x}/{y}.png.
func (s *Server) handleTopoPNG(w http.ResponseWriter, r *http.Request) {
	z, x, y, ok := parseTileParams(w, r, ".png")
	if !ok {
		return
	}
	s.servePNG(w, r, colormap.ModeTopographic, 0, z, x, y)
}

// handleFloodPNG serves GET /api/v1/tiles/flood/{water_level}/{z}/{x}/{y}.png.
func (s *Server) handleFloodPNG(w http.ResponseWriter, r *http.Request) {
	waterLevelStr := chi.URLParam(r, "waterLevel")
	waterLevelM, err := strconv.ParseFloat(waterLevelStr, 64)
	if err != nil {
		s.writeError(w, r, apperr.New(apperr.KindInvalidRequest, "httpapi.handleFloodPNG"))
		return
	}

	z, x, y, ok := parseTileParams(w, r, ".png")
	if !ok {
		return
	}
	s.servePNG(w, r, colormap.ModeFlood, waterLevelM, z, x, y)
}

func (s *Server) servePNG(w http.ResponseWriter, r *http.Request, mode colormap.Mode, waterLevelM float64, z, x, y int) {
	png, src, err := s.engine.ServePNG(r.Context(), mode, waterLevelM, z, x, y)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", immutableCacheControl)
	w.Header().Set("X-Tile-Source", string(src))
	if mode == colormap.ModeFlood {
		w.Header().Set("X-Water-Level", strconv.FormatFloat(waterLevelM, 'f', 1, 64))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

type riskLocationRequest struct {
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	WaterLevelM *float64 `json:"water_level_m"`
	IsWaterHint bool     `json:"is_water_hint"`
}

type riskLocationResponse struct {
	ElevationM      float64 `json:"elevation_m"`
	FloodRiskLevel  string  `json:"flood_risk_level"`
	RiskDescription string  `json:"risk_description"`
	WaterLevelM     float64 `json:"water_level_m"`
}

// handleRiskLocation serves POST /risk/location.
func (s *Server) handleRiskLocation(w http.ResponseWriter, r *http.Request) {
	var req riskLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.KindInvalidRequest, "httpapi.handleRiskLocation", err))
		return
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		s.writeError(w, r, apperr.New(apperr.KindInvalidRequest, "httpapi.handleRiskLocation"))
		return
	}
	waterLevelM := 0.0
	if req.WaterLevelM != nil {
		waterLevelM = *req.WaterLevelM
	}
	if err := s.engine.ValidateWaterLevel(waterLevelM); err != nil {
		s.writeError(w, r, err)
		return
	}

	z, tx, ty := tileForPoint(req.Longitude, req.Latitude)
	payload, _, _, err := s.engine.ServeUint16(r.Context(), z, tx, ty, true, []string{"identity"})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := pointsample.Sample(r.Context(), payload, req.Latitude, req.Longitude, waterLevelM, req.IsWaterHint)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, riskLocationResponse{
		ElevationM:      result.ElevationM,
		FloodRiskLevel:  result.FloodRiskLevel,
		RiskDescription: result.RiskDescription,
		WaterLevelM:     result.WaterLevelM,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if s.log != nil {
		s.log.Error("request failed", "error", err, "kind", kind, "status", status, "request_id", requestIDFromContext(r.Context()))
	}
	writeJSON(w, status, errorResponse{
		Error:     string(kind),
		RequestID: requestIDFromContext(r.Context()),
	})
}

// parseTileParams extracts {z}/{x}/{y<ext>} chi route params, stripping the
// trailing extension from the y segment, and writes a 400 on malformed
// input. ok is false when a response has already been written.
func parseTileParams(w http.ResponseWriter, r *http.Request, ext string) (z, x, y int, ok bool) {
	zStr := chi.URLParam(r, "z")
	xStr := chi.URLParam(r, "x")
	yExt := chi.URLParam(r, "yExt")
	yStr := strings.TrimSuffix(yExt, ext)

	var err error
	if z, err = strconv.Atoi(zStr); err != nil {
		writeBadTileRequest(w, r)
		return 0, 0, 0, false
	}
	if x, err = strconv.Atoi(xStr); err != nil {
		writeBadTileRequest(w, r)
		return 0, 0, 0, false
	}
	if y, err = strconv.Atoi(yStr); err != nil {
		writeBadTileRequest(w, r)
		return 0, 0, 0, false
	}
	return z, x, y, true
}

func writeBadTileRequest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Error:     string(apperr.KindInvalidRequest),
		RequestID: requestIDFromContext(r.Context()),
	})
}

// parseAcceptEncoding turns an Accept-Encoding header into an ordered
// preference list, br before gzip before identity regardless of the order
// the client listed them in; unrecognized tokens are dropped.
func parseAcceptEncoding(header string) []string {
	offered := make(map[string]bool)
	for _, tok := range strings.Split(header, ",") {
		tok = strings.TrimSpace(strings.SplitN(tok, ";", 2)[0])
		offered[tok] = true
	}
	var prefs []string
	for _, enc := range []string{"br", "gzip"} {
		if offered[enc] {
			prefs = append(prefs, enc)
		}
	}
	return append(prefs, "identity")
}

// tileForPoint resolves a (lon, lat) pair to the fixed-zoom tile used by the
// point-sample service.
func tileForPoint(lon, lat float64) (z, x, y int) {
	x, y = coord.LonLatToTile(lon, lat, pointsample.SampleZoom)
	return pointsample.SampleZoom, x, y
}
