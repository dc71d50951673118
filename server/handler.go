package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ecoscope/analysis"
	"ecoscope/areacontext"
	"ecoscope/database"
	"ecoscope/imageprocessor"
	"ecoscope/logging"
	"ecoscope/types"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Options configures a Handler. Store and Areas may be nil.
type Options struct {
	Analyzer    *analysis.Analyzer
	Store       *database.HistoryStore
	Areas       areacontext.Classifier
	MaxUpload   int64
	Visualize   bool
	SaveHistory bool
	CORSOrigin  string
	Version     string
}

// Handler serves the analysis API.
type Handler struct {
	analyzer    *analysis.Analyzer
	store       *database.HistoryStore
	areas       areacontext.Classifier
	maxUpload   int64
	visualize   bool
	saveHistory bool
	corsOrigin  string
	version     string
	startedAt   time.Time
}

func NewHandler(opts Options) *Handler {
	if opts.MaxUpload <= 0 {
		opts.MaxUpload = 10 << 20
	}
	return &Handler{
		analyzer:    opts.Analyzer,
		store:       opts.Store,
		areas:       opts.Areas,
		maxUpload:   opts.MaxUpload,
		visualize:   opts.Visualize,
		saveHistory: opts.SaveHistory && opts.Store != nil,
		corsOrigin:  opts.CORSOrigin,
		version:     opts.Version,
		startedAt:   time.Now(),
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := mapDomainError(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.LogError("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, status, code, msg, requestIDFromContext(r.Context()))
}

// ok writes data as the whole body; the request ID travels in the X-Request-Id header.
func (h *Handler) ok(w http.ResponseWriter, _ *http.Request, data any) {
	writeJSON(w, http.StatusOK, data)
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	h.ok(w, r, map[string]any{
		"message":       "EcoScope environmental analysis API",
		"version":       h.version,
		"status":        "running",
		"degraded_mode": h.analyzer.Degraded(),
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	modelStatus := "loaded"
	if h.analyzer.Degraded() {
		modelStatus = "degraded"
	}
	h.ok(w, r, map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().UTC(),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"model_status":   modelStatus,
		"history":        h.saveHistory,
	})
}

func (h *Handler) modelInfo(w http.ResponseWriter, r *http.Request) {
	h.ok(w, r, map[string]any{
		"model": h.analyzer.ModelInfo(),
		"capabilities": []string{
			"Glacier detection and melting analysis",
			"Urban drainage system mapping",
			"Road network infrastructure analysis",
			"Environmental impact assessment",
			"Before/after change detection",
		},
		"input_format":  imageprocessor.GetSupportedExtensions(),
		"output_format": "JSON analysis results",
	})
}

// analyzeUpload runs the single-image pipeline on the "file" field.
func (h *Handler) analyzeUpload(w http.ResponseWriter, r *http.Request) (types.AnalysisResult, error) {
	if err := parseForm(w, r, h.maxUpload); err != nil {
		return types.AnalysisResult{}, err
	}
	img, err := formImage(r, "file")
	if err != nil {
		return types.AnalysisResult{}, err
	}
	out, err := h.analyzer.Run(analysis.SingleImageRequest{Image: img})
	if err != nil {
		return types.AnalysisResult{}, err
	}
	res := *out.Analysis
	res.ID = uuid.NewString()
	return res, nil
}

func (h *Handler) analyzeEnvironmental(w http.ResponseWriter, r *http.Request) {
	res, err := h.analyzeUpload(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAnalysis(r.Context(), database.KindAnalysis, uploadName(r, "file"), res)
	h.ok(w, r, res)
}

func (h *Handler) analyzeChange(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r, 2*h.maxUpload); err != nil {
		h.fail(w, r, err)
		return
	}
	before, err := formImage(r, "before")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	after, err := formImage(r, "after")
	if err != nil {
		h.fail(w, r, err)
		return
	}

	out, err := h.analyzer.Run(analysis.ChangePairRequest{Before: before, After: after})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res := *out.Analysis
	res.ID = uuid.NewString()
	h.recordAnalysis(r.Context(), database.KindChange, uploadName(r, "before")+" -> "+uploadName(r, "after"), res)
	h.ok(w, r, res)
}

type featureKind int

const (
	glacierFeature featureKind = iota
	drainageFeature
	roadFeature
)

func (h *Handler) featureReport(kind featureKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := h.analyzeUpload(w, r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		switch kind {
		case glacierFeature:
			h.ok(w, r, analysis.GlacierReport(res))
		case drainageFeature:
			h.ok(w, r, analysis.DrainageReport(res))
		default:
			h.ok(w, r, analysis.RoadReport(res))
		}
	}
}

// comparePair runs the pixel comparison on the before/after uploads, with optional location context.
func (h *Handler) comparePair(w http.ResponseWriter, r *http.Request) (types.ComparisonResult, error) {
	if err := parseForm(w, r, 2*h.maxUpload); err != nil {
		return types.ComparisonResult{}, err
	}
	lat, lon, hasLocation, err := formCoordinates(r)
	if err != nil {
		return types.ComparisonResult{}, err
	}
	before, err := formImage(r, "before")
	if err != nil {
		return types.ComparisonResult{}, err
	}
	after, err := formImage(r, "after")
	if err != nil {
		return types.ComparisonResult{}, err
	}

	out, err := h.analyzer.Run(analysis.ComparisonRequest{
		Before:  before,
		After:   after,
		Options: analysis.CompareOptions{Visualize: formBool(r, "visualize", h.visualize)},
	})
	if err != nil {
		return types.ComparisonResult{}, err
	}
	cmp := *out.Comparison
	cmp.ID = uuid.NewString()
	if hasLocation {
		cmp.Location = &types.Location{
			Latitude:  lat,
			Longitude: lon,
			AreaType:  string(areacontext.Lookup(r.Context(), h.areas, lat, lon)),
		}
	}
	return cmp, nil
}

func (h *Handler) compare(w http.ResponseWriter, r *http.Request) {
	cmp, err := h.comparePair(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordComparison(r.Context(), uploadName(r, "before")+" -> "+uploadName(r, "after"), cmp)
	h.ok(w, r, cmp)
}

func (h *Handler) predict(w http.ResponseWriter, r *http.Request) {
	cmp, err := h.comparePair(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	period := strings.TrimSpace(r.FormValue("time_period"))
	forecast := analysis.Forecast(cmp, period)
	cmp.ComparisonImage = ""

	h.ok(w, r, map[string]any{
		"timestamp":          time.Now().UTC(),
		"location":           cmp.Location,
		"prediction_period":  forecast.TimePeriod,
		"current_changes":    cmp,
		"future_predictions": forecast,
		"recommendations":    forecast.Recommendations,
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.ok(w, r, map[string]any{"analysis_history": []types.HistoryEntry{}})
		return
	}
	limit := database.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer",
				requestIDFromContext(r.Context()))
			return
		}
		limit = min(n, 100)
	}
	entries, err := h.store.Recent(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, r, map[string]any{"analysis_history": entries})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.ok(w, r, &database.HistoryStats{ByKind: map[string]int{}, ByImpact: map[string]int{}})
		return
	}
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.ok(w, r, stats)
}

func (h *Handler) historyEntry(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.fail(w, r, database.ErrNotFound)
		return
	}
	entry, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var result json.RawMessage
	if entry.Payload != "" {
		result = json.RawMessage(entry.Payload)
	}
	h.ok(w, r, map[string]any{"entry": entry, "result": result})
}

func (h *Handler) recordAnalysis(ctx context.Context, kind, source string, res types.AnalysisResult) {
	if !h.saveHistory {
		return
	}
	entry, err := database.AnalysisEntry(kind, source, res)
	if err == nil {
		err = h.store.Save(ctx, &entry)
	}
	if err != nil {
		// the caller still gets the result
		logging.LogWarning("Could not save %s %s to history: %v", kind, res.ID, err)
	}
}

func (h *Handler) recordComparison(ctx context.Context, source string, cmp types.ComparisonResult) {
	if !h.saveHistory {
		return
	}
	entry, err := database.ComparisonEntry(source, cmp)
	if err == nil {
		err = h.store.Save(ctx, &entry)
	}
	if err != nil {
		logging.LogWarning("Could not save comparison %s to history: %v", cmp.ID, err)
	}
}

func uploadName(r *http.Request, field string) string {
	if r.MultipartForm != nil {
		if files := r.MultipartForm.File[field]; len(files) > 0 && files[0].Filename != "" {
			return files[0].Filename
		}
	}
	return field
}
