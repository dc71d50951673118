package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ecoscope/types"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// History record kinds.
const (
	KindAnalysis   = "analysis"
	KindChange     = "change"
	KindComparison = "comparison"
)

// DefaultHistoryLimit is the number of entries Recent returns when no limit is given.
const DefaultHistoryLimit = 10

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("history entry not found")

const historyColumns = `id, kind, source, created_at, impact_level, affected_area, change_percentage,
	degraded, latitude, longitude, area_type, captured_at, source_modified_at, payload`

// HistoryStore persists analysis and comparison results.
type HistoryStore struct {
	db *sqlx.DB
}

// NewHistoryStore wraps a database opened with InitDatabase.
func NewHistoryStore(db *sqlx.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// HistoryStats aggregates the stored history.
type HistoryStats struct {
	Total        int            `json:"total"`
	Degraded     int            `json:"degraded"`
	ByKind       map[string]int `json:"by_kind"`
	ByImpact     map[string]int `json:"by_impact"`
	AverageArea  float64        `json:"average_affected_area"`
	LastAnalysis *time.Time     `json:"last_analysis,omitempty"`
}

// Save stores e, filling in ID and CreatedAt when they are empty.
func (s *HistoryStore) Save(ctx context.Context, e *types.HistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO analysis_history (`+historyColumns+`)
		VALUES (:id, :kind, :source, :created_at, :impact_level, :affected_area, :change_percentage,
			:degraded, :latitude, :longitude, :area_type, :captured_at, :source_modified_at, :payload)`, e)
	if err != nil {
		return fmt.Errorf("cannot store history entry for %s: %w", e.Source, err)
	}
	return nil
}

// Recent lists the newest entries first. A non-positive limit means DefaultHistoryLimit.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]types.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	entries := []types.HistoryEntry{}
	query := s.db.Rebind(`SELECT ` + historyColumns + ` FROM analysis_history
		ORDER BY created_at DESC, id LIMIT ?`)
	if err := s.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return entries, nil
}

// Get returns one entry by id.
func (s *HistoryStore) Get(ctx context.Context, id string) (types.HistoryEntry, error) {
	var e types.HistoryEntry
	query := s.db.Rebind(`SELECT ` + historyColumns + ` FROM analysis_history WHERE id = ?`)
	err := s.db.GetContext(ctx, &e, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return types.HistoryEntry{}, ErrNotFound
	}
	if err != nil {
		return types.HistoryEntry{}, fmt.Errorf("failed to query history entry %s: %w", id, err)
	}
	return e, nil
}

// LastAnalyzed returns the source modification time recorded by the newest entry for source.
// ok is false when the source was never analysed or no modification time was recorded.
func (s *HistoryStore) LastAnalyzed(ctx context.Context, source string) (modified time.Time, ok bool, err error) {
	var stamps []sql.NullTime
	query := s.db.Rebind(`SELECT source_modified_at FROM analysis_history
		WHERE source = ? ORDER BY created_at DESC LIMIT 1`)
	if err := s.db.SelectContext(ctx, &stamps, query, source); err != nil {
		return time.Time{}, false, fmt.Errorf("cannot get modified time for %s: %w", source, err)
	}
	if len(stamps) == 0 || !stamps[0].Valid {
		return time.Time{}, false, nil
	}
	return stamps[0].Time, true, nil
}

// Stats aggregates the whole history.
func (s *HistoryStore) Stats(ctx context.Context) (*HistoryStats, error) {
	stats := &HistoryStats{ByKind: map[string]int{}, ByImpact: map[string]int{}}

	var totals struct {
		Total    int             `db:"total"`
		Degraded sql.NullInt64   `db:"degraded"`
		AvgArea  sql.NullFloat64 `db:"avg_area"`
	}
	// comparisons store no affected area, so they are left out of the average
	err := s.db.GetContext(ctx, &totals, s.db.Rebind(`
		SELECT COUNT(*) AS total,
			SUM(CASE WHEN degraded THEN 1 ELSE 0 END) AS degraded,
			AVG(CASE WHEN kind <> ? THEN affected_area END) AS avg_area
		FROM analysis_history`), KindComparison)
	if err != nil {
		return nil, fmt.Errorf("failed to get history totals: %w", err)
	}
	stats.Total = totals.Total
	stats.Degraded = int(totals.Degraded.Int64)
	stats.AverageArea = totals.AvgArea.Float64

	var groups []struct {
		Label string `db:"label"`
		Count int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &groups,
		`SELECT kind AS label, COUNT(*) AS n FROM analysis_history GROUP BY kind`); err != nil {
		return nil, fmt.Errorf("failed to count history kinds: %w", err)
	}
	for _, g := range groups {
		stats.ByKind[g.Label] = g.Count
	}

	groups = groups[:0]
	if err := s.db.SelectContext(ctx, &groups,
		`SELECT impact_level AS label, COUNT(*) AS n FROM analysis_history
		WHERE impact_level <> '' GROUP BY impact_level`); err != nil {
		return nil, fmt.Errorf("failed to count impact levels: %w", err)
	}
	for _, g := range groups {
		stats.ByImpact[g.Label] = g.Count
	}

	if stats.Total > 0 {
		recent, err := s.Recent(ctx, 1)
		if err != nil {
			return nil, err
		}
		if len(recent) == 1 {
			last := recent[0].CreatedAt
			stats.LastAnalysis = &last
		}
	}
	return stats, nil
}

// AnalysisEntry builds a history entry from a network analysis. kind is KindAnalysis or KindChange.
func AnalysisEntry(kind, source string, r types.AnalysisResult) (types.HistoryEntry, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return types.HistoryEntry{}, fmt.Errorf("cannot encode analysis result: %w", err)
	}
	e := types.HistoryEntry{
		ID:           r.ID,
		Kind:         kind,
		Source:       source,
		CreatedAt:    r.Timestamp,
		ImpactLevel:  string(r.ImpactLevel),
		AffectedArea: r.AffectedAreaPercentage,
		Degraded:     r.DegradedMode,
		Payload:      string(payload),
	}
	if c := r.Capture; c != nil {
		e.Latitude, e.Longitude = c.Latitude, c.Longitude
		e.CapturedAt = parseCaptureTime(c.CapturedAt)
	}
	return e, nil
}

// ComparisonEntry builds a history entry from a pair comparison.
func ComparisonEntry(source string, c types.ComparisonResult) (types.HistoryEntry, error) {
	// the visualisation is large and reproducible, keep it out of the history
	c.ComparisonImage = ""
	payload, err := json.Marshal(c)
	if err != nil {
		return types.HistoryEntry{}, fmt.Errorf("cannot encode comparison result: %w", err)
	}
	e := types.HistoryEntry{
		ID:               c.ID,
		Kind:             KindComparison,
		Source:           source,
		CreatedAt:        c.Timestamp,
		ChangePercentage: c.ChangePercentage,
		Payload:          string(payload),
	}
	if loc := c.Location; loc != nil {
		lat, lon := loc.Latitude, loc.Longitude
		e.Latitude, e.Longitude = &lat, &lon
		e.AreaType = loc.AreaType
	}
	return e, nil
}

var captureLayouts = []string{
	"2006:01:02 15:04:05",
	"2006:01:02 15:04:05-07:00",
	time.RFC3339,
	"2006-01-02",
}

func parseCaptureTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range captureLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
