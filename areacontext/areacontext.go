// Package areacontext classifies the surroundings of a coordinate from OpenStreetMap data.
package areacontext

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ecoscope/logging"

	"github.com/serjvanilla/go-overpass"
)

// AreaType is a coarse land classification.
type AreaType string

const (
	Glacial AreaType = "glacial"
	Urban   AreaType = "urban"
	Rural   AreaType = "rural"
)

// Built-up landuse polygons needed nearby before an area counts as urban without a city or town node.
const urbanLanduseMin = 5

// Classifier resolves the area type around a coordinate.
type Classifier interface {
	Classify(ctx context.Context, lat, lon float64) (AreaType, error)
}

// OverpassClassifier queries an Overpass API endpoint.
type OverpassClassifier struct {
	query   func(string) (overpass.Result, error)
	timeout time.Duration
	radiusM int
}

// NewOverpassClassifier builds a classifier for endpoint, searching radiusM metres around each point.
func NewOverpassClassifier(endpoint string, timeout time.Duration, radiusM int) *OverpassClassifier {
	httpClient := &http.Client{
		Timeout: timeout,
	}
	client := overpass.NewWithSettings(endpoint, 2, httpClient)
	return &OverpassClassifier{
		query:   client.Query,
		timeout: timeout,
		radiusM: radiusM,
	}
}

// Classify returns Rural together with the error when the lookup fails.
func (c *OverpassClassifier) Classify(ctx context.Context, lat, lon float64) (AreaType, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return Rural, fmt.Errorf("coordinate out of range: %f,%f", lat, lon)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type reply struct {
		result overpass.Result
		err    error
	}
	done := make(chan reply, 1)
	q := buildQuery(lat, lon, c.radiusM, c.timeout)
	go func() {
		res, err := c.query(q)
		done <- reply{res, err}
	}()

	select {
	case <-ctx.Done():
		return Rural, fmt.Errorf("overpass query abandoned: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return Rural, fmt.Errorf("overpass query failed: %w", r.err)
		}
		return classifyTags(collectTags(r.result)), nil
	}
}

func buildQuery(lat, lon float64, radiusM int, timeout time.Duration) string {
	around := fmt.Sprintf("(around:%d,%f,%f)", radiusM, lat, lon)
	secs := int(timeout.Seconds())
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf(`
		[out:json][timeout:%d];
		(
			node["natural"="glacier"]%[2]s;
			way["natural"="glacier"]%[2]s;
			relation["natural"="glacier"]%[2]s;
			node["place"~"city|town"]%[2]s;
			way["landuse"~"residential|commercial|industrial|retail"]%[2]s;
		);
		out tags;
	`, secs, around)
}

func collectTags(result overpass.Result) []map[string]string {
	tags := make([]map[string]string, 0, len(result.Nodes)+len(result.Ways)+len(result.Relations))
	for _, node := range result.Nodes {
		tags = append(tags, node.Tags)
	}
	for _, way := range result.Ways {
		tags = append(tags, way.Tags)
	}
	for _, rel := range result.Relations {
		tags = append(tags, rel.Tags)
	}
	return tags
}

// classifyTags picks glacial over urban over rural.
func classifyTags(elements []map[string]string) AreaType {
	urbanPlace := false
	landuse := 0
	for _, tags := range elements {
		if strings.EqualFold(tags["natural"], "glacier") {
			return Glacial
		}
		switch strings.ToLower(tags["place"]) {
		case "city", "town":
			urbanPlace = true
		}
		switch strings.ToLower(tags["landuse"]) {
		case "residential", "commercial", "industrial", "retail":
			landuse++
		}
	}
	if urbanPlace || landuse >= urbanLanduseMin {
		return Urban
	}
	return Rural
}

// Lookup classifies with c and falls back to Rural on failure. A nil classifier always yields Rural.
func Lookup(ctx context.Context, c Classifier, lat, lon float64) AreaType {
	if c == nil {
		return Rural
	}
	area, err := c.Classify(ctx, lat, lon)
	if err != nil {
		logging.LogWarning("Area type lookup for %f,%f failed, assuming %s: %v", lat, lon, Rural, err)
		return Rural
	}
	return area
}
