package analysis

import (
	"strings"

	"ecoscope/types"
)

// GlacierReport narrows a result to glacier detection and water-related advice.
func GlacierReport(r types.AnalysisResult) types.FeatureReport {
	rep := featureReport(r, "glacier", "water")
	g := r.FeaturesDetected.Glaciers
	rep.GlacierDetection = &g
	return rep
}

// DrainageReport narrows a result to drainage detection and flooding advice.
func DrainageReport(r types.AnalysisResult) types.FeatureReport {
	rep := featureReport(r, "drainage", "flooding")
	d := r.FeaturesDetected.DrainageSystems
	rep.DrainageDetection = &d
	return rep
}

// RoadReport narrows a result to road detection and infrastructure advice.
func RoadReport(r types.AnalysisResult) types.FeatureReport {
	rep := featureReport(r, "infrastructure", "habitat")
	rd := r.FeaturesDetected.RoadNetworks
	rep.RoadDetection = &rd
	return rep
}

func featureReport(r types.AnalysisResult, keywords ...string) types.FeatureReport {
	recs := []string{}
	for _, rec := range r.Recommendations {
		lower := strings.ToLower(rec)
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				recs = append(recs, rec)
				break
			}
		}
	}
	return types.FeatureReport{
		Timestamp:       r.Timestamp,
		ImpactLevel:     r.ImpactLevel,
		Recommendations: recs,
		DegradedMode:    r.DegradedMode,
	}
}
