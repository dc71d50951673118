package analysis

import (
	"math"

	"ecoscope/types"
)

// Classify maps area and intensity percentages to an impact level.
// The first matching rule wins; either measure alone can raise the level.
func Classify(affectedArea, intensity float64) types.ImpactLevel {
	switch {
	case affectedArea > 50 || intensity > 70:
		return types.ImpactCritical
	case affectedArea > 30 || intensity > 50:
		return types.ImpactHigh
	case affectedArea > 15 || intensity > 30:
		return types.ImpactModerate
	default:
		return types.ImpactLow
	}
}

// Recommendations lists the fixed advice strings triggered by the level and detected features.
// The result is never nil so it serialises as an empty list.
func Recommendations(fs types.FeatureSet, level types.ImpactLevel) []string {
	recs := []string{}
	if level == types.ImpactCritical || level == types.ImpactHigh {
		recs = append(recs,
			"Immediate environmental assessment required",
			"Consider implementing conservation measures")
	}
	if fs.Glaciers.Detected {
		recs = append(recs,
			"Monitor glacier melting patterns",
			"Assess impact on water resources")
	}
	if fs.DrainageSystems.Detected {
		recs = append(recs,
			"Review urban drainage infrastructure",
			"Check for flooding risks")
	}
	if fs.RoadNetworks.Detected {
		recs = append(recs,
			"Assess infrastructure development impact",
			"Monitor habitat fragmentation")
	}
	return recs
}

// ClassifyAreaChange maps an affected area in km² to a change type, its impact and response measures.
func ClassifyAreaChange(km2 float64) types.AreaChange {
	switch {
	case km2 > 2:
		return types.AreaChange{
			ChangeType: "Glacial Lake Expansion",
			Impact:     "Risk of flooding",
			Measures:   []string{"Evacuate nearby zones", "Monitor water levels"},
		}
	case km2 > 0.5:
		return types.AreaChange{
			ChangeType: "Urban Drainage Shift",
			Impact:     "Urban flood risk",
			Measures:   []string{"Unblock drainage", "Increase monitoring"},
		}
	default:
		return types.AreaChange{
			ChangeType: "Road Network Extension",
			Impact:     "Construction impact",
			Measures:   []string{"Review construction permits", "Check water flow"},
		}
	}
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
