package analysis

import "ecoscope/types"

// DefaultForecastPeriod labels forecasts when the caller gives no horizon.
const DefaultForecastPeriod = "5_years"

type outlook struct {
	prediction     string
	recommendation string
}

var changeOutlooks = map[string]outlook{
	"deforestation": {
		"Continued deforestation may lead to soil erosion and biodiversity loss",
		"Implement reforestation programs and stricter logging regulations",
	},
	"urbanization": {
		"Urban expansion may increase pollution and reduce green spaces",
		"Plan sustainable urban development with green infrastructure",
	},
	"water_body_reduction": {
		"Water body reduction may affect local ecosystems and water availability",
		"Monitor water usage and implement conservation measures",
	},
	"vegetation_growth": {
		"Vegetation growth indicates positive environmental recovery",
		"Continue current conservation efforts",
	},
}

// Forecast projects risk from a comparison: HIGH above 20% change, MODERATE above 10%.
// Each recognised change type contributes one prediction and one recommendation, in order.
func Forecast(cmp types.ComparisonResult, period string) types.Forecast {
	if period == "" {
		period = DefaultForecastPeriod
	}
	f := types.Forecast{
		TimePeriod:      period,
		RiskLevel:       string(types.ImpactLow),
		Predictions:     []string{},
		Recommendations: []string{},
	}
	switch {
	case cmp.ChangePercentage > 20:
		f.RiskLevel = string(types.ImpactHigh)
	case cmp.ChangePercentage > 10:
		f.RiskLevel = string(types.ImpactModerate)
	}

	for _, change := range cmp.ChangeAnalysis.ChangeTypes {
		if o, ok := changeOutlooks[change]; ok {
			f.Predictions = append(f.Predictions, o.prediction)
			f.Recommendations = append(f.Recommendations, o.recommendation)
		}
	}
	return f
}
