package types

import "time"

// ImpactLevel is the ordinal severity assigned to an analysis.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "LOW"
	ImpactModerate ImpactLevel = "MODERATE"
	ImpactHigh     ImpactLevel = "HIGH"
	ImpactCritical ImpactLevel = "CRITICAL"
)

// Rank orders impact levels; unknown values rank below LOW.
func (l ImpactLevel) Rank() int {
	switch l {
	case ImpactLow:
		return 1
	case ImpactModerate:
		return 2
	case ImpactHigh:
		return 3
	case ImpactCritical:
		return 4
	default:
		return 0
	}
}

// GlacierFeature describes high-confidence connected regions.
type GlacierFeature struct {
	Detected          bool `json:"detected"`
	Count             int  `json:"count"`
	TotalArea         int  `json:"total_area"`
	MeltingIndicators bool `json:"melting_indicators"`
}

// DrainageFeature describes thin structures revealed by dilation.
type DrainageFeature struct {
	Detected          bool    `json:"detected"`
	LinearFeatures    int     `json:"linear_features"`
	DrainageDensity   float64 `json:"drainage_density"`
	NetworkComplexity string  `json:"network_complexity"`
}

// RoadFeature describes edge structure of the probability map.
type RoadFeature struct {
	Detected    bool    `json:"detected"`
	EdgePixels  int     `json:"edge_pixels"`
	RoadDensity float64 `json:"road_density"`
	NetworkType string  `json:"network_type"`
}

// ChangeFlags are the coarse whole-map environmental indicators.
type ChangeFlags struct {
	Deforestation  bool    `json:"deforestation"`
	Urbanization   bool    `json:"urbanization"`
	WaterBodies    float64 `json:"water_bodies"`
	VegetationLoss bool    `json:"vegetation_loss"`
}

// FeatureSet is the output of feature extraction over one probability map.
type FeatureSet struct {
	Glaciers             GlacierFeature  `json:"glaciers"`
	DrainageSystems      DrainageFeature `json:"drainage_systems"`
	RoadNetworks         RoadFeature     `json:"road_networks"`
	EnvironmentalChanges ChangeFlags     `json:"environmental_changes"`
}

// AnalysisResult is the serialized outcome of a network analysis.
type AnalysisResult struct {
	ID                        string           `json:"id,omitempty"`
	Timestamp                 time.Time        `json:"timestamp"`
	Mode                      string           `json:"mode"`
	AffectedAreaPercentage    float64          `json:"affected_area_percentage"`
	ImpactIntensityPercentage float64          `json:"impact_intensity_percentage"`
	ImpactLevel               ImpactLevel      `json:"impact_level"`
	FeaturesDetected          FeatureSet       `json:"features_detected"`
	Recommendations           []string         `json:"recommendations"`
	AreaReference             string           `json:"area_reference"`
	AffectedAreaKm2           *float64         `json:"affected_area_km2,omitempty"`
	AreaChange                *AreaChange      `json:"area_change,omitempty"`
	DegradedMode              bool             `json:"degraded_mode"`
	Capture                   *CaptureMetadata `json:"capture,omitempty"`
}

// AreaChange names the likely kind of change from its physical extent.
type AreaChange struct {
	ChangeType string   `json:"change_type"`
	Impact     string   `json:"impact"`
	Measures   []string `json:"measures"`
}

// ChangeAnalysis holds masked channel statistics of a pair comparison.
type ChangeAnalysis struct {
	VegetationChange float64  `json:"vegetation_change"`
	WaterChange      float64  `json:"water_change"`
	UrbanChange      float64  `json:"urban_change"`
	ChangeTypes      []string `json:"change_types"`
}

// ComparisonResult is the outcome of the heuristic before/after comparison.
type ComparisonResult struct {
	ID               string         `json:"id,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	Success          bool           `json:"success"`
	ChangePercentage float64        `json:"change_percentage"`
	ChangedPixels    int            `json:"changed_pixels"`
	TotalPixels      int            `json:"total_pixels"`
	ChangeAnalysis   ChangeAnalysis `json:"change_analysis"`
	ContoursCount    int            `json:"contours_count"`
	Location         *Location      `json:"location,omitempty"`
	ComparisonImage  string         `json:"comparison_image,omitempty"`
}

// Location is an optional geographic context for a comparison.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	AreaType  string  `json:"area_type,omitempty"`
}

// Forecast projects the environmental risk implied by a comparison.
type Forecast struct {
	TimePeriod      string   `json:"time_period"`
	RiskLevel       string   `json:"risk_level"`
	Predictions     []string `json:"predictions"`
	Recommendations []string `json:"recommendations"`
}

// FeatureReport is a single-feature view of an AnalysisResult. Exactly one detection field is set.
type FeatureReport struct {
	Timestamp         time.Time        `json:"timestamp"`
	GlacierDetection  *GlacierFeature  `json:"glacier_detection,omitempty"`
	DrainageDetection *DrainageFeature `json:"drainage_detection,omitempty"`
	RoadDetection     *RoadFeature     `json:"road_detection,omitempty"`
	ImpactLevel       ImpactLevel      `json:"impact_level"`
	Recommendations   []string         `json:"recommendations"`
	DegradedMode      bool             `json:"degraded_mode"`
}

// CaptureMetadata is what could be read from the source file's EXIF/XMP tags.
type CaptureMetadata struct {
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	CapturedAt string   `json:"captured_at,omitempty"`
	Make       string   `json:"make,omitempty"`
}

// HistoryEntry is one persisted analysis or comparison.
type HistoryEntry struct {
	ID               string     `json:"id" db:"id"`
	Kind             string     `json:"kind" db:"kind"`
	Source           string     `json:"source" db:"source"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	ImpactLevel      string     `json:"impact_level,omitempty" db:"impact_level"`
	AffectedArea     float64    `json:"affected_area" db:"affected_area"`
	ChangePercentage float64    `json:"change_percentage" db:"change_percentage"`
	Degraded         bool       `json:"degraded_mode" db:"degraded"`
	Latitude         *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude        *float64   `json:"longitude,omitempty" db:"longitude"`
	AreaType         string     `json:"area_type,omitempty" db:"area_type"`
	CapturedAt       *time.Time `json:"captured_at,omitempty" db:"captured_at"`
	SourceModifiedAt *time.Time `json:"source_modified_at,omitempty" db:"source_modified_at"`
	Payload          string     `json:"-" db:"payload"`
}

// ModelInfo describes the loaded segmentation network.
type ModelInfo struct {
	Backend      string `json:"backend"`
	Architecture string `json:"architecture"`
	InChannels   int    `json:"in_channels"`
	BaseChannels int    `json:"base_channels,omitempty"`
	InputSize    int    `json:"input_size"`
	Parameters   int    `json:"parameters,omitempty"`
	Degraded     bool   `json:"degraded_mode"`
	LoadError    string `json:"load_error,omitempty"`
	Source       string `json:"source,omitempty"`
}
