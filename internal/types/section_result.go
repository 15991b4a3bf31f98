package types

import "time"

// IssueSummary is the per-issue header embedded in every section result and
// returned by the landing payload.
type IssueSummary struct {
	ID             string     `json:"id"`
	Slug           string     `json:"slug"`
	Name           string     `json:"name"`
	Polarity       Polarity   `json:"polarity"`
	SeverityLabel  string     `json:"severity_label"`
	SeverityScore  *float64   `json:"severity_score"`
	CurrentRating  *float64   `json:"current_rating"`
	RatingScaleMax int        `json:"rating_scale_max"`
	Trend          Trend      `json:"trend"`
	TrendDelta     *float64   `json:"trend_delta"`
	LastUpdated    *time.Time `json:"last_updated"`
	Highlight      string     `json:"highlight"`
	Blockers       []string   `json:"blockers"`
}

type Polarity string

const (
	PolarityPositive Polarity = "positive"
	PolarityNegative Polarity = "negative"
)

type Trend string

const (
	TrendImproving    Trend = "improving"
	TrendDeclining    Trend = "declining"
	TrendStable       Trend = "stable"
	TrendInconclusive Trend = "inconclusive"
)

type HighlightTone string

const (
	TonePositive HighlightTone = "positive"
	ToneNeutral  HighlightTone = "neutral"
	ToneWarning  HighlightTone = "warning"
)

type SectionHighlight struct {
	Title  string        `json:"title"`
	Detail string        `json:"detail"`
	Tone   HighlightTone `json:"tone"`
}

type SectionDatum struct {
	Label   string `json:"label"`
	Value   string `json:"value"`
	Context string `json:"context,omitempty"`
}

type RecommendationPriority string

const (
	PriorityNow     RecommendationPriority = "now"
	PrioritySoon    RecommendationPriority = "soon"
	PriorityMonitor RecommendationPriority = "monitor"
)

type SectionRecommendation struct {
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Actions     []string               `json:"actions"`
	Priority    RecommendationPriority `json:"priority"`
}

// SectionResult is the cached value for one composite key.
type SectionResult struct {
	Issue           IssueSummary            `json:"issue"`
	SectionKey      SectionKey              `json:"section"`
	GeneratedAt     time.Time               `json:"generated_at"`
	Confidence      float64                 `json:"confidence"`
	Summary         string                  `json:"summary"`
	Highlights      []SectionHighlight      `json:"highlights"`
	DataPoints      []SectionDatum          `json:"data_points"`
	Recommendations []SectionRecommendation `json:"recommendations"`
	Mode            ReportMode              `json:"mode"`
	Range           *DateRange              `json:"range,omitempty"`
	Extras          SectionExtras           `json:"extras"`
}

// SectionExtras carries the pipeline metadata that caching decisions depend
// on, plus at most one per-section structured payload. Which payload field is
// set is determined by SectionResult.SectionKey.
type SectionExtras struct {
	Source          ResultSource `json:"source"`
	PipelineVersion string       `json:"pipeline_version"`
	Validated       bool         `json:"validated"`
	Degraded        bool         `json:"degraded"`

	Exercise    *ExerciseExtras   `json:"exercise,omitempty"`
	Supplements *SupplementExtras `json:"supplements,omitempty"`
	Medications *MedicationExtras `json:"medications,omitempty"`
	Nutrition   *NutritionExtras  `json:"nutrition,omitempty"`
	Lifestyle   *LifestyleExtras  `json:"lifestyle,omitempty"`
	Labs        *LabExtras        `json:"labs,omitempty"`
}

// IsValidated reports whether the stored validated flag may be honored. A
// pipeline version mismatch always wins over the boolean.
func (e SectionExtras) IsValidated() bool {
	return e.Validated && e.PipelineVersion == PipelineVersion
}

// WorkingItem is something the user already logs that is judged helpful.
type WorkingItem struct {
	Name    string   `json:"name"`
	Reason  string   `json:"reason"`
	Dosage  string   `json:"dosage,omitempty"`
	Timing  []string `json:"timing,omitempty"`
	Details []string `json:"details,omitempty"`
}

// SuggestedItem is something worth adding or discussing with a clinician.
type SuggestedItem struct {
	Name     string   `json:"name"`
	Reason   string   `json:"reason"`
	Protocol string   `json:"protocol,omitempty"`
	Details  []string `json:"details,omitempty"`
}

// AvoidItem is something judged risky or counterproductive for the issue.
type AvoidItem struct {
	Name    string   `json:"name"`
	Reason  string   `json:"reason"`
	Details []string `json:"details,omitempty"`
}

type ExerciseExtras struct {
	WorkingActivities   []WorkingItem   `json:"working_activities"`
	SuggestedActivities []SuggestedItem `json:"suggested_activities"`
	AvoidActivities     []AvoidItem     `json:"avoid_activities"`
}

type SupplementExtras struct {
	WorkingSupplements   []WorkingItem   `json:"working_supplements"`
	SuggestedSupplements []SuggestedItem `json:"suggested_supplements"`
	AvoidSupplements     []AvoidItem     `json:"avoid_supplements"`
}

type MedicationExtras struct {
	WorkingMedications   []WorkingItem   `json:"working_medications"`
	SuggestedMedications []SuggestedItem `json:"suggested_medications"`
	AvoidMedications     []AvoidItem     `json:"avoid_medications"`
}

type NutritionExtras struct {
	WorkingFoods   []WorkingItem   `json:"working_foods"`
	SuggestedFoods []SuggestedItem `json:"suggested_foods"`
	AvoidFoods     []AvoidItem     `json:"avoid_foods"`
}

type LifestyleExtras struct {
	WorkingHabits   []WorkingItem   `json:"working_habits"`
	SuggestedHabits []SuggestedItem `json:"suggested_habits"`
	AvoidHabits     []AvoidItem     `json:"avoid_habits"`
}

type LabExtras struct {
	Markers []LabMarkerGuidance `json:"markers"`
}

type LabMarkerGuidance struct {
	Marker  string   `json:"marker"`
	Optimal string   `json:"optimal"`
	Cadence string   `json:"cadence"`
	Note    string   `json:"note,omitempty"`
	Details []string `json:"details,omitempty"`
}
