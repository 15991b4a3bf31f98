package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PipelineVersion tags every generated section result. A cached result whose
// version differs from this constant is never treated as validated or fresh,
// so logic upgrades force regeneration instead of re-serving old-shape data.
const PipelineVersion = "v3"

type SectionKey string

const (
	SectionOverview     SectionKey = "overview"
	SectionExercise     SectionKey = "exercise"
	SectionSupplements  SectionKey = "supplements"
	SectionMedications  SectionKey = "medications"
	SectionInteractions SectionKey = "interactions"
	SectionLabs         SectionKey = "labs"
	SectionNutrition    SectionKey = "nutrition"
	SectionLifestyle    SectionKey = "lifestyle"
)

// SectionOrder is the canonical display/iteration order.
var SectionOrder = []SectionKey{
	SectionOverview,
	SectionExercise,
	SectionSupplements,
	SectionMedications,
	SectionInteractions,
	SectionLabs,
	SectionNutrition,
	SectionLifestyle,
}

func NonOverviewSections() []SectionKey {
	out := make([]SectionKey, 0, len(SectionOrder)-1)
	for _, s := range SectionOrder {
		if s != SectionOverview {
			out = append(out, s)
		}
	}
	return out
}

func ParseSectionKey(raw string) (SectionKey, error) {
	for _, s := range SectionOrder {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown section key %q", raw)
}

type ReportMode string

const (
	ModeLatest ReportMode = "latest"
	ModeDaily  ReportMode = "daily"
	ModeWeekly ReportMode = "weekly"
	ModeCustom ReportMode = "custom"
)

func ParseReportMode(raw string) (ReportMode, error) {
	switch ReportMode(raw) {
	case ModeLatest, ModeDaily, ModeWeekly, ModeCustom:
		return ReportMode(raw), nil
	case "":
		return ModeLatest, nil
	}
	return "", fmt.Errorf("unknown report mode %q", raw)
}

// DateRange is an optional reporting window attached to a section request.
type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Key encodes the range as a canonical "YYYY-MM-DD..YYYY-MM-DD" string so
// identical ranges collapse to one cache key. Empty when unset.
func (r *DateRange) Key() string {
	if r == nil {
		return ""
	}
	from, to := "", ""
	if r.From != nil {
		from = r.From.UTC().Format("2006-01-02")
	}
	if r.To != nil {
		to = r.To.UTC().Format("2006-01-02")
	}
	if from == "" && to == "" {
		return ""
	}
	return from + ".." + to
}

type ResultSource string

const (
	SourceLLM      ResultSource = "llm"
	SourceQuick    ResultSource = "quick"
	SourceLLMError ResultSource = "llm-error"
)

type InsightStatus string

const (
	StatusFresh      InsightStatus = "fresh"
	StatusStale      InsightStatus = "stale"
	StatusGenerating InsightStatus = "generating"

	// StatusMissing only appears in status reports, never in storage: it
	// marks an issue x section pair with no metadata row yet.
	StatusMissing InsightStatus = "missing"
)

type ChangeType string

const (
	ChangeSupplements      ChangeType = "supplements"
	ChangeMedications      ChangeType = "medications"
	ChangeFood             ChangeType = "food"
	ChangeExercise         ChangeType = "exercise"
	ChangeHealthGoals      ChangeType = "health_goals"
	ChangeHealthSituations ChangeType = "health_situations"
	ChangeProfile          ChangeType = "profile"
	ChangeBloodResults     ChangeType = "blood_results"
)

func ParseChangeType(raw string) (ChangeType, error) {
	switch ChangeType(raw) {
	case ChangeSupplements, ChangeMedications, ChangeFood, ChangeExercise,
		ChangeHealthGoals, ChangeHealthSituations, ChangeProfile, ChangeBloodResults:
		return ChangeType(raw), nil
	}
	return "", fmt.Errorf("unknown change type %q", raw)
}

// ChangeEvent is consumed immediately by the invalidator; it is never persisted.
// Await makes the triggered regeneration run inline instead of detached, for
// callers that need the rebuilt sections before their next read.
type ChangeEvent struct {
	UserID     uuid.UUID  `json:"user_id"`
	ChangeType ChangeType `json:"change_type"`
	Timestamp  time.Time  `json:"timestamp"`
	Await      bool       `json:"await"`
}

// CacheKey is the composite identity of one cached section result.
type CacheKey struct {
	UserID     uuid.UUID  `json:"user_id"`
	IssueSlug  string     `json:"issue_slug"`
	SectionKey SectionKey `json:"section_key"`
	ReportMode ReportMode `json:"report_mode"`
	RangeKey   string     `json:"range_key"`
}
