package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/types"
)

const (
	confidenceFull          = 0.78
	confidenceDegraded      = 0.6
	confidenceQuick         = 0.5
	confidenceDeterministic = 0.9

	fullAttempts      = 3
	quickAttempts     = 1
	quickWarmAttempts = 2
)

// SectionBuildOptions selects the report window a build runs against.
type SectionBuildOptions struct {
	Mode  types.ReportMode
	Range *types.DateRange

	// QuickRetry allows a quick build one stricter follow-up attempt when the
	// first response misses its coverage floor. Bulk cache warming sets this
	// so warmed entries look less sparse; interactive quick builds stay at a
	// single attempt.
	QuickRetry bool
}

// SectionBuilder produces a complete SectionResult for one issue+section pair.
// Quick builds trade quality for latency: a single external attempt, relaxed
// thresholds, always marked degraded. Full builds retry up to the attempt
// budget and mark the result validated only when the quality gate passes.
type SectionBuilder interface {
	BuildQuick(ctx context.Context, uc *UserInsightContext, issue IssueRef, section types.SectionKey, opts SectionBuildOptions) (*types.SectionResult, error)
	BuildFull(ctx context.Context, uc *UserInsightContext, issue IssueRef, section types.SectionKey, opts SectionBuildOptions) (*types.SectionResult, error)
}

type sectionBuilder struct {
	log       *logger.Logger
	generator SectionGenerator
	now       func() time.Time
}

func NewSectionBuilder(log *logger.Logger, generator SectionGenerator) SectionBuilder {
	return &sectionBuilder{
		log:       log.With("service", "SectionBuilder"),
		generator: generator,
		now:       time.Now,
	}
}

func (b *sectionBuilder) BuildQuick(ctx context.Context, uc *UserInsightContext, issue IssueRef, section types.SectionKey, opts SectionBuildOptions) (*types.SectionResult, error) {
	return b.build(ctx, uc, issue, section, opts, true)
}

func (b *sectionBuilder) BuildFull(ctx context.Context, uc *UserInsightContext, issue IssueRef, section types.SectionKey, opts SectionBuildOptions) (*types.SectionResult, error) {
	return b.build(ctx, uc, issue, section, opts, false)
}

// deterministicSection reports whether a section is assembled purely from
// loaded context, so quick and full builds return identical results.
func deterministicSection(section types.SectionKey) bool {
	return section == types.SectionOverview || section == types.SectionInteractions
}

func (b *sectionBuilder) build(ctx context.Context, uc *UserInsightContext, issue IssueRef, section types.SectionKey, opts SectionBuildOptions, quick bool) (*types.SectionResult, error) {
	summary := EnrichIssueSummary(issue, uc)

	switch section {
	case types.SectionOverview:
		return b.buildOverview(uc, summary, opts), nil
	case types.SectionInteractions:
		return b.buildInteractions(uc, summary, opts), nil
	}

	req := buildGenerateRequest(uc, issue, summary, section, opts.Mode)

	var thresholds GateThresholds
	attempts := fullAttempts
	if quick {
		thresholds = QuickThresholds()
		attempts = quickAttempts
		if opts.QuickRetry {
			attempts = quickWarmAttempts
		}
	} else {
		thresholds = FullThresholds(len(req.FocusItems) > 0)
	}

	payload, err := b.generator.Generate(ctx, req, thresholds, attempts)
	if err != nil {
		return nil, fmt.Errorf("build %s section: %w", section, err)
	}

	extras := types.SectionExtras{
		PipelineVersion: types.PipelineVersion,
	}
	confidence := confidenceFull
	if quick {
		extras.Source = types.SourceQuick
		extras.Validated = false
		extras.Degraded = true
		confidence = confidenceQuick
	} else {
		extras.Source = types.SourceLLM
		extras.Validated = MeetsGate(payload, thresholds)
		extras.Degraded = !extras.Validated
		if extras.Degraded {
			confidence = confidenceDegraded
		}
	}
	attachSectionExtras(&extras, section, payload, issue)

	result := &types.SectionResult{
		Issue:           summary,
		SectionKey:      section,
		GeneratedAt:     b.now().UTC(),
		Confidence:      confidence,
		Summary:         payload.Summary,
		Highlights:      payloadHighlights(payload),
		DataPoints:      sectionDataPoints(uc, section),
		Recommendations: payloadRecommendations(payload),
		Mode:            opts.Mode,
		Range:           opts.Range,
		Extras:          extras,
	}
	return result, nil
}

func buildGenerateRequest(uc *UserInsightContext, issue IssueRef, summary types.IssueSummary, section types.SectionKey, mode types.ReportMode) GenerateRequest {
	req := GenerateRequest{
		IssueSlug:    issue.Slug,
		IssueName:    issue.Name,
		IssueSummary: issueSummaryText(summary),
		Section:      section,
		Mode:         mode,
	}

	kb, hasKB := issueKnowledgeBase[pickKnowledgeKey(issue.Name)]

	switch section {
	case types.SectionSupplements:
		req.FocusItems = uc.Supplements
		req.OtherItems = uc.Medications
		if hasKB {
			for _, h := range kb.HelpfulSupplements {
				req.KnowledgeNotes = append(req.KnowledgeNotes, fmt.Sprintf("%s %s", h.Pattern.String(), h.Why))
			}
			for _, g := range kb.GapSupplements {
				req.KnowledgeNotes = append(req.KnowledgeNotes, fmt.Sprintf("%s: %s (%s)", g.Title, g.Why, g.Suggested))
			}
		}
	case types.SectionMedications:
		req.FocusItems = uc.Medications
		req.OtherItems = uc.Supplements
	case types.SectionExercise:
		for _, e := range uc.ExerciseLogs {
			req.ContextNotes = append(req.ContextNotes, exerciseNote(e))
		}
		if uc.Profile.ExerciseFrequency != "" {
			req.ContextNotes = append(req.ContextNotes, "Self-reported exercise frequency: "+uc.Profile.ExerciseFrequency)
		}
		if hasKB {
			for _, n := range kb.SupportiveExercises {
				req.KnowledgeNotes = append(req.KnowledgeNotes, n.Title+": "+n.Detail)
			}
		}
	case types.SectionNutrition:
		for _, f := range uc.FoodLogs {
			req.ContextNotes = append(req.ContextNotes, foodNote(f))
		}
		if hasKB {
			for _, n := range kb.NutritionFocus {
				req.KnowledgeNotes = append(req.KnowledgeNotes, n.Title+": "+n.Detail)
			}
		}
	case types.SectionLifestyle:
		req.ContextNotes = profileNotes(uc)
		if hasKB {
			for _, n := range kb.LifestyleFocus {
				req.KnowledgeNotes = append(req.KnowledgeNotes, n.Title+": "+n.Detail)
			}
		}
	case types.SectionLabs:
		if uc.Blood != nil {
			for _, m := range uc.Blood.Markers {
				req.ContextNotes = append(req.ContextNotes, bloodMarkerNote(m))
			}
			if uc.Blood.Notes != "" {
				req.ContextNotes = append(req.ContextNotes, "Lab notes: "+uc.Blood.Notes)
			}
		}
		if hasKB {
			for _, l := range kb.KeyLabs {
				note := fmt.Sprintf("%s - optimal %s, retest %s", l.Marker, l.Optimal, l.Cadence)
				req.KnowledgeNotes = append(req.KnowledgeNotes, note)
			}
		}
	}
	return req
}

func issueSummaryText(s types.IssueSummary) string {
	parts := []string{s.Highlight}
	if s.CurrentRating != nil {
		parts = append(parts, fmt.Sprintf("Current rating %.1f/%d (%s)", *s.CurrentRating, s.RatingScaleMax, s.SeverityLabel))
	}
	if s.TrendDelta != nil {
		parts = append(parts, fmt.Sprintf("Trend %s (delta %+.2f)", s.Trend, *s.TrendDelta))
	}
	if len(s.Blockers) > 0 {
		parts = append(parts, "Blockers: "+strings.Join(s.Blockers, "; "))
	}
	return strings.Join(parts, ". ")
}

func exerciseNote(e ExerciseEntry) string {
	note := e.Type
	if e.Duration > 0 {
		note += fmt.Sprintf(", %d min", e.Duration)
	}
	if e.Intensity != "" {
		note += ", " + e.Intensity
	}
	return note + " (" + e.CreatedAt.Format("2006-01-02") + ")"
}

func foodNote(f FoodEntry) string {
	note := f.Name
	if f.Description != "" {
		note += " - " + f.Description
	}
	return note + " (" + f.CreatedAt.Format("2006-01-02") + ")"
}

func bloodMarkerNote(m BloodMarker) string {
	note := m.Name
	if m.Value != nil {
		note += fmt.Sprintf(": %.2f", *m.Value)
		if m.Unit != "" {
			note += " " + m.Unit
		}
	}
	if m.Reference != "" {
		note += " (ref " + m.Reference + ")"
	}
	return note
}

func profileNotes(uc *UserInsightContext) []string {
	var notes []string
	p := uc.Profile
	if p.Gender != "" {
		notes = append(notes, "Gender: "+p.Gender)
	}
	if p.Weight != nil {
		notes = append(notes, fmt.Sprintf("Weight: %.1f", *p.Weight))
	}
	if p.Height != nil {
		notes = append(notes, fmt.Sprintf("Height: %.1f", *p.Height))
	}
	if p.BodyType != "" {
		notes = append(notes, "Body type: "+p.BodyType)
	}
	if p.ExerciseFrequency != "" {
		notes = append(notes, "Exercise frequency: "+p.ExerciseFrequency)
	}
	notes = append(notes, fmt.Sprintf("Recent exercise sessions logged: %d", len(uc.ExerciseLogs)))
	notes = append(notes, fmt.Sprintf("Recent meals logged: %d", len(uc.FoodLogs)))
	return notes
}

// attachSectionExtras maps the generic payload buckets into the typed
// per-section payload, expanding each reason into detail bullets.
func attachSectionExtras(extras *types.SectionExtras, section types.SectionKey, payload *SectionPayload, issue IssueRef) {
	workingVariant, suggestedVariant, avoidVariant := detailWorking, detailSuggested, detailAvoid
	if section == types.SectionNutrition {
		workingVariant, suggestedVariant, avoidVariant = detailNutritionWorking, detailNutritionSuggested, detailNutritionAvoid
	}

	working := make([]types.WorkingItem, 0, len(payload.Working))
	for _, it := range payload.Working {
		working = append(working, types.WorkingItem{
			Name:    it.Name,
			Reason:  it.Reason,
			Dosage:  it.Dosage,
			Timing:  it.Timing,
			Details: buildDetailBullets(it.Reason, it.Dosage, it.Timing, "", "", workingVariant),
		})
	}
	suggested := make([]types.SuggestedItem, 0, len(payload.Suggested))
	for _, it := range payload.Suggested {
		suggested = append(suggested, types.SuggestedItem{
			Name:     it.Name,
			Reason:   it.Reason,
			Protocol: it.Protocol,
			Details:  buildDetailBullets(it.Reason, "", nil, it.Protocol, "", suggestedVariant),
		})
	}
	avoid := make([]types.AvoidItem, 0, len(payload.Avoid))
	for _, it := range payload.Avoid {
		avoid = append(avoid, types.AvoidItem{
			Name:    it.Name,
			Reason:  it.Reason,
			Details: buildDetailBullets(it.Reason, it.Dosage, it.Timing, "", "", avoidVariant),
		})
	}

	switch section {
	case types.SectionExercise:
		extras.Exercise = &types.ExerciseExtras{WorkingActivities: working, SuggestedActivities: suggested, AvoidActivities: avoid}
	case types.SectionSupplements:
		extras.Supplements = &types.SupplementExtras{WorkingSupplements: working, SuggestedSupplements: suggested, AvoidSupplements: avoid}
	case types.SectionMedications:
		extras.Medications = &types.MedicationExtras{WorkingMedications: working, SuggestedMedications: suggested, AvoidMedications: avoid}
	case types.SectionNutrition:
		extras.Nutrition = &types.NutritionExtras{WorkingFoods: working, SuggestedFoods: suggested, AvoidFoods: avoid}
	case types.SectionLifestyle:
		extras.Lifestyle = &types.LifestyleExtras{WorkingHabits: working, SuggestedHabits: suggested, AvoidHabits: avoid}
	case types.SectionLabs:
		extras.Labs = buildLabExtras(payload, issue)
	}
}

// buildLabExtras merges the knowledge base's key markers for the issue with
// markers the generated payload suggested, deduplicated by name. KB entries
// win because they carry vetted optimal ranges and cadences.
func buildLabExtras(payload *SectionPayload, issue IssueRef) *types.LabExtras {
	out := &types.LabExtras{}
	seen := map[string]bool{}

	if kb, ok := issueKnowledgeBase[pickKnowledgeKey(issue.Name)]; ok {
		for _, l := range kb.KeyLabs {
			out.Markers = append(out.Markers, types.LabMarkerGuidance{
				Marker:  l.Marker,
				Optimal: l.Optimal,
				Cadence: l.Cadence,
				Note:    l.Note,
			})
			seen[strings.ToLower(l.Marker)] = true
		}
	}
	for _, it := range payload.Suggested {
		key := strings.ToLower(it.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out.Markers = append(out.Markers, types.LabMarkerGuidance{
			Marker:  it.Name,
			Optimal: it.Protocol,
			Cadence: "Discuss retest cadence with your clinician",
			Note:    it.Reason,
			Details: buildDetailBullets(it.Reason, "", nil, "", "", detailLabsData),
		})
	}
	return out
}

func payloadHighlights(payload *SectionPayload) []types.SectionHighlight {
	var highlights []types.SectionHighlight
	for i, it := range payload.Working {
		if i >= 2 {
			break
		}
		highlights = append(highlights, types.SectionHighlight{
			Title:  it.Name,
			Detail: it.Reason,
			Tone:   types.TonePositive,
		})
	}
	if len(payload.Avoid) > 0 {
		highlights = append(highlights, types.SectionHighlight{
			Title:  payload.Avoid[0].Name,
			Detail: payload.Avoid[0].Reason,
			Tone:   types.ToneWarning,
		})
	}
	return highlights
}

func sectionDataPoints(uc *UserInsightContext, section types.SectionKey) []types.SectionDatum {
	switch section {
	case types.SectionSupplements:
		return []types.SectionDatum{{Label: "Supplements logged", Value: fmt.Sprintf("%d", len(uc.Supplements))}}
	case types.SectionMedications:
		return []types.SectionDatum{{Label: "Medications logged", Value: fmt.Sprintf("%d", len(uc.Medications))}}
	case types.SectionExercise:
		return []types.SectionDatum{{Label: "Recent sessions", Value: fmt.Sprintf("%d", len(uc.ExerciseLogs))}}
	case types.SectionNutrition:
		return []types.SectionDatum{{Label: "Recent meals logged", Value: fmt.Sprintf("%d", len(uc.FoodLogs))}}
	case types.SectionLabs:
		markers := 0
		if uc.Blood != nil {
			markers = len(uc.Blood.Markers)
		}
		return []types.SectionDatum{{Label: "Markers on file", Value: fmt.Sprintf("%d", markers)}}
	case types.SectionLifestyle:
		return []types.SectionDatum{
			{Label: "Recent sessions", Value: fmt.Sprintf("%d", len(uc.ExerciseLogs))},
			{Label: "Recent meals logged", Value: fmt.Sprintf("%d", len(uc.FoodLogs))},
		}
	}
	return nil
}

func payloadRecommendations(payload *SectionPayload) []types.SectionRecommendation {
	recs := make([]types.SectionRecommendation, 0, len(payload.Recommendations))
	for _, r := range payload.Recommendations {
		recs = append(recs, types.SectionRecommendation{
			Title:       r.Title,
			Description: r.Description,
			Actions:     r.Actions,
			Priority:    types.RecommendationPriority(r.Priority),
		})
	}
	return recs
}

// buildOverview assembles the overview section entirely from stored data. No
// external call is made, so overview results are always validated.
func (b *sectionBuilder) buildOverview(uc *UserInsightContext, summary types.IssueSummary, opts SectionBuildOptions) *types.SectionResult {
	var sb strings.Builder
	sb.WriteString(summary.Highlight + ".")
	if summary.CurrentRating != nil {
		fmt.Fprintf(&sb, " Latest self-rating is %.1f of %d (%s).", *summary.CurrentRating, summary.RatingScaleMax, strings.ToLower(summary.SeverityLabel))
	} else {
		sb.WriteString(" No self-rating logged yet; log a rating to sharpen this view.")
	}
	fmt.Fprintf(&sb, " You are tracking %d supplements, %d medications, %d recent workouts and %d recent meals.",
		len(uc.Supplements), len(uc.Medications), len(uc.ExerciseLogs), len(uc.FoodLogs))

	highlights := []types.SectionHighlight{{
		Title:  "Where you stand",
		Detail: summary.Highlight,
		Tone:   toneForTrend(summary.Trend),
	}}
	if len(uc.Supplements) > 0 {
		highlights = append(highlights, types.SectionHighlight{
			Title:  "Active regimen",
			Detail: fmt.Sprintf("%d supplements and %d medications in rotation", len(uc.Supplements), len(uc.Medications)),
			Tone:   types.ToneNeutral,
		})
	}
	for _, blocker := range summary.Blockers {
		highlights = append(highlights, types.SectionHighlight{
			Title:  "Gap",
			Detail: blocker,
			Tone:   types.ToneWarning,
		})
	}

	dataPoints := []types.SectionDatum{
		{Label: "Trend", Value: string(summary.Trend)},
		{Label: "Supplements", Value: fmt.Sprintf("%d", len(uc.Supplements))},
		{Label: "Medications", Value: fmt.Sprintf("%d", len(uc.Medications))},
		{Label: "Workouts (recent)", Value: fmt.Sprintf("%d", len(uc.ExerciseLogs))},
	}
	if summary.CurrentRating != nil {
		dataPoints = append([]types.SectionDatum{{
			Label:   "Current rating",
			Value:   fmt.Sprintf("%.1f / %d", *summary.CurrentRating, summary.RatingScaleMax),
			Context: summary.SeverityLabel,
		}}, dataPoints...)
	}

	var recs []types.SectionRecommendation
	for _, blocker := range summary.Blockers {
		recs = append(recs, types.SectionRecommendation{
			Title:       blocker,
			Description: "Closing this gap improves the quality of every section below.",
			Actions:     []string{"Update your logs or profile so this data is captured."},
			Priority:    types.PrioritySoon,
		})
	}
	if summary.Trend == types.TrendInconclusive {
		recs = append(recs, types.SectionRecommendation{
			Title:       "Log ratings more often",
			Description: "At least two ratings are needed before trend analysis can run.",
			Actions:     []string{"Add a quick rating today and again in a few days."},
			Priority:    types.PriorityNow,
		})
	}

	return &types.SectionResult{
		Issue:           summary,
		SectionKey:      types.SectionOverview,
		GeneratedAt:     b.now().UTC(),
		Confidence:      confidenceDeterministic,
		Summary:         sb.String(),
		Highlights:      highlights,
		DataPoints:      dataPoints,
		Recommendations: recs,
		Mode:            opts.Mode,
		Range:           opts.Range,
		Extras: types.SectionExtras{
			Source:          types.SourceLLM,
			PipelineVersion: types.PipelineVersion,
			Validated:       true,
			Degraded:        false,
		},
	}
}

// buildInteractions evaluates the static rule set against the logged regimen.
// Like overview it never calls out, so results are always validated.
func (b *sectionBuilder) buildInteractions(uc *UserInsightContext, summary types.IssueSummary, opts SectionBuildOptions) *types.SectionResult {
	supplements := regimenNames(uc.Supplements)
	medications := regimenNames(uc.Medications)

	var highlights []types.SectionHighlight
	var recs []types.SectionRecommendation
	for _, rule := range interactionRules {
		if !rule.Matches(supplements, medications) {
			continue
		}
		highlights = append(highlights, types.SectionHighlight{
			Title:  rule.Message,
			Detail: rule.Rationale,
			Tone:   types.ToneWarning,
		})
		recs = append(recs, types.SectionRecommendation{
			Title:       rule.Message,
			Description: rule.Rationale,
			Actions:     []string{"Adjust timing or discuss alternatives with your clinician."},
			Priority:    rule.Priority,
		})
	}

	summaryText := fmt.Sprintf("Checked %d supplements and %d medications against %d known interaction patterns.",
		len(supplements), len(medications), len(interactionRules))
	if len(highlights) == 0 {
		summaryText += " No flagged combinations in your current regimen."
		highlights = append(highlights, types.SectionHighlight{
			Title:  "No flagged combinations",
			Detail: "Nothing in your logged regimen matches a known interaction pattern.",
			Tone:   types.TonePositive,
		})
	} else {
		summaryText += fmt.Sprintf(" %d combination(s) need attention.", len(recs))
	}

	return &types.SectionResult{
		Issue:       summary,
		SectionKey:  types.SectionInteractions,
		GeneratedAt: b.now().UTC(),
		Confidence:  confidenceDeterministic,
		Summary:     summaryText,
		Highlights:  highlights,
		DataPoints: []types.SectionDatum{
			{Label: "Supplements checked", Value: fmt.Sprintf("%d", len(supplements))},
			{Label: "Medications checked", Value: fmt.Sprintf("%d", len(medications))},
			{Label: "Rules evaluated", Value: fmt.Sprintf("%d", len(interactionRules))},
		},
		Recommendations: recs,
		Mode:            opts.Mode,
		Range:           opts.Range,
		Extras: types.SectionExtras{
			Source:          types.SourceLLM,
			PipelineVersion: types.PipelineVersion,
			Validated:       true,
			Degraded:        false,
		},
	}
}

func toneForTrend(trend types.Trend) types.HighlightTone {
	switch trend {
	case types.TrendImproving:
		return types.TonePositive
	case types.TrendDeclining:
		return types.ToneWarning
	default:
		return types.ToneNeutral
	}
}
