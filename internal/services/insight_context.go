package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/repos"
	"github.com/soleahealth/insights-backend/internal/types"
)

const ratingScaleDefault = 6

// UserInsightContext is the full user-data snapshot section generation works
// from. Loaded once per request or batch and shared across section builds.
type UserInsightContext struct {
	UserID       uuid.UUID
	Issues       []IssueRef
	Goals        map[string]*GoalState // keyed by lowercased goal name
	Supplements  []RegimenItem
	Medications  []RegimenItem
	ExerciseLogs []ExerciseEntry
	FoodLogs     []FoodEntry
	Blood        *BloodData
	Profile      ProfileData

	OnboardingComplete bool
}

type IssueRef struct {
	ID       uuid.UUID
	Name     string
	Slug     string
	Polarity types.Polarity
}

type GoalState struct {
	ID            uuid.UUID
	Name          string
	CurrentRating *float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Logs          []GoalLog // ascending by time
}

type GoalLog struct {
	Rating    float64
	Notes     string
	CreatedAt time.Time
}

type RegimenItem struct {
	Name   string
	Dosage string
	Timing []string
}

type ExerciseEntry struct {
	Type      string
	Duration  int
	Intensity string
	CreatedAt time.Time
}

type FoodEntry struct {
	Name        string
	Description string
	CreatedAt   time.Time
}

type BloodMarker struct {
	Name      string   `json:"name"`
	Value     *float64 `json:"value,omitempty"`
	Unit      string   `json:"unit,omitempty"`
	Reference string   `json:"reference,omitempty"`
}

type BloodData struct {
	Notes         string
	Skipped       bool
	DocumentCount int
	Markers       []BloodMarker
}

type ProfileData struct {
	Gender            string
	Weight            *float64
	Height            *float64
	BodyType          string
	ExerciseFrequency string
}

func (c *UserInsightContext) FindIssue(slug string) *IssueRef {
	for i := range c.Issues {
		if c.Issues[i].Slug == slug {
			return &c.Issues[i]
		}
	}
	return nil
}

// ContextLoader builds a UserInsightContext from stored user data.
type ContextLoader interface {
	Load(ctx context.Context, userID uuid.UUID) (*UserInsightContext, error)
}

type contextLoader struct {
	db       *gorm.DB
	log      *logger.Logger
	userData repos.UserDataRepo
}

func NewContextLoader(db *gorm.DB, log *logger.Logger, userData repos.UserDataRepo) ContextLoader {
	return &contextLoader{
		db:       db,
		log:      log.With("service", "ContextLoader"),
		userData: userData,
	}
}

func (l *contextLoader) Load(ctx context.Context, userID uuid.UUID) (*UserInsightContext, error) {
	user, err := l.userData.GetUser(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user == nil {
		return &UserInsightContext{UserID: userID, Goals: map[string]*GoalState{}}, nil
	}

	goals, err := l.userData.GetHealthGoals(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("load health goals: %w", err)
	}

	out := &UserInsightContext{
		UserID: userID,
		Goals:  make(map[string]*GoalState, len(goals)),
		Profile: ProfileData{
			Gender:            deref(user.Gender),
			Weight:            user.Weight,
			Height:            user.Height,
			BodyType:          deref(user.BodyType),
			ExerciseFrequency: deref(user.ExerciseFrequency),
		},
	}

	for _, goal := range goals {
		logs, err := l.userData.GetHealthLogs(ctx, nil, goal.ID, 12)
		if err != nil {
			return nil, fmt.Errorf("load health logs: %w", err)
		}
		state := &GoalState{
			ID:            goal.ID,
			Name:          goal.Name,
			CurrentRating: goal.CurrentRating,
			CreatedAt:     goal.CreatedAt,
			UpdatedAt:     goal.UpdatedAt,
			Logs:          make([]GoalLog, 0, len(logs)),
		}
		// repo returns newest first; builders want ascending
		for i := len(logs) - 1; i >= 0; i-- {
			state.Logs = append(state.Logs, GoalLog{
				Rating:    logs[i].Rating,
				Notes:     deref(logs[i].Notes),
				CreatedAt: logs[i].CreatedAt,
			})
		}
		out.Goals[strings.ToLower(goal.Name)] = state

		polarity := types.Polarity(goal.Polarity)
		if polarity != types.PolarityPositive && polarity != types.PolarityNegative {
			polarity = InferPolarityFromName(goal.Name)
		}
		slug := goal.Slug
		if slug == "" {
			slug = Slugify(goal.Name)
		}
		out.Issues = append(out.Issues, IssueRef{
			ID:       goal.ID,
			Name:     goal.Name,
			Slug:     slug,
			Polarity: polarity,
		})
	}
	out.OnboardingComplete = len(out.Issues) > 0

	supplements, err := l.userData.GetSupplements(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("load supplements: %w", err)
	}
	for _, s := range supplements {
		out.Supplements = append(out.Supplements, RegimenItem{
			Name:   s.Name,
			Dosage: s.Dosage,
			Timing: decodeTiming(s.Timing),
		})
	}

	medications, err := l.userData.GetMedications(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("load medications: %w", err)
	}
	for _, m := range medications {
		out.Medications = append(out.Medications, RegimenItem{
			Name:   m.Name,
			Dosage: m.Dosage,
			Timing: decodeTiming(m.Timing),
		})
	}

	exerciseLogs, err := l.userData.GetExerciseLogs(ctx, nil, userID, nil, 16)
	if err != nil {
		return nil, fmt.Errorf("load exercise logs: %w", err)
	}
	for _, e := range exerciseLogs {
		out.ExerciseLogs = append(out.ExerciseLogs, ExerciseEntry{
			Type:      e.Type,
			Duration:  e.Duration,
			Intensity: deref(e.Intensity),
			CreatedAt: e.CreatedAt,
		})
	}

	foodLogs, err := l.userData.GetFoodLogs(ctx, nil, userID, nil, 16)
	if err != nil {
		return nil, fmt.Errorf("load food logs: %w", err)
	}
	for _, f := range foodLogs {
		out.FoodLogs = append(out.FoodLogs, FoodEntry{
			Name:        f.Name,
			Description: deref(f.Description),
			CreatedAt:   f.CreatedAt,
		})
	}

	blood, err := l.userData.GetBloodResult(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("load blood result: %w", err)
	}
	if blood != nil {
		data := &BloodData{
			Notes:   blood.Notes,
			Skipped: blood.Skipped,
		}
		var docs []json.RawMessage
		if len(blood.Documents) > 0 {
			if err := json.Unmarshal(blood.Documents, &docs); err == nil {
				data.DocumentCount = len(docs)
			}
		}
		if len(blood.Markers) > 0 {
			_ = json.Unmarshal(blood.Markers, &data.Markers)
		}
		out.Blood = data
	}

	return out, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decodeTiming(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var timing []string
	if err := json.Unmarshal(raw, &timing); err != nil {
		return nil
	}
	return timing
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func Slugify(value string) string {
	s := strings.ToLower(strings.TrimSpace(value))
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

var negativePattern = regexp.MustCompile(`(?i)pain|ache|injury|flare|anxiety|depress|stress|insomnia|fatigue|low\s|lack|poor|bloat|nausea|migraine|cramp|brain fog|libido|bp|blood pressure|cholesterol`)
var positivePattern = regexp.MustCompile(`(?i)gain|build|improve|increase|optimi[sz]e|boost|support|focus|goal|performance|endurance|strength|muscle|energy`)

func InferPolarityFromName(name string) types.Polarity {
	if negativePattern.MatchString(name) {
		return types.PolarityNegative
	}
	if positivePattern.MatchString(name) {
		return types.PolarityPositive
	}
	return types.PolarityNegative
}

// NormalizeRating maps a raw 0-6 rating to a percentage score and label.
func NormalizeRating(rating *float64, polarity types.Polarity) (score *float64, label string) {
	if rating == nil {
		return nil, "No rating yet"
	}
	bounded := math.Max(0, math.Min(ratingScaleDefault, *rating))
	pct := (bounded / ratingScaleDefault) * 100
	if polarity == types.PolarityNegative {
		switch {
		case pct >= 70:
			return &pct, "Severe"
		case pct >= 40:
			return &pct, "Moderate"
		case pct > 0:
			return &pct, "Mild"
		default:
			return &pct, "Resolved"
		}
	}
	switch {
	case pct >= 80:
		return &pct, "Excellent progress"
	case pct >= 55:
		return &pct, "On track"
	case pct >= 30:
		return &pct, "Needs support"
	default:
		return &pct, "Off track"
	}
}

// CalculateTrend compares the average of the latest three logs against the
// previous three. Fewer than two logs is inconclusive.
func CalculateTrend(logs []GoalLog, polarity types.Polarity) (types.Trend, *float64) {
	if len(logs) < 2 {
		return types.TrendInconclusive, nil
	}
	sorted := make([]GoalLog, len(logs))
	copy(sorted, logs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.Before(sorted[j].CreatedAt) })

	avg := func(items []GoalLog) *float64 {
		if len(items) == 0 {
			return nil
		}
		sum := 0.0
		for _, it := range items {
			sum += it.Rating
		}
		v := sum / float64(len(items))
		return &v
	}

	latestStart := len(sorted) - 3
	if latestStart < 0 {
		latestStart = 0
	}
	prevStart := latestStart - 3
	if prevStart < 0 {
		prevStart = 0
	}
	latestAvg := avg(sorted[latestStart:])
	prevAvg := avg(sorted[prevStart:latestStart])
	if latestAvg == nil || prevAvg == nil {
		return types.TrendInconclusive, nil
	}
	delta := *latestAvg - *prevAvg
	if math.Abs(delta) < 0.25 {
		return types.TrendStable, &delta
	}
	if polarity == types.PolarityNegative {
		if delta < 0 {
			return types.TrendImproving, &delta
		}
		return types.TrendDeclining, &delta
	}
	if delta > 0 {
		return types.TrendImproving, &delta
	}
	return types.TrendDeclining, &delta
}

// EnrichIssueSummary assembles the per-issue header from the loaded context.
func EnrichIssueSummary(issue IssueRef, uc *UserInsightContext) types.IssueSummary {
	goal := uc.Goals[strings.ToLower(issue.Name)]
	var currentRating *float64
	var logs []GoalLog
	var lastUpdated *time.Time
	if goal != nil {
		currentRating = goal.CurrentRating
		logs = goal.Logs
		if len(goal.Logs) > 0 {
			t := goal.Logs[len(goal.Logs)-1].CreatedAt
			lastUpdated = &t
		} else if !goal.UpdatedAt.IsZero() {
			t := goal.UpdatedAt
			lastUpdated = &t
		}
	}
	score, label := NormalizeRating(currentRating, issue.Polarity)
	trend, delta := CalculateTrend(logs, issue.Polarity)

	return types.IssueSummary{
		ID:             issue.ID.String(),
		Slug:           issue.Slug,
		Name:           issue.Name,
		Polarity:       issue.Polarity,
		SeverityLabel:  label,
		SeverityScore:  score,
		CurrentRating:  currentRating,
		RatingScaleMax: ratingScaleDefault,
		Trend:          trend,
		TrendDelta:     delta,
		LastUpdated:    lastUpdated,
		Highlight:      buildIssueHighlight(issue, label, trend),
		Blockers:       buildIssueBlockers(issue, uc),
	}
}

func buildIssueHighlight(issue IssueRef, severity string, trend types.Trend) string {
	var trendText string
	switch trend {
	case types.TrendImproving:
		trendText = "Improvements logged recently"
	case types.TrendDeclining:
		trendText = "Recent data shows regression"
	case types.TrendStable:
		trendText = "Holding steady"
	default:
		trendText = "Needs more data"
	}
	if issue.Polarity == types.PolarityNegative {
		return severity + " concern - " + trendText
	}
	return severity + " goal - " + trendText
}

func buildIssueBlockers(issue IssueRef, uc *UserInsightContext) []string {
	var blockers []string
	key := pickKnowledgeKey(issue.Name)
	if key == "libido" {
		if !anyMatch(regimenNames(uc.Supplements), `(?i)zinc|ashwagandha|tongkat|tribulus|magnesium`) {
			blockers = append(blockers, "No libido-supportive supplements logged")
		}
		if !hasStrengthTraining(uc.ExerciseLogs) {
			blockers = append(blockers, "Strength training frequency not captured")
		}
		if !hasMarker(uc.Blood, `(?i)testosterone`) {
			blockers = append(blockers, "Latest testosterone labs missing")
		}
	}
	if len(uc.FoodLogs) == 0 {
		blockers = append(blockers, "No recent food logs to analyse")
	}
	if len(blockers) > 3 {
		blockers = blockers[:3]
	}
	return blockers
}

func regimenNames(items []RegimenItem) []string {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	return names
}

var strengthPattern = regexp.MustCompile(`(?i)strength|resistance|weights`)

func hasStrengthTraining(logs []ExerciseEntry) bool {
	for _, log := range logs {
		if strengthPattern.MatchString(log.Type) {
			return true
		}
	}
	return false
}

func hasMarker(blood *BloodData, pattern string) bool {
	if blood == nil {
		return false
	}
	re := regexp.MustCompile(pattern)
	for _, marker := range blood.Markers {
		if re.MatchString(marker.Name) {
			return true
		}
	}
	return false
}
