package services

import (
	"testing"
	"time"

	"github.com/soleahealth/insights-backend/internal/types"
)

func logsWithRatings(ratings ...float64) []GoalLog {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	out := make([]GoalLog, len(ratings))
	for i, r := range ratings {
		out[i] = GoalLog{Rating: r, CreatedAt: base.Add(time.Duration(i) * 24 * time.Hour)}
	}
	return out
}

func TestCalculateTrend(t *testing.T) {
	tests := []struct {
		name     string
		ratings  []float64
		polarity types.Polarity
		want     types.Trend
	}{
		{"too few logs", []float64{3}, types.PolarityNegative, types.TrendInconclusive},
		{"negative issue falling ratings improve", []float64{5, 5, 4.5, 3, 2.5, 2}, types.PolarityNegative, types.TrendImproving},
		{"negative issue rising ratings decline", []float64{2, 2, 2.5, 4, 4.5, 5}, types.PolarityNegative, types.TrendDeclining},
		{"positive goal rising ratings improve", []float64{2, 2, 2.5, 4, 4.5, 5}, types.PolarityPositive, types.TrendImproving},
		{"positive goal falling ratings decline", []float64{5, 5, 4.5, 3, 2.5, 2}, types.PolarityPositive, types.TrendDeclining},
		{"inside stable band", []float64{3, 3, 3, 3.1, 3, 3.1}, types.PolarityNegative, types.TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := CalculateTrend(logsWithRatings(tt.ratings...), tt.polarity)
			if got != tt.want {
				t.Fatalf("CalculateTrend() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCalculateTrendStableBandBoundary(t *testing.T) {
	// Delta of exactly 0.25 is outside the stable band.
	got, delta := CalculateTrend(logsWithRatings(3, 3, 3, 3.25, 3.25, 3.25), types.PolarityNegative)
	if got != types.TrendDeclining {
		t.Fatalf("delta 0.25 on a negative issue = %q, want declining", got)
	}
	if delta == nil || *delta != 0.25 {
		t.Fatalf("delta = %v, want 0.25", delta)
	}

	got, _ = CalculateTrend(logsWithRatings(3, 3, 3, 3.24, 3.24, 3.24), types.PolarityNegative)
	if got != types.TrendStable {
		t.Fatalf("delta 0.24 = %q, want stable", got)
	}
}

func TestNormalizeRating(t *testing.T) {
	rating := func(v float64) *float64 { return &v }

	tests := []struct {
		name      string
		rating    *float64
		polarity  types.Polarity
		wantLabel string
	}{
		{"no rating", nil, types.PolarityNegative, "No rating yet"},
		{"severe concern", rating(5), types.PolarityNegative, "Severe"},
		{"moderate concern", rating(3), types.PolarityNegative, "Moderate"},
		{"mild concern", rating(1), types.PolarityNegative, "Mild"},
		{"resolved", rating(0), types.PolarityNegative, "Resolved"},
		{"excellent goal", rating(5), types.PolarityPositive, "Excellent progress"},
		{"on track goal", rating(4), types.PolarityPositive, "On track"},
		{"off track goal", rating(1), types.PolarityPositive, "Off track"},
		{"clamped above scale", rating(9), types.PolarityNegative, "Severe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, label := NormalizeRating(tt.rating, tt.polarity)
			if label != tt.wantLabel {
				t.Fatalf("label = %q, want %q", label, tt.wantLabel)
			}
			if tt.rating != nil && (score == nil || *score < 0 || *score > 100) {
				t.Fatalf("score = %v, want 0-100", score)
			}
		})
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Low Libido", "low-libido"},
		{"  Energy!! ", "energy"},
		{"Brain Fog & Focus", "brain-fog-focus"},
		{"already-slugged", "already-slugged"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestInferPolarityFromName(t *testing.T) {
	negatives := []string{"Low Libido", "Back Pain", "Insomnia", "High Blood Pressure"}
	for _, name := range negatives {
		if got := InferPolarityFromName(name); got != types.PolarityNegative {
			t.Fatalf("InferPolarityFromName(%q) = %q, want negative", name, got)
		}
	}
	positives := []string{"Build Muscle", "Improve Endurance"}
	for _, name := range positives {
		if got := InferPolarityFromName(name); got != types.PolarityPositive {
			t.Fatalf("InferPolarityFromName(%q) = %q, want positive", name, got)
		}
	}
}

func TestEnrichIssueSummary(t *testing.T) {
	uc := testContext()
	summary := EnrichIssueSummary(uc.Issues[0], uc)

	if summary.Slug != "energy" || summary.Name != "Energy" {
		t.Fatalf("summary identity = %q/%q", summary.Slug, summary.Name)
	}
	if summary.RatingScaleMax != ratingScaleDefault {
		t.Fatalf("scale max = %d, want %d", summary.RatingScaleMax, ratingScaleDefault)
	}
	if summary.Trend != types.TrendImproving {
		t.Fatalf("trend = %q, want improving", summary.Trend)
	}
	if summary.LastUpdated == nil {
		t.Fatal("last updated should come from the newest log")
	}
	if summary.Highlight == "" {
		t.Fatal("highlight should not be empty")
	}
}
