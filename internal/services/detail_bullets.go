package services

import (
	"regexp"
	"strings"
)

type detailVariant string

const (
	detailWorking            detailVariant = "working"
	detailSuggested          detailVariant = "suggested"
	detailAvoid              detailVariant = "avoid"
	detailNutritionWorking   detailVariant = "nutrition-working"
	detailNutritionSuggested detailVariant = "nutrition-suggested"
	detailNutritionAvoid     detailVariant = "nutrition-avoid"
	detailLabsData           detailVariant = "labs-data"
)

var sentenceSplit = regexp.MustCompile(`[.!?]\s+`)

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatDoseTiming(dosage string, timing []string) string {
	var parts []string
	if strings.TrimSpace(dosage) != "" {
		parts = append(parts, "Dose: "+strings.TrimSpace(dosage))
	}
	if len(timing) > 0 {
		parts = append(parts, "Timing: "+strings.Join(timing, ", "))
	}
	return strings.Join(parts, " / ")
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// buildDetailBullets expands a bucket item's reason into the fixed
// why/how/next-step bullet structure the UI renders.
func buildDetailBullets(reason, dosage string, timing []string, suggestion, example string, variant detailVariant) []string {
	sentences := splitSentences(strings.TrimSpace(reason))
	first, rest := "", ""
	if len(sentences) > 0 {
		first = sentences[0]
		rest = strings.Join(sentences[1:], " ")
	}
	doseTiming := formatDoseTiming(dosage, timing)

	switch variant {
	case detailWorking:
		return []string{
			"Why it helps: " + orDefault(first, "Supports this issue based on your current log."),
			"How it works: " + orDefault(rest, "Supports this issue through known mechanisms and response tracking."),
			"How you're using it: " + orDefault(doseTiming, "Add dose and timing to personalize guidance."),
		}
	case detailSuggested:
		return []string{
			"Why it could help: " + orDefault(first, "Commonly recommended for this issue."),
			"How it works: " + orDefault(rest, "Targets common drivers linked to this issue."),
			"How to try it: " + orDefault(suggestion, "Discuss dose and timing with your clinician first."),
		}
	case detailAvoid:
		return []string{
			"Why to limit: " + orDefault(first, "May not align well with this issue right now."),
			"What to watch: " + orDefault(rest, "Potential unwanted effects or interactions for this issue."),
			"Current use: " + orDefault(doseTiming, "If you use it, review with your clinician."),
		}
	case detailNutritionWorking:
		return []string{
			"Why it helps: " + orDefault(first, "Supports this issue based on your food log."),
			"How it works: " + orDefault(rest, "Promotes steadier energy and symptom support."),
			"Example from your log: " + orDefault(example, "Log meals so we can highlight examples here."),
		}
	case detailNutritionSuggested:
		return []string{
			"Why it could help: " + orDefault(first, "Fills common nutrition gaps for this issue."),
			"How it works: " + orDefault(rest, "Supports key nutrients and stability."),
			"How to try it: Plan a meal with this focus and log how you feel.",
		}
	case detailNutritionAvoid:
		return []string{
			"Why to limit: " + orDefault(first, "May worsen symptoms or energy swings."),
			"What to watch: " + orDefault(rest, "Notice if symptoms rise after these foods."),
			"Swap idea: Use a steadier option from Suggested Foods.",
		}
	case detailLabsData:
		return []string{
			"Why it matters: " + orDefault(first, "This marker helps track progress over time."),
			"What to do next: " + orDefault(rest, "Track trends and discuss changes with your clinician."),
		}
	}
	return nil
}
