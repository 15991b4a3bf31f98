package services

// SectionPayload is the generic shape every LLM-backed section is generated
// into before the per-section extras mapping is applied.
type SectionPayload struct {
	Summary         string                  `json:"summary"`
	Working         []PayloadItem           `json:"working"`
	Suggested       []PayloadItem           `json:"suggested"`
	Avoid           []PayloadItem           `json:"avoid"`
	Recommendations []PayloadRecommendation `json:"recommendations"`
}

type PayloadItem struct {
	Name     string   `json:"name"`
	Reason   string   `json:"reason"`
	Dosage   string   `json:"dosage,omitempty"`
	Timing   []string `json:"timing,omitempty"`
	Protocol string   `json:"protocol,omitempty"`
}

type PayloadRecommendation struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Actions     []string `json:"actions"`
	Priority    string   `json:"priority"`
}

// GateThresholds are the minimum item counts a payload must meet to be
// classified validated. MinWorking is 1 when the user has logged relevant
// items for the section and 0 otherwise.
type GateThresholds struct {
	MinWorking   int
	MinSuggested int
	MinAvoid     int
}

func FullThresholds(hasLoggedItems bool) GateThresholds {
	minWorking := 0
	if hasLoggedItems {
		minWorking = 1
	}
	return GateThresholds{MinWorking: minWorking, MinSuggested: 4, MinAvoid: 4}
}

func QuickThresholds() GateThresholds {
	return GateThresholds{MinWorking: 0, MinSuggested: 4, MinAvoid: 4}
}

// MeetsGate reports whether the payload meets the validated bar.
func MeetsGate(p *SectionPayload, t GateThresholds) bool {
	if p == nil {
		return false
	}
	return len(p.Working) >= t.MinWorking &&
		len(p.Suggested) >= t.MinSuggested &&
		len(p.Avoid) >= t.MinAvoid
}

// IsEmptyPayload reports whether the payload carries nothing usable. An empty
// payload is discarded entirely: never cached, treated as a generation
// failure.
func IsEmptyPayload(p *SectionPayload) bool {
	if p == nil {
		return true
	}
	return p.Summary == "" &&
		len(p.Working) == 0 &&
		len(p.Suggested) == 0 &&
		len(p.Avoid) == 0 &&
		len(p.Recommendations) == 0
}
