package services

import (
	"regexp"
	"strings"

	"github.com/soleahealth/insights-backend/internal/types"
)

// Static per-issue guidance. This is reference data, not logic: prompts and
// the deterministic sections fold it in, but nothing here branches on user
// state.

type helpfulPattern struct {
	Pattern *regexp.Regexp
	Why     string
}

type gapSuggestion struct {
	Title     string
	Why       string
	Suggested string
}

type focusNote struct {
	Title  string
	Detail string
}

type keyLab struct {
	Marker  string
	Optimal string
	Cadence string
	Note    string
}

type issueKnowledge struct {
	Aliases             []string
	HelpfulSupplements  []helpfulPattern
	GapSupplements      []gapSuggestion
	SupportiveExercises []focusNote
	NutritionFocus      []focusNote
	LifestyleFocus      []focusNote
	KeyLabs             []keyLab
}

var issueKnowledgeBase = map[string]issueKnowledge{
	"libido": {
		Aliases: []string{"low libido", "sexual health", "erectile function"},
		HelpfulSupplements: []helpfulPattern{
			{regexp.MustCompile(`(?i)ashwagandha`), "may improve sexual performance and stress resilience"},
			{regexp.MustCompile(`(?i)tongkat|longjack`), "can support testosterone and libido metrics"},
			{regexp.MustCompile(`(?i)tribulus`), "traditionally used for libido and androgen support"},
			{regexp.MustCompile(`(?i)zinc`), "supports hormonal balance when levels are low"},
			{regexp.MustCompile(`(?i)l[-\s]?arginine`), "can aid nitric oxide availability for circulation"},
		},
		GapSupplements: []gapSuggestion{
			{"Consider adaptogens for stress-linked libido dips", "Chronic stress suppresses libido; ashwagandha or rhodiola can moderate cortisol", "Ashwagandha 600mg/day (divided)"},
			{"Evaluate zinc status", "Low zinc impairs testosterone conversion and sexual health", "Zinc bisglycinate 15-30mg with food"},
		},
		SupportiveExercises: []focusNote{
			{"Progressive resistance training 3x/week", "Supports testosterone, strength, and confidence metrics"},
			{"Short HIIT blocks", "Improves endothelial function and nitric oxide availability"},
		},
		NutritionFocus: []focusNote{
			{"Prioritise omega-3 rich meals", "Cardiovascular health underpins libido; aim for 2 oily fish servings/week"},
			{"Stabilise blood sugar", "Balanced carbs + protein prevent insulin spikes that can blunt hormone signalling"},
		},
		LifestyleFocus: []focusNote{
			{"Sleep 7.5-8h with consistent wake time", "Testosterone release peaks during deep sleep; maintain routine"},
			{"Stress decompression window", "Daily wind-down (breathwork, light stretching) reduces sympathetic dominance"},
		},
		KeyLabs: []keyLab{
			{"Total & Free Testosterone", "Total 550-900 ng/dL, Free 15-25 pg/mL", "Retest every 6-12 weeks if adjusting therapy", "Draw between 7-10am and ensure 48h without intense training"},
			{"SHBG & DHEA-S", "SHBG 20-60 nmol/L, DHEA-S age-adjusted mid-range", "Assess annually or with symptom shifts", ""},
			{"Vitamin D", "40-60 ng/mL", "Every 6 months if supplementing", ""},
		},
	},
	"energy": {
		Aliases: []string{"fatigue", "low energy"},
		HelpfulSupplements: []helpfulPattern{
			{regexp.MustCompile(`(?i)b12|methylcobalamin`), "supports methylation and energy when levels are low"},
			{regexp.MustCompile(`(?i)coq10|ubiquinol`), "assists mitochondrial ATP output, especially if on statins"},
			{regexp.MustCompile(`(?i)magnesium`), "involved in ATP production and sleep quality"},
			{regexp.MustCompile(`(?i)adaptogen|rhodiola|ginseng`), "modulates stress response and perceived fatigue"},
		},
		GapSupplements: []gapSuggestion{
			{"B-complex for cellular energy", "Supports mitochondrial pathways if intake is low", "Methylated B-complex with breakfast"},
		},
		SupportiveExercises: []focusNote{
			{"Zone 2 cardio 2-3x/week", "Builds mitochondrial density without draining reserves"},
			{"Mobility days", "Maintains circulation and reduces stiffness-related fatigue"},
		},
		NutritionFocus: []focusNote{
			{"Anchor each meal with 25g protein", "Prevents post-prandial crashes and supports recovery"},
			{"Strategic caffeine window", "Keep caffeine before 2pm to protect sleep architecture"},
		},
		LifestyleFocus: []focusNote{
			{"Light exposure within 30 min of waking", "Entrains circadian rhythm for daytime energy"},
			{"Evening digital sunset", "Reduce blue light to support melatonin release"},
		},
		KeyLabs: []keyLab{
			{"CBC & Ferritin", "Ferritin 70-120 ng/mL", "Every 6 months if symptomatic", ""},
			{"Thyroid Panel", "TSH 0.8-2.0 uIU/mL, Free T3 upper half", "6-12 months", ""},
		},
	},
}

// pickKnowledgeKey resolves an issue name to a knowledge base entry, matching
// aliases case-insensitively.
func pickKnowledgeKey(issueName string) string {
	key := strings.ToLower(issueName)
	if _, ok := issueKnowledgeBase[key]; ok {
		return key
	}
	for baseKey, entry := range issueKnowledgeBase {
		for _, alias := range entry.Aliases {
			if strings.EqualFold(alias, key) {
				return baseKey
			}
		}
	}
	return ""
}

// Interaction rules cross-check the logged regimen without any external call.

type interactionRule struct {
	ID        string
	Matches   func(supplements, medications []string) bool
	Message   string
	Rationale string
	Priority  types.RecommendationPriority
}

var interactionRules = []interactionRule{
	{
		ID: "iron-calcium-spacing",
		Matches: func(supplements, _ []string) bool {
			return anyMatch(supplements, `(?i)iron`) && anyMatch(supplements, `(?i)calcium`)
		},
		Message:   "Separate iron and calcium",
		Rationale: "Calcium blocks iron absorption; a 2-hour gap preserves efficacy.",
		Priority:  types.PriorityNow,
	},
	{
		ID: "magnesium-thyroid-spacing",
		Matches: func(supplements, medications []string) bool {
			return anyMatch(supplements, `(?i)magnesium`) && anyMatch(medications, `(?i)thyroxine|levothyroxine|eltroxin`)
		},
		Message:   "Space magnesium from thyroid medication",
		Rationale: "Minerals reduce levothyroxine absorption; take thyroid dosing on empty stomach, magnesium later in the day.",
		Priority:  types.PriorityNow,
	},
	{
		ID: "omega-anticoagulant-monitor",
		Matches: func(supplements, medications []string) bool {
			return anyMatch(supplements, `(?i)omega|fish oil|epa|dha`) && anyMatch(medications, `(?i)warfarin|xarelto|eliquis|apixaban|dabigatran|clopidogrel`)
		},
		Message:   "Check omega-3 with anticoagulants",
		Rationale: "High-dose omega-3 can enhance anticoagulant effect; coordinate with prescribing clinician.",
		Priority:  types.PrioritySoon,
	},
}

func anyMatch(items []string, pattern string) bool {
	re := regexp.MustCompile(pattern)
	for _, item := range items {
		if re.MatchString(item) {
			return true
		}
	}
	return false
}
