package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/types"
)

// GenerateRequest carries everything a single section generation needs. The
// whole struct participates in the prompt-cache key, so two requests built
// from identical user data collapse to one external call.
type GenerateRequest struct {
	IssueSlug      string           `json:"issue_slug"`
	IssueName      string           `json:"issue_name"`
	IssueSummary   string           `json:"issue_summary"`
	Section        types.SectionKey `json:"section"`
	Mode           types.ReportMode `json:"mode"`
	FocusItems     []RegimenItem    `json:"focus_items"`
	OtherItems     []RegimenItem    `json:"other_items"`
	KnowledgeNotes []string         `json:"knowledge_notes"`
	ContextNotes   []string         `json:"context_notes"`
}

// SectionGenerator is the quality-gated LLM generation client. It returns the
// best payload it could obtain, or nil only when every attempt failed
// structurally.
type SectionGenerator interface {
	Generate(ctx context.Context, req GenerateRequest, thresholds GateThresholds, maxAttempts int) (*SectionPayload, error)
}

type sectionGenerator struct {
	log     *logger.Logger
	ai      OpenAIClient
	prompts *PromptCache
}

func NewSectionGenerator(log *logger.Logger, ai OpenAIClient, prompts *PromptCache) SectionGenerator {
	return &sectionGenerator{
		log:     log.With("service", "SectionGenerator"),
		ai:      ai,
		prompts: prompts,
	}
}

func (g *sectionGenerator) Generate(ctx context.Context, req GenerateRequest, thresholds GateThresholds, maxAttempts int) (*SectionPayload, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	cacheKey := promptCacheKey(req, thresholds)
	if g.prompts != nil {
		if cached := g.prompts.Get(cacheKey); cached != nil {
			g.log.Debug("Prompt cache hit", "issue", req.IssueSlug, "section", req.Section)
			return cached, nil
		}
	}

	var fallback *SectionPayload
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}

		system, user := buildSectionPrompt(req, thresholds, attempt > 0)
		raw, err := g.ai.GenerateJSON(ctx, system, user, "section_insights", sectionPayloadSchema())
		if err != nil {
			lastErr = err
			g.log.Warn("Section generation attempt failed",
				"issue", req.IssueSlug, "section", req.Section,
				"attempt", attempt, "error", err)
			continue
		}

		payload, err := decodeSectionPayload(raw)
		if err != nil {
			lastErr = err
			g.log.Warn("Section generation returned malformed payload",
				"issue", req.IssueSlug, "section", req.Section,
				"attempt", attempt, "error", err)
			continue
		}
		if IsEmptyPayload(payload) {
			lastErr = fmt.Errorf("empty payload")
			continue
		}

		if MeetsGate(payload, thresholds) {
			if g.prompts != nil {
				g.prompts.Set(cacheKey, payload)
			}
			return payload, nil
		}

		// Structurally valid but below threshold: keep the most recent as
		// fallback and try again with the stricter instruction.
		fallback = payload
	}

	if fallback != nil {
		if g.prompts != nil {
			g.prompts.Set(cacheKey, fallback)
		}
		return fallback, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("section generation failed: %w", lastErr)
	}
	return nil, fmt.Errorf("section generation produced no usable payload")
}

func promptCacheKey(req GenerateRequest, thresholds GateThresholds) string {
	raw, _ := json.Marshal(struct {
		Req        GenerateRequest `json:"req"`
		Thresholds GateThresholds  `json:"thresholds"`
	}{req, thresholds})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func decodeSectionPayload(raw json.RawMessage) (*SectionPayload, error) {
	var payload SectionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	for _, bucket := range [][]PayloadItem{payload.Working, payload.Suggested, payload.Avoid} {
		for _, item := range bucket {
			if strings.TrimSpace(item.Name) == "" || strings.TrimSpace(item.Reason) == "" {
				return nil, fmt.Errorf("payload item missing name or reason")
			}
		}
	}
	for i := range payload.Recommendations {
		rec := &payload.Recommendations[i]
		if strings.TrimSpace(rec.Title) == "" {
			return nil, fmt.Errorf("recommendation missing title")
		}
		switch types.RecommendationPriority(rec.Priority) {
		case types.PriorityNow, types.PrioritySoon, types.PriorityMonitor:
		default:
			rec.Priority = string(types.PriorityMonitor)
		}
	}
	return &payload, nil
}

func sectionPayloadSchema() map[string]any {
	item := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":     map[string]any{"type": "string"},
			"reason":   map[string]any{"type": "string"},
			"dosage":   map[string]any{"type": "string"},
			"timing":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"protocol": map[string]any{"type": "string"},
		},
		"required":             []string{"name", "reason"},
		"additionalProperties": false,
	}
	recommendation := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":       map[string]any{"type": "string"},
			"description": map[string]any{"type": "string"},
			"actions":     map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"priority":    map[string]any{"type": "string", "enum": []string{"now", "soon", "monitor"}},
		},
		"required":             []string{"title", "description"},
		"additionalProperties": false,
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":         map[string]any{"type": "string"},
			"working":         map[string]any{"type": "array", "items": item},
			"suggested":       map[string]any{"type": "array", "items": item},
			"avoid":           map[string]any{"type": "array", "items": item},
			"recommendations": map[string]any{"type": "array", "items": recommendation},
		},
		"required":             []string{"summary", "working", "suggested", "avoid", "recommendations"},
		"additionalProperties": false,
	}
}

var sectionFocusNouns = map[types.SectionKey]string{
	types.SectionExercise:    "exercise and training activity",
	types.SectionSupplements: "supplement",
	types.SectionMedications: "medication",
	types.SectionNutrition:   "food and meal pattern",
	types.SectionLifestyle:   "daily habit and routine",
	types.SectionLabs:        "lab marker",
}

func buildSectionPrompt(req GenerateRequest, thresholds GateThresholds, strict bool) (system string, user string) {
	focus := sectionFocusNouns[req.Section]
	if focus == "" {
		focus = string(req.Section)
	}

	system = "You are a careful clinical decision support assistant. Follow instructions precisely and never fabricate data."

	var b strings.Builder
	fmt.Fprintf(&b, "You are evaluating %s usage for the issue %q.\n\n", focus, req.IssueName)
	if req.IssueSummary != "" {
		fmt.Fprintf(&b, "Issue summary: %s\n\n", req.IssueSummary)
	} else {
		b.WriteString("Issue summary: Not supplied.\n\n")
	}
	if len(req.KnowledgeNotes) > 0 {
		b.WriteString("Additional clinical notes to consider:\n")
		for _, note := range req.KnowledgeNotes {
			fmt.Fprintf(&b, "- %s\n", note)
		}
		b.WriteString("\n")
	}

	userContext, _ := json.MarshalIndent(struct {
		FocusItems   []RegimenItem `json:"focusItems"`
		OtherItems   []RegimenItem `json:"otherItems"`
		ContextNotes []string      `json:"contextNotes,omitempty"`
	}{req.FocusItems, req.OtherItems, req.ContextNotes}, "", "  ")
	fmt.Fprintf(&b, "User context (JSON):\n%s\n\n", userContext)

	fmt.Fprintf(&b, `Provide precise, evidence-aligned guidance. Only use information supplied in the user context. If data is insufficient, explicitly state that.

Classify into three buckets: working (helpful/supportive items the user already logs), suggested (worth adding or discussing with a clinician), avoid (risky or counterproductive). Always provide concise reasons.
`)
	if strict {
		fmt.Fprintf(&b, "\nIMPORTANT: your previous answer did not meet coverage requirements. You MUST return at least %d suggested entries and at least %d avoid entries. Draw on widely-accepted guidance for this issue to fill the buckets; do not leave them short.\n", thresholds.MinSuggested, thresholds.MinAvoid)
	} else {
		b.WriteString("\nWhen unsure, leave the bucket empty rather than guessing.\n")
	}
	b.WriteString("\nEach recommendation must include title, description, actions (array, can be empty), and priority (now|soon|monitor).\n")

	return system, b.String()
}
