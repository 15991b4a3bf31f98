package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/types"
)

type fakeAI struct {
	responses []json.RawMessage
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeAI) GenerateJSON(_ context.Context, _ string, user string, _ string, _ map[string]any) (json.RawMessage, error) {
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, user)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return nil, fmt.Errorf("no scripted response for call %d", i)
}

func payloadJSON(t *testing.T, working, suggested, avoid int) json.RawMessage {
	t.Helper()
	p := SectionPayload{
		Summary:   "summary",
		Working:   items(working),
		Suggested: items(suggested),
		Avoid:     items(avoid),
	}
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return raw
}

func testGenerateRequest() GenerateRequest {
	return GenerateRequest{
		IssueSlug: "energy",
		IssueName: "Energy",
		Section:   types.SectionSupplements,
		Mode:      types.ModeLatest,
	}
}

func TestGeneratePassesGateFirstAttempt(t *testing.T) {
	ai := &fakeAI{responses: []json.RawMessage{payloadJSON(t, 1, 4, 4)}}
	gen := NewSectionGenerator(logger.NewNop(), ai, nil)

	payload, err := gen.Generate(context.Background(), testGenerateRequest(), FullThresholds(true), 3)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if ai.calls != 1 {
		t.Fatalf("expected 1 call, got %d", ai.calls)
	}
	if !MeetsGate(payload, FullThresholds(true)) {
		t.Fatal("returned payload should meet the gate")
	}
}

func TestGenerateRetriesWithStricterPrompt(t *testing.T) {
	ai := &fakeAI{responses: []json.RawMessage{
		payloadJSON(t, 1, 2, 2),
		payloadJSON(t, 1, 4, 4),
	}}
	gen := NewSectionGenerator(logger.NewNop(), ai, nil)

	payload, err := gen.Generate(context.Background(), testGenerateRequest(), FullThresholds(true), 3)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if ai.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", ai.calls)
	}
	if len(payload.Suggested) != 4 {
		t.Fatalf("expected the passing payload, got %d suggested", len(payload.Suggested))
	}
	if strings.Contains(ai.prompts[0], "IMPORTANT") {
		t.Fatal("first attempt should not carry the strict instruction")
	}
	if !strings.Contains(ai.prompts[1], "IMPORTANT") {
		t.Fatal("retry should carry the strict instruction")
	}
}

func TestGenerateReturnsFallbackWhenNeverPassing(t *testing.T) {
	ai := &fakeAI{responses: []json.RawMessage{
		payloadJSON(t, 0, 2, 1),
		payloadJSON(t, 0, 3, 2),
		payloadJSON(t, 0, 3, 3),
	}}
	gen := NewSectionGenerator(logger.NewNop(), ai, nil)

	payload, err := gen.Generate(context.Background(), testGenerateRequest(), FullThresholds(false), 3)
	if err != nil {
		t.Fatalf("Generate() should return the best-effort payload, got error %v", err)
	}
	if ai.calls != 3 {
		t.Fatalf("expected all 3 attempts, got %d", ai.calls)
	}
	// Most recent structurally valid payload wins.
	if len(payload.Avoid) != 3 {
		t.Fatalf("expected the last fallback payload, got %d avoid items", len(payload.Avoid))
	}
	if MeetsGate(payload, FullThresholds(false)) {
		t.Fatal("fallback payload should still be below threshold")
	}
}

func TestGenerateFailsOnStructuralErrors(t *testing.T) {
	ai := &fakeAI{responses: []json.RawMessage{
		json.RawMessage(`{"summary":"x","working":[{"name":"","reason":""}],"suggested":[],"avoid":[],"recommendations":[]}`),
		json.RawMessage(`{}`),
	}, errs: []error{nil, nil, fmt.Errorf("upstream down")}}
	gen := NewSectionGenerator(logger.NewNop(), ai, nil)

	if _, err := gen.Generate(context.Background(), testGenerateRequest(), QuickThresholds(), 3); err == nil {
		t.Fatal("expected error when no attempt produced a usable payload")
	}
}

func TestGenerateUsesPromptCache(t *testing.T) {
	ai := &fakeAI{responses: []json.RawMessage{
		payloadJSON(t, 1, 4, 4),
		payloadJSON(t, 1, 4, 4),
	}}
	cache := NewPromptCache(0, 0)
	gen := NewSectionGenerator(logger.NewNop(), ai, cache)

	req := testGenerateRequest()
	if _, err := gen.Generate(context.Background(), req, QuickThresholds(), 1); err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}
	if _, err := gen.Generate(context.Background(), req, QuickThresholds(), 1); err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}
	if ai.calls != 1 {
		t.Fatalf("second call should hit the prompt cache, got %d external calls", ai.calls)
	}

	// Different thresholds key differently.
	if _, err := gen.Generate(context.Background(), req, FullThresholds(true), 1); err != nil {
		t.Fatalf("third Generate() error = %v", err)
	}
	if ai.calls != 2 {
		t.Fatalf("different thresholds should bypass the cache, got %d external calls", ai.calls)
	}
}

func TestDecodeSectionPayloadNormalizesPriority(t *testing.T) {
	raw := json.RawMessage(`{
		"summary": "s",
		"working": [], "suggested": [], "avoid": [],
		"recommendations": [{"title": "t", "description": "d", "actions": [], "priority": "urgent"}]
	}`)
	payload, err := decodeSectionPayload(raw)
	if err != nil {
		t.Fatalf("decodeSectionPayload() error = %v", err)
	}
	if got := payload.Recommendations[0].Priority; got != string(types.PriorityMonitor) {
		t.Fatalf("unknown priority should normalize to monitor, got %q", got)
	}
}
