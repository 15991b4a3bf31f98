package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/types"
)

// countingBuilder tracks how many builds run at once.
type countingBuilder struct {
	mu          sync.Mutex
	inFlight    int
	maxInFlight int
	total       int
	failSection types.SectionKey
	delay       time.Duration
	quickOpts   []SectionBuildOptions
}

func (b *countingBuilder) build(section types.SectionKey) (*types.SectionResult, error) {
	b.mu.Lock()
	b.inFlight++
	if b.inFlight > b.maxInFlight {
		b.maxInFlight = b.inFlight
	}
	b.total++
	b.mu.Unlock()

	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()

	if b.failSection != "" && section == b.failSection {
		return nil, fmt.Errorf("scripted failure for %s", section)
	}
	return makeResult(section, types.SourceLLM, true, types.PipelineVersion), nil
}

func (b *countingBuilder) BuildQuick(_ context.Context, _ *UserInsightContext, _ IssueRef, section types.SectionKey, opts SectionBuildOptions) (*types.SectionResult, error) {
	b.mu.Lock()
	b.quickOpts = append(b.quickOpts, opts)
	b.mu.Unlock()
	return b.build(section)
}

func (b *countingBuilder) BuildFull(_ context.Context, _ *UserInsightContext, _ IssueRef, section types.SectionKey, _ SectionBuildOptions) (*types.SectionResult, error) {
	return b.build(section)
}

func newPrecomputeFixture(builder SectionBuilder, uc *UserInsightContext) (Precomputer, *fakeCacheRepo, *fakeMetadataRepo) {
	log := logger.NewNop()
	cache := newFakeCacheRepo()
	metadata := newFakeMetadataRepo()
	store := NewResultStore(log, cache, metadata, &fakeFingerprinter{fingerprint: "fp1"})
	return NewPrecomputer(log, &fakeLoader{uc: uc}, builder, store), cache, metadata
}

func TestPrecomputeRespectsConcurrencyLimit(t *testing.T) {
	uc := testContext()
	// Two more issues so the batch is 3 x 7 = 21 pairs (overview is skipped
	// by default).
	uc.Issues = append(uc.Issues,
		IssueRef{Name: "Libido", Slug: "libido", Polarity: types.PolarityNegative},
		IssueRef{Name: "Sleep", Slug: "sleep", Polarity: types.PolarityNegative},
	)
	builder := &countingBuilder{delay: 5 * time.Millisecond}
	pre, _, _ := newPrecomputeFixture(builder, uc)

	report, err := pre.PrecomputeFull(context.Background(), uc.UserID, PrecomputeOptions{Mode: types.ModeLatest})
	if err != nil {
		t.Fatalf("PrecomputeFull() error = %v", err)
	}
	if report.Total != 21 || report.Succeeded != 21 {
		t.Fatalf("report = %+v, want 21/21", report)
	}
	if builder.maxInFlight > defaultPrecomputeConcurrency {
		t.Fatalf("max in-flight builds = %d, exceeds limit %d", builder.maxInFlight, defaultPrecomputeConcurrency)
	}
}

func TestPrecomputeCustomConcurrency(t *testing.T) {
	uc := testContext()
	builder := &countingBuilder{delay: 5 * time.Millisecond}
	pre, _, _ := newPrecomputeFixture(builder, uc)

	if _, err := pre.PrecomputeFull(context.Background(), uc.UserID, PrecomputeOptions{Mode: types.ModeLatest, Concurrency: 1}); err != nil {
		t.Fatalf("PrecomputeFull() error = %v", err)
	}
	if builder.maxInFlight != 1 {
		t.Fatalf("max in-flight builds = %d, want 1", builder.maxInFlight)
	}
}

func TestPrecomputeFailuresDoNotAbortBatch(t *testing.T) {
	uc := testContext()
	builder := &countingBuilder{failSection: types.SectionLabs}
	pre, cache, _ := newPrecomputeFixture(builder, uc)

	var failed []types.SectionKey
	report, err := pre.PrecomputeFull(context.Background(), uc.UserID, PrecomputeOptions{
		Mode: types.ModeLatest,
		OnSection: func(_ string, section types.SectionKey, err error) {
			if err != nil {
				failed = append(failed, section)
			}
		},
	})
	if err != nil {
		t.Fatalf("PrecomputeFull() error = %v", err)
	}
	if report.Total != 7 || report.Failed != 1 || report.Succeeded != 6 {
		t.Fatalf("report = %+v, want total=7 failed=1", report)
	}
	if len(failed) != 1 || failed[0] != types.SectionLabs {
		t.Fatalf("failure callback = %v, want [labs]", failed)
	}
	if cache.upserts != 6 {
		t.Fatalf("successful pairs persisted = %d, want 6", cache.upserts)
	}
}

func TestPrecomputeScopesToRequestedSlugsAndSections(t *testing.T) {
	uc := testContext()
	uc.Issues = append(uc.Issues, IssueRef{Name: "Libido", Slug: "libido", Polarity: types.PolarityNegative})
	builder := &countingBuilder{}
	pre, _, _ := newPrecomputeFixture(builder, uc)

	report, err := pre.PrecomputeQuick(context.Background(), uc.UserID, PrecomputeOptions{
		Slugs:    []string{"libido"},
		Sections: []types.SectionKey{types.SectionNutrition, types.SectionExercise},
		Mode:     types.ModeLatest,
	})
	if err != nil {
		t.Fatalf("PrecomputeQuick() error = %v", err)
	}
	if report.Total != 2 {
		t.Fatalf("total = %d, want 2", report.Total)
	}
}

func TestPrecomputeAnnouncesEachPairBeforeBuilding(t *testing.T) {
	uc := testContext()
	builder := &countingBuilder{}
	pre, _, _ := newPrecomputeFixture(builder, uc)

	var order []string
	_, err := pre.PrecomputeFull(context.Background(), uc.UserID, PrecomputeOptions{
		Mode:        types.ModeLatest,
		Concurrency: 1,
		OnSectionStart: func(_ string, section types.SectionKey) {
			order = append(order, "start:"+string(section))
		},
		OnSection: func(_ string, section types.SectionKey, _ error) {
			order = append(order, "done:"+string(section))
		},
	})
	if err != nil {
		t.Fatalf("PrecomputeFull() error = %v", err)
	}
	want := 2 * len(types.NonOverviewSections())
	if len(order) != want {
		t.Fatalf("callback count = %d, want %d", len(order), want)
	}
	for i := 0; i < len(order); i += 2 {
		section := order[i][len("start:"):]
		if order[i+1] != "done:"+section {
			t.Fatalf("pair %s completed out of order: %v", section, order[i:i+2])
		}
	}
}

func TestPrecomputeQuickGrantsStricterRetry(t *testing.T) {
	uc := testContext()
	builder := &countingBuilder{}
	pre, _, _ := newPrecomputeFixture(builder, uc)

	if _, err := pre.PrecomputeQuick(context.Background(), uc.UserID, PrecomputeOptions{
		Sections: []types.SectionKey{types.SectionSupplements},
		Mode:     types.ModeLatest,
	}); err != nil {
		t.Fatalf("PrecomputeQuick() error = %v", err)
	}
	if len(builder.quickOpts) != 1 || !builder.quickOpts[0].QuickRetry {
		t.Fatalf("quick warming should allow the stricter retry, got %+v", builder.quickOpts)
	}
}

func TestPrecomputeUnknownSlugFails(t *testing.T) {
	uc := testContext()
	pre, _, _ := newPrecomputeFixture(&countingBuilder{}, uc)

	if _, err := pre.PrecomputeFull(context.Background(), uc.UserID, PrecomputeOptions{Slugs: []string{"missing"}}); err == nil {
		t.Fatal("expected error for unknown slug")
	}
}
