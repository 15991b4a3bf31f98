package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/sse"
	"github.com/soleahealth/insights-backend/internal/types"
)

func TestSectionsForChange(t *testing.T) {
	tests := []struct {
		change types.ChangeType
		want   []types.SectionKey
	}{
		{types.ChangeSupplements, []types.SectionKey{types.SectionSupplements, types.SectionInteractions}},
		{types.ChangeMedications, []types.SectionKey{types.SectionMedications, types.SectionInteractions}},
		{types.ChangeFood, []types.SectionKey{types.SectionNutrition}},
		{types.ChangeExercise, []types.SectionKey{types.SectionExercise}},
		{types.ChangeHealthGoals, []types.SectionKey{types.SectionOverview, types.SectionLifestyle}},
		{types.ChangeHealthSituations, []types.SectionKey{types.SectionOverview, types.SectionLifestyle}},
		{types.ChangeProfile, []types.SectionKey{types.SectionOverview, types.SectionNutrition}},
		{types.ChangeBloodResults, []types.SectionKey{types.SectionLabs}},
	}
	for _, tt := range tests {
		t.Run(string(tt.change), func(t *testing.T) {
			got := SectionsForChange(tt.change)
			if len(got) != len(tt.want) {
				t.Fatalf("SectionsForChange(%s) = %v, want %v", tt.change, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("SectionsForChange(%s) = %v, want %v", tt.change, got, tt.want)
				}
			}
		})
	}

	if got := SectionsForChange(types.ChangeType("bogus")); got != nil {
		t.Fatalf("unknown change should map to nothing, got %v", got)
	}
}

type fakePrecomputer struct {
	fullCalls  []PrecomputeOptions
	quickCalls []PrecomputeOptions
}

func (f *fakePrecomputer) invoke(opts PrecomputeOptions) PrecomputeReport {
	sections := opts.Sections
	if len(sections) == 0 {
		sections = types.NonOverviewSections()
	}
	slugs := opts.Slugs
	if len(slugs) == 0 {
		slugs = []string{"energy"}
	}
	report := PrecomputeReport{}
	for _, slug := range slugs {
		for _, section := range sections {
			report.Total++
			report.Succeeded++
			if opts.OnSectionStart != nil {
				opts.OnSectionStart(slug, section)
			}
			if opts.OnSection != nil {
				opts.OnSection(slug, section, nil)
			}
		}
	}
	return report
}

func (f *fakePrecomputer) PrecomputeFull(_ context.Context, _ uuid.UUID, opts PrecomputeOptions) (PrecomputeReport, error) {
	f.fullCalls = append(f.fullCalls, opts)
	return f.invoke(opts), nil
}

func (f *fakePrecomputer) PrecomputeQuick(_ context.Context, _ uuid.UUID, opts PrecomputeOptions) (PrecomputeReport, error) {
	f.quickCalls = append(f.quickCalls, opts)
	return f.invoke(opts), nil
}

type regenFixture struct {
	svc      *regenerationService
	loader   *fakeLoader
	pre      *fakePrecomputer
	metadata *fakeMetadataRepo
	hub      *sse.Hub
	fpr      *fakeFingerprinter
}

func newRegenFixture(t *testing.T) *regenFixture {
	t.Helper()
	log := logger.NewNop()
	f := &regenFixture{
		loader:   &fakeLoader{uc: testContext()},
		pre:      &fakePrecomputer{},
		metadata: newFakeMetadataRepo(),
		hub:      sse.NewHub(log),
		fpr:      &fakeFingerprinter{fingerprint: "fp1"},
	}
	store := NewResultStore(log, newFakeCacheRepo(), f.metadata, f.fpr)
	f.svc = NewRegenerationService(log, f.loader, f.pre, store, f.metadata, f.fpr, f.hub, nil).(*regenerationService)
	f.svc.spawn = func(fn func()) { fn() }
	return f
}

func TestOnDataChangeMarksNarrowSectionsStale(t *testing.T) {
	f := newRegenFixture(t)
	userID := f.loader.uc.UserID

	err := f.svc.OnDataChange(context.Background(), types.ChangeEvent{
		UserID:     userID,
		ChangeType: types.ChangeFood,
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.Fatalf("OnDataChange() error = %v", err)
	}

	// One issue, one affected section.
	row := f.metadata.rows[metaKey(userID, "energy", types.SectionNutrition)]
	if row == nil || row.Status != string(types.StatusStale) {
		t.Fatalf("nutrition row = %+v, want stale", row)
	}
	if len(f.pre.fullCalls) != 1 {
		t.Fatalf("expected one precompute run, got %d", len(f.pre.fullCalls))
	}
	scheduled := f.pre.fullCalls[0].Sections
	if len(scheduled) != 1 || scheduled[0] != types.SectionNutrition {
		t.Fatalf("scheduled sections = %v, want [nutrition]", scheduled)
	}
	if f.metadata.rows[metaKey(userID, "energy", types.SectionSupplements)] != nil {
		t.Fatal("supplements section must be untouched by a food change")
	}
}

func TestOnDataChangeAwaitRunsInline(t *testing.T) {
	f := newRegenFixture(t)
	// A panicking spawn proves the awaited path never detaches.
	f.svc.spawn = func(fn func()) { t.Fatal("awaited change must not spawn") }

	err := f.svc.OnDataChange(context.Background(), types.ChangeEvent{
		UserID:     f.loader.uc.UserID,
		ChangeType: types.ChangeExercise,
		Await:      true,
	})
	if err != nil {
		t.Fatalf("OnDataChange() error = %v", err)
	}
	if len(f.pre.fullCalls) != 1 {
		t.Fatalf("expected one inline precompute run, got %d", len(f.pre.fullCalls))
	}
}

func TestOnDataChangeUnknownType(t *testing.T) {
	f := newRegenFixture(t)
	err := f.svc.OnDataChange(context.Background(), types.ChangeEvent{
		UserID:     f.loader.uc.UserID,
		ChangeType: types.ChangeType("bogus"),
	})
	if err == nil {
		t.Fatal("expected error for unknown change type")
	}
}

func TestRegenerateIssueStreamsProgress(t *testing.T) {
	f := newRegenFixture(t)
	userID := f.loader.uc.UserID
	client := f.hub.Subscribe(userID)
	defer f.hub.Unsubscribe(client)

	if err := f.svc.RegenerateIssue(context.Background(), userID, "energy", types.ModeLatest, nil); err != nil {
		t.Fatalf("RegenerateIssue() error = %v", err)
	}
	if len(f.pre.fullCalls) != 1 {
		t.Fatalf("expected one full precompute, got %d", len(f.pre.fullCalls))
	}
	if got := f.pre.fullCalls[0].Slugs; len(got) != 1 || got[0] != "energy" {
		t.Fatalf("precompute slugs = %v, want [energy]", got)
	}

	// Started + generating and done per non-overview section + complete.
	wantEvents := 1 + 2*len(types.NonOverviewSections()) + 1
	if got := len(client.Outbound); got != wantEvents {
		t.Fatalf("received %d events, want %d", got, wantEvents)
	}
	first := <-client.Outbound
	if first.Event != sse.EventRegenStarted {
		t.Fatalf("first event = %q, want %q", first.Event, sse.EventRegenStarted)
	}
	// Every section announces generating before its terminal fresh/stale.
	for i := 0; i < len(types.NonOverviewSections()); i++ {
		start := <-client.Outbound
		if start.Event != sse.EventSectionGenerating {
			t.Fatalf("event %d = %q, want %q", 2*i+1, start.Event, sse.EventSectionGenerating)
		}
		done := <-client.Outbound
		if done.Event != sse.EventSectionFresh {
			t.Fatalf("event %d = %q, want %q", 2*i+2, done.Event, sse.EventSectionFresh)
		}
	}
}

func TestRegenerateAllRunsQuickThenFull(t *testing.T) {
	f := newRegenFixture(t)
	if err := f.svc.RegenerateAll(context.Background(), f.loader.uc.UserID, types.ModeLatest); err != nil {
		t.Fatalf("RegenerateAll() error = %v", err)
	}
	if len(f.pre.quickCalls) != 1 || len(f.pre.fullCalls) != 1 {
		t.Fatalf("expected quick + full pass, got quick=%d full=%d", len(f.pre.quickCalls), len(f.pre.fullCalls))
	}
}

func TestStatusReportsFingerprintDowngradeAndMissing(t *testing.T) {
	f := newRegenFixture(t)
	userID := f.loader.uc.UserID
	generated := time.Now().UTC()
	f.metadata.rows[metaKey(userID, "energy", types.SectionOverview)] = &types.InsightsMetadata{
		UserID: userID, IssueSlug: "energy", SectionKey: string(types.SectionOverview),
		Status: string(types.StatusFresh), DataFingerprint: "fp1", LastGeneratedAt: &generated,
	}
	f.metadata.rows[metaKey(userID, "energy", types.SectionLabs)] = &types.InsightsMetadata{
		UserID: userID, IssueSlug: "energy", SectionKey: string(types.SectionLabs),
		Status: string(types.StatusFresh), DataFingerprint: "fp0", LastGeneratedAt: &generated,
	}

	report, err := f.svc.Status(context.Background(), userID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if report.CurrentFingerprint != "fp1" {
		t.Fatalf("current fingerprint = %q, want fp1", report.CurrentFingerprint)
	}
	if len(report.Sections) != len(types.SectionOrder) {
		t.Fatalf("sections = %d, want %d", len(report.Sections), len(types.SectionOrder))
	}

	byID := map[types.SectionKey]SectionStatus{}
	for _, s := range report.Sections {
		byID[s.Section] = s
	}
	if got := byID[types.SectionOverview]; got.Status != types.StatusFresh || got.FingerprintStale {
		t.Fatalf("overview status = %+v, want fresh with matching fingerprint", got)
	}
	if got := byID[types.SectionLabs]; got.Status != types.StatusStale || !got.FingerprintStale {
		t.Fatalf("labs status = %+v, want fingerprint-downgraded stale", got)
	}
	if got := byID[types.SectionNutrition]; got.Status != types.StatusMissing {
		t.Fatalf("nutrition status = %+v, want missing", got)
	}
}

func TestSectionStatusFor(t *testing.T) {
	f := newRegenFixture(t)
	userID := f.loader.uc.UserID

	status, err := f.svc.SectionStatusFor(context.Background(), userID, "energy", types.SectionLabs)
	if err != nil {
		t.Fatalf("SectionStatusFor() error = %v", err)
	}
	if status.Status != types.StatusMissing {
		t.Fatalf("status = %q, want missing", status.Status)
	}

	generated := time.Now().UTC()
	f.metadata.rows[metaKey(userID, "energy", types.SectionLabs)] = &types.InsightsMetadata{
		UserID: userID, IssueSlug: "energy", SectionKey: string(types.SectionLabs),
		Status: string(types.StatusFresh), DataFingerprint: "fp0", LastGeneratedAt: &generated,
	}
	status, err = f.svc.SectionStatusFor(context.Background(), userID, "energy", types.SectionLabs)
	if err != nil {
		t.Fatalf("SectionStatusFor() error = %v", err)
	}
	if status.Status != types.StatusStale || !status.FingerprintStale {
		t.Fatalf("status = %+v, want fingerprint-downgraded stale", status)
	}
}
