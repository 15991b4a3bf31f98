package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soleahealth/insights-backend/internal/clients/redis"
	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/repos"
	"github.com/soleahealth/insights-backend/internal/sse"
	"github.com/soleahealth/insights-backend/internal/types"
)

const regenerationTimeout = 5 * time.Minute

// SectionsForChange maps a data change to the sections whose content can
// actually differ because of it. Narrow on purpose: a food log edit must not
// torch the supplements section.
func SectionsForChange(change types.ChangeType) []types.SectionKey {
	switch change {
	case types.ChangeSupplements:
		return []types.SectionKey{types.SectionSupplements, types.SectionInteractions}
	case types.ChangeMedications:
		return []types.SectionKey{types.SectionMedications, types.SectionInteractions}
	case types.ChangeFood:
		return []types.SectionKey{types.SectionNutrition}
	case types.ChangeExercise:
		return []types.SectionKey{types.SectionExercise}
	case types.ChangeHealthGoals:
		return []types.SectionKey{types.SectionOverview, types.SectionLifestyle}
	case types.ChangeHealthSituations:
		return []types.SectionKey{types.SectionOverview, types.SectionLifestyle}
	case types.ChangeProfile:
		return []types.SectionKey{types.SectionOverview, types.SectionNutrition}
	case types.ChangeBloodResults:
		return []types.SectionKey{types.SectionLabs}
	}
	return nil
}

// SectionStatus is one row of the freshness report.
type SectionStatus struct {
	IssueSlug        string              `json:"issue_slug"`
	Section          types.SectionKey    `json:"section"`
	Status           types.InsightStatus `json:"status"`
	LastGeneratedAt  *time.Time          `json:"last_generated_at,omitempty"`
	FingerprintStale bool                `json:"fingerprint_stale"`
}

// StatusReport covers every issue x section pair for one user.
type StatusReport struct {
	UserID             uuid.UUID       `json:"user_id"`
	CurrentFingerprint string          `json:"current_fingerprint"`
	Sections           []SectionStatus `json:"sections"`
}

// RegenProgress is the SSE payload for bulk regeneration updates.
type RegenProgress struct {
	IssueSlug string           `json:"issue_slug,omitempty"`
	Section   types.SectionKey `json:"section,omitempty"`
	Completed int              `json:"completed"`
	Total     int              `json:"total"`
	Phase     string           `json:"phase,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// RegenerationService reacts to data changes with narrow invalidation and
// drives explicit (user-requested) regeneration with progress streaming.
type RegenerationService interface {
	OnDataChange(ctx context.Context, event types.ChangeEvent) error
	RegenerateIssue(ctx context.Context, userID uuid.UUID, issueSlug string, mode types.ReportMode, dateRange *types.DateRange) error
	RegenerateAll(ctx context.Context, userID uuid.UUID, mode types.ReportMode) error
	Status(ctx context.Context, userID uuid.UUID) (*StatusReport, error)
	SectionStatusFor(ctx context.Context, userID uuid.UUID, issueSlug string, section types.SectionKey) (*SectionStatus, error)
}

type regenerationService struct {
	log           *logger.Logger
	loader        ContextLoader
	precomputer   Precomputer
	store         *ResultStore
	metadata      repos.InsightsMetadataRepo
	fingerprinter Fingerprinter
	hub           *sse.Hub
	bus           redis.ProgressBus // optional

	spawn func(fn func())
}

func NewRegenerationService(
	log *logger.Logger,
	loader ContextLoader,
	precomputer Precomputer,
	store *ResultStore,
	metadata repos.InsightsMetadataRepo,
	fingerprinter Fingerprinter,
	hub *sse.Hub,
	bus redis.ProgressBus,
) RegenerationService {
	return &regenerationService{
		log:           log.With("service", "RegenerationService"),
		loader:        loader,
		precomputer:   precomputer,
		store:         store,
		metadata:      metadata,
		fingerprinter: fingerprinter,
		hub:           hub,
		bus:           bus,
		spawn:         func(fn func()) { go fn() },
	}
}

// OnDataChange marks the affected issue x section pairs stale and kicks off a
// background precompute for just those pairs. Untouched sections keep serving
// from cache.
func (s *regenerationService) OnDataChange(ctx context.Context, event types.ChangeEvent) error {
	sections := SectionsForChange(event.ChangeType)
	if len(sections) == 0 {
		return fmt.Errorf("unknown change type %q", event.ChangeType)
	}

	uc, err := s.loader.Load(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("load user context: %w", err)
	}
	if len(uc.Issues) == 0 {
		return nil
	}

	for _, issue := range uc.Issues {
		for _, section := range sections {
			key := types.CacheKey{UserID: event.UserID, IssueSlug: issue.Slug, SectionKey: section}
			s.store.setStatus(ctx, key, types.StatusStale)
			s.emit(ctx, event.UserID, sse.EventSectionStale, RegenProgress{
				IssueSlug: issue.Slug,
				Section:   section,
			})
		}
	}
	s.log.Info("Marked sections stale for data change",
		"user_id", event.UserID, "change", event.ChangeType, "sections", sections, "issues", len(uc.Issues))

	if event.Await {
		report, err := s.rebuildChanged(ctx, event.UserID, sections)
		if err != nil {
			return err
		}
		if report.Failed > 0 {
			return fmt.Errorf("rebuilt %d of %d changed sections", report.Succeeded, report.Total)
		}
		return nil
	}

	s.spawn(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("Change-driven precompute panicked", "user_id", event.UserID, "panic", r)
			}
		}()
		bgCtx, cancel := context.WithTimeout(context.Background(), regenerationTimeout)
		defer cancel()
		if _, err := s.rebuildChanged(bgCtx, event.UserID, sections); err != nil {
			s.log.Error("Change-driven precompute failed", "user_id", event.UserID, "error", err)
		}
	})
	return nil
}

func (s *regenerationService) rebuildChanged(ctx context.Context, userID uuid.UUID, sections []types.SectionKey) (PrecomputeReport, error) {
	return s.precomputer.PrecomputeFull(ctx, userID, PrecomputeOptions{
		Sections: sections,
		Mode:     types.ModeLatest,
		OnSectionStart: func(slug string, section types.SectionKey) {
			s.emitSectionStart(ctx, userID, slug, section, "")
		},
		OnSection: func(slug string, section types.SectionKey, err error) {
			s.emitSectionDone(ctx, userID, slug, section, err, 0, 0, "")
		},
	})
}

// RegenerateIssue force-rebuilds every non-overview section of one issue at
// the full tier, streaming per-section progress.
func (s *regenerationService) RegenerateIssue(ctx context.Context, userID uuid.UUID, issueSlug string, mode types.ReportMode, dateRange *types.DateRange) error {
	total := len(types.NonOverviewSections())
	s.emit(ctx, userID, sse.EventRegenStarted, RegenProgress{IssueSlug: issueSlug, Total: total})

	var completed int
	report, err := s.precomputer.PrecomputeFull(ctx, userID, PrecomputeOptions{
		Slugs: []string{issueSlug},
		Mode:  mode,
		Range: dateRange,
		OnSectionStart: func(slug string, section types.SectionKey) {
			s.emitSectionStart(ctx, userID, slug, section, "")
		},
		OnSection: func(slug string, section types.SectionKey, buildErr error) {
			completed++
			s.emitSectionDone(ctx, userID, slug, section, buildErr, completed, total, "")
		},
	})
	if err != nil {
		return err
	}

	s.emit(ctx, userID, sse.EventRegenComplete, RegenProgress{
		IssueSlug: issueSlug,
		Completed: report.Succeeded,
		Total:     report.Total,
	})
	if report.Failed > 0 {
		return fmt.Errorf("regenerated %d of %d sections", report.Succeeded, report.Total)
	}
	return nil
}

// RegenerateAll rebuilds every issue x non-overview section pair: a quick
// warm pass first so the UI repopulates fast, then the full pass that
// produces validated results.
func (s *regenerationService) RegenerateAll(ctx context.Context, userID uuid.UUID, mode types.ReportMode) error {
	uc, err := s.loader.Load(ctx, userID)
	if err != nil {
		return fmt.Errorf("load user context: %w", err)
	}
	total := len(uc.Issues) * len(types.NonOverviewSections())
	s.emit(ctx, userID, sse.EventRegenStarted, RegenProgress{Total: total, Phase: "quick"})

	var completed int
	if _, err := s.precomputer.PrecomputeQuick(ctx, userID, PrecomputeOptions{
		Mode: mode,
		OnSection: func(slug string, section types.SectionKey, buildErr error) {
			completed++
			s.emitSectionDone(ctx, userID, slug, section, buildErr, completed, total, "quick")
		},
	}); err != nil {
		return err
	}

	completed = 0
	report, err := s.precomputer.PrecomputeFull(ctx, userID, PrecomputeOptions{
		Mode: mode,
		OnSectionStart: func(slug string, section types.SectionKey) {
			s.emitSectionStart(ctx, userID, slug, section, "full")
		},
		OnSection: func(slug string, section types.SectionKey, buildErr error) {
			completed++
			s.emitSectionDone(ctx, userID, slug, section, buildErr, completed, total, "full")
		},
	})
	if err != nil {
		return err
	}

	s.emit(ctx, userID, sse.EventRegenComplete, RegenProgress{
		Completed: report.Succeeded,
		Total:     report.Total,
		Phase:     "full",
	})
	if report.Failed > 0 {
		return fmt.Errorf("regenerated %d of %d sections", report.Succeeded, report.Total)
	}
	return nil
}

// Status reports freshness for every issue x section pair. A stored
// fingerprint that no longer matches the current one downgrades a fresh row
// to stale; pairs that never generated report missing.
func (s *regenerationService) Status(ctx context.Context, userID uuid.UUID) (*StatusReport, error) {
	uc, err := s.loader.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user context: %w", err)
	}
	current, err := s.fingerprinter.Current(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("compute fingerprint: %w", err)
	}

	rows, err := s.metadata.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, fmt.Errorf("list metadata: %w", err)
	}
	byKey := make(map[string]*types.InsightsMetadata, len(rows))
	for _, row := range rows {
		byKey[row.IssueSlug+"/"+row.SectionKey] = row
	}

	report := &StatusReport{UserID: userID, CurrentFingerprint: current}
	for _, issue := range uc.Issues {
		for _, section := range types.SectionOrder {
			status := SectionStatus{IssueSlug: issue.Slug, Section: section, Status: types.StatusMissing}
			if row, ok := byKey[issue.Slug+"/"+string(section)]; ok {
				status.Status = types.InsightStatus(row.Status)
				status.LastGeneratedAt = row.LastGeneratedAt
				status.FingerprintStale = row.DataFingerprint != "" && row.DataFingerprint != current
				if status.Status == types.StatusFresh && status.FingerprintStale {
					status.Status = types.StatusStale
				}
			}
			report.Sections = append(report.Sections, status)
		}
	}
	return report, nil
}

// SectionStatusFor reports freshness for one issue x section pair, applying
// the same fingerprint downgrade as the full report.
func (s *regenerationService) SectionStatusFor(ctx context.Context, userID uuid.UUID, issueSlug string, section types.SectionKey) (*SectionStatus, error) {
	status := &SectionStatus{IssueSlug: issueSlug, Section: section, Status: types.StatusMissing}

	row, err := s.metadata.Get(ctx, nil, userID, issueSlug, section)
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	if row == nil {
		return status, nil
	}
	current, err := s.fingerprinter.Current(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("compute fingerprint: %w", err)
	}
	status.Status = types.InsightStatus(row.Status)
	status.LastGeneratedAt = row.LastGeneratedAt
	status.FingerprintStale = row.DataFingerprint != "" && row.DataFingerprint != current
	if status.Status == types.StatusFresh && status.FingerprintStale {
		status.Status = types.StatusStale
	}
	return status, nil
}

func (s *regenerationService) emitSectionStart(ctx context.Context, userID uuid.UUID, slug string, section types.SectionKey, phase string) {
	s.emit(ctx, userID, sse.EventSectionGenerating, RegenProgress{
		IssueSlug: slug,
		Section:   section,
		Phase:     phase,
	})
}

func (s *regenerationService) emitSectionDone(ctx context.Context, userID uuid.UUID, slug string, section types.SectionKey, buildErr error, completed, total int, phase string) {
	progress := RegenProgress{
		IssueSlug: slug,
		Section:   section,
		Completed: completed,
		Total:     total,
		Phase:     phase,
	}
	event := sse.EventSectionFresh
	if buildErr != nil {
		event = sse.EventSectionStale
		progress.Error = buildErr.Error()
	}
	s.emit(ctx, userID, event, progress)
}

// emit prefers the shared bus so every replica's SSE clients see the update;
// without a bus it broadcasts to local subscribers only.
func (s *regenerationService) emit(ctx context.Context, userID uuid.UUID, event sse.Event, data any) {
	msg := sse.Message{UserID: userID, Event: event, Data: data}
	if s.bus != nil {
		if err := s.bus.Publish(ctx, msg); err != nil {
			s.log.Warn("Failed to publish progress event", "event", event, "error", err)
			s.hub.Broadcast(msg)
		}
		return
	}
	if s.hub != nil {
		s.hub.Broadcast(msg)
	}
}
