package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/repos"
	"github.com/soleahealth/insights-backend/internal/types"
)

const (
	// FullTTL bounds how long a validated result is served without regeneration.
	FullTTL = 15 * time.Minute
	// DegradedTTL bounds degraded results so a background retry happens soon.
	DegradedTTL = 2 * time.Minute

	backgroundBuildTimeout = 2 * time.Minute
)

var ErrIssueNotFound = errors.New("issue not found for user")

// GetSectionOptions select the report window and whether cached results may
// be served.
type GetSectionOptions struct {
	Mode  types.ReportMode
	Range *types.DateRange
	Force bool
}

// InsightService is the cache-or-generate entry point the HTTP layer talks
// to. A cache hit that is still fresh is returned as-is; anything else is
// regenerated, quick tier first so the caller never waits on the full build.
type InsightService interface {
	GetSection(ctx context.Context, userID uuid.UUID, issueSlug string, section types.SectionKey, opts GetSectionOptions) (*types.SectionResult, error)
	GetIssueSummaries(ctx context.Context, userID uuid.UUID) ([]types.IssueSummary, error)
}

// ResultStore is the shared persistence path for generated sections: the
// cache upsert plus the metadata bookkeeping that freshness tracking needs.
type ResultStore struct {
	log           *logger.Logger
	cache         repos.SectionCacheRepo
	metadata      repos.InsightsMetadataRepo
	fingerprinter Fingerprinter
}

func NewResultStore(log *logger.Logger, cache repos.SectionCacheRepo, metadata repos.InsightsMetadataRepo, fingerprinter Fingerprinter) *ResultStore {
	return &ResultStore{
		log:           log.With("service", "ResultStore"),
		cache:         cache,
		metadata:      metadata,
		fingerprinter: fingerprinter,
	}
}

func (st *ResultStore) persist(ctx context.Context, key types.CacheKey, result *types.SectionResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		st.log.Error("Failed to encode section result", "section", key.SectionKey, "error", err)
		return
	}
	if err := st.cache.Upsert(ctx, nil, key, raw); err != nil {
		st.log.Error("Failed to persist section result",
			"user_id", key.UserID, "issue", key.IssueSlug, "section", key.SectionKey, "error", err)
		return
	}
	if result.Extras.IsValidated() {
		fingerprint, err := st.fingerprinter.Current(ctx, key.UserID)
		if err != nil {
			st.log.Warn("Failed to compute data fingerprint", "user_id", key.UserID, "error", err)
			fingerprint = ""
		}
		if err := st.metadata.MarkFresh(ctx, nil, key.UserID, key.IssueSlug, key.SectionKey, fingerprint, result.GeneratedAt); err != nil {
			st.log.Warn("Failed to mark section fresh", "user_id", key.UserID, "section", key.SectionKey, "error", err)
		}
	}
}

func (st *ResultStore) setStatus(ctx context.Context, key types.CacheKey, status types.InsightStatus) {
	if err := st.metadata.SetStatus(ctx, nil, key.UserID, key.IssueSlug, key.SectionKey, status); err != nil {
		st.log.Warn("Failed to update section status",
			"user_id", key.UserID, "section", key.SectionKey, "status", status, "error", err)
	}
}

type insightService struct {
	log     *logger.Logger
	loader  ContextLoader
	builder SectionBuilder
	cache   repos.SectionCacheRepo
	store   *ResultStore

	now   func() time.Time
	spawn func(fn func())
}

func NewInsightService(
	log *logger.Logger,
	loader ContextLoader,
	builder SectionBuilder,
	cache repos.SectionCacheRepo,
	store *ResultStore,
) InsightService {
	return &insightService{
		log:     log.With("service", "InsightService"),
		loader:  loader,
		builder: builder,
		cache:   cache,
		store:   store,
		now:     time.Now,
		spawn:   func(fn func()) { go fn() },
	}
}

func (s *insightService) GetIssueSummaries(ctx context.Context, userID uuid.UUID) ([]types.IssueSummary, error) {
	uc, err := s.loader.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user context: %w", err)
	}
	summaries := make([]types.IssueSummary, 0, len(uc.Issues))
	for _, issue := range uc.Issues {
		summaries = append(summaries, EnrichIssueSummary(issue, uc))
	}
	return summaries, nil
}

func (s *insightService) GetSection(ctx context.Context, userID uuid.UUID, issueSlug string, section types.SectionKey, opts GetSectionOptions) (*types.SectionResult, error) {
	key := types.CacheKey{
		UserID:     userID,
		IssueSlug:  issueSlug,
		SectionKey: section,
		ReportMode: opts.Mode,
		RangeKey:   opts.Range.Key(),
	}

	if !opts.Force {
		if cached := s.readCache(ctx, key); cached != nil {
			return cached, nil
		}
	}

	uc, err := s.loader.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user context: %w", err)
	}
	issue := uc.FindIssue(issueSlug)
	if issue == nil {
		return nil, ErrIssueNotFound
	}
	buildOpts := SectionBuildOptions{Mode: opts.Mode, Range: opts.Range}

	// Force always rebuilds synchronously. The deterministic sections do
	// too: they involve no LLM call, so the quick tier and the background
	// upgrade would just produce the same result twice.
	if opts.Force || deterministicSection(section) {
		result, err := s.builder.BuildFull(ctx, uc, *issue, section, buildOpts)
		if err != nil {
			return nil, err
		}
		s.store.persist(ctx, key, result)
		return result, nil
	}

	// Cache miss (or stale): serve the quick tier immediately and refresh the
	// full tier in the background.
	quick, quickErr := s.builder.BuildQuick(ctx, uc, *issue, section, buildOpts)
	if quickErr == nil {
		s.store.persist(ctx, key, quick)
		s.scheduleFullBuild(key, *issue, buildOpts)
		return quick, nil
	}
	s.log.Warn("Quick build failed, falling back to synchronous full build",
		"user_id", userID, "issue", issueSlug, "section", section, "error", quickErr)

	full, fullErr := s.builder.BuildFull(ctx, uc, *issue, section, buildOpts)
	if fullErr == nil {
		s.store.persist(ctx, key, full)
		return full, nil
	}
	s.log.Error("Both generation tiers failed, returning placeholder",
		"user_id", userID, "issue", issueSlug, "section", section, "error", fullErr)

	// Placeholder is returned, never persisted: the next request retries.
	return s.errorPlaceholder(uc, *issue, section, buildOpts), nil
}

// readCache returns the cached result when it exists and is still fresh.
// Repo or decode failures are logged and treated as a miss.
func (s *insightService) readCache(ctx context.Context, key types.CacheKey) *types.SectionResult {
	entry, err := s.cache.GetByKey(ctx, nil, key)
	if err != nil {
		s.log.Warn("Section cache read failed, regenerating",
			"user_id", key.UserID, "issue", key.IssueSlug, "section", key.SectionKey, "error", err)
		return nil
	}
	if entry == nil {
		return nil
	}

	var result types.SectionResult
	if err := json.Unmarshal(entry.Result, &result); err != nil {
		s.log.Warn("Cached section result is malformed, regenerating",
			"user_id", key.UserID, "issue", key.IssueSlug, "section", key.SectionKey, "error", err)
		return nil
	}

	age := s.now().Sub(entry.UpdatedAt)
	extras := result.Extras
	switch {
	case extras.IsValidated() && age < FullTTL:
		return &result
	case !extras.Validated && extras.PipelineVersion == types.PipelineVersion && age < DegradedTTL:
		// Degraded results get a short grace window so bursts of requests
		// don't all regenerate; a mismatched pipeline version never does.
		return &result
	}
	return nil
}

// scheduleFullBuild upgrades a quick result in the background. The goroutine
// is detached from the request context and supervised against panics.
func (s *insightService) scheduleFullBuild(key types.CacheKey, issue IssueRef, buildOpts SectionBuildOptions) {
	s.store.setStatus(context.Background(), key, types.StatusGenerating)
	s.spawn(func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("Background full build panicked",
					"user_id", key.UserID, "issue", key.IssueSlug, "section", key.SectionKey, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), backgroundBuildTimeout)
		defer cancel()

		uc, err := s.loader.Load(ctx, key.UserID)
		if err != nil {
			s.log.Error("Background full build could not reload context", "user_id", key.UserID, "error", err)
			s.markStale(key)
			return
		}
		result, err := s.builder.BuildFull(ctx, uc, issue, key.SectionKey, buildOpts)
		if err != nil {
			s.log.Warn("Background full build failed",
				"user_id", key.UserID, "issue", key.IssueSlug, "section", key.SectionKey, "error", err)
			s.markStale(key)
			return
		}
		s.store.persist(ctx, key, result)
		if !result.Extras.IsValidated() {
			s.markStale(key)
		}
	})
}

func (s *insightService) markStale(key types.CacheKey) {
	s.store.setStatus(context.Background(), key, types.StatusStale)
}

// errorPlaceholder is the response of last resort when every generation tier
// failed. It still carries the issue header so the UI can render, but its
// extras mark it unusable for caching.
func (s *insightService) errorPlaceholder(uc *UserInsightContext, issue IssueRef, section types.SectionKey, opts SectionBuildOptions) *types.SectionResult {
	return &types.SectionResult{
		Issue:       EnrichIssueSummary(issue, uc),
		SectionKey:  section,
		GeneratedAt: s.now().UTC(),
		Confidence:  0,
		Summary:     "We could not generate this section right now. Your data is safe; try again in a moment.",
		Mode:        opts.Mode,
		Range:       opts.Range,
		Extras: types.SectionExtras{
			Source:          types.SourceLLMError,
			PipelineVersion: types.PipelineVersion,
			Validated:       false,
			Degraded:        true,
		},
	}
}
