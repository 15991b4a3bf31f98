package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/types"
)

const defaultPrecomputeConcurrency = 4

// PrecomputeOptions narrow what a batch run covers. Empty Slugs means every
// issue the user tracks; empty Sections means the full section set.
type PrecomputeOptions struct {
	Slugs       []string
	Sections    []types.SectionKey
	Mode        types.ReportMode
	Range       *types.DateRange
	Concurrency int

	// OnSectionStart, when set, is invoked as each pair begins building, and
	// OnSection after it completes. Used to stream generating and fresh/stale
	// progress to the client during bulk regeneration.
	OnSectionStart func(issueSlug string, section types.SectionKey)
	OnSection      func(issueSlug string, section types.SectionKey, err error)
}

// PrecomputeReport summarizes a batch run. Individual failures never abort
// the batch; they are counted and logged.
type PrecomputeReport struct {
	Total     int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// Precomputer warms the section cache for a user across issue x section
// pairs, bounded by a worker limit so batch runs don't starve interactive
// traffic or trip provider rate limits.
type Precomputer interface {
	PrecomputeFull(ctx context.Context, userID uuid.UUID, opts PrecomputeOptions) (PrecomputeReport, error)
	PrecomputeQuick(ctx context.Context, userID uuid.UUID, opts PrecomputeOptions) (PrecomputeReport, error)
}

type precomputer struct {
	log     *logger.Logger
	loader  ContextLoader
	builder SectionBuilder
	store   *ResultStore

	now func() time.Time
}

func NewPrecomputer(log *logger.Logger, loader ContextLoader, builder SectionBuilder, store *ResultStore) Precomputer {
	return &precomputer{
		log:     log.With("service", "Precomputer"),
		loader:  loader,
		builder: builder,
		store:   store,
		now:     time.Now,
	}
}

func (p *precomputer) PrecomputeFull(ctx context.Context, userID uuid.UUID, opts PrecomputeOptions) (PrecomputeReport, error) {
	return p.run(ctx, userID, opts, false)
}

func (p *precomputer) PrecomputeQuick(ctx context.Context, userID uuid.UUID, opts PrecomputeOptions) (PrecomputeReport, error) {
	return p.run(ctx, userID, opts, true)
}

type precomputeTask struct {
	issue   IssueRef
	section types.SectionKey
}

func (p *precomputer) run(ctx context.Context, userID uuid.UUID, opts PrecomputeOptions, quick bool) (PrecomputeReport, error) {
	started := p.now()

	uc, err := p.loader.Load(ctx, userID)
	if err != nil {
		return PrecomputeReport{}, fmt.Errorf("load user context: %w", err)
	}

	tasks, err := p.expandTasks(uc, opts)
	if err != nil {
		return PrecomputeReport{}, err
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultPrecomputeConcurrency
	}
	// Warming runs get one stricter retry per pair so the cache is not left
	// full of sparse quick results.
	buildOpts := SectionBuildOptions{Mode: opts.Mode, Range: opts.Range, QuickRetry: quick}

	results := make([]error, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, task := range tasks {
		g.Go(func() error {
			if opts.OnSectionStart != nil {
				opts.OnSectionStart(task.issue.Slug, task.section)
			}
			err := p.buildOne(gctx, uc, task, buildOpts, quick)
			results[i] = err
			if opts.OnSection != nil {
				opts.OnSection(task.issue.Slug, task.section, err)
			}
			// Per-task failures are recorded, not propagated: one bad pair
			// must not cancel the rest of the batch.
			return nil
		})
	}
	_ = g.Wait()

	report := PrecomputeReport{Total: len(tasks), Duration: p.now().Sub(started)}
	for _, err := range results {
		if err != nil {
			report.Failed++
		} else {
			report.Succeeded++
		}
	}
	p.log.Info("Precompute batch finished",
		"user_id", userID, "quick", quick,
		"total", report.Total, "succeeded", report.Succeeded, "failed", report.Failed,
		"duration", report.Duration)
	return report, nil
}

func (p *precomputer) expandTasks(uc *UserInsightContext, opts PrecomputeOptions) ([]precomputeTask, error) {
	issues := uc.Issues
	if len(opts.Slugs) > 0 {
		issues = issues[:0:0]
		for _, slug := range opts.Slugs {
			ref := uc.FindIssue(slug)
			if ref == nil {
				return nil, fmt.Errorf("%w: %s", ErrIssueNotFound, slug)
			}
			issues = append(issues, *ref)
		}
	}

	// Overview is excluded by default: it is deterministic and rebuilt on
	// demand, so batch runs spend their budget on the LLM-backed sections.
	sections := opts.Sections
	if len(sections) == 0 {
		sections = types.NonOverviewSections()
	}

	tasks := make([]precomputeTask, 0, len(issues)*len(sections))
	for _, issue := range issues {
		for _, section := range sections {
			tasks = append(tasks, precomputeTask{issue: issue, section: section})
		}
	}
	return tasks, nil
}

func (p *precomputer) buildOne(ctx context.Context, uc *UserInsightContext, task precomputeTask, buildOpts SectionBuildOptions, quick bool) error {
	key := types.CacheKey{
		UserID:     uc.UserID,
		IssueSlug:  task.issue.Slug,
		SectionKey: task.section,
		ReportMode: buildOpts.Mode,
		RangeKey:   buildOpts.Range.Key(),
	}

	var result *types.SectionResult
	var err error
	if quick {
		result, err = p.builder.BuildQuick(ctx, uc, task.issue, task.section, buildOpts)
	} else {
		result, err = p.builder.BuildFull(ctx, uc, task.issue, task.section, buildOpts)
	}
	if err != nil {
		p.log.Warn("Precompute pair failed",
			"user_id", uc.UserID, "issue", task.issue.Slug, "section", task.section,
			"quick", quick, "error", err)
		p.store.setStatus(ctx, key, types.StatusStale)
		return err
	}

	p.store.persist(ctx, key, result)
	if !result.Extras.IsValidated() {
		p.store.setStatus(ctx, key, types.StatusStale)
	}
	return nil
}
