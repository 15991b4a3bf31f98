package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/requestdata"
	"github.com/soleahealth/insights-backend/internal/services"
	"github.com/soleahealth/insights-backend/internal/types"
)

const bulkRegenTimeout = 10 * time.Minute

type InsightsHandler struct {
	log          *logger.Logger
	insights     services.InsightService
	regeneration services.RegenerationService
}

func NewInsightsHandler(log *logger.Logger, insights services.InsightService, regeneration services.RegenerationService) *InsightsHandler {
	return &InsightsHandler{
		log:          log.With("handler", "InsightsHandler"),
		insights:     insights,
		regeneration: regeneration,
	}
}

func (h *InsightsHandler) GetIssues(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	summaries, err := h.insights.GetIssueSummaries(c.Request.Context(), userID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "issues_load_failed", err)
		return
	}
	RespondOK(c, gin.H{"issues": summaries})
}

func (h *InsightsHandler) GetSection(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	slug := c.Param("slug")
	section, err := types.ParseSectionKey(c.Param("section"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_section", err)
		return
	}
	mode, err := types.ParseReportMode(c.Query("mode"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_mode", err)
		return
	}
	dateRange, err := parseDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_range", err)
		return
	}

	result, err := h.insights.GetSection(c.Request.Context(), userID, slug, section, services.GetSectionOptions{
		Mode:  mode,
		Range: dateRange,
		Force: c.Query("force") == "true",
	})
	if err != nil {
		if errors.Is(err, services.ErrIssueNotFound) {
			RespondError(c, http.StatusNotFound, "issue_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "section_failed", err)
		return
	}
	RespondOK(c, result)
}

func (h *InsightsHandler) GetSectionStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	section, err := types.ParseSectionKey(c.Param("section"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_section", err)
		return
	}
	status, err := h.regeneration.SectionStatusFor(c.Request.Context(), userID, c.Param("slug"), section)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "status_failed", err)
		return
	}
	RespondOK(c, status)
}

func (h *InsightsHandler) GetStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	report, err := h.regeneration.Status(c.Request.Context(), userID)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "status_failed", err)
		return
	}
	RespondOK(c, report)
}

// RegenerateAll kicks off the quick-then-full rebuild of every section and
// returns immediately; progress is streamed over SSE.
func (h *InsightsHandler) RegenerateAll(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	mode, err := types.ParseReportMode(c.Query("mode"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_mode", err)
		return
	}

	h.runInBackground("RegenerateAll", userID, func(ctx context.Context) error {
		return h.regeneration.RegenerateAll(ctx, userID, mode)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}

// RegenerateIssue force-rebuilds every section of one issue at the full tier.
func (h *InsightsHandler) RegenerateIssue(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	slug := c.Param("slug")
	mode, err := types.ParseReportMode(c.Query("mode"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_mode", err)
		return
	}
	dateRange, err := parseDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_range", err)
		return
	}

	h.runInBackground("RegenerateIssue", userID, func(ctx context.Context) error {
		return h.regeneration.RegenerateIssue(ctx, userID, slug, mode, dateRange)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "started", "issue": slug})
}

// NotifyChange receives a data-change event and triggers the narrow
// invalidation path for it.
func (h *InsightsHandler) NotifyChange(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var body struct {
		ChangeType string `json:"change_type" binding:"required"`
		Await      bool   `json:"await"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	changeType, err := types.ParseChangeType(body.ChangeType)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_change_type", err)
		return
	}

	event := types.ChangeEvent{
		UserID:     userID,
		ChangeType: changeType,
		Timestamp:  time.Now().UTC(),
		Await:      body.Await,
	}
	if err := h.regeneration.OnDataChange(c.Request.Context(), event); err != nil {
		RespondError(c, http.StatusInternalServerError, "change_failed", err)
		return
	}
	status := http.StatusAccepted
	if body.Await {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"status":   "invalidated",
		"sections": services.SectionsForChange(changeType),
	})
}

func (h *InsightsHandler) runInBackground(label string, userID uuid.UUID, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				h.log.Error("Background regeneration panicked", "op", label, "user_id", userID, "panic", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), bulkRegenTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			h.log.Warn("Background regeneration finished with errors", "op", label, "user_id", userID, "error", err)
		}
	}()
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusForbidden, "forbidden", errors.New("no authenticated user"))
		return uuid.Nil, false
	}
	return rd.UserID, true
}

func parseDateRange(from, to string) (*types.DateRange, error) {
	if from == "" && to == "" {
		return nil, nil
	}
	out := &types.DateRange{}
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return nil, fmt.Errorf("invalid from date: %w", err)
		}
		out.From = &t
	}
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return nil, fmt.Errorf("invalid to date: %w", err)
		}
		out.To = &t
	}
	if out.From != nil && out.To != nil && out.To.Before(*out.From) {
		return nil, fmt.Errorf("date range ends before it starts")
	}
	return out, nil
}
