package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/types"
)

type InsightsMetadataRepo interface {
	Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID, issueSlug string, section types.SectionKey) (*types.InsightsMetadata, error)
	ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.InsightsMetadata, error)
	SetStatus(ctx context.Context, tx *gorm.DB, userID uuid.UUID, issueSlug string, section types.SectionKey, status types.InsightStatus) error
	MarkFresh(ctx context.Context, tx *gorm.DB, userID uuid.UUID, issueSlug string, section types.SectionKey, fingerprint string, generatedAt time.Time) error
}

type insightsMetadataRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewInsightsMetadataRepo(db *gorm.DB, baseLog *logger.Logger) InsightsMetadataRepo {
	return &insightsMetadataRepo{db: db, log: baseLog.With("repo", "InsightsMetadataRepo")}
}

func (r *insightsMetadataRepo) Get(ctx context.Context, tx *gorm.DB, userID uuid.UUID, issueSlug string, section types.SectionKey) (*types.InsightsMetadata, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.InsightsMetadata
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND issue_slug = ? AND section_key = ?", userID, issueSlug, string(section)).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.UserID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *insightsMetadataRepo) ListByUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.InsightsMetadata, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.InsightsMetadata
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("issue_slug ASC, section_key ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *insightsMetadataRepo) SetStatus(ctx context.Context, tx *gorm.DB, userID uuid.UUID, issueSlug string, section types.SectionKey, status types.InsightStatus) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	row := &types.InsightsMetadata{
		UserID:     userID,
		IssueSlug:  issueSlug,
		SectionKey: string(section),
		Status:     string(status),
		UpdatedAt:  time.Now().UTC(),
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "issue_slug"}, {Name: "section_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "updated_at"}),
		}).
		Create(row).Error
}

func (r *insightsMetadataRepo) MarkFresh(ctx context.Context, tx *gorm.DB, userID uuid.UUID, issueSlug string, section types.SectionKey, fingerprint string, generatedAt time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	row := &types.InsightsMetadata{
		UserID:          userID,
		IssueSlug:       issueSlug,
		SectionKey:      string(section),
		LastGeneratedAt: &generatedAt,
		DataFingerprint: fingerprint,
		Status:          string(types.StatusFresh),
		UpdatedAt:       time.Now().UTC(),
	}
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "issue_slug"}, {Name: "section_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_generated_at", "data_fingerprint", "status", "updated_at"}),
		}).
		Create(row).Error
}
