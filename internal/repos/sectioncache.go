package repos

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/types"
)

type SectionCacheRepo interface {
	GetByKey(ctx context.Context, tx *gorm.DB, key types.CacheKey) (*types.SectionCacheEntry, error)
	Upsert(ctx context.Context, tx *gorm.DB, key types.CacheKey, result []byte) error
}

type sectionCacheRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSectionCacheRepo(db *gorm.DB, baseLog *logger.Logger) SectionCacheRepo {
	return &sectionCacheRepo{db: db, log: baseLog.With("repo", "SectionCacheRepo")}
}

func (r *sectionCacheRepo) GetByKey(ctx context.Context, tx *gorm.DB, key types.CacheKey) (*types.SectionCacheEntry, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var row types.SectionCacheEntry
	err := transaction.WithContext(ctx).
		Where("user_id = ? AND issue_slug = ? AND section_key = ? AND report_mode = ? AND range_key = ?",
			key.UserID, key.IssueSlug, string(key.SectionKey), string(key.ReportMode), key.RangeKey).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if len(row.Result) == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *sectionCacheRepo) Upsert(ctx context.Context, tx *gorm.DB, key types.CacheKey, result []byte) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	row := &types.SectionCacheEntry{
		UserID:     key.UserID,
		IssueSlug:  key.IssueSlug,
		SectionKey: string(key.SectionKey),
		ReportMode: string(key.ReportMode),
		RangeKey:   key.RangeKey,
		Result:     result,
		UpdatedAt:  time.Now().UTC(),
	}
	// Whole-blob replacement; no partial updates.
	return transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"}, {Name: "issue_slug"}, {Name: "section_key"},
				{Name: "report_mode"}, {Name: "range_key"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"result", "updated_at"}),
		}).
		Create(row).Error
}
