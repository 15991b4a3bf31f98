package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soleahealth/insights-backend/internal/logger"
	"github.com/soleahealth/insights-backend/internal/types"
)

// UserDataRepo bundles the read-only accessors the insight engine needs to
// build prompt inputs and fingerprints.
type UserDataRepo interface {
	GetUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.User, error)
	GetHealthGoals(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.HealthGoal, error)
	GetHealthLogs(ctx context.Context, tx *gorm.DB, goalID uuid.UUID, limit int) ([]*types.HealthLog, error)
	GetBloodResult(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.BloodResult, error)
	GetSupplements(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Supplement, error)
	GetMedications(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Medication, error)
	GetFoodLogs(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since *time.Time, limit int) ([]*types.FoodLog, error)
	GetExerciseLogs(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since *time.Time, limit int) ([]*types.ExerciseLog, error)
}

type userDataRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserDataRepo(db *gorm.DB, baseLog *logger.Logger) UserDataRepo {
	return &userDataRepo{db: db, log: baseLog.With("repo", "UserDataRepo")}
}

func (r *userDataRepo) GetUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.User, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var row types.User
	err := transaction.WithContext(ctx).
		Where("id = ?", userID).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *userDataRepo) GetHealthGoals(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.HealthGoal, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.HealthGoal
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *userDataRepo) GetHealthLogs(ctx context.Context, tx *gorm.DB, goalID uuid.UUID, limit int) ([]*types.HealthLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if limit <= 0 {
		limit = 12
	}
	var results []*types.HealthLog
	err := transaction.WithContext(ctx).
		Where("goal_id = ?", goalID).
		Order("created_at DESC").
		Limit(limit).
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *userDataRepo) GetBloodResult(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.BloodResult, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var row types.BloodResult
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *userDataRepo) GetSupplements(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Supplement, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Supplement
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("name ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *userDataRepo) GetMedications(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Medication, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Medication
	err := transaction.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("name ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (r *userDataRepo) GetFoodLogs(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since *time.Time, limit int) ([]*types.FoodLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Where("user_id = ?", userID)
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var results []*types.FoodLog
	if err := q.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *userDataRepo) GetExerciseLogs(ctx context.Context, tx *gorm.DB, userID uuid.UUID, since *time.Time, limit int) ([]*types.ExerciseLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(ctx).Where("user_id = ?", userID)
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var results []*types.ExerciseLog
	if err := q.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
