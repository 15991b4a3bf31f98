package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// HealthGoal is a tracked issue or goal. Polarity distinguishes "make this go
// away" concerns from "build this up" goals; it drives severity labelling and
// trend direction.
type HealthGoal struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID        uuid.UUID      `gorm:"type:uuid;not null;index:idx_health_goal_user" json:"user_id"`
	User          *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	Name          string         `gorm:"column:name;not null" json:"name"`
	Slug          string         `gorm:"column:slug;not null;index:idx_health_goal_user_slug,unique,priority:2" json:"slug"`
	Polarity      string         `gorm:"column:polarity" json:"polarity"` // positive|negative
	CurrentRating *float64       `gorm:"column:current_rating" json:"current_rating,omitempty"`
	CreatedAt     time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (HealthGoal) TableName() string { return "health_goal" }

type HealthLog struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	GoalID    uuid.UUID      `gorm:"type:uuid;not null;index:idx_health_log_goal" json:"goal_id"`
	Goal      *HealthGoal    `gorm:"constraint:OnDelete:CASCADE;foreignKey:GoalID;references:ID" json:"goal,omitempty"`
	Rating    float64        `gorm:"column:rating;not null" json:"rating"`
	Notes     *string        `gorm:"column:notes" json:"notes,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now();index" json:"created_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (HealthLog) TableName() string { return "health_log" }

// BloodResult stores uploaded lab data. Markers is a JSON array of
// {name, value, unit, reference} objects.
type BloodResult struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	UserID    uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"user_id"`
	User      *User          `gorm:"constraint:OnDelete:CASCADE;foreignKey:UserID;references:ID" json:"user,omitempty"`
	Notes     string         `gorm:"column:notes" json:"notes"`
	Skipped   bool           `gorm:"column:skipped;not null;default:false" json:"skipped"`
	Documents datatypes.JSON `gorm:"column:documents" json:"documents,omitempty"`
	Markers   datatypes.JSON `gorm:"column:markers" json:"markers,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (BloodResult) TableName() string { return "blood_result" }
