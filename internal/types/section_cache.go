package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SectionCacheEntry persists one generated SectionResult per composite key.
// Rows are only ever upserted, never deleted; staleness is judged by age and
// the validation flags inside Result, not by row absence.
type SectionCacheEntry struct {
	UserID     uuid.UUID      `gorm:"type:uuid;primaryKey" json:"user_id"`
	IssueSlug  string         `gorm:"column:issue_slug;primaryKey" json:"issue_slug"`
	SectionKey string         `gorm:"column:section_key;primaryKey" json:"section_key"`
	ReportMode string         `gorm:"column:report_mode;primaryKey" json:"report_mode"`
	RangeKey   string         `gorm:"column:range_key;primaryKey" json:"range_key"`
	Result     datatypes.JSON `gorm:"column:result;not null" json:"result"`
	UpdatedAt  time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (SectionCacheEntry) TableName() string { return "section_cache" }

// InsightsMetadata tracks generation state per (user, issue, section). Owned
// exclusively by the invalidator; mutated on change events and on
// regeneration completion or failure.
type InsightsMetadata struct {
	UserID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"user_id"`
	IssueSlug       string     `gorm:"column:issue_slug;primaryKey" json:"issue_slug"`
	SectionKey      string     `gorm:"column:section_key;primaryKey" json:"section_key"`
	LastGeneratedAt *time.Time `gorm:"column:last_generated_at" json:"last_generated_at,omitempty"`
	DataFingerprint string     `gorm:"column:data_fingerprint;not null;default:''" json:"data_fingerprint"`
	Status          string     `gorm:"column:status;not null;default:'stale'" json:"status"`
	UpdatedAt       time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (InsightsMetadata) TableName() string { return "insights_metadata" }
