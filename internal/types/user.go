package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID                uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email             string         `gorm:"column:email;not null;uniqueIndex" json:"email"`
	FirstName         string         `gorm:"column:first_name" json:"first_name"`
	LastName          string         `gorm:"column:last_name" json:"last_name"`
	Gender            *string        `gorm:"column:gender" json:"gender,omitempty"`
	Weight            *float64       `gorm:"column:weight" json:"weight,omitempty"`
	Height            *float64       `gorm:"column:height" json:"height,omitempty"`
	BodyType          *string        `gorm:"column:body_type" json:"body_type,omitempty"`
	ExerciseFrequency *string        `gorm:"column:exercise_frequency" json:"exercise_frequency,omitempty"`
	CreatedAt         time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "user" }
