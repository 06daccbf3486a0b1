package models

import (
	"time"

	"gorm.io/gorm"
)

// Transformation status values. Transitions only move forward:
// pending -> processing -> completed or failed. Cancellation forces a
// pending or processing job straight to failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type Transformation struct {
	gorm.Model
	TaskID string `json:"task_id" gorm:"size:128;uniqueIndex;not null"`
	UserID uint   `json:"user_id" gorm:"not null;index"`
	Status string `json:"status" gorm:"size:20;not null;default:'pending';index"`

	// Input reference
	OriginalFilename string `json:"original_filename" gorm:"size:255;not null"`
	OriginalURL      string `json:"original_url" gorm:"size:512;not null"`
	OriginalSize     int64  `json:"original_size"`

	// Generation parameters
	ModelName         string  `json:"model_name" gorm:"size:128;not null"`
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	Strength          float64 `json:"strength" gorm:"default:0.8"`
	GuidanceScale     float64 `json:"guidance_scale" gorm:"default:7.5"`
	NumInferenceSteps int     `json:"num_inference_steps" gorm:"default:20"`
	Seed              *int64  `json:"seed,omitempty"`

	// Output reference, set once the job completes
	ResultFilename string `json:"result_filename,omitempty" gorm:"size:255"`
	ResultURL      string `json:"result_url,omitempty" gorm:"size:512"`
	ResultSize     int64  `json:"result_size,omitempty"`

	// Execution metrics
	ProcessingTime float64 `json:"processing_time,omitempty"`
	MemoryUsed     int64   `json:"memory_used,omitempty"`
	ErrorMessage   string  `json:"error_message,omitempty"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Relationships
	User        User         `json:"-" gorm:"foreignKey:UserID"`
	GalleryItem *GalleryItem `json:"-" gorm:"foreignKey:TransformationID;constraint:OnDelete:CASCADE"`
}

// IsTerminal reports whether the job reached a final status.
func (t *Transformation) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// CanTransition reports whether a status change honors the forward-only
// lifecycle. Terminal states never change; a cancellation moves pending
// or processing jobs to failed like any other failure would.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
