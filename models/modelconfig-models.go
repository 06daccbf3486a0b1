package models

import (
	"gorm.io/gorm"
)

// Generation backend variants. Each ModelConfig names exactly one; the
// diffusion service dispatches on it when building the inference request.
const (
	BackendStableDiffusion   = "stable-diffusion"
	BackendStableDiffusionXL = "stable-diffusion-xl"
	BackendControlNet        = "controlnet"
)

// ModelConfig describes one available generation model. It is metadata,
// not code: the ModelRef points at the hosted model the worker invokes.
type ModelConfig struct {
	gorm.Model
	Name        string `json:"name" gorm:"size:128;uniqueIndex;not null"`
	DisplayName string `json:"display_name" gorm:"size:200;not null"`
	Description string `json:"description"`

	Backend        string `json:"backend" gorm:"size:50;not null"`
	ControlNetKind string `json:"controlnet_kind,omitempty" gorm:"size:50"` // canny, depth, openpose or lineart
	ModelRef       string `json:"model_ref" gorm:"size:200;not null"`       // owner/name[:version]

	DefaultPrompt         string `json:"default_prompt"`
	DefaultNegativePrompt string `json:"default_negative_prompt"`
	MaxImageSize          int    `json:"max_image_size" gorm:"default:1024"`
	SupportedFormats      string `json:"supported_formats" gorm:"size:100;default:'jpg,png,webp'"`

	IsActive  bool `json:"is_active" gorm:"not null;default:true;index"`
	IsPremium bool `json:"is_premium" gorm:"not null;default:false"`

	AvgProcessingTime float64 `json:"avg_processing_time,omitempty"`
	UsageCount        int     `json:"usage_count" gorm:"not null;default:0"`
}
