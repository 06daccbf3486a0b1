package models

import (
	"gorm.io/gorm"
)

// GalleryItem is a user's curated presentation of one completed
// transformation. A user can publish each transformation at most once,
// enforced by the composite unique index. ShareToken is set if and only
// if the item is public.
type GalleryItem struct {
	gorm.Model
	UserID           uint `json:"user_id" gorm:"not null;index;uniqueIndex:idx_gallery_user_transformation"`
	TransformationID uint `json:"transformation_id" gorm:"not null;uniqueIndex:idx_gallery_user_transformation"`

	Title       string `json:"title" gorm:"size:200;not null"`
	Description string `json:"description"`
	Tags        string `json:"tags" gorm:"size:500"` // comma-separated

	IsPublic   bool    `json:"is_public" gorm:"not null;default:false;index"`
	IsFeatured bool    `json:"is_featured" gorm:"not null;default:false"`
	ShareToken *string `json:"share_token,omitempty" gorm:"size:128;uniqueIndex"`

	// Engagement counters, never decremented
	ViewCount     int `json:"view_count" gorm:"not null;default:0"`
	LikeCount     int `json:"like_count" gorm:"not null;default:0"`
	DownloadCount int `json:"download_count" gorm:"not null;default:0"`

	// Relationships
	User           User           `json:"-" gorm:"foreignKey:UserID"`
	Transformation Transformation `json:"transformation,omitempty" gorm:"foreignKey:TransformationID"`
}
