package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Username string `json:"username" gorm:"size:80;uniqueIndex;not null"`
	Email    string `json:"email" gorm:"size:120;uniqueIndex;not null"`
	Password string `json:"-" gorm:"size:256;not null"`
	FullName string `json:"name" gorm:"size:100"`

	AvatarURL string `json:"avatar_url,omitempty" gorm:"size:255"`
	Bio       string `json:"bio,omitempty"`

	IsActive    bool       `json:"is_active" gorm:"not null;default:true"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`

	// Usage counters, only ever incremented by the transformation pipeline
	TotalTransformations int   `json:"total_transformations" gorm:"not null;default:0"`
	StorageUsed          int64 `json:"storage_used" gorm:"not null;default:0"`

	// Relationships
	Transformations []Transformation `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	GalleryItems    []GalleryItem    `json:"-" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}
