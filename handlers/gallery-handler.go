package handler

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/ukiyolabs/ukiyo-serve/database"
	"github.com/ukiyolabs/ukiyo-serve/middleware"
	"github.com/ukiyolabs/ukiyo-serve/models"
	"gorm.io/gorm"
)

// newShareToken mints the URL-safe token a public gallery item is
// reachable under.
func newShareToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// ListGallery returns the user's own gallery items, newest first, with
// an optional tag filter.
func ListGallery(c *fiber.Ctx) error {
	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return unauthorized(c)
	}

	page, perPage := parsePagination(c)

	query := database.GetDB().Model(&models.GalleryItem{}).Where("user_id = ?", userID)
	if tag := c.Query("tag"); tag != "" {
		query = query.Where("tags LIKE ?", "%"+tag+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return internalError(c)
	}

	var items []models.GalleryItem
	err = query.Preload("Transformation").
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&items).Error
	if err != nil {
		return internalError(c)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Gallery items",
		"data": fiber.Map{
			"items": items,
			"meta":  paginationMeta(page, perPage, total),
		},
	})
}

// CreateGalleryItem publishes a completed transformation to the gallery.
// Each transformation can appear there once per owner.
func CreateGalleryItem(c *fiber.Ctx) error {
	type CreateData struct {
		TransformationID uint   `json:"transformation_id"`
		Title            string `json:"title"`
		Description      string `json:"description"`
		Tags             string `json:"tags"`
		IsPublic         bool   `json:"is_public"`
	}

	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return unauthorized(c)
	}

	var input CreateData
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if input.TransformationID == 0 {
		return badRequest(c, "transformation_id is required")
	}
	if input.Title == "" {
		return badRequest(c, "Title is required")
	}

	db := database.GetDB()

	var t models.Transformation
	if err := db.First(&t, input.TransformationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status":  "error",
				"message": "Transformation not found",
				"data":    nil,
			})
		}
		return internalError(c)
	}
	if t.UserID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"status":  "error",
			"message": "You do not own this transformation",
			"data":    nil,
		})
	}
	if t.Status != models.StatusCompleted {
		return badRequest(c, "Only completed transformations can be added to the gallery")
	}

	var existing models.GalleryItem
	err = db.Where("user_id = ? AND transformation_id = ?", userID, t.ID).First(&existing).Error
	if err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status":  "error",
			"message": "This transformation is already in your gallery",
			"data":    nil,
		})
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return internalError(c)
	}

	item := models.GalleryItem{
		UserID:           userID,
		TransformationID: t.ID,
		Title:            input.Title,
		Description:      input.Description,
		Tags:             input.Tags,
		IsPublic:         input.IsPublic,
	}
	if input.IsPublic {
		token, err := newShareToken()
		if err != nil {
			return internalError(c)
		}
		item.ShareToken = &token
	}

	if err := db.Create(&item).Error; err != nil {
		// The composite unique index backs up the check above.
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"status":  "error",
			"message": "This transformation is already in your gallery",
			"data":    nil,
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status":  "success",
		"message": "Gallery item created",
		"data":    item,
	})
}

// PublicGallery lists public items; with featured=true only featured
// ones, ordered by popularity.
func PublicGallery(c *fiber.Ctx) error {
	page, perPage := parsePagination(c)

	query := database.GetDB().Model(&models.GalleryItem{}).Where("is_public = ?", true)

	order := "created_at DESC"
	if c.Query("featured") == "true" {
		query = query.Where("is_featured = ?", true)
		order = "view_count DESC"
	}
	if tag := c.Query("tag"); tag != "" {
		query = query.Where("tags LIKE ?", "%"+tag+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return internalError(c)
	}

	var items []models.GalleryItem
	err := query.Preload("Transformation").
		Order(order).
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&items).Error
	if err != nil {
		return internalError(c)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Public gallery",
		"data": fiber.Map{
			"items": items,
			"meta":  paginationMeta(page, perPage, total),
		},
	})
}

// ShareGallery resolves a share token to its public item and counts the
// view. No authentication required.
func ShareGallery(c *fiber.Ctx) error {
	token := c.Params("token")

	db := database.GetDB()
	var item models.GalleryItem
	err := db.Preload("Transformation").
		Where("share_token = ? AND is_public = ?", token, true).
		First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status":  "error",
				"message": "Gallery item not found",
				"data":    nil,
			})
		}
		return internalError(c)
	}

	db.Model(&item).UpdateColumn("view_count", gorm.Expr("view_count + 1"))
	item.ViewCount++

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Gallery item",
		"data":    item,
	})
}

// GetGalleryItem returns one item: the owner always sees it, everyone
// else only when it is public. A non-owner view of a public item counts
// toward its view counter.
func GetGalleryItem(c *fiber.Ctx) error {
	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return unauthorized(c)
	}

	db := database.GetDB()
	var item models.GalleryItem
	if err := db.Preload("Transformation").First(&item, c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status":  "error",
				"message": "Gallery item not found",
				"data":    nil,
			})
		}
		return internalError(c)
	}

	if item.UserID != userID {
		if !item.IsPublic {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"status":  "error",
				"message": "This gallery item is private",
				"data":    nil,
			})
		}
		db.Model(&item).UpdateColumn("view_count", gorm.Expr("view_count + 1"))
		item.ViewCount++
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Gallery item",
		"data":    item,
	})
}

// UpdateGalleryItem edits an owned item. Flipping visibility manages the
// share token: publishing mints one, unpublishing discards it.
func UpdateGalleryItem(c *fiber.Ctx) error {
	type UpdateData struct {
		Title       *string `json:"title"`
		Description *string `json:"description"`
		Tags        *string `json:"tags"`
		IsPublic    *bool   `json:"is_public"`
	}

	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return unauthorized(c)
	}

	var input UpdateData
	if err := c.BodyParser(&input); err != nil {
		return badRequest(c, "Invalid request body")
	}

	db := database.GetDB()
	var item models.GalleryItem
	if err := db.First(&item, c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status":  "error",
				"message": "Gallery item not found",
				"data":    nil,
			})
		}
		return internalError(c)
	}
	if item.UserID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"status":  "error",
			"message": "You do not own this gallery item",
			"data":    nil,
		})
	}

	if input.Title != nil {
		if *input.Title == "" {
			return badRequest(c, "Title cannot be empty")
		}
		item.Title = *input.Title
	}
	if input.Description != nil {
		item.Description = *input.Description
	}
	if input.Tags != nil {
		item.Tags = *input.Tags
	}
	if input.IsPublic != nil && *input.IsPublic != item.IsPublic {
		item.IsPublic = *input.IsPublic
		if item.IsPublic {
			token, err := newShareToken()
			if err != nil {
				return internalError(c)
			}
			item.ShareToken = &token
		} else {
			item.ShareToken = nil
		}
	}

	// Save skips nil pointer fields, so clearing the token needs an
	// explicit column write.
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&item).Error; err != nil {
			return err
		}
		return tx.Model(&item).UpdateColumn("share_token", item.ShareToken).Error
	})
	if err != nil {
		return internalError(c)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Gallery item updated",
		"data":    item,
	})
}

// DeleteGalleryItem removes an owned item. The transformation and its
// files stay.
func DeleteGalleryItem(c *fiber.Ctx) error {
	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return unauthorized(c)
	}

	db := database.GetDB()
	var item models.GalleryItem
	if err := db.First(&item, c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status":  "error",
				"message": "Gallery item not found",
				"data":    nil,
			})
		}
		return internalError(c)
	}
	if item.UserID != userID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"status":  "error",
			"message": "You do not own this gallery item",
			"data":    nil,
		})
	}

	// Hard delete so the (user, transformation) slot in the composite
	// unique index frees up and the transformation can be re-published.
	if err := db.Unscoped().Delete(&item).Error; err != nil {
		return internalError(c)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Gallery item deleted",
		"data":    nil,
	})
}
