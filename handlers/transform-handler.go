package handler

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/ukiyolabs/ukiyo-serve/config"
	"github.com/ukiyolabs/ukiyo-serve/database"
	"github.com/ukiyolabs/ukiyo-serve/middleware"
	"github.com/ukiyolabs/ukiyo-serve/models"
	"github.com/ukiyolabs/ukiyo-serve/storage"
	"github.com/ukiyolabs/ukiyo-serve/tasks"
	"github.com/ukiyolabs/ukiyo-serve/validation"
	"gorm.io/gorm"
)

// ListModels returns the active model catalog.
func ListModels(c *fiber.Ctx) error {
	var configs []models.ModelConfig
	if err := database.GetDB().Where("is_active = ?", true).Order("name").Find(&configs).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Database error",
			"data":    nil,
		})
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Available models",
		"data":    configs,
	})
}

func parseFloatField(value, name string, fallback float64) (float64, error) {
	if value == "" {
		return fallback, nil
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: must be a number", name)
	}

	return f, nil
}

func parseIntField(value, name string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: must be an integer", name)
	}

	return n, nil
}

// UploadTransform accepts the multipart upload, validates everything
// before any write, stores the original, creates the record and
// enqueues the job. Answers 202 with the task ID.
func UploadTransform(c *fiber.Ctx) error {
	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"status":  "error",
			"message": "Authentication required",
			"data":    nil,
		})
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return badRequest(c, "Image file is required")
	}

	if !validation.AllowedFile(fileHeader.Filename) {
		return badRequest(c, "File type not allowed. Allowed types: png, jpg, jpeg, webp, gif")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return badRequest(c, "Failed to read uploaded file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return badRequest(c, "Failed to read uploaded file")
	}

	maxBytes := int64(config.ConfigInt("MAX_CONTENT_LENGTH", 16*1024*1024))
	maxDimension := config.ConfigInt("MAX_IMAGE_SIZE", 2048)

	if _, err := validation.ValidateImage(data, maxBytes, maxDimension); err != nil {
		return badRequest(c, err.Error())
	}

	db := database.GetDB()

	modelName := c.FormValue("model_name")
	if modelName == "" {
		modelName = config.ConfigOr("DEFAULT_MODEL", "stable-diffusion-v1-5")
	}

	var mc models.ModelConfig
	if err := db.Where("name = ? AND is_active = ?", modelName, true).First(&mc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return badRequest(c, fmt.Sprintf("Unknown model: %s", modelName))
		}
		return internalError(c)
	}

	prompt := c.FormValue("prompt")
	if prompt == "" {
		prompt = mc.DefaultPrompt
	}
	if err := validation.ValidatePrompt(prompt); err != nil {
		return badRequest(c, err.Error())
	}

	negativePrompt := c.FormValue("negative_prompt")
	if negativePrompt == "" {
		negativePrompt = mc.DefaultNegativePrompt
	}

	strength, err := parseFloatField(c.FormValue("strength"), "strength", DefaultStrength)
	if err != nil {
		return badRequest(c, err.Error())
	}

	guidanceScale, err := parseFloatField(c.FormValue("guidance_scale"), "guidance_scale", DefaultGuidanceScale)
	if err != nil {
		return badRequest(c, err.Error())
	}

	steps, err := parseIntField(c.FormValue("num_inference_steps"), "num_inference_steps", DefaultSteps)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var seed *int64
	if raw := c.FormValue("seed"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return badRequest(c, "invalid seed: must be an integer")
		}
		seed = &n
	}

	if err := validation.ValidateGenerationParams(strength, guidanceScale, steps, seed); err != nil {
		return badRequest(c, err.Error())
	}

	// Everything checked, now write.
	taskID := uuid.NewString()
	originalName := fmt.Sprintf("original_%s_%s", taskID, validation.SanitizeFilename(fileHeader.Filename))

	originalURL, err := blobStore.Upload(c.Context(), data, originalName, storage.FolderOriginals)
	if err != nil {
		logger.Error().Err(err).Msg("original upload failed")
		return internalError(c)
	}

	// The storage layer may rewrite the extension when it re-encodes
	// (webp and gif land as jpg), so record the name it actually stored.
	storedName := path.Base(originalURL)

	transformation := models.Transformation{
		TaskID:            taskID,
		UserID:            userID,
		Status:            models.StatusPending,
		OriginalFilename:  storedName,
		OriginalURL:       originalURL,
		OriginalSize:      int64(len(data)),
		ModelName:         mc.Name,
		Prompt:            prompt,
		NegativePrompt:    negativePrompt,
		Strength:          strength,
		GuidanceScale:     guidanceScale,
		NumInferenceSteps: steps,
		Seed:              seed,
	}
	if err := db.Create(&transformation).Error; err != nil {
		logger.Error().Err(err).Msg("transformation create failed")
		return internalError(c)
	}

	task, opts, err := tasks.NewTransformTask(taskID)
	if err == nil {
		_, err = queueClient.Enqueue(task, opts...)
	}
	if err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("enqueue failed")
		db.Model(&transformation).
			Where("status = ?", models.StatusPending).
			Updates(map[string]interface{}{
				"status":        models.StatusFailed,
				"error_message": "Failed to queue transformation",
			})
		return internalError(c)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":  "success",
		"message": "Transformation queued",
		"data": fiber.Map{
			"task_id":        taskID,
			"transformation": transformation,
		},
	})
}

// ownedTransformation loads a transformation by task ID, enforcing
// ownership. Writes the error response itself and returns nil when the
// caller should stop.
func ownedTransformation(c *fiber.Ctx, userID uint) *models.Transformation {
	taskID := c.Params("taskID")

	var t models.Transformation
	err := database.GetDB().Where("task_id = ?", taskID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"status":  "error",
				"message": "Transformation not found",
				"data":    nil,
			})
			return nil
		}
		internalError(c)
		return nil
	}

	if t.UserID != userID {
		c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"status":  "error",
			"message": "You do not own this transformation",
			"data":    nil,
		})
		return nil
	}

	return &t
}

// TransformStatus returns the current record for polling clients.
func TransformStatus(c *fiber.Ctx) error {
	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return unauthorized(c)
	}

	t := ownedTransformation(c, userID)
	if t == nil {
		return nil
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Transformation status",
		"data":    t,
	})
}

// TransformResult returns the record with its download URL once the job
// completed; 400 before that.
func TransformResult(c *fiber.Ctx) error {
	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return unauthorized(c)
	}

	t := ownedTransformation(c, userID)
	if t == nil {
		return nil
	}

	if t.Status != models.StatusCompleted {
		return badRequest(c, fmt.Sprintf("Transformation is not completed (status: %s)", t.Status))
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Transformation result",
		"data": fiber.Map{
			"transformation": t,
			"download_url":   t.ResultURL,
		},
	})
}

// TransformHistory lists the user's transformations, newest first, with
// an optional status filter.
func TransformHistory(c *fiber.Ctx) error {
	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return unauthorized(c)
	}

	page, perPage := parsePagination(c)

	query := database.GetDB().Model(&models.Transformation{}).Where("user_id = ?", userID)

	if status := c.Query("status"); status != "" {
		switch status {
		case models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed:
			query = query.Where("status = ?", status)
		default:
			return badRequest(c, fmt.Sprintf("Invalid status filter: %s", status))
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return internalError(c)
	}

	var items []models.Transformation
	err = query.Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&items).Error
	if err != nil {
		return internalError(c)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Transformation history",
		"data": fiber.Map{
			"transformations": items,
			"meta":            paginationMeta(page, perPage, total),
		},
	})
}

// CancelTransform revokes a queued or running job and forces the record
// to failed. Terminal jobs cannot be cancelled.
func CancelTransform(c *fiber.Ctx) error {
	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return unauthorized(c)
	}

	t := ownedTransformation(c, userID)
	if t == nil {
		return nil
	}

	if !models.CanTransition(t.Status, models.StatusFailed) {
		return badRequest(c, fmt.Sprintf("Cannot cancel a %s transformation", t.Status))
	}

	// Best effort revocation at the queue level: delete it while queued,
	// signal cancellation when already running.
	if err := queueInspector.DeleteTask(tasks.QueueTransforms, t.TaskID); err != nil {
		if cerr := queueInspector.CancelProcessing(t.TaskID); cerr != nil {
			logger.Warn().Err(cerr).Str("task_id", t.TaskID).Msg("queue cancellation failed")
		}
	}

	res := database.GetDB().Model(&models.Transformation{}).
		Where("id = ? AND status IN ?", t.ID, []string{models.StatusPending, models.StatusProcessing}).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"error_message": "Cancelled by user",
		})
	if res.Error != nil {
		return internalError(c)
	}
	if res.RowsAffected == 0 {
		return badRequest(c, "Transformation already finished")
	}

	t.Status = models.StatusFailed
	t.ErrorMessage = "Cancelled by user"

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Transformation cancelled",
		"data":    t,
	})
}

// DeleteTransform removes the record and its stored blobs. Blob deletion
// is best effort; a stale object is better than a stuck delete.
func DeleteTransform(c *fiber.Ctx) error {
	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return unauthorized(c)
	}

	t := ownedTransformation(c, userID)
	if t == nil {
		return nil
	}

	for _, url := range []string{t.OriginalURL, t.ResultURL} {
		if url == "" {
			continue
		}
		if err := blobStore.Delete(c.Context(), url); err != nil {
			logger.Warn().Err(err).Str("url", url).Msg("blob deletion failed")
		}
	}

	// Hard delete: a soft-deleted row would keep occupying the unique
	// indexes (task_id, the gallery composite) it is part of.
	err = database.GetDB().Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("transformation_id = ?", t.ID).Delete(&models.GalleryItem{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(t).Error
	})
	if err != nil {
		return internalError(c)
	}

	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Transformation deleted",
		"data":    nil,
	})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"status":  "error",
		"message": message,
		"data":    nil,
	})
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"status":  "error",
		"message": "Authentication required",
		"data":    nil,
	})
}

func internalError(c *fiber.Ctx) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"status":  "error",
		"message": "Internal server error",
		"data":    nil,
	})
}
