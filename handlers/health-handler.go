package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ukiyolabs/ukiyo-serve/database"
	"github.com/ukiyolabs/ukiyo-serve/models"
)

// Health answers as long as the process is up.
func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "ukiyo-serve",
		"time":    time.Now().UTC(),
	})
}

// Live is the liveness probe.
func Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Ready reports whether the dependencies the request path needs are
// reachable: the database and, when progress streaming is wired, Redis.
func Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	sqlDB, err := database.GetDB().DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		logger.Error().Err(err).Msg("readiness: db ping failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "unavailable",
			"error":  "database unavailable",
		})
	}

	if redisClient != nil {
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error().Err(err).Msg("readiness: redis ping failed")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  "redis unavailable",
			})
		}
	}

	return c.JSON(fiber.Map{"status": "ok"})
}

// Metrics exposes coarse application counters as JSON.
func Metrics(c *fiber.Ctx) error {
	db := database.GetDB()

	byStatus := map[string]int64{}
	for _, status := range []string{
		models.StatusPending, models.StatusProcessing,
		models.StatusCompleted, models.StatusFailed,
	} {
		var n int64
		if err := db.Model(&models.Transformation{}).Where("status = ?", status).Count(&n).Error; err != nil {
			return internalError(c)
		}
		byStatus[status] = n
	}

	var users, galleryItems int64
	if err := db.Model(&models.User{}).Count(&users).Error; err != nil {
		return internalError(c)
	}
	if err := db.Model(&models.GalleryItem{}).Count(&galleryItems).Error; err != nil {
		return internalError(c)
	}

	var avgProcessing float64
	row := db.Model(&models.Transformation{}).
		Where("status = ?", models.StatusCompleted).
		Select("COALESCE(AVG(processing_time), 0)").
		Row()
	if err := row.Scan(&avgProcessing); err != nil {
		return internalError(c)
	}

	return c.JSON(fiber.Map{
		"transformations":         byStatus,
		"users":                   users,
		"gallery_items":           galleryItems,
		"avg_processing_time_sec": avgProcessing,
	})
}
