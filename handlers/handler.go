package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ukiyolabs/ukiyo-serve/storage"
)

// MaxPerPage caps every paginated listing.
const MaxPerPage = 50

// Generation parameter defaults applied when the upload form omits a
// field.
const (
	DefaultStrength      = 0.8
	DefaultGuidanceScale = 7.5
	DefaultSteps         = 20
)

// TaskEnqueuer queues one work item. *asynq.Client satisfies it.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskController revokes queued or running work items.
// *asynq.Inspector satisfies it.
type TaskController interface {
	DeleteTask(queue, id string) error
	CancelProcessing(id string) error
}

// Package-level collaborators, set once at startup.
var (
	blobStore      storage.Storage
	queueClient    TaskEnqueuer
	queueInspector TaskController
	redisClient    *redis.Client
	logger         zerolog.Logger
)

// Setup hands the handlers their collaborators. Called once before the
// routes are registered.
func Setup(st storage.Storage, client TaskEnqueuer, inspector TaskController, rdb *redis.Client, log zerolog.Logger) {
	blobStore = st
	queueClient = client
	queueInspector = inspector
	redisClient = rdb
	logger = log
}

// parsePagination reads page/per_page query params, clamping per_page to
// MaxPerPage.
func parsePagination(c *fiber.Ctx) (page, perPage int) {
	page, _ = strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}

	perPage, _ = strconv.Atoi(c.Query("per_page", "20"))
	if perPage < 1 {
		perPage = 20
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}

	return page, perPage
}

// paginationMeta is the envelope every listing endpoint attaches.
func paginationMeta(page, perPage int, total int64) fiber.Map {
	pages := (total + int64(perPage) - 1) / int64(perPage)
	return fiber.Map{
		"page":     page,
		"per_page": perPage,
		"total":    total,
		"pages":    pages,
	}
}
