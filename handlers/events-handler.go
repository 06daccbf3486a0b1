package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/ukiyolabs/ukiyo-serve/database"
	"github.com/ukiyolabs/ukiyo-serve/middleware"
	"github.com/ukiyolabs/ukiyo-serve/models"
	"github.com/ukiyolabs/ukiyo-serve/notify"
	"github.com/valyala/fasthttp"
)

// pollInterval is the DB fallback cadence while streaming progress.
const pollInterval = 2 * time.Second

// snapshotUpdate maps a persisted record onto the progress payload so a
// late subscriber starts from the current state.
func snapshotUpdate(t *models.Transformation) notify.ProgressUpdate {
	u := notify.ProgressUpdate{TaskID: t.TaskID, Status: t.Status}

	switch t.Status {
	case models.StatusProcessing:
		u.Message = "Transformation in progress..."
		u.Percent = 10
	case models.StatusCompleted:
		u.Message = "Transformation completed successfully!"
		u.Percent = 100
	case models.StatusFailed:
		u.Message = t.ErrorMessage
		u.Percent = 0
	default:
		u.Message = "Transformation queued"
		u.Percent = 0
	}

	return u
}

func writeEvent(w *bufio.Writer, u notify.ProgressUpdate) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: transformation_progress\ndata: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}

// TransformEvents streams progress updates for one owned task as
// server-sent events: a snapshot of the current record first, then the
// live feed from Redis with a periodic DB poll as fallback. The stream
// closes after a terminal event.
func TransformEvents(c *fiber.Ctx) error {
	userID, err := middleware.CheckUserLoggedIn(c)
	if err != nil {
		return unauthorized(c)
	}

	t := ownedTransformation(c, userID)
	if t == nil {
		return nil
	}
	taskID := t.TaskID

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	// The fiber context is recycled once the handler returns, so the
	// stream writer works from its own context and captured values.
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := redisClient.Subscribe(ctx, notify.Channel(taskID))

	snapshot := snapshotUpdate(t)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer pubsub.Close()

		if err := writeEvent(w, snapshot); err != nil {
			return
		}
		if snapshot.Status == models.StatusCompleted || snapshot.Status == models.StatusFailed {
			return
		}

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var u notify.ProgressUpdate
				if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
					continue
				}
				if err := writeEvent(w, u); err != nil {
					return
				}
				if u.Status == models.StatusCompleted || u.Status == models.StatusFailed {
					return
				}

			case <-ticker.C:
				var current models.Transformation
				if err := database.GetDB().Where("task_id = ?", taskID).First(&current).Error; err != nil {
					return
				}
				if current.IsTerminal() {
					if err := writeEvent(w, snapshotUpdate(&current)); err != nil {
						return
					}
					return
				}
			}
		}
	}))

	return nil
}
