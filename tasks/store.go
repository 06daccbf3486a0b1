package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukiyolabs/ukiyo-serve/models"
	"gorm.io/gorm"
)

// ErrStaleTransition is returned when a guarded status update matches no
// row, meaning the record already moved past the expected status.
var ErrStaleTransition = errors.New("tasks: stale status transition")

// Store is the slice of persistence the job pipeline needs. The gorm
// implementation below is the production one; tests substitute a fake.
type Store interface {
	TransformationByTaskID(ctx context.Context, taskID string) (*models.Transformation, error)
	ModelConfigByName(ctx context.Context, name string) (*models.ModelConfig, error)
	MarkProcessing(ctx context.Context, t *models.Transformation, startedAt time.Time) error
	MarkFailed(ctx context.Context, t *models.Transformation, message string, processingTime float64) error
	MarkCompleted(ctx context.Context, t *models.Transformation) error
}

// GormStore implements Store on the application database. Status writes
// are guarded with a WHERE clause on the expected current status so a
// record can never move backwards, whatever races with it.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) TransformationByTaskID(ctx context.Context, taskID string) (*models.Transformation, error) {
	var t models.Transformation
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("tasks: load transformation: %w", err)
	}
	return &t, nil
}

func (s *GormStore) ModelConfigByName(ctx context.Context, name string) (*models.ModelConfig, error) {
	var mc models.ModelConfig
	err := s.db.WithContext(ctx).Where("name = ? AND is_active = ?", name, true).First(&mc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("tasks: load model config: %w", err)
	}
	return &mc, nil
}

func (s *GormStore) MarkProcessing(ctx context.Context, t *models.Transformation, startedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Transformation{}).
		Where("id = ? AND status = ?", t.ID, models.StatusPending).
		Updates(map[string]interface{}{
			"status":     models.StatusProcessing,
			"started_at": startedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("tasks: mark processing: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}

	t.Status = models.StatusProcessing
	t.StartedAt = &startedAt
	return nil
}

func (s *GormStore) MarkFailed(ctx context.Context, t *models.Transformation, message string, processingTime float64) error {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.Transformation{}).
		Where("id = ? AND status IN ?", t.ID, []string{models.StatusPending, models.StatusProcessing}).
		Updates(map[string]interface{}{
			"status":          models.StatusFailed,
			"error_message":   message,
			"processing_time": processingTime,
			"completed_at":    now,
		})
	if res.Error != nil {
		return fmt.Errorf("tasks: mark failed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleTransition
	}

	t.Status = models.StatusFailed
	t.ErrorMessage = message
	t.ProcessingTime = processingTime
	t.CompletedAt = &now
	return nil
}

// MarkCompleted persists the result fields already set on t, flips the
// status and increments the owner's usage counter, all in one
// transaction.
func (s *GormStore) MarkCompleted(ctx context.Context, t *models.Transformation) error {
	now := time.Now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Transformation{}).
			Where("id = ? AND status = ?", t.ID, models.StatusProcessing).
			Updates(map[string]interface{}{
				"status":          models.StatusCompleted,
				"result_filename": t.ResultFilename,
				"result_url":      t.ResultURL,
				"result_size":     t.ResultSize,
				"processing_time": t.ProcessingTime,
				"memory_used":     t.MemoryUsed,
				"completed_at":    now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleTransition
		}

		return tx.Model(&models.User{}).
			Where("id = ?", t.UserID).
			UpdateColumn("total_transformations", gorm.Expr("total_transformations + 1")).Error
	})
	if err != nil {
		if errors.Is(err, ErrStaleTransition) {
			return err
		}
		return fmt.Errorf("tasks: mark completed: %w", err)
	}

	t.Status = models.StatusCompleted
	t.CompletedAt = &now
	return nil
}
