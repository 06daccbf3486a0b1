package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TypeTransformRun is the asynq task type for one transformation job.
const TypeTransformRun = "transform:run"

// QueueTransforms is the queue transformation workers consume.
const QueueTransforms = "transforms"

// jobTimeout bounds a single generation job end to end.
const jobTimeout = 10 * time.Minute

type transformPayload struct {
	TaskID string `json:"task_id"`
}

// NewTransformTask builds the work item for one transformation. The
// asynq task ID mirrors the record's TaskID so the cancel endpoint can
// address it, and failed generations are not retried automatically.
func NewTransformTask(taskID string) (*asynq.Task, []asynq.Option, error) {
	payload, err := json.Marshal(transformPayload{TaskID: taskID})
	if err != nil {
		return nil, nil, fmt.Errorf("tasks: marshal payload: %w", err)
	}

	opts := []asynq.Option{
		asynq.Queue(QueueTransforms),
		asynq.TaskID(taskID),
		asynq.MaxRetry(0),
		asynq.Timeout(jobTimeout),
	}

	return asynq.NewTask(TypeTransformRun, payload), opts, nil
}
