package notify

import "context"

// ProgressUpdate is the payload pushed to clients while a transformation
// job runs. For one task, updates are published in phase order with
// non-decreasing percent; a terminal failed event resets percent to 0.
type ProgressUpdate struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
}

// Notifier delivers progress updates to whoever is listening. The job
// pipeline only sees this interface, the transport behind it is wiring.
type Notifier interface {
	Publish(ctx context.Context, update ProgressUpdate) error
}
