package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskAnalyzeImage is scheduled for every analysis trigger.
	TaskAnalyzeImage = "image:analyze"
)

// AnalyzePayload is serialized into the task payload so the worker knows
// which record to process.
type AnalyzePayload struct {
	RecordID  string `json:"record_id"`
	OwnerID   string `json:"owner_id"`
	SourceURL string `json:"source_url"`
}

// EnqueueAnalyze schedules an analysis task. The task id is derived from the
// record id, so a record already queued or running is not enqueued twice;
// that duplicate is reported as nil because the work is on its way either
// way.
func EnqueueAnalyze(ctx context.Context, client *asynq.Client, payload AnalyzePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskAnalyzeImage, data)
	_, err = client.EnqueueContext(ctx, task,
		asynq.TaskID("analyze:"+payload.RecordID),
		asynq.MaxRetry(5),
		asynq.Timeout(10*time.Minute),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("enqueue analyze task: %w", err)
	}
	return nil
}
