// Package worker runs analysis tasks delivered through asynq.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"gallerymind/internal/pipeline"
	"gallerymind/internal/queue"
)

// Processor is plugged into the asynq worker loop. All analysis semantics
// live in the shared pipeline runner; this layer only decodes payloads and
// decides what asynq should retry.
type Processor struct {
	runner *pipeline.Runner
	log    *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(runner *pipeline.Runner, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{runner: runner, log: log}
}

// Handler registers the analysis task handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskAnalyzeImage, p.handleAnalyze)
	return mux
}

// handleAnalyze runs one record to a terminal state. A returned error means
// the store left the record unfinished and asynq should retry the task;
// analysis failures are not errors here because the runner already finalized
// the record as failed.
func (p *Processor) handleAnalyze(ctx context.Context, task *asynq.Task) error {
	var payload queue.AnalyzePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	start := time.Now()
	p.log.Debug("analysis task started", "record_id", payload.RecordID)
	if err := p.runner.Run(ctx, payload.RecordID); err != nil {
		p.log.Error("analysis task unfinished", "record_id", payload.RecordID, "error", err)
		return err
	}
	p.log.Info("analysis task finished",
		"record_id", payload.RecordID,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
