package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/buddy-work/internal/metrics"
	"github.com/cuongbtq/buddy-work/internal/orchestrator/domain"
	"github.com/cuongbtq/buddy-work/shared/prediction"
)

// process runs one job to its terminal update. It never returns an error:
// every outcome, including a panic in execution, ends in one update attempt.
func (o *Orchestrator) process(ctx context.Context, job domain.Job) {
	defer o.wg.Done()
	defer o.admission.release()
	defer func() {
		o.inFlight.Add(-1)
		metrics.JobDone()
	}()

	logger := o.logger.With(slog.String("record_id", job.RecordID))
	logger.Info("Processing job",
		slog.String("engine_id", job.Request.EngineID),
	)
	o.publish(ctx, domain.EventJobDispatched, job, domain.JobStatusRunning)

	text, err := o.execute(ctx, job)

	update := Outcome(text, err)
	update.EndedAt = o.clock().UTC()

	if err != nil {
		logger.Warn("Job execution did not succeed",
			slog.String("status", update.Status),
			slog.Any("error", err),
		)
	}

	o.finish(ctx, logger, job, update)
}

// execute performs the single work invocation, converting a panic into a
// failed outcome
func (o *Orchestrator) execute(ctx context.Context, job domain.Job) (text string, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic during execution: %v", prediction.ErrWorkExecutionFailed, r)
		}
		metrics.ObserveUpstream(metrics.UpstreamPrediction, start, err)
	}()

	return o.executor.Invoke(ctx, job.Request.EngineID, job.Request.Instruction)
}

// finish writes the terminal update once. The store client retries
// transient failures itself; a final failure is logged and dropped.
// The status is only counted once the record carries it.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, job domain.Job, update domain.TerminalUpdate) {
	start := time.Now()
	err := o.store.Update(ctx, targetOf(job.Request), job.RecordID, o.terminalFields(update))
	metrics.ObserveUpstream(metrics.UpstreamRecordUpdate, start, err)
	if err != nil {
		metrics.RecordUpdateFailed()
		logger.Error("Failed to update final status",
			slog.String("status", update.Status),
			slog.Any("error", err),
		)
	} else {
		metrics.JobStatus(update.Status)
		logger.Info("Job finished",
			slog.String("status", update.Status),
			slog.Duration("elapsed", update.EndedAt.Sub(job.AcceptedAt)),
		)
	}

	o.publish(ctx, domain.EventJobPrefix+update.Status, job, update.Status)
}

// Outcome maps an invocation result to exactly one terminal status
func Outcome(text string, err error) domain.TerminalUpdate {
	switch {
	case err == nil:
		return domain.TerminalUpdate{Status: domain.JobStatusFinished, Result: text}
	case errors.Is(err, prediction.ErrWorkExecutionTimeout):
		return domain.TerminalUpdate{Status: domain.JobStatusTimeout, Result: domain.ResultTimedOut}
	default:
		return domain.TerminalUpdate{Status: domain.JobStatusFailed, Result: domain.ResultFailedPrefix + err.Error()}
	}
}

func (o *Orchestrator) publish(ctx context.Context, routingKey string, job domain.Job, status string) {
	if o.events == nil {
		return
	}

	event := domain.JobEvent{
		EventID:    uuid.NewString(),
		RecordID:   job.RecordID,
		Status:     status,
		EngineID:   job.Request.EngineID,
		UserID:     job.Request.UserID,
		OccurredAt: o.clock().UTC(),
	}

	if err := o.events.PublishJSON(ctx, routingKey, event); err != nil {
		o.logger.Warn("Failed to publish job event",
			slog.String("record_id", job.RecordID),
			slog.String("routing_key", routingKey),
			slog.Any("error", err),
		)
	}
}
