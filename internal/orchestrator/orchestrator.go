package orchestrator

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/buddy-work/internal/metrics"
	"github.com/cuongbtq/buddy-work/internal/orchestrator/domain"
	"github.com/cuongbtq/buddy-work/shared/recordstore"
)

// RecordStore creates and patches job records in the external table
type RecordStore interface {
	Create(ctx context.Context, target recordstore.Target, fields recordstore.Fields) (string, error)
	Update(ctx context.Context, target recordstore.Target, recordID string, fields recordstore.Fields) error
}

// WorkExecutor runs one instruction against a prediction flow
type WorkExecutor interface {
	Invoke(ctx context.Context, engineID, instruction string) (string, error)
}

// EventPublisher broadcasts job lifecycle events
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, payload any) error
}

// Config holds orchestrator dependencies and settings
type Config struct {
	Logger   *slog.Logger
	Store    RecordStore
	Executor WorkExecutor
	Events   EventPublisher // optional
	AuthKey  string
	Columns  domain.Columns

	// MaxInFlight bounds concurrent background jobs; 0 means unbounded
	MaxInFlight int64

	Clock func() time.Time
}

// Orchestrator accepts work requests and owns their background jobs
type Orchestrator struct {
	logger    *slog.Logger
	store     RecordStore
	executor  WorkExecutor
	events    EventPublisher
	authKey   []byte
	columns   domain.Columns
	admission *admission
	clock     func() time.Time
	wg        sync.WaitGroup
	inFlight  atomic.Int64
}

// New creates a new orchestrator instance
func New(cfg *Config) *Orchestrator {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	o := &Orchestrator{
		logger:    cfg.Logger,
		store:     cfg.Store,
		executor:  cfg.Executor,
		events:    cfg.Events,
		authKey:   []byte(cfg.AuthKey),
		columns:   cfg.Columns.WithDefaults(),
		admission: newAdmission(cfg.MaxInFlight),
		clock:     clock,
	}

	o.logger.Info("Orchestrator initialized",
		slog.Int64("max_in_flight", cfg.MaxInFlight),
		slog.Bool("events_enabled", cfg.Events != nil),
	)

	return o
}

// AssignWork validates a request, creates its record and dispatches the
// background job. It returns as soon as the record exists.
func (o *Orchestrator) AssignWork(ctx context.Context, req domain.WorkRequest) (domain.Assignment, error) {
	if !o.authorized(req.AuthKey) {
		o.logger.Warn("Rejected request with invalid auth key",
			slog.String("user_id", req.UserID),
		)
		return domain.Assignment{}, domain.ErrUnauthorized
	}

	if missing := req.MissingFields(); len(missing) > 0 {
		return domain.Assignment{}, &domain.MissingFieldsError{Fields: missing}
	}

	if !o.admission.acquire() {
		o.logger.Warn("Rejected request, admission limit reached",
			slog.String("user_id", req.UserID),
			slog.Int64("in_flight", o.InFlight()),
		)
		return domain.Assignment{}, domain.ErrAtCapacity
	}

	acceptedAt := o.clock().UTC()
	start := time.Now()
	recordID, err := o.store.Create(ctx, targetOf(req), o.initialFields(req, acceptedAt))
	metrics.ObserveUpstream(metrics.UpstreamRecordCreate, start, err)
	if err != nil {
		o.admission.release()
		metrics.JobStatus(domain.JobStatusAssignFailed)
		o.logger.Error("Failed to create job record",
			slog.String("status", domain.JobStatusAssignFailed),
			slog.String("user_id", req.UserID),
			slog.String("table_id", req.TableID),
			slog.Any("error", err),
		)
		return domain.Assignment{}, fmt.Errorf("failed to create record: %w", err)
	}

	metrics.JobStatus(domain.JobStatusRunning)
	o.logger.Info("Job record created",
		slog.String("record_id", recordID),
		slog.String("user_id", req.UserID),
		slog.String("engine_id", req.EngineID),
	)

	o.dispatch(domain.Job{
		RecordID:   recordID,
		Request:    req,
		AcceptedAt: acceptedAt,
	})

	return domain.Assignment{RecordID: recordID, Status: domain.JobStatusRunning}, nil
}

// dispatch starts the job on a fresh root context. Nothing from the inbound
// request's context, cancellation or values, reaches the job.
func (o *Orchestrator) dispatch(job domain.Job) {
	o.wg.Add(1)
	o.inFlight.Add(1)
	metrics.JobStarted()

	go o.process(context.Background(), job)
}

// Wait blocks until every dispatched job finished or ctx is done
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.logger.Info("All background jobs drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%d job(s) still in flight: %w", o.InFlight(), ctx.Err())
	}
}

// InFlight returns the number of background jobs not yet finished
func (o *Orchestrator) InFlight() int64 {
	return o.inFlight.Load()
}

func (o *Orchestrator) authorized(key string) bool {
	if len(o.authKey) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), o.authKey) == 1
}

func (o *Orchestrator) initialFields(req domain.WorkRequest, acceptedAt time.Time) recordstore.Fields {
	c := o.columns
	return recordstore.Fields{
		c.UserID:         req.UserID,
		c.UserSecret:     req.UserSecret,
		c.Category:       req.Category,
		c.Instruction:    req.Instruction,
		c.TimezoneOffset: *req.TimezoneOffset,
		c.Status:         domain.JobStatusRunning,
		c.ChatID:         req.ChatID,
		c.SessionID:      req.SessionID,
		c.StartDate:      acceptedAt.Format(time.RFC3339),
	}
}

func (o *Orchestrator) terminalFields(update domain.TerminalUpdate) recordstore.Fields {
	c := o.columns
	return recordstore.Fields{
		c.Status:  update.Status,
		c.Result:  update.Result,
		c.EndDate: update.EndedAt.Format(time.RFC3339),
	}
}

func targetOf(req domain.WorkRequest) recordstore.Target {
	return recordstore.Target{
		BaseID:  req.StoreID,
		TableID: req.TableID,
		APIKey:  req.StoreAPIKey,
	}
}
