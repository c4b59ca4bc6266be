package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/aeat111/internal/aeat111"
	"github.com/odyssey-erp/aeat111/internal/aeat111/periods"
	jobmetrics "github.com/odyssey-erp/aeat111/internal/jobs"
)

// ReportRunner is the report service surface the worker drives.
type ReportRunner interface {
	Run(ctx context.Context, action aeat111.Action, ids []int64, actorID int64) ([]aeat111.Report, error)
	List(ctx context.Context, f aeat111.ListFilter) ([]aeat111.Report, error)
}

// ReportJob applies queued report actions.
type ReportJob struct {
	Service ReportRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewReportJob constructs the handler.
func NewReportJob(service ReportRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReportJob {
	return &ReportJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle runs the action encoded in the task type. Failures caused by the
// reports themselves are not retried.
func (j *ReportJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("report job: dependencies not configured")
	}
	action, ok := ActionOf(task.Type())
	if !ok {
		return fmt.Errorf("report job: unexpected task %q: %w", task.Type(), asynq.SkipRetry)
	}
	var payload ReportPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || len(payload.IDs) == 0 {
		return asynq.SkipRetry
	}

	tracker := metricsOr(j.Metrics).Track(task.Type())
	out, err := j.Service.Run(ctx, action, payload.IDs, payload.ActorID)
	metricsOr(j.Metrics).AddReports(task.Type(), len(out), len(payload.IDs)-len(out))
	logger := loggerOr(j.Logger, task.Type())
	if err != nil {
		logger.Warn("report action failed", slog.Int("reports", len(payload.IDs)), slog.Int("succeeded", len(out)), slog.Any("error", err))
		err = outstanding(err, action.Target())
		if err == nil {
			// every failed report already reached the target on an earlier attempt
			return tracker.End(nil)
		}
		if permanent(err) {
			err = fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return tracker.End(err)
	}
	logger.Info("report action applied", slog.Int("reports", len(out)))
	return tracker.End(nil)
}

// permanent reports whether retrying cannot change the outcome. A batch
// error is permanent only when every report in it failed permanently.
func permanent(err error) bool {
	if err == nil {
		return false
	}
	for _, e := range split(err) {
		if !permanentOne(e) {
			return false
		}
	}
	return true
}

func permanentOne(err error) bool {
	for _, target := range []error{
		aeat111.ErrInvalidTransition,
		aeat111.ErrValidation,
		aeat111.ErrReportNotFound,
		aeat111.ErrWorkPartiesMissing,
		aeat111.ErrFileGeneration,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// outstanding drops the failures of reports that already sit in target, which
// is what a retried batch sees for the reports the previous attempt applied.
// It returns nil when nothing else failed.
func outstanding(err error, target aeat111.State) error {
	var rest []error
	for _, e := range split(err) {
		var te *aeat111.TransitionError
		if errors.As(e, &te) && te.From == target {
			continue
		}
		rest = append(rest, e)
	}
	return errors.Join(rest...)
}

// split flattens an errors.Join result into the per-report errors.
func split(err error) []error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, split(e)...)
	}
	return out
}

const recalculateBatch = 1000

// RecalculateDraftsJob calculates the draft reports whose period contains
// today.
type RecalculateDraftsJob struct {
	Service ReportRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewRecalculateDraftsJob constructs the scheduled handler.
func NewRecalculateDraftsJob(service ReportRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *RecalculateDraftsJob {
	return &RecalculateDraftsJob{Service: service, Logger: logger, Metrics: metrics, clock: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the internal clock for deterministic tests.
func (j *RecalculateDraftsJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}

// Handle calculates the drafts; they end up calculated.
func (j *RecalculateDraftsJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("recalculate drafts: dependencies not configured")
	}
	var payload RecalculateDraftsPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := metricsOr(j.Metrics).Track(TaskRecalculateDrafts)
	logger := loggerOr(j.Logger, TaskRecalculateDrafts)

	now := j.clock()
	drafts, err := j.Service.List(ctx, aeat111.ListFilter{CompanyID: payload.CompanyID, Year: now.Year(), State: aeat111.StateDraft, Limit: recalculateBatch})
	if err != nil {
		return tracker.End(err)
	}
	ids := make([]int64, 0, len(drafts))
	for _, rep := range drafts {
		if current(rep, now) {
			ids = append(ids, rep.ID)
		}
	}
	if len(ids) == 0 {
		logger.Info("no draft reports in the running period")
		return tracker.End(nil)
	}
	calculated, err := j.Service.Run(ctx, aeat111.ActionCalculate, ids, 0)
	metricsOr(j.Metrics).AddReports(TaskRecalculateDrafts, len(calculated), len(ids)-len(calculated))
	logger.Info("calculated draft reports", slog.Int("reports", len(calculated)), slog.Int("failed", len(ids)-len(calculated)))
	if err != nil {
		logger.Warn("calculate drafts", slog.Any("error", err))
		err = outstanding(err, aeat111.StateCalculated)
		if err == nil || permanent(err) {
			// retrying the batch cannot fix a report that fails validation
			return tracker.End(nil)
		}
	}
	return tracker.End(err)
}

func current(rep aeat111.Report, now time.Time) bool {
	window, err := periods.Resolve(rep.Year, rep.Period)
	if err != nil {
		return false
	}
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(window.Start) && !day.After(window.End)
}

// Purger deletes expired idempotency keys.
type Purger interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob purges request keys past their retention.
type IdempotencyCleanupJob struct {
	Store     Purger
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle runs the purge.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: dependencies not configured")
	}
	retention := j.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	tracker := metricsOr(j.Metrics).Track(TaskIdempotencyCleanup)
	if err := j.Store.Cleanup(ctx, retention); err != nil {
		loggerOr(j.Logger, TaskIdempotencyCleanup).Error("purge idempotency keys", slog.Any("error", err))
		return tracker.End(err)
	}
	return tracker.End(nil)
}

func metricsOr(m *jobmetrics.Metrics) *jobmetrics.Metrics {
	if m != nil {
		return m
	}
	return defaultJobMetrics
}

func loggerOr(l *slog.Logger, job string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("job", job))
}
