package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/aeat111/internal/aeat111"
	jobmetrics "github.com/odyssey-erp/aeat111/internal/jobs"
)

const (
	// QueueDefault is the queue for housekeeping tasks.
	QueueDefault = "default"
	// QueueReports is the queue for report actions.
	QueueReports = "aeat111"

	taskReportPrefix = "aeat111:"
	// TaskCalculate recomputes reports from the ledger.
	TaskCalculate = taskReportPrefix + string(aeat111.ActionCalculate)
	// TaskProcess generates presentation files.
	TaskProcess = taskReportPrefix + string(aeat111.ActionProcess)
	// TaskDraft resets reports to draft.
	TaskDraft = taskReportPrefix + string(aeat111.ActionDraft)
	// TaskCancel cancels reports.
	TaskCancel = taskReportPrefix + string(aeat111.ActionCancel)
	// TaskRecalculateDrafts recalculates the draft reports of the running period.
	TaskRecalculateDrafts = "aeat111:recalculate-drafts"
	// TaskIdempotencyCleanup purges expired request keys.
	TaskIdempotencyCleanup = "aeat111:idempotency-cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ReportPayload names the reports an action applies to.
type ReportPayload struct {
	IDs     []int64 `json:"ids"`
	ActorID int64   `json:"actor_id"`
}

// TaskType returns the task type running action.
func TaskType(action aeat111.Action) string {
	return taskReportPrefix + string(action)
}

// ActionOf is the inverse of TaskType.
func ActionOf(taskType string) (aeat111.Action, bool) {
	action := aeat111.Action(strings.TrimPrefix(taskType, taskReportPrefix))
	if !strings.HasPrefix(taskType, taskReportPrefix) || !action.Valid() {
		return "", false
	}
	return action, true
}

// NewReportTask constructs the task applying action to ids.
func NewReportTask(action aeat111.Action, ids []int64, actorID int64) (*asynq.Task, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("jobs: unknown report action %q", action)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("jobs: %s task needs report ids", action)
	}
	body, err := json.Marshal(ReportPayload{IDs: ids, ActorID: actorID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskType(action), body, asynq.Queue(QueueReports), asynq.MaxRetry(3)), nil
}

// RecalculateDraftsPayload optionally narrows the recalculation to one company.
type RecalculateDraftsPayload struct {
	CompanyID int64 `json:"company_id,omitempty"`
}

// NewRecalculateDraftsTask constructs the scheduled recalculation task.
func NewRecalculateDraftsTask(companyID int64) (*asynq.Task, error) {
	body, err := json.Marshal(RecalculateDraftsPayload{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecalculateDrafts, body, asynq.Queue(QueueReports), asynq.MaxRetry(1)), nil
}

// NewIdempotencyCleanupTask constructs the key purge task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault))
}
