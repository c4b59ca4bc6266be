package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/aeat111/internal/aeat111"
	jobmetrics "github.com/odyssey-erp/aeat111/internal/jobs"
)

type stubRunner struct {
	reports []aeat111.Report
	calls   []string
	filter  aeat111.ListFilter
	runErr  error
}

func (s *stubRunner) Run(ctx context.Context, action aeat111.Action, ids []int64, actorID int64) ([]aeat111.Report, error) {
	s.calls = append(s.calls, fmt.Sprintf("%s %v by %d", action, ids, actorID))
	if s.runErr != nil {
		return nil, s.runErr
	}
	out := make([]aeat111.Report, 0, len(ids))
	for _, id := range ids {
		out = append(out, aeat111.Report{ID: id, State: action.Target()})
	}
	return out, nil
}

func (s *stubRunner) List(ctx context.Context, f aeat111.ListFilter) ([]aeat111.Report, error) {
	s.filter = f
	return s.reports, nil
}

func testMetrics() *jobmetrics.Metrics {
	return jobmetrics.NewMetrics(prometheus.NewRegistry())
}

func TestReportTaskRoundTrip(t *testing.T) {
	task, err := NewReportTask(aeat111.ActionProcess, []int64{4, 5}, 9)
	require.NoError(t, err)
	assert.Equal(t, "aeat111:process", task.Type())
	action, ok := ActionOf(task.Type())
	require.True(t, ok)
	assert.Equal(t, aeat111.ActionProcess, action)

	var payload ReportPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, []int64{4, 5}, payload.IDs)
	assert.Equal(t, int64(9), payload.ActorID)

	_, err = NewReportTask(aeat111.ActionCalculate, nil, 0)
	assert.Error(t, err)
	_, ok = ActionOf(TaskRecalculateDrafts)
	assert.False(t, ok)
}

func TestReportJobRunsAction(t *testing.T) {
	runner := &stubRunner{}
	job := NewReportJob(runner, nil, testMetrics())
	task, err := NewReportTask(aeat111.ActionCalculate, []int64{1, 2}, 3)
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, []string{"calculate [1 2] by 3"}, runner.calls)
}

func TestReportJobSkipsRetryForDomainFailures(t *testing.T) {
	runner := &stubRunner{runErr: errors.Join(fmt.Errorf("report 1: %w", &aeat111.TransitionError{ReportID: 1}))}
	job := NewReportJob(runner, nil, testMetrics())
	task, err := NewReportTask(aeat111.ActionProcess, []int64{1}, 0)
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)

	runner.runErr = errors.New("connection reset")
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskCalculate, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReportJobRetriesMixedBatch(t *testing.T) {
	runner := &stubRunner{runErr: errors.Join(
		fmt.Errorf("report 1: %w", &aeat111.TransitionError{ReportID: 1, From: aeat111.StateDone, To: aeat111.StateCalculated}),
		fmt.Errorf("report 2: %w", errors.New("connection reset by peer")),
	)}
	job := NewReportJob(runner, nil, testMetrics())
	task, err := NewReportTask(aeat111.ActionCalculate, []int64{1, 2}, 0)
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), "connection reset by peer")

	runner.runErr = errors.Join(
		fmt.Errorf("report 1: %w", &aeat111.TransitionError{ReportID: 1, From: aeat111.StateDone, To: aeat111.StateCalculated}),
		fmt.Errorf("report 2: %w", &aeat111.ValidationError{Fields: map[string]string{"company_vat": "required"}}),
	)
	err = job.Handle(context.Background(), task)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReportJobRetryAcceptsAppliedReports(t *testing.T) {
	// the first attempt calculated report 1 and failed on report 2
	runner := &stubRunner{runErr: errors.Join(
		fmt.Errorf("report 1: %w", &aeat111.TransitionError{ReportID: 1, From: aeat111.StateCalculated, To: aeat111.StateCalculated}),
	)}
	job := NewReportJob(runner, nil, testMetrics())
	task, err := NewReportTask(aeat111.ActionCalculate, []int64{1, 2}, 0)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	runner.runErr = errors.Join(
		fmt.Errorf("report 1: %w", &aeat111.TransitionError{ReportID: 1, From: aeat111.StateCalculated, To: aeat111.StateCalculated}),
		fmt.Errorf("report 2: %w", errors.New("connection reset by peer")),
	)
	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
	assert.NotContains(t, err.Error(), "report 1")
}

func TestRecalculateDraftsPicksRunningPeriod(t *testing.T) {
	runner := &stubRunner{reports: []aeat111.Report{
		{ID: 1, Year: 2024, Period: "2T", State: aeat111.StateDraft},
		{ID: 2, Year: 2024, Period: "05", State: aeat111.StateDraft},
		{ID: 3, Year: 2024, Period: "1T", State: aeat111.StateDraft},
		{ID: 4, Year: 2024, Period: "06", State: aeat111.StateDraft},
	}}
	job := NewRecalculateDraftsJob(runner, nil, testMetrics())
	job.WithClock(func() time.Time { return time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC) })

	task, err := NewRecalculateDraftsTask(7)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	assert.Equal(t, int64(7), runner.filter.CompanyID)
	assert.Equal(t, 2024, runner.filter.Year)
	assert.Equal(t, aeat111.StateDraft, runner.filter.State)
	assert.Equal(t, []string{"calculate [1 2] by 0"}, runner.calls)
}

func TestRecalculateDraftsToleratesInvalidReports(t *testing.T) {
	runner := &stubRunner{
		reports: []aeat111.Report{{ID: 1, Year: 2024, Period: "1T"}},
		runErr:  fmt.Errorf("report 1: %w", &aeat111.ValidationError{Fields: map[string]string{"x": "y"}}),
	}
	job := NewRecalculateDraftsJob(runner, nil, testMetrics())
	job.WithClock(func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) })
	assert.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskRecalculateDrafts, nil)))
}

type purgeSpy struct{ retention time.Duration }

func (p *purgeSpy) Cleanup(ctx context.Context, olderThan time.Duration) error {
	p.retention = olderThan
	return nil
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	spy := &purgeSpy{}
	job := &IdempotencyCleanupJob{Store: spy, Metrics: testMetrics()}
	require.NoError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	assert.Equal(t, 7*24*time.Hour, spy.retention)
}

func TestClientEnqueuesOnReportsQueue(t *testing.T) {
	srv := miniredis.RunT(t)
	client := NewClient(asynq.RedisClientOpt{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	id, err := client.EnqueueReports(context.Background(), aeat111.ActionCalculate, []int64{1}, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	pending, err := srv.List("asynq:{" + QueueReports + "}:pending")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, pending)
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	h := NewHandler(stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueReports: {Queue: QueueReports, Pending: 2, Failed: 1},
	}}, nil)
	rr := httptest.NewRecorder()
	h.health(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[
		{"queue":"aeat111","pending":2,"active":0,"retry":0,"failed":1},
		{"queue":"default","pending":0,"active":0,"retry":0,"failed":0}
	]`, rr.Body.String())
}
