package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/tixgate/internal/authorization"
	"github.com/smallbiznis/tixgate/internal/clock"
	entitlementdomain "github.com/smallbiznis/tixgate/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/tixgate/internal/observability/metrics"
	"github.com/smallbiznis/tixgate/internal/roles"
	"github.com/smallbiznis/tixgate/internal/slo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockEntitlementSvc struct {
	mock.Mock
}

func (m *mockEntitlementSvc) Get(ctx context.Context, orgID, id snowflake.ID) (*entitlementdomain.Entitlement, error) {
	return nil, nil
}

func (m *mockEntitlementSvc) Effective(ctx context.Context, orgID, id snowflake.ID) (*entitlementdomain.Entitlement, entitlementdomain.Access, error) {
	return nil, entitlementdomain.Access{}, nil
}

func (m *mockEntitlementSvc) ListByPayment(ctx context.Context, paymentID snowflake.ID) ([]entitlementdomain.Entitlement, error) {
	return nil, nil
}

func (m *mockEntitlementSvc) RecordCheckin(ctx context.Context, req entitlementdomain.CheckinRequest) (entitlementdomain.CheckinOutcome, error) {
	return entitlementdomain.CheckinOutcome{}, nil
}

func (m *mockEntitlementSvc) ExpireDue(ctx context.Context, limit int) (int, error) {
	args := m.Called(limit)
	return args.Int(0), args.Error(1)
}

type fakePublisher struct {
	enabled bool
	calls   int
	err     error
}

func (p *fakePublisher) Enabled() bool { return p.enabled }

func (p *fakePublisher) Publish(ctx context.Context) (slo.Report, error) {
	p.calls++
	return slo.Report{PendingCount: 3}, p.err
}

type fakeLocker struct {
	held    map[string]bool
	ttls    []time.Duration
	lookups []string
}

func (l *fakeLocker) AcquireInterval(ctx context.Context, key string, interval time.Duration) (bool, error) {
	l.ttls = append(l.ttls, interval)
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLocker) Holder(ctx context.Context, key string) (string, time.Duration, error) {
	l.lookups = append(l.lookups, key)
	if !l.held[key] {
		return "", 0, nil
	}
	return "tixgate/2", 30 * time.Second, nil
}

type denyAll struct{}

func (denyAll) Authorize(ctx context.Context, actorRoles roles.Set, object, action string) error {
	return authorization.ErrForbidden
}

func newTestScheduler(t *testing.T, clk clock.Clock, ents entitlementdomain.Service) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer(nil)
	require.NoError(t, err)

	s, err := New(Params{
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Config:       Config{BatchSize: 2, PushInterval: time.Minute},
		AuthzSvc:     authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		Entitlements: ents,
	})
	require.NoError(t, err)
	return s
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := useTestRegistry(t)

	s := newTestScheduler(t, clock.NewFakeClock(time.Time{}), &mockEntitlementSvc{})
	err := s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	labels := map[string]string{
		"service": "tixgate",
		"env":     "test",
		"job":     "timeout_job",
	}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "tixgate_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "tixgate",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.JobReasonDeadlineExceeded,
	}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "tixgate_scheduler_job_errors_total", errorLabels))
}

func TestRunJobWrapsErrors(t *testing.T) {
	useTestRegistry(t)

	s := newTestScheduler(t, clock.NewFakeClock(time.Time{}), &mockEntitlementSvc{})
	boom := errors.New("boom")
	err := s.runJob(context.Background(), "broken", 1, time.Second, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken:")
}

func TestExpireEntitlementsJobDrainsFullBatches(t *testing.T) {
	registry := useTestRegistry(t)

	ents := &mockEntitlementSvc{}
	ents.On("ExpireDue", 2).Return(2, nil).Twice()
	ents.On("ExpireDue", 2).Return(1, nil).Once()

	s := newTestScheduler(t, clock.NewFakeClock(time.Time{}), ents)
	require.NoError(t, s.ExpireEntitlementsJob(context.Background()))
	ents.AssertNumberOfCalls(t, "ExpireDue", 3)

	labels := map[string]string{
		"service":  "tixgate",
		"env":      "test",
		"job":      JobExpireEntitlements,
		"resource": "entitlement",
	}
	assert.Equal(t, 5.0, getCounterValue(t, registry, "tixgate_scheduler_batch_processed_total", labels))
}

func TestExpireEntitlementsJobStopsOnError(t *testing.T) {
	useTestRegistry(t)

	ents := &mockEntitlementSvc{}
	ents.On("ExpireDue", 2).Return(0, errors.New("db down")).Once()

	s := newTestScheduler(t, clock.NewFakeClock(time.Time{}), ents)
	require.Error(t, s.RunOnce(context.Background()))
	ents.AssertNumberOfCalls(t, "ExpireDue", 1)
}

func TestExpireEntitlementsJobRequiresSystemRole(t *testing.T) {
	useTestRegistry(t)

	ents := &mockEntitlementSvc{}
	s := newTestScheduler(t, clock.NewFakeClock(time.Time{}), ents)
	s.authzSvc = denyAll{}

	err := s.ExpireEntitlementsJob(context.Background())
	require.ErrorIs(t, err, authorization.ErrForbidden)
	ents.AssertNotCalled(t, "ExpireDue", mock.Anything)
}

func TestSLOPushJobRunsOncePerIntervalWithoutRedis(t *testing.T) {
	useTestRegistry(t)

	clk := clock.NewFakeClock(time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, clk, &mockEntitlementSvc{})
	pub := &fakePublisher{enabled: true}
	s.publisher = pub

	require.NoError(t, s.SLOPushJob(context.Background()))
	require.NoError(t, s.SLOPushJob(context.Background()))
	assert.Equal(t, 1, pub.calls)

	clk.Advance(time.Minute)
	require.NoError(t, s.SLOPushJob(context.Background()))
	assert.Equal(t, 2, pub.calls)
}

func TestSLOPushJobDefersWhenSharedLockHeld(t *testing.T) {
	registry := useTestRegistry(t)

	clk := clock.NewFakeClock(time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, clk, &mockEntitlementSvc{})
	pub := &fakePublisher{enabled: true}
	s.publisher = pub
	locker := &fakeLocker{held: map[string]bool{lockKey(JobSLOPush): true}}
	s.locks = newJobLocks(locker, clk)

	require.NoError(t, s.SLOPushJob(context.Background()))
	assert.Equal(t, 0, pub.calls)
	assert.Equal(t, []time.Duration{time.Minute}, locker.ttls)
	assert.Equal(t, []string{lockKey(JobSLOPush)}, locker.lookups)

	labels := map[string]string{
		"service": "tixgate",
		"env":     "test",
		"job":     JobSLOPush,
		"reason":  obsmetrics.BatchDeferredReasonLockHeld,
	}
	assert.Equal(t, 1.0, getCounterValue(t, registry, "tixgate_scheduler_batch_deferred_total", labels))

	delete(locker.held, lockKey(JobSLOPush))
	require.NoError(t, s.SLOPushJob(context.Background()))
	assert.Equal(t, 1, pub.calls)
}

func TestLocalJobLocksReportRemainingInterval(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC))
	locks := newJobLocks(nil, clk)
	ctx := context.Background()

	holder, remaining := locks.holder(ctx, "job", time.Minute)
	assert.Empty(t, holder)
	assert.Zero(t, remaining)

	ok, err := locks.acquireInterval(ctx, "job", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(20 * time.Second)
	ok, err = locks.acquireInterval(ctx, "job", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	holder, remaining = locks.holder(ctx, "job", time.Minute)
	assert.Equal(t, localHolder, holder)
	assert.Equal(t, 40*time.Second, remaining)
}

func TestRunOnceSkipsDisabledPublisher(t *testing.T) {
	useTestRegistry(t)

	ents := &mockEntitlementSvc{}
	ents.On("ExpireDue", 2).Return(0, nil)
	s := newTestScheduler(t, clock.NewFakeClock(time.Time{}), ents)
	pub := &fakePublisher{enabled: false}
	s.publisher = pub

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 0, pub.calls)
}

func TestIsJobEnabled(t *testing.T) {
	s := &Scheduler{cfg: Config{}}
	assert.True(t, s.isJobEnabled(JobSLOPush))

	s.cfg.EnabledJobs = []string{"EXPIRE_ENTITLEMENTS"}
	assert.True(t, s.isJobEnabled(JobExpireEntitlements))
	assert.False(t, s.isJobEnabled(JobSLOPush))
}

// useTestRegistry swaps the default registerer so the worker metrics
// singleton registers into a fresh registry for this test.
func useTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	registry := prometheus.NewRegistry()
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry

	obsmetrics.ResetWorkerMetricsForTest()
	obsmetrics.WorkerWithConfig(obsmetrics.Config{
		ServiceName: "tixgate",
		Environment: "test",
	})
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetWorkerMetricsForTest()
	})
	return registry
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
