package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tixgate/internal/authorization"
	"github.com/smallbiznis/tixgate/internal/clock"
	entitlementdomain "github.com/smallbiznis/tixgate/internal/entitlement/domain"
	obsmetrics "github.com/smallbiznis/tixgate/internal/observability/metrics"
	"github.com/smallbiznis/tixgate/internal/ratelimit"
	"github.com/smallbiznis/tixgate/internal/roles"
	"github.com/smallbiznis/tixgate/internal/slo"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobExpireEntitlements = "expire_entitlements"
	JobSLOPush            = "slo_push"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Config       Config `optional:"true"`
	AuthzSvc     authorization.Service
	Entitlements entitlementdomain.Service
	Publisher    *slo.Publisher    `optional:"true"`
	Locker       *ratelimit.Locker `optional:"true"`
}

type sloPublisher interface {
	Enabled() bool
	Publish(ctx context.Context) (slo.Report, error)
}

type jobLocker interface {
	AcquireInterval(ctx context.Context, key string, interval time.Duration) (bool, error)
	Holder(ctx context.Context, key string) (string, time.Duration, error)
}

type Scheduler struct {
	log          *zap.Logger
	cfg          Config
	genID        *snowflake.Node
	clock        clock.Clock
	authzSvc     authorization.Service
	entitlements entitlementdomain.Service
	publisher    sloPublisher
	locks        *jobLocks
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.AuthzSvc == nil || p.Entitlements == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:          p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:          p.Config.withDefaults(),
		genID:        p.GenID,
		clock:        p.Clock,
		authzSvc:     p.AuthzSvc,
		entitlements: p.Entitlements,
	}
	if p.Publisher != nil {
		s.publisher = p.Publisher
	}
	var locker jobLocker
	if p.Locker != nil {
		locker = p.Locker
	}
	s.locks = newJobLocks(locker, p.Clock)
	return s, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	workerMetrics := obsmetrics.Worker()
	workerMetrics.IncJobRun(name)

	err := fn(ctx)
	workerMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// Deadline is a soft timeout: the next tick picks up the remainder.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		workerMetrics.IncJobTimeout(name)
	}
	workerMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobExpireEntitlements, s.isJobEnabled(JobExpireEntitlements), func(ctx context.Context) error {
			return s.runJob(ctx, JobExpireEntitlements, s.cfg.BatchSize, s.cfg.JobTimeout, s.ExpireEntitlementsJob)
		}},
		{JobSLOPush, s.isJobEnabled(JobSLOPush) && s.publisher != nil && s.publisher.Enabled(), func(ctx context.Context) error {
			return s.runJob(ctx, JobSLOPush, 1, s.cfg.JobTimeout, s.SLOPushJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	workerMetrics := obsmetrics.Worker()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			workerMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty means every job runs (all-in-one mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// ExpireEntitlementsJob drains lapsed ACTIVE entitlements batch by batch.
func (s *Scheduler) ExpireEntitlementsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobExpireEntitlements, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectEntitlement, authorization.ActionEntitlementExpire); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", JobExpireEntitlements, err)
		return err
	}

	workerMetrics := obsmetrics.Worker()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		expired, err := s.entitlements.ExpireDue(ctx, s.cfg.BatchSize)
		run.AddProcessed(expired)
		workerMetrics.AddBatchProcessed(JobExpireEntitlements, "entitlement", expired)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.entitlement.expire.failed", JobExpireEntitlements, err)
			return err
		}
		// A short batch means nothing lapsed is left; a full one may have more behind it.
		if expired < s.cfg.BatchSize {
			return nil
		}
	}
}

// SLOPushJob publishes the global SLO report at most once per push interval
// across all replicas.
func (s *Scheduler) SLOPushJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobSLOPush, 1)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if s.publisher == nil || !s.publisher.Enabled() {
		return nil
	}
	if err := s.authorizeSystem(ctx, authorization.ObjectSLO, authorization.ActionSLOPush); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", JobSLOPush, err)
		return err
	}

	acquired, err := s.locks.acquireInterval(ctx, lockKey(JobSLOPush), s.cfg.PushInterval)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.lock.failed", JobSLOPush, err)
		return err
	}
	if !acquired {
		obsmetrics.Worker().IncBatchDeferred(JobSLOPush, obsmetrics.BatchDeferredReasonLockHeld)
		holder, remaining := s.locks.holder(ctx, lockKey(JobSLOPush), s.cfg.PushInterval)
		s.logger(ctx).Debug("scheduler.job.deferred",
			zap.String("job", JobSLOPush),
			zap.String("reason", obsmetrics.BatchDeferredReasonLockHeld),
			zap.String("holder", holder),
			zap.Duration("retry_in", remaining),
		)
		return nil
	}

	report, err := s.publisher.Publish(ctx)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.slo.push.failed", JobSLOPush, err)
		return err
	}
	run.AddProcessed(1)
	s.logger(ctx).Info("scheduler.slo.pushed",
		zap.Int64("pending_count", report.PendingCount),
		zap.Bool("pending_capped", report.PendingCapped),
		zap.Int64("dead_lettered_24h", report.DeadLetteredLast24h),
	)
	return nil
}

func (s *Scheduler) authorizeSystem(ctx context.Context, object, action string) error {
	return s.authzSvc.Authorize(ctx, roles.NewSet(roles.System), object, action)
}
