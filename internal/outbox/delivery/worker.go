package delivery

import (
	"context"
	"errors"
	"time"

	obsmetrics "github.com/smallbiznis/tixgate/internal/observability/metrics"
	"github.com/smallbiznis/tixgate/internal/observability/tracing"
	outboxdomain "github.com/smallbiznis/tixgate/internal/outbox/domain"
	"github.com/smallbiznis/tixgate/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const jobName = "outbox_delivery"

type Params struct {
	fx.In

	Log     *zap.Logger
	Outbox  outboxdomain.Service
	Router  *Router
	Config  Config                   `optional:"true"`
	Metrics *obsmetrics.WorkerMetrics `optional:"true"`
}

type Worker struct {
	log     *zap.Logger
	outbox  outboxdomain.Service
	router  *Router
	cfg     Config
	metrics *obsmetrics.WorkerMetrics
	tracer  trace.Tracer
}

// BatchResult summarizes one claim-and-process pass.
type BatchResult struct {
	Claimed      int
	Sent         int
	Failed       int
	DeadLettered int
	ClaimLost    int
}

func NewWorker(p Params) *Worker {
	log := p.Log.Named("outbox.delivery")
	cfg, adjusted := p.Config.withDefaults().fitLease()
	if adjusted {
		log.Warn("delivery timeouts shortened to fit the claim lease",
			zap.Duration("lease_timeout", cfg.LeaseTimeout),
			zap.Duration("run_timeout", cfg.RunTimeout),
			zap.Duration("exec_timeout", cfg.ExecTimeout),
			zap.Duration("completion_timeout", cfg.CompletionTimeout),
		)
	}
	return &Worker{
		log:     log,
		outbox:  p.Outbox,
		router:  p.Router,
		cfg:     cfg,
		metrics: p.Metrics,
		tracer:  otel.Tracer("tixgate/outbox"),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		started := time.Now()
		result, err := w.RunOnce(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn("outbox delivery run failed", zap.Error(err))
		}

		// A full batch means more rows are likely ready, so skip the wait.
		if err == nil && result.Claimed >= w.cfg.BatchSize {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			w.metrics.ObserveRunLoopLag(tick.Sub(started) - w.cfg.PollInterval)
		}
	}
}

func (w *Worker) RunOnce(parentCtx context.Context) (BatchResult, error) {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	w.metrics.IncJobRun(jobName)
	started := time.Now()
	defer func() {
		w.metrics.ObserveJobDuration(jobName, time.Since(started))
	}()

	events, err := w.outbox.ClaimBatch(ctx, w.cfg.BatchSize)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			w.metrics.IncJobTimeout(jobName)
		}
		w.metrics.IncJobError(jobName, err)
		return BatchResult{}, err
	}
	w.metrics.ObserveClaimedBatch(len(events))
	if len(events) == 0 {
		return BatchResult{}, nil
	}

	outcomes := make([]string, len(events))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i := range events {
		i := i
		g.Go(func() error {
			outcomes[i] = w.deliver(gctx, events[i])
			return nil
		})
	}
	_ = g.Wait()

	result := BatchResult{Claimed: len(events)}
	for _, outcome := range outcomes {
		switch outcome {
		case obsmetrics.DispatchResultSent:
			result.Sent++
		case obsmetrics.DispatchResultDeadLetter:
			result.DeadLettered++
		case obsmetrics.DispatchResultClaimLost:
			result.ClaimLost++
		default:
			result.Failed++
		}
	}
	w.metrics.AddBatchProcessed(jobName, "outbox_events", result.Sent)

	if result.Failed > 0 || result.DeadLettered > 0 {
		w.log.Info("outbox batch finished with failures",
			zap.Int("claimed", result.Claimed),
			zap.Int("sent", result.Sent),
			zap.Int("failed", result.Failed),
			zap.Int("dead_lettered", result.DeadLettered),
		)
	}
	return result, nil
}

// deliver runs one claimed row to a terminal outcome for this attempt. Failures stay
// confined to the row.
func (w *Worker) deliver(ctx context.Context, event outboxdomain.Event) string {
	if event.CorrelationID != nil {
		ctx = correlation.ContextWithCorrelationID(ctx, *event.CorrelationID)
	}
	ctx, span := w.tracer.Start(ctx, "outbox.deliver", trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("outbox.id", event.ID.String()),
		attribute.String("outbox.event_type", event.EventType),
		attribute.Int("outbox.retries", event.Retries),
	)...))
	defer span.End()

	log := w.log.With(
		zap.String("outbox_id", event.ID.String()),
		zap.String("event_type", event.EventType),
		zap.String("correlation_id", correlation.ExtractCorrelationID(ctx)),
	)

	executorName := ""
	execErr := func() error {
		exec, err := w.router.Resolve(event.EventType)
		if err != nil {
			return err
		}
		executorName = exec.Name()

		execCtx, cancel := context.WithTimeout(ctx, w.cfg.ExecTimeout)
		defer cancel()
		started := time.Now()
		err = exec.Execute(execCtx, event)
		w.metrics.ObserveDispatchDuration(executorName, time.Since(started))
		return err
	}()

	// The batch deadline may already have passed; the outcome must still be written.
	doneCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.CompletionTimeout)
	defer cancel()

	if execErr == nil {
		if err := w.outbox.MarkSent(doneCtx, event); err != nil {
			return w.completionFailed(log, span, executorName, err)
		}
		w.metrics.IncDispatch(executorName, obsmetrics.DispatchResultSent)
		return obsmetrics.DispatchResultSent
	}

	span.RecordError(tracing.SafeError(execErr))
	span.SetStatus(codes.Error, "delivery failed")

	failed, err := w.outbox.MarkFailed(doneCtx, event, execErr)
	if err != nil {
		return w.completionFailed(log, span, executorName, err)
	}
	if failed.IsDeadLettered() {
		log.Error("outbox event dead-lettered", zap.Int("retries", failed.Retries), zap.Error(execErr))
		w.metrics.IncDispatch(executorName, obsmetrics.DispatchResultDeadLetter)
		return obsmetrics.DispatchResultDeadLetter
	}
	log.Warn("outbox delivery failed",
		zap.Int("retries", failed.Retries),
		zap.Timep("next_attempt_at", failed.NextAttemptAt),
		zap.Error(execErr),
	)
	w.metrics.IncDispatch(executorName, obsmetrics.DispatchResultFailed)
	return obsmetrics.DispatchResultFailed
}

func (w *Worker) completionFailed(log *zap.Logger, span trace.Span, executorName string, err error) string {
	if errors.Is(err, outboxdomain.ErrClaimLost) {
		log.Warn("outbox claim lost before completion")
		w.metrics.IncDispatch(executorName, obsmetrics.DispatchResultClaimLost)
		return obsmetrics.DispatchResultClaimLost
	}
	span.RecordError(tracing.SafeError(err))
	log.Error("outbox completion update failed", zap.Error(err))
	w.metrics.IncJobError(jobName, err)
	w.metrics.IncDispatch(executorName, obsmetrics.DispatchResultFailed)
	return obsmetrics.DispatchResultFailed
}
