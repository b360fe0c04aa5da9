package slo

import (
	"context"

	"go.uber.org/zap"
)

// Publisher turns the global report into gauges and pushes them.
type Publisher struct {
	reporter *Reporter
	gauges   *Gauges
	pusher   Pusher
	log      *zap.Logger
}

func NewPublisher(reporter *Reporter, pusher Pusher, log *zap.Logger) *Publisher {
	return &Publisher{
		reporter: reporter,
		gauges:   NewGauges(),
		pusher:   pusher,
		log:      log.Named("slo.publisher"),
	}
}

// Enabled reports whether a push backend is configured.
func (p *Publisher) Enabled() bool {
	return p != nil && p.pusher != nil
}

func (p *Publisher) Publish(ctx context.Context) (Report, error) {
	report, err := p.reporter.Report(ctx, 0)
	if err != nil {
		return Report{}, err
	}
	p.gauges.Set(report)
	if p.pusher == nil {
		return report, nil
	}
	if err := p.pusher.Push(ctx, p.gauges.Registry()); err != nil {
		return report, err
	}
	p.log.Debug("slo pushed",
		zap.Int64("pending", report.PendingCount),
		zap.Int64("dead_lettered_24h", report.DeadLetteredLast24h),
	)
	return report, nil
}
