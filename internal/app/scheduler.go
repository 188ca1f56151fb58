package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-settlement/internal/domain/settlement"
)

// CycleAggregator aggregates every seller of a cycle.
type CycleAggregator interface {
	AggregateCycle(ctx context.Context, c settlement.Cycle) (*settlement.CycleReport, error)
}

// cycleFunc picks the cycle a job aggregates at now.
type cycleFunc func(now time.Time, scheduledDay int) settlement.Cycle

func currentCycle(now time.Time, scheduledDay int) settlement.Cycle {
	return settlement.CycleOf(now, scheduledDay)
}

func previousCycle(now time.Time, scheduledDay int) settlement.Cycle {
	return settlement.CycleOf(now, scheduledDay).Previous(scheduledDay)
}

// Scheduler runs the periodic settlement aggregation jobs.
type Scheduler struct {
	cron   *cron.Cron
	agg    CycleAggregator
	cfg    SettlementConfig
	loc    *time.Location
	lg     *zap.Logger
	tracer trace.Tracer
	now    func() time.Time

	// base is the parent context of job runs, set by Run before the first
	// job fires.
	base context.Context
}

// NewScheduler registers the daily and monthly aggregation jobs. A job with
// an empty schedule is not registered.
func NewScheduler(lg *zap.Logger, tp trace.TracerProvider, agg CycleAggregator, cfg SettlementConfig, loc *time.Location) (*Scheduler, error) {
	s := &Scheduler{
		agg:    agg,
		cfg:    cfg,
		loc:    loc,
		lg:     lg.Named("scheduler"),
		tracer: tp.Tracer("github.com/xenking/marketplace-settlement/internal/app"),
		now:    time.Now,
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.lg.Sugar()})),
	)

	jobs := []struct {
		name  string
		spec  string
		cycle cycleFunc
	}{
		{name: "daily_aggregation", spec: cfg.DailySchedule, cycle: currentCycle},
		{name: "monthly_aggregation", spec: cfg.MonthlySchedule, cycle: previousCycle},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, s.job(j.name, j.cycle)); err != nil {
			return nil, errors.Wrapf(err, "add %s job", j.name)
		}
		s.lg.Info("Registered job", zap.String("job", j.name), zap.String("spec", j.spec))
	}
	return s, nil
}

// Run starts the jobs and blocks until ctx is done. Running jobs are
// cancelled and awaited before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	baseCtx, cancel := context.WithCancel(zctx.Base(ctx, s.lg))
	defer cancel()
	s.base = baseCtx

	s.cron.Start()
	<-ctx.Done()

	cancel()
	<-s.cron.Stop().Done()
	s.lg.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) job(name string, cycle cycleFunc) func() {
	return func() {
		base := s.base
		if base == nil {
			base = context.Background()
		}
		if err := s.runJob(base, name, cycle); err != nil {
			s.lg.Error("Job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

// runJob aggregates the cycle chosen by cycle under a job timeout and a
// trace span.
func (s *Scheduler) runJob(ctx context.Context, name string, cycle cycleFunc) error {
	c := cycle(s.now().In(s.loc), s.cfg.ScheduledDay)

	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}
	ctx, span := s.tracer.Start(ctx, "settlement."+name, trace.WithAttributes(
		attribute.String("settlement.cycle_start", c.Start.Format(time.DateOnly)),
	))
	defer span.End()

	ctx = zctx.With(ctx, zap.String("job", name), zap.Time("cycle_start", c.Start))
	lg := zctx.From(ctx)
	lg.Info("Aggregation started")

	start := time.Now()
	report, err := s.agg.AggregateCycle(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "aggregation failed")
		return errors.Wrap(err, "aggregate cycle")
	}

	span.SetAttributes(
		attribute.Int("settlement.created", report.Created()),
		attribute.Int("settlement.failures", len(report.Failures)),
	)
	for _, f := range report.Failures {
		lg.Warn("Seller aggregation failed", zap.Int64("seller_id", f.SellerID), zap.Error(f.Err))
	}
	lg.Info("Aggregation finished",
		zap.Int("created", report.Created()),
		zap.Int("sellers", len(report.Results)),
		zap.Int("failures", len(report.Failures)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// cronLogger adapts zap to the cron logger.
type cronLogger struct {
	lg *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.lg.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.lg.Errorw(msg, append(keysAndValues, zap.Error(err))...)
}
