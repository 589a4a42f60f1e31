package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/adminbilling/pkg/logger"
)

var ErrInvalidSchedule = errors.New("invalid sweep schedule")

// Runner is the subset of subscription.Service the sweeper drives.
type Runner interface {
	Sweep(ctx context.Context) (int, error)
}

type Sweeper struct {
	runner  Runner
	cron    *cron.Cron
	timeout time.Duration
	log     *slog.Logger
	runs    *prometheus.CounterVec
	changed prometheus.Counter
}

type Option func(*Sweeper)

func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.log = l
		}
	}
}

// WithTimeout bounds a single sweep run. Default 2m.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRegisterer exposes billing_sweep_runs_total{result} and
// billing_sweep_reconciled_total on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Sweeper) {
		if reg == nil {
			return
		}
		reg.MustRegister(s.runs, s.changed)
	}
}

// New schedules runner.Sweep on schedule, a standard cron expression or a
// descriptor such as "@every 5m". Call Start to begin.
func New(runner Runner, schedule string, opts ...Option) (*Sweeper, error) {
	if runner == nil {
		panic("sweeper: Runner is required")
	}
	s := &Sweeper{
		runner:  runner,
		timeout: 2 * time.Minute,
		log:     logger.Discard(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_sweep_runs_total",
			Help: "Subscription sweep runs by result.",
		}, []string{"result"}),
		changed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "billing_sweep_reconciled_total",
			Help: "Tenants whose subscription changed during a sweep.",
		}),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{log: s.log}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(schedule, func() { _, _ = s.RunOnce(context.Background()) }); err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Info("subscription sweeper started", logger.Component("sweeper"))
}

// Stop halts scheduling. The returned context is done once a running sweep
// has finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce performs one sweep and reports how many tenants changed.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	changed, err := s.runner.Sweep(ctx)
	s.changed.Add(float64(changed))
	if err != nil {
		s.runs.WithLabelValues("error").Inc()
		s.log.ErrorContext(ctx, "subscription sweep failed",
			logger.Component("sweeper"),
			slog.Int("reconciled", changed),
			logger.Duration(time.Since(start)),
			logger.Error(err),
		)
		return changed, err
	}
	s.runs.WithLabelValues("ok").Inc()
	s.log.InfoContext(ctx, "subscription sweep finished",
		logger.Component("sweeper"),
		slog.Int("reconciled", changed),
		logger.Duration(time.Since(start)),
	)
	return changed, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, append([]any{logger.Component("cron")}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{logger.Component("cron"), logger.Error(err)}, keysAndValues...)...)
}
