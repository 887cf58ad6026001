package paste

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"clibin/internal/metrics"
	"clibin/internal/policy"
	"clibin/internal/record"
	"clibin/internal/storage"
)

// DefaultSweepInterval is how often the janitor runs when unconfigured.
const DefaultSweepInterval = time.Hour

// JanitorConfig captures janitor configuration.
type JanitorConfig struct {
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Scanned int
	Expired int
	Corrupt int
	Failed  int
}

// Janitor periodically removes expired and corrupt records. It holds no
// locks and works only through the store, so it runs alongside requests.
type Janitor struct {
	store    storage.Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewJanitor constructs a Janitor over store.
func NewJanitor(store storage.Store, cfg JanitorConfig) *Janitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Janitor{
		store:    store,
		interval: cfg.Interval,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
}

// Start runs the janitor in a new goroutine until ctx is cancelled. The
// returned channel is closed once it has stopped.
func (j *Janitor) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		j.Run(ctx)
	}()
	return done
}

// Run sweeps immediately and then on every tick until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		j.sweepAndLog(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (j *Janitor) sweepAndLog(ctx context.Context) {
	report, err := j.Sweep(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		j.logger.Error("janitor sweep", "error", err)
	}
	if report.Expired > 0 || report.Corrupt > 0 || report.Failed > 0 {
		j.logger.Info("janitor removed pastes",
			"scanned", report.Scanned,
			"expired", report.Expired,
			"corrupt", report.Corrupt,
			"failed", report.Failed,
		)
	}
}

// Sweep checks every stored record once. Failures on single records are
// logged and counted; only a failure to list the store aborts the sweep.
// ctx is observed between records, never in the middle of one.
func (j *Janitor) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	ids, err := j.store.ListIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("list pastes: %w", err)
	}
	metrics.JanitorSweeps.Inc()

	// A record's check-and-delete is finished even if ctx ends meanwhile.
	recordCtx := context.WithoutCancel(ctx)
	for _, pid := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		j.check(recordCtx, pid, &report)
	}
	return report, nil
}

func (j *Janitor) check(ctx context.Context, pid string, report *SweepReport) {
	blob, err := j.store.Read(ctx, pid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return
		}
		report.Failed++
		metrics.JanitorFailures.Inc()
		j.logger.Warn("janitor read", "id", pid, "error", err)
		return
	}

	reason := ""
	rec, err := record.Decode(blob)
	switch {
	case err != nil:
		reason = metrics.ReasonCorrupt
	case policy.IsExpired(rec, j.now()):
		reason = metrics.ReasonExpired
	default:
		return
	}

	if err := j.store.Delete(ctx, pid); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return
		}
		report.Failed++
		metrics.JanitorFailures.Inc()
		j.logger.Warn("janitor delete", "id", pid, "reason", reason, "error", err)
		return
	}
	metrics.PasteEvicted.WithLabelValues(reason, "janitor").Inc()
	if reason == metrics.ReasonCorrupt {
		report.Corrupt++
	} else {
		report.Expired++
	}
}
