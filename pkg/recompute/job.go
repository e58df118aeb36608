// Package recompute rebuilds per-entity metrics and health signals from the
// ledger after every import.
package recompute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/database"
	canonerr "github.com/daseme/ctv-bookedbiz-db-sub004/pkg/errors"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/metrics"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/redis"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/signals"
	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/tracing"
)

// LockKey is the single-writer lock held for the length of a run.
const LockKey = "recompute"

type LedgerReader interface {
	ReferencedEntities(ctx context.Context, from, to time.Time) ([]models.EntityRef, error)
	RowsForEntity(ctx context.Context, ref models.EntityRef) ([]models.LedgerRow, error)
}

type MetricsStore interface {
	Upsert(ctx context.Context, m *models.EntityMetrics) error
	DeleteComputedBefore(ctx context.Context, asOf time.Time) (int64, error)
}

type SignalStore interface {
	Replace(ctx context.Context, entityID string, signals []models.EntitySignal) ([]models.SignalKind, error)
	DeleteComputedBefore(ctx context.Context, asOf time.Time) (int64, error)
}

type RunStore interface {
	Start(ctx context.Context, run *models.RecomputeRun) error
	Finish(ctx context.Context, run *models.RecomputeRun) error
	Latest(ctx context.Context) (*models.RecomputeRun, error)
}

// Locker grants cluster-wide exclusive execution. It returns
// redis.ErrLockNotAcquired when another holder has the key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Notifier publishes run outcomes. Notification failures are logged only.
type Notifier interface {
	SignalChanged(ctx context.Context, change models.SignalChange) error
	RecomputeCompleted(ctx context.Context, run models.RecomputeRun) error
}

type Config struct {
	Workers              int
	LockTTL              time.Duration
	ExcludedRevenueTypes []string
}

func DefaultConfig() Config {
	return Config{
		Workers:              8,
		LockTTL:              2 * time.Minute,
		ExcludedRevenueTypes: []string{"Trade"},
	}
}

type Failure struct {
	EntityID   string            `json:"entity_id"`
	EntityType models.EntityType `json:"entity_type"`
	Err        error             `json:"-"`
}

func (f Failure) MarshalJSON() ([]byte, error) {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return json.Marshal(struct {
		EntityID   string            `json:"entity_id"`
		EntityType models.EntityType `json:"entity_type"`
		Error      string            `json:"error"`
	}{f.EntityID, f.EntityType, msg})
}

type Result struct {
	Run       models.RecomputeRun `json:"run"`
	Processed int                 `json:"processed"`
	Changed   int                 `json:"changed"`
	Failures  []Failure           `json:"failures"`
}

type Job struct {
	tx       database.Transactor
	ledger   LedgerReader
	metrics  MetricsStore
	signals  SignalStore
	runs     RunStore
	locker   Locker
	notifier Notifier
	cfg      Config
	rules    signals.Config
	logger   ectologger.Logger
	now      func() time.Time
}

func NewJob(tx database.Transactor, ledger LedgerReader, metricStore MetricsStore, signalStore SignalStore, runs RunStore, locker Locker, notifier Notifier, cfg Config, rules signals.Config, logger ectologger.Logger) *Job {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultConfig().LockTTL
	}
	return &Job{
		tx:       tx,
		ledger:   ledger,
		metrics:  metricStore,
		signals:  signalStore,
		runs:     runs,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		rules:    rules,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run recomputes every entity the ledger references, as of the trigger's
// completion time. Per-entity failures mark the run failed but do not stop
// other entities; they are reported in Result.Failures with a nil error.
func (j *Job) Run(ctx context.Context, trigger models.ImportCompleted) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "recompute.Job.Run")
	defer span.End()

	if trigger.ImportBatchID == "" || trigger.CompletedAt.IsZero() {
		return nil, fmt.Errorf("%w: import batch id and completion time are required", canonerr.ErrInvalidArgument)
	}

	var result *Result
	err := j.locker.WithLock(ctx, LockKey, j.cfg.LockTTL, func(ctx context.Context) error {
		var err error
		result, err = j.run(ctx, trigger)
		return err
	})
	if errors.Is(err, redis.ErrLockNotAcquired) {
		j.logger.WithContext(ctx).WithField("import_batch_id", trigger.ImportBatchID).Warn("Recompute already running")
		return nil, fmt.Errorf("%w: import batch %s", canonerr.ErrRunInProgress, trigger.ImportBatchID)
	}
	if err != nil {
		tracing.RecordError(span, err)
		return result, err
	}
	return result, nil
}

// RetryFailed re-runs the latest run if it failed. It returns nil, nil when
// there is nothing to retry.
func (j *Job) RetryFailed(ctx context.Context) (*Result, error) {
	ctx, span := tracing.StartSpan(ctx, "recompute.Job.RetryFailed")
	defer span.End()

	latest, err := j.runs.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if latest == nil || latest.Status != models.RunStatusFailed {
		return nil, nil
	}

	j.logger.WithContext(ctx).WithField("run_id", latest.ID).Info("Retrying failed recompute run")
	return j.Run(ctx, models.ImportCompleted{
		ImportBatchID: latest.ImportBatchID,
		CompletedAt:   latest.AsOf,
	})
}

func (j *Job) run(ctx context.Context, trigger models.ImportCompleted) (*Result, error) {
	started := j.now()
	asOf := trigger.CompletedAt.UTC()

	run := &models.RecomputeRun{
		ImportBatchID: trigger.ImportBatchID,
		AsOf:          asOf,
		StartedAt:     started,
	}
	if err := j.runs.Start(ctx, run); err != nil {
		return nil, err
	}

	logger := j.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":          run.ID,
		"import_batch_id": run.ImportBatchID,
		"as_of":           asOf,
	})
	logger.Info("Recompute started")

	result := &Result{}
	runErr := j.recomputeAll(ctx, asOf, result)

	finished := j.now()
	run.FinishedAt = &finished
	run.EntityCount = result.Processed
	run.FailedCount = len(result.Failures)
	run.Status = models.RunStatusSucceeded
	switch {
	case runErr != nil:
		run.Status = models.RunStatusFailed
		msg := runErr.Error()
		run.Error = &msg
	case len(result.Failures) > 0:
		run.Status = models.RunStatusFailed
		msg := fmt.Sprintf("%d of %d entities failed", len(result.Failures), result.Processed)
		run.Error = &msg
	}

	// bookkeeping must land even if the caller's context was cancelled
	finishCtx := context.WithoutCancel(ctx)
	if err := j.runs.Finish(finishCtx, run); err != nil {
		logger.WithError(err).Error("Failed to record recompute outcome")
	}
	result.Run = *run

	metrics.RecomputeRuns.WithLabelValues(string(run.Status)).Inc()
	metrics.RecomputeDuration.Observe(finished.Sub(started).Seconds())

	if runErr != nil {
		logger.WithError(runErr).Error("Recompute failed")
		return result, runErr
	}

	if run.Status == models.RunStatusSucceeded {
		j.prune(ctx, asOf)
	}
	if j.notifier != nil {
		if err := j.notifier.RecomputeCompleted(ctx, *run); err != nil {
			logger.WithError(err).Warn("Failed to publish recompute completion")
		}
	}

	logger.WithFields(map[string]any{
		"status":    run.Status,
		"processed": result.Processed,
		"changed":   result.Changed,
		"failed":    len(result.Failures),
	}).Info("Recompute finished")
	return result, nil
}

func (j *Job) recomputeAll(ctx context.Context, asOf time.Time, result *Result) error {
	refs, err := j.ledger.ReferencedEntities(ctx, time.Time{}, time.Time{})
	if err != nil {
		return err
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Workers)
	for _, ref := range refs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			change, err := j.recomputeEntity(gctx, ref, asOf)

			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			if err != nil {
				metrics.RecomputeEntities.WithLabelValues("failed").Inc()
				result.Failures = append(result.Failures, Failure{EntityID: ref.ID, EntityType: ref.Type, Err: err})
				j.logger.WithContext(gctx).WithError(err).WithField("entity_id", ref.ID).Warn("Failed to recompute entity")
				return nil
			}
			metrics.RecomputeEntities.WithLabelValues("succeeded").Inc()
			if change != nil {
				result.Changed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sort.Slice(result.Failures, func(a, b int) bool { return result.Failures[a].EntityID < result.Failures[b].EntityID })
	return nil
}

// recomputeEntity writes metrics and signals for one entity in one
// transaction and returns the signal change, if any, after commit.
func (j *Job) recomputeEntity(ctx context.Context, ref models.EntityRef, asOf time.Time) (*models.SignalChange, error) {
	ctx, span := tracing.StartSpan(ctx, "recompute.Job.recomputeEntity")
	defer span.End()

	rows, err := j.ledger.RowsForEntity(ctx, ref)
	if err != nil {
		return nil, err
	}

	m := Aggregate(ref, rows, asOf, j.cfg.ExcludedRevenueTypes)
	current := signals.Evaluate(ref.ID, CashRows(rows, j.cfg.ExcludedRevenueTypes), asOf, j.rules)

	var previous []models.SignalKind
	err = j.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := j.metrics.Upsert(ctx, &m); err != nil {
			return err
		}
		previous, err = j.signals.Replace(ctx, ref.ID, current)
		return err
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	currentKinds := make([]models.SignalKind, 0, len(current))
	for _, s := range current {
		currentKinds = append(currentKinds, s.SignalKind)
	}
	if sameKinds(previous, currentKinds) {
		return nil, nil
	}

	change := &models.SignalChange{
		EntityID:   ref.ID,
		EntityType: ref.Type,
		Previous:   sortedKinds(previous),
		Current:    sortedKinds(currentKinds),
		AsOf:       asOf,
	}
	if j.notifier != nil {
		if err := j.notifier.SignalChanged(ctx, *change); err != nil {
			j.logger.WithContext(ctx).WithError(err).WithField("entity_id", ref.ID).Warn("Failed to publish signal change")
		}
	}
	return change, nil
}

// prune drops metrics and signals older than asOf, i.e. rows of entities the
// ledger no longer references. Only called after a fully successful run.
func (j *Job) prune(ctx context.Context, asOf time.Time) {
	logger := j.logger.WithContext(ctx)
	removedMetrics, err := j.metrics.DeleteComputedBefore(ctx, asOf)
	if err != nil {
		logger.WithError(err).Warn("Failed to prune stale metrics")
	}
	removedSignals, err := j.signals.DeleteComputedBefore(ctx, asOf)
	if err != nil {
		logger.WithError(err).Warn("Failed to prune stale signals")
	}
	if removedMetrics > 0 || removedSignals > 0 {
		logger.WithFields(map[string]any{
			"metrics": removedMetrics,
			"signals": removedSignals,
		}).Info("Pruned stale recompute rows")
	}
}

func sortedKinds(kinds []models.SignalKind) []models.SignalKind {
	out := append([]models.SignalKind{}, kinds...)
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func sameKinds(a, b []models.SignalKind) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := sortedKinds(a), sortedKinds(b)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
