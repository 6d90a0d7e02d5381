// internal/service/retry_worker.go
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/repository"
)

// Resumer re-drives one kind of settlement failure. Resume must be idempotent.
type Resumer interface {
	Resume(ctx context.Context, f *domain.SettlementFailure) error
}

// RetryConfig tunes the settlement failure sweep.
type RetryConfig struct {
	BatchSize   int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Lease is how long a claimed row is held before another sweep may reclaim it.
	Lease         time.Duration
	NotifyTimeout time.Duration
}

// RetryWorker drains the settlement failure outbox with exponential backoff and
// alerts operators when a row runs out of attempts.
type RetryWorker struct {
	dbExecutor repository.DBExecutor
	failures   repository.SettlementFailureRepository
	uow        UnitOfWork
	resumers   map[domain.SettlementOperation]Resumer
	notifier   *notifier
	cfg        RetryConfig
	logger     *slog.Logger
	now        func() time.Time
}

// NewRetryWorker creates a worker dispatching failures to resumers by operation.
func NewRetryWorker(
	dbExecutor repository.DBExecutor,
	failures repository.SettlementFailureRepository,
	uow UnitOfWork,
	resumers map[domain.SettlementOperation]Resumer,
	sink NotificationSink,
	cfg RetryConfig,
	logger *slog.Logger,
) *RetryWorker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 30 * time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = 30 * time.Minute
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	return &RetryWorker{
		dbExecutor: dbExecutor,
		failures:   failures,
		uow:        uow,
		resumers:   resumers,
		notifier:   newNotifier(sink, cfg.NotifyTimeout, logger),
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ProcessDue claims the rows that are due and re-drives each once. It returns the
// number of rows processed.
func (w *RetryWorker) ProcessDue(ctx context.Context) (int, error) {
	var claimed []domain.SettlementFailure
	err := w.uow.run(ctx, "claim settlement failures", func(ctx context.Context, q repository.DBExecutor) error {
		var err error
		claimed, err = w.failures.ClaimDueSettlementFailures(ctx, q, w.now(), w.cfg.Lease, w.cfg.BatchSize)
		return err
	})
	if err != nil {
		return 0, err
	}
	for i := range claimed {
		if ctx.Err() != nil {
			return i, ctx.Err()
		}
		w.process(ctx, &claimed[i])
	}
	return len(claimed), nil
}

func (w *RetryWorker) process(ctx context.Context, f *domain.SettlementFailure) {
	f.Attempts++
	attrs := []any{"failure_id", f.ID, "reference", f.Reference, "operation", f.Operation, "stage", f.Stage,
		"attempt", f.Attempts, "max_attempts", f.MaxAttempts}

	var err error
	if r, ok := w.resumers[f.Operation]; ok {
		err = r.Resume(ctx, f)
	} else {
		err = fmt.Errorf("no resumer for %s", f.Operation)
	}

	switch {
	case err == nil:
		f.Status = domain.FailureResolved
		f.LastError = ""
		w.logger.Info("Settlement failure resolved", attrs...)
	case f.MaxAttempts > 0 && f.Attempts >= f.MaxAttempts:
		f.Status = domain.FailureExhausted
		f.LastError = err.Error()
		w.logger.Error("Settlement retries exhausted, manual reconciliation required", append(attrs, "error", err, "external_refs", string(f.ExternalRefs))...)
		w.notifier.notify(ctx, domain.Notification{
			Kind:      domain.AlertRetryExhausted,
			Reference: f.Reference,
			Title:     "Settlement retries exhausted",
			Body:      fmt.Sprintf("%s %s failed after %d attempts: %v", f.Operation, f.Stage, f.Attempts, err),
			Data: map[string]string{
				"failure_id":    fmt.Sprint(f.ID),
				"user_id":       fmt.Sprint(f.UserID),
				"external_refs": string(f.ExternalRefs),
			},
		})
	default:
		f.Status = domain.FailurePending
		f.LastError = err.Error()
		f.NextAttemptAt = w.now().Add(backoff(w.cfg.BaseBackoff, w.cfg.MaxBackoff, f.Attempts))
		w.logger.Warn("Settlement retry failed", append(attrs, "error", err, "next_attempt_at", f.NextAttemptAt)...)
	}

	uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err = w.uow.run(uctx, "update settlement failure", func(ctx context.Context, q repository.DBExecutor) error {
		return w.failures.UpdateSettlementFailure(ctx, q, f)
	})
	if err != nil {
		w.logger.Error("Settlement failure state could not be saved", append(attrs, "status", f.Status, "error", err)...)
	}
}

// backoff is base*2^(attempt-1), capped at limit.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	return min(d, limit)
}

// ReportExhausted logs and alerts on the rows no sweep will pick up again.
func (w *RetryWorker) ReportExhausted(ctx context.Context) (int64, error) {
	count, err := w.failures.CountSettlementFailures(ctx, w.dbExecutor, domain.FailureExhausted)
	if err != nil {
		return 0, fmt.Errorf("count exhausted settlement failures: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	rows, err := w.failures.ListSettlementFailures(ctx, w.dbExecutor, domain.FailureExhausted, 20)
	if err != nil {
		return count, fmt.Errorf("list exhausted settlement failures: %w", err)
	}
	refs := make([]string, 0, len(rows))
	for _, f := range rows {
		refs = append(refs, f.Reference)
	}
	w.logger.Error("Exhausted settlement failures awaiting reconciliation", "count", count, "references", refs)
	w.notifier.notify(ctx, domain.Notification{
		Kind:      domain.AlertRetryExhausted,
		Reference: "exhausted-report",
		Title:     "Settlement failures awaiting reconciliation",
		Body:      fmt.Sprintf("%d settlement failures need manual reconciliation: %s", count, strings.Join(refs, ", ")),
	})
	return count, nil
}
