// Package reconcile settles payments whose execute outcome was never
// learned, for example because the caller gave up after a timeout.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/ItsMoloy/Android-250/libs/apperr"
	"github.com/ItsMoloy/Android-250/libs/auth"
	"github.com/ItsMoloy/Android-250/services/appointment-service/internal/model"
)

type Lister interface {
	ListAwaitingReconciliation(ctx context.Context, limit int) ([]model.Appointment, error)
}

type Reconciler interface {
	ReconcilePayment(ctx context.Context, actor auth.Principal, id string) (model.Appointment, error)
}

type Worker struct {
	store     Lister
	svc       Reconciler
	actor     auth.Principal
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

func NewWorker(store Lister, svc Reconciler, actor auth.Principal, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	return &Worker{
		store:     store,
		svc:       svc,
		actor:     actor,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.logger.Error("payment reconciliation batch failed", "err", err)
			}
		}
	}
}

type Result struct {
	Settled    int
	Unresolved int
	Failed     int
}

// ProcessBatch reconciles one batch. Appointments that stay unresolved are
// picked up again on the next tick.
func (w *Worker) ProcessBatch(ctx context.Context) (Result, error) {
	appts, err := w.store.ListAwaitingReconciliation(ctx, w.batchSize)
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, a := range appts {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		got, err := w.svc.ReconcilePayment(ctx, w.actor, a.ID)
		switch {
		case err == nil && got.PaymentStatus != model.PaymentAwaiting:
			res.Settled++
		case err == nil, apperr.Is(err, apperr.PaymentUnconfirmed):
			res.Unresolved++
		default:
			res.Failed++
			w.logger.Warn("payment reconciliation failed",
				"appointment_id", a.ID,
				"payment_id", a.PaymentID,
				"code", apperr.CodeOf(err),
				"err", err,
			)
		}
	}
	if len(appts) > 0 {
		w.logger.Info("payment reconciliation batch done",
			"checked", len(appts),
			"settled", res.Settled,
			"unresolved", res.Unresolved,
			"failed", res.Failed,
		)
	}
	return res, nil
}
