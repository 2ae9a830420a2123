package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/towline/towline-backend/internal/settlement"
	"github.com/towline/towline-backend/pkg/logger"
)

const (
	defaultReconcileAfter = 10 * time.Minute
	defaultReconcileBatch = 25
)

type PaymentReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler paymentReconciler
	After      time.Duration
	BatchSize  int
}

type paymentReconciler interface {
	Reconcile(ctx context.Context, cutoff time.Time, limit int) (settlement.ReconcileReport, error)
}

// NewPaymentReconcileJob polls the gateway for charges whose webhook never
// arrived.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("settlement reconciler required")
	}
	after := params.After
	if after <= 0 {
		after = defaultReconcileAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &paymentReconcileJob{
		logg:       params.Logger,
		reconciler: params.Reconciler,
		after:      after,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type paymentReconcileJob struct {
	logg       *logger.Logger
	reconciler paymentReconciler
	after      time.Duration
	batch      int
	now        func() time.Time
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.after)
	report, err := j.reconciler.Reconcile(ctx, cutoff, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"checked": report.Checked,
		"settled": report.Settled,
		"failed":  report.Failed,
	})
	if err != nil {
		return fmt.Errorf("payment reconcile: %w", err)
	}
	if report.Failed > 0 {
		j.logg.Warn(logCtx, "payment reconcile finished with failures")
		return nil
	}
	j.logg.Info(logCtx, "payment reconcile complete")
	return nil
}
