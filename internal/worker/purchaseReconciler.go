package worker

import (
	"context"
	"time"

	"github.com/ds124wfegd/studio-booking/config"
	"github.com/ds124wfegd/studio-booking/internal/service"

	"github.com/sirupsen/logrus"
)

// PurchaseReconciler resolves purchases whose processor webhook never
// arrived. It runs as a scheduler job.
type PurchaseReconciler struct {
	paymentService service.PaymentService
	staleAfter     time.Duration
	batchSize      int
}

func NewPurchaseReconciler(paymentService service.PaymentService, cfg config.WorkerConfig) *PurchaseReconciler {
	return &PurchaseReconciler{
		paymentService: paymentService,
		staleAfter:     cfg.StaleAfter,
		batchSize:      cfg.BatchSize,
	}
}

func (w *PurchaseReconciler) Name() string {
	return "purchase_reconciler"
}

func (w *PurchaseReconciler) Run(ctx context.Context) error {
	resolved, err := w.paymentService.ReconcileStalePurchases(ctx, w.staleAfter, w.batchSize)
	if err != nil {
		logrus.Errorf("Failed to reconcile stale purchases: %v", err)
		return err
	}

	if resolved > 0 {
		logrus.Infof("Reconciled %d stale purchases", resolved)
	}
	return nil
}
