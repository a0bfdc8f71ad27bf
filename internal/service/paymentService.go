package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	repository "github.com/ds124wfegd/studio-booking/internal/database/postgres"
	"github.com/ds124wfegd/studio-booking/internal/entity"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	defaultReclaimAfter  = 2 * time.Minute
	balanceHistoryLimit  = 20
	compensationDeadline = 10 * time.Second
)

// PaymentOptions tunes the reconciliation engine.
type PaymentOptions struct {
	// ReclaimAfter is how long an unfinished journal claim blocks redelivery.
	ReclaimAfter  time.Duration
	NotifyTimeout time.Duration
}

type paymentService struct {
	userRepo     repository.UserRepository
	purchaseRepo repository.PurchaseRepository
	journal      repository.PaymentEventRepository
	processor    PaymentProcessor
	pricing      *Pricing
	notifier     Notifier
	opts         PaymentOptions
	now          func() time.Time
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(
	userRepo repository.UserRepository,
	purchaseRepo repository.PurchaseRepository,
	journal repository.PaymentEventRepository,
	processor PaymentProcessor,
	pricing *Pricing,
	notifier Notifier,
	opts PaymentOptions,
) PaymentService {
	if opts.ReclaimAfter <= 0 {
		opts.ReclaimAfter = defaultReclaimAfter
	}
	return &paymentService{
		userRepo:     userRepo,
		purchaseRepo: purchaseRepo,
		journal:      journal,
		processor:    processor,
		pricing:      pricing,
		notifier:     notifier,
		opts:         opts,
		now:          time.Now,
	}
}

// CreateCheckout opens a hosted checkout and records the PENDING purchase
// before the caller can be redirected, so no completion can arrive for an
// unknown checkout session.
func (s *paymentService) CreateCheckout(ctx context.Context, userID int64, req *CreateCheckoutRequest) (*CheckoutResult, error) {
	quote, err := s.pricing.Quote(req)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, failure("create checkout", err, logrus.Fields{"user_id": userID})
	}
	if !user.Verified {
		return nil, entity.ErrUserNotEligible
	}

	cs, err := s.processor.CreateCheckoutSession(ctx, &entity.CheckoutRequest{
		UserID:         userID,
		Quote:          *quote,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"credits": quote.Credits,
			"error":   err,
		}).Error("Failed to create checkout session")
		return nil, fmt.Errorf("%w: %v", entity.ErrProcessorUnavailable, err)
	}

	purchase := &entity.Purchase{
		UserID:            userID,
		CheckoutSessionID: cs.ID,
		PackageName:       quote.PackageName,
		Credits:           quote.Credits,
		AmountCents:       quote.AmountCents,
		Currency:          quote.Currency,
		Status:            entity.PurchaseStatusPending,
		Metadata: map[string]string{
			"user_id": strconv.FormatInt(userID, 10),
			"credits": strconv.FormatInt(quote.Credits, 10),
		},
	}
	if quote.PackageName != "" {
		purchase.Metadata["package"] = quote.PackageName
	}
	if err := s.purchaseRepo.Create(ctx, purchase); err != nil {
		return nil, failure("create checkout", err, logrus.Fields{"user_id": userID, "checkout_session_id": cs.ID})
	}

	logrus.WithFields(logrus.Fields{
		"purchase_id":         purchase.ID,
		"checkout_session_id": cs.ID,
		"user_id":             userID,
		"credits":             quote.Credits,
		"amount_cents":        quote.AmountCents,
	}).Info("Checkout created")

	return &CheckoutResult{
		CheckoutSessionID: cs.ID,
		RedirectURL:       cs.URL,
		PurchaseID:        purchase.ID,
	}, nil
}

// ApplyCompletedPayment is the only path that issues purchased credits. A
// purchase that is already COMPLETED is returned unchanged.
func (s *paymentService) ApplyCompletedPayment(ctx context.Context, checkoutSessionID string, receipt *entity.PaymentReceipt) (*entity.Purchase, error) {
	if checkoutSessionID == "" || receipt == nil {
		return nil, entity.ErrInvalidInput
	}

	purchase, applied, err := s.purchaseRepo.Complete(ctx, checkoutSessionID, receipt)
	if err != nil {
		return nil, failure("complete purchase", err, logrus.Fields{"checkout_session_id": checkoutSessionID})
	}
	if !applied {
		if purchase.Status == entity.PurchaseStatusCompleted {
			return purchase, nil
		}
		return nil, entity.ErrPurchaseNotPending
	}

	log := logrus.WithFields(logrus.Fields{
		"purchase_id":         purchase.ID,
		"checkout_session_id": checkoutSessionID,
		"user_id":             purchase.UserID,
		"credits":             purchase.Credits,
	})
	if receipt.AmountReceived != 0 && receipt.AmountReceived != purchase.AmountCents {
		log.WithField("amount_received", receipt.AmountReceived).Warn("Received amount differs from quote")
	}
	log.Info("Purchase completed")

	s.notify(ctx, &entity.Notification{
		Type:    entity.NotificationPaymentCompleted,
		UserID:  purchase.UserID,
		Message: fmt.Sprintf("%d credits were added to your balance.", purchase.Credits),
		Data:    purchaseData(purchase),
	})

	return purchase, nil
}

func (s *paymentService) ApplyFailedPayment(ctx context.Context, checkoutSessionID string) (*entity.Purchase, error) {
	return s.close(ctx, checkoutSessionID, entity.PurchaseStatusFailed)
}

func (s *paymentService) ApplyCancelledPayment(ctx context.Context, checkoutSessionID string) (*entity.Purchase, error) {
	return s.close(ctx, checkoutSessionID, entity.PurchaseStatusCancelled)
}

// close is a no-op for purchases that are already terminal.
func (s *paymentService) close(ctx context.Context, checkoutSessionID string, status entity.PurchaseStatus) (*entity.Purchase, error) {
	if checkoutSessionID == "" {
		return nil, entity.ErrInvalidInput
	}

	purchase, applied, err := s.purchaseRepo.Close(ctx, checkoutSessionID, status)
	if err != nil {
		return nil, failure("close purchase", err, logrus.Fields{"checkout_session_id": checkoutSessionID})
	}
	if !applied {
		return purchase, nil
	}

	logrus.WithFields(logrus.Fields{
		"purchase_id":         purchase.ID,
		"checkout_session_id": checkoutSessionID,
		"status":              status,
	}).Info("Purchase closed")

	notificationType := entity.NotificationPaymentFailed
	message := "Your payment failed. No credits were added."
	if status == entity.PurchaseStatusCancelled {
		notificationType = entity.NotificationPaymentCancelled
		message = "Your checkout expired. No credits were added."
	}
	s.notify(ctx, &entity.Notification{
		Type:    notificationType,
		UserID:  purchase.UserID,
		Message: message,
		Data:    purchaseData(purchase),
	})

	return purchase, nil
}

// VerifySession reconciles on read: a paid checkout that is still PENDING
// locally goes through the same completion path as the webhook.
func (s *paymentService) VerifySession(ctx context.Context, checkoutSessionID string, userID int64) (*VerifyResult, error) {
	purchase, err := s.purchaseRepo.GetByCheckoutSessionID(ctx, checkoutSessionID)
	if err != nil {
		return nil, failure("verify checkout", err, logrus.Fields{"checkout_session_id": checkoutSessionID})
	}
	if purchase.UserID != userID {
		return nil, entity.ErrAccessDenied
	}

	cs, err := s.processor.GetCheckoutSession(ctx, checkoutSessionID)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"checkout_session_id": checkoutSessionID,
			"error":               err,
		}).Error("Failed to fetch checkout session")
		return nil, fmt.Errorf("%w: %v", entity.ErrProcessorUnavailable, err)
	}

	purchase, err = s.reconcile(ctx, purchase, cs)
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		Purchase:        purchase,
		ProcessorStatus: cs.Status,
		PaymentStatus:   cs.PaymentStatus,
	}, nil
}

func (s *paymentService) reconcile(ctx context.Context, purchase *entity.Purchase, cs *entity.CheckoutSession) (*entity.Purchase, error) {
	if purchase.Status != entity.PurchaseStatusPending {
		return purchase, nil
	}

	switch {
	case cs.Paid():
		return s.ApplyCompletedPayment(ctx, purchase.CheckoutSessionID, &entity.PaymentReceipt{
			PaymentIntentID: cs.PaymentIntentID,
			AmountReceived:  cs.AmountTotal,
			Currency:        cs.Currency,
		})
	case cs.Status == entity.CheckoutStatusExpired:
		return s.ApplyCancelledPayment(ctx, purchase.CheckoutSessionID)
	default:
		return purchase, nil
	}
}

// ProcessNotification applies a verified processor event at most once.
// Domain errors are recorded on the journal row and swallowed so the
// processor stops redelivering; internal errors release the row and are
// returned so the redelivery is processed again.
func (s *paymentService) ProcessNotification(ctx context.Context, n *entity.PaymentNotification) error {
	if n == nil || n.EventID == "" {
		return entity.ErrInvalidInput
	}

	log := logrus.WithFields(logrus.Fields{
		"event_id":            n.EventID,
		"event_type":          n.Type,
		"checkout_session_id": n.CheckoutSessionID,
	})

	result, err := s.journal.RecordIfNew(ctx, &entity.PaymentEvent{
		EventID:   n.EventID,
		EventType: n.Type,
		Payload:   n.Payload,
	}, s.opts.ReclaimAfter)
	if err != nil {
		return failure("record payment event", err, logrus.Fields{"event_id": n.EventID})
	}
	if result == entity.JournalAlreadySeen {
		log.Info("Payment event already seen, skipping")
		return nil
	}

	procErr := s.apply(ctx, n)

	if procErr != nil && entity.KindOf(procErr) == entity.KindInternal {
		log.WithError(procErr).Error("Payment event failed, released for redelivery")
		if err := s.journal.ReleaseForRetry(context.WithoutCancel(ctx), n.EventID, procErr); err != nil {
			log.WithError(err).Error("Failed to release payment event")
		}
		return procErr
	}

	if err := s.journal.MarkProcessed(ctx, n.EventID, procErr); err != nil {
		return failure("mark payment event processed", err, logrus.Fields{"event_id": n.EventID})
	}

	if procErr != nil {
		log.WithError(procErr).Warn("Payment event recorded with error")
	} else {
		log.WithField("journal", result.String()).Info("Payment event processed")
	}
	return nil
}

func (s *paymentService) apply(ctx context.Context, n *entity.PaymentNotification) error {
	var err error
	switch n.Type {
	case entity.PaymentEventCheckoutCompleted:
		// Delayed payment methods complete the checkout before the money arrives.
		if n.PaymentStatus != entity.PaymentStatusPaid && n.PaymentStatus != entity.PaymentStatusNoPaymentRequired {
			return nil
		}
		_, err = s.ApplyCompletedPayment(ctx, n.CheckoutSessionID, n.Receipt())
	case entity.PaymentEventAsyncPaymentOK:
		_, err = s.ApplyCompletedPayment(ctx, n.CheckoutSessionID, n.Receipt())
	case entity.PaymentEventAsyncPaymentFailed:
		_, err = s.ApplyFailedPayment(ctx, n.CheckoutSessionID)
	case entity.PaymentEventCheckoutExpired:
		_, err = s.ApplyCancelledPayment(ctx, n.CheckoutSessionID)
	}
	return err
}

// HandleWebhook verifies a raw processor delivery and processes it.
func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	n, err := s.processor.ParseWebhook(payload, signature)
	if err != nil {
		if _, ok := entity.AsError(err); ok {
			return err
		}
		return fmt.Errorf("%w: %v", entity.ErrInvalidInput, err)
	}
	return s.ProcessNotification(ctx, n)
}

// Refund takes the credits back first and only then asks the processor to
// return the money. A processor failure restores the purchase and the credits.
func (s *paymentService) Refund(ctx context.Context, purchaseID int64) (*RefundResult, error) {
	purchase, err := s.purchaseRepo.MarkRefunded(ctx, purchaseID)
	if err != nil {
		return nil, failure("refund purchase", err, logrus.Fields{"purchase_id": purchaseID})
	}

	log := logrus.WithFields(logrus.Fields{
		"purchase_id": purchaseID,
		"user_id":     purchase.UserID,
		"credits":     purchase.Credits,
	})

	var refundID string
	if purchase.PaymentIntentID != "" {
		amount := purchase.AmountReceived
		if amount == 0 {
			amount = purchase.AmountCents
		}

		refundID, err = s.processor.Refund(ctx, purchase.PaymentIntentID, amount, refundIdempotencyKey(purchase))
		if err != nil {
			log.WithError(err).Error("Processor refund failed, restoring purchase")

			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationDeadline)
			defer cancel()
			if revertErr := s.purchaseRepo.RevertRefund(cctx, purchaseID); revertErr != nil {
				log.WithError(revertErr).Error("Failed to restore purchase after refund failure")
			}
			return nil, fmt.Errorf("%w: %v", entity.ErrProcessorUnavailable, err)
		}

		if err := s.purchaseRepo.SetRefundID(context.WithoutCancel(ctx), purchaseID, refundID); err != nil {
			log.WithError(err).Error("Failed to store refund id")
		}
		purchase.RefundID = refundID
	}

	log.WithField("refund_id", refundID).Info("Purchase refunded")

	s.notify(ctx, &entity.Notification{
		Type:    entity.NotificationPurchaseRefunded,
		UserID:  purchase.UserID,
		Message: fmt.Sprintf("Your purchase of %d credits was refunded.", purchase.Credits),
		Data:    purchaseData(purchase),
	})

	return &RefundResult{RefundID: refundID, Purchase: purchase}, nil
}

// ReconcileStalePurchases polls the processor for PENDING purchases whose
// webhook never arrived. It returns how many purchases changed state.
func (s *paymentService) ReconcileStalePurchases(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.purchaseRepo.ListStalePending(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, failure("list stale purchases", err, nil)
	}

	resolved := 0
	for _, purchase := range stale {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		log := logrus.WithFields(logrus.Fields{
			"purchase_id":         purchase.ID,
			"checkout_session_id": purchase.CheckoutSessionID,
		})

		cs, err := s.processor.GetCheckoutSession(ctx, purchase.CheckoutSessionID)
		if err != nil {
			log.WithError(err).Warn("Failed to fetch checkout session")
			continue
		}

		updated, err := s.reconcile(ctx, purchase, cs)
		if err != nil {
			log.WithError(err).Warn("Failed to reconcile purchase")
			continue
		}
		if updated.Status != entity.PurchaseStatusPending {
			resolved++
		}
	}

	return resolved, nil
}

func (s *paymentService) GetBalance(ctx context.Context, userID int64) (*Balance, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, failure("get balance", err, logrus.Fields{"user_id": userID})
	}

	entries, err := s.userRepo.GetCreditTransactions(ctx, userID, balanceHistoryLimit)
	if err != nil {
		return nil, failure("get balance", err, logrus.Fields{"user_id": userID})
	}
	if entries == nil {
		entries = []*entity.CreditTransaction{}
	}

	return &Balance{UserID: userID, Credits: user.CreditBalance, Transactions: entries}, nil
}

// GetUserPurchases returns the newest purchases first
func (s *paymentService) GetUserPurchases(ctx context.Context, userID int64, limit int) ([]*entity.Purchase, error) {
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}

	purchases, err := s.purchaseRepo.GetByUserID(ctx, userID, limit)
	if err != nil {
		return nil, failure("list purchases", err, logrus.Fields{"user_id": userID})
	}
	if purchases == nil {
		purchases = []*entity.Purchase{}
	}
	return purchases, nil
}

func (s *paymentService) ListFailedEvents(ctx context.Context, limit int) ([]*entity.PaymentEvent, error) {
	if limit <= 0 || limit > defaultHistoryLimit {
		limit = defaultHistoryLimit
	}

	events, err := s.journal.ListFailed(ctx, limit)
	if err != nil {
		return nil, failure("list failed payment events", err, nil)
	}
	if events == nil {
		events = []*entity.PaymentEvent{}
	}
	return events, nil
}

func (s *paymentService) notify(ctx context.Context, n *entity.Notification) {
	dispatch(ctx, s.notifier, s.opts.NotifyTimeout, n)
}

func purchaseData(p *entity.Purchase) map[string]interface{} {
	return map[string]interface{}{
		"purchase_id": p.ID,
		"credits":     p.Credits,
		"status":      string(p.Status),
	}
}

// refundIdempotencyKey is unique per refund attempt of a purchase.
func refundIdempotencyKey(p *entity.Purchase) string {
	return fmt.Sprintf("refund-purchase-%d-%d", p.ID, p.RefundAttempts)
}
