package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

type purchaseRepo struct{ s *Store }

func clonePurchase(p *entity.Purchase) *entity.Purchase {
	cp := *p
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// bySession finds a purchase by checkout session. Callers hold mu.
func (r purchaseRepo) bySession(checkoutSessionID string) (*entity.Purchase, bool) {
	for _, p := range r.s.purchases {
		if p.CheckoutSessionID == checkoutSessionID {
			return p, true
		}
	}
	return nil, false
}

func (r purchaseRepo) Create(_ context.Context, p *entity.Purchase) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.bySession(p.CheckoutSessionID); exists {
		return fmt.Errorf("failed to create purchase: checkout session %s already recorded", p.CheckoutSessionID)
	}

	r.s.nextPurchaseID++
	p.ID = r.s.nextPurchaseID
	p.CreatedAt = r.s.now()
	p.UpdatedAt = p.CreatedAt
	r.s.purchases[p.ID] = clonePurchase(p)
	return nil
}

func (r purchaseRepo) GetByID(_ context.Context, id int64) (*entity.Purchase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.purchases[id]
	if !ok {
		return nil, entity.ErrPurchaseNotFound
	}
	return clonePurchase(p), nil
}

func (r purchaseRepo) GetByCheckoutSessionID(_ context.Context, checkoutSessionID string) (*entity.Purchase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.bySession(checkoutSessionID)
	if !ok {
		return nil, entity.ErrPurchaseNotFound
	}
	return clonePurchase(p), nil
}

func (r purchaseRepo) GetByUserID(_ context.Context, userID int64, limit int) ([]*entity.Purchase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.Purchase
	for _, p := range r.s.purchases {
		if p.UserID == userID {
			out = append(out, clonePurchase(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return truncate(out, limit), nil
}

func (r purchaseRepo) ListStalePending(_ context.Context, createdBefore time.Time, limit int) ([]*entity.Purchase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.Purchase
	for _, p := range r.s.purchases {
		if p.Status == entity.PurchaseStatusPending && p.CreatedAt.Before(createdBefore) {
			out = append(out, clonePurchase(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, limit), nil
}

func (r purchaseRepo) Complete(_ context.Context, checkoutSessionID string, receipt *entity.PaymentReceipt) (*entity.Purchase, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.bySession(checkoutSessionID)
	if !ok {
		return nil, false, entity.ErrPurchaseNotFound
	}
	if p.Status != entity.PurchaseStatusPending {
		return clonePurchase(p), false, nil
	}

	err := r.s.adjustBalance(entity.CreditTransaction{
		UserID:        p.UserID,
		Kind:          entity.CreditKindPurchase,
		Amount:        p.Credits,
		ReferenceType: "purchase",
		ReferenceID:   strconv.FormatInt(p.ID, 10),
	})
	if err != nil {
		return nil, false, err
	}

	now := r.s.now()
	p.Status = entity.PurchaseStatusCompleted
	p.PaymentIntentID = receipt.PaymentIntentID
	p.AmountReceived = receipt.AmountReceived
	p.CompletedAt = &now
	p.UpdatedAt = now
	return clonePurchase(p), true, nil
}

func (r purchaseRepo) Close(_ context.Context, checkoutSessionID string, status entity.PurchaseStatus) (*entity.Purchase, bool, error) {
	if status != entity.PurchaseStatusFailed && status != entity.PurchaseStatusCancelled {
		return nil, false, fmt.Errorf("%w: cannot close purchase as %s", entity.ErrInvalidInput, status)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.bySession(checkoutSessionID)
	if !ok {
		return nil, false, entity.ErrPurchaseNotFound
	}
	if p.Status != entity.PurchaseStatusPending {
		return clonePurchase(p), false, nil
	}

	p.Status = status
	p.UpdatedAt = r.s.now()
	return clonePurchase(p), true, nil
}

func (r purchaseRepo) MarkRefunded(_ context.Context, id int64) (*entity.Purchase, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.purchases[id]
	if !ok {
		return nil, entity.ErrPurchaseNotFound
	}
	if p.Status != entity.PurchaseStatusCompleted {
		return nil, entity.ErrPurchaseNotCompleted
	}

	err := r.s.adjustBalance(entity.CreditTransaction{
		UserID:        p.UserID,
		Kind:          entity.CreditKindPurchaseRefund,
		Amount:        -p.Credits,
		ReferenceType: "purchase",
		ReferenceID:   strconv.FormatInt(p.ID, 10),
	})
	if errors.Is(err, entity.ErrInsufficientCredits) {
		return nil, entity.ErrInsufficientBalanceForRefund
	}
	if err != nil {
		return nil, err
	}

	now := r.s.now()
	p.Status = entity.PurchaseStatusRefunded
	p.RefundAttempts++
	p.RefundedAt = &now
	p.UpdatedAt = now
	return clonePurchase(p), nil
}

func (r purchaseRepo) RevertRefund(_ context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.purchases[id]
	if !ok || p.Status != entity.PurchaseStatusRefunded {
		return entity.ErrPurchaseNotFound
	}

	err := r.s.adjustBalance(entity.CreditTransaction{
		UserID:        p.UserID,
		Kind:          entity.CreditKindPurchaseRefundReversal,
		Amount:        p.Credits,
		ReferenceType: "purchase",
		ReferenceID:   strconv.FormatInt(p.ID, 10),
	})
	if err != nil {
		return err
	}

	p.Status = entity.PurchaseStatusCompleted
	p.RefundedAt = nil
	p.UpdatedAt = r.s.now()
	return nil
}

func (r purchaseRepo) SetRefundID(_ context.Context, id int64, refundID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.purchases[id]
	if !ok {
		return entity.ErrPurchaseNotFound
	}
	p.RefundID = refundID
	p.UpdatedAt = r.s.now()
	return nil
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
