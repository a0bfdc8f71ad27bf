package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*entity.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, notification *entity.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return n.err
}

func (n *recordingNotifier) ofType(t entity.NotificationType) []*entity.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []*entity.Notification
	for _, sent := range n.sent {
		if sent.Type == t {
			out = append(out, sent)
		}
	}
	return out
}

type fakeProcessor struct {
	mu         sync.Mutex
	next       int
	sessions   map[string]*entity.CheckoutSession
	createErr  error
	getErr     error
	refundErr  error
	refunds    []string
	refundKeys []string

	parsed   *entity.PaymentNotification
	parseErr error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{sessions: make(map[string]*entity.CheckoutSession)}
}

func (p *fakeProcessor) CreateCheckoutSession(_ context.Context, req *entity.CheckoutRequest) (*entity.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.createErr != nil {
		return nil, p.createErr
	}
	p.next++
	cs := &entity.CheckoutSession{
		ID:            fmt.Sprintf("cs_test_%d", p.next),
		URL:           fmt.Sprintf("https://checkout.example/%d", p.next),
		Status:        entity.CheckoutStatusOpen,
		PaymentStatus: entity.PaymentStatusUnpaid,
		AmountTotal:   req.Quote.AmountCents,
		Currency:      req.Quote.Currency,
	}
	p.sessions[cs.ID] = cs
	cp := *cs
	return &cp, nil
}

func (p *fakeProcessor) GetCheckoutSession(_ context.Context, id string) (*entity.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	cs, ok := p.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no such checkout session: %s", id)
	}
	cp := *cs
	return &cp, nil
}

func (p *fakeProcessor) Refund(_ context.Context, paymentIntentID string, _ int64, idempotencyKey string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refundKeys = append(p.refundKeys, idempotencyKey)
	if p.refundErr != nil {
		return "", p.refundErr
	}
	p.refunds = append(p.refunds, paymentIntentID)
	return "re_" + paymentIntentID, nil
}

func (p *fakeProcessor) ParseWebhook(_ []byte, _ string) (*entity.PaymentNotification, error) {
	if p.parseErr != nil {
		return nil, p.parseErr
	}
	return p.parsed, nil
}

// pay marks a checkout session as paid on the processor side.
func (p *fakeProcessor) pay(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cs := p.sessions[id]
	cs.Status = entity.CheckoutStatusComplete
	cs.PaymentStatus = entity.PaymentStatusPaid
	cs.PaymentIntentID = "pi_" + id
}

func (p *fakeProcessor) expire(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[id].Status = entity.CheckoutStatusExpired
}
