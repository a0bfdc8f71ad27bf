package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ds124wfegd/studio-booking/internal/entity"
)

type eventRepo struct{ s *Store }

func cloneEvent(e *entity.PaymentEvent) *entity.PaymentEvent {
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	if e.LastError != nil {
		msg := *e.LastError
		cp.LastError = &msg
	}
	return &cp
}

func (r eventRepo) RecordIfNew(_ context.Context, event *entity.PaymentEvent, reclaimAfter time.Duration) (entity.JournalResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	existing, ok := r.s.events[event.EventID]
	if !ok {
		row := cloneEvent(event)
		row.Processed = false
		row.LastError = nil
		row.Attempts = 1
		row.ClaimedAt = &now
		row.CreatedAt = now
		row.ProcessedAt = nil
		r.s.events[event.EventID] = row
		return entity.JournalInserted, nil
	}

	if existing.Processed {
		return entity.JournalAlreadySeen, nil
	}
	if existing.ClaimedAt != nil && !existing.ClaimedAt.Before(now.Add(-reclaimAfter)) {
		return entity.JournalAlreadySeen, nil
	}

	existing.Attempts++
	existing.ClaimedAt = &now
	return entity.JournalReclaimed, nil
}

func (r eventRepo) MarkProcessed(_ context.Context, eventID string, procErr error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.events[eventID]
	if !ok {
		return fmt.Errorf("payment event %s not found", eventID)
	}
	now := r.s.now()
	e.Processed = true
	e.LastError = errorText(procErr)
	e.ProcessedAt = &now
	e.ClaimedAt = nil
	return nil
}

func (r eventRepo) ReleaseForRetry(_ context.Context, eventID string, procErr error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.events[eventID]
	if !ok || e.Processed {
		return fmt.Errorf("payment event %s not found", eventID)
	}
	e.LastError = errorText(procErr)
	e.ClaimedAt = nil
	return nil
}

func (r eventRepo) GetByID(_ context.Context, eventID string) (*entity.PaymentEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.events[eventID]
	if !ok {
		return nil, fmt.Errorf("payment event %s not found", eventID)
	}
	return cloneEvent(e), nil
}

func (r eventRepo) ListFailed(_ context.Context, limit int) ([]*entity.PaymentEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*entity.PaymentEvent
	for _, e := range r.s.events {
		if e.LastError != nil {
			out = append(out, cloneEvent(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].EventID > out[j].EventID
	})
	return truncate(out, limit), nil
}

func errorText(err error) *string {
	if err == nil {
		return nil
	}
	msg := err.Error()
	return &msg
}
