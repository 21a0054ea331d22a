package service

import (
	"context"
	"strings"

	"github.com/opencourse/ms-go-course-payments/app/entity"
)

// HasEntitlement reports whether the user holds a purchase for the course.
// Reads go through the same store as the reconciling writes, so a committed
// purchase is visible immediately.
func (s *PaymentService) HasEntitlement(ctx context.Context, userID, courseID uint64) (bool, error) {
	purchase, err := s.purchases.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		return false, err
	}
	return purchase != nil, nil
}

func (s *PaymentService) ListUserPurchases(ctx context.Context, userID uint64) ([]*entity.Purchase, error) {
	return s.purchases.ListByUser(ctx, userID)
}

// ListWebhookEvents serves the operator triage queue.
func (s *PaymentService) ListWebhookEvents(ctx context.Context, status string, limit, offset int32) ([]*entity.WebhookEvent, error) {
	status = strings.TrimSpace(status)
	if status != "" && status != entity.WebhookEventStatusProcessed && status != entity.WebhookEventStatusFailed {
		return nil, ErrInvalidRequest
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.journal.ListByStatus(ctx, status, limit, offset)
}
