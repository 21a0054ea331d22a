package service

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/opencourse/ms-go-course-payments/app/entity"
	"github.com/opencourse/ms-go-course-payments/app/provider"
	"github.com/opencourse/ms-go-course-payments/app/repository"
)

// HandleWebhook authenticates and processes one asynchronous provider
// notification. Signature failures are not journaled: an unverified payload
// cannot be trusted enough to key a journal row. Everything after a verified
// event id lands in the journal, processed or failed.
func (s *PaymentService) HandleWebhook(ctx context.Context, providerName string, payload []byte, headers http.Header) error {
	providerClient, err := s.providerReg.Get(providerName)
	if err != nil {
		return err
	}

	notification, err := providerClient.VerifyWebhook(ctx, payload, headers)
	if err != nil {
		return err
	}

	return s.processNotification(ctx, providerClient, notification)
}

// processNotification is the single reconciliation write path shared by the
// webhook and admin-retry entry points.
func (s *PaymentService) processNotification(ctx context.Context, providerClient provider.Provider, notification *provider.Notification) error {
	if notification == nil || notification.EventID == "" {
		return ErrInvalidRequest
	}

	existing, err := s.journal.FindByEventID(ctx, providerClient.Name(), notification.EventID)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == entity.WebhookEventStatusProcessed {
		// Idempotent replay: the purchase is already recorded, do not reprocess.
		return nil
	}

	now := time.Now().UTC()
	event := &entity.WebhookEvent{
		Provider:     providerClient.Name(),
		EventID:      notification.EventID,
		EventType:    notification.EventType,
		EventPayload: string(notification.Payload),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	result := notification.Result
	if notification.NeedsCapture && result != nil {
		result, err = providerClient.CaptureOrder(ctx, result.OrderID)
		if err != nil {
			return s.journalFailure(ctx, event, err)
		}
	}

	if result == nil {
		// Verified event with no payment semantics; journal it for audit and
		// acknowledge so the provider stops redelivering.
		return s.writer.CommitProcessed(ctx, nil, event)
	}

	if !result.Paid {
		return s.journalFailure(ctx, event, ErrPaymentNotCompleted)
	}
	if result.UserID == 0 || result.CourseID == 0 {
		return s.journalFailure(ctx, event, ErrMissingCorrelation)
	}

	purchase, err := s.purchaseForResult(ctx, providerClient.Name(), result, now)
	if err != nil {
		return err
	}

	if err := s.writer.CommitProcessed(ctx, purchase, event); err != nil {
		return err
	}

	s.logger.WithField("provider", providerClient.Name()).
		WithField("event_id", event.EventID).
		WithField("user_id", result.UserID).
		WithField("course_id", result.CourseID).
		Info("Webhook event reconciled")

	return nil
}

// purchaseForResult returns the purchase row to insert, or nil when the
// (user, course) pair is already entitled and the commit only needs to mark
// the journal row processed.
func (s *PaymentService) purchaseForResult(ctx context.Context, providerName string, result *provider.PaymentResult, now time.Time) (*entity.Purchase, error) {
	existing, err := s.purchases.FindByUserAndCourse(ctx, result.UserID, result.CourseID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}
	return newPurchase(providerName, result, now), nil
}

func newPurchase(providerName string, result *provider.PaymentResult, now time.Time) *entity.Purchase {
	purchase := &entity.Purchase{
		UserID:      result.UserID,
		CourseID:    result.CourseID,
		Source:      providerName,
		AmountCents: result.AmountCents,
		Currency:    result.Currency,
		CreatedAt:   now,
	}

	switch providerName {
	case provider.NameStripe:
		purchase.StripeSessionID = optionalRef(result.SessionID)
		purchase.StripePaymentIntentID = optionalRef(result.PaymentIntentID)
	case provider.NamePayPal:
		purchase.PayPalOrderID = optionalRef(result.OrderID)
		purchase.PayPalCaptureID = optionalRef(result.CaptureID)
	}

	return purchase
}

func (s *PaymentService) journalFailure(ctx context.Context, event *entity.WebhookEvent, cause error) error {
	message := truncate(cause.Error(), 1024)
	stack := truncate(string(debug.Stack()), 4096)
	event.ErrorMessage = &message
	event.ErrorStack = &stack

	if err := s.writer.CommitFailed(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_id", event.EventID).Error("Failed to journal rejected webhook event")
		return err
	}

	return cause
}

// VerifyStripePurchase re-fetches the checkout session from Stripe and, when
// it is paid and names the caller's (user, course), records the purchase. The
// caller-supplied session id is only a lookup key; amounts and identity come
// from the provider. No journal row is written: there is no provider event id.
func (s *PaymentService) VerifyStripePurchase(ctx context.Context, userID, courseID uint64, sessionID string) error {
	providerClient, err := s.providerReg.Get(provider.NameStripe)
	if err != nil {
		return err
	}

	result, err := providerClient.RetrieveCheckout(ctx, sessionID)
	if err != nil {
		return err
	}

	return s.recordVerifiedPurchase(ctx, providerClient.Name(), userID, courseID, result)
}

// VerifyPayPalPurchase runs the capture step for the order and records the
// purchase. Capturing an already-captured order is converged inside the
// adapter by re-reading the canonical order state.
func (s *PaymentService) VerifyPayPalPurchase(ctx context.Context, userID, courseID uint64, orderID string) error {
	providerClient, err := s.providerReg.Get(provider.NamePayPal)
	if err != nil {
		return err
	}

	result, err := providerClient.CaptureOrder(ctx, orderID)
	if err != nil {
		return err
	}

	return s.recordVerifiedPurchase(ctx, providerClient.Name(), userID, courseID, result)
}

func (s *PaymentService) recordVerifiedPurchase(ctx context.Context, providerName string, userID, courseID uint64, result *provider.PaymentResult) error {
	if result == nil || !result.Paid {
		return ErrPaymentNotCompleted
	}
	if result.UserID != userID || result.CourseID != courseID {
		// Guards against replaying another account's completed payment.
		return ErrIdentityMismatch
	}

	existing, err := s.purchases.FindByUserAndCourse(ctx, userID, courseID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	purchase := newPurchase(providerName, result, time.Now().UTC())
	if err := s.writer.CreatePurchase(ctx, purchase); err != nil {
		if isDuplicatePurchase(err) {
			// A concurrent webhook delivery won the race; the entitlement exists.
			return nil
		}
		return err
	}

	return nil
}

// RetryWebhookEvent re-fetches the canonical event from the provider and
// re-runs reconciliation against the stored journal row. Safe to call
// repeatedly; a processed row is a no-op. A retry that fails again updates the
// row's diagnostics in place and reports the failed state rather than erroring.
func (s *PaymentService) RetryWebhookEvent(ctx context.Context, eventID string) (*entity.WebhookEvent, error) {
	event, err := s.journal.FindAnyByEventID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, ErrEventNotFound
	}
	if event.Status == entity.WebhookEventStatusProcessed {
		return event, nil
	}

	providerClient, err := s.providerReg.Get(event.Provider)
	if err != nil {
		return nil, err
	}

	notification, retrieveErr := providerClient.RetrieveEvent(ctx, event.EventID)
	if retrieveErr != nil {
		_ = s.journalFailure(ctx, cloneEventForRetry(event), retrieveErr)
	} else if processErr := s.processNotification(ctx, providerClient, notification); processErr != nil {
		s.logger.WithError(processErr).WithField("event_id", event.EventID).Warn("Webhook event retry did not converge")
	}

	updated, err := s.journal.FindByEventID(ctx, event.Provider, event.EventID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return event, nil
	}
	return updated, nil
}

func cloneEventForRetry(event *entity.WebhookEvent) *entity.WebhookEvent {
	now := time.Now().UTC()
	return &entity.WebhookEvent{
		Provider:     event.Provider,
		EventID:      event.EventID,
		EventType:    event.EventType,
		EventPayload: event.EventPayload,
		CreatedAt:    event.CreatedAt,
		UpdatedAt:    now,
	}
}

func isDuplicatePurchase(err error) bool {
	return errors.Is(err, repository.ErrPurchaseAlreadyExists)
}

func optionalRef(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}
