package provider

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrNotSupported     = errors.New("provider is not supported")
	ErrNotConfigured    = errors.New("provider is not configured")
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

type CheckoutInput struct {
	UserID        uint64
	CourseID      uint64
	CourseTitle   string
	CustomerEmail string

	AmountCents int64
	Currency    string

	SuccessURL string
	CancelURL  string
}

type CheckoutSession struct {
	ProviderRef string
	RedirectURL string
}

// PaymentResult is the normalized outcome of one provider-side checkout.
// Reconciliation never sees provider-specific field names; each adapter
// converts immediately at this boundary.
type PaymentResult struct {
	Paid bool

	UserID   uint64
	CourseID uint64

	AmountCents int64
	Currency    string

	SessionID       string
	PaymentIntentID string
	OrderID         string
	CaptureID       string
}

// Notification is one verified asynchronous provider event. Result is nil when
// the event type carries no payment outcome. NeedsCapture marks events that
// only approve an order; the caller must run the capture step to reach a
// terminal result.
type Notification struct {
	EventID   string
	EventType string
	Payload   []byte

	Result       *PaymentResult
	NeedsCapture bool
}

type Provider interface {
	Name() string
	CreateCheckout(ctx context.Context, input *CheckoutInput) (*CheckoutSession, error)
	RetrieveCheckout(ctx context.Context, providerRef string) (*PaymentResult, error)
	CaptureOrder(ctx context.Context, orderID string) (*PaymentResult, error)
	VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) (*Notification, error)
	RetrieveEvent(ctx context.Context, eventID string) (*Notification, error)
}
