package entity

import "time"

const (
	PurchaseSourceStripe = "stripe"
	PurchaseSourcePayPal = "paypal"
	PurchaseSourceManual = "manual"
)

// Purchase is the durable record that a user is entitled to one paid course.
// At most one row exists per (UserID, CourseID); the reconciliation write path
// relies on the unique key in the purchases table to hold that invariant under
// concurrent webhook delivery.
type Purchase struct {
	ID uint64

	UserID   uint64
	CourseID uint64

	Source string

	StripeSessionID       *string
	StripePaymentIntentID *string
	PayPalOrderID         *string
	PayPalCaptureID       *string

	AmountCents int64
	Currency    string

	CreatedAt time.Time
}
