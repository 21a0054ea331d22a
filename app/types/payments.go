package types

import (
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/opencourse/ms-go-course-payments/app/provider"
)

const HeaderUserID = "X-User-ID"

// ErrUnauthenticated marks requests missing the user identity the upstream
// gateway injects after session validation.
var ErrUnauthenticated = errors.New("x-user-id header is required")

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type CheckoutResponse struct {
	URL string `json:"url"`
}

type PurchaseStatusResponse struct {
	Purchased bool `json:"purchased"`
}

type PurchaseResponse struct {
	ID          uint64 `json:"id"`
	UserID      uint64 `json:"userId"`
	CourseID    uint64 `json:"courseId"`
	Source      string `json:"source"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	CreatedAt   string `json:"createdAt"`
}

type ListPurchasesResponse struct {
	Purchases []*PurchaseResponse `json:"purchases"`
}

type WebhookEventResponse struct {
	EventID      string `json:"eventId"`
	Provider     string `json:"provider"`
	EventType    string `json:"eventType"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

type ListWebhookEventsResponse struct {
	Events []*WebhookEventResponse `json:"events"`
}

type RetryWebhookEventResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type CheckoutRequest struct {
	UserID   uint64
	CourseID uint64
	Provider string
}

func NewCheckoutRequestFromContext(ctx echo.Context) (*CheckoutRequest, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	courseID, err := courseIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	return &CheckoutRequest{
		UserID:   userID,
		CourseID: courseID,
		Provider: strings.ToLower(strings.TrimSpace(ctx.QueryParam("provider"))),
	}, nil
}

func (r *CheckoutRequest) Validate() error {
	if r.Provider != provider.NameStripe && r.Provider != provider.NamePayPal {
		return errors.New("provider must be stripe or paypal")
	}
	return nil
}

type VerifyStripePurchaseRequest struct {
	UserID    uint64
	CourseID  uint64
	SessionID string `json:"sessionId"`
}

func NewVerifyStripePurchaseRequestFromContext(ctx echo.Context) (*VerifyStripePurchaseRequest, error) {
	var body VerifyStripePurchaseRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	courseID, err := courseIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	body.UserID = userID
	body.CourseID = courseID
	body.SessionID = strings.TrimSpace(body.SessionID)

	return &body, nil
}

func (r *VerifyStripePurchaseRequest) Validate() error {
	if r.SessionID == "" {
		return errors.New("sessionId is required")
	}
	return nil
}

type VerifyPayPalPurchaseRequest struct {
	UserID   uint64
	CourseID uint64
	OrderID  string `json:"orderId"`
}

func NewVerifyPayPalPurchaseRequestFromContext(ctx echo.Context) (*VerifyPayPalPurchaseRequest, error) {
	var body VerifyPayPalPurchaseRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	courseID, err := courseIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	body.UserID = userID
	body.CourseID = courseID
	body.OrderID = strings.TrimSpace(body.OrderID)

	return &body, nil
}

func (r *VerifyPayPalPurchaseRequest) Validate() error {
	if r.OrderID == "" {
		return errors.New("orderId is required")
	}
	return nil
}

type PurchaseStatusRequest struct {
	UserID   uint64
	CourseID uint64
}

func NewPurchaseStatusRequestFromContext(ctx echo.Context) (*PurchaseStatusRequest, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	courseID, err := courseIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	return &PurchaseStatusRequest{UserID: userID, CourseID: courseID}, nil
}

type UserScopedRequest struct {
	UserID uint64
}

func NewUserScopedRequestFromContext(ctx echo.Context) (*UserScopedRequest, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return &UserScopedRequest{UserID: userID}, nil
}

type ListWebhookEventsRequest struct {
	Status string
	Limit  int32
	Offset int32
}

func NewListWebhookEventsRequestFromContext(ctx echo.Context) (*ListWebhookEventsRequest, error) {
	req := &ListWebhookEventsRequest{
		Status: strings.ToLower(strings.TrimSpace(ctx.QueryParam("status"))),
		Limit:  100,
		Offset: 0,
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}
	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListWebhookEventsRequest) Validate() error {
	if r.Limit <= 0 || r.Limit > 500 {
		return errors.New("limit must be between 1 and 500")
	}
	if r.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	return nil
}

type RetryWebhookEventRequest struct {
	EventID string
}

func NewRetryWebhookEventRequestFromContext(ctx echo.Context) (*RetryWebhookEventRequest, error) {
	return &RetryWebhookEventRequest{EventID: strings.TrimSpace(ctx.Param("eventId"))}, nil
}

func (r *RetryWebhookEventRequest) Validate() error {
	if r.EventID == "" {
		return errors.New("eventId is required")
	}
	return nil
}

func userIDFromContext(ctx echo.Context) (uint64, error) {
	raw := strings.TrimSpace(ctx.Request().Header.Get(HeaderUserID))
	if raw == "" {
		return 0, ErrUnauthenticated
	}
	userID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || userID == 0 {
		return 0, ErrUnauthenticated
	}
	return userID, nil
}

func courseIDFromContext(ctx echo.Context) (uint64, error) {
	courseID, err := strconv.ParseUint(strings.TrimSpace(ctx.Param("courseId")), 10, 64)
	if err != nil || courseID == 0 {
		return 0, errors.New("invalid course id")
	}
	return courseID, nil
}
