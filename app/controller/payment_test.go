package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/opencourse/ms-go-course-payments/app/entity"
	"github.com/opencourse/ms-go-course-payments/app/provider"
	"github.com/opencourse/ms-go-course-payments/app/service"
	"github.com/opencourse/ms-go-course-payments/app/types"
)

type fakeCourseStore struct {
	courses map[uint64]*entity.Course
}

func (s *fakeCourseStore) FindByID(_ context.Context, id uint64) (*entity.Course, error) {
	return s.courses[id], nil
}

type fakeUserStore struct {
	users map[uint64]*entity.User
}

func (s *fakeUserStore) FindByID(_ context.Context, id uint64) (*entity.User, error) {
	return s.users[id], nil
}

type fakeStore struct {
	purchases []*entity.Purchase
	events    map[string]*entity.WebhookEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: map[string]*entity.WebhookEvent{}}
}

func (s *fakeStore) FindByUserAndCourse(_ context.Context, userID, courseID uint64) (*entity.Purchase, error) {
	for _, item := range s.purchases {
		if item.UserID == userID && item.CourseID == courseID {
			return item, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListByUser(_ context.Context, userID uint64) ([]*entity.Purchase, error) {
	items := make([]*entity.Purchase, 0)
	for _, item := range s.purchases {
		if item.UserID == userID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *fakeStore) FindByEventID(_ context.Context, providerName, eventID string) (*entity.WebhookEvent, error) {
	return s.events[providerName+"/"+eventID], nil
}

func (s *fakeStore) FindAnyByEventID(_ context.Context, eventID string) (*entity.WebhookEvent, error) {
	for _, event := range s.events {
		if event.EventID == eventID {
			return event, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListByStatus(_ context.Context, status string, _, _ int32) ([]*entity.WebhookEvent, error) {
	items := make([]*entity.WebhookEvent, 0)
	for _, event := range s.events {
		if status == "" || event.Status == status {
			items = append(items, event)
		}
	}
	return items, nil
}

func (s *fakeStore) CommitProcessed(_ context.Context, purchase *entity.Purchase, event *entity.WebhookEvent) error {
	if purchase != nil {
		s.purchases = append(s.purchases, purchase)
	}
	event.Status = entity.WebhookEventStatusProcessed
	event.ErrorMessage = nil
	event.ErrorStack = nil
	s.events[event.Provider+"/"+event.EventID] = event
	return nil
}

func (s *fakeStore) CommitFailed(_ context.Context, event *entity.WebhookEvent) error {
	event.Status = entity.WebhookEventStatusFailed
	s.events[event.Provider+"/"+event.EventID] = event
	return nil
}

func (s *fakeStore) CreatePurchase(_ context.Context, purchase *entity.Purchase) error {
	s.purchases = append(s.purchases, purchase)
	return nil
}

type fakeProvider struct {
	name string

	session   *provider.CheckoutSession
	createErr error

	retrieveResult *provider.PaymentResult
	retrieveErr    error

	captureResult *provider.PaymentResult
	captureErr    error

	notification *provider.Notification
	verifyErr    error

	eventNotification *provider.Notification
	eventErr          error
}

func (p *fakeProvider) Name() string {
	if p.name == "" {
		return provider.NameStripe
	}
	return p.name
}

func (p *fakeProvider) CreateCheckout(_ context.Context, _ *provider.CheckoutInput) (*provider.CheckoutSession, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	return p.session, nil
}

func (p *fakeProvider) RetrieveCheckout(_ context.Context, _ string) (*provider.PaymentResult, error) {
	if p.retrieveErr != nil {
		return nil, p.retrieveErr
	}
	return p.retrieveResult, nil
}

func (p *fakeProvider) CaptureOrder(_ context.Context, _ string) (*provider.PaymentResult, error) {
	if p.captureErr != nil {
		return nil, p.captureErr
	}
	return p.captureResult, nil
}

func (p *fakeProvider) VerifyWebhook(_ context.Context, _ []byte, _ http.Header) (*provider.Notification, error) {
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	return p.notification, nil
}

func (p *fakeProvider) RetrieveEvent(_ context.Context, _ string) (*provider.Notification, error) {
	if p.eventErr != nil {
		return nil, p.eventErr
	}
	return p.eventNotification, nil
}

func newTestPaymentService(store *fakeStore, providers ...provider.Provider) *service.PaymentService {
	currency := "EUR"
	price := int64(999)
	courses := &fakeCourseStore{courses: map[uint64]*entity.Course{
		42: {ID: 42, Title: "Go in Practice", IsPaid: true, Currency: &currency, PriceCents: &price},
	}}
	users := &fakeUserStore{users: map[uint64]*entity.User{7: {ID: 7, Email: "learner@example.com"}}}
	return service.NewPaymentService(courses, users, store, store, store, provider.NewRegistry(providers...), "https://learn.example.com")
}

func serveRequest(handler echo.HandlerFunc, req *http.Request, pathParams map[string]string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ctx := echo.New().NewContext(req, rec)

	names := make([]string, 0, len(pathParams))
	values := make([]string, 0, len(pathParams))
	for name, value := range pathParams {
		names = append(names, name)
		values = append(values, value)
	}
	ctx.SetParamNames(names...)
	ctx.SetParamValues(values...)

	if err := handler(ctx); err != nil {
		ctx.Echo().HTTPErrorHandler(err, ctx)
	}

	return rec
}

func TestHealth(t *testing.T) {
	controller := NewPaymentController(newTestPaymentService(newFakeStore(), &fakeProvider{}))

	rec := serveRequest(controller.Health, httptest.NewRequest(http.MethodGet, "/health", nil), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var response types.HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if response.Status != "ok" {
		t.Fatalf("unexpected status: %q", response.Status)
	}
}

func TestStartCheckoutReturnsRedirectURL(t *testing.T) {
	stripe := &fakeProvider{session: &provider.CheckoutSession{ProviderRef: "cs_1", RedirectURL: "https://pay.example.com/cs_1"}}
	controller := NewPaymentController(newTestPaymentService(newFakeStore(), stripe))

	req := httptest.NewRequest(http.MethodPost, "/courses/42/checkout?provider=stripe", nil)
	req.Header.Set(types.HeaderUserID, "7")

	rec := serveRequest(controller.StartCheckout, req, map[string]string{"courseId": "42"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var response types.CheckoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if response.URL != "https://pay.example.com/cs_1" {
		t.Fatalf("unexpected url: %q", response.URL)
	}
}

func TestStartCheckoutStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		providerUp *fakeProvider
		userHeader string
		courseID   string
		query      string
		expected   int
	}{
		{"missing user header", &fakeProvider{}, "", "42", "provider=stripe", http.StatusUnauthorized},
		{"unknown provider", &fakeProvider{}, "7", "42", "provider=venmo", http.StatusBadRequest},
		{"unknown course", &fakeProvider{}, "7", "999", "provider=stripe", http.StatusNotFound},
		{"unconfigured provider", &fakeProvider{createErr: provider.ErrNotConfigured}, "7", "42", "provider=stripe", http.StatusNotImplemented},
		{"missing redirect url", &fakeProvider{session: &provider.CheckoutSession{}}, "7", "42", "provider=stripe", http.StatusBadRequest},
	}

	for _, c := range cases {
		controller := NewPaymentController(newTestPaymentService(newFakeStore(), c.providerUp))

		req := httptest.NewRequest(http.MethodPost, "/courses/"+c.courseID+"/checkout?"+c.query, nil)
		if c.userHeader != "" {
			req.Header.Set(types.HeaderUserID, c.userHeader)
		}

		rec := serveRequest(controller.StartCheckout, req, map[string]string{"courseId": c.courseID})
		if rec.Code != c.expected {
			t.Errorf("%s: expected %d, got %d: %s", c.name, c.expected, rec.Code, rec.Body.String())
		}
	}
}

func TestStartCheckoutAlreadyPurchasedIsForbidden(t *testing.T) {
	store := newFakeStore()
	store.purchases = append(store.purchases, &entity.Purchase{ID: 1, UserID: 7, CourseID: 42})
	controller := NewPaymentController(newTestPaymentService(store, &fakeProvider{}))

	req := httptest.NewRequest(http.MethodPost, "/courses/42/checkout?provider=stripe", nil)
	req.Header.Set(types.HeaderUserID, "7")

	rec := serveRequest(controller.StartCheckout, req, map[string]string{"courseId": "42"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func webhookNotification(eventID string) *provider.Notification {
	return &provider.Notification{
		EventID:   eventID,
		EventType: "checkout.session.completed",
		Payload:   []byte(`{"id":"` + eventID + `"}`),
		Result: &provider.PaymentResult{
			Paid:        true,
			UserID:      7,
			CourseID:    42,
			AmountCents: 999,
			Currency:    "eur",
			SessionID:   "cs_1",
		},
	}
}

func TestHandleWebhookAcknowledgesProcessedEvent(t *testing.T) {
	store := newFakeStore()
	stripe := &fakeProvider{notification: webhookNotification("evt_1")}
	controller := NewPaymentController(newTestPaymentService(store, stripe))

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", strings.NewReader(`{}`))

	rec := serveRequest(controller.HandleWebhook, req, map[string]string{"provider": "stripe"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.purchases) != 1 {
		t.Fatalf("expected one purchase, got %d", len(store.purchases))
	}
}

func TestHandleWebhookStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		providerUp *fakeProvider
		target     string
		expected   int
	}{
		{"invalid signature", &fakeProvider{verifyErr: provider.ErrInvalidSignature}, "stripe", http.StatusBadRequest},
		{"unknown provider", &fakeProvider{}, "venmo", http.StatusBadRequest},
		{"unconfigured provider", &fakeProvider{verifyErr: provider.ErrNotConfigured}, "stripe", http.StatusNotImplemented},
	}

	for _, c := range cases {
		controller := NewPaymentController(newTestPaymentService(newFakeStore(), c.providerUp))

		req := httptest.NewRequest(http.MethodPost, "/payments/webhook/"+c.target, strings.NewReader(`{}`))

		rec := serveRequest(controller.HandleWebhook, req, map[string]string{"provider": c.target})
		if rec.Code != c.expected {
			t.Errorf("%s: expected %d, got %d: %s", c.name, c.expected, rec.Code, rec.Body.String())
		}
	}
}

func TestHandleWebhookUnpaidEventIsBadRequest(t *testing.T) {
	notification := webhookNotification("evt_2")
	notification.Result.Paid = false
	store := newFakeStore()
	controller := NewPaymentController(newTestPaymentService(store, &fakeProvider{notification: notification}))

	req := httptest.NewRequest(http.MethodPost, "/payments/webhook/stripe", strings.NewReader(`{}`))

	rec := serveRequest(controller.HandleWebhook, req, map[string]string{"provider": "stripe"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	event := store.events["stripe/evt_2"]
	if event == nil || event.Status != entity.WebhookEventStatusFailed {
		t.Fatalf("expected failed journal row, got %+v", event)
	}
}

func TestVerifyStripePurchase(t *testing.T) {
	cases := []struct {
		name       string
		providerUp *fakeProvider
		expected   int
	}{
		{"success", &fakeProvider{retrieveResult: &provider.PaymentResult{Paid: true, UserID: 7, CourseID: 42}}, http.StatusNoContent},
		{"not paid", &fakeProvider{retrieveResult: &provider.PaymentResult{Paid: false, UserID: 7, CourseID: 42}}, http.StatusForbidden},
		{"identity mismatch", &fakeProvider{retrieveResult: &provider.PaymentResult{Paid: true, UserID: 99, CourseID: 42}}, http.StatusForbidden},
		{"unconfigured", &fakeProvider{retrieveErr: provider.ErrNotConfigured}, http.StatusNotImplemented},
	}

	for _, c := range cases {
		controller := NewPaymentController(newTestPaymentService(newFakeStore(), c.providerUp))

		req := httptest.NewRequest(http.MethodPost, "/courses/42/purchase/verify", strings.NewReader(`{"sessionId":"cs_1"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(types.HeaderUserID, "7")

		rec := serveRequest(controller.VerifyStripePurchase, req, map[string]string{"courseId": "42"})
		if rec.Code != c.expected {
			t.Errorf("%s: expected %d, got %d: %s", c.name, c.expected, rec.Code, rec.Body.String())
		}
	}
}

func TestVerifyStripePurchaseRequiresSessionID(t *testing.T) {
	controller := NewPaymentController(newTestPaymentService(newFakeStore(), &fakeProvider{}))

	req := httptest.NewRequest(http.MethodPost, "/courses/42/purchase/verify", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(types.HeaderUserID, "7")

	rec := serveRequest(controller.VerifyStripePurchase, req, map[string]string{"courseId": "42"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestVerifyPayPalPurchase(t *testing.T) {
	paypal := &fakeProvider{
		name:          provider.NamePayPal,
		captureResult: &provider.PaymentResult{Paid: true, UserID: 7, CourseID: 42, OrderID: "ORD-1", CaptureID: "CAP-1"},
	}
	store := newFakeStore()
	controller := NewPaymentController(newTestPaymentService(store, paypal))

	req := httptest.NewRequest(http.MethodPost, "/courses/42/paypal/verify", strings.NewReader(`{"orderId":"ORD-1"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(types.HeaderUserID, "7")

	rec := serveRequest(controller.VerifyPayPalPurchase, req, map[string]string{"courseId": "42"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(store.purchases) != 1 {
		t.Fatalf("expected one purchase, got %d", len(store.purchases))
	}
}

func TestPurchaseStatus(t *testing.T) {
	store := newFakeStore()
	store.purchases = append(store.purchases, &entity.Purchase{ID: 1, UserID: 7, CourseID: 42})
	controller := NewPaymentController(newTestPaymentService(store, &fakeProvider{}))

	req := httptest.NewRequest(http.MethodGet, "/payments/courses/42/purchase/status", nil)
	req.Header.Set(types.HeaderUserID, "7")

	rec := serveRequest(controller.PurchaseStatus, req, map[string]string{"courseId": "42"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var response types.PurchaseStatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if !response.Purchased {
		t.Fatal("expected purchased=true")
	}

	req = httptest.NewRequest(http.MethodGet, "/payments/courses/42/purchase/status", nil)
	req.Header.Set(types.HeaderUserID, "8")

	rec = serveRequest(controller.PurchaseStatus, req, map[string]string{"courseId": "42"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if response.Purchased {
		t.Fatal("expected purchased=false for another user")
	}
}

func TestListPurchases(t *testing.T) {
	store := newFakeStore()
	store.purchases = append(store.purchases, &entity.Purchase{ID: 1, UserID: 7, CourseID: 42, Source: "stripe", AmountCents: 999, Currency: "eur"})
	controller := NewPaymentController(newTestPaymentService(store, &fakeProvider{}))

	req := httptest.NewRequest(http.MethodGet, "/payments/purchases", nil)
	req.Header.Set(types.HeaderUserID, "7")

	rec := serveRequest(controller.ListPurchases, req, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var response types.ListPurchasesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("unexpected body: %v", err)
	}
	if len(response.Purchases) != 1 {
		t.Fatalf("expected one purchase, got %d", len(response.Purchases))
	}
	if response.Purchases[0].CourseID != 42 || response.Purchases[0].Source != "stripe" {
		t.Fatalf("unexpected purchase: %+v", response.Purchases[0])
	}
}

func TestListPurchasesRequiresUserHeader(t *testing.T) {
	controller := NewPaymentController(newTestPaymentService(newFakeStore(), &fakeProvider{}))

	rec := serveRequest(controller.ListPurchases, httptest.NewRequest(http.MethodGet, "/payments/purchases", nil), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
