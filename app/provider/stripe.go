package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const NameStripe = "stripe"

type StripeConfig struct {
	SecretKey                 string
	WebhookSecret             string
	SignatureToleranceSeconds int64
	HTTPTimeout               time.Duration
}

type StripeProvider struct {
	cfg    StripeConfig
	client *http.Client
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	tolerance := cfg.SignatureToleranceSeconds
	if tolerance <= 0 {
		tolerance = 300
	}
	cfg.SignatureToleranceSeconds = tolerance

	return &StripeProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *StripeProvider) Name() string {
	return NameStripe
}

func (p *StripeProvider) CreateCheckout(ctx context.Context, input *CheckoutInput) (*CheckoutSession, error) {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, ErrNotConfigured
	}

	values := url.Values{}
	values.Set("mode", "payment")
	values.Set("line_items[0][quantity]", "1")
	values.Set("line_items[0][price_data][currency]", strings.ToLower(input.Currency))
	values.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(input.AmountCents, 10))
	values.Set("line_items[0][price_data][product_data][name]", courseProductName(input))
	values.Set("success_url", input.SuccessURL)
	values.Set("cancel_url", input.CancelURL)
	values.Set("metadata[courseId]", strconv.FormatUint(input.CourseID, 10))
	values.Set("metadata[userId]", strconv.FormatUint(input.UserID, 10))
	if email := strings.TrimSpace(input.CustomerEmail); email != "" {
		values.Set("customer_email", email)
	}

	body, err := p.postForm(ctx, "/v1/checkout/sessions", values)
	if err != nil {
		return nil, err
	}

	var payload struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	return &CheckoutSession{
		ProviderRef: strings.TrimSpace(payload.ID),
		RedirectURL: strings.TrimSpace(payload.URL),
	}, nil
}

func (p *StripeProvider) RetrieveCheckout(ctx context.Context, sessionID string) (*PaymentResult, error) {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, ErrNotConfigured
	}

	body, err := p.get(ctx, "/v1/checkout/sessions/"+url.PathEscape(strings.TrimSpace(sessionID)))
	if err != nil {
		return nil, err
	}

	var session stripeCheckoutSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, err
	}

	return session.toResult(), nil
}

func (p *StripeProvider) CaptureOrder(_ context.Context, _ string) (*PaymentResult, error) {
	// Stripe checkout sessions have no separate capture step.
	return nil, ErrNotSupported
}

func (p *StripeProvider) VerifyWebhook(_ context.Context, payload []byte, headers http.Header) (*Notification, error) {
	if strings.TrimSpace(p.cfg.WebhookSecret) == "" {
		return nil, ErrNotConfigured
	}
	signature := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if !verifyStripeSignature(payload, signature, p.cfg.WebhookSecret, p.cfg.SignatureToleranceSeconds) {
		return nil, ErrInvalidSignature
	}

	return parseStripeEvent(payload)
}

// RetrieveEvent fetches the canonical event from Stripe, used by the admin
// retry path so a correction on the provider side is picked up instead of the
// stored payload.
func (p *StripeProvider) RetrieveEvent(ctx context.Context, eventID string) (*Notification, error) {
	if strings.TrimSpace(p.cfg.SecretKey) == "" {
		return nil, ErrNotConfigured
	}

	body, err := p.get(ctx, "/v1/events/"+url.PathEscape(strings.TrimSpace(eventID)))
	if err != nil {
		return nil, err
	}

	return parseStripeEvent(body)
}

type stripeCheckoutSession struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	PaymentIntent interface{}       `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

func (s *stripeCheckoutSession) toResult() *PaymentResult {
	result := &PaymentResult{
		Paid:            s.PaymentStatus == "paid" || s.PaymentStatus == "no_payment_required",
		AmountCents:     s.AmountTotal,
		Currency:        strings.TrimSpace(s.Currency),
		SessionID:       strings.TrimSpace(s.ID),
		PaymentIntentID: parseStringish(s.PaymentIntent),
	}
	result.UserID = parseCorrelationID(s.Metadata, "userId")
	result.CourseID = parseCorrelationID(s.Metadata, "courseId")
	return result
}

func parseStripeEvent(payload []byte) (*Notification, error) {
	var event struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	notification := &Notification{
		EventID:   strings.TrimSpace(event.ID),
		EventType: strings.TrimSpace(event.Type),
		Payload:   payload,
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var session stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return nil, err
		}
		notification.Result = session.toResult()
	case "checkout.session.async_payment_failed", "checkout.session.expired":
		var session stripeCheckoutSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return nil, err
		}
		result := session.toResult()
		result.Paid = false
		notification.Result = result
	}

	return notification, nil
}

func (p *StripeProvider) postForm(ctx context.Context, path string, values url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.stripe.com"+path, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return p.do(req, path)
}

func (p *StripeProvider) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.stripe.com"+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.SecretKey)

	return p.do(req, path)
}

func (p *StripeProvider) do(req *http.Request, path string) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("stripe request failed: path=%s status=%d body=%s", path, resp.StatusCode, string(body))
	}

	return body, nil
}

func courseProductName(input *CheckoutInput) string {
	title := strings.TrimSpace(input.CourseTitle)
	if title == "" {
		return fmt.Sprintf("course-%d", input.CourseID)
	}
	return title
}

func parseCorrelationID(metadata map[string]string, key string) uint64 {
	raw := strings.TrimSpace(metadata[key])
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func verifyStripeSignature(payload []byte, signatureHeader string, webhookSecret string, toleranceSeconds int64) bool {
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" || strings.TrimSpace(webhookSecret) == "" {
		return false
	}

	parts := strings.Split(signatureHeader, ",")
	var ts string
	v1 := make([]string, 0, 1)
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "t=") {
			ts = strings.TrimSpace(strings.TrimPrefix(part, "t="))
		}
		if strings.HasPrefix(part, "v1=") {
			v1 = append(v1, strings.TrimSpace(strings.TrimPrefix(part, "v1=")))
		}
	}
	if ts == "" || len(v1) == 0 {
		return false
	}

	tsUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	now := time.Now().Unix()
	if now-tsUnix > toleranceSeconds || tsUnix-now > toleranceSeconds {
		return false
	}

	signedPayload := []byte(ts + "." + string(payload))
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	_, _ = mac.Write(signedPayload)
	expected := mac.Sum(nil)

	for _, sig := range v1 {
		candidate, err := hex.DecodeString(sig)
		if err != nil {
			continue
		}
		if hmac.Equal(candidate, expected) {
			return true
		}
	}

	return false
}

func parseStringish(v interface{}) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]interface{}:
		if raw, ok := t["id"]; ok {
			if s, ok := raw.(string); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
