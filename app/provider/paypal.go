package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const NamePayPal = "paypal"

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Mode         string // sandbox or live
	WebhookID    string
	HTTPTimeout  time.Duration
}

type PayPalProvider struct {
	cfg    PayPalConfig
	client *http.Client

	tokenMu     sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPayPalProvider(cfg PayPalConfig) *PayPalProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &PayPalProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *PayPalProvider) Name() string {
	return NamePayPal
}

func (p *PayPalProvider) baseURL() string {
	if strings.EqualFold(strings.TrimSpace(p.cfg.Mode), "live") {
		return "https://api-m.paypal.com"
	}
	return "https://api-m.sandbox.paypal.com"
}

func (p *PayPalProvider) configured() bool {
	return strings.TrimSpace(p.cfg.ClientID) != "" && strings.TrimSpace(p.cfg.ClientSecret) != ""
}

type paypalCorrelation struct {
	CourseID uint64 `json:"courseId"`
	UserID   uint64 `json:"userId"`
}

func (p *PayPalProvider) CreateCheckout(ctx context.Context, input *CheckoutInput) (*CheckoutSession, error) {
	if !p.configured() {
		return nil, ErrNotConfigured
	}

	customID, err := json.Marshal(paypalCorrelation{CourseID: input.CourseID, UserID: input.UserID})
	if err != nil {
		return nil, err
	}

	request := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{
			{
				"custom_id":   string(customID),
				"description": courseProductName(input),
				"amount": map[string]string{
					"currency_code": strings.ToUpper(input.Currency),
					"value":         formatAmountCents(input.AmountCents),
				},
			},
		},
		"application_context": map[string]string{
			"return_url": input.SuccessURL,
			"cancel_url": input.CancelURL,
		},
	}

	body, err := p.postJSON(ctx, "/v2/checkout/orders", request, uuid.NewString())
	if err != nil {
		return nil, err
	}

	var order struct {
		ID    string `json:"id"`
		Links []struct {
			Rel  string `json:"rel"`
			Href string `json:"href"`
		} `json:"links"`
	}
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, err
	}

	session := &CheckoutSession{ProviderRef: strings.TrimSpace(order.ID)}
	for _, link := range order.Links {
		if strings.EqualFold(link.Rel, "approve") {
			session.RedirectURL = strings.TrimSpace(link.Href)
			break
		}
	}

	return session, nil
}

func (p *PayPalProvider) RetrieveCheckout(ctx context.Context, orderID string) (*PaymentResult, error) {
	if !p.configured() {
		return nil, ErrNotConfigured
	}

	body, err := p.get(ctx, "/v2/checkout/orders/"+url.PathEscape(strings.TrimSpace(orderID)))
	if err != nil {
		return nil, err
	}

	var order paypalOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, err
	}

	return order.toResult(), nil
}

// CaptureOrder runs the capture step for an approved order. An order that was
// already captured by a concurrent webhook delivery is not an error; the
// canonical order state is re-read instead.
func (p *PayPalProvider) CaptureOrder(ctx context.Context, orderID string) (*PaymentResult, error) {
	if !p.configured() {
		return nil, ErrNotConfigured
	}

	orderID = strings.TrimSpace(orderID)
	body, err := p.postJSON(ctx, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", map[string]interface{}{}, uuid.NewString())
	if err != nil {
		if isPayPalOrderAlreadyCaptured(err) {
			return p.RetrieveCheckout(ctx, orderID)
		}
		return nil, err
	}

	var order paypalOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, err
	}

	return order.toResult(), nil
}

func (p *PayPalProvider) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) (*Notification, error) {
	if !p.configured() || strings.TrimSpace(p.cfg.WebhookID) == "" {
		return nil, ErrNotConfigured
	}

	request := map[string]interface{}{
		"auth_algo":         headers.Get("Paypal-Auth-Algo"),
		"cert_url":          headers.Get("Paypal-Cert-Url"),
		"transmission_id":   headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        p.cfg.WebhookID,
		"webhook_event":     json.RawMessage(payload),
	}

	body, err := p.postJSON(ctx, "/v1/notifications/verify-webhook-signature", request, "")
	if err != nil {
		return nil, err
	}

	var verification struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.Unmarshal(body, &verification); err != nil {
		return nil, err
	}
	if verification.VerificationStatus != "SUCCESS" {
		return nil, ErrInvalidSignature
	}

	return parsePayPalEvent(payload)
}

func (p *PayPalProvider) RetrieveEvent(ctx context.Context, eventID string) (*Notification, error) {
	if !p.configured() {
		return nil, ErrNotConfigured
	}

	body, err := p.get(ctx, "/v1/notifications/webhooks-events/"+url.PathEscape(strings.TrimSpace(eventID)))
	if err != nil {
		return nil, err
	}

	return parsePayPalEvent(body)
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalCapture struct {
	ID       string       `json:"id"`
	Status   string       `json:"status"`
	CustomID string       `json:"custom_id"`
	Amount   paypalAmount `json:"amount"`

	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type paypalOrder struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		CustomID string       `json:"custom_id"`
		Amount   paypalAmount `json:"amount"`
		Payments struct {
			Captures []paypalCapture `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (o *paypalOrder) toResult() *PaymentResult {
	result := &PaymentResult{
		Paid:    o.Status == "COMPLETED",
		OrderID: strings.TrimSpace(o.ID),
	}

	if len(o.PurchaseUnits) == 0 {
		return result
	}
	unit := o.PurchaseUnits[0]

	customID := unit.CustomID
	result.AmountCents = parseAmountCents(unit.Amount.Value)
	result.Currency = strings.TrimSpace(unit.Amount.CurrencyCode)

	if len(unit.Payments.Captures) > 0 {
		capture := unit.Payments.Captures[0]
		result.CaptureID = strings.TrimSpace(capture.ID)
		if capture.CustomID != "" {
			customID = capture.CustomID
		}
		if capture.Amount.Value != "" {
			result.AmountCents = parseAmountCents(capture.Amount.Value)
			result.Currency = strings.TrimSpace(capture.Amount.CurrencyCode)
		}
	}

	result.UserID, result.CourseID = parsePayPalCorrelation(customID)
	return result
}

func (c *paypalCapture) toResult() *PaymentResult {
	result := &PaymentResult{
		Paid:        c.Status == "COMPLETED",
		OrderID:     strings.TrimSpace(c.SupplementaryData.RelatedIDs.OrderID),
		CaptureID:   strings.TrimSpace(c.ID),
		AmountCents: parseAmountCents(c.Amount.Value),
		Currency:    strings.TrimSpace(c.Amount.CurrencyCode),
	}
	result.UserID, result.CourseID = parsePayPalCorrelation(c.CustomID)
	return result
}

func parsePayPalEvent(payload []byte) (*Notification, error) {
	var event struct {
		ID        string          `json:"id"`
		EventType string          `json:"event_type"`
		Resource  json.RawMessage `json:"resource"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}

	notification := &Notification{
		EventID:   strings.TrimSpace(event.ID),
		EventType: strings.TrimSpace(event.EventType),
		Payload:   payload,
	}

	switch event.EventType {
	case "PAYMENT.CAPTURE.COMPLETED", "PAYMENT.CAPTURE.DENIED":
		var capture paypalCapture
		if err := json.Unmarshal(event.Resource, &capture); err != nil {
			return nil, err
		}
		result := capture.toResult()
		result.Paid = event.EventType == "PAYMENT.CAPTURE.COMPLETED"
		notification.Result = result
	case "CHECKOUT.ORDER.APPROVED":
		var order paypalOrder
		if err := json.Unmarshal(event.Resource, &order); err != nil {
			return nil, err
		}
		notification.Result = order.toResult()
		notification.NeedsCapture = true
	}

	return notification, nil
}

func parsePayPalCorrelation(customID string) (userID, courseID uint64) {
	customID = strings.TrimSpace(customID)
	if customID == "" {
		return 0, 0
	}
	var correlation paypalCorrelation
	if err := json.Unmarshal([]byte(customID), &correlation); err != nil {
		return 0, 0
	}
	return correlation.UserID, correlation.CourseID
}

func (p *PayPalProvider) token(ctx context.Context) (string, error) {
	p.tokenMu.Lock()
	defer p.tokenMu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("paypal token request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return "", err
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return "", fmt.Errorf("paypal token response missing access_token")
	}

	p.accessToken = token.AccessToken
	p.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)

	return p.accessToken, nil
}

func (p *PayPalProvider) postJSON(ctx context.Context, path string, payload interface{}, requestID string) ([]byte, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL()+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	return p.do(req, path)
}

func (p *PayPalProvider) get(ctx context.Context, path string) ([]byte, error) {
	token, err := p.token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL()+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return p.do(req, path)
}

type paypalAPIError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *paypalAPIError) Error() string {
	return fmt.Sprintf("paypal request failed: path=%s status=%d body=%s", e.Path, e.StatusCode, e.Body)
}

func (p *PayPalProvider) do(req *http.Request, path string) ([]byte, error) {
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
		return nil, &paypalAPIError{Path: path, StatusCode: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

func isPayPalOrderAlreadyCaptured(err error) bool {
	var apiErr *paypalAPIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 422 && strings.Contains(apiErr.Body, "ORDER_ALREADY_CAPTURED")
}

// formatAmountCents renders a cent amount as a PayPal decimal string.
func formatAmountCents(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

// parseAmountCents parses a PayPal decimal amount string into cents without
// going through floating point.
func parseAmountCents(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	whole := value
	frac := ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		whole = value[:idx]
		frac = value[idx+1:]
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0
	}

	switch len(frac) {
	case 0:
		return units * 100
	case 1:
		frac += "0"
	default:
		frac = frac[:2]
	}
	cents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return units * 100
	}

	return units*100 + cents
}
