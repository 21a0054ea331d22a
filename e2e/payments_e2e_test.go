//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/opencourse/ms-go-course-payments/app/types"
)

const defaultPaymentsHTTPBase = "http://localhost:48080"

type httpClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPClient(baseURL string) *httpClient {
	return &httpClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type requestOptions struct {
	userID      string
	adminAPIKey string
}

func (c *httpClient) doJSON(t *testing.T, method, path string, body any, opts requestOptions) (*http.Response, []byte) {
	t.Helper()

	var reqBody *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("json marshal failed: %v", err)
		}
		reqBody = bytes.NewReader(data)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		t.Fatalf("new request failed: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", fmt.Sprintf("e2e-http-%d", time.Now().UnixNano()))
	if opts.userID != "" {
		req.Header.Set(types.HeaderUserID, opts.userID)
	}
	if opts.adminAPIKey != "" {
		req.Header.Set("X-Admin-Key", opts.adminAPIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("http request failed: %v", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}

	return resp, bodyBytes
}

func waitForHTTP(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("http service not ready at %s", baseURL)
}

func adminAPIKey() string {
	if key := os.Getenv("PAYMENTS_ADMIN_API_KEY"); key != "" {
		return key
	}
	return "e2e-admin-key"
}

func TestCoursePaymentsE2E(t *testing.T) {
	httpBase := os.Getenv("PAYMENTS_HTTP_URL")
	if httpBase == "" {
		httpBase = defaultPaymentsHTTPBase
	}

	if err := waitForHTTP(httpBase, 30*time.Second); err != nil {
		t.Fatalf("http not ready: %v", err)
	}

	client := newHTTPClient(httpBase)

	t.Run("Health", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodGet, "/health", nil, requestOptions{})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("CheckoutRequiresUserHeader", func(t *testing.T) {
		resp, _ := client.doJSON(t, http.MethodPost, "/courses/1/checkout?provider=stripe", nil, requestOptions{})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for missing x-user-id, got %d", resp.StatusCode)
		}
	})

	t.Run("CheckoutRejectsUnknownProvider", func(t *testing.T) {
		resp, _ := client.doJSON(t, http.MethodPost, "/courses/1/checkout?provider=venmo", nil, requestOptions{userID: "1"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for unknown provider, got %d", resp.StatusCode)
		}
	})

	t.Run("CheckoutUnknownCourse", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/courses/999999/checkout?provider=stripe", nil, requestOptions{userID: "1"})
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("VerifyStripeValidation", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/courses/1/purchase/verify", map[string]any{}, requestOptions{userID: "1"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for missing sessionId, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("VerifyPayPalValidation", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/courses/1/paypal/verify", map[string]any{}, requestOptions{userID: "1"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for missing orderId, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("WebhookRejectsUnsignedPayload", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/payments/webhook/stripe", map[string]any{"id": "evt_e2e"}, requestOptions{})
		if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusNotImplemented {
			t.Fatalf("expected 400 or 501 for unsigned webhook, got %d body=%s", resp.StatusCode, string(body))
		}
	})

	t.Run("WebhookRejectsUnknownProvider", func(t *testing.T) {
		resp, _ := client.doJSON(t, http.MethodPost, "/payments/webhook/venmo", map[string]any{}, requestOptions{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("expected 400 for unknown provider, got %d", resp.StatusCode)
		}
	})

	t.Run("PurchaseStatus", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodGet, "/payments/courses/1/purchase/status", nil, requestOptions{userID: "1"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}
		var payload types.PurchaseStatusResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal purchase status failed: %v body=%s", err, string(body))
		}
	})

	t.Run("ListPurchases", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodGet, "/payments/purchases", nil, requestOptions{userID: "1"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}
		var payload types.ListPurchasesResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal list purchases failed: %v body=%s", err, string(body))
		}
	})

	t.Run("AdminRequiresAPIKey", func(t *testing.T) {
		resp, _ := client.doJSON(t, http.MethodGet, "/admin/payments/webhook-events", nil, requestOptions{})
		if resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusNotImplemented {
			t.Fatalf("expected 401 or 501 without admin key, got %d", resp.StatusCode)
		}
	})

	t.Run("AdminListWebhookEvents", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodGet, "/admin/payments/webhook-events?limit=10", nil, requestOptions{adminAPIKey: adminAPIKey()})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d body=%s", resp.StatusCode, string(body))
		}
		var payload types.ListWebhookEventsResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal list webhook events failed: %v body=%s", err, string(body))
		}
	})

	t.Run("AdminRetryUnknownEvent", func(t *testing.T) {
		resp, body := client.doJSON(t, http.MethodPost, "/admin/payments/webhook-events/evt-does-not-exist/retry", nil, requestOptions{adminAPIKey: adminAPIKey()})
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404, got %d body=%s", resp.StatusCode, string(body))
		}
	})
}
