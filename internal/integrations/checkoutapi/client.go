// Package checkoutapi is the HTTP client the conversation bridge uses to reach
// the checkout server.
package checkoutapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"voice-checkout/internal/domain"
)

const sessionNotFoundCode = "SESSION_NOT_FOUND"

// ErrSessionNotFound means the server has no payment for the conversation.
var ErrSessionNotFound = errors.New("checkoutapi: payment session not found")

// HTTPStatusError captures non-2xx responses from the checkout server.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Code       string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("checkoutapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type Client struct {
	http *resty.Client
}

type Option func(*resty.Client)

func WithTimeout(d time.Duration) Option {
	return func(c *resty.Client) {
		if d > 0 {
			c.SetTimeout(d)
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *resty.Client) {
		if httpClient != nil {
			c.SetTransport(httpClient.Transport)
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("checkoutapi: base url must not be empty")
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetError(&apiError{})
	for _, opt := range opts {
		opt(rc)
	}
	return &Client{http: rc}, nil
}

// Health returns nil only when the server answers GET /health with 200.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("checkoutapi: health: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return statusError(resp)
	}
	return nil
}

func (c *Client) ProductInfo(ctx context.Context, productID string) (domain.Product, error) {
	var out domain.Product
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("productId", productID).
		SetResult(&out).
		Get("/api/product_info/{productId}")
	if err := checkResponse(resp, err, "product info"); err != nil {
		return domain.Product{}, err
	}
	return out, nil
}

func (c *Client) ShippingInfo(ctx context.Context, address domain.AddressData) (domain.ShippingInfo, error) {
	var out domain.ShippingInfo
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"address_data": address}).
		SetResult(&out).
		Post("/api/shipping_info")
	if err := checkResponse(resp, err, "shipping info"); err != nil {
		return domain.ShippingInfo{}, err
	}
	return out, nil
}

func (c *Client) PublishableKey(ctx context.Context) (string, error) {
	var out struct {
		Key string `json:"key"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/stripe_publishable_key")
	if err := checkResponse(resp, err, "publishable key"); err != nil {
		return "", err
	}
	return out.Key, nil
}

// InitPayment returns the created intent id.
func (c *Client) InitPayment(ctx context.Context, conversationID string, amount int64) (string, error) {
	var out struct {
		PaymentIntentID string `json:"payment_intent_id"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("conversationId", conversationID).
		SetBody(map[string]any{"amount": amount}).
		SetResult(&out).
		Post("/api/init_payment/{conversationId}")
	if err := checkResponse(resp, err, "init payment"); err != nil {
		return "", err
	}
	return out.PaymentIntentID, nil
}

// ConfirmPayment reports the charge outcome. ErrSessionNotFound is returned
// when the conversation was never initialized.
func (c *Client) ConfirmPayment(ctx context.Context, conversationID string, card domain.CardInput) (bool, error) {
	var out struct {
		Success bool `json:"success"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("conversationId", conversationID).
		SetBody(map[string]any{"card": card}).
		SetResult(&out).
		Post("/api/confirm_payment/{conversationId}")
	if err := checkResponse(resp, err, "confirm payment"); err != nil {
		return false, err
	}
	return out.Success, nil
}

func (c *Client) FinalizeConversation(ctx context.Context, conversationID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("conversationId", conversationID).
		SetBody(map[string]any{}).
		Post("/api/finalize_conversation/{conversationId}")
	return checkResponse(resp, err, "finalize conversation")
}

func checkResponse(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("checkoutapi: %s: %w", op, err)
	}
	if resp.IsError() {
		return statusError(resp)
	}
	return nil
}

func statusError(resp *resty.Response) error {
	statusErr := &HTTPStatusError{
		StatusCode: resp.StatusCode(),
		URL:        resp.Request.URL,
		Body:       resp.String(),
	}
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr != nil {
		statusErr.Code = apiErr.Error
	}
	if statusErr.Code == sessionNotFoundCode {
		return fmt.Errorf("%w: %w", ErrSessionNotFound, statusErr)
	}
	return statusErr
}
