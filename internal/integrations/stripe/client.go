package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"voice-checkout/internal/domain"
	"voice-checkout/internal/usecase"
)

const expandLatestCharge = "latest_charge"

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client is the payment processor and product catalog backed by the Stripe API.
type Client struct {
	getter     Getter
	keyName    string
	backendURL string
	httpClient *http.Client
	log        *slog.Logger

	// mu guards api, which is set only once a key was fetched successfully.
	mu  sync.Mutex
	api *client.API
}

type Option func(*Client)

// WithBackendURL points the client at a Stripe-compatible server instead of api.stripe.com.
func WithBackendURL(url string) Option {
	return func(c *Client) {
		c.backendURL = strings.TrimRight(strings.TrimSpace(url), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// NewClient creates a Client whose secret key is read through getter under
// keyName on first successful use and reused for the lifetime of the process.
// A failed lookup is retried on the next call.
func NewClient(getter Getter, keyName string, opts ...Option) (*Client, error) {
	if getter == nil {
		return nil, errors.New("stripe: key getter must not be nil")
	}
	keyName = strings.TrimSpace(keyName)
	if keyName == "" {
		return nil, errors.New("stripe: key name must not be empty")
	}
	c := &Client{
		getter:     getter,
		keyName:    keyName,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolveAPI(ctx context.Context) (*client.API, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}
	key, err := fetchSecretKey(ctx, c.getter, c.keyName)
	if err != nil {
		return nil, err
	}
	// Retries are left to the dialogue layer.
	cfg := &stripeapi.BackendConfig{
		HTTPClient:        c.httpClient,
		MaxNetworkRetries: stripeapi.Int64(0),
		LeveledLogger:     &leveledLogger{log: c.log},
	}
	if c.backendURL != "" {
		cfg.URL = stripeapi.String(c.backendURL)
	}
	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, cfg)
	c.api = client.New(key, &stripeapi.Backends{API: backend, Connect: backend, Uploads: backend})
	return c.api, nil
}

func (c *Client) CreateIntent(ctx context.Context, amount int64, currency string, methodTypes []string) (string, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}
	params := &stripeapi.PaymentIntentParams{
		Amount:             stripeapi.Int64(amount),
		Currency:           stripeapi.String(currency),
		PaymentMethodTypes: stripeapi.StringSlice(methodTypes),
	}
	params.Context = ctx
	pi, err := api.PaymentIntents.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return pi.ID, nil
}

func (c *Client) CreatePaymentMethod(ctx context.Context, card domain.CardInput) (string, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}
	params := &stripeapi.PaymentMethodParams{
		Type: stripeapi.String(string(stripeapi.PaymentMethodTypeCard)),
		Card: &stripeapi.PaymentMethodCardParams{
			Number:   stripeapi.String(card.Number),
			ExpMonth: stripeapi.Int64(card.ExpMonth),
			ExpYear:  stripeapi.Int64(card.ExpYear),
			CVC:      stripeapi.String(card.CVC),
		},
	}
	params.Context = ctx
	pm, err := api.PaymentMethods.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create payment method: %w", err)
	}
	return pm.ID, nil
}

// ConfirmIntent confirms with the payment method and returns the intent with
// its latest charge expanded.
func (c *Client) ConfirmIntent(ctx context.Context, intentID, paymentMethodID string) (domain.Intent, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return domain.Intent{}, err
	}
	params := &stripeapi.PaymentIntentConfirmParams{
		PaymentMethod: stripeapi.String(paymentMethodID),
	}
	params.Context = ctx
	params.AddExpand(expandLatestCharge)
	pi, err := api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return domain.Intent{}, fmt.Errorf("stripe: confirm payment intent %q: %w", intentID, err)
	}
	return toIntent(pi), nil
}

func (c *Client) RetrieveIntent(ctx context.Context, intentID string) (domain.Intent, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return domain.Intent{}, err
	}
	params := &stripeapi.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand(expandLatestCharge)
	pi, err := api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return domain.Intent{}, fmt.Errorf("stripe: retrieve payment intent %q: %w", intentID, err)
	}
	return toIntent(pi), nil
}

func (c *Client) CancelIntent(ctx context.Context, intentID string) error {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return err
	}
	params := &stripeapi.PaymentIntentCancelParams{}
	params.Context = ctx
	if _, err := api.PaymentIntents.Cancel(intentID, params); err != nil {
		return fmt.Errorf("stripe: cancel payment intent %q: %w", intentID, err)
	}
	return nil
}

// GetProduct looks up a product and its first listed price.
func (c *Client) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	productParams := &stripeapi.ProductListParams{IDs: stripeapi.StringSlice([]string{productID})}
	productParams.Context = ctx
	products := api.Products.List(productParams)
	if !products.Next() {
		if err := products.Err(); err != nil {
			return domain.Product{}, fmt.Errorf("stripe: list products: %w", err)
		}
		return domain.Product{}, fmt.Errorf("stripe: product %q: %w", productID, usecase.ErrProductNotFound)
	}
	product := products.Product()

	priceParams := &stripeapi.PriceListParams{Product: stripeapi.String(productID)}
	priceParams.Context = ctx
	prices := api.Prices.List(priceParams)
	if !prices.Next() {
		if err := prices.Err(); err != nil {
			return domain.Product{}, fmt.Errorf("stripe: list prices: %w", err)
		}
		return domain.Product{}, fmt.Errorf("stripe: prices for product %q: %w", productID, usecase.ErrProductNotFound)
	}

	return domain.Product{
		ProductID:   productID,
		Description: product.Description,
		Price:       prices.Price().UnitAmount,
	}, nil
}

func toIntent(pi *stripeapi.PaymentIntent) domain.Intent {
	intent := domain.Intent{ID: pi.ID, Status: string(pi.Status)}
	if pi.LatestCharge != nil {
		intent.LatestChargeStatus = string(pi.LatestCharge.Status)
	}
	return intent
}

// secretPayload is the JSON shape used when the key is stored in SSM.
type secretPayload struct {
	Token string `json:"token"`
}

// fetchSecretKey accepts either a raw key or a {"token": "..."} JSON document.
func fetchSecretKey(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("stripe: fetch secret key: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var sp secretPayload
		if err := json.Unmarshal([]byte(raw), &sp); err != nil {
			return "", fmt.Errorf("stripe: unmarshal secret key value as JSON: %w", err)
		}
		raw = strings.TrimSpace(sp.Token)
	}
	if raw == "" {
		return "", errors.New("stripe: secret key is empty")
	}
	return raw, nil
}

// leveledLogger routes stripe-go's internal logging through slog.
type leveledLogger struct {
	log *slog.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, v...), "component", "stripe")
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...), "component", "stripe")
}

var (
	_ usecase.PaymentProcessor = (*Client)(nil)
	_ usecase.ProductCatalog   = (*Client)(nil)
)
