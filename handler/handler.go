// Package handler exposes the checkout API as an API Gateway proxy handler.
// The same routing serves plain net/http through ServeHTTP.
package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"voice-checkout/internal/domain"
	"voice-checkout/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20
	errorNotFound     = "NOT_FOUND"
)

type PaymentUseCase interface {
	InitPayment(ctx context.Context, conversationID string, amount int64) (string, bool)
	ConfirmPayment(ctx context.Context, conversationID string, card domain.CardInput) (bool, error)
	FinalizeConversation(ctx context.Context, conversationID string) usecase.FinalizeOutput
}

type CatalogUseCase interface {
	ProductInfo(ctx context.Context, productID string) (domain.Product, error)
	ShippingInfo(ctx context.Context, address domain.AddressData) (domain.ShippingInfo, error)
	PublishableKey() string
}

type Handler struct {
	payments PaymentUseCase
	catalog  CatalogUseCase
	validate *validator.Validate
	log      *slog.Logger
}

type initPaymentRequest struct {
	Amount *int64 `json:"amount" validate:"required,min=0"`
}

type initPaymentResponse struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

type confirmPaymentRequest struct {
	Card *domain.CardInput `json:"card" validate:"required"`
}

type confirmPaymentResponse struct {
	Success bool `json:"success"`
}

type finalizeResponse struct {
	Finalized bool `json:"finalized"`
	Canceled  bool `json:"canceled"`
}

type shippingInfoRequest struct {
	AddressData *domain.AddressData `json:"address_data" validate:"required"`
}

type publishableKeyResponse struct {
	Key string `json:"key"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func NewHandler(p PaymentUseCase, c CatalogUseCase, log *slog.Logger) (*Handler, error) {
	if p == nil {
		return nil, errors.New("handler: payment use case must not be nil")
	}
	if c == nil {
		return nil, errors.New("handler: catalog use case must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{payments: p, catalog: c, validate: validator.New(), log: log}, nil
}

// Handle routes one API Gateway proxy request. It never returns an error;
// failures are encoded in the response.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	log := h.log.With("correlation_id", correlationID, "method", req.HTTPMethod, "path", req.Path)

	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return h.finish(log, correlationID, errorResult(http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid base64 body")), nil
		}
		body = decoded
	}

	res := h.route(ctx, req.HTTPMethod, req.Path, body)
	return h.finish(log, correlationID, res), nil
}

type result struct {
	status int
	body   any
	text   string
}

func (h *Handler) route(ctx context.Context, method, path string, body []byte) result {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	switch {
	case method == http.MethodGet && path == "/health":
		return result{status: http.StatusOK, text: "OK"}
	case method == http.MethodGet && len(segments) == 3 && segments[0] == "api" && segments[1] == "product_info":
		return h.productInfo(ctx, segments[2])
	case method == http.MethodPost && path == "/api/shipping_info":
		return h.shippingInfo(ctx, body)
	case method == http.MethodGet && path == "/api/stripe_publishable_key":
		return result{status: http.StatusOK, body: publishableKeyResponse{Key: h.catalog.PublishableKey()}}
	case method == http.MethodPost && len(segments) == 3 && segments[0] == "api":
		switch segments[1] {
		case "init_payment":
			return h.initPayment(ctx, segments[2], body)
		case "confirm_payment":
			return h.confirmPayment(ctx, segments[2], body)
		case "finalize_conversation":
			return h.finalize(ctx, segments[2])
		}
	}
	return errorResult(http.StatusNotFound, errorNotFound, "route not found")
}

func (h *Handler) productInfo(ctx context.Context, productID string) result {
	p, err := h.catalog.ProductInfo(ctx, productID)
	if err != nil {
		return useCaseErrorResult(err)
	}
	return result{status: http.StatusOK, body: p}
}

func (h *Handler) shippingInfo(ctx context.Context, body []byte) result {
	var in shippingInfoRequest
	if res, ok := h.decode(body, &in); !ok {
		return res
	}
	info, err := h.catalog.ShippingInfo(ctx, *in.AddressData)
	if err != nil {
		return useCaseErrorResult(err)
	}
	return result{status: http.StatusOK, body: info}
}

func (h *Handler) initPayment(ctx context.Context, conversationID string, body []byte) result {
	var in initPaymentRequest
	if res, ok := h.decode(body, &in); !ok {
		return res
	}
	intentID, ok := h.payments.InitPayment(ctx, conversationID, *in.Amount)
	if !ok {
		return errorResult(http.StatusBadRequest, usecase.ErrorPaymentNotStarted, "could not start payment")
	}
	return result{status: http.StatusOK, body: initPaymentResponse{PaymentIntentID: intentID}}
}

func (h *Handler) confirmPayment(ctx context.Context, conversationID string, body []byte) result {
	var in confirmPaymentRequest
	if res, ok := h.decode(body, &in); !ok {
		return res
	}
	success, err := h.payments.ConfirmPayment(ctx, conversationID, *in.Card)
	if err != nil {
		return useCaseErrorResult(err)
	}
	return result{status: http.StatusOK, body: confirmPaymentResponse{Success: success}}
}

func (h *Handler) finalize(ctx context.Context, conversationID string) result {
	out := h.payments.FinalizeConversation(ctx, conversationID)
	return result{status: http.StatusOK, body: finalizeResponse{Finalized: out.HadSession, Canceled: out.Canceled}}
}

// decode strictly unmarshals a JSON body and validates it.
func (h *Handler) decode(body []byte, dst any) (result, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errorResult(http.StatusBadRequest, usecase.ErrorInvalidInput, "invalid JSON body"), false
	}
	if err := h.validate.Struct(dst); err != nil {
		return errorResult(http.StatusBadRequest, usecase.ErrorInvalidInput, err.Error()), false
	}
	return result{}, true
}

func (h *Handler) finish(log *slog.Logger, correlationID string, res result) events.APIGatewayProxyResponse {
	headers := map[string]string{correlationHeader: correlationID}
	var body string
	if res.body != nil {
		buf, err := json.Marshal(res.body)
		if err != nil {
			log.Error("failed to encode response", "err", err)
			res = errorResult(http.StatusInternalServerError, usecase.ErrorInternal, "")
			buf, _ = json.Marshal(res.body)
		}
		headers["Content-Type"] = "application/json"
		body = string(buf)
	} else {
		headers["Content-Type"] = "text/plain; charset=utf-8"
		body = res.text
	}

	if res.status >= http.StatusInternalServerError {
		log.Error("request failed", "status", res.status)
	} else {
		log.Info("request handled", "status", res.status)
	}
	return events.APIGatewayProxyResponse{StatusCode: res.status, Headers: headers, Body: body}
}

func errorResult(status int, code usecase.ErrorCode, msg string) result {
	return result{status: status, body: errorResponse{Error: string(code), Message: msg}}
}

func useCaseErrorResult(err error) result {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		return errorResult(http.StatusInternalServerError, usecase.ErrorInternal, "")
	}
	switch ue.Code {
	case usecase.ErrorInvalidInput, usecase.ErrorSessionNotFound, usecase.ErrorPaymentNotStarted:
		return errorResult(http.StatusBadRequest, ue.Code, ue.Reason)
	case usecase.ErrorProductNotFound:
		return errorResult(http.StatusNotFound, ue.Code, ue.Reason)
	case usecase.ErrorUpstream:
		return errorResult(http.StatusBadGateway, ue.Code, ue.Reason)
	default:
		return errorResult(http.StatusInternalServerError, usecase.ErrorInternal, ue.Reason)
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// ServeHTTP adapts a net/http request to Handle for local runs.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	resp, _ := h.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod: r.Method,
		Path:       r.URL.Path,
		Headers:    headers,
		Body:       string(body),
	})
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}
