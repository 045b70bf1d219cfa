package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"voice-checkout/internal/domain"
	"voice-checkout/internal/repository"
)

const defaultCallTimeout = 15 * time.Second

// PaymentProcessor is the remote payment processor contract.
type PaymentProcessor interface {
	CreateIntent(ctx context.Context, amount int64, currency string, methodTypes []string) (string, error)
	CreatePaymentMethod(ctx context.Context, card domain.CardInput) (string, error)
	ConfirmIntent(ctx context.Context, intentID, paymentMethodID string) (domain.Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (domain.Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
}

type SessionStore interface {
	Save(ctx context.Context, conversationID, paymentIntentID string) error
	// SaveIfAbsent fails with repository.ErrSessionExists when the conversation
	// already has a session.
	SaveIfAbsent(ctx context.Context, conversationID, paymentIntentID string) error
	Get(ctx context.Context, conversationID string) (string, error)
	Delete(ctx context.Context, conversationID string) error
}

// PaymentService drives one payment intent per conversation:
//
//	NO_INTENT --InitPayment--> INTENT_CREATED --ConfirmPayment--> CONFIRMED
//	INTENT_CREATED | CONFIRMED --FinalizeConversation--> TERMINATED
//
// Processor failures are logged and reported as false. Only a missing session
// is returned as an error, since it means the caller skipped InitPayment.
type PaymentService struct {
	processor   PaymentProcessor
	sessions    SessionStore
	validate    *validator.Validate
	callTimeout time.Duration
	log         *slog.Logger
}

type PaymentOption func(*PaymentService)

func WithLogger(l *slog.Logger) PaymentOption {
	return func(s *PaymentService) {
		if l != nil {
			s.log = l
		}
	}
}

// WithCallTimeout bounds every processor call. Non-positive values keep the default.
func WithCallTimeout(d time.Duration) PaymentOption {
	return func(s *PaymentService) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// FinalizeOutput reports what finalization did.
type FinalizeOutput struct {
	HadSession bool
	Canceled   bool
}

func NewPaymentService(p PaymentProcessor, sessions SessionStore, opts ...PaymentOption) (*PaymentService, error) {
	if p == nil {
		return nil, errors.New("usecase: payment processor must not be nil")
	}
	if sessions == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	s := &PaymentService{
		processor:   p,
		sessions:    sessions,
		validate:    validator.New(),
		callTimeout: defaultCallTimeout,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// InitPayment creates a card-only USD intent for amount (in cents) and binds it
// to the conversation. A conversation gets at most one intent: a second call
// fails without contacting the processor, and of two concurrent calls only one
// binds its intent while the other cancels its own.
func (s *PaymentService) InitPayment(ctx context.Context, conversationID string, amount int64) (string, bool) {
	conversationID = strings.TrimSpace(conversationID)
	log := s.log.With("conversation_id", conversationID, "amount", amount)
	if conversationID == "" || amount < 0 {
		log.Warn("rejecting payment init with invalid input")
		return "", false
	}

	existing, err := s.sessions.Get(ctx, conversationID)
	switch {
	case err == nil:
		log.Warn("payment already initialized for conversation", "payment_intent_id", existing)
		return "", false
	case !errors.Is(err, repository.ErrSessionNotFound):
		log.Error("failed to read payment session", "err", err)
		return "", false
	}

	log.Info("initiating payment intent")
	callCtx, cancel := s.withTimeout(ctx)
	intentID, err := s.processor.CreateIntent(callCtx, amount, domain.CurrencyUSD, []string{domain.PaymentMethodCard})
	cancel()
	if err != nil {
		log.Error("failed to create payment intent", "err", err)
		return "", false
	}

	if err := s.sessions.SaveIfAbsent(ctx, conversationID, intentID); err != nil {
		if errors.Is(err, repository.ErrSessionExists) {
			log.Warn("payment initialized concurrently for conversation", "payment_intent_id", intentID)
		} else {
			log.Error("failed to save payment session", "payment_intent_id", intentID, "err", err)
		}
		s.cancelIntent(ctx, log, intentID)
		return "", false
	}
	log.Info("created payment intent", "payment_intent_id", intentID)
	return intentID, true
}

// ConfirmPayment makes exactly one confirmation attempt with the given card and
// reports whether the latest charge succeeded.
func (s *PaymentService) ConfirmPayment(ctx context.Context, conversationID string, card domain.CardInput) (bool, error) {
	conversationID = strings.TrimSpace(conversationID)
	log := s.log.With("conversation_id", conversationID)
	intentID, err := s.sessions.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return false, newError(ErrorSessionNotFound, "payment_not_initialized", err)
		}
		return false, newError(ErrorInternal, "session_read_error", err)
	}
	if err := s.validate.Struct(card); err != nil {
		return false, newError(ErrorInvalidInput, "invalid_card", err)
	}
	log = log.With("payment_intent_id", intentID)
	log.Info("confirming payment")

	callCtx, cancel := s.withTimeout(ctx)
	methodID, err := s.processor.CreatePaymentMethod(callCtx, card)
	cancel()
	if err != nil {
		log.Error("failed to create payment method", "err", err)
		return false, nil
	}
	log.Info("created payment method", "payment_method_id", methodID)

	callCtx, cancel = s.withTimeout(ctx)
	intent, err := s.processor.ConfirmIntent(callCtx, intentID, methodID)
	cancel()
	if err != nil {
		log.Error("failed to confirm payment intent", "err", err)
		return false, nil
	}

	success := intent.Succeeded()
	log.Info("confirmation finished", "success", success, "charge_status", intent.LatestChargeStatus)
	return success, nil
}

// FinalizeConversation releases whatever the conversation still holds. It is
// safe to call any number of times and never fails: an intent without a
// succeeded charge is canceled and the session is always removed.
func (s *PaymentService) FinalizeConversation(ctx context.Context, conversationID string) FinalizeOutput {
	conversationID = strings.TrimSpace(conversationID)
	log := s.log.With("conversation_id", conversationID)
	intentID, err := s.sessions.Get(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			log.Error("failed to read payment session during finalize", "err", err)
		}
		return FinalizeOutput{}
	}
	log = log.With("payment_intent_id", intentID)
	log.Info("finalizing conversation")

	out := FinalizeOutput{HadSession: true}
	callCtx, cancel := s.withTimeout(ctx)
	intent, err := s.processor.RetrieveIntent(callCtx, intentID)
	cancel()
	if err != nil {
		// Status unknown. The processor refuses to cancel a succeeded intent.
		log.Error("failed to retrieve payment intent", "err", err)
	}
	if err != nil || !intent.Succeeded() {
		out.Canceled = s.cancelIntent(ctx, log, intentID)
	}

	if err := s.sessions.Delete(ctx, conversationID); err != nil {
		log.Error("failed to delete payment session", "err", err)
	}
	return out
}

func (s *PaymentService) cancelIntent(ctx context.Context, log *slog.Logger, intentID string) bool {
	log.Info("canceling payment intent", "payment_intent_id", intentID)
	callCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.processor.CancelIntent(callCtx, intentID); err != nil {
		log.Error("failed to cancel payment intent", "payment_intent_id", intentID, "err", err)
		return false
	}
	return true
}

func (s *PaymentService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}
