// Package bridge exposes the checkout operations and the voice parsers to a
// dialogue engine as named external functions and drives one conversation
// from health check to finalization.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"voice-checkout/internal/domain"
)

const (
	ChannelText  = "text"
	ChannelAudio = "audio"

	chatEndpoint = "chat"

	defaultFinalizeTimeout = 10 * time.Second
)

// ErrUnhealthy aborts a run before any conversation starts.
var ErrUnhealthy = errors.New("bridge: checkout server is not healthy")

// ExternalFunc is invoked by the engine with the raw call arguments. A nil
// result is surfaced to the dialogue as null.
type ExternalFunc func(ctx context.Context, args json.RawMessage, conv Conversation) (any, error)

// Input is the initial payload of a conversation.
type Input struct {
	Phone string `json:"phone"`
}

// TranscriptionLog is one recognized or synthesized utterance.
type TranscriptionLog struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Result is the final output reported by the engine.
type Result struct {
	Output map[string]any `json:"output"`
}

type Engine interface {
	SetExternal(name string, fn ExternalFunc)
	CreateConversation(input Input) (Conversation, error)
}

type Conversation interface {
	OnTranscription(fn func(TranscriptionLog))
	Execute(ctx context.Context, channel string) (Result, error)
}

// Backend is the checkout server surface the external functions call.
type Backend interface {
	Health(ctx context.Context) error
	ProductInfo(ctx context.Context, productID string) (domain.Product, error)
	ShippingInfo(ctx context.Context, address domain.AddressData) (domain.ShippingInfo, error)
	InitPayment(ctx context.Context, conversationID string, amount int64) (string, error)
	ConfirmPayment(ctx context.Context, conversationID string, card domain.CardInput) (bool, error)
	FinalizeConversation(ctx context.Context, conversationID string) error
}

type Bridge struct {
	engine          Engine
	backend         Backend
	validate        *validator.Validate
	log             *slog.Logger
	now             func() time.Time
	newID           func() string
	finalizeTimeout time.Duration
}

type Option func(*Bridge)

func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		if now != nil {
			b.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(b *Bridge) {
		if newID != nil {
			b.newID = newID
		}
	}
}

func WithFinalizeTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.finalizeTimeout = d
		}
	}
}

func New(engine Engine, backend Backend, opts ...Option) (*Bridge, error) {
	if engine == nil {
		return nil, errors.New("bridge: engine must not be nil")
	}
	if backend == nil {
		return nil, errors.New("bridge: backend must not be nil")
	}
	b := &Bridge{
		engine:          engine,
		backend:         backend,
		validate:        validator.New(),
		log:             slog.Default(),
		now:             time.Now,
		newID:           uuid.NewString,
		finalizeTimeout: defaultFinalizeTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// RunResult describes a finished conversation.
type RunResult struct {
	ConversationID string
	Channel        string
	Output         map[string]any
}

// Run drives one conversation with the customer at endpoint, which is a phone
// number or "chat" for the text channel. Finalization always runs once the
// conversation has been created, whatever the outcome of execution.
func (b *Bridge) Run(ctx context.Context, endpoint string) (res RunResult, err error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return RunResult{}, errors.New("bridge: endpoint must be a phone number or \"chat\"")
	}
	if err := b.backend.Health(ctx); err != nil {
		return RunResult{}, fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}

	conversationID := b.newID()
	log := b.log.With("conversation_id", conversationID)
	b.register(conversationID, log)

	conv, err := b.engine.CreateConversation(Input{Phone: endpoint})
	if err != nil {
		return RunResult{}, fmt.Errorf("bridge: create conversation: %w", err)
	}

	channel := ChannelAudio
	if endpoint == chatEndpoint {
		channel = ChannelText
	}
	if channel == ChannelAudio {
		conv.OnTranscription(func(l TranscriptionLog) {
			log.Info("transcription", "speaker", l.Speaker, "text", l.Text)
		})
	}

	defer b.finalize(ctx, conversationID, log)

	log.Info("conversation started", "endpoint", endpoint, "channel", channel)
	result, err := conv.Execute(ctx, channel)
	if err != nil {
		log.Error("conversation failed", "err", err)
		return RunResult{ConversationID: conversationID, Channel: channel}, fmt.Errorf("bridge: execute conversation: %w", err)
	}
	log.Info("conversation finished", "output", result.Output)
	return RunResult{ConversationID: conversationID, Channel: channel, Output: result.Output}, nil
}

func (b *Bridge) finalize(ctx context.Context, conversationID string, log *slog.Logger) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.finalizeTimeout)
	defer cancel()
	if err := b.backend.FinalizeConversation(fctx, conversationID); err != nil {
		log.Error("finalize conversation failed", "err", err)
		return
	}
	log.Info("conversation finalized")
}

// decodeArgs strictly decodes the engine arguments into dst and validates it.
func (b *Bridge) decodeArgs(args json.RawMessage, dst any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(strings.NewReader(string(args)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("bridge: decode arguments: %w", err)
	}
	if err := b.validate.Struct(dst); err != nil {
		return fmt.Errorf("bridge: invalid arguments: %w", err)
	}
	return nil
}
