package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voice-checkout/internal/domain"
	"voice-checkout/internal/integrations/checkoutapi"
)

// ---------------------------------------------------------------------------
// fakes
// ---------------------------------------------------------------------------

type fakeBackend struct {
	healthErr   error
	product     domain.Product
	productErr  error
	shipping    domain.ShippingInfo
	initErr     error
	confirmOK   bool
	confirmErr  error
	finalizeErr error

	initCalls     []string
	initAmounts   []int64
	confirmCards  []domain.CardInput
	finalizeCalls []string
}

func (f *fakeBackend) Health(context.Context) error { return f.healthErr }

func (f *fakeBackend) ProductInfo(_ context.Context, id string) (domain.Product, error) {
	if f.productErr != nil {
		return domain.Product{}, f.productErr
	}
	p := f.product
	p.ProductID = id
	return p, nil
}

func (f *fakeBackend) ShippingInfo(context.Context, domain.AddressData) (domain.ShippingInfo, error) {
	return f.shipping, nil
}

func (f *fakeBackend) InitPayment(_ context.Context, conversationID string, amount int64) (string, error) {
	f.initCalls = append(f.initCalls, conversationID)
	f.initAmounts = append(f.initAmounts, amount)
	if f.initErr != nil {
		return "", f.initErr
	}
	return "pi_1", nil
}

func (f *fakeBackend) ConfirmPayment(_ context.Context, _ string, card domain.CardInput) (bool, error) {
	f.confirmCards = append(f.confirmCards, card)
	return f.confirmOK, f.confirmErr
}

func (f *fakeBackend) FinalizeConversation(_ context.Context, conversationID string) error {
	f.finalizeCalls = append(f.finalizeCalls, conversationID)
	return f.finalizeErr
}

type fakeEngine struct {
	externals map[string]ExternalFunc
	input     Input
	conv      *fakeConversation
	createErr error
}

func newFakeEngine(script func(ctx context.Context, c *fakeConversation) (Result, error)) *fakeEngine {
	e := &fakeEngine{externals: map[string]ExternalFunc{}}
	e.conv = &fakeConversation{engine: e, script: script}
	return e
}

func (e *fakeEngine) SetExternal(name string, fn ExternalFunc) { e.externals[name] = fn }

func (e *fakeEngine) CreateConversation(input Input) (Conversation, error) {
	if e.createErr != nil {
		return nil, e.createErr
	}
	e.input = input
	return e.conv, nil
}

type fakeConversation struct {
	engine        *fakeEngine
	script        func(ctx context.Context, c *fakeConversation) (Result, error)
	channel       string
	transcription func(TranscriptionLog)
}

func (c *fakeConversation) OnTranscription(fn func(TranscriptionLog)) { c.transcription = fn }

func (c *fakeConversation) Execute(ctx context.Context, channel string) (Result, error) {
	c.channel = channel
	if c.script == nil {
		return Result{}, nil
	}
	return c.script(ctx, c)
}

func (c *fakeConversation) call(ctx context.Context, name string, args string) (any, error) {
	fn, ok := c.engine.externals[name]
	if !ok {
		return nil, fmt.Errorf("no external %q", name)
	}
	return fn(ctx, json.RawMessage(args), c)
}

var fixedNow = time.Date(2026, time.March, 30, 9, 0, 0, 0, time.UTC)

func newTestBridge(t *testing.T, e Engine, b Backend) *Bridge {
	t.Helper()
	br, err := New(e, b,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return "conv-1" }),
	)
	require.NoError(t, err)
	return br
}

// registered wires the externals without running a conversation.
func registered(t *testing.T, backend *fakeBackend) *fakeConversation {
	t.Helper()
	e := newFakeEngine(nil)
	br := newTestBridge(t, e, backend)
	br.register("conv-1", br.log)
	return e.conv
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_NilDependencies(t *testing.T) {
	_, err := New(nil, &fakeBackend{})
	require.Error(t, err)
	_, err = New(newFakeEngine(nil), nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Run
// ---------------------------------------------------------------------------

func TestRun_ChatPaysAndFinalizes(t *testing.T) {
	backend := &fakeBackend{confirmOK: true}
	e := newFakeEngine(func(ctx context.Context, c *fakeConversation) (Result, error) {
		ok, err := c.call(ctx, FuncInitPayment, `{"amount":12550}`)
		if err != nil {
			return Result{}, err
		}
		paid, err := c.call(ctx, FuncConfirmPayment,
			`{"card_number":"4242424242424242","card_exp_date":{"exp_month_str":"March","exp_month":3,"exp_year":2026},"card_cvc_code":"123"}`)
		if err != nil {
			return Result{}, err
		}
		return Result{Output: map[string]any{"initialized": ok, "paid": paid}}, nil
	})
	br := newTestBridge(t, e, backend)

	res, err := br.Run(context.Background(), "chat")
	require.NoError(t, err)
	require.Equal(t, "conv-1", res.ConversationID)
	require.Equal(t, ChannelText, res.Channel)
	require.Equal(t, map[string]any{"initialized": true, "paid": true}, res.Output)

	require.Equal(t, Input{Phone: "chat"}, e.input)
	require.Equal(t, ChannelText, e.conv.channel)
	require.Nil(t, e.conv.transcription)
	require.Equal(t, []string{"conv-1"}, backend.initCalls)
	require.Equal(t, []int64{12550}, backend.initAmounts)
	require.Equal(t, []domain.CardInput{{Number: "4242424242424242", ExpMonth: 3, ExpYear: 2026, CVC: "123"}}, backend.confirmCards)
	require.Equal(t, []string{"conv-1"}, backend.finalizeCalls)
}

func TestRun_PhoneUsesAudioAndSubscribes(t *testing.T) {
	backend := &fakeBackend{}
	e := newFakeEngine(func(ctx context.Context, c *fakeConversation) (Result, error) {
		c.transcription(TranscriptionLog{Speaker: "ai", Text: "hello"})
		return Result{}, nil
	})
	br := newTestBridge(t, e, backend)

	res, err := br.Run(context.Background(), "+15550100")
	require.NoError(t, err)
	require.Equal(t, ChannelAudio, res.Channel)
	require.Equal(t, Input{Phone: "+15550100"}, e.input)
	require.NotNil(t, e.conv.transcription)
	require.Equal(t, []string{"conv-1"}, backend.finalizeCalls)
}

func TestRun_UnhealthyAbortsBeforeConversation(t *testing.T) {
	backend := &fakeBackend{healthErr: errors.New("connection refused")}
	e := newFakeEngine(nil)
	br := newTestBridge(t, e, backend)

	_, err := br.Run(context.Background(), "chat")
	require.ErrorIs(t, err, ErrUnhealthy)
	require.Empty(t, e.externals)
	require.Empty(t, backend.finalizeCalls)
}

func TestRun_EmptyEndpoint(t *testing.T) {
	backend := &fakeBackend{}
	br := newTestBridge(t, newFakeEngine(nil), backend)

	_, err := br.Run(context.Background(), " ")
	require.Error(t, err)
	require.Empty(t, backend.finalizeCalls)
}

func TestRun_ExecuteErrorStillFinalizes(t *testing.T) {
	backend := &fakeBackend{}
	e := newFakeEngine(func(ctx context.Context, c *fakeConversation) (Result, error) {
		_, err := c.call(ctx, FuncThrowError, `{"msg":"caller hung up"}`)
		return Result{}, err
	})
	br := newTestBridge(t, e, backend)

	res, err := br.Run(context.Background(), "chat")
	require.Error(t, err)
	require.Contains(t, err.Error(), "caller hung up")
	require.Equal(t, "conv-1", res.ConversationID)
	require.Equal(t, []string{"conv-1"}, backend.finalizeCalls)
}

func TestRun_FinalizeErrorDoesNotMaskOutcome(t *testing.T) {
	backend := &fakeBackend{finalizeErr: errors.New("server gone")}
	e := newFakeEngine(func(context.Context, *fakeConversation) (Result, error) {
		return Result{Output: map[string]any{"status": "done"}}, nil
	})
	br := newTestBridge(t, e, backend)

	res, err := br.Run(context.Background(), "chat")
	require.NoError(t, err)
	require.Equal(t, "done", res.Output["status"])
	require.Len(t, backend.finalizeCalls, 1)
}

func TestRun_FinalizeRunsAfterCancel(t *testing.T) {
	backend := &fakeBackend{}
	ctx, cancel := context.WithCancel(context.Background())
	e := newFakeEngine(func(ctx context.Context, _ *fakeConversation) (Result, error) {
		cancel()
		return Result{}, ctx.Err()
	})
	br := newTestBridge(t, e, backend)

	_, err := br.Run(ctx, "chat")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"conv-1"}, backend.finalizeCalls)
}

func TestRun_CreateConversationError(t *testing.T) {
	backend := &fakeBackend{}
	e := newFakeEngine(nil)
	e.createErr = errors.New("engine down")
	br := newTestBridge(t, e, backend)

	_, err := br.Run(context.Background(), "chat")
	require.Error(t, err)
	require.Empty(t, backend.finalizeCalls)
}

// ---------------------------------------------------------------------------
// external functions
// ---------------------------------------------------------------------------

func TestExternals_AllRegistered(t *testing.T) {
	conv := registered(t, &fakeBackend{})
	for _, name := range []string{
		FuncConsoleLog, FuncGetProduct, FuncGetShippingInfo, FuncInitPayment,
		FuncParseCardNumber, FuncParseExpDate, FuncParseCVCCode, FuncConfirmPayment, FuncThrowError,
	} {
		require.Contains(t, conv.engine.externals, name)
	}
}

func TestGetProduct(t *testing.T) {
	conv := registered(t, &fakeBackend{product: domain.Product{Description: "Red mug", Price: 1250}})

	out, err := conv.call(context.Background(), FuncGetProduct, `{"product_id":"prod_1"}`)
	require.NoError(t, err)
	require.Equal(t, domain.Product{ProductID: "prod_1", Description: "Red mug", Price: 1250}, out)

	_, err = conv.call(context.Background(), FuncGetProduct, `{}`)
	require.Error(t, err)
	_, err = conv.call(context.Background(), FuncGetProduct, `{"product_id":"p","extra":1}`)
	require.Error(t, err)
}

func TestGetProduct_BackendError(t *testing.T) {
	conv := registered(t, &fakeBackend{productErr: errors.New("404")})
	_, err := conv.call(context.Background(), FuncGetProduct, `{"product_id":"prod_x"}`)
	require.Error(t, err)
}

func TestGetShippingInfo_Enriched(t *testing.T) {
	conv := registered(t, &fakeBackend{shipping: domain.ShippingInfo{Price: 1000, TimeDays: 2, Taxes: 100}})

	out, err := conv.call(context.Background(), FuncGetShippingInfo,
		`{"address_data":{"housenumber":"12","streetname":"Main","streetd":"Street"}}`)
	require.NoError(t, err)
	require.Equal(t, domain.ShippingQuote{
		ShippingInfo: domain.ShippingInfo{Price: 1000, TimeDays: 2, Taxes: 100},
		AddressName:  "12 Main Street",
		DeliveryDate: domain.DeliveryDate{Month: "April", Date: "01", DayOfWeek: "Wednesday"},
	}, out)

	_, err = conv.call(context.Background(), FuncGetShippingInfo, `{}`)
	require.Error(t, err)
}

func TestInitPayment_FailureIsFalse(t *testing.T) {
	conv := registered(t, &fakeBackend{initErr: errors.New("400")})

	out, err := conv.call(context.Background(), FuncInitPayment, `{"amount":2050}`)
	require.NoError(t, err)
	require.Equal(t, false, out)
}

func TestInitPayment_InvalidAmount(t *testing.T) {
	backend := &fakeBackend{}
	conv := registered(t, backend)

	_, err := conv.call(context.Background(), FuncInitPayment, `{"amount":-1}`)
	require.Error(t, err)
	_, err = conv.call(context.Background(), FuncInitPayment, `{}`)
	require.Error(t, err)
	require.Empty(t, backend.initCalls)
}

func TestParseCardNumber(t *testing.T) {
	conv := registered(t, &fakeBackend{})
	ctx := context.Background()

	out, err := conv.call(ctx, FuncParseCardNumber,
		`{"numberwords":[{"value":"4242"},{"value":"4242"},{"value":"4242"},{"value":"4242"}]}`)
	require.NoError(t, err)
	require.Equal(t, "4242424242424242", out)

	out, err = conv.call(ctx, FuncParseCardNumber,
		`{"numberwords":[{"value":"4242"}],"user_input":"4242 4242 4242 4242"}`)
	require.NoError(t, err)
	require.Equal(t, "4242424242424242", out)

	out, err = conv.call(ctx, FuncParseCardNumber, `{"numberwords":[{"value":"4242"}]}`)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestParseExpDate(t *testing.T) {
	conv := registered(t, &fakeBackend{})
	ctx := context.Background()

	out, err := conv.call(ctx, FuncParseExpDate, `{"user_input":"March 2026"}`)
	require.NoError(t, err)
	require.Equal(t, domain.ExpiryDate{ExpMonthName: "March", ExpMonth: 3, ExpYear: 2026}, out)

	out, err = conv.call(ctx, FuncParseExpDate, `{"user_input":"someday"}`)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestParseCVCCode(t *testing.T) {
	conv := registered(t, &fakeBackend{})
	ctx := context.Background()

	out, err := conv.call(ctx, FuncParseCVCCode, `{"numberwords":[{"value":"1"},{"value":"2"},{"value":"3"}]}`)
	require.NoError(t, err)
	require.Equal(t, "123", out)

	out, err = conv.call(ctx, FuncParseCVCCode, `{"numberwords":[{"value":"12"}]}`)
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestConfirmPayment(t *testing.T) {
	const args = `{"card_number":"4242424242424242","card_exp_date":{"exp_month":3,"exp_year":2026},"card_cvc_code":"123"}`
	ctx := context.Background()

	conv := registered(t, &fakeBackend{confirmOK: false})
	out, err := conv.call(ctx, FuncConfirmPayment, args)
	require.NoError(t, err)
	require.Equal(t, false, out)

	conv = registered(t, &fakeBackend{confirmErr: errors.New("502")})
	out, err = conv.call(ctx, FuncConfirmPayment, args)
	require.NoError(t, err)
	require.Equal(t, false, out)

	conv = registered(t, &fakeBackend{confirmErr: fmt.Errorf("wrapped: %w", checkoutapi.ErrSessionNotFound)})
	_, err = conv.call(ctx, FuncConfirmPayment, args)
	require.ErrorIs(t, err, checkoutapi.ErrSessionNotFound)

	_, err = conv.call(ctx, FuncConfirmPayment, `{"card_number":"4242424242424242"}`)
	require.Error(t, err)
}

func TestConsoleLogAndThrowError(t *testing.T) {
	conv := registered(t, &fakeBackend{})
	ctx := context.Background()

	out, err := conv.call(ctx, FuncConsoleLog, `{"anything":["goes"]}`)
	require.NoError(t, err)
	require.Nil(t, out)

	_, err = conv.call(ctx, FuncThrowError, `{"msg":"boom"}`)
	require.EqualError(t, err, "boom")
}

func TestAddressName(t *testing.T) {
	require.Equal(t, "12 Main Street", AddressName(domain.AddressData{HouseNumber: "12", StreetName: "Main", StreetD: "Street"}))
}
