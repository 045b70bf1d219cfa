package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voice-checkout/internal/domain"
	"voice-checkout/internal/integrations/checkoutapi"
	"voice-checkout/internal/voice"
)

// External function names as registered on the engine.
const (
	FuncConsoleLog      = "console_log"
	FuncGetProduct      = "get_product"
	FuncGetShippingInfo = "get_shipping_info"
	FuncInitPayment     = "init_payment"
	FuncParseCardNumber = "parse_card_number"
	FuncParseExpDate    = "parse_exp_date"
	FuncParseCVCCode    = "parse_cvc_code"
	FuncConfirmPayment  = "confirm_payment"
	FuncThrowError      = "throw_error"
)

type getProductArgs struct {
	ProductID string `json:"product_id" validate:"required"`
}

type shippingArgs struct {
	AddressData *domain.AddressData `json:"address_data" validate:"required"`
}

type initPaymentArgs struct {
	Amount *int64 `json:"amount" validate:"required,min=0"`
}

// numberWordsArgs carries the recognized tokens and, optionally, the raw
// utterance they came from.
type numberWordsArgs struct {
	NumberWords []domain.NumberWord `json:"numberwords"`
	UserInput   string              `json:"user_input"`
}

type expDateArgs struct {
	UserInput string `json:"user_input" validate:"required"`
}

type cardExpDate struct {
	ExpMonthName string `json:"exp_month_str"`
	ExpMonth     int64  `json:"exp_month"`
	ExpYear      int64  `json:"exp_year"`
}

type confirmPaymentArgs struct {
	CardNumber  string       `json:"card_number" validate:"required"`
	CardExpDate *cardExpDate `json:"card_exp_date" validate:"required"`
	CardCVCCode string       `json:"card_cvc_code" validate:"required"`
}

type throwErrorArgs struct {
	Msg string `json:"msg"`
}

func (b *Bridge) register(conversationID string, log *slog.Logger) {
	b.engine.SetExternal(FuncConsoleLog, func(_ context.Context, args json.RawMessage, _ Conversation) (any, error) {
		log.Info("dialogue log", "args", json.RawMessage(args))
		return nil, nil
	})

	b.engine.SetExternal(FuncGetProduct, func(ctx context.Context, args json.RawMessage, _ Conversation) (any, error) {
		var in getProductArgs
		if err := b.decodeArgs(args, &in); err != nil {
			return nil, err
		}
		product, err := b.backend.ProductInfo(ctx, in.ProductID)
		if err != nil {
			return nil, fmt.Errorf("bridge: get product %q: %w", in.ProductID, err)
		}
		return product, nil
	})

	b.engine.SetExternal(FuncGetShippingInfo, func(ctx context.Context, args json.RawMessage, _ Conversation) (any, error) {
		var in shippingArgs
		if err := b.decodeArgs(args, &in); err != nil {
			return nil, err
		}
		info, err := b.backend.ShippingInfo(ctx, *in.AddressData)
		if err != nil {
			return nil, fmt.Errorf("bridge: get shipping info: %w", err)
		}
		return b.enrichQuote(info, *in.AddressData), nil
	})

	b.engine.SetExternal(FuncInitPayment, func(ctx context.Context, args json.RawMessage, _ Conversation) (any, error) {
		var in initPaymentArgs
		if err := b.decodeArgs(args, &in); err != nil {
			return nil, err
		}
		if _, err := b.backend.InitPayment(ctx, conversationID, *in.Amount); err != nil {
			log.Warn("init payment failed", "amount", *in.Amount, "err", err)
			return false, nil
		}
		return true, nil
	})

	b.engine.SetExternal(FuncParseCardNumber, func(_ context.Context, args json.RawMessage, _ Conversation) (any, error) {
		var in numberWordsArgs
		if err := b.decodeArgs(args, &in); err != nil {
			return nil, err
		}
		if number, ok := voice.ParseCardNumber(in.NumberWords, in.UserInput); ok {
			return number, nil
		}
		return nil, nil
	})

	b.engine.SetExternal(FuncParseExpDate, func(_ context.Context, args json.RawMessage, _ Conversation) (any, error) {
		var in expDateArgs
		if err := b.decodeArgs(args, &in); err != nil {
			return nil, err
		}
		if exp, ok := voice.ParseExpiryDate(in.UserInput); ok {
			return exp, nil
		}
		return nil, nil
	})

	b.engine.SetExternal(FuncParseCVCCode, func(_ context.Context, args json.RawMessage, _ Conversation) (any, error) {
		var in numberWordsArgs
		if err := b.decodeArgs(args, &in); err != nil {
			return nil, err
		}
		if cvc, ok := voice.ParseCVC(in.NumberWords, in.UserInput); ok {
			return cvc, nil
		}
		return nil, nil
	})

	b.engine.SetExternal(FuncConfirmPayment, func(ctx context.Context, args json.RawMessage, _ Conversation) (any, error) {
		var in confirmPaymentArgs
		if err := b.decodeArgs(args, &in); err != nil {
			return nil, err
		}
		card := domain.CardInput{
			Number:   in.CardNumber,
			ExpMonth: in.CardExpDate.ExpMonth,
			ExpYear:  in.CardExpDate.ExpYear,
			CVC:      in.CardCVCCode,
		}
		ok, err := b.backend.ConfirmPayment(ctx, conversationID, card)
		switch {
		case errors.Is(err, checkoutapi.ErrSessionNotFound):
			return nil, fmt.Errorf("bridge: confirm payment before init: %w", err)
		case err != nil:
			log.Warn("confirm payment failed", "err", err)
			return false, nil
		}
		return ok, nil
	})

	b.engine.SetExternal(FuncThrowError, func(_ context.Context, args json.RawMessage, _ Conversation) (any, error) {
		var in throwErrorArgs
		if err := b.decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return nil, errors.New(in.Msg)
	})
}

// enrichQuote adds the spoken address and the expected delivery date.
func (b *Bridge) enrichQuote(info domain.ShippingInfo, address domain.AddressData) domain.ShippingQuote {
	delivery := b.now().AddDate(0, 0, info.TimeDays)
	return domain.ShippingQuote{
		ShippingInfo: info,
		AddressName:  AddressName(address),
		DeliveryDate: domain.DeliveryDate{
			Month:     delivery.Format("January"),
			Date:      delivery.Format("02"),
			DayOfWeek: delivery.Format("Monday"),
		},
	}
}

// AddressName joins the address parts the way they are spoken.
func AddressName(a domain.AddressData) string {
	return strings.Join([]string{a.HouseNumber, a.StreetName, a.StreetD}, " ")
}
