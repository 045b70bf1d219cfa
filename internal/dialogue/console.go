// Package dialogue is a console dialogue engine for the text channel. It runs
// a scripted checkout conversation and reaches the checkout operations only
// through the external functions registered by the bridge.
package dialogue

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"voice-checkout/internal/bridge"
	"voice-checkout/internal/domain"
)

const defaultMaxAttempts = 3

// Conversation outcomes reported in the "status" output field.
const (
	StatusPaid              = "paid"
	StatusDeclined          = "declined"
	StatusCanceled          = "canceled"
	StatusPaymentNotStarted = "payment_not_started"
	StatusHungUp            = "hung_up"
)

var ErrUnsupportedChannel = errors.New("dialogue: console engine only supports the text channel")

// errHangUp marks the end of customer input.
var errHangUp = errors.New("dialogue: customer hung up")

type Console struct {
	in          *bufio.Scanner
	out         io.Writer
	externals   map[string]bridge.ExternalFunc
	maxAttempts int
}

type Option func(*Console)

// WithMaxAttempts bounds how often one question is asked before giving up.
func WithMaxAttempts(n int) Option {
	return func(c *Console) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

func NewConsole(in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		in:          bufio.NewScanner(in),
		out:         out,
		externals:   make(map[string]bridge.ExternalFunc),
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Console) SetExternal(name string, fn bridge.ExternalFunc) {
	c.externals[name] = fn
}

func (c *Console) CreateConversation(input bridge.Input) (bridge.Conversation, error) {
	if strings.TrimSpace(input.Phone) == "" {
		return nil, errors.New("dialogue: conversation input requires a phone or \"chat\"")
	}
	return &chat{console: c, input: input}, nil
}

type chat struct {
	console       *Console
	input         bridge.Input
	transcription func(bridge.TranscriptionLog)
}

func (ch *chat) OnTranscription(fn func(bridge.TranscriptionLog)) {
	ch.transcription = fn
}

func (ch *chat) Execute(ctx context.Context, channel string) (bridge.Result, error) {
	if channel != bridge.ChannelText {
		return bridge.Result{}, fmt.Errorf("%w: %q", ErrUnsupportedChannel, channel)
	}
	output, err := ch.checkout(ctx)
	if errors.Is(err, errHangUp) {
		output["status"] = StatusHungUp
		return bridge.Result{Output: output}, nil
	}
	if err != nil {
		return bridge.Result{}, err
	}
	return bridge.Result{Output: output}, nil
}

func (ch *chat) checkout(ctx context.Context) (map[string]any, error) {
	output := map[string]any{}

	ch.say("Hi! I can help you buy one of our products.")
	var product domain.Product
	err := ch.ask(ctx, "product id", "Which product would you like? Please tell me its product id.", func(answer string) (bool, error) {
		found, err := ch.invoke(ctx, bridge.FuncGetProduct, map[string]any{"product_id": answer}, &product)
		if err != nil {
			ch.say("Sorry, I couldn't find that product.")
			return false, nil
		}
		return found, nil
	})
	if err != nil {
		return output, err
	}
	output["product_id"] = product.ProductID
	ch.say(fmt.Sprintf("%s costs $%s.", product.Description, formatCents(product.Price)))

	var quote domain.ShippingQuote
	err = ch.ask(ctx, "address", "Where should we deliver it? For example: 12 Main Street.", func(answer string) (bool, error) {
		address, ok := parseAddress(answer)
		if !ok {
			return false, nil
		}
		return ch.invoke(ctx, bridge.FuncGetShippingInfo, map[string]any{"address_data": address}, &quote)
	})
	if err != nil {
		return output, err
	}

	total := product.Price + quote.Price + quote.Taxes
	output["amount"] = total
	ch.say(fmt.Sprintf("Shipping to %s costs $%s and takes %d days, so it arrives on %s, %s %s. Taxes are $%s.",
		quote.AddressName, formatCents(quote.Price), quote.TimeDays,
		quote.DeliveryDate.DayOfWeek, quote.DeliveryDate.Month, quote.DeliveryDate.Date, formatCents(quote.Taxes)))

	var proceed bool
	err = ch.ask(ctx, "confirmation", fmt.Sprintf("Your total is $%s. Shall I proceed with the payment?", formatCents(total)), func(answer string) (bool, error) {
		yes, ok := parseYesNo(answer)
		proceed = yes
		return ok, nil
	})
	if err != nil {
		return output, err
	}
	if !proceed {
		ch.say("No problem, the order is canceled. Goodbye!")
		output["status"] = StatusCanceled
		return output, nil
	}

	var started bool
	if _, err := ch.invoke(ctx, bridge.FuncInitPayment, map[string]any{"amount": total}, &started); err != nil {
		return output, err
	}
	if !started {
		ch.say("Sorry, I could not start the payment. Please try again later.")
		output["status"] = StatusPaymentNotStarted
		return output, nil
	}

	var cardNumber string
	err = ch.ask(ctx, "card number", "Please tell me your 16 digit card number.", func(answer string) (bool, error) {
		return ch.invoke(ctx, bridge.FuncParseCardNumber, numberWordsArgs(answer), &cardNumber)
	})
	if err != nil {
		return output, err
	}

	var expiry domain.ExpiryDate
	err = ch.ask(ctx, "expiry date", "What is the card expiry date? For example: March 2027.", func(answer string) (bool, error) {
		return ch.invoke(ctx, bridge.FuncParseExpDate, map[string]any{"user_input": answer}, &expiry)
	})
	if err != nil {
		return output, err
	}

	var cvc string
	err = ch.ask(ctx, "cvc code", "And the 3 digit security code on the back?", func(answer string) (bool, error) {
		return ch.invoke(ctx, bridge.FuncParseCVCCode, numberWordsArgs(answer), &cvc)
	})
	if err != nil {
		return output, err
	}

	ch.say(fmt.Sprintf("Charging the card ending in %s, expiring %s %d.", cardNumber[len(cardNumber)-4:], expiry.ExpMonthName, expiry.ExpYear))
	var paid bool
	if _, err := ch.invoke(ctx, bridge.FuncConfirmPayment, map[string]any{
		"card_number":   cardNumber,
		"card_exp_date": expiry,
		"card_cvc_code": cvc,
	}, &paid); err != nil {
		return output, err
	}
	_, _ = ch.invoke(ctx, bridge.FuncConsoleLog, map[string]any{"event": "payment_confirmed", "success": paid}, nil)

	if paid {
		ch.say("Thank you! Your payment went through and your order is on its way.")
		output["status"] = StatusPaid
	} else {
		ch.say("Sorry, the payment was declined. Nothing was charged.")
		output["status"] = StatusDeclined
	}
	return output, nil
}

// ask repeats prompt until accept reports true. When attempts run out the
// conversation is aborted through throw_error.
func (ch *chat) ask(ctx context.Context, field, prompt string, accept func(answer string) (bool, error)) error {
	for attempt := 0; attempt < ch.console.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt > 0 {
			ch.say("Sorry, I didn't get that.")
		}
		ch.say(prompt)
		answer, err := ch.listen()
		if err != nil {
			return err
		}
		if answer == "" {
			continue
		}
		ok, err := accept(answer)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	_, err := ch.invoke(ctx, bridge.FuncThrowError, map[string]any{"msg": "too many attempts for " + field}, nil)
	if err == nil {
		err = fmt.Errorf("dialogue: too many attempts for %s", field)
	}
	return err
}

// invoke calls a registered external function and decodes its result into
// out. It reports false when the function returned null.
func (ch *chat) invoke(ctx context.Context, name string, args any, out any) (bool, error) {
	fn, ok := ch.console.externals[name]
	if !ok {
		return false, fmt.Errorf("dialogue: external function %q is not registered", name)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return false, fmt.Errorf("dialogue: encode %s arguments: %w", name, err)
	}
	result, err := fn(ctx, raw, ch)
	if err != nil {
		return false, err
	}
	if result == nil {
		return false, nil
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("dialogue: encode %s result: %w", name, err)
	}
	if string(encoded) == "null" {
		return false, nil
	}
	if out != nil {
		if err := json.Unmarshal(encoded, out); err != nil {
			return false, fmt.Errorf("dialogue: decode %s result: %w", name, err)
		}
	}
	return true, nil
}

func (ch *chat) say(text string) {
	fmt.Fprintf(ch.console.out, "AI: %s\n", text)
	ch.emit("ai", text)
}

func (ch *chat) listen() (string, error) {
	fmt.Fprint(ch.console.out, "You: ")
	if !ch.console.in.Scan() {
		if err := ch.console.in.Err(); err != nil {
			return "", fmt.Errorf("dialogue: read input: %w", err)
		}
		return "", errHangUp
	}
	answer := strings.TrimSpace(ch.console.in.Text())
	ch.emit("human", answer)
	return answer, nil
}

func (ch *chat) emit(speaker, text string) {
	if ch.transcription != nil {
		ch.transcription(bridge.TranscriptionLog{Speaker: speaker, Text: text})
	}
}

func numberWordsArgs(answer string) map[string]any {
	return map[string]any{"numberwords": Tokenize(answer), "user_input": answer}
}

// parseAddress reads "<house number> <street name...> <street designator>".
func parseAddress(s string) (domain.AddressData, bool) {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(fields) < 3 {
		return domain.AddressData{}, false
	}
	house := fields[0]
	if !isDigits(house) {
		words := Tokenize(house)
		if len(words) != 1 {
			return domain.AddressData{}, false
		}
		house = words[0].Value
	}
	return domain.AddressData{
		HouseNumber: house,
		StreetName:  strings.Join(fields[1:len(fields)-1], " "),
		StreetD:     fields[len(fields)-1],
	}, true
}

func parseYesNo(s string) (yes, ok bool) {
	switch strings.Trim(strings.ToLower(strings.TrimSpace(s)), ".!") {
	case "yes", "y", "yeah", "yep", "sure", "ok", "okay", "please do", "go ahead":
		return true, true
	case "no", "n", "nope", "nah", "cancel":
		return false, true
	}
	return false, false
}

func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}
