// Package voice turns noisy recognized speech into strictly validated payment
// fields. Parsers never return partially valid values: a failed parse yields
// ok=false so the dialogue can re-prompt the customer.
package voice

import (
	"regexp"
	"strings"
	"time"

	"voice-checkout/internal/domain"
)

const (
	cardNumberLen = 16
	cvcLen        = 3
)

var digitRuns = regexp.MustCompile(`[0-9]+`)

// expiryLayouts are tried in order. Layouts without a day resolve to the first
// of the month.
var expiryLayouts = []string{
	"January 2006",
	"Jan 2006",
	"January, 2006",
	"Jan, 2006",
	"01/2006",
	"1/2006",
	"01/06",
	"1/06",
	"01-2006",
	"2006-01",
	"2006/01",
	"January 2 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
}

// JoinNumberWords concatenates token values in order.
func JoinNumberWords(words []domain.NumberWord) string {
	var b strings.Builder
	for _, w := range words {
		b.WriteString(w.Value)
	}
	return b.String()
}

// ExtractDigits concatenates every digit run found in raw text.
func ExtractDigits(raw string) string {
	return strings.Join(digitRuns.FindAllString(raw, -1), "")
}

// ParseCardNumber accepts exactly 16 digits, from the number-word tokens first
// and from the raw recognized text second.
func ParseCardNumber(words []domain.NumberWord, rawText string) (string, bool) {
	return parseFixedDigits(words, rawText, cardNumberLen)
}

// ParseCVC accepts exactly 3 digits using the same two phases as ParseCardNumber.
func ParseCVC(words []domain.NumberWord, rawText string) (string, bool) {
	return parseFixedDigits(words, rawText, cvcLen)
}

func parseFixedDigits(words []domain.NumberWord, rawText string, n int) (string, bool) {
	if joined := JoinNumberWords(words); isDigits(joined, n) {
		return joined, true
	}
	if extracted := ExtractDigits(rawText); isDigits(extracted, n) {
		return extracted, true
	}
	return "", false
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseExpiryDate parses free-form date input such as "March 2026" or "03/26".
func ParseExpiryDate(userInput string) (domain.ExpiryDate, bool) {
	in := strings.Join(strings.Fields(userInput), " ")
	if in == "" {
		return domain.ExpiryDate{}, false
	}
	for _, layout := range expiryLayouts {
		t, err := time.Parse(layout, in)
		if err != nil {
			continue
		}
		return domain.ExpiryDate{
			ExpMonthName: t.Month().String(),
			ExpMonth:     int(t.Month()),
			ExpYear:      t.Year(),
		}, true
	}
	return domain.ExpiryDate{}, false
}
