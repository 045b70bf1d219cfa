package dialogue

import (
	"strconv"
	"strings"
	"unicode"

	"voice-checkout/internal/domain"
)

var unitWords = map[string]int{
	"zero": 0, "oh": 0, "o": 0, "nought": 0, "nil": 0,
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9,
}

var teenWords = map[string]int{
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tensWords = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

var repeatWords = map[string]int{"double": 2, "triple": 3}

// Tokenize turns a spoken utterance into number-word tokens. Digit groups are
// kept as typed, "twenty four" becomes "24", "double five" becomes "55", and
// words that carry no number are dropped.
func Tokenize(text string) []domain.NumberWord {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	var out []domain.NumberWord
	repeat := 1
	emit := func(v string) {
		out = append(out, domain.NumberWord{Value: strings.Repeat(v, repeat)})
		repeat = 1
	}
	for i := 0; i < len(words); i++ {
		w := words[i]
		if isDigits(w) {
			emit(w)
			continue
		}
		if n, ok := repeatWords[w]; ok {
			repeat = n
			continue
		}
		if n, ok := unitWords[w]; ok {
			emit(strconv.Itoa(n))
			continue
		}
		if n, ok := teenWords[w]; ok {
			emit(strconv.Itoa(n))
			continue
		}
		if n, ok := tensWords[w]; ok {
			if i+1 < len(words) {
				if u, ok := unitWords[words[i+1]]; ok && u > 0 {
					n += u
					i++
				}
			}
			emit(strconv.Itoa(n))
			continue
		}
		repeat = 1
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
