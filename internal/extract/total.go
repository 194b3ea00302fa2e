// Package extract locates fields in recognized receipt text.
//
// The heuristics are deliberately simple: callers must treat a result as a
// best guess with no confidence attached.
package extract

import (
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrExtractionFailed is returned when no total can be found in the text
var ErrExtractionFailed = errors.New("no total found in receipt text")

// TotalKeywords are the words meaning "total", in priority order
var TotalKeywords = []string{"total", "totaal"}

var amountPattern = regexp.MustCompile(`\d+\.\d{2}`)

// wordPatterns matches each keyword as a whole word, case-insensitively
var wordPatterns = func() map[string]*regexp.Regexp {
	m := make(map[string]*regexp.Regexp, len(TotalKeywords))
	for _, kw := range TotalKeywords {
		m[kw] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
	}
	return m
}()

// Total finds the total amount in text.
//
// Keyword lines are searched first: a line where the keyword is a whole word
// ("Total 12.34") wins over one where it is part of a word ("Subtotal 10.00").
// Within each pass keywords are tried in TotalKeywords order and lines top to
// bottom. When no keyword line carries an amount, the last non-blank line is
// scanned instead.
func Total(text string) (decimal.Decimal, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	wholeWord := func(kw, line string) bool { return wordPatterns[kw].MatchString(line) }
	substring := func(kw, line string) bool { return strings.Contains(strings.ToLower(line), kw) }

	for _, contains := range []func(kw, line string) bool{wholeWord, substring} {
		for _, kw := range TotalKeywords {
			for _, line := range lines {
				if !contains(kw, line) {
					continue
				}
				if amount, ok := firstAmount(line); ok {
					return amount, nil
				}
			}
		}
	}

	if last := lastNonBlank(lines); last != "" {
		if amount, ok := firstAmount(last); ok {
			return amount, nil
		}
	}

	return decimal.Decimal{}, ErrExtractionFailed
}

func firstAmount(line string) (decimal.Decimal, bool) {
	match := amountPattern.FindString(line)
	if match == "" {
		return decimal.Decimal{}, false
	}
	amount, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return amount, true
}

func lastNonBlank(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
