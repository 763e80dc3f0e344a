package scrape

import (
	"regexp"
	"strconv"
	"strings"
)

var numberRun = regexp.MustCompile(`[0-9][0-9\s\x{00a0}\x{202f}.,']*`)

// ParsePrice extracts the first price-looking number from s. It accepts "," or
// "." as the decimal separator and spaces, apostrophes or the other separator
// as thousands grouping: "1 299,50 грн", "$1,299.99", "1.234.000".
func ParsePrice(s string) (float64, bool) {
	run := numberRun.FindString(s)
	if run == "" {
		return 0, false
	}
	run = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\u00a0', '\u202f', '\'':
			return -1
		}
		return r
	}, run)
	run = strings.TrimRight(run, ".,")

	lastComma := strings.LastIndex(run, ",")
	lastDot := strings.LastIndex(run, ".")
	switch {
	case lastComma != -1 && lastDot != -1:
		if lastComma > lastDot {
			run = strings.ReplaceAll(run, ".", "")
			run = strings.Replace(run, ",", ".", 1)
		} else {
			run = strings.ReplaceAll(run, ",", "")
		}
	case lastComma != -1:
		run = normalizeSingleSeparator(run, ",")
	case lastDot != -1:
		run = normalizeSingleSeparator(run, ".")
	}

	v, err := strconv.ParseFloat(run, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// A lone separator followed by one or two digits is a decimal point; anything
// else is grouping.
func normalizeSingleSeparator(run, sep string) string {
	if strings.Count(run, sep) == 1 {
		idx := strings.Index(run, sep)
		if digits := len(run) - idx - 1; digits >= 1 && digits <= 2 {
			return strings.Replace(run, sep, ".", 1)
		}
	}
	return strings.ReplaceAll(run, sep, "")
}

// DefaultCurrency is assumed when no currency marker is found.
const DefaultCurrency = "UAH"

// SniffCurrency detects the currency mentioned in a price string.
func SniffCurrency(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.Contains(lower, "₴"), strings.Contains(lower, "грн"), strings.Contains(lower, "uah"):
		return "UAH"
	case strings.Contains(lower, "₽"), strings.Contains(lower, "руб"), strings.Contains(lower, "rub"):
		return "RUB"
	case strings.Contains(lower, "€"), strings.Contains(lower, "eur"):
		return "EUR"
	case strings.Contains(lower, "$"), strings.Contains(lower, "usd"):
		return "USD"
	}
	return DefaultCurrency
}
