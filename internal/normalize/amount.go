package normalize

import (
	"math"
	"strconv"
	"strings"
)

var amountNoise = strings.NewReplacer(
	"₽", "",
	"руб.", "",
	"руб", "",
	"р.", "",
	"%", "",
	" ", "",
	"\u00a0", "",
	"\u202f", "",
	"\t", "",
)

func cleanNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" || s == "-" {
		return "", false
	}
	s = amountNoise.Replace(strings.ToLower(s))
	s = strings.ReplaceAll(s, ",", ".")
	return s, s != ""
}

// Amount parses a currency string such as "1 234,50 ₽". Returns nil on failure.
func Amount(s string) *float64 {
	cleaned, ok := cleanNumber(s)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Percent parses a discount such as "15 %" into whole percent. Fractions are
// truncated. Returns nil on failure.
func Percent(s string) *int {
	cleaned, ok := cleanNumber(s)
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	n := int(v)
	return &n
}
