package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// currencyTokens are removed from amount text, longest first.
var currencyTokens = []string{"mxn$", "pesos", "m.n.", "us$", "mx$", "mxn", "usd", "mn", "mx", "$", "€"}

var (
	plainCommaDecimal = regexp.MustCompile(`^[-+]?\d+,\d{1,2}$`)
	dotThousands      = regexp.MustCompile(`^[-+]?\d{1,3}(\.\d{3})+,\d{1,2}$`)
	commaThousands    = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+\.\d{1,2}$`)
	notAmountRune     = regexp.MustCompile(`[^0-9.\-]`)
)

// ParseAmount reads a money value from a cell and rounds it to two decimals.
// It accepts "(12.50)" negatives, currency decorations, "512,65",
// "1.234,56" and "1,234.56". Unreadable input yields an invalid result.
func ParseAmount(c Cell) decimal.NullDecimal {
	if c.Numeric {
		return valid(decimal.NewFromFloat(c.Number))
	}
	s := strings.TrimSpace(c.Text)
	if s == "" {
		return decimal.NullDecimal{}
	}

	negative := false
	if len(s) >= 2 && strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	s = strings.ToLower(s)
	for _, tok := range currencyTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)

	switch {
	case plainCommaDecimal.MatchString(s):
		s = strings.ReplaceAll(s, ",", ".")
	case dotThousands.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	case commaThousands.MatchString(s):
		s = strings.ReplaceAll(s, ",", "")
	default:
		s = notAmountRune.ReplaceAllString(s, "")
	}
	s = strings.TrimPrefix(s, "+")
	if s == "" || s == "-" || s == "." {
		return decimal.NullDecimal{}
	}
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	if strings.HasPrefix(s, ".") {
		s = "0" + s
	} else if strings.HasPrefix(s, "-.") {
		s = "-0" + s[1:]
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	if negative {
		d = d.Neg()
	}
	return valid(d)
}

// FormatAmount renders an amount with two decimals, or "" when it is null.
func FormatAmount(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.StringFixed(2)
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d.Round(2), Valid: true}
}
