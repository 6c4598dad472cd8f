package http

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

func parseDateParam(v url.Values, key string) (*time.Time, error) {
	raw := strings.TrimSpace(v.Get(key))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be YYYY-MM-DD", key)
	}
	return &t, nil
}

func parseIntParam(v url.Values, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(v.Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func parseDecimalParam(v url.Values, key string, fallback decimal.Decimal) (decimal.Decimal, error) {
	raw := strings.TrimSpace(v.Get(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a number", key)
	}
	return d, nil
}

func parseBoolParam(v url.Values, key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v.Get(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// window reads the shared range parameters into pointers of the query.
type window struct {
	from, to   **time.Time
	pre, post  *int
	sentOffset *int
	tolerance  *decimal.Decimal
}

func (w window) parse(v url.Values) error {
	var err error
	if *w.from, err = parseDateParam(v, "from"); err != nil {
		return err
	}
	if *w.to, err = parseDateParam(v, "to"); err != nil {
		return err
	}
	if *w.pre, err = parseIntParam(v, "pre", *w.pre); err != nil {
		return err
	}
	if w.post != nil {
		if *w.post, err = parseIntParam(v, "post", *w.post); err != nil {
			return err
		}
	}
	if *w.sentOffset, err = parseIntParam(v, "sentOffset", *w.sentOffset); err != nil {
		return err
	}
	if *w.tolerance, err = parseDecimalParam(v, "tol", *w.tolerance); err != nil {
		return err
	}
	return nil
}
