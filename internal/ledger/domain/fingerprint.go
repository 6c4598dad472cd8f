package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// ContentHash fingerprints every comparable field of a row. Two rows with
// the same hash are exact re-submissions.
func ContentHash(f Fields) string {
	return fingerprint(map[string]any{
		"date":            f.Date.Format(dateLayout),
		"movementType":    nullableString(f.MovementType, false),
		"paymentType":     nullableString(f.PaymentType, false),
		"concept":         nullableString(f.Concept, false),
		"deposit":         nullableAmount(f.Deposit),
		"commission":      nullableAmount(f.Commission),
		"availableAmount": nullableAmount(f.AvailableAmount),
	})
}

// GroupKey fingerprints the semantic identity of a row: date, movement type,
// payment type and concept, compared case-insensitively.
func GroupKey(f Fields) string {
	return fingerprint(map[string]any{
		"date":         f.Date.Format(dateLayout),
		"movementType": nullableString(f.MovementType, true),
		"paymentType":  nullableString(f.PaymentType, true),
		"concept":      nullableString(f.Concept, true),
	})
}

// fingerprint hashes the JSON form of values. encoding/json writes map keys
// sorted, so the serialization does not depend on insertion order.
func fingerprint(values map[string]any) string {
	data, err := json.Marshal(values)
	if err != nil {
		// values only holds strings and nils
		panic("ledger: fingerprint: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func nullableString(s *string, fold bool) any {
	if s == nil {
		return nil
	}
	if fold {
		return strings.ToLower(strings.TrimSpace(*s))
	}
	return *s
}

func nullableAmount(v decimal.NullDecimal) any {
	if !v.Valid {
		return nil
	}
	return v.Decimal.StringFixed(2)
}
