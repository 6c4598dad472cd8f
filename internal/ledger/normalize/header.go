package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Field is a canonical column of a ledger statement.
type Field string

const (
	FieldDate         Field = "fecha"
	FieldMovementType Field = "tipomovimiento"
	FieldPaymentType  Field = "tipopago"
	FieldConcept      Field = "concepto"
	FieldDeposit      Field = "deposito"
	FieldCommission   Field = "comision"
	FieldAvailable    Field = "montodisponible"
)

// Target lists the header aliases accepted for a field.
type Target struct {
	Field   Field
	Aliases []string
}

// LedgerTargets is the header vocabulary of accountant ledger exports. Order
// matters: earlier targets win when a header could match several.
var LedgerTargets = []Target{
	{FieldDate, []string{"fecha", "fechaon", "date", "fecha de operacion", "fechaoperacion"}},
	{FieldMovementType, []string{"tipo de movimiento", "tipomovimiento", "movimiento", "tipo"}},
	{FieldPaymentType, []string{"tipo de pago", "tipopago", "pago", "metododepago", "metodo de pago"}},
	{FieldConcept, []string{"concepto", "detalle", "descripcion", "descripciondetalle"}},
	// deposito stays strict so it never grabs "monto disponible"
	{FieldDeposit, []string{"deposito", "deposit", "credito"}},
	// no IVA or percentage columns here
	{FieldCommission, []string{"comision", "comisión", "comisiones", "fee", "comisionmxn", "comisionbancaria"}},
	{FieldAvailable, []string{"montodisponible", "monto disponible", "saldodisponible", "saldo disponible", "saldo", "balance", "disponible"}},
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeHeader lowercases a header, strips accents and drops everything
// that is not a letter or digit.
func NormalizeHeader(header string) string {
	s := strings.ToLower(strings.TrimSpace(header))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(t, s); err == nil {
		s = stripped
	}
	return nonAlnum.ReplaceAllString(s, "")
}

// HeaderMap maps canonical fields to column indexes.
type HeaderMap map[Field]int

// BuildHeaderMap assigns columns to targets. The first pass only accepts
// exact normalized matches; the second accepts an alias appearing as whole
// words in the raw header. A column is claimed by at most one field.
func BuildHeaderMap(headers []string, targets []Target) HeaderMap {
	m := make(HeaderMap, len(targets))
	claimed := make(map[int]bool, len(headers))

	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = NormalizeHeader(h)
	}
	for i, hn := range normalized {
		if hn == "" {
			continue
		}
		claim(m, claimed, i, targets, func(alias string) bool {
			return hn == NormalizeHeader(alias)
		})
	}

	for i, raw := range headers {
		claim(m, claimed, i, targets, func(alias string) bool {
			return aliasPattern(alias).MatchString(raw)
		})
	}
	return m
}

func claim(m HeaderMap, claimed map[int]bool, col int, targets []Target, match func(alias string) bool) {
	if claimed[col] {
		return
	}
	for _, target := range targets {
		if _, done := m[target.Field]; done {
			continue
		}
		for _, alias := range target.Aliases {
			if match(alias) {
				m[target.Field] = col
				claimed[col] = true
				return
			}
		}
	}
}

func aliasPattern(alias string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(alias) + `\b`)
}

// Has reports whether the field was mapped.
func (m HeaderMap) Has(f Field) bool {
	_, ok := m[f]
	return ok
}

// Cell returns the cell of row mapped to f, or an empty cell.
func (m HeaderMap) Cell(row []Cell, f Field) Cell {
	idx, ok := m[f]
	if !ok || idx < 0 || idx >= len(row) {
		return Cell{}
	}
	return row[idx]
}

// Names returns the mapping keyed by field name, for reporting.
func (m HeaderMap) Names() map[string]int {
	out := make(map[string]int, len(m))
	for f, idx := range m {
		out[string(f)] = idx
	}
	return out
}
