package recon

import (
	"fmt"
	"strings"
)

// Pool is the candidate set a payout method settles into.
type Pool string

const (
	PoolNone   Pool = ""
	PoolLedger Pool = "ledger"
	PoolBank   Pool = "bank"
	// PoolPayout holds unchecked payouts, searched from ledger inflows.
	PoolPayout Pool = "payout"
)

// Method is a known payout destination.
type Method int

const (
	MethodUnknown Method = iota
	MethodEspiral
	MethodSantander
)

var methodNames = map[Method]string{
	MethodUnknown:   "unknown",
	MethodEspiral:   "espiral",
	MethodSantander: "santander",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return "unknown"
}

// Pool returns the candidate pool of m. Unknown methods have none and are
// never matched automatically.
func (m Method) Pool() Pool {
	switch m {
	case MethodEspiral:
		return PoolLedger
	case MethodSantander:
		return PoolBank
	default:
		return PoolNone
	}
}

// ParseMethod reads a method name as written in configuration.
func ParseMethod(name string) (Method, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for m, s := range methodNames {
		if s == n && m != MethodUnknown {
			return m, nil
		}
	}
	return MethodUnknown, fmt.Errorf("recon: unknown method %q", name)
}

// MethodRule maps a substring of a payout's free-text method to a Method.
type MethodRule struct {
	Contains string
	Method   Method
}

// MethodTable classifies free-text payout methods. Rules are checked in
// order, case-insensitively.
type MethodTable []MethodRule

// DefaultMethodTable returns the built-in rules.
func DefaultMethodTable() MethodTable {
	return MethodTable{
		{Contains: "Sasanero Coordinadora de Servicios", Method: MethodEspiral},
		{Contains: "Espiral", Method: MethodEspiral},
		{Contains: "Santander", Method: MethodSantander},
	}
}

// Classify returns the first rule's method whose substring occurs in raw.
func (t MethodTable) Classify(raw string) Method {
	text := strings.ToLower(raw)
	for _, r := range t {
		if r.Contains != "" && strings.Contains(text, strings.ToLower(r.Contains)) {
			return r.Method
		}
	}
	return MethodUnknown
}
