package application

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	recon "ledger-recon/internal/recon/domain"
)

// WindowConfig is a date window in days around an anchor.
type WindowConfig struct {
	PreDays  int `yaml:"pre_days"`
	PostDays int `yaml:"post_days"`
}

// ReservationConfig scopes the booking settle listing.
type ReservationConfig struct {
	Source    string `yaml:"source"`
	PreDays   int    `yaml:"pre_days"`
	ItemsPre  int    `yaml:"items_pre"`
	ItemsPost int    `yaml:"items_post"`
}

// MethodConfig is one method classification rule.
type MethodConfig struct {
	Contains string `yaml:"contains"`
	Method   string `yaml:"method"`
}

// Config holds reconciliation parameters.
type Config struct {
	Tolerance          string            `yaml:"tolerance"`
	SentOffsetDays     int               `yaml:"sent_offset_days"`
	TopK               int               `yaml:"top_k"`
	InflowCandidates   int               `yaml:"inflow_candidates"`
	MaxInflowAnchors   int               `yaml:"max_inflow_anchors"`
	Concurrency        int               `yaml:"concurrency"`
	InflowMovementType string            `yaml:"inflow_movement_type"`
	Banks              WindowConfig      `yaml:"banks"`
	Inflows            WindowConfig      `yaml:"inflows"`
	Reservations       ReservationConfig `yaml:"reservations"`
	Methods            []MethodConfig    `yaml:"methods"`
}

// DefaultConfig returns the built-in parameters.
func DefaultConfig() Config {
	return Config{
		Tolerance:          "1.00",
		SentOffsetDays:     9,
		TopK:               5,
		InflowCandidates:   3,
		MaxInflowAnchors:   500,
		Concurrency:        4,
		InflowMovementType: "Abono",
		Banks:              WindowConfig{PreDays: 14, PostDays: 10},
		Inflows:            WindowConfig{PreDays: 14, PostDays: 10},
		Reservations:       ReservationConfig{Source: "Airbnb", PreDays: 5, ItemsPre: 31, ItemsPost: 31},
	}
}

// LoadConfig loads defaults, then RECON_CONFIG yaml, then env overrides.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("RECON_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("RECON_TOLERANCE"); v != "" {
		cfg.Tolerance = v
	}
	cfg.SentOffsetDays = getenvIntDefault("RECON_SENT_OFFSET_DAYS", cfg.SentOffsetDays)
	cfg.TopK = getenvIntDefault("RECON_TOP_K", cfg.TopK)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the parameters.
func (c Config) Validate() error {
	tol, err := c.ToleranceAmount()
	if err != nil {
		return err
	}
	if tol.IsNegative() {
		return fmt.Errorf("recon config: negative tolerance %s", c.Tolerance)
	}
	if c.TopK < 1 || c.InflowCandidates < 1 || c.MaxInflowAnchors < 1 {
		return fmt.Errorf("recon config: top_k, inflow_candidates and max_inflow_anchors must be positive")
	}
	if _, err := c.MethodTable(); err != nil {
		return err
	}
	return nil
}

// ToleranceAmount parses Tolerance.
func (c Config) ToleranceAmount() (decimal.Decimal, error) {
	tol, err := decimal.NewFromString(strings.TrimSpace(c.Tolerance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("recon config: tolerance %q: %w", c.Tolerance, err)
	}
	return tol, nil
}

// MethodTable builds the classifier. No configured rules means the
// built-in table.
func (c Config) MethodTable() (recon.MethodTable, error) {
	if len(c.Methods) == 0 {
		return recon.DefaultMethodTable(), nil
	}
	table := make(recon.MethodTable, 0, len(c.Methods))
	for _, m := range c.Methods {
		method, err := recon.ParseMethod(m.Method)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(m.Contains) == "" {
			return nil, fmt.Errorf("recon config: empty contains for method %s", m.Method)
		}
		table = append(table, recon.MethodRule{Contains: m.Contains, Method: method})
	}
	return table, nil
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
