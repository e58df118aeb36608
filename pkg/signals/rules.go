// Package signals classifies an entity's revenue trend into CRM health signals.
//
// Revenue is compared across two equal windows ending at the evaluation time:
// the trailing window (asOf-TrailingDays, asOf] and the prior window before it.
// Rules run in ascending priority. An exclusive rule only fires when nothing
// has matched yet and stops evaluation; non-exclusive rules accumulate.
package signals

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/daseme/ctv-bookedbiz-db-sub004/pkg/models"
)

type Rule struct {
	Kind      models.SignalKind `yaml:"kind"`
	Label     string            `yaml:"label"`
	Priority  int               `yaml:"priority"`
	Exclusive bool              `yaml:"exclusive"`
}

type Config struct {
	TrailingDays int
	LookbackDays int
	// DecliningRatio: trailing below prior*ratio is declining.
	DecliningRatio decimal.Decimal
	// GrowingRatio: trailing above prior*ratio is growing.
	GrowingRatio decimal.Decimal
	Rules        []Rule
}

func DefaultConfig() Config {
	return Config{
		TrailingDays:   90,
		LookbackDays:   365,
		DecliningRatio: decimal.RequireFromString("0.5"),
		GrowingRatio:   decimal.RequireFromString("1.5"),
		Rules: []Rule{
			{Kind: models.SignalChurned, Label: "Churned", Priority: 1, Exclusive: true},
			{Kind: models.SignalGoneQuiet, Label: "Gone quiet", Priority: 2, Exclusive: true},
			{Kind: models.SignalDeclining, Label: "Declining", Priority: 3, Exclusive: true},
			{Kind: models.SignalNewAccount, Label: "New account", Priority: 4, Exclusive: false},
			{Kind: models.SignalGrowing, Label: "Growing", Priority: 5, Exclusive: false},
		},
	}
}

type configFile struct {
	TrailingDays   *int    `yaml:"trailing_days"`
	LookbackDays   *int    `yaml:"lookback_days"`
	DecliningRatio *string `yaml:"declining_ratio"`
	GrowingRatio   *string `yaml:"growing_ratio"`
	Rules          []Rule  `yaml:"rules"`
}

// LoadConfig reads a YAML rule file. Fields it omits keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read signal rules %s: %w", path, err)
	}

	var file configFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse signal rules %s: %w", path, err)
	}

	if file.TrailingDays != nil {
		cfg.TrailingDays = *file.TrailingDays
	}
	if file.LookbackDays != nil {
		cfg.LookbackDays = *file.LookbackDays
	}
	if file.DecliningRatio != nil {
		if cfg.DecliningRatio, err = decimal.NewFromString(*file.DecliningRatio); err != nil {
			return cfg, fmt.Errorf("signal rules %s: declining_ratio: %w", path, err)
		}
	}
	if file.GrowingRatio != nil {
		if cfg.GrowingRatio, err = decimal.NewFromString(*file.GrowingRatio); err != nil {
			return cfg, fmt.Errorf("signal rules %s: growing_ratio: %w", path, err)
		}
	}
	if len(file.Rules) > 0 {
		cfg.Rules = file.Rules
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("signal rules %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.TrailingDays <= 0 {
		return fmt.Errorf("trailing_days must be positive")
	}
	if c.LookbackDays < c.TrailingDays {
		return fmt.Errorf("lookback_days must be at least trailing_days")
	}
	if !c.DecliningRatio.IsPositive() || !c.GrowingRatio.IsPositive() {
		return fmt.Errorf("ratios must be positive")
	}

	seen := map[models.SignalKind]bool{}
	priorities := map[int]bool{}
	for _, r := range c.Rules {
		if !r.Kind.Valid() {
			return fmt.Errorf("unknown signal kind %q", r.Kind)
		}
		if seen[r.Kind] {
			return fmt.Errorf("signal kind %q listed twice", r.Kind)
		}
		if priorities[r.Priority] {
			return fmt.Errorf("priority %d used twice", r.Priority)
		}
		seen[r.Kind] = true
		priorities[r.Priority] = true
	}
	return nil
}

// ordered returns the rules sorted by ascending priority.
func (c Config) ordered() []Rule {
	rules := append([]Rule(nil), c.Rules...)
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority < rules[j].Priority })
	return rules
}
