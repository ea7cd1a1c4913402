package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RuleKind identifies a screening rule variant.
type RuleKind string

const (
	RuleVolumeMultiple RuleKind = "volume_multiple"
	RuleValueThreshold RuleKind = "value_threshold"
)

const (
	MinLookbackDays     = 1
	MaxLookbackDays     = 30
	DefaultLookbackDays = 5
)

// Rule is the active screening condition. Exactly one variant is active at a time.
type Rule interface {
	Kind() RuleKind
	Validate() error
}

// VolumeMultipleRule matches when window volume exceeds Multiplier times the baseline.
type VolumeMultipleRule struct {
	Multiplier   decimal.Decimal `json:"multiplier"`
	LookbackDays int             `json:"lookback_days"`
}

func (r VolumeMultipleRule) Kind() RuleKind { return RuleVolumeMultiple }

func (r VolumeMultipleRule) Validate() error {
	if !r.Multiplier.IsPositive() {
		return fmt.Errorf("%w: multiplier must be positive, got %s", ErrConfiguration, r.Multiplier)
	}
	if r.LookbackDays < MinLookbackDays || r.LookbackDays > MaxLookbackDays {
		return fmt.Errorf("%w: lookback_days must be within %d..%d, got %d",
			ErrConfiguration, MinLookbackDays, MaxLookbackDays, r.LookbackDays)
	}
	return nil
}

// ValueThresholdRule matches when window notional, converted to Currency, exceeds Threshold.
type ValueThresholdRule struct {
	Threshold decimal.Decimal `json:"threshold"`
	Currency  string          `json:"currency"`
}

func (r ValueThresholdRule) Kind() RuleKind { return RuleValueThreshold }

func (r ValueThresholdRule) Validate() error {
	if !r.Threshold.IsPositive() {
		return fmt.Errorf("%w: threshold must be positive, got %s", ErrConfiguration, r.Threshold)
	}
	if strings.TrimSpace(r.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrConfiguration)
	}
	return nil
}

// RuleSpec is the flat, transport-friendly form of a Rule.
type RuleSpec struct {
	Kind         RuleKind        `json:"kind" yaml:"kind"`
	Multiplier   decimal.Decimal `json:"multiplier" yaml:"multiplier"`
	LookbackDays int             `json:"lookback_days,omitempty" yaml:"lookback_days"`
	Threshold    decimal.Decimal `json:"threshold" yaml:"threshold"`
	Currency     string          `json:"currency,omitempty" yaml:"currency"`
}

// Build converts the spec into a validated Rule.
func (s RuleSpec) Build() (Rule, error) {
	var r Rule
	switch s.Kind {
	case RuleVolumeMultiple:
		r = VolumeMultipleRule{Multiplier: s.Multiplier, LookbackDays: s.LookbackDays}
	case RuleValueThreshold:
		r = ValueThresholdRule{Threshold: s.Threshold, Currency: strings.ToUpper(strings.TrimSpace(s.Currency))}
	default:
		return nil, fmt.Errorf("%w: unknown rule kind %q", ErrConfiguration, s.Kind)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// SpecOf flattens a Rule back into a RuleSpec.
func SpecOf(r Rule) RuleSpec {
	switch v := r.(type) {
	case VolumeMultipleRule:
		return RuleSpec{Kind: v.Kind(), Multiplier: v.Multiplier, LookbackDays: v.LookbackDays}
	case ValueThresholdRule:
		return RuleSpec{Kind: v.Kind(), Threshold: v.Threshold, Currency: v.Currency}
	default:
		return RuleSpec{}
	}
}
