package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Requests for the screener HTTP endpoints.

type MatchesRequest struct {
	Collection string `param:"collection" json:"collection" validate:"required"`
	Search     string `query:"search" json:"search" validate:"max=32"`
	Page       int    `query:"page" json:"page" default:"1"`
	PageSize   int    `query:"page_size" json:"page_size" default:"20"`
}

type RuleRequest struct {
	Kind         string `json:"kind" validate:"required,oneof=volume_multiple value_threshold"`
	Multiplier   string `json:"multiplier" validate:"required_if=Kind volume_multiple,omitempty,numeric"`
	LookbackDays int    `json:"lookback_days" validate:"omitempty,gte=1,lte=30"`
	Threshold    string `json:"threshold" validate:"required_if=Kind value_threshold,omitempty,numeric"`
	Currency     string `json:"currency" validate:"omitempty,alpha,len=3"`
}

// Spec converts the request into a RuleSpec. Unset lookback and currency
// fall back to the given defaults.
func (r RuleRequest) Spec(defaultLookback int, defaultCurrency string) (RuleSpec, error) {
	spec := RuleSpec{Kind: RuleKind(r.Kind), LookbackDays: r.LookbackDays, Currency: r.Currency}
	if spec.LookbackDays == 0 {
		spec.LookbackDays = defaultLookback
	}
	if spec.Currency == "" {
		spec.Currency = defaultCurrency
	}
	var err error
	if r.Multiplier != "" {
		if spec.Multiplier, err = decimal.NewFromString(r.Multiplier); err != nil {
			return RuleSpec{}, fmt.Errorf("%w: multiplier: %v", ErrConfiguration, err)
		}
	}
	if r.Threshold != "" {
		if spec.Threshold, err = decimal.NewFromString(r.Threshold); err != nil {
			return RuleSpec{}, fmt.Errorf("%w: threshold: %v", ErrConfiguration, err)
		}
	}
	return spec, nil
}
