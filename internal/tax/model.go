package tax

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type RuleType string

const (
	TypePercentage RuleType = "PERCENTAGE"
	TypeFixed      RuleType = "FIXED"
)

const DefaultCategory = "general"

// Rule is a tax rule for a jurisdiction and product category. Rate is a
// percentage for PERCENTAGE rules and minor units for FIXED rules.
type Rule struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Country   string          `json:"country"`
	Region    *string         `json:"region,omitempty"`
	Category  string          `json:"category"`
	Type      RuleType        `json:"type"`
	Rate      decimal.Decimal `json:"rate"`
	IsDefault bool            `json:"is_default"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Result is the outcome of a tax calculation. A nil RuleID means no rule
// matched and the amount is untaxed.
type Result struct {
	TaxAmount    int64           `json:"tax_amount"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	TaxType      RuleType        `json:"tax_type,omitempty"`
	RuleID       *uuid.UUID      `json:"tax_rule_id,omitempty"`
	TotalWithTax int64           `json:"total_with_tax"`
}

type CreateRuleInput struct {
	Name      string          `json:"name" yaml:"name"`
	Country   string          `json:"country" yaml:"country" validate:"required,len=2"`
	Region    *string         `json:"region,omitempty" yaml:"region"`
	Category  string          `json:"category" yaml:"category"`
	Type      RuleType        `json:"type" yaml:"type" validate:"required,oneof=PERCENTAGE FIXED"`
	Rate      decimal.Decimal `json:"rate" yaml:"rate"`
	IsDefault bool            `json:"is_default" yaml:"is_default"`
}
