package tax

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/money"
)

var (
	ErrRuleNotFound   = apperr.New(apperr.ErrNotFound, "tax rule not found")
	ErrNegativeAmount = apperr.New(apperr.ErrValidation, "taxable amount cannot be negative")
	ErrInvalidRate    = apperr.New(apperr.ErrValidation, "invalid tax rate")
	ErrInvalidRule    = apperr.New(apperr.ErrValidation, "invalid tax rule")
)

var hundred = decimal.NewFromInt(100)

type Engine interface {
	CalculateTax(ctx context.Context, amount int64, country, region, category string) (Result, error)
	CreateTaxRule(ctx context.Context, input CreateRuleInput) (*Rule, error)
	ListTaxRules(ctx context.Context, country string) ([]Rule, error)
	DeactivateTaxRule(ctx context.Context, id uuid.UUID) error
}

type engine struct {
	repo Repository
}

func NewEngine(repo Repository) Engine {
	return &engine{repo: repo}
}

func (e *engine) CalculateTax(ctx context.Context, amount int64, country, region, category string) (Result, error) {
	if amount < 0 {
		return Result{}, fmt.Errorf("%w: %d", ErrNegativeAmount, amount)
	}

	country, region, category = normalizeCountry(country), normalizeRegion(region), normalizeCategory(category)

	candidates, err := e.repo.FindActive(ctx, country, category)
	if err != nil {
		log.Error().Ctx(ctx).Err(err).Str("country", country).Str("category", category).Msg("tax: failed to load tax rules")
		return Result{}, fmt.Errorf("tax: failed to resolve rule: %w", err)
	}

	rule := resolve(candidates, region)
	if rule == nil {
		return Result{TaxRate: decimal.Zero, TotalWithTax: amount}, nil
	}

	taxAmount := rule.Rate.Round(0).IntPart()
	if rule.Type == TypePercentage {
		taxAmount = money.Percent(amount, rule.Rate)
	}

	id := rule.ID
	return Result{
		TaxAmount:    taxAmount,
		TaxRate:      rule.Rate,
		TaxType:      rule.Type,
		RuleID:       &id,
		TotalWithTax: amount + taxAmount,
	}, nil
}

// resolve picks the most specific active rule: a region match beats a
// country-wide rule, and among equals a default rule wins.
func resolve(candidates []Rule, region string) *Rule {
	var regional, national *Rule
	for i := range candidates {
		rule := &candidates[i]
		if !rule.IsActive {
			continue
		}
		switch {
		case rule.Region == nil:
			if national == nil || (!national.IsDefault && rule.IsDefault) {
				national = rule
			}
		case region != "" && strings.EqualFold(*rule.Region, region):
			if regional == nil || (!regional.IsDefault && rule.IsDefault) {
				regional = rule
			}
		}
	}
	if regional != nil {
		return regional
	}
	return national
}

func (e *engine) CreateTaxRule(ctx context.Context, input CreateRuleInput) (*Rule, error) {
	if err := validateRule(input); err != nil {
		return nil, err
	}

	rule := &Rule{
		Name:      strings.TrimSpace(input.Name),
		Country:   normalizeCountry(input.Country),
		Category:  normalizeCategory(input.Category),
		Type:      input.Type,
		Rate:      input.Rate,
		IsDefault: input.IsDefault,
		IsActive:  true,
	}
	if input.Region != nil {
		if region := normalizeRegion(*input.Region); region != "" {
			rule.Region = &region
		}
	}

	if err := e.repo.Create(ctx, rule); err != nil {
		log.Error().Ctx(ctx).Err(err).Str("country", rule.Country).Msg("tax: failed to create tax rule")
		return nil, fmt.Errorf("tax: failed to create rule: %w", err)
	}

	log.Info().Ctx(ctx).Stringer("tax_rule_id", rule.ID).Str("country", rule.Country).Str("category", rule.Category).Msg("tax: rule created")
	return rule, nil
}

func (e *engine) ListTaxRules(ctx context.Context, country string) ([]Rule, error) {
	rules, err := e.repo.List(ctx, normalizeCountry(country))
	if err != nil {
		return nil, fmt.Errorf("tax: failed to list rules: %w", err)
	}
	return rules, nil
}

func (e *engine) DeactivateTaxRule(ctx context.Context, id uuid.UUID) error {
	if err := e.repo.SetActive(ctx, id, false); err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return ErrRuleNotFound
		}
		return fmt.Errorf("tax: failed to deactivate rule %s: %w", id, err)
	}
	return nil
}

func validateRule(input CreateRuleInput) error {
	if len(strings.TrimSpace(input.Country)) != 2 {
		return fmt.Errorf("%w: country must be an ISO 3166-1 alpha-2 code", ErrInvalidRule)
	}
	if input.Rate.IsNegative() {
		return fmt.Errorf("%w: rate %s is negative", ErrInvalidRate, input.Rate)
	}
	switch input.Type {
	case TypePercentage:
		if input.Rate.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage rate %s exceeds 100", ErrInvalidRate, input.Rate)
		}
	case TypeFixed:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, input.Type)
	}
	return nil
}

func normalizeCountry(country string) string {
	return strings.ToUpper(strings.TrimSpace(country))
}

func normalizeRegion(region string) string {
	return strings.ToUpper(strings.TrimSpace(region))
}

func normalizeCategory(category string) string {
	category = strings.ToLower(strings.TrimSpace(category))
	if category == "" {
		return DefaultCategory
	}
	return category
}
