// Package refdata seeds coupons, tax rules and shipping rates from a YAML file.
package refdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/apperr"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/coupon"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/shipping"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/tax"
)

type File struct {
	Coupons       []coupon.CreateInput       `yaml:"coupons"`
	TaxRules      []tax.CreateRuleInput      `yaml:"tax_rules"`
	ShippingRates []shipping.CreateRateInput `yaml:"shipping_rates"`
}

type Coupons interface {
	CreateCoupon(ctx context.Context, input coupon.CreateInput) (*coupon.Coupon, error)
}

type Taxes interface {
	CreateTaxRule(ctx context.Context, input tax.CreateRuleInput) (*tax.Rule, error)
	ListTaxRules(ctx context.Context, country string) ([]tax.Rule, error)
}

type Rates interface {
	CreateRate(ctx context.Context, input shipping.CreateRateInput) (*shipping.Rate, error)
	ListRates(ctx context.Context, country string) ([]shipping.Rate, error)
}

// Summary counts what a Seed call created.
type Summary struct {
	Coupons       int
	TaxRules      int
	ShippingRates int
}

func Parse(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("refdata: failed to parse seed file: %w", err)
	}
	return &f, nil
}

func Load(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("refdata: failed to open %s: %w", path, err)
	}
	defer fh.Close()
	return Parse(fh)
}

type Seeder struct {
	coupons Coupons
	taxes   Taxes
	rates   Rates
}

func NewSeeder(coupons Coupons, taxes Taxes, rates Rates) *Seeder {
	return &Seeder{coupons: coupons, taxes: taxes, rates: rates}
}

// Seed is safe to run on every start. Coupons that already exist are
// skipped by code; tax rules and shipping rates are only written into empty
// tables since they carry no natural key.
func (s *Seeder) Seed(ctx context.Context, f *File) (Summary, error) {
	var sum Summary

	for _, in := range f.Coupons {
		_, err := s.coupons.CreateCoupon(ctx, in)
		if errors.Is(err, apperr.ErrConflict) {
			log.Debug().Ctx(ctx).Str("coupon_code", in.Code).Msg("refdata: coupon already present")
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("refdata: coupon %q: %w", in.Code, err)
		}
		sum.Coupons++
	}

	existingRules, err := s.taxes.ListTaxRules(ctx, "")
	if err != nil {
		return sum, fmt.Errorf("refdata: %w", err)
	}
	if len(existingRules) == 0 {
		for i, in := range f.TaxRules {
			if _, err := s.taxes.CreateTaxRule(ctx, in); err != nil {
				return sum, fmt.Errorf("refdata: tax rule #%d (%s): %w", i+1, in.Country, err)
			}
			sum.TaxRules++
		}
	}

	existingRates, err := s.rates.ListRates(ctx, "")
	if err != nil {
		return sum, fmt.Errorf("refdata: %w", err)
	}
	if len(existingRates) == 0 {
		for i, in := range f.ShippingRates {
			if _, err := s.rates.CreateRate(ctx, in); err != nil {
				return sum, fmt.Errorf("refdata: shipping rate #%d (%s): %w", i+1, in.Method, err)
			}
			sum.ShippingRates++
		}
	}

	log.Info().Ctx(ctx).Int("coupons", sum.Coupons).Int("tax_rules", sum.TaxRules).
		Int("shipping_rates", sum.ShippingRates).Msg("refdata: reference data seeded")
	return sum, nil
}
