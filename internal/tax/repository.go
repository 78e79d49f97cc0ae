package tax

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/ecommerce-microservices/order-payment-service/internal/db"
)

type Repository interface {
	// FindActive returns every active rule for country and category, both
	// region-scoped and country-wide.
	FindActive(ctx context.Context, country, category string) ([]Rule, error)
	Create(ctx context.Context, rule *Rule) error
	List(ctx context.Context, country string) ([]Rule, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const ruleColumns = `id, name, country, region, category, type, rate::text, is_default, is_active, created_at, updated_at`

func (r *postgresRepository) FindActive(ctx context.Context, country, category string) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM tax_rules
		WHERE country = $1 AND category = $2 AND is_active
		ORDER BY region NULLS LAST, is_default DESC, created_at`

	rows, err := db.Conn(ctx, r.db).Query(ctx, query, country, category)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query tax rules for %s/%s: %w", country, category, err)
	}
	return collectRules(rows)
}

func (r *postgresRepository) Create(ctx context.Context, rule *Rule) error {
	if rule.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate tax rule ID: %w", err)
		}
		rule.ID = id
	}
	now := time.Now().UTC()
	rule.CreatedAt, rule.UpdatedAt = now, now

	query := `
		INSERT INTO tax_rules (id, name, country, region, category, type, rate, is_default, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11)
	`
	_, err := db.Conn(ctx, r.db).Exec(ctx, query,
		rule.ID, rule.Name, rule.Country, rule.Region, rule.Category, string(rule.Type),
		rule.Rate.String(), rule.IsDefault, rule.IsActive, rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert tax rule: %w", err)
	}
	return nil
}

func (r *postgresRepository) List(ctx context.Context, country string) ([]Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM tax_rules WHERE ($1 = '' OR country = $1) ORDER BY country, category, region NULLS FIRST`
	rows, err := db.Conn(ctx, r.db).Query(ctx, query, country)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list tax rules: %w", err)
	}
	return collectRules(rows)
}

func (r *postgresRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := db.Conn(ctx, r.db).Exec(ctx,
		`UPDATE tax_rules SET is_active = $1, updated_at = $2 WHERE id = $3`, active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("repository: failed to update tax rule %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func collectRules(rows pgx.Rows) ([]Rule, error) {
	defer rows.Close()

	rules := make([]Rule, 0)
	for rows.Next() {
		var (
			rule     Rule
			ruleType string
			rate     string
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Country, &rule.Region, &rule.Category, &ruleType, &rate,
			&rule.IsDefault, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return nil, fmt.Errorf("repository: failed to scan tax rule: %w", err)
		}
		parsed, err := decimal.NewFromString(rate)
		if err != nil {
			return nil, fmt.Errorf("repository: invalid tax rate %q: %w", rate, err)
		}
		rule.Type = RuleType(ruleType)
		rule.Rate = parsed
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating tax rules: %w", err)
	}
	return rules, nil
}
