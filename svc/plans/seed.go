package plans

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Seed writes the catalog into the plans table. Existing rows are left
// untouched; plans are reference data and never change at runtime.
func Seed(ctx context.Context, pool *pgxpool.Pool, c Catalog) error {
	for _, p := range c.List(ctx) {
		_, err := pool.Exec(ctx, `
			INSERT INTO plans (plan_key, external_price_ref, price_cents, display_text)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (plan_key) DO NOTHING`,
			string(p.Key), p.ExternalPriceRef, p.PriceCents, p.DisplayText,
		)
		if err != nil {
			return fmt.Errorf("seed plan %q: %w", p.Key, err)
		}
	}
	return nil
}
