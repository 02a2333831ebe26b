package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

type catalogRepository struct {
	db *sql.DB
}

// NewCatalog создаёт справочник товаров поверх таблицы catalog_products.
func NewCatalog(store *Store) domain.Catalog {
	return &catalogRepository{db: store.DB()}
}

func (r *catalogRepository) Lookup(ctx context.Context, refID string) (domain.Product, error) {
	refID = strings.TrimSpace(refID)
	if refID == "" {
		return domain.Product{}, domain.ErrRefIDRequired
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var product domain.Product
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, price_minor, tax_minor, currency, active
		FROM catalog_products
		WHERE id = $1
	`, refID).Scan(&product.ID, &product.Name, &product.PriceMinor, &product.TaxMinor, &product.Currency, &product.Active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, classify("catalog.lookup", err)
	}
	return product, nil
}

// UpsertProduct добавляет или обновляет товар (используется для наполнения справочника).
func UpsertProduct(ctx context.Context, store *Store, product domain.Product) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	_, err := store.DB().ExecContext(ctx, `
		INSERT INTO catalog_products (id, name, price_minor, tax_minor, currency, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    tax_minor = EXCLUDED.tax_minor,
		    currency = EXCLUDED.currency,
		    active = EXCLUDED.active
	`, product.ID, product.Name, product.PriceMinor, product.TaxMinor, product.Currency, product.Active)
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", product.ID, err)
	}
	return nil
}

var _ domain.Catalog = (*catalogRepository)(nil)
