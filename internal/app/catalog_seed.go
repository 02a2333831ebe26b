package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// parseCatalogSeed разбирает позиции каталога вида id:price:currency[:tax].
func parseCatalogSeed(entries []string) ([]domain.Product, error) {
	products := make([]domain.Product, 0, len(entries))
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		parts := strings.Split(raw, ":")
		if len(parts) < 3 || len(parts) > 4 {
			return nil, fmt.Errorf("catalog seed %q: expected id:price:currency[:tax]", raw)
		}
		price, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || price < 0 {
			return nil, fmt.Errorf("catalog seed %q: invalid price", raw)
		}
		var tax int64
		if len(parts) == 4 {
			if tax, err = strconv.ParseInt(parts[3], 10, 64); err != nil || tax < 0 {
				return nil, fmt.Errorf("catalog seed %q: invalid tax", raw)
			}
		}
		if parts[0] == "" || len(parts[2]) != 3 {
			return nil, fmt.Errorf("catalog seed %q: invalid id or currency", raw)
		}
		products = append(products, domain.Product{
			ID:         parts[0],
			Name:       parts[0],
			PriceMinor: price,
			TaxMinor:   tax,
			Currency:   strings.ToUpper(parts[2]),
			Active:     true,
		})
	}
	return products, nil
}
