package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

// Catalog хранит справочник цен в памяти.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewCatalog создаёт каталог с начальным набором позиций.
func NewCatalog(products ...domain.Product) *Catalog {
	c := &Catalog{products: make(map[string]domain.Product, len(products))}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *Catalog) Lookup(_ context.Context, refID string) (domain.Product, error) {
	refID = strings.TrimSpace(refID)

	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.products[refID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

// Put добавляет или заменяет позицию каталога.
func (c *Catalog) Put(p domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

var _ domain.Catalog = (*Catalog)(nil)
