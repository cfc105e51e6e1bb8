package memory

import (
	"context"

	"escrow-ledger/internal/core/domain"

	"github.com/google/uuid"
)

// ItemCatalog implements ports.ItemCatalog for local runs without the
// marketplace catalogue. Items are registered with SeedItem.
type ItemCatalog struct {
	s *Store
}

// NewItemCatalog creates an ItemCatalog over s.
func NewItemCatalog(s *Store) *ItemCatalog {
	return &ItemCatalog{s: s}
}

func (c *ItemCatalog) GetItem(ctx context.Context, itemID uuid.UUID) (*domain.CatalogItem, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	item, ok := c.s.items[itemID]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

// SeedItem lists an item in the catalogue, replacing any earlier entry.
func (s *Store) SeedItem(item domain.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
}
