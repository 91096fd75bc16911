package cache

import (
	"context"
	"time"

	"winepos/backend/internal/domain"
)

// ProductCache sits in front of the product ledger for the barcode-scan hot
// path. It is strictly advisory: stock decisions always go back to the store,
// and committed sales invalidate the entries they touched.
type ProductCache interface {
	Get(ctx context.Context, id string) (*domain.Product, bool, error)
	Set(ctx context.Context, product domain.Product, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type NoopProductCache struct{}

func (NoopProductCache) Get(_ context.Context, _ string) (*domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopProductCache) Set(_ context.Context, _ domain.Product, _ time.Duration) error {
	return nil
}

func (NoopProductCache) Delete(_ context.Context, _ string) error {
	return nil
}
