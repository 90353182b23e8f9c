package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-orders/internal/adapter/storage"
	"github.com/rl1809/stock-orders/internal/core/domain"
)

func TestCatalog_CreateRejectsDuplicateSKU(t *testing.T) {
	svc := NewCatalogService(storage.NewMemoryStore(), WithClock(fixedClock()))
	ctx := context.Background()

	p, err := svc.CreateProduct(ctx, domain.Product{ID: "SKU-1", Name: "Rice", Cost: decimal.RequireFromString("12.50")})
	require.NoError(t, err)
	assert.Equal(t, 1, p.PackageQuantity, "package quantity defaults to 1")

	_, err = svc.CreateProduct(ctx, domain.Product{ID: "SKU-1", Name: "Other"})
	assert.ErrorIs(t, err, domain.ErrProductExists)

	_, err = svc.CreateProduct(ctx, domain.Product{Name: "No SKU"})
	assert.ErrorIs(t, err, ErrInvalidProduct)

	got, err := svc.GetProduct(ctx, "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, "Rice", got.Name)
	assert.True(t, got.Cost.Equal(decimal.RequireFromString("12.5")))
}

func TestCatalog_UpdateIsPartial(t *testing.T) {
	svc := NewCatalogService(storage.NewMemoryStore())
	ctx := context.Background()
	_, err := svc.CreateProduct(ctx, domain.Product{ID: "SKU-1", Name: "Rice", Brand: "Acme", StockQuantity: 10})
	require.NoError(t, err)

	stock := 25
	p, err := svc.UpdateProduct(ctx, "SKU-1", ProductUpdate{StockQuantity: &stock})
	require.NoError(t, err)
	assert.Equal(t, 25, p.StockQuantity)
	assert.Equal(t, "Rice", p.Name)
	assert.Equal(t, "Acme", p.Brand)

	_, err = svc.UpdateProduct(ctx, "missing", ProductUpdate{StockQuantity: &stock})
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestCatalog_ListSortedByBrandThenName(t *testing.T) {
	svc := NewCatalogService(storage.NewMemoryStore())
	ctx := context.Background()
	for _, p := range []domain.Product{
		{ID: "1", Brand: "Zed", Name: "Alpha"},
		{ID: "2", Brand: "Acme", Name: "Zucchini"},
		{ID: "3", Brand: "Acme", Name: "Beans"},
	} {
		_, err := svc.CreateProduct(ctx, p)
		require.NoError(t, err)
	}

	products, err := svc.ListProducts(ctx, "")
	require.NoError(t, err)
	ids := make([]string, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"3", "2", "1"}, ids)

	acme, err := svc.ListProducts(ctx, "Acme")
	require.NoError(t, err)
	assert.Len(t, acme, 2)

	brands, err := svc.Brands(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "Zed"}, brands)
}
