package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/rl1809/stock-orders/internal/core/domain"
	"github.com/rl1809/stock-orders/internal/port"
)

var ErrInvalidProduct = errors.New("product id (SKU) is required")

type CatalogService struct {
	store port.DocumentStore
	opts  options
}

func NewCatalogService(store port.DocumentStore, opts ...Option) *CatalogService {
	return &CatalogService{store: store, opts: newOptions(opts)}
}

// CreateProduct stores p under its SKU. It fails if the SKU is taken.
func (s *CatalogService) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	if p.ID == "" {
		return domain.Product{}, ErrInvalidProduct
	}
	if p.PackageQuantity <= 0 {
		p.PackageQuantity = 1
	}
	now := s.opts.timestamp()
	p.CreatedAt, p.UpdatedAt = now, now

	data, err := port.Encode(p)
	if err != nil {
		return domain.Product{}, err
	}
	_, err = s.store.Create(ctx, port.Doc(collProducts, p.ID), data)
	if errors.Is(err, port.ErrAlreadyExists) {
		return domain.Product{}, fmt.Errorf("sku %s: %w", p.ID, domain.ErrProductExists)
	}
	if err != nil {
		return domain.Product{}, domain.NewRemoteError("create product", err)
	}

	s.opts.logger.Info("product created", "product_id", p.ID)
	return p, nil
}

// ProductUpdate holds the fields to change. Nil fields are left untouched.
type ProductUpdate struct {
	Name            *string          `json:"name,omitempty"`
	Brand           *string          `json:"brand,omitempty"`
	Weight          *domain.Weight   `json:"weight,omitempty"`
	ImageURL        *string          `json:"imageUrl,omitempty"`
	Cost            *decimal.Decimal `json:"cost,omitempty"`
	PackageQuantity *int             `json:"packageQuantity,omitempty"`
	StockQuantity   *int             `json:"stockQuantity,omitempty"`
}

func (s *CatalogService) UpdateProduct(ctx context.Context, id string, u ProductUpdate) (domain.Product, error) {
	if u.PackageQuantity != nil && *u.PackageQuantity <= 0 {
		one := 1
		u.PackageQuantity = &one
	}
	data, err := port.Encode(u)
	if err != nil {
		return domain.Product{}, err
	}
	data["updatedAt"] = s.opts.timestamp()

	err = s.store.Update(ctx, port.Doc(collProducts, id), data)
	if errors.Is(err, port.ErrNotFound) {
		return domain.Product{}, fmt.Errorf("sku %s: %w", id, domain.ErrProductNotFound)
	}
	if err != nil {
		return domain.Product{}, domain.NewRemoteError("update product", err)
	}
	return s.GetProduct(ctx, id)
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	doc, err := s.store.Get(ctx, port.Doc(collProducts, id))
	if errors.Is(err, port.ErrNotFound) {
		return domain.Product{}, fmt.Errorf("sku %s: %w", id, domain.ErrProductNotFound)
	}
	if err != nil {
		return domain.Product{}, domain.NewRemoteError("get product", err)
	}
	return decodeProduct(doc)
}

// ListProducts returns the catalog sorted by brand, then name. A non-empty
// brand restricts the list to that brand.
func (s *CatalogService) ListProducts(ctx context.Context, brand string) ([]domain.Product, error) {
	q := port.Query{Collection: port.Collection(collProducts)}
	if brand != "" {
		q.Where = []port.Filter{{Field: "brand", Value: brand}}
	}
	docs, err := s.store.GetAll(ctx, q)
	if err != nil {
		return nil, domain.NewRemoteError("list products", err)
	}

	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		p, err := decodeProduct(doc)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	sort.SliceStable(products, func(i, j int) bool {
		if products[i].Brand != products[j].Brand {
			return products[i].Brand < products[j].Brand
		}
		return products[i].Name < products[j].Name
	})
	return products, nil
}

// Brands lists the distinct brands in the catalog, sorted.
func (s *CatalogService) Brands(ctx context.Context) ([]string, error) {
	products, err := s.ListProducts(ctx, "")
	if err != nil {
		return nil, err
	}
	var brands []string
	for _, p := range products {
		if p.Brand == "" {
			continue
		}
		if n := len(brands); n == 0 || brands[n-1] != p.Brand {
			brands = append(brands, p.Brand)
		}
	}
	return brands, nil
}

func decodeProduct(doc port.Document) (domain.Product, error) {
	var p domain.Product
	if err := doc.Decode(&p); err != nil {
		return domain.Product{}, err
	}
	p.ID = doc.Ref.ID
	return p, nil
}
