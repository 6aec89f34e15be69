package app

import (
	"context"
	"strings"

	"github.com/garvit124/AutoPO/internal/domain"
)

type InventoryService struct {
	repo InventoryAdminRepository
}

func NewInventoryService(repo InventoryAdminRepository) *InventoryService {
	return &InventoryService{repo: repo}
}

type UpsertProductInput struct {
	ProductID string
	Name      string
	Available int
}

// UpsertProduct creates a product or overwrites its name and available stock.
// Units sold are preserved.
func (s *InventoryService) UpsertProduct(ctx context.Context, in UpsertProductInput) (domain.Product, error) {
	id := strings.TrimSpace(in.ProductID)
	if id == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Product{}, domain.ErrProductNameRequired
	}
	if in.Available < 0 {
		return domain.Product{}, domain.ErrInvalidQuantity
	}

	return s.repo.UpsertProduct(ctx, domain.Product{ID: id, Name: name, Available: in.Available})
}

// Restock adds delta units to an existing product.
func (s *InventoryService) Restock(ctx context.Context, productID string, delta int) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, domain.ErrProductIDRequired
	}
	if delta <= 0 {
		return domain.Product{}, domain.ErrInvalidQuantity
	}
	return s.repo.Restock(ctx, productID, delta)
}

func (s *InventoryService) ListInventory(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}
