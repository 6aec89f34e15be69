package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/garvit124/AutoPO/internal/domain"
)

// InventoryRepository is the SQL stock ledger. Reservations lock the product
// row, so concurrent reservations of one product are serialized.
type InventoryRepository struct {
	pool *pgxpool.Pool
	conn
}

func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool, conn: conn{pool: pool}}
}

func (r *InventoryRepository) ReadStock(ctx context.Context, productIDs []string) (map[string]int, error) {
	stock := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return stock, nil
	}

	rows, err := r.query(ctx, `SELECT id, available FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("read stock: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id        string
			available int
		)
		if err := rows.Scan(&id, &available); err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		stock[id] = available
	}
	return stock, rows.Err()
}

// Reserve takes min(qty, available) units. An unknown product reserves nothing.
func (r *InventoryRepository) Reserve(ctx context.Context, productID string, qty int) (int, bool, error) {
	if qty <= 0 {
		return 0, false, nil
	}

	var reserved int
	err := withTx(ctx, r.pool, func(txCtx context.Context) error {
		var available int
		err := r.queryRow(txCtx, `SELECT available FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&available)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock product: %w", err)
		}

		reserved = min(qty, max(available, 0))
		if reserved == 0 {
			return nil
		}
		_, err = r.exec(txCtx, `
UPDATE products
SET available = available - $2, units_sold = units_sold + $2, updated_at = NOW()
WHERE id = $1`, productID, reserved)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return reserved, reserved < qty, nil
}

func (r *InventoryRepository) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	const stmt = `
INSERT INTO products (id, name, available)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, available = EXCLUDED.available, updated_at = NOW()
RETURNING id, name, available, units_sold`

	var p domain.Product
	if err := r.queryRow(ctx, stmt, product.ID, product.Name, product.Available).
		Scan(&p.ID, &p.Name, &p.Available, &p.UnitsSold); err != nil {
		return domain.Product{}, fmt.Errorf("upsert product: %w", err)
	}
	return p, nil
}

func (r *InventoryRepository) Restock(ctx context.Context, productID string, delta int) (domain.Product, error) {
	const stmt = `
UPDATE products
SET available = available + $2, updated_at = NOW()
WHERE id = $1
RETURNING id, name, available, units_sold`

	var p domain.Product
	if err := r.queryRow(ctx, stmt, productID, delta).Scan(&p.ID, &p.Name, &p.Available, &p.UnitsSold); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("restock product: %w", err)
	}
	return p, nil
}

func (r *InventoryRepository) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.query(ctx, `SELECT id, name, available, units_sold FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Available, &p.UnitsSold); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
