package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/garvit124/AutoPO/internal/domain"
)

const nowMillis = `CAST(strftime('%s', 'now') AS INTEGER) * 1000`

func (s *Store) ReadStock(ctx context.Context, productIDs []string) (map[string]int, error) {
	stock := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return stock, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(productIDs)), ",")
	args := make([]any, len(productIDs))
	for i, id := range productIDs {
		args[i] = id
	}

	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id, available FROM products WHERE id IN (`+placeholders+`)`, args...)
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
func (s *Store) Reserve(ctx context.Context, productID string, qty int) (int, bool, error) {
	if qty <= 0 {
		return 0, false, nil
	}

	var reserved int
	err := s.WithTx(ctx, func(txCtx context.Context) error {
		var available int
		err := s.q(txCtx).QueryRowContext(txCtx, `SELECT available FROM products WHERE id = ?`, productID).Scan(&available)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read product: %w", err)
		}

		reserved = min(qty, max(available, 0))
		if reserved == 0 {
			return nil
		}
		_, err = s.q(txCtx).ExecContext(txCtx, `
UPDATE products
SET available = available - ?2, units_sold = units_sold + ?2, updated_at = `+nowMillis+`
WHERE id = ?1`, productID, reserved)
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

func (s *Store) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	var p domain.Product
	err := s.q(ctx).QueryRowContext(ctx, `
INSERT INTO products (id, name, available, updated_at)
VALUES (?1, ?2, ?3, `+nowMillis+`)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, available = excluded.available, updated_at = excluded.updated_at
RETURNING id, name, available, units_sold`, product.ID, product.Name, product.Available).
		Scan(&p.ID, &p.Name, &p.Available, &p.UnitsSold)
	if err != nil {
		return domain.Product{}, fmt.Errorf("upsert product: %w", err)
	}
	return p, nil
}

func (s *Store) Restock(ctx context.Context, productID string, delta int) (domain.Product, error) {
	var p domain.Product
	err := s.q(ctx).QueryRowContext(ctx, `
UPDATE products
SET available = available + ?2, updated_at = `+nowMillis+`
WHERE id = ?1
RETURNING id, name, available, units_sold`, productID, delta).
		Scan(&p.ID, &p.Name, &p.Available, &p.UnitsSold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("restock product: %w", err)
	}
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id, name, available, units_sold FROM products ORDER BY id`)
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
