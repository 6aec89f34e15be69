package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/garvit124/AutoPO/internal/app"
	"github.com/garvit124/AutoPO/internal/domain"
)

const orderColumns = `id, po_number, buyer, buyer_email, buyer_address, supplier, status, offered, reserved, created_at, updated_at`

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) error {
	offered, reserved, err := encodeAllocations(order)
	if err != nil {
		return err
	}

	return s.WithTx(ctx, func(txCtx context.Context) error {
		_, err := s.q(txCtx).ExecContext(txCtx, `
INSERT INTO purchase_orders (`+orderColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID,
			order.PONumber,
			order.Buyer,
			order.BuyerEmail,
			order.BuyerAddress,
			order.Supplier,
			string(order.Status),
			offered,
			reserved,
			toMillis(order.CreatedAt),
			toMillis(order.UpdatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrIdempotencyConflict
			}
			return fmt.Errorf("create order: %w", err)
		}

		for i, item := range order.Items {
			_, err := s.q(txCtx).ExecContext(txCtx, `
INSERT INTO purchase_order_items (order_id, line_no, product_id, product_name, quantity, unit_price)
VALUES (?, ?, ?, ?, ?, ?)`,
				order.ID, i+1, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice.String(),
			)
			if err != nil {
				if isUniqueViolation(err) {
					return domain.ErrDuplicateLineItem
				}
				return fmt.Errorf("create order item: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = ?`, orderID)
}

// GetOrderForUpdate reads the order. Inside WithTx the write lock is already
// held, so no row lock is needed.
func (s *Store) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return s.GetOrder(ctx, orderID)
}

func (s *Store) FindOrderByPONumber(ctx context.Context, poNumber string) (*domain.Order, error) {
	order, err := s.getOrder(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE po_number = ?`, poNumber)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *Store) getOrder(ctx context.Context, query, arg string) (domain.Order, error) {
	order, err := scanOrder(s.q(ctx).QueryRowContext(ctx, query, arg).Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}
	items, err := s.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (s *Store) SaveOrder(ctx context.Context, order domain.Order, expected domain.OrderStatus) error {
	offered, reserved, err := encodeAllocations(order)
	if err != nil {
		return err
	}

	res, err := s.q(ctx).ExecContext(ctx, `
UPDATE purchase_orders
SET status = ?, offered = ?, reserved = ?, updated_at = ?
WHERE id = ? AND status = ?`,
		string(order.Status), offered, reserved, toMillis(order.UpdatedAt), order.ID, string(expected),
	)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save order rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	if err := s.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM purchase_orders WHERE id = ?`, order.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if exists == 0 {
		return domain.ErrOrderNotFound
	}
	return domain.ErrConcurrentUpdate
}

func (s *Store) ListOrders(ctx context.Context, filter app.OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	var status any
	if filter.Status != nil {
		status = string(*filter.Status)
	}

	rows, err := s.q(ctx).QueryContext(ctx, `
SELECT `+orderColumns+`
FROM purchase_orders
WHERE ?1 IS NULL OR status = ?1
ORDER BY created_at DESC, po_number
LIMIT ?2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	_ = rows.Close()

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := s.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) CountOrdersByStatus(ctx context.Context) (map[domain.OrderStatus]int, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT status, COUNT(*) FROM purchase_orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OrderStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[domain.OrderStatus(status)] = n
	}
	return counts, rows.Err()
}

func (s *Store) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.LineItem, error) {
	items := make(map[string][]domain.LineItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return items, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(orderIDs)), ",")
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}

	rows, err := s.q(ctx).QueryContext(ctx, `
SELECT order_id, product_id, product_name, quantity, unit_price
FROM purchase_order_items
WHERE order_id IN (`+placeholders+`)
ORDER BY order_id, line_no`, args...)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID string
			price   string
			item    domain.LineItem
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Quantity, &price); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if item.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse unit price %q: %w", price, err)
		}
		items[orderID] = append(items[orderID], item)
	}
	return items, rows.Err()
}

func scanOrder(scan func(dest ...any) error) (domain.Order, error) {
	var (
		o                    domain.Order
		status               string
		offered, reserved    string
		createdAt, updatedAt int64
	)
	if err := scan(
		&o.ID,
		&o.PONumber,
		&o.Buyer,
		&o.BuyerEmail,
		&o.BuyerAddress,
		&o.Supplier,
		&status,
		&offered,
		&reserved,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = fromMillis(createdAt)
	o.UpdatedAt = fromMillis(updatedAt)
	if err := decodeAllocations(offered, &o.Offered); err != nil {
		return domain.Order{}, err
	}
	if err := decodeAllocations(reserved, &o.Reserved); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func encodeAllocations(order domain.Order) (offered, reserved string, err error) {
	encode := func(a []domain.Allocation) (string, error) {
		if a == nil {
			a = []domain.Allocation{}
		}
		raw, err := json.Marshal(a)
		return string(raw), err
	}
	if offered, err = encode(order.Offered); err != nil {
		return "", "", fmt.Errorf("encode offered: %w", err)
	}
	if reserved, err = encode(order.Reserved); err != nil {
		return "", "", fmt.Errorf("encode reserved: %w", err)
	}
	return offered, reserved, nil
}

func decodeAllocations(raw string, dst *[]domain.Allocation) error {
	var out []domain.Allocation
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return fmt.Errorf("decode allocations: %w", err)
	}
	if len(out) > 0 {
		*dst = out
	}
	return nil
}
