package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/garvit124/AutoPO/internal/app"
	"github.com/garvit124/AutoPO/internal/domain"
)

type OrderRepository struct {
	pool *pgxpool.Pool
	conn
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool, conn: conn{pool: pool}}
}

func (r *OrderRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const orderColumns = `id, po_number, buyer, buyer_email, buyer_address, supplier, status, offered, reserved, created_at, updated_at`

func (r *OrderRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	offered, reserved, err := encodeAllocations(order)
	if err != nil {
		return err
	}

	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		const stmt = `
INSERT INTO purchase_orders (` + orderColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

		_, err := r.exec(txCtx, stmt,
			order.ID,
			order.PONumber,
			order.Buyer,
			order.BuyerEmail,
			order.BuyerAddress,
			order.Supplier,
			order.Status,
			offered,
			reserved,
			order.CreatedAt,
			order.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrIdempotencyConflict
			}
			if isInvalidUUID(err) {
				return domain.ErrInvalidID
			}
			return fmt.Errorf("create order: %w", err)
		}

		const itemStmt = `
INSERT INTO purchase_order_items (order_id, line_no, product_id, product_name, quantity, unit_price)
VALUES ($1, $2, $3, $4, $5, $6::numeric)`
		for i, item := range order.Items {
			if _, err := r.exec(txCtx, itemStmt,
				order.ID, i+1, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice.String(),
			); err != nil {
				if isUniqueViolation(err) {
					return domain.ErrDuplicateLineItem
				}
				return fmt.Errorf("create order item: %w", err)
			}
		}
		return nil
	})
}

func (r *OrderRepository) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, orderID)
}

// GetOrderForUpdate locks the order row until the surrounding transaction ends.
func (r *OrderRepository) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, orderID)
}

func (r *OrderRepository) FindOrderByPONumber(ctx context.Context, poNumber string) (*domain.Order, error) {
	order, err := r.getOrder(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE po_number = $1`, poNumber)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) getOrder(ctx context.Context, query string, arg string) (domain.Order, error) {
	order, err := scanOrder(r.queryRow(ctx, query, arg))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Order{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("get order: %w", err)
	}

	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *OrderRepository) SaveOrder(ctx context.Context, order domain.Order, expected domain.OrderStatus) error {
	offered, reserved, err := encodeAllocations(order)
	if err != nil {
		return err
	}

	const stmt = `
UPDATE purchase_orders
SET status = $2, offered = $3, reserved = $4, updated_at = $5
WHERE id = $1 AND status = $6`

	tag, err := r.exec(ctx, stmt, order.ID, order.Status, offered, reserved, order.UpdatedAt, expected)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("save order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM purchase_orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check order: %w", err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrConcurrentUpdate
}

func (r *OrderRepository) ListOrders(ctx context.Context, filter app.OrderFilter) ([]domain.Order, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	rows, err := r.query(ctx, `
SELECT `+orderColumns+`
FROM purchase_orders
WHERE $1::text IS NULL OR status = $1
ORDER BY created_at DESC, po_number
LIMIT $2`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r *OrderRepository) CountOrdersByStatus(ctx context.Context) (map[domain.OrderStatus]int, error) {
	rows, err := r.query(ctx, `SELECT status, COUNT(*) FROM purchase_orders GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OrderStatus]int)
	for rows.Next() {
		var (
			status domain.OrderStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.LineItem, error) {
	items := make(map[string][]domain.LineItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return items, nil
	}

	rows, err := r.query(ctx, `
SELECT order_id, product_id, product_name, quantity, unit_price::text
FROM purchase_order_items
WHERE order_id = ANY($1::uuid[])
ORDER BY order_id, line_no`, orderIDs)
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

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o                 domain.Order
		offered, reserved []byte
	)
	if err := row.Scan(
		&o.ID,
		&o.PONumber,
		&o.Buyer,
		&o.BuyerEmail,
		&o.BuyerAddress,
		&o.Supplier,
		&o.Status,
		&offered,
		&reserved,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	if err := decodeAllocations(offered, &o.Offered); err != nil {
		return domain.Order{}, err
	}
	if err := decodeAllocations(reserved, &o.Reserved); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func encodeAllocations(order domain.Order) (offered, reserved []byte, err error) {
	if offered, err = json.Marshal(nonNil(order.Offered)); err != nil {
		return nil, nil, fmt.Errorf("encode offered: %w", err)
	}
	if reserved, err = json.Marshal(nonNil(order.Reserved)); err != nil {
		return nil, nil, fmt.Errorf("encode reserved: %w", err)
	}
	return offered, reserved, nil
}

func decodeAllocations(raw []byte, dst *[]domain.Allocation) error {
	if len(raw) == 0 {
		return nil
	}
	var out []domain.Allocation
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode allocations: %w", err)
	}
	if len(out) > 0 {
		*dst = out
	}
	return nil
}

func nonNil(a []domain.Allocation) []domain.Allocation {
	if a == nil {
		return []domain.Allocation{}
	}
	return a
}
