// Package redisledger keeps the stock ledger in Redis so several processes
// can reserve against one inventory. Each product is a hash holding
// available, name and units_sold.
//
// A reservation made for an order is also recorded in that order's holds
// hash, in the same script. Holds outlive the process: they are released
// when the order is evaluated again, or by Reconcile once the order's
// committed status shows whether the reservation stuck.
package redisledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garvit124/AutoPO/internal/clock"
	"github.com/garvit124/AutoPO/internal/domain"
	"github.com/garvit124/AutoPO/internal/reservation"
	"github.com/garvit124/AutoPO/internal/storage/txctx"
)

const (
	defaultPrefix = "autopo:"

	fieldAvailable = "available"
	fieldName      = "name"
	fieldUnitsSold = "units_sold"
)

// reserveScript takes min(ARGV[1], available). Returns -1 for an unknown product.
var reserveScript = redis.NewScript(`
local available = tonumber(redis.call('HGET', KEYS[1], 'available'))
if not available then
	return -1
end
local take = math.min(tonumber(ARGV[1]), math.max(available, 0))
if take > 0 then
	redis.call('HINCRBY', KEYS[1], 'available', -take)
	redis.call('HINCRBY', KEYS[1], 'units_sold', take)
end
return take
`)

// reserveHoldScript is reserveScript plus a hold for ARGV[4] on product
// ARGV[2], indexed by ARGV[3] (millis).
var reserveHoldScript = redis.NewScript(`
local available = tonumber(redis.call('HGET', KEYS[1], 'available'))
if not available then
	return -1
end
local take = math.min(tonumber(ARGV[1]), math.max(available, 0))
if take > 0 then
	redis.call('HINCRBY', KEYS[1], 'available', -take)
	redis.call('HINCRBY', KEYS[1], 'units_sold', take)
	redis.call('HINCRBY', KEYS[2], ARGV[2], take)
	redis.call('ZADD', KEYS[3], ARGV[3], ARGV[4])
end
return take
`)

// releaseHoldScript gives back up to ARGV[1] units of the hold on ARGV[2].
var releaseHoldScript = redis.NewScript(`
local held = tonumber(redis.call('HGET', KEYS[2], ARGV[2]) or '0')
local qty = math.min(tonumber(ARGV[1]), held)
if qty <= 0 then
	return 0
end
if redis.call('EXISTS', KEYS[1]) == 1 then
	redis.call('HINCRBY', KEYS[1], 'available', qty)
	redis.call('HINCRBY', KEYS[1], 'units_sold', -qty)
end
if held - qty <= 0 then
	redis.call('HDEL', KEYS[2], ARGV[2])
else
	redis.call('HINCRBY', KEYS[2], ARGV[2], -qty)
end
if redis.call('HLEN', KEYS[2]) == 0 then
	redis.call('ZREM', KEYS[3], ARGV[3])
end
return qty
`)

// clearHoldsScript drops every hold of order ARGV[1]. With ARGV[4] = release
// the units go back to stock (keys built from prefix ARGV[2]); with settle
// they stay sold. A non-empty ARGV[3] skips holds touched after that millis
// cutoff and returns -1.
var clearHoldsScript = redis.NewScript(`
if ARGV[3] ~= '' then
	local score = redis.call('ZSCORE', KEYS[2], ARGV[1])
	if score and tonumber(score) > tonumber(ARGV[3]) then
		return -1
	end
end
local total = 0
if ARGV[4] == 'release' then
	local held = redis.call('HGETALL', KEYS[1])
	for i = 1, #held, 2 do
		local qty = tonumber(held[i + 1])
		local stock = ARGV[2] .. held[i]
		if qty > 0 and redis.call('EXISTS', stock) == 1 then
			redis.call('HINCRBY', stock, 'available', qty)
			redis.call('HINCRBY', stock, 'units_sold', -qty)
			total = total + qty
		end
	end
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return total
`)

var releaseScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HINCRBY', KEYS[1], 'available', ARGV[1])
redis.call('HINCRBY', KEYS[1], 'units_sold', -tonumber(ARGV[1]))
return 1
`)

var restockScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HINCRBY', KEYS[1], 'available', ARGV[1])
`)

type Ledger struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger
	clock  clock.Clock
}

type Option func(*Ledger)

func WithPrefix(prefix string) Option {
	return func(l *Ledger) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(l *Ledger) {
		if clk != nil {
			l.clock = clk
		}
	}
}

func New(client redis.UniversalClient, opts ...Option) *Ledger {
	l := &Ledger{
		client: client,
		prefix: defaultPrefix,
		logger: zap.NewNop(),
		clock:  clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) stockKey(productID string) string {
	return l.prefix + "stock:" + productID
}

func (l *Ledger) indexKey() string {
	return l.prefix + "products"
}

func (l *Ledger) holdsKey(orderID string) string {
	return l.prefix + "holds:" + orderID
}

func (l *Ledger) holdIndexKey() string {
	return l.prefix + "holds"
}

// Ping reports whether Redis is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Ledger) ReadStock(ctx context.Context, productIDs []string) (map[string]int, error) {
	stock := make(map[string]int, len(productIDs))
	if len(productIDs) == 0 {
		return stock, nil
	}

	cmds := make([]*redis.StringCmd, len(productIDs))
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range productIDs {
			cmds[i] = pipe.HGet(ctx, l.stockKey(id), fieldAvailable)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read stock: %w", err)
	}

	for i, cmd := range cmds {
		n, err := cmd.Int()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read stock %s: %w", productIDs[i], err)
		}
		stock[productIDs[i]] = n
	}
	return stock, nil
}

// Reserve atomically takes min(qty, available). When ctx names an order the
// units are recorded as held for it. When ctx carries a SQL transaction the
// units are given back if that transaction rolls back.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) (int, bool, error) {
	if qty <= 0 {
		return 0, false, nil
	}

	orderID := reservation.OrderID(ctx)
	key := l.stockKey(productID)
	var (
		taken int
		err   error
	)
	if orderID == "" {
		taken, err = reserveScript.Run(ctx, l.client, []string{key}, qty).Int()
	} else {
		taken, err = reserveHoldScript.Run(ctx, l.client,
			[]string{key, l.holdsKey(orderID), l.holdIndexKey()},
			qty, productID, l.clock.Now().UnixMilli(), orderID,
		).Int()
	}
	if err != nil {
		return 0, false, fmt.Errorf("reserve %s: %w", productID, err)
	}
	if taken < 0 {
		return 0, true, nil
	}

	if taken > 0 {
		txctx.OnRollback(ctx, func(ctx context.Context) error {
			return l.release(ctx, orderID, productID, taken)
		})
	}
	return taken, taken < qty, nil
}

func (l *Ledger) release(ctx context.Context, orderID, productID string, qty int) error {
	l.logger.Info("releasing reservation",
		zap.String("order_id", orderID),
		zap.String("product_id", productID),
		zap.Int("quantity", qty),
	)
	key := l.stockKey(productID)
	var err error
	if orderID == "" {
		err = releaseScript.Run(ctx, l.client, []string{key}, qty).Err()
	} else {
		err = releaseHoldScript.Run(ctx, l.client,
			[]string{key, l.holdsKey(orderID), l.holdIndexKey()},
			qty, productID, orderID,
		).Err()
	}
	if err != nil {
		return fmt.Errorf("release %s: %w", productID, err)
	}
	return nil
}

// ReleaseHolds returns every unit held for orderID to stock. Callers must
// hold the order's row lock so no attempt for it is in flight.
func (l *Ledger) ReleaseHolds(ctx context.Context, orderID string) error {
	n, err := l.clearHolds(ctx, orderID, "", holdsRelease)
	if err != nil {
		return err
	}
	if n > 0 {
		l.logger.Warn("released holds of an uncommitted attempt",
			zap.String("order_id", orderID),
			zap.Int("units", n),
		)
	}
	return nil
}

const (
	holdsRelease = "release"
	holdsSettle  = "settle"
)

func (l *Ledger) clearHolds(ctx context.Context, orderID, cutoff, mode string) (int, error) {
	n, err := clearHoldsScript.Run(ctx, l.client,
		[]string{l.holdsKey(orderID), l.holdIndexKey()},
		orderID, l.prefix+"stock:", cutoff, mode,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%s holds of %s: %w", mode, orderID, err)
	}
	return n, nil
}

func (l *Ledger) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	key := l.stockKey(product.ID)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldName, product.Name, fieldAvailable, product.Available)
		pipe.HSetNX(ctx, key, fieldUnitsSold, 0)
		pipe.SAdd(ctx, l.indexKey(), product.ID)
		return nil
	})
	if err != nil {
		return domain.Product{}, fmt.Errorf("upsert product: %w", err)
	}
	return l.product(ctx, product.ID)
}

func (l *Ledger) Restock(ctx context.Context, productID string, delta int) (domain.Product, error) {
	n, err := restockScript.Run(ctx, l.client, []string{l.stockKey(productID)}, delta).Int()
	if err != nil {
		return domain.Product{}, fmt.Errorf("restock product: %w", err)
	}
	if n < 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return l.product(ctx, productID)
}

func (l *Ledger) ListProducts(ctx context.Context) ([]domain.Product, error) {
	ids, err := l.client.SMembers(ctx, l.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	sort.Strings(ids)

	products := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		p, err := l.product(ctx, id)
		if errors.Is(err, domain.ErrProductNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

func (l *Ledger) product(ctx context.Context, productID string) (domain.Product, error) {
	fields, err := l.client.HGetAll(ctx, l.stockKey(productID)).Result()
	if err != nil {
		return domain.Product{}, fmt.Errorf("get product: %w", err)
	}
	if len(fields) == 0 {
		return domain.Product{}, domain.ErrProductNotFound
	}

	p := domain.Product{ID: productID, Name: fields[fieldName]}
	if p.Available, err = strconv.Atoi(fields[fieldAvailable]); err != nil {
		return domain.Product{}, fmt.Errorf("parse available for %s: %w", productID, err)
	}
	if raw, ok := fields[fieldUnitsSold]; ok {
		if p.UnitsSold, err = strconv.Atoi(raw); err != nil {
			return domain.Product{}, fmt.Errorf("parse units sold for %s: %w", productID, err)
		}
	}
	return p, nil
}
