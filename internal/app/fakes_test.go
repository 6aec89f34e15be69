package app

import (
	"context"
	"sort"
	"sync"

	"github.com/garvit124/AutoPO/internal/domain"
	"github.com/garvit124/AutoPO/internal/outbox"
)

// fakeStore is an in-memory order repository, stock ledger and task queue.
// WithTx serializes transactions and restores its state when fn fails.
type fakeStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	orders map[string]domain.Order
	stock  map[string]int
	tasks  []outbox.Task

	// staleStock, when set, is returned by ReadStock instead of stock.
	staleStock map[string]int
	saveErr    error
	reserveErr error
	createErr  error
}

func newFakeStore(stock map[string]int, orders ...domain.Order) *fakeStore {
	f := &fakeStore{
		orders: make(map[string]domain.Order),
		stock:  make(map[string]int),
	}
	for id, qty := range stock {
		f.stock[id] = qty
	}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()

	f.mu.Lock()
	orders := make(map[string]domain.Order, len(f.orders))
	for k, v := range f.orders {
		orders[k] = v
	}
	stock := make(map[string]int, len(f.stock))
	for k, v := range f.stock {
		stock[k] = v
	}
	tasks := len(f.tasks)
	f.mu.Unlock()

	if err := fn(ctx); err != nil {
		f.mu.Lock()
		f.orders = orders
		f.stock = stock
		f.tasks = f.tasks[:tasks]
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeStore) CreateOrder(_ context.Context, order domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, o := range f.orders {
		if o.PONumber == order.PONumber {
			return domain.ErrIdempotencyConflict
		}
	}
	f.orders[order.ID] = order
	return nil
}

func (f *fakeStore) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeStore) GetOrderForUpdate(ctx context.Context, orderID string) (domain.Order, error) {
	return f.GetOrder(ctx, orderID)
}

func (f *fakeStore) FindOrderByPONumber(_ context.Context, poNumber string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.PONumber == poNumber {
			found := o
			return &found, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) SaveOrder(_ context.Context, order domain.Order, expected domain.OrderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	current, ok := f.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Status != expected {
		return domain.ErrConcurrentUpdate
	}
	f.orders[order.ID] = order
	return nil
}

func (f *fakeStore) ListOrders(_ context.Context, filter OrderFilter) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if filter.Status != nil && o.Status != *filter.Status {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PONumber < out[j].PONumber })
	return out, nil
}

func (f *fakeStore) CountOrdersByStatus(_ context.Context) (map[domain.OrderStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[domain.OrderStatus]int)
	for _, o := range f.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (f *fakeStore) ReadStock(_ context.Context, productIDs []string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.stock
	if f.staleStock != nil {
		src = f.staleStock
	}
	out := make(map[string]int, len(productIDs))
	for _, id := range productIDs {
		if qty, ok := src[id]; ok {
			out[id] = qty
		}
	}
	return out, nil
}

func (f *fakeStore) Reserve(_ context.Context, productID string, qty int) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return 0, false, f.reserveErr
	}
	available := f.stock[productID]
	reserved := qty
	if available < qty {
		reserved = available
	}
	f.stock[productID] = available - reserved
	return reserved, reserved < qty, nil
}

func (f *fakeStore) Enqueue(_ context.Context, task outbox.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeStore) ListByOrder(_ context.Context, orderID string) ([]outbox.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []outbox.Task
	for _, task := range f.tasks {
		if task.OrderID == orderID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeStore) order(id string) domain.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id]
}

func (f *fakeStore) stockOf(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stock[id]
}

func (f *fakeStore) queued() []outbox.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]outbox.Task(nil), f.tasks...)
}
