// Package txctx lets stores outside a SQL transaction register compensations
// that run when that transaction rolls back.
package txctx

import (
	"context"
	"errors"
	"sync"
)

type hooksKey struct{}

// Hooks collects rollback compensations for one transaction.
type Hooks struct {
	mu  sync.Mutex
	fns []func(ctx context.Context) error
}

// Begin attaches a fresh hook set to ctx. Nested calls reuse the outer set.
func Begin(ctx context.Context) (context.Context, *Hooks) {
	if h := fromContext(ctx); h != nil {
		return ctx, h
	}
	h := &Hooks{}
	return context.WithValue(ctx, hooksKey{}, h), h
}

// OnRollback registers fn with the transaction carried by ctx. It reports
// false when ctx carries no transaction.
func OnRollback(ctx context.Context, fn func(ctx context.Context) error) bool {
	h := fromContext(ctx)
	if h == nil {
		return false
	}
	h.mu.Lock()
	h.fns = append(h.fns, fn)
	h.mu.Unlock()
	return true
}

// Rollback runs the registered compensations newest first and clears them.
func (h *Hooks) Rollback(ctx context.Context) error {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops the registered compensations after a successful commit.
func (h *Hooks) Discard() {
	h.mu.Lock()
	h.fns = nil
	h.mu.Unlock()
}

func fromContext(ctx context.Context) *Hooks {
	h, _ := ctx.Value(hooksKey{}).(*Hooks)
	return h
}
