package domain

import "errors"

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrConcurrentUpdate     = errors.New("order was modified concurrently")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidPrice         = errors.New("invalid unit price")
	ErrNoLineItems          = errors.New("order has no line items")
	ErrPONumberRequired     = errors.New("po number required")
	ErrProductIDRequired    = errors.New("product id required")
	ErrIdempotencyConflict  = errors.New("idempotency conflict")
	ErrInvalidReplyDecision = errors.New("invalid reply decision")
	ErrInvalidID            = errors.New("invalid id")
	ErrDuplicateLineItem    = errors.New("duplicate product on order")
	ErrProductNameRequired  = errors.New("product name required")
	ErrMissingRecipient     = errors.New("notification recipient missing")
)
