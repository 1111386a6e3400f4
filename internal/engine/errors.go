package engine

import "errors"

var (
	// ErrProductUnavailable means the product has no resolvable price
	ErrProductUnavailable = errors.New("product unavailable")
	// ErrInsufficientStock means the requested quantity exceeds live stock
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUniqueItemLimit means the product is a single unit already in the cart
	ErrUniqueItemLimit = errors.New("unique item already in cart")
	// ErrStoreUnavailable wraps local or remote store I/O failures
	ErrStoreUnavailable = errors.New("cart store unavailable")
	// ErrLookupUnavailable wraps product lookup I/O failures
	ErrLookupUnavailable = errors.New("product lookup unavailable")
	ErrLineNotFound      = errors.New("product not in cart")
	ErrInvalidQuantity   = errors.New("quantity must be greater than 0")
	ErrClosed            = errors.New("cart engine closed")
)
