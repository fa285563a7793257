package lora

import "errors"

// Adapter errors. Both describe programmer or configuration mistakes and are
// never worth retrying.
var (
	// ErrInvalidDimension is returned by NewAdapter when the rank is below 1
	// or a feature dimension is not positive.
	ErrInvalidDimension = errors.New("lora: invalid dimension")

	// ErrDimensionMismatch is returned by Apply when the low-rank product
	// cannot be reshaped onto the weight it is applied to.
	ErrDimensionMismatch = errors.New("lora: dimension mismatch")
)
