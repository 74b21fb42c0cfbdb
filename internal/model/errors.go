package model

import "errors"

var (
	// ErrConfiguration is returned for deal inputs the simulator cannot run:
	// unsupported selectors, mis-sized arrays, or a tranche list whose
	// pro-rata notes do not form a contiguous senior-most block.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvariantViolation is returned when the waterfall's bookkeeping
	// breaks an invariant it relies on. The trial that raised it is aborted.
	ErrInvariantViolation = errors.New("invariant violation")
)
