package grid

import "errors"

// Error kinds raised by the grid engine and its exporters. Callers match
// them with errors.Is; every returned error wraps exactly one of these.
var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrEmptyRegion      = errors.New("empty region")
	ErrMissingColumn    = errors.New("missing column")
	ErrShapeMismatch    = errors.New("shape mismatch")
	ErrIO               = errors.New("i/o error")
)
