package laborder

import "errors"

var (
	ErrNotFound                 = errors.New("lab order not found")
	ErrMissingFinancialSnapshot = errors.New("missing financial snapshot")
	ErrAlreadyReplicated        = errors.New("source order already replicated")
	ErrEmptyBatch               = errors.New("empty batch")
	ErrInvalidWindow            = errors.New("invalid time window")
)
