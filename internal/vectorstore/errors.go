package vectorstore

import "errors"

var (
	ErrLengthMismatch    = errors.New("vectors and records length mismatch")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidTopK       = errors.New("top_k must be positive")
	ErrCorruptSnapshot   = errors.New("corrupt index snapshot")
	ErrInvalidMetadata   = errors.New("metadata is not JSON-encodable")
)
