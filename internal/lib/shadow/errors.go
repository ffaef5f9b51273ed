package shadow

import (
	"errors"
)

var (
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrOutOfBounds         = errors.New("out of bounds")
	ErrMismatchParamLength = errors.New("mismatch param length")
	ErrStateConflict       = errors.New("state conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAssertionFailure    = errors.New("assertion failure")
)
