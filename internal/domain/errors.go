package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("conflict")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrUpstream           = errors.New("upstream generation failed")
	ErrTimeout            = errors.New("timed out")
	ErrDuplicateOperation = errors.New("duplicate operation")
)
