package domain

import "errors"

// Error kinds returned by stores. Callers branch on them with errors.Is.
var (
	ErrValidation = errors.New("invalid input")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage failure")
)
