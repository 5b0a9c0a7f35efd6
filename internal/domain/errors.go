package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrImmutableField   = errors.New("field cannot be changed after creation")
	ErrInvalidRule      = errors.New("invalid automation rule")
	ErrMissingSession   = errors.New("missing session token")
	ErrInvalidSignature = errors.New("invalid signature")
)
