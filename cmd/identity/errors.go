package identity

import "errors"

// Sentinel error kinds, stable for errors.Is at the handler boundary.
var (
	ErrNotFound   = errors.New("identity: not found")
	ErrEmailTaken = errors.New("identity: email already registered")
	ErrCodeTaken  = errors.New("identity: code already issued")
)
