package password

import "errors"

// Public, stable errors for callers.
var (
	ErrTooShort      = errors.New("password too short")
	ErrTooLong       = errors.New("password too long")
	ErrWeak          = errors.New("password too weak")
	ErrMalformedHash = errors.New("malformed password hash")
)
