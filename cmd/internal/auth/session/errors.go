package session

import "errors"

var (
	// ErrSessionNotFound is returned when no session matches the
	// presented (user id, token) pair.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when the pair matches but the
	// session's expiry has passed.
	ErrSessionExpired = errors.New("session expired")

	// ErrWrongCredentials is returned by Login for an unknown email or
	// a wrong password. The two cases are indistinguishable.
	ErrWrongCredentials = errors.New("wrong credentials")

	// ErrTokenTaken is returned by stores when a token collides with
	// another live session. Login retries with a fresh token.
	ErrTokenTaken = errors.New("session token taken")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)
