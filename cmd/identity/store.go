package identity

import (
	"context"
	"time"
)

// User is a confirmed account.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Registered   time.Time
}

// PendingRegistration is an account waiting for its emailed code.
// The row carries everything needed to create the user on confirm.
type PendingRegistration struct {
	Code         int64
	Name         string
	Email        string
	PasswordHash string
	Expires      time.Time
}

// Store is the account persistence boundary. Implementations purge
// expired codes before any read that consults them, so callers never
// see a code past its expiry.
type Store interface {
	// UserByID returns ErrNotFound when no such account exists.
	UserByID(ctx context.Context, id int64) (User, error)

	// UserByEmail looks up by normalized email. ErrNotFound when absent.
	UserByEmail(ctx context.Context, email string) (User, error)

	// CountUsers reports the number of confirmed accounts.
	CountUsers(ctx context.Context) (int64, error)

	// SetPassword replaces the stored hash. ErrNotFound for unknown ids.
	SetPassword(ctx context.Context, userID int64, hash string) error

	// CreatePending stores a registration waiting for confirmation.
	// ErrEmailTaken when a confirmed account already holds the email,
	// ErrCodeTaken when the code collides with a live pending row.
	CreatePending(ctx context.Context, p PendingRegistration) error

	// PendingEmailExists reports whether a live pending registration
	// holds the (normalized) email.
	PendingEmailExists(ctx context.Context, email string, now time.Time) (bool, error)

	// ClaimPending promotes the pending registration with the given
	// code into a confirmed user and deletes the code. ErrNotFound for
	// unknown or expired codes; ErrEmailTaken if the email was
	// confirmed through another code in the meantime.
	ClaimPending(ctx context.Context, code int64, now time.Time) (User, error)

	// IssueResetCode records a password reset code for the user. When
	// the user already has a live code its expiry is refreshed and the
	// existing code returned, so repeated requests keep mailing the
	// same number. ErrCodeTaken when a fresh code collides.
	IssueResetCode(ctx context.Context, userID, code int64, expires time.Time, now time.Time) (int64, error)

	// ClaimResetCode consumes the (user, code) pair. ErrNotFound for
	// unknown, mismatched or expired codes.
	ClaimResetCode(ctx context.Context, userID, code int64, now time.Time) error
}
