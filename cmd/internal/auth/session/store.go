package session

import (
	"context"
	"time"
)

// Session is one user's live session.
type Session struct {
	UserID  int64
	Token   int64
	Expires time.Time
}

// Live reports whether the session is still valid at now. Expiry is
// exclusive: a session whose expiry equals now is already dead.
func (s Session) Live(now time.Time) bool {
	return s.Expires.After(now)
}

// Store abstracts session persistence. At most one session exists per
// user; tokens are unique across live sessions.
type Store interface {
	// Get loads the session for a user. ErrSessionNotFound when absent.
	Get(ctx context.Context, userID int64) (Session, error)

	// Insert stores a new session. ErrTokenTaken when the token is
	// already held; replaces any previous session of the same user.
	Insert(ctx context.Context, s Session) error

	// SetExpiry rewrites the expiry of a user's session.
	// ErrSessionNotFound when absent.
	SetExpiry(ctx context.Context, userID int64, expires time.Time) error

	// Delete removes a user's session. ErrSessionNotFound when absent.
	Delete(ctx context.Context, userID int64) error

	// DeleteExpired removes every session dead at now and returns the
	// removed sessions.
	DeleteExpired(ctx context.Context, now time.Time) ([]Session, error)

	// Online returns the user ids of sessions live at now, ascending.
	Online(ctx context.Context, now time.Time) ([]int64, error)
}
