package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bestiary/cmd/identity"
	"bestiary/cmd/security/password"
	"bestiary/cmd/security/token"
	v1 "bestiary/shared/contracts/wire/v1"
)

// Publisher delivers an event envelope to every subscribed client.
// The gateway hub satisfies this.
type Publisher interface {
	Publish(e v1.Envelope)
}

// Gate authenticates (user id, token) pairs and manages session
// lifecycle around login and logout.
type Gate struct {
	cfg    Config
	store  Store
	users  identity.Store
	hasher password.Hasher
	pub    Publisher
	log    *slog.Logger
}

// NewGate constructs a Gate.
func NewGate(cfg Config, store Store, users identity.Store, hasher password.Hasher, pub Publisher, log *slog.Logger) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || users == nil || pub == nil {
		return nil, fmt.Errorf("session: nil dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gate{cfg: cfg, store: store, users: users, hasher: hasher, pub: pub, log: log}, nil
}

// Authenticate checks the pair against the live session. A token
// mismatch and a missing session are indistinguishable
// (ErrSessionNotFound); a matching pair past expiry is
// ErrSessionExpired. With extend, a successful check also pushes the
// expiry to now+Timeout.
func (g *Gate) Authenticate(ctx context.Context, now time.Time, userID, tok int64, extend bool) error {
	row, err := g.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if row.Token != tok {
		return ErrSessionNotFound
	}
	if !row.Live(now) {
		return ErrSessionExpired
	}
	if extend {
		return g.store.SetExpiry(ctx, userID, now.Add(g.cfg.Timeout))
	}
	return nil
}

// Login verifies credentials and establishes a session. A live
// session is reused with a refreshed expiry, so a second client gets
// the same token. A new session announces the updated online list.
// Unknown email and wrong password both return ErrWrongCredentials.
func (g *Gate) Login(ctx context.Context, now time.Time, email, pass string) (identity.User, Session, error) {
	u, err := g.users.UserByEmail(ctx, email)
	if errors.Is(err, identity.ErrNotFound) {
		return identity.User{}, Session{}, ErrWrongCredentials
	}
	if err != nil {
		return identity.User{}, Session{}, err
	}

	ok, err := g.hasher.Verify(u.PasswordHash, pass)
	if err != nil {
		return identity.User{}, Session{}, fmt.Errorf("session: verify password: %w", err)
	}
	if !ok {
		return identity.User{}, Session{}, ErrWrongCredentials
	}

	expires := now.Add(g.cfg.Timeout)

	if cur, err := g.store.Get(ctx, u.ID); err == nil && cur.Live(now) {
		if err := g.store.SetExpiry(ctx, u.ID, expires); err != nil {
			return identity.User{}, Session{}, err
		}
		cur.Expires = expires
		g.log.Debug("session.login.reuse", "user_id", u.ID)
		return u, cur, nil
	} else if err != nil && !errors.Is(err, ErrSessionNotFound) {
		return identity.User{}, Session{}, err
	}

	for i := 0; i < g.cfg.LoginRetries; i++ {
		code, err := token.Code(g.cfg.TokenDigits)
		if err != nil {
			return identity.User{}, Session{}, fmt.Errorf("session: token: %w", err)
		}
		row := Session{UserID: u.ID, Token: code, Expires: expires}
		err = g.store.Insert(ctx, row)
		if errors.Is(err, ErrTokenTaken) {
			g.log.Debug("session.token.collision", "user_id", u.ID, "attempt", i+1)
			continue
		}
		if err != nil {
			return identity.User{}, Session{}, err
		}
		g.log.Info("session.login", "user_id", u.ID)
		g.announce(ctx, now)
		return u, row, nil
	}
	return identity.User{}, Session{}, fmt.Errorf("session: no free token after %d attempts", g.cfg.LoginRetries)
}

// Logout removes the user's session and announces the updated online
// list. Missing sessions return ErrSessionNotFound.
func (g *Gate) Logout(ctx context.Context, now time.Time, userID int64) error {
	if err := g.store.Delete(ctx, userID); err != nil {
		return err
	}
	g.log.Info("session.logout", "user_id", userID)
	g.announce(ctx, now)
	return nil
}

// OnlineUsers snapshots the users with live sessions, ascending by id.
// Accounts deleted since login are skipped.
func (g *Gate) OnlineUsers(ctx context.Context, now time.Time) ([]v1.User, error) {
	ids, err := g.store.Online(ctx, now)
	if err != nil {
		return nil, err
	}

	out := make([]v1.User, 0, len(ids))
	for _, id := range ids {
		u, err := g.users.UserByID(ctx, id)
		if errors.Is(err, identity.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v1.User{ID: u.ID, Name: u.Name})
	}
	return out, nil
}

func (g *Gate) announce(ctx context.Context, now time.Time) {
	users, err := g.OnlineUsers(ctx, now)
	if err != nil {
		g.log.Error("session.announce.fail", "err", err)
		return
	}
	g.pub.Publish(v1.Reply(v1.EventUsersListUpdated, v1.UsersPayload(users), true))
}
