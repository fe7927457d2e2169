package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL. The pool is owned by
// the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "bestiary").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("session: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	st := &PostgresStore{pool: pool, schema: "bestiary"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// EnsureSchema creates the sessions table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS ` + s.table() + ` (
	         user_id BIGINT PRIMARY KEY REFERENCES ` + s.users() + `(id) ON DELETE CASCADE,
	         token   BIGINT NOT NULL UNIQUE,
	         expires TIMESTAMPTZ NOT NULL
	     )`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("session: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID int64) (Session, error) {
	var row Session
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, token, expires FROM `+s.table()+` WHERE user_id = $1`,
		userID,
	).Scan(&row.UserID, &row.Token, &row.Expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("session: get: %w", err)
	}
	return row, nil
}

func (s *PostgresStore) Insert(ctx context.Context, row Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (user_id, token, expires)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET token = $2, expires = $3`,
		row.UserID, row.Token, row.Expires,
	)
	if isUniqueViolation(err) {
		return ErrTokenTaken
	}
	if err != nil {
		return fmt.Errorf("session: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetExpiry(ctx context.Context, userID int64, expires time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+` SET expires = $2 WHERE user_id = $1`,
		userID, expires,
	)
	if err != nil {
		return fmt.Errorf("session: set expiry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table()+` WHERE user_id = $1`, userID,
	)
	if err != nil {
		return fmt.Errorf("session: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) ([]Session, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM `+s.table()+` WHERE expires <= $1
		 RETURNING user_id, token, expires`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("session: delete expired: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var row Session
		if err := rows.Scan(&row.UserID, &row.Token, &row.Expires); err != nil {
			return nil, fmt.Errorf("session: delete expired: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: delete expired: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Online(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM `+s.table()+` WHERE expires > $1 ORDER BY user_id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("session: online: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("session: online: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: online: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "sessions"}.Sanitize()
}

func (s *PostgresStore) users() string {
	return pgx.Identifier{s.schema, "users"}.Sanitize()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
