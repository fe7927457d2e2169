package identity

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

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must not close it.
// Schema identifiers are validated and quoted, everything else is
// bound parameters.
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
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
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

// EnsureSchema creates the schema and tables when missing. It is safe
// to call on every startup.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + s.ident(),
		`CREATE TABLE IF NOT EXISTS ` + s.table("users") + ` (
		     id            BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
		     name          TEXT NOT NULL,
		     email         TEXT NOT NULL UNIQUE,
		     password_hash TEXT NOT NULL,
		     registered    TIMESTAMPTZ NOT NULL
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("registration_codes") + ` (
		     code          BIGINT PRIMARY KEY,
		     name          TEXT NOT NULL,
		     email         TEXT NOT NULL,
		     password_hash TEXT NOT NULL,
		     expires       TIMESTAMPTZ NOT NULL
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + s.table("reset_codes") + ` (
		     user_id BIGINT PRIMARY KEY REFERENCES ` + s.table("users") + `(id) ON DELETE CASCADE,
		     code    BIGINT NOT NULL UNIQUE,
		     expires TIMESTAMPTZ NOT NULL
		 )`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("identity: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, registered
		   FROM `+s.table("users")+` WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Registered)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("identity: user by id: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) UserByEmail(ctx context.Context, email string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, email, password_hash, registered
		   FROM `+s.table("users")+` WHERE email = $1`,
		NormalizeEmail(email),
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Registered)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("identity: user by email: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.table("users")).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("identity: count users: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) SetPassword(ctx context.Context, userID int64, hash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("users")+` SET password_hash = $2 WHERE id = $1`,
		userID, hash,
	)
	if err != nil {
		return fmt.Errorf("identity: set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreatePending(ctx context.Context, p PendingRegistration) error {
	email := NormalizeEmail(p.Email)

	var taken bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table("users")+` WHERE email = $1)`,
		email,
	).Scan(&taken)
	if err != nil {
		return fmt.Errorf("identity: create pending: %w", err)
	}
	if taken {
		return ErrEmailTaken
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table("registration_codes")+` (code, name, email, password_hash, expires)
		 VALUES ($1, $2, $3, $4, $5)`,
		p.Code, p.Name, email, p.PasswordHash, p.Expires,
	)
	if pgIsUniqueViolation(err) {
		return ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("identity: create pending: %w", err)
	}
	return nil
}

func (s *PostgresStore) PendingEmailExists(ctx context.Context, email string, now time.Time) (bool, error) {
	if err := s.purgeExpired(ctx, "registration_codes", now); err != nil {
		return false, err
	}
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table("registration_codes")+` WHERE email = $1)`,
		NormalizeEmail(email),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("identity: pending email: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) ClaimPending(ctx context.Context, code int64, now time.Time) (User, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return User{}, fmt.Errorf("identity: claim pending: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var p PendingRegistration
	err = tx.QueryRow(ctx,
		`DELETE FROM `+s.table("registration_codes")+`
		  WHERE code = $1 AND expires > $2
		  RETURNING code, name, email, password_hash, expires`,
		code, now,
	).Scan(&p.Code, &p.Name, &p.Email, &p.PasswordHash, &p.Expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("identity: claim pending: %w", err)
	}

	var u User
	err = tx.QueryRow(ctx,
		`INSERT INTO `+s.table("users")+` (name, email, password_hash, registered)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, name, email, password_hash, registered`,
		p.Name, p.Email, p.PasswordHash, now,
	).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Registered)
	if pgIsUniqueViolation(err) {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, fmt.Errorf("identity: claim pending: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, fmt.Errorf("identity: claim pending: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) IssueResetCode(ctx context.Context, userID, code int64, expires time.Time, now time.Time) (int64, error) {
	if err := s.purgeExpired(ctx, "reset_codes", now); err != nil {
		return 0, err
	}

	// One live code per user. A repeat request refreshes the expiry and
	// returns the code already on file.
	var active int64
	err := s.pool.QueryRow(ctx,
		`UPDATE `+s.table("reset_codes")+` SET expires = $2 WHERE user_id = $1 RETURNING code`,
		userID, expires,
	).Scan(&active)
	if err == nil {
		return active, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("identity: issue reset code: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table("reset_codes")+` (user_id, code, expires) VALUES ($1, $2, $3)`,
		userID, code, expires,
	)
	if pgIsUniqueViolation(err) {
		return 0, ErrCodeTaken
	}
	if pgIsForeignKeyViolation(err) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("identity: issue reset code: %w", err)
	}
	return code, nil
}

func (s *PostgresStore) ClaimResetCode(ctx context.Context, userID, code int64, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table("reset_codes")+`
		  WHERE user_id = $1 AND code = $2 AND expires > $3`,
		userID, code, now,
	)
	if err != nil {
		return fmt.Errorf("identity: claim reset code: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) purgeExpired(ctx context.Context, tbl string, now time.Time) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table(tbl)+` WHERE expires <= $1`, now,
	)
	if err != nil {
		return fmt.Errorf("identity: purge %s: %w", tbl, err)
	}
	return nil
}

func (s *PostgresStore) ident() string {
	return pgx.Identifier{s.schema}.Sanitize()
}

func (s *PostgresStore) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
