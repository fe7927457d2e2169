package creature

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
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
			return fmt.Errorf("creature: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("creature: nil pool")
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

// EnsureSchema creates the creatures table when missing. The users
// table referenced by owner_id is bootstrapped by the identity store.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS ` + s.table() + ` (
	         id       BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	         name     TEXT NOT NULL,
	         x        INTEGER NOT NULL,
	         y        INTEGER NOT NULL,
	         radius   DOUBLE PRECISION NOT NULL,
	         owner_id BIGINT NOT NULL REFERENCES ` + s.users() + `(id) ON DELETE CASCADE,
	         created  TIMESTAMPTZ NOT NULL
	     )`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("creature: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, c Creature) (Creature, error) {
	if err := c.Validate(); err != nil {
		return Creature{}, err
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (name, x, y, radius, owner_id, created)
		 VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING id, created`,
		c.Name, c.X, c.Y, c.Radius, c.OwnerID,
	).Scan(&c.ID, &c.Created)
	if err != nil {
		return Creature{}, fmt.Errorf("creature: create: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Update(ctx context.Context, c Creature) (Creature, error) {
	if err := c.Validate(); err != nil {
		return Creature{}, err
	}

	err := s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+` SET name = $3, x = $4, y = $5, radius = $6
		  WHERE id = $1 AND owner_id = $2
		  RETURNING created`,
		c.ID, c.OwnerID, c.Name, c.X, c.Y, c.Radius,
	).Scan(&c.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return Creature{}, ErrNotFound
	}
	if err != nil {
		return Creature{}, fmt.Errorf("creature: update: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id, ownerID int64) (Creature, error) {
	var c Creature
	err := s.pool.QueryRow(ctx,
		`DELETE FROM `+s.table()+` WHERE id = $1 AND owner_id = $2
		 RETURNING id, name, x, y, radius, owner_id, created`,
		id, ownerID,
	).Scan(&c.ID, &c.Name, &c.X, &c.Y, &c.Radius, &c.OwnerID, &c.Created)
	if errors.Is(err, pgx.ErrNoRows) {
		return Creature{}, ErrNotFound
	}
	if err != nil {
		return Creature{}, fmt.Errorf("creature: delete: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) All(ctx context.Context) ([]Creature, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, x, y, radius, owner_id, created
		   FROM `+s.table()+` ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("creature: all: %w", err)
	}
	defer rows.Close()

	var out []Creature
	for rows.Next() {
		var c Creature
		if err := rows.Scan(&c.ID, &c.Name, &c.X, &c.Y, &c.Radius, &c.OwnerID, &c.Created); err != nil {
			return nil, fmt.Errorf("creature: all: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("creature: all: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+s.table()).Scan(&n); err != nil {
		return 0, fmt.Errorf("creature: count: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CountByOwner(ctx context.Context, ownerID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM `+s.table()+` WHERE owner_id = $1`, ownerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("creature: count by owner: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "creatures"}.Sanitize()
}

func (s *PostgresStore) users() string {
	return pgx.Identifier{s.schema, "users"}.Sanitize()
}
