package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node dev
// runs. Semantics mirror PostgresStore.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[int64]Session // by user id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[int64]Session)}
}

func (s *MemoryStore) Get(_ context.Context, userID int64) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[userID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return row, nil
}

func (s *MemoryStore) Insert(_ context.Context, row Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for uid, cur := range s.rows {
		if uid != row.UserID && cur.Token == row.Token {
			return ErrTokenTaken
		}
	}
	s.rows[row.UserID] = row
	return nil
}

func (s *MemoryStore) SetExpiry(_ context.Context, userID int64, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[userID]
	if !ok {
		return ErrSessionNotFound
	}
	row.Expires = expires
	s.rows[userID] = row
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[userID]; !ok {
		return ErrSessionNotFound
	}
	delete(s.rows, userID)
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Session
	for uid, row := range s.rows {
		if !row.Live(now) {
			out = append(out, row)
			delete(s.rows, uid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *MemoryStore) Online(_ context.Context, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for uid, row := range s.rows {
		if row.Live(now) {
			ids = append(ids, uid)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
