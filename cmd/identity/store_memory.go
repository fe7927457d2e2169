package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node dev
// runs. Semantics mirror PostgresStore, including lazy purges.
type MemoryStore struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]User
	pending map[int64]PendingRegistration // by code
	resets  map[int64]resetCode           // by user id
}

type resetCode struct {
	code    int64
	expires time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		users:   make(map[int64]User),
		pending: make(map[int64]PendingRegistration),
		resets:  make(map[int64]resetCode),
	}
}

func (s *MemoryStore) UserByID(_ context.Context, id int64) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) UserByEmail(_ context.Context, email string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = NormalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) CountUsers(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.users)), nil
}

func (s *MemoryStore) SetPassword(_ context.Context, userID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = hash
	s.users[userID] = u
	return nil
}

func (s *MemoryStore) CreatePending(_ context.Context, p PendingRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p.Email = NormalizeEmail(p.Email)
	for _, u := range s.users {
		if u.Email == p.Email {
			return ErrEmailTaken
		}
	}
	if _, ok := s.pending[p.Code]; ok {
		return ErrCodeTaken
	}
	s.pending[p.Code] = p
	return nil
}

func (s *MemoryStore) PendingEmailExists(_ context.Context, email string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(now)
	email = NormalizeEmail(email)
	for _, p := range s.pending {
		if p.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ClaimPending(_ context.Context, code int64, now time.Time) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[code]
	if !ok || !p.Expires.After(now) {
		return User{}, ErrNotFound
	}
	delete(s.pending, code)

	for _, u := range s.users {
		if u.Email == p.Email {
			return User{}, ErrEmailTaken
		}
	}

	u := User{
		ID:           s.nextID,
		Name:         p.Name,
		Email:        p.Email,
		PasswordHash: p.PasswordHash,
		Registered:   now,
	}
	s.nextID++
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) IssueResetCode(_ context.Context, userID, code int64, expires time.Time, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeLocked(now)

	if rc, ok := s.resets[userID]; ok {
		s.resets[userID] = resetCode{code: rc.code, expires: expires}
		return rc.code, nil
	}
	if _, ok := s.users[userID]; !ok {
		return 0, ErrNotFound
	}
	for _, rc := range s.resets {
		if rc.code == code {
			return 0, ErrCodeTaken
		}
	}
	s.resets[userID] = resetCode{code: code, expires: expires}
	return code, nil
}

func (s *MemoryStore) ClaimResetCode(_ context.Context, userID, code int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rc, ok := s.resets[userID]
	if !ok || rc.code != code || !rc.expires.After(now) {
		return ErrNotFound
	}
	delete(s.resets, userID)
	return nil
}

func (s *MemoryStore) purgeLocked(now time.Time) {
	for code, p := range s.pending {
		if !p.Expires.After(now) {
			delete(s.pending, code)
		}
	}
	for uid, rc := range s.resets {
		if !rc.expires.After(now) {
			delete(s.resets, uid)
		}
	}
}
