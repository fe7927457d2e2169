package creature

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and single-node dev
// runs.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]Creature
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, rows: make(map[int64]Creature)}
}

func (s *MemoryStore) Create(_ context.Context, c Creature) (Creature, error) {
	if err := c.Validate(); err != nil {
		return Creature{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c.ID = s.nextID
	c.Created = time.Now().UTC()
	s.nextID++
	s.rows[c.ID] = c
	return c, nil
}

func (s *MemoryStore) Update(_ context.Context, c Creature) (Creature, error) {
	if err := c.Validate(); err != nil {
		return Creature{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.rows[c.ID]
	if !ok || cur.OwnerID != c.OwnerID {
		return Creature{}, ErrNotFound
	}
	c.Created = cur.Created
	s.rows[c.ID] = c
	return c, nil
}

func (s *MemoryStore) Delete(_ context.Context, id, ownerID int64) (Creature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.rows[id]
	if !ok || cur.OwnerID != ownerID {
		return Creature{}, ErrNotFound
	}
	delete(s.rows, id)
	return cur, nil
}

func (s *MemoryStore) All(_ context.Context) ([]Creature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Creature, 0, len(s.rows))
	for _, c := range s.rows {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

func (s *MemoryStore) CountByOwner(_ context.Context, ownerID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, c := range s.rows {
		if c.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}
