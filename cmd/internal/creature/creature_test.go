package creature

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func valid() Creature {
	return Creature{Name: "grindylow", X: 500, Y: 500, Radius: 40, OwnerID: 1}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Creature)
		ok     bool
	}{
		{"baseline", func(*Creature) {}, true},
		{"empty name", func(c *Creature) { c.Name = "" }, false},
		{"name at limit", func(c *Creature) { c.Name = strings.Repeat("n", NameMaxLen) }, true},
		{"name over limit", func(c *Creature) { c.Name = strings.Repeat("n", NameMaxLen+1) }, false},
		{"multibyte name counts runes", func(c *Creature) { c.Name = strings.Repeat("ё", NameMaxLen) }, true},
		{"x negative", func(c *Creature) { c.X = -1 }, false},
		{"x at max", func(c *Creature) { c.X = CoordMax }, true},
		{"y over max", func(c *Creature) { c.Y = CoordMax + 1 }, false},
		{"radius below min", func(c *Creature) { c.Radius = RadiusMin - 0.5 }, false},
		{"radius at min", func(c *Creature) { c.Radius = RadiusMin }, true},
		{"radius at max", func(c *Creature) { c.Radius = RadiusMax }, true},
		{"radius over max", func(c *Creature) { c.Radius = RadiusMax + 1 }, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := valid()
			tc.mutate(&c)
			err := c.Validate()
			if tc.ok && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrInvalid) {
				t.Fatalf("Validate = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestMemoryStore_OwnerScoping(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemoryStore()

	mine := valid()
	mine.OwnerID = 1
	stored, err := st.Create(ctx, mine)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if stored.ID == 0 || stored.Created.IsZero() {
		t.Fatalf("Create did not assign id/created: %+v", stored)
	}

	// Another owner cannot update or delete it.
	foreign := stored
	foreign.OwnerID = 2
	if _, err := st.Update(ctx, foreign); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign update: %v, want ErrNotFound", err)
	}
	if _, err := st.Delete(ctx, stored.ID, 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("foreign delete: %v, want ErrNotFound", err)
	}

	stored.Name = "kelpie"
	updated, err := st.Update(ctx, stored)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "kelpie" || !updated.Created.Equal(stored.Created) {
		t.Fatalf("Update = %+v", updated)
	}

	deleted, err := st.Delete(ctx, stored.ID, 1)
	if err != nil || deleted.Name != "kelpie" {
		t.Fatalf("Delete = %+v, %v", deleted, err)
	}
	if _, err := st.Delete(ctx, stored.ID, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Counts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemoryStore()

	for i := 0; i < 3; i++ {
		c := valid()
		c.OwnerID = 1
		if _, err := st.Create(ctx, c); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	c := valid()
	c.OwnerID = 2
	if _, err := st.Create(ctx, c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	total, err := st.Count(ctx)
	if err != nil || total != 4 {
		t.Fatalf("Count = %d, %v", total, err)
	}
	n, err := st.CountByOwner(ctx, 1)
	if err != nil || n != 3 {
		t.Fatalf("CountByOwner(1) = %d, %v", n, err)
	}

	all, err := st.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatalf("All not ordered by id: %+v", all)
		}
	}
}

func TestMemoryStore_RejectsInvalid(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemoryStore()

	bad := valid()
	bad.Radius = 5
	if _, err := st.Create(ctx, bad); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Create invalid: %v, want ErrInvalid", err)
	}
}
