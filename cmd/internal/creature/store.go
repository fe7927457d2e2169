package creature

import "context"

// Store is the creature persistence boundary. Implementations
// validate records before writing and return ErrInvalid wrapped with
// the offending field.
type Store interface {
	// Create stores a new record, assigning ID and Created.
	Create(ctx context.Context, c Creature) (Creature, error)

	// Update rewrites name, position and radius of the record matching
	// both c.ID and c.OwnerID, returning the stored row. ErrNotFound
	// when the id is unknown or owned by someone else.
	Update(ctx context.Context, c Creature) (Creature, error)

	// Delete removes the record matching (id, owner) and returns it.
	// ErrNotFound when the id is unknown or owned by someone else.
	Delete(ctx context.Context, id, ownerID int64) (Creature, error)

	// All returns every record ordered by id.
	All(ctx context.Context) ([]Creature, error)

	// Count reports the total number of records.
	Count(ctx context.Context) (int64, error)

	// CountByOwner reports how many records an account holds.
	CountByOwner(ctx context.Context, ownerID int64) (int64, error)
}
