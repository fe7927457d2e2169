package creature

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Field bounds. Records outside these never reach a store.
const (
	NameMaxLen = 32
	CoordMax   = 1000
	RadiusMin  = 15
	RadiusMax  = 300
)

// Sentinel errors.
var (
	ErrInvalid  = errors.New("creature: invalid record")
	ErrNotFound = errors.New("creature: not found")
)

// Creature is one record on the shared field.
type Creature struct {
	ID      int64
	Name    string
	X       int
	Y       int
	Radius  float64
	OwnerID int64
	Created time.Time
}

// Validate checks field bounds. ID, OwnerID and Created are assigned
// by the store and are not validated here.
func (c Creature) Validate() error {
	if n := utf8.RuneCountInString(c.Name); n < 1 || n > NameMaxLen {
		return fmt.Errorf("%w: name length %d outside [1..%d]", ErrInvalid, n, NameMaxLen)
	}
	if c.X < 0 || c.X > CoordMax {
		return fmt.Errorf("%w: x %d outside [0..%d]", ErrInvalid, c.X, CoordMax)
	}
	if c.Y < 0 || c.Y > CoordMax {
		return fmt.Errorf("%w: y %d outside [0..%d]", ErrInvalid, c.Y, CoordMax)
	}
	if c.Radius < RadiusMin || c.Radius > RadiusMax {
		return fmt.Errorf("%w: radius %g outside [%d..%d]", ErrInvalid, c.Radius, RadiusMin, RadiusMax)
	}
	return nil
}
