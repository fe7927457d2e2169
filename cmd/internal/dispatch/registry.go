package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	v1 "bestiary/shared/contracts/wire/v1"
)

// ErrUnavailable is returned by handlers when the backing storage is
// not configured. The dispatcher maps it to a DB_NOT_SUPPORTED reply.
var ErrUnavailable = errors.New("dispatch: storage unavailable")

// Request is what a handler sees for one envelope.
type Request struct {
	// Envelope is the request as received, already validated.
	Envelope v1.Envelope

	// UserID is the authenticated account, 0 for commands that do not
	// require auth.
	UserID int64

	// Now is the dispatch instant, shared by every envelope of a batch
	// step so handlers and session bookkeeping agree on time.
	Now time.Time
}

// Handler executes one command. A nil reply with nil error means the
// command is intentionally silent.
type Handler func(ctx context.Context, req Request) (*v1.Envelope, error)

// Descriptor declares a command: its wire name, whether the envelope
// must carry a valid session pair, and whether a dispatch slides the
// session expiry.
type Descriptor struct {
	Name           string
	RequiresAuth   bool
	ExtendsSession bool
	Invoke         Handler
}

// Registry maps command names to descriptors. It is populated at
// startup and read-only afterwards.
type Registry struct {
	byName map[string]Descriptor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

// Register adds a descriptor. Empty names, nil handlers and duplicate
// registrations are programming errors.
func (r *Registry) Register(d Descriptor) error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("dispatch: empty command name")
	}
	if d.Invoke == nil {
		return fmt.Errorf("dispatch: %s: nil handler", name)
	}
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("dispatch: %s: already registered", name)
	}
	d.Name = name
	r.byName[name] = d
	return nil
}

// MustRegister is Register that panics, for startup wiring.
func (r *Registry) MustRegister(d Descriptor) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

// Lookup finds a descriptor by command name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Names lists the registered commands, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
