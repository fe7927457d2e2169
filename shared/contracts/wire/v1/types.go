// Package v1 defines the bestiary wire protocol v1.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Subprotocol is the websocket subprotocol negotiated for this contract.
const Subprotocol = "bestiary.wire.v1"

// Control names intercepted by the connection manager and never dispatched.
const (
	NameDisconnect   = "disconnect"
	NameDisconnected = "disconnected"
	NameSubscribe    = "subscribe"
	NameUnsubscribe  = "unsubscribe"
)

// Standard reply outcomes carried in the Name field of a reply envelope.
const (
	OutcomeOK                  = "OK"
	OutcomeWrong               = "WRONG"
	OutcomeAuthFailed          = "AUTH_FAILED"
	OutcomeCommandNotSupported = "COMMAND_NOT_SUPPORTED"
	OutcomeInternalError       = "INTERNAL_ERROR"
	OutcomeDBNotSupported      = "DB_NOT_SUPPORTED"
	OutcomeBadRequest          = "BAD_REQUEST"
)

// Handler-specific reply outcomes.
const (
	OutcomeIncorrectName  = "INCORRECT_NAME"
	OutcomeIncorrectEmail = "INCORRECT_EMAIL"
	OutcomeShortPassword  = "SHORT_PASSWORD"
	OutcomeWeakPassword   = "WEAK_PASSWORD"
	OutcomeEmailExists    = "EMAIL_EXISTS"
	OutcomeEmailInUse     = "EMAIL_IN_USE"
	OutcomeEmailNotExist  = "EMAIL_NOT_EXIST"
	OutcomeWrongPassword  = "WRONG_PASSWORD"
	OutcomeNotEnoughSpace = "NOT_ENOUGH_SPACE"
)

// Broadcast event names (server -> subscribed connections).
const (
	EventUsersListUpdated     = "users_list_updated"
	EventCreaturesListUpdated = "creatures_list_updated"
	EventCreatureAdded        = "creature_added"
	EventCreatureModified     = "creature_modified"
	EventCreatureDeleted      = "creature_deleted"
	EventTimeout              = "timeout"
)

// Payload kinds of the tagged payload union.
const (
	KindCreature  = "creature"
	KindCreatures = "creatures"
	KindString    = "string"
	KindStrings   = "strings"
	KindMap       = "map"
	KindInt       = "int"
	KindUsers     = "users"
)

// Envelope is the canonical framed message. A logical exchange may span several
// envelopes; Final marks the last one belonging to that exchange.
type Envelope struct {
	Name    string   `json:"name"`
	Payload *Payload `json:"payload,omitempty"`
	UserID  *int64   `json:"user_id,omitempty"`
	Token   *int64   `json:"token,omitempty"`
	Final   bool     `json:"final"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("missing field: name")
	}
	if e.Payload != nil {
		return e.Payload.Validate()
	}
	return nil
}

// Authenticated reports whether both identity fields are present.
func (e Envelope) Authenticated() bool {
	return e.UserID != nil && e.Token != nil
}

// Payload is a discriminated union: Kind selects how Value decodes.
type Payload struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// Validate checks the payload kind is known and a value is present.
func (p Payload) Validate() error {
	switch p.Kind {
	case KindCreature, KindCreatures, KindString, KindStrings, KindMap, KindInt, KindUsers:
	default:
		return fmt.Errorf("unknown payload kind: %q", p.Kind)
	}
	if len(p.Value) == 0 {
		return errors.New("missing payload value")
	}
	return nil
}

// Creature is the canonical creature record on the wire.
type Creature struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name"`
	X       int       `json:"x"`
	Y       int       `json:"y"`
	Radius  float64   `json:"radius"`
	OwnerID int64     `json:"owner_id"`
	Created time.Time `json:"created"`
}

// User is the public slice of an account used in online-user snapshots.
type User struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ---- constructors ----

func mustPayload(kind string, v any) *Payload {
	raw, err := json.Marshal(v)
	if err != nil {
		// All wire types marshal cleanly; a failure here is a programming error.
		panic(fmt.Sprintf("wire: marshal %s payload: %v", kind, err))
	}
	return &Payload{Kind: kind, Value: raw}
}

// CreaturePayload wraps a single creature record.
func CreaturePayload(c Creature) *Payload { return mustPayload(KindCreature, c) }

// CreaturesPayload wraps a creature snapshot.
func CreaturesPayload(cs []Creature) *Payload { return mustPayload(KindCreatures, cs) }

// StringPayload wraps a single string.
func StringPayload(s string) *Payload { return mustPayload(KindString, s) }

// StringsPayload wraps an ordered string list.
func StringsPayload(ss []string) *Payload { return mustPayload(KindStrings, ss) }

// MapPayload wraps a string key/value map.
func MapPayload(m map[string]string) *Payload { return mustPayload(KindMap, m) }

// IntPayload wraps a single integer.
func IntPayload(n int64) *Payload { return mustPayload(KindInt, n) }

// UsersPayload wraps an online-users snapshot.
func UsersPayload(us []User) *Payload { return mustPayload(KindUsers, us) }

// ---- decoders ----

var errKindMismatch = errors.New("payload kind mismatch")

func (p *Payload) decode(kind string, out any) error {
	if p == nil {
		return errors.New("missing payload")
	}
	if p.Kind != kind {
		return fmt.Errorf("%w: got %q want %q", errKindMismatch, p.Kind, kind)
	}
	return json.Unmarshal(p.Value, out)
}

// AsCreature decodes a creature payload.
func (p *Payload) AsCreature() (Creature, error) {
	var c Creature
	err := p.decode(KindCreature, &c)
	return c, err
}

// AsCreatures decodes a creature snapshot payload.
func (p *Payload) AsCreatures() ([]Creature, error) {
	var cs []Creature
	err := p.decode(KindCreatures, &cs)
	return cs, err
}

// AsString decodes a string payload.
func (p *Payload) AsString() (string, error) {
	var s string
	err := p.decode(KindString, &s)
	return s, err
}

// AsStrings decodes a string-list payload.
func (p *Payload) AsStrings() ([]string, error) {
	var ss []string
	err := p.decode(KindStrings, &ss)
	return ss, err
}

// AsMap decodes a key/value payload.
func (p *Payload) AsMap() (map[string]string, error) {
	var m map[string]string
	err := p.decode(KindMap, &m)
	return m, err
}

// AsInt decodes an integer payload.
func (p *Payload) AsInt() (int64, error) {
	var n int64
	err := p.decode(KindInt, &n)
	return n, err
}

// AsUsers decodes an online-users payload.
func (p *Payload) AsUsers() ([]User, error) {
	var us []User
	err := p.decode(KindUsers, &us)
	return us, err
}

// Reply builds a reply envelope with the given outcome name.
func Reply(name string, payload *Payload, final bool) Envelope {
	return Envelope{Name: name, Payload: payload, Final: final}
}

// Int64 returns a pointer to n, for the optional envelope fields.
func Int64(n int64) *int64 { return &n }
