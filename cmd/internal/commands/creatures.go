package commands

import (
	"context"
	"errors"

	"bestiary/cmd/internal/creature"
	"bestiary/cmd/internal/dispatch"
	v1 "bestiary/shared/contracts/wire/v1"
)

// createCreature stores a new record owned by the authenticated user.
// Whatever owner the payload claims is discarded.
func (e *Env) createCreature(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	wc, err := req.Envelope.Payload.AsCreature()
	if err != nil {
		return outcome(v1.OutcomeBadRequest)
	}
	if e.Creatures == nil {
		return nil, dispatch.ErrUnavailable
	}

	if e.CreatureQuota > 0 {
		n, err := e.Creatures.CountByOwner(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if n >= e.CreatureQuota {
			return outcome(v1.OutcomeNotEnoughSpace)
		}
	}

	stored, err := e.Creatures.Create(ctx, creature.Creature{
		Name:    wc.Name,
		X:       wc.X,
		Y:       wc.Y,
		Radius:  wc.Radius,
		OwnerID: req.UserID,
	})
	if errors.Is(err, creature.ErrInvalid) {
		return outcome(v1.OutcomeBadRequest)
	}
	if err != nil {
		return nil, err
	}

	e.Pub.Publish(v1.Reply(v1.EventCreatureAdded, v1.CreaturePayload(toWire(stored)), true))
	e.Log.Info("commands.creature.added", "id", stored.ID, "owner_id", stored.OwnerID)
	return reply(v1.OutcomeOK, v1.CreaturePayload(toWire(stored)))
}

// modifyCreature rewrites a record the authenticated user owns.
// Unknown ids and foreign records look the same from outside.
func (e *Env) modifyCreature(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	wc, err := req.Envelope.Payload.AsCreature()
	if err != nil {
		return outcome(v1.OutcomeBadRequest)
	}
	if e.Creatures == nil {
		return nil, dispatch.ErrUnavailable
	}

	stored, err := e.Creatures.Update(ctx, creature.Creature{
		ID:      wc.ID,
		Name:    wc.Name,
		X:       wc.X,
		Y:       wc.Y,
		Radius:  wc.Radius,
		OwnerID: req.UserID,
	})
	if errors.Is(err, creature.ErrInvalid) {
		return outcome(v1.OutcomeBadRequest)
	}
	if errors.Is(err, creature.ErrNotFound) {
		return outcome(v1.OutcomeWrong)
	}
	if err != nil {
		return nil, err
	}

	e.Pub.Publish(v1.Reply(v1.EventCreatureModified, v1.CreaturePayload(toWire(stored)), true))
	e.Log.Info("commands.creature.modified", "id", stored.ID, "owner_id", stored.OwnerID)
	return reply(v1.OutcomeOK, v1.CreaturePayload(toWire(stored)))
}

// deleteCreature expects an int payload with the record id.
func (e *Env) deleteCreature(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	id, err := req.Envelope.Payload.AsInt()
	if err != nil {
		return outcome(v1.OutcomeBadRequest)
	}
	if e.Creatures == nil {
		return nil, dispatch.ErrUnavailable
	}

	deleted, err := e.Creatures.Delete(ctx, id, req.UserID)
	if errors.Is(err, creature.ErrNotFound) {
		return outcome(v1.OutcomeWrong)
	}
	if err != nil {
		return nil, err
	}

	e.Pub.Publish(v1.Reply(v1.EventCreatureDeleted, v1.CreaturePayload(toWire(deleted)), true))
	e.Log.Info("commands.creature.deleted", "id", deleted.ID, "owner_id", deleted.OwnerID)
	return outcome(v1.OutcomeOK)
}

// requestCreatures replies with the full record snapshot.
func (e *Env) requestCreatures(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	if e.Creatures == nil {
		return nil, dispatch.ErrUnavailable
	}

	all, err := e.Creatures.All(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]v1.Creature, 0, len(all))
	for _, c := range all {
		out = append(out, toWire(c))
	}
	return reply(v1.EventCreaturesListUpdated, v1.CreaturesPayload(out))
}

func toWire(c creature.Creature) v1.Creature {
	return v1.Creature{
		ID:      c.ID,
		Name:    c.Name,
		X:       c.X,
		Y:       c.Y,
		Radius:  c.Radius,
		OwnerID: c.OwnerID,
		Created: c.Created,
	}
}
