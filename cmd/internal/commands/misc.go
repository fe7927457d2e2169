package commands

import (
	"context"
	"strconv"

	"bestiary/cmd/internal/dispatch"
	v1 "bestiary/shared/contracts/wire/v1"
)

// requestUsers replies with the online snapshot to the requester only;
// presence changes reach subscribers as broadcasts.
func (e *Env) requestUsers(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	users, err := e.Gate.OnlineUsers(ctx, req.Now)
	if err != nil {
		return nil, err
	}
	return reply(v1.EventUsersListUpdated, v1.UsersPayload(users))
}

// info reports account, presence and record counts.
func (e *Env) info(ctx context.Context, req dispatch.Request) (*v1.Envelope, error) {
	if e.Users == nil || e.Creatures == nil {
		return nil, dispatch.ErrUnavailable
	}

	users, err := e.Users.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	online, err := e.Gate.OnlineUsers(ctx, req.Now)
	if err != nil {
		return nil, err
	}
	creatures, err := e.Creatures.Count(ctx)
	if err != nil {
		return nil, err
	}

	return reply(v1.OutcomeOK, v1.MapPayload(map[string]string{
		"users":     strconv.FormatInt(users, 10),
		"online":    strconv.FormatInt(int64(len(online)), 10),
		"creatures": strconv.FormatInt(creatures, 10),
	}))
}
