package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bestiary/cmd/internal/auth/session"
	v1 "bestiary/shared/contracts/wire/v1"
)

// Authenticator validates a (user id, token) pair. session.Gate
// satisfies this.
type Authenticator interface {
	Authenticate(ctx context.Context, now time.Time, userID, token int64, extend bool) error
}

// Dispatcher executes one request envelope at a time and produces at
// most one reply for it.
type Dispatcher struct {
	reg  *Registry
	auth Authenticator
	log  *slog.Logger

	// dispatches counts by (command, outcome); may be nil.
	dispatches *prometheus.CounterVec
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(reg *Registry, auth Authenticator, dispatches *prometheus.CounterVec, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{reg: reg, auth: auth, dispatches: dispatches, log: log}
}

// Dispatch routes one envelope. The returned reply carries Final=true;
// callers sending it mid-batch rewrite the flag. A nil reply means the
// command is silent. Dispatch never returns wire-visible error text.
func (d *Dispatcher) Dispatch(ctx context.Context, now time.Time, env v1.Envelope) *v1.Envelope {
	reply := d.dispatch(ctx, now, env)
	if d.dispatches != nil {
		outcome := "silent"
		if reply != nil {
			outcome = reply.Name
		}
		d.dispatches.WithLabelValues(env.Name, outcome).Inc()
	}
	return reply
}

func (d *Dispatcher) dispatch(ctx context.Context, now time.Time, env v1.Envelope) *v1.Envelope {
	desc, ok := d.reg.Lookup(env.Name)
	if !ok {
		d.log.Warn("dispatch.unknown", "command", env.Name)
		return replyPtr(v1.OutcomeCommandNotSupported)
	}

	var userID int64
	if desc.RequiresAuth {
		if !env.Authenticated() {
			return replyPtr(v1.OutcomeAuthFailed)
		}
		err := d.auth.Authenticate(ctx, now, *env.UserID, *env.Token, false)
		switch {
		case err == nil:
			userID = *env.UserID
		case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionExpired):
			return replyPtr(v1.OutcomeAuthFailed)
		case errors.Is(err, ErrUnavailable):
			return replyPtr(v1.OutcomeDBNotSupported)
		default:
			d.log.Error("dispatch.auth.fail", "command", env.Name, "err", err)
			return replyPtr(v1.OutcomeInternalError)
		}
	}

	reply, err := d.invoke(ctx, desc, Request{Envelope: env, UserID: userID, Now: now})

	// The session slides on attempt, not on success, so a client
	// issuing commands stays logged in even when they fail.
	if desc.RequiresAuth && desc.ExtendsSession {
		if aerr := d.auth.Authenticate(ctx, now, userID, *env.Token, true); aerr != nil {
			d.log.Warn("dispatch.extend.fail", "command", env.Name, "user_id", userID, "err", aerr)
		}
	}

	switch {
	case err == nil:
		return reply
	case errors.Is(err, ErrUnavailable):
		return replyPtr(v1.OutcomeDBNotSupported)
	default:
		d.log.Error("dispatch.handler.fail", "command", env.Name, "err", err)
		return replyPtr(v1.OutcomeInternalError)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, desc Descriptor, req Request) (reply *v1.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatch.handler.panic", "command", desc.Name, "panic", r)
			reply, err = nil, errors.New("handler panic")
		}
	}()
	return desc.Invoke(ctx, req)
}

func replyPtr(name string) *v1.Envelope {
	e := v1.Reply(name, nil, true)
	return &e
}
