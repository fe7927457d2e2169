package session

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bestiary/cmd/identity"
	v1 "bestiary/shared/contracts/wire/v1"
)

// Reaper sweeps expired sessions on a ticker. Each sweep emits one
// timeout event per reaped user followed by a single consolidated
// online-list update.
type Reaper struct {
	gate   *Gate
	reaped prometheus.Counter
	log    *slog.Logger
}

// NewReaper constructs a Reaper. The counter may be nil.
func NewReaper(gate *Gate, reaped prometheus.Counter, log *slog.Logger) *Reaper {
	if log == nil {
		log = slog.Default()
	}
	return &Reaper{gate: gate, reaped: reaped, log: log}
}

// Run sweeps until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.gate.cfg.ReapInterval)
	defer t.Stop()

	r.log.Info("reaper.start", "interval", r.gate.cfg.ReapInterval)
	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper.stop")
			return
		case now := <-t.C:
			r.Sweep(ctx, now.UTC())
		}
	}
}

// Sweep runs one pass at the given instant.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) {
	expired, err := r.gate.store.DeleteExpired(ctx, now)
	if err != nil {
		r.log.Error("reaper.sweep.fail", "err", err)
		return
	}
	if len(expired) == 0 {
		return
	}

	for _, s := range expired {
		name := ""
		u, err := r.gate.users.UserByID(ctx, s.UserID)
		if err == nil {
			name = u.Name
		} else if !errors.Is(err, identity.ErrNotFound) {
			r.log.Error("reaper.lookup.fail", "user_id", s.UserID, "err", err)
		}
		r.gate.pub.Publish(v1.Reply(v1.EventTimeout, v1.MapPayload(map[string]string{
			"userid": strconv.FormatInt(s.UserID, 10),
			"name":   name,
		}), true))
	}
	r.gate.announce(ctx, now)

	if r.reaped != nil {
		r.reaped.Add(float64(len(expired)))
	}
	r.log.Info("reaper.sweep", "reaped", len(expired))
}
