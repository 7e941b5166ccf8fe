// Package pipeline decides whether a single placement request is accepted
// and, when it is, performs the log append, grid update and broadcast.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

// Config holds the constants the pipeline reads. They are fixed for the
// lifetime of the process.
type Config struct {
	Grid        types.Grid
	Cooldown    time.Duration
	CreditNudge time.Duration
}

// Deps are the collaborators the pipeline orchestrates.
type Deps struct {
	Limiter   interfaces.RateLimiter
	Ledger    interfaces.CreditLedger
	Gate      interfaces.ModerationGate
	Log       interfaces.PlacementLog
	Grid      interfaces.GridStore
	Broadcast interfaces.Broadcaster
	Clock     clockwork.Clock
}

// Stats counts outcomes since start.
type Stats struct {
	Accepted   int64 `json:"accepted"`
	Rejected   int64 `json:"rejected"`
	Cooldown   int64 `json:"cooldown"`
	Failed     int64 `json:"failed"`
	Superseded int64 `json:"superseded"`
}

// Pipeline runs the placement steps in a fixed order, short-circuiting on
// the first rejection. It holds no lock across collaborator calls; per-user
// atomicity is delegated to the rate limiter and the credit ledger.
type Pipeline struct {
	cfg  Config
	deps Deps
	log  *logrus.Entry

	accepted   atomic.Int64
	rejected   atomic.Int64
	cooldown   atomic.Int64
	failed     atomic.Int64
	superseded atomic.Int64
}

// New validates cfg and deps and returns a ready pipeline. A nil Clock
// defaults to the wall clock.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Grid.Validate(); err != nil {
		return nil, err
	}
	if cfg.Cooldown < 0 {
		return nil, ErrInvalidCooldown
	}
	if cfg.CreditNudge <= 0 {
		return nil, ErrInvalidNudge
	}
	if deps.Limiter == nil || deps.Ledger == nil || deps.Gate == nil ||
		deps.Log == nil || deps.Grid == nil || deps.Broadcast == nil {
		return nil, ErrMissingCollaborator
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Pipeline{
		cfg:  cfg,
		deps: deps,
		log:  logrus.WithField("component", "pipeline"),
	}, nil
}

// Config returns the pipeline's constants.
func (p *Pipeline) Config() Config { return p.cfg }

// Submit processes one placement request from userID on session sessionID.
// Notices for the submitter are unicast to sessionID; accepted placements
// are published to every session.
//
// An accepted placement whose cell was already overwritten by a placement
// with a higher seq is logged and acknowledged but never published, so the
// number of pixel_placed broadcasts can be lower than the number of
// acceptances. Stats().Superseded counts those placements.
func (p *Pipeline) Submit(ctx context.Context, sessionID, userID string, candidate types.Candidate) Outcome {
	out := p.submit(ctx, userID, candidate)
	p.notify(sessionID, userID, out)
	return out
}

func (p *Pipeline) submit(ctx context.Context, userID string, candidate types.Candidate) Outcome {
	entry := p.log.WithFields(logrus.Fields{"user_id": userID, "x": candidate.X, "y": candidate.Y})

	// STEP 1: shape and bounds
	c, err := p.cfg.Grid.ValidateCandidate(candidate)
	if err != nil {
		entry.WithError(err).Debug("Dropping malformed placement")
		return rejected()
	}

	now := p.deps.Clock.Now()

	// STEP 2: moderation
	banned, err := p.deps.Gate.IsBanned(ctx, userID, now)
	if err != nil {
		entry.WithError(err).Warn("Moderation lookup failed")
		return failed(err)
	}
	if banned {
		entry.Debug("Dropping placement from banned user")
		return rejected()
	}

	// STEP 3: rate limit. A granted reservation already stores now+cooldown
	// as the user's next allowed time; it is released if the request does
	// not end up accepted.
	res, err := p.deps.Limiter.CheckAndReserve(ctx, userID, now, p.cfg.Cooldown)
	if err != nil {
		entry.WithError(err).Warn("Rate limiter unavailable")
		return failed(err)
	}
	if !res.Allowed {
		entry.WithField("remaining", res.Remaining).Debug("Placement inside cooldown window")
		return cooldown(res.Remaining, false)
	}

	// STEP 4: credit
	debited, err := p.deps.Ledger.TryDebit(ctx, userID)
	if err != nil {
		p.release(ctx, entry, userID, res)
		entry.WithError(err).Warn("Credit debit failed")
		return failed(err)
	}
	if !debited {
		p.release(ctx, entry, userID, res)
		entry.Debug("Placement without credit")
		return cooldown(p.cfg.CreditNudge, true)
	}

	// STEP 5: persist. From here the credit is spent and the request runs to
	// completion even if the session goes away. A failed append is the one
	// window where a debit has no matching record.
	ctx = context.WithoutCancel(ctx)
	record := &types.Placement{
		ID:        uuid.New().String(),
		UserID:    userID,
		X:         c.X,
		Y:         c.Y,
		Color:     c.Color,
		Timestamp: now.UnixMilli(),
	}
	if err := p.deps.Log.AppendPlacement(ctx, record); err != nil {
		p.release(ctx, entry, userID, res)
		entry.WithError(err).Error("Placement log append failed after debit")
		return failed(err)
	}

	// STEP 6 + 7: update the cache and broadcast under the cell's lock so
	// that broadcasts for one cell follow log order.
	event := types.NewPixelPlacedEvent(record)
	if !p.deps.Grid.Set(record.X, record.Y, record.Color, record.Seq, func() {
		p.deps.Broadcast.Publish(event)
	}) {
		// A later record for this cell was applied first; the visible state
		// already reflects it, so this one is logged but not broadcast.
		p.superseded.Add(1)
		entry.WithField("seq", record.Seq).Debug("Placement superseded before broadcast")
	}

	entry.WithFields(logrus.Fields{"seq": record.Seq, "color": record.Color}).Debug("Placement accepted")
	return accepted(record)
}

// release runs detached from ctx so a canceled session still hands back its
// reservation.
func (p *Pipeline) release(ctx context.Context, entry *logrus.Entry, userID string, res types.Reservation) {
	if err := p.deps.Limiter.Release(context.WithoutCancel(ctx), userID, res); err != nil {
		entry.WithError(err).Warn("Failed to release cooldown reservation")
	}
}

// notify sends the submitter its notice and updates counters.
func (p *Pipeline) notify(sessionID, userID string, out Outcome) {
	switch out.Kind {
	case OutcomeAccepted:
		p.accepted.Add(1)
		// STEP 8: acknowledge with the full new window
		p.deps.Broadcast.Unicast(sessionID, types.NewCooldownEvent(ceilMillis(p.cfg.Cooldown)))
	case OutcomeCooldown:
		p.cooldown.Add(1)
		p.deps.Broadcast.Unicast(sessionID, types.NewCooldownEvent(out.MsRemaining))
	case OutcomeFailed:
		p.failed.Add(1)
		p.deps.Broadcast.Unicast(sessionID, types.NewErrorEvent(genericFailureMessage))
	default:
		p.rejected.Add(1)
	}
}

// Stats returns a snapshot of the outcome counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Accepted:   p.accepted.Load(),
		Rejected:   p.rejected.Load(),
		Cooldown:   p.cooldown.Load(),
		Failed:     p.failed.Load(),
		Superseded: p.superseded.Load(),
	}
}
