package internal

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// JanitorConfig sets the sweep cadence and per-type maximum ceremony ages.
// Now is a clock hook for tests; nil means time.Now.
type JanitorConfig struct {
	KeygenMaxAge  time.Duration
	SigningMaxAge time.Duration
	Interval      time.Duration
	Now           func() time.Time
}

// Janitor is the supervising scheduler from the lifecycle design: it
// observes ceremony activity through status snapshots and expires stale
// ceremonies through the coordinator, never touching the store directly.
type Janitor struct {
	coord  *Coordinator
	lister Lister
	cfg    JanitorConfig
	log    zerolog.Logger
}

func NewJanitor(coord *Coordinator, lister Lister, cfg JanitorConfig, log zerolog.Logger) *Janitor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Janitor{
		coord:  coord,
		lister: lister,
		cfg:    cfg,
		log:    log.With().Str("component", "janitor").Logger(),
	}
}

// Run sweeps until the context is canceled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep expires every non-terminal ceremony whose last activity is older
// than its type's maximum age. Returns how many ceremonies were expired.
func (j *Janitor) Sweep(ctx context.Context) int {
	ids, err := j.lister.ListOperations(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("could not list ceremonies")
		return 0
	}

	now := j.cfg.Now()
	expired := 0
	for _, id := range ids {
		snap, err := j.coord.Status(ctx, id)
		if err != nil {
			j.log.Error().Str("operation_id", id).Err(err).Msg("could not read ceremony status")
			continue
		}
		if snap.Status.Terminal() {
			continue
		}

		maxAge := j.cfg.KeygenMaxAge
		if snap.Type == TypeSigning {
			maxAge = j.cfg.SigningMaxAge
		}
		if maxAge <= 0 || now.Sub(snap.LastActivity) <= maxAge {
			continue
		}

		did, err := j.coord.Expire(ctx, id)
		if err != nil {
			j.log.Error().Str("operation_id", id).Err(err).Msg("could not expire ceremony")
			continue
		}
		if did {
			expired++
		}
	}
	return expired
}
