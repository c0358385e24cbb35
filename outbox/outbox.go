// Package outbox delivers pending shoutouts for observed raids, retrying
// failures with capped exponential backoff and abandoning rows that
// exhaust their attempt budget.
package outbox

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/onnwee/raid-herald/auth"
	"github.com/onnwee/raid-herald/config"
	"github.com/onnwee/raid-herald/db"
	"github.com/onnwee/raid-herald/telemetry"
)

// Sender abstracts the shoutout API call (for tests/mocks).
type Sender interface {
	SendShoutout(ctx context.Context, raiderID, destinationID, moderatorID string) error
}

// configurable for tests
var (
	senderFor = func(ctx context.Context, f *auth.Factory, cred *db.Credential) Sender {
		_, helix := f.For(ctx, cred)
		return helix
	}
	credentialFor = db.GetCredentialByUserID
)

// Job sweeps the pending table on an interval. Twitch rejects shoutouts
// sent too close together on the same channel, so each destination gets
// its own limiter.
type Job struct {
	DB      *sql.DB
	Cfg     *config.Config
	Factory *auth.Factory

	inflight atomic.Bool

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewJob(dbc *sql.DB, cfg *config.Config, f *auth.Factory) *Job {
	return &Job{
		DB:       dbc,
		Cfg:      cfg,
		Factory:  f,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the per-destination shoutout limiter, one send per
// two minutes with no burst beyond the first.
func (j *Job) limiterFor(toID string) *rate.Limiter {
	j.mu.Lock()
	defer j.mu.Unlock()
	lim, ok := j.limiters[toID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(2*time.Minute), 1)
		j.limiters[toID] = lim
	}
	return lim
}

// Start runs the sweep loop until ctx is cancelled.
func (j *Job) Start(ctx context.Context) {
	interval := j.Cfg.ShoutoutSweepInterval
	slog.Info("shoutout job starting", slog.Duration("interval", interval))
	// Kick an immediate run so we don't wait a full interval after boot.
	j.sweep(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("shoutout job stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

// sweep runs one cycle unless the previous one is still in flight.
func (j *Job) sweep(ctx context.Context) {
	if !j.inflight.CompareAndSwap(false, true) {
		slog.Debug("sweep still in flight; skipping cycle")
		return
	}
	defer j.inflight.Store(false)
	telemetry.SweepCycles.Inc()
	telemetry.TimeFunc(telemetry.SweepDuration, func() {
		if err := j.sweepOnce(ctx); err != nil {
			slog.Warn("sweep once", slog.Any("err", err))
		}
	})
}

// backoffDelay returns the wait before the next attempt after the given
// number of completed attempts: base doubled per attempt, capped.
func backoffDelay(base, ceil time.Duration, attempts int) time.Duration {
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= ceil {
			return ceil
		}
	}
	if d > ceil {
		return ceil
	}
	return d
}

func (j *Job) sweepOnce(ctx context.Context) error {
	now := time.Now().UTC()
	raids, err := db.ListDueRaids(ctx, j.DB, now)
	if err != nil {
		return err
	}
	if pending, err := db.CountPendingRaids(ctx, j.DB); err == nil {
		telemetry.SetPendingRaids(pending)
	}
	if len(raids) == 0 {
		return nil
	}

	// One credential lookup per destination, not per raid. A lookup error
	// only defers that destination to the next sweep; suppression is
	// reserved for a confirmed missing or deactivated credential.
	creds := make(map[string]*db.Credential)
	lookupFailed := make(map[string]bool)
	for _, r := range raids {
		if _, ok := creds[r.ToID]; ok || lookupFailed[r.ToID] {
			continue
		}
		cred, err := credentialFor(ctx, j.DB, r.ToID)
		if err != nil {
			slog.Warn("credential lookup failed", slog.String("to_id", r.ToID), slog.Any("err", err))
			lookupFailed[r.ToID] = true
			continue
		}
		creds[r.ToID] = cred
	}

	for i := range raids {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r := &raids[i]
		logger := slog.Default().With(
			slog.Int64("raid_id", r.ID),
			slog.String("from", r.FromName),
			slog.String("to", r.ToName))

		if lookupFailed[r.ToID] {
			continue
		}
		cred := creds[r.ToID]
		if cred == nil || !cred.IsActive {
			if n, err := db.SuppressRaidsFor(ctx, j.DB, r.ToID); err == nil && n > 0 {
				telemetry.ShoutoutsSuppressed.Add(float64(n))
				logger.Info("suppressed pending shoutouts for inactive destination", slog.Int64("count", n))
			}
			continue
		}

		if !j.limiterFor(r.ToID).Allow() {
			// Leave the row untouched; a later sweep picks it up.
			logger.Debug("destination rate limited; deferring")
			continue
		}

		sender := senderFor(ctx, j.Factory, cred)
		var sendErr error
		telemetry.TimeFunc(telemetry.ShoutoutDuration, func() {
			callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			sendErr = sender.SendShoutout(callCtx, r.FromID, r.ToID, r.ToID)
		})
		if sendErr == nil {
			if err := db.MarkRaidDone(ctx, j.DB, r.ID); err != nil {
				logger.Error("mark done failed", slog.Any("err", err))
				continue
			}
			telemetry.ShoutoutsSucceeded.Inc()
			logger.Info("shoutout sent")
			continue
		}

		attempts := r.Attempts + 1
		if attempts >= j.Cfg.ShoutoutMaxAttempts {
			if err := db.DeadLetterRaid(ctx, j.DB, r.ID, sendErr.Error()); err != nil {
				logger.Error("dead letter failed", slog.Any("err", err))
				continue
			}
			telemetry.ShoutoutsDeadLettered.Inc()
			logger.Warn("shoutout abandoned after max attempts",
				slog.Int("attempts", attempts), slog.Any("err", sendErr))
			continue
		}

		next := now.Add(backoffDelay(j.Cfg.ShoutoutBackoffBase, j.Cfg.ShoutoutBackoffCap, r.Attempts))
		if err := db.MarkRaidFailed(ctx, j.DB, r.ID, sendErr.Error(), next); err != nil {
			logger.Error("mark failed failed", slog.Any("err", err))
			continue
		}
		telemetry.ShoutoutsFailed.Inc()
		logger.Warn("shoutout failed; retry scheduled",
			slog.Int("attempts", attempts),
			slog.Time("next_attempt_at", next),
			slog.Any("err", sendErr))
	}
	return nil
}
