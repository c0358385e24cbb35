package auth

import (
	"context"
	"database/sql"
	"log/slog"
	"math/rand"
	"time"

	"github.com/onnwee/raid-herald/db"
	"github.com/onnwee/raid-herald/telemetry"
	"github.com/onnwee/raid-herald/twitchapi"
)

// configurable for tests
var refreshGrant = twitchapi.RefreshToken

// RefresherConfig controls the background credential refresher.
type RefresherConfig struct {
	ClientID     string
	ClientSecret string

	// Interval is the base sweep period. Each wait is jittered by up to
	// 10% so restarts across replicas do not align their refresh bursts.
	Interval time.Duration

	// Window selects credentials whose expiry falls within this horizon.
	Window time.Duration
}

// StartRefresher launches a goroutine that periodically rotates tokens for
// active credentials nearing expiry, so shoutouts never block on a refresh
// round-trip at send time. It returns immediately; the loop stops when ctx
// is cancelled.
func StartRefresher(ctx context.Context, dbx *sql.DB, cfg RefresherConfig) {
	go func() {
		for {
			jitter := time.Duration(rand.Int63n(int64(cfg.Interval) / 10))
			select {
			case <-ctx.Done():
				return
			case <-time.After(cfg.Interval + jitter):
			}
			refreshDue(ctx, dbx, cfg)
		}
	}()
}

func refreshDue(ctx context.Context, dbx *sql.DB, cfg RefresherConfig) {
	creds, err := db.ListActiveCredentials(ctx, dbx)
	if err != nil {
		slog.Error("refresher: list credentials failed", slog.Any("err", err))
		return
	}
	now := time.Now()
	for i := range creds {
		cred := &creds[i]
		if cred.RefreshToken == "" {
			continue
		}
		if cred.ExpiresAt.Sub(now) > cfg.Window {
			continue
		}
		if err := RefreshCredential(ctx, dbx, cfg.ClientID, cfg.ClientSecret, cred); err != nil {
			slog.Warn("refresher: rotation failed",
				slog.String("user_id", cred.UserID),
				slog.String("user_name", cred.UserName),
				slog.Any("err", err))
		}
	}
}

// RefreshCredential rotates one credential's tokens via the refresh-token
// grant and persists the result.
func RefreshCredential(ctx context.Context, dbx *sql.DB, clientID, clientSecret string, cred *db.Credential) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	res, err := refreshGrant(ctx, clientID, clientSecret, cred.RefreshToken)
	if err != nil {
		return err
	}
	refresh := res.RefreshToken
	if refresh == "" {
		refresh = cred.RefreshToken
	}
	expiry := twitchapi.ComputeExpiry(res.ExpiresIn)
	if err := db.UpdateCredentialTokens(ctx, dbx, cred.UserID, res.AccessToken, refresh, expiry); err != nil {
		return err
	}
	telemetry.IncTokenRefreshes()
	slog.Info("refresher: token rotated",
		slog.String("user_id", cred.UserID),
		slog.String("user_name", cred.UserName),
		slog.Time("expires_at", expiry))
	return nil
}
