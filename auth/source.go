// Package auth builds per-user OAuth token sources that refresh
// transparently and persist rotated tokens back to the credential store.
package auth

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/twitch"

	"github.com/onnwee/raid-herald/db"
	"github.com/onnwee/raid-herald/telemetry"
	"github.com/onnwee/raid-herald/twitchapi"
)

// OnRefresh is invoked after a token rotation with the values to persist,
// keyed by platform user id.
type OnRefresh func(userID, accessToken, refreshToken string, expiry time.Time)

// persistingSource wraps a refreshing token source and fires the notify
// callback whenever the underlying access token changes. Refresh failures
// propagate to the caller untouched; retry policy belongs upstream.
type persistingSource struct {
	userID string
	base   oauth2.TokenSource
	notify OnRefresh

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	rotated := tok.AccessToken != s.last
	s.last = tok.AccessToken
	s.mu.Unlock()
	if rotated && s.notify != nil {
		s.notify(s.userID, tok.AccessToken, tok.RefreshToken, tok.Expiry)
	}
	return tok, nil
}

// Factory materializes (token source, API client) pairs from stored
// credentials. One factory is built at startup and shared by the HTTP
// handlers and the outbox sweep.
type Factory struct {
	ClientID     string
	ClientSecret string
	DB           *sql.DB

	// HTTPClient overrides the client for both the refresh grant and Helix
	// calls (tests point it at a mock server).
	HTTPClient *http.Client

	// Endpoint defaults to the Twitch endpoint when zero.
	Endpoint oauth2.Endpoint

	// OnRefresh defaults to persisting into DB.
	OnRefresh OnRefresh
}

func (f *Factory) endpoint() oauth2.Endpoint {
	if f.Endpoint.TokenURL != "" {
		return f.Endpoint
	}
	return twitch.Endpoint
}

func (f *Factory) notifyFn() OnRefresh {
	if f.OnRefresh != nil {
		return f.OnRefresh
	}
	return func(userID, accessToken, refreshToken string, expiry time.Time) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.UpdateCredentialTokens(ctx, f.DB, userID, accessToken, refreshToken, expiry); err != nil {
			slog.Warn("token persist failed", slog.String("user_id", userID), slog.Any("err", err))
			return
		}
		telemetry.IncTokenRefreshes()
		slog.Info("token refreshed", slog.String("user_id", userID))
	}
}

// TokenSource returns a token source for one credential that refreshes via
// the refresh-token grant when the access token is expired or near expiry,
// persisting rotated values keyed by user id.
func (f *Factory) TokenSource(ctx context.Context, cred *db.Credential) oauth2.TokenSource {
	conf := &oauth2.Config{
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		Endpoint:     f.endpoint(),
	}
	if f.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.HTTPClient)
	}
	seed := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.ExpiresAt,
		TokenType:    "Bearer",
	}
	return &persistingSource{
		userID: cred.UserID,
		base:   conf.TokenSource(ctx, seed),
		notify: f.notifyFn(),
		last:   cred.AccessToken,
	}
}

// For builds the per-user capabilities a component needs to act on a
// credential: a refreshing token source and a Helix client bound to it.
func (f *Factory) For(ctx context.Context, cred *db.Credential) (oauth2.TokenSource, *twitchapi.HelixClient) {
	ts := f.TokenSource(ctx, cred)
	return ts, &twitchapi.HelixClient{
		TokenSource: ts,
		ClientID:    f.ClientID,
		HTTPClient:  f.HTTPClient,
	}
}
