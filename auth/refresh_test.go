package auth

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/onnwee/raid-herald/db"
	"github.com/onnwee/raid-herald/telemetry"
	"github.com/onnwee/raid-herald/testutil"
	"github.com/onnwee/raid-herald/twitchapi"
)

func tokenRefreshCount(t *testing.T) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := telemetry.TokenRefreshes.Write(metric); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return *metric.Counter.Value
}

func TestRefreshCredentialRotatesAndPersists(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	telemetry.Init()
	ctx := context.Background()

	cred := &db.Credential{
		UserID:       "42",
		UserName:     "streamer",
		RegisterID:   "reg-42",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(time.Minute),
		Scope:        "moderator:manage:shoutouts",
		IsActive:     true,
	}
	if err := db.UpsertCredential(ctx, dbc, cred, false); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	orig := refreshGrant
	refreshGrant = func(_ context.Context, _, _, refreshToken string) (*twitchapi.RefreshResult, error) {
		if refreshToken != "old-refresh" {
			t.Errorf("refresh grant got token %q, want old-refresh", refreshToken)
		}
		return &twitchapi.RefreshResult{
			AccessToken:  "new-access",
			RefreshToken: "new-refresh",
			ExpiresIn:    3600,
		}, nil
	}
	defer func() { refreshGrant = orig }()

	before := tokenRefreshCount(t)
	if err := RefreshCredential(ctx, dbc, "cid", "secret", cred); err != nil {
		t.Fatalf("RefreshCredential: %v", err)
	}

	got, err := db.GetCredentialByUserID(ctx, dbc, "42")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.AccessToken != "new-access" || got.RefreshToken != "new-refresh" {
		t.Errorf("tokens = %q/%q, want new-access/new-refresh", got.AccessToken, got.RefreshToken)
	}
	if !got.ExpiresAt.After(time.Now().Add(30 * time.Minute)) {
		t.Errorf("expiry = %v, want pushed out by the grant", got.ExpiresAt)
	}
	if after := tokenRefreshCount(t); after != before+1 {
		t.Errorf("token refresh counter = %v, want %v", after, before+1)
	}
}

func TestRefreshCredentialKeepsRefreshTokenWhenOmitted(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	telemetry.Init()
	ctx := context.Background()

	cred := &db.Credential{
		UserID:       "42",
		UserName:     "streamer",
		RegisterID:   "reg-42",
		AccessToken:  "old-access",
		RefreshToken: "sticky-refresh",
		ExpiresAt:    time.Now().Add(time.Minute),
		Scope:        "moderator:manage:shoutouts",
		IsActive:     true,
	}
	if err := db.UpsertCredential(ctx, dbc, cred, false); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	orig := refreshGrant
	refreshGrant = func(context.Context, string, string, string) (*twitchapi.RefreshResult, error) {
		return &twitchapi.RefreshResult{AccessToken: "new-access", ExpiresIn: 3600}, nil
	}
	defer func() { refreshGrant = orig }()

	if err := RefreshCredential(ctx, dbc, "cid", "secret", cred); err != nil {
		t.Fatalf("RefreshCredential: %v", err)
	}
	got, err := db.GetCredentialByUserID(ctx, dbc, "42")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.RefreshToken != "sticky-refresh" {
		t.Errorf("refresh token = %q, want the stored one kept", got.RefreshToken)
	}
}
