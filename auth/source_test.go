package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/onnwee/raid-herald/db"
)

type seqSource struct {
	mu     sync.Mutex
	tokens []*oauth2.Token
	i      int
}

func (s *seqSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok := s.tokens[s.i]
	if s.i < len(s.tokens)-1 {
		s.i++
	}
	return tok, nil
}

func TestPersistingSourceNotifiesOnRotation(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	base := &seqSource{tokens: []*oauth2.Token{
		{AccessToken: "aaa", RefreshToken: "rrr", Expiry: expiry},
		{AccessToken: "aaa", RefreshToken: "rrr", Expiry: expiry},
		{AccessToken: "bbb", RefreshToken: "sss", Expiry: expiry},
	}}
	var calls []string
	src := &persistingSource{
		userID: "123",
		base:   base,
		last:   "aaa",
		notify: func(userID, access, refresh string, _ time.Time) {
			calls = append(calls, userID+":"+access+":"+refresh)
		},
	}

	for i := 0; i < 3; i++ {
		if _, err := src.Token(); err != nil {
			t.Fatalf("Token call %d: %v", i, err)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 notify call, got %d: %v", len(calls), calls)
	}
	if calls[0] != "123:bbb:sss" {
		t.Errorf("unexpected notify payload %q", calls[0])
	}
}

func TestFactoryRefreshesExpiredToken(t *testing.T) {
	var grants int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		if got := r.Form.Get("refresh_token"); got != "old-refresh" {
			t.Errorf("refresh_token = %q, want old-refresh", got)
		}
		grants++
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"expires_in":    3600,
			"token_type":    "bearer",
		})
	}))
	defer server.Close()

	var gotUser, gotAccess, gotRefresh string
	f := &Factory{
		ClientID:     "cid",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: server.URL + "/token"},
		OnRefresh: func(userID, access, refresh string, _ time.Time) {
			gotUser, gotAccess, gotRefresh = userID, access, refresh
		},
	}
	cred := &db.Credential{
		UserID:       "42",
		AccessToken:  "stale-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}

	ts := f.TokenSource(context.Background(), cred)
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "new-access" {
		t.Errorf("AccessToken = %q, want new-access", tok.AccessToken)
	}
	if grants != 1 {
		t.Errorf("token endpoint hit %d times, want 1", grants)
	}
	if gotUser != "42" || gotAccess != "new-access" || gotRefresh != "new-refresh" {
		t.Errorf("persisted %q/%q/%q", gotUser, gotAccess, gotRefresh)
	}

	// A second fetch inside the validity window reuses the cached token.
	if _, err := ts.Token(); err != nil {
		t.Fatalf("second Token: %v", err)
	}
	if grants != 1 {
		t.Errorf("token endpoint hit %d times after reuse, want 1", grants)
	}
}

func TestFactoryValidTokenSkipsEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("token endpoint should not be called for a valid token")
	}))
	defer server.Close()

	f := &Factory{
		ClientID:     "cid",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: server.URL + "/token"},
		OnRefresh:    func(string, string, string, time.Time) { t.Error("unexpected persist") },
	}
	cred := &db.Credential{
		UserID:       "42",
		AccessToken:  "live-access",
		RefreshToken: "refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}

	tok, err := f.TokenSource(context.Background(), cred).Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "live-access" {
		t.Errorf("AccessToken = %q, want live-access", tok.AccessToken)
	}
}

func TestFactoryFor(t *testing.T) {
	f := &Factory{ClientID: "cid", ClientSecret: "secret"}
	cred := &db.Credential{
		UserID:      "42",
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	ts, helix := f.For(context.Background(), cred)
	if ts == nil {
		t.Fatal("nil token source")
	}
	if helix == nil {
		t.Fatal("nil helix client")
	}
	if helix.ClientID != "cid" {
		t.Errorf("helix ClientID = %q, want cid", helix.ClientID)
	}
}
