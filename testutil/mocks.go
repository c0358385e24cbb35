package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockTwitchServer creates a test server that mocks Twitch identity and
// Helix API responses.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if handler, ok := m.Handlers[key]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockOAuthTokenResponse adds a handler for the OAuth token endpoint,
// answering both code exchange and refresh grants.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, scopes []string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"scope":         scopes,
			"expires_in":    expiresIn,
			"token_type":    "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockValidateResponse adds a handler for the token validation endpoint.
func (m *MockTwitchServer) MockValidateResponse(userID, login string, scopes []string) {
	m.Handlers["/oauth2/validate"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"client_id":  "test-client",
			"login":      login,
			"user_id":    userID,
			"scopes":     scopes,
			"expires_in": 14000,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockRevokeResponse adds a handler for the token revocation endpoint.
func (m *MockTwitchServer) MockRevokeResponse() {
	m.Handlers["/oauth2/revoke"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
}

// MockShoutoutResponse adds a handler for /helix/chat/shoutouts that
// records each call's query parameters.
func (m *MockTwitchServer) MockShoutoutResponse(status int, calls *[]map[string]string) {
	m.Handlers["/helix/chat/shoutouts"] = func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			q := r.URL.Query()
			*calls = append(*calls, map[string]string{
				"from_broadcaster_id": q.Get("from_broadcaster_id"),
				"to_broadcaster_id":   q.Get("to_broadcaster_id"),
				"moderator_id":        q.Get("moderator_id"),
			})
		}
		w.WriteHeader(status)
	}
}

// MockUserResponse adds a handler for /helix/users.
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.Handlers["/helix/users"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"data": []map[string]string{
				{"id": userID, "login": login, "display_name": login},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}
