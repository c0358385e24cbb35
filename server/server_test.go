package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/raid-herald/testutil"
)

func TestMuxEndpoints(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	mux := NewMux(dbc, testConfig(), &fakeSubs{})

	tests := []struct {
		path string
		want int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/status", http.StatusOK},
		{"/unregisterWithLogin", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("GET %s = %d, want %d", tt.path, rec.Code, tt.want)
			}
			if rec.Header().Get("X-Correlation-ID") == "" {
				t.Error("missing X-Correlation-ID header")
			}
		})
	}
}

func TestMuxReusesCorrelationHeader(t *testing.T) {
	dbc := testutil.SetupTestDB(t)
	mux := NewMux(dbc, testConfig(), &fakeSubs{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "given-id")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Correlation-ID"); got != "given-id" {
		t.Errorf("X-Correlation-ID = %q, want given-id", got)
	}
}
