package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear everything Load reads so defaults apply
	for _, k := range []string{
		"TWITCH_CLIENT_ID", "TWITCH_CLIENT_SECRET", "TWITCH_SCOPES",
		"DB_DSN", "HTTP_ADDR", "RAID_CLOCK_OFFSET",
		"SHOUTOUT_SWEEP_INTERVAL", "SHOUTOUT_MAX_ATTEMPTS",
		"SHOUTOUT_BACKOFF_BASE", "SHOUTOUT_BACKOFF_CAP",
		"TOKEN_REFRESH_INTERVAL", "TOKEN_REFRESH_WINDOW",
	} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TwitchScopes != "moderator:manage:shoutouts" {
		t.Errorf("TwitchScopes = %q, want moderator:manage:shoutouts", cfg.TwitchScopes)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.RaidClockOffset != 9*time.Hour {
		t.Errorf("RaidClockOffset = %v, want 9h", cfg.RaidClockOffset)
	}
	if cfg.ShoutoutSweepInterval != 30*time.Second {
		t.Errorf("ShoutoutSweepInterval = %v, want 30s", cfg.ShoutoutSweepInterval)
	}
	if cfg.ShoutoutMaxAttempts != 10 {
		t.Errorf("ShoutoutMaxAttempts = %d, want 10", cfg.ShoutoutMaxAttempts)
	}
	if cfg.ShoutoutBackoffCap != 15*time.Minute {
		t.Errorf("ShoutoutBackoffCap = %v, want 15m", cfg.ShoutoutBackoffCap)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RAID_CLOCK_OFFSET", "0s")
	t.Setenv("SHOUTOUT_SWEEP_INTERVAL", "5s")
	t.Setenv("SHOUTOUT_MAX_ATTEMPTS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RaidClockOffset != 0 {
		t.Errorf("RaidClockOffset = %v, want 0", cfg.RaidClockOffset)
	}
	if cfg.ShoutoutSweepInterval != 5*time.Second {
		t.Errorf("ShoutoutSweepInterval = %v, want 5s", cfg.ShoutoutSweepInterval)
	}
	if cfg.ShoutoutMaxAttempts != 3 {
		t.Errorf("ShoutoutMaxAttempts = %d, want 3", cfg.ShoutoutMaxAttempts)
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("RAID_CLOCK_OFFSET", "nine hours")
	if _, err := Load(); err == nil {
		t.Error("Load() expected error for invalid RAID_CLOCK_OFFSET, got nil")
	}
}

func TestLoadInvalidMaxAttempts(t *testing.T) {
	t.Setenv("RAID_CLOCK_OFFSET", "")
	t.Setenv("SHOUTOUT_MAX_ATTEMPTS", "0")
	if _, err := Load(); err == nil {
		t.Error("Load() expected error for SHOUTOUT_MAX_ATTEMPTS=0, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		secret  string
		wantErr bool
	}{
		{"both set", "id", "secret", false},
		{"missing id", "", "secret", true},
		{"missing secret", "id", "", true},
		{"both missing", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{TwitchClientID: tt.id, TwitchClientSecret: tt.secret}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
