package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FLAGSINK_SIGNING_KEY", "0123456789abcdef")
	t.Setenv("FLAGSINK_ADMIN_TOKEN", "")
}

func TestLoadEnvConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SubmissionPort != 1337 || cfg.DebugPort != 1338 || cfg.APIPort != 8080 {
		t.Fatalf("ports = %d/%d/%d", cfg.SubmissionPort, cfg.DebugPort, cfg.APIPort)
	}
	if cfg.FlagEncoding != "legacy" {
		t.Fatalf("encoding = %q", cfg.FlagEncoding)
	}
	if cfg.FlagValidityRounds != 5 {
		t.Fatalf("validity = %d", cfg.FlagValidityRounds)
	}
	if cfg.RoundLength != time.Minute {
		t.Fatalf("round length = %v", cfg.RoundLength)
	}
	if cfg.TeamSubnetPrefixV4 != 24 || cfg.TeamSubnetPrefixV6 != 64 {
		t.Fatalf("prefixes = %d/%d", cfg.TeamSubnetPrefixV4, cfg.TeamSubnetPrefixV6)
	}
	if cfg.StateDir != "/var/lib/flagsink" {
		t.Fatalf("state dir = %q", cfg.StateDir)
	}
}

func TestLoadEnvConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FLAGSINK_SUBMISSION_PORT", "9999")
	t.Setenv("FLAGSINK_DEBUG_PORT", "0")
	t.Setenv("FLAGSINK_FLAG_ENCODING", "stego")
	t.Setenv("FLAGSINK_ROUND_LENGTH", "90s")
	t.Setenv("FLAGSINK_QUEUE_CAPACITY", "42")
	t.Setenv("FLAGSINK_ADMIN_TOKEN", "hunter2")

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SubmissionPort != 9999 {
		t.Fatalf("submission port = %d", cfg.SubmissionPort)
	}
	if cfg.DebugPort != 0 {
		t.Fatalf("debug port = %d, want disabled", cfg.DebugPort)
	}
	if cfg.FlagEncoding != "stego" {
		t.Fatalf("encoding = %q", cfg.FlagEncoding)
	}
	if cfg.RoundLength != 90*time.Second {
		t.Fatalf("round length = %v", cfg.RoundLength)
	}
	if cfg.QueueCapacity != 42 {
		t.Fatalf("queue capacity = %d", cfg.QueueCapacity)
	}
	if cfg.AdminToken != "hunter2" {
		t.Fatalf("admin token = %q", cfg.AdminToken)
	}
}

func TestLoadEnvConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(t *testing.T)
		wantMsg string
	}{
		{
			name: "missing signing key",
			setup: func(t *testing.T) {
				t.Setenv("FLAGSINK_ADMIN_TOKEN", "")
			},
			wantMsg: "FLAGSINK_SIGNING_KEY must be set",
		},
		{
			name: "short signing key",
			setup: func(t *testing.T) {
				t.Setenv("FLAGSINK_ADMIN_TOKEN", "")
				t.Setenv("FLAGSINK_SIGNING_KEY", "short")
			},
			wantMsg: "at least 16 characters",
		},
		{
			name: "missing admin token",
			setup: func(t *testing.T) {
				t.Setenv("FLAGSINK_SIGNING_KEY", "0123456789abcdef")
			},
			wantMsg: "FLAGSINK_ADMIN_TOKEN must be defined",
		},
		{
			name: "bad encoding",
			setup: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("FLAGSINK_FLAG_ENCODING", "rot13")
			},
			wantMsg: "FLAGSINK_FLAG_ENCODING",
		},
		{
			name: "bad port",
			setup: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("FLAGSINK_SUBMISSION_PORT", "123456")
			},
			wantMsg: "port must be 1-65535",
		},
		{
			name: "bad integer",
			setup: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("FLAGSINK_BATCH_WORKERS", "many")
			},
			wantMsg: "invalid integer",
		},
		{
			name: "batch cap below team drain cap",
			setup: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("FLAGSINK_TEAM_DRAIN_CAP", "600")
			},
			wantMsg: "FLAGSINK_BATCH_CAP must be at least",
		},
		{
			name: "bad cron schedule",
			setup: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("FLAGSINK_STATS_SUMMARY_SCHEDULE", "every minute or so")
			},
			wantMsg: "FLAGSINK_STATS_SUMMARY_SCHEDULE",
		},
		{
			name: "bad subnet prefix",
			setup: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("FLAGSINK_TEAM_SUBNET_PREFIX_V4", "40")
			},
			wantMsg: "FLAGSINK_TEAM_SUBNET_PREFIX_V4",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.setup(t)
			_, err := LoadEnvConfig()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Fatalf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}
