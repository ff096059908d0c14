// Package config handles environment-based configuration loading.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/flagsink/flagsink/internal/flagcodec"
	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	StateDir string

	// Network
	ListenAddress  string
	SubmissionPort int
	DebugPort      int // 0 disables the debug endpoint
	APIPort        int // 0 disables the HTTP API

	// Flags
	SigningKey         string
	FlagEncoding       string
	FlagValidityRounds int
	RoundLength        time.Duration
	StartRound         int
	RosterPath         string
	TeamSubnetPrefixV4 int
	TeamSubnetPrefixV6 int

	// Pipeline
	QueueCapacity  int
	BatchWorkers   int
	TeamDrainCap   int
	BatchCap       int
	MaxLineBytes   int
	PendingCap     int
	KnownCacheSize int // 0 disables the known-capture cache

	// Stats
	StatsSummarySchedule string // cron expression; empty disables the summary

	// Auth
	AdminToken string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Returns an error if any required variable is missing or any value is invalid.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.StateDir = envStr("FLAGSINK_STATE_DIR", "/var/lib/flagsink")

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("FLAGSINK_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.SubmissionPort = envInt("FLAGSINK_SUBMISSION_PORT", 1337, &errs)
	cfg.DebugPort = envInt("FLAGSINK_DEBUG_PORT", 1338, &errs)
	cfg.APIPort = envInt("FLAGSINK_API_PORT", 8080, &errs)

	// --- Flags ---
	cfg.SigningKey = envStr("FLAGSINK_SIGNING_KEY", "")
	cfg.FlagEncoding = envStr("FLAGSINK_FLAG_ENCODING", string(flagcodec.EncodingLegacy))
	cfg.FlagValidityRounds = envInt("FLAGSINK_FLAG_VALIDITY_ROUNDS", 5, &errs)
	cfg.RoundLength = envDuration("FLAGSINK_ROUND_LENGTH", time.Minute, &errs)
	cfg.StartRound = envInt("FLAGSINK_START_ROUND", 1, &errs)
	cfg.RosterPath = envStr("FLAGSINK_ROSTER_PATH", "/etc/flagsink/roster.yaml")
	cfg.TeamSubnetPrefixV4 = envInt("FLAGSINK_TEAM_SUBNET_PREFIX_V4", 24, &errs)
	cfg.TeamSubnetPrefixV6 = envInt("FLAGSINK_TEAM_SUBNET_PREFIX_V6", 64, &errs)

	// --- Pipeline ---
	cfg.QueueCapacity = envInt("FLAGSINK_QUEUE_CAPACITY", 100, &errs)
	cfg.BatchWorkers = envInt("FLAGSINK_BATCH_WORKERS", 4, &errs)
	cfg.TeamDrainCap = envInt("FLAGSINK_TEAM_DRAIN_CAP", 100, &errs)
	cfg.BatchCap = envInt("FLAGSINK_BATCH_CAP", 500, &errs)
	cfg.MaxLineBytes = envInt("FLAGSINK_MAX_LINE_BYTES", 200, &errs)
	cfg.PendingCap = envInt("FLAGSINK_PENDING_CAP", 256, &errs)
	cfg.KnownCacheSize = envInt("FLAGSINK_KNOWN_CACHE_SIZE", 1<<20, &errs)

	// --- Stats ---
	cfg.StatsSummarySchedule = envStr("FLAGSINK_STATS_SUMMARY_SCHEDULE", "* * * * *")

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("FLAGSINK_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "FLAGSINK_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "FLAGSINK_LISTEN_ADDRESS must not be empty")
	}

	validatePort("FLAGSINK_SUBMISSION_PORT", cfg.SubmissionPort, &errs)
	validateOptionalPort("FLAGSINK_DEBUG_PORT", cfg.DebugPort, &errs)
	validateOptionalPort("FLAGSINK_API_PORT", cfg.APIPort, &errs)

	if cfg.SigningKey == "" {
		errs = append(errs, "FLAGSINK_SIGNING_KEY must be set")
	} else if len(cfg.SigningKey) < 16 {
		errs = append(errs, "FLAGSINK_SIGNING_KEY must be at least 16 characters")
	}
	if !flagcodec.Encoding(cfg.FlagEncoding).IsValid() {
		errs = append(errs, fmt.Sprintf(
			"FLAGSINK_FLAG_ENCODING: invalid value %q (allowed: %s, %s)",
			cfg.FlagEncoding, flagcodec.EncodingLegacy, flagcodec.EncodingStego,
		))
	}
	validatePositive("FLAGSINK_FLAG_VALIDITY_ROUNDS", cfg.FlagValidityRounds, &errs)
	if cfg.RoundLength <= 0 {
		errs = append(errs, "FLAGSINK_ROUND_LENGTH must be positive")
	}
	if cfg.StartRound < 0 {
		errs = append(errs, fmt.Sprintf("FLAGSINK_START_ROUND: must be non-negative, got %d", cfg.StartRound))
	}
	if cfg.TeamSubnetPrefixV4 < 0 || cfg.TeamSubnetPrefixV4 > 32 {
		errs = append(errs, fmt.Sprintf("FLAGSINK_TEAM_SUBNET_PREFIX_V4: must be 0-32, got %d", cfg.TeamSubnetPrefixV4))
	}
	if cfg.TeamSubnetPrefixV6 < 0 || cfg.TeamSubnetPrefixV6 > 128 {
		errs = append(errs, fmt.Sprintf("FLAGSINK_TEAM_SUBNET_PREFIX_V6: must be 0-128, got %d", cfg.TeamSubnetPrefixV6))
	}

	validatePositive("FLAGSINK_QUEUE_CAPACITY", cfg.QueueCapacity, &errs)
	validatePositive("FLAGSINK_BATCH_WORKERS", cfg.BatchWorkers, &errs)
	validatePositive("FLAGSINK_TEAM_DRAIN_CAP", cfg.TeamDrainCap, &errs)
	validatePositive("FLAGSINK_BATCH_CAP", cfg.BatchCap, &errs)
	validatePositive("FLAGSINK_MAX_LINE_BYTES", cfg.MaxLineBytes, &errs)
	validatePositive("FLAGSINK_PENDING_CAP", cfg.PendingCap, &errs)
	if cfg.KnownCacheSize < 0 {
		errs = append(errs, fmt.Sprintf("FLAGSINK_KNOWN_CACHE_SIZE: must be non-negative, got %d", cfg.KnownCacheSize))
	}
	if cfg.BatchCap < cfg.TeamDrainCap {
		errs = append(errs, "FLAGSINK_BATCH_CAP must be at least FLAGSINK_TEAM_DRAIN_CAP")
	}
	if cfg.StatsSummarySchedule != "" {
		if _, err := cron.ParseStandard(cfg.StatsSummarySchedule); err != nil {
			errs = append(errs, fmt.Sprintf("FLAGSINK_STATS_SUMMARY_SCHEDULE: invalid cron expression %q: %v", cfg.StatsSummarySchedule, err))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validateOptionalPort(name string, value int, errs *[]string) {
	if value != 0 {
		validatePort(name, value, errs)
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
