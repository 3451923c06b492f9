// Package config handles environment-based configuration loading and the
// hot-patchable runtime config model.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings (not
// hot-updatable; changing these requires a restart).
type EnvConfig struct {
	ListenAddress   string
	Port            int
	APIMaxBodyBytes int

	MeshLocalPrefixHex string // 16 hex chars (the 64-bit prefix), e.g. "fd00deadbeef0000"
	RlocPrefixHex       string

	AdminToken string

	DiscoverySchedule string

	DefaultActionTimeout time.Duration
}

// LoadEnvConfig reads environment variables and returns a validated
// EnvConfig. Returns an error listing every problem found, rather than
// failing on the first one.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	cfg.ListenAddress = strings.TrimSpace(envStr("TBR_LISTEN_ADDRESS", "0.0.0.0"))
	cfg.Port = envInt("TBR_PORT", 8081, &errs)
	cfg.APIMaxBodyBytes = envInt("TBR_API_MAX_BODY_BYTES", 1<<20, &errs)
	cfg.MeshLocalPrefixHex = envStr("TBR_MESH_LOCAL_PREFIX", "")
	cfg.RlocPrefixHex = envStr("TBR_RLOC_PREFIX", "")
	cfg.DiscoverySchedule = envStr("TBR_DISCOVERY_SCHEDULE", "")
	cfg.DefaultActionTimeout = envDuration("TBR_DEFAULT_ACTION_TIMEOUT", 60*time.Second, &errs)

	adminToken, hasAdminToken := os.LookupEnv("TBR_ADMIN_TOKEN")
	cfg.AdminToken = adminToken
	if !hasAdminToken {
		errs = append(errs, "TBR_ADMIN_TOKEN must be defined (can be empty to disable auth)")
	}

	if cfg.ListenAddress == "" {
		errs = append(errs, "TBR_LISTEN_ADDRESS must not be empty")
	}
	validatePort("TBR_PORT", cfg.Port, &errs)
	validatePositive("TBR_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	if cfg.DefaultActionTimeout <= 0 {
		errs = append(errs, "TBR_DEFAULT_ACTION_TIMEOUT: must be positive")
	}
	if cfg.DiscoverySchedule != "" {
		if _, err := cron.ParseStandard(cfg.DiscoverySchedule); err != nil {
			errs = append(errs, fmt.Sprintf("TBR_DISCOVERY_SCHEDULE: invalid cron expression %q: %v", cfg.DiscoverySchedule, err))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return cfg, nil
}

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

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
