package config

import "time"

// RuntimeConfig holds hot-patchable settings for the agent: the clamped
// collector timing bounds, queue/collection capacities, and the action
// queue's tick period. It is swapped atomically (see PatchRuntimeConfig)
// rather than mutated in place, so readers never observe a torn config.
type RuntimeConfig struct {
	// Collector Configure() clamps.
	CollectorTimeout    Duration `json:"collector_timeout"`
	CollectorMaxAge     Duration `json:"collector_max_age"`
	CollectorMaxRetries int      `json:"collector_max_retries"`

	// RetryDelayFTD names the interval a query sub-phase must sit idle in
	// Waiting before the unicast Diagnostic Get is resent. The collector
	// does not read this field; it always uses collector.RetryDelayFTD.
	RetryDelayFTD Duration `json:"retry_delay_ftd"`

	// Action queue.
	TaskQueueMax int      `json:"task_queue_max"`
	TickPeriod   Duration `json:"tick_period"`

	// Collections.
	MaxDevicesCollectionItems int `json:"max_devices_collection_items"`
	MaxDiagCollectionItems    int `json:"max_diag_collection_items"`

	// DiscoverySchedule is a cron expression for the periodic full-mesh
	// discovery sweep; empty disables it.
	DiscoverySchedule string `json:"discovery_schedule"`
}

// Clamp bounds for CollectorTimeout/CollectorMaxAge.
const (
	MinCollectorTimeout = 10 * time.Second
	MaxCollectorTimeout = 100 * time.Second
	MinCollectorMaxAge  = 30 * time.Second
	MaxCollectorMaxAge  = 300 * time.Second
)

// ClampTimeout clamps d into [MinCollectorTimeout, MaxCollectorTimeout].
func ClampTimeout(d time.Duration) time.Duration {
	return clamp(d, MinCollectorTimeout, MaxCollectorTimeout)
}

// ClampMaxAge clamps d into [MinCollectorMaxAge, MaxCollectorMaxAge].
func ClampMaxAge(d time.Duration) time.Duration {
	return clamp(d, MinCollectorMaxAge, MaxCollectorMaxAge)
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// NewDefaultRuntimeConfig returns the default RuntimeConfig.
func NewDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		CollectorTimeout:          Duration(30 * time.Second),
		CollectorMaxAge:           Duration(120 * time.Second),
		CollectorMaxRetries:       3,
		RetryDelayFTD:             Duration(5 * time.Second),
		TaskQueueMax:              100,
		TickPeriod:                Duration(2 * time.Second),
		MaxDevicesCollectionItems: 200,
		MaxDiagCollectionItems:    200,
		DiscoverySchedule:         "",
	}
}

// runtimeConfigAllowedFields is the set of JSON field names PatchRuntimeConfig
// accepts.
var runtimeConfigAllowedFields = map[string]bool{
	"collector_timeout":            true,
	"collector_max_age":            true,
	"collector_max_retries":        true,
	"retry_delay_ftd":              true,
	"task_queue_max":               true,
	"tick_period":                  true,
	"max_devices_collection_items": true,
	"max_diag_collection_items":    true,
	"discovery_schedule":           true,
}

// RuntimeConfigAllowedField reports whether field is patchable.
func RuntimeConfigAllowedField(field string) bool {
	return runtimeConfigAllowedFields[field]
}
